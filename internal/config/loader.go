package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Sentinel errors, following internal/config/loader.go's ErrNotFound /
// ErrInvalidVersion / ErrInvalidType / ErrMissingField vocabulary.
var (
	ErrNotFound       = errors.New("config file not found")
	ErrInvalidVersion = errors.New("unsupported config version")
	ErrInvalidType    = errors.New("invalid config type")
	ErrMissingField   = errors.New("missing required field")
)

// DefaultConfigPath returns ~/.gobby/config.json.
func DefaultConfigPath() string {
	return filepath.Join(HomeDir(), "config.json")
}

// HomeDir returns ~/.gobby, falling back to a relative path if the
// user's home directory cannot be resolved (mirrors logging.DefaultDir).
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gobby"
	}
	return filepath.Join(home, ".gobby")
}

// DefaultLogDir returns ~/.gobby/logs.
func DefaultLogDir() string {
	return filepath.Join(HomeDir(), "logs")
}

// LoadValues loads and validates the daemon config file.
func LoadValues(path string) (*Values, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from a trusted config location
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var v Values
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := validateValues(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// SaveValues validates and writes the daemon config file, creating its
// parent directory as needed.
func SaveValues(path string, v *Values) error {
	if err := validateValues(v); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// LoadOrCreateValues loads the daemon config, writing and returning
// defaults if the file doesn't exist yet.
func LoadOrCreateValues(path string) (*Values, error) {
	v, err := LoadValues(path)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	defaults := DefaultValues()
	if err := SaveValues(path, defaults); err != nil {
		return nil, err
	}
	return defaults, nil
}

func validateValues(v *Values) error {
	if v.Type != "" && v.Type != "gobby-config" {
		return fmt.Errorf("%w: expected type 'gobby-config', got '%s'", ErrInvalidType, v.Type)
	}
	if v.Version > CurrentValuesVersion {
		return fmt.Errorf("%w: got %d, max supported %d", ErrInvalidVersion, v.Version, CurrentValuesVersion)
	}
	if v.DaemonPort < 0 || v.DaemonPort > 65535 {
		return fmt.Errorf("%w: daemon_port out of range", ErrMissingField)
	}
	return nil
}

// ProjectFilePath returns the path of the .gobby/project.json marker
// inside a project's root directory.
func ProjectFilePath(rootPath string) string {
	return filepath.Join(rootPath, ".gobby", "project.json")
}

// LoadProjectFile loads the project marker file.
func LoadProjectFile(rootPath string) (*ProjectFile, error) {
	path := ProjectFilePath(rootPath)
	data, err := os.ReadFile(path) //nolint:gosec // path is constructed internally
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading project file: %w", err)
	}
	var pf ProjectFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing project file: %w", err)
	}
	if pf.Version > CurrentProjectFileVersion {
		return nil, fmt.Errorf("%w: project.json version %d, max supported %d", ErrInvalidVersion, pf.Version, CurrentProjectFileVersion)
	}
	return &pf, nil
}

// SaveProjectFile writes the project marker file.
func SaveProjectFile(rootPath string, pf *ProjectFile) error {
	path := ProjectFilePath(rootPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding project file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // project.json carries no secrets
		return fmt.Errorf("writing project file: %w", err)
	}
	return nil
}

// EnsureProjectFile loads .gobby/project.json if present, or creates it
// with the given id/name when absent (spec.md §6.4: "Auto-created on
// first activity if absent").
func EnsureProjectFile(rootPath, id, name string) (*ProjectFile, error) {
	pf, err := LoadProjectFile(rootPath)
	if err == nil {
		return pf, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	pf = &ProjectFile{Type: "gobby-project", Version: CurrentProjectFileVersion, ID: id, Name: name}
	if err := SaveProjectFile(rootPath, pf); err != nil {
		return nil, err
	}
	return pf, nil
}
