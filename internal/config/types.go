// Package config loads and persists Gobby's daemon and per-project
// configuration. It mirrors gastown's internal/config package: plain
// encoding/json structs under a well-known path, a "type"+"version"
// identity pair for forward compatibility, and Load/Save functions that
// validate before touching disk (see loader.go's LoadTownConfig /
// SaveTownConfig for the pattern this generalizes).
package config

import "time"

// CurrentValuesVersion is bumped whenever Values gains a field that
// changes validation semantics, following gastown's CurrentTownVersion
// convention.
const CurrentValuesVersion = 1

// Values is Gobby's daemon-wide configuration (spec.md §6.3's
// "GET/PUT /api/config/values"), persisted at ~/.gobby/config.json.
type Values struct {
	Type    string `json:"type"`
	Version int    `json:"version"`

	DaemonPort int `json:"daemon_port"`

	DefaultProvider   string        `json:"default_provider"`
	DefaultModel      string        `json:"default_model"`
	DefaultMode       string        `json:"default_mode"`
	DefaultBaseBranch string        `json:"default_base_branch"`
	MaxConcurrent     int           `json:"max_concurrent"`
	MaxSpawnDepth     int           `json:"max_spawn_depth"`
	SpawnTimeout      time.Duration `json:"spawn_timeout_ns"`

	HealthCheckInterval time.Duration `json:"health_check_interval_ns"`

	LogDir        string `json:"log_dir"`
	WorktreesRoot string `json:"worktrees_root"`
}

// DefaultValues returns Gobby's factory configuration. Every field here
// is the baseline the config-template diff (template.go) compares
// against: "Template saves persist only non-default values" (spec.md
// §6.3) is defined relative to exactly this struct.
func DefaultValues() *Values {
	return &Values{
		Type:                "gobby-config",
		Version:             CurrentValuesVersion,
		DaemonPort:          7711,
		DefaultProvider:     "claude",
		DefaultModel:        "",
		DefaultMode:         "headless",
		DefaultBaseBranch:   "main",
		MaxConcurrent:       3,
		MaxSpawnDepth:       3,
		SpawnTimeout:        10 * time.Minute,
		HealthCheckInterval: 10 * time.Second,
		LogDir:              DefaultLogDir(),
		WorktreesRoot:       "",
	}
}

// ProjectFile is the per-project marker written to .gobby/project.json
// (spec.md §6.4: "Auto-created on first activity if absent"). It exists
// so a daemon restart can recognize a directory it has already
// registered as a project without re-deriving an ID from the path.
type ProjectFile struct {
	Type    string `json:"type"`
	Version int    `json:"version"`
	ID      string `json:"id"`
	Name    string `json:"name"`
}

const CurrentProjectFileVersion = 1
