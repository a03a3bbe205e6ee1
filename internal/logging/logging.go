// Package logging sets up Gobby's daemon log writer: a rotating file
// under ~/.gobby/logs (spec.md §6.4: "10 MiB x 5"), wrapping a
// log.Logger the way gastown's daemon wraps a plain opened file
// (internal/daemon/daemon.go's `log.New(logFile, "", log.LstdFlags)`) —
// generalized here to rotate, since gastown's single never-rotated file
// doesn't satisfy spec.md's explicit size-bounded retention requirement.
package logging

import (
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxSizeMB  = 10
	maxBackups = 5
)

// Options configures New.
type Options struct {
	// Dir is the log directory, e.g. ~/.gobby/logs. Created if missing.
	Dir string
	// Name is the log file's base name, e.g. "gobbyd.log".
	Name string
}

// New opens (creating as needed) a rotating log file and returns a
// *log.Logger over it, plus the io.Closer-capable rotator so callers can
// force a rotation or flush on shutdown.
func New(opts Options) (*log.Logger, *lumberjack.Logger, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, nil, err
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, opts.Name),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   false,
	}
	logger := log.New(rotator, "", log.LstdFlags|log.Lmicroseconds)
	return logger, rotator, nil
}

// DefaultDir returns ~/.gobby/logs, falling back to a relative path if
// the user's home directory cannot be resolved.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".gobby", "logs")
	}
	return filepath.Join(home, ".gobby", "logs")
}
