// Package store is Gobby's embedded local persistence layer: sessions,
// tasks, task dependencies, worktrees, workflow state, MCP server config
// and secrets, all backed by a single SQLite database file.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Change describes a committed write, delivered to listeners after commit.
type Change struct {
	Entity string // "session", "task", "worktree", "workflow_state", ...
	ID     string
	Op     string // "create", "update", "delete"
}

// Listener is a post-commit callback. Panics inside a listener are
// recovered by the store and never fail the write that triggered them.
type Listener func(Change)

// Store wraps the database handle and dispatches change notifications.
type Store struct {
	db     *sql.DB
	logger *log.Logger

	mu        sync.RWMutex
	listeners []Listener
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema and any pending migrations.
func Open(path string, logger *log.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite's single-writer model means one connection avoids
	// SQLITE_BUSY under our own transaction discipline.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	if err := s.ensureSystemProjects(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seeding system projects: %w", err)
	}
	if err := s.reconcileOnStartup(); err != nil {
		s.logf("Warning: startup reconciliation failed: %v", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the underlying database connection is alive. Used by the
// daemon's health gate (config.Status.CheckHealth).
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	var current int
	row := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&current); err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// reconcileOnStartup zeroes any workflow_state reservations left behind by
// a process that crashed mid-orchestration. Open question from the spec:
// a reservation with no live agent behind it is leaked, not legitimate, so
// every daemon start treats reserved_slots as untrustworthy and clears it.
func (s *Store) reconcileOnStartup() error {
	_, err := s.db.Exec(`UPDATE workflow_state SET reserved_slots = 0 WHERE reserved_slots != 0`)
	return err
}

// ReservedProjectPersonal, ReservedProjectOrphaned and ReservedProjectMigrated
// are the hidden/reserved project IDs spec.md §3.1 requires.
const (
	ReservedProjectPersonal = "_personal"
	ReservedProjectOrphaned = "_orphaned"
	ReservedProjectMigrated = "_migrated"
)

func (s *Store) ensureSystemProjects() error {
	for _, p := range []struct {
		id, name string
		hidden   int
	}{
		{ReservedProjectPersonal, "Personal", 0},
		{ReservedProjectOrphaned, "Orphaned", 1},
		{ReservedProjectMigrated, "Migrated", 1},
	} {
		_, err := s.db.Exec(
			`INSERT OR IGNORE INTO projects (id, name, hidden) VALUES (?, ?, ?)`,
			p.id, p.name, p.hidden,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// OnChange registers a post-commit listener.
func (s *Store) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) notify(c Change) {
	s.mu.RLock()
	ls := make([]Listener, len(s.listeners))
	copy(ls, s.listeners)
	s.mu.RUnlock()

	for _, l := range ls {
		s.invokeListener(l, c)
	}
}

// invokeListener runs a single listener with panic recovery so a bad
// subscriber can never fail (or re-fail) the write that triggered it.
func (s *Store) invokeListener(l Listener, c Change) {
	defer func() {
		if r := recover(); r != nil {
			s.logf("store: change listener panicked: %v", r)
		}
	}()
	l(c)
}

func (s *Store) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
