package config

import (
	"sync/atomic"

	"github.com/steveyegge/gobby/internal/store"
)

// Status implements dispatch.HealthChecker: it gates whether the daemon
// is ready to process hook events (spec.md §8 invariant 3: "If
// daemon_health_gate reports not-ready, handle returns allow without
// calling any handler"). Gastown's equivalent is a thread-local
// "daemon ready" flag checked at the top of its dispatch loop; here it's
// an atomic flag plus a live store ping, since Gobby's readiness also
// depends on the SQLite connection staying open.
type Status struct {
	store *store.Store
	ready atomic.Bool
}

// NewStatus returns a Status that reports not-ready until MarkReady is
// called once daemon startup (config load, store open, reconciliation)
// has finished.
func NewStatus(s *store.Store) *Status {
	return &Status{store: s}
}

// MarkReady flips the gate open. Called once at the end of daemon
// startup.
func (st *Status) MarkReady() { st.ready.Store(true) }

// MarkNotReady flips the gate closed, e.g. while a reload is in flight.
func (st *Status) MarkNotReady() { st.ready.Store(false) }

// CheckHealth implements dispatch.HealthChecker.
func (st *Status) CheckHealth() (ready bool, status, message string, err error) {
	if !st.ready.Load() {
		return false, "starting", "daemon has not completed startup", nil
	}
	if st.store != nil {
		if pingErr := st.store.Ping(); pingErr != nil {
			return false, "store_unavailable", "database ping failed", pingErr
		}
	}
	return true, "ready", "", nil
}
