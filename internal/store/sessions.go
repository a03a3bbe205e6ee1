package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sessions is the repository for session rows (spec.md §4.6 "Sessions").
type Sessions struct{ s *Store }

func (s *Store) Sessions() *Sessions { return &Sessions{s} }

// Register creates a new session row. The (external_id, source,
// machine_id) triple is enforced unique among non-expired sessions by a
// partial unique index, so two concurrent registrations for the same
// identity collide at the database and the loser must retry as a lookup
// (§8 invariant 4, "auto-registration is idempotent").
func (r *Sessions) Register(externalID, source, machineID, projectID string, parentSessionID *string, jsonlPath string) (*Session, error) {
	id := uuid.NewString()
	_, err := r.s.db.Exec(
		`INSERT INTO sessions (id, external_id, source, machine_id, project_id, parent_session_id, jsonl_path, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 'active')`,
		id, externalID, source, machineID, projectID, parentSessionID, jsonlPath,
	)
	if err != nil {
		// Unique violation: another caller beat us to registering this
		// identity. Fetch and return their row instead of erroring.
		if existing, ferr := r.FindByExternalID(externalID, source, machineID); ferr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("registering session: %w", err)
	}
	r.s.notify(Change{Entity: "session", ID: id, Op: "create"})
	return r.Get(id)
}

// FindByExternalID resolves the internal session for a CLI-native
// ExternalID triple (§4.2.2 step 2).
func (r *Sessions) FindByExternalID(externalID, source, machineID string) (*Session, error) {
	row := r.s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE external_id = ? AND source = ? AND machine_id = ? AND status != 'expired'
		 ORDER BY created_at DESC LIMIT 1`,
		externalID, source, machineID,
	)
	return scanSession(row)
}

// FindParentSession returns the most recent handoff_ready session for
// (machine, source, project) — §4.6 "find_parent_session".
func (r *Sessions) FindParentSession(machineID, source, projectID string) (*Session, error) {
	row := r.s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE machine_id = ? AND source = ? AND project_id = ? AND status = 'handoff_ready'
		 ORDER BY updated_at DESC LIMIT 1`,
		machineID, source, projectID,
	)
	return scanSession(row)
}

// Get fetches a session by internal ID.
func (r *Sessions) Get(id string) (*Session, error) {
	row := r.s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// MarkExpired transitions a session to expired (never hard-deleted).
func (r *Sessions) MarkExpired(id string) error {
	return r.UpdateStatus(id, SessionExpired)
}

// SetParentSession records which session a session was handed off from,
// so the chain survives a /clear (§8 scenario 1, "S2.parent_session_id
// == S1.id").
func (r *Sessions) SetParentSession(id, parentID string) error {
	res, err := r.s.db.Exec(`UPDATE sessions SET parent_session_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, parentID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Entity: "session", ID: id}
	}
	r.s.notify(Change{Entity: "session", ID: id, Op: "update"})
	return nil
}

// UpdateStatus sets a session's status field.
func (r *Sessions) UpdateStatus(id, status string) error {
	res, err := r.s.db.Exec(`UPDATE sessions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Entity: "session", ID: id}
	}
	r.s.notify(Change{Entity: "session", ID: id, Op: "update"})
	return nil
}

// UpdateCompactMarkdown writes the session's compact handoff markdown.
func (r *Sessions) UpdateCompactMarkdown(id, text string) error {
	_, err := r.s.db.Exec(`UPDATE sessions SET compact_markdown = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, text, id)
	return err
}

// UpdateSummaryMarkdown writes the session's handoff summary and flips it
// to handoff_ready, as generate_handoff does in §4.3.
func (r *Sessions) UpdateSummaryMarkdown(id, text string) error {
	_, err := r.s.db.Exec(
		`UPDATE sessions SET summary_markdown = ?, status = 'handoff_ready', updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		text, id,
	)
	return err
}

const sessionColumns = `id, external_id, source, machine_id, project_id, parent_session_id,
	status, jsonl_path, summary_markdown, compact_markdown, created_at, updated_at`

func scanSession(row *sql.Row) (*Session, error) {
	s := &Session{}
	var parent sql.NullString
	if err := row.Scan(&s.ID, &s.ExternalID, &s.Source, &s.MachineID, &s.ProjectID, &parent,
		&s.Status, &s.JSONLPath, &s.SummaryMarkdown, &s.CompactMarkdown, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "session", ID: ""}
		}
		return nil, err
	}
	if parent.Valid {
		s.ParentSessionID = &parent.String
	}
	return s, nil
}

// TaskLink is a session<->task association, used to resolve the session's
// active "worked_on" task (§4.2.2).
type TaskLink struct {
	SessionID string
	TaskID    string
	Action    string
	CreatedAt time.Time
}

// LinkTask records a session<->task association (e.g. action="worked_on").
func (r *Sessions) LinkTask(sessionID, taskID, action string) error {
	_, err := r.s.db.Exec(
		`INSERT INTO session_tasks (session_id, task_id, action) VALUES (?, ?, ?)`,
		sessionID, taskID, action,
	)
	return err
}

// ActiveTask returns the most recent "worked_on" task link for a session,
// populating HookEvent.task_id per §4.2.2.
func (r *Sessions) ActiveTask(sessionID string) (*TaskLink, error) {
	row := r.s.db.QueryRow(
		`SELECT session_id, task_id, action, created_at FROM session_tasks
		 WHERE session_id = ? AND action = 'worked_on' ORDER BY created_at DESC LIMIT 1`,
		sessionID,
	)
	link := &TaskLink{}
	if err := row.Scan(&link.SessionID, &link.TaskID, &link.Action, &link.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return link, nil
}
