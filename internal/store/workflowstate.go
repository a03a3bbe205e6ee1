package store

import (
	"database/sql"
	"encoding/json"
)

// WorkflowStates is the repository for per-session workflow state
// (spec.md §3.2 "WorkflowState", §4.3, §4.4 step 3 "check_and_reserve_slots").
type WorkflowStates struct{ s *Store }

func (s *Store) WorkflowStates() *WorkflowStates { return &WorkflowStates{s} }

// Get returns the workflow state row for a session, creating an empty one
// if none exists yet (a session always has exactly one state row once a
// workflow has touched it).
func (w *WorkflowStates) Get(sessionID string) (*WorkflowState, error) {
	state, err := w.fetch(sessionID)
	if err == nil {
		return state, nil
	}
	if _, ok := err.(*NotFoundError); !ok {
		return nil, err
	}
	if _, err := w.s.db.Exec(
		`INSERT OR IGNORE INTO workflow_state (session_id) VALUES (?)`, sessionID,
	); err != nil {
		return nil, err
	}
	return w.fetch(sessionID)
}

func (w *WorkflowStates) fetch(sessionID string) (*WorkflowState, error) {
	row := w.s.db.QueryRow(
		`SELECT session_id, workflow_name, step, variables, observations, reserved_slots,
			spawned_agents, context_injected, updated_at FROM workflow_state WHERE session_id = ?`,
		sessionID,
	)
	st := &WorkflowState{}
	var varsJSON, obsJSON, agentsJSON string
	var contextInjected int
	if err := row.Scan(&st.SessionID, &st.WorkflowName, &st.Step, &varsJSON, &obsJSON,
		&st.ReservedSlots, &agentsJSON, &contextInjected, &st.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "workflow_state", ID: sessionID}
		}
		return nil, err
	}
	st.ContextInjected = contextInjected != 0
	_ = json.Unmarshal([]byte(varsJSON), &st.Variables)
	_ = json.Unmarshal([]byte(obsJSON), &st.Observations)
	_ = json.Unmarshal([]byte(agentsJSON), &st.SpawnedAgents)
	return st, nil
}

// SetWorkflow assigns the active workflow name and resets step to its
// entry point.
func (w *WorkflowStates) SetWorkflow(sessionID, workflowName, step string) error {
	if _, err := w.Get(sessionID); err != nil {
		return err
	}
	_, err := w.s.db.Exec(
		`UPDATE workflow_state SET workflow_name = ?, step = ?, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`,
		workflowName, step, sessionID,
	)
	return err
}

// SetStep advances the workflow's current step.
func (w *WorkflowStates) SetStep(sessionID, step string) error {
	_, err := w.s.db.Exec(`UPDATE workflow_state SET step = ?, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`, step, sessionID)
	return err
}

// MergeVariables shallow-merges updates into the session's variable bag.
func (w *WorkflowStates) MergeVariables(sessionID string, updates map[string]any) error {
	st, err := w.Get(sessionID)
	if err != nil {
		return err
	}
	if st.Variables == nil {
		st.Variables = map[string]any{}
	}
	for k, v := range updates {
		st.Variables[k] = v
	}
	encoded, _ := json.Marshal(st.Variables)
	_, err = w.s.db.Exec(`UPDATE workflow_state SET variables = ?, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`, string(encoded), sessionID)
	return err
}

// AppendObservation appends one observation record, used by workflow
// actions that accumulate context across steps (§4.3).
func (w *WorkflowStates) AppendObservation(sessionID string, observation map[string]any) error {
	st, err := w.Get(sessionID)
	if err != nil {
		return err
	}
	st.Observations = append(st.Observations, observation)
	encoded, _ := json.Marshal(st.Observations)
	_, err = w.s.db.Exec(`UPDATE workflow_state SET observations = ?, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`, string(encoded), sessionID)
	return err
}

// SetContextInjected flips the one-shot "context already injected" flag
// the hook handler checks before repeating an injection (§4.2).
func (w *WorkflowStates) SetContextInjected(sessionID string, injected bool) error {
	val := 0
	if injected {
		val = 1
	}
	_, err := w.s.db.Exec(`UPDATE workflow_state SET context_injected = ?, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`, val, sessionID)
	return err
}

// CheckAndReserveSlots atomically reads reserved_slots and grants as many
// of the requested count as fit under maxConcurrent within a single
// transaction, so two concurrent orchestrate_ready_tasks calls for the
// same session cannot both observe headroom and overshoot the cap
// (§4.4 step 3: "grants min(requested, max_concurrent - in_use)"). A
// partial or zero grant is the expected way to signal "not enough
// capacity" — it is the caller's job to skip whatever wasn't granted
// (§8 scenario 3), not an error condition. Returns the number of slots
// granted by this call.
func (w *WorkflowStates) CheckAndReserveSlots(sessionID string, count, maxConcurrent int) (int, error) {
	tx, err := w.s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO workflow_state (session_id) VALUES (?)`, sessionID); err != nil {
		return 0, err
	}

	var reserved int
	if err := tx.QueryRow(`SELECT reserved_slots FROM workflow_state WHERE session_id = ?`, sessionID).Scan(&reserved); err != nil {
		return 0, err
	}

	headroom := maxConcurrent - reserved
	if headroom < 0 {
		headroom = 0
	}
	granted := count
	if granted > headroom {
		granted = headroom
	}

	if granted > 0 {
		if _, err := tx.Exec(`UPDATE workflow_state SET reserved_slots = ?, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`, reserved+granted, sessionID); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return granted, nil
}

// ReleaseSlots decrements reserved_slots by count, floored at zero —
// used both on dry-run release and when a spawn fails after reservation
// (§4.4 step 7).
func (w *WorkflowStates) ReleaseSlots(sessionID string, count int) error {
	_, err := w.s.db.Exec(
		`UPDATE workflow_state SET reserved_slots = MAX(0, reserved_slots - ?), updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`,
		count, sessionID,
	)
	return err
}

// AppendSpawnedAgent records a successful spawn in the session's list
// (§4.4 step 7).
func (w *WorkflowStates) AppendSpawnedAgent(sessionID string, agent SpawnedAgent) error {
	st, err := w.Get(sessionID)
	if err != nil {
		return err
	}
	st.SpawnedAgents = append(st.SpawnedAgents, agent)
	encoded, _ := json.Marshal(st.SpawnedAgents)
	_, err = w.s.db.Exec(`UPDATE workflow_state SET spawned_agents = ?, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`, string(encoded), sessionID)
	return err
}
