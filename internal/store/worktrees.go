package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Worktrees is the repository for worktree lease rows (spec.md §3.2
// "Worktree", §4.6 "Worktrees").
type Worktrees struct{ s *Store }

func (s *Store) Worktrees() *Worktrees { return &Worktrees{s} }

// Claim atomically creates (or reuses) the active worktree row for a
// branch. Reusing a row that has no agent session records agentSessionID
// on it. The partial unique index idx_worktrees_active_branch means a
// concurrent claim on the same (project, branch) fails at the database
// rather than racing two checkouts onto the same path.
func (w *Worktrees) Claim(projectID, branchName, worktreePath, baseBranch string, taskID, agentSessionID *string) (*Worktree, error) {
	if existing, err := w.GetByBranch(projectID, branchName); err == nil {
		if agentSessionID != nil && existing.AgentSessionID == nil {
			if _, err := w.s.db.Exec(`UPDATE worktrees SET agent_session_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, *agentSessionID, existing.ID); err != nil {
				return nil, err
			}
			w.s.notify(Change{Entity: "worktree", ID: existing.ID, Op: "update"})
			return w.Get(existing.ID)
		}
		return existing, nil
	} else if _, ok := err.(*NotFoundError); !ok {
		return nil, err
	}

	id := uuid.NewString()
	_, err := w.s.db.Exec(
		`INSERT INTO worktrees (id, project_id, branch_name, worktree_path, base_branch, status, task_id, agent_session_id)
		 VALUES (?, ?, ?, ?, ?, 'active', ?, ?)`,
		id, projectID, branchName, worktreePath, baseBranch, taskID, agentSessionID,
	)
	if err != nil {
		// Lost the race against a concurrent claim; the winner's row is
		// authoritative.
		if existing, ferr := w.GetByBranch(projectID, branchName); ferr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("claiming worktree: %w", err)
	}
	w.s.notify(Change{Entity: "worktree", ID: id, Op: "create"})
	return w.Get(id)
}

// Release marks a worktree as released without deleting its checkout,
// freeing the (project, branch) slot for a future claim.
func (w *Worktrees) Release(id string) error {
	res, err := w.s.db.Exec(`UPDATE worktrees SET status = 'released', updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = 'active'`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Entity: "worktree", ID: id}
	}
	w.s.notify(Change{Entity: "worktree", ID: id, Op: "update"})
	return nil
}

// Delete marks a worktree deleted. Removing the on-disk checkout itself
// is the worktree package's job; this just records the lifecycle state.
func (w *Worktrees) Delete(id string) error {
	res, err := w.s.db.Exec(`UPDATE worktrees SET status = 'deleted', updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Entity: "worktree", ID: id}
	}
	w.s.notify(Change{Entity: "worktree", ID: id, Op: "delete"})
	return nil
}

// Get fetches a worktree by ID.
func (w *Worktrees) Get(id string) (*Worktree, error) {
	row := w.s.db.QueryRow(`SELECT `+worktreeColumns+` FROM worktrees WHERE id = ?`, id)
	return scanWorktree(row)
}

// GetByTask returns the active worktree bound to a task, if any.
func (w *Worktrees) GetByTask(taskID string) (*Worktree, error) {
	row := w.s.db.QueryRow(`SELECT `+worktreeColumns+` FROM worktrees WHERE task_id = ? AND status = 'active' ORDER BY created_at DESC LIMIT 1`, taskID)
	return scanWorktree(row)
}

// GetByBranch returns the active worktree for (project, branch), if any.
func (w *Worktrees) GetByBranch(projectID, branchName string) (*Worktree, error) {
	row := w.s.db.QueryRow(
		`SELECT `+worktreeColumns+` FROM worktrees WHERE project_id = ? AND branch_name = ? AND status = 'active'`,
		projectID, branchName,
	)
	return scanWorktree(row)
}

// List returns all worktrees for a project, optionally filtered by status.
func (w *Worktrees) List(projectID, status string) ([]*Worktree, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = w.s.db.Query(`SELECT `+worktreeColumns+` FROM worktrees WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	} else {
		rows, err = w.s.db.Query(`SELECT `+worktreeColumns+` FROM worktrees WHERE project_id = ? AND status = ? ORDER BY created_at DESC`, projectID, status)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Worktree
	for rows.Next() {
		wt, err := scanWorktree(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wt)
	}
	return out, rows.Err()
}

const worktreeColumns = `id, project_id, branch_name, worktree_path, base_branch, status,
	task_id, agent_session_id, created_at, updated_at`

func scanWorktree(row rowScanner) (*Worktree, error) {
	w := &Worktree{}
	var taskID, agentSession sql.NullString
	if err := row.Scan(&w.ID, &w.ProjectID, &w.BranchName, &w.WorktreePath, &w.BaseBranch, &w.Status,
		&taskID, &agentSession, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "worktree", ID: ""}
		}
		return nil, err
	}
	if taskID.Valid {
		w.TaskID = &taskID.String
	}
	if agentSession.Valid {
		w.AgentSessionID = &agentSession.String
	}
	return w, nil
}
