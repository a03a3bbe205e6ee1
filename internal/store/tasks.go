package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Tasks is the repository for task rows and their dependency DAG
// (spec.md §3.2 "Task", §4.6 "Tasks").
type Tasks struct{ s *Store }

func (s *Store) Tasks() *Tasks { return &Tasks{s} }

// CreateTaskOptions configures CreateTask.
type CreateTaskOptions struct {
	ProjectID    string
	ParentTaskID *string
	Title        string
	Description  string
	Priority     int
	TaskType     string
	Labels       []string
}

const maxSeqNumRetries = 5

// CreateTask assigns the next per-project seq_num, computes path_cache
// from the parent chain, and retries a bounded number of times on a
// seq_num collision before failing (§4.6 "create_task").
func (t *Tasks) CreateTask(opts CreateTaskOptions) (*Task, error) {
	if opts.Title == "" {
		return nil, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if opts.Priority == 0 {
		opts.Priority = UnknownPriority
	}
	if opts.TaskType == "" {
		opts.TaskType = "task"
	}

	var parentPath string
	if opts.ParentTaskID != nil {
		parent, err := t.Get(*opts.ParentTaskID)
		if err != nil {
			return nil, err
		}
		parentPath = parent.PathCache
	}

	labels, _ := json.Marshal(normalizeLabelSet(opts.Labels))

	var lastErr error
	for attempt := 0; attempt < maxSeqNumRetries; attempt++ {
		seqNum, err := t.nextSeqNum(opts.ProjectID)
		if err != nil {
			return nil, err
		}
		pathCache := seqNumPath(parentPath, seqNum)
		id := uuid.NewString()

		_, err = t.s.db.Exec(
			`INSERT INTO tasks (id, project_id, parent_task_id, seq_num, path_cache, title,
				description, priority, task_type, labels)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, opts.ProjectID, opts.ParentTaskID, seqNum, pathCache, opts.Title,
			opts.Description, opts.Priority, opts.TaskType, string(labels),
		)
		if err != nil {
			lastErr = err
			continue // seq_num collided with a concurrent insert; retry
		}
		t.s.notify(Change{Entity: "task", ID: id, Op: "create"})
		return t.Get(id)
	}
	return nil, fmt.Errorf("creating task: exhausted %d seq_num collision retries: %w", maxSeqNumRetries, lastErr)
}

func (t *Tasks) nextSeqNum(projectID string) (int, error) {
	row := t.s.db.QueryRow(`SELECT COALESCE(MAX(seq_num), 0) + 1 FROM tasks WHERE project_id = ?`, projectID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func seqNumPath(parentPath string, seqNum int) string {
	if parentPath == "" {
		return fmt.Sprintf("%d", seqNum)
	}
	return fmt.Sprintf("%s.%d", parentPath, seqNum)
}

func normalizeLabelSet(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// Get fetches a task by internal UUID.
func (t *Tasks) Get(id string) (*Task, error) {
	row := t.s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// UpdateTaskFields is the set of optional fields update_task accepts.
// A nil pointer leaves the field untouched; ClearParent explicitly nulls
// parent_task_id (§4.6 "setting parent_task_id=None explicitly clears it").
type UpdateTaskFields struct {
	Title        *string
	Description  *string
	Status       *string
	Priority     *int
	TaskType     *string
	Labels       *[]string // nil label slice becomes [] per spec
	Assignee     *string
	ParentTaskID **string
	ClearParent  bool
}

// UpdateTask applies a partial update and refreshes updated_at.
func (t *Tasks) UpdateTask(id string, f UpdateTaskFields) (*Task, error) {
	cur, err := t.Get(id)
	if err != nil {
		return nil, err
	}
	if f.Title != nil {
		cur.Title = *f.Title
	}
	if f.Description != nil {
		cur.Description = *f.Description
	}
	if f.Status != nil {
		cur.Status = *f.Status
	}
	if f.Priority != nil {
		cur.Priority = *f.Priority
	}
	if f.TaskType != nil {
		cur.TaskType = *f.TaskType
	}
	if f.Labels != nil {
		cur.Labels = normalizeLabelSet(*f.Labels)
	}
	if f.Assignee != nil {
		cur.Assignee = *f.Assignee
	}
	if f.ClearParent {
		cur.ParentTaskID = nil
	} else if f.ParentTaskID != nil {
		cur.ParentTaskID = *f.ParentTaskID
	}

	labels, _ := json.Marshal(cur.Labels)
	_, err = t.s.db.Exec(
		`UPDATE tasks SET title=?, description=?, status=?, priority=?, task_type=?, labels=?,
			assignee=?, parent_task_id=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`,
		cur.Title, cur.Description, cur.Status, cur.Priority, cur.TaskType, string(labels),
		cur.Assignee, cur.ParentTaskID, id,
	)
	if err != nil {
		return nil, err
	}
	t.s.notify(Change{Entity: "task", ID: id, Op: "update"})
	return t.Get(id)
}

// CloseTask rejects the close if any open direct child exists, unless
// force is set (§3.2, §4.6 "close_task").
func (t *Tasks) CloseTask(id string, reason, commitSHA string, sessionID *string, force bool) (*Task, error) {
	task, err := t.Get(id)
	if err != nil {
		return nil, err
	}
	if !force {
		openChildren, err := t.countOpenChildren(id)
		if err != nil {
			return nil, err
		}
		if openChildren > 0 {
			return nil, &ConflictError{Reason: fmt.Sprintf("task %s has %d open direct children", id, openChildren)}
		}
	}

	if commitSHA != "" {
		task.Commits = appendUnique(task.Commits, commitSHA)
	}
	commits, _ := json.Marshal(task.Commits)

	_, err = t.s.db.Exec(
		`UPDATE tasks SET status='closed', closed_reason=?, closed_commit_sha=?, closed_in_session_id=?,
			closed_at=CURRENT_TIMESTAMP, commits=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`,
		reason, commitSHA, sessionID, string(commits), id,
	)
	if err != nil {
		return nil, err
	}
	t.s.notify(Change{Entity: "task", ID: id, Op: "update"})
	return t.Get(id)
}

// ReopenTask rejects if the task is already open, clears closed_* fields,
// and appends "[Reopened: reason]" to the description when reason is set.
func (t *Tasks) ReopenTask(id, reason string) (*Task, error) {
	task, err := t.Get(id)
	if err != nil {
		return nil, err
	}
	if task.Status != TaskClosed {
		return nil, &ConflictError{Reason: fmt.Sprintf("task %s is not closed", id)}
	}
	desc := task.Description
	if reason != "" {
		desc = strings.TrimRight(desc, "\n") + fmt.Sprintf("\n[Reopened: %s]", reason)
	}
	_, err = t.s.db.Exec(
		`UPDATE tasks SET status='open', description=?, closed_reason='', closed_commit_sha='',
			closed_in_session_id=NULL, closed_at=NULL, updated_at=CURRENT_TIMESTAMP WHERE id=?`,
		desc, id,
	)
	if err != nil {
		return nil, err
	}
	t.s.notify(Change{Entity: "task", ID: id, Op: "update"})
	return t.Get(id)
}

func (t *Tasks) countOpenChildren(parentID string) (int, error) {
	row := t.s.db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE parent_task_id = ? AND status != 'closed'`, parentID)
	var n int
	err := row.Scan(&n)
	return n, err
}

// DeleteTask enforces §3.2's dependency rules: cascade deletes the
// subtree plus dependents (cycle-safe via a visited set and work queue,
// never recursing — §8 invariant 6), unlink deletes the task alone and
// relies on ON DELETE CASCADE to clean up dependency rows.
func (t *Tasks) DeleteTask(id string, cascade, unlink bool) error {
	hasDependents, err := t.hasOpenDependents(id)
	if err != nil {
		return err
	}
	if hasDependents && !cascade && !unlink {
		return &ConflictError{Reason: fmt.Sprintf("task %s has open dependents; pass cascade or unlink", id)}
	}

	if !cascade {
		// unlink (or no dependents at all): delete this row only.
		// ON DELETE CASCADE on task_dependencies removes its edges.
		res, err := t.s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &NotFoundError{Entity: "task", ID: id}
		}
		t.s.notify(Change{Entity: "task", ID: id, Op: "delete"})
		return nil
	}

	// cascade: BFS over descendants (parent_task_id) and dependents
	// (task_dependencies.depends_on_task_id = id), tracking a visited
	// set so a task that appears via both edges is only queued once —
	// this is what keeps the walk terminating when a parent depends on
	// its own child (§3.2, §8 invariant 6).
	visited := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		children, err := t.childIDs(cur)
		if err != nil {
			return err
		}
		dependents, err := t.dependentIDs(cur)
		if err != nil {
			return err
		}
		for _, next := range append(children, dependents...) {
			if visited[next] {
				continue
			}
			visited[next] = true
			queue = append(queue, next)
		}
	}

	tx, err := t.s.db.Begin()
	if err != nil {
		return err
	}
	for taskID := range visited {
		if _, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, taskID); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for taskID := range visited {
		t.s.notify(Change{Entity: "task", ID: taskID, Op: "delete"})
	}
	return nil
}

func (t *Tasks) childIDs(id string) ([]string, error) {
	rows, err := t.s.db.Query(`SELECT id FROM tasks WHERE parent_task_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (t *Tasks) dependentIDs(id string) ([]string, error) {
	rows, err := t.s.db.Query(`SELECT task_id FROM task_dependencies WHERE depends_on_task_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (t *Tasks) hasOpenDependents(id string) (bool, error) {
	row := t.s.db.QueryRow(
		`SELECT COUNT(*) FROM task_dependencies d JOIN tasks t ON t.id = d.task_id
		 WHERE d.depends_on_task_id = ? AND t.status != 'closed'`, id)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// AddDependency records that taskID depends_on dependsOnID, rejecting the
// write (no row written) if it would create a cycle (§3.2, §8 invariant 5).
func (t *Tasks) AddDependency(taskID, dependsOnID, depType string) error {
	if taskID == dependsOnID {
		return &ConflictError{Reason: "a task cannot depend on itself"}
	}
	cyclic, err := t.wouldCycle(taskID, dependsOnID)
	if err != nil {
		return err
	}
	if cyclic {
		return &ConflictError{Reason: fmt.Sprintf("adding dependency %s -> %s would create a cycle", taskID, dependsOnID)}
	}
	_, err = t.s.db.Exec(
		`INSERT INTO task_dependencies (task_id, depends_on_task_id, dep_type) VALUES (?, ?, ?)`,
		taskID, dependsOnID, depType,
	)
	if err != nil {
		return fmt.Errorf("adding dependency: %w", err)
	}
	t.s.notify(Change{Entity: "task_dependency", ID: taskID, Op: "create"})
	return nil
}

// wouldCycle reports whether dependsOnID can already (transitively) reach
// taskID, which would make taskID -> dependsOnID close a cycle.
func (t *Tasks) wouldCycle(taskID, dependsOnID string) (bool, error) {
	visited := map[string]bool{}
	queue := []string{dependsOnID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == taskID {
			return true, nil
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		rows, err := t.s.db.Query(`SELECT depends_on_task_id FROM task_dependencies WHERE task_id = ?`, cur)
		if err != nil {
			return false, err
		}
		next, err := scanIDs(rows)
		rows.Close()
		if err != nil {
			return false, err
		}
		queue = append(queue, next...)
	}
	return false, nil
}

// RemoveDependency deletes a single dependency edge.
func (t *Tasks) RemoveDependency(taskID, dependsOnID, depType string) error {
	_, err := t.s.db.Exec(
		`DELETE FROM task_dependencies WHERE task_id = ? AND depends_on_task_id = ? AND dep_type = ?`,
		taskID, dependsOnID, depType,
	)
	return err
}

// CommitResolver normalizes a commit reference to a short SHA against a
// repository. The orchestrator/worktree package supplies the real git
// implementation; tests can fake it.
type CommitResolver interface {
	NormalizeSHA(sha string) (string, error)
}

// LinkCommit resolves sha to its short form and records it on the task's
// commit set (idempotent, set semantics — §8 invariant 10).
func (t *Tasks) LinkCommit(id, sha string, resolver CommitResolver) (string, error) {
	short, err := resolver.NormalizeSHA(sha)
	if err != nil {
		return "", &ValidationError{Field: "sha", Reason: fmt.Sprintf("could not resolve %q: %v", sha, err)}
	}
	task, err := t.Get(id)
	if err != nil {
		return "", err
	}
	task.Commits = appendUnique(task.Commits, short)
	commits, _ := json.Marshal(task.Commits)
	_, err = t.s.db.Exec(`UPDATE tasks SET commits = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(commits), id)
	return short, err
}

// UnlinkCommit removes sha (after normalizing) from the task's commit set.
func (t *Tasks) UnlinkCommit(id, sha string, resolver CommitResolver) error {
	short, err := resolver.NormalizeSHA(sha)
	if err != nil {
		return &ValidationError{Field: "sha", Reason: fmt.Sprintf("could not resolve %q: %v", sha, err)}
	}
	task, err := t.Get(id)
	if err != nil {
		return err
	}
	task.Commits = removeString(task.Commits, short)
	commits, _ := json.Marshal(task.Commits)
	_, err = t.s.db.Exec(`UPDATE tasks SET commits = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(commits), id)
	return err
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// ListReadyOptions filters ListReady.
type ListReadyOptions struct {
	ProjectID string
}

// ListReady returns non-closed tasks with no open blockers. A parent
// blocked only by its own (not-yet-closed) children is still ready: the
// child-blocks-parent edge means "cannot close", not "cannot start"
// (§4.6 "list_ready_tasks").
func (t *Tasks) ListReady(opts ListReadyOptions) ([]*Task, error) {
	rows, err := t.s.db.Query(
		`SELECT `+taskColumns+` FROM tasks tk
		 WHERE tk.project_id = ? AND tk.status != 'closed'
		 AND NOT EXISTS (
			SELECT 1 FROM task_dependencies d JOIN tasks blocker ON blocker.id = d.depends_on_task_id
			WHERE d.task_id = tk.id AND d.dep_type = 'blocks' AND blocker.status != 'closed'
			AND blocker.path_cache NOT LIKE tk.path_cache || '.%'
		 )
		 ORDER BY tk.priority ASC, tk.seq_num ASC`,
		opts.ProjectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListBlocked is the complement of ListReady, restricted to tasks
// blocked by at least one non-descendant open task.
func (t *Tasks) ListBlocked(opts ListReadyOptions) ([]*Task, error) {
	rows, err := t.s.db.Query(
		`SELECT `+taskColumns+` FROM tasks tk
		 WHERE tk.project_id = ? AND tk.status != 'closed'
		 AND EXISTS (
			SELECT 1 FROM task_dependencies d JOIN tasks blocker ON blocker.id = d.depends_on_task_id
			WHERE d.task_id = tk.id AND d.dep_type = 'blocks' AND blocker.status != 'closed'
			AND blocker.path_cache NOT LIKE tk.path_cache || '.%'
		 )
		 ORDER BY tk.priority ASC, tk.seq_num ASC`,
		opts.ProjectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ReadyDescendants returns ready (non-closed, unblocked) descendants of
// parentTaskID, used by the orchestrator (§4.4 step 2).
func (t *Tasks) ReadyDescendants(parentTaskID string) ([]*Task, error) {
	parent, err := t.Get(parentTaskID)
	if err != nil {
		return nil, err
	}
	rows, err := t.s.db.Query(
		`SELECT `+taskColumns+` FROM tasks tk
		 WHERE tk.path_cache LIKE ? || '.%' AND tk.status != 'closed'
		 AND NOT EXISTS (
			SELECT 1 FROM task_dependencies d JOIN tasks blocker ON blocker.id = d.depends_on_task_id
			WHERE d.task_id = tk.id AND d.dep_type = 'blocks' AND blocker.status != 'closed'
		 )
		 ORDER BY tk.priority ASC, tk.seq_num ASC`,
		parent.PathCache,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

const taskColumns = `id, project_id, parent_task_id, seq_num, path_cache, title, description,
	status, priority, task_type, labels, assignee, commits, workflow_name, sequence_order,
	closed_in_session_id, closed_commit_sha, closed_reason, closed_at, validation_status,
	escalation_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	task := &Task{}
	var parentID, closedSession, closedSHA, closedReason sql.NullString
	var closedAt sql.NullTime
	var labelsJSON, commitsJSON string
	if err := row.Scan(&task.ID, &task.ProjectID, &parentID, &task.SeqNum, &task.PathCache, &task.Title,
		&task.Description, &task.Status, &task.Priority, &task.TaskType, &labelsJSON, &task.Assignee,
		&commitsJSON, &task.WorkflowName, &task.SequenceOrder, &closedSession, &closedSHA, &closedReason,
		&closedAt, &task.ValidationStatus, &task.EscalationReason, &task.CreatedAt, &task.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "task", ID: ""}
		}
		return nil, err
	}
	if parentID.Valid {
		task.ParentTaskID = &parentID.String
	}
	if closedSession.Valid {
		task.ClosedInSessionID = &closedSession.String
	}
	task.ClosedCommitSHA = closedSHA.String
	task.ClosedReason = closedReason.String
	if closedAt.Valid {
		t := closedAt.Time
		task.ClosedAt = &t
	}
	_ = json.Unmarshal([]byte(labelsJSON), &task.Labels)
	_ = json.Unmarshal([]byte(commitsJSON), &task.Commits)
	return task, nil
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	var out []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// ResolveRef resolves a task reference in any of the forms spec.md §4.4
// step 1 names: a UUID, "#N" (seq_num within projectID), a dotted
// path_cache, or a bare numeric seq_num.
func (t *Tasks) ResolveRef(projectID, ref string) (*Task, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &ValidationError{Field: "task_ref", Reason: "empty"}
	}

	if _, err := uuid.Parse(ref); err == nil {
		return t.Get(ref)
	}

	if strings.HasPrefix(ref, "#") {
		return t.getBySeqNum(projectID, strings.TrimPrefix(ref, "#"))
	}

	if strings.Contains(ref, ".") {
		return t.getByPathCache(projectID, ref)
	}

	if _, err := strconv.Atoi(ref); err == nil {
		return t.getBySeqNum(projectID, ref)
	}

	return nil, &ValidationError{Field: "task_ref", Reason: fmt.Sprintf("unrecognized task reference %q", ref)}
}

func (t *Tasks) getBySeqNum(projectID, seqStr string) (*Task, error) {
	seq, err := strconv.Atoi(seqStr)
	if err != nil {
		return nil, &ValidationError{Field: "task_ref", Reason: fmt.Sprintf("invalid seq_num %q", seqStr)}
	}
	row := t.s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? AND seq_num = ?`, projectID, seq)
	return scanTask(row)
}

func (t *Tasks) getByPathCache(projectID, pathCache string) (*Task, error) {
	row := t.s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? AND path_cache = ?`, projectID, pathCache)
	return scanTask(row)
}
