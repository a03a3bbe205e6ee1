package store

import (
	"database/sql"

	"github.com/google/uuid"
)

// Comment is a free-text note attached to a task, surfaced by
// GET/POST/DELETE /tasks/{id}/comments (spec.md §6.3).
type Comment struct {
	ID        string
	TaskID    string
	Author    string
	Body      string
	CreatedAt string
}

// Comments is the repository for task_comments rows.
type Comments struct{ s *Store }

func (s *Store) Comments() *Comments { return &Comments{s} }

// Add appends a comment to a task, failing NotFound if the task doesn't
// exist (the foreign key alone would surface as an opaque driver error).
func (c *Comments) Add(taskID, author, body string) (*Comment, error) {
	if _, err := c.s.Tasks().Get(taskID); err != nil {
		return nil, err
	}
	if body == "" {
		return nil, &ValidationError{Field: "body", Reason: "must not be empty"}
	}
	id := uuid.NewString()
	_, err := c.s.db.Exec(
		`INSERT INTO task_comments (id, task_id, author, body) VALUES (?, ?, ?, ?)`,
		id, taskID, author, body,
	)
	if err != nil {
		return nil, err
	}
	c.s.notify(Change{Entity: "task_comment", ID: id, Op: "create"})
	return c.get(id)
}

func (c *Comments) get(id string) (*Comment, error) {
	row := c.s.db.QueryRow(`SELECT id, task_id, author, body, created_at FROM task_comments WHERE id = ?`, id)
	cm := &Comment{}
	if err := row.Scan(&cm.ID, &cm.TaskID, &cm.Author, &cm.Body, &cm.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "task_comment", ID: id}
		}
		return nil, err
	}
	return cm, nil
}

// List returns every comment on a task, oldest first.
func (c *Comments) List(taskID string) ([]*Comment, error) {
	rows, err := c.s.db.Query(
		`SELECT id, task_id, author, body, created_at FROM task_comments WHERE task_id = ? ORDER BY created_at ASC`,
		taskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Comment
	for rows.Next() {
		cm := &Comment{}
		if err := rows.Scan(&cm.ID, &cm.TaskID, &cm.Author, &cm.Body, &cm.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, cm)
	}
	return out, rows.Err()
}

// Delete removes a single comment by ID.
func (c *Comments) Delete(id string) error {
	res, err := c.s.db.Exec(`DELETE FROM task_comments WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Entity: "task_comment", ID: id}
	}
	c.s.notify(Change{Entity: "task_comment", ID: id, Op: "delete"})
	return nil
}
