package store

import "fmt"

// NotFoundError is returned when a session/task/worktree/server/secret
// lookup misses. It maps to HTTP 404 at the boundary (§7).
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) HTTPStatus() int { return 404 }

// ConflictError covers dependency cycles, name collisions and
// resource-in-use conflicts (§7). Maps to HTTP 409.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

func (e *ConflictError) HTTPStatus() int { return 409 }

// ValidationError covers schema violations on writes (§7). Maps to 400/422.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) HTTPStatus() int { return 422 }
