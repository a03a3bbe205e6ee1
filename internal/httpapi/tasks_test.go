package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steveyegge/gobby/internal/store"
)

func TestTaskCreateGetUpdateClose(t *testing.T) {
	srv, s := newTestServer(t)
	proj, err := s.Projects().EnsureProject("", "demo", "/tmp/demo")
	require.NoError(t, err)

	w := doJSON(t, srv, "POST", "/tasks", map[string]any{
		"project_id": proj.ID,
		"title":      "write docs",
		"priority":   1,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created store.Task
	decodeBody(t, w, &created)
	require.Equal(t, "write docs", created.Title)
	require.Equal(t, store.TaskOpen, created.Status)

	w = doJSON(t, srv, "GET", "/tasks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var fetched store.Task
	decodeBody(t, w, &fetched)
	require.Equal(t, created.ID, fetched.ID)

	newTitle := "write better docs"
	w = doJSON(t, srv, "PATCH", "/tasks/"+created.ID, map[string]any{"title": newTitle})
	require.Equal(t, http.StatusOK, w.Code)
	var updated store.Task
	decodeBody(t, w, &updated)
	require.Equal(t, newTitle, updated.Title)

	w = doJSON(t, srv, "POST", "/tasks/"+created.ID+"/close", map[string]any{"reason": "done"})
	require.Equal(t, http.StatusOK, w.Code)
	var closed store.Task
	decodeBody(t, w, &closed)
	require.Equal(t, store.TaskClosed, closed.Status)

	w = doJSON(t, srv, "POST", "/tasks/"+created.ID+"/reopen", map[string]any{"reason": "not done yet"})
	require.Equal(t, http.StatusOK, w.Code)
	var reopened store.Task
	decodeBody(t, w, &reopened)
	require.Equal(t, store.TaskOpen, reopened.Status)
}

func TestTaskGetMissingReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, "GET", "/tasks/"+"00000000-0000-0000-0000-000000000000", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskDependenciesAddBlocksReadiness(t *testing.T) {
	srv, s := newTestServer(t)
	proj, err := s.Projects().EnsureProject("", "demo", "/tmp/demo")
	require.NoError(t, err)

	blocker, err := s.Tasks().CreateTask(store.CreateTaskOptions{ProjectID: proj.ID, Title: "blocker"})
	require.NoError(t, err)
	blocked, err := s.Tasks().CreateTask(store.CreateTaskOptions{ProjectID: proj.ID, Title: "blocked"})
	require.NoError(t, err)

	w := doJSON(t, srv, "POST", "/tasks/"+blocked.ID+"/dependencies", map[string]any{
		"depends_on": blocker.ID,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, "GET", "/tasks/"+blocked.ID+"/dependencies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	decodeBody(t, w, &out)
	require.Equal(t, true, out["blocked"])
}

func TestCommentsAddListDelete(t *testing.T) {
	srv, s := newTestServer(t)
	proj, err := s.Projects().EnsureProject("", "demo", "/tmp/demo")
	require.NoError(t, err)
	task, err := s.Tasks().CreateTask(store.CreateTaskOptions{ProjectID: proj.ID, Title: "task"})
	require.NoError(t, err)

	w := doJSON(t, srv, "POST", "/tasks/"+task.ID+"/comments", map[string]any{
		"author": "agent", "body": "looks good",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var comment store.Comment
	decodeBody(t, w, &comment)
	require.Equal(t, "looks good", comment.Body)

	w = doJSON(t, srv, "GET", "/tasks/"+task.ID+"/comments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed map[string]any
	decodeBody(t, w, &listed)
	require.Len(t, listed["comments"], 1)

	w = doJSON(t, srv, "DELETE", "/tasks/"+task.ID+"/comments/"+comment.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
}
