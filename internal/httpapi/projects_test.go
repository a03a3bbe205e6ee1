package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steveyegge/gobby/internal/store"
)

func TestProjectsListExcludesReserved(t *testing.T) {
	srv, s := newTestServer(t)
	_, err := s.Projects().EnsureProject("", "demo", "/tmp/demo")
	require.NoError(t, err)

	w := doJSON(t, srv, "GET", "/api/projects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	decodeBody(t, w, &out)
	// "demo" plus the seeded _personal project; _orphaned and _migrated
	// are hidden.
	require.Len(t, out["projects"], 2)
}

func TestProjectUpdateAndGet(t *testing.T) {
	srv, s := newTestServer(t)
	proj, err := s.Projects().EnsureProject("", "demo", "/tmp/demo")
	require.NoError(t, err)

	newName := "renamed"
	w := doJSON(t, srv, "PUT", "/api/projects/"+proj.ID, map[string]any{"name": newName})
	require.Equal(t, http.StatusOK, w.Code)
	var updated store.Project
	decodeBody(t, w, &updated)
	require.Equal(t, newName, updated.Name)

	w = doJSON(t, srv, "GET", "/api/projects/"+proj.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestProjectDeleteReservedIsForbidden(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, "DELETE", "/api/projects/"+store.ReservedProjectOrphaned, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}
