package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMCPServersUpsertListDelete(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, "POST", "/mcp/servers", map[string]any{
		"name":      "filesystem",
		"transport": "stdio",
		"command":   "mcp-server-filesystem",
		"enabled":   true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, "GET", "/mcp/servers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	decodeBody(t, w, &out)
	require.Len(t, out["servers"], 1)

	w = doJSON(t, srv, "DELETE", "/mcp/servers/filesystem", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, "GET", "/mcp/servers", nil)
	decodeBody(t, w, &out)
	require.Empty(t, out["servers"])
}

func TestMCPServersUpsertRequiresName(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, "POST", "/mcp/servers", map[string]any{"transport": "stdio"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMCPToolsEmbedReturnsVector(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, "POST", "/mcp/tools/embed", map[string]any{
		"text": "list files in repo", "cwd": "/tmp/demo",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	decodeBody(t, w, &out)
	require.NotEmpty(t, out["embedding"])
}

func TestMCPToolsEmbedUnresolvedProjectIs200NotError(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, "POST", "/mcp/tools/embed", map[string]any{"text": "list files"})
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	decodeBody(t, w, &out)
	require.Contains(t, out["error"], "no project")
}
