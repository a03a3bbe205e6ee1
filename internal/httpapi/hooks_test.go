package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHookExecuteClaudeSessionStart(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, "POST", "/hooks/execute", map[string]any{
		"hook_type": "session-start",
		"source":    "claude",
		"input_data": map[string]any{
			"session_id": "sess-1",
			"cwd":        "/tmp/demo",
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	decodeBody(t, w, &out)
	require.Equal(t, true, out["continue"])
}

func TestHookExecuteUnknownSourceIsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, "POST", "/hooks/execute", map[string]any{
		"hook_type": "session-start",
		"source":    "unknown-cli",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHookExecuteMissingFieldsIsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, "POST", "/hooks/execute", map[string]any{"hook_type": "session-start"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHookExecuteWithoutDispatcherReturns503(t *testing.T) {
	srv := NewServer(Config{})
	w := doJSON(t, srv, "POST", "/hooks/execute", map[string]any{
		"hook_type": "session-start",
		"source":    "claude",
	})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
