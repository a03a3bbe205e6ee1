package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steveyegge/gobby/internal/config"
)

func newTestServerWithConfig(t *testing.T) *Server {
	t.Helper()
	srv, s := newTestServer(t)
	configPath := filepath.Join(t.TempDir(), "config.json")
	srv.configPath = configPath
	srv.secrets = config.NewSecrets(s.Secrets(), configPath)
	return srv
}

func TestConfigValuesGetCreatesDefaults(t *testing.T) {
	srv := newTestServerWithConfig(t)
	w := doJSON(t, srv, "GET", "/api/config/values", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var v config.Values
	decodeBody(t, w, &v)
	require.Equal(t, config.DefaultValues().DaemonPort, v.DaemonPort)
	require.FileExists(t, srv.configPath)
}

func TestConfigValuesPutRoundTrips(t *testing.T) {
	srv := newTestServerWithConfig(t)
	v := config.DefaultValues()
	v.DaemonPort = 9999

	w := doJSON(t, srv, "PUT", "/api/config/values", v)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, "GET", "/api/config/values", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out config.Values
	decodeBody(t, w, &out)
	require.Equal(t, 9999, out.DaemonPort)
}

func TestConfigValuesResetRestoresDefaults(t *testing.T) {
	srv := newTestServerWithConfig(t)
	v := config.DefaultValues()
	v.DaemonPort = 1234
	w := doJSON(t, srv, "PUT", "/api/config/values", v)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, "POST", "/api/config/values/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out config.Values
	decodeBody(t, w, &out)
	require.Equal(t, config.DefaultValues().DaemonPort, out.DaemonPort)
}

func TestConfigSecretsPutListDelete(t *testing.T) {
	srv := newTestServerWithConfig(t)

	w := doJSON(t, srv, "POST", "/api/config/secrets", map[string]any{
		"name": "anthropic_api_key", "category": "provider", "value": "sk-test",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, "GET", "/api/config/secrets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed map[string]any
	decodeBody(t, w, &listed)
	require.Len(t, listed["secrets"], 1)

	w = doJSON(t, srv, "DELETE", "/api/config/secrets/anthropic_api_key", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, "GET", "/api/config/secrets", nil)
	decodeBody(t, w, &listed)
	require.Empty(t, listed["secrets"])
}

func TestConfigSecretsWithoutStoreReturns503(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, "GET", "/api/config/secrets", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestConfigTemplateRoundTripsOnlyOverriddenKeys(t *testing.T) {
	srv := newTestServerWithConfig(t)
	yamlDoc := []byte("daemon_port: 8123\n")

	req := httptest.NewRequest("PUT", "/api/config/template", bytes.NewReader(yamlDoc))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, "GET", "/api/config/template", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "daemon_port: 8123")
}
