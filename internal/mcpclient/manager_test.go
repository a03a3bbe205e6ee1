package mcpclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/gobby/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m := NewManager(Config{Store: s, HealthCheckInterval: time.Hour, CallTimeout: time.Second})
	return m, s
}

func TestEnsureConnectedReturnsNotConfiguredForUnknownServer(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.ensureConnected(context.Background(), "ghost", "")
	require.Error(t, err)
	var nc *NotConfiguredError
	require.ErrorAs(t, err, &nc)
	assert.Equal(t, 404, nc.HTTPStatus())
}

func TestEnsureConnectedOpensCircuitAfterConsecutiveFailures(t *testing.T) {
	m, s := newTestManager(t)
	require.NoError(t, s.MCPServers().Upsert(store.MCPServerConfig{
		Name: "flaky", ProjectID: "", Transport: store.TransportStdio,
		Command: "/nonexistent/does-not-exist-binary", Enabled: true,
	}))

	var lastErr error
	for i := 0; i < breakerOpenThreshold; i++ {
		_, lastErr = m.ensureConnected(context.Background(), "flaky", "")
		require.Error(t, lastErr)
	}

	st, err := m.stateFor("flaky", "")
	require.NoError(t, err)
	assert.Equal(t, breakerOpen, st.breaker.state())

	_, err = m.ensureConnected(context.Background(), "flaky", "")
	var breakerErr *CircuitBreakerOpenError
	require.ErrorAs(t, err, &breakerErr)
	assert.Equal(t, 503, breakerErr.HTTPStatus())
}

func TestEnsureConnectedRejectsDisabledServer(t *testing.T) {
	m, s := newTestManager(t)
	require.NoError(t, s.MCPServers().Upsert(store.MCPServerConfig{
		Name: "paused", ProjectID: "", Transport: store.TransportStdio, Command: "/bin/true", Enabled: false,
	}))

	_, err := m.ensureConnected(context.Background(), "paused", "")
	require.Error(t, err)
	var disabled *DisabledServerError
	require.ErrorAs(t, err, &disabled)
	assert.Equal(t, "Server 'paused' is disabled", disabled.Error())

	st, err := m.stateFor("paused", "")
	require.NoError(t, err)
	assert.Nil(t, st.transport, "disabled server must never be dialed")
}

func TestShutdownClearsServerState(t *testing.T) {
	m, s := newTestManager(t)
	require.NoError(t, s.MCPServers().Upsert(store.MCPServerConfig{
		Name: "svc", ProjectID: "", Transport: store.TransportStdio, Command: "/bin/true", Enabled: true,
	}))
	m.Start()
	m.Shutdown()

	count := 0
	m.servers.Range(func(_, _ any) bool { count++; return true })
	assert.Equal(t, 0, count)
}
