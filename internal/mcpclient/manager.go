package mcpclient

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/singleflight"

	"github.com/steveyegge/gobby/internal/store"
)

// Health is the manager's view of one server's connection health
// (spec.md §4.5.2 "health{state, health, last_health_check,
// response_time_ms, consecutive_failures}").
type Health struct {
	State               string // connected/unhealthy/disconnected
	Healthy             bool
	LastHealthCheck      time.Time
	ResponseTimeMs       int64
	ConsecutiveFailures int
}

type serverState struct {
	cfg       store.MCPServerConfig
	breaker   circuitBreaker
	mu        sync.Mutex
	transport transport
	health    Health
}

// Config configures a Manager.
type Config struct {
	Store               *store.Store
	HealthCheckInterval time.Duration
	CallTimeout         time.Duration
	Logger              *log.Logger
}

// Manager is the MCP Client Manager (spec.md §4.5): it owns one
// transport per configured server, lazily connects them behind a
// circuit breaker, and exposes call_tool/read_resource/list_tools.
type Manager struct {
	store       *store.Store
	logger      *log.Logger
	callTimeout time.Duration

	servers sync.Map // name -> *serverState
	sf      singleflight.Group

	healthInterval time.Duration
	reconnectWG    sync.WaitGroup
	reconnecting   sync.Map // name -> struct{}, tracks out-of-band reconnect tasks

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager builds a Manager. Call Start to begin the health monitor.
func NewManager(cfg Config) *Manager {
	interval := cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		store:          cfg.Store,
		logger:         cfg.Logger,
		callTimeout:    timeout,
		healthInterval: interval,
		done:           make(chan struct{}),
	}
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// Start launches the background health monitor (§4.5.2). Safe to call
// once; the loop exits on Shutdown.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.healthLoop(ctx)
}

func (m *Manager) stateFor(name, projectID string) (*serverState, error) {
	if v, ok := m.servers.Load(name); ok {
		return v.(*serverState), nil
	}
	cfg, err := m.store.MCPServers().Get(name, projectID)
	if err != nil {
		if _, ok := err.(*store.NotFoundError); ok {
			return nil, &NotConfiguredError{Name: name}
		}
		return nil, err
	}
	st := &serverState{cfg: *cfg, health: Health{State: "disconnected"}}
	actual, _ := m.servers.LoadOrStore(name, st)
	return actual.(*serverState), nil
}

// ensureConnected implements §4.5.1: single-flight per server, circuit
// breaker consultation, retry-with-backoff connect.
func (m *Manager) ensureConnected(ctx context.Context, name, projectID string) (*serverState, error) {
	st, err := m.stateFor(name, projectID)
	if err != nil {
		return nil, err
	}
	if !st.cfg.Enabled {
		return nil, &DisabledServerError{Name: name}
	}

	st.mu.Lock()
	connected := st.transport != nil && st.health.State == "connected"
	st.mu.Unlock()
	if connected {
		return st, nil
	}

	if state := st.breaker.state(); state == breakerOpen {
		return nil, &CircuitBreakerOpenError{Name: name, RetryAfter: st.breaker.retryAfter().Seconds()}
	}

	_, err, _ = m.sf.Do(name, func() (any, error) {
		st.mu.Lock()
		if st.transport != nil && st.health.State == "connected" {
			st.mu.Unlock()
			return nil, nil
		}
		st.mu.Unlock()

		tr, err := newTransport(st.cfg)
		if err != nil {
			return nil, err
		}

		connectErr := retry.Do(
			func() error { return tr.Connect(ctx) },
			retry.Attempts(3),
			retry.Delay(200*time.Millisecond),
			retry.DelayType(retry.BackOffDelay),
			retry.Context(ctx),
		)

		st.mu.Lock()
		defer st.mu.Unlock()
		if connectErr != nil {
			st.breaker.recordFailure()
			st.health = Health{State: "disconnected", ConsecutiveFailures: st.health.ConsecutiveFailures + 1}
			return nil, &TransportError{Server: name, Operation: "connect", Err: connectErr}
		}
		st.breaker.recordSuccess()
		st.transport = tr
		st.health = Health{State: "connected", Healthy: true, LastHealthCheck: time.Now()}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// CallTool implements §4.5.3: resolves the session (lazy-connect),
// invokes the tool, and records metrics that never affect the result.
func (m *Manager) CallTool(ctx context.Context, projectID, serverName, toolName string, args map[string]any, timeout time.Duration) (*ToolResult, error) {
	st, err := m.ensureConnected(ctx, serverName, projectID)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = m.callTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	st.mu.Lock()
	tr := st.transport
	st.mu.Unlock()
	if tr == nil {
		return nil, &TransportError{Server: serverName, Operation: "call_tool", Err: context.Canceled}
	}

	res, callErr := tr.CallTool(callCtx, toolName, args)
	latencyMs := time.Since(start).Milliseconds()

	success := callErr == nil && (res == nil || !res.IsError)
	if mErr := m.store.MCPServers().RecordToolCall(projectID, serverName, toolName, success, latencyMs); mErr != nil {
		m.logf("mcpclient: record tool call metrics for %s/%s failed: %v", serverName, toolName, mErr)
	}

	if callErr != nil {
		st.mu.Lock()
		st.breaker.recordFailure()
		st.health.ConsecutiveFailures++
		st.mu.Unlock()
		return nil, callErr
	}
	return res, nil
}

// ReadResource implements the read_resource operation of §4.5.
func (m *Manager) ReadResource(ctx context.Context, projectID, serverName, uri string) (*ResourceContent, error) {
	st, err := m.ensureConnected(ctx, serverName, projectID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	tr := st.transport
	st.mu.Unlock()
	return tr.ReadResource(ctx, uri)
}

// ListTools implements list_tools, refreshing the store's cached tool
// listing and returning the names whose schema changed.
func (m *Manager) ListTools(ctx context.Context, projectID, serverName string) ([]Tool, []string, error) {
	st, err := m.ensureConnected(ctx, serverName, projectID)
	if err != nil {
		return nil, nil, err
	}
	st.mu.Lock()
	tr := st.transport
	st.mu.Unlock()

	tools, err := tr.ListTools(ctx)
	if err != nil {
		return nil, nil, err
	}

	cached := make([]store.CachedTool, 0, len(tools))
	for _, tl := range tools {
		cached = append(cached, store.CachedTool{
			ServerName: serverName, ProjectID: projectID, ToolName: tl.Name,
			Description: tl.Description, InputSchemaJSON: tl.InputSchemaJSON,
		})
	}
	changed, err := m.store.MCPServers().ReplaceCachedTools(serverName, projectID, cached)
	if err != nil {
		m.logf("mcpclient: caching tool listing for %s failed: %v", serverName, err)
	}
	return tools, changed, nil
}

// GetToolInputSchema implements get_tool_input_schema by reading the
// store's cache (populated by ListTools), lazy-refreshing it if empty.
func (m *Manager) GetToolInputSchema(ctx context.Context, projectID, serverName, toolName string) (string, error) {
	cached, err := m.store.MCPServers().ListCachedTools(serverName, projectID)
	if err != nil {
		return "", err
	}
	if len(cached) == 0 {
		if _, _, err := m.ListTools(ctx, projectID, serverName); err != nil {
			return "", err
		}
		cached, err = m.store.MCPServers().ListCachedTools(serverName, projectID)
		if err != nil {
			return "", err
		}
	}
	for _, c := range cached {
		if c.ToolName == toolName {
			return c.InputSchemaJSON, nil
		}
	}
	return "", &MCPError{Message: "tool " + toolName + " not found on server " + serverName}
}

// Health returns the current health snapshot for a configured server, if
// its state has been loaded (i.e. at least one operation has touched
// it). Used by GET /mcp/servers (§6.2) to report state alongside config.
func (m *Manager) Health(name string) (Health, bool) {
	v, ok := m.servers.Load(name)
	if !ok {
		return Health{}, false
	}
	st := v.(*serverState)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.health, true
}

// Forget drops any in-memory connection state for a server, forcing the
// next call to reconnect from scratch — used after a server's config is
// edited or removed (§6.2 POST/DELETE /mcp/servers).
func (m *Manager) Forget(name string) {
	if v, ok := m.servers.LoadAndDelete(name); ok {
		st := v.(*serverState)
		st.mu.Lock()
		if st.transport != nil {
			_ = st.transport.Close()
		}
		st.mu.Unlock()
	}
}

// healthLoop implements §4.5.2: every health_check_interval it checks
// each connected server and schedules an out-of-band reconnect for any
// server that goes sustained-unhealthy. It must not die on a handler
// panic.
func (m *Manager) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAllHealth(ctx)
		}
	}
}

func (m *Manager) checkAllHealth(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logf("mcpclient: health check loop recovered from panic: %v", r)
		}
	}()

	m.servers.Range(func(key, value any) bool {
		name := key.(string)
		st := value.(*serverState)

		st.mu.Lock()
		tr := st.transport
		connected := st.health.State == "connected"
		st.mu.Unlock()
		if !connected || tr == nil {
			return true
		}

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		start := time.Now()
		_, err := tr.ListTools(checkCtx)
		cancel()
		elapsed := time.Since(start).Milliseconds()

		st.mu.Lock()
		if err != nil {
			st.health.ConsecutiveFailures++
			st.health.Healthy = false
			st.health.State = "unhealthy"
			sustained := st.health.ConsecutiveFailures >= breakerOpenThreshold
			st.mu.Unlock()
			if sustained {
				m.scheduleReconnect(name)
			}
		} else {
			st.health = Health{State: "connected", Healthy: true, LastHealthCheck: time.Now(), ResponseTimeMs: elapsed}
			st.mu.Unlock()
		}
		return true
	})
}

// scheduleReconnect runs _reconnect(name) out-of-band, tracked so
// Shutdown can wait for or abandon it.
func (m *Manager) scheduleReconnect(name string) {
	if _, already := m.reconnecting.LoadOrStore(name, struct{}{}); already {
		return
	}
	m.reconnectWG.Add(1)
	go func() {
		defer m.reconnectWG.Done()
		defer m.reconnecting.Delete(name)

		v, ok := m.servers.Load(name)
		if !ok {
			return
		}
		st := v.(*serverState)

		st.mu.Lock()
		if st.transport != nil {
			_ = st.transport.Close()
			st.transport = nil
		}
		st.health.State = "disconnected"
		st.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := m.ensureConnected(ctx, name, st.cfg.ProjectID); err != nil {
			m.logf("mcpclient: reconnect for %s failed: %v", name, err)
		}
	}()
}

// Shutdown implements §4.5.4 disconnect_all: cancels the health task,
// waits up to 5s for in-flight reconnects, disconnects every server with
// a bounded timeout, and clears in-memory state. Reconnects are not
// cancelled; each runs under its own 30s timeout, and one still running
// after the 5s wait is abandoned.
func (m *Manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}

	reconnectsDone := make(chan struct{})
	go func() {
		m.reconnectWG.Wait()
		close(reconnectsDone)
	}()
	select {
	case <-reconnectsDone:
	case <-time.After(5 * time.Second):
		m.logf("mcpclient: shutdown gave up waiting for in-flight reconnects")
	}

	var wg sync.WaitGroup
	m.servers.Range(func(key, value any) bool {
		name := key.(string)
		st := value.(*serverState)
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.mu.Lock()
			tr := st.transport
			st.transport = nil
			st.health = Health{State: "disconnected"}
			st.mu.Unlock()
			if tr == nil {
				return
			}
			done := make(chan error, 1)
			go func() { done <- tr.Close() }()
			select {
			case err := <-done:
				if err != nil {
					m.logf("mcpclient: disconnect %s: %v", name, err)
				}
			case <-time.After(5 * time.Second):
				m.logf("mcpclient: disconnect %s timed out", name)
			}
		}()
		return true
	})
	wg.Wait()
	m.servers = sync.Map{}
}
