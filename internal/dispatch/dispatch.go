// Package dispatch runs the right internal handler for each inbound hook
// event, exactly once per call, with deterministic fail-open failure
// semantics (spec.md §4.2).
package dispatch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/steveyegge/gobby/internal/hooks"
	"github.com/steveyegge/gobby/internal/store"
	"github.com/steveyegge/gobby/internal/workflow"
)

// HealthChecker reports whether the daemon is ready to handle hooks.
// Swapped out in tests; production wiring is the daemon's own internal
// status function.
type HealthChecker interface {
	CheckHealth() (ready bool, status, message string, err error)
}

type healthSnapshot struct {
	ready   bool
	status  string
	message string
	err     error
	checked time.Time
}

// BroadcastMessage pairs an event with its computed response for
// fire-and-forget delivery to subscribers (§4.2.5).
type BroadcastMessage struct {
	Event    *hooks.HookEvent
	Response *hooks.HookResponse
}

// sessionKey identifies a session by its CLI-native triple, the lookup
// key used by the in-memory resolution cache (§4.2.2).
type sessionKey struct {
	externalID string
	source     string
	machineID  string
}

// Dispatcher is the hook dispatch engine: daemon health gate, session
// resolution, per-event-type handler table, and fire-and-forget broadcast.
type Dispatcher struct {
	store    *store.Store
	engine   *workflow.Engine
	checker  HealthChecker
	logger   *log.Logger

	healthInterval time.Duration
	healthMu       sync.RWMutex
	health         healthSnapshot

	lookupMu    sync.Mutex
	sessionMap  map[sessionKey]string // -> internal session ID

	broadcast chan BroadcastMessage

	subMu       sync.RWMutex
	subscribers []func(BroadcastMessage)

	cancel context.CancelFunc
	done   chan struct{}
}

// Config configures a new Dispatcher.
type Config struct {
	Store              *store.Store
	Engine             *workflow.Engine
	HealthChecker      HealthChecker
	HealthCheckInterval time.Duration
	Logger             *log.Logger
	BroadcastBuffer    int
}

// NewDispatcher starts the background health-gate ticker and returns a
// ready-to-use Dispatcher. Mirrors the teacher daemon's timer/select
// loop shape, generalized to a configurable interval.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 10 * time.Second
	}
	if cfg.BroadcastBuffer <= 0 {
		cfg.BroadcastBuffer = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		store:          cfg.Store,
		engine:         cfg.Engine,
		checker:        cfg.HealthChecker,
		logger:         cfg.Logger,
		healthInterval: cfg.HealthCheckInterval,
		sessionMap:     make(map[sessionKey]string),
		broadcast:      make(chan BroadcastMessage, cfg.BroadcastBuffer),
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	d.refreshHealth()
	go d.healthLoop(ctx)
	go d.broadcastLoop(ctx)
	return d
}

// Shutdown stops the health-gate ticker and broadcaster; it must never
// schedule a new health tick afterward (§4.2.1).
func (d *Dispatcher) Shutdown() {
	d.cancel()
	<-d.done
}

func (d *Dispatcher) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(d.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(d.done)
			return
		case <-ticker.C:
			d.refreshHealth()
		}
	}
}

func (d *Dispatcher) refreshHealth() {
	var ready bool
	var status, message string
	var err error
	if d.checker != nil {
		ready, status, message, err = d.checker.CheckHealth()
	} else {
		ready, status, message = true, "ok", "no health checker configured"
	}
	d.healthMu.Lock()
	d.health = healthSnapshot{ready: ready, status: status, message: message, err: err, checked: time.Now()}
	d.healthMu.Unlock()
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}

// Handle runs the full dispatch pipeline for one event: health gate,
// session resolution, workflow engine, handler dispatch, broadcast.
func (d *Dispatcher) Handle(event *hooks.HookEvent) *hooks.HookResponse {
	d.healthMu.RLock()
	h := d.health
	d.healthMu.RUnlock()
	if !h.ready {
		reason := fmt.Sprintf("daemon not ready: status=%s message=%s", h.status, h.message)
		if h.err != nil {
			reason = fmt.Sprintf("%s error=%v", reason, h.err)
		}
		resp := &hooks.HookResponse{Decision: hooks.Allow, Reason: reason}
		d.postBroadcast(event, resp)
		return resp
	}

	if err := d.resolveSession(event); err != nil {
		resp := &hooks.HookResponse{Decision: hooks.Allow, Reason: fmt.Sprintf("session resolution failed: %v", err)}
		d.postBroadcast(event, resp)
		return resp
	}

	resp := d.dispatchWithWorkflow(event)
	d.postBroadcast(event, resp)
	return resp
}

// dispatchWithWorkflow runs the workflow engine before the handler; a
// non-allow workflow decision short-circuits the handler entirely, and
// workflow context (if any) is appended to the handler's own context
// (§4.2.3). A top-level catch-all converts unexpected handler errors to
// allow, per the fail-open invariant.
func (d *Dispatcher) dispatchWithWorkflow(event *hooks.HookEvent) (resp *hooks.HookResponse) {
	defer func() {
		if r := recover(); r != nil {
			d.logf("dispatch: handler panicked for %s: %v", event.EventType, r)
			resp = &hooks.HookResponse{Decision: hooks.Allow, Reason: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	var workflowContext string
	if d.engine != nil {
		wfResp, err := d.engine.HandleEvent(event)
		if err != nil {
			d.logf("dispatch: workflow engine error for %s: %v", event.EventType, err)
		} else if wfResp != nil {
			if wfResp.Decision != hooks.Allow {
				return wfResp
			}
			workflowContext = wfResp.Context
		}
	}

	handler, ok := handlerTable[event.EventType]
	if !ok {
		return &hooks.HookResponse{Decision: hooks.Allow}
	}
	resp = handler(d, event)
	resp.AppendContext(workflowContext)
	return resp
}

func (d *Dispatcher) postBroadcast(event *hooks.HookEvent, resp *hooks.HookResponse) {
	select {
	case d.broadcast <- BroadcastMessage{Event: event, Response: resp}:
	default:
		d.logf("dispatch: broadcast channel full, dropping event %s for session %s", event.EventType, event.SessionID)
	}
}

func (d *Dispatcher) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.broadcast:
			d.deliverBroadcast(msg)
		}
	}
}

// deliverBroadcast fans a message out to every subscriber under panic
// recovery (a slice behind a mutex is enough: broadcast volume is one
// message per hook call, not a hot path).
func (d *Dispatcher) deliverBroadcast(msg BroadcastMessage) {
	d.subMu.RLock()
	subs := make([]func(BroadcastMessage), len(d.subscribers))
	copy(subs, d.subscribers)
	d.subMu.RUnlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logf("dispatch: broadcast subscriber panicked: %v", r)
				}
			}()
			sub(msg)
		}()
	}
}

// Subscribe registers a broadcast subscriber (§4.2.5).
func (d *Dispatcher) Subscribe(fn func(BroadcastMessage)) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.subscribers = append(d.subscribers, fn)
}
