package workflow

import (
	"fmt"
	"log"
	"sync"

	"github.com/steveyegge/gobby/internal/hooks"
	"github.com/steveyegge/gobby/internal/store"
)

// Orchestrator is the collaborator the orchestrate_ready_tasks action
// delegates to. Defined here (rather than importing internal/orchestrator
// directly) to avoid a cycle: internal/orchestrator depends on the store
// and worktree/agentspawn packages, not on the workflow engine.
type Orchestrator interface {
	OrchestrateReadyTasks(params map[string]any) (map[string]any, error)
}

// Engine is the workflow engine: a set of loaded WorkflowDefs, evaluated
// against incoming hook events in file order (§4.3).
type Engine struct {
	store        *store.Store
	logger       *log.Logger
	orchestrator Orchestrator

	mu        sync.RWMutex
	workflows []*WorkflowDef

	// sessionLocks serializes state mutations for one session so
	// concurrent hooks never lose an update (§4.3 "atomic, locking
	// interface").
	sessionLocks sync.Map // sessionID -> *sync.Mutex
}

// NewEngine constructs an Engine bound to a store. Call SetOrchestrator
// once the orchestrator is constructed (it is built after the engine,
// from the same store).
func NewEngine(s *store.Store, logger *log.Logger) *Engine {
	return &Engine{store: s, logger: logger}
}

// SetOrchestrator wires in the orchestrate_ready_tasks collaborator.
func (e *Engine) SetOrchestrator(o Orchestrator) { e.orchestrator = o }

// LoadWorkflows replaces the loaded workflow set.
func (e *Engine) LoadWorkflows(defs []*WorkflowDef) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows = defs
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

func (e *Engine) lockFor(sessionID string) *sync.Mutex {
	v, _ := e.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// HandleEvent evaluates every loaded workflow's triggers against event in
// file order; the first action returning a non-allow decision
// short-circuits the remaining actions for this event (§4.3).
func (e *Engine) HandleEvent(event *hooks.HookEvent) (*hooks.HookResponse, error) {
	sessionID, _ := event.Metadata["_platform_session_id"].(string)
	if sessionID == "" {
		return nil, nil
	}
	lock := e.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.RLock()
	workflows := make([]*WorkflowDef, len(e.workflows))
	copy(workflows, e.workflows)
	e.mu.RUnlock()

	state, err := e.store.WorkflowStates().Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading workflow state: %w", err)
	}

	ctx := mergeContext(event, state)
	combined := &hooks.HookResponse{Decision: hooks.Allow}

	for _, def := range workflows {
		for _, trigger := range def.Triggers {
			if trigger.When.Event != string(event.EventType) {
				continue
			}
			matched, err := EvalCondition(trigger.When.Condition, ctx)
			if err != nil {
				e.logf("workflow %s: condition error: %v", def.Name, err)
				continue
			}
			if !matched {
				continue
			}
			for _, action := range trigger.Actions {
				resp, err := e.runAction(sessionID, event, state, action)
				if err != nil {
					e.logf("workflow %s: action %s error: %v", def.Name, action.Verb, err)
					continue
				}
				if resp == nil {
					continue
				}
				if resp.Decision != hooks.Allow {
					return resp, nil
				}
				combined.AppendContext(resp.Context)
			}
		}
	}
	return combined, nil
}

func mergeContext(event *hooks.HookEvent, state *store.WorkflowState) map[string]any {
	ctx := map[string]any{}
	for k, v := range event.Data {
		ctx[k] = v
	}
	ctx["metadata"] = event.Metadata
	ctx["variables"] = state.Variables
	ctx["event_type"] = string(event.EventType)
	return ctx
}
