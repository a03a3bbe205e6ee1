package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/gobby/internal/hooks"
	"github.com/steveyegge/gobby/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, string) {
	t.Helper()
	s, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	proj, err := s.Projects().EnsureProject("", "demo", "/tmp/demo")
	require.NoError(t, err)
	sess, err := s.Sessions().Register("ext-1", "claude", "machine-a", proj.ID, nil, "")
	require.NoError(t, err)

	return NewEngine(s, nil), s, sess.ID
}

func TestHandleEventRunsMatchingTriggerAction(t *testing.T) {
	engine, _, sessionID := newTestEngine(t)
	engine.LoadWorkflows([]*WorkflowDef{
		{
			Name: "greeting",
			Triggers: []Trigger{
				{
					When: When{Event: "BEFORE_AGENT"},
					Actions: []Action{
						{Verb: "inject_message", Args: map[string]any{"content": "hello there"}},
					},
				},
			},
		},
	})

	event := &hooks.HookEvent{
		EventType: hooks.BeforeAgent,
		SessionID: "ext-1",
		Metadata:  map[string]any{"_platform_session_id": sessionID},
		Data:      map[string]any{},
	}
	resp, err := engine.HandleEvent(event)
	require.NoError(t, err)
	assert.Equal(t, hooks.Allow, resp.Decision)
	assert.Equal(t, "hello there", resp.Context)
}

func TestHandleEventSkipsNonMatchingCondition(t *testing.T) {
	engine, _, sessionID := newTestEngine(t)
	engine.LoadWorkflows([]*WorkflowDef{
		{
			Name: "conditional",
			Triggers: []Trigger{
				{
					When: When{Event: "BEFORE_AGENT", Condition: `prompt == "/clear"`},
					Actions: []Action{
						{Verb: "inject_message", Args: map[string]any{"content": "should not run"}},
					},
				},
			},
		},
	})

	event := &hooks.HookEvent{
		EventType: hooks.BeforeAgent,
		SessionID: "ext-1",
		Metadata:  map[string]any{"_platform_session_id": sessionID},
		Data:      map[string]any{"prompt": "regular prompt"},
	}
	resp, err := engine.HandleEvent(event)
	require.NoError(t, err)
	assert.Empty(t, resp.Context)
}

type fakeOrchestrator struct {
	called bool
	params map[string]any
}

func (f *fakeOrchestrator) OrchestrateReadyTasks(params map[string]any) (map[string]any, error) {
	f.called = true
	f.params = params
	return map[string]any{"success": true}, nil
}

func TestOrchestrateReadyTasksActionDelegates(t *testing.T) {
	engine, _, sessionID := newTestEngine(t)
	fake := &fakeOrchestrator{}
	engine.SetOrchestrator(fake)
	engine.LoadWorkflows([]*WorkflowDef{
		{
			Name: "spawn",
			Triggers: []Trigger{
				{
					When:    When{Event: "AFTER_AGENT"},
					Actions: []Action{{Verb: "orchestrate_ready_tasks", Args: map[string]any{"parent_task_id": "task-1"}}},
				},
			},
		},
	})

	event := &hooks.HookEvent{
		EventType: hooks.AfterAgent,
		SessionID: "ext-1",
		Metadata:  map[string]any{"_platform_session_id": sessionID},
		Data:      map[string]any{},
	}
	_, err := engine.HandleEvent(event)
	require.NoError(t, err)
	assert.True(t, fake.called)
	assert.Equal(t, "task-1", fake.params["parent_task_id"])
}
