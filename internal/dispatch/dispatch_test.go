package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/gobby/internal/hooks"
	"github.com/steveyegge/gobby/internal/store"
	"github.com/steveyegge/gobby/internal/workflow"
)

type alwaysReady struct{}

func (alwaysReady) CheckHealth() (bool, string, string, error) { return true, "ok", "", nil }

type neverReady struct{}

func (neverReady) CheckHealth() (bool, string, string, error) { return false, "starting", "store not open", nil }

func newTestDispatcher(t *testing.T, checker HealthChecker) (*Dispatcher, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	engine := workflow.NewEngine(s, nil)
	d := NewDispatcher(Config{
		Store:               s,
		Engine:              engine,
		HealthChecker:       checker,
		HealthCheckInterval: time.Hour,
	})
	t.Cleanup(d.Shutdown)
	return d, s
}

func TestHandleFailsOpenWhenNotReady(t *testing.T) {
	d, _ := newTestDispatcher(t, neverReady{})
	resp := d.Handle(&hooks.HookEvent{EventType: hooks.BeforeAgent, SessionID: "ext-1", Source: hooks.SourceClaude})
	assert.Equal(t, hooks.Allow, resp.Decision)
	assert.Contains(t, resp.Reason, "not ready")
}

func TestHandleAutoRegistersNewSession(t *testing.T) {
	d, s := newTestDispatcher(t, alwaysReady{})
	event := &hooks.HookEvent{
		EventType: hooks.BeforeAgent,
		SessionID: "ext-new",
		Source:    hooks.SourceClaude,
		Cwd:       "/tmp/project-x",
		Data:      map[string]any{"prompt": "do the thing"},
	}
	resp := d.Handle(event)
	assert.Equal(t, hooks.Allow, resp.Decision)

	sess, err := s.Sessions().FindByExternalID("ext-new", "claude", "")
	require.NoError(t, err)
	assert.Equal(t, store.SessionActive, sess.Status)
}

func TestHandleBeforeAgentClearKeepsNewSessionActive(t *testing.T) {
	d, s := newTestDispatcher(t, alwaysReady{})
	event := &hooks.HookEvent{
		EventType: hooks.BeforeAgent,
		SessionID: "ext-clear",
		Source:    hooks.SourceClaude,
		Cwd:       "/tmp/project-y",
		Data:      map[string]any{"prompt": "/clear"},
	}
	d.Handle(event)

	sess, err := s.Sessions().FindByExternalID("ext-clear", "claude", "")
	require.NoError(t, err)
	assert.Equal(t, store.SessionActive, sess.Status, "a brand new session defaults to active regardless")
}

func TestHandleSessionStartClearSetsParentSessionID(t *testing.T) {
	d, s := newTestDispatcher(t, alwaysReady{})

	first := &hooks.HookEvent{EventType: hooks.BeforeAgent, SessionID: "ext-s1", Source: hooks.SourceClaude, Cwd: "/tmp/handoff", Data: map[string]any{"prompt": "hi"}}
	d.Handle(first)
	s1, err := s.Sessions().FindByExternalID("ext-s1", "claude", "")
	require.NoError(t, err)
	require.NoError(t, s.Sessions().UpdateSummaryMarkdown(s1.ID, "## done"))

	second := &hooks.HookEvent{
		EventType: hooks.SessionStart,
		SessionID: "ext-s2",
		Source:    hooks.SourceClaude,
		Cwd:       "/tmp/handoff",
		Data:      map[string]any{"trigger": "clear"},
	}
	resp := d.Handle(second)
	assert.Contains(t, resp.Context, "Handoff from previous session")

	s2, err := s.Sessions().FindByExternalID("ext-s2", "claude", "")
	require.NoError(t, err)
	require.NotNil(t, s2.ParentSessionID)
	assert.Equal(t, s1.ID, *s2.ParentSessionID)

	expiredParent, err := s.Sessions().Get(s1.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionExpired, expiredParent.Status)
}

func TestHandleAfterAgentPausesSession(t *testing.T) {
	d, s := newTestDispatcher(t, alwaysReady{})
	start := &hooks.HookEvent{EventType: hooks.BeforeAgent, SessionID: "ext-pause", Source: hooks.SourceClaude, Cwd: "/tmp/p", Data: map[string]any{"prompt": "hi"}}
	d.Handle(start)

	stop := &hooks.HookEvent{EventType: hooks.AfterAgent, SessionID: "ext-pause", Source: hooks.SourceClaude, Cwd: "/tmp/p"}
	d.Handle(stop)

	sess, err := s.Sessions().FindByExternalID("ext-pause", "claude", "")
	require.NoError(t, err)
	assert.Equal(t, store.SessionPaused, sess.Status)
}

func TestSubscribeReceivesBroadcast(t *testing.T) {
	d, _ := newTestDispatcher(t, alwaysReady{})
	received := make(chan BroadcastMessage, 1)
	d.Subscribe(func(msg BroadcastMessage) { received <- msg })

	d.Handle(&hooks.HookEvent{EventType: hooks.Notification, SessionID: "ext-bc", Source: hooks.SourceClaude, Cwd: "/tmp/bc"})

	select {
	case msg := <-received:
		assert.Equal(t, hooks.Notification, msg.Event.EventType)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestUnknownEventTypeFallsBackToAllow(t *testing.T) {
	d, _ := newTestDispatcher(t, alwaysReady{})
	resp := d.Handle(&hooks.HookEvent{EventType: hooks.EventType("SOMETHING_NEW"), SessionID: "ext-unk", Source: hooks.SourceClaude, Cwd: "/tmp/u"})
	assert.Equal(t, hooks.Allow, resp.Decision)
}
