package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeAdapterTranslateToEvent(t *testing.T) {
	event, err := ClaudeAdapter{}.TranslateToEvent(map[string]any{
		"hook_type": "pre-tool-use",
		"input_data": map[string]any{
			"session_id": "sess-1",
			"cwd":        "/repo",
			"tool_name":  "Bash",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, BeforeTool, event.EventType)
	assert.Equal(t, "sess-1", event.SessionID)
	assert.Equal(t, SourceClaude, event.Source)
}

func TestClaudeAdapterUnknownHookFailsOpenToNotification(t *testing.T) {
	event, err := ClaudeAdapter{}.TranslateToEvent(map[string]any{
		"hook_type":  "some-future-hook",
		"input_data": map[string]any{"session_id": "sess-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, Notification, event.EventType)
}

func TestClaudeAdapterResponseSetsHookEventName(t *testing.T) {
	out, err := ClaudeAdapter{}.TranslateFromResponse(&HookResponse{
		Decision: Allow,
		Context:  "some context",
	}, "session-start")
	require.NoError(t, err)
	assert.Equal(t, true, out["continue"])
	hookSpecific := out["hookSpecificOutput"].(map[string]any)
	assert.Equal(t, "SessionStart", hookSpecific["hookEventName"])
	assert.Equal(t, "some context", hookSpecific["additionalContext"])
}

func TestClaudeAdapterDenyMapsToBlock(t *testing.T) {
	out, err := ClaudeAdapter{}.TranslateFromResponse(&HookResponse{Decision: Deny, Reason: "no"}, "pre-tool-use")
	require.NoError(t, err)
	assert.Equal(t, false, out["continue"])
	assert.Equal(t, "block", out["decision"])
	assert.Equal(t, "no", out["stopReason"])
}

func TestGeminiAdapterNormalizesToolName(t *testing.T) {
	event, err := GeminiAdapter{}.TranslateToEvent(map[string]any{
		"hook_type": "BeforeTool",
		"input_data": map[string]any{
			"session_id": "sess-2",
			"tool_name":  "run_shell_command",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, BeforeTool, event.EventType)
	assert.Equal(t, "Bash", event.Data["tool_name"])
	assert.Equal(t, "run_shell_command", event.Metadata["original_tool_name"])
}

func TestGeminiAdapterGeneratesMachineIDWhenAbsent(t *testing.T) {
	event, err := GeminiAdapter{}.TranslateToEvent(map[string]any{
		"hook_type":  "SessionStart",
		"input_data": map[string]any{"session_id": "sess-3"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, event.MachineID)
}

func TestGeminiAdapterAcceptsUnwrappedPayload(t *testing.T) {
	event, err := GeminiAdapter{}.TranslateToEvent(map[string]any{
		"hook_event_name": "AfterAgent",
		"session_id":      "sess-4",
	})
	require.NoError(t, err)
	assert.Equal(t, AfterAgent, event.EventType)
	assert.Equal(t, "sess-4", event.SessionID)
}

func TestAntigravityAdapterNormalizesOwnToolVocabulary(t *testing.T) {
	event, err := AntigravityAdapter{}.TranslateToEvent(map[string]any{
		"hook_type": "BeforeTool",
		"input_data": map[string]any{
			"session_id": "sess-5",
			"tool_name":  "terminal.run",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bash", event.Data["tool_name"])
}

func TestRegistryLookupUnknownSource(t *testing.T) {
	_, err := NewRegistry().Lookup("unknown-cli")
	assert.Error(t, err)
}

func TestRegistryLookupKnownSources(t *testing.T) {
	r := NewRegistry()
	for _, source := range []string{"claude", "gemini", "codex", "antigravity"} {
		a, err := r.Lookup(source)
		require.NoError(t, err)
		assert.Equal(t, SourceKind(source), a.Source())
	}
}
