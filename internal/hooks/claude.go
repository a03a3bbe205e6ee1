package hooks

// ClaudeAdapter translates Claude Code's kebab-case hook payloads
// (session-start, pre-tool-use, ...) to and from the unified shape.
type ClaudeAdapter struct{}

var claudeEventMap = map[string]EventType{
	"session-start":         SessionStart,
	"session-end":           SessionEnd,
	"user-prompt-submit":    BeforeAgent,
	"stop":                  AfterAgent,
	"pre-tool-use":          BeforeTool,
	"post-tool-use":         AfterTool,
	"post-tool-use-failure": AfterTool,
	"pre-compact":           PreCompact,
	"subagent-start":        SubagentStart,
	"subagent-stop":         SubagentStop,
	"permission-request":    PermissionRequest,
	"notification":          Notification,
}

var claudeHookEventNameMap = map[string]string{
	"session-start":         "SessionStart",
	"session-end":           "SessionEnd",
	"user-prompt-submit":    "UserPromptSubmit",
	"stop":                  "Stop",
	"pre-tool-use":          "PreToolUse",
	"post-tool-use":         "PostToolUse",
	"post-tool-use-failure": "PostToolUse",
	"pre-compact":           "PreCompact",
	"subagent-start":        "SubagentStart",
	"subagent-stop":         "SubagentStop",
	"permission-request":    "PermissionRequest",
	"notification":          "Notification",
}

// claudeToolNameMap normalizes Claude's own tool names, which are
// already canonical, so this is effectively the identity map kept for
// symmetry with the other adapters.
var claudeToolNameMap = map[string]string{}

func (ClaudeAdapter) Source() SourceKind { return SourceClaude }

func (ClaudeAdapter) TranslateToEvent(native map[string]any) (*HookEvent, error) {
	hookType := str(native, "hook_type")
	inputData, _ := native["input_data"].(map[string]any)
	if inputData == nil {
		inputData = map[string]any{}
	}

	eventType, ok := claudeEventMap[hookType]
	if !ok {
		eventType = Notification // unknown hook name: fail-open
	}

	metadata := map[string]any{}
	if hookType == "post-tool-use-failure" {
		metadata["is_failure"] = true
	}
	if toolName := str(inputData, "tool_name"); toolName != "" {
		if normalized, ok := claudeToolNameMap[toolName]; ok {
			metadata["original_tool_name"] = toolName
			inputData["tool_name"] = normalized
		}
	}

	return &HookEvent{
		EventType: eventType,
		SessionID: str(inputData, "session_id"),
		Source:    SourceClaude,
		MachineID: str(inputData, "machine_id"),
		Cwd:       str(inputData, "cwd"),
		Data:      inputData,
		Metadata:  metadata,
	}, nil
}

func (ClaudeAdapter) TranslateFromResponse(resp *HookResponse, hookType string) (map[string]any, error) {
	out := map[string]any{
		"continue": resp.Decision != Deny,
	}
	if resp.Decision == Deny && resp.Reason != "" {
		out["stopReason"] = resp.Reason
	}
	if resp.Context != "" {
		hookEventName, ok := claudeHookEventNameMap[hookType]
		if !ok {
			hookEventName = "Unknown"
		}
		out["hookSpecificOutput"] = map[string]any{
			"hookEventName":    hookEventName,
			"additionalContext": resp.Context,
		}
	}
	if resp.SystemMessage != "" {
		out["systemMessage"] = resp.SystemMessage
	}
	if resp.Decision == Deny {
		out["decision"] = "block"
	} else {
		out["decision"] = "approve"
	}
	return out, nil
}
