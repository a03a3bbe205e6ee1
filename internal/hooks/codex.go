package hooks

// CodexAdapter translates Codex's snake_case hook payloads. Codex's
// notification hook ("codex-notify" at the HTTP boundary, §6.1) is
// fire-and-forget: TranslateFromResponse still produces a shape, but the
// caller is not expected to act on it.
type CodexAdapter struct{}

var codexEventMap = map[string]EventType{
	"session_start": SessionStart,
	"session_end":   SessionEnd,
	"before_agent":  BeforeAgent,
	"after_agent":   AfterAgent,
	"before_tool":   BeforeTool,
	"after_tool":    AfterTool,
	"pre_compact":   PreCompact,
	"notification":  Notification,
}

func (CodexAdapter) Source() SourceKind { return SourceCodex }

func (CodexAdapter) TranslateToEvent(native map[string]any) (*HookEvent, error) {
	hookType := str(native, "hook_type")
	inputData, _ := native["input_data"].(map[string]any)
	if inputData == nil {
		inputData = map[string]any{}
	}

	eventType, ok := codexEventMap[hookType]
	if !ok {
		eventType = Notification
	}

	return &HookEvent{
		EventType: eventType,
		SessionID: str(inputData, "session_id"),
		Source:    SourceCodex,
		MachineID: str(inputData, "machine_id"),
		Cwd:       str(inputData, "cwd"),
		Data:      inputData,
		Metadata:  map[string]any{},
	}, nil
}

func (CodexAdapter) TranslateFromResponse(resp *HookResponse, hookType string) (map[string]any, error) {
	out := map[string]any{
		"decision": string(resp.Decision),
	}
	if resp.Reason != "" {
		out["reason"] = resp.Reason
	}
	if resp.Context != "" {
		out["additional_context"] = resp.Context
	}
	return out, nil
}
