package hooks

// AntigravityAdapter reuses the Gemini hook-name vocabulary (Antigravity
// is a VSCode-fork CLI sharing the same hook event names) but normalizes
// its own tool names, which diverge from Gemini's.
type AntigravityAdapter struct{}

var antigravityToolNameMap = map[string]string{
	"terminal.run":  "Bash",
	"file.read":     "Read",
	"file.write":    "Write",
	"file.edit":     "Edit",
	"search.glob":   "Glob",
	"search.grep":   "Grep",
}

func (AntigravityAdapter) Source() SourceKind { return SourceAntigravity }

func (AntigravityAdapter) TranslateToEvent(native map[string]any) (*HookEvent, error) {
	hookType := str(native, "hook_type")
	inputData, _ := native["input_data"].(map[string]any)
	if len(inputData) == 0 {
		if _, ok := native["hook_event_name"]; ok {
			inputData = native
			hookType = str(native, "hook_event_name")
		}
	}
	if inputData == nil {
		inputData = map[string]any{}
	}

	eventType, ok := geminiEventMap[hookType]
	if !ok {
		eventType = Notification
	}

	machineID := str(inputData, "machine_id")
	if machineID == "" {
		machineID = deterministicMachineID()
	}

	metadata := map[string]any{}
	if toolName := str(inputData, "tool_name"); toolName != "" {
		normalized, ok := antigravityToolNameMap[toolName]
		if !ok {
			normalized = toolName
		}
		metadata["original_tool_name"] = toolName
		metadata["normalized_tool_name"] = normalized
		inputData["tool_name"] = normalized
	}

	return &HookEvent{
		EventType: eventType,
		SessionID: str(inputData, "session_id"),
		Source:    SourceAntigravity,
		MachineID: machineID,
		Cwd:       str(inputData, "cwd"),
		Data:      inputData,
		Metadata:  metadata,
	}, nil
}

func (AntigravityAdapter) TranslateFromResponse(resp *HookResponse, hookType string) (map[string]any, error) {
	// Antigravity speaks the same response shape as Gemini.
	return GeminiAdapter{}.TranslateFromResponse(resp, hookType)
}
