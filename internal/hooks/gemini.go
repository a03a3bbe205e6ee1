package hooks

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"time"
)

// GeminiAdapter translates Gemini CLI's PascalCase hook payloads.
type GeminiAdapter struct{}

var geminiEventMap = map[string]EventType{
	"SessionStart":        SessionStart,
	"SessionEnd":          SessionEnd,
	"BeforeAgent":         BeforeAgent,
	"AfterAgent":          AfterAgent,
	"BeforeTool":          BeforeTool,
	"AfterTool":           AfterTool,
	"BeforeToolSelection": BeforeToolSelection,
	"BeforeModel":         BeforeModel,
	"AfterModel":          AfterModel,
	"PreCompress":         PreCompact,
	"Notification":        Notification,
}

var geminiToolNameMap = map[string]string{
	"run_shell_command": "Bash",
	"RunShellCommand":   "Bash",
	"read_file":         "Read",
	"ReadFile":          "Read",
	"ReadFileTool":      "Read",
	"write_file":        "Write",
	"WriteFile":         "Write",
	"WriteFileTool":     "Write",
	"edit_file":         "Edit",
	"EditFile":          "Edit",
	"EditFileTool":      "Edit",
	"GlobTool":          "Glob",
	"GrepTool":          "Grep",
	"ShellTool":         "Bash",
}

func normalizeGeminiTool(name string) string {
	if normalized, ok := geminiToolNameMap[name]; ok {
		return normalized
	}
	return name
}

// deterministicMachineID generates a stable machine_id from the host
// node name, for CLIs (Gemini, Antigravity) that don't always send one.
func deterministicMachineID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	sum := sha256.Sum256([]byte(host))
	return hex.EncodeToString(sum[:16])
}

func (GeminiAdapter) Source() SourceKind { return SourceGemini }

func (GeminiAdapter) TranslateToEvent(native map[string]any) (*HookEvent, error) {
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

	timestamp := time.Now().UTC()
	if ts := str(inputData, "timestamp"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			timestamp = parsed
		}
	}

	machineID := str(inputData, "machine_id")
	if machineID == "" {
		machineID = deterministicMachineID()
	}

	metadata := map[string]any{}
	if toolName := str(inputData, "tool_name"); toolName != "" {
		metadata["original_tool_name"] = toolName
		metadata["normalized_tool_name"] = normalizeGeminiTool(toolName)
		inputData["tool_name"] = normalizeGeminiTool(toolName)
	}

	return &HookEvent{
		EventType: eventType,
		SessionID: str(inputData, "session_id"),
		Source:    SourceGemini,
		Timestamp: timestamp,
		MachineID: machineID,
		Cwd:       str(inputData, "cwd"),
		Data:      inputData,
		Metadata:  metadata,
	}, nil
}

func (GeminiAdapter) TranslateFromResponse(resp *HookResponse, hookType string) (map[string]any, error) {
	out := map[string]any{
		"decision": string(resp.Decision),
	}
	if resp.Reason != "" {
		out["reason"] = resp.Reason
	}

	hookSpecific := map[string]any{}
	if resp.Context != "" {
		hookSpecific["additionalContext"] = resp.Context
	}
	if hookType == "BeforeModel" && resp.ModifyArgs != nil {
		hookSpecific["llm_request"] = resp.ModifyArgs
	}
	if hookType == "BeforeToolSelection" && resp.ModifyArgs != nil {
		hookSpecific["toolConfig"] = resp.ModifyArgs
	}
	if len(hookSpecific) > 0 {
		out["hookSpecificOutput"] = hookSpecific
	}
	return out, nil
}
