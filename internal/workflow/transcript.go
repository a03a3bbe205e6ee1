package workflow

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// summarizeTranscript reads a CLI transcript file (JSONL, one object per
// line, empty lines skipped) and renders a short structural summary: how
// many turns, which tools were used, and the last assistant message
// seen. This is the transcript analyzer extract_handoff_context relies
// on (§4.3); it does not call an LLM, it just counts and samples.
func summarizeTranscript(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("no transcript path recorded for this session")
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening transcript %q: %w", path, err)
	}
	defer f.Close()

	var turns int
	toolCounts := map[string]int{}
	var lastAssistantText string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue // tolerate malformed lines rather than failing the whole summary
		}
		role, _ := entry["role"].(string)
		if role != "" {
			turns++
		}
		if toolName, ok := entry["tool_name"].(string); ok && toolName != "" {
			toolCounts[toolName]++
		}
		if role == "assistant" {
			if text, ok := entry["text"].(string); ok && text != "" {
				lastAssistantText = text
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading transcript %q: %w", path, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d turns recorded.\n", turns)
	if len(toolCounts) > 0 {
		b.WriteString("Tool usage:\n")
		for name, count := range toolCounts {
			fmt.Fprintf(&b, "- %s: %d\n", name, count)
		}
	}
	if lastAssistantText != "" {
		b.WriteString("\nLast assistant message:\n")
		b.WriteString(truncate(lastAssistantText, 800))
	}
	return b.String(), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
