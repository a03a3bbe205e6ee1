package workflow

import (
	"fmt"
	"strings"

	"github.com/steveyegge/gobby/internal/hooks"
	"github.com/steveyegge/gobby/internal/store"
)

func (e *Engine) runAction(sessionID string, event *hooks.HookEvent, state *store.WorkflowState, action Action) (*hooks.HookResponse, error) {
	switch action.Verb {
	case "inject_context":
		return e.actionInjectContext(sessionID, event, state, action.Args)
	case "inject_message":
		return e.actionInjectMessage(sessionID, event, state, action.Args)
	case "extract_handoff_context":
		return e.actionExtractHandoffContext(sessionID, event, state, action.Args)
	case "generate_handoff":
		return e.actionGenerateHandoff(sessionID, event, state, action.Args)
	case "orchestrate_ready_tasks":
		return e.actionOrchestrateReadyTasks(sessionID, action.Args)
	default:
		return nil, fmt.Errorf("unknown action verb %q", action.Verb)
	}
}

// actionInjectContext implements the inject_context verb (§4.3): produce
// a context string from one or more named sources, concatenating
// non-empty results of a list source with a blank line. If nothing
// resolves and require=true, return a block decision.
func (e *Engine) actionInjectContext(sessionID string, event *hooks.HookEvent, state *store.WorkflowState, args map[string]any) (*hooks.HookResponse, error) {
	sources := stringSlice(args["source"])
	var require bool
	if r, ok := args["require"].(bool); ok {
		require = r
	}

	var parts []string
	for _, source := range sources {
		text, err := e.resolveContextSource(sessionID, event, state, source, args)
		if err != nil {
			e.logf("inject_context: source %q error: %v", source, err)
			continue
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	text := strings.Join(parts, "\n\n")

	if text == "" && require {
		return &hooks.HookResponse{Decision: hooks.Deny, Reason: fmt.Sprintf("required context source(s) %v produced nothing", sources)}, nil
	}
	if text != "" {
		if err := e.store.WorkflowStates().SetContextInjected(sessionID, true); err != nil {
			return nil, err
		}
	}
	return &hooks.HookResponse{Decision: hooks.Allow, Context: text}, nil
}

func (e *Engine) resolveContextSource(sessionID string, event *hooks.HookEvent, state *store.WorkflowState, source string, args map[string]any) (string, error) {
	switch source {
	case "handoff", "previous_session_summary":
		sess, err := e.store.Sessions().Get(sessionID)
		if err != nil {
			return "", err
		}
		if sess.ParentSessionID == nil {
			return "", nil
		}
		parent, err := e.store.Sessions().Get(*sess.ParentSessionID)
		if err != nil {
			return "", err
		}
		return parent.SummaryMarkdown, nil
	case "compact_handoff":
		sess, err := e.store.Sessions().Get(sessionID)
		if err != nil {
			return "", err
		}
		return sess.CompactMarkdown, nil
	case "observations":
		var lines []string
		for _, obs := range state.Observations {
			lines = append(lines, fmt.Sprintf("- %v", obs))
		}
		return strings.Join(lines, "\n"), nil
	case "workflow_state":
		return fmt.Sprintf("step=%s variables=%v", state.Step, state.Variables), nil
	case "task_context":
		if event.TaskID == "" {
			return "", nil
		}
		task, err := e.store.Tasks().Get(event.TaskID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("## Active task: %s\n\n%s", task.Title, task.Description), nil
	case "skills":
		// Skill-library lookups are out of scope for the local store;
		// a filter="always_apply" request with nothing configured
		// resolves to empty, which is not an error.
		return "", nil
	case "memories":
		if _, ok := args["prompt_text"]; !ok {
			return "", fmt.Errorf("memories source requires prompt_text")
		}
		return "", nil
	default:
		return "", fmt.Errorf("unknown context source %q", source)
	}
}

// actionInjectMessage renders a template with session/state/variables and
// any extra kwargs in scope (§4.3).
func (e *Engine) actionInjectMessage(sessionID string, event *hooks.HookEvent, state *store.WorkflowState, args map[string]any) (*hooks.HookResponse, error) {
	content, _ := args["content"].(string)
	sess, err := e.store.Sessions().Get(sessionID)
	if err != nil {
		return nil, err
	}
	data := map[string]any{
		"session":           sess,
		"state":             state,
		"variables":         state.Variables,
		"step_action_count": len(state.Observations),
	}
	for k, v := range args {
		if k == "content" {
			continue
		}
		data[k] = v
	}
	rendered, err := RenderTemplate(sessionID+":inject_message", content, data)
	if err != nil {
		return nil, err
	}
	return &hooks.HookResponse{Decision: hooks.Allow, Context: rendered}, nil
}

// actionExtractHandoffContext reads the session transcript, summarizes
// it, enriches with git/worktree state, and stores the result on
// compact_markdown (§4.3).
func (e *Engine) actionExtractHandoffContext(sessionID string, event *hooks.HookEvent, state *store.WorkflowState, args map[string]any) (*hooks.HookResponse, error) {
	sess, err := e.store.Sessions().Get(sessionID)
	if err != nil {
		return nil, err
	}
	summary, err := summarizeTranscript(sess.JSONLPath)
	if err != nil {
		e.logf("extract_handoff_context: %v", err)
		summary = "(transcript unavailable)"
	}

	var worktreeNote string
	if wt, err := e.store.Worktrees().GetByTask(event.TaskID); err == nil {
		worktreeNote = fmt.Sprintf("\n\nActive worktree: `%s` on branch `%s`.", wt.WorktreePath, wt.BranchName)
	}

	markdown := fmt.Sprintf("## Compact handoff\n\n%s%s", summary, worktreeNote)
	if err := e.store.Sessions().UpdateCompactMarkdown(sessionID, markdown); err != nil {
		return nil, err
	}
	return &hooks.HookResponse{Decision: hooks.Allow}, nil
}

// actionGenerateHandoff writes the session's summary_markdown (normally
// LLM-backed; here a deterministic structural summary built from the
// session's own state, since no LLM client is wired into the engine) and
// flips the session to handoff_ready.
func (e *Engine) actionGenerateHandoff(sessionID string, event *hooks.HookEvent, state *store.WorkflowState, args map[string]any) (*hooks.HookResponse, error) {
	sess, err := e.store.Sessions().Get(sessionID)
	if err != nil {
		return nil, err
	}
	summary := sess.CompactMarkdown
	if summary == "" {
		summary = "## Session handoff\n\n(no compact handoff was generated for this session)"
	}
	if err := e.store.Sessions().UpdateSummaryMarkdown(sessionID, summary); err != nil {
		return nil, err
	}
	return &hooks.HookResponse{Decision: hooks.Allow}, nil
}

// actionOrchestrateReadyTasks delegates to the wired Orchestrator
// collaborator (§4.4); if none is wired, it fails open with a reason
// rather than erroring the hook pipeline.
func (e *Engine) actionOrchestrateReadyTasks(sessionID string, args map[string]any) (*hooks.HookResponse, error) {
	if e.orchestrator == nil {
		return &hooks.HookResponse{Decision: hooks.Allow, Reason: "orchestrator not configured"}, nil
	}
	params := map[string]any{}
	for k, v := range args {
		params[k] = v
	}
	if _, ok := params["parent_session_id"]; !ok {
		params["parent_session_id"] = sessionID
	}
	if _, err := e.orchestrator.OrchestrateReadyTasks(params); err != nil {
		return nil, err
	}
	return &hooks.HookResponse{Decision: hooks.Allow}, nil
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
