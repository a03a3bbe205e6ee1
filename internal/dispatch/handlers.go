package dispatch

import (
	"fmt"
	"strings"

	"github.com/steveyegge/gobby/internal/hooks"
	"github.com/steveyegge/gobby/internal/store"
)

type handlerFunc func(d *Dispatcher, event *hooks.HookEvent) *hooks.HookResponse

// handlerTable maps each event type to its single handler (§4.2.3);
// event types absent here fall back to allow in dispatchWithWorkflow.
var handlerTable = map[hooks.EventType]handlerFunc{
	hooks.SessionStart:       (*Dispatcher).handleSessionStart,
	hooks.SessionEnd:         (*Dispatcher).handleSessionEnd,
	hooks.BeforeAgent:        (*Dispatcher).handleBeforeAgent,
	hooks.AfterAgent:         (*Dispatcher).handleAfterAgent,
	hooks.BeforeTool:         (*Dispatcher).handleBeforeTool,
	hooks.AfterTool:          (*Dispatcher).handleAfterTool,
	hooks.PreCompact:         (*Dispatcher).handleObservational,
	hooks.SubagentStart:      (*Dispatcher).handleObservational,
	hooks.SubagentStop:       (*Dispatcher).handleObservational,
	hooks.Notification:       (*Dispatcher).handleNotification,
	hooks.PermissionRequest:   (*Dispatcher).handleExtensionPoint,
	hooks.BeforeToolSelection: (*Dispatcher).handleExtensionPoint,
	hooks.BeforeModel:         (*Dispatcher).handleExtensionPoint,
	hooks.AfterModel:          (*Dispatcher).handleExtensionPoint,
}

func internalSessionID(event *hooks.HookEvent) (string, bool) {
	id, ok := event.Metadata["_platform_session_id"].(string)
	return id, ok && id != ""
}

// handleSessionStart registers/finds the session, restoring the most
// recent handoff-ready session for this (machine, source, project) when
// the trigger is "clear" (§4.2.4).
func (d *Dispatcher) handleSessionStart(event *hooks.HookEvent) *hooks.HookResponse {
	id, ok := internalSessionID(event)
	if !ok {
		return &hooks.HookResponse{Decision: hooks.Allow, Reason: "session could not be resolved"}
	}

	trigger, _ := event.Data["trigger"].(string)
	if trigger != "clear" {
		return &hooks.HookResponse{Decision: hooks.Allow}
	}

	sess, err := d.store.Sessions().Get(id)
	if err != nil {
		return &hooks.HookResponse{Decision: hooks.Allow}
	}
	parent, err := d.store.Sessions().FindParentSession(sess.MachineID, string(event.Source), sess.ProjectID)
	if err != nil {
		if _, ok := err.(*store.NotFoundError); !ok {
			d.logf("dispatch: find_parent_session error: %v", err)
		}
		return &hooks.HookResponse{Decision: hooks.Allow}
	}

	summary := parent.SummaryMarkdown
	if summary == "" {
		summary = fmt.Sprintf("(see %s.summary.md)", parent.ID)
	}
	if err := d.store.Sessions().MarkExpired(parent.ID); err != nil {
		d.logf("dispatch: failed to expire parent session %s: %v", parent.ID, err)
	}
	if err := d.store.Sessions().SetParentSession(id, parent.ID); err != nil {
		d.logf("dispatch: failed to set parent_session_id for %s: %v", id, err)
	}

	resp := &hooks.HookResponse{
		Decision:      hooks.Allow,
		Context:       "## Handoff from previous session\n\n" + summary,
		SystemMessage: "Restored context from your previous session.",
	}
	return resp
}

// handleSessionEnd invokes the session-handoff lifecycle; it makes no
// forced DB change of its own (§4.2.4). The workflow engine (via the
// "session-handoff" workflow's on_session_end trigger) performs whatever
// persistence is needed.
func (d *Dispatcher) handleSessionEnd(event *hooks.HookEvent) *hooks.HookResponse {
	return &hooks.HookResponse{Decision: hooks.Allow}
}

// handleBeforeAgent sets the session active unless the prompt is /clear
// or /exit, in which case the session-handoff lifecycle also fires
// (driven by the workflow engine's own trigger matching, not here).
func (d *Dispatcher) handleBeforeAgent(event *hooks.HookEvent) *hooks.HookResponse {
	id, ok := internalSessionID(event)
	if !ok {
		return &hooks.HookResponse{Decision: hooks.Allow}
	}
	prompt, _ := event.Data["prompt"].(string)
	trimmed := strings.TrimSpace(prompt)
	if trimmed != "/clear" && trimmed != "/exit" {
		if err := d.store.Sessions().UpdateStatus(id, store.SessionActive); err != nil {
			d.logf("dispatch: failed to mark session %s active: %v", id, err)
		}
	}
	return &hooks.HookResponse{Decision: hooks.Allow}
}

// handleAfterAgent sets the session paused (§4.2.4).
func (d *Dispatcher) handleAfterAgent(event *hooks.HookEvent) *hooks.HookResponse {
	if id, ok := internalSessionID(event); ok {
		if err := d.store.Sessions().UpdateStatus(id, store.SessionPaused); err != nil {
			d.logf("dispatch: failed to mark session %s paused: %v", id, err)
		}
	}
	return &hooks.HookResponse{Decision: hooks.Allow}
}

// handleBeforeTool is currently a pass-through extension point for
// workflow policy (§4.2.4).
func (d *Dispatcher) handleBeforeTool(event *hooks.HookEvent) *hooks.HookResponse {
	return &hooks.HookResponse{Decision: hooks.Allow}
}

// handleAfterTool observes only, propagating the failure flag the
// adapter placed in metadata.
func (d *Dispatcher) handleAfterTool(event *hooks.HookEvent) *hooks.HookResponse {
	if failed, _ := event.Metadata["is_failure"].(bool); failed {
		d.logf("dispatch: tool failure observed for session %s", event.SessionID)
	}
	return &hooks.HookResponse{Decision: hooks.Allow}
}

// handleNotification sets the session paused (§4.2.4).
func (d *Dispatcher) handleNotification(event *hooks.HookEvent) *hooks.HookResponse {
	if id, ok := internalSessionID(event); ok {
		if err := d.store.Sessions().UpdateStatus(id, store.SessionPaused); err != nil {
			d.logf("dispatch: failed to mark session %s paused: %v", id, err)
		}
	}
	return &hooks.HookResponse{Decision: hooks.Allow}
}

// handleObservational covers PRE_COMPACT/SUBAGENT_START/SUBAGENT_STOP:
// no state change beyond logging (§4.2.4).
func (d *Dispatcher) handleObservational(event *hooks.HookEvent) *hooks.HookResponse {
	d.logf("dispatch: observed %s for session %s", event.EventType, event.SessionID)
	return &hooks.HookResponse{Decision: hooks.Allow}
}

// handleExtensionPoint covers PERMISSION_REQUEST/BEFORE_TOOL_SELECTION/
// BEFORE_MODEL/AFTER_MODEL: allow by default, extension points for
// future workflow policy (§4.2.4).
func (d *Dispatcher) handleExtensionPoint(event *hooks.HookEvent) *hooks.HookResponse {
	return &hooks.HookResponse{Decision: hooks.Allow}
}
