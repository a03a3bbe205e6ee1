package dispatch

import (
	"fmt"
	"path/filepath"

	"github.com/steveyegge/gobby/internal/hooks"
	"github.com/steveyegge/gobby/internal/store"
)

// resolveSession implements §4.2.2: in-memory cache lookup, then a
// locked store lookup, then auto-registration. It writes the resolved
// internal session ID into event.Metadata["_platform_session_id"] and
// populates event.TaskID from the session's active worked_on task.
func (d *Dispatcher) resolveSession(event *hooks.HookEvent) error {
	key := sessionKey{externalID: event.SessionID, source: string(event.Source), machineID: event.MachineID}

	d.lookupMu.Lock()
	if id, ok := d.sessionMap[key]; ok {
		d.lookupMu.Unlock()
		return d.populateMetadata(event, id)
	}

	if event.EventType != hooks.SessionStart {
		sess, err := d.store.Sessions().FindByExternalID(event.SessionID, string(event.Source), event.MachineID)
		if err == nil {
			d.sessionMap[key] = sess.ID
			d.lookupMu.Unlock()
			return d.populateMetadata(event, sess.ID)
		}
		if _, ok := err.(*store.NotFoundError); !ok {
			d.lookupMu.Unlock()
			return err
		}
	}

	id, err := d.registerSession(event)
	if err != nil {
		d.lookupMu.Unlock()
		return err
	}
	d.sessionMap[key] = id
	d.lookupMu.Unlock()
	return d.populateMetadata(event, id)
}

// registerSession auto-registers a never-before-seen session, resolving
// its project from event.Cwd via resolveProjectID (§4.2.2 step 3). The
// project is found or created as a store row keyed by the cwd path; no
// .gobby/project.json is read or written here.
func (d *Dispatcher) registerSession(event *hooks.HookEvent) (string, error) {
	projectID, err := d.resolveProjectID(event.Cwd)
	if err != nil {
		return "", fmt.Errorf("resolving project for cwd %q: %w", event.Cwd, err)
	}
	sess, err := d.store.Sessions().Register(event.SessionID, string(event.Source), event.MachineID, projectID, nil, "")
	if err != nil {
		return "", fmt.Errorf("registering session: %w", err)
	}
	return sess.ID, nil
}

// resolveProjectID maps a working directory to a project ID, creating
// the project row on first sight of that directory. internal/config
// owns the actual .gobby/project.json file; the store row is the
// source of truth for the ID.
func (d *Dispatcher) resolveProjectID(cwd string) (string, error) {
	if cwd == "" {
		return store.ReservedProjectOrphaned, nil
	}
	name := filepath.Base(cwd)
	proj, err := d.store.Projects().EnsureProject("", name, cwd)
	if err != nil {
		return "", err
	}
	return proj.ID, nil
}

func (d *Dispatcher) populateMetadata(event *hooks.HookEvent, internalSessionID string) error {
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	event.Metadata["_platform_session_id"] = internalSessionID

	link, err := d.store.Sessions().ActiveTask(internalSessionID)
	if err != nil {
		return err
	}
	if link == nil {
		return nil
	}
	event.TaskID = link.TaskID
	if task, err := d.store.Tasks().Get(link.TaskID); err == nil {
		event.Metadata["active_task_title"] = task.Title
	}
	return nil
}
