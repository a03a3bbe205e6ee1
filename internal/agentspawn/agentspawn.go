// Package agentspawn implements Gobby's spawn_agent collaborator
// interface (spec.md §1: "spawn_agent(cli, cwd, session_id, prompt, ...)
// -> {success, pid?, error?}"), generalizing gastown's polecat session
// launch (internal/polecat/session_manager.go) from tmux-specific
// session management to the spec's three spawn modes.
package agentspawn

import (
	"context"
	"fmt"
)

// Mode is one of the three spawn strategies named in spec.md §4.4 step g.
type Mode string

const (
	ModeTerminal Mode = "terminal"
	ModeEmbedded Mode = "embedded"
	ModeHeadless Mode = "headless"
)

// Request describes one agent to spawn.
type Request struct {
	CLI       string // e.g. "claude", "gemini", "codex"
	Cwd       string
	SessionID string
	Prompt    string
	Env       map[string]string
}

// Result mirrors spec.md §1's "{success, pid?, error?}" contract.
type Result struct {
	Success bool
	PID     int
	Error   string
}

// Spawner launches one agent process for a given mode.
type Spawner interface {
	Spawn(ctx context.Context, req Request) (Result, error)
}

// Registry dispatches to the correct Spawner by mode (spec.md §4.4 step
// g: "call the correct spawner depending on mode").
type Registry struct {
	spawners map[Mode]Spawner
}

// NewRegistry builds the default registry wiring all three spawners.
func NewRegistry() *Registry {
	return &Registry{
		spawners: map[Mode]Spawner{
			ModeTerminal: &TerminalSpawner{},
			ModeEmbedded: &EmbeddedSpawner{},
			ModeHeadless: &HeadlessSpawner{},
		},
	}
}

// Spawn dispatches req to the spawner registered for mode.
func (r *Registry) Spawn(ctx context.Context, mode Mode, req Request) (Result, error) {
	s, ok := r.spawners[mode]
	if !ok {
		return Result{}, fmt.Errorf("agentspawn: unknown mode %q", mode)
	}
	return s.Spawn(ctx, req)
}

// commandFor builds the CLI invocation for a named agent. Each CLI's
// own adapter (internal/hooks) already knows its hook vocabulary; here
// we only need the shell command that starts it with a prompt.
func commandFor(req Request) (string, []string) {
	switch req.CLI {
	case "claude":
		return "claude", []string{req.Prompt}
	case "gemini":
		return "gemini", []string{"-i", req.Prompt}
	case "codex":
		return "codex", []string{req.Prompt}
	case "antigravity":
		return "antigravity", []string{req.Prompt}
	default:
		return req.CLI, []string{req.Prompt}
	}
}

func mergedEnv(extra map[string]string) []string {
	env := make([]string, 0, len(extra))
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
