package orchestrator

import (
	"fmt"

	"github.com/steveyegge/gobby/internal/agentspawn"
)

// params is the parsed form of the action argument map orchestrate_ready_tasks
// receives (spec.md §4.4's input list).
type params struct {
	ProjectID       string
	ParentTaskRef   string
	ParentSessionID string
	Provider        string
	Model           string
	MaxConcurrent   int
	Mode            agentspawn.Mode
	ProjectPath     string
	BaseBranch      string
	DryRun          bool
}

func parseParams(raw map[string]any) (params, error) {
	p := params{}
	p.ProjectID, _ = raw["project_id"].(string)
	p.ParentTaskRef = stringParam(raw, "parent_task_id")
	p.ParentSessionID = stringParam(raw, "parent_session_id")
	if p.ParentSessionID == "" {
		return p, fmt.Errorf("parent_session_id is required")
	}
	if p.ParentTaskRef == "" {
		return p, fmt.Errorf("parent_task_id is required")
	}
	p.Provider, _ = raw["coding_provider"].(string)
	if p.Provider == "" {
		p.Provider, _ = raw["provider"].(string)
	}
	p.Model, _ = raw["coding_model"].(string)
	if p.Model == "" {
		p.Model, _ = raw["model"].(string)
	}
	p.ProjectPath = stringParam(raw, "project_path")
	p.BaseBranch = stringParam(raw, "base_branch")
	if m := stringParam(raw, "mode"); m != "" {
		p.Mode = agentspawn.Mode(m)
	}
	if v, ok := raw["max_concurrent"]; ok {
		p.MaxConcurrent = intParam(v)
	}
	if v, ok := raw["dry_run"]; ok {
		if b, ok := v.(bool); ok {
			p.DryRun = b
		}
	}
	return p, nil
}

func stringParam(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

func intParam(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// effectiveProvider implements §4.4 step 4's priority: explicit argument
// > parent session workflow variables > config default.
func (p params) effectiveProvider(cfg Config, parentVars map[string]any) string {
	if p.Provider != "" {
		return p.Provider
	}
	if v, ok := parentVars["coding_provider"].(string); ok && v != "" {
		return v
	}
	return cfg.DefaultProvider
}

func (p params) effectiveModel(cfg Config, parentVars map[string]any) string {
	if p.Model != "" {
		return p.Model
	}
	if v, ok := parentVars["coding_model"].(string); ok && v != "" {
		return v
	}
	return cfg.DefaultModel
}

// effectiveMode resolves the spawn mode the same way, keyed on the
// parent session's "terminal" variable per spec.md §4.4 step 4's list.
func (p params) effectiveMode(cfg Config, parentVars map[string]any) agentspawn.Mode {
	if p.Mode != "" {
		return p.Mode
	}
	if v, ok := parentVars["terminal"].(string); ok && v != "" {
		return agentspawn.Mode(v)
	}
	return cfg.DefaultMode
}

func (p params) effectiveMaxConcurrent(cfg Config, parentVars map[string]any) int {
	if p.MaxConcurrent > 0 {
		return p.MaxConcurrent
	}
	if v, ok := parentVars["max_concurrent"]; ok {
		if n := intParam(v); n > 0 {
			return n
		}
	}
	return cfg.DefaultMaxConcur
}
