// Package orchestrator implements orchestrate_ready_tasks (spec.md §4.4):
// given a parent task, it reserves concurrency slots, creates or reuses a
// git worktree per ready descendant, and spawns an agent for each one,
// rolling back worktree/session state on any failure along the way.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/gobby/internal/agentspawn"
	"github.com/steveyegge/gobby/internal/store"
	"github.com/steveyegge/gobby/internal/worktree"
)

// Config carries the orchestrator's defaults, overridden per-call by
// explicit params or parent-session workflow variables (§4.4 step 4).
type Config struct {
	DefaultProvider    string
	DefaultModel       string
	DefaultMaxConcur   int
	DefaultMode        agentspawn.Mode
	DefaultBaseBranch  string
	MaxSpawnDepth      int
	SpawnTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultProvider == "" {
		c.DefaultProvider = "claude"
	}
	if c.DefaultMaxConcur == 0 {
		c.DefaultMaxConcur = 3
	}
	if c.DefaultMode == "" {
		c.DefaultMode = agentspawn.ModeHeadless
	}
	if c.DefaultBaseBranch == "" {
		c.DefaultBaseBranch = "main"
	}
	if c.MaxSpawnDepth == 0 {
		c.MaxSpawnDepth = 3
	}
	if c.SpawnTimeout == 0 {
		c.SpawnTimeout = 30 * time.Second
	}
	return c
}

// RepoOpener resolves a project's primary checkout to a worktree.Repo so
// the orchestrator never hardcodes a single repository.
type RepoOpener func(projectRootPath string) *worktree.Repo

// Orchestrator implements workflow.Orchestrator (§4.4).
type Orchestrator struct {
	store      *store.Store
	spawner    *agentspawn.Registry
	openRepo   RepoOpener
	cfg        Config
}

// New constructs an Orchestrator. openRepo defaults to worktree.Open when nil.
func New(s *store.Store, spawner *agentspawn.Registry, openRepo RepoOpener, cfg Config) *Orchestrator {
	if openRepo == nil {
		openRepo = worktree.Open
	}
	return &Orchestrator{store: s, spawner: spawner, openRepo: openRepo, cfg: cfg.withDefaults()}
}

// SkipEntry records one ready descendant that was not spawned (§4.4 "a
// single bad task never aborts the batch" — failures accumulate here).
type SkipEntry struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// planEntry is the rendered-plan shape returned for dry_run (§4.4 step 5).
type planEntry struct {
	TaskID     string `json:"task_id"`
	BranchName string `json:"branch_name"`
	Prompt     string `json:"prompt"`
}

// OrchestrateReadyTasks implements the workflow.Orchestrator interface.
// params mirrors spec.md §4.4's input list; see parseParams.
func (o *Orchestrator) OrchestrateReadyTasks(params map[string]any) (map[string]any, error) {
	p, err := parseParams(params)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error(), "spawned": []any{}, "skipped": []any{}}, nil
	}

	// Step 1: resolve parent_task_id.
	parent, err := o.store.Tasks().ResolveRef(p.ProjectID, p.ParentTaskRef)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error(), "spawned": []any{}, "skipped": []any{}}, nil
	}

	// Step 2: gather ready descendants.
	ready, err := o.store.Tasks().ReadyDescendants(parent.ID)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error(), "spawned": []any{}, "skipped": []any{}}, nil
	}

	// Step 4: provider/model priority is explicit argument > parent
	// session's workflow variables > defaults. Fetch the parent's
	// variables once, up front, since both slot sizing and per-task
	// spawning need them.
	parentState, err := o.store.WorkflowStates().Get(p.ParentSessionID)
	if err != nil {
		return nil, err
	}
	maxConcurrent := p.effectiveMaxConcurrent(o.cfg, parentState.Variables)

	// Step 3: atomic slot reservation. A partial grant is expected, not an
	// error: only min(len(ready), max_concurrent-in_use) slots are
	// reserved, and whatever wasn't granted is reported as skipped below
	// (§8 scenario 3: max_concurrent=2, 5 ready → 2 spawned, 3 skipped).
	granted, err := o.store.WorkflowStates().CheckAndReserveSlots(p.ParentSessionID, len(ready), maxConcurrent)
	if err != nil {
		return nil, err
	}
	tasksToRun := ready[:granted]
	var skipped []SkipEntry
	for _, task := range ready[granted:] {
		skipped = append(skipped, SkipEntry{TaskID: task.ID, Reason: "max_concurrent limit reached"})
	}

	provider := p.effectiveProvider(o.cfg, parentState.Variables)
	model := p.effectiveModel(o.cfg, parentState.Variables)
	mode := p.effectiveMode(o.cfg, parentState.Variables)
	baseBranch := p.BaseBranch

	project, err := o.store.Projects().Get(p.ProjectID)
	if err != nil {
		o.releaseReservation(p.ParentSessionID, granted)
		return nil, err
	}
	repo := o.openRepo(project.RootPath)
	if baseBranch == "" {
		baseBranch = repo.GetDefaultBranch()
	}

	// Step 5: dry_run — build the plan and release slots without side effects.
	if p.DryRun {
		planned := make([]planEntry, 0, len(tasksToRun))
		for _, task := range tasksToRun {
			branch := worktree.BranchForTask(task.ID)
			planned = append(planned, planEntry{
				TaskID:     task.ID,
				BranchName: branch,
				Prompt:     buildPrompt(task),
			})
		}
		if err := o.store.WorkflowStates().ReleaseSlots(p.ParentSessionID, granted); err != nil {
			return nil, err
		}
		return map[string]any{
			"dry_run": true,
			"planned": planned,
			"skipped": skipped,
		}, nil
	}

	// Step 6: spawn each reserved task in order.
	var spawned []store.SpawnedAgent

	for _, task := range tasksToRun {
		entry, skip, err := o.spawnOne(repo, project, task, p, provider, model, mode, baseBranch)
		if err != nil {
			return nil, err
		}
		if skip != nil {
			skipped = append(skipped, *skip)
			continue
		}
		spawned = append(spawned, *entry)
	}

	// Step 7: atomically append spawned entries and release all reservations.
	for _, agent := range spawned {
		if err := o.store.WorkflowStates().AppendSpawnedAgent(p.ParentSessionID, agent); err != nil {
			return nil, err
		}
	}
	if err := o.store.WorkflowStates().ReleaseSlots(p.ParentSessionID, granted); err != nil {
		return nil, err
	}

	return map[string]any{
		"success":        true,
		"parent_task_id": parent.ID,
		"spawned":        spawned,
		"skipped":        skipped,
		"spawned_count":  len(spawned),
		"skipped_count":  len(skipped),
		"max_concurrent": maxConcurrent,
	}, nil
}

// releaseReservation is a defensive cleanup for the rare case where an
// unrelated store failure occurs after slots were reserved but before any
// task-level rollback logic would otherwise release them.
func (o *Orchestrator) releaseReservation(sessionID string, reserved int) {
	_ = o.store.WorkflowStates().ReleaseSlots(sessionID, reserved)
}

// spawnOne runs §4.4 step 6's sub-steps (a) and (c) through (h) for a
// single ready task. The worktree does not receive a copy of
// .gobby/project.json, and no provider hooks are installed in it. It returns either a SpawnedAgent (success) or a SkipEntry
// (failure), never both, and only a non-nil error on an unrecoverable
// store failure (not an ordinary spawn failure, which is a skip).
func (o *Orchestrator) spawnOne(repo *worktree.Repo, project *store.Project, task *store.Task, p params, provider, model string, mode agentspawn.Mode, baseBranch string) (*store.SpawnedAgent, *SkipEntry, error) {
	branch := worktree.BranchForTask(task.ID)

	// step a: determine/create the worktree.
	wt, newlyCreated, err := o.determineWorktree(repo, project.ID, project.Name, task.ID, branch, baseBranch)
	if err != nil {
		if skip, ok := err.(skipReason); ok {
			return nil, &SkipEntry{TaskID: task.ID, Reason: string(skip)}, nil
		}
		return nil, &SkipEntry{TaskID: task.ID, Reason: fmt.Sprintf("worktree: %v", err)}, nil
	}

	rollbackWorktree := func() {
		if newlyCreated {
			_ = repo.WorktreeRemove(wt.WorktreePath, wt.BranchName, true)
			_ = o.store.Worktrees().Delete(wt.ID)
		}
	}

	// step d: spawn depth check.
	depth, err := o.spawnDepth(p.ParentSessionID)
	if err != nil {
		rollbackWorktree()
		return nil, &SkipEntry{TaskID: task.ID, Reason: fmt.Sprintf("spawn depth check: %v", err)}, nil
	}
	if depth >= o.cfg.MaxSpawnDepth {
		rollbackWorktree()
		return nil, &SkipEntry{TaskID: task.ID, Reason: fmt.Sprintf("spawn depth limit reached (%d/%d)", depth, o.cfg.MaxSpawnDepth)}, nil
	}

	// step c: build the prompt.
	prompt := buildPrompt(task)

	// step e: prepare a child session.
	childSession, err := o.store.Sessions().Register("", "orchestrator", "local", project.ID, &p.ParentSessionID, "")
	if err != nil {
		rollbackWorktree()
		return nil, &SkipEntry{TaskID: task.ID, Reason: fmt.Sprintf("session prep: %v", err)}, nil
	}
	if err := o.store.WorkflowStates().MergeVariables(childSession.ID, map[string]any{
		"spawn_depth":     depth + 1,
		"coding_provider": provider,
		"coding_model":    model,
	}); err != nil {
		rollbackWorktree()
		return nil, &SkipEntry{TaskID: task.ID, Reason: fmt.Sprintf("session prep: %v", err)}, nil
	}
	if err := o.store.Sessions().LinkTask(childSession.ID, task.ID, "worked_on"); err != nil {
		rollbackWorktree()
		return nil, &SkipEntry{TaskID: task.ID, Reason: fmt.Sprintf("session prep: %v", err)}, nil
	}

	// step f: claim the worktree for the child session.
	claimed, err := o.store.Worktrees().Claim(project.ID, branch, wt.WorktreePath, baseBranch, &task.ID, &childSession.ID)
	if err != nil {
		rollbackWorktree()
		return nil, &SkipEntry{TaskID: task.ID, Reason: fmt.Sprintf("worktree claim: %v", err)}, nil
	}

	// step g: call the spawner for the configured mode.
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.SpawnTimeout)
	defer cancel()
	result, err := o.spawner.Spawn(ctx, mode, agentspawn.Request{
		CLI:       provider,
		Cwd:       wt.WorktreePath,
		SessionID: childSession.ID,
		Prompt:    prompt,
	})
	if err != nil || !result.Success {
		_ = o.store.Worktrees().Release(claimed.ID)
		rollbackWorktree()
		reason := result.Error
		if reason == "" && err != nil {
			reason = err.Error()
		}
		return nil, &SkipEntry{TaskID: task.ID, Reason: fmt.Sprintf("spawn failed: %s", reason)}, nil
	}

	// step h: mark the task in_progress and record the spawn.
	if _, err := o.store.Tasks().UpdateTask(task.ID, store.UpdateTaskFields{Status: strPtr(store.TaskInProgress)}); err != nil {
		return nil, nil, err
	}

	return &store.SpawnedAgent{
		TaskID:     task.ID,
		AgentID:    fmt.Sprintf("%s-%d", task.ID, result.PID),
		SessionID:  childSession.ID,
		WorktreeID: claimed.ID,
		BranchName: branch,
	}, nil, nil
}

// skipReason marks an error that should become a skip entry verbatim
// rather than be wrapped with additional context.
type skipReason string

func (s skipReason) Error() string { return string(s) }

// determineWorktree implements §4.4 step 6a's four-way branch: skip if an
// active agent already holds this task's (or branch's) worktree, reuse a
// free one, or create a new one.
func (o *Orchestrator) determineWorktree(repo *worktree.Repo, projectID, projectName, taskID, branch, baseBranch string) (*store.Worktree, bool, error) {
	if existing, err := o.store.Worktrees().GetByTask(taskID); err == nil {
		if existing.AgentSessionID != nil {
			return nil, false, skipReason(fmt.Sprintf("task %s already has an active agent in worktree %s", taskID, existing.WorktreePath))
		}
		return existing, false, nil
	} else if _, ok := err.(*store.NotFoundError); !ok {
		return nil, false, err
	}

	if existing, err := o.store.Worktrees().GetByBranch(projectID, branch); err == nil {
		if existing.AgentSessionID != nil {
			return nil, false, skipReason(fmt.Sprintf("branch %s already has an active agent in worktree %s", branch, existing.WorktreePath))
		}
		return existing, false, nil
	} else if _, ok := err.(*store.NotFoundError); !ok {
		return nil, false, err
	}

	path := worktree.BaseDir(projectName, branch)
	if err := repo.WorktreeAddFromRef(path, branch, baseBranch); err != nil {
		return nil, false, err
	}
	created, err := o.store.Worktrees().Claim(projectID, branch, path, baseBranch, &taskID, nil)
	if err != nil {
		_ = repo.WorktreeRemove(path, branch, true)
		return nil, false, err
	}
	return created, true, nil
}

// spawnDepth walks the parent_session_id chain's workflow variables,
// generalizing goclaw's flat subagent.Manager depth counter
// (other_examples' internal/tools/subagent.go tracks task.Depth against
// a configured MaxSpawnDepth) to Gobby's recursive session chain: each
// child session's workflow state carries its own spawn_depth, written by
// spawnOne, so this is just a read of the immediate parent's value.
func (o *Orchestrator) spawnDepth(parentSessionID string) (int, error) {
	state, err := o.store.WorkflowStates().Get(parentSessionID)
	if err != nil {
		return 0, err
	}
	if v, ok := state.Variables["spawn_depth"]; ok {
		switch n := v.(type) {
		case int:
			return n, nil
		case float64:
			return int(n), nil
		}
	}
	return 0, nil
}

// buildPrompt renders the boilerplate agent prompt (§4.4 step 6c): title,
// id, description, category, validation criteria, and instructions to
// commit with "[task_id]" and close via close_task(commit_sha=...).
func buildPrompt(task *store.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task %s: %s\n\n", shortRef(task), task.Title)
	fmt.Fprintf(&b, "%s\n\n", task.Description)
	fmt.Fprintf(&b, "Category: %s\n", task.TaskType)
	if task.ValidationStatus != "" {
		fmt.Fprintf(&b, "Validation criteria: %s\n", task.ValidationStatus)
	}
	b.WriteString("\nWhen you commit work for this task, include `[" + task.ID + "]` in the commit message.\n")
	b.WriteString("When the task is complete, call close_task(commit_sha=<your commit's SHA>).\n")
	return b.String()
}

func shortRef(task *store.Task) string {
	if task.PathCache != "" {
		return task.PathCache
	}
	return fmt.Sprintf("#%d", task.SeqNum)
}

func strPtr(s string) *string { return &s }
