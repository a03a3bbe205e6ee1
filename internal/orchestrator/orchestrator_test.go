package orchestrator

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/gobby/internal/agentspawn"
	"github.com/steveyegge/gobby/internal/store"
	"github.com/steveyegge/gobby/internal/worktree"
)

// initGitRepo creates a minimal git repo with one commit on its default
// branch, so WorktreeAddFromRef has a valid start point.
func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	run("commit", "--allow-empty", "-q", "-m", "initial")
	return dir
}

func newTestOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *store.Store, string, *store.Session) {
	t.Helper()
	s, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	repoDir := initGitRepo(t)
	proj, err := s.Projects().EnsureProject("", "demo", repoDir)
	require.NoError(t, err)

	sess, err := s.Sessions().Register("ext-parent", "claude", "machine-a", proj.ID, nil, "/tmp/parent.jsonl")
	require.NoError(t, err)

	o := New(s, agentspawn.NewRegistry(), nil, cfg)
	return o, s, proj.ID, sess
}

func TestOrchestrateSpawnsReadyChild(t *testing.T) {
	o, s, projID, sess := newTestOrchestrator(t, Config{DefaultMode: agentspawn.ModeHeadless})

	parent, err := s.Tasks().CreateTask(store.CreateTaskOptions{ProjectID: projID, Title: "parent"})
	require.NoError(t, err)
	child, err := s.Tasks().CreateTask(store.CreateTaskOptions{ProjectID: projID, ParentTaskID: &parent.ID, Title: "child"})
	require.NoError(t, err)

	result, err := o.OrchestrateReadyTasks(map[string]any{
		"project_id":        projID,
		"parent_task_id":    parent.ID,
		"parent_session_id": sess.ID,
		"provider":          "true", // run the real "true" binary, like agentspawn's own tests
		"mode":              "headless",
		"max_concurrent":    3,
	})
	require.NoError(t, err)
	assert.True(t, result["success"].(bool))
	assert.Equal(t, 1, result["spawned_count"])
	assert.Equal(t, 0, result["skipped_count"])

	updatedChild, err := s.Tasks().Get(child.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskInProgress, updatedChild.Status)

	state, err := s.WorkflowStates().Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, state.ReservedSlots, "all reservations released after the batch")
	assert.Len(t, state.SpawnedAgents, 1)
}

func TestOrchestrateDryRunReleasesSlotsWithoutSpawning(t *testing.T) {
	o, s, projID, sess := newTestOrchestrator(t, Config{})

	parent, err := s.Tasks().CreateTask(store.CreateTaskOptions{ProjectID: projID, Title: "parent"})
	require.NoError(t, err)
	_, err = s.Tasks().CreateTask(store.CreateTaskOptions{ProjectID: projID, ParentTaskID: &parent.ID, Title: "child"})
	require.NoError(t, err)

	result, err := o.OrchestrateReadyTasks(map[string]any{
		"project_id":        projID,
		"parent_task_id":    parent.ID,
		"parent_session_id": sess.ID,
		"dry_run":           true,
	})
	require.NoError(t, err)
	assert.True(t, result["dry_run"].(bool))
	planned, ok := result["planned"].([]planEntry)
	require.True(t, ok)
	assert.Len(t, planned, 1)

	state, err := s.WorkflowStates().Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, state.ReservedSlots)
	assert.Empty(t, state.SpawnedAgents)
}

func TestOrchestrateSkipsWhenSpawnDepthExceeded(t *testing.T) {
	o, s, projID, sess := newTestOrchestrator(t, Config{DefaultMode: agentspawn.ModeHeadless, MaxSpawnDepth: 1})

	require.NoError(t, s.WorkflowStates().MergeVariables(sess.ID, map[string]any{"spawn_depth": 1}))

	parent, err := s.Tasks().CreateTask(store.CreateTaskOptions{ProjectID: projID, Title: "parent"})
	require.NoError(t, err)
	_, err = s.Tasks().CreateTask(store.CreateTaskOptions{ProjectID: projID, ParentTaskID: &parent.ID, Title: "child"})
	require.NoError(t, err)

	result, err := o.OrchestrateReadyTasks(map[string]any{
		"project_id":        projID,
		"parent_task_id":    parent.ID,
		"parent_session_id": sess.ID,
		"provider":          "true",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result["spawned_count"])
	assert.Equal(t, 1, result["skipped_count"])
	skipped := result["skipped"].([]SkipEntry)
	assert.Contains(t, skipped[0].Reason, "spawn depth limit")
}

func TestOrchestrateCapsAtMaxConcurrent(t *testing.T) {
	o, s, projID, sess := newTestOrchestrator(t, Config{DefaultMode: agentspawn.ModeHeadless})

	parent, err := s.Tasks().CreateTask(store.CreateTaskOptions{ProjectID: projID, Title: "parent"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := s.Tasks().CreateTask(store.CreateTaskOptions{ProjectID: projID, ParentTaskID: &parent.ID, Title: "child"})
		require.NoError(t, err)
	}

	result, err := o.OrchestrateReadyTasks(map[string]any{
		"project_id":        projID,
		"parent_task_id":    parent.ID,
		"parent_session_id": sess.ID,
		"provider":          "true",
		"mode":              "headless",
		"max_concurrent":    2,
	})
	require.NoError(t, err)
	assert.True(t, result["success"].(bool))
	assert.Equal(t, 2, result["spawned_count"])
	assert.Equal(t, 3, result["skipped_count"])
	skipped := result["skipped"].([]SkipEntry)
	require.Len(t, skipped, 3)
	for _, sk := range skipped {
		assert.Equal(t, "max_concurrent limit reached", sk.Reason)
	}

	state, err := s.WorkflowStates().Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, state.ReservedSlots, "all reservations released after the batch")

	// A second call while the first two agents still hold their
	// worktrees: the two in-progress children are still ready descendants
	// (not closed, unblocked) and take the two granted slots, but each is
	// skipped because its worktree already has an active agent, so nothing
	// new is spawned and all 5 children are reported as skipped.
	result, err = o.OrchestrateReadyTasks(map[string]any{
		"project_id":        projID,
		"parent_task_id":    parent.ID,
		"parent_session_id": sess.ID,
		"provider":          "true",
		"mode":              "headless",
		"max_concurrent":    2,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result["spawned_count"])
	assert.Equal(t, 5, result["skipped_count"])
}

func TestResolveWorktreeHelper(t *testing.T) {
	repoDir := initGitRepo(t)
	repo := worktree.Open(repoDir)
	assert.NotEmpty(t, repo.GetDefaultBranch())
}
