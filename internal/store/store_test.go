package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenSeedsSystemProjects(t *testing.T) {
	s := newTestStore(t)
	projects, err := s.Projects().List()
	require.NoError(t, err)
	require.Len(t, projects, 1, "only _personal is listed; _orphaned and _migrated are hidden")
	assert.Equal(t, "Personal", projects[0].Name)

	proj, err := s.Projects().Get(ReservedProjectOrphaned)
	require.NoError(t, err)
	assert.True(t, proj.Hidden)
}

func TestProjectsCannotDeleteReserved(t *testing.T) {
	s := newTestStore(t)
	err := s.Projects().Delete(ReservedProjectOrphaned)
	require.Error(t, err)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestSessionRegisterIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	proj, err := s.Projects().EnsureProject("", "demo", "/tmp/demo")
	require.NoError(t, err)

	first, err := s.Sessions().Register("ext-1", "claude", "machine-a", proj.ID, nil, "/tmp/a.jsonl")
	require.NoError(t, err)

	second, err := s.Sessions().Register("ext-1", "claude", "machine-a", proj.ID, nil, "/tmp/a.jsonl")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestSessionHandoffLifecycle(t *testing.T) {
	s := newTestStore(t)
	proj, err := s.Projects().EnsureProject("", "demo", "/tmp/demo")
	require.NoError(t, err)

	sess, err := s.Sessions().Register("ext-2", "claude", "machine-a", proj.ID, nil, "/tmp/b.jsonl")
	require.NoError(t, err)

	require.NoError(t, s.Sessions().UpdateSummaryMarkdown(sess.ID, "## summary"))

	parent, err := s.Sessions().FindParentSession("machine-a", "claude", proj.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, parent.ID)
	assert.Equal(t, SessionHandoffReady, parent.Status)
}

func TestSetParentSessionLinksChain(t *testing.T) {
	s := newTestStore(t)
	proj, err := s.Projects().EnsureProject("", "demo", "/tmp/demo")
	require.NoError(t, err)

	s1, err := s.Sessions().Register("ext-5", "claude", "machine-a", proj.ID, nil, "")
	require.NoError(t, err)
	s2, err := s.Sessions().Register("ext-6", "claude", "machine-a", proj.ID, nil, "")
	require.NoError(t, err)
	assert.Nil(t, s2.ParentSessionID)

	require.NoError(t, s.Sessions().SetParentSession(s2.ID, s1.ID))

	updated, err := s.Sessions().Get(s2.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.ParentSessionID)
	assert.Equal(t, s1.ID, *updated.ParentSessionID)
}

func TestTaskCreateAssignsPathCache(t *testing.T) {
	s := newTestStore(t)
	proj, err := s.Projects().EnsureProject("", "demo", "/tmp/demo")
	require.NoError(t, err)

	parent, err := s.Tasks().CreateTask(CreateTaskOptions{ProjectID: proj.ID, Title: "parent"})
	require.NoError(t, err)
	assert.Equal(t, "1", parent.PathCache)

	child, err := s.Tasks().CreateTask(CreateTaskOptions{ProjectID: proj.ID, ParentTaskID: &parent.ID, Title: "child"})
	require.NoError(t, err)
	assert.Equal(t, "1.2", child.PathCache)
}

func TestCloseTaskRejectsOpenChildren(t *testing.T) {
	s := newTestStore(t)
	proj, err := s.Projects().EnsureProject("", "demo", "/tmp/demo")
	require.NoError(t, err)

	parent, err := s.Tasks().CreateTask(CreateTaskOptions{ProjectID: proj.ID, Title: "parent"})
	require.NoError(t, err)
	_, err = s.Tasks().CreateTask(CreateTaskOptions{ProjectID: proj.ID, ParentTaskID: &parent.ID, Title: "child"})
	require.NoError(t, err)

	_, err = s.Tasks().CloseTask(parent.ID, "done", "", nil, false)
	require.Error(t, err)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)

	closed, err := s.Tasks().CloseTask(parent.ID, "done", "", nil, true)
	require.NoError(t, err)
	assert.Equal(t, TaskClosed, closed.Status)
	assert.NotNil(t, closed.ClosedAt)
}

func TestReopenTaskAppendsReason(t *testing.T) {
	s := newTestStore(t)
	proj, err := s.Projects().EnsureProject("", "demo", "/tmp/demo")
	require.NoError(t, err)

	task, err := s.Tasks().CreateTask(CreateTaskOptions{ProjectID: proj.ID, Title: "t", Description: "orig"})
	require.NoError(t, err)
	_, err = s.Tasks().CloseTask(task.ID, "done", "", nil, false)
	require.NoError(t, err)

	reopened, err := s.Tasks().ReopenTask(task.ID, "needs more work")
	require.NoError(t, err)
	assert.Equal(t, TaskOpen, reopened.Status)
	assert.Nil(t, reopened.ClosedAt)
	assert.Contains(t, reopened.Description, "[Reopened: needs more work]")
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	s := newTestStore(t)
	proj, err := s.Projects().EnsureProject("", "demo", "/tmp/demo")
	require.NoError(t, err)

	a, err := s.Tasks().CreateTask(CreateTaskOptions{ProjectID: proj.ID, Title: "a"})
	require.NoError(t, err)
	b, err := s.Tasks().CreateTask(CreateTaskOptions{ProjectID: proj.ID, Title: "b"})
	require.NoError(t, err)

	require.NoError(t, s.Tasks().AddDependency(a.ID, b.ID, DepBlocks))
	err = s.Tasks().AddDependency(b.ID, a.ID, DepBlocks)
	require.Error(t, err)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestListReadyExcludesBlockedTasks(t *testing.T) {
	s := newTestStore(t)
	proj, err := s.Projects().EnsureProject("", "demo", "/tmp/demo")
	require.NoError(t, err)

	blocker, err := s.Tasks().CreateTask(CreateTaskOptions{ProjectID: proj.ID, Title: "blocker"})
	require.NoError(t, err)
	blocked, err := s.Tasks().CreateTask(CreateTaskOptions{ProjectID: proj.ID, Title: "blocked"})
	require.NoError(t, err)
	require.NoError(t, s.Tasks().AddDependency(blocked.ID, blocker.ID, DepBlocks))

	ready, err := s.Tasks().ListReady(ListReadyOptions{ProjectID: proj.ID})
	require.NoError(t, err)
	ids := make([]string, len(ready))
	for i, tk := range ready {
		ids[i] = tk.ID
	}
	assert.Contains(t, ids, blocker.ID)
	assert.NotContains(t, ids, blocked.ID)

	_, err = s.Tasks().CloseTask(blocker.ID, "done", "", nil, false)
	require.NoError(t, err)

	ready, err = s.Tasks().ListReady(ListReadyOptions{ProjectID: proj.ID})
	require.NoError(t, err)
	ids = ids[:0]
	for _, tk := range ready {
		ids = append(ids, tk.ID)
	}
	assert.Contains(t, ids, blocked.ID)
}

func TestWorktreeClaimIsIdempotentPerBranch(t *testing.T) {
	s := newTestStore(t)
	proj, err := s.Projects().EnsureProject("", "demo", "/tmp/demo")
	require.NoError(t, err)

	first, err := s.Worktrees().Claim(proj.ID, "feature/x", "/tmp/wt/x", "main", nil, nil)
	require.NoError(t, err)

	second, err := s.Worktrees().Claim(proj.ID, "feature/x", "/tmp/wt/x-other", "main", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "an active claim on the same branch is reused, not duplicated")

	require.NoError(t, s.Worktrees().Release(first.ID))
	third, err := s.Worktrees().Claim(proj.ID, "feature/x", "/tmp/wt/x-again", "main", nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID, "releasing frees the branch slot for a fresh claim")
}

func TestCheckAndReserveSlotsEnforcesMax(t *testing.T) {
	s := newTestStore(t)
	proj, err := s.Projects().EnsureProject("", "demo", "/tmp/demo")
	require.NoError(t, err)
	sess, err := s.Sessions().Register("ext-3", "claude", "machine-a", proj.ID, nil, "")
	require.NoError(t, err)

	granted, err := s.WorkflowStates().CheckAndReserveSlots(sess.ID, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, granted)

	// Only 1 of the 3 max_concurrent slots remains; the request for 2
	// more is partially granted, not rejected outright.
	granted, err = s.WorkflowStates().CheckAndReserveSlots(sess.ID, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, granted)

	// Capacity is now fully reserved (3/3): nothing more can be granted.
	granted, err = s.WorkflowStates().CheckAndReserveSlots(sess.ID, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, granted)

	require.NoError(t, s.WorkflowStates().ReleaseSlots(sess.ID, 3))
	granted, err = s.WorkflowStates().CheckAndReserveSlots(sess.ID, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, granted)
}

func TestReconcileOnStartupClearsLeakedSlots(t *testing.T) {
	s := newTestStore(t)
	proj, err := s.Projects().EnsureProject("", "demo", "/tmp/demo")
	require.NoError(t, err)
	sess, err := s.Sessions().Register("ext-4", "claude", "machine-a", proj.ID, nil, "")
	require.NoError(t, err)

	_, err = s.WorkflowStates().CheckAndReserveSlots(sess.ID, 2, 5)
	require.NoError(t, err)

	require.NoError(t, s.reconcileOnStartup())
	state, err := s.WorkflowStates().Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, state.ReservedSlots)
}

func TestSecretsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Secrets().Put("api-key", "general", "passphrase", "salt-value", "sk-super-secret"))

	revealed, err := s.Secrets().Reveal("api-key", "passphrase", "salt-value")
	require.NoError(t, err)
	assert.Equal(t, "sk-super-secret", revealed)

	_, err = s.Secrets().Reveal("api-key", "wrong-passphrase", "salt-value")
	assert.Error(t, err)
}

func TestMCPServerSchemaHashChangeDetection(t *testing.T) {
	s := newTestStore(t)
	changed, err := s.MCPServers().ReplaceCachedTools("files", "", []CachedTool{
		{ToolName: "read_file", InputSchemaJSON: `{"type":"object"}`},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"read_file"}, changed)

	changed, err = s.MCPServers().ReplaceCachedTools("files", "", []CachedTool{
		{ToolName: "read_file", InputSchemaJSON: `{"type":"object"}`},
	})
	require.NoError(t, err)
	assert.Empty(t, changed, "identical schema should not be reported as changed")

	changed, err = s.MCPServers().ReplaceCachedTools("files", "", []CachedTool{
		{ToolName: "read_file", InputSchemaJSON: `{"type":"object","properties":{"path":{}}}`},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"read_file"}, changed)
}
