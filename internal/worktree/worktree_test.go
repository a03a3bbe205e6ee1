package worktree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeBranchNameReplacesSlashes(t *testing.T) {
	assert.Equal(t, "task-abc123", SafeBranchName("task/abc123"))
}

func TestBranchForTask(t *testing.T) {
	assert.Equal(t, "task/abc123", BranchForTask("abc123"))
}

func TestBaseDirIsStableForSameInputs(t *testing.T) {
	a := BaseDir("demo", "task/abc123")
	b := BaseDir("demo", "task/abc123")
	assert.Equal(t, a, b)
	assert.Contains(t, a, "gobby-worktrees")
	assert.Contains(t, a, "demo")
	assert.Contains(t, a, "task-abc123")
}

func TestGetDefaultBranchFallsBackToMain(t *testing.T) {
	r := Open(t.TempDir())
	assert.Equal(t, "main", r.GetDefaultBranch())
}
