package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalConditionEquality(t *testing.T) {
	ok, err := EvalCondition(`prompt == "/clear"`, map[string]any{"prompt": "/clear"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvalCondition(`prompt == "/clear"`, map[string]any{"prompt": "/exit"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalConditionAndOr(t *testing.T) {
	ctx := map[string]any{"is_failure": true, "tool_name": "Bash"}
	ok, err := EvalCondition(`is_failure && tool_name == "Bash"`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvalCondition(`is_failure == false || tool_name == "Bash"`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalConditionDottedAccess(t *testing.T) {
	ctx := map[string]any{"metadata": map[string]any{"active_task_title": "Fix bug"}}
	ok, err := EvalCondition(`metadata.active_task_title == "Fix bug"`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalConditionIn(t *testing.T) {
	ctx := map[string]any{"labels": []any{"urgent", "bug"}}
	ok, err := EvalCondition(`"urgent" in labels`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalConditionEmptyIsAlwaysTrue(t *testing.T) {
	ok, err := EvalCondition("", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalConditionNegation(t *testing.T) {
	ok, err := EvalCondition(`!is_failure`, map[string]any{"is_failure": false})
	require.NoError(t, err)
	assert.True(t, ok)
}
