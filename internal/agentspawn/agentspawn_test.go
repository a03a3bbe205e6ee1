package agentspawn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDispatchesKnownModes(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := r.Spawn(ctx, ModeHeadless, Request{CLI: "true", Cwd: t.TempDir(), SessionID: "s1", Prompt: ""})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotZero(t, res.PID)
}

func TestRegistryRejectsUnknownMode(t *testing.T) {
	r := NewRegistry()
	_, err := r.Spawn(context.Background(), Mode("bogus"), Request{})
	assert.Error(t, err)
}

func TestCommandForKnownCLIs(t *testing.T) {
	name, args := commandFor(Request{CLI: "gemini", Prompt: "hello"})
	assert.Equal(t, "gemini", name)
	assert.Equal(t, []string{"-i", "hello"}, args)
}
