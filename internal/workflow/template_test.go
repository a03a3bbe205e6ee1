package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplateSubstitution(t *testing.T) {
	out, err := RenderTemplate("t", "Hello {{ .name }}!", map[string]any{"name": "Gobby"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Gobby!", out)
}

func TestRenderTemplateConditional(t *testing.T) {
	body := "{{ if .active }}active{{ else }}inactive{{ end }}"
	out, err := RenderTemplate("t", body, map[string]any{"active": true})
	require.NoError(t, err)
	assert.Equal(t, "active", out)
}

func TestRenderTemplateRejectsEnvFunc(t *testing.T) {
	_, err := RenderTemplate("t", `{{ env "HOME" }}`, map[string]any{})
	assert.Error(t, err, "env is stripped from the restricted func map")
}
