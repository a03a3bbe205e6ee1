package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadOrCreateValues_CreatesDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	v, err := LoadOrCreateValues(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultValues().DaemonPort, v.DaemonPort)

	reloaded, err := LoadValues(path)
	require.NoError(t, err)
	assert.Equal(t, v.DaemonPort, reloaded.DaemonPort)
}

func TestLoadValues_RejectsFutureVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	v := DefaultValues()
	v.Version = CurrentValuesVersion + 1
	// SaveValues itself refuses a future version, so write the file directly.
	raw, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = LoadValues(path)
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func TestEnsureProjectFile_CreatesOnceThenReuses(t *testing.T) {
	root := t.TempDir()

	pf, err := EnsureProjectFile(root, "proj-1", "demo")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", pf.ID)

	pf2, err := EnsureProjectFile(root, "different-id", "demo")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", pf2.ID, "existing marker is not overwritten by a later call")
}

func TestTemplateRoundTrip_PersistsOnlyNonDefaultKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.template.yaml")

	overridden := DefaultValues()
	overridden.DaemonPort = 7777

	require.NoError(t, SaveTemplate(path, overridden))

	raw, err := LoadTemplate(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &doc))
	assert.Len(t, doc, 1)
	assert.Contains(t, doc, "daemon_port")
}

func TestImportTemplate_MergesOntoBase(t *testing.T) {
	base := DefaultValues()
	merged, err := ImportTemplate([]byte("daemon_port: 9001\n"), base)
	require.NoError(t, err)
	assert.Equal(t, 9001, merged.DaemonPort)
	assert.Equal(t, base.DefaultProvider, merged.DefaultProvider)
}

func TestStatus_NotReadyUntilMarked(t *testing.T) {
	st := NewStatus(nil)
	ready, status, _, err := st.CheckHealth()
	require.NoError(t, err)
	assert.False(t, ready)
	assert.Equal(t, "starting", status)

	st.MarkReady()
	ready, status, _, err = st.CheckHealth()
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, "ready", status)
}
