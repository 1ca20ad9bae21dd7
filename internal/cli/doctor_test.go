package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentloop/pkg/config"
)

func TestInspectConfigDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := inspectConfig("", "", dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.ProjectDir)
	assert.Equal(t, dir, cfg.StateDir, "state dir falls back to the project dir")
	assert.Equal(t, "Project", cfg.ProjectName)
}

func TestInspectConfigPrefersSnapshot(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")

	// A snapshot whose recorded state dir no longer matches where it sits,
	// as happens when a project directory is moved wholesale.
	snap := config.Default()
	snap.ProjectName = "demo-app"
	snap.ProjectDir = filepath.Join(dir, "project")
	snap.StateDir = filepath.Join(dir, "old-state")
	data, err := json.MarshalIndent(snap, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(stateDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, config.SnapshotFileName), data, 0644))

	cfg, err := inspectConfig("", stateDir, "ignored")
	require.NoError(t, err)
	assert.Equal(t, "demo-app", cfg.ProjectName)
	assert.Equal(t, stateDir, cfg.StateDir, "the flag-given state dir wins over the recorded one")
}

func TestInspectConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"project_name: demo-app\nproject_dir: "+dir+"\nmax_iterations: 7\n"), 0644))

	cfg, err := inspectConfig(path, "", "ignored")
	require.NoError(t, err)
	assert.Equal(t, "demo-app", cfg.ProjectName)
	assert.Equal(t, 7, cfg.MaxIterations)
	assert.Equal(t, dir, cfg.StateDir, "yaml without state_dir derives it from project_dir")

	_, err = inspectConfig(filepath.Join(dir, "missing.yaml"), "", "")
	assert.Error(t, err)
}

func TestInspectConfigRejectsUnknownYAMLKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte("projcet_name: typo\n"), 0644))

	_, err := inspectConfig(path, "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "projcet_name")
}
