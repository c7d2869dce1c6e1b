package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_HasAlwaysOnPlanner(t *testing.T) {
	cfg := Default()
	assert.Contains(t, cfg.Runtime.AlwaysOn, "planner")
	assert.Equal(t, 3, cfg.Resilience.CircuitBreakerThreshold)
}

func TestLoad_MissingFilesReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"), "")
	require.NoError(t, err)
	assert.Equal(t, Default().Runtime.Mode, cfg.Runtime.Mode)
}

func TestLoad_ProjectOverridesGlobal(t *testing.T) {
	dir := t.TempDir()
	globalPath := filepath.Join(dir, "global.json")
	projectPath := filepath.Join(dir, "project.json")

	require.NoError(t, os.WriteFile(globalPath, []byte(`{"runtime":{"mode":"process","idle_shutdown":100}}`), 0o644))
	require.NoError(t, os.WriteFile(projectPath, []byte(`{"runtime":{"mode":"lazy"}}`), 0o644))

	cfg, err := Load(globalPath, projectPath)
	require.NoError(t, err)
	assert.Equal(t, "lazy", cfg.Runtime.Mode)          // project wins
	assert.Equal(t, float64(100), cfg.Runtime.IdleShutdown) // global value survives since project didn't set it
}

func TestLoad_YAMLProjectConfig(t *testing.T) {
	dir := t.TempDir()
	projectPath := filepath.Join(dir, "loom.yaml")
	require.NoError(t, os.WriteFile(projectPath, []byte("runtime:\n  mode: in_process\n"), 0o644))

	cfg, err := Load("", projectPath)
	require.NoError(t, err)
	assert.Equal(t, "in_process", cfg.Runtime.Mode)
}

func TestLoad_MergesAgentsByKey(t *testing.T) {
	dir := t.TempDir()
	projectPath := filepath.Join(dir, "project.json")
	require.NoError(t, os.WriteFile(projectPath, []byte(`{"agents":{"coder":{"role":"implement","model":"opus"}}}`), 0o644))

	cfg, err := Load("", projectPath)
	require.NoError(t, err)
	assert.Equal(t, "opus", cfg.Agents["coder"].Model)
	assert.Contains(t, cfg.Agents, "reviewer") // default agents survive the merge
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.MaxIdleCycles = 42
	require.NoError(t, Save(cfg, path))

	loaded, err := Load("", path)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.MaxIdleCycles)
}
