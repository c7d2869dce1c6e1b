package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwork/loom/internal/config"
	"github.com/loomwork/loom/internal/resilience"
)

func TestPaths_ComputeLayoutRelativeToDataDir(t *testing.T) {
	p := paths{dir: "/tmp/loom-data"}
	assert.Equal(t, filepath.Join("/tmp/loom-data", "task_board.json"), p.boardFile())
	assert.Equal(t, filepath.Join("/tmp/loom-data", "context_bus.json"), p.contextBusFile())
	assert.Equal(t, filepath.Join("/tmp/loom-data", "mailboxes"), p.mailboxDir())
	assert.Equal(t, filepath.Join("/tmp/loom-data", "task_signals"), p.signalDir())
	assert.Equal(t, filepath.Join("/tmp/loom-data", "logs", "coder-1.log"), p.agentLogFile("coder-1"))
}

func TestBuildProvider_CLIType(t *testing.T) {
	p, err := buildProvider("anthropic", config.ProviderConfig{Type: "cli", Command: "claude"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
}

func TestBuildProvider_CLITypeRequiresCommand(t *testing.T) {
	_, err := buildProvider("anthropic", config.ProviderConfig{Type: "cli"})
	assert.Error(t, err)
}

func TestBuildProvider_UnknownTypeRejected(t *testing.T) {
	_, err := buildProvider("anthropic", config.ProviderConfig{Type: "bedrock"})
	assert.Error(t, err)
}

func TestBuildRouter_WiresEveryConfiguredProvider(t *testing.T) {
	cfg := config.Default()
	router, err := buildRouter(cfg)
	require.NoError(t, err)
	require.NotNil(t, router)
}

func TestRetryConfig_OverridesFromResilienceConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Resilience.BaseDelay = 2
	cfg.Resilience.MaxDelay = 10
	rc := retryConfig(cfg)
	assert.Equal(t, resilience.DefaultRetryConfig().MaxRetries, rc.MaxRetries)
	assert.EqualValues(t, 2e9, rc.BaseDelay)
	assert.EqualValues(t, 10e9, rc.MaxDelay)
}

func TestBreakerConfig_OverridesFromResilienceConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Resilience.CircuitBreakerThreshold = 7
	bc := breakerConfig(cfg)
	assert.Equal(t, 7, bc.Threshold)
}

func TestAgentsByRole_GroupsByConfiguredRole(t *testing.T) {
	agents := map[string]config.AgentConfig{
		"coder-1":  {Role: "implement"},
		"coder-2":  {Role: "implement"},
		"reviewer": {Role: "review"},
	}
	byRole := agentsByRole(agents)
	assert.Len(t, byRole["implement"], 2)
	assert.Equal(t, []string{"reviewer"}, byRole["review"])
}

func TestFindPlanner_ReturnsPlannerAgentID(t *testing.T) {
	agents := map[string]config.AgentConfig{
		"coder-1": {Role: "implement"},
		"planner": {Role: "planner"},
	}
	assert.Equal(t, "planner", findPlanner(agents))
}

func TestFindPlanner_EmptyWhenNoneConfigured(t *testing.T) {
	assert.Equal(t, "", findPlanner(map[string]config.AgentConfig{"coder-1": {Role: "implement"}}))
}

func TestSelfWorkerSpec_UsesOverrideCommandWhenSet(t *testing.T) {
	ac := config.AgentConfig{Command: "./custom-agent", Args: []string{"--foo"}}
	cmd, args, err := selfWorkerSpec("coder-1", ac, paths{dir: "."}, "", "")
	require.NoError(t, err)
	assert.Equal(t, "./custom-agent", cmd)
	assert.Equal(t, []string{"--foo"}, args)
}

func TestSelfWorkerSpec_DefaultsToSelfExecWorkerMode(t *testing.T) {
	cmd, args, err := selfWorkerSpec("coder-1", config.AgentConfig{}, paths{dir: "/data"}, "/g.json", "/p.json")
	require.NoError(t, err)
	assert.NotEmpty(t, cmd)
	assert.Equal(t, []string{
		"worker",
		"--agent-id", "coder-1",
		"--data-dir", "/data",
		"--config", "/g.json",
		"--project-config", "/p.json",
	}, args)
}
