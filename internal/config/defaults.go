package config

// Default returns the default configuration with spec.md §6.5's documented
// defaults and the teacher's four-role agent set (orchestrator/coder/
// reviewer/tester), generalized to the new role/provider split.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Mode:         "lazy",
			AlwaysOn:     []string{"planner"},
			IdleShutdown: 600,
		},
		Resilience: ResilienceConfig{
			BaseDelay:               1.0,
			MaxDelay:                30.0,
			Jitter:                  0.5,
			CircuitBreakerThreshold: 3,
			CircuitBreakerCooldown:  120.0,
		},
		ProviderRouter: ProviderRouterConfig{
			Enabled:       true,
			Strategy:      "preference",
			ProbeInterval: 60.0,
			Providers: map[string]ProviderConfig{
				"anthropic": {Type: "cli", Command: "claude", Args: []string{"--output-format", "stream-json"}, Priority: 0},
				"openai":    {Type: "cli", Command: "codex", Args: []string{"exec", "--json"}, Priority: 1},
			},
		},
		Agents: map[string]AgentConfig{
			"planner": {
				Role:         "planner",
				Provider:     "anthropic",
				SystemPrompt: "You coordinate task planning and agent workflows.",
				AlwaysOn:     true,
			},
			"coder": {
				Role:         "implement",
				Provider:     "anthropic",
				SystemPrompt: "You implement features and write production code.",
			},
			"reviewer": {
				Role:         "review",
				Provider:     "anthropic",
				SystemPrompt: "You review code for correctness, style, and best practices.",
			},
			"tester": {
				Role:         "execute",
				Provider:     "anthropic",
				SystemPrompt: "You write comprehensive tests and validate functionality.",
			},
		},
		MaxIdleCycles: 30,
		Compaction: CompactionConfig{
			PromptBudgetTokens: 8000,
			ShortTermWindow:    20,
		},
	}
}
