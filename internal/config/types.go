// Package config generalizes the teacher's OrchestratorConfig/loader/save
// trio to the keys of spec.md §6.5: runtime, resilience, provider_router,
// agents, max_idle_cycles, and compaction. Same precedence rule (defaults <
// global < project), same merge-by-key semantics, now with an optional
// YAML source alongside JSON.
package config

// RuntimeConfig controls the Lazy Runtime (spec.md §4.5, §6.5 `runtime.*`).
type RuntimeConfig struct {
	Mode          string   `json:"mode" yaml:"mode"`                     // "process" / "lazy" / "in_process"
	AlwaysOn      []string `json:"always_on" yaml:"always_on"`
	IdleShutdown  float64  `json:"idle_shutdown" yaml:"idle_shutdown"` // seconds
}

// ResilienceConfig tunes the Resilient Model Client's retry and circuit
// breaker (spec.md §4.9.2-3, §6.5 `resilience.*`).
type ResilienceConfig struct {
	BaseDelay               float64 `json:"base_delay" yaml:"base_delay"`
	MaxDelay                float64 `json:"max_delay" yaml:"max_delay"`
	Jitter                  float64 `json:"jitter" yaml:"jitter"`
	CircuitBreakerThreshold int     `json:"circuit_breaker_threshold" yaml:"circuit_breaker_threshold"`
	CircuitBreakerCooldown  float64 `json:"circuit_breaker_cooldown" yaml:"circuit_breaker_cooldown"`
}

// ProviderRouterConfig configures cross-provider routing (spec.md §4.9.1,
// §6.5 `provider_router.*`).
type ProviderRouterConfig struct {
	Enabled       bool                       `json:"enabled" yaml:"enabled"`
	Strategy      string                     `json:"strategy" yaml:"strategy"` // latency/cost/preference/round_robin
	Preferred     string                     `json:"preferred,omitempty" yaml:"preferred,omitempty"`
	ProbeInterval float64                    `json:"probe_interval" yaml:"probe_interval"` // seconds
	Providers     map[string]ProviderConfig  `json:"providers" yaml:"providers"`
}

// ProviderConfig describes one LLM provider's transport and cost profile.
// Providers are separate from agents — multiple agents can share one
// provider, matching the teacher's Providers/Agents split.
type ProviderConfig struct {
	Type           string   `json:"type" yaml:"type"` // adapter key: "cli" is the only one this module ships
	BaseURL        string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKeyEnv      []string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"` // rotatable credential env vars
	FallbackModels []string `json:"fallback_models,omitempty" yaml:"fallback_models,omitempty"`
	CostPer1k      float64  `json:"cost_per_1k,omitempty" yaml:"cost_per_1k,omitempty"`
	Priority       int      `json:"priority,omitempty" yaml:"priority,omitempty"`

	// Command and Args configure the "cli" adapter type: an external
	// command-line coding tool invoked once per call, per
	// internal/llm/cliprovider.
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// AgentConfig defines one agent: its role, provider/model choice, and
// gating, per spec.md §6.5 `agents[*]`.
type AgentConfig struct {
	Role          string   `json:"role" yaml:"role"`
	Provider      string   `json:"provider" yaml:"provider"` // key into ProviderRouterConfig.Providers
	Model         string   `json:"model,omitempty" yaml:"model,omitempty"`
	SystemPrompt  string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Skills        []string `json:"skills,omitempty" yaml:"skills,omitempty"`
	Tools         []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	MinReputation int      `json:"min_reputation,omitempty" yaml:"min_reputation,omitempty"`
	AlwaysOn      bool     `json:"always_on,omitempty" yaml:"always_on,omitempty"`
	Command       string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args          []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// CompactionConfig configures prompt-window trimming, external to the
// core's own logic but whose budget the core respects (spec.md §6.5
// `compaction.*`).
type CompactionConfig struct {
	PromptBudgetTokens int `json:"prompt_budget_tokens" yaml:"prompt_budget_tokens"`
	ShortTermWindow    int `json:"short_term_window" yaml:"short_term_window"`
}

// Config is the top-level configuration document of spec.md §6.5.
type Config struct {
	Runtime         RuntimeConfig        `json:"runtime" yaml:"runtime"`
	Resilience      ResilienceConfig     `json:"resilience" yaml:"resilience"`
	ProviderRouter  ProviderRouterConfig `json:"provider_router" yaml:"provider_router"`
	Agents          map[string]AgentConfig `json:"agents" yaml:"agents"`
	MaxIdleCycles   int                  `json:"max_idle_cycles" yaml:"max_idle_cycles"`
	Compaction      CompactionConfig     `json:"compaction" yaml:"compaction"`
}
