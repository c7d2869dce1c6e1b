package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config,
// defaults. Missing files are not errors; malformed documents return an
// error. Each path's format (JSON or YAML) is inferred from its extension.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := Default()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("config: loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("config: loading project config: %w", err)
		}
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths: an XDG-resolved
// global config (`~/.config/loom/config.json`, honoring $XDG_CONFIG_HOME)
// and a project-local `.loom/config.json` (or `.yaml`) relative to cwd,
// trying both JSON and YAML project filenames.
func LoadDefault() (*Config, error) {
	globalPath, err := xdg.ConfigFile(filepath.Join("loom", "config.json"))
	if err != nil {
		return nil, fmt.Errorf("config: resolving xdg config path: %w", err)
	}

	projectPath := firstExisting(
		filepath.Join(".loom", "config.json"),
		filepath.Join(".loom", "config.yaml"),
		"loom.yaml",
	)

	return Load(globalPath, projectPath)
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) > 0 {
		return paths[0]
	}
	return ""
}

// mergeConfigFile reads path (JSON or YAML, by extension) and merges it
// into base. A missing file is silently skipped.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &loaded); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	merge(base, &loaded)
	return nil
}

// merge overlays non-zero fields of loaded onto base: scalar fields
// overwrite when set, map fields (Agents, ProviderRouter.Providers) merge
// key-by-key, matching the teacher's Providers/Agents/Workflows merge
// semantics generalized to the new config shape.
func merge(base, loaded *Config) {
	if loaded.Runtime.Mode != "" {
		base.Runtime.Mode = loaded.Runtime.Mode
	}
	if len(loaded.Runtime.AlwaysOn) > 0 {
		base.Runtime.AlwaysOn = loaded.Runtime.AlwaysOn
	}
	if loaded.Runtime.IdleShutdown != 0 {
		base.Runtime.IdleShutdown = loaded.Runtime.IdleShutdown
	}

	if loaded.Resilience.BaseDelay != 0 {
		base.Resilience.BaseDelay = loaded.Resilience.BaseDelay
	}
	if loaded.Resilience.MaxDelay != 0 {
		base.Resilience.MaxDelay = loaded.Resilience.MaxDelay
	}
	if loaded.Resilience.Jitter != 0 {
		base.Resilience.Jitter = loaded.Resilience.Jitter
	}
	if loaded.Resilience.CircuitBreakerThreshold != 0 {
		base.Resilience.CircuitBreakerThreshold = loaded.Resilience.CircuitBreakerThreshold
	}
	if loaded.Resilience.CircuitBreakerCooldown != 0 {
		base.Resilience.CircuitBreakerCooldown = loaded.Resilience.CircuitBreakerCooldown
	}

	if loaded.ProviderRouter.Strategy != "" {
		base.ProviderRouter.Enabled = loaded.ProviderRouter.Enabled
		base.ProviderRouter.Strategy = loaded.ProviderRouter.Strategy
	}
	if loaded.ProviderRouter.Preferred != "" {
		base.ProviderRouter.Preferred = loaded.ProviderRouter.Preferred
	}
	if loaded.ProviderRouter.ProbeInterval != 0 {
		base.ProviderRouter.ProbeInterval = loaded.ProviderRouter.ProbeInterval
	}
	if base.ProviderRouter.Providers == nil {
		base.ProviderRouter.Providers = make(map[string]ProviderConfig)
	}
	for key, p := range loaded.ProviderRouter.Providers {
		base.ProviderRouter.Providers[key] = p
	}

	if base.Agents == nil {
		base.Agents = make(map[string]AgentConfig)
	}
	for key, a := range loaded.Agents {
		base.Agents[key] = a
	}

	if loaded.MaxIdleCycles != 0 {
		base.MaxIdleCycles = loaded.MaxIdleCycles
	}
	if loaded.Compaction.PromptBudgetTokens != 0 {
		base.Compaction.PromptBudgetTokens = loaded.Compaction.PromptBudgetTokens
	}
	if loaded.Compaction.ShortTermWindow != 0 {
		base.Compaction.ShortTermWindow = loaded.Compaction.ShortTermWindow
	}
}
