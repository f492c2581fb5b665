package config

import (
	"fmt"
	"strings"
)

// Validate rejects configs the daemon cannot run with. Used both at
// startup and as the Watch() validator so a bad edit never replaces a
// good running config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	for path, raw := range map[string]string{
		"agent.check_interval":  cfg.Agent.CheckInterval,
		"agent.status_interval": cfg.Agent.StatusInterval,
		"agent.startup_delay":   cfg.Agent.StartupDelay,
		"genai.timeout":         cfg.GenAI.Timeout,
		"storage.busy_timeout":  cfg.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "sqlite", "sqlite3", "file":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", d)
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path: required")
	}

	for name, fam := range map[string]FamilyConfig{
		"agent.long":  cfg.Agent.Long,
		"agent.short": cfg.Agent.Short,
	} {
		if fam.Cadence < 0 {
			return fmt.Errorf("%s.cadence: must be >= 0", name)
		}
	}

	anyEnabled := cfg.Agent.Long.Enabled || cfg.Agent.Short.Enabled
	if anyEnabled && strings.TrimSpace(cfg.GenAI.BaseURL) == "" {
		return fmt.Errorf("genai.base_url: required when a family is enabled")
	}
	if cfg.GenAI.CallsPerSec < 0 {
		return fmt.Errorf("genai.calls_per_sec: must be >= 0")
	}

	if cfg.Notifier.Enabled && strings.TrimSpace(cfg.Notifier.Token) == "" {
		return fmt.Errorf("notifier.token: required when notifier is enabled")
	}

	for i, th := range cfg.Themes {
		if strings.TrimSpace(th.Name) == "" {
			return fmt.Errorf("themes[%d].name: required", i)
		}
	}
	return nil
}
