package app

import (
	"fmt"
	"strings"
	"time"

	"oratio/internal/agent"
	"oratio/internal/config"
	"oratio/internal/genai"
	"oratio/internal/notifier"
	"oratio/internal/pipeline"
	"oratio/internal/storage"
)

func parseDurationField(path, raw string) (time.Duration, error) {
	return config.ParseDurationField(path, raw)
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required")
	}
	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "", "sqlite", "sqlite3":
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapAgentConfig(cfg *config.Config) (agent.Config, error) {
	check, err := parseDurationOrDefault("agent.check_interval", cfg.Agent.CheckInterval, 30*time.Second)
	if err != nil {
		return agent.Config{}, err
	}
	status, err := parseDurationOrDefault("agent.status_interval", cfg.Agent.StatusInterval, time.Minute)
	if err != nil {
		return agent.Config{}, err
	}
	delay, err := parseDurationOrDefault("agent.startup_delay", cfg.Agent.StartupDelay, 45*time.Second)
	if err != nil {
		return agent.Config{}, err
	}
	return agent.Config{
		CheckInterval:  check,
		StatusInterval: status,
		StartupDelay:   delay,
		Long: agent.FamilySettings{
			Enabled: cfg.Agent.Long.Enabled,
			Cadence: cfg.Agent.Long.Cadence,
		},
		Short: agent.FamilySettings{
			Enabled: cfg.Agent.Short.Enabled,
			Cadence: cfg.Agent.Short.Cadence,
		},
		Themes: mapThemes(cfg),
	}, nil
}

func mapThemes(cfg *config.Config) []pipeline.Theme {
	if len(cfg.Themes) == 0 {
		return nil
	}
	out := make([]pipeline.Theme, 0, len(cfg.Themes))
	for _, th := range cfg.Themes {
		out = append(out, pipeline.Theme{Name: th.Name, Subthemes: th.Subthemes})
	}
	return out
}

func mapGenAIConfig(cfg *config.Config) (genai.Config, error) {
	timeout, err := parseDurationOrDefault("genai.timeout", cfg.GenAI.Timeout, 2*time.Minute)
	if err != nil {
		return genai.Config{}, err
	}
	return genai.Config{
		BaseURL:    cfg.GenAI.BaseURL,
		APIKey:     cfg.GenAI.APIKey,
		TextModel:  cfg.GenAI.TextModel,
		AudioModel: cfg.GenAI.AudioModel,
		ImageModel: cfg.GenAI.ImageModel,
		Timeout:    timeout,
	}, nil
}

func mapPipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		Voice:       cfg.GenAI.Voice,
		CallsPerSec: cfg.GenAI.CallsPerSec,
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	nc := cfg.Notifier
	return notifier.Config{
		Enabled:    nc.Enabled,
		Token:      strings.TrimSpace(nc.Token),
		ChatID:     nc.ChatID,
		RatePerSec: nc.RatePerSec,
		QueueSize:  nc.QueueSize,
	}
}
