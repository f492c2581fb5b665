package config

import (
	"reflect"
	"sort"
	"strings"

	logx "oratio/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and
// safe structured attrs for logging (never includes secrets like API
// keys or bot tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage
	o, n := oldCfg.Storage, newCfg.Storage
	if strings.TrimSpace(o.Driver) != strings.TrimSpace(n.Driver) ||
		strings.TrimSpace(o.BusyTimeout) != strings.TrimSpace(n.BusyTimeout) ||
		(strings.TrimSpace(o.Path) != "") != (strings.TrimSpace(n.Path) != "") {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(n.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(n.Path) != ""),
		)
	}

	// Agent (scheduling loops and family seeds)
	if !reflect.DeepEqual(oldCfg.Agent, newCfg.Agent) {
		changed = append(changed, "agent")
		attrs = append(attrs,
			logx.String("agent.check_interval", strings.TrimSpace(newCfg.Agent.CheckInterval)),
			logx.Bool("agent.long_enabled", newCfg.Agent.Long.Enabled),
			logx.Int("agent.long_cadence", newCfg.Agent.Long.Cadence),
			logx.Bool("agent.short_enabled", newCfg.Agent.Short.Enabled),
			logx.Int("agent.short_cadence", newCfg.Agent.Short.Cadence),
		)
	}

	// GenAI (never log the API key)
	og, ng := oldCfg.GenAI, newCfg.GenAI
	if og.BaseURL != ng.BaseURL || og.TextModel != ng.TextModel ||
		og.AudioModel != ng.AudioModel || og.ImageModel != ng.ImageModel ||
		og.Voice != ng.Voice || og.Timeout != ng.Timeout ||
		og.CallsPerSec != ng.CallsPerSec ||
		(strings.TrimSpace(og.APIKey) != "") != (strings.TrimSpace(ng.APIKey) != "") {
		changed = append(changed, "genai")
		attrs = append(attrs,
			logx.String("genai.base_url", ng.BaseURL),
			logx.String("genai.text_model", ng.TextModel),
			logx.Bool("genai.api_key_set", strings.TrimSpace(ng.APIKey) != ""),
		)
	}

	// Notifier (never log the token)
	on, nn := oldCfg.Notifier, newCfg.Notifier
	if on.Enabled != nn.Enabled || on.ChatID != nn.ChatID ||
		on.RatePerSec != nn.RatePerSec || on.QueueSize != nn.QueueSize ||
		(strings.TrimSpace(on.Token) != "") != (strings.TrimSpace(nn.Token) != "") {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nn.Enabled),
			logx.Bool("notifier.token_set", strings.TrimSpace(nn.Token) != ""),
		)
	}

	// Themes (names only; subthemes show up at debug if needed)
	if !reflect.DeepEqual(oldCfg.Themes, newCfg.Themes) {
		changed = append(changed, "themes")
		attrs = append(attrs, logx.Int("themes.count", len(newCfg.Themes)))
	}

	sort.Strings(changed)
	return changed, attrs
}
