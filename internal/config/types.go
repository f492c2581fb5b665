package config

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Agent    AgentConfig    `json:"agent"`
	GenAI    GenAIConfig    `json:"genai"`
	Notifier NotifierConfig `json:"notifier,omitempty"`

	// Themes is the rotating content catalog. Empty means the built-in
	// catalog.
	Themes []ThemeConfig `json:"themes,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./oratio.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// AgentConfig controls the scheduling loops.
//
// All durations are Go duration strings (e.g. "30s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - check_interval: "30s"
//   - status_interval: "1m"
//   - startup_delay: "45s"
type AgentConfig struct {
	CheckInterval  string `json:"check_interval,omitempty"`
	StatusInterval string `json:"status_interval,omitempty"`
	StartupDelay   string `json:"startup_delay,omitempty"`

	Long  FamilyConfig `json:"long"`
	Short FamilyConfig `json:"short"`
}

// FamilyConfig seeds a job family's settings. Both knobs are also
// adjustable at runtime; persisted runtime values win over these seeds
// after the first start.
type FamilyConfig struct {
	Enabled bool `json:"enabled"`
	// Cadence is how many of the track's leading recurring hours are
	// active. 0 schedules nothing.
	Cadence int `json:"cadence"`
}

// GenAIConfig points at the generation backend.
type GenAIConfig struct {
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"api_key"`
	TextModel  string `json:"text_model"`
	AudioModel string `json:"audio_model"`
	ImageModel string `json:"image_model"`
	Voice      string `json:"voice,omitempty"`
	// Timeout is a Go duration string bounding one backend call.
	Timeout string `json:"timeout,omitempty"`
	// CallsPerSec paces remote calls across all concurrent runs.
	CallsPerSec float64 `json:"calls_per_sec,omitempty"`
}

// NotifierConfig controls operator notifications. If the whole section
// is omitted, notifications are disabled.
type NotifierConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
}

type ThemeConfig struct {
	Name      string   `json:"name"`
	Subthemes []string `json:"subthemes,omitempty"`
}
