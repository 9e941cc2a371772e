package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
)

// Duration is a time.Duration that reads "30m" style strings from JSON and
// the environment, and also accepts plain JSON numbers as seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\" or a number of seconds: %w", err)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// ConfigurationError is fatal: startup must abort when one is returned.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

type Config struct {
	Session       SessionConfig       `json:"session"`
	Intent        IntentConfig        `json:"intent"`
	Authorization AuthorizationConfig `json:"authorization"`
	Devices       DevicesConfig       `json:"devices"`
	Tasks         TasksConfig         `json:"tasks"`
	Store         StoreConfig         `json:"store"`
	Providers     ProvidersConfig     `json:"providers"`
	Log           LogConfig           `json:"log"`
}

type SessionConfig struct {
	ReattachWindow     Duration `json:"reattach_window" env:"HOMEAGENT_SESSION_REATTACH_WINDOW"`
	IdleTimeout        Duration `json:"idle_timeout" env:"HOMEAGENT_SESSION_IDLE_TIMEOUT"`
	HistoryWindowTurns int      `json:"history_window_turns" env:"HOMEAGENT_SESSION_HISTORY_WINDOW_TURNS"`
	IntentHistory      int      `json:"intent_history" env:"HOMEAGENT_SESSION_INTENT_HISTORY"`
	ReferenceScan      int      `json:"reference_scan" env:"HOMEAGENT_SESSION_REFERENCE_SCAN"`
	DefaultTrust       int      `json:"default_trust" env:"HOMEAGENT_SESSION_DEFAULT_TRUST"`
	SweepSchedule      string   `json:"sweep_schedule" env:"HOMEAGENT_SESSION_SWEEP_SCHEDULE"`
}

type IntentConfig struct {
	Provider     string   `json:"provider" env:"HOMEAGENT_INTENT_PROVIDER"`
	Model        string   `json:"model" env:"HOMEAGENT_INTENT_MODEL"`
	Timeout      Duration `json:"timeout" env:"HOMEAGENT_INTENT_TIMEOUT"`
	MaxRetries   int      `json:"max_retries" env:"HOMEAGENT_INTENT_MAX_RETRIES"`
	RetryBackoff Duration `json:"retry_backoff" env:"HOMEAGENT_INTENT_RETRY_BACKOFF"`
	MaxTokens    int      `json:"max_tokens" env:"HOMEAGENT_INTENT_MAX_TOKENS"`
	Temperature  float64  `json:"temperature" env:"HOMEAGENT_INTENT_TEMPERATURE"`
	ChatReplies  bool     `json:"chat_replies" env:"HOMEAGENT_INTENT_CHAT_REPLIES"`
}

type AuthorizationConfig struct {
	Thresholds       map[string]int `json:"thresholds" env:"HOMEAGENT_AUTHORIZATION_THRESHOLDS"`
	DefaultThreshold int            `json:"default_threshold" env:"HOMEAGENT_AUTHORIZATION_DEFAULT_THRESHOLD"`
	CriticalPenalty  map[string]int `json:"critical_penalty" env:"HOMEAGENT_AUTHORIZATION_CRITICAL_PENALTY"`
	TemperatureHigh  int            `json:"temperature_high" env:"HOMEAGENT_AUTHORIZATION_TEMPERATURE_HIGH"`
	TemperatureLow   int            `json:"temperature_low" env:"HOMEAGENT_AUTHORIZATION_TEMPERATURE_LOW"`
	VolumeHigh       int            `json:"volume_high" env:"HOMEAGENT_AUTHORIZATION_VOLUME_HIGH"`
	// Disclosure is "none" or "hint".
	Disclosure string `json:"disclosure" env:"HOMEAGENT_AUTHORIZATION_DISCLOSURE"`
}

type DeviceSpec struct {
	ID    string `json:"id"`
	Class string `json:"class"`
	Name  string `json:"name"`
	Room  string `json:"room"`
}

type DevicesConfig struct {
	DispatchTimeout Duration     `json:"dispatch_timeout" env:"HOMEAGENT_DEVICES_DISPATCH_TIMEOUT"`
	Seed            []DeviceSpec `json:"seed"`
}

type TasksConfig struct {
	Workers    int      `json:"workers" env:"HOMEAGENT_TASKS_WORKERS"`
	QueueSize  int      `json:"queue_size" env:"HOMEAGENT_TASKS_QUEUE_SIZE"`
	JobRetries int      `json:"job_retries" env:"HOMEAGENT_TASKS_JOB_RETRIES"`
	JobTimeout Duration `json:"job_timeout" env:"HOMEAGENT_TASKS_JOB_TIMEOUT"`
}

type StoreConfig struct {
	Path string `json:"path" env:"HOMEAGENT_STORE_PATH"`
}

type ProvidersConfig struct {
	OpenRouter ProviderConfig `json:"openrouter" envPrefix:"HOMEAGENT_PROVIDERS_OPENROUTER_"`
	OpenAI     ProviderConfig `json:"openai" envPrefix:"HOMEAGENT_PROVIDERS_OPENAI_"`
	Anthropic  ProviderConfig `json:"anthropic" envPrefix:"HOMEAGENT_PROVIDERS_ANTHROPIC_"`
	Gemini     ProviderConfig `json:"gemini" envPrefix:"HOMEAGENT_PROVIDERS_GEMINI_"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"API_KEY"`
	APIBase string `json:"api_base" env:"API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"PROXY"`
}

type LogConfig struct {
	Level string `json:"level" env:"HOMEAGENT_LOG_LEVEL"`
}

func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			ReattachWindow:     Duration(24 * time.Hour),
			IdleTimeout:        Duration(30 * time.Minute),
			HistoryWindowTurns: 20,
			IntentHistory:      10,
			ReferenceScan:      3,
			DefaultTrust:       25,
			SweepSchedule:      "*/5 * * * *",
		},
		Intent: IntentConfig{
			Provider:     "openrouter",
			Model:        "anthropic/claude-3.5-haiku",
			Timeout:      Duration(20 * time.Second),
			MaxRetries:   1,
			RetryBackoff: Duration(250 * time.Millisecond),
			MaxTokens:    512,
			Temperature:  0.1,
			ChatReplies:  true,
		},
		Authorization: AuthorizationConfig{
			Thresholds: map[string]int{
				"air_conditioner": 60,
				"speaker":         40,
				"tv":              40,
				"lights":          30,
				"curtains":        30,
			},
			DefaultThreshold: 50,
			CriticalPenalty: map[string]int{
				"set_temperature_high": 20,
				"set_temperature_low":  20,
				"set_volume_high":      20,
			},
			TemperatureHigh: 28,
			TemperatureLow:  17,
			VolumeHigh:      80,
			Disclosure:      "none",
		},
		Devices: DevicesConfig{
			DispatchTimeout: Duration(5 * time.Second),
			Seed: []DeviceSpec{
				{ID: "lights", Class: "lights", Name: "Living room lights", Room: "living_room"},
				{ID: "air_conditioner", Class: "air_conditioner", Name: "Air conditioner", Room: "living_room"},
				{ID: "tv", Class: "tv", Name: "TV", Room: "living_room"},
				{ID: "speaker", Class: "speaker", Name: "Speaker", Room: "living_room"},
				{ID: "curtains", Class: "curtains", Name: "Curtains", Room: "bedroom"},
			},
		},
		Tasks: TasksConfig{
			Workers:    4,
			QueueSize:  128,
			JobRetries: 2,
			JobTimeout: Duration(10 * time.Second),
		},
		Store: StoreConfig{
			Path: "~/.homeagent/state/homeagent.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate reports the first setting that prevents startup.
func (c *Config) Validate() error {
	switch {
	case c.Session.ReattachWindow <= 0:
		return &ConfigurationError{Field: "session.reattach_window", Reason: "must be positive"}
	case c.Session.IdleTimeout <= 0:
		return &ConfigurationError{Field: "session.idle_timeout", Reason: "must be positive"}
	case c.Session.HistoryWindowTurns <= 0:
		return &ConfigurationError{Field: "session.history_window_turns", Reason: "must be positive"}
	case c.Session.IntentHistory <= 0:
		return &ConfigurationError{Field: "session.intent_history", Reason: "must be positive"}
	case c.Session.ReferenceScan <= 0:
		return &ConfigurationError{Field: "session.reference_scan", Reason: "must be positive"}
	case c.Session.DefaultTrust < 0 || c.Session.DefaultTrust > 100:
		return &ConfigurationError{Field: "session.default_trust", Reason: "must be within 0-100"}
	case c.Intent.Timeout <= 0:
		return &ConfigurationError{Field: "intent.timeout", Reason: "must be positive"}
	case c.Intent.MaxRetries < 0:
		return &ConfigurationError{Field: "intent.max_retries", Reason: "must not be negative"}
	case c.Devices.DispatchTimeout <= 0:
		return &ConfigurationError{Field: "devices.dispatch_timeout", Reason: "must be positive"}
	case c.Tasks.Workers <= 0:
		return &ConfigurationError{Field: "tasks.workers", Reason: "must be positive"}
	case c.Tasks.QueueSize <= 0:
		return &ConfigurationError{Field: "tasks.queue_size", Reason: "must be positive"}
	case c.Tasks.JobTimeout <= 0:
		return &ConfigurationError{Field: "tasks.job_timeout", Reason: "must be positive"}
	}

	cron := gronx.New()
	if !cron.IsValid(c.Session.SweepSchedule) {
		return &ConfigurationError{Field: "session.sweep_schedule", Reason: fmt.Sprintf("invalid cron expression %q", c.Session.SweepSchedule)}
	}

	if len(c.Authorization.Thresholds) == 0 {
		return &ConfigurationError{Field: "authorization.thresholds", Reason: "threshold table is empty"}
	}
	for class, threshold := range c.Authorization.Thresholds {
		if threshold <= 0 || threshold > 100 {
			return &ConfigurationError{Field: "authorization.thresholds." + class, Reason: "must be within 1-100"}
		}
	}
	if c.Authorization.DefaultThreshold <= 0 || c.Authorization.DefaultThreshold > 100 {
		return &ConfigurationError{Field: "authorization.default_threshold", Reason: "must be within 1-100"}
	}
	for key, penalty := range c.Authorization.CriticalPenalty {
		if penalty < 0 {
			return &ConfigurationError{Field: "authorization.critical_penalty." + key, Reason: "must not be negative"}
		}
	}
	switch c.Authorization.Disclosure {
	case "none", "hint":
	default:
		return &ConfigurationError{Field: "authorization.disclosure", Reason: "must be none or hint"}
	}

	provider := strings.ToLower(strings.TrimSpace(c.Intent.Provider))
	if provider != "none" && provider != "" {
		pc, ok := c.ProviderSettings(provider)
		if !ok {
			return &ConfigurationError{Field: "intent.provider", Reason: fmt.Sprintf("unsupported provider %q", c.Intent.Provider)}
		}
		if strings.TrimSpace(pc.APIKey) == "" {
			return &ConfigurationError{
				Field:  "providers." + provider + ".api_key",
				Reason: fmt.Sprintf("required (or set HOMEAGENT_PROVIDERS_%s_API_KEY, or HOMEAGENT_INTENT_PROVIDER=none)", strings.ToUpper(provider)),
			}
		}
	}
	return nil
}

// ProviderSettings returns the credentials block for a provider name.
func (c *Config) ProviderSettings(name string) (ProviderConfig, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openrouter":
		return c.Providers.OpenRouter, true
	case "openai":
		return c.Providers.OpenAI, true
	case "anthropic", "claude":
		return c.Providers.Anthropic, true
	case "gemini", "google":
		return c.Providers.Gemini, true
	default:
		return ProviderConfig{}, false
	}
}

func (c *Config) StorePath() string {
	return expandHome(c.Store.Path)
}

func (c *Config) GetAPIBase() string {
	if c.Providers.OpenRouter.APIBase != "" {
		return c.Providers.OpenRouter.APIBase
	}
	return "https://openrouter.ai/api/v1"
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
