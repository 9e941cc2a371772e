package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// TestDefaultConfig_SessionWindows verifies the session lifecycle defaults
func TestDefaultConfig_SessionWindows(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Session.ReattachWindow.Std() != 24*time.Hour {
		t.Errorf("ReattachWindow = %v, want 24h", cfg.Session.ReattachWindow.Std())
	}
	if cfg.Session.IdleTimeout.Std() != 30*time.Minute {
		t.Errorf("IdleTimeout = %v, want 30m", cfg.Session.IdleTimeout.Std())
	}
	if cfg.Session.DefaultTrust != 25 {
		t.Errorf("DefaultTrust = %d, want 25", cfg.Session.DefaultTrust)
	}
}

// TestDefaultConfig_Thresholds verifies the per-class trust table
func TestDefaultConfig_Thresholds(t *testing.T) {
	cfg := DefaultConfig()

	want := map[string]int{"air_conditioner": 60, "speaker": 40, "tv": 40, "lights": 30, "curtains": 30}
	for class, threshold := range want {
		if got := cfg.Authorization.Thresholds[class]; got != threshold {
			t.Errorf("threshold[%s] = %d, want %d", class, got, threshold)
		}
	}
	if cfg.Authorization.DefaultThreshold != 50 {
		t.Errorf("DefaultThreshold = %d, want 50", cfg.Authorization.DefaultThreshold)
	}
}

func TestValidate_DefaultNeedsCredentials(t *testing.T) {
	cfg := DefaultConfig()

	err := cfg.Validate()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Field != "providers.openrouter.api_key" {
		t.Fatalf("unexpected field %q", cfgErr.Field)
	}

	cfg.Intent.Provider = "none"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("offline config should validate: %v", err)
	}
}

func TestValidate_RejectsBadSettings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad cron", func(c *Config) { c.Session.SweepSchedule = "every five minutes" }, "session.sweep_schedule"},
		{"empty thresholds", func(c *Config) { c.Authorization.Thresholds = map[string]int{} }, "authorization.thresholds"},
		{"zero threshold", func(c *Config) { c.Authorization.Thresholds["tv"] = 0 }, "authorization.thresholds.tv"},
		{"zero queue", func(c *Config) { c.Tasks.QueueSize = 0 }, "tasks.queue_size"},
		{"bad disclosure", func(c *Config) { c.Authorization.Disclosure = "full" }, "authorization.disclosure"},
		{"unknown provider", func(c *Config) { c.Intent.Provider = "mystery" }, "intent.provider"},
		{"trust out of range", func(c *Config) { c.Session.DefaultTrust = 101 }, "session.default_trust"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Intent.Provider = "none"
			tc.mutate(cfg)
			var cfgErr *ConfigurationError
			if err := cfg.Validate(); !errors.As(err, &cfgErr) || cfgErr.Field != tc.field {
				t.Fatalf("Validate() = %v, want field %q", err, tc.field)
			}
		})
	}
}

func TestSaveConfig_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permission bits are not enforced on Windows")
	}

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("config file has permission %04o, want 0600", perm)
	}
}

func TestLoadConfig_RoundTripsDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"session":{"idle_timeout":"5m","reattach_window":3600}}`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Session.IdleTimeout.Std() != 5*time.Minute {
		t.Fatalf("IdleTimeout = %v, want 5m", cfg.Session.IdleTimeout.Std())
	}
	if cfg.Session.ReattachWindow.Std() != time.Hour {
		t.Fatalf("ReattachWindow = %v, want 1h", cfg.Session.ReattachWindow.Std())
	}
	if cfg.Session.HistoryWindowTurns != 20 {
		t.Fatalf("unset fields should keep defaults, got %d", cfg.Session.HistoryWindowTurns)
	}
}

func TestLoadConfig_EnvOverridesWithoutFile(t *testing.T) {
	t.Setenv("HOMEAGENT_INTENT_PROVIDER", "anthropic")
	t.Setenv("HOMEAGENT_PROVIDERS_ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("HOMEAGENT_SESSION_IDLE_TIMEOUT", "90s")
	t.Setenv("HOMEAGENT_AUTHORIZATION_THRESHOLDS", "lights:10,tv:70")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Intent.Provider != "anthropic" {
		t.Fatalf("provider = %q", cfg.Intent.Provider)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-ant-test" {
		t.Fatalf("anthropic api key not loaded from env")
	}
	if cfg.Session.IdleTimeout.Std() != 90*time.Second {
		t.Fatalf("IdleTimeout = %v", cfg.Session.IdleTimeout.Std())
	}
	if cfg.Authorization.Thresholds["lights"] != 10 || cfg.Authorization.Thresholds["tv"] != 70 {
		t.Fatalf("thresholds = %#v", cfg.Authorization.Thresholds)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
