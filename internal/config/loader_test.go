package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Decision.DefaultThreshold != 0.85 {
		t.Errorf("expected threshold 0.85, got %v", cfg.Decision.DefaultThreshold)
	}
	if cfg.Breaker.MaxConsecutiveLow != 5 {
		t.Errorf("expected max consecutive low 5, got %d", cfg.Breaker.MaxConsecutiveLow)
	}
	if cfg.Breaker.Cooldown != time.Hour {
		t.Errorf("expected cooldown 1h, got %v", cfg.Breaker.Cooldown)
	}
	if cfg.Conversation.TTL != 14*24*time.Hour {
		t.Errorf("expected conversation ttl 14d, got %v", cfg.Conversation.TTL)
	}
	if cfg.Decision.OverrideWindow != 24*time.Hour {
		t.Errorf("expected override window 24h, got %v", cfg.Decision.OverrideWindow)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
decision:
  default_threshold: 0.9
breaker:
  cooldown: 30m
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Decision.DefaultThreshold != 0.9 {
		t.Errorf("expected threshold 0.9, got %v", cfg.Decision.DefaultThreshold)
	}
	if cfg.Breaker.Cooldown != 30*time.Minute {
		t.Errorf("expected cooldown 30m, got %v", cfg.Breaker.Cooldown)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.Decision.Weights.Intent != 0.4 {
		t.Errorf("expected default intent weight, got %v", cfg.Decision.Weights.Intent)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("SCHEDULERD_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("SCHEDULERD_STORE_DRIVER", "sqlite")
	t.Setenv("SCHEDULERD_BREAKER_MAX_LOW", "3")
	t.Setenv("SCHEDULERD_BREAKER_COOLDOWN", "10m")
	t.Setenv("SCHEDULERD_DEFAULT_THRESHOLD", "0.8")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Store.Driver)
	}
	if cfg.Breaker.MaxConsecutiveLow != 3 {
		t.Errorf("expected max low 3, got %d", cfg.Breaker.MaxConsecutiveLow)
	}
	if cfg.Breaker.Cooldown != 10*time.Minute {
		t.Errorf("expected cooldown 10m, got %v", cfg.Breaker.Cooldown)
	}
	if cfg.Decision.DefaultThreshold != 0.8 {
		t.Errorf("expected threshold 0.8, got %v", cfg.Decision.DefaultThreshold)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "empty DSN",
			modify: func(c *Config) { c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "unknown driver",
			modify: func(c *Config) { c.Store.Driver = "mongo" },
			errMsg: `store.driver must be postgres or sqlite, got "mongo"`,
		},
		{
			name:   "empty NATS URL",
			modify: func(c *Config) { c.NATS.URL = "" },
			errMsg: "nats.url is required when nats is enabled",
		},
		{
			name:   "threshold below range",
			modify: func(c *Config) { c.Decision.DefaultThreshold = 0.5 },
			errMsg: "decision.default_threshold must be within [0.70, 0.95]",
		},
		{
			name:   "threshold above range",
			modify: func(c *Config) { c.Decision.DefaultThreshold = 0.99 },
			errMsg: "decision.default_threshold must be within [0.70, 0.95]",
		},
		{
			name:   "zero weights",
			modify: func(c *Config) { c.Decision.Weights = Weights{} },
			errMsg: "decision.weights must not all be zero",
		},
		{
			name:   "zero breaker max low",
			modify: func(c *Config) { c.Breaker.MaxConsecutiveLow = 0 },
			errMsg: "breaker.max_consecutive_low must be >= 1",
		},
		{
			name:   "zero half-open successes",
			modify: func(c *Config) { c.Breaker.HalfOpenSuccesses = 0 },
			errMsg: "breaker.half_open_successes must be >= 1",
		},
		{
			name:   "auth without hash",
			modify: func(c *Config) { c.Auth.Enabled = true },
			errMsg: "auth.api_key_hash is required when auth is enabled",
		},
		{
			name:   "zero rate burst",
			modify: func(c *Config) { c.Rate.Burst = 0 },
			errMsg: "rate.burst must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadFrom_FullHierarchy(t *testing.T) {
	// YAML sets port=9090, env overrides to 7070. Env must win.
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
server:
  port: "9090"
logging:
  level: "debug"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SCHEDULERD_PORT", "7070")
	t.Setenv("SCHEDULERD_LOG_LEVEL", "warn")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("env should override YAML: got port %q, want 7070", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("env should override YAML: got level %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadFrom_InvalidYAMLThreshold(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte("decision:\n  default_threshold: 0.2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(yamlPath); err == nil {
		t.Fatal("expected validation error for out-of-range threshold")
	}
}
