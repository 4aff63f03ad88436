package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "schedulerd.yaml"

// Threshold bounds accepted for the auto_respond cut-off.
const (
	MinThreshold = 0.70
	MaxThreshold = 0.95
)

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("SCHEDULERD_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SCHEDULERD_PORT")
	setString(&cfg.Server.CORSOrigin, "SCHEDULERD_CORS_ORIGIN")
	setString(&cfg.Store.Driver, "SCHEDULERD_STORE_DRIVER")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SCHEDULERD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SCHEDULERD_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SCHEDULERD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SCHEDULERD_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SCHEDULERD_PG_HEALTH_CHECK")
	setString(&cfg.SQLite.Path, "SCHEDULERD_SQLITE_PATH")
	setString(&cfg.NATS.URL, "NATS_URL")
	setBool(&cfg.NATS.Enabled, "SCHEDULERD_NATS_ENABLED")
	setString(&cfg.NATS.Stream, "SCHEDULERD_NATS_STREAM")
	setInt(&cfg.NATS.MaxDeliver, "SCHEDULERD_NATS_MAX_DELIVER")
	setString(&cfg.NATS.IdempotencyBucket, "SCHEDULERD_IDEMPOTENCY_BUCKET")
	setString(&cfg.Logging.Level, "SCHEDULERD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SCHEDULERD_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SCHEDULERD_LOG_ASYNC")

	// Decision policy
	setFloat64(&cfg.Decision.DefaultThreshold, "SCHEDULERD_DEFAULT_THRESHOLD")
	setFloat64(&cfg.Decision.ApprovalFloor, "SCHEDULERD_APPROVAL_FLOOR")
	setFloat64(&cfg.Decision.Weights.Intent, "SCHEDULERD_WEIGHT_INTENT")
	setFloat64(&cfg.Decision.Weights.TimeParsing, "SCHEDULERD_WEIGHT_TIME_PARSING")
	setFloat64(&cfg.Decision.Weights.SenderTrust, "SCHEDULERD_WEIGHT_SENDER_TRUST")
	setFloat64(&cfg.Decision.Weights.ConversationClarity, "SCHEDULERD_WEIGHT_CONVERSATION_CLARITY")
	setDuration(&cfg.Decision.OverrideWindow, "SCHEDULERD_OVERRIDE_WINDOW")
	setDuration(&cfg.Decision.Retention, "SCHEDULERD_AUDIT_RETENTION")

	// Automation breaker
	setInt(&cfg.Breaker.MaxConsecutiveLow, "SCHEDULERD_BREAKER_MAX_LOW")
	setDuration(&cfg.Breaker.Cooldown, "SCHEDULERD_BREAKER_COOLDOWN")
	setInt(&cfg.Breaker.HalfOpenSuccesses, "SCHEDULERD_BREAKER_HALF_OPEN_SUCCESSES")

	// Collaborators
	setString(&cfg.Collaborators.CalendarURL, "SCHEDULERD_CALENDAR_URL")
	setDuration(&cfg.Collaborators.CalendarTimeout, "SCHEDULERD_CALENDAR_TIMEOUT")
	setDuration(&cfg.Collaborators.TrustTimeout, "SCHEDULERD_TRUST_TIMEOUT")
	setDuration(&cfg.Collaborators.AuditTimeout, "SCHEDULERD_AUDIT_TIMEOUT")
	setDuration(&cfg.Collaborators.SendTimeout, "SCHEDULERD_SEND_TIMEOUT")
	setInt(&cfg.Collaborators.MaxFailures, "SCHEDULERD_COLLAB_MAX_FAILURES")
	setDuration(&cfg.Collaborators.OpenTimeout, "SCHEDULERD_COLLAB_OPEN_TIMEOUT")

	// Conversation
	setDuration(&cfg.Conversation.TTL, "SCHEDULERD_CONVERSATION_TTL")
	setInt(&cfg.Conversation.MaxHistory, "SCHEDULERD_CONVERSATION_MAX_HISTORY")
	setString(&cfg.Conversation.SweepSchedule, "SCHEDULERD_SWEEP_SCHEDULE")

	// Worker
	setInt(&cfg.Worker.MaxConcurrent, "SCHEDULERD_WORKER_MAX_CONCURRENT")
	setInt(&cfg.Worker.QueueSize, "SCHEDULERD_WORKER_QUEUE_SIZE")
	setDuration(&cfg.Worker.IdleTimeout, "SCHEDULERD_WORKER_IDLE_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "SCHEDULERD_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "SCHEDULERD_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.TTL, "SCHEDULERD_CACHE_TTL")

	// Email
	setString(&cfg.Email.SendGridAPIKey, "SENDGRID_API_KEY")
	setString(&cfg.Email.FromAddress, "SCHEDULERD_EMAIL_FROM")
	setString(&cfg.Email.FromName, "SCHEDULERD_EMAIL_FROM_NAME")
	setString(&cfg.Email.SMTPHost, "SCHEDULERD_SMTP_HOST")
	setInt(&cfg.Email.SMTPPort, "SCHEDULERD_SMTP_PORT")
	setString(&cfg.Email.SMTPFrom, "SCHEDULERD_SMTP_FROM")
	setString(&cfg.Email.SMTPPassword, "SCHEDULERD_SMTP_PASSWORD")
	setString(&cfg.Email.NotifyAddress, "SCHEDULERD_NOTIFY_ADDRESS")
	setString(&cfg.Email.SlackWebhookURL, "SCHEDULERD_SLACK_WEBHOOK_URL")

	// Auth, rate, telemetry
	setBool(&cfg.Auth.Enabled, "SCHEDULERD_AUTH_ENABLED")
	setString(&cfg.Auth.APIKeyHash, "SCHEDULERD_API_KEY_HASH")
	setFloat64(&cfg.Rate.RequestsPerSecond, "SCHEDULERD_RATE_RPS")
	setInt(&cfg.Rate.Burst, "SCHEDULERD_RATE_BURST")
	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTel.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTel.Insecure, "SCHEDULERD_OTEL_INSECURE")
}

// validate checks that required fields are set and ranges hold.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			return errors.New("sqlite.path is required")
		}
	default:
		return fmt.Errorf("store.driver must be postgres or sqlite, got %q", cfg.Store.Driver)
	}
	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	if cfg.Decision.DefaultThreshold < MinThreshold || cfg.Decision.DefaultThreshold > MaxThreshold {
		return fmt.Errorf("decision.default_threshold must be within [%.2f, %.2f]", MinThreshold, MaxThreshold)
	}
	if cfg.Decision.ApprovalFloor <= 0 || cfg.Decision.ApprovalFloor > cfg.Decision.DefaultThreshold {
		return errors.New("decision.approval_floor must be > 0 and <= default_threshold")
	}
	w := cfg.Decision.Weights
	if w.Intent < 0 || w.TimeParsing < 0 || w.SenderTrust < 0 || w.ConversationClarity < 0 {
		return errors.New("decision.weights must be non-negative")
	}
	if sum := w.Intent + w.TimeParsing + w.SenderTrust + w.ConversationClarity; math.Abs(sum) < 1e-9 {
		return errors.New("decision.weights must not all be zero")
	}
	if cfg.Decision.OverrideWindow <= 0 {
		return errors.New("decision.override_window must be > 0")
	}
	if cfg.Breaker.MaxConsecutiveLow < 1 {
		return errors.New("breaker.max_consecutive_low must be >= 1")
	}
	if cfg.Breaker.Cooldown <= 0 {
		return errors.New("breaker.cooldown must be > 0")
	}
	if cfg.Breaker.HalfOpenSuccesses < 1 {
		return errors.New("breaker.half_open_successes must be >= 1")
	}
	c := cfg.Collaborators
	if c.CalendarTimeout <= 0 || c.TrustTimeout <= 0 || c.AuditTimeout <= 0 || c.SendTimeout <= 0 {
		return errors.New("collaborators timeouts must be > 0")
	}
	if c.MaxFailures < 1 {
		return errors.New("collaborators.max_failures must be >= 1")
	}
	if cfg.Conversation.TTL <= 0 {
		return errors.New("conversation.ttl must be > 0")
	}
	if cfg.Conversation.MaxHistory < 1 {
		return errors.New("conversation.max_history must be >= 1")
	}
	if cfg.Worker.MaxConcurrent < 1 {
		return errors.New("worker.max_concurrent must be >= 1")
	}
	if cfg.Auth.Enabled && cfg.Auth.APIKeyHash == "" {
		return errors.New("auth.api_key_hash is required when auth is enabled")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
