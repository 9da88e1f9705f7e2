// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Storage settings. DatabaseURL selects Postgres; when it is empty,
	// SQLitePath selects the embedded store for local and dev setups.
	DatabaseURL string
	SQLitePath  string

	// Scheduler settings.
	Timezone             string // IANA name anchoring cron expressions, e.g. "Europe/Berlin".
	LatePaymentsSchedule string // cron expression for the late-payments agent.
	DrainSchedule        string // cron expression for the event router drain.

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// Admin bootstrap.
	AdminAPIKey string // API key for the initial operator token.

	// Drafting provider settings.
	AnthropicAPIKey string // Empty disables drafting; agents fall back to templates.
	DraftModel      string
	BriefModel      string

	// Notification settings.
	SMTPHost        string
	SMTPPort        int
	SMTPUser        string
	SMTPPassword    string
	SMTPFrom        string
	SlackWebhookURL string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	RetryBaseDelay      time.Duration
	MaxRequestBodyBytes int64

	// Token exchange throttling, per client IP. A rate of 0 disables it.
	AuthRateLimitRPS   float64
	AuthRateLimitBurst int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	var errs []string

	port, err := envInt("KURIA_PORT", 8080)
	if err != nil {
		errs = append(errs, err.Error())
	}
	smtpPort, err := envInt("KURIA_SMTP_PORT", 587)
	if err != nil {
		errs = append(errs, err.Error())
	}
	maxBody, err := envInt("KURIA_MAX_REQUEST_BODY_BYTES", 1*1024*1024)
	if err != nil {
		errs = append(errs, err.Error())
	}
	authBurst, err := envInt("KURIA_AUTH_RATELIMIT_BURST", 5)
	if err != nil {
		errs = append(errs, err.Error())
	}
	authRPS, err := envFloat("KURIA_AUTH_RATELIMIT_RPS", 1)
	if err != nil {
		errs = append(errs, err.Error())
	}

	cfg := Config{
		Port:                 port,
		ReadTimeout:          envDuration("KURIA_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:         envDuration("KURIA_WRITE_TIMEOUT", 30*time.Second),
		DatabaseURL:          envStr("DATABASE_URL", ""),
		SQLitePath:           envStr("KURIA_SQLITE_PATH", "kuria.db"),
		Timezone:             envStr("KURIA_TIMEZONE", "UTC"),
		LatePaymentsSchedule: envStr("KURIA_LATE_PAYMENTS_SCHEDULE", "0 6 * * *"),
		DrainSchedule:        envStr("KURIA_DRAIN_SCHEDULE", "15 6 * * *"),
		JWTPrivateKeyPath:    envStr("KURIA_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:     envStr("KURIA_JWT_PUBLIC_KEY", ""),
		JWTExpiration:        envDuration("KURIA_JWT_EXPIRATION", 24*time.Hour),
		AdminAPIKey:          envStr("KURIA_ADMIN_API_KEY", ""),
		AnthropicAPIKey:      envStr("ANTHROPIC_API_KEY", ""),
		DraftModel:           envStr("KURIA_DRAFT_MODEL", "claude-sonnet-4-5"),
		BriefModel:           envStr("KURIA_BRIEF_MODEL", "claude-haiku-4-5"),
		SMTPHost:             envStr("KURIA_SMTP_HOST", ""),
		SMTPPort:             smtpPort,
		SMTPUser:             envStr("KURIA_SMTP_USER", ""),
		SMTPPassword:         envStr("KURIA_SMTP_PASSWORD", ""),
		SMTPFrom:             envStr("KURIA_SMTP_FROM", "noreply@kuria.dev"),
		SlackWebhookURL:      envStr("SLACK_WEBHOOK_URL", ""),
		OTELEndpoint:         envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:         envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:          envStr("OTEL_SERVICE_NAME", "kuria"),
		LogLevel:             envStr("KURIA_LOG_LEVEL", "info"),
		RetryBaseDelay:       envDuration("KURIA_RETRY_BASE_DELAY", 1*time.Second),
		MaxRequestBodyBytes:  int64(maxBody),
		AuthRateLimitRPS:     authRPS,
		AuthRateLimitBurst:   authBurst,
	}

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return fmt.Errorf("one of DATABASE_URL or KURIA_SQLITE_PATH is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("KURIA_TIMEZONE %q is not a valid IANA timezone", c.Timezone)
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("KURIA_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("KURIA_RETRY_BASE_DELAY must be positive")
	}
	if c.AuthRateLimitRPS < 0 {
		return fmt.Errorf("KURIA_AUTH_RATELIMIT_RPS must not be negative")
	}
	if c.AuthRateLimitRPS > 0 && c.AuthRateLimitBurst < 1 {
		return fmt.Errorf("KURIA_AUTH_RATELIMIT_BURST must be at least 1")
	}
	return nil
}

// Location resolves the configured timezone. Validate guarantees it parses.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
