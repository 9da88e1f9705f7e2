package config

import (
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	if !envBool("TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("TEST_BOOL_BAD", "yep")
	if envBool("TEST_BOOL_BAD", false) {
		t.Fatal("expected fallback false for unparsable value")
	}
	if !envBool("TEST_BOOL_MISSING", true) {
		t.Fatal("expected fallback true")
	}
}

func TestEnvFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "2.5")
	v, err := envFloat("TEST_FLOAT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 2.5 {
		t.Fatalf("expected 2.5, got %v", v)
	}
	if _, err := envFloat("TEST_FLOAT_BAD", 1); err != nil {
		t.Fatalf("unexpected error for missing value: %v", err)
	}
	t.Setenv("TEST_FLOAT_BAD", "fast")
	if _, err := envFloat("TEST_FLOAT_BAD", 1); err == nil {
		t.Fatal("expected error for non-numeric value, got nil")
	}
}

func TestEnvDurationFallbackOnGarbage(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "soon")
	if d := envDuration("TEST_DUR_BAD", 5*time.Second); d != 5*time.Second {
		t.Fatalf("expected fallback 5s, got %v", d)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.SQLitePath != "kuria.db" {
		t.Fatalf("expected default sqlite path, got %s", cfg.SQLitePath)
	}
	if cfg.LatePaymentsSchedule != "0 6 * * *" {
		t.Fatalf("unexpected default schedule: %s", cfg.LatePaymentsSchedule)
	}
	if cfg.RetryBaseDelay != time.Second {
		t.Fatalf("expected 1s retry base delay, got %v", cfg.RetryBaseDelay)
	}
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	t.Setenv("KURIA_TIMEZONE", "Mars/Olympus_Mons")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown timezone, got nil")
	}
}

func TestValidateRequiresAStore(t *testing.T) {
	cfg := Config{
		Timezone:            "UTC",
		MaxRequestBodyBytes: 1,
		RetryBaseDelay:      time.Second,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when neither store is configured, got nil")
	}
	cfg.SQLitePath = "x.db"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLocationResolvesConfiguredTimezone(t *testing.T) {
	cfg := Config{Timezone: "Europe/Berlin"}
	if got := cfg.Location().String(); got != "Europe/Berlin" {
		t.Fatalf("expected Europe/Berlin, got %s", got)
	}
}
