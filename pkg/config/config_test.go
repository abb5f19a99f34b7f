package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear any env vars that would override defaults
	envVars := []string{
		"SERVICE_NAME", "ENV", "LOG_LEVEL", "CREDPOOL_PORT",
		"REDIS_ADDR", "REDIS_DB", "DATABASE_URL", "NATS_URL", "AMQP_URL",
		"DEFAULT_CAPACITY", "MAX_ATTEMPTS", "RETRY_BACKOFF", "ACTIVATION_TIMEOUT",
		"SWEEP_ENABLED", "TRUSTED_PROXIES",
	}
	for _, key := range envVars {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.ServiceName != "credpool" {
		t.Errorf("expected ServiceName=credpool, got %s", cfg.ServiceName)
	}
	if cfg.Env != "dev" {
		t.Errorf("expected Env=dev, got %s", cfg.Env)
	}
	if cfg.Port != 9030 {
		t.Errorf("expected Port=9030, got %d", cfg.Port)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("expected RedisAddr=localhost:6379, got %s", cfg.RedisAddr)
	}
	if cfg.DatabaseURL != "" || cfg.NATSURL != "" || cfg.AMQPURL != "" {
		t.Errorf("expected optional sinks disabled by default")
	}
	if cfg.DefaultCapacity != 4 {
		t.Errorf("expected DefaultCapacity=4, got %d", cfg.DefaultCapacity)
	}
	if !cfg.SweepEnabled {
		t.Errorf("expected SweepEnabled=true by default")
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Errorf("expected no trusted proxies, got %v", cfg.TrustedProxies)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("expected MaxAttempts=5, got %d", cfg.MaxAttempts)
	}
	if cfg.RetryBackoff != 2*time.Second {
		t.Errorf("expected RetryBackoff=2s, got %v", cfg.RetryBackoff)
	}
	if cfg.ActivationTimeout != 30*time.Second {
		t.Errorf("expected ActivationTimeout=30s, got %v", cfg.ActivationTimeout)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CREDPOOL_PORT", "9999")
	t.Setenv("MAX_ATTEMPTS", "3")
	t.Setenv("RETRY_BACKOFF", "250ms")
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("SWEEP_ENABLED", "false")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.1,10.0.0.2")

	cfg := Load()

	if cfg.Port != 9999 {
		t.Errorf("expected Port=9999, got %d", cfg.Port)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("expected MaxAttempts=3, got %d", cfg.MaxAttempts)
	}
	if cfg.RetryBackoff != 250*time.Millisecond {
		t.Errorf("expected RetryBackoff=250ms, got %v", cfg.RetryBackoff)
	}
	if cfg.NATSURL != "nats://nats:4222" {
		t.Errorf("expected NATSURL override, got %s", cfg.NATSURL)
	}
	if cfg.SweepEnabled {
		t.Errorf("expected SweepEnabled=false")
	}
	if len(cfg.TrustedProxies) != 2 {
		t.Errorf("expected 2 trusted proxies, got %v", cfg.TrustedProxies)
	}
}

func TestGetEnvHelpers_InvalidFallsBack(t *testing.T) {
	t.Setenv("X_INT", "nope")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_LIST", " a, ,b ")

	if got := GetEnvInt("X_INT", 7); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
	if got := GetEnvBool("X_BOOL", true); !got {
		t.Errorf("expected true fallback")
	}
	if got := GetEnvDuration("X_DUR", time.Second); got != time.Second {
		t.Errorf("expected 1s, got %v", got)
	}
	list := GetEnvList("X_LIST", nil)
	if len(list) != 2 || list[0] != "a" || list[1] != "b" {
		t.Errorf("unexpected list %v", list)
	}
}
