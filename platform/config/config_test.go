package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/leadflow")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_ACCESS_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.GetRuleCacheTTL() != 60*time.Second {
		t.Fatalf("expected 60s rule cache ttl, got %s", cfg.GetRuleCacheTTL())
	}
	if cfg.GetWebhookTimeout() != 5*time.Second {
		t.Fatalf("expected 5s webhook timeout, got %s", cfg.GetWebhookTimeout())
	}
	want := []time.Duration{0, 30 * time.Second, 5 * time.Minute}
	got := cfg.GetWebhookRetrySchedule()
	if len(got) != len(want) {
		t.Fatalf("expected %d retry delays, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("retry delay %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if !cfg.IsRoundRobinEnabled() {
		t.Fatalf("expected round robin to be enabled by default")
	}
	if cfg.GetCapLocation() != time.UTC {
		t.Fatalf("expected UTC cap location, got %s", cfg.GetCapLocation())
	}
}

func TestLoadMissingRedisURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("REDIS_URL", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when REDIS_URL is empty")
	}
}

func TestLoadRejectsInvalidRetrySchedule(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WEBHOOK_RETRY_SCHEDULE", "0s,soon")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unparsable retry schedule")
	}
}
