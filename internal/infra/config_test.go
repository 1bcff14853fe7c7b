package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("port = %q, want 8080", cfg.Port)
	}
	if cfg.PollInitialInterval != 2*time.Second {
		t.Fatalf("poll initial interval = %v, want 2s", cfg.PollInitialInterval)
	}
	if cfg.PollBudget != 10*time.Minute {
		t.Fatalf("poll budget = %v, want 10m", cfg.PollBudget)
	}
	if cfg.ProviderConcurrency != 8 {
		t.Fatalf("provider concurrency = %d, want 8", cfg.ProviderConcurrency)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("POLL_BUDGET_MINUTES", "3")
	t.Setenv("POLL_BACKOFF_FACTOR", "2.0")
	t.Setenv("RETENTION_HOURS", "48")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PollBudget != 3*time.Minute {
		t.Fatalf("poll budget = %v, want 3m", cfg.PollBudget)
	}
	if cfg.PollBackoffFactor != 2.0 {
		t.Fatalf("backoff factor = %v, want 2.0", cfg.PollBackoffFactor)
	}
	if cfg.RetentionWindow != 48*time.Hour {
		t.Fatalf("retention = %v, want 48h", cfg.RetentionWindow)
	}
}

func TestLoadConfigRejectsBadFactor(t *testing.T) {
	t.Setenv("POLL_BACKOFF_FACTOR", "0.5")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for backoff factor below 1")
	}
}
