package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "HOST", "DATABASE_URL", "APPROVAL_THRESHOLD", "REVIEW_REVISIONS"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want \"0.0.0.0\"", cfg.Host)
	}
	if cfg.DatabaseURL != "sqlite://trickbook.db" {
		t.Errorf("DatabaseURL = %q, want \"sqlite://trickbook.db\"", cfg.DatabaseURL)
	}
	if cfg.ApprovalThreshold != 10 {
		t.Errorf("ApprovalThreshold = %d, want 10", cfg.ApprovalThreshold)
	}
	if cfg.VoteCeiling != 50 {
		t.Errorf("VoteCeiling = %d, want 50", cfg.VoteCeiling)
	}
	if !cfg.ReviewRevisions {
		t.Error("ReviewRevisions should default to true")
	}
	if cfg.InactivePrerequisitePolicy != "satisfied" {
		t.Errorf("InactivePrerequisitePolicy = %q, want \"satisfied\"", cfg.InactivePrerequisitePolicy)
	}
	if cfg.RateLimitWindow != time.Hour {
		t.Errorf("RateLimitWindow = %v, want 1h", cfg.RateLimitWindow)
	}
	if cfg.Production() {
		t.Error("default environment should not be production")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("APP_ENV", "Production")
	t.Setenv("DATABASE_URL", "postgres://trick:book@db:5432/trickbook")
	t.Setenv("APPROVAL_THRESHOLD", "5")
	t.Setenv("REVIEW_REVISIONS", "off")
	t.Setenv("SCORE_CACHE_TTL", "30s")
	t.Setenv("OTEL_SAMPLER_RATIO", "0.5")

	cfg := Load()

	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want \"127.0.0.1\"", cfg.Host)
	}
	if !cfg.Production() {
		t.Error("APP_ENV=Production should be production")
	}
	if cfg.DatabaseURL != "postgres://trick:book@db:5432/trickbook" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.ApprovalThreshold != 5 {
		t.Errorf("ApprovalThreshold = %d, want 5", cfg.ApprovalThreshold)
	}
	if cfg.ReviewRevisions {
		t.Error("REVIEW_REVISIONS=off should disable review")
	}
	if cfg.ScoreCacheTTL != 30*time.Second {
		t.Errorf("ScoreCacheTTL = %v, want 30s", cfg.ScoreCacheTTL)
	}
	if cfg.OTelSampleRatio != 0.5 {
		t.Errorf("OTelSampleRatio = %v, want 0.5", cfg.OTelSampleRatio)
	}
}

func TestGetEnvInvalidValues(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("REVIEW_REVISIONS", "maybe")
	t.Setenv("RATE_LIMIT_WINDOW", "invalid")

	cfg := Load()
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080 (default on invalid)", cfg.Port)
	}
	if !cfg.ReviewRevisions {
		t.Error("ReviewRevisions should fall back to default on invalid")
	}
	if cfg.RateLimitWindow != time.Hour {
		t.Errorf("RateLimitWindow = %v, want 1h (default on invalid)", cfg.RateLimitWindow)
	}
}
