package config

import (
	"testing"
	"time"

	"github.com/johnobriendev/notionesqueServer/internal/ratelimit"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_TRUST_EMAIL_HEADER", "")
	t.Setenv("RATE_LIMIT_INVITE_LIMIT", "")
	t.Setenv("APP_BASE_URL", "")

	cfg := Load()
	if cfg.TrustEmailHeader {
		t.Fatal("email header must not be trusted by default")
	}
	if rule := cfg.RateLimits[ratelimit.ClassInvite]; rule.Limit != 10 || rule.Window != 15*time.Minute {
		t.Fatalf("unexpected invite rule: %+v", rule)
	}
	if cfg.RateLimitBackend != "memory" {
		t.Fatalf("expected memory backend, got %q", cfg.RateLimitBackend)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTH_TRUST_EMAIL_HEADER", "true")
	t.Setenv("RATE_LIMIT_TASK_LIMIT", "5")
	t.Setenv("RATE_LIMIT_TASK_WINDOW", "90")
	t.Setenv("RATE_LIMIT_BULK_WINDOW", "2m")
	t.Setenv("RATE_LIMIT_COMMENT_LIMIT", "not-a-number")
	t.Setenv("APP_BASE_URL", "https://app.example.com/")

	cfg := Load()
	if !cfg.TrustEmailHeader {
		t.Fatal("expected trusted email header")
	}
	if rule := cfg.RateLimits[ratelimit.ClassTask]; rule.Limit != 5 || rule.Window != 90*time.Second {
		t.Fatalf("unexpected task rule: %+v", rule)
	}
	if rule := cfg.RateLimits[ratelimit.ClassBulk]; rule.Window != 2*time.Minute {
		t.Fatalf("unexpected bulk rule: %+v", rule)
	}
	if rule := cfg.RateLimits[ratelimit.ClassComment]; rule.Limit != 30 {
		t.Fatalf("expected fallback comment limit, got %+v", rule)
	}
	if cfg.AppBaseURL != "https://app.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.AppBaseURL)
	}
}
