package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("EDUGATE_PG_DSN", "")
	t.Setenv("EDUGATE_AUTH_SECRET", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing required variables")
	}
	if !strings.Contains(err.Error(), "EDUGATE_PG_DSN") || !strings.Contains(err.Error(), "EDUGATE_AUTH_SECRET") {
		t.Fatalf("error should name every missing variable: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EDUGATE_PG_DSN", "postgres://localhost/edugate")
	t.Setenv("EDUGATE_AUTH_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LockoutThreshold != 5 {
		t.Fatalf("unexpected lockout threshold: %d", cfg.LockoutThreshold)
	}
	if cfg.LockoutDuration != 30*time.Minute {
		t.Fatalf("unexpected lockout duration: %v", cfg.LockoutDuration)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.AccessTTL)
	}
	if cfg.PermissionCacheTTL != 5*time.Minute {
		t.Fatalf("unexpected cache ttl: %v", cfg.PermissionCacheTTL)
	}
	if cfg.RequireEmailVerification {
		t.Fatal("email verification should default to off")
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("unexpected port: %s", cfg.ServerPort)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EDUGATE_PG_DSN", "postgres://localhost/edugate")
	t.Setenv("EDUGATE_AUTH_SECRET", "test-secret")
	t.Setenv("EDUGATE_LOCKOUT_THRESHOLD", "3")
	t.Setenv("EDUGATE_LOCKOUT_DURATION", "10m")
	t.Setenv("EDUGATE_REQUIRE_EMAIL_VERIFICATION", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LockoutThreshold != 3 {
		t.Fatalf("override ignored: %d", cfg.LockoutThreshold)
	}
	if cfg.LockoutDuration != 10*time.Minute {
		t.Fatalf("override ignored: %v", cfg.LockoutDuration)
	}
	if !cfg.RequireEmailVerification {
		t.Fatal("override ignored: RequireEmailVerification")
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("EDUGATE_PG_DSN", "postgres://localhost/edugate")
	t.Setenv("EDUGATE_AUTH_SECRET", "test-secret")
	t.Setenv("EDUGATE_LOCKOUT_THRESHOLD", "not-a-number")
	t.Setenv("EDUGATE_ACCESS_TTL", "-5m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LockoutThreshold != 5 {
		t.Fatalf("expected fallback threshold, got %d", cfg.LockoutThreshold)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("expected fallback access ttl, got %v", cfg.AccessTTL)
	}
}
