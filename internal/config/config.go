package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-wide settings, read once at startup from the
// environment and treated as immutable afterwards.
type Config struct {
	// Database
	DatabaseURL string

	// Tokens
	AuthSecret  string
	TokenIssuer string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	SessionTTL  time.Duration

	// Lockout / throttling
	LockoutThreshold int
	LockoutDuration  time.Duration
	ThrottleWindow   time.Duration
	ThrottleMaxHits  int

	// Permission cache
	PermissionCacheTTL time.Duration

	// Registration
	RequireEmailVerification bool

	// HTTP
	ServerPort      string
	RateLimitBurst  int
	RateLimitPerSec int
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
}

// Load reads Config from environment variables. Missing required variables
// are reported together in a single error.
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("EDUGATE_PG_DSN")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "EDUGATE_PG_DSN")
	}

	cfg.AuthSecret = os.Getenv("EDUGATE_AUTH_SECRET")
	if cfg.AuthSecret == "" {
		missing = append(missing, "EDUGATE_AUTH_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.TokenIssuer = getEnvString("EDUGATE_TOKEN_ISSUER", "edugate")
	cfg.AccessTTL = getEnvDuration("EDUGATE_ACCESS_TTL", 15*time.Minute)
	cfg.RefreshTTL = getEnvDuration("EDUGATE_REFRESH_TTL", 7*24*time.Hour)
	cfg.SessionTTL = getEnvDuration("EDUGATE_SESSION_TTL", 24*time.Hour)

	cfg.LockoutThreshold = getEnvInt("EDUGATE_LOCKOUT_THRESHOLD", 5)
	cfg.LockoutDuration = getEnvDuration("EDUGATE_LOCKOUT_DURATION", 30*time.Minute)
	cfg.ThrottleWindow = getEnvDuration("EDUGATE_THROTTLE_WINDOW", 15*time.Minute)
	cfg.ThrottleMaxHits = getEnvInt("EDUGATE_THROTTLE_MAX_HITS", 20)

	cfg.PermissionCacheTTL = getEnvDuration("EDUGATE_PERMISSION_CACHE_TTL", 5*time.Minute)

	cfg.RequireEmailVerification = getEnvBool("EDUGATE_REQUIRE_EMAIL_VERIFICATION", false)

	cfg.ServerPort = getEnvString("EDUGATE_PORT", "8080")
	cfg.RateLimitBurst = getEnvInt("EDUGATE_RATE_LIMIT_BURST", 30)
	cfg.RateLimitPerSec = getEnvInt("EDUGATE_RATE_LIMIT_PER_SEC", 10)
	cfg.MaxBodyBytes = int64(getEnvInt("EDUGATE_MAX_BODY_BYTES", 1<<20))
	cfg.ShutdownTimeout = getEnvDuration("EDUGATE_SHUTDOWN_TIMEOUT", 10*time.Second)

	return cfg, nil
}

func getEnvString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
