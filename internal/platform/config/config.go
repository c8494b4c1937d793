package config

import (
	"os"
	"strconv"
	"time"

	"careadmin/internal/session"
)

// Config captures everything main needs to wire the process. Values are read
// once at startup; there is no live reload.
type Config struct {
	Addr     string
	LogLevel string

	DatabaseURL string
	RedisURL    string

	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string

	SessionTimeout time.Duration
	SweepInterval  time.Duration

	AuditBuffer        int
	AuditRetentionDays int
	TokenRetentionDays int
}

// FromEnv builds the config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:               envOr("CAREADMIN_ADDR", ":8080"),
		LogLevel:           envOr("LOG_LEVEL", "info"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		JWTSigningKey:      envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:          envOr("JWT_ISSUER", "careadmin"),
		JWTAudience:        envOr("JWT_AUDIENCE", "careadmin-dashboard"),
		SessionTimeout:     session.ParseTimeout(envOr("SESSION_TIMEOUT", "30m")),
		SweepInterval:      session.ParseTimeout(envOr("SESSION_SWEEP_INTERVAL", "5m")),
		AuditBuffer:        envInt("AUDIT_BUFFER", 256),
		AuditRetentionDays: envInt("AUDIT_LOG_RETENTION_DAYS", 2555),
		TokenRetentionDays: envInt("RESET_TOKEN_RETENTION_DAYS", 7),
	}
	return cfg
}

// AuditWindow converts the configured day count to a duration.
func (c Config) AuditWindow() time.Duration {
	return time.Duration(c.AuditRetentionDays) * 24 * time.Hour
}

// TokenWindow converts the configured day count to a duration.
func (c Config) TokenWindow() time.Duration {
	return time.Duration(c.TokenRetentionDays) * 24 * time.Hour
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
