package config

import (
	"os"
	"strconv"
	"time"

	"paywall-service/internal/pkg/token"
)

type AppConfig struct {
	// Server
	HTTPAddr    string
	DatabaseURL string
	RedisAddr   string
	RedisPass   string

	// JWT
	JWT token.Config

	// Payment provider
	ProviderBaseURL string
	ProviderAPIKey  string
	// Shared secret for webhook signature verification
	WebhookSecret   string
	ProviderTimeout time.Duration

	// Reconciliation tuning
	GracePeriodDays  int
	DeclineThreshold int
	PendingTTL       time.Duration
	SweepInterval    time.Duration
}

// Load loads environment variables into AppConfig.
func Load() AppConfig {
	return AppConfig{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8000"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:   getEnv("REDIS_PASS", ""),

		JWT: token.Config{
			Secret:   getEnv("JWT_SECRET", ""),
			Issuer:   "paywall-service",
			Audience: "paywall-users",
			TTL:      720 * time.Hour,
		},

		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", ""),
		ProviderAPIKey:  getEnv("PROVIDER_API_KEY", ""),
		WebhookSecret:   getEnv("PROVIDER_WEBHOOK_SECRET", ""),
		ProviderTimeout: time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 10)) * time.Second,

		GracePeriodDays:  getEnvInt("GRACE_PERIOD_DAYS", 0),
		DeclineThreshold: getEnvInt("DECLINE_THRESHOLD", 3),
		PendingTTL:       time.Duration(getEnvInt("PENDING_TTL_HOURS", 24)) * time.Hour,
		SweepInterval:    time.Duration(getEnvInt("SWEEP_INTERVAL_MINUTES", 60)) * time.Minute,
	}
}

// --- Helper functions ---

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
