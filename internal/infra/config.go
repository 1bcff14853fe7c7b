package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string
	Port          string
	DatabaseURL   string
	PublicBaseURL string

	SongGenAPIKey  string
	SongGenBaseURL string
	SongGenModel   string

	PollInitialInterval time.Duration
	PollMaxInterval     time.Duration
	PollBackoffFactor   float64
	PollBudget          time.Duration
	PollSpacingFloor    time.Duration
	ProviderConcurrency int

	RetentionWindow time.Duration
	PurgeSchedule   string

	HTTPReadTimeout time.Duration
	HTTPIdleTimeout time.Duration
	RateLimitPerMin int

	AllowedOrigins []string
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. DATABASE_URL is optional: with it unset the service
// runs on the in-memory job store.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		PublicBaseURL: os.Getenv("PUBLIC_BASE_URL"),

		SongGenAPIKey:  os.Getenv("SONGGEN_API_KEY"),
		SongGenBaseURL: getEnv("SONGGEN_BASE_URL", "https://api.songgen.example.com/v2"),
		SongGenModel:   getEnv("SONGGEN_MODEL", "chirp-v3-5"),

		PollInitialInterval: time.Second * time.Duration(getEnvInt("POLL_INITIAL_INTERVAL_SECONDS", 2)),
		PollMaxInterval:     time.Second * time.Duration(getEnvInt("POLL_MAX_INTERVAL_SECONDS", 30)),
		PollBackoffFactor:   getEnvFloat("POLL_BACKOFF_FACTOR", 1.5),
		PollBudget:          time.Minute * time.Duration(getEnvInt("POLL_BUDGET_MINUTES", 10)),
		PollSpacingFloor:    time.Second * time.Duration(getEnvInt("POLL_SPACING_FLOOR_SECONDS", 1)),
		ProviderConcurrency: getEnvInt("PROVIDER_MAX_CONCURRENT", 8),

		RetentionWindow: time.Hour * time.Duration(getEnvInt("RETENTION_HOURS", 24)),
		PurgeSchedule:   getEnv("PURGE_SCHEDULE", "@hourly"),

		HTTPReadTimeout: time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPIdleTimeout: time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
	}

	if cfg.PollBackoffFactor < 1 {
		return nil, fmt.Errorf("POLL_BACKOFF_FACTOR must be >= 1")
	}

	if cfg.ProviderConcurrency < 1 {
		return nil, fmt.Errorf("PROVIDER_MAX_CONCURRENT must be >= 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
