package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int

	RedisURL         string
	QueueBase        string
	QueueVisibility  time.Duration
	QueueWaitTime    time.Duration
	QueueMaxAttempts int

	WorkerToken string
	StoragePath string

	DefaultProvider string
	GeminiAPIKey    string
	GeminiModel     string
	GeminiBaseURL   string

	SweepInterval time.Duration
	SweepAfter    time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),

		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		QueueBase:        getEnv("QUEUE_BASE", "lore:asset-jobs"),
		QueueVisibility:  time.Second * time.Duration(getEnvInt("QUEUE_VISIBILITY_SECONDS", 900)),
		QueueWaitTime:    time.Second * time.Duration(getEnvInt("QUEUE_WAIT_SECONDS", 5)),
		QueueMaxAttempts: getEnvInt("QUEUE_MAX_ATTEMPTS", 3),

		WorkerToken: os.Getenv("WORKER_TOKEN"),
		StoragePath: getEnv("STORAGE_PATH", "./data/assets"),

		DefaultProvider: getEnv("PROVIDER", "synthetic"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiBaseURL:   getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),

		SweepInterval: time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 300)),
		SweepAfter:    time.Second * time.Duration(getEnvInt("SWEEP_AFTER_SECONDS", 1800)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.WorkerToken == "" {
		return nil, fmt.Errorf("WORKER_TOKEN is required")
	}

	if cfg.SweepAfter < cfg.QueueVisibility {
		// Sweeping inside the visibility window duplicates in-flight work.
		cfg.SweepAfter = 2 * cfg.QueueVisibility
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
