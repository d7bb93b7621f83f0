package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full application configuration, loaded from the
// environment.
type Config struct {
	Environment string

	Database    DatabaseConfig
	Redis       RedisConfig
	Server      ServerConfig
	Processor   ProcessorConfig
	Concurrency ConcurrencyConfig
	Retry       RetryConfig
	Alerts      AlertsConfig
}

// Load reads every section from the environment, applying defaults.
func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Database:    loadDatabaseConfig(),
		Redis:       loadRedisConfig(),
		Server:      loadServerConfig(),
		Processor:   loadProcessorConfig(),
		Concurrency: loadConcurrencyConfig(),
		Retry:       loadRetryConfig(),
		Alerts:      loadAlertsConfig(),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvStringSlice(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
