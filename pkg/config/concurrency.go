package config

import "time"

// ConcurrencyConfig configures the global and per-actor execution limits.
type ConcurrencyConfig struct {
	MaxGlobalConcurrent int
	MaxPerActor         int
	LockTTL             time.Duration
	SweepInterval       time.Duration
}

func loadConcurrencyConfig() ConcurrencyConfig {
	return ConcurrencyConfig{
		MaxGlobalConcurrent: getEnvInt("CONCURRENCY_MAX_GLOBAL", 10),
		MaxPerActor:         getEnvInt("CONCURRENCY_MAX_PER_ACTOR", 3),
		LockTTL:             getEnvDuration("CONCURRENCY_LOCK_TTL", 30*time.Minute),
		SweepInterval:       getEnvDuration("CONCURRENCY_SWEEP_INTERVAL", 5*time.Minute),
	}
}
