package config

import "time"

// RetryConfig configures the default retry policy. Per-job-type overrides
// live in the store.
type RetryConfig struct {
	MaxRetries        int
	BaseDelay         time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	JitterEnabled     bool
	MaxJitter         time.Duration
	Enabled           bool
}

func loadRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        getEnvInt("RETRY_MAX_RETRIES", 5),
		BaseDelay:         getEnvDuration("RETRY_BASE_DELAY", 2*time.Hour),
		BackoffMultiplier: getEnvFloat("RETRY_BACKOFF_MULTIPLIER", 2.0),
		MaxDelay:          getEnvDuration("RETRY_MAX_DELAY", 24*time.Hour),
		JitterEnabled:     getEnvBool("RETRY_JITTER_ENABLED", true),
		MaxJitter:         getEnvDuration("RETRY_MAX_JITTER", 5*time.Minute),
		Enabled:           getEnvBool("RETRY_ENABLED", true),
	}
}
