package config

// AlertsConfig configures the alert delivery channels.
type AlertsConfig struct {
	Providers    []string
	MinSeverity  string
	FromAddress  string
	Recipients   []string
	AWSRegion    string
	WebhookURL   string
	RedisChannel string
}

func loadAlertsConfig() AlertsConfig {
	return AlertsConfig{
		Providers:    getEnvStringSlice("ALERTS_PROVIDERS", []string{"console"}),
		MinSeverity:  getEnv("ALERTS_MIN_SEVERITY", "warning"),
		FromAddress:  getEnv("ALERTS_FROM_ADDRESS", "alerts@batchx.local"),
		Recipients:   getEnvStringSlice("ALERTS_RECIPIENTS", nil),
		AWSRegion:    getEnv("ALERTS_AWS_REGION", getEnv("AWS_REGION", "us-east-1")),
		WebhookURL:   getEnv("ALERTS_WEBHOOK_URL", ""),
		RedisChannel: getEnv("ALERTS_REDIS_CHANNEL", "batchx:alerts"),
	}
}
