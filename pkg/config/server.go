package config

import "time"

// ServerConfig configures the HTTP admin and monitoring surface.
type ServerConfig struct {
	Port         int
	APIKey       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:         getEnvInt("PORT", 8080),
		APIKey:       getEnv("ADMIN_API_KEY", ""),
		ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
	}
}
