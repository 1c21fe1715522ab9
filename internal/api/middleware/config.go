package middleware

import (
	"time"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/config"
)

// Config holds rate limiter configuration.
//
// Rates are requests per second. A burst of 0 is computed as 2 × rate.
type Config struct {
	GlobalRPS int
	ClientRPS int

	GlobalBurst int
	ClientBurst int

	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxClients      int
}

// LoadConfig loads rate limiter config from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS:       config.GetEnvInt("ILR_WORKER_GLOBAL_RPS", defaultGlobalRPS),
		ClientRPS:       config.GetEnvInt("ILR_WORKER_CLIENT_RPS", defaultClientRPS),
		GlobalBurst:     config.GetEnvInt("ILR_WORKER_GLOBAL_BURST", 0),
		ClientBurst:     config.GetEnvInt("ILR_WORKER_CLIENT_BURST", 0),
		CleanupInterval: config.GetEnvDuration("ILR_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval),
		IdleTimeout:     config.GetEnvDuration("ILR_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:      config.GetEnvInt("ILR_RATE_LIMIT_MAX_CLIENTS", defaultMaxClients),
	}
}
