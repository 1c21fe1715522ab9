package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/api/middleware"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/config"
)

const (
	defaultPort            int    = 8081
	maxPort                int    = 65535
	defaultHost            string = "0.0.0.0"
	defaultReadTimeout            = 2 * time.Minute
	defaultWriteTimeout           = 10 * time.Minute
	defaultShutdownTimeout        = 30 * time.Second
	defaultLogLevel               = slog.LevelInfo
	// A shard body carries the whole reference data snapshot of the run.
	defaultMaxRequestSize int64 = 512 << 20
)

var (
	// ErrInvalidPort indicates the port number is outside valid range (1-65535).
	ErrInvalidPort = errors.New("invalid port")

	// ErrEmptyHost indicates the server host address is empty.
	ErrEmptyHost = errors.New("host cannot be empty")

	// ErrInvalidReadTimeout indicates the read timeout is zero or negative.
	ErrInvalidReadTimeout = errors.New("read timeout must be positive")

	// ErrInvalidWriteTimeout indicates the write timeout is zero or negative.
	ErrInvalidWriteTimeout = errors.New("write timeout must be positive")

	// ErrInvalidShutdownTimeout indicates the shutdown timeout is zero or negative.
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")

	// ErrInvalidMaxRequestSize indicates the max request size is zero or negative.
	ErrInvalidMaxRequestSize = errors.New("max request size must be positive")
)

// ServerConfig holds worker server configuration.
// Pure configuration only - no runtime dependencies.
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	LogLevel        slog.Level
	MaxRequestSize  int64

	// APIKeyHashes are bcrypt hashes of accepted keys; APIKeys are plaintext keys
	// hashed at startup. Authentication is off when both are empty.
	APIKeyHashes []string
	// APIKeys is read from the environment only.
	APIKeys []string

	RateLimitEnabled bool
	RateLimit        *middleware.Config
}

// LoadServerConfig loads server configuration from environment variables with sensible defaults.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:             config.GetEnvInt("ILR_WORKER_PORT", defaultPort),
		Host:             config.GetEnvStr("ILR_WORKER_HOST", defaultHost),
		ReadTimeout:      config.GetEnvDuration("ILR_WORKER_READ_TIMEOUT", defaultReadTimeout),
		WriteTimeout:     config.GetEnvDuration("ILR_WORKER_WRITE_TIMEOUT", defaultWriteTimeout),
		ShutdownTimeout:  config.GetEnvDuration("ILR_WORKER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		LogLevel:         config.GetEnvLogLevel("ILR_LOG_LEVEL", defaultLogLevel),
		MaxRequestSize:   config.GetEnvInt64("ILR_WORKER_MAX_REQUEST_SIZE", defaultMaxRequestSize),
		APIKeyHashes:     config.GetEnvList("ILR_WORKER_API_KEY_HASHES", nil),
		APIKeys:          config.GetEnvList("ILR_WORKER_API_KEY", nil),
		RateLimitEnabled: config.GetEnvBool("ILR_WORKER_RATE_LIMIT_ENABLED", false),
		RateLimit:        middleware.LoadConfig(),
	}
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthEnabled reports whether any API key is configured.
func (c *ServerConfig) AuthEnabled() bool {
	return len(c.APIKeyHashes) > 0 || len(c.APIKeys) > 0
}

// KeyVerifier builds the verifier for the configured keys, or nil when
// authentication is off.
func (c *ServerConfig) KeyVerifier() (*middleware.HashedKeys, error) {
	if !c.AuthEnabled() {
		return nil, nil //nolint:nilnil // nil verifier disables authentication
	}

	hashes := append([]string{}, c.APIKeyHashes...)

	for _, key := range c.APIKeys {
		h, err := middleware.HashAPIKey(key)
		if err != nil {
			return nil, err
		}

		hashes = append(hashes, h)
	}

	return middleware.NewHashedKeys(hashes...)
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > maxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, maxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	if c.MaxRequestSize <= 0 {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidMaxRequestSize, c.MaxRequestSize)
	}

	return nil
}
