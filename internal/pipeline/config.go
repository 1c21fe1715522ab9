package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/config"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/dispatch"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/lookup"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/partition"
)

// DefaultConfigPath is the default location of the optional tuning file.
const DefaultConfigPath = ".ilrvalidation.yaml"

// ConfigPathEnvVar is the environment variable naming a custom tuning file.
const ConfigPathEnvVar = "ILR_CONFIG_PATH"

// Worker modes.
const (
	WorkerModeLocal  = "local"
	WorkerModeRemote = "remote"
)

const defaultWorkerTimeout = 5 * time.Minute

var (
	// ErrInvalidShardPolicy is returned when a shard size threshold is below 1.
	ErrInvalidShardPolicy = errors.New("invalid shard size policy")
	// ErrInvalidBatchSize is returned when the lookup batch size is below 1.
	ErrInvalidBatchSize = errors.New("invalid lookup batch size")
	// ErrInvalidConcurrency is returned for a negative concurrency limit.
	ErrInvalidConcurrency = errors.New("invalid max concurrency")
	// ErrInvalidWorkerMode is returned for a worker mode other than local or remote.
	ErrInvalidWorkerMode = errors.New("invalid worker mode")
	// ErrNoWorkerURLs is returned when remote mode has no worker endpoints.
	ErrNoWorkerURLs = errors.New("remote worker mode requires at least one worker URL")
)

// Config tunes a validation run.
//
// Values come from the defaults, then the optional YAML file, then ILR_* environment
// variables; later sources win.
type Config struct {
	// LowWaterMark is the learner count below which a submission forms shards of
	// LowWaterMark learners; at or above it shards hold SmallShardSize learners.
	LowWaterMark   int `yaml:"low_water_mark"`
	SmallShardSize int `yaml:"small_shard_size"`
	// FixedShardSize overrides the threshold policy when positive.
	FixedShardSize int `yaml:"fixed_shard_size"`

	BatchSize     int `yaml:"batch_size"`
	LookupRetries int `yaml:"lookup_retries"`

	// MaxConcurrency bounds the shards in flight; 0 selects GOMAXPROCS.
	MaxConcurrency int           `yaml:"max_concurrency"`
	WorkerMode     string        `yaml:"worker_mode"`
	WorkerURLs     []string      `yaml:"worker_urls"`
	WorkerTimeout  time.Duration `yaml:"worker_timeout"`
	// WorkerAPIKey is read from the environment only.
	WorkerAPIKey string `yaml:"-"`
	// RunTimeout bounds a whole run; 0 disables the bound.
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() *Config {
	policy := partition.DefaultPolicy()

	return &Config{
		LowWaterMark:   policy.LowWaterMark,
		SmallShardSize: policy.SmallShardSize,
		BatchSize:      lookup.DefaultBatchSize,
		WorkerMode:     WorkerModeLocal,
		WorkerURLs:     []string{},
		WorkerTimeout:  defaultWorkerTimeout,
	}
}

// LoadConfig builds the configuration from the defaults, the YAML file at path and the environment.
//
// A missing, unreadable or invalid file is logged and skipped; the tuning file is optional.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()

	overlayFile(cfg, path)
	overlayEnv(cfg)

	return cfg
}

// LoadConfigFromEnv loads the configuration using the file named by ILR_CONFIG_PATH,
// falling back to ".ilrvalidation.yaml" in the working directory.
func LoadConfigFromEnv() *Config {
	return LoadConfig(config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath))
}

func overlayFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Config file not found, continuing with defaults", slog.String("path", path))
			return
		}

		slog.Warn("Failed to read config file, continuing with defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return
	}

	if len(data) == 0 {
		return
	}

	// Decode into a copy so a half-applied invalid file leaves cfg untouched.
	overlay := *cfg
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		slog.Warn("Failed to parse config file, continuing with defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return
	}

	*cfg = overlay
}

func overlayEnv(cfg *Config) {
	cfg.LowWaterMark = config.GetEnvInt("ILR_SHARD_LOW_WATER_MARK", cfg.LowWaterMark)
	cfg.SmallShardSize = config.GetEnvInt("ILR_SHARD_SIZE_SMALL", cfg.SmallShardSize)
	cfg.FixedShardSize = config.GetEnvInt("ILR_SHARD_SIZE_FIXED", cfg.FixedShardSize)
	cfg.BatchSize = config.GetEnvInt("ILR_LOOKUP_BATCH_SIZE", cfg.BatchSize)
	cfg.LookupRetries = config.GetEnvInt("ILR_LOOKUP_RETRIES", cfg.LookupRetries)
	cfg.MaxConcurrency = config.GetEnvInt("ILR_MAX_CONCURRENCY", cfg.MaxConcurrency)
	cfg.WorkerMode = strings.ToLower(config.GetEnvStr("ILR_WORKER_MODE", cfg.WorkerMode))
	cfg.WorkerURLs = config.GetEnvList("ILR_WORKER_URLS", cfg.WorkerURLs)
	cfg.WorkerTimeout = config.GetEnvDuration("ILR_WORKER_TIMEOUT", cfg.WorkerTimeout)
	cfg.WorkerAPIKey = config.GetEnvStr("ILR_WORKER_API_KEY", cfg.WorkerAPIKey)
	cfg.RunTimeout = config.GetEnvDuration("ILR_RUN_TIMEOUT", cfg.RunTimeout)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.LowWaterMark < 1 || c.SmallShardSize < 1 || c.FixedShardSize < 0 {
		errs = append(errs, fmt.Errorf("%w: low water mark %d, small shard size %d, fixed shard size %d",
			ErrInvalidShardPolicy, c.LowWaterMark, c.SmallShardSize, c.FixedShardSize))
	}

	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidBatchSize, c.BatchSize))
	}

	if c.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidConcurrency, c.MaxConcurrency))
	}

	switch c.WorkerMode {
	case WorkerModeLocal:
	case WorkerModeRemote:
		if len(c.WorkerURLs) == 0 {
			errs = append(errs, ErrNoWorkerURLs)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidWorkerMode, c.WorkerMode))
	}

	return errors.Join(errs...)
}

// ShardPolicy returns the shard size policy the configuration selects.
func (c *Config) ShardPolicy() partition.SizePolicy {
	if c.FixedShardSize > 0 {
		return partition.FixedPolicy{Size: c.FixedShardSize}
	}

	return partition.ThresholdPolicy{LowWaterMark: c.LowWaterMark, SmallShardSize: c.SmallShardSize}
}

// Worker returns the worker the configuration selects: an in-process worker, one
// remote worker, or a round robin over several remote workers.
func (c *Config) Worker() (dispatch.Worker, error) {
	if c.WorkerMode != WorkerModeRemote {
		return dispatch.NewLocalWorker(nil), nil
	}

	workers := make([]dispatch.Worker, 0, len(c.WorkerURLs))
	for _, url := range c.WorkerURLs {
		workers = append(workers, dispatch.NewRemoteWorker(url,
			dispatch.WithAPIKey(c.WorkerAPIKey),
			dispatch.WithTimeout(c.WorkerTimeout)))
	}

	if len(workers) == 1 {
		return workers[0], nil
	}

	return dispatch.NewRoundRobinWorker(workers...)
}
