package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/config"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/storage"
	"github.com/SkillsFundingAgency/ilr-validation-service/migrations"
)

const defaultMigrationTable = "schema_migrations"

var (
	// ErrDatabaseURLEmpty is returned when DATABASE_URL is not set.
	ErrDatabaseURLEmpty = errors.New("DATABASE_URL cannot be empty")
	// ErrMigrationTableEmpty is returned when MIGRATION_TABLE is set to an empty name.
	ErrMigrationTableEmpty = errors.New("MIGRATION_TABLE cannot be empty")
	// ErrMigrationsPath is returned when MIGRATIONS_PATH is not a readable directory.
	ErrMigrationsPath = errors.New("invalid migrations path")
)

// Config holds all configuration for the migration tool.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// MigrationsPath overrides the embedded migrations with a directory on disk.
	// Empty selects the migrations compiled into the binary.
	MigrationsPath string

	// MigrationTable is the name of the table to track migrations.
	MigrationTable string
}

// LoadConfig loads configuration from environment variables with sensible defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    config.GetEnvStr("DATABASE_URL", ""),
		MigrationsPath: config.GetEnvStr("MIGRATIONS_PATH", ""),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", defaultMigrationTable),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrDatabaseURLEmpty
	}

	if c.MigrationTable == "" {
		return ErrMigrationTableEmpty
	}

	if c.MigrationsPath != "" {
		info, err := os.Stat(c.MigrationsPath)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMigrationsPath, err)
		}

		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", ErrMigrationsPath, c.MigrationsPath)
		}
	}

	return nil
}

// Source returns the migration file system the configuration selects.
func (c *Config) Source() fs.FS {
	if c.MigrationsPath == "" {
		return migrations.FS()
	}

	return os.DirFS(c.MigrationsPath)
}

// SourceName describes the migration source for logs.
func (c *Config) SourceName() string {
	if c.MigrationsPath == "" {
		return "embedded"
	}

	return c.MigrationsPath
}

// String returns a string representation of the configuration (safe for logging).
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, Migrations: %s, MigrationTable: %s}",
		storage.MaskURL(c.DatabaseURL), c.SourceName(), c.MigrationTable)
}
