package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/SkillsFundingAgency/ilr-validation-service/migrations"
)

type (
	// MigrationRunner defines the interface for running database migrations.
	MigrationRunner interface {
		// Up applies all pending migrations.
		Up() error

		// Down rollbacks the last migration.
		Down() error

		// Status shows the current migration status.
		Status() error

		// Version shows the current migration version.
		Version() error

		// Drop drops all tables (destructive operation).
		Drop() error

		// Close closes any open connections.
		Close() error
	}

	migrationRunner struct {
		migrate *migrate.Migrate
		set     *migrations.Set
		db      *sql.DB
		out     io.Writer
		logger  *slog.Logger
	}

	// migrateLogger adapts slog to the migrate.Logger interface.
	migrateLogger struct {
		logger *slog.Logger
	}
)

var _ migrate.Logger = (*migrateLogger)(nil)

// NewMigrationRunner validates the migration files, connects to the database and prepares golang-migrate.
// Command output is written to out.
func NewMigrationRunner(cfg *Config, out io.Writer, logger *slog.Logger) (MigrationRunner, error) {
	logger.Info("Initializing migration runner", slog.String("config", cfg.String()))

	set := migrations.New(cfg.Source())
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("invalid migrations: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: cfg.MigrationTable,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(set.FS(), ".")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{logger: logger}

	logger.Info("Migration runner initialized",
		slog.String("source", cfg.SourceName()),
		slog.Int("latest_version", set.MaxVersion()))

	return &migrationRunner{migrate: m, set: set, db: db, out: out, logger: logger}, nil
}

// Up applies all pending migrations.
func (r *migrationRunner) Up() error {
	err := r.migrate.Up()

	switch {
	case errors.Is(err, migrate.ErrNoChange):
		_, _ = fmt.Fprintln(r.out, "No new migrations to apply")
	case err != nil:
		return fmt.Errorf("migration up failed: %w", err)
	default:
		_, _ = fmt.Fprintln(r.out, "All migrations applied successfully")
	}

	return nil
}

// Down rollbacks the last migration.
func (r *migrationRunner) Down() error {
	err := r.migrate.Steps(-1)

	switch {
	case errors.Is(err, migrate.ErrNoChange), errors.Is(err, migrate.ErrNilVersion):
		_, _ = fmt.Fprintln(r.out, "No migrations to rollback")
	case err != nil:
		return fmt.Errorf("migration down failed: %w", err)
	default:
		_, _ = fmt.Fprintln(r.out, "Last migration rolled back successfully")
	}

	return nil
}

// Status shows the current version and how many migrations are pending.
func (r *migrationRunner) Status() error {
	latest := r.set.MaxVersion()

	ver, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			_, _ = fmt.Fprintf(r.out, "Migration Status: No migrations applied yet (%d pending)\n", latest)
			return nil
		}

		return fmt.Errorf("failed to get migration version: %w", err)
	}

	status := "clean"
	if dirty {
		status = "dirty (needs manual intervention)"
	}

	pending := max(latest-int(ver), 0) //nolint:gosec // migration versions are three digit sequence numbers

	_, _ = fmt.Fprintf(r.out, "Migration Status: Version %d (%s), %d pending, latest %d\n", ver, status, pending, latest)

	return nil
}

// Version shows the current migration version.
func (r *migrationRunner) Version() error {
	ver, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			_, _ = fmt.Fprintln(r.out, "Current Version: No migrations applied")
			return nil
		}

		return fmt.Errorf("failed to get migration version: %w", err)
	}

	dirtyNote := ""
	if dirty {
		dirtyNote = " (dirty)"
	}

	_, _ = fmt.Fprintf(r.out, "Current Version: %d%s\n", ver, dirtyNote)

	return nil
}

// Drop drops all tables (destructive operation).
func (r *migrationRunner) Drop() error {
	r.logger.Warn("Dropping all tables")

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop operation failed: %w", err)
	}

	_, _ = fmt.Fprintln(r.out, "All tables dropped successfully")

	return nil
}

// Close closes the migrate instance and the database connection.
func (r *migrationRunner) Close() error {
	var errs []error

	if sourceErr, dbErr := r.migrate.Close(); sourceErr != nil || dbErr != nil {
		if sourceErr != nil {
			errs = append(errs, fmt.Errorf("source close error: %w", sourceErr))
		}

		if dbErr != nil {
			errs = append(errs, fmt.Errorf("database close error: %w", dbErr))
		}
	}

	if err := r.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		errs = append(errs, fmt.Errorf("database connection close error: %w", err))
	}

	return errors.Join(errs...)
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...), slog.String("component", "migrate"))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
