// Package main provides the database migration CLI of the ILR validation service.
//
// The SQL migrations are embedded in the binary, so the tool needs only
// DATABASE_URL to bring a database to the latest schema.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/config"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "migrator"
)

// ErrUnknownCommand is returned for a command other than up, down, status, version or drop.
var ErrUnknownCommand = errors.New("unknown command")

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
		assumeYes   = flag.Bool("yes", false, "Do not ask for confirmation before drop")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if *showHelp || flag.NArg() < 1 {
		printUsage(os.Stdout)
		os.Exit(0)
	}

	logger := config.NewLogger(config.GetEnvLogLevel("ILR_LOG_LEVEL", slog.LevelInfo))

	cfg, err := LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	runner, err := NewMigrationRunner(cfg, os.Stdout, logger)
	if err != nil {
		logger.Error("Failed to create migration runner", slog.String("error", err.Error()))
		os.Exit(1)
	}

	confirm := confirmFrom(os.Stdin, os.Stdout)
	if *assumeYes {
		confirm = func() bool { return true }
	}

	err = executeCommand(flag.Arg(0), runner, confirm, os.Stdout)

	if closeErr := runner.Close(); closeErr != nil {
		logger.Warn("Failed to close migration runner", slog.String("error", closeErr.Error()))
	}

	if err != nil {
		logger.Error("Migration failed", slog.String("command", flag.Arg(0)), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// executeCommand runs the specified migration command. Drop runs only if confirm returns true.
func executeCommand(command string, runner MigrationRunner, confirm func() bool, out io.Writer) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		return runner.Version()
	case "drop":
		if !confirm() {
			_, _ = fmt.Fprintln(out, "Operation cancelled.")
			return nil
		}

		return runner.Drop()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

// confirmFrom asks on out and reads a y/N answer from in.
func confirmFrom(in io.Reader, out io.Writer) func() bool {
	return func() bool {
		_, _ = fmt.Fprint(out, "WARNING: This will drop all tables. Are you sure? (y/N): ")

		answer, _ := bufio.NewReader(in).ReadString('\n')
		answer = strings.TrimSpace(answer)

		return answer == "y" || answer == "Y"
	}
}

func printUsage(out io.Writer) {
	_, _ = fmt.Fprintf(out, `%s v%s - Database Migration Tool for the ILR validation service

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up      Apply all pending migrations
    down    Rollback the last migration
    status  Show migration status
    version Show current migration version
    drop    Drop all tables (requires confirmation)

OPTIONS:
    -help     Show this help message
    -version  Show version information
    -yes      Skip the drop confirmation

ENVIRONMENT VARIABLES:
    DATABASE_URL    PostgreSQL connection string (REQUIRED)

    MIGRATIONS_PATH Directory of migration files to use instead of the
                    embedded ones (default: embedded)

    MIGRATION_TABLE Name of migration tracking table
                    (default: schema_migrations)

EXAMPLES:
    %s up                    # Apply all pending migrations
    %s status                # Show current migration status
    %s -yes drop             # Drop all tables without prompting
`, name, version, name, name, name, name)
}
