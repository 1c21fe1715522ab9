// Package main provides the ILR validation command line tool.
//
// It validates one submission file against the configured reference data, writes
// the four artifacts of the job and prints the run summary as JSON.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/config"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "ilr-validator"
)

func main() {
	var (
		file          = flag.String("file", "", "ILR submission file (JSON) to validate")
		jobID         = flag.String("job", "", "job id the artifacts are stored under (default: the run id)")
		referencePath = flag.String("reference", "", "reference data fixture used when DATABASE_URL is not set")
		versionFlag   = flag.Bool("version", false, "show version information")
	)

	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := config.NewLogger(config.GetEnvLogLevel("ILR_LOG_LEVEL", slog.LevelInfo))

	if *file == "" {
		logger.Error("Missing submission file", slog.String("flag", "-file"))
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, options{
		file:          *file,
		jobID:         *jobID,
		referencePath: *referencePath,
	}, os.Stdout, logger)

	stop()

	if err != nil {
		logger.Error("Validation failed", slog.String("file", *file), slog.String("error", err.Error()))
		os.Exit(1)
	}
}
