package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/dispatch"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/events"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/ilr"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/metrics"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/output"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/pipeline"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/referencedata"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/storage"
)

// ErrNoReferenceData is returned when neither DATABASE_URL nor -reference is set.
var ErrNoReferenceData = errors.New("no reference data source: set DATABASE_URL or -reference")

type options struct {
	file          string
	jobID         string
	referencePath string
	// registerer receives the pipeline metrics; nil selects prometheus.DefaultRegisterer.
	registerer prometheus.Registerer
}

// closers collects the resources opened while wiring a run.
type closers []io.Closer

func (c closers) Close() error {
	var errs []error

	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// run wires the pipeline from the environment, validates opts.file and prints the result to out.
func run(ctx context.Context, opts options, out io.Writer, logger *slog.Logger) (err error) {
	pipelineConfig := pipeline.LoadConfigFromEnv()
	if err := pipelineConfig.Validate(); err != nil {
		return fmt.Errorf("invalid pipeline configuration: %w", err)
	}

	storageConfig := storage.LoadConfig()
	if err := storageConfig.ValidateArtifacts(); err != nil {
		return fmt.Errorf("invalid storage configuration: %w", err)
	}

	eventsConfig := events.LoadConfig()
	if err := eventsConfig.Validate(); err != nil {
		return fmt.Errorf("invalid events configuration: %w", err)
	}

	var resources closers

	defer func() {
		if closeErr := resources.Close(); closeErr != nil {
			logger.Warn("Failed to release resources", slog.String("error", closeErr.Error()))
		}
	}()

	var conn *storage.Connection

	if storageConfig.HasDatabase() {
		conn, err = storage.NewConnection(ctx, storageConfig)
		if err != nil {
			return err
		}

		resources = append(resources, conn)

		logger.Info("Connected to reference database",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
			slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		)
	}

	store, err := referenceStore(conn, opts.referencePath, logger)
	if err != nil {
		return err
	}

	artifacts, err := artifactStore(ctx, storageConfig, conn, &resources)
	if err != nil {
		return err
	}

	logger.Info("Artifact store initialized", slog.String("backend", storageConfig.ArtifactBackend))

	publisher, err := publisherFor(eventsConfig, &resources)
	if err != nil {
		return err
	}

	worker, err := pipelineConfig.Worker()
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	logger.Info("Pipeline configured",
		slog.String("worker_mode", pipelineConfig.WorkerMode),
		slog.Int("worker_count", max(len(pipelineConfig.WorkerURLs), 1)),
		slog.Int("max_concurrency", pipelineConfig.MaxConcurrency),
		slog.Int("batch_size", pipelineConfig.BatchSize),
		slog.Duration("run_timeout", pipelineConfig.RunTimeout),
	)

	registerer := opts.registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := metrics.New(registerer)

	populator := referencedata.NewPopulator(referencedata.NewStores(store),
		referencedata.WithBatchSize(pipelineConfig.BatchSize),
		referencedata.WithRetries(uint64(max(pipelineConfig.LookupRetries, 0))), //nolint:gosec // clamped to non-negative
		referencedata.WithBatchObserver(m.ObserveLookupBatch),
		referencedata.WithLogger(logger),
	)

	dispatcher := dispatch.NewDispatcher(worker,
		dispatch.WithMaxConcurrency(pipelineConfig.MaxConcurrency),
		dispatch.WithLogger(logger),
		dispatch.WithShardObserver(m.ObserveShard),
	)

	orchestrator, err := pipeline.NewOrchestrator(populator, dispatcher, output.NewWriter(artifacts, logger),
		pipeline.WithPolicy(pipelineConfig.ShardPolicy()),
		pipeline.WithPublisher(publisher),
		pipeline.WithMetrics(m),
		pipeline.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	msg, err := ilr.DecodeFile(opts.file)
	if err != nil {
		return err
	}

	if pipelineConfig.RunTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, pipelineConfig.RunTimeout)
		defer cancel()
	}

	result, err := orchestrator.Run(ctx, opts.jobID, msg)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}

	return nil
}

// referenceStore selects PostgreSQL when conn is set, otherwise the fixture at path.
func referenceStore(conn *storage.Connection, path string, logger *slog.Logger) (referencedata.Store, error) {
	if conn != nil {
		return storage.NewReferenceStore(conn)
	}

	if path == "" {
		return nil, ErrNoReferenceData
	}

	store, err := storage.LoadMemoryReferenceStore(path)
	if err != nil {
		return nil, err
	}

	logger.Info("Using reference data fixture", slog.String("path", path))

	return store, nil
}

func artifactStore(
	ctx context.Context,
	cfg *storage.Config,
	conn *storage.Connection,
	resources *closers,
) (output.ArtifactStore, error) {
	switch cfg.ArtifactBackend {
	case storage.ArtifactBackendPostgres:
		return storage.NewPostgresArtifactStore(conn)
	case storage.ArtifactBackendRedis:
		store, err := storage.NewRedisArtifactStore(ctx, cfg.RedisURL(), cfg.ArtifactTTL)
		if err != nil {
			return nil, err
		}

		*resources = append(*resources, store)

		return store, nil
	default:
		return storage.NewFileArtifactStore(cfg.ArtifactDir)
	}
}

func publisherFor(cfg *events.Config, resources *closers) (events.Publisher, error) {
	if !cfg.Enabled() {
		return events.NopPublisher{}, nil
	}

	publisher, err := events.NewKafkaPublisher(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	*resources = append(*resources, publisher)

	return publisher, nil
}
