// Package pipeline coordinates one validation run: the structural gate, reference data
// population, partitioning, shard dispatch, reconciliation and persistence.
//
// The orchestrator blocks on every stage. Any infrastructure failure aborts the run
// with a *RunError and nothing of the run is persisted.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/events"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/ilr"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/metrics"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/output"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/partition"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/referencedata"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/rules"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/validation"
)

const (
	tracerName     = "github.com/SkillsFundingAgency/ilr-validation-service/internal/pipeline"
	publishTimeout = 10 * time.Second
)

// Run statuses.
const (
	StatusCompleted  = "completed"
	StatusNoLearners = "no_learners"
	outcomeFailed    = "failed"
)

type (
	// Populator builds the reference data cache of a submission.
	Populator interface {
		Populate(ctx context.Context, msg *ilr.Message) (*referencedata.Cache, error)
	}

	// Dispatcher validates every shard into sink and returns the aggregated errors.
	Dispatcher interface {
		Dispatch(
			ctx context.Context,
			runID string,
			shards []partition.Shard,
			cache *referencedata.Cache,
			file rules.FileData,
			sink *validation.ErrorCache,
		) ([]validation.Error, error)
	}

	// Writer persists the artifacts of a completed run.
	Writer interface {
		Write(
			ctx context.Context,
			jobID string,
			rec output.Reconciliation,
			errs []validation.Error,
			catalog *referencedata.Cache,
		) (output.Artifacts, error)
	}
)

// Result summarises a completed run.
type Result struct {
	RunID              string           `json:"runId"`
	JobID              string           `json:"jobId"`
	Status             string           `json:"status"`
	LearnerCount       int              `json:"learnerCount"`
	ShardCount         int              `json:"shardCount"`
	ShardSize          int              `json:"shardSize"`
	UnmatchedSecondary int              `json:"unmatchedSecondary"`
	ValidCount         int              `json:"validCount"`
	InvalidCount       int              `json:"invalidCount"`
	ErrorCount         int              `json:"errorCount"`
	Artifacts          output.Artifacts `json:"artifacts"`
	Duration           time.Duration    `json:"duration"`
}

// Orchestrator runs validation runs. It holds no per-run state and may run several
// submissions concurrently.
type Orchestrator struct {
	populator  Populator
	dispatcher Dispatcher
	writer     Writer
	publisher  events.Publisher
	policy     partition.SizePolicy
	metrics    *metrics.Pipeline
	logger     *slog.Logger
	newRunID   func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy sets the shard size policy. Defaults to partition.DefaultPolicy().
func WithPolicy(policy partition.SizePolicy) Option {
	return func(o *Orchestrator) {
		if policy != nil {
			o.policy = policy
		}
	}
}

// WithPublisher sets the run event publisher. Defaults to discarding events.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Pipeline) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRunIDGenerator replaces the random run ID generator.
func WithRunIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newRunID = fn
		}
	}
}

// NewOrchestrator creates an Orchestrator.
//
// Parameters:
//   - populator: builds the reference data cache (e.g. *referencedata.Populator)
//   - dispatcher: validates the shards (e.g. *dispatch.Dispatcher)
//   - writer: persists the artifacts (e.g. *output.Writer)
//
// Returns ErrMissingDependency if any of them is nil.
func NewOrchestrator(populator Populator, dispatcher Dispatcher, writer Writer, opts ...Option) (*Orchestrator, error) {
	switch {
	case populator == nil:
		return nil, fmt.Errorf("%w: populator", ErrMissingDependency)
	case dispatcher == nil:
		return nil, fmt.Errorf("%w: dispatcher", ErrMissingDependency)
	case writer == nil:
		return nil, fmt.Errorf("%w: writer", ErrMissingDependency)
	}

	o := &Orchestrator{
		populator:  populator,
		dispatcher: dispatcher,
		writer:     writer,
		publisher:  events.NopPublisher{},
		policy:     partition.DefaultPolicy(),
		logger:     slog.Default(),
		newRunID:   uuid.NewString,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// Run validates msg and persists its artifacts under jobID. An empty jobID uses the run ID.
//
// A returned error is always a *RunError; the Result is then nil. Validation errors
// found in the submission are part of a successful Result, never an error.
func (o *Orchestrator) Run(ctx context.Context, jobID string, msg *ilr.Message) (*Result, error) {
	start := time.Now()
	runID := o.newRunID()

	if jobID == "" {
		jobID = runID
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("job.id", jobID),
	))
	defer span.End()

	logger := o.logger.With(slog.String("run_id", runID), slog.String("job_id", jobID))

	result, stage, err := o.run(ctx, logger, runID, jobID, msg)
	if err != nil {
		runErr := &RunError{Stage: stage, RunID: runID, JobID: jobID, Err: err}

		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())

		elapsed := time.Since(start)
		o.metrics.ObserveRun(outcomeFailed, string(stage), elapsed)

		logger.Error("Validation run failed",
			slog.String("stage", string(stage)),
			slog.String("error", err.Error()),
			slog.Duration("duration", elapsed))

		o.publish(ctx, logger, events.Event{
			Type:       events.TypeRunFailed,
			RunID:      runID,
			JobID:      jobID,
			UKPRN:      ukprnOf(msg),
			Stage:      string(stage),
			Error:      err.Error(),
			DurationMs: elapsed.Milliseconds(),
			OccurredAt: time.Now().UTC(),
		})

		return nil, runErr
	}

	result.Duration = time.Since(start)
	o.metrics.ObserveRun(result.Status, "", result.Duration)

	span.SetAttributes(
		attribute.Int("run.learners", result.LearnerCount),
		attribute.Int("run.shards", result.ShardCount),
		attribute.Int("run.errors", result.ErrorCount),
	)

	logger.Info("Validation run completed",
		slog.String("status", result.Status),
		slog.Int("learners", result.LearnerCount),
		slog.Int("shards", result.ShardCount),
		slog.Int("valid", result.ValidCount),
		slog.Int("invalid", result.InvalidCount),
		slog.Int("errors", result.ErrorCount),
		slog.Int("unmatched_secondary", result.UnmatchedSecondary),
		slog.Duration("duration", result.Duration))

	o.publish(ctx, logger, events.Event{
		Type:               events.TypeRunCompleted,
		RunID:              runID,
		JobID:              jobID,
		UKPRN:              ukprnOf(msg),
		Status:             result.Status,
		LearnerCount:       result.LearnerCount,
		ShardCount:         result.ShardCount,
		UnmatchedSecondary: result.UnmatchedSecondary,
		ValidCount:         result.ValidCount,
		InvalidCount:       result.InvalidCount,
		ErrorCount:         result.ErrorCount,
		DurationMs:         result.Duration.Milliseconds(),
		OccurredAt:         time.Now().UTC(),
	})

	return result, nil
}

func (o *Orchestrator) run(
	ctx context.Context,
	logger *slog.Logger,
	runID, jobID string,
	msg *ilr.Message,
) (*Result, Stage, error) {
	if err := ilr.CheckStructure(msg); err != nil {
		return nil, StageStructure, err
	}

	result := &Result{
		RunID:        runID,
		JobID:        jobID,
		Status:       StatusCompleted,
		LearnerCount: len(msg.Learners),
	}

	var (
		cache *referencedata.Cache
		errs  []validation.Error
	)

	if len(msg.Learners) == 0 {
		result.Status = StatusNoLearners
		result.UnmatchedSecondary = len(msg.LearnerDestinationAndProgressions)
		cache = referencedata.Empty()

		logger.Warn("Submission has no learners, skipping rule execution",
			slog.Int("unmatched_secondary", result.UnmatchedSecondary))
	} else {
		var err error

		cache, err = o.populator.Populate(ctx, msg)
		if err != nil {
			return nil, StagePopulate, err
		}

		shards, stage, err := o.partition(ctx, logger, msg, result)
		if err != nil {
			return nil, stage, err
		}

		errs, err = o.dispatcher.Dispatch(ctx, runID, shards, cache, rules.NewFileData(msg), validation.NewErrorCache())
		if err != nil {
			return nil, StageDispatch, err
		}
	}

	o.metrics.AddUnmatched(result.UnmatchedSecondary)

	if err := ctx.Err(); err != nil {
		return nil, StageDispatch, err
	}

	rec := output.Reconcile(msg.LearnRefNumbers(), errs)

	artifacts, err := o.writer.Write(ctx, jobID, rec, errs, cache)
	if err != nil {
		return nil, StagePersist, err
	}

	result.ValidCount = len(rec.ValidLearnRefNumbers)
	result.InvalidCount = len(rec.InvalidLearnRefNumbers)
	result.ErrorCount = len(errs)
	result.Artifacts = artifacts

	return result, "", nil
}

func (o *Orchestrator) partition(
	ctx context.Context,
	logger *slog.Logger,
	msg *ilr.Message,
	result *Result,
) ([]partition.Shard, Stage, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "pipeline.partition")
	defer span.End()

	parts, err := partition.Partition(msg, o.policy)
	if err != nil {
		span.RecordError(err)
		return nil, StagePartition, err
	}

	result.ShardCount = len(parts.Shards)
	result.ShardSize = parts.ShardSize
	result.UnmatchedSecondary = parts.UnmatchedSecondary

	span.SetAttributes(
		attribute.Int("partition.shards", len(parts.Shards)),
		attribute.Int("partition.shard_size", parts.ShardSize),
		attribute.Int("partition.unmatched", parts.UnmatchedSecondary),
	)

	if parts.UnmatchedSecondary > 0 {
		logger.Warn("Destination and progression records without a matching learner were dropped",
			slog.Int("unmatched_secondary", parts.UnmatchedSecondary))
	}

	logger.Debug("Submission partitioned",
		slog.Int("shards", len(parts.Shards)),
		slog.Int("shard_size", parts.ShardSize))

	return parts.Shards, "", nil
}

// publish sends an event on a context detached from the run, so a cancelled run still reports.
func (o *Orchestrator) publish(ctx context.Context, logger *slog.Logger, event events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := o.publisher.Publish(ctx, event); err != nil {
		logger.Warn("Failed to publish run event",
			slog.String("type", event.Type),
			slog.String("error", err.Error()))
	}
}

func ukprnOf(msg *ilr.Message) int {
	if msg == nil {
		return 0
	}

	return msg.LearningProvider.UKPRN
}
