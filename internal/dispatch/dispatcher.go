package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/partition"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/referencedata"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/rules"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/validation"
)

const tracerName = "github.com/SkillsFundingAgency/ilr-validation-service/internal/dispatch"

type (
	// Dispatcher sends every shard of a run to a worker, bounded by a concurrency
	// limit, and blocks until all shards have completed or one has failed.
	Dispatcher struct {
		worker         Worker
		maxConcurrency int
		logger         *slog.Logger
		onShard        func(errors int, d time.Duration)
	}

	// Option configures a Dispatcher.
	Option func(*Dispatcher)
)

// WithMaxConcurrency bounds the number of shards in flight. Values below 1 select GOMAXPROCS.
func WithMaxConcurrency(n int) Option {
	return func(d *Dispatcher) {
		d.maxConcurrency = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithShardObserver registers a callback invoked after each successful shard with its
// error count and duration.
func WithShardObserver(fn func(errors int, d time.Duration)) Option {
	return func(d *Dispatcher) {
		d.onShard = fn
	}
}

// NewDispatcher creates a Dispatcher over worker.
func NewDispatcher(worker Worker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		worker: worker,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.maxConcurrency < 1 {
		d.maxConcurrency = runtime.GOMAXPROCS(0)
	}

	return d
}

// Dispatch validates every shard and aggregates the errors into sink.
//
// Parallelism is min(len(shards), max concurrency). The first shard failure
// cancels the shards still in flight and Dispatch returns an error wrapping
// ErrShardFailed; the content of sink is then incomplete and must be discarded.
// On success Dispatch returns the snapshot of sink.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	runID string,
	shards []partition.Shard,
	cache *referencedata.Cache,
	file rules.FileData,
	sink *validation.ErrorCache,
) ([]validation.Error, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "dispatch.run",
		trace.WithAttributes(attribute.Int("dispatch.shards", len(shards))))
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, min(len(shards), d.maxConcurrency)))

	for _, shard := range shards {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			return d.dispatchShard(gctx, &Payload{
				RunID:         runID,
				Shard:         shard,
				ReferenceData: cache,
				FileData:      file,
			}, sink)
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	// A cancelled parent with no shard error must not be reported as complete.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return sink.Snapshot(), nil
}

func (d *Dispatcher) dispatchShard(ctx context.Context, payload *Payload, sink *validation.ErrorCache) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "dispatch.shard", trace.WithAttributes(
		attribute.Int("shard.index", payload.Shard.Index),
		attribute.Int("shard.learners", len(payload.Shard.Message.Learners)),
	))
	defer span.End()

	start := time.Now()

	errs, err := d.worker.Validate(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		d.logger.Error("Shard validation failed",
			slog.String("run_id", payload.RunID),
			slog.Int("shard", payload.Shard.Index),
			slog.String("error", err.Error()))

		return fmt.Errorf("%w: shard %d: %w", ErrShardFailed, payload.Shard.Index, err)
	}

	sink.AddAll(errs)

	elapsed := time.Since(start)
	if d.onShard != nil {
		d.onShard(len(errs), elapsed)
	}

	d.logger.Debug("Shard validated",
		slog.String("run_id", payload.RunID),
		slog.Int("shard", payload.Shard.Index),
		slog.Int("learners", len(payload.Shard.Message.Learners)),
		slog.Int("errors", len(errs)),
		slog.Duration("duration", elapsed))

	return nil
}
