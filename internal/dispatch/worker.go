// Package dispatch fans shards out to rule execution workers and fans their errors
// back into the run's error cache.
//
// The Worker interface hides the transport. LocalWorker runs the rule engine
// in-process; RemoteWorker posts the shard and a reference data snapshot to a worker
// server over HTTP. The Dispatcher treats any worker failure as fatal to the run.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/partition"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/referencedata"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/rules"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/validation"
)

var (
	// ErrShardFailed is wrapped by the error returned when any shard fails.
	ErrShardFailed = errors.New("shard validation failed")
	// ErrRemoteWorker is returned when a remote worker replies with a non-success status.
	ErrRemoteWorker = errors.New("remote worker error")
	// ErrNoWorkers is returned when a RoundRobinWorker is created without workers.
	ErrNoWorkers = errors.New("no workers configured")
)

// Payload is the unit of work sent to a worker: one shard plus everything its rules read.
type Payload struct {
	RunID         string               `json:"runId"`
	Shard         partition.Shard      `json:"shard"`
	ReferenceData *referencedata.Cache `json:"referenceData"`
	FileData      rules.FileData       `json:"fileData"`
}

// Worker validates one shard.
type Worker interface {
	Validate(ctx context.Context, payload *Payload) ([]validation.Error, error)
}

// LocalWorker runs the rule engine in the calling process.
type LocalWorker struct {
	engine *rules.Engine
}

// NewLocalWorker creates a LocalWorker. A nil engine selects the default rule set.
func NewLocalWorker(engine *rules.Engine) *LocalWorker {
	if engine == nil {
		engine = rules.NewDefaultEngine()
	}

	return &LocalWorker{engine: engine}
}

// Validate implements Worker. Message rules run on the shard with index 0 only.
func (w *LocalWorker) Validate(ctx context.Context, payload *Payload) ([]validation.Error, error) {
	rc := &rules.Context{
		Reference: payload.ReferenceData,
		File:      payload.FileData,
	}

	return w.engine.Run(ctx, rc, payload.Shard.Message, payload.Shard.Index == 0)
}

// RoundRobinWorker spreads shards over several workers in turn.
type RoundRobinWorker struct {
	workers []Worker
	next    atomic.Uint64
}

// NewRoundRobinWorker creates a RoundRobinWorker over workers.
func NewRoundRobinWorker(workers ...Worker) (*RoundRobinWorker, error) {
	if len(workers) == 0 {
		return nil, ErrNoWorkers
	}

	return &RoundRobinWorker{workers: workers}, nil
}

// Validate implements Worker.
func (w *RoundRobinWorker) Validate(ctx context.Context, payload *Payload) ([]validation.Error, error) {
	i := (w.next.Add(1) - 1) % uint64(len(w.workers))

	errs, err := w.workers[i].Validate(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", i, err)
	}

	return errs, nil
}

var (
	_ Worker = (*LocalWorker)(nil)
	_ Worker = (*RemoteWorker)(nil)
	_ Worker = (*RoundRobinWorker)(nil)
)
