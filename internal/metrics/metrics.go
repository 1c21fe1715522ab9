// Package metrics provides Prometheus instrumentation for validation runs and the worker server.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ilr_validation"

// Pipeline holds the metrics of the validation pipeline.
// A nil *Pipeline is valid and records nothing.
type Pipeline struct {
	Runs               *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	Shards             prometheus.Counter
	ShardDuration      prometheus.Histogram
	ValidationErrors   prometheus.Counter
	LookupBatches      *prometheus.CounterVec
	LookupKeys         *prometheus.CounterVec
	UnmatchedSecondary prometheus.Counter
	WorkerRequests     *prometheus.CounterVec
	WorkerDuration     prometheus.Histogram
}

// New creates the pipeline metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func New(reg prometheus.Registerer) *Pipeline {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Pipeline{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Validation runs by outcome (completed, no_learners, failed) and failing stage",
		}, []string{"outcome", "stage"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of validation runs",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}),
		Shards: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shards_dispatched_total",
			Help:      "Shards successfully validated",
		}),
		ShardDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "shard_duration_seconds",
			Help:      "Duration of single shard validations",
			Buckets:   prometheus.DefBuckets,
		}),
		ValidationErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_errors_total",
			Help:      "Validation errors reported by rules",
		}),
		LookupBatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_batches_total",
			Help:      "Reference data lookup batches issued per domain",
		}, []string{"domain"}),
		LookupKeys: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_keys_total",
			Help:      "Reference data keys looked up per domain",
		}, []string{"domain"}),
		UnmatchedSecondary: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmatched_secondary_records_total",
			Help:      "Destination and progression records with no matching learner",
		}),
		WorkerRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_requests_total",
			Help:      "Shard validation requests served by the worker server, by status code",
		}, []string{"code"}),
		WorkerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_request_duration_seconds",
			Help:      "Duration of shard validation requests served by the worker server",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// ObserveRun records a finished run. stage is empty for successful runs.
func (m *Pipeline) ObserveRun(outcome, stage string, d time.Duration) {
	if m == nil {
		return
	}

	m.Runs.WithLabelValues(outcome, stage).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// ObserveShard records one validated shard and the errors it reported.
func (m *Pipeline) ObserveShard(errors int, d time.Duration) {
	if m == nil {
		return
	}

	m.Shards.Inc()
	m.ShardDuration.Observe(d.Seconds())
	m.ValidationErrors.Add(float64(errors))
}

// ObserveLookupBatch records one reference data batch query.
func (m *Pipeline) ObserveLookupBatch(domain string, keys int) {
	if m == nil {
		return
	}

	m.LookupBatches.WithLabelValues(domain).Inc()
	m.LookupKeys.WithLabelValues(domain).Add(float64(keys))
}

// AddUnmatched records secondary records dropped by the partitioner.
func (m *Pipeline) AddUnmatched(n int) {
	if m == nil || n <= 0 {
		return
	}

	m.UnmatchedSecondary.Add(float64(n))
}

// ObserveWorkerRequest records one request served by the worker server.
func (m *Pipeline) ObserveWorkerRequest(status int, d time.Duration) {
	if m == nil {
		return
	}

	m.WorkerRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	m.WorkerDuration.Observe(d.Seconds())
}
