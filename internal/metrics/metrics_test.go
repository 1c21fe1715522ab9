package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRun("completed", "", time.Second)
	m.ObserveRun("failed", "dispatch", time.Second)
	m.ObserveRun("failed", "dispatch", time.Second)
	m.ObserveShard(3, time.Millisecond)
	m.ObserveShard(2, time.Millisecond)
	m.ObserveLookupBatch("ulns", 5000)
	m.ObserveLookupBatch("ulns", 1)
	m.AddUnmatched(4)
	m.AddUnmatched(0)
	m.ObserveWorkerRequest(200, time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Runs.WithLabelValues("completed", "")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Runs.WithLabelValues("failed", "dispatch")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Shards), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(m.ValidationErrors), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.LookupBatches.WithLabelValues("ulns")), 0)
	assert.InDelta(t, 5001, testutil.ToFloat64(m.LookupKeys.WithLabelValues("ulns")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.UnmatchedSecondary), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.WorkerRequests.WithLabelValues("200")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilPipelineIsNoop(t *testing.T) {
	var m *Pipeline

	assert.NotPanics(t, func() {
		m.ObserveRun("completed", "", time.Second)
		m.ObserveShard(1, time.Second)
		m.ObserveLookupBatch("ulns", 1)
		m.AddUnmatched(1)
		m.ObserveWorkerRequest(500, time.Second)
	})
}
