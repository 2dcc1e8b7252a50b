package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := New(reg)
	require.NoError(t, err)

	r.ObserveRun("orders", true, time.Second)
	r.ObserveRun("orders", false, time.Second)
	r.ObserveRun("orders", true, time.Second)
	r.ObserveStep("extract", "static", true, time.Millisecond)
	r.ObserveStep("load", "sqlite", false, time.Millisecond)
	r.ObserveCacheLookup(true)
	r.ObserveCacheLookup(false)
	r.ObserveCacheLookup(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runs.WithLabelValues("orders", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("orders", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.steps.WithLabelValues("load", "sqlite", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.extractCache.WithLabelValues("miss")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.stepDuration))
}

func TestRecorderSharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg)
	require.NoError(t, err)
	b, err := New(reg)
	require.NoError(t, err)

	a.ObserveCacheLookup(true)
	b.ObserveCacheLookup(true)
	assert.Equal(t, 2.0, testutil.ToFloat64(a.extractCache.WithLabelValues("hit")))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveRun("p", true, time.Second)
		r.ObserveStep("extract", "x", true, time.Second)
		r.ObserveCacheLookup(false)
	})
}
