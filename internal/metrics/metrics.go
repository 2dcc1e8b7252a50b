// Package metrics exposes pipeline run and step counters as Prometheus collectors.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "canectors"

// Recorder records run and step outcomes. A nil *Recorder records nothing.
type Recorder struct {
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	extractCache *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Collectors that are
// already registered are reused, so several orchestrators can share one registry.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by status",
		}, []string{"pipeline", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of pipeline runs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pipeline"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "steps_total",
			Help:      "Total number of executed steps by kind, name and status",
		}, []string{"kind", "name", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of steps",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		extractCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "extract_cache_total",
			Help:      "Extract step cache lookups by result (hit, miss)",
		}, []string{"result"}),
	}

	var err error
	if r.runs, err = register(reg, r.runs); err != nil {
		return nil, err
	}
	if r.runDuration, err = register(reg, r.runDuration); err != nil {
		return nil, err
	}
	if r.steps, err = register(reg, r.steps); err != nil {
		return nil, err
	}
	if r.stepDuration, err = register(reg, r.stepDuration); err != nil {
		return nil, err
	}
	if r.extractCache, err = register(reg, r.extractCache); err != nil {
		return nil, err
	}
	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// ObserveRun records a finished run.
func (r *Recorder) ObserveRun(pipeline string, success bool, d time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(pipeline, status(success)).Inc()
	r.runDuration.WithLabelValues(pipeline).Observe(d.Seconds())
}

// ObserveStep records a finished step.
func (r *Recorder) ObserveStep(kind, name string, success bool, d time.Duration) {
	if r == nil {
		return
	}
	r.steps.WithLabelValues(kind, name, status(success)).Inc()
	r.stepDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveCacheLookup records an extract cache hit or miss.
func (r *Recorder) ObserveCacheLookup(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.extractCache.WithLabelValues(result).Inc()
}
