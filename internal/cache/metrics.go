package cache

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes cache counters as Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	deletes   prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

// NewMetrics creates cache collectors labelled with name and registers them with reg.
// Collectors already registered under the same name are reused.
func NewMetrics(reg prometheus.Registerer, name string) (*Metrics, error) {
	labels := prometheus.Labels{"cache": name}
	counter := func(metric, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "canectors",
			Subsystem:   "cache",
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &Metrics{
		hits:      counter("hits_total", "Total number of cache hits"),
		misses:    counter("misses_total", "Total number of cache misses"),
		sets:      counter("sets_total", "Total number of cache set operations"),
		deletes:   counter("deletes_total", "Total number of cache delete operations"),
		evictions: counter("evictions_total", "Total number of expired entries evicted"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "canectors",
			Subsystem:   "cache",
			Name:        "size",
			Help:        "Current number of resident cache entries",
			ConstLabels: labels,
		}),
	}

	var err error
	if m.hits, err = register(reg, m.hits); err != nil {
		return nil, err
	}
	if m.misses, err = register(reg, m.misses); err != nil {
		return nil, err
	}
	if m.sets, err = register(reg, m.sets); err != nil {
		return nil, err
	}
	if m.deletes, err = register(reg, m.deletes); err != nil {
		return nil, err
	}
	if m.evictions, err = register(reg, m.evictions); err != nil {
		return nil, err
	}
	if m.size, err = register(reg, m.size); err != nil {
		return nil, err
	}
	return m, nil
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

func (m *Metrics) recordHit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) recordMiss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *Metrics) recordSet(size int) {
	if m != nil {
		m.sets.Inc()
		m.size.Set(float64(size))
	}
}

func (m *Metrics) recordDelete(size int) {
	if m != nil {
		m.deletes.Inc()
		m.size.Set(float64(size))
	}
}

func (m *Metrics) recordEvictions(n, size int) {
	if m != nil {
		m.evictions.Add(float64(n))
		m.size.Set(float64(size))
	}
}

func (m *Metrics) setSize(size int) {
	if m != nil {
		m.size.Set(float64(size))
	}
}
