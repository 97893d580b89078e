/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector collects statistics about cache usage.
type MetricsCollector interface {
	// SetAmount sets the total number of entries in the cache.
	SetAmount(int)
	// IncHits increments the number of found keys.
	IncHits()
	// IncMisses increments the number of not found keys.
	IncMisses()
	// AddEvictions increments the number of evicted entries.
	AddEvictions(int)
}

// PrometheusMetrics is a MetricsCollector backed by Prometheus.
// Metrics of several caches are told apart by the "cache" label.
type PrometheusMetrics struct {
	EntriesAmount  *prometheus.GaugeVec
	HitsTotal      *prometheus.CounterVec
	MissesTotal    *prometheus.CounterVec
	EvictionsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics. Namespace may be empty.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	labels := []string{"cache"}
	return &PrometheusMetrics{
		EntriesAmount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries_amount",
			Help:      "Total number of entries in the cache.",
		}, labels),
		HitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Number of successfully found keys in the cache.",
		}, labels),
		MissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Number of not found keys in cache.",
		}, labels),
		EvictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Number of evicted entries.",
		}, labels),
	}
}

// ForCache returns a collector reporting under the given cache name.
func (pm *PrometheusMetrics) ForCache(name string) MetricsCollector {
	return &cacheMetrics{
		amount:    pm.EntriesAmount.WithLabelValues(name),
		hits:      pm.HitsTotal.WithLabelValues(name),
		misses:    pm.MissesTotal.WithLabelValues(name),
		evictions: pm.EvictionsTotal.WithLabelValues(name),
	}
}

// MustRegister registers the metrics in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.EntriesAmount, pm.HitsTotal, pm.MissesTotal, pm.EvictionsTotal)
}

// Unregister cancels registration of the metrics in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.EntriesAmount)
	prometheus.Unregister(pm.HitsTotal)
	prometheus.Unregister(pm.MissesTotal)
	prometheus.Unregister(pm.EvictionsTotal)
}

type cacheMetrics struct {
	amount    prometheus.Gauge
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
}

func (m *cacheMetrics) SetAmount(n int)    { m.amount.Set(float64(n)) }
func (m *cacheMetrics) IncHits()           { m.hits.Inc() }
func (m *cacheMetrics) IncMisses()         { m.misses.Inc() }
func (m *cacheMetrics) AddEvictions(n int) { m.evictions.Add(float64(n)) }

type disabledMetrics struct{}

func (disabledMetrics) SetAmount(int)    {}
func (disabledMetrics) IncHits()         {}
func (disabledMetrics) IncMisses()       {}
func (disabledMetrics) AddEvictions(int) {}
