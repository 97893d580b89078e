/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsLabelRoute   = "route"
	metricsLabelOutcome = "outcome"
)

// Outcome values of dispatched requests.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomePanic       = "panic"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
	OutcomeOverloaded  = "overloaded"
	OutcomeThrottled   = "throttled"
	OutcomeRejected    = "rejected"
)

// UnknownRouteLabel replaces route keys that have no handler in metric labels.
const UnknownRouteLabel = "_unknown"

// DefaultHandlerDurationBuckets is default buckets into which observations of handler durations are counted.
var DefaultHandlerDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// MetricsCollectorOpts represents options for MetricsCollector.
type MetricsCollectorOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// DurationBuckets is a list of buckets into which observations of handler durations are counted.
	DurationBuckets []float64

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// MetricsCollector represents collector of dispatcher metrics.
type MetricsCollector struct {
	Requests  *prometheus.CounterVec
	Durations *prometheus.HistogramVec
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithOpts(MetricsCollectorOpts{})
}

// NewMetricsCollectorWithOpts is a more configurable version of creating MetricsCollector.
func NewMetricsCollectorWithOpts(opts MetricsCollectorOpts) *MetricsCollector {
	durBuckets := opts.DurationBuckets
	if durBuckets == nil {
		durBuckets = DefaultHandlerDurationBuckets
	}
	return &MetricsCollector{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "dispatch_requests_total",
			Help:        "Number of dispatched requests by route and outcome.",
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelRoute, metricsLabelOutcome}),
		Durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "dispatch_handler_duration_seconds",
			Help:        "A histogram of the handler durations.",
			Buckets:     durBuckets,
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelRoute}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (c *MetricsCollector) MustRegister() {
	prometheus.MustRegister(c.Requests, c.Durations)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (c *MetricsCollector) Unregister() {
	prometheus.Unregister(c.Requests)
	prometheus.Unregister(c.Durations)
}

func (c *MetricsCollector) countRequest(route, outcome string) {
	c.Requests.WithLabelValues(route, outcome).Inc()
}

func (c *MetricsCollector) observeHandler(route string, startTime time.Time) {
	c.Durations.WithLabelValues(route).Observe(time.Since(startTime).Seconds())
}
