/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package interceptor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
)

const (
	metricsLabelService    = "grpc_service"
	metricsLabelMethod     = "grpc_method"
	metricsLabelMethodType = "grpc_method_type"
	metricsLabelCode       = "grpc_code"
)

// DefaultPrometheusDurationBuckets is default buckets into which observations of serving gRPC calls are counted.
var DefaultPrometheusDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 150, 300, 600}

// MetricsCollector is an interface for collecting metrics for incoming gRPC calls.
type MetricsCollector interface {
	IncInFlightCalls(call CallInfo)
	DecInFlightCalls(call CallInfo)
	ObserveCallFinish(call CallInfo, code codes.Code, startTime time.Time)
}

// PrometheusOpts represents options for PrometheusMetrics.
type PrometheusOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// DurationBuckets is a list of buckets into which observations of serving calls are counted.
	DurationBuckets []float64

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics collects metrics of the calls served by the Multiplexer.
type PrometheusMetrics struct {
	Durations *prometheus.HistogramVec
	InFlight  *prometheus.GaugeVec
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusOpts) *PrometheusMetrics {
	if opts.DurationBuckets == nil {
		opts.DurationBuckets = DefaultPrometheusDurationBuckets
	}
	return &PrometheusMetrics{
		Durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "grpc_call_duration_seconds",
			Help:        "A histogram of the gRPC call durations.",
			Buckets:     opts.DurationBuckets,
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelService, metricsLabelMethod, metricsLabelMethodType, metricsLabelCode}),
		InFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "grpc_calls_in_flight",
			Help:        "Current number of gRPC calls being served.",
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelService, metricsLabelMethod, metricsLabelMethodType}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.Durations, pm.InFlight)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.InFlight)
	prometheus.Unregister(pm.Durations)
}

func (call CallInfo) labels() prometheus.Labels {
	return prometheus.Labels{
		metricsLabelService:    call.Service,
		metricsLabelMethod:     call.Method,
		metricsLabelMethodType: string(call.MethodType),
	}
}

// IncInFlightCalls increments the counter of in-flight calls.
func (pm *PrometheusMetrics) IncInFlightCalls(call CallInfo) {
	pm.InFlight.With(call.labels()).Inc()
}

// DecInFlightCalls decrements the counter of in-flight calls.
func (pm *PrometheusMetrics) DecInFlightCalls(call CallInfo) {
	pm.InFlight.With(call.labels()).Dec()
}

// ObserveCallFinish observes the duration of the call and the status code.
func (pm *PrometheusMetrics) ObserveCallFinish(call CallInfo, code codes.Code, startTime time.Time) {
	labels := call.labels()
	labels[metricsLabelCode] = code.String()
	pm.Durations.With(labels).Observe(time.Since(startTime).Seconds())
}

// MetricsOption is a function type for configuring the metrics interceptors.
type MetricsOption func(*metricsOptions)

type metricsOptions struct {
	excludedMethods []string
}

// WithMetricsExcludedMethods excludes the specified full method names from metrics collection.
func WithMetricsExcludedMethods(methods ...string) MetricsOption {
	return func(opts *metricsOptions) {
		opts.excludedMethods = append(opts.excludedMethods, methods...)
	}
}

func newMetricsOptions(options []MetricsOption) *metricsOptions {
	opts := &metricsOptions{}
	for _, option := range options {
		option(opts)
	}
	return opts
}

// observeCall runs next between the in-flight bookkeeping. A panic is observed as codes.Internal and re-raised.
func observeCall(ctx context.Context, collector MetricsCollector, call CallInfo, next func(ctx context.Context) error) (err error) {
	ctx, startTime := ensureCallStartTime(ctx)
	collector.IncInFlightCalls(call)
	defer collector.DecInFlightCalls(call)
	defer func() {
		if p := recover(); p != nil {
			collector.ObserveCallFinish(call, codes.Internal, startTime)
			panic(p)
		}
		collector.ObserveCallFinish(call, codeFromError(err), startTime)
	}()
	return next(ctx)
}

// MetricsUnaryInterceptor collects metrics for incoming unary calls.
func MetricsUnaryInterceptor(collector MetricsCollector, options ...MetricsOption) grpc.UnaryServerInterceptor {
	opts := newMetricsOptions(options)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if containsMethod(opts.excludedMethods, info.FullMethod) {
			return handler(ctx, req)
		}
		var resp interface{}
		err := observeCall(ctx, collector, newCallInfo(info.FullMethod, CallMethodTypeUnary), func(ctx context.Context) (err error) {
			resp, err = handler(ctx, req)
			return err
		})
		return resp, err
	}
}

// MetricsStreamInterceptor collects metrics for incoming stream calls.
func MetricsStreamInterceptor(collector MetricsCollector, options ...MetricsOption) grpc.StreamServerInterceptor {
	opts := newMetricsOptions(options)
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if containsMethod(opts.excludedMethods, info.FullMethod) {
			return handler(srv, ss)
		}
		return observeCall(ss.Context(), collector, newCallInfo(info.FullMethod, CallMethodTypeStream), func(ctx context.Context) error {
			return handler(srv, &WrappedServerStream{ServerStream: ss, Ctx: ctx})
		})
	}
}
