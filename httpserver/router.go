/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-dispatch/httpserver/middleware"
	"github.com/acronis/go-dispatch/log"
)

// RouterOpts represents options for creating chi.Router.
type RouterOpts struct {
	RootMiddlewares    []func(http.Handler) http.Handler
	HealthCheck        HealthCheck
	HealthCheckContext HealthCheckContext
	MetricsHandler     http.Handler
	// DispatchHandler serves every request that does not hit a system endpoint.
	// If nil, such requests get 404.
	DispatchHandler http.Handler
}

// NewRouter creates a new chi.Router and performs its basic configuration.
func NewRouter(opts RouterOpts) chi.Router {
	router := chi.NewRouter()
	configureRouter(router, opts)
	return router
}

func configureRouter(router chi.Router, opts RouterOpts) {
	router.Use(opts.RootMiddlewares...)

	// Expose endpoint for Prometheus.
	metricsHandler := opts.MetricsHandler
	if opts.MetricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.Method(http.MethodGet, "/metrics", metricsHandler)

	if opts.HealthCheckContext != nil {
		router.Method(http.MethodGet, "/healthz", NewHealthCheckHandlerContext(opts.HealthCheckContext))
	} else {
		router.Method(http.MethodGet, "/healthz", NewHealthCheckHandler(opts.HealthCheck))
	}

	if opts.DispatchHandler != nil {
		router.Handle("/*", opts.DispatchHandler)
	}

	router.NotFound(func(rw http.ResponseWriter, r *http.Request) {
		middleware.RespondText(rw, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	router.MethodNotAllowed(func(rw http.ResponseWriter, r *http.Request) {
		middleware.RespondText(rw, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})
}

func applyDefaultMiddlewaresToRouter(
	router chi.Router, cfg *Config, logger log.FieldLogger, opts *Opts, collector *middleware.HTTPRequestMetricsCollector,
) error {
	router.Use(middleware.RequestStartTime())

	// Request ID middleware.
	router.Use(middleware.RequestID())

	// Logging middleware.
	router.Use(middleware.LoggingWithOpts(logger, middleware.LoggingOpts{
		RequestStart:         cfg.Log.RequestStart,
		ExcludedEndpoints:    cfg.Log.ExcludedEndpoints,
		SlowRequestThreshold: time.Duration(cfg.Log.SlowRequestThreshold),
	}))

	// Recovery middleware.
	router.Use(middleware.Recovery())

	// Metrics middleware
	getRoutePattern := GetChiRoutePattern
	if opts.HTTPRequestMetrics.GetRoutePattern != nil {
		// Custom route pattern parser
		getRoutePattern = opts.HTTPRequestMetrics.GetRoutePattern
	}
	router.Use(middleware.HTTPRequestMetricsWithOpts(collector, getRoutePattern,
		middleware.HTTPRequestMetricsOpts{ExcludedEndpoints: systemEndpoints}))

	if cfg.Limits.MaxRequests != 0 {
		inFlightLimitMw, err := middleware.InFlightLimitWithOpts(cfg.Limits.MaxRequests,
			middleware.InFlightLimitOpts{ExcludedEndpoints: systemEndpoints})
		if err != nil {
			return fmt.Errorf("create in-flight limit middleware: %w", err)
		}
		router.Use(inFlightLimitMw)
	}

	return nil
}

// GetChiRoutePattern extracts chi route pattern from request.
func GetChiRoutePattern(r *http.Request) string {
	// modified code from https://github.com/go-chi/chi/issues/270#issuecomment-479184559
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		// Pattern is already available
		return pattern
	}

	routePath := r.URL.RawPath
	if routePath == "" {
		routePath = r.URL.Path
	}

	tctx := chi.NewRouteContext()
	if !rctx.Routes.Match(tctx, r.Method, routePath) {
		return ""
	}
	return tctx.RoutePattern()
}
