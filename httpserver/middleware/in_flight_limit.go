/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/acronis/go-dispatch/internal/inflightlimit"
	"github.com/acronis/go-dispatch/log"
)

// Log fields for InFlightLimit middleware.
const (
	InFlightLimitLogFieldKey        = "in_flight_limit_key"
	InFlightLimitLogFieldBacklogged = "in_flight_limit_backlogged"
)

// InFlightLimitOpts represents an options for the middleware to limit in-flight HTTP requests.
type InFlightLimitOpts struct {
	// GetKey returns the key requests are limited by. Nil means one limit for all requests.
	GetKey  func(r *http.Request) string
	MaxKeys int
	// ResponseStatusCode is the status of rejected requests, 503 by default.
	ResponseStatusCode int
	// RetryAfter is the value of the Retry-After header of rejected requests. 0 omits the header.
	RetryAfter     time.Duration
	BacklogLimit   int
	BacklogTimeout time.Duration
	// ExcludedEndpoints are never limited.
	ExcludedEndpoints []string
}

type inFlightLimitHandler struct {
	next      http.Handler
	processor *inflightlimit.RequestProcessor
	opts      InFlightLimitOpts
}

// InFlightLimit is a middleware that limits the total number of currently served (in-flight) HTTP requests.
// It checks how many requests are in-flight and rejects with 503 if exceeded.
func InFlightLimit(limit int) (func(next http.Handler) http.Handler, error) {
	return InFlightLimitWithOpts(limit, InFlightLimitOpts{})
}

// InFlightLimitWithOpts is a configurable version of a middleware to limit in-flight HTTP requests.
func InFlightLimitWithOpts(limit int, opts InFlightLimitOpts) (func(next http.Handler) http.Handler, error) {
	maxKeys := 0
	if opts.GetKey != nil {
		maxKeys = opts.MaxKeys
		if maxKeys == 0 {
			maxKeys = 10000
		}
	}
	processor, err := inflightlimit.NewRequestProcessor(limit, inflightlimit.BacklogParams{
		MaxKeys: maxKeys,
		Limit:   opts.BacklogLimit,
		Timeout: opts.BacklogTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create request processor: %w", err)
	}
	if opts.ResponseStatusCode == 0 {
		opts.ResponseStatusCode = http.StatusServiceUnavailable
	}
	return func(next http.Handler) http.Handler {
		return &inFlightLimitHandler{next: next, processor: processor, opts: opts}
	}, nil
}

func (h *inFlightLimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if isEndpointInList(r.URL.Path, h.opts.ExcludedEndpoints) {
		h.next.ServeHTTP(rw, r)
		return
	}
	_ = h.processor.ProcessRequest(&httpInFlightRequest{rw: rw, r: r, h: h})
}

type httpInFlightRequest struct {
	rw http.ResponseWriter
	r  *http.Request
	h  *inFlightLimitHandler
}

func (req *httpInFlightRequest) Context() context.Context {
	return req.r.Context()
}

func (req *httpInFlightRequest) Key() string {
	if req.h.opts.GetKey == nil {
		return ""
	}
	return req.h.opts.GetKey(req.r)
}

func (req *httpInFlightRequest) Execute() error {
	req.h.next.ServeHTTP(req.rw, req.r)
	return nil
}

func (req *httpInFlightRequest) OnReject(params inflightlimit.Params) error {
	if logger := GetLoggerFromContext(req.r.Context()); logger != nil {
		logger.Warn("too many in-flight requests, request is rejected",
			log.String(InFlightLimitLogFieldKey, params.Key),
			log.Bool(InFlightLimitLogFieldBacklogged, params.RequestBacklogged),
		)
	}
	if retryAfter := req.h.opts.RetryAfter; retryAfter > 0 {
		req.rw.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	}
	RespondText(req.rw, req.h.opts.ResponseStatusCode, "too many in-flight requests")
	return nil
}

func (req *httpInFlightRequest) OnError(params inflightlimit.Params, err error) error {
	if logger := GetLoggerFromContext(req.r.Context()); logger != nil {
		logger.Warn("request is cancelled while waiting for in-flight slot",
			log.String(InFlightLimitLogFieldKey, params.Key), log.Error(err))
	}
	return err
}
