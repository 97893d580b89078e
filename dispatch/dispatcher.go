/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/acronis/go-dispatch/log"
	"github.com/acronis/go-dispatch/lrucache"
	"github.com/acronis/go-dispatch/mailbox"
	"github.com/acronis/go-dispatch/registry"
	"github.com/acronis/go-dispatch/service"
)

// ErrInvalidState is returned when Start is called on a dispatcher that was already started or stopped.
var ErrInvalidState = errors.New("dispatcher: invalid state")

const panicStackSize = 8 << 10

// Reply texts.
const (
	textNotServing      = "dispatcher is not serving"
	textInternalError   = "internal server error"
	textTooManyPending  = "too many pending requests"
	textTooManyRequests = "too many requests"
)

type state int32

const (
	stateCreated state = iota
	stateStarting
	stateStarted
	stateFailed
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateStarting:
		return "starting"
	case stateStarted:
		return "started"
	case stateFailed:
		return "failed"
	case stateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Opts represents options for Dispatcher.
type Opts struct {
	// Discoverer enumerates handlers of the configured handler groups on Start. May be nil.
	Discoverer registry.Discoverer[Handler]

	// Executor runs handlers. If nil, the dispatcher owns a worker pool of cfg.Pool.Workers goroutines,
	// or runs handlers on the dispatching goroutine when cfg.Pool.Workers is 0.
	Executor mailbox.Executor

	// Metrics collects request metrics. If nil, a new collector is created.
	Metrics *MetricsCollector

	// MetricsNamespace is prepended to the pool and rate limit cache metric names.
	MetricsNamespace string
}

// Dispatcher routes requests arriving on sessions to handlers by route key.
// Handlers of a session implementing Sequenced run one at a time in arrival order.
type Dispatcher struct {
	cfg      *Config
	logger   log.FieldLogger
	registry *registry.Registry[Handler]
	opts     Opts
	state    atomic.Int32

	executor mailbox.Executor
	pool     *mailbox.WorkerPool
	limits   routeLimits

	metrics      *MetricsCollector
	poolGauges   []prometheus.Collector
	cacheMetrics *lrucache.PrometheusMetrics

	// pending holds accepted requests whose handlers have not started yet. It is nil after Stop.
	pendingMu sync.Mutex
	pending   map[*pendingRequest]struct{}
}

type pendingRequest struct {
	sess Session
	key  string
	done chan struct{}
}

var _ service.Component = (*Dispatcher)(nil)
var _ service.MetricsRegisterer = (*Dispatcher)(nil)

// New creates a new Dispatcher. The dispatcher serves nothing until Start is called.
func New(cfg *Config, logger log.FieldLogger, opts Opts) (*Dispatcher, error) {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetricsCollectorWithOpts(MetricsCollectorOpts{Namespace: opts.MetricsNamespace})
	}
	rejectStatus := cfg.RejectStatus
	if rejectStatus == 0 {
		rejectStatus = defaultRejectStatus
	}
	if rejectStatus < 400 || rejectStatus > 599 {
		return nil, fmt.Errorf("reject status should be in [400, 599], got %d", rejectStatus)
	}

	d := &Dispatcher{
		cfg:      cfg,
		logger:   logger,
		registry: registry.New[Handler](),
		opts:     opts,
		metrics:  opts.Metrics,
		pending:  make(map[*pendingRequest]struct{}),
	}

	var err error
	d.cacheMetrics = lrucache.NewPrometheusMetrics(prefixedNamespace(opts.MetricsNamespace, "dispatch_rate_limit"))
	if d.limits, err = newRouteLimits(cfg.RateLimits, d.cacheMetrics); err != nil {
		return nil, err
	}

	switch {
	case opts.Executor != nil:
		d.executor = opts.Executor
	case cfg.Pool.Workers > 0:
		if d.pool, err = mailbox.NewWorkerPool(cfg.Pool.Workers,
			mailbox.WithPoolLogger(logger), mailbox.WithPoolName("dispatcher")); err != nil {
			return nil, err
		}
		d.executor = d.pool
		d.poolGauges = d.newPoolGauges()
	default:
		d.executor = mailbox.InlineExecutor
	}
	return d, nil
}

func prefixedNamespace(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "_" + name
}

func (d *Dispatcher) newPoolGauges() []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: d.opts.MetricsNamespace,
			Name:      "dispatch_pool_queued_tasks",
			Help:      "Number of tasks waiting for a free dispatcher pool worker.",
		}, func() float64 { return float64(d.pool.Stats().Queued) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: d.opts.MetricsNamespace,
			Name:      "dispatch_pool_busy_workers",
			Help:      "Number of dispatcher pool workers running a task.",
		}, func() float64 { return float64(d.pool.Stats().Busy) }),
	}
}

// Register binds the handler to the route key. It must be called before Start.
func (d *Dispatcher) Register(key string, h Handler) error {
	if h == nil {
		return fmt.Errorf("register %q: handler is nil", key)
	}
	return d.registry.Register(key, h)
}

// Start discovers handlers of the configured groups and starts serving.
// Any error leaves the dispatcher in a non-serving state.
func (d *Dispatcher) Start() error {
	if !d.state.CompareAndSwap(int32(stateCreated), int32(stateStarting)) {
		return fmt.Errorf("start in %s state: %w", state(d.state.Load()), ErrInvalidState)
	}
	if err := d.loadHandlers(); err != nil {
		d.state.Store(int32(stateFailed))
		return err
	}
	d.registry.Seal()
	if !d.state.CompareAndSwap(int32(stateStarting), int32(stateStarted)) {
		return fmt.Errorf("start in %s state: %w", state(d.state.Load()), ErrInvalidState)
	}
	d.logger.Info("dispatcher started",
		log.Int("routes", d.registry.Len()), log.Strings("handler_groups", d.cfg.HandlerGroups))
	return nil
}

func (d *Dispatcher) loadHandlers() error {
	if d.opts.Discoverer == nil {
		if len(d.cfg.HandlerGroups) != 0 {
			return fmt.Errorf("handler groups %q are configured, but no discoverer is set", d.cfg.HandlerGroups)
		}
		return nil
	}
	return d.registry.LoadFrom(d.opts.Discoverer, d.cfg.HandlerGroups,
		registry.WithDisabled[Handler](d.cfg.DisabledRoutes...),
		registry.WithCheck(func(key string, h Handler) error {
			if h == nil {
				return fmt.Errorf("factory for route %q returned nil handler", key)
			}
			return nil
		}),
	)
}

// Stop stops serving. Queued handlers that have not started yet are discarded, running ones are not waited for.
// Discarded requests are answered with 503, and their Dispatch channels are closed.
// The dispatcher cannot be started again.
func (d *Dispatcher) Stop(gracefully bool) error {
	prev := state(d.state.Swap(int32(stateStopped)))
	if prev == stateStopped {
		return nil
	}
	if d.pool != nil {
		d.pool.ShutdownNow()
	}
	if discarded := d.discardPending(); discarded != 0 {
		d.logger.Warn("queued requests are discarded", log.Int("count", discarded))
	}
	d.logger.Info("dispatcher stopped", log.Bool("graceful", gracefully))
	return nil
}

// Executor returns the executor handlers run on. Transports create the mailboxes of ordered sessions on it.
func (d *Dispatcher) Executor() mailbox.Executor {
	return d.executor
}

// Routes returns the sorted list of registered route keys.
func (d *Dispatcher) Routes() []string {
	return d.registry.Keys()
}

// IsServing reports whether the dispatcher has been started and not stopped yet.
func (d *Dispatcher) IsServing() bool {
	return state(d.state.Load()) == stateStarted
}

// MustRegisterMetrics registers dispatcher metrics in Prometheus and panics if any error occurs.
func (d *Dispatcher) MustRegisterMetrics() {
	d.metrics.MustRegister()
	d.cacheMetrics.MustRegister()
	prometheus.MustRegister(d.poolGauges...)
}

// UnregisterMetrics cancels registration of dispatcher metrics in Prometheus.
func (d *Dispatcher) UnregisterMetrics() {
	for _, g := range d.poolGauges {
		prometheus.Unregister(g)
	}
	d.cacheMetrics.Unregister()
	d.metrics.Unregister()
}

// Dispatch routes the request to the handler registered for the key.
// The returned channel is closed when the handler has returned or the request has been rejected.
// A request for an unknown key is answered with cfg.RejectStatus, and the session is closed after the reply is written.
func (d *Dispatcher) Dispatch(ctx context.Context, sess Session, key string, payload []byte) <-chan struct{} {
	done := make(chan struct{})

	if !d.IsServing() {
		d.metrics.countRequest(UnknownRouteLabel, OutcomeUnavailable)
		d.reply(sess, TextMessage(key, http.StatusServiceUnavailable, textNotServing), done)
		return done
	}

	h, ok := d.registry.Lookup(key)
	if !ok {
		d.logger.Warn("no handler found for route key", log.String("route_key", key), log.String("session", sess.ID()))
		d.metrics.countRequest(UnknownRouteLabel, OutcomeNotFound)
		msg := TextMessage(key, d.rejectStatus(), fmt.Sprintf("no handler found for route key %q", key))
		msg.Close = true
		d.reply(sess, msg, done)
		return done
	}

	logger := d.logger.With(log.String("route_key", key), log.String("session", sess.ID()))

	allowed, retryAfter, err := d.limits.allow(ctx, sess, key)
	if err != nil {
		logger.Error("rate limiting failed, request is allowed", log.Error(err))
	} else if !allowed {
		logger.Warn("request is throttled", log.Duration("retry_after", retryAfter))
		d.metrics.countRequest(key, OutcomeThrottled)
		d.reply(sess, TextMessage(key, http.StatusTooManyRequests, textTooManyRequests), done)
		return done
	}

	seq := sequencerOf(sess)
	if maxPending := d.cfg.Limits.MaxPendingPerSession; seq != nil && maxPending > 0 && seq.Size() >= maxPending {
		logger.Warn("too many pending requests in session", log.Int("pending", seq.Size()))
		d.metrics.countRequest(key, OutcomeOverloaded)
		d.reply(sess, TextMessage(key, http.StatusServiceUnavailable, textTooManyPending), done)
		return done
	}

	req := &pendingRequest{sess: sess, key: key, done: done}
	if !d.track(req) {
		d.metrics.countRequest(key, OutcomeUnavailable)
		d.reply(sess, TextMessage(key, http.StatusServiceUnavailable, textNotServing), done)
		return done
	}

	sess.SetAttribute(AttrRouteKey, key)

	task := func() {
		if !d.claim(req) {
			return // Discarded by Stop.
		}
		defer close(done)
		d.handle(ctx, logger, sess, h, key, payload)
	}
	if seq != nil {
		err = seq.Enqueue(task)
	} else {
		err = d.executor.Submit(task)
	}
	if err != nil && d.claim(req) {
		logger.Warn("request is rejected by executor", log.Error(err))
		d.metrics.countRequest(key, OutcomeRejected)
		d.reply(sess, TextMessage(key, http.StatusServiceUnavailable, textNotServing), done)
	}
	return done
}

func (d *Dispatcher) track(req *pendingRequest) bool {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	if d.pending == nil {
		return false
	}
	d.pending[req] = struct{}{}
	return true
}

// claim reports whether the caller owns the request, i.e. nobody has run or discarded it yet.
func (d *Dispatcher) claim(req *pendingRequest) bool {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	if _, ok := d.pending[req]; !ok {
		return false
	}
	delete(d.pending, req)
	return true
}

// discardPending answers every request that has not started with 503 and stops tracking new ones.
func (d *Dispatcher) discardPending() int {
	d.pendingMu.Lock()
	reqs := d.pending
	d.pending = nil
	d.pendingMu.Unlock()

	for req := range reqs {
		d.metrics.countRequest(req.key, OutcomeUnavailable)
		d.reply(req.sess, TextMessage(req.key, http.StatusServiceUnavailable, textNotServing), req.done)
	}
	return len(reqs)
}

func (d *Dispatcher) rejectStatus() int {
	if d.cfg.RejectStatus == 0 {
		return defaultRejectStatus
	}
	return d.cfg.RejectStatus
}

func (d *Dispatcher) handle(ctx context.Context, logger log.FieldLogger, sess Session, h Handler, key string, payload []byte) {
	startTime := time.Now()
	outcome := OutcomeOK
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, panicStackSize)
			stack = stack[:runtime.Stack(stack, false)]
			logger.Error(fmt.Sprintf("handler panicked: %+v", r), log.Bytes("stack", stack))
			outcome = OutcomePanic
			d.replyInternalError(logger, sess, key)
		}
		elapsed := time.Since(startTime)
		d.metrics.observeHandler(key, startTime)
		d.metrics.countRequest(key, outcome)
		if threshold := time.Duration(d.cfg.Log.SlowHandlerThreshold); threshold > 0 && elapsed >= threshold {
			logger.Warn("slow handler", log.DurationIn(elapsed, time.Millisecond))
		}
	}()

	if err := h.Handle(ctx, sess, key, payload); err != nil {
		outcome = OutcomeError
		logger.Error("handler failed", log.Error(err))
		d.replyInternalError(logger, sess, key)
	}
}

func (d *Dispatcher) replyInternalError(logger log.FieldLogger, sess Session, key string) {
	if !sess.IsActive() {
		return
	}
	written := sess.WriteAsync(TextMessage(key, http.StatusInternalServerError, textInternalError))
	go func() {
		if err := <-written; err != nil {
			logger.Warn("failed to write error reply", log.Error(err))
		}
	}()
}

// reply writes the message and closes done once the write completes.
// When msg.Close is set, the session is closed exactly once after the write.
func (d *Dispatcher) reply(sess Session, msg Message, done chan struct{}) {
	finish := func(err error) {
		if err != nil {
			d.logger.Warn("failed to write reply",
				log.String("route_key", msg.Key), log.String("session", sess.ID()), log.Error(err))
		}
		if msg.Close {
			if err = sess.Close(); err != nil {
				d.logger.Warn("failed to close session", log.String("session", sess.ID()), log.Error(err))
			}
		}
		close(done)
	}
	written := sess.WriteAsync(msg)
	select {
	case err := <-written:
		finish(err)
	default:
		go func() { finish(<-written) }()
	}
}
