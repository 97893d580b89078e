/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package rpcmux

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/acronis/go-dispatch/log"
	"github.com/acronis/go-dispatch/registry"
	"github.com/acronis/go-dispatch/rpcmux/interceptor"
	"github.com/acronis/go-dispatch/service"
)

// ErrInvalidState is returned when the Multiplexer is used in a state that does not allow the operation,
// e.g. started twice or given a processor after Start.
var ErrInvalidState = errors.New("rpcmux: invalid state")

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

// MetricsOpts represents options for the call metrics collected by the Multiplexer.
type MetricsOpts struct {
	Namespace       string
	DurationBuckets []float64
	ConstLabels     prometheus.Labels
}

// Opts represents options for creating Multiplexer.
type Opts struct {
	// Discoverer enumerates processors of cfg.SearchPaths on Start. May be nil.
	Discoverer registry.Discoverer[Service]
	// UnaryInterceptors are chained after the built-in ones.
	UnaryInterceptors []grpc.UnaryServerInterceptor
	// StreamInterceptors are chained after the built-in ones.
	StreamInterceptors []grpc.StreamServerInterceptor
	// Metrics contains options for the call metrics.
	Metrics MetricsOpts
	// Listener is a pre-configured network listener to use instead of binding cfg.Address.
	Listener net.Listener
}

// Multiplexer serves a set of processors on one gRPC server, routing calls by service name.
// It implements service.Component, service.ErrorReporter and service.MetricsRegisterer interfaces.
type Multiplexer struct {
	cfg      *Config
	logger   log.FieldLogger
	opts     Opts
	registry *registry.Registry[Service]
	state    atomic.Int32
	loaded   bool

	server    *grpc.Server
	address   atomic.String
	errs      chan error
	serveDone chan struct{}
	metrics   *interceptor.PrometheusMetrics
}

var _ service.Component = (*Multiplexer)(nil)
var _ service.ErrorReporter = (*Multiplexer)(nil)
var _ service.MetricsRegisterer = (*Multiplexer)(nil)

// New creates a new Multiplexer. Nothing is bound until Start is called.
func New(cfg *Config, logger log.FieldLogger, opts Opts) *Multiplexer { //nolint // hugeParam: opts is heavy, it's ok in this case.
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	m := &Multiplexer{
		cfg:       cfg,
		logger:    logger,
		opts:      opts,
		registry:  registry.New[Service](),
		errs:      make(chan error, 1),
		serveDone: make(chan struct{}),
		metrics: interceptor.NewPrometheusMetricsWithOpts(interceptor.PrometheusOpts{
			Namespace:       opts.Metrics.Namespace,
			DurationBuckets: opts.Metrics.DurationBuckets,
			ConstLabels:     opts.Metrics.ConstLabels,
		}),
	}
	m.address.Store(cfg.Address)
	return m
}

// AddProcessor binds the processor to the service name. It must be called before Start.
// An empty name means the name from the service descriptor.
func (m *Multiplexer) AddProcessor(name string, svc Service) error {
	if st := state(m.state.Load()); st != stateCreated {
		return fmt.Errorf("add processor in %s state: %w", st, ErrInvalidState)
	}
	if name == "" && svc.Desc != nil {
		name = svc.Desc.ServiceName
	}
	if err := checkProcessor(name, svc); err != nil {
		return err
	}
	return m.registry.Register(name, bind(name, svc))
}

// LoadProcessors discovers the processors of the configured search paths and registers them.
// Start calls it if it has not been called before.
func (m *Multiplexer) LoadProcessors() error {
	if st := state(m.state.Load()); st != stateCreated && st != stateStarting {
		return fmt.Errorf("load processors in %s state: %w", st, ErrInvalidState)
	}
	if m.loaded {
		return nil
	}
	if m.opts.Discoverer == nil {
		if len(m.cfg.SearchPaths) != 0 {
			return fmt.Errorf("search paths %q are configured, but no discoverer is set", m.cfg.SearchPaths)
		}
		m.loaded = true
		return nil
	}
	if err := m.registry.LoadFrom(m.opts.Discoverer, m.cfg.SearchPaths, registry.WithCheck(checkProcessor)); err != nil {
		return err
	}
	m.loaded = true
	return nil
}

// Processors returns the sorted list of service names the Multiplexer serves.
func (m *Multiplexer) Processors() []string {
	return m.registry.Keys()
}

// Start loads processors, binds the listener and launches the serve loop in the background.
// It returns once the listener is bound. Any error leaves the Multiplexer in a non-serving state.
func (m *Multiplexer) Start() error {
	if !m.state.CompareAndSwap(int32(stateCreated), int32(stateStarting)) {
		return fmt.Errorf("start in %s state: %w", state(m.state.Load()), ErrInvalidState)
	}
	listener, err := m.start()
	if err != nil {
		m.state.Store(int32(stateFailed))
		close(m.serveDone)
		return err
	}
	if !m.state.CompareAndSwap(int32(stateStarting), int32(stateStarted)) {
		_ = listener.Close()
		close(m.serveDone)
		return fmt.Errorf("start in %s state: %w", state(m.state.Load()), ErrInvalidState)
	}

	logger := m.logger.With(log.String("address", m.Address()))
	logger.Info("gRPC server started",
		log.Strings("processors", m.registry.Keys()),
		log.Int("selector_threads", m.cfg.SelectorThreads),
		log.Int("worker_threads", m.cfg.WorkerThreads),
	)
	go m.serve(logger, listener)
	return nil
}

func (m *Multiplexer) start() (net.Listener, error) {
	if err := m.LoadProcessors(); err != nil {
		return nil, err
	}
	m.registry.Seal()

	listener := m.opts.Listener
	if listener == nil {
		var err error
		if listener, err = net.Listen("tcp", m.cfg.Address); err != nil {
			return nil, fmt.Errorf("listen on %q: %w", m.cfg.Address, err)
		}
	}
	m.address.Store(listener.Addr().String())

	m.server = grpc.NewServer(m.serverOptions()...)
	for _, name := range m.registry.Keys() {
		svc, _ := m.registry.Lookup(name)
		svc = bind(name, svc)
		m.server.RegisterService(svc.Desc, svc.Impl)
	}
	return listener, nil
}

func (m *Multiplexer) serverOptions() []grpc.ServerOption {
	serverOpts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    time.Duration(m.cfg.Keepalive.Time),
			Timeout: time.Duration(m.cfg.Keepalive.Timeout),
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             time.Duration(m.cfg.Keepalive.MinTime),
			PermitWithoutStream: true,
		}),
	}
	if m.cfg.WorkerThreads > 0 {
		serverOpts = append(serverOpts, grpc.NumStreamWorkers(uint32(m.cfg.WorkerThreads))) //nolint:gosec // validated non-negative by config
	}
	if m.cfg.Limits.MaxConcurrentStreams > 0 {
		serverOpts = append(serverOpts, grpc.MaxConcurrentStreams(m.cfg.Limits.MaxConcurrentStreams))
	}
	if m.cfg.Limits.MaxRecvMessageSize > 0 {
		serverOpts = append(serverOpts, grpc.MaxRecvMsgSize(int(m.cfg.Limits.MaxRecvMessageSize)))
	}
	if m.cfg.Limits.MaxSendMessageSize > 0 {
		serverOpts = append(serverOpts, grpc.MaxSendMsgSize(int(m.cfg.Limits.MaxSendMessageSize)))
	}

	loggingOpts := []interceptor.LoggingOption{
		interceptor.WithLoggingCallStart(m.cfg.Log.CallStart),
		interceptor.WithLoggingSlowCallThreshold(time.Duration(m.cfg.Log.SlowCallThreshold)),
		interceptor.WithLoggingExcludedMethods(m.cfg.Log.ExcludedMethods...),
	}
	unaryInterceptors := append([]grpc.UnaryServerInterceptor{
		interceptor.CallStartTimeUnaryInterceptor(),
		interceptor.RequestIDUnaryInterceptor(),
		interceptor.LoggingUnaryInterceptor(m.logger, loggingOpts...),
		interceptor.RecoveryUnaryInterceptor(),
		interceptor.MetricsUnaryInterceptor(m.metrics),
	}, m.opts.UnaryInterceptors...)
	streamInterceptors := append([]grpc.StreamServerInterceptor{
		interceptor.CallStartTimeStreamInterceptor(),
		interceptor.RequestIDStreamInterceptor(),
		interceptor.LoggingStreamInterceptor(m.logger, loggingOpts...),
		interceptor.RecoveryStreamInterceptor(),
		interceptor.MetricsStreamInterceptor(m.metrics),
	}, m.opts.StreamInterceptors...)

	return append(serverOpts,
		grpc.ChainUnaryInterceptor(unaryInterceptors...),
		grpc.ChainStreamInterceptor(streamInterceptors...),
	)
}

func (m *Multiplexer) serve(logger log.FieldLogger, listener net.Listener) {
	defer close(m.serveDone)
	if err := m.server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		logger.Error("gRPC server error", log.Error(err))
		select {
		case m.errs <- err:
		default:
		}
		return
	}
	logger.Info("gRPC server closed")
}

// Errors returns the channel a serve loop failure is delivered to.
func (m *Multiplexer) Errors() <-chan error {
	return m.errs
}

// Stop stops the serve loop. If gracefully is true, in-flight calls are given cfg.Timeouts.Shutdown
// to finish before the server is stopped forcefully. The Multiplexer cannot be started again.
func (m *Multiplexer) Stop(gracefully bool) error {
	prev := state(m.state.Swap(int32(stateStopped)))
	if prev != stateStarted {
		return nil
	}

	if !gracefully {
		m.logger.Info("stopping gRPC server...")
		m.server.Stop()
		<-m.serveDone
		return nil
	}

	shutdownTimeout := time.Duration(m.cfg.Timeouts.Shutdown)
	m.logger.Info("stopping gRPC server gracefully...", log.Duration("timeout", shutdownTimeout))
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		m.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		m.logger.Info("gRPC server gracefully stopped")
	case <-ctx.Done():
		m.logger.Warn("gRPC server graceful stop timed out, stopping forcefully...")
		m.server.Stop()
	}
	<-m.serveDone
	return nil
}

// Address returns the address the Multiplexer listens on.
// After Start it is the bound address, so a ":0" port is resolved.
func (m *Multiplexer) Address() string {
	return m.address.Load()
}

// IsServing reports whether the Multiplexer has been started and not stopped yet.
func (m *Multiplexer) IsServing() bool {
	return state(m.state.Load()) == stateStarted
}

// MustRegisterMetrics registers call metrics in Prometheus and panics if any error occurs.
func (m *Multiplexer) MustRegisterMetrics() {
	m.metrics.MustRegister()
}

// UnregisterMetrics cancels registration of call metrics in Prometheus.
func (m *Multiplexer) UnregisterMetrics() {
	m.metrics.Unregister()
}
