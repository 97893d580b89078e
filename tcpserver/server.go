/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package tcpserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/acronis/go-dispatch/dispatch"
	"github.com/acronis/go-dispatch/log"
	"github.com/acronis/go-dispatch/service"
)

const (
	textTooManyRequests    = "too many requests"
	textTooManyConnections = "too many connections"
	textFrameTooLarge      = "frame is too large"
	textMalformedFrame     = "malformed frame"

	rejectWriteTimeout = time.Second
	maxAcceptDelay     = time.Second
)

// Opts represents options for creating Server.
type Opts struct {
	// Listener is a pre-configured network listener to use instead of creating a new one.
	Listener net.Listener

	// MetricsNamespace is prepended to the metric names.
	MetricsNamespace string
}

// Server accepts TCP connections and passes every inbound frame to the dispatcher.
// The frame key is the route key and the frame body is the payload.
// It implements service.Unit and service.MetricsRegisterer interfaces.
type Server struct {
	cfg        *Config
	logger     log.FieldLogger
	dispatcher *dispatch.Dispatcher
	metrics    *metrics

	address  atomic.String
	started  atomic.Bool
	stopping atomic.Bool

	mu       sync.Mutex
	listener net.Listener
	sessions map[*session]struct{}
	conns    sync.WaitGroup

	serveDone chan struct{}
}

var _ service.Unit = (*Server)(nil)
var _ service.MetricsRegisterer = (*Server)(nil)

// New creates a new Server.
func New(cfg *Config, logger log.FieldLogger, dispatcher *dispatch.Dispatcher, opts Opts) (*Server, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is nil")
	}
	if cfg.Limits.WriteQueueSize <= 0 {
		return nil, fmt.Errorf("write queue size must be positive, got %d", cfg.Limits.WriteQueueSize)
	}
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	return &Server{
		cfg:        cfg,
		logger:     logger,
		dispatcher: dispatcher,
		metrics:    newMetrics(opts.MetricsNamespace),
		listener:   opts.Listener,
		sessions:   make(map[*session]struct{}),
		serveDone:  make(chan struct{}),
	}, nil
}

// Start starts accepting connections in a blocking way.
// It's supposed that this method will be called in a separate goroutine.
// If a fatal error occurs, it will be sent to the fatalError channel.
func (s *Server) Start(fatalError chan<- error) {
	if s.started.Swap(true) {
		fatalError <- fmt.Errorf("TCP server is already started")
		return
	}
	defer close(s.serveDone)

	logger := s.logger.With(
		log.String("address", s.cfg.Address),
		log.Int("max_connections", s.cfg.Limits.MaxConnections),
		log.Uint64("max_frame_size", uint64(s.cfg.Limits.MaxFrameSize)),
		log.Duration("idle_timeout", time.Duration(s.cfg.Timeouts.Idle)),
		log.Duration("write_timeout", time.Duration(s.cfg.Timeouts.Write)),
		log.Duration("shutdown_timeout", time.Duration(s.cfg.Timeouts.Shutdown)),
	)
	logger.Info("starting TCP server...")

	listener, err := s.bind()
	if err != nil {
		logger.Error("TCP server error", log.Error(err))
		fatalError <- err
		return
	}
	if listener == nil {
		return // stopped before start
	}
	s.address.Store(listener.Addr().String())

	if err = s.accept(listener); err != nil {
		logger.Error("TCP server error", log.Error(err))
		fatalError <- err
		return
	}
	logger.Info("TCP server closed")
}

func (s *Server) bind() (net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping.Load() {
		return nil, nil
	}
	if s.listener == nil {
		listener, err := listen(s.cfg.Address, s.cfg.ReuseAddr)
		if err != nil {
			return nil, err
		}
		s.listener = listener
	}
	return s.listener, nil
}

func listen(address string, reuseAddr bool) (net.Listener, error) {
	lc := net.ListenConfig{}
	if reuseAddr {
		lc.Control = reuseAddrControl
	}
	listener, err := lc.Listen(context.Background(), "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}
	return listener, nil
}

func (s *Server) accept(listener net.Listener) error {
	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else if delay *= 2; delay > maxAcceptDelay {
					delay = maxAcceptDelay
				}
				s.logger.Warn("accept error, retrying", log.Error(err), log.Duration("delay", delay))
				time.Sleep(delay)
				continue
			}
			return err
		}
		delay = 0

		sess, err := s.register(conn)
		if err != nil {
			s.metrics.connections.WithLabelValues(connectionRejected).Inc()
			go s.reject(conn, err)
			continue
		}
		s.metrics.connections.WithLabelValues(connectionAccepted).Inc()
		go s.serve(sess)
	}
}

var errTooManyConnections = errors.New(textTooManyConnections)

func (s *Server) register(conn net.Conn) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping.Load() {
		return nil, net.ErrClosed
	}
	if limit := s.cfg.Limits.MaxConnections; limit > 0 && len(s.sessions) >= limit {
		return nil, errTooManyConnections
	}
	sess, err := newSession(conn, s.dispatcher.Executor(), s.logger, s.cfg)
	if err != nil {
		return nil, err
	}
	s.sessions[sess] = struct{}{}
	s.conns.Add(1)
	s.metrics.active.Inc()
	return sess, nil
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	s.metrics.active.Dec()
	s.conns.Done()
}

// reject answers with a single 503 frame and closes the connection.
func (s *Server) reject(conn net.Conn, reason error) {
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug("failed to close rejected connection", log.Error(err))
		}
	}()
	s.logger.Warn("connection is rejected", log.String("remote_addr", conn.RemoteAddr().String()), log.Error(reason))
	if errors.Is(reason, net.ErrClosed) {
		return
	}
	if err := conn.SetWriteDeadline(time.Now().Add(rejectWriteTimeout)); err != nil {
		return
	}
	frame := Frame{Status: http.StatusServiceUnavailable, Body: []byte(textTooManyConnections)}
	if err := WriteFrame(conn, frame, 0); err != nil {
		s.logger.Debug("failed to write reject frame", log.Error(err))
	}
}

func (s *Server) serve(sess *session) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		_ = sess.Close()
		<-sess.done()
		s.unregister(sess)
		sess.logger.Debug("connection closed")
	}()
	go sess.writeLoop()

	sess.logger.Debug("connection accepted")

	var limiter *rate.Limiter
	if mps := s.cfg.Limits.MessagesPerSecond; mps > 0 {
		limiter = rate.NewLimiter(rate.Limit(mps), mps)
	}
	idle := time.Duration(s.cfg.Timeouts.Idle)
	r := bufio.NewReader(sess.conn)

	for {
		if idle > 0 {
			if err := sess.conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
				sess.logger.Debug("failed to set read deadline", log.Error(err))
				return
			}
		}
		frame, err := ReadFrame(r, int(s.cfg.Limits.MaxFrameSize))
		if errors.Is(err, io.EOF) {
			sess.logger.Debug("connection closed by peer")
			s.drain(sess)
			return
		}
		if err != nil {
			s.handleReadError(sess, err)
			return
		}
		s.metrics.frames.WithLabelValues(frameReceived).Inc()

		if limiter != nil && !limiter.Allow() {
			s.metrics.frames.WithLabelValues(frameThrottled).Inc()
			sess.logger.Warn("frame is throttled", log.String("route_key", frame.Key))
			sess.WriteAsync(dispatch.TextMessage(frame.Key, http.StatusTooManyRequests, textTooManyRequests))
			continue
		}
		s.dispatcher.Dispatch(ctx, sess, frame.Key, frame.Body)
	}
}

// drain waits until the requests already read from a half-closed connection are handled,
// so their replies are written before the connection is closed.
func (s *Server) drain(sess *session) {
	drained := make(chan struct{})
	if err := sess.mailbox.Enqueue(func() { close(drained) }); err != nil {
		return
	}
	timer := time.NewTimer(time.Duration(s.cfg.Timeouts.Shutdown))
	defer timer.Stop()
	select {
	case <-drained:
	case <-sess.done():
	case <-timer.C:
		sess.logger.Warn("timed out waiting for queued requests of closed connection", log.Int("pending", sess.mailbox.Size()))
	}
}

// handleReadError answers frames that cannot be read with a closing reply, the stream cannot be resynchronized.
func (s *Server) handleReadError(sess *session, err error) {
	var reply string
	switch {
	case errors.Is(err, ErrFrameTooLarge):
		reply = textFrameTooLarge
	case errors.Is(err, ErrMalformedFrame):
		reply = textMalformedFrame
	case errors.Is(err, os.ErrDeadlineExceeded):
		sess.logger.Info("connection is idle for too long, closing")
		return
	case s.stopping.Load() || !sess.IsActive() || errors.Is(err, net.ErrClosed):
		return
	default:
		sess.logger.Warn("failed to read frame", log.Error(err))
		return
	}

	sess.logger.Warn("invalid frame, closing connection", log.Error(err))
	status := http.StatusBadRequest
	if reply == textFrameTooLarge {
		status = http.StatusRequestEntityTooLarge
	}
	msg := dispatch.TextMessage("", status, reply)
	msg.Close = true
	<-sess.WriteAsync(msg)
}

// Stop stops accepting connections and closes the served ones.
// When gracefully is true, frames that are already queued are written first.
// Connections still open when the shutdown timeout expires are closed forcibly.
func (s *Server) Stop(gracefully bool) error {
	if s.stopping.Swap(true) {
		return nil
	}
	s.logger.Info("stopping TCP server...", log.Bool("graceful", gracefully))

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Error("TCP server listener closing error", log.Error(err))
		}
	}

	s.closeSessions(!gracefully)

	timeout := time.Duration(s.cfg.Timeouts.Shutdown)
	if !waitGroupTimeout(&s.conns, timeout) {
		s.logger.Warn("connections are not closed in time, closing forcibly", log.Duration("timeout", timeout))
		s.closeSessions(true)
		s.conns.Wait()
	}
	if s.started.Load() {
		<-s.serveDone
	}
	s.logger.Info("TCP server stopped")
	return nil
}

func (s *Server) closeSessions(force bool) {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		if force {
			_ = sess.conn.Close()
		}
		_ = sess.Close()
	}
}

func waitGroupTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Address returns the address the server listens on. It's empty until the listener is bound.
func (s *Server) Address() string {
	return s.address.Load()
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// MustRegisterMetrics registers metrics in Prometheus client and panics if any error occurs.
func (s *Server) MustRegisterMetrics() {
	s.metrics.MustRegister()
}

// UnregisterMetrics unregisters metrics in Prometheus client.
func (s *Server) UnregisterMetrics() {
	s.metrics.Unregister()
}

// Metric label values.
const (
	connectionAccepted = "accepted"
	connectionRejected = "rejected"

	frameReceived  = "received"
	frameThrottled = "throttled"
)

type metrics struct {
	active      prometheus.Gauge
	connections *prometheus.CounterVec
	frames      *prometheus.CounterVec
}

func newMetrics(namespace string) *metrics {
	return &metrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tcp_connections_active",
			Help:      "Number of TCP connections being served.",
		}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tcp_connections_total",
			Help:      "Number of accepted TCP connections.",
		}, []string{"result"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tcp_frames_total",
			Help:      "Number of inbound TCP frames.",
		}, []string{"result"}),
	}
}

func (m *metrics) MustRegister() {
	prometheus.MustRegister(m.active, m.connections, m.frames)
}

func (m *metrics) Unregister() {
	prometheus.Unregister(m.active)
	prometheus.Unregister(m.connections)
	prometheus.Unregister(m.frames)
}
