/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package tcpclient provides a client for the length-prefixed frame protocol served by tcpserver.
// The client reconnects transparently when a frame is sent over a connection that is down.
package tcpclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/acronis/go-dispatch/log"
	"github.com/acronis/go-dispatch/retry"
	"github.com/acronis/go-dispatch/tcpserver"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("tcp client is closed")

// ErrNotConnected is returned by Receive when there is no established connection.
var ErrNotConnected = errors.New("tcp client is not connected")

// Opts represents options for Client.
type Opts struct {
	// DialTimeout bounds a single connection attempt. DefaultDialTimeout is used if 0.
	DialTimeout time.Duration

	// MaxFrameSize limits frames in both directions. 0 means no limit.
	MaxFrameSize int

	// ReconnectPolicy drives connection attempts. DefaultReconnectPolicy is used if nil.
	ReconnectPolicy retry.Policy

	Logger log.FieldLogger
}

// Client is a TCP client that sends request frames and receives reply frames.
// Send and Receive may be called concurrently with each other.
type Client struct {
	addr   string
	opts   Opts
	logger log.FieldLogger
	dialer net.Dialer

	writeMu sync.Mutex
	readMu  sync.Mutex
	dialMu  sync.Mutex

	mu         sync.Mutex
	conn       net.Conn
	reader     *bufio.Reader
	closed     bool
	cancelDial context.CancelFunc
}

// New creates a new Client for the address. No connection is established until Connect or Send.
func New(addr string, opts Opts) *Client {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.ReconnectPolicy == nil {
		opts.ReconnectPolicy = DefaultReconnectPolicy
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	return &Client{
		addr:   addr,
		opts:   opts,
		logger: logger.With(log.String("address", addr)),
		dialer: net.Dialer{Timeout: opts.DialTimeout},
	}
}

// NewFromConfig creates a new Client from the configuration.
func NewFromConfig(cfg *Config, logger log.FieldLogger) *Client {
	opts := cfg.Opts()
	opts.Logger = logger
	return New(cfg.Address, opts)
}

// Connect establishes the connection if it is not established yet.
// Failed attempts are retried according to the reconnect policy.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.connect(ctx)
	return err
}

// connect dials without holding mu, so the client state can be inspected and Close can cancel the attempts.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancelDial = cancel
	c.mu.Unlock()

	var conn net.Conn
	err := retry.DoWithRetry(dialCtx, c.opts.ReconnectPolicy, isRetryableDialError,
		func(err error, delay time.Duration) {
			c.logger.Warn("failed to connect, retrying", log.Error(err), log.Duration("delay", delay))
		},
		func(ctx context.Context) error {
			var dialErr error
			conn, dialErr = c.dialer.DialContext(ctx, "tcp", c.addr)
			return dialErr
		})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelDial = nil
	if c.closed {
		if conn != nil {
			_ = conn.Close()
		}
		return nil, ErrClosed
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.addr, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.logger.Info("connected", log.String("remote_addr", conn.RemoteAddr().String()))
	return conn, nil
}

func isRetryableDialError(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// IsConnected reports whether the client has an established connection.
// A connection closed by the peer is detected on the next Send or Receive.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// RemoteAddress returns the address of the connected peer or an empty string.
func (c *Client) RemoteAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// Send writes one request frame, connecting first when the connection is down.
// If writing fails, the connection is dropped and the error is returned, the frame is not resent.
func (c *Client) Send(ctx context.Context, key string, body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	stop := bindDeadline(ctx, conn.SetWriteDeadline)
	defer stop()
	if err = tcpserver.WriteFrame(conn, tcpserver.Frame{Key: key, Body: body}, c.opts.MaxFrameSize); err != nil {
		if errors.Is(err, tcpserver.ErrFrameTooLarge) || errors.Is(err, tcpserver.ErrMalformedFrame) {
			return err
		}
		c.drop(conn, err)
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// Receive reads one reply frame. It does not connect.
func (c *Client) Receive(ctx context.Context) (tcpserver.Frame, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	c.mu.Lock()
	conn, reader, closed := c.conn, c.reader, c.closed
	c.mu.Unlock()
	if closed {
		return tcpserver.Frame{}, ErrClosed
	}
	if conn == nil {
		return tcpserver.Frame{}, ErrNotConnected
	}

	stop := bindDeadline(ctx, conn.SetReadDeadline)
	defer stop()
	frame, err := tcpserver.ReadFrame(reader, c.opts.MaxFrameSize)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		c.drop(conn, err)
		return tcpserver.Frame{}, fmt.Errorf("receive frame: %w", err)
	}
	return frame, nil
}

// Do sends a request frame and waits for the next reply frame.
func (c *Client) Do(ctx context.Context, key string, body []byte) (tcpserver.Frame, error) {
	if err := c.Send(ctx, key, body); err != nil {
		return tcpserver.Frame{}, err
	}
	return c.Receive(ctx)
}

// Close closes the connection. The client cannot be used afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.cancelDial != nil {
		c.cancelDial()
	}
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.reader = nil, nil
	return err
}

// drop forgets the connection unless it has been replaced already.
func (c *Client) drop(conn net.Conn, reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.logger.Warn("connection is dropped", log.Error(reason))
	_ = conn.Close()
	c.conn, c.reader = nil, nil
}

// bindDeadline interrupts blocked I/O when ctx is done.
func bindDeadline(ctx context.Context, setDeadline func(time.Time) error) (stop func()) {
	_ = setDeadline(time.Time{})
	stopAfter := context.AfterFunc(ctx, func() { _ = setDeadline(time.Now()) })
	return func() { stopAfter() }
}
