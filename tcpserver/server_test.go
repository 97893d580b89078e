/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package tcpserver

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dispatch/config"
	"github.com/acronis/go-dispatch/dispatch"
	"github.com/acronis/go-dispatch/log/logtest"
	"github.com/acronis/go-dispatch/testutil"
)

const testTimeout = time.Second * 3

func newStartedDispatcher(t *testing.T, handlers map[string]dispatch.Handler) *dispatch.Dispatcher {
	t.Helper()
	cfg := dispatch.NewDefaultConfig()
	cfg.Pool.Workers = 4
	d, err := dispatch.New(cfg, logtest.NewLogger(), dispatch.Opts{})
	require.NoError(t, err)
	for key, h := range handlers {
		require.NoError(t, d.Register(key, h))
	}
	require.NoError(t, d.Start())
	t.Cleanup(func() { require.NoError(t, d.Stop(false)) })
	return d
}

func echoHandler() dispatch.Handler {
	return dispatch.HandlerFunc(func(_ context.Context, sess dispatch.Session, key string, payload []byte) error {
		return <-sess.WriteAsync(dispatch.Message{Key: key, Status: http.StatusOK, Body: payload})
	})
}

func startServer(t *testing.T, cfg *Config, d *dispatch.Dispatcher) *Server {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv, err := New(cfg, logtest.NewLogger(), d, Opts{Listener: listener})
	require.NoError(t, err)

	fatalErr := make(chan error, 1)
	go srv.Start(fatalErr)
	_, err = testutil.WaitAddress(srv.Address, testTimeout)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, srv.Stop(true))
		testutil.RequireNoErrorInChannel(t, fatalErr)
	})
	return srv
}

type testConn struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, srv *Server) *testConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Address(), testTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(testTimeout)))
	return &testConn{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testConn) send(key string, body []byte) {
	c.t.Helper()
	require.NoError(c.t, WriteFrame(c.conn, Frame{Key: key, Body: body}, 0))
}

func (c *testConn) receive() Frame {
	c.t.Helper()
	frame, err := ReadFrame(c.r, 0)
	require.NoError(c.t, err)
	return frame
}

func (c *testConn) requireClosed() {
	c.t.Helper()
	_, err := ReadFrame(c.r, 0)
	require.ErrorIs(c.t, err, io.EOF)
}

func TestServer_RepliesInArrivalOrder(t *testing.T) {
	const framesNum = 100
	d := newStartedDispatcher(t, map[string]dispatch.Handler{"/echo": echoHandler()})
	srv := startServer(t, NewDefaultConfig(), d)

	conn := dial(t, srv)
	for i := 0; i < framesNum; i++ {
		conn.send("/echo", []byte(strconv.Itoa(i)))
	}
	for i := 0; i < framesNum; i++ {
		frame := conn.receive()
		require.Equal(t, uint16(http.StatusOK), frame.Status)
		require.Equal(t, "/echo", frame.Key)
		require.Equal(t, strconv.Itoa(i), string(frame.Body))
	}
	require.Equal(t, 1, srv.ActiveConnections())
}

func TestServer_UnknownRouteKey(t *testing.T) {
	d := newStartedDispatcher(t, map[string]dispatch.Handler{"/echo": echoHandler()})
	srv := startServer(t, NewDefaultConfig(), d)

	conn := dial(t, srv)
	conn.send("/status", nil)
	frame := conn.receive()
	require.Equal(t, uint16(http.StatusNotFound), frame.Status)
	require.Equal(t, "/status", frame.Key)
	require.Equal(t, `no handler found for route key "/status"`, string(frame.Body))
	conn.requireClosed()
	require.Eventually(t, func() bool { return srv.ActiveConnections() == 0 }, testTimeout, time.Millisecond*10)
}

func TestServer_RepliesAfterPeerClosedWrite(t *testing.T) {
	slow := dispatch.HandlerFunc(func(_ context.Context, sess dispatch.Session, key string, payload []byte) error {
		time.Sleep(time.Millisecond * 50)
		return <-sess.WriteAsync(dispatch.Message{Key: key, Status: http.StatusOK, Body: payload})
	})
	d := newStartedDispatcher(t, map[string]dispatch.Handler{"/slow": slow})
	srv := startServer(t, NewDefaultConfig(), d)

	conn := dial(t, srv)
	conn.send("/slow", []byte("1"))
	conn.send("/slow", []byte("2"))
	require.NoError(t, conn.conn.(*net.TCPConn).CloseWrite())

	require.Equal(t, "1", string(conn.receive().Body))
	require.Equal(t, "2", string(conn.receive().Body))
	conn.requireClosed()
	require.Eventually(t, func() bool { return srv.ActiveConnections() == 0 }, testTimeout, time.Millisecond*10)
}

func TestServer_FrameIsTooLarge(t *testing.T) {
	d := newStartedDispatcher(t, map[string]dispatch.Handler{"/echo": echoHandler()})
	cfg := NewDefaultConfig()
	cfg.Limits.MaxFrameSize = 16
	srv := startServer(t, cfg, d)

	conn := dial(t, srv)
	conn.send("/echo", make([]byte, 32))
	frame := conn.receive()
	require.Equal(t, uint16(http.StatusRequestEntityTooLarge), frame.Status)
	require.Equal(t, textFrameTooLarge, string(frame.Body))
	conn.requireClosed()
}

func TestServer_ThrottlesFrames(t *testing.T) {
	d := newStartedDispatcher(t, map[string]dispatch.Handler{"/echo": echoHandler()})
	cfg := NewDefaultConfig()
	cfg.Limits.MessagesPerSecond = 1
	srv := startServer(t, cfg, d)

	conn := dial(t, srv)
	for i := 0; i < 3; i++ {
		conn.send("/echo", []byte("x"))
	}
	statuses := map[uint16]int{}
	for i := 0; i < 3; i++ {
		statuses[conn.receive().Status]++
	}
	require.Equal(t, map[uint16]int{http.StatusOK: 1, http.StatusTooManyRequests: 2}, statuses)
}

func TestServer_MaxConnections(t *testing.T) {
	d := newStartedDispatcher(t, map[string]dispatch.Handler{"/echo": echoHandler()})
	cfg := NewDefaultConfig()
	cfg.Limits.MaxConnections = 1
	srv := startServer(t, cfg, d)

	first := dial(t, srv)
	first.send("/echo", []byte("ping"))
	require.Equal(t, "ping", string(first.receive().Body))

	second := dial(t, srv)
	frame := second.receive()
	require.Equal(t, uint16(http.StatusServiceUnavailable), frame.Status)
	require.Equal(t, textTooManyConnections, string(frame.Body))
	second.requireClosed()

	first.send("/echo", []byte("pong"))
	require.Equal(t, "pong", string(first.receive().Body))
}

func TestServer_IdleTimeout(t *testing.T) {
	d := newStartedDispatcher(t, map[string]dispatch.Handler{"/echo": echoHandler()})
	cfg := NewDefaultConfig()
	cfg.Timeouts.Idle = config.TimeDuration(time.Millisecond * 50)
	srv := startServer(t, cfg, d)

	conn := dial(t, srv)
	conn.requireClosed()
}

func TestServer_StopClosesConnections(t *testing.T) {
	d := newStartedDispatcher(t, map[string]dispatch.Handler{"/echo": echoHandler()})
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv, err := New(NewDefaultConfig(), logtest.NewLogger(), d, Opts{Listener: listener})
	require.NoError(t, err)
	fatalErr := make(chan error, 1)
	go srv.Start(fatalErr)
	_, err = testutil.WaitAddress(srv.Address, testTimeout)
	require.NoError(t, err)

	conn := dial(t, srv)
	conn.send("/echo", []byte("ping"))
	require.Equal(t, "ping", string(conn.receive().Body))

	require.NoError(t, srv.Stop(true))
	testutil.RequireNoErrorInChannel(t, fatalErr)
	conn.requireClosed()
	require.Zero(t, srv.ActiveConnections())

	_, err = net.DialTimeout("tcp", listener.Addr().String(), time.Second)
	require.Error(t, err)
	require.NoError(t, srv.Stop(true))
}

func TestServer_StopBeforeStart(t *testing.T) {
	d := newStartedDispatcher(t, nil)
	srv, err := New(NewDefaultConfig(), logtest.NewLogger(), d, Opts{})
	require.NoError(t, err)
	require.NoError(t, srv.Stop(false))
}

func TestServer_StartOnBusyAddress(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { require.NoError(t, listener.Close()) }()

	d := newStartedDispatcher(t, nil)
	cfg := NewDefaultConfig()
	cfg.Address = listener.Addr().String()
	cfg.ReuseAddr = false
	srv, err := New(cfg, logtest.NewLogger(), d, Opts{})
	require.NoError(t, err)

	fatalErr := make(chan error, 1)
	srv.Start(fatalErr)
	require.Error(t, testutil.RequireErrorInChannel(t, fatalErr, time.Second))
}
