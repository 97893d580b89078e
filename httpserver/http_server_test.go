/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dispatch/dispatch"
	"github.com/acronis/go-dispatch/log/logtest"
	"github.com/acronis/go-dispatch/testutil"
)

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

func textHandler(text string) dispatch.Handler {
	return dispatch.HandlerFunc(func(_ context.Context, sess dispatch.Session, key string, _ []byte) error {
		return <-sess.WriteAsync(dispatch.TextMessage(key, http.StatusOK, text))
	})
}

func echoHandler() dispatch.Handler {
	return dispatch.HandlerFunc(func(_ context.Context, sess dispatch.Session, key string, payload []byte) error {
		return <-sess.WriteAsync(dispatch.Message{
			Key: key, Status: http.StatusOK, ContentType: "application/octet-stream", Body: payload,
		})
	})
}

func startHTTPServer(t *testing.T, cfg *Config, opts Opts) (*HTTPServer, string) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	opts.Listener = listener
	srv, err := New(cfg, logtest.NewLogger(), opts)
	require.NoError(t, err)

	fatalErr := make(chan error, 1)
	go srv.Start(fatalErr)
	require.NoError(t, testutil.WaitListeningServer(listener.Addr().String(), time.Second*3))
	t.Cleanup(func() {
		require.NoError(t, srv.Stop(true))
		testutil.RequireNoErrorInChannel(t, fatalErr)
	})
	return srv, "http://" + listener.Addr().String()
}

func TestHTTPServer_Dispatch(t *testing.T) {
	d := newStartedDispatcher(t, map[string]dispatch.Handler{
		"/health": textHandler("OK"),
		"/echo":   echoHandler(),
		"/silent": dispatch.HandlerFunc(func(context.Context, dispatch.Session, string, []byte) error { return nil }),
	})
	cfg := NewDefaultConfig()
	cfg.Limits.MaxBodySize = 16
	srv, baseURL := startHTTPServer(t, cfg, Opts{Dispatcher: d})
	require.NotZero(t, srv.GetPort())

	t.Run("unknown route key", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/status")
		require.NoError(t, err)
		defer func() { require.NoError(t, resp.Body.Close()) }()
		testutil.RequireTextResponse(t, resp, http.StatusNotFound, `no handler found for route key "/status"`)
		require.True(t, resp.Close)
	})

	t.Run("registered route key", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/health")
		require.NoError(t, err)
		defer func() { require.NoError(t, resp.Body.Close()) }()
		testutil.RequireTextResponse(t, resp, http.StatusOK, "OK")
		require.False(t, resp.Close)
		require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	})

	t.Run("payload is the request body", func(t *testing.T) {
		resp, err := http.Post(baseURL+"/echo", "application/octet-stream", strings.NewReader("ping"))
		require.NoError(t, err)
		defer func() { require.NoError(t, resp.Body.Close()) }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, "ping", string(body))
	})

	t.Run("body is too large", func(t *testing.T) {
		resp, err := http.Post(baseURL+"/echo", "application/octet-stream", bytes.NewReader(make([]byte, 17)))
		require.NoError(t, err)
		defer func() { require.NoError(t, resp.Body.Close()) }()
		testutil.RequireTextResponse(t, resp, http.StatusRequestEntityTooLarge, "request body is too large")
	})

	t.Run("handler writes nothing", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/silent")
		require.NoError(t, err)
		defer func() { require.NoError(t, resp.Body.Close()) }()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("health-check reports dispatcher", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/healthz")
		require.NoError(t, err)
		defer func() { require.NoError(t, resp.Body.Close()) }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var data healthCheckResponseData
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
		require.Equal(t, map[string]bool{"dispatcher": true}, data.Components)
	})

	t.Run("metrics endpoint", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/metrics")
		require.NoError(t, err)
		defer func() { require.NoError(t, resp.Body.Close()) }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestHTTPServer_WithoutDispatcher(t *testing.T) {
	_, baseURL := startHTTPServer(t, NewDefaultConfig(), Opts{})

	resp, err := http.Get(baseURL + "/health")
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()
	testutil.RequireTextResponse(t, resp, http.StatusNotFound, "Not Found")
}

func TestHTTPServer_StopNotGracefully(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv, err := New(NewDefaultConfig(), logtest.NewLogger(), Opts{Listener: listener})
	require.NoError(t, err)

	fatalErr := make(chan error, 1)
	go srv.Start(fatalErr)
	require.NoError(t, testutil.WaitListeningServer(listener.Addr().String(), time.Second*3))

	require.NoError(t, srv.Stop(false))
	testutil.RequireNoErrorInChannel(t, fatalErr)
	_, err = net.DialTimeout("tcp", listener.Addr().String(), time.Second)
	require.Error(t, err)
}

func TestHTTPServer_StartOnBusyAddress(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { require.NoError(t, listener.Close()) }()

	cfg := NewDefaultConfig()
	cfg.Address = listener.Addr().String()
	srv, err := New(cfg, logtest.NewLogger(), Opts{})
	require.NoError(t, err)

	fatalErr := make(chan error, 1)
	srv.Start(fatalErr)
	require.Error(t, testutil.RequireErrorInChannel(t, fatalErr, time.Second))
}
