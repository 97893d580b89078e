/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package tcpclient

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dispatch/dispatch"
	"github.com/acronis/go-dispatch/log/logtest"
	"github.com/acronis/go-dispatch/retry"
	"github.com/acronis/go-dispatch/tcpserver"
	"github.com/acronis/go-dispatch/testutil"
)

const testTimeout = time.Second * 3

func startEchoServer(t *testing.T) string {
	t.Helper()
	d, err := dispatch.New(dispatch.NewDefaultConfig(), logtest.NewLogger(), dispatch.Opts{})
	require.NoError(t, err)
	require.NoError(t, d.Register("/echo", dispatch.HandlerFunc(
		func(_ context.Context, sess dispatch.Session, key string, payload []byte) error {
			return <-sess.WriteAsync(dispatch.Message{Key: key, Status: http.StatusOK, Body: payload})
		})))
	require.NoError(t, d.Start())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv, err := tcpserver.New(tcpserver.NewDefaultConfig(), logtest.NewLogger(), d, tcpserver.Opts{Listener: listener})
	require.NoError(t, err)
	fatalErr := make(chan error, 1)
	go srv.Start(fatalErr)
	addr, err := testutil.WaitAddress(srv.Address, testTimeout)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, srv.Stop(true))
		testutil.RequireNoErrorInChannel(t, fatalErr)
		require.NoError(t, d.Stop(false))
	})
	return addr
}

func TestClient_Do(t *testing.T) {
	addr := startEchoServer(t)
	client := New(addr, Opts{Logger: logtest.NewLogger()})
	defer func() { require.NoError(t, client.Close()) }()
	require.False(t, client.IsConnected())
	require.Empty(t, client.RemoteAddress())

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	frame, err := client.Do(ctx, "/echo", []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, tcpserver.Frame{Status: http.StatusOK, Key: "/echo", Body: []byte("ping")}, frame)
	require.True(t, client.IsConnected())
	require.Equal(t, addr, client.RemoteAddress())
}

func TestClient_ReconnectsAfterServerClosedConnection(t *testing.T) {
	addr := startEchoServer(t)
	logRecorder := logtest.NewRecorder()
	client := New(addr, Opts{Logger: logRecorder})
	defer func() { require.NoError(t, client.Close()) }()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	frame, err := client.Do(ctx, "/unknown", nil)
	require.NoError(t, err)
	require.Equal(t, uint16(http.StatusNotFound), frame.Status)

	_, err = client.Receive(ctx)
	require.Error(t, err)
	require.False(t, client.IsConnected())
	_, err = client.Receive(ctx)
	require.ErrorIs(t, err, ErrNotConnected)

	frame, err = client.Do(ctx, "/echo", []byte("again"))
	require.NoError(t, err)
	require.Equal(t, "again", string(frame.Body))
	require.Len(t, logRecorder.Entries(), 3) // connected, dropped, connected
	_, found := logRecorder.FindEntry("connection is dropped")
	require.True(t, found)
}

func TestClient_ConnectRetries(t *testing.T) {
	logRecorder := logtest.NewRecorder()
	client := New(testutil.GetLocalAddrWithFreeTCPPort(), Opts{
		DialTimeout:     time.Second,
		ReconnectPolicy: retry.NewConstantBackoffPolicy(time.Millisecond*10, 2),
		Logger:          logRecorder,
	})
	defer func() { require.NoError(t, client.Close()) }()

	err := client.Connect(context.Background())
	require.Error(t, err)
	require.False(t, client.IsConnected())
	require.Len(t, logRecorder.Entries(), 2)
	for _, entry := range logRecorder.Entries() {
		require.Equal(t, "failed to connect, retrying", entry.Text)
	}
}

func TestClient_CloseCancelsConnect(t *testing.T) {
	logRecorder := logtest.NewRecorder()
	client := New(testutil.GetLocalAddrWithFreeTCPPort(), Opts{
		DialTimeout:     time.Second,
		ReconnectPolicy: retry.NewConstantBackoffPolicy(time.Hour, 1),
		Logger:          logRecorder,
	})

	connectErr := make(chan error, 1)
	go func() { connectErr <- client.Connect(context.Background()) }()
	require.Eventually(t, func() bool {
		_, found := logRecorder.FindEntry("failed to connect, retrying")
		return found
	}, testTimeout, time.Millisecond*10)

	// The client state is available while the connection attempts are in progress.
	require.Eventually(t, func() bool {
		return !client.IsConnected() && client.RemoteAddress() == ""
	}, time.Second, time.Millisecond*10)

	require.NoError(t, client.Close())
	err := testutil.RequireErrorInChannel(t, connectErr, testTimeout)
	require.ErrorIs(t, err, ErrClosed)
}

func TestClient_ReceiveIsCanceledByContext(t *testing.T) {
	addr := startEchoServer(t)
	client := New(addr, Opts{})
	defer func() { require.NoError(t, client.Close()) }()
	require.NoError(t, client.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
	defer cancel()
	_, err := client.Receive(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, client.IsConnected())
}

func TestClient_Closed(t *testing.T) {
	addr := startEchoServer(t)
	client := New(addr, Opts{})
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	require.ErrorIs(t, client.Send(context.Background(), "/echo", nil), ErrClosed)
	_, err := client.Receive(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, client.Connect(context.Background()), ErrClosed)
}

func TestClient_FrameIsTooLarge(t *testing.T) {
	addr := startEchoServer(t)
	client := New(addr, Opts{MaxFrameSize: 16})
	defer func() { require.NoError(t, client.Close()) }()

	err := client.Send(context.Background(), "/echo", make([]byte, 32))
	require.ErrorIs(t, err, tcpserver.ErrFrameTooLarge)
	require.True(t, client.IsConnected())
}
