/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dispatch/log/logtest"
	"github.com/acronis/go-dispatch/testutil"
)

func TestInFlightLimit(t *testing.T) {
	_, err := InFlightLimit(0)
	require.EqualError(t, err, "create request processor: limit should be positive, got 0")

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	next := http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			once.Do(func() { close(started) })
			<-release
		}
		rw.WriteHeader(http.StatusOK)
	})
	mw, err := InFlightLimitWithOpts(1, InFlightLimitOpts{
		RetryAfter:        time.Second * 2,
		ExcludedEndpoints: []string{"/healthz"},
	})
	require.NoError(t, err)
	h := mw(next)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/slow", nil))
	}()
	<-started

	logger := logtest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	req = req.WithContext(NewContextWithLogger(req.Context(), logger))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	testutil.RequireTextResponse(t, resp.Result(), http.StatusServiceUnavailable, "too many in-flight requests")
	require.Equal(t, "2", resp.Header().Get("Retry-After"))
	_, found := logger.FindEntry("too many in-flight requests, request is rejected")
	require.True(t, found)

	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	close(release)
	wg.Wait()

	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/echo", nil))
	require.Equal(t, http.StatusOK, resp.Code)
}
