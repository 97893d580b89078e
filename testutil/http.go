/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"io"
	"net/http"
	"strconv"

	"github.com/stretchr/testify/require"
)

// RequireTextResponse asserts status, plain text content type, exact body and a matching Content-Length.
func RequireTextResponse(t require.TestingT, resp *http.Response, wantCode int, wantBody string) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, wantCode, resp.StatusCode)
	require.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantBody, string(body))
	require.Equal(t, strconv.Itoa(len(body)), resp.Header.Get("Content-Length"))
}
