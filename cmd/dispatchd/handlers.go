/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/acronis/go-dispatch/dispatch"
)

const coreHandlerGroup = "core"

// coreCatalog returns the handlers the daemon ships with.
func coreCatalog(now func() time.Time) dispatch.Catalog {
	return dispatch.Catalog{
		coreHandlerGroup: {
			dispatch.StaticRegistration("/health", dispatch.HandlerFunc(handleHealth)),
			dispatch.StaticRegistration("/echo", dispatch.HandlerFunc(handleEcho)),
			dispatch.NewRegistration("/time", func() (dispatch.Handler, error) {
				return timeHandler{now: now}, nil
			}),
		},
	}
}

func handleHealth(_ context.Context, sess dispatch.Session, key string, _ []byte) error {
	return <-sess.WriteAsync(dispatch.TextMessage(key, http.StatusOK, "OK"))
}

func handleEcho(_ context.Context, sess dispatch.Session, key string, payload []byte) error {
	return <-sess.WriteAsync(dispatch.Message{
		Key: key, Status: http.StatusOK, ContentType: "application/octet-stream", Body: payload,
	})
}

type timeHandler struct {
	now func() time.Time
}

// Handle replies with the current UTC time in RFC 3339 format.
func (h timeHandler) Handle(_ context.Context, sess dispatch.Session, key string, _ []byte) error {
	return <-sess.WriteAsync(dispatch.TextMessage(key, http.StatusOK, h.now().UTC().Format(time.RFC3339Nano)))
}
