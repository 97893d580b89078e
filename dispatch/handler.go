/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dispatch

import (
	"context"

	"github.com/acronis/go-dispatch/registry"
)

// Handler processes one request.
// Handle answers through sess.WriteAsync. A handler that returns an error must not have written
// a response: the dispatcher answers with 500 on its behalf.
type Handler interface {
	Handle(ctx context.Context, sess Session, key string, payload []byte) error
}

// HandlerFunc is an adapter to allow the use of ordinary functions as Handler.
type HandlerFunc func(ctx context.Context, sess Session, key string, payload []byte) error

// Handle calls f(ctx, sess, key, payload).
func (f HandlerFunc) Handle(ctx context.Context, sess Session, key string, payload []byte) error {
	return f(ctx, sess, key, payload)
}

// Registration is a discoverable handler.
type Registration = registry.Registration[Handler]

// Catalog is a static handler Discoverer keyed by handler group name.
type Catalog = registry.Catalog[Handler]

// NewRegistration creates an enabled Registration with a handler factory.
func NewRegistration(key string, factory func() (Handler, error)) Registration {
	return Registration{Route: registry.Route{Key: key, Enabled: true}, New: factory}
}

// StaticRegistration creates an enabled Registration for an already constructed handler.
func StaticRegistration(key string, h Handler) Registration {
	return NewRegistration(key, func() (Handler, error) { return h, nil })
}
