/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package registry maps route keys to handlers.
//
// A Registry is populated during the single-threaded startup phase, either explicitly with Register
// or from a Discoverer with LoadFrom, and then sealed. After sealing it is immutable,
// so Lookup needs no synchronization.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/atomic"
)

// ErrDuplicateRoute is matched (via errors.Is) by DuplicateRouteError.
var ErrDuplicateRoute = errors.New("duplicate route")

// ErrRegistrySealed is returned when registering into a sealed registry.
var ErrRegistrySealed = errors.New("registry is sealed")

// DuplicateRouteError is returned when two handlers claim the same route key.
type DuplicateRouteError struct {
	Key string
}

func (e *DuplicateRouteError) Error() string {
	return fmt.Sprintf("duplicate route %q", e.Key)
}

// Is reports ErrDuplicateRoute as matching.
func (e *DuplicateRouteError) Is(target error) bool {
	return target == ErrDuplicateRoute
}

// Registry is a route key to handler mapping.
// Register, LoadFrom and Seal are not safe for concurrent use; they belong to the startup phase.
type Registry[H any] struct {
	handlers map[string]H
	sealed   atomic.Bool
}

// New creates an empty Registry.
func New[H any]() *Registry[H] {
	return &Registry[H]{handlers: make(map[string]H)}
}

// Register binds the handler to the key. The first registration of a key always wins.
func (r *Registry[H]) Register(key string, handler H) error {
	if r.sealed.Load() {
		return fmt.Errorf("register %q: %w", key, ErrRegistrySealed)
	}
	if _, exists := r.handlers[key]; exists {
		return &DuplicateRouteError{Key: key}
	}
	r.handlers[key] = handler
	return nil
}

// Lookup returns the handler registered for the key. A miss is reported by ok=false.
func (r *Registry[H]) Lookup(key string) (handler H, ok bool) {
	handler, ok = r.handlers[key]
	return handler, ok
}

// Seal makes the registry immutable.
func (r *Registry[H]) Seal() {
	r.sealed.Store(true)
}

// Sealed reports whether the registry has been sealed.
func (r *Registry[H]) Sealed() bool {
	return r.sealed.Load()
}

// Keys returns all registered keys in sorted order.
func (r *Registry[H]) Keys() []string {
	keys := make([]string, 0, len(r.handlers))
	for key := range r.handlers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered handlers.
func (r *Registry[H]) Len() int {
	return len(r.handlers)
}
