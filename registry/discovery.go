/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package registry

import (
	"errors"
	"fmt"

	"github.com/vasayxtx/go-glob"
)

// ErrUnknownSearchPath is returned by Catalog for a search path it does not know.
var ErrUnknownSearchPath = errors.New("unknown search path")

// Route is the metadata a handler declares about itself.
type Route struct {
	Key     string
	Enabled bool
}

// Registration is a discovered handler candidate: its route and a factory creating the handler.
type Registration[H any] struct {
	Route
	New func() (H, error)
}

// Discoverer enumerates handler candidates available under a search path.
type Discoverer[H any] interface {
	Enumerate(searchPath string) ([]Registration[H], error)
}

// Catalog is a static Discoverer: a search path (handler group) to registrations mapping.
type Catalog[H any] map[string][]Registration[H]

// Enumerate returns the registrations of the search path.
func (c Catalog[H]) Enumerate(searchPath string) ([]Registration[H], error) {
	regs, ok := c[searchPath]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownSearchPath, searchPath)
	}
	return regs, nil
}

// LoadOption configures LoadFrom.
type LoadOption[H any] func(*loadOptions[H])

type loadOptions[H any] struct {
	disabled []func(string) bool
	check    func(key string, handler H) error
}

// WithDisabled skips registrations whose key matches any of the glob patterns (e.g. "/debug/*").
func WithDisabled[H any](patterns ...string) LoadOption[H] {
	return func(o *loadOptions[H]) {
		for _, pattern := range patterns {
			o.disabled = append(o.disabled, glob.Compile(pattern))
		}
	}
}

// WithCheck sets a structural check every created handler must pass before it is registered.
func WithCheck[H any](check func(key string, handler H) error) LoadOption[H] {
	return func(o *loadOptions[H]) {
		o.check = check
	}
}

// LoadFrom enumerates all search paths, skips disabled routes, creates handlers and registers them.
// Duplicate keys are detected over the whole set before any factory is called.
// Any error aborts loading.
func (r *Registry[H]) LoadFrom(d Discoverer[H], searchPaths []string, options ...LoadOption[H]) error {
	var opts loadOptions[H]
	for _, opt := range options {
		opt(&opts)
	}

	var candidates []Registration[H]
	seen := make(map[string]struct{})
	for _, searchPath := range searchPaths {
		regs, err := d.Enumerate(searchPath)
		if err != nil {
			return fmt.Errorf("enumerate %q: %w", searchPath, err)
		}
		for _, reg := range regs {
			if !reg.Enabled || opts.isDisabled(reg.Key) {
				continue
			}
			if _, dup := seen[reg.Key]; dup {
				return &DuplicateRouteError{Key: reg.Key}
			}
			if _, dup := r.handlers[reg.Key]; dup {
				return &DuplicateRouteError{Key: reg.Key}
			}
			if reg.New == nil {
				return fmt.Errorf("route %q: handler factory is nil", reg.Key)
			}
			seen[reg.Key] = struct{}{}
			candidates = append(candidates, reg)
		}
	}

	for _, reg := range candidates {
		handler, err := reg.New()
		if err != nil {
			return fmt.Errorf("create handler for route %q: %w", reg.Key, err)
		}
		if opts.check != nil {
			if err = opts.check(reg.Key, handler); err != nil {
				return err
			}
		}
		if err = r.Register(reg.Key, handler); err != nil {
			return err
		}
	}
	return nil
}

func (o *loadOptions[H]) isDisabled(key string) bool {
	for _, match := range o.disabled {
		if match(key) {
			return true
		}
	}
	return false
}
