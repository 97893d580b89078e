/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package service provides the lifecycle primitives the dispatch daemon is assembled from:
// units that start and stop together, adapters for components with a synchronous Start,
// and a Service that runs a unit until an OS signal or a fatal error.
package service

// Unit represents a service unit that can be started and stopped.
type Unit interface {
	// Start runs the unit. It may return right after initialization or block for the unit's lifetime.
	// A failure is reported by writing to fatalErr; a successful Start writes nothing,
	// and the channel is not used after Start returns.
	Start(fatalErr chan<- error)
	// Stop halts the unit. It may be called whether Start succeeded, failed, or was never called.
	Stop(gracefully bool) error
}

// Component is something with a synchronous, fallible start, like the request dispatcher
// or the RPC multiplexer. Wrap it with NewComponentUnit to run it as a Unit.
type Component interface {
	Start() error
	Stop(gracefully bool) error
}

// ErrorReporter is implemented by components that keep running in the background after Start
// and can fail later (e.g. a serve loop).
type ErrorReporter interface {
	Errors() <-chan error
}

// MetricsRegisterer is an interface for objects that can register its own metrics.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}
