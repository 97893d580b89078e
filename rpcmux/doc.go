/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package rpcmux provides the Service Multiplexer: a gRPC server serving several processors (gRPC services)
// on one port, each bound to its own service name.
//
// Processors are registered explicitly with AddProcessor or discovered on Start from the configured
// search paths. Every processor is checked to implement the interface its descriptor declares,
// and a mismatch fails the start with an InterfaceMismatchError.
// Start returns as soon as the listener is bound; the serve loop runs in the background until Stop.
package rpcmux
