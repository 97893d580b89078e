/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package interceptor provides the gRPC server interceptors the Multiplexer chains in front of every processor:
// call start time, request id propagation, logging, panic recovery and Prometheus metrics.
package interceptor
