/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package interceptor

import (
	"context"
	"fmt"
	"runtime"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/acronis/go-dispatch/log"
)

// RecoveryDefaultStackSize defines the default size of stack part which will be logged.
const RecoveryDefaultStackSize = 8192

// InternalError is the error returned to the client when a processor panics.
var InternalError = status.Error(codes.Internal, "Internal error")

type recoveryOptions struct {
	stackSize int
}

// RecoveryOption is a function type for configuring the recovery interceptors.
type RecoveryOption func(*recoveryOptions)

// WithRecoveryStackSize sets the size of the logged stack trace. 0 disables stack logging.
func WithRecoveryStackSize(size int) RecoveryOption {
	return func(opts *recoveryOptions) {
		opts.stackSize = size
	}
}

func newRecoveryOptions(options []RecoveryOption) recoveryOptions {
	opts := recoveryOptions{stackSize: RecoveryDefaultStackSize}
	for _, option := range options {
		option(&opts)
	}
	return opts
}

func (opts recoveryOptions) handlePanic(ctx context.Context, p interface{}) error {
	if logger := GetLoggerFromContext(ctx); logger != nil {
		var fields []log.Field
		if opts.stackSize > 0 {
			stack := make([]byte, opts.stackSize)
			stack = stack[:runtime.Stack(stack, false)]
			fields = append(fields, log.Bytes("stack", stack))
		}
		logger.Error(fmt.Sprintf("Panic: %+v", p), fields...)
	}
	return InternalError
}

// RecoveryUnaryInterceptor recovers from processor panics and returns InternalError.
// The panic is logged with the logger from the context, so it should go after the logging interceptor.
func RecoveryUnaryInterceptor(options ...RecoveryOption) grpc.UnaryServerInterceptor {
	opts := newRecoveryOptions(options)
	return func(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = opts.handlePanic(ctx, p)
			}
		}()
		return handler(ctx, req)
	}
}

// RecoveryStreamInterceptor is the stream version of RecoveryUnaryInterceptor.
func RecoveryStreamInterceptor(options ...RecoveryOption) grpc.StreamServerInterceptor {
	opts := newRecoveryOptions(options)
	return func(srv interface{}, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = opts.handlePanic(ss.Context(), p)
			}
		}()
		return handler(srv, ss)
	}
}
