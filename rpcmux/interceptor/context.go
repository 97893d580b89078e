/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package interceptor

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/acronis/go-dispatch/log"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyInternalRequestID
	ctxKeyLogger
	ctxKeyCallStartTime
)

// NewContextWithRequestID creates a new context with external request id.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// GetRequestIDFromContext extracts external request id from the context.
func GetRequestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(ctxKeyRequestID).(string)
	return requestID
}

// NewContextWithInternalRequestID creates a new context with internal request id.
func NewContextWithInternalRequestID(ctx context.Context, internalRequestID string) context.Context {
	return context.WithValue(ctx, ctxKeyInternalRequestID, internalRequestID)
}

// GetInternalRequestIDFromContext extracts internal request id from the context.
func GetInternalRequestIDFromContext(ctx context.Context) string {
	internalRequestID, _ := ctx.Value(ctxKeyInternalRequestID).(string)
	return internalRequestID
}

// NewContextWithCallStartTime creates a new context with call start time.
func NewContextWithCallStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyCallStartTime, startTime)
}

// GetCallStartTimeFromContext extracts call start time from the context.
func GetCallStartTimeFromContext(ctx context.Context) time.Time {
	startTime, _ := ctx.Value(ctxKeyCallStartTime).(time.Time)
	return startTime
}

// NewContextWithLogger creates a new context with logger.
func NewContextWithLogger(ctx context.Context, logger log.FieldLogger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, logger)
}

// GetLoggerFromContext extracts logger from the context. It returns nil if there is no logger.
func GetLoggerFromContext(ctx context.Context) log.FieldLogger {
	logger, _ := ctx.Value(ctxKeyLogger).(log.FieldLogger)
	return logger
}

// ensureCallStartTime returns the call start time stored in the context,
// storing the current time first if there is none.
func ensureCallStartTime(ctx context.Context) (context.Context, time.Time) {
	if startTime := GetCallStartTimeFromContext(ctx); !startTime.IsZero() {
		return ctx, startTime
	}
	startTime := time.Now()
	return NewContextWithCallStartTime(ctx, startTime), startTime
}

// WrappedServerStream wraps grpc.ServerStream to provide a custom context for the stream.
type WrappedServerStream struct {
	grpc.ServerStream
	Ctx context.Context
}

// Context returns the custom context for the wrapped server stream.
func (ss *WrappedServerStream) Context() context.Context {
	return ss.Ctx
}

// CallStartTimeUnaryInterceptor stores the time the call was received in the context.
// It should go first in the chain so that the other interceptors measure the same duration.
func CallStartTimeUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		return handler(NewContextWithCallStartTime(ctx, time.Now()), req)
	}
}

// CallStartTimeStreamInterceptor is the stream version of CallStartTimeUnaryInterceptor.
func CallStartTimeStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		return handler(srv, &WrappedServerStream{ServerStream: ss, Ctx: NewContextWithCallStartTime(ss.Context(), time.Now())})
	}
}
