/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package interceptor

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	"github.com/acronis/go-dispatch/log"
)

const defaultSlowCallThreshold = time.Second

// LoggingOption represents a configuration option for the logging interceptors.
type LoggingOption func(*loggingOptions)

type loggingOptions struct {
	callStart         bool
	excludedMethods   []string
	slowCallThreshold time.Duration
}

// WithLoggingCallStart enables logging of call start events.
func WithLoggingCallStart(logCallStart bool) LoggingOption {
	return func(opts *loggingOptions) {
		opts.callStart = logCallStart
	}
}

// WithLoggingExcludedMethods specifies full method names (e.g. "/grpc.health.v1.Health/Check")
// whose successful calls are not logged.
func WithLoggingExcludedMethods(methods ...string) LoggingOption {
	return func(opts *loggingOptions) {
		opts.excludedMethods = methods
	}
}

// WithLoggingSlowCallThreshold sets the duration after which a call is marked as slow.
func WithLoggingSlowCallThreshold(threshold time.Duration) LoggingOption {
	return func(opts *loggingOptions) {
		opts.slowCallThreshold = threshold
	}
}

func newLoggingOptions(options []LoggingOption) *loggingOptions {
	opts := &loggingOptions{slowCallThreshold: defaultSlowCallThreshold}
	for _, option := range options {
		option(opts)
	}
	return opts
}

// LoggingUnaryInterceptor puts a call-scoped logger into the context and logs the end of each call.
func LoggingUnaryInterceptor(logger log.FieldLogger, options ...LoggingOption) grpc.UnaryServerInterceptor {
	opts := newLoggingOptions(options)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		var resp interface{}
		err := logCall(ctx, logger, newCallInfo(info.FullMethod, CallMethodTypeUnary), info.FullMethod, opts,
			func(ctx context.Context) (err error) {
				resp, err = handler(ctx, req)
				return err
			})
		return resp, err
	}
}

// LoggingStreamInterceptor is the stream version of LoggingUnaryInterceptor.
func LoggingStreamInterceptor(logger log.FieldLogger, options ...LoggingOption) grpc.StreamServerInterceptor {
	opts := newLoggingOptions(options)
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		return logCall(ss.Context(), logger, newCallInfo(info.FullMethod, CallMethodTypeStream), info.FullMethod, opts,
			func(ctx context.Context) error {
				return handler(srv, &WrappedServerStream{ServerStream: ss, Ctx: ctx})
			})
	}
}

func logCall(
	ctx context.Context, logger log.FieldLogger, call CallInfo, fullMethod string, opts *loggingOptions,
	next func(ctx context.Context) error,
) error {
	ctx, startTime := ensureCallStartTime(ctx)

	logger = logger.With(
		log.String("request_id", GetRequestIDFromContext(ctx)),
		log.String("int_request_id", GetInternalRequestIDFromContext(ctx)),
	)
	callLogger := logger.With(callLogFields(ctx, call)...)

	excluded := containsMethod(opts.excludedMethods, fullMethod)
	if opts.callStart && !excluded {
		callLogger.Info("gRPC call started")
	}

	err := next(NewContextWithLogger(ctx, callLogger))

	code := codeFromError(err)
	if excluded && code == codes.OK {
		return err
	}
	duration := time.Since(startTime)
	fields := []log.Field{
		log.String("grpc_code", code.String()),
		log.Int64("duration_ms", duration.Milliseconds()),
	}
	if err != nil {
		fields = append(fields, log.String("grpc_error", err.Error()))
	}
	if opts.slowCallThreshold > 0 && duration >= opts.slowCallThreshold {
		fields = append(fields, log.Bool("slow_request", true))
	}
	callLogger.Info(fmt.Sprintf("gRPC call finished in %.3fs", duration.Seconds()), fields...)
	return err
}

func callLogFields(ctx context.Context, call CallInfo) []log.Field {
	var remoteAddr, userAgent string
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		remoteAddr = p.Addr.String()
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("user-agent"); len(values) != 0 {
			userAgent = values[0]
		}
	}
	return []log.Field{
		log.String("grpc_service", call.Service),
		log.String("grpc_method", call.Method),
		log.String("grpc_method_type", string(call.MethodType)),
		log.String("remote_addr", remoteAddr),
		log.String("user_agent", userAgent),
	}
}
