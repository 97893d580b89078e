/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package interceptor

import (
	"context"

	"github.com/rs/xid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Metadata keys the request ids are read from and sent back in.
const (
	MetadataKeyRequestID         = "x-request-id"
	MetadataKeyInternalRequestID = "x-int-request-id"
)

type requestIDOptions struct {
	generateID         func() string
	generateInternalID func() string
}

// RequestIDOption is a function type for configuring the request id interceptors.
type RequestIDOption func(*requestIDOptions)

// WithRequestIDGenerator sets the function generating request ids for calls that come without one.
func WithRequestIDGenerator(generator func() string) RequestIDOption {
	return func(opts *requestIDOptions) {
		opts.generateID = generator
	}
}

// WithInternalRequestIDGenerator sets the function generating internal request ids.
func WithInternalRequestIDGenerator(generator func() string) RequestIDOption {
	return func(opts *requestIDOptions) {
		opts.generateInternalID = generator
	}
}

func newRequestIDOptions(options []RequestIDOption) requestIDOptions {
	newID := func() string { return xid.New().String() }
	opts := requestIDOptions{generateID: newID, generateInternalID: newID}
	for _, option := range options {
		option(&opts)
	}
	return opts
}

// resolve returns the context carrying both request ids and the header metadata announcing them.
func (opts requestIDOptions) resolve(ctx context.Context) (context.Context, metadata.MD) {
	var requestID string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(MetadataKeyRequestID); len(values) != 0 {
			requestID = values[0]
		}
	}
	if requestID == "" {
		requestID = opts.generateID()
	}
	internalRequestID := opts.generateInternalID()

	ctx = NewContextWithInternalRequestID(NewContextWithRequestID(ctx, requestID), internalRequestID)
	return ctx, metadata.Pairs(MetadataKeyRequestID, requestID, MetadataKeyInternalRequestID, internalRequestID)
}

// RequestIDUnaryInterceptor takes the request id from the incoming metadata (or generates one),
// generates an internal request id, puts both into the context and sends them back as response headers.
func RequestIDUnaryInterceptor(options ...RequestIDOption) grpc.UnaryServerInterceptor {
	opts := newRequestIDOptions(options)
	return func(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, header := opts.resolve(ctx)
		if err := grpc.SetHeader(ctx, header); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// RequestIDStreamInterceptor is the stream version of RequestIDUnaryInterceptor.
func RequestIDStreamInterceptor(options ...RequestIDOption) grpc.StreamServerInterceptor {
	opts := newRequestIDOptions(options)
	return func(srv interface{}, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, header := opts.resolve(ss.Context())
		if err := ss.SetHeader(header); err != nil {
			return err
		}
		return handler(srv, &WrappedServerStream{ServerStream: ss, Ctx: ctx})
	}
}
