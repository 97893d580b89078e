/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package interceptor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/interop/grpc_testing"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/acronis/go-dispatch/log"
	"github.com/acronis/go-dispatch/log/logtest"
)

type LoggingInterceptorTestSuite struct {
	suite.Suite
	IsUnary bool
}

func TestLoggingUnaryInterceptor(t *testing.T) {
	suite.Run(t, &LoggingInterceptorTestSuite{IsUnary: true})
}

func TestLoggingStreamInterceptor(t *testing.T) {
	suite.Run(t, &LoggingInterceptorTestSuite{IsUnary: false})
}

func (s *LoggingInterceptorTestSuite) fullMethod() string {
	if s.IsUnary {
		return "/grpc.testing.TestService/UnaryCall"
	}
	return "/grpc.testing.TestService/StreamingOutputCall"
}

func (s *LoggingInterceptorTestSuite) startService(
	logger log.FieldLogger, options ...LoggingOption,
) (*testService, func(ctx context.Context) error) {
	var serverOpts []grpc.ServerOption
	if s.IsUnary {
		serverOpts = append(serverOpts, grpc.ChainUnaryInterceptor(
			RequestIDUnaryInterceptor(), LoggingUnaryInterceptor(logger, options...)))
	} else {
		serverOpts = append(serverOpts, grpc.ChainStreamInterceptor(
			RequestIDStreamInterceptor(), LoggingStreamInterceptor(logger, options...)))
	}
	svc, client := startTestService(s.T(), serverOpts...)
	return svc, func(ctx context.Context) error {
		return makeCall(ctx, client, s.IsUnary)
	}
}

func (s *LoggingInterceptorTestSuite) failWith(svc *testService, err error) {
	svc.unaryCall = func(context.Context, *grpc_testing.SimpleRequest) (*grpc_testing.SimpleResponse, error) {
		return nil, err
	}
	svc.streamCall = func(*grpc_testing.StreamingOutputCallRequest, grpc_testing.TestService_StreamingOutputCallServer) error {
		return err
	}
}

func (s *LoggingInterceptorTestSuite) TestCallFinished() {
	permissionDeniedErr := status.Error(codes.PermissionDenied, "Permission denied")
	tests := []struct {
		name     string
		err      error
		wantCode codes.Code
	}{
		{name: "call succeeded", wantCode: codes.OK},
		{name: "call failed", err: permissionDeniedErr, wantCode: codes.PermissionDenied},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			logRecorder := logtest.NewRecorder()
			svc, call := s.startService(logRecorder)
			if tt.err != nil {
				s.failWith(svc, tt.err)
			}

			ctx := metadata.AppendToOutgoingContext(context.Background(), MetadataKeyRequestID, "req-1")
			err := call(ctx)
			if tt.err != nil {
				s.Require().ErrorIs(err, tt.err)
			} else {
				s.Require().NoError(err)
			}

			s.Require().Len(logRecorder.Entries(), 1)
			entry := logRecorder.Entries()[0]
			s.Require().Equal(log.LevelInfo, entry.Level)
			s.Require().True(strings.HasPrefix(entry.Text, "gRPC call finished in "))
			s.Require().Equal("req-1", entry.StringField("request_id"))
			s.Require().NotEmpty(entry.StringField("int_request_id"))
			s.Require().Equal("grpc.testing.TestService", entry.StringField("grpc_service"))
			s.Require().Contains(s.fullMethod(), entry.StringField("grpc_method"))
			s.Require().Contains(entry.StringField("user_agent"), "grpc-go")
			s.Require().NotEmpty(entry.StringField("remote_addr"))
			s.Require().Equal(tt.wantCode.String(), entry.StringField("grpc_code"))
			_, found := entry.FindField("duration_ms")
			s.Require().True(found)
			if tt.err != nil {
				s.Require().Equal(tt.err.Error(), entry.StringField("grpc_error"))
			}
		})
	}
}

func (s *LoggingInterceptorTestSuite) TestCallStart() {
	logRecorder := logtest.NewRecorder()
	_, call := s.startService(logRecorder, WithLoggingCallStart(true))
	s.Require().NoError(call(context.Background()))

	s.Require().Len(logRecorder.Entries(), 2)
	s.Require().Equal("gRPC call started", logRecorder.Entries()[0].Text)
}

func (s *LoggingInterceptorTestSuite) TestExcludedMethod() {
	logRecorder := logtest.NewRecorder()
	svc, call := s.startService(logRecorder, WithLoggingCallStart(true), WithLoggingExcludedMethods(s.fullMethod()))
	s.Require().NoError(call(context.Background()))
	s.Require().Empty(logRecorder.Entries())

	// Failed calls of excluded methods are still logged.
	s.failWith(svc, status.Error(codes.Unavailable, "unavailable"))
	s.Require().Error(call(context.Background()))
	s.Require().Len(logRecorder.Entries(), 1)
	s.Require().Equal(codes.Unavailable.String(), logRecorder.Entries()[0].StringField("grpc_code"))
}

func (s *LoggingInterceptorTestSuite) TestSlowCall() {
	logRecorder := logtest.NewRecorder()
	svc, call := s.startService(logRecorder, WithLoggingSlowCallThreshold(time.Millisecond))
	svc.unaryCall = func(context.Context, *grpc_testing.SimpleRequest) (*grpc_testing.SimpleResponse, error) {
		time.Sleep(time.Millisecond * 5)
		return &grpc_testing.SimpleResponse{}, nil
	}
	svc.streamCall = func(_ *grpc_testing.StreamingOutputCallRequest, stream grpc_testing.TestService_StreamingOutputCallServer) error {
		time.Sleep(time.Millisecond * 5)
		return stream.Send(&grpc_testing.StreamingOutputCallResponse{})
	}
	s.Require().NoError(call(context.Background()))

	s.Require().Len(logRecorder.Entries(), 1)
	_, found := logRecorder.Entries()[0].FindField("slow_request")
	s.Require().True(found)
}

func (s *LoggingInterceptorTestSuite) TestLoggerInContext() {
	logRecorder := logtest.NewRecorder()
	svc, call := s.startService(logRecorder)
	s.Require().NoError(call(context.Background()))

	logger := GetLoggerFromContext(svc.lastCtx)
	s.Require().NotNil(logger)
	logger.Info("from processor")
	entry, found := logRecorder.FindEntry("from processor")
	s.Require().True(found)
	s.Require().Equal("grpc.testing.TestService", entry.StringField("grpc_service"))
}
