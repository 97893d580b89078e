/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package interceptor

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/interop/grpc_testing"
	"google.golang.org/grpc/status"

	"github.com/acronis/go-dispatch/testutil"
)

type MetricsInterceptorTestSuite struct {
	suite.Suite
	IsUnary bool
}

func TestMetricsUnaryInterceptor(t *testing.T) {
	suite.Run(t, &MetricsInterceptorTestSuite{IsUnary: true})
}

func TestMetricsStreamInterceptor(t *testing.T) {
	suite.Run(t, &MetricsInterceptorTestSuite{IsUnary: false})
}

func (s *MetricsInterceptorTestSuite) call() CallInfo {
	if s.IsUnary {
		return CallInfo{Service: "grpc.testing.TestService", Method: "UnaryCall", MethodType: CallMethodTypeUnary}
	}
	return CallInfo{Service: "grpc.testing.TestService", Method: "StreamingOutputCall", MethodType: CallMethodTypeStream}
}

func (s *MetricsInterceptorTestSuite) startService(
	collector MetricsCollector, options ...MetricsOption,
) (*testService, func() error) {
	svc, client := startTestService(s.T(),
		grpc.UnaryInterceptor(MetricsUnaryInterceptor(collector, options...)),
		grpc.StreamInterceptor(MetricsStreamInterceptor(collector, options...)),
	)
	return svc, func() error { return makeCall(context.Background(), client, s.IsUnary) }
}

func (s *MetricsInterceptorTestSuite) histogram(pm *PrometheusMetrics, code codes.Code) prometheus.Histogram {
	call := s.call()
	return pm.Durations.WithLabelValues(call.Service, call.Method, string(call.MethodType), code.String()).(prometheus.Histogram)
}

func (s *MetricsInterceptorTestSuite) TestDurations() {
	const okCalls = 10
	const failedCalls = 5

	pm := NewPrometheusMetrics()
	svc, call := s.startService(pm)

	for i := 0; i < okCalls; i++ {
		s.Require().NoError(call())
	}
	testutil.RequireSamplesCountInHistogram(s.T(), s.histogram(pm, codes.OK), okCalls)
	testutil.RequireSamplesCountInHistogram(s.T(), s.histogram(pm, codes.PermissionDenied), 0)

	permissionDeniedErr := status.Error(codes.PermissionDenied, "Permission denied")
	svc.unaryCall = func(context.Context, *grpc_testing.SimpleRequest) (*grpc_testing.SimpleResponse, error) {
		return nil, permissionDeniedErr
	}
	svc.streamCall = func(*grpc_testing.StreamingOutputCallRequest, grpc_testing.TestService_StreamingOutputCallServer) error {
		return permissionDeniedErr
	}
	for i := 0; i < failedCalls; i++ {
		s.Require().ErrorIs(call(), permissionDeniedErr)
	}
	testutil.RequireSamplesCountInHistogram(s.T(), s.histogram(pm, codes.OK), okCalls)
	testutil.RequireSamplesCountInHistogram(s.T(), s.histogram(pm, codes.PermissionDenied), failedCalls)
}

func (s *MetricsInterceptorTestSuite) TestInFlight() {
	pm := NewPrometheusMetrics()
	svc, call := s.startService(pm)

	gauge := pm.InFlight.With(s.call().labels())
	entered := make(chan struct{})
	release := make(chan struct{})
	svc.unaryCall = func(context.Context, *grpc_testing.SimpleRequest) (*grpc_testing.SimpleResponse, error) {
		close(entered)
		<-release
		return &grpc_testing.SimpleResponse{}, nil
	}
	svc.streamCall = func(_ *grpc_testing.StreamingOutputCallRequest, stream grpc_testing.TestService_StreamingOutputCallServer) error {
		close(entered)
		<-release
		return stream.Send(&grpc_testing.StreamingOutputCallResponse{})
	}

	callErr := make(chan error, 1)
	go func() { callErr <- call() }()
	select {
	case <-entered:
	case <-time.After(time.Second * 3):
		s.FailNow("call has not reached the processor")
	}
	testutil.RequireGaugeValue(s.T(), gauge, 1)
	close(release)
	s.Require().NoError(<-callErr)
	testutil.RequireGaugeValue(s.T(), gauge, 0)
}

func (s *MetricsInterceptorTestSuite) TestExcludedMethod() {
	pm := NewPrometheusMetrics()
	info := s.call()
	_, call := s.startService(pm, WithMetricsExcludedMethods("/"+info.Service+"/"+info.Method))
	s.Require().NoError(call())
	testutil.RequireSamplesCountInHistogram(s.T(), s.histogram(pm, codes.OK), 0)
}
