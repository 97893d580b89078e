/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package interceptor

import (
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CallMethodType represents the type of gRPC method call.
type CallMethodType string

const (
	// CallMethodTypeUnary represents a unary gRPC method call.
	CallMethodTypeUnary CallMethodType = "unary"
	// CallMethodTypeStream represents a streaming gRPC method call.
	CallMethodTypeStream CallMethodType = "stream"
)

// CallInfo describes the call an interceptor is running for.
// Service is the name the processor is registered under in the Multiplexer.
type CallInfo struct {
	Service    string
	Method     string
	MethodType CallMethodType
}

func newCallInfo(fullMethod string, methodType CallMethodType) CallInfo {
	service, method := splitFullMethodName(fullMethod)
	return CallInfo{Service: service, Method: method, MethodType: methodType}
}

func splitFullMethodName(fullMethod string) (service string, method string) {
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	if i := strings.LastIndex(fullMethod, "/"); i > 0 {
		return fullMethod[:i], fullMethod[i+1:]
	}
	return "unknown", "unknown"
}

func containsMethod(methods []string, fullMethod string) bool {
	for _, method := range methods {
		if method == fullMethod {
			return true
		}
	}
	return false
}

func codeFromError(err error) codes.Code {
	s, ok := status.FromError(err)
	if !ok {
		s = status.FromContextError(err)
	}
	return s.Code()
}
