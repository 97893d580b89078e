/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package rpcmux

import (
	"fmt"
	"reflect"

	"google.golang.org/grpc"

	"github.com/acronis/go-dispatch/registry"
)

// Service is a processor: a gRPC service descriptor and its implementation.
// Desc.HandlerType declares the interface Impl must implement.
type Service struct {
	Desc *grpc.ServiceDesc
	Impl interface{}
}

// Registration is a discovered processor candidate keyed by its service name.
type Registration = registry.Registration[Service]

// Catalog is a static processor discoverer: search path to registrations.
type Catalog = registry.Catalog[Service]

// NewRegistration creates a registration of the processor created by factory.
// An empty serviceName means desc.ServiceName. A different name serves the processor under that name.
func NewRegistration(serviceName string, desc *grpc.ServiceDesc, factory func() (interface{}, error)) Registration {
	if serviceName == "" && desc != nil {
		serviceName = desc.ServiceName
	}
	return Registration{
		Route: registry.Route{Key: serviceName, Enabled: true},
		New: func() (Service, error) {
			impl, err := factory()
			if err != nil {
				return Service{}, err
			}
			if desc == nil {
				return Service{Desc: desc, Impl: impl}, nil
			}
			return bind(serviceName, Service{Desc: desc, Impl: impl}), nil
		},
	}
}

// InterfaceMismatchError is returned when a processor does not implement the interface its descriptor declares.
type InterfaceMismatchError struct {
	Service   string
	Handler   reflect.Type
	Interface reflect.Type
}

func (e *InterfaceMismatchError) Error() string {
	return fmt.Sprintf("processor %q: handler type %s does not implement %s", e.Service, e.Handler, e.Interface)
}

// checkProcessor verifies the processor structure before the gRPC server gets it,
// since grpc.Server.RegisterService terminates the process on a mismatch.
func checkProcessor(name string, svc Service) error {
	if svc.Desc == nil {
		return fmt.Errorf("processor %q: service descriptor is nil", name)
	}
	if svc.Impl == nil {
		return fmt.Errorf("processor %q: implementation is nil", name)
	}
	if svc.Desc.HandlerType == nil {
		return fmt.Errorf("processor %q: service descriptor declares no handler type", name)
	}
	handlerType := reflect.TypeOf(svc.Desc.HandlerType)
	if handlerType.Kind() != reflect.Ptr || handlerType.Elem().Kind() != reflect.Interface {
		return fmt.Errorf("processor %q: handler type %s is not a pointer to an interface", name, handlerType)
	}
	ifaceType := handlerType.Elem()
	implType := reflect.TypeOf(svc.Impl)
	if !implType.Implements(ifaceType) {
		return &InterfaceMismatchError{Service: name, Handler: implType, Interface: ifaceType}
	}
	return nil
}

// bind returns the processor with the descriptor serving it under name.
func bind(name string, svc Service) Service {
	if svc.Desc.ServiceName == name {
		return svc
	}
	desc := *svc.Desc
	desc.ServiceName = name
	return Service{Desc: &desc, Impl: svc.Impl}
}
