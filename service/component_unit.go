/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"sync"
)

// ComponentUnit presents a Component as a Unit.
// Start blocks until the unit is stopped or the component reports a background error.
type ComponentUnit struct {
	component Component
	stopOnce  sync.Once
	stopped   chan struct{}
}

var _ Unit = (*ComponentUnit)(nil)
var _ MetricsRegisterer = (*ComponentUnit)(nil)

// NewComponentUnit creates a new instance of ComponentUnit.
func NewComponentUnit(component Component) *ComponentUnit {
	return &ComponentUnit{component: component, stopped: make(chan struct{})}
}

// Start starts the underlying Component.
func (u *ComponentUnit) Start(fatalError chan<- error) {
	if err := u.component.Start(); err != nil {
		fatalError <- err
		return
	}
	var errs <-chan error
	if reporter, ok := u.component.(ErrorReporter); ok {
		errs = reporter.Errors()
	}
	select {
	case err, ok := <-errs:
		if ok && err != nil {
			fatalError <- err
		}
	case <-u.stopped:
	}
}

// Stop stops the underlying Component.
func (u *ComponentUnit) Stop(gracefully bool) error {
	u.stopOnce.Do(func() { close(u.stopped) })
	return u.component.Stop(gracefully)
}

// MustRegisterMetrics registers the Component's metrics if it has any.
func (u *ComponentUnit) MustRegisterMetrics() {
	if mr, ok := u.component.(MetricsRegisterer); ok {
		mr.MustRegisterMetrics()
	}
}

// UnregisterMetrics unregisters the Component's metrics if it has any.
func (u *ComponentUnit) UnregisterMetrics() {
	if mr, ok := u.component.(MetricsRegisterer); ok {
		mr.UnregisterMetrics()
	}
}
