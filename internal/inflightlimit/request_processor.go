/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package inflightlimit

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-dispatch/lrucache"
)

// DefaultBacklogTimeout determines the default timeout for backlog processing.
const DefaultBacklogTimeout = time.Second * 5

// Params contains common data that relates to the in-flight limiting procedure.
type Params struct {
	Key               string
	RequestBacklogged bool
}

// RequestHandler abstracts a transport request being limited.
type RequestHandler interface {
	// Context returns the request context.
	Context() context.Context

	// Key returns the limiting key. An empty key with MaxKeys == 0 means the global limit.
	Key() string

	// Execute processes the actual request.
	Execute() error

	// OnReject handles request rejection when in-flight limit is exceeded.
	OnReject(params Params) error

	// OnError handles the cancellation of a backlogged request.
	OnError(params Params, err error) error
}

// BacklogParams defines parameters for the backlog processing.
type BacklogParams struct {
	// MaxKeys bounds the number of keys limited separately. 0 means all requests share one limit.
	MaxKeys int
	// Limit is the number of requests that may wait for a free slot.
	Limit int
	// Timeout is how long a request may wait for a free slot.
	Timeout time.Duration
}

// RequestProcessor handles the common in-flight limiting logic for any request type.
type RequestProcessor struct {
	getSlots       slotsProvider
	backlogTimeout time.Duration
}

// slotsProvider provides in-flight and backlog slots for limiting.
type slotsProvider func(key string) (inFlightSlots chan struct{}, backlogSlots chan struct{})

// NewRequestProcessor creates a new in-flight request processor.
func NewRequestProcessor(limit int, backlogParams BacklogParams) (*RequestProcessor, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit should be positive, got %d", limit)
	}
	if backlogParams.Limit < 0 {
		return nil, fmt.Errorf("backlog limit should not be negative, got %d", backlogParams.Limit)
	}
	if backlogParams.MaxKeys < 0 {
		return nil, fmt.Errorf("max keys for backlog should not be negative, got %d", backlogParams.MaxKeys)
	}
	getSlots, err := newSlotsProvider(limit, backlogParams.Limit, backlogParams.MaxKeys)
	if err != nil {
		return nil, fmt.Errorf("create slots provider: %w", err)
	}
	if backlogParams.Timeout == 0 {
		backlogParams.Timeout = DefaultBacklogTimeout
	}
	return &RequestProcessor{getSlots: getSlots, backlogTimeout: backlogParams.Timeout}, nil
}

// ProcessRequest executes the request if a slot is free or becomes free within the backlog timeout.
func (p *RequestProcessor) ProcessRequest(rh RequestHandler) error {
	key := rh.Key()
	slots, backlogSlots := p.getSlots(key)

	select {
	case backlogSlots <- struct{}{}:
		defer func() { <-backlogSlots }()
	default:
		return rh.OnReject(Params{Key: key})
	}

	select {
	case slots <- struct{}{}:
		defer func() { <-slots }()
		return rh.Execute()
	default:
	}

	timer := time.NewTimer(p.backlogTimeout)
	defer timer.Stop()
	select {
	case slots <- struct{}{}:
		defer func() { <-slots }()
		return rh.Execute()
	case <-timer.C:
		return rh.OnReject(Params{Key: key, RequestBacklogged: true})
	case <-rh.Context().Done():
		return rh.OnError(Params{Key: key, RequestBacklogged: true}, rh.Context().Err())
	}
}

func newSlotsProvider(limit, backlogLimit, maxKeys int) (slotsProvider, error) {
	if maxKeys == 0 {
		slots := make(chan struct{}, limit)
		backlogSlots := make(chan struct{}, limit+backlogLimit)
		return func(string) (chan struct{}, chan struct{}) {
			return slots, backlogSlots
		}, nil
	}

	type keySlots struct {
		slots        chan struct{}
		backlogSlots chan struct{}
	}
	keys, err := lrucache.New[string, *keySlots](maxKeys, nil)
	if err != nil {
		return nil, fmt.Errorf("new LRU in-memory store for keys: %w", err)
	}
	return func(key string) (chan struct{}, chan struct{}) {
		item, _ := keys.GetOrAdd(key, func() *keySlots {
			return &keySlots{
				slots:        make(chan struct{}, limit),
				backlogSlots: make(chan struct{}, limit+backlogLimit),
			}
		})
		return item.slots, item.backlogSlots
	}, nil
}
