/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimit provides the key-based rate limiters used for dispatcher route limits:
// a leaky bucket (GCRA) and a sliding window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/RussellLuo/slidingwindow"
	"github.com/throttled/throttled/v2"
	"github.com/throttled/throttled/v2/store/memstore"

	"github.com/acronis/go-dispatch/lrucache"
)

// Alg is a rate limiting algorithm.
type Alg string

// Supported algorithms.
const (
	AlgLeakyBucket   Alg = "leaky_bucket"
	AlgSlidingWindow Alg = "sliding_window"
)

// DefaultMaxKeys bounds the number of tracked keys when the caller does not.
const DefaultMaxKeys = 10000

// Rate describes the frequency of requests.
type Rate struct {
	Count    int
	Duration time.Duration
}

// Limiter decides whether one more request for the key is allowed now.
type Limiter interface {
	Allow(ctx context.Context, key string) (allow bool, retryAfter time.Duration, err error)
}

// Opts configures New.
type Opts struct {
	// Burst is the number of requests allowed above the rate (leaky bucket only).
	Burst int
	// MaxKeys bounds the number of keys whose state is kept. Zero means DefaultMaxKeys.
	MaxKeys int
	// CacheMetrics collects sliding window key cache statistics. May be nil.
	CacheMetrics lrucache.MetricsCollector
}

// New creates a limiter of the given algorithm.
func New(alg Alg, rate Rate, opts Opts) (Limiter, error) {
	if rate.Count <= 0 || rate.Duration <= 0 {
		return nil, fmt.Errorf("rate must be positive, got %d per %s", rate.Count, rate.Duration)
	}
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = DefaultMaxKeys
	}
	switch alg {
	case AlgLeakyBucket, "":
		return NewLeakyBucketLimiter(rate, opts.Burst, opts.MaxKeys)
	case AlgSlidingWindow:
		return NewSlidingWindowLimiter(rate, opts.MaxKeys, opts.CacheMetrics)
	default:
		return nil, fmt.Errorf("unknown rate limiting algorithm %q", alg)
	}
}

// LeakyBucketLimiter implements GCRA (Generic Cell Rate Algorithm), a leaky bucket variant.
// See https://brandur.org/rate-limiting#gcra.
type LeakyBucketLimiter struct {
	limiter *throttled.GCRARateLimiterCtx
}

// NewLeakyBucketLimiter creates a new leaky bucket rate limiter keeping state for at most maxKeys keys.
func NewLeakyBucketLimiter(rate Rate, burst, maxKeys int) (*LeakyBucketLimiter, error) {
	store, err := memstore.NewCtx(maxKeys)
	if err != nil {
		return nil, fmt.Errorf("new in-memory store: %w", err)
	}
	limiter, err := throttled.NewGCRARateLimiterCtx(store, throttled.RateQuota{
		MaxRate:  throttled.PerDuration(rate.Count, rate.Duration),
		MaxBurst: burst,
	})
	if err != nil {
		return nil, fmt.Errorf("new GCRA rate limiter: %w", err)
	}
	return &LeakyBucketLimiter{limiter}, nil
}

// Allow checks if the request should be allowed based on the rate limit.
func (l *LeakyBucketLimiter) Allow(ctx context.Context, key string) (allow bool, retryAfter time.Duration, err error) {
	limited, res, err := l.limiter.RateLimitCtx(ctx, key, 1)
	if err != nil {
		return false, 0, err
	}
	return !limited, res.RetryAfter, nil
}

// SlidingWindowLimiter implements the sliding window algorithm with a window per key.
type SlidingWindowLimiter struct {
	rate     Rate
	limiters *lrucache.LRUCache[string, *slidingwindow.Limiter]
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter keeping windows for at most maxKeys keys.
func NewSlidingWindowLimiter(rate Rate, maxKeys int, cacheMetrics lrucache.MetricsCollector) (*SlidingWindowLimiter, error) {
	limiters, err := lrucache.New[string, *slidingwindow.Limiter](maxKeys, cacheMetrics)
	if err != nil {
		return nil, fmt.Errorf("new LRU cache for sliding windows: %w", err)
	}
	return &SlidingWindowLimiter{rate: rate, limiters: limiters}, nil
}

// Allow checks if the request should be allowed based on the rate limit.
func (l *SlidingWindowLimiter) Allow(_ context.Context, key string) (allow bool, retryAfter time.Duration, err error) {
	lim, _ := l.limiters.GetOrAdd(key, func() *slidingwindow.Limiter {
		lim, _ := slidingwindow.NewLimiter(l.rate.Duration, int64(l.rate.Count),
			func() (slidingwindow.Window, slidingwindow.StopFunc) {
				return slidingwindow.NewLocalWindow()
			})
		return lim
	})
	if lim.Allow() {
		return true, 0, nil
	}
	now := time.Now()
	return false, now.Truncate(l.rate.Duration).Add(l.rate.Duration).Sub(now), nil
}

// Keys returns the number of keys the limiter currently tracks.
func (l *SlidingWindowLimiter) Keys() int {
	return l.limiters.Len()
}
