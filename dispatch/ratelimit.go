/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vasayxtx/go-glob"
	"gopkg.in/yaml.v3"

	"github.com/acronis/go-dispatch/internal/ratelimit"
	"github.com/acronis/go-dispatch/lrucache"
)

// RateLimitValue represents value for rate limiting.
type RateLimitValue struct {
	Count    int
	Duration time.Duration
}

// String returns a string representation of the rate limit value.
// Implements fmt.Stringer interface.
func (rl RateLimitValue) String() string {
	if rl.Duration == 0 && rl.Count == 0 {
		return ""
	}
	var d string
	switch rl.Duration {
	case time.Second:
		d = "s"
	case time.Minute:
		d = "m"
	case time.Hour:
		d = "h"
	default:
		d = rl.Duration.String()
	}
	return fmt.Sprintf("%d/%s", rl.Count, d)
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (rl *RateLimitValue) UnmarshalText(text []byte) error {
	return rl.unmarshal(string(text))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (rl *RateLimitValue) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	return rl.unmarshal(text)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (rl *RateLimitValue) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	return rl.unmarshal(text)
}

func (rl *RateLimitValue) unmarshal(rate string) error {
	if rate == "" {
		*rl = RateLimitValue{}
		return nil
	}
	incorrectFormatErr := fmt.Errorf(
		"incorrect format for rate %q, should be N/(s|m|h), for example 10/s, 100/m, 1000/h", rate)
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) != 2 {
		return incorrectFormatErr
	}
	count, err := strconv.Atoi(parts[0])
	if err != nil || count < 0 {
		return incorrectFormatErr
	}
	var dur time.Duration
	switch strings.ToLower(parts[1]) {
	case "s":
		dur = time.Second
	case "m":
		dur = time.Minute
	case "h":
		dur = time.Hour
	default:
		return incorrectFormatErr
	}
	*rl = RateLimitValue{Count: count, Duration: dur}
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface.
func (rl RateLimitValue) MarshalText() ([]byte, error) {
	return []byte(rl.String()), nil
}

// MarshalJSON implements the json.Marshaler interface.
func (rl RateLimitValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(rl.String())
}

// MarshalYAML implements the yaml.Marshaler interface.
func (rl RateLimitValue) MarshalYAML() (interface{}, error) {
	return rl.String(), nil
}

type routeLimit struct {
	matchers   []func(string) bool
	perSession bool
	limiter    ratelimit.Limiter
}

func (rl *routeLimit) matches(key string) bool {
	for _, match := range rl.matchers {
		if match(key) {
			return true
		}
	}
	return false
}

// routeLimits holds the compiled rate limiting rules. The first matching rule applies.
type routeLimits []*routeLimit

func newRouteLimits(cfgs []RateLimitConfig, cacheMetrics *lrucache.PrometheusMetrics) (routeLimits, error) {
	limits := make(routeLimits, 0, len(cfgs))
	for i := range cfgs {
		cfg := &cfgs[i]
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("rate limit rule #%d: %w", i, err)
		}
		matchers := make([]func(string) bool, 0, len(cfg.Routes))
		for _, pattern := range cfg.Routes {
			matchers = append(matchers, glob.Compile(pattern))
		}
		var collector lrucache.MetricsCollector
		if cacheMetrics != nil {
			collector = cacheMetrics.ForCache(fmt.Sprintf("rate_limit_%d", i))
		}
		limiter, err := ratelimit.New(ratelimit.Alg(cfg.Alg), ratelimit.Rate{
			Count:    cfg.RateLimit.Count,
			Duration: cfg.RateLimit.Duration,
		}, ratelimit.Opts{Burst: cfg.Burst, MaxKeys: cfg.MaxKeys, CacheMetrics: collector})
		if err != nil {
			return nil, fmt.Errorf("rate limit rule #%d: %w", i, err)
		}
		limits = append(limits, &routeLimit{matchers: matchers, perSession: cfg.PerSession, limiter: limiter})
	}
	return limits, nil
}

// allow reports whether the request for the route key may proceed.
func (rls routeLimits) allow(ctx context.Context, sess Session, key string) (bool, time.Duration, error) {
	for _, rl := range rls {
		if !rl.matches(key) {
			continue
		}
		limitKey := key
		if rl.perSession {
			limitKey = sess.ID() + " " + key
		}
		return rl.limiter.Allow(ctx, limitKey)
	}
	return true, 0, nil
}
