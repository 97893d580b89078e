/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dispatch

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/acronis/go-dispatch/config"
	"github.com/acronis/go-dispatch/internal/ratelimit"
)

const cfgDefaultKeyPrefix = "dispatcher"

const (
	cfgKeyHandlerGroups              = "handlerGroups"
	cfgKeyDisabledRoutes             = "disabledRoutes"
	cfgKeyRejectStatus               = "rejectStatus"
	cfgKeyPoolWorkers                = "pool.workers"
	cfgKeyLimitsMaxPendingPerSession = "limits.maxPendingPerSession"
	cfgKeyRateLimits                 = "rateLimits"
	cfgKeyLogSlowHandlerThreshold    = "log.slowHandlerThreshold"
)

const (
	defaultRejectStatus         = http.StatusNotFound
	defaultSlowHandlerThreshold = time.Second
)

// Config represents a set of configuration parameters for Dispatcher.
type Config struct {
	config.KeyPrefixed `mapstructure:"-" yaml:"-" json:"-"`

	// HandlerGroups are the search paths handlers are discovered in on Start.
	HandlerGroups []string `mapstructure:"handlerGroups" yaml:"handlerGroups" json:"handlerGroups"`

	// DisabledRoutes are glob patterns of route keys that are not registered even if discovered.
	DisabledRoutes []string `mapstructure:"disabledRoutes" yaml:"disabledRoutes" json:"disabledRoutes"`

	// RejectStatus is the status of the reply sent when no handler is found for a route key.
	RejectStatus int `mapstructure:"rejectStatus" yaml:"rejectStatus" json:"rejectStatus"`

	Pool       PoolConfig        `mapstructure:"pool" yaml:"pool" json:"pool"`
	Limits     LimitsConfig      `mapstructure:"limits" yaml:"limits" json:"limits"`
	RateLimits []RateLimitConfig `mapstructure:"rateLimits" yaml:"rateLimits" json:"rateLimits"`
	Log        LogConfig         `mapstructure:"log" yaml:"log" json:"log"`
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// PoolConfig configures the worker pool owned by Dispatcher.
type PoolConfig struct {
	// Workers is the number of pool goroutines. 0 runs handlers on the dispatching goroutine.
	Workers int `mapstructure:"workers" yaml:"workers" json:"workers"`
}

// LimitsConfig configures backpressure.
type LimitsConfig struct {
	// MaxPendingPerSession is the maximum number of requests waiting in an ordered session.
	// 0 means unlimited.
	MaxPendingPerSession int `mapstructure:"maxPendingPerSession" yaml:"maxPendingPerSession" json:"maxPendingPerSession"`
}

// LogConfig configures handler logging.
type LogConfig struct {
	SlowHandlerThreshold config.TimeDuration `mapstructure:"slowHandlerThreshold" yaml:"slowHandlerThreshold" json:"slowHandlerThreshold"`
}

// RateLimitConfig is one route rate limiting rule.
type RateLimitConfig struct {
	// Routes are glob patterns of route keys the rule applies to.
	Routes []string `mapstructure:"routes" yaml:"routes" json:"routes"`

	// Alg is either "leaky_bucket" (default) or "sliding_window".
	Alg string `mapstructure:"alg" yaml:"alg" json:"alg"`

	// RateLimit is written as N/(s|m|h), for example 10/s.
	RateLimit RateLimitValue `mapstructure:"rateLimit" yaml:"rateLimit" json:"rateLimit"`

	// Burst is the number of requests allowed above the rate (leaky bucket only).
	Burst int `mapstructure:"burst" yaml:"burst" json:"burst"`

	// PerSession limits every session separately instead of the route as a whole.
	PerSession bool `mapstructure:"perSession" yaml:"perSession" json:"perSession"`

	// MaxKeys bounds the number of sessions tracked when PerSession is set.
	MaxKeys int `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`
}

// Validate validates the rule.
func (c *RateLimitConfig) Validate() error {
	if len(c.Routes) == 0 {
		return fmt.Errorf("routes should be specified")
	}
	switch ratelimit.Alg(c.Alg) {
	case "", ratelimit.AlgLeakyBucket, ratelimit.AlgSlidingWindow:
	default:
		return fmt.Errorf("unknown rate limiting algorithm %q", c.Alg)
	}
	if c.RateLimit.Count <= 0 {
		return fmt.Errorf("rateLimit should be set and positive")
	}
	if c.Burst < 0 {
		return fmt.Errorf("burst should be >= 0")
	}
	if c.MaxKeys < 0 {
		return fmt.Errorf("maxKeys should be >= 0")
	}
	return nil
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...config.Option) *Config {
	opts := config.ApplyOptions(options...)
	return &Config{KeyPrefixed: config.NewKeyPrefixed(opts.KeyPrefix, cfgDefaultKeyPrefix)}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...config.Option) *Config {
	cfg := NewConfig(options...)
	cfg.RejectStatus = defaultRejectStatus
	cfg.Pool.Workers = runtime.NumCPU()
	cfg.Log.SlowHandlerThreshold = config.TimeDuration(defaultSlowHandlerThreshold)
	return cfg
}

// SetProviderDefaults sets default configuration values for Dispatcher in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyRejectStatus, defaultRejectStatus)
	dp.SetDefault(cfgKeyPoolWorkers, runtime.NumCPU())
	dp.SetDefault(cfgKeyLogSlowHandlerThreshold, defaultSlowHandlerThreshold)
}

// Set sets Dispatcher configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.HandlerGroups, err = dp.GetStringSlice(cfgKeyHandlerGroups); err != nil {
		return err
	}
	if c.DisabledRoutes, err = dp.GetStringSlice(cfgKeyDisabledRoutes); err != nil {
		return err
	}

	if c.RejectStatus, err = dp.GetInt(cfgKeyRejectStatus); err != nil {
		return err
	}
	if c.RejectStatus < 400 || c.RejectStatus > 599 {
		return dp.WrapKeyErr(cfgKeyRejectStatus, fmt.Errorf("should be an error status in [400, 599], got %d", c.RejectStatus))
	}

	if c.Pool.Workers, err = dp.GetInt(cfgKeyPoolWorkers); err != nil {
		return err
	}
	if c.Pool.Workers < 0 {
		return dp.WrapKeyErr(cfgKeyPoolWorkers, fmt.Errorf("should be >= 0"))
	}

	if c.Limits.MaxPendingPerSession, err = dp.GetInt(cfgKeyLimitsMaxPendingPerSession); err != nil {
		return err
	}
	if c.Limits.MaxPendingPerSession < 0 {
		return dp.WrapKeyErr(cfgKeyLimitsMaxPendingPerSession, fmt.Errorf("should be >= 0"))
	}

	c.RateLimits = nil
	if dp.IsSet(cfgKeyRateLimits) {
		if err = dp.UnmarshalKey(cfgKeyRateLimits, &c.RateLimits); err != nil {
			return err
		}
	}
	for i := range c.RateLimits {
		if err = c.RateLimits[i].Validate(); err != nil {
			return dp.WrapKeyErr(fmt.Sprintf("%s[%d]", cfgKeyRateLimits, i), err)
		}
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyLogSlowHandlerThreshold); err != nil {
		return err
	}
	c.Log.SlowHandlerThreshold = config.TimeDuration(dur)

	return nil
}
