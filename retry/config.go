/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"fmt"
	"time"

	"github.com/acronis/go-dispatch/config"
)

// Backoff strategies.
const (
	StrategyExponential = "exponential"
	StrategyConstant    = "constant"
	StrategyNone        = "none"
)

const (
	cfgKeyStrategy    = "strategy"
	cfgKeyInterval    = "interval"
	cfgKeyMaxInterval = "maxInterval"
	cfgKeyMaxAttempts = "maxAttempts"
)

// PolicyConfig represents configuration of a backoff policy.
// It is meant to be embedded into other configs, its keys are relative to the key of the embedding field.
type PolicyConfig struct {
	// Strategy is one of [exponential, constant, none].
	Strategy string `mapstructure:"strategy" yaml:"strategy" json:"strategy"`

	// Interval is the initial delay for the exponential strategy and the delay for the constant one.
	Interval config.TimeDuration `mapstructure:"interval" yaml:"interval" json:"interval"`

	// MaxInterval caps delays of the exponential strategy. 0 means the backoff library default.
	MaxInterval config.TimeDuration `mapstructure:"maxInterval" yaml:"maxInterval" json:"maxInterval"`

	// MaxAttempts is the number of retries after the first attempt. 0 means retrying until the context is done.
	MaxAttempts int `mapstructure:"maxAttempts" yaml:"maxAttempts" json:"maxAttempts"`
}

// SetProviderDefaults sets the policy defaults. The keys of dp are expected to be relative to the policy.
func (c *PolicyConfig) SetProviderDefaults(dp config.DataProvider, defaults PolicyConfig) {
	dp.SetDefault(cfgKeyStrategy, defaults.Strategy)
	dp.SetDefault(cfgKeyInterval, time.Duration(defaults.Interval))
	dp.SetDefault(cfgKeyMaxInterval, time.Duration(defaults.MaxInterval))
	dp.SetDefault(cfgKeyMaxAttempts, defaults.MaxAttempts)
}

// Set sets the policy from config.DataProvider. The keys of dp are expected to be relative to the policy.
func (c *PolicyConfig) Set(dp config.DataProvider) error {
	var err error
	if c.Strategy, err = dp.GetStringFromSet(cfgKeyStrategy,
		[]string{StrategyExponential, StrategyConstant, StrategyNone}, true); err != nil {
		return err
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyInterval); err != nil {
		return err
	}
	if dur < 0 {
		return dp.WrapKeyErr(cfgKeyInterval, fmt.Errorf("cannot be negative"))
	}
	c.Interval = config.TimeDuration(dur)

	if dur, err = dp.GetDuration(cfgKeyMaxInterval); err != nil {
		return err
	}
	c.MaxInterval = config.TimeDuration(dur)

	if c.MaxAttempts, err = dp.GetInt(cfgKeyMaxAttempts); err != nil {
		return err
	}
	if c.MaxAttempts < 0 {
		return dp.WrapKeyErr(cfgKeyMaxAttempts, fmt.Errorf("cannot be negative"))
	}
	return nil
}

// Policy builds the configured backoff policy.
func (c *PolicyConfig) Policy() Policy {
	switch c.Strategy {
	case StrategyExponential:
		return NewExponentialBackoffPolicy(time.Duration(c.Interval), c.MaxAttempts).
			WithMaxInterval(time.Duration(c.MaxInterval))
	case StrategyConstant:
		return NewConstantBackoffPolicy(time.Duration(c.Interval), c.MaxAttempts)
	default:
		return NoRetryPolicy
	}
}
