/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package tcpclient

import (
	"fmt"
	"time"

	"github.com/acronis/go-dispatch/config"
	"github.com/acronis/go-dispatch/retry"
)

const cfgDefaultKeyPrefix = "tcpClient"

const (
	cfgKeyAddress      = "address"
	cfgKeyDialTimeout  = "dialTimeout"
	cfgKeyMaxFrameSize = "maxFrameSize"
	cfgKeyReconnect    = "reconnect"
)

const (
	// DefaultDialTimeout bounds a single connection attempt.
	DefaultDialTimeout = time.Second * 5

	defaultMaxFrameSize       = 1024 * 1024 // 1MiB
	defaultReconnectInterval  = time.Millisecond * 100
	defaultReconnectMaxDelay  = time.Second * 5
	defaultReconnectMaxTrials = 3
)

// DefaultReconnectPolicy is used when Opts.ReconnectPolicy is nil.
var DefaultReconnectPolicy = retry.NewExponentialBackoffPolicy(defaultReconnectInterval, defaultReconnectMaxTrials).
	WithMaxInterval(defaultReconnectMaxDelay)

// Config represents a set of configuration parameters for the TCP client.
type Config struct {
	config.KeyPrefixed `mapstructure:"-" yaml:"-" json:"-"`

	Address      string              `mapstructure:"address" yaml:"address" json:"address"`
	DialTimeout  config.TimeDuration `mapstructure:"dialTimeout" yaml:"dialTimeout" json:"dialTimeout"`
	MaxFrameSize config.ByteSize     `mapstructure:"maxFrameSize" yaml:"maxFrameSize" json:"maxFrameSize"`
	Reconnect    retry.PolicyConfig  `mapstructure:"reconnect" yaml:"reconnect" json:"reconnect"`
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
func NewConfig(options ...config.Option) *Config {
	opts := config.ApplyOptions(options...)
	return &Config{KeyPrefixed: config.NewKeyPrefixed(opts.KeyPrefix, cfgDefaultKeyPrefix)}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...config.Option) *Config {
	cfg := NewConfig(options...)
	cfg.DialTimeout = config.TimeDuration(DefaultDialTimeout)
	cfg.MaxFrameSize = defaultMaxFrameSize
	cfg.Reconnect = defaultReconnectConfig()
	return cfg
}

func defaultReconnectConfig() retry.PolicyConfig {
	return retry.PolicyConfig{
		Strategy:    retry.StrategyExponential,
		Interval:    config.TimeDuration(defaultReconnectInterval),
		MaxInterval: config.TimeDuration(defaultReconnectMaxDelay),
		MaxAttempts: defaultReconnectMaxTrials,
	}
}

// SetProviderDefaults sets default configuration values for the TCP client in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyDialTimeout, DefaultDialTimeout)
	dp.SetDefault(cfgKeyMaxFrameSize, defaultMaxFrameSize)
	c.Reconnect.SetProviderDefaults(config.NewKeyPrefixedDataProvider(dp, cfgKeyReconnect), defaultReconnectConfig())
}

// Set sets the TCP client configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Address, err = dp.GetString(cfgKeyAddress); err != nil {
		return err
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyDialTimeout); err != nil {
		return err
	}
	if dur < 0 {
		return dp.WrapKeyErr(cfgKeyDialTimeout, fmt.Errorf("cannot be negative"))
	}
	c.DialTimeout = config.TimeDuration(dur)

	if c.MaxFrameSize, err = dp.GetByteSize(cfgKeyMaxFrameSize); err != nil {
		return err
	}

	return c.Reconnect.Set(config.NewKeyPrefixedDataProvider(dp, cfgKeyReconnect))
}

// Opts converts the configuration to client options.
func (c *Config) Opts() Opts {
	return Opts{
		DialTimeout:     time.Duration(c.DialTimeout),
		MaxFrameSize:    int(c.MaxFrameSize),
		ReconnectPolicy: c.Reconnect.Policy(),
	}
}
