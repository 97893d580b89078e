/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package tcpserver

import (
	"fmt"
	"time"

	"github.com/acronis/go-dispatch/config"
)

const cfgDefaultKeyPrefix = "tcpServer"

const (
	cfgKeyServerAddress           = "address"
	cfgKeyServerReuseAddr         = "reuseAddr"
	cfgKeyServerMaxFrameSize      = "limits.maxFrameSize"
	cfgKeyServerMaxConnections    = "limits.maxConnections"
	cfgKeyServerMessagesPerSecond = "limits.messagesPerSecond"
	cfgKeyServerWriteQueueSize    = "limits.writeQueueSize"
	cfgKeyServerTimeoutsIdle      = "timeouts.idle"
	cfgKeyServerTimeoutsWrite     = "timeouts.write"
	cfgKeyServerTimeoutsShutdown  = "timeouts.shutdown"
)

const (
	defaultServerAddress         = ":9000"
	defaultServerReuseAddr       = true
	defaultServerMaxFrameSize    = 1024 * 1024 // 1MiB
	defaultServerMaxConnections  = 10000
	defaultServerWriteQueueSize  = 64
	defaultServerIdleTimeout     = time.Minute * 5
	defaultServerWriteTimeout    = time.Second * 10
	defaultServerShutdownTimeout = time.Second * 5
)

// Config represents a set of configuration parameters for the TCP Server.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	config.KeyPrefixed `mapstructure:"-" yaml:"-" json:"-"`

	Address   string         `mapstructure:"address" yaml:"address" json:"address"`
	ReuseAddr bool           `mapstructure:"reuseAddr" yaml:"reuseAddr" json:"reuseAddr"`
	Limits    LimitsConfig   `mapstructure:"limits" yaml:"limits" json:"limits"`
	Timeouts  TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts" json:"timeouts"`
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
	cfg.Address = defaultServerAddress
	cfg.ReuseAddr = defaultServerReuseAddr
	cfg.Limits = LimitsConfig{
		MaxFrameSize:   config.ByteSize(defaultServerMaxFrameSize),
		MaxConnections: defaultServerMaxConnections,
		WriteQueueSize: defaultServerWriteQueueSize,
	}
	cfg.Timeouts = TimeoutsConfig{
		Idle:     config.TimeDuration(defaultServerIdleTimeout),
		Write:    config.TimeDuration(defaultServerWriteTimeout),
		Shutdown: config.TimeDuration(defaultServerShutdownTimeout),
	}
	return cfg
}

// LimitsConfig represents a set of configuration parameters for the TCP Server relating to limits.
type LimitsConfig struct {
	// MaxFrameSize bounds the size of a frame (without the length prefix) in both directions.
	MaxFrameSize config.ByteSize `mapstructure:"maxFrameSize" yaml:"maxFrameSize" json:"maxFrameSize"`

	// MaxConnections is the maximum number of simultaneously served connections. 0 means no limit.
	MaxConnections int `mapstructure:"maxConnections" yaml:"maxConnections" json:"maxConnections"`

	// MessagesPerSecond is the inbound frame rate allowed on one connection. 0 means no limit.
	MessagesPerSecond int `mapstructure:"messagesPerSecond" yaml:"messagesPerSecond" json:"messagesPerSecond"`

	// WriteQueueSize is the number of frames a connection buffers before writers block.
	WriteQueueSize int `mapstructure:"writeQueueSize" yaml:"writeQueueSize" json:"writeQueueSize"`
}

// Set sets limit configuration values from config.DataProvider.
func (l *LimitsConfig) Set(dp config.DataProvider) error {
	var err error

	if l.MaxFrameSize, err = dp.GetByteSize(cfgKeyServerMaxFrameSize); err != nil {
		return err
	}
	if l.MaxFrameSize < minFrameSize || l.MaxFrameSize > maxFrameSizeLimit {
		return dp.WrapKeyErr(cfgKeyServerMaxFrameSize,
			fmt.Errorf("must be in range [%d, %d]", minFrameSize, maxFrameSizeLimit))
	}

	if l.MaxConnections, err = dp.GetInt(cfgKeyServerMaxConnections); err != nil {
		return err
	}
	if l.MaxConnections < 0 {
		return dp.WrapKeyErr(cfgKeyServerMaxConnections, fmt.Errorf("cannot be negative"))
	}

	if l.MessagesPerSecond, err = dp.GetInt(cfgKeyServerMessagesPerSecond); err != nil {
		return err
	}
	if l.MessagesPerSecond < 0 {
		return dp.WrapKeyErr(cfgKeyServerMessagesPerSecond, fmt.Errorf("cannot be negative"))
	}

	if l.WriteQueueSize, err = dp.GetInt(cfgKeyServerWriteQueueSize); err != nil {
		return err
	}
	if l.WriteQueueSize <= 0 {
		return dp.WrapKeyErr(cfgKeyServerWriteQueueSize, fmt.Errorf("must be positive"))
	}

	return nil
}

// TimeoutsConfig represents a set of configuration parameters for the TCP Server relating to timeouts.
type TimeoutsConfig struct {
	// Idle is the time a connection may stay without inbound frames. 0 means no limit.
	Idle config.TimeDuration `mapstructure:"idle" yaml:"idle" json:"idle"`

	// Write bounds writing of one batch of frames. 0 means no limit.
	Write config.TimeDuration `mapstructure:"write" yaml:"write" json:"write"`

	Shutdown config.TimeDuration `mapstructure:"shutdown" yaml:"shutdown" json:"shutdown"`
}

// Set sets timeout configuration values from config.DataProvider.
func (t *TimeoutsConfig) Set(dp config.DataProvider) error {
	var err error
	var dur time.Duration

	if dur, err = dp.GetDuration(cfgKeyServerTimeoutsIdle); err != nil {
		return err
	}
	t.Idle = config.TimeDuration(dur)

	if dur, err = dp.GetDuration(cfgKeyServerTimeoutsWrite); err != nil {
		return err
	}
	t.Write = config.TimeDuration(dur)

	if dur, err = dp.GetDuration(cfgKeyServerTimeoutsShutdown); err != nil {
		return err
	}
	t.Shutdown = config.TimeDuration(dur)

	return nil
}

// SetProviderDefaults sets default configuration values for the TCP Server in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyServerAddress, defaultServerAddress)
	dp.SetDefault(cfgKeyServerReuseAddr, defaultServerReuseAddr)
	dp.SetDefault(cfgKeyServerMaxFrameSize, defaultServerMaxFrameSize)
	dp.SetDefault(cfgKeyServerMaxConnections, defaultServerMaxConnections)
	dp.SetDefault(cfgKeyServerMessagesPerSecond, 0)
	dp.SetDefault(cfgKeyServerWriteQueueSize, defaultServerWriteQueueSize)
	dp.SetDefault(cfgKeyServerTimeoutsIdle, defaultServerIdleTimeout)
	dp.SetDefault(cfgKeyServerTimeoutsWrite, defaultServerWriteTimeout)
	dp.SetDefault(cfgKeyServerTimeoutsShutdown, defaultServerShutdownTimeout)
}

// Set sets the TCP Server configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Address, err = dp.GetString(cfgKeyServerAddress); err != nil {
		return err
	}
	if c.Address == "" {
		return dp.WrapKeyErr(cfgKeyServerAddress, fmt.Errorf("cannot be empty"))
	}
	if c.ReuseAddr, err = dp.GetBool(cfgKeyServerReuseAddr); err != nil {
		return err
	}
	if err = c.Limits.Set(dp); err != nil {
		return err
	}
	return c.Timeouts.Set(dp)
}
