/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package rpcmux

import (
	"fmt"
	"time"

	"github.com/acronis/go-dispatch/config"
)

const cfgDefaultKeyPrefix = "rpcServer"

const (
	cfgKeyServerAddress              = "address"
	cfgKeyServerSelectorThreads      = "selectorThreads"
	cfgKeyServerWorkerThreads        = "workerThreads"
	cfgKeyServerSearchPaths          = "searchPaths"
	cfgKeyServerShutdownTimeout      = "timeouts.shutdown"
	cfgKeyServerKeepaliveTime        = "keepalive.time"
	cfgKeyServerKeepaliveTimeout     = "keepalive.timeout"
	cfgKeyServerKeepaliveMinTime     = "keepalive.minTime"
	cfgKeyServerMaxConcurrentStreams = "limits.maxConcurrentStreams"
	cfgKeyServerMaxRecvMessageSize   = "limits.maxRecvMessageSize"
	cfgKeyServerMaxSendMessageSize   = "limits.maxSendMessageSize"
	cfgKeyServerLogCallStart         = "log.callStart"
	cfgKeyServerLogExcludedMethods   = "log.excludedMethods"
	cfgKeyServerLogSlowCallThreshold = "log.slowCallThreshold"
)

const (
	defaultServerAddress            = ":9090"
	defaultServerSelectorThreads    = 2
	defaultServerWorkerThreads      = 1
	defaultServerShutdownTimeout    = time.Second * 5
	defaultServerKeepaliveTime      = time.Minute * 2
	defaultServerKeepaliveTimeout   = time.Second * 20
	defaultServerMaxRecvMessageSize = 1024 * 1024 * 4 // 4MB
	defaultServerMaxSendMessageSize = 1024 * 1024 * 4 // 4MB
	defaultSlowCallThreshold        = time.Second
)

// Config represents a set of configuration parameters for the Multiplexer.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	config.KeyPrefixed `mapstructure:"-" yaml:"-" json:"-"`

	Address string `mapstructure:"address" yaml:"address" json:"address"`

	// SelectorThreads is kept for configuration compatibility. The gRPC transport owns its I/O goroutines.
	SelectorThreads int `mapstructure:"selectorThreads" yaml:"selectorThreads" json:"selectorThreads"`

	// WorkerThreads is the number of goroutines serving RPC streams. 0 starts a goroutine per stream.
	WorkerThreads int `mapstructure:"workerThreads" yaml:"workerThreads" json:"workerThreads"`

	// SearchPaths lists the processor groups loaded on start.
	SearchPaths []string `mapstructure:"searchPaths" yaml:"searchPaths" json:"searchPaths"`

	Timeouts  TimeoutsConfig  `mapstructure:"timeouts" yaml:"timeouts" json:"timeouts"`
	Keepalive KeepaliveConfig `mapstructure:"keepalive" yaml:"keepalive" json:"keepalive"`
	Limits    LimitsConfig    `mapstructure:"limits" yaml:"limits" json:"limits"`
	Log       LogConfig       `mapstructure:"log" yaml:"log" json:"log"`
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
	cfg.SelectorThreads = defaultServerSelectorThreads
	cfg.WorkerThreads = defaultServerWorkerThreads
	cfg.Timeouts = TimeoutsConfig{
		Shutdown: config.TimeDuration(defaultServerShutdownTimeout),
	}
	cfg.Keepalive = KeepaliveConfig{
		Time:    config.TimeDuration(defaultServerKeepaliveTime),
		Timeout: config.TimeDuration(defaultServerKeepaliveTimeout),
	}
	cfg.Limits = LimitsConfig{
		MaxRecvMessageSize: config.ByteSize(defaultServerMaxRecvMessageSize),
		MaxSendMessageSize: config.ByteSize(defaultServerMaxSendMessageSize),
	}
	cfg.Log = LogConfig{
		SlowCallThreshold: config.TimeDuration(defaultSlowCallThreshold),
	}
	return cfg
}

// SetProviderDefaults sets default configuration values for the Multiplexer in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyServerAddress, defaultServerAddress)
	dp.SetDefault(cfgKeyServerSelectorThreads, defaultServerSelectorThreads)
	dp.SetDefault(cfgKeyServerWorkerThreads, defaultServerWorkerThreads)
	dp.SetDefault(cfgKeyServerShutdownTimeout, defaultServerShutdownTimeout)
	dp.SetDefault(cfgKeyServerKeepaliveTime, defaultServerKeepaliveTime)
	dp.SetDefault(cfgKeyServerKeepaliveTimeout, defaultServerKeepaliveTimeout)
	dp.SetDefault(cfgKeyServerMaxRecvMessageSize, defaultServerMaxRecvMessageSize)
	dp.SetDefault(cfgKeyServerMaxSendMessageSize, defaultServerMaxSendMessageSize)
	dp.SetDefault(cfgKeyServerLogCallStart, false)
	dp.SetDefault(cfgKeyServerLogSlowCallThreshold, defaultSlowCallThreshold)
}

// TimeoutsConfig represents a set of configuration parameters for the Multiplexer relating to timeouts.
type TimeoutsConfig struct {
	Shutdown config.TimeDuration `mapstructure:"shutdown" yaml:"shutdown" json:"shutdown"`
}

// Set sets timeout configuration values from config.DataProvider.
func (t *TimeoutsConfig) Set(dp config.DataProvider) error {
	dur, err := dp.GetDuration(cfgKeyServerShutdownTimeout)
	if err != nil {
		return err
	}
	t.Shutdown = config.TimeDuration(dur)
	return nil
}

// KeepaliveConfig represents a set of configuration parameters for the Multiplexer relating to keepalive.
type KeepaliveConfig struct {
	Time    config.TimeDuration `mapstructure:"time" yaml:"time" json:"time"`
	Timeout config.TimeDuration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	MinTime config.TimeDuration `mapstructure:"minTime" yaml:"minTime" json:"minTime"`
}

// Set sets keepalive configuration values from config.DataProvider.
func (k *KeepaliveConfig) Set(dp config.DataProvider) error {
	var err error
	var dur time.Duration

	if dur, err = dp.GetDuration(cfgKeyServerKeepaliveTime); err != nil {
		return err
	}
	k.Time = config.TimeDuration(dur)

	if dur, err = dp.GetDuration(cfgKeyServerKeepaliveTimeout); err != nil {
		return err
	}
	k.Timeout = config.TimeDuration(dur)

	if dur, err = dp.GetDuration(cfgKeyServerKeepaliveMinTime); err != nil {
		return err
	}
	k.MinTime = config.TimeDuration(dur)

	return nil
}

// LimitsConfig represents a set of configuration parameters for the Multiplexer relating to limits.
type LimitsConfig struct {
	// MaxConcurrentStreams is the maximum number of concurrent streams per connection.
	MaxConcurrentStreams uint32 `mapstructure:"maxConcurrentStreams" yaml:"maxConcurrentStreams" json:"maxConcurrentStreams"`

	// MaxRecvMessageSize is the maximum size of a received message in bytes.
	MaxRecvMessageSize config.ByteSize `mapstructure:"maxRecvMessageSize" yaml:"maxRecvMessageSize" json:"maxRecvMessageSize"`

	// MaxSendMessageSize is the maximum size of a sent message in bytes.
	MaxSendMessageSize config.ByteSize `mapstructure:"maxSendMessageSize" yaml:"maxSendMessageSize" json:"maxSendMessageSize"`
}

// Set sets limit configuration values from config.DataProvider.
func (l *LimitsConfig) Set(dp config.DataProvider) error {
	var err error

	var maxConcurrentStreams int
	if maxConcurrentStreams, err = dp.GetInt(cfgKeyServerMaxConcurrentStreams); err != nil {
		return err
	}
	if maxConcurrentStreams < 0 {
		return dp.WrapKeyErr(cfgKeyServerMaxConcurrentStreams, fmt.Errorf("cannot be negative"))
	}
	l.MaxConcurrentStreams = uint32(maxConcurrentStreams) //nolint:gosec // validated non-negative above

	if l.MaxRecvMessageSize, err = dp.GetByteSize(cfgKeyServerMaxRecvMessageSize); err != nil {
		return err
	}
	if l.MaxSendMessageSize, err = dp.GetByteSize(cfgKeyServerMaxSendMessageSize); err != nil {
		return err
	}

	return nil
}

// LogConfig represents a set of configuration parameters for the Multiplexer relating to logging.
type LogConfig struct {
	CallStart         bool                `mapstructure:"callStart" yaml:"callStart" json:"callStart"`
	ExcludedMethods   []string            `mapstructure:"excludedMethods" yaml:"excludedMethods" json:"excludedMethods"`
	SlowCallThreshold config.TimeDuration `mapstructure:"slowCallThreshold" yaml:"slowCallThreshold" json:"slowCallThreshold"`
}

// Set sets log configuration values from config.DataProvider.
func (l *LogConfig) Set(dp config.DataProvider) error {
	var err error

	if l.CallStart, err = dp.GetBool(cfgKeyServerLogCallStart); err != nil {
		return err
	}
	if l.ExcludedMethods, err = dp.GetStringSlice(cfgKeyServerLogExcludedMethods); err != nil {
		return err
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyServerLogSlowCallThreshold); err != nil {
		return err
	}
	l.SlowCallThreshold = config.TimeDuration(dur)

	return nil
}

// Set sets the Multiplexer configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Address, err = dp.GetString(cfgKeyServerAddress); err != nil {
		return err
	}

	if c.SelectorThreads, err = dp.GetInt(cfgKeyServerSelectorThreads); err != nil {
		return err
	}
	if c.SelectorThreads < 0 {
		return dp.WrapKeyErr(cfgKeyServerSelectorThreads, fmt.Errorf("cannot be negative"))
	}

	if c.WorkerThreads, err = dp.GetInt(cfgKeyServerWorkerThreads); err != nil {
		return err
	}
	if c.WorkerThreads < 0 {
		return dp.WrapKeyErr(cfgKeyServerWorkerThreads, fmt.Errorf("cannot be negative"))
	}

	if c.SearchPaths, err = dp.GetStringSlice(cfgKeyServerSearchPaths); err != nil {
		return err
	}

	if err = c.Timeouts.Set(dp); err != nil {
		return err
	}
	if err = c.Keepalive.Set(dp); err != nil {
		return err
	}
	if err = c.Limits.Set(dp); err != nil {
		return err
	}
	return c.Log.Set(dp)
}
