/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package config loads configuration of dispatcher components from files (YAML, JSON)
// and environment variables. Each component describes its own parameters by implementing
// the Config interface, and Loader fills all of them from a single DataProvider.
package config

// Config is a common interface for configuration objects that may be used by Loader.
type Config interface {
	SetProviderDefaults(dp DataProvider)
	Set(dp DataProvider) error
}

// KeyPrefixProvider is an interface for providing key prefix that will be used for configuration parameters.
type KeyPrefixProvider interface {
	KeyPrefix() string
}

// KeyPrefixed is embedded into component configurations to implement KeyPrefixProvider
// with a fallback to the component's default prefix.
type KeyPrefixed struct {
	keyPrefix     string
	defaultPrefix string
}

// NewKeyPrefixed returns KeyPrefixed that uses keyPrefix or defaultPrefix if keyPrefix is empty.
func NewKeyPrefixed(keyPrefix, defaultPrefix string) KeyPrefixed {
	return KeyPrefixed{keyPrefix: keyPrefix, defaultPrefix: defaultPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements KeyPrefixProvider interface.
func (k KeyPrefixed) KeyPrefix() string {
	if k.keyPrefix == "" {
		return k.defaultPrefix
	}
	return k.keyPrefix
}

// Option is a functional option shared by all component configurations.
type Option func(*Options)

// Options holds values collected from Option functions.
type Options struct {
	KeyPrefix string
}

// WithKeyPrefix returns an Option that sets a key prefix for parsing configuration parameters.
// This prefix will be used by Loader.
func WithKeyPrefix(keyPrefix string) Option {
	return func(o *Options) {
		o.KeyPrefix = keyPrefix
	}
}

// ApplyOptions collects options into Options.
func ApplyOptions(options ...Option) Options {
	var opts Options
	for _, opt := range options {
		opt(&opts)
	}
	return opts
}
