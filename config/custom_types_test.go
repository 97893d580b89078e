/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type testLimitsConfig struct {
	MaxBodySize ByteSize     `mapstructure:"maxBodySize" yaml:"maxBodySize" json:"maxBodySize"`
	Idle        TimeDuration `mapstructure:"idle" yaml:"idle" json:"idle"`
}

func TestByteSize(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var cfg testLimitsConfig
		require.NoError(t, json.Unmarshal([]byte(`{"maxBodySize":"1M","idle":"2s"}`), &cfg))
		require.Equal(t, ByteSize(1024*1024), cfg.MaxBodySize)
		require.Equal(t, TimeDuration(2*time.Second), cfg.Idle)

		require.NoError(t, json.Unmarshal([]byte(`{"maxBodySize":2048,"idle":1000}`), &cfg))
		require.Equal(t, ByteSize(2048), cfg.MaxBodySize)
		require.Equal(t, TimeDuration(1000), cfg.Idle)

		require.Error(t, json.Unmarshal([]byte(`{"maxBodySize":-1}`), &cfg))
	})

	t.Run("yaml", func(t *testing.T) {
		var cfg testLimitsConfig
		require.NoError(t, yaml.Unmarshal([]byte("maxBodySize: 16Ki\nidle: 1m\n"), &cfg))
		require.Equal(t, ByteSize(16*1024), cfg.MaxBodySize)
		require.Equal(t, TimeDuration(time.Minute), cfg.Idle)

		require.Error(t, yaml.Unmarshal([]byte("idle: forever\n"), &cfg))
	})

	t.Run("mapstructure", func(t *testing.T) {
		va := NewViperAdapter()
		require.NoError(t, va.SetFromReader(bytes.NewBufferString("limits:\n  maxBodySize: 4K\n  idle: 30s\n"), DataTypeYAML))
		var cfg testLimitsConfig
		require.NoError(t, va.UnmarshalKey("limits", &cfg))
		require.Equal(t, ByteSize(4096), cfg.MaxBodySize)
		require.Equal(t, TimeDuration(30*time.Second), cfg.Idle)
	})

	t.Run("string", func(t *testing.T) {
		require.Equal(t, "1M", ByteSize(1024*1024).String())
		require.Equal(t, "1m30s", TimeDuration(90*time.Second).String())
	})
}
