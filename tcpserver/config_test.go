/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package tcpserver

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/acronis/go-dispatch/config"
)

func TestConfig(t *testing.T) {
	cfgData := `
tcpServer:
  address: "127.0.0.1:9100"
  reuseAddr: false
  limits:
    maxFrameSize: 64K
    maxConnections: 10
    messagesPerSecond: 100
    writeQueueSize: 8
  timeouts:
    idle: 1m
    write: 3s
    shutdown: 1s
`
	expectedCfg := NewDefaultConfig()
	expectedCfg.Address = "127.0.0.1:9100"
	expectedCfg.ReuseAddr = false
	expectedCfg.Limits = LimitsConfig{
		MaxFrameSize:      64 * 1024,
		MaxConnections:    10,
		MessagesPerSecond: 100,
		WriteQueueSize:    8,
	}
	expectedCfg.Timeouts = TimeoutsConfig{
		Idle:     config.TimeDuration(time.Minute),
		Write:    config.TimeDuration(time.Second * 3),
		Shutdown: config.TimeDuration(time.Second),
	}

	cfg := NewConfig()
	err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(bytes.NewBufferString(cfgData), config.DataTypeYAML, cfg)
	require.NoError(t, err)
	require.Equal(t, expectedCfg, cfg)

	var appCfg struct {
		Server *Config `yaml:"tcpServer"`
	}
	appCfg.Server = NewDefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte(cfgData), &appCfg))
	require.Equal(t, expectedCfg, appCfg.Server)
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, config.NewDefaultLoader("").LoadFromReader(bytes.NewBuffer(nil), config.DataTypeYAML, cfg))
	require.Equal(t, NewDefaultConfig(), cfg)
}

func TestConfigValidationErrors(t *testing.T) {
	tests := []struct {
		name           string
		yamlData       string
		expectedErrMsg string
	}{
		{
			name: "error, empty address",
			yamlData: `
tcpServer:
  address: ""
`,
			expectedErrMsg: `tcpServer.address: cannot be empty`,
		},
		{
			name: "error, frame size is too small",
			yamlData: `
tcpServer:
  limits:
    maxFrameSize: 2
`,
			expectedErrMsg: `tcpServer.limits.maxFrameSize: must be in range`,
		},
		{
			name: "error, negative max connections",
			yamlData: `
tcpServer:
  limits:
    maxConnections: -1
`,
			expectedErrMsg: `tcpServer.limits.maxConnections: cannot be negative`,
		},
		{
			name: "error, negative messages per second",
			yamlData: `
tcpServer:
  limits:
    messagesPerSecond: -5
`,
			expectedErrMsg: `tcpServer.limits.messagesPerSecond: cannot be negative`,
		},
		{
			name: "error, zero write queue",
			yamlData: `
tcpServer:
  limits:
    writeQueueSize: 0
`,
			expectedErrMsg: `tcpServer.limits.writeQueueSize: must be positive`,
		},
		{
			name: "error, invalid idle timeout",
			yamlData: `
tcpServer:
  timeouts:
    idle: soon
`,
			expectedErrMsg: `tcpServer.timeouts.idle`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(bytes.NewBufferString(tt.yamlData), config.DataTypeYAML, cfg)
			require.ErrorContains(t, err, tt.expectedErrMsg)
		})
	}
}
