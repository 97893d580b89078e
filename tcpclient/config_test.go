/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package tcpclient

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dispatch/config"
	"github.com/acronis/go-dispatch/retry"
)

func TestConfig(t *testing.T) {
	cfgData := `
tcpClient:
  address: "127.0.0.1:9000"
  dialTimeout: 2s
  maxFrameSize: 4K
  reconnect:
    strategy: constant
    interval: 50ms
    maxAttempts: 10
`
	cfg := NewConfig()
	err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(bytes.NewBufferString(cfgData), config.DataTypeYAML, cfg)
	require.NoError(t, err)

	expectedCfg := NewDefaultConfig()
	expectedCfg.Address = "127.0.0.1:9000"
	expectedCfg.DialTimeout = config.TimeDuration(time.Second * 2)
	expectedCfg.MaxFrameSize = 4 * 1024
	expectedCfg.Reconnect.Strategy = retry.StrategyConstant
	expectedCfg.Reconnect.Interval = config.TimeDuration(time.Millisecond * 50)
	expectedCfg.Reconnect.MaxAttempts = 10
	require.Equal(t, expectedCfg, cfg)

	require.Equal(t, Opts{
		DialTimeout:     time.Second * 2,
		MaxFrameSize:    4 * 1024,
		ReconnectPolicy: retry.NewConstantBackoffPolicy(time.Millisecond*50, 10),
	}, cfg.Opts())
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, config.NewDefaultLoader("").LoadFromReader(bytes.NewBuffer(nil), config.DataTypeYAML, cfg))
	require.Equal(t, NewDefaultConfig(), cfg)
	require.Equal(t, DefaultReconnectPolicy, cfg.Opts().ReconnectPolicy)
}

func TestConfigValidationErrors(t *testing.T) {
	tests := []struct {
		name           string
		yamlData       string
		expectedErrMsg string
	}{
		{
			name:           "error, negative dial timeout",
			yamlData:       "tcpClient:\n  dialTimeout: -1s\n",
			expectedErrMsg: "tcpClient.dialTimeout: cannot be negative",
		},
		{
			name:           "error, unknown reconnect strategy",
			yamlData:       "tcpClient:\n  reconnect:\n    strategy: random\n",
			expectedErrMsg: "tcpClient.reconnect.strategy",
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
