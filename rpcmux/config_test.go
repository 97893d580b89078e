/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package rpcmux

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"

	"github.com/acronis/go-dispatch/config"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfig(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

type AppConfig struct {
	RPCServer *Config `mapstructure:"rpcServer" json:"rpcServer" yaml:"rpcServer"`
}

func (s *ConfigTestSuite) TestConfig() {
	expectedCfg := func() *Config {
		cfg := NewDefaultConfig()
		cfg.Address = "127.0.0.1:9090"
		cfg.SelectorThreads = 4
		cfg.WorkerThreads = 8
		cfg.SearchPaths = []string{"health", "admin"}
		cfg.Timeouts.Shutdown = config.TimeDuration(30 * time.Second)
		cfg.Keepalive.Time = config.TimeDuration(5 * time.Minute)
		cfg.Keepalive.Timeout = config.TimeDuration(1 * time.Minute)
		cfg.Keepalive.MinTime = config.TimeDuration(30 * time.Second)
		cfg.Limits.MaxConcurrentStreams = 100
		cfg.Limits.MaxRecvMessageSize = config.ByteSize(8 * 1024 * 1024)
		cfg.Limits.MaxSendMessageSize = config.ByteSize(8 * 1024 * 1024)
		cfg.Log.CallStart = true
		cfg.Log.ExcludedMethods = []string{"/grpc.health.v1.Health/Check"}
		cfg.Log.SlowCallThreshold = config.TimeDuration(2 * time.Second)
		return cfg
	}
	tests := []struct {
		name        string
		cfgDataType config.DataType
		cfgData     string
	}{
		{
			name:        "yaml config",
			cfgDataType: config.DataTypeYAML,
			cfgData: `
rpcServer:
  address: "127.0.0.1:9090"
  selectorThreads: 4
  workerThreads: 8
  searchPaths: [health, admin]
  timeouts:
    shutdown: 30s
  keepalive:
    time: 5m
    timeout: 1m
    minTime: 30s
  limits:
    maxConcurrentStreams: 100
    maxRecvMessageSize: 8M
    maxSendMessageSize: 8M
  log:
    callStart: true
    excludedMethods:
      - "/grpc.health.v1.Health/Check"
    slowCallThreshold: 2s
`,
		},
		{
			name:        "json config",
			cfgDataType: config.DataTypeJSON,
			cfgData: `
{
	"rpcServer": {
		"address": "127.0.0.1:9090",
		"selectorThreads": 4,
		"workerThreads": 8,
		"searchPaths": ["health", "admin"],
		"timeouts": {"shutdown": "30s"},
		"keepalive": {"time": "5m", "timeout": "1m", "minTime": "30s"},
		"limits": {
			"maxConcurrentStreams": 100,
			"maxRecvMessageSize": "8M",
			"maxSendMessageSize": "8M"
		},
		"log": {
			"callStart": true,
			"excludedMethods": ["/grpc.health.v1.Health/Check"],
			"slowCallThreshold": "2s"
		}
	}
}`,
		},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			// Load config using config.Loader.
			appCfg := AppConfig{RPCServer: NewDefaultConfig()}
			cfgLoader := config.NewLoader(config.NewViperAdapter())
			err := cfgLoader.LoadFromReader(bytes.NewBuffer([]byte(tt.cfgData)), tt.cfgDataType, appCfg.RPCServer)
			s.Require().NoError(err)
			s.Require().Equal(AppConfig{RPCServer: expectedCfg()}, appCfg)

			// Load config using yaml/json unmarshal.
			appCfg = AppConfig{RPCServer: NewDefaultConfig()}
			switch tt.cfgDataType {
			case config.DataTypeYAML:
				s.Require().NoError(yaml.Unmarshal([]byte(tt.cfgData), &appCfg))
			case config.DataTypeJSON:
				s.Require().NoError(json.Unmarshal([]byte(tt.cfgData), &appCfg))
			default:
				s.T().Fatalf("unsupported config data type: %s", tt.cfgDataType)
			}
			s.Require().Equal(AppConfig{RPCServer: expectedCfg()}, appCfg)
		})
	}
}

func (s *ConfigTestSuite) TestNewDefaultConfig() {
	// Empty config, all defaults for the data provider should be used
	cfg := NewConfig()
	s.Require().NoError(config.NewDefaultLoader("").LoadFromReader(bytes.NewBuffer(nil), config.DataTypeYAML, cfg))
	s.Require().Equal(NewDefaultConfig(), cfg)

	s.Require().Equal(defaultServerSelectorThreads, cfg.SelectorThreads)
	s.Require().Equal(defaultServerWorkerThreads, cfg.WorkerThreads)
	s.Require().Equal(cfgDefaultKeyPrefix, cfg.KeyPrefix())
}

func (s *ConfigTestSuite) TestWithKeyPrefix() {
	cfgData := `
customRPCServer:
  address: "127.0.0.1:9999"
`
	expectedCfg := NewDefaultConfig(config.WithKeyPrefix("customRPCServer"))
	expectedCfg.Address = "127.0.0.1:9999"

	cfg := NewConfig(config.WithKeyPrefix("customRPCServer"))
	err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(bytes.NewBuffer([]byte(cfgData)), config.DataTypeYAML, cfg)
	s.Require().NoError(err)
	s.Require().Equal(expectedCfg, cfg)
}

func (s *ConfigTestSuite) TestConfigValidationErrors() {
	tests := []struct {
		name           string
		yamlData       string
		expectedErrMsg string
	}{
		{
			name:           "error, invalid address",
			yamlData:       "rpcServer:\n  address: []\n",
			expectedErrMsg: `rpcServer.address: unable to cast`,
		},
		{
			name:           "error, negative worker threads",
			yamlData:       "rpcServer:\n  workerThreads: -1\n",
			expectedErrMsg: `rpcServer.workerThreads: cannot be negative`,
		},
		{
			name:           "error, invalid timeout duration",
			yamlData:       "rpcServer:\n  timeouts:\n    shutdown: invalid-duration\n",
			expectedErrMsg: `rpcServer.timeouts.shutdown: time: invalid duration`,
		},
		{
			name:           "error, negative maxConcurrentStreams",
			yamlData:       "rpcServer:\n  limits:\n    maxConcurrentStreams: -1\n",
			expectedErrMsg: `rpcServer.limits.maxConcurrentStreams: cannot be negative`,
		},
		{
			name:           "error, invalid byte size",
			yamlData:       "rpcServer:\n  limits:\n    maxRecvMessageSize: invalid-size\n",
			expectedErrMsg: `rpcServer.limits.maxRecvMessageSize`,
		},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			cfg := NewConfig()
			err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(bytes.NewBuffer([]byte(tt.yamlData)), config.DataTypeYAML, cfg)
			s.Require().ErrorContains(err, tt.expectedErrMsg)
		})
	}
}
