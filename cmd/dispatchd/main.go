/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Command dispatchd serves the built-in handlers over HTTP and TCP, and the gRPC health service.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/acronis/go-dispatch/config"
	"github.com/acronis/go-dispatch/dispatch"
	"github.com/acronis/go-dispatch/httpserver"
	"github.com/acronis/go-dispatch/log"
	"github.com/acronis/go-dispatch/rpcmux"
	"github.com/acronis/go-dispatch/service"
	"github.com/acronis/go-dispatch/tcpserver"
)

const envVarsPrefix = "DISPATCHD"

type appConfig struct {
	Log        *log.Config
	Dispatcher *dispatch.Config
	Server     *httpserver.Config
	TCPServer  *tcpserver.Config
	RPCServer  *rpcmux.Config
}

func newAppConfig() *appConfig {
	return &appConfig{
		Log:        log.NewDefaultConfig(),
		Dispatcher: dispatch.NewDefaultConfig(),
		Server:     httpserver.NewDefaultConfig(),
		TCPServer:  tcpserver.NewDefaultConfig(),
		RPCServer:  rpcmux.NewDefaultConfig(),
	}
}

// loadConfig reads the YAML file (if any) and environment variables prefixed with DISPATCHD_.
func loadConfig(path string) (*appConfig, error) {
	cfg := newAppConfig()
	loader := config.NewDefaultLoader(envVarsPrefix)
	loader.DataProvider.SetDefault(cfg.Dispatcher.KeyPrefix()+".handlerGroups", []string{coreHandlerGroup})
	cfgs := []config.Config{cfg.Dispatcher, cfg.Server, cfg.TCPServer, cfg.RPCServer}
	if path == "" {
		if err := loader.LoadDefaults(cfg.Log, cfgs...); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err := loader.LoadFromFile(path, config.DataTypeYAML, cfg.Log, cfgs...); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	cfgPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	logger, closeLogger := log.NewLogger(cfg.Log)
	defer closeLogger()

	dispatcher, err := dispatch.New(cfg.Dispatcher, logger, dispatch.Opts{Discoverer: coreCatalog(time.Now)})
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	if err = dispatcher.Start(); err != nil {
		logger.Error("failed to start dispatcher", log.Error(err))
		return fmt.Errorf("start dispatcher: %w", err)
	}
	dispatcher.MustRegisterMetrics()
	defer func() {
		if stopErr := dispatcher.Stop(true); stopErr != nil {
			logger.Error("failed to stop dispatcher", log.Error(stopErr))
		}
		dispatcher.UnregisterMetrics()
	}()

	unit, err := newServersUnit(cfg, logger, dispatcher)
	if err != nil {
		return err
	}
	return service.New(logger, unit).Start()
}

func newServersUnit(cfg *appConfig, logger log.FieldLogger, dispatcher *dispatch.Dispatcher) (service.Unit, error) {
	httpServer, err := httpserver.New(cfg.Server, logger, httpserver.Opts{Dispatcher: dispatcher})
	if err != nil {
		return nil, fmt.Errorf("create HTTP server: %w", err)
	}

	tcpServer, err := tcpserver.New(cfg.TCPServer, logger, dispatcher, tcpserver.Opts{})
	if err != nil {
		return nil, fmt.Errorf("create TCP server: %w", err)
	}

	mux := rpcmux.New(cfg.RPCServer, logger, rpcmux.Opts{})
	healthServer := health.NewServer()
	if err = mux.AddProcessor("", rpcmux.Service{Desc: &healthpb.Health_ServiceDesc, Impl: healthServer}); err != nil {
		return nil, fmt.Errorf("add health processor: %w", err)
	}

	return service.NewCompositeUnit(httpServer, tcpServer, service.NewComponentUnit(mux)), nil
}
