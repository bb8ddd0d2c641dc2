// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main provides the entry point for qosd, the adaptive per-flow
// UDP rate limiting control-plane daemon. It loads the flow declarations
// and tuning parameters from a YAML config file, attaches to the SDN
// controller's REST API and event webhook, and runs the control loop
// until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"flowqos/internal/config"
	"flowqos/internal/controller"
	"flowqos/internal/limittable"
	"flowqos/internal/orchestrator"
	"flowqos/internal/qosapi"
	"flowqos/internal/telemetry"
	"flowqos/internal/transport/webhook"
	"flowqos/pkg/flowid"
)

var (
	configFile  = flag.String("config", "", "Path to the YAML config file (falls back to $CONFIG_FILE, then configs/default.yml)")
	eventsAddr  = flag.String("events_addr", ":8081", "Address the controller webhook listens on for switch-up/switch-down/flow-stats-reply events")
	metricsAddr = flag.String("metrics_addr", "", "If non-empty, overrides the config file's metrics_addr and exposes Prometheus /metrics on this address")
	logLevel    = flag.String("log_level", "info", "Log level (debug, info, warn, error)")
)

func getLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func resolveConfigPath() string {
	if *configFile != "" {
		return *configFile
	}
	if env := os.Getenv("CONFIG_FILE"); env != "" {
		return env
	}
	return "configs/default.yml"
}

func main() {
	flag.Parse()

	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(getLogLevel(*logLevel))
	zapLogger, err := logConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	path := resolveConfigPath()
	cfg, err := config.Load(path, log)
	if err != nil {
		log.Errorw("failed to load configuration", "path", path, "error", err)
		os.Exit(1)
	}

	// cfg.Flows already went through flowid.FromRecord inside config.Load,
	// so every entry here is known-valid; this just reshapes it.
	baselines := make([]limittable.FlowBaseline, 0, len(cfg.Flows))
	for _, f := range cfg.Flows {
		baselines = append(baselines, limittable.FlowBaseline{
			Flow:        flowid.FlowId{IPv4Dst: f.IPv4Dst, UDPDst: f.UDPDst},
			BaseRateBps: f.BaseRatelimit,
		})
	}
	tables, err := limittable.New(baselines)
	if err != nil {
		log.Errorw("failed to build limit tables", "error", err)
		os.Exit(1)
	}

	ctrl := controller.New(tables, cfg.LimitStepBps, log)

	qos := qosapi.New(qosapi.Config{
		BaseURL:        cfg.ControllerBaseURL,
		OVSDBAddr:      cfg.OVSDBAddr,
		DefaultMaxRate: cfg.InterfaceMaxRate,
	}, log)

	var metrics *telemetry.Metrics
	effectiveMetricsAddr := cfg.MetricsAddr
	if *metricsAddr != "" {
		effectiveMetricsAddr = *metricsAddr
	}
	if effectiveMetricsAddr != "" {
		metrics = telemetry.New(prometheus.DefaultRegisterer)
	}

	events := webhook.New(*eventsAddr, log)

	o := orchestrator.New(tables, ctrl, qos, events, metrics, cfg.FlowstatWindowSize, orchestrator.Options{
		TimeStep:      time.Duration(cfg.TimeStepSeconds) * time.Second,
		StatLogFormat: cfg.StatLogFormat,
		StatLogPeriod: time.Duration(cfg.TimeStepSeconds) * time.Second,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	run := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				errs <- err
			}
		}()
	}
	run(func() error { return events.Start(ctx) })
	run(func() error { return o.Run(ctx) })
	if metrics != nil {
		run(func() error { return telemetry.ServeMetrics(ctx, effectiveMetricsAddr, prometheus.DefaultGatherer) })
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("received shutdown signal, stopping")
	cancel()
	wg.Wait()
	close(errs)

	failed := false
	for err := range errs {
		log.Errorw("error during shutdown", "error", err)
		failed = true
	}
	if failed {
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
