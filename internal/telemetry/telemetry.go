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

// Package telemetry exposes Prometheus instrumentation for the adaptive
// QoS control loop: per-flow limit and measured-throughput gauges, and
// counters for adaptation cycles and QoS API outcomes. All of it is
// additive to the CSV/human stat log the orchestrator already writes;
// nothing here is load-bearing for correctness.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector this process registers. Construct one
// with New and share it across the orchestrator, controller and qosapi
// layers.
type Metrics struct {
	FlowCurrentLimitBps *prometheus.GaugeVec
	FlowInitialLimitBps *prometheus.GaugeVec
	FlowMeasuredBps     *prometheus.GaugeVec

	AdaptCyclesTotal    prometheus.Counter
	AdaptModifiedTotal  prometheus.Counter
	QueueSetsTotal      prometheus.Counter
	QosAPIErrorsTotal   *prometheus.CounterVec
	FlowStatsRejected   prometheus.Counter
	SwitchesConnected   prometheus.Gauge
}

const flowLabelIPv4 = "ipv4_dst"
const flowLabelUDP = "udp_dst"

// New creates and registers every collector against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry across parallel test runs.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FlowCurrentLimitBps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowqos_flow_current_limit_bps",
			Help: "Current programmed rate limit for a flow, in bits per second.",
		}, []string{flowLabelIPv4, flowLabelUDP}),
		FlowInitialLimitBps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowqos_flow_initial_limit_bps",
			Help: "Configured baseline rate limit for a flow, in bits per second.",
		}, []string{flowLabelIPv4, flowLabelUDP}),
		FlowMeasuredBps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowqos_flow_measured_bps",
			Help: "Measured throughput for a flow from the most recent flow-stats sample of any switch, in bits per second.",
		}, []string{flowLabelIPv4, flowLabelUDP}),
		AdaptCyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowqos_adapt_cycles_total",
			Help: "Total number of adaptation cycles run.",
		}),
		AdaptModifiedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowqos_adapt_modified_total",
			Help: "Total number of adaptation cycles that changed at least one limit.",
		}),
		QueueSetsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowqos_queue_sets_total",
			Help: "Total number of set_queues calls the controller accepted.",
		}),
		QosAPIErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowqos_qos_api_errors_total",
			Help: "Total number of QoS API calls that failed, by operation.",
		}, []string{"op"}),
		FlowStatsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowqos_flow_stats_rejected_total",
			Help: "Total number of flow-stats samples rejected for non-monotonic byte counters.",
		}),
		SwitchesConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowqos_switches_connected",
			Help: "Number of datapaths currently registered with the controller.",
		}),
	}
	reg.MustRegister(
		m.FlowCurrentLimitBps,
		m.FlowInitialLimitBps,
		m.FlowMeasuredBps,
		m.AdaptCyclesTotal,
		m.AdaptModifiedTotal,
		m.QueueSetsTotal,
		m.QosAPIErrorsTotal,
		m.FlowStatsRejected,
		m.SwitchesConnected,
	)
	return m
}

// ServeMetrics starts a dedicated HTTP server exposing /metrics on addr
// using reg's gatherer, returning once ctx is cancelled. Call it in its
// own goroutine.
func ServeMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
