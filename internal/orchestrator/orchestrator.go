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

// Package orchestrator ties the adaptive controller, the per-switch
// flow-stat managers and the QoS REST API together into the running
// control loop: periodically requesting flow stats, folding replies
// into per-switch stat managers, running adaptation cycles against the
// network-wide maximum per flow, logging per-flow statistics, and
// reacting to switches joining or leaving.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"flowqos/internal/controller"
	"flowqos/internal/limittable"
	"flowqos/internal/qosapi"
	"flowqos/internal/telemetry"
	"flowqos/internal/transport"
	"flowqos/pkg/flowid"
	"flowqos/pkg/flowstat"
)

// logSequenceDelimiter marks the start/stop of a run in the log, the way
// a long-lived network service's boot banner does.
const logSequenceDelimiter = "=================================================="

// Options configures an Orchestrator.
type Options struct {
	TimeStep      time.Duration
	StatLogFormat string // "human" or "csv"
	StatLogPeriod time.Duration
}

// switchRecord is what the orchestrator keeps about an attached datapath:
// an opaque handle (the dpid), the controller-facing name derived from
// its own port list, and the remaining ports that list reported.
type switchRecord struct {
	Handle uint64
	Name   string
	Ports  []string
}

// deriveSwitchRecord turns the raw port list a switch-up event reports
// into a switchRecord. The ports are sorted lexically; the
// lexically-smallest one is the switch's own internal port and becomes
// its controller-facing name, with the remainder kept as its Ports.
func deriveSwitchRecord(ev transport.SwitchUpEvent) switchRecord {
	ports := append([]string(nil), ev.Ports...)
	sort.Strings(ports)

	rec := switchRecord{Handle: ev.Dpid}
	if len(ports) == 0 {
		return rec
	}
	rec.Name = ports[0]
	rec.Ports = ports[1:]
	return rec
}

// Orchestrator owns the live, mutable state of a running control-plane
// process: which switches are attached, their per-flow byte counters,
// and the shared limit tables the controller adjusts.
type Orchestrator struct {
	tables     *limittable.Tables
	controller *controller.Controller
	qos        *qosapi.Client
	events     transport.EventSource
	metrics    *telemetry.Metrics
	log        *zap.SugaredLogger
	opts       Options

	resourceGuard *qosapi.Guard
	adaptGuard    *qosapi.Guard

	mu        sync.RWMutex
	datapaths map[uint64]switchRecord
	stats     map[uint64]*flowstat.Manager

	flowstatWindowSize int
}

// New builds an Orchestrator. flowstatWindowSize sizes every per-switch,
// per-flow stat window created for a newly-attached datapath.
func New(
	tables *limittable.Tables,
	ctrl *controller.Controller,
	qos *qosapi.Client,
	events transport.EventSource,
	metrics *telemetry.Metrics,
	flowstatWindowSize int,
	opts Options,
	log *zap.SugaredLogger,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.TimeStep <= 0 {
		opts.TimeStep = 5 * time.Second
	}
	if opts.StatLogFormat == "" {
		opts.StatLogFormat = "csv"
	}
	if opts.StatLogPeriod <= 0 {
		opts.StatLogPeriod = time.Second
	}
	return &Orchestrator{
		tables:             tables,
		controller:         ctrl,
		qos:                qos,
		events:             events,
		metrics:            metrics,
		log:                log,
		opts:               opts,
		resourceGuard:      qosapi.NewGuard("resource", log),
		adaptGuard:         qosapi.NewGuard("adapt", log),
		datapaths:          make(map[uint64]switchRecord),
		stats:              make(map[uint64]*flowstat.Manager),
		flowstatWindowSize: flowstatWindowSize,
	}
}

// Run starts every background loop and blocks until ctx is cancelled. On
// return, every switch this process knows about has had its flow
// entries cleared.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info(logSequenceDelimiter)
	defer o.log.Info(logSequenceDelimiter)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); o.monitorLoop(ctx) }()
	go func() { defer wg.Done(); o.adaptLoop(ctx) }()
	go func() { defer wg.Done(); o.statLoggerLoop(ctx) }()
	go func() { defer wg.Done(); o.eventLoop(ctx) }()

	<-ctx.Done()
	wg.Wait()

	o.clearAllFlowEntries(context.Background())
	return nil
}

// monitorLoop periodically asks every attached datapath to report its
// flow stats.
func (o *Orchestrator) monitorLoop(ctx context.Context) {
	o.log.Info("network monitoring started")
	defer o.log.Info("network monitoring stopped")

	ticker := time.NewTicker(o.opts.TimeStep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, dpid := range o.knownDatapaths() {
				if err := o.events.RequestFlowStats(dpid); err != nil {
					o.log.Warnw("stats request failed", "dpid", qosapi.DpidHex16(dpid), "error", err)
				}
			}
		}
	}
}

// adaptLoop periodically runs one adaptation cycle against the
// network-wide maximum measured throughput per flow, pushing updated
// queues only when the cycle actually changed a limit.
func (o *Orchestrator) adaptLoop(ctx context.Context) {
	o.log.Info("queue adaptation loop started")
	defer o.log.Info("queue adaptation loop stopped")

	ticker := time.NewTicker(o.opts.TimeStep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runAdaptCycle(ctx)
		}
	}
}

func (o *Orchestrator) runAdaptCycle(ctx context.Context) {
	snapshot := o.maxMeasuredPerFlow()
	if len(snapshot) == 0 {
		return
	}

	err, ran := o.adaptGuard.RunErr(func() error {
		modified, err := o.controller.Adapt(snapshot)
		if o.metrics != nil {
			o.metrics.AdaptCyclesTotal.Inc()
		}
		if err != nil {
			return err
		}
		if o.metrics != nil {
			for _, l := range o.tables.Snapshot() {
				port := udpDstLabel(l.Flow)
				o.metrics.FlowCurrentLimitBps.WithLabelValues(l.Flow.IPv4Dst, port).Set(float64(l.Current.CurrentBps))
				o.metrics.FlowInitialLimitBps.WithLabelValues(l.Flow.IPv4Dst, port).Set(float64(l.Initial.CurrentBps))
			}
		}
		if !modified {
			return nil
		}
		if o.metrics != nil {
			o.metrics.AdaptModifiedTotal.Inc()
		}
		return o.pushQueuesBlocking(ctx, "")
	})
	if !ran {
		return
	}
	if err != nil {
		o.log.Errorw("adaptation cycle failed", "error", err)
	}
}

// maxMeasuredPerFlow accumulates, across every attached switch's stat
// manager, the maximum measured throughput seen for each flow. Using the
// maximum rather than the sum or an average makes adaptation react to
// the worst-congested vantage point, which is what the controller's
// hysteresis band is tuned against.
func (o *Orchestrator) maxMeasuredPerFlow() map[flowid.FlowId]float64 {
	o.mu.RLock()
	managers := make([]*flowstat.Manager, 0, len(o.stats))
	for _, m := range o.stats {
		managers = append(managers, m)
	}
	o.mu.RUnlock()

	out := make(map[flowid.FlowId]float64)
	for _, m := range managers {
		for flow, speed := range m.ExportAvgSpeedsBitsPerSec(flowstat.PrefixNone) {
			if cur, ok := out[flow]; !ok || speed > cur {
				out[flow] = speed
			}
		}
	}
	return out
}

// pushQueuesBlocking programs the current limit table onto dpid (or
// every switch, if dpid is empty), waiting for the resource guard rather
// than skipping - adaptation results must always be pushed.
func (o *Orchestrator) pushQueuesBlocking(ctx context.Context, dpid string) error {
	return o.resourceGuard.RunBlocking(func() error {
		snapshot := o.tables.Snapshot()
		if err := o.qos.SetQueues(ctx, dpid, snapshot); err != nil {
			if o.metrics != nil {
				o.metrics.QosAPIErrorsTotal.WithLabelValues("set_queues").Inc()
			}
			return err
		}
		if o.metrics != nil {
			o.metrics.QueueSetsTotal.Inc()
		}
		return nil
	})
}

// switchName returns the controller-facing name for dpid, falling back
// to its 16-hex-digit form if the switch has not reported its port list
// yet (or has since disconnected).
func (o *Orchestrator) switchName(dpid uint64) string {
	o.mu.RLock()
	rec, ok := o.datapaths[dpid]
	o.mu.RUnlock()
	if !ok || rec.Name == "" {
		return qosapi.DpidHex16(dpid)
	}
	return rec.Name
}

func (o *Orchestrator) knownDatapaths() []uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]uint64, 0, len(o.datapaths))
	for dpid := range o.datapaths {
		out = append(out, dpid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (o *Orchestrator) clearAllFlowEntries(ctx context.Context) {
	for _, dpid := range o.knownDatapaths() {
		if err := o.qos.ClearFlowEntries(ctx, dpid); err != nil {
			o.log.Errorw("failed to clear flow entries", "dpid", qosapi.DpidHex16(dpid), "error", err)
		} else {
			o.log.Infow("cleared flow entries", "dpid", qosapi.DpidHex16(dpid))
		}
	}
}
