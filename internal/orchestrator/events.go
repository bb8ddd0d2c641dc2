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

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"flowqos/internal/qosapi"
	"flowqos/internal/transport"
	"flowqos/pkg/flowid"
	"flowqos/pkg/flowstat"
)

// nowSeconds returns the current time as a float64 Unix timestamp, the
// unit flowstat.FlowStat.Put expects.
func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// eventLoop dispatches switch connect/disconnect and flow-stats-reply
// events for as long as ctx is alive.
func (o *Orchestrator) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-o.events.SwitchUp():
			if !ok {
				return
			}
			o.handleSwitchUp(ctx, ev)
		case ev, ok := <-o.events.SwitchDown():
			if !ok {
				return
			}
			o.handleSwitchDown(ev)
		case ev, ok := <-o.events.FlowStatsReplies():
			if !ok {
				return
			}
			o.handleFlowStatsReply(ev)
		}
	}
}

// handleSwitchUp registers a newly-connected datapath and programs it:
// the OVSDB address and match rules are set synchronously (a switch with
// no rules cannot be monitored or limited), while the initial queue
// programming is best-effort, since an in-flight adapt cycle will
// eventually push the same queues anyway.
func (o *Orchestrator) handleSwitchUp(ctx context.Context, ev transport.SwitchUpEvent) {
	rec := deriveSwitchRecord(ev)

	o.mu.Lock()
	if _, exists := o.datapaths[ev.Dpid]; exists {
		o.mu.Unlock()
		return
	}
	o.datapaths[ev.Dpid] = rec
	o.stats[ev.Dpid] = flowstat.NewManager(o.flowstatWindowSize)
	o.mu.Unlock()

	dpidHex := qosapi.DpidHex16(ev.Dpid)
	o.log.Debugw("register datapath", "dpid", dpidHex, "name", rec.Name, "ports", rec.Ports)
	if o.metrics != nil {
		o.metrics.SwitchesConnected.Inc()
	}

	if err := o.resourceGuard.RunBlocking(func() error {
		return o.qos.SetOVSDBAddr(ctx, dpidHex)
	}); err != nil {
		o.log.Errorw("set_ovsdb_addr failed", "dpid", dpidHex, "error", err)
		if o.metrics != nil {
			o.metrics.QosAPIErrorsTotal.WithLabelValues("set_ovsdb_addr").Inc()
		}
	}

	if err := o.resourceGuard.RunBlocking(func() error {
		return o.qos.SetRules(ctx, dpidHex, o.tables.Snapshot())
	}); err != nil {
		o.log.Errorw("set_rules failed", "dpid", dpidHex, "error", err)
		if o.metrics != nil {
			o.metrics.QosAPIErrorsTotal.WithLabelValues("set_rules").Inc()
		}
	}

	if err, ran := o.resourceGuard.RunErr(func() error {
		return o.qos.SetQueues(ctx, dpidHex, o.tables.Snapshot())
	}); ran && err != nil {
		o.log.Errorw("set_queues failed", "dpid", dpidHex, "error", err)
		if o.metrics != nil {
			o.metrics.QosAPIErrorsTotal.WithLabelValues("set_queues").Inc()
		}
	} else if ran && o.metrics != nil {
		o.metrics.QueueSetsTotal.Inc()
	}
}

func (o *Orchestrator) handleSwitchDown(ev transport.SwitchDownEvent) {
	o.mu.Lock()
	_, exists := o.datapaths[ev.Dpid]
	delete(o.datapaths, ev.Dpid)
	delete(o.stats, ev.Dpid)
	o.mu.Unlock()

	if !exists {
		return
	}
	o.log.Debugw("unregister datapath", "dpid", qosapi.DpidHex16(ev.Dpid))
	if o.metrics != nil {
		o.metrics.SwitchesConnected.Dec()
	}
}

// handleFlowStatsReply folds a switch's reported byte counters into its
// stat manager. byte_count is the count of bytes that matched the rule,
// not the count of bytes actually transmitted through the queue - that
// distinction does not matter here, since the controller only cares
// about relative growth between samples.
func (o *Orchestrator) handleFlowStatsReply(ev transport.FlowStatsReplyEvent) {
	o.mu.RLock()
	mgr, ok := o.stats[ev.Dpid]
	o.mu.RUnlock()
	if !ok {
		return
	}

	for _, entry := range ev.Entries {
		if err := mgr.Put(entry.Flow, entry.ByteCount, nowSeconds()); err != nil {
			o.log.Warnw("rejected flow stat sample", "dpid", qosapi.DpidHex16(ev.Dpid),
				"flow", entry.Flow.String(), "error", err)
			if o.metrics != nil {
				o.metrics.FlowStatsRejected.Inc()
			}
			continue
		}
		if o.metrics == nil {
			continue
		}
		if fs, err := mgr.Get(entry.Flow); err == nil {
			o.metrics.FlowMeasuredBps.
				WithLabelValues(entry.Flow.IPv4Dst, udpDstLabel(entry.Flow)).
				Set(fs.AvgSpeedBitsPerSec(flowstat.PrefixNone))
		}
	}
}

func udpDstLabel(f flowid.FlowId) string {
	return fmt.Sprintf("%d", f.UDPDst)
}
