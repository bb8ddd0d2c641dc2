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
	"sort"
	"strings"
	"time"

	"flowqos/pkg/flowstat"
)

// statEntry is one row of the periodic stat log: a flow, the switch it
// was measured on, and its current figures in Mb/s.
type statEntry struct {
	dpid         uint64
	switchName   string
	ipv4Dst      string
	udpDst       uint16
	avgSpeedMbps float64
	currentMbps  float64
	initialMbps  float64
}

// statLoggerLoop periodically logs every tracked flow's measured
// throughput alongside its current and initial limits, in either a
// fixed-width human-readable table or CSV rows, selected by
// Options.StatLogFormat.
func (o *Orchestrator) statLoggerLoop(ctx context.Context) {
	ticker := time.NewTicker(o.opts.StatLogPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.logStats()
		}
	}
}

func (o *Orchestrator) logStats() {
	entries := o.collectStatEntries()
	if len(entries) == 0 {
		return
	}

	switch o.opts.StatLogFormat {
	case "human":
		o.logStatsHuman(entries)
	case "csv":
		o.logStatsCSV(entries)
	default:
		o.log.Errorw("invalid stat log format", "format", o.opts.StatLogFormat)
	}
}

func (o *Orchestrator) collectStatEntries() []statEntry {
	o.mu.RLock()
	type snapshot struct {
		dpid uint64
		mgr  *flowstat.Manager
	}
	snaps := make([]snapshot, 0, len(o.stats))
	for dpid, mgr := range o.stats {
		snaps = append(snaps, snapshot{dpid, mgr})
	}
	o.mu.RUnlock()

	var entries []statEntry
	for _, s := range snaps {
		for flow, avgSpeed := range s.mgr.ExportAvgSpeedsBitsPerSec(flowstat.PrefixMega) {
			current, _ := o.controller.CurrentLimit(flow)
			initial, _ := o.controller.InitialLimit(flow)
			entries = append(entries, statEntry{
				dpid:         s.dpid,
				switchName:   o.switchName(s.dpid),
				ipv4Dst:      flow.IPv4Dst,
				udpDst:       flow.UDPDst,
				avgSpeedMbps: avgSpeed,
				currentMbps:  float64(current) / 1e6,
				initialMbps:  float64(initial) / 1e6,
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ipv4Dst != entries[j].ipv4Dst {
			return entries[i].ipv4Dst < entries[j].ipv4Dst
		}
		if entries[i].udpDst != entries[j].udpDst {
			return entries[i].udpDst < entries[j].udpDst
		}
		return entries[i].dpid < entries[j].dpid
	})
	return entries
}

func (o *Orchestrator) logStatsHuman(entries []statEntry) {
	o.log.Info("")
	o.log.Infof("%10s %10s %10s %7s %16s %20s %20s", "switch", "datapath", "ipv4-dst", "udp-dst",
		"avg-speed (Mb/s)", "current limit (Mb/s)", "initial limit (Mb/s)")
	o.log.Infof("%s %s %s %s %s %s %s",
		strings.Repeat("-", 10), strings.Repeat("-", 10), strings.Repeat("-", 10), strings.Repeat("-", 7),
		strings.Repeat("-", 16), strings.Repeat("-", 20), strings.Repeat("-", 20))
	for _, e := range entries {
		o.log.Infof("%10s %10x %10s %7d %16.2f %20.2f %20.2f",
			e.switchName, e.dpid, e.ipv4Dst, e.udpDst, e.avgSpeedMbps, e.currentMbps, e.initialMbps)
	}
}

func (o *Orchestrator) logStatsCSV(entries []statEntry) {
	for _, e := range entries {
		o.log.Infof("%s,%s,%d,%.2f,%.2f,%.2f",
			e.switchName, e.ipv4Dst, e.udpDst, e.avgSpeedMbps, e.currentMbps, e.initialMbps)
	}
}
