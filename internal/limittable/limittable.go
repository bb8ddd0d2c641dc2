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

// Package limittable holds the per-flow rate-limit bookkeeping shared by
// the adaptive controller and the QoS programming layer: the immutable
// baseline limits declared at startup, and the mutable current limits the
// controller adjusts each cycle.
package limittable

import (
	"fmt"
	"sort"
	"sync"

	"flowqos/pkg/flowid"
)

// LimitEntry pairs a bits-per-second limit with the queue id it is
// programmed into. queue_id is assigned once, at construction, and never
// changes for the lifetime of the process.
type LimitEntry struct {
	CurrentBps int64
	QueueID    uint32
}

// Tables holds the initial (immutable) and current (controller-mutated)
// limit tables for the declared flow set.
type Tables struct {
	mu      sync.RWMutex
	initial map[flowid.FlowId]LimitEntry
	current map[flowid.FlowId]LimitEntry
	// order preserves the declaration order flows were added in, which is
	// the order queue ids were assigned in.
	order []flowid.FlowId
}

// New builds Tables from the declared flows in declaration order, each
// carrying its configured baseline. Queue ids start at 1 so that matched
// traffic never shares queue 0 with the default, unclassified traffic.
func New(baseline []FlowBaseline) (*Tables, error) {
	t := &Tables{
		initial: make(map[flowid.FlowId]LimitEntry, len(baseline)),
		current: make(map[flowid.FlowId]LimitEntry, len(baseline)),
	}
	for i, b := range baseline {
		if b.BaseRateBps <= 0 {
			return nil, fmt.Errorf("limittable: flow %s has non-positive base_ratelimit %d", b.Flow, b.BaseRateBps)
		}
		if _, dup := t.initial[b.Flow]; dup {
			return nil, fmt.Errorf("limittable: duplicate flow declaration %s", b.Flow)
		}
		entry := LimitEntry{CurrentBps: b.BaseRateBps, QueueID: uint32(i + 1)}
		t.initial[b.Flow] = entry
		t.current[b.Flow] = entry
		t.order = append(t.order, b.Flow)
	}
	return t, nil
}

// FlowBaseline is the declaration-order input to New: a flow and its
// configured baseline rate limit in bits/second.
type FlowBaseline struct {
	Flow        flowid.FlowId
	BaseRateBps int64
}

// Flows returns the declared flows in their original declaration order.
func (t *Tables) Flows() []flowid.FlowId {
	out := make([]flowid.FlowId, len(t.order))
	copy(out, t.order)
	return out
}

// Known reports whether flow was part of the declared set.
func (t *Tables) Known(flow flowid.FlowId) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.initial[flow]
	return ok
}

// Initial returns the baseline limit entry for flow. It never changes
// after New returns.
func (t *Tables) Initial(flow flowid.FlowId) (LimitEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.initial[flow]
	return e, ok
}

// Current returns the currently-programmed limit entry for flow.
func (t *Tables) Current(flow flowid.FlowId) (LimitEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.current[flow]
	return e, ok
}

// SetCurrent updates the current limit for flow, preserving its queue id.
// It is a programming error to call this for a flow not in the declared
// set; callers (the controller) are expected to only ever call Known
// flows.
func (t *Tables) SetCurrent(flow flowid.FlowId, newLimitBps int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.current[flow]
	e.CurrentBps = newLimitBps
	t.current[flow] = e
}

// Snapshot returns a defensive copy of the current limit table, sorted by
// flow for deterministic iteration (used by set_rules' and set_queues'
// request body construction).
func (t *Tables) Snapshot() []FlowLimit {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]FlowLimit, 0, len(t.current))
	for _, f := range t.order {
		out = append(out, FlowLimit{
			Flow:    f,
			Initial: t.initial[f],
			Current: t.current[f],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Flow.IPv4Dst != out[j].Flow.IPv4Dst {
			return out[i].Flow.IPv4Dst < out[j].Flow.IPv4Dst
		}
		return out[i].Flow.UDPDst < out[j].Flow.UDPDst
	})
	return out
}

// FlowLimit bundles a flow with both its initial and current limit
// entries, for reporting and queue programming.
type FlowLimit struct {
	Flow    flowid.FlowId
	Initial LimitEntry
	Current LimitEntry
}
