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

// Package transport decouples the orchestrator from the specific
// OpenFlow/OVSDB event source it runs against: a switch connecting or
// disconnecting, and a flow-stats-reply arriving in response to a
// periodic stats request. The production EventSource wraps the SDN
// controller's own event-notification channel; tests use the fake
// implementation in transport/fake.
package transport

import "flowqos/pkg/flowid"

// SwitchUpEvent fires when a datapath completes its OpenFlow handshake
// and becomes eligible for QoS programming.
type SwitchUpEvent struct {
	Dpid uint64
	// Ports lists every port name the datapath reported, unsorted and
	// including its own internal port. The orchestrator derives the
	// switch's controller-facing name and filtered port list from this
	// by sorting and peeling off the lexically-smallest entry.
	Ports []string
}

// SwitchDownEvent fires when a previously-registered datapath
// disconnects.
type SwitchDownEvent struct {
	Dpid uint64
}

// FlowStatEntryWire is one row of an OpenFlow flow-stats-reply body,
// filtered down to what the adaptive controller needs: the flow it
// matches and the cumulative byte count the switch has seen hit that
// rule.
type FlowStatEntryWire struct {
	Flow      flowid.FlowId
	ByteCount uint64
}

// FlowStatsReplyEvent fires when a datapath answers a flow-stats
// request. Entries is pre-filtered by the transport to priority-1,
// table-0 rules (the ones this process installs), so callers never see
// unrelated flow-table entries. Entries keep the order the switch
// reported them in.
type FlowStatsReplyEvent struct {
	Dpid    uint64
	Entries []FlowStatEntryWire
}

// EventSource is the subset of the controller's asynchronous event feed
// the orchestrator depends on. Implementations deliver events on
// buffered channels. The webhook implementation closes its channels once
// the context passed to its Start is done; the fake implementation closes
// them only when Close is called.
type EventSource interface {
	SwitchUp() <-chan SwitchUpEvent
	SwitchDown() <-chan SwitchDownEvent
	FlowStatsReplies() <-chan FlowStatsReplyEvent

	// RequestFlowStats asks dpid to emit a FlowStatsReplyEvent. It does
	// not block for the reply; the reply arrives later on
	// FlowStatsReplies.
	RequestFlowStats(dpid uint64) error
}
