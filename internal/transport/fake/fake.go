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

// Package fake is a test-only transport.EventSource: a switch panel a
// test can drive by hand, with no real OpenFlow/OVSDB connection behind
// it.
package fake

import (
	"fmt"
	"sync"

	"flowqos/internal/transport"
)

// Source is an in-memory transport.EventSource. Tests call PushSwitchUp,
// PushSwitchDown and PushFlowStatsReply to simulate controller events;
// RequestFlowStats calls are recorded for assertions instead of
// triggering any real request.
type Source struct {
	up      chan transport.SwitchUpEvent
	down    chan transport.SwitchDownEvent
	replies chan transport.FlowStatsReplyEvent

	mu               sync.Mutex
	statRequests     []uint64
	failStatsRequest map[uint64]bool
}

// New creates a Source with reasonably sized buffers so a test driving
// it from the same goroutine that reads from it does not deadlock for
// small event counts.
func New() *Source {
	return &Source{
		up:               make(chan transport.SwitchUpEvent, 16),
		down:             make(chan transport.SwitchDownEvent, 16),
		replies:          make(chan transport.FlowStatsReplyEvent, 16),
		failStatsRequest: make(map[uint64]bool),
	}
}

func (s *Source) SwitchUp() <-chan transport.SwitchUpEvent             { return s.up }
func (s *Source) SwitchDown() <-chan transport.SwitchDownEvent         { return s.down }
func (s *Source) FlowStatsReplies() <-chan transport.FlowStatsReplyEvent { return s.replies }

// RequestFlowStats records the request for later assertion and fails if
// the dpid was registered via FailStatsRequest.
func (s *Source) RequestFlowStats(dpid uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statRequests = append(s.statRequests, dpid)
	if s.failStatsRequest[dpid] {
		return fmt.Errorf("fake: stats request to %016x configured to fail", dpid)
	}
	return nil
}

// FailStatsRequest makes future RequestFlowStats calls for dpid return
// an error, simulating an unreachable or disconnected switch.
func (s *Source) FailStatsRequest(dpid uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatsRequest[dpid] = true
}

// StatRequests returns the dpids RequestFlowStats has been called with,
// in call order.
func (s *Source) StatRequests() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.statRequests))
	copy(out, s.statRequests)
	return out
}

// PushSwitchUp simulates dpid completing its handshake.
func (s *Source) PushSwitchUp(dpid uint64, ports []string) {
	s.up <- transport.SwitchUpEvent{Dpid: dpid, Ports: ports}
}

// PushSwitchDown simulates dpid disconnecting.
func (s *Source) PushSwitchDown(dpid uint64) {
	s.down <- transport.SwitchDownEvent{Dpid: dpid}
}

// PushFlowStatsReply simulates dpid answering a stats request.
func (s *Source) PushFlowStatsReply(dpid uint64, entries []transport.FlowStatEntryWire) {
	s.replies <- transport.FlowStatsReplyEvent{Dpid: dpid, Entries: entries}
}

// Close releases the event channels. Safe to call once, after the test
// is done driving the source.
func (s *Source) Close() {
	close(s.up)
	close(s.down)
	close(s.replies)
}
