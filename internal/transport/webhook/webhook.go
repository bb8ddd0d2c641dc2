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

// Package webhook is the production transport.EventSource: an HTTP
// server the SDN controller is configured to notify on switch
// connect/disconnect and on flow-stats-reply, mirroring the direction
// qosapi.Client already calls out in - the controller calls in here,
// this process calls out through qosapi.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"flowqos/internal/transport"
	"flowqos/pkg/flowid"
)

// Server receives controller event notifications over HTTP and republishes
// them on transport.EventSource channels for the orchestrator to consume.
type Server struct {
	addr string
	log  *zap.SugaredLogger

	up      chan transport.SwitchUpEvent
	down    chan transport.SwitchDownEvent
	replies chan transport.FlowStatsReplyEvent

	httpServer *http.Server
}

// New creates a Server listening on addr once Start is called. Channel
// buffers are sized generously (64) since a burst of switches
// reconnecting after a controller restart should not be dropped on the
// floor.
func New(addr string, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		addr:    addr,
		log:     log,
		up:      make(chan transport.SwitchUpEvent, 64),
		down:    make(chan transport.SwitchDownEvent, 64),
		replies: make(chan transport.FlowStatsReplyEvent, 64),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/events/switch-up", s.handleSwitchUp)
	mux.HandleFunc("/events/switch-down", s.handleSwitchDown)
	mux.HandleFunc("/events/flow-stats-reply", s.handleFlowStatsReply)
	s.httpServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

func (s *Server) SwitchUp() <-chan transport.SwitchUpEvent             { return s.up }
func (s *Server) SwitchDown() <-chan transport.SwitchDownEvent         { return s.down }
func (s *Server) FlowStatsReplies() <-chan transport.FlowStatsReplyEvent { return s.replies }

// RequestFlowStats is a no-op here: the controller is expected to poll
// every attached switch on its own cadence and push replies to
// /events/flow-stats-reply as they arrive, rather than being asked per
// datapath by this process.
func (s *Server) RequestFlowStats(dpid uint64) error { return nil }

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		close(s.up)
		close(s.down)
		close(s.replies)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

type switchEventBody struct {
	Dpid  uint64   `json:"dpid"`
	Ports []string `json:"ports"`
}

func (s *Server) handleSwitchUp(w http.ResponseWriter, r *http.Request) {
	var body switchEventBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
		return
	}
	s.up <- transport.SwitchUpEvent{Dpid: body.Dpid, Ports: body.Ports}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSwitchDown(w http.ResponseWriter, r *http.Request) {
	var body switchEventBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
		return
	}
	s.down <- transport.SwitchDownEvent{Dpid: body.Dpid}
	w.WriteHeader(http.StatusAccepted)
}

type flowStatsReplyBody struct {
	Dpid    uint64 `json:"dpid"`
	Entries []struct {
		IPv4Dst   string `json:"ipv4_dst"`
		UDPDst    string `json:"udp_dst"`
		ByteCount uint64 `json:"byte_count"`
		Priority  int    `json:"priority"`
		TableID   int    `json:"table_id"`
	} `json:"entries"`
}

// handleFlowStatsReply mirrors the original controller's filter: only
// priority-1, table-0 entries (the ones this process installs) are kept.
func (s *Server) handleFlowStatsReply(w http.ResponseWriter, r *http.Request) {
	var body flowStatsReplyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
		return
	}

	entries := make([]transport.FlowStatEntryWire, 0, len(body.Entries))
	for _, e := range body.Entries {
		if e.Priority != 1 || e.TableID != 0 {
			continue
		}
		udpDst, err := strconv.ParseUint(e.UDPDst, 10, 16)
		if err != nil {
			s.log.Warnw("skipping flow stat entry with invalid udp_dst", "dpid", body.Dpid, "udp_dst", e.UDPDst)
			continue
		}
		entries = append(entries, transport.FlowStatEntryWire{
			Flow:      flowid.FlowId{IPv4Dst: e.IPv4Dst, UDPDst: uint16(udpDst)},
			ByteCount: e.ByteCount,
		})
	}

	s.replies <- transport.FlowStatsReplyEvent{Dpid: body.Dpid, Entries: entries}
	w.WriteHeader(http.StatusAccepted)
}
