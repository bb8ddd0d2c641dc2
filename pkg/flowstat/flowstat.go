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

// Package flowstat provides a thread-safe, in-memory sliding-window
// throughput estimator per flow. It converts cumulative byte counters
// sampled off a switch into smoothed rate samples.
package flowstat

import (
	"errors"
	"fmt"
	"sync"

	"flowqos/pkg/flowid"
)

// DefaultWindowSize is the number of samples retained per flow absent an
// explicit override from configuration.
const DefaultWindowSize = 10

// Prefix scales a byte count into a larger unit when reading averages.
type Prefix int

const (
	PrefixNone Prefix = iota
	PrefixKilo
	PrefixMega
	PrefixGiga
)

func (p Prefix) scale() float64 {
	switch p {
	case PrefixKilo:
		return 1e-3
	case PrefixMega:
		return 1e-6
	case PrefixGiga:
		return 1e-9
	default:
		return 1
	}
}

// ErrNonMonotonic is returned by Put when the sample is smaller than the
// last recorded value, violating the cumulative-counter invariant.
var ErrNonMonotonic = errors.New("flowstat: value is not monotonically non-decreasing")

// Entry is a single sample: a cumulative byte counter and the monotonic
// timestamp (seconds, as a float) it was read at.
type Entry struct {
	Value     uint64
	Timestamp float64
}

// FlowStat is a mutex-guarded ring of up to WindowSize entries, oldest
// first. It rejects negative or non-monotonic samples, matching the
// cumulative-counter invariant that its `Value` field represents.
type FlowStat struct {
	mu         sync.Mutex
	data       []Entry
	windowSize int
}

// New creates a FlowStat with the given window size. A windowSize <= 0
// falls back to DefaultWindowSize.
func New(windowSize int) *FlowStat {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &FlowStat{windowSize: windowSize}
}

// Put appends a new sample. It fails if value is smaller than the last
// recorded value (the counter went backwards). On success, if the window
// would exceed its configured size, the oldest entry is dropped (FIFO).
func (s *FlowStat) Put(value uint64, timestamp float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.data); n > 0 && value < s.data[n-1].Value {
		return fmt.Errorf("%w: got %d, last was %d", ErrNonMonotonic, value, s.data[n-1].Value)
	}

	entry := Entry{Value: value, Timestamp: timestamp}
	if len(s.data) < s.windowSize {
		s.data = append(s.data, entry)
	} else {
		copy(s.data, s.data[1:])
		s.data[len(s.data)-1] = entry
	}
	return nil
}

// AvgBytes returns the mean byte-delta per sample interval over the
// window, scaled by prefix. An empty window returns 0; a single-sample
// window returns that sample's raw value as a warmup value. The
// adaptation loop does not read AvgBytes: its input comes from
// AvgSpeedBitsPerSec, which is 0 for a single-sample window.
func (s *FlowStat) AvgBytes(prefix Prefix) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch len(s.data) {
	case 0:
		return 0
	case 1:
		return float64(s.data[0].Value)
	default:
		n := len(s.data)
		delta := float64(s.data[n-1].Value) - float64(s.data[0].Value)
		return delta * prefix.scale() / float64(n-1)
	}
}

// AvgSpeedBytesPerSec returns (last-first)/duration in bytes/second,
// scaled by prefix. Returns 0 for windows of length <= 1 or when the
// timestamp delta is zero.
func (s *FlowStat) AvgSpeedBytesPerSec(prefix Prefix) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.data)
	if n <= 1 {
		return 0
	}
	dt := s.data[n-1].Timestamp - s.data[0].Timestamp
	if dt == 0 {
		return 0
	}
	delta := float64(s.data[n-1].Value) - float64(s.data[0].Value)
	return delta * prefix.scale() / dt
}

// AvgSpeedBitsPerSec is AvgSpeedBytesPerSec scaled to bits/second.
func (s *FlowStat) AvgSpeedBitsPerSec(prefix Prefix) float64 {
	return s.AvgSpeedBytesPerSec(prefix) * 8
}

// Len reports the number of samples currently held.
func (s *FlowStat) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Manager is a per-switch mapping from FlowId to FlowStat. A new FlowStat
// is created lazily on the first sample seen for a given flow.
type Manager struct {
	mu         sync.RWMutex
	stats      map[flowid.FlowId]*FlowStat
	windowSize int
}

// NewManager creates an empty Manager. windowSize configures every
// FlowStat it lazily creates.
func NewManager(windowSize int) *Manager {
	return &Manager{
		stats:      make(map[flowid.FlowId]*FlowStat),
		windowSize: windowSize,
	}
}

// Put records a sample for flow, creating its FlowStat on first sight.
func (m *Manager) Put(flow flowid.FlowId, value uint64, timestamp float64) error {
	m.mu.RLock()
	fs, ok := m.stats[flow]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		fs, ok = m.stats[flow]
		if !ok {
			fs = New(m.windowSize)
			m.stats[flow] = fs
		}
		m.mu.Unlock()
	}
	return fs.Put(value, timestamp)
}

// ErrNotFound is returned when a flow has never been recorded in this
// Manager. Unlike ErrNonMonotonic, this is a programming error: callers
// normally only query flows they know were declared.
var ErrNotFound = errors.New("flowstat: flow not tracked by this manager")

// Get returns the FlowStat tracked for flow, or ErrNotFound.
func (m *Manager) Get(flow flowid.FlowId) (*FlowStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fs, ok := m.stats[flow]
	if !ok {
		return nil, ErrNotFound
	}
	return fs, nil
}

// ExportAvgSpeedsBitsPerSec returns a snapshot mapping every tracked flow
// to its current AvgSpeedBitsPerSec(prefix). Used by the adaptation loop
// to build its per-cycle input.
func (m *Manager) ExportAvgSpeedsBitsPerSec(prefix Prefix) map[flowid.FlowId]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[flowid.FlowId]float64, len(m.stats))
	for f, fs := range m.stats {
		out[f] = fs.AvgSpeedBitsPerSec(prefix)
	}
	return out
}
