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

// Package controller implements the per-cycle adaptive rate-limit
// decision logic: partition declared flows into underused/saturated
// against their baseline, shrink underused flows toward a floor, and
// redistribute the reclaimed budget among saturated flows, gated by
// hysteresis to avoid flapping.
package controller

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"flowqos/internal/limittable"
	"flowqos/pkg/flowid"
)

// ErrUnknownFlow is returned by Adapt when the input snapshot references a
// FlowId that was never declared in configuration. This is treated as a
// programming/wiring error, not a runtime condition to recover from.
var ErrUnknownFlow = errors.New("controller: snapshot references an undeclared flow")

// Controller holds the shared limit tables and the hysteresis band used
// to gate limit updates.
type Controller struct {
	tables    *limittable.Tables
	limitStep int64
	log       *zap.SugaredLogger
}

// New creates a Controller over tables, gating updates with limitStep
// (spec's LIMIT_STEP hysteresis band, in bits/second).
func New(tables *limittable.Tables, limitStep int64, log *zap.SugaredLogger) *Controller {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Controller{tables: tables, limitStep: limitStep, log: log}
}

// Adapt runs one adaptation cycle against snapshot (FlowId -> measured
// bits/second, typically the network-wide per-flow maximum across
// switches). It returns whether any limit was actually mutated, which is
// the signal the caller uses to decide whether to push queues.
func (c *Controller) Adapt(snapshot map[flowid.FlowId]float64) (bool, error) {
	for f := range snapshot {
		if !c.tables.Known(f) {
			return false, fmt.Errorf("%w: %s", ErrUnknownFlow, f)
		}
	}

	var underused, saturated []flowid.FlowId
	for f, measured := range snapshot {
		initial, _ := c.tables.Initial(f)
		if measured < float64(initial.CurrentBps) {
			underused = append(underused, f)
		} else {
			saturated = append(saturated, f)
		}
	}

	modified := false
	var overallGain float64

	for _, f := range underused {
		measured := snapshot[f]
		initial, _ := c.tables.Initial(f)
		baseline := float64(initial.CurrentBps)
		bwStep := 0.1 * baseline

		newLimit := math.Max(math.Ceil(measured/bwStep)*bwStep, baseline/4)

		current, _ := c.tables.Current(f)
		currentBps := float64(current.CurrentBps)

		if math.Abs(measured-currentBps) >= float64(c.limitStep) &&
			c.updateLimit(f, newLimit, currentBps) {
			modified = true
		}

		updated, _ := c.tables.Current(f)
		overallGain += baseline - float64(updated.CurrentBps)
	}

	var gainPerFlow float64
	if len(saturated) > 0 {
		gainPerFlow = overallGain / float64(len(saturated))
	}

	for _, f := range saturated {
		initial, _ := c.tables.Initial(f)
		current, _ := c.tables.Current(f)
		newLimit := float64(initial.CurrentBps) + gainPerFlow
		if c.updateLimit(f, newLimit, float64(current.CurrentBps)) {
			modified = true
		}
	}

	return modified, nil
}

// updateLimit applies newLimit to flow only if it differs from
// currentBps by more than limitStep (the second half of the dual
// hysteresis gate). It reports whether the update was applied.
func (c *Controller) updateLimit(flow flowid.FlowId, newLimit, currentBps float64) bool {
	if math.Abs(newLimit-currentBps) <= float64(c.limitStep) {
		return false
	}
	rounded := int64(newLimit)
	c.tables.SetCurrent(flow, rounded)
	c.log.Infow("flow limit updated", "flow", flow.String(), "new_limit_bps", rounded)
	return true
}

// CurrentLimit returns the currently-programmed limit for flow, in
// bits/second.
func (c *Controller) CurrentLimit(flow flowid.FlowId) (int64, bool) {
	e, ok := c.tables.Current(flow)
	return e.CurrentBps, ok
}

// InitialLimit returns the baseline limit for flow, in bits/second.
func (c *Controller) InitialLimit(flow flowid.FlowId) (int64, bool) {
	e, ok := c.tables.Initial(flow)
	return e.CurrentBps, ok
}

// QueueID returns the stable queue id assigned to flow at construction.
func (c *Controller) QueueID(flow flowid.FlowId) (uint32, bool) {
	e, ok := c.tables.Initial(flow)
	return e.QueueID, ok
}
