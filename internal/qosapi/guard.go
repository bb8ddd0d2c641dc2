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

package qosapi

import (
	"sync"

	"go.uber.org/zap"
)

// Guard serializes access to a single named resource with a binary
// semaphore. Under Run and RunErr, a second caller that arrives while the
// first is still in flight is skipped rather than queued, so a slow switch
// never backs up a pile of redundant resource-programming calls behind
// it; RunBlocking callers wait for the holder instead.
//
// This mirrors ThreadedQoSManager's resource_set_sem/adapt_sem pair, one
// Guard per protected resource (queues+rules programming, and the adapt
// cycle).
type Guard struct {
	mu   sync.Mutex
	name string
	log  *zap.SugaredLogger
}

// NewGuard creates a Guard identified by name, used only in log lines to
// tell concurrent guards apart.
func NewGuard(name string, log *zap.SugaredLogger) *Guard {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Guard{name: name, log: log}
}

// Run attempts to acquire the guard and, if successful, runs fn and
// releases it afterward. If the guard is already held, Run logs the
// skip and returns false without running fn.
func (g *Guard) Run(fn func()) (ran bool) {
	if !g.mu.TryLock() {
		g.log.Debugw("skipping operation, resource busy", "guard", g.name)
		return false
	}
	defer g.mu.Unlock()
	fn()
	return true
}

// RunErr is Run for functions that can fail; a skipped call returns (nil,
// false) rather than an error, since "busy, try again next cycle" is not
// itself a failure.
func (g *Guard) RunErr(fn func() error) (err error, ran bool) {
	if !g.mu.TryLock() {
		g.log.Debugw("skipping operation, resource busy", "guard", g.name)
		return nil, false
	}
	defer g.mu.Unlock()
	return fn(), true
}

// RunBlocking waits for the guard to become free, runs fn, and releases
// it. Used where the caller genuinely needs the operation to happen -
// e.g. programming the rules a newly-connected switch needs before any
// traffic can be steered - rather than skipping it when busy.
func (g *Guard) RunBlocking(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}
