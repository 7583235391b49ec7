// Copyright (c) 2020 SAP SE or an SAP affiliate company. All rights reserved. This file is licensed under the Apache Software License, v. 2 except as noted otherwise in the LICENSE file
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import "sync"

// WindowedCounter smooths a bursty counter over a fixed number of ticks:
// each Tick rotates a ring buffer of per-interval counts, subtracting the
// interval it is about to overwrite from the running total and adding
// whatever was accumulated since the previous tick. It reports a moving
// sum over the last `intervals` ticks rather than an instantaneous rate,
// so a single noisy second does not make a dashboard alert flap.
//
// Adapted from the per-host counter smoothing in one_label_metric.go;
// generalized here to a single counter (this agent reports per-plugin
// totals through plain prometheus Counters, so the original's per-label
// map is not needed). Nothing outside pkg/metrics uses it: pkg/pipeline
// reports only the plain per-plugin Counters.
type WindowedCounter struct {
	mu      sync.Mutex
	window  []int64
	index   int
	total   int64
	current int64
}

// NewWindowedCounter creates a counter smoothed over the given number of
// ticks. intervals must be at least 1.
func NewWindowedCounter(intervals int) *WindowedCounter {
	if intervals < 1 {
		intervals = 1
	}
	return &WindowedCounter{window: make([]int64, intervals), index: -1}
}

// Add accumulates n into the interval currently being built; it does not
// take effect in Total until the next Tick.
func (w *WindowedCounter) Add(n int64) {
	w.mu.Lock()
	w.current += n
	w.mu.Unlock()
}

// Tick rotates the window by one interval and returns the new moving
// total.
func (w *WindowedCounter) Tick() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.index++
	if w.index == len(w.window) {
		w.index = 0
	}

	w.total -= w.window[w.index]
	w.total += w.current
	w.window[w.index] = w.current
	w.current = 0

	return w.total
}

// Total returns the moving total as of the last Tick, without rotating.
func (w *WindowedCounter) Total() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}
