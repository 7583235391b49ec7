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

import "time"

// TickerGroup drives a set of WindowedCounters off a single ticker, so a
// pipeline reporting several smoothed rates (events processed, bytes
// flushed, ...) does not spin up one goroutine per counter.
type TickerGroup struct {
	counters []*WindowedCounter
}

// NewTickerGroup creates a group over the given counters.
func NewTickerGroup(counters ...*WindowedCounter) *TickerGroup {
	return &TickerGroup{counters: counters}
}

// Run ticks every counter in the group once per interval until stop is
// closed.
func (g *TickerGroup) Run(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				for _, c := range g.counters {
					c.Tick()
				}
			}
		}
	}()
}
