// Copyright 2025 Google LLC
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

package clock

import (
	"sync"
	"time"
)

// afterRequest is one wakeup scheduled through SimulatedClock.After that has
// not fired yet.
type afterRequest struct {
	targetTime time.Time
	ch         chan time.Time
}

// SimulatedClock only moves when a test tells it to: Now is frozen between
// SetTime/AdvanceTime calls, and After wakeups fire during the advance that
// crosses their target. It lets a test step the shutdown drain loop beat by
// beat instead of sleeping through real seconds.
type SimulatedClock struct {
	mu      sync.RWMutex
	t       time.Time       // GUARDED_BY(mu)
	pending []*afterRequest // GUARDED_BY(mu)
}

func NewSimulatedClock(startTime time.Time) *SimulatedClock {
	return &SimulatedClock{t: startTime}
}

func (sc *SimulatedClock) Now() time.Time {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	return sc.t
}

// SetTime jumps the clock to t and fires every pending After whose target
// has been reached.
func (sc *SimulatedClock) SetTime(t time.Time) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.t = t
	sc.firePending()
}

// AdvanceTime moves the clock forward by d and fires every pending After
// whose target has been reached.
func (sc *SimulatedClock) AdvanceTime(d time.Duration) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.t = sc.t.Add(d)
	sc.firePending()
}

// After schedules a wakeup d past the current simulated time. A
// non-positive d fires immediately with the current time, matching
// time.After's behavior for the callers that compute a zero remaining wait.
func (sc *SimulatedClock) After(d time.Duration) <-chan time.Time {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	ch := make(chan time.Time, 1)
	target := sc.t.Add(d)

	if !target.After(sc.t) {
		ch <- sc.t
		return ch
	}

	sc.pending = append(sc.pending, &afterRequest{targetTime: target, ch: ch})
	return ch
}

// firePending delivers every scheduled wakeup whose target time the clock
// has reached or passed. The channel is buffered and never closed, so a
// receiver that has moved on does not block the advance. Must be called
// with sc.mu held.
func (sc *SimulatedClock) firePending() {
	var still []*afterRequest

	for _, ar := range sc.pending {
		if !sc.t.Before(ar.targetTime) {
			ar.ch <- ar.targetTime
		} else {
			still = append(still, ar)
		}
	}

	sc.pending = still
}
