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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedClockNowIsFrozen(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sc := NewSimulatedClock(start)

	assert.Equal(t, start, sc.Now())

	sc.AdvanceTime(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), sc.Now())
}

func TestSimulatedClockAfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sc := NewSimulatedClock(start)

	ch := sc.After(time.Minute)
	select {
	case <-ch:
		t.Fatal("After fired before the simulated time advanced")
	default:
	}

	sc.AdvanceTime(time.Minute)
	select {
	case fired := <-ch:
		assert.Equal(t, start.Add(time.Minute), fired)
	default:
		t.Fatal("After did not fire once the target time was reached")
	}
}

func TestSimulatedClockAfterNonPositiveFiresImmediately(t *testing.T) {
	sc := NewSimulatedClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	select {
	case <-sc.After(0):
	default:
		t.Fatal("After(0) must fire immediately")
	}
}

func TestFakeClockAfterUsesConfiguredWait(t *testing.T) {
	fc := &FakeClock{WaitTime: time.Millisecond}

	select {
	case <-fc.After(time.Hour):
	case <-time.After(time.Second):
		t.Fatal("FakeClock.After must fire after WaitTime, not the requested duration")
	}
	require.WithinDuration(t, time.Now(), fc.Now(), time.Second)
}
