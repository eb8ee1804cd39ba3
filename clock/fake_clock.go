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

import "time"

// FakeClock shortens every After to a fixed WaitTime, whatever duration the
// caller asked for. Shutdown tests use it to turn the coordinator's
// one-second drain beat into milliseconds without touching the drain logic.
// Now still reports real time, so timestamps in logs stay sane.
type FakeClock struct {
	WaitTime time.Duration
}

func (mc *FakeClock) Now() time.Time {
	return time.Now()
}

// After fires once WaitTime has elapsed, ignoring d.
func (mc *FakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time)
	go func() {
		time.Sleep(mc.WaitTime)
		ch <- time.Now()
	}()
	return ch
}
