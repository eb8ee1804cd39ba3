// Copyright 2024 Google LLC
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

package compressfs

import "sync/atomic"

// Stats holds process-wide counters surfaced at unmount.
type Stats struct {
	filesCompressed   atomic.Int64
	filesSkipped      atomic.Int64
	bytesOriginal     atomic.Int64
	bytesCompressed   atomic.Int64
	backgroundFailure atomic.Int64
}

// NewStats returns a zeroed Stats.
func NewStats() *Stats { return &Stats{} }

// RecordCompression updates the counters after a successful background
// compression of originalSize bytes down to compressedSize bytes.
func (s *Stats) RecordCompression(originalSize, compressedSize int64) {
	s.filesCompressed.Add(1)
	s.bytesOriginal.Add(originalSize)
	s.bytesCompressed.Add(compressedSize)
}

// RecordSkipped notes a file the policy rejected as incompressible.
func (s *Stats) RecordSkipped() { s.filesSkipped.Add(1) }

// RecordFailure notes a background compression attempt that errored out.
func (s *Stats) RecordFailure() { s.backgroundFailure.Add(1) }

// StatsSummary is a point-in-time copy of the counters.
type StatsSummary struct {
	FilesCompressed    int64
	FilesSkipped       int64
	BytesOriginal      int64
	BytesCompressed    int64
	BackgroundFailures int64
}

// BytesSaved is the cumulative difference between original and compressed
// size across every file the background compressor has converted.
func (s StatsSummary) BytesSaved() int64 {
	return s.BytesOriginal - s.BytesCompressed
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSummary {
	return StatsSummary{
		FilesCompressed:    s.filesCompressed.Load(),
		FilesSkipped:       s.filesSkipped.Load(),
		BytesOriginal:      s.bytesOriginal.Load(),
		BytesCompressed:    s.bytesCompressed.Load(),
		BackgroundFailures: s.backgroundFailure.Load(),
	}
}
