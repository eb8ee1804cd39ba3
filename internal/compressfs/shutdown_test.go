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

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jacobsa/compressfs/cfg"
	"github.com/jacobsa/compressfs/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownWaitsForQueuedCompression(t *testing.T) {
	e, root := newTestEngine(t, cfg.CodecGzip)
	path := filepath.Join(root, "pending")
	payload := make([]byte, 256*1024)
	for i := range payload {
		payload[i] = byte(i % 7)
	}
	require.NoError(t, os.WriteFile(path, payload, 0644))

	d, err := e.Open(context.Background(), "pending", FlagRead)
	require.NoError(t, err)
	e.Release(d)

	// A fake clock turns the one-second drain beat into a few milliseconds.
	coordinator := NewShutdownCoordinator(e, &clock.FakeClock{WaitTime: 5 * time.Millisecond})
	require.NoError(t, coordinator.Run(context.Background()))

	// After an uninterrupted drain the backing file must be a complete
	// compressed blob with a matching header.
	assert.True(t, hasMagic(t, path))
	got := make([]byte, len(payload))
	n, err := ReadAt(path, 0, got)
	require.NoError(t, err)
	assert.Equal(t, payload, got[:n])
	assert.True(t, e.Idle())
	assert.EqualValues(t, 1, e.Stats().FilesCompressed)
}

func TestShutdownCancelLeavesRawFileIntact(t *testing.T) {
	e, root := newTestEngine(t, cfg.CodecGzip)
	path := filepath.Join(root, "huge")
	payload := make([]byte, 128*1024)
	require.NoError(t, os.WriteFile(path, payload, 0644))

	d, err := e.Open(context.Background(), "huge", FlagRead)
	require.NoError(t, err)

	// Cancel before the work can run: a pre-cancelled context makes the
	// coordinator abandon the drain immediately.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e.Release(d)
	coordinator := NewShutdownCoordinator(e, clock.RealClock{})
	require.NoError(t, coordinator.Run(ctx))

	// Whatever the race's outcome, the backing file is valid: either fully
	// compressed with a matching header, or untouched raw bytes.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	if hasMagic(t, path) {
		got := make([]byte, len(payload))
		n, rerr := ReadAt(path, 0, got)
		require.NoError(t, rerr)
		assert.Equal(t, payload, got[:n])
	} else {
		assert.Equal(t, payload, data)
	}
}
