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

package logger

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// gatedWriter blocks every Write until release is closed, simulating a log
// sink stuck on slow disk I/O. entered is signalled as each Write begins so
// tests can tell when the drain goroutine is wedged inside the sink.
type gatedWriter struct {
	entered chan struct{}
	release chan struct{}
	buf     syncBuffer
}

func (w *gatedWriter) Write(p []byte) (int, error) {
	w.entered <- struct{}{}
	<-w.release
	return w.buf.Write(p)
}

func TestAsyncLoggerFlushesAllEntriesOnClose(t *testing.T) {
	buf := &syncBuffer{}
	async := NewAsyncLogger(buf, 128)

	for i := 0; i < 100; i++ {
		fmt.Fprintln(async, "line", i)
	}

	require.NoError(t, async.Close())
	assert.Contains(t, buf.String(), "line 99")
	assert.Equal(t, 100, bytes.Count([]byte(buf.String()), []byte("\n")))
}

func TestAsyncLoggerDropsWhenBufferFull(t *testing.T) {
	gw := &gatedWriter{
		entered: make(chan struct{}, 64),
		release: make(chan struct{}),
	}
	async := NewAsyncLogger(gw, 4)

	// Wedge the drain goroutine inside the sink, then fill the buffer.
	fmt.Fprintln(async, "line 0")
	<-gw.entered
	for i := 1; i <= 4; i++ {
		fmt.Fprintln(async, "line", i)
	}

	// Every further write must return immediately and be dropped; if Write
	// blocked here the test would never finish.
	for i := 5; i < 15; i++ {
		fmt.Fprintln(async, "line", i)
	}

	close(gw.release)
	require.NoError(t, async.Close())

	out := gw.buf.String()
	assert.Contains(t, out, "line 4", "queued entries must survive")
	assert.NotContains(t, out, "line 5", "overflow entries must be dropped")
	assert.Equal(t, 5, bytes.Count([]byte(out), []byte("\n")))
}

func TestAsyncLoggerCloseIsIdempotent(t *testing.T) {
	buf := &syncBuffer{}
	async := NewAsyncLogger(buf, 1)

	require.NoError(t, async.Close())
	require.NoError(t, async.Close())
}
