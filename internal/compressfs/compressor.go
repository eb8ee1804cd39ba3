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
	"io"
	"os"
	"sync"

	"github.com/jacobsa/compressfs/common"
	"github.com/jacobsa/compressfs/internal/logger"
)

// compressBlockSize is how many uncompressed bytes the worker pushes
// through the codec between cancel-cookie polls.
const compressBlockSize = 256 * 1024

// Compressor is the background worker that converts newly-closed, eligible
// files from raw to compressed form off the FUSE request path. A single
// goroutine consumes a condition-signalled queue of Records handed over by
// Engine.Release; each record stays pinned by its queued flag until the
// worker finishes with it, at which point the worker performs the deferred
// eviction the release path skipped.
type Compressor struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    common.Queue[*Record]
	inflight int
	stopping bool
	done     chan struct{}

	maxDepth int
	registry *Registry
	policy   *Policy
	codec    Codec
	stats    *Stats
}

// NewCompressor starts the background worker goroutine. maxDepth bounds how
// many files may be queued before Enqueue silently drops further requests
// (a file that misses this round of background compression is simply
// retried the next time it is closed).
func NewCompressor(registry *Registry, policy *Policy, codec Codec, stats *Stats, maxDepth int) *Compressor {
	c := &Compressor{
		queue:    common.NewLinkedListQueue[*Record](),
		maxDepth: maxDepth,
		registry: registry,
		policy:   policy,
		codec:    codec,
		stats:    stats,
		done:     make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	go c.run()
	return c
}

// Enqueue schedules rec for background compression, marking it queued so
// the registry keeps it alive across the accesses==0 window. It is a no-op
// if the record is already queued, the worker is stopping, or the queue is
// at capacity.
func (c *Compressor) Enqueue(rec *Record) {
	rec.mu.Lock()
	if rec.queued {
		rec.mu.Unlock()
		return
	}
	rec.queued = true
	rec.mu.Unlock()

	c.enqueueMarked(rec)
}

// enqueueMarked pushes a record whose queued pin the caller has already
// set. If the push cannot happen (stopping, queue full) the pin is dropped
// and the deferred eviction performed here instead.
func (c *Compressor) enqueueMarked(rec *Record) {
	c.mu.Lock()
	if c.stopping || c.queue.Len() >= c.maxDepth {
		c.mu.Unlock()
		rec.mu.Lock()
		rec.queued = false
		rec.mu.Unlock()
		c.registry.EvictIfIdle(rec)
		return
	}
	c.queue.Push(rec)
	c.cond.Signal()
	c.mu.Unlock()
}

// Pending reports how many records are queued or being worked on.
func (c *Compressor) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len() + c.inflight
}

func (c *Compressor) run() {
	defer close(c.done)
	for {
		c.mu.Lock()
		for c.queue.IsEmpty() && !c.stopping {
			c.cond.Wait()
		}
		if c.queue.IsEmpty() && c.stopping {
			c.mu.Unlock()
			return
		}
		rec := c.queue.Pop()
		c.inflight++
		c.mu.Unlock()

		c.compressOne(rec)

		c.mu.Lock()
		c.inflight--
		c.mu.Unlock()
	}
}

func (c *Compressor) compressOne(rec *Record) {
	defer func() {
		rec.mu.Lock()
		rec.queued = false
		rec.mu.Unlock()
		c.registry.EvictIfIdle(rec)
	}()

	rec.mu.Lock()
	// Only quiescent files are rewritten: a record re-opened while queued
	// has live raw descriptors that would be left pointing at the replaced
	// inode; it simply misses this round.
	eligible := !rec.deleted && !rec.dontcompress && rec.codec == CodecNull &&
		c.codec.ID() != CodecNull && rec.accesses == 0 && rec.wstream == nil &&
		rec.size >= c.policy.MinBackgroundSize()
	if !eligible {
		rec.mu.Unlock()
		return
	}
	if !c.policy.ShouldAttempt(rec.path) {
		rec.dontcompress = true
		rec.mu.Unlock()
		c.stats.RecordSkipped()
		return
	}
	rec.status |= statusCompressing
	path := rec.path
	rec.mu.Unlock()

	err := c.rewriteCompressed(path, rec)

	rec.mu.Lock()
	rec.status &^= statusCompressing | statusCancel
	rec.cond.Broadcast()
	rec.mu.Unlock()

	if err != nil {
		c.stats.RecordFailure()
		logger.Warnf("background compression of %s failed: %v", path, err)
	}
}

// rewriteCompressed replaces the raw content at path with a compressed body
// under a temp-file-then-rename, the same crash-safe pattern the offline
// converter uses. The copy proceeds one block at a time, polling the
// record's cancel cookie between blocks, so a foreground write or a
// shutdown never waits longer than one block's compression.
func (c *Compressor) rewriteCompressed(path string, rec *Record) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dirOf(path), "._.tmp-compress-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	defer tmp.Close()

	if err := (Header{Codec: c.codec.ID(), UncompressedSize: uint64(info.Size())}).Encode(tmp); err != nil {
		return err
	}

	stream, err := openBatchStream(c.codec, tmp)
	if err != nil {
		return err
	}
	remaining := info.Size()
	for remaining > 0 {
		if rec.cancelRequested() {
			stream.Close()
			return nil
		}
		block := int64(compressBlockSize)
		if block > remaining {
			block = remaining
		}
		if _, err := common.CopyWhole(stream, src, block); err != nil {
			stream.Close()
			return err
		}
		remaining -= block
	}
	if err := stream.Close(); err != nil {
		return err
	}

	if rec.cancelRequested() {
		return nil
	}

	st, err := tmp.Stat()
	if err != nil {
		return err
	}
	if !c.policy.Accept(uint64(info.Size()), uint64(st.Size())) {
		rec.mu.Lock()
		rec.dontcompress = true
		rec.mu.Unlock()
		c.stats.RecordSkipped()
		return nil
	}

	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, info.Mode()); err != nil {
		return err
	}

	// Final cancel check before the swap: a write that raced in after the
	// last poll must win, not be overwritten by a stale compressed body.
	rec.mu.Lock()
	if rec.status&statusCancel != 0 {
		rec.mu.Unlock()
		return nil
	}
	if err := os.Rename(tmpPath, path); err != nil {
		rec.mu.Unlock()
		return err
	}
	rec.codec = c.codec.ID()
	rec.size = info.Size()
	rec.mu.Unlock()

	c.stats.RecordCompression(info.Size(), st.Size())
	return nil
}

// batchStreamer is implemented by codecs with a distinct whole-file write
// stream tuned for throughput over latency (gzip's parallel pgzip writer);
// the worker prefers it since a quiescent file has no interactive caller to
// keep waiting.
type batchStreamer interface {
	OpenBatchWriteStream(dst io.Writer) (io.WriteCloser, error)
}

func openBatchStream(codec Codec, dst io.Writer) (io.WriteCloser, error) {
	if b, ok := codec.(batchStreamer); ok {
		return b.OpenBatchWriteStream(dst)
	}
	return codec.OpenWriteStream(dst)
}

// Stop signals the worker to finish the queue and exit, then waits for it.
// Callers that cannot wait for the remaining work (an interrupted shutdown)
// set each queued record's cancel bit first so every attempt aborts at its
// next poll and leaves the raw file intact.
func (c *Compressor) Stop() {
	c.mu.Lock()
	c.stopping = true
	c.cond.Broadcast()
	c.mu.Unlock()
	<-c.done
}
