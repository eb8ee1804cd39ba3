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
)

// status bits recorded on a Record while a background operation owns it.
type status uint32

const (
	statusCompressing status = 1 << iota
	statusDecompressing
	statusCancel
)

// sizeInvalid is the sentinel for Record.size meaning "not known yet;
// refetch from the header or a stat on next query".
const sizeInvalid = int64(-1)

// Record is the in-memory state for one backing-store path: its interning
// refcount, whether it has been unlinked while still open, which codec
// produced its current body, its authoritative uncompressed size, and
// whether the compressibility policy has given up on it. The zero value is
// not valid; use newRecord.
//
// Lock ordering: a caller holding Registry.mu may acquire Record.mu, but
// never the reverse — see Registry for the full discipline.
type Record struct {
	mu sync.Mutex

	path string

	// accesses counts live descriptors plus transient pins taken through
	// Registry.lookupOrCreate during a multi-step operation (link,
	// truncate). The record is evicted from the registry when this
	// drops to zero and it is not queued for background compression.
	accesses int

	// deleted marks a record whose path has been unlinked while descriptors
	// remain open. Such a record has already left the registry's map; its
	// open descriptors keep using it until accesses reaches zero.
	deleted bool

	// queued is true while the record sits on the background compressor's
	// queue or is being worked on; it keeps the record alive across the
	// accesses==0 window between release and compression.
	queued bool

	// inode and nlink are cached from the most recent stat of the backing
	// file. A link count above one pins the file raw: hard links share one
	// inode and the per-path record model cannot represent two names over a
	// single compressed body.
	inode uint64
	nlink uint64

	// size is the authoritative uncompressed logical size, or sizeInvalid
	// when it must be refetched from the header or a stat.
	size int64

	// codec is the id of the codec that produced the file's current body,
	// or CodecNull if the file is stored raw.
	codec CodecID

	// dontcompress pins the file raw: set when a hard link is observed, when
	// a write arrives that the stream model cannot absorb, or when the
	// policy rejects the file. Never cleared for the record's lifetime.
	dontcompress bool

	status status

	cond *sync.Cond

	// wstream is the live compressed write stream, shared by every
	// descriptor appending to this file. Non-nil only while codec != CodecNull
	// and a sequential write session is in progress; finalized (closed, and
	// the header's size field rewritten through wfile) before any read of
	// the compressed body and at last release.
	wstream io.WriteCloser
	wfile   *os.File

	descriptors []*Descriptor
}

func newRecord(path string) *Record {
	r := &Record{path: path, codec: CodecNull, size: sizeInvalid}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// checkInvariants panics if the record is in an inconsistent state. Called
// only under mu, from unpin on every release.
func (r *Record) checkInvariants() {
	if r.accesses < 0 {
		panic("Record.accesses went negative")
	}
	if len(r.descriptors) > r.accesses {
		panic("Record has more open descriptors than accesses")
	}
	if r.wstream != nil && r.codec == CodecNull {
		panic("Record has a write stream but no codec binding")
	}
}

// pin increments the access count, preventing eviction until a matching
// unpin. Must be called with r.mu held.
func (r *Record) pin() {
	r.accesses++
}

// unpin decrements the access count. Returns true if the record is now
// eligible for eviction. Must be called with r.mu held.
func (r *Record) unpin() bool {
	r.accesses--
	r.checkInvariants()
	return r.accesses == 0 && !r.queued
}

// waitUntilIdle blocks until no background compression/decompression owns
// the record, for callers (write, truncate, link) that must not race a
// background rewrite. Must be called with r.mu held; it releases and
// reacquires r.mu while waiting.
func (r *Record) waitUntilIdle() {
	for r.status&(statusCompressing|statusDecompressing) != 0 {
		r.cond.Wait()
	}
}

// requestCancel asks an in-flight background compression of this record to
// abandon its work at the next poll point. Used by the shutdown coordinator;
// engine operations that already hold r.mu set the same bit directly.
func (r *Record) requestCancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status |= statusCancel
}

// cancelRequested reports whether the cancel bit is set; the bit stays set
// until the background compressor finishes its attempt on this record. It is
// the cancel cookie polled by the compressor's block-copy loop.
func (r *Record) cancelRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status&statusCancel != 0
}

// removeDescriptor unlinks d from the record's descriptor set. Must be
// called with r.mu held.
func (r *Record) removeDescriptor(d *Descriptor) {
	for i, other := range r.descriptors {
		if other == d {
			r.descriptors = append(r.descriptors[:i], r.descriptors[i+1:]...)
			return
		}
	}
}
