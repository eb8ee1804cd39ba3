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
)

// OpenFlags records how a Descriptor's handle was opened. Write-only opens
// are upgraded to read-write by Engine.Open because the header must be
// readable even for writers, and O_APPEND is stripped since the kernel
// supplies absolute offsets.
type OpenFlags int

const (
	FlagRead OpenFlags = 1 << iota
	FlagWrite
)

// Descriptor is a single open handle onto a Record, corresponding to one
// FUSE file handle. Multiple descriptors may reference the same record
// concurrently (two processes with the same file open); each tracks its own
// decompressing read stream independently, same as a POSIX open file
// description, while sequential writes funnel through the record's single
// shared write stream.
//
// Every field below handle is guarded by the owning Record's mu; the
// Direct I/O Engine only touches a descriptor's streams under that lock.
type Descriptor struct {
	record *Record
	handle *os.File
	flags  OpenFlags

	// rstream is the descriptor's decompressing read stream, opened lazily
	// on first read of a compressed file and positioned at rpos bytes into
	// the uncompressed view. Nil for raw files and between reopens.
	rstream io.ReadCloser

	// rpos is the uncompressed offset the read stream has advanced to.
	rpos int64

	// skipped accumulates the bytes read-and-discarded to advance rstream to
	// a requested offset on the current handle. A backwards seek closes the
	// stream, reopens from the start, and resets this to zero.
	skipped int64
}

// closeReadStream drops the descriptor's decompressing read stream, if any,
// so the next read reopens from the start of the compressed body. Must be
// called with the record's mu held.
func (d *Descriptor) closeReadStream() {
	if d.rstream != nil {
		d.rstream.Close()
		d.rstream = nil
	}
	d.rpos = 0
	d.skipped = 0
}

// reopenRaw swaps the descriptor's backing handle for a fresh open of path,
// used after a rollback replaced the backing file via rename, which leaves
// old handles pointing at the unlinked original inode. Must be called with
// the record's mu held.
func (d *Descriptor) reopenRaw(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		// Read-only descriptors on a read-only file still need to follow the
		// new inode.
		f, err = os.Open(path)
		if err != nil {
			return err
		}
	}
	if d.handle != nil {
		d.handle.Close()
	}
	d.handle = f
	return nil
}
