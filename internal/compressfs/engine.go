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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/net/context"

	"github.com/jacobsa/compressfs/cfg"
)

// Engine is the wiring point that the Filesystem Operation Glue calls into:
// it owns the File-State Registry, the write codec, the Compressibility
// Policy, and the Background Compressor, and translates FUSE-level
// operations (open, read, write, release, rename, unlink, link, truncate)
// into Direct I/O Engine calls plus registry bookkeeping.
type Engine struct {
	root     string
	registry *Registry
	policy   *Policy
	codec    Codec
	bg       *Compressor
	stats    *Stats
}

// NewEngine builds an Engine rooted at c.FileSystem.RootFS using the codec
// named by c.Compression.Codec for newly compressed files.
func NewEngine(c cfg.Config) (*Engine, error) {
	codec, err := CodecByName(c.Compression.Codec)
	if err != nil {
		return nil, fmt.Errorf("resolving write codec: %w", err)
	}
	SetDefaultLevel(c.Compression.Level)

	root := string(c.FileSystem.RootFS)
	policy := NewPolicy(c.Compression, root)
	stats := NewStats()
	registry := NewRegistry()

	e := &Engine{
		root:     root,
		registry: registry,
		policy:   policy,
		codec:    codec,
		stats:    stats,
	}
	e.bg = NewCompressor(registry, policy, codec, stats, c.Compression.QueueDepth)
	return e, nil
}

// BackingPath resolves a path relative to the mountpoint root to its
// location in the backing directory.
func (e *Engine) BackingPath(relative string) string {
	return filepath.Join(e.root, relative)
}

// Open interns and pins a Record for path, opens the backing file, and
// returns a Descriptor the caller attaches to its FUSE file handle. The
// caller must call Release exactly once when the handle closes.
//
// Write-only opens are upgraded to read-write, since even a pure writer
// must be able to read the header back; append flags never reach here (the
// kernel hands the engine absolute offsets).
func (e *Engine) Open(ctx context.Context, relative string, flags OpenFlags) (*Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	backing := e.BackingPath(relative)
	rec := e.registry.lookupOrCreate(backing)

	f, err := openBacking(backing, flags)
	if err != nil {
		e.registry.Release(rec)
		return nil, err
	}

	d := &Descriptor{record: rec, handle: f, flags: flags}

	rec.mu.Lock()
	if err := refreshLocked(rec, f); err != nil {
		rec.mu.Unlock()
		f.Close()
		e.registry.Release(rec)
		return nil, err
	}
	rec.descriptors = append(rec.descriptors, d)
	rec.mu.Unlock()
	return d, nil
}

func openBacking(path string, flags OpenFlags) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err == nil {
		return f, nil
	}
	// Read-only backing file: fall back to a read-only descriptor. The
	// kernel enforces the access mode above us, so a writer never actually
	// reaches this handle.
	return os.Open(path)
}

// refreshLocked re-stats the backing file behind rec and, if the record's
// size is stale, re-derives codec binding and logical size from the header.
// A file shorter than a header can never carry one and is left raw without
// attempting a parse. Must be called with rec.mu held.
func refreshLocked(rec *Record, f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", rec.path, err)
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		rec.inode = st.Ino
		rec.nlink = uint64(st.Nlink)
		if st.Nlink > 1 && info.Mode().IsRegular() {
			rec.dontcompress = true
		}
	}

	if rec.size != sizeInvalid {
		return nil
	}

	if info.Size() < HeaderSize {
		rec.codec = CodecNull
		rec.size = info.Size()
		return nil
	}

	var buf [HeaderSize]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		return fmt.Errorf("reading header of %s: %w", rec.path, err)
	}
	h, err := PeekHeader(buf[:])
	if err == ErrNotCompressed {
		rec.codec = CodecNull
		rec.size = info.Size()
		return nil
	}
	if err != nil {
		return fmt.Errorf("parsing header of %s: %w", rec.path, err)
	}
	if _, err := CodecByID(h.Codec); err != nil {
		return fmt.Errorf("header of %s: %w", rec.path, ErrUnsupportedHeader)
	}
	rec.codec = h.Codec
	rec.size = int64(h.UncompressedSize)
	return nil
}

// Release closes a Descriptor: drops its streams (finalizing any write
// session it was the last participant of), releases its pin on the record
// and, if the file is still raw and eligible, enqueues it for background
// compression before the registry decides on eviction.
func (e *Engine) Release(d *Descriptor) {
	rec := d.record

	rec.mu.Lock()
	d.closeReadStream()
	if len(rec.descriptors) == 1 && rec.wstream != nil {
		finalizeWriteStreamLocked(rec)
	}
	rec.removeDescriptor(d)
	if d.handle != nil {
		d.handle.Close()
		d.handle = nil
	}
	lastOut := rec.accesses == 1
	candidate := lastOut && !rec.deleted && !rec.dontcompress && !rec.queued &&
		rec.codec == CodecNull && e.codec.ID() != CodecNull &&
		rec.size >= e.policy.MinBackgroundSize()
	if candidate {
		// Pin before the unpin below so the record survives the handoff to
		// the worker; the worker (or a failed push) performs the eviction.
		rec.queued = true
	}
	rec.mu.Unlock()

	e.registry.Release(rec)
	if candidate {
		e.bg.enqueueMarked(rec)
	}
}

// Read fills buf from the uncompressed view of the file behind d starting
// at off. Raw files are read with a positional read; compressed files read
// through the descriptor's streaming decoder, skipping forward as needed
// and reopening from the start of the body when the requested offset lies
// behind the stream's current position.
func (e *Engine) Read(ctx context.Context, d *Descriptor, off int64, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rec := d.record
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.codec == CodecNull {
		n, err := d.handle.ReadAt(buf, off)
		return n, err
	}

	// A live write session must be terminated before its bytes are
	// decodable; the stream trailer and the header's size field land here.
	if rec.wstream != nil {
		if err := finalizeWriteStreamLocked(rec); err != nil {
			rec.size = sizeInvalid
			return 0, err
		}
	}

	if off >= rec.size {
		return 0, io.EOF
	}

	if d.rstream != nil && off < d.rpos {
		d.closeReadStream()
	}
	if d.rstream == nil {
		if _, err := d.handle.Seek(HeaderSize, io.SeekStart); err != nil {
			return 0, err
		}
		codec, err := CodecByID(rec.codec)
		if err != nil {
			return 0, err
		}
		rs, err := codec.OpenReadStream(d.handle)
		if err != nil {
			rec.size = sizeInvalid
			return 0, err
		}
		d.rstream = rs
	}

	// Skip forward one block at a time, watching ctx between blocks: a
	// request interrupted mid-skip of a large file should not pin the record
	// lock for the rest of the distance.
	for d.rpos < off {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		block := off - d.rpos
		if block > compressBlockSize {
			block = compressBlockSize
		}
		skipped, err := io.CopyN(io.Discard, d.rstream, block)
		d.rpos += skipped
		d.skipped += skipped
		if err == io.EOF {
			return 0, io.EOF
		}
		if err != nil {
			rec.size = sizeInvalid
			d.closeReadStream()
			return 0, err
		}
	}

	n, err := io.ReadFull(d.rstream, buf)
	d.rpos += int64(n)
	switch err {
	case nil:
		return n, nil
	case io.EOF, io.ErrUnexpectedEOF:
		return n, io.EOF
	default:
		rec.size = sizeInvalid
		d.closeReadStream()
		return n, err
	}
}

// Write applies a write at off through d.
//
// The first write to a fresh zero-size file with a single opener is the
// codec decision point: policy willing, the default codec binds and the
// write streams through it. A sequential write to an already compressed
// file (landing exactly at the logical end) appends to the shared write
// stream; anything else rolls the file back to raw storage first, then
// writes positionally, and pins the file raw from then on.
func (e *Engine) Write(ctx context.Context, d *Descriptor, off int64, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rec := d.record
	rec.mu.Lock()
	defer rec.mu.Unlock()

	// A background compression in flight for this record is about to rename
	// a stale body over ours; cancel it and wait it out.
	if rec.status&(statusCompressing|statusDecompressing) != 0 {
		rec.status |= statusCancel
		rec.waitUntilIdle()
	}

	if rec.codec == CodecNull {
		if !rec.dontcompress && rec.size == 0 && rec.accesses == 1 && off == 0 &&
			e.codec.ID() != CodecNull && e.policy.ShouldAttempt(rec.path) {
			if err := bindCodecLocked(rec, e.codec); err != nil {
				return 0, err
			}
		} else {
			rec.dontcompress = true
			n, err := d.handle.WriteAt(data, off)
			if end := off + int64(n); end > rec.size {
				rec.size = end
			}
			return n, err
		}
	}

	if off == rec.size {
		if rec.wstream == nil {
			if err := e.reopenWriteStreamLocked(rec); err != nil {
				return 0, err
			}
		}
		if rec.wstream != nil {
			n, err := rec.wstream.Write(data)
			rec.size += int64(n)
			if err != nil {
				rec.size = sizeInvalid
				return n, err
			}
			return n, nil
		}
		// Codec cannot append to an existing body; fall through to rollback.
	}

	if err := rollbackLocked(rec); err != nil {
		return 0, err
	}
	rec.dontcompress = true
	n, err := d.handle.WriteAt(data, off)
	if end := off + int64(n); end > rec.size {
		rec.size = end
	}
	return n, err
}

// bindCodecLocked transitions a fresh empty file to compressed storage:
// writes a header claiming zero uncompressed bytes (fixed up at finalize)
// and opens the shared write stream positioned after it. Must be called
// with rec.mu held.
func bindCodecLocked(rec *Record, codec Codec) error {
	f, err := os.OpenFile(rec.path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := (Header{Codec: codec.ID(), UncompressedSize: 0}).Encode(f); err != nil {
		f.Close()
		return err
	}
	ws, err := codec.OpenWriteStream(f)
	if err != nil {
		f.Close()
		return err
	}
	rec.codec = codec.ID()
	rec.wfile = f
	rec.wstream = ws
	return nil
}

// reopenWriteStreamLocked resumes appending to an already compressed body
// by starting a fresh codec member at the end of the file, for codecs whose
// members concatenate. For a codec that cannot (lzma), it leaves
// rec.wstream nil so the caller falls back to the rollback path. Must be
// called with rec.mu held.
func (e *Engine) reopenWriteStreamLocked(rec *Record) error {
	codec, err := CodecByID(rec.codec)
	if err != nil {
		return err
	}
	if !codec.AppendableStreams() {
		return nil
	}
	f, err := os.OpenFile(rec.path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return err
	}
	ws, err := codec.OpenWriteStream(f)
	if err != nil {
		f.Close()
		return err
	}
	rec.wfile = f
	rec.wstream = ws
	return nil
}

// finalizeWriteStreamLocked terminates the live write session: closes the
// codec stream (emitting its trailer) and rewrites the header so its size
// field matches the record's logical size. Must be called with rec.mu held.
func finalizeWriteStreamLocked(rec *Record) error {
	if rec.wstream == nil {
		return nil
	}
	err := rec.wstream.Close()
	rec.wstream = nil

	if err == nil {
		var buf [HeaderSize]byte
		h := Header{Codec: rec.codec, UncompressedSize: uint64(rec.size)}
		h.encodeBytes(&buf)
		_, err = rec.wfile.WriteAt(buf[:], 0)
	}
	if cerr := rec.wfile.Close(); err == nil {
		err = cerr
	}
	rec.wfile = nil
	return err
}

// rollbackLocked converts rec's backing file to raw storage in place:
// finalizes and discards every codec stream, decompresses the body into a
// temp file, atomically renames it over the original, and re-points every
// open descriptor at the new inode. Must be called with rec.mu held.
func rollbackLocked(rec *Record) error {
	if rec.codec == CodecNull {
		return nil
	}
	if err := finalizeWriteStreamLocked(rec); err != nil {
		return err
	}
	for _, d := range rec.descriptors {
		d.closeReadStream()
	}

	raw, err := DecompressToRaw(rec.path)
	if err != nil {
		rec.size = sizeInvalid
		return err
	}
	if err := RewriteRaw(rec.path, raw); err != nil {
		return err
	}
	for _, d := range rec.descriptors {
		if err := d.reopenRaw(rec.path); err != nil {
			return err
		}
	}
	rec.codec = CodecNull
	rec.size = int64(len(raw))
	return nil
}

// Truncate sets the logical size of relative to size, decompressing first
// when the stored body is compressed and the new size is non-zero. A
// truncate to zero of a compressed file never touches the decoder: the
// whole body is discarded along with the header.
func (e *Engine) Truncate(ctx context.Context, relative string, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	backing := e.BackingPath(relative)
	rec := e.registry.lookupOrCreate(backing)
	defer e.registry.Release(rec)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.status&(statusCompressing|statusDecompressing) != 0 {
		rec.status |= statusCancel
		rec.waitUntilIdle()
	}
	if rec.size == sizeInvalid {
		if err := refreshFromDiskLocked(rec); err != nil {
			return err
		}
	}

	if rec.codec != CodecNull {
		if size == 0 {
			if rec.wstream != nil {
				rec.wstream.Close()
				rec.wstream = nil
				rec.wfile.Close()
				rec.wfile = nil
			}
			for _, d := range rec.descriptors {
				d.closeReadStream()
			}
			if err := os.Truncate(backing, 0); err != nil {
				return err
			}
			rec.codec = CodecNull
			rec.size = 0
			return nil
		}
		if err := rollbackLocked(rec); err != nil {
			return err
		}
	}

	if err := os.Truncate(backing, size); err != nil {
		return err
	}
	rec.size = size
	return nil
}

// PrepareLink readies relative's backing file for gaining a hard link:
// decompresses it in place if needed (both names must see raw bytes, since
// the header-carrying representation is per-path state) and pins it raw.
func (e *Engine) PrepareLink(ctx context.Context, relative string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	backing := e.BackingPath(relative)
	rec := e.registry.lookupOrCreate(backing)
	defer e.registry.Release(rec)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.status&(statusCompressing|statusDecompressing) != 0 {
		rec.status |= statusCancel
		rec.waitUntilIdle()
	}
	if rec.size == sizeInvalid {
		if err := refreshFromDiskLocked(rec); err != nil {
			return err
		}
	}
	if rec.codec != CodecNull {
		if err := rollbackLocked(rec); err != nil {
			return err
		}
	}
	rec.dontcompress = true
	return nil
}

// refreshFromDiskLocked populates a transient record's codec and size from
// the backing file, for operations (truncate, link) that may arrive without
// any descriptor open. Must be called with rec.mu held.
func refreshFromDiskLocked(rec *Record) error {
	f, err := os.Open(rec.path)
	if err != nil {
		return err
	}
	defer f.Close()
	return refreshLocked(rec, f)
}

// LogicalSize reports the uncompressed size of relative: the live record's
// authoritative size when one is interned and valid, otherwise the header's
// size field, otherwise the raw length on disk.
func (e *Engine) LogicalSize(ctx context.Context, relative string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	backing := e.BackingPath(relative)

	if rec := e.registry.lookup(backing); rec != nil {
		rec.mu.Lock()
		size := rec.size
		rec.mu.Unlock()
		if size != sizeInvalid {
			return size, nil
		}
	}

	info, err := os.Lstat(backing)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() || info.Size() < HeaderSize {
		return info.Size(), nil
	}

	f, err := os.Open(backing)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	var buf [HeaderSize]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		return 0, err
	}
	h, err := PeekHeader(buf[:])
	if err != nil {
		return info.Size(), nil
	}
	return int64(h.UncompressedSize), nil
}

// Rename updates registry bookkeeping to follow a path rename; the caller
// is responsible for the actual backing-store os.Rename.
func (e *Engine) Rename(oldRelative, newRelative string) {
	e.registry.Rename(e.BackingPath(oldRelative), e.BackingPath(newRelative))
}

// Unlink marks the record for relative (if any descriptors are still open
// against it) as deleted and drops it from the registry; its open
// descriptors keep using it until they close. The caller is responsible for
// the actual backing-store os.Remove.
func (e *Engine) Unlink(relative string) {
	e.registry.MarkDeleted(e.BackingPath(relative))
}

// DrainForce pushes every idle, still-raw, compressible record onto the
// background queue; the Shutdown Coordinator calls it in a loop until both
// the registry and the queue are empty.
func (e *Engine) DrainForce() {
	e.registry.forEach(func(rec *Record) {
		rec.mu.Lock()
		eligible := rec.accesses == 0 && !rec.queued && !rec.deleted &&
			!rec.dontcompress && rec.codec == CodecNull
		rec.mu.Unlock()
		if eligible {
			e.bg.Enqueue(rec)
		}
	})
}

// Idle reports whether no records remain interned and no background work is
// queued or running.
func (e *Engine) Idle() bool {
	return e.registry.Len() == 0 && e.bg.Pending() == 0
}

// Stats returns the engine's live statistics snapshot.
func (e *Engine) Stats() StatsSummary { return e.stats.Snapshot() }

// Shutdown stops the background compressor, letting its queue drain, and is
// the last step of the Shutdown Coordinator's sequence.
func (e *Engine) Shutdown() {
	e.bg.Stop()
}
