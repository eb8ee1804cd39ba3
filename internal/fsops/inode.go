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

// Package fsops is the Filesystem Operation Glue: it implements
// fuseutil.FileSystem by translating each FUSE request into a path within
// the backing directory and a call into the compression engine.
package fsops

import (
	"os"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
)

// inodeRecord is the bookkeeping kept per minted inode: its path relative to
// the mountpoint root, and a lookup count mirroring the kernel's dentry
// cache references. A passthrough filesystem never needs to regenerate a
// stale inode, so no generation number is kept.
type inodeRecord struct {
	relative string
	isDir    bool
	lookups  uint64
}

// inodeTable maps fuseops.InodeID to the backing-store path it names, plus
// the reverse path->ID index needed so repeated lookups of the same path
// return the same inode ID (the kernel requires stable inode numbers for
// the lifetime of a lookup-to-forget window).
type inodeTable struct {
	mu     sync.Mutex
	byID   map[fuseops.InodeID]*inodeRecord
	byPath map[string]fuseops.InodeID
	nextID fuseops.InodeID
}

func newInodeTable() *inodeTable {
	t := &inodeTable{
		byID:   make(map[fuseops.InodeID]*inodeRecord),
		byPath: make(map[string]fuseops.InodeID),
		nextID: fuseops.RootInodeID + 1,
	}
	t.byID[fuseops.RootInodeID] = &inodeRecord{relative: "", isDir: true, lookups: 1}
	t.byPath[""] = fuseops.RootInodeID
	return t
}

// lookup returns the existing inode ID for relative, minting one if this is
// the first time the path has been seen, and bumps its lookup count by one
// (the caller is expected to be servicing a LookUpInodeOp or similar, which
// increments the kernel's reference on success).
func (t *inodeTable) lookup(relative string, isDir bool) fuseops.InodeID {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.byPath[relative]
	if !ok {
		id = t.nextID
		t.nextID++
		t.byID[id] = &inodeRecord{relative: relative, isDir: isDir}
		t.byPath[relative] = id
	}
	t.byID[id].lookups++
	return id
}

// get returns the record for id, or nil if unknown (the kernel asked about
// an inode we never minted or have already forgotten — a protocol error on
// the kernel's part, surfaced as ENOENT by the caller).
func (t *inodeTable) get(id fuseops.InodeID) *inodeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byID[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// forget decrements id's lookup count by n, evicting it once it reaches
// zero. The root inode is never evicted.
func (t *inodeTable) forget(id fuseops.InodeID, n uint64) {
	if id == fuseops.RootInodeID {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byID[id]
	if !ok {
		return
	}
	if n >= r.lookups {
		delete(t.byID, id)
		delete(t.byPath, r.relative)
		return
	}
	r.lookups -= n
}

// rename updates the table to reflect relative path oldPath moving to
// newPath, including every path nested beneath it when oldPath names a
// directory.
func (t *inodeTable) rename(oldPath, newPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for path, id := range t.byPath {
		if path != oldPath && !isUnder(path, oldPath) {
			continue
		}
		updated := newPath + path[len(oldPath):]
		delete(t.byPath, path)
		t.byPath[updated] = id
		t.byID[id].relative = updated
	}
}

func isUnder(path, dir string) bool {
	return len(path) > len(dir) && path[len(dir)] == '/' && path[:len(dir)] == dir
}

// statToAttributes fills a fuseops.InodeAttributes from a backing os.FileInfo,
// applying the mode/uid/gid overrides from the filesystem configuration.
func statToAttributes(info os.FileInfo, size uint64, uid, gid uint32, mode os.FileMode) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  size,
		Nlink: 1,
		Mode:  mode,
		Mtime: info.ModTime(),
		// ctime mirrors mtime: there is no cheap way to track metadata-change
		// time separately from the backing file's own ctime once the body has
		// been rewritten by the background compressor, and some tools (tar)
		// complain about a ctime older than mtime.
		Ctime: info.ModTime(),
		Uid:   uid,
		Gid:   gid,
	}
}
