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

import "sync"

// Registry interns one Record per backing-store path that currently has at
// least one open descriptor, or that a multi-step operation is pinning.
//
// Lock ordering: Registry.mu guards the map itself (insertion, lookup,
// eviction). A caller may hold Registry.mu while acquiring a Record's own
// mu, but must never acquire Registry.mu while already holding a Record's
// mu. Rename relies on that ordering: it holds Registry.mu throughout and
// locks only the record being moved.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// lookupOrCreate returns the Record for path, creating and interning one if
// none is live, and pins it (increments accesses) before returning. Callers
// must unpin via Release when done.
func (reg *Registry) lookupOrCreate(path string) *Record {
	reg.mu.Lock()
	r, ok := reg.records[path]
	if !ok {
		r = newRecord(path)
		reg.records[path] = r
	}
	r.mu.Lock()
	r.pin()
	r.mu.Unlock()
	reg.mu.Unlock()
	return r
}

// lookup returns the Record for path without creating one, or nil.
func (reg *Registry) lookup(path string) *Record {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.records[path]
}

// Release unpins r and evicts it from the registry if its access count has
// dropped to zero and it is not awaiting background compression. Safe to
// call even if r was never looked up through this registry concurrently
// with an eviction race, since eviction is keyed by identity under reg.mu.
func (reg *Registry) Release(r *Record) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r.mu.Lock()
	idle := r.unpin()
	r.mu.Unlock()

	if idle {
		reg.evictLocked(r)
	}
}

// EvictIfIdle drops r from the registry if no accesses remain and it is no
// longer queued, for the background compressor to call once it has finished
// with a record whose last descriptor closed while the work was pending.
func (reg *Registry) EvictIfIdle(r *Record) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r.mu.Lock()
	idle := r.accesses == 0 && !r.queued
	r.mu.Unlock()

	if idle {
		reg.evictLocked(r)
	}
}

// evictLocked removes r's map entry if it is still the interned record for
// its path. Must be called with reg.mu held.
func (reg *Registry) evictLocked(r *Record) {
	if existing, ok := reg.records[r.path]; ok && existing == r {
		delete(reg.records, r.path)
	}
}

// forEach snapshots the currently interned records and calls fn on each
// outside reg.mu, preserving the registry-before-record lock order for
// callers that lock records inside fn.
func (reg *Registry) forEach(fn func(*Record)) {
	reg.mu.Lock()
	snapshot := make([]*Record, 0, len(reg.records))
	for _, r := range reg.records {
		snapshot = append(snapshot, r)
	}
	reg.mu.Unlock()

	for _, r := range snapshot {
		fn(r)
	}
}

// Rename moves the record (if any) interned under oldPath to newPath, all
// under one hold of reg.mu. A record already interned under newPath is not
// merged: it is dropped from the map and kept only by its open descriptors.
func (reg *Registry) Rename(oldPath, newPath string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	old, ok := reg.records[oldPath]
	if !ok {
		return
	}
	delete(reg.records, oldPath)

	// If the destination path already had live descriptors of its own, its
	// record is orphaned from the registry by the overwrite below; those
	// descriptors keep their pointer and drain normally as they close.
	old.mu.Lock()
	old.path = newPath
	old.mu.Unlock()
	reg.records[newPath] = old
}

// MarkDeleted flags the record for path, if interned, as deleted and removes
// it from the map at once, so it is never looked up by path again; its open
// descriptors keep using it until they close.
func (reg *Registry) MarkDeleted(path string) {
	reg.mu.Lock()
	r, ok := reg.records[path]
	if ok {
		delete(reg.records, path)
	}
	reg.mu.Unlock()

	if ok {
		r.mu.Lock()
		r.deleted = true
		r.mu.Unlock()
	}
}

// Len reports the number of currently-interned records; used by tests and
// by Engine.Idle, which the Shutdown Coordinator polls in its drain loop.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.records)
}
