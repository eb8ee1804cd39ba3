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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryInternsSinglePathOnce(t *testing.T) {
	reg := NewRegistry()

	a := reg.lookupOrCreate("/a")
	b := reg.lookupOrCreate("/a")

	assert.Same(t, a, b)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryEvictsOnLastRelease(t *testing.T) {
	reg := NewRegistry()

	r := reg.lookupOrCreate("/a")
	reg.lookupOrCreate("/a") // second pin
	require.Equal(t, 1, reg.Len())

	reg.Release(r)
	assert.Equal(t, 1, reg.Len(), "one pin remains outstanding")

	reg.Release(r)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryRenameMovesRecord(t *testing.T) {
	reg := NewRegistry()
	r := reg.lookupOrCreate("/a")

	reg.Rename("/a", "/b")

	assert.Same(t, r, reg.lookup("/b"))
	assert.Nil(t, reg.lookup("/a"))
	assert.Equal(t, "/b", r.path)
}

func TestRegistryMarkDeletedDefersEviction(t *testing.T) {
	reg := NewRegistry()
	r := reg.lookupOrCreate("/a")

	reg.MarkDeleted("/a")

	assert.Nil(t, reg.lookup("/a"), "deleted path must not be resolvable anymore")
	assert.True(t, r.deleted)

	reg.Release(r)
	assert.Equal(t, 0, reg.Len())
}
