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

package fsops

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jacobsa/compressfs/cfg"
	"github.com/jacobsa/compressfs/internal/compressfs"
	"github.com/jacobsa/compressfs/internal/compressfs/compressfstesting"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T) (*fileSystem, string) {
	t.Helper()
	root := compressfstesting.TempBackingDir(t)
	c := cfg.Config{
		Compression: cfg.CompressionConfig{
			Codec:                cfg.CodecGzip,
			MinCompressibleRatio: 0.99,
			QueueDepth:           16,
		},
		FileSystem: cfg.FileSystemConfig{
			RootFS: cfg.ResolvedPath(root),
			Uid:    -1,
			Gid:    -1,
		},
	}
	engine, err := compressfs.NewEngine(c)
	require.NoError(t, err)
	t.Cleanup(engine.Shutdown)
	return NewFileSystem(c, engine).(*fileSystem), root
}

func TestReadDirEntriesHidesTempLitter(t *testing.T) {
	fs, root := newTestFS(t)

	for _, name := range []string{
		"visible.txt",
		"prefix._.tmp12345suffix",
		".fuse_hidden000042",
		"also.compressfs-rewrite-x7",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0644))
	}

	entries, err := readDirEntries(root, fs.inodes, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "visible.txt", entries[0].Name)
}

func TestGetInodeAttributesReportsUncompressedSize(t *testing.T) {
	fs, root := newTestFS(t)
	payload := bytes.Repeat([]byte("attribute test body\n"), 500)
	compressfstesting.WriteCompressed(t, root, "packed", cfg.CodecGzip, payload)

	var lookUp fuseops.LookUpInodeOp
	lookUp.Parent = fuseops.RootInodeID
	lookUp.Name = "packed"
	require.NoError(t, fs.LookUpInode(context.TODO(), &lookUp))
	assert.EqualValues(t, len(payload), lookUp.Entry.Attributes.Size)

	var get fuseops.GetInodeAttributesOp
	get.Inode = lookUp.Entry.Child
	require.NoError(t, fs.GetInodeAttributes(context.TODO(), &get))
	assert.EqualValues(t, len(payload), get.Attributes.Size)

	// ctime mirrors mtime: some archivers complain when change time lags
	// modification time on a file the compressor rewrote.
	assert.Equal(t, get.Attributes.Mtime, get.Attributes.Ctime)
}

func TestAttributesOfSubHeaderFileUseRawSize(t *testing.T) {
	fs, root := newTestFS(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "tiny"), []byte("abc"), 0644))

	var lookUp fuseops.LookUpInodeOp
	lookUp.Parent = fuseops.RootInodeID
	lookUp.Name = "tiny"
	require.NoError(t, fs.LookUpInode(context.TODO(), &lookUp))
	assert.EqualValues(t, 3, lookUp.Entry.Attributes.Size)
}

func TestInodeTableRenameFollowsNestedPaths(t *testing.T) {
	table := newInodeTable()
	dirID := table.lookup("a", true)
	fileID := table.lookup("a/b/c.txt", false)

	table.rename("a", "z")

	assert.Equal(t, dirID, table.byPath["z"])
	assert.Equal(t, fileID, table.byPath["z/b/c.txt"])
	assert.Equal(t, "z", table.byID[dirID].relative)
	assert.Equal(t, "z/b/c.txt", table.byID[fileID].relative)
	_, stale := table.byPath["a/b/c.txt"]
	assert.False(t, stale)
}
