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
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jacobsa/compressfs/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertRoundTripPreservesContentAndAttributes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	payload := bytes.Repeat([]byte("offline conversion payload\n"), 1000)
	require.NoError(t, os.WriteFile(path, payload, 0640))

	mtime := time.Date(2020, 3, 14, 15, 9, 26, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	codec, err := CodecByName(cfg.CodecBzip2)
	require.NoError(t, err)
	require.NoError(t, CompressFile(path, codec))

	compressed, err := IsCompressed(path)
	require.NoError(t, err)
	require.True(t, compressed)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime), "mtime must survive compression")
	assert.Less(t, info.Size(), int64(len(payload)))

	require.NoError(t, DecompressFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime), "mtime must survive decompression")
}

func TestCompressFileIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "once")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("zzz"), 5000), 0644))

	codec, err := CodecByName(cfg.CodecGzip)
	require.NoError(t, err)
	require.NoError(t, CompressFile(path, codec))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	// A second pass must be a silent no-op, not a double compression.
	require.NoError(t, CompressFile(path, codec))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDecompressFileLeavesRawFilesAlone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw")
	payload := []byte("never had a header")
	require.NoError(t, os.WriteFile(path, payload, 0644))

	require.NoError(t, DecompressFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestConvertTreeWalksNestedDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub", "deeper"), 0755))

	files := map[string][]byte{
		"top":               bytes.Repeat([]byte("top content "), 500),
		"sub/mid":           bytes.Repeat([]byte("mid content "), 500),
		"sub/deeper/bottom": bytes.Repeat([]byte("bottom content "), 500),
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0644))
	}

	codec, err := CodecByName(cfg.CodecGzip)
	require.NoError(t, err)
	require.NoError(t, ConvertTree(dir, codec))

	for name := range files {
		compressed, err := IsCompressed(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.True(t, compressed, name)
	}

	require.NoError(t, ConvertTree(dir, nil))

	for name, content := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, content, data, name)
	}
}
