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
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/net/context"

	"github.com/jacobsa/compressfs/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, codec cfg.Codec) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	c := cfg.Config{
		Compression: cfg.CompressionConfig{
			Codec:                codec,
			MinCompressibleRatio: 0.99,
			ExcludeSuffixes:      []string{".jpg", ".gz", ".mp3"},
			QueueDepth:           16,
		},
		FileSystem: cfg.FileSystemConfig{RootFS: cfg.ResolvedPath(root)},
	}
	e, err := NewEngine(c)
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)
	return e, root
}

func createEmpty(t *testing.T, root, name string) {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(root, name), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func hasMagic(t *testing.T, path string) bool {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return len(data) >= HeaderSize && data[0] == 0x1F && data[1] == 0x5D && data[2] == 0x89
}

func TestEngineReadsRawFileUnmodified(t *testing.T) {
	e, root := newTestEngine(t, cfg.CodecNone)
	ctx := context.Background()
	payload := []byte("hello, backing store")
	require.NoError(t, os.WriteFile(filepath.Join(root, "plain.txt"), payload, 0644))

	d, err := e.Open(ctx, "plain.txt", FlagRead)
	require.NoError(t, err)
	defer e.Release(d)

	buf := make([]byte, len(payload))
	n, err := e.Read(ctx, d, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
}

func TestEngineCompressesFreshSequentialWrites(t *testing.T) {
	e, root := newTestEngine(t, cfg.CodecGzip)
	ctx := context.Background()
	createEmpty(t, root, "a")

	d, err := e.Open(ctx, "a", FlagRead|FlagWrite)
	require.NoError(t, err)
	n, err := e.Write(ctx, d, 0, []byte("hello\n"))
	require.NoError(t, err)
	require.Equal(t, 6, n)
	e.Release(d)

	// The backing file is a compressed blob whose header records the codec
	// and the logical size.
	backing := filepath.Join(root, "a")
	require.True(t, hasMagic(t, backing))
	f, err := os.Open(backing)
	require.NoError(t, err)
	defer f.Close()
	h, err := DecodeHeader(f)
	require.NoError(t, err)
	assert.Equal(t, CodecGzip, h.Codec)
	assert.EqualValues(t, 6, h.UncompressedSize)

	size, err := e.LogicalSize(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 6, size)

	d2, err := e.Open(ctx, "a", FlagRead)
	require.NoError(t, err)
	defer e.Release(d2)
	buf := make([]byte, 6)
	n, err = e.Read(ctx, d2, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\n"), buf[:n])
}

func TestEngineExcludedSuffixStaysRaw(t *testing.T) {
	e, root := newTestEngine(t, cfg.CodecGzip)
	ctx := context.Background()
	createEmpty(t, root, "b.jpg")

	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 1, 2, 3, 4, 5}
	d, err := e.Open(ctx, "b.jpg", FlagRead|FlagWrite)
	require.NoError(t, err)
	_, err = e.Write(ctx, d, 0, payload)
	require.NoError(t, err)
	e.Release(d)

	backing := filepath.Join(root, "b.jpg")
	assert.False(t, hasMagic(t, backing))
	data, err := os.ReadFile(backing)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestEngineNonSequentialWriteRollsBackToRaw(t *testing.T) {
	e, root := newTestEngine(t, cfg.CodecGzip)
	ctx := context.Background()
	createEmpty(t, root, "c")

	d, err := e.Open(ctx, "c", FlagRead|FlagWrite)
	require.NoError(t, err)
	_, err = e.Write(ctx, d, 0, []byte("AAAA"))
	require.NoError(t, err)

	// Overwrite inside the stream: the file rolls back to raw storage.
	_, err = e.Write(ctx, d, 2, []byte("Z"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := e.Read(ctx, d, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("AAZA"), buf[:n])
	e.Release(d)

	assert.False(t, hasMagic(t, filepath.Join(root, "c")))
	data, err := os.ReadFile(filepath.Join(root, "c"))
	require.NoError(t, err)
	assert.Equal(t, []byte("AAZA"), data)
}

func TestEngineSequentialReadKeepsStreamOpen(t *testing.T) {
	e, root := newTestEngine(t, cfg.CodecGzip)
	ctx := context.Background()
	createEmpty(t, root, "seq")

	payload := make([]byte, 8192)
	for i := range payload {
		payload[i] = byte(i)
	}
	d, err := e.Open(ctx, "seq", FlagRead|FlagWrite)
	require.NoError(t, err)
	_, err = e.Write(ctx, d, 0, payload)
	require.NoError(t, err)
	e.Release(d)

	d2, err := e.Open(ctx, "seq", FlagRead)
	require.NoError(t, err)
	defer e.Release(d2)

	first := make([]byte, 4096)
	n, err := e.Read(ctx, d2, 0, first)
	require.NoError(t, err)
	require.Equal(t, 4096, n)

	// A read continuing exactly where the last one ended must not reopen
	// the decoder or skip any bytes.
	second := make([]byte, 4096)
	n, err = e.Read(ctx, d2, 4096, second)
	require.NoError(t, err)
	require.Equal(t, 4096, n)
	assert.Zero(t, d2.skipped)
	assert.Equal(t, payload[4096:], second)

	// Seeking backwards reopens from the start and pays the skip.
	again := make([]byte, 16)
	_, err = e.Read(ctx, d2, 100, again)
	require.NoError(t, err)
	assert.EqualValues(t, 100, d2.skipped)
	assert.Equal(t, payload[100:116], again)
}

func TestEngineBackgroundCompressesOnRelease(t *testing.T) {
	e, root := newTestEngine(t, cfg.CodecGzip)
	ctx := context.Background()
	path := filepath.Join(root, "compressible.txt")
	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = 'a'
	}
	require.NoError(t, os.WriteFile(path, payload, 0644))

	d, err := e.Open(ctx, "compressible.txt", FlagRead)
	require.NoError(t, err)
	e.Release(d)

	require.Eventually(t, func() bool {
		return hasMagic(t, path)
	}, 2*time.Second, 10*time.Millisecond)

	raw := make([]byte, len(payload))
	n, err := ReadAt(path, 0, raw)
	require.NoError(t, err)
	assert.Equal(t, payload, raw[:n])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(payload)), "background compression should have shrunk the backing file")
}

func TestEngineWriteToCompressedFileRollsBackToRaw(t *testing.T) {
	e, root := newTestEngine(t, cfg.CodecGzip)
	ctx := context.Background()
	path := filepath.Join(root, "rewritten.txt")
	payload := make([]byte, 32*1024)
	for i := range payload {
		payload[i] = byte('A' + i%26)
	}
	require.NoError(t, os.WriteFile(path, payload, 0644))

	d, err := e.Open(ctx, "rewritten.txt", FlagRead)
	require.NoError(t, err)
	e.Release(d)
	require.Eventually(t, func() bool {
		return hasMagic(t, path)
	}, 2*time.Second, 10*time.Millisecond)

	d2, err := e.Open(ctx, "rewritten.txt", FlagRead|FlagWrite)
	require.NoError(t, err)
	defer e.Release(d2)

	_, err = e.Write(ctx, d2, 5, []byte("ZZZZZ"))
	require.NoError(t, err)

	raw := make([]byte, len(payload))
	n, err := ReadAt(path, 0, raw)
	require.NoError(t, err)
	expected := append([]byte{}, payload...)
	copy(expected[5:10], "ZZZZZ")
	assert.Equal(t, expected, raw[:n])
	assert.False(t, hasMagic(t, path))
}

func TestEngineTruncateToZeroNeverDecodes(t *testing.T) {
	e, root := newTestEngine(t, cfg.CodecGzip)
	ctx := context.Background()

	// A header claiming gzip over a garbage body: any decode attempt would
	// fail, so a successful truncate proves the decoder was never invoked.
	backing := filepath.Join(root, "bogus")
	f, err := os.Create(backing)
	require.NoError(t, err)
	require.NoError(t, (Header{Codec: CodecGzip, UncompressedSize: 1000}).Encode(f))
	_, err = f.Write([]byte("this is not a gzip stream"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, e.Truncate(ctx, "bogus", 0))

	info, err := os.Stat(backing)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestEngineTruncateNonZeroDecompressesFirst(t *testing.T) {
	e, root := newTestEngine(t, cfg.CodecGzip)
	ctx := context.Background()
	createEmpty(t, root, "t")

	d, err := e.Open(ctx, "t", FlagRead|FlagWrite)
	require.NoError(t, err)
	_, err = e.Write(ctx, d, 0, []byte("hello world"))
	require.NoError(t, err)
	e.Release(d)
	require.True(t, hasMagic(t, filepath.Join(root, "t")))

	require.NoError(t, e.Truncate(ctx, "t", 5))

	data, err := os.ReadFile(filepath.Join(root, "t"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	size, err := e.LogicalSize(ctx, "t")
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)
}

func TestEnginePrepareLinkDecompressesAndPinsRaw(t *testing.T) {
	e, root := newTestEngine(t, cfg.CodecGzip)
	ctx := context.Background()
	createEmpty(t, root, "d")

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = 'x'
	}
	d, err := e.Open(ctx, "d", FlagRead|FlagWrite)
	require.NoError(t, err)
	_, err = e.Write(ctx, d, 0, payload)
	require.NoError(t, err)
	e.Release(d)
	require.True(t, hasMagic(t, filepath.Join(root, "d")))

	require.NoError(t, e.PrepareLink(ctx, "d"))
	require.NoError(t, os.Link(filepath.Join(root, "d"), filepath.Join(root, "d2")))

	for _, name := range []string{"d", "d2"} {
		assert.False(t, hasMagic(t, filepath.Join(root, name)))
		data, err := os.ReadFile(filepath.Join(root, name))
		require.NoError(t, err)
		assert.Equal(t, payload, data)
	}

	// Both names now stat with nlink 2: any open observes that and pins
	// the record raw, so neither ever compresses again.
	d2, err := e.Open(ctx, "d2", FlagRead)
	require.NoError(t, err)
	assert.True(t, d2.record.dontcompress)
	e.Release(d2)
}

func TestEngineHardLinkedFileNeverBinds(t *testing.T) {
	e, root := newTestEngine(t, cfg.CodecGzip)
	ctx := context.Background()
	createEmpty(t, root, "h")
	require.NoError(t, os.Link(filepath.Join(root, "h"), filepath.Join(root, "h2")))

	d, err := e.Open(ctx, "h", FlagRead|FlagWrite)
	require.NoError(t, err)
	_, err = e.Write(ctx, d, 0, []byte("payload"))
	require.NoError(t, err)
	e.Release(d)

	assert.False(t, hasMagic(t, filepath.Join(root, "h")))
}

func TestEngineUnlinkTombstonesOpenRecord(t *testing.T) {
	e, root := newTestEngine(t, cfg.CodecGzip)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(root, "u"), []byte("gone soon"), 0644))

	d, err := e.Open(ctx, "u", FlagRead)
	require.NoError(t, err)

	e.Unlink("u")
	require.NoError(t, os.Remove(filepath.Join(root, "u")))

	// The open descriptor still reads the unlinked file's content.
	buf := make([]byte, 9)
	n, err := e.Read(ctx, d, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("gone soon"), buf[:n])
	assert.True(t, d.record.deleted)
	e.Release(d)
}
