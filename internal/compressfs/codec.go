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

	"github.com/jacobsa/compressfs/cfg"
)

// Codec is a compression algorithm capable of producing and consuming a
// compressfs file body. Implementations wrap a third-party stream codec;
// Compress/Decompress handle whole-file (re)writes, while the Stream methods
// back the append-while-writing fast path of the Direct I/O Engine.
type Codec interface {
	ID() CodecID
	Name() string

	// Compress reads all of src and writes its compressed body to dst,
	// returning the number of uncompressed bytes consumed.
	Compress(dst io.Writer, src io.Reader) (uncompressedSize uint64, err error)

	// Decompress reads a compressed body from src and writes the
	// decompressed content to dst.
	Decompress(dst io.Writer, src io.Reader) error

	// OpenWriteStream wraps dst so that writes appended to it extend a body
	// previously produced by Compress/OpenWriteStream without a full rewrite.
	OpenWriteStream(dst io.Writer) (io.WriteCloser, error)

	// OpenReadStream wraps src, positioned at the start of a compressed body,
	// as a decompressing reader.
	OpenReadStream(src io.Reader) (io.ReadCloser, error)

	// AppendableStreams reports whether a fresh stream written after an
	// existing body concatenates into one decodable whole. Codecs that
	// cannot (lzma's format ends at the first end-of-stream marker) force
	// the engine down the rollback path when appending to a closed body.
	AppendableStreams() bool
}

// defaultLevel is the codec-specific compression level applied to new write
// streams; 0 selects each codec's own default. Set once at engine
// construction from the --level flag, alongside the process-wide default
// codec.
var defaultLevel int

// SetDefaultLevel records the compression level used by level-aware codecs
// (gzip, bz2); null, lzo and lzma ignore it.
func SetDefaultLevel(level int) {
	if level < 0 || level > 9 {
		level = 0
	}
	defaultLevel = level
}

// registry is the process-wide codec table, keyed by id and by the
// configuration name used on the command line.
var registry = map[CodecID]Codec{}
var byName = map[cfg.Codec]Codec{}

func register(c Codec, name cfg.Codec) {
	registry[c.ID()] = c
	byName[name] = c
}

func init() {
	register(nullCodec{}, cfg.CodecNone)
	register(newGzipCodec(), cfg.CodecGzip)
	register(newBzip2Codec(), cfg.CodecBzip2)
	register(newLzmaCodec(), cfg.CodecLzma)
	register(newLzoCodec(), cfg.CodecLzo)
}

// CodecByID returns the codec registered for id.
func CodecByID(id CodecID) (Codec, error) {
	c, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("compressfs: unknown codec id %d", id)
	}
	return c, nil
}

// CodecByName returns the codec registered under the configuration name used
// by the --codec flag.
func CodecByName(name cfg.Codec) (Codec, error) {
	c, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("compressfs: unknown codec %q", name)
	}
	return c, nil
}

// nullCodec stores content unmodified. It grounds the "none" policy outcome.
// A file that carries no header (legacy or newly-created raw content) never
// reaches any codec: callers detect the missing magic and read it raw.
type nullCodec struct{}

func (nullCodec) ID() CodecID  { return CodecNull }
func (nullCodec) Name() string { return "null" }

func (nullCodec) Compress(dst io.Writer, src io.Reader) (uint64, error) {
	n, err := io.Copy(dst, src)
	return uint64(n), err
}

func (nullCodec) Decompress(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	return err
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (nullCodec) OpenWriteStream(dst io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{dst}, nil
}

func (nullCodec) OpenReadStream(src io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(src), nil
}

func (nullCodec) AppendableStreams() bool { return true }
