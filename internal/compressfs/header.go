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

// Package compressfs implements the transparent compression engine mounted
// by compressfs: a per-file registry of compression state, a background
// compressor, and the stream codecs that read and write the on-disk format.
package compressfs

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the fixed length, in bytes, of the header prefixed to every
// compressed backing file.
const HeaderSize = 3 + 1 + 8

// magic identifies a compressfs-managed file. A file whose first three bytes
// do not match is treated as raw, uncompressed content.
var magic = [3]byte{0x1F, 0x5D, 0x89}

// CodecID identifies the compressor used to produce a file's body.
type CodecID uint8

const (
	CodecNull  CodecID = 0
	CodecBzip2 CodecID = 1
	CodecGzip  CodecID = 2
	CodecLzo   CodecID = 3
	CodecLzma  CodecID = 4
)

// Header is the fixed-size record stored at the start of every compressed
// file: a magic tag, the codec that produced the body, and the size the
// content will decompress to.
type Header struct {
	Codec            CodecID
	UncompressedSize uint64
}

// Encode writes the header to w in the fixed 12-byte wire format: 3-byte
// magic, 1-byte codec id, 8-byte little-endian uncompressed size.
func (h Header) Encode(w io.Writer) error {
	var buf [HeaderSize]byte
	h.encodeBytes(&buf)
	_, err := w.Write(buf[:])
	return err
}

func (h Header) encodeBytes(buf *[HeaderSize]byte) {
	copy(buf[0:3], magic[:])
	buf[3] = byte(h.Codec)
	binary.LittleEndian.PutUint64(buf[4:12], h.UncompressedSize)
}

// ErrNotCompressed is returned by DecodeHeader when the stream does not
// begin with the compressfs magic; callers should treat such content as raw.
var ErrNotCompressed = fmt.Errorf("compressfs: missing header magic")

// ErrUnsupportedHeader marks a file that carries the magic but names a
// codec id outside the known range — most likely an archive produced by a
// foreign build with a different size-field layout. Refused rather than
// misread.
var ErrUnsupportedHeader = fmt.Errorf("compressfs: unsupported header")

// DecodeHeader reads and validates a Header from the front of r.
func DecodeHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	return decodeHeaderBytes(buf)
}

// PeekHeader parses a Header from exactly HeaderSize bytes already read from
// a file (e.g. by a caller that needs to branch on file length before
// deciding whether enough bytes exist for a header).
func PeekHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, io.ErrUnexpectedEOF
	}
	var arr [HeaderSize]byte
	copy(arr[:], buf[:HeaderSize])
	return decodeHeaderBytes(arr)
}

func decodeHeaderBytes(buf [HeaderSize]byte) (Header, error) {
	if buf[0] != magic[0] || buf[1] != magic[1] || buf[2] != magic[2] {
		return Header{}, ErrNotCompressed
	}
	return Header{
		Codec:            CodecID(buf[3]),
		UncompressedSize: binary.LittleEndian.Uint64(buf[4:12]),
	}, nil
}
