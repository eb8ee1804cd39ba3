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
	"path/filepath"
)

func dirOf(path string) string { return filepath.Dir(path) }

// ReadAt decompresses, if necessary, up to len(buf) bytes from path
// starting at uncompressed offset off (io.EOF is valid and expected at end
// of file). Plain files (no header) are read with a regular pread;
// compressed files are fully decompressed into a scratch buffer, since no
// configured codec supports random access into its compressed body. The
// engine's descriptor-based read path avoids the repeated decompression by
// holding a streaming decoder per open handle; this path serves tools and
// tests that work by bare path.
func ReadAt(path string, off int64, buf []byte) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var headerBuf [HeaderSize]byte
	n, err := io.ReadFull(f, headerBuf[:])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, err
	}

	if n == HeaderSize {
		if h, herr := PeekHeader(headerBuf[:]); herr == nil {
			codec, cerr := CodecByID(h.Codec)
			if cerr != nil {
				return 0, cerr
			}
			var decoded bufferWriter
			if err := codec.Decompress(&decoded, f); err != nil {
				return 0, err
			}
			return readAtBuffer(decoded.buf, off, buf)
		}
	}

	// No valid header: the file is raw. Re-read from the start including the
	// header-shaped prefix we just consumed.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return readAtFile(f, off, buf)
}

type bufferWriter struct{ buf []byte }

func (w *bufferWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func readAtBuffer(data []byte, off int64, buf []byte) (int, error) {
	if off >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(buf, data[off:])
	var err error
	if n < len(buf) {
		err = io.EOF
	}
	return n, err
}

func readAtFile(f *os.File, off int64, buf []byte) (int, error) {
	n, err := f.ReadAt(buf, off)
	return n, err
}

// RewriteRaw materializes newContent at path via a temp-file-then-rename so
// a crash mid-rewrite cannot corrupt the original. It is the second half of
// the rollback-to-raw sequence: any write that is not a sequential append
// to a compressed file forces the file back to an uncompressed
// representation before the write is applied.
func RewriteRaw(path string, newContent []byte) error {
	tmp, err := os.CreateTemp(dirOf(path), ".compressfs-rewrite-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(newContent); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if info, statErr := os.Stat(path); statErr == nil {
		_ = os.Chmod(tmpPath, info.Mode())
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// DecompressToRaw reads and fully decompresses path's current content and
// returns it, the first half of the rollback-to-raw sequence (decompress,
// RewriteRaw, then the caller applies its write positionally).
func DecompressToRaw(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := DecodeHeader(f)
	if err == ErrNotCompressed {
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			return nil, serr
		}
		return io.ReadAll(f)
	}
	if err != nil {
		return nil, err
	}

	codec, err := CodecByID(h.Codec)
	if err != nil {
		return nil, err
	}
	var w bufferWriter
	w.buf = make([]byte, 0, h.UncompressedSize)
	if err := codec.Decompress(&w, f); err != nil {
		return nil, err
	}
	return w.buf, nil
}
