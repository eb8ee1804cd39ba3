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
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// IsCompressed reports whether the file at path begins with a compressfs
// header. Files shorter than a header are raw by construction.
func IsCompressed(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	var buf [HeaderSize]byte
	n, err := io.ReadFull(f, buf[:])
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := PeekHeader(buf[:n]); err != nil {
		return false, nil
	}
	return true, nil
}

// CompressFile rewrites the raw file at path as a compressed blob produced
// by codec, via a temp file renamed over the original only once fully
// written, so a crash leaves either the old or the new file intact.
// Ownership, mode, and access/modification times carry over. A file that
// already carries a header is left untouched.
func CompressFile(path string, codec Codec) error {
	compressed, err := IsCompressed(path)
	if err != nil {
		return err
	}
	if compressed {
		return nil
	}

	return transform(path, func(dst *os.File, src *os.File, size int64) error {
		if err := (Header{Codec: codec.ID(), UncompressedSize: uint64(size)}).Encode(dst); err != nil {
			return err
		}
		_, err := codec.Compress(dst, src)
		return err
	})
}

// DecompressFile rewrites the compressed file at path as raw bytes, with
// the same temp-file-then-rename and attribute preservation as
// CompressFile. A file with no header is left untouched.
func DecompressFile(path string) error {
	compressed, err := IsCompressed(path)
	if err != nil {
		return err
	}
	if !compressed {
		return nil
	}

	return transform(path, func(dst *os.File, src *os.File, size int64) error {
		h, err := DecodeHeader(src)
		if err != nil {
			return err
		}
		codec, err := CodecByID(h.Codec)
		if err != nil {
			return err
		}
		return codec.Decompress(dst, src)
	})
}

func transform(path string, fn func(dst, src *os.File, size int64) error) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dirOf(path), "._.tmp-convert-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	defer tmp.Close()

	if err := fn(tmp, src, info.Size()); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}

	if err := os.Chmod(tmpPath, info.Mode()); err != nil {
		return err
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		if err := os.Chown(tmpPath, int(st.Uid), int(st.Gid)); err != nil && !os.IsPermission(err) {
			return err
		}
		atime := time.Unix(st.Atim.Sec, st.Atim.Nsec)
		mtime := info.ModTime()
		if err := os.Chtimes(tmpPath, atime, mtime); err != nil {
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// ConvertTree walks root and applies CompressFile (codec non-nil) or
// DecompressFile (codec nil) to every regular file, skipping the
// converter's own temp litter. The first error aborts the walk.
func ConvertTree(root string, codec Codec) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || isTempName(d.Name()) {
			return nil
		}
		if codec != nil {
			if err := CompressFile(path, codec); err != nil {
				return fmt.Errorf("compressing %s: %w", path, err)
			}
			return nil
		}
		if err := DecompressFile(path); err != nil {
			return fmt.Errorf("decompressing %s: %w", path, err)
		}
		return nil
	})
}

func isTempName(name string) bool {
	return strings.Contains(name, "._.tmp")
}
