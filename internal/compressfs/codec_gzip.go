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

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"
)

// gzipCodec produces a standard gzip body. Whole-file compression uses
// pgzip, which parallelizes across blocks for large files; streaming append
// uses the plain klauspost/compress/gzip writer, since a stream grows one
// write at a time and has no block boundary to parallelize across.
type gzipCodec struct{}

func newGzipCodec() Codec { return gzipCodec{} }

func (gzipCodec) ID() CodecID  { return CodecGzip }
func (gzipCodec) Name() string { return "gzip" }

func (gzipCodec) Compress(dst io.Writer, src io.Reader) (uint64, error) {
	w, err := pgzip.NewWriterLevel(dst, gzipLevel())
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, src)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return uint64(n), err
}

func gzipLevel() int {
	if defaultLevel == 0 {
		return gzip.DefaultCompression
	}
	return defaultLevel
}

func (gzipCodec) Decompress(dst io.Writer, src io.Reader) error {
	r, err := pgzip.NewReader(src)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(dst, r)
	return err
}

type gzipWriteStream struct {
	w *gzip.Writer
}

func (s gzipWriteStream) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s gzipWriteStream) Close() error                { return s.w.Close() }

func (gzipCodec) OpenWriteStream(dst io.Writer) (io.WriteCloser, error) {
	w, err := gzip.NewWriterLevel(dst, gzipLevel())
	if err != nil {
		return nil, err
	}
	return gzipWriteStream{w}, nil
}

type gzipReadStream struct {
	r *gzip.Reader
}

func (s gzipReadStream) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s gzipReadStream) Close() error               { return s.r.Close() }

func (gzipCodec) OpenReadStream(src io.Reader) (io.ReadCloser, error) {
	r, err := gzip.NewReader(src)
	if err != nil {
		return nil, err
	}
	return gzipReadStream{r}, nil
}

// Concatenated gzip members decode as one stream.
func (gzipCodec) AppendableStreams() bool { return true }

// OpenBatchWriteStream returns the parallel pgzip writer for whole-file
// background rewrites, where throughput matters more than per-write latency.
func (gzipCodec) OpenBatchWriteStream(dst io.Writer) (io.WriteCloser, error) {
	w, err := pgzip.NewWriterLevel(dst, gzipLevel())
	if err != nil {
		return nil, err
	}
	return w, nil
}
