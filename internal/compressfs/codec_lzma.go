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

	"github.com/ulikunitz/xz/lzma"
)

// lzmaCodec backs wire codec id 4, the highest compression ratio and
// slowest codec in the table.
type lzmaCodec struct{}

func newLzmaCodec() Codec { return lzmaCodec{} }

func (lzmaCodec) ID() CodecID  { return CodecLzma }
func (lzmaCodec) Name() string { return "lzma" }

func (lzmaCodec) Compress(dst io.Writer, src io.Reader) (uint64, error) {
	w, err := lzma.NewWriter(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, src)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return uint64(n), err
}

func (lzmaCodec) Decompress(dst io.Writer, src io.Reader) error {
	r, err := lzma.NewReader(src)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, r)
	return err
}

type lzmaWriteStream struct {
	w *lzma.Writer
}

func (s lzmaWriteStream) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s lzmaWriteStream) Close() error                { return s.w.Close() }

func (lzmaCodec) OpenWriteStream(dst io.Writer) (io.WriteCloser, error) {
	w, err := lzma.NewWriter(dst)
	if err != nil {
		return nil, err
	}
	return lzmaWriteStream{w}, nil
}

type lzmaReadStream struct {
	r io.Reader
}

func (s lzmaReadStream) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s lzmaReadStream) Close() error               { return nil }

func (lzmaCodec) OpenReadStream(src io.Reader) (io.ReadCloser, error) {
	r, err := lzma.NewReader(src)
	if err != nil {
		return nil, err
	}
	return lzmaReadStream{r}, nil
}

// An lzma body ends at its end-of-stream marker; a second stream written
// after it is unreachable by the reader, so appends must roll back instead.
func (lzmaCodec) AppendableStreams() bool { return false }
