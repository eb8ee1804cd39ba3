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

	"github.com/dsnet/compress/bzip2"
)

// bzip2Codec backs wire codec id 1. bzip2 streams are self-delimiting but
// not appendable mid-block, so OpenWriteStream starts a fresh stream that
// concatenates after the existing body.
type bzip2Codec struct{}

func newBzip2Codec() Codec { return bzip2Codec{} }

func (bzip2Codec) ID() CodecID  { return CodecBzip2 }
func (bzip2Codec) Name() string { return "bz2" }

func bzip2Config() *bzip2.WriterConfig {
	if defaultLevel == 0 {
		return nil
	}
	return &bzip2.WriterConfig{Level: defaultLevel}
}

func (bzip2Codec) Compress(dst io.Writer, src io.Reader) (uint64, error) {
	w, err := bzip2.NewWriter(dst, bzip2Config())
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, src)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return uint64(n), err
}

func (bzip2Codec) Decompress(dst io.Writer, src io.Reader) error {
	r, err := bzip2.NewReader(src, nil)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(dst, r)
	return err
}

func (c bzip2Codec) OpenWriteStream(dst io.Writer) (io.WriteCloser, error) {
	w, err := bzip2.NewWriter(dst, bzip2Config())
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (c bzip2Codec) OpenReadStream(src io.Reader) (io.ReadCloser, error) {
	r, err := bzip2.NewReader(src, nil)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Concatenated bzip2 streams decode as one stream.
func (bzip2Codec) AppendableStreams() bool { return true }
