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
	"testing"

	"github.com/jacobsa/compressfs/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecsRoundTripCompressDecompress(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 500)

	for _, name := range []cfg.Codec{cfg.CodecNone, cfg.CodecGzip, cfg.CodecBzip2, cfg.CodecLzma, cfg.CodecLzo} {
		t.Run(string(name), func(t *testing.T) {
			codec, err := CodecByName(name)
			require.NoError(t, err)

			var compressed bytes.Buffer
			n, err := codec.Compress(&compressed, bytes.NewReader(payload))
			require.NoError(t, err)
			assert.EqualValues(t, len(payload), n)

			var out bytes.Buffer
			require.NoError(t, codec.Decompress(&out, bytes.NewReader(compressed.Bytes())))
			assert.Equal(t, payload, out.Bytes())
		})
	}
}

func TestCodecByIDMatchesCodecByName(t *testing.T) {
	c, err := CodecByName(cfg.CodecGzip)
	require.NoError(t, err)

	byID, err := CodecByID(c.ID())
	require.NoError(t, err)

	assert.Equal(t, c.Name(), byID.Name())
}

func TestCodecByNameRejectsUnknown(t *testing.T) {
	_, err := CodecByName(cfg.Codec("rot13"))
	assert.Error(t, err)
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{Codec: CodecGzip, UncompressedSize: 123456789}

	var buf bytes.Buffer
	require.NoError(t, h.Encode(&buf))
	assert.Len(t, buf.Bytes(), HeaderSize)

	got, err := DecodeHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestDecodeHeaderRejectsMissingMagic(t *testing.T) {
	_, err := DecodeHeader(bytes.NewReader(bytes.Repeat([]byte{0}, HeaderSize)))
	assert.ErrorIs(t, err, ErrNotCompressed)
}
