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

// Package compressfstesting provides helpers for tests that need a backing
// directory populated with raw and compressed fixture files.
package compressfstesting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jacobsa/compressfs/cfg"
	"github.com/jacobsa/compressfs/internal/compressfs"
)

// TempBackingDir returns a fresh directory cleaned up with the test, for
// use as a mount's backing store.
func TempBackingDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// WriteRaw places content at name under root with no header.
func WriteRaw(t *testing.T, root, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating parent of %s: %v", name, err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

// WriteCompressed places content at name under root as a compressed blob
// with a valid header, the way the background compressor or the offline
// converter would store it.
func WriteCompressed(t *testing.T, root, name string, codecName cfg.Codec, content []byte) string {
	t.Helper()
	path := WriteRaw(t, root, name, content)
	codec, err := compressfs.CodecByName(codecName)
	if err != nil {
		t.Fatalf("resolving codec %s: %v", codecName, err)
	}
	if err := compressfs.CompressFile(path, codec); err != nil {
		t.Fatalf("compressing %s: %v", name, err)
	}
	return path
}
