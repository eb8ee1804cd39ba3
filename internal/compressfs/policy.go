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
	"strings"

	"github.com/jacobsa/compressfs/cfg"
	"golang.org/x/sys/unix"
)

// mmapSensitiveDirs are the directory prefixes (relative to the backing
// root) that stay uncompressed when the mount shadows a system root:
// executables in them get mmapped by the loader, and a compressed body has
// no page-aligned raw bytes to map.
var mmapSensitiveDirs = []string{"bin/", "sbin/", "usr/bin/", "usr/sbin/"}

// Filesystem magics that pack small files into metadata, making a minimum
// background-compression size pointless.
const (
	btrfsSuperMagic    = 0x9123683E
	reiserfsSuperMagic = 0x52654973
)

// Policy decides, per file, whether compression should be attempted at all,
// and whether a compression attempt's result is worth keeping.
type Policy struct {
	root              string
	excludeSuffixes   []string
	protectSystemDirs bool
	minRatio          float64
	minBackgroundSize int64
}

// NewPolicy builds a Policy from the resolved compression configuration.
// The minimum size for background compression is probed from the backing
// filesystem: zero where small files inline into metadata (btrfs,
// reiserfs), one block everywhere else.
func NewPolicy(c cfg.CompressionConfig, root string) *Policy {
	p := &Policy{
		root:              root,
		excludeSuffixes:   c.ExcludeSuffixes,
		protectSystemDirs: c.ProtectSystemDirs,
		minRatio:          c.MinCompressibleRatio,
	}

	var st unix.Statfs_t
	if err := unix.Statfs(root, &st); err == nil {
		switch st.Type {
		case btrfsSuperMagic, reiserfsSuperMagic:
			p.minBackgroundSize = 0
		default:
			p.minBackgroundSize = int64(st.Bsize)
		}
	}
	return p
}

// ShouldAttempt reports whether path (absolute, under the backing root) is
// even a candidate for compression. This is a cheap, name-only check
// performed before a file is ever read.
func (p *Policy) ShouldAttempt(path string) bool {
	for _, suffix := range p.excludeSuffixes {
		if strings.HasSuffix(path, suffix) {
			return false
		}
	}
	if p.protectSystemDirs {
		relative := strings.TrimPrefix(strings.TrimPrefix(path, p.root), "/")
		for _, dir := range mmapSensitiveDirs {
			if strings.HasPrefix(relative, dir) {
				return false
			}
		}
	}
	return true
}

// MinBackgroundSize is the smallest file the background compressor will
// bother with.
func (p *Policy) MinBackgroundSize() int64 { return p.minBackgroundSize }

// Accept reports whether a completed compression attempt's output is worth
// keeping. A compressed body that did not shrink below minRatio of the
// original size is rejected in favor of storing the file raw — the
// Background Compressor then pins the record raw so it is never retried.
func (p *Policy) Accept(originalSize, compressedSize uint64) bool {
	if originalSize == 0 {
		return false
	}
	ratio := float64(compressedSize) / float64(originalSize)
	return ratio < p.minRatio
}
