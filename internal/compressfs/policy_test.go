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
	"testing"

	"github.com/jacobsa/compressfs/cfg"
	"github.com/stretchr/testify/assert"
)

func testPolicy(t *testing.T, protect bool) *Policy {
	t.Helper()
	return NewPolicy(cfg.CompressionConfig{
		ExcludeSuffixes:      []string{".gz", ".jpg", ".mp4"},
		MinCompressibleRatio: 0.95,
		ProtectSystemDirs:    protect,
	}, "/backing")
}

func TestPolicyRejectsExcludedSuffixes(t *testing.T) {
	p := testPolicy(t, false)

	assert.False(t, p.ShouldAttempt("/backing/photos/cat.jpg"))
	assert.False(t, p.ShouldAttempt("/backing/archive.tar.gz"))
	assert.True(t, p.ShouldAttempt("/backing/notes.txt"))
}

func TestPolicyProtectsSystemDirsOnlyWhenEnabled(t *testing.T) {
	off := testPolicy(t, false)
	on := testPolicy(t, true)

	for _, path := range []string{
		"/backing/bin/ls",
		"/backing/sbin/init",
		"/backing/usr/bin/env",
		"/backing/usr/sbin/sshd",
	} {
		assert.True(t, off.ShouldAttempt(path), path)
		assert.False(t, on.ShouldAttempt(path), path)
	}

	// Only the prefix directories are protected, not lookalikes.
	assert.True(t, on.ShouldAttempt("/backing/binocular/data"))
	assert.True(t, on.ShouldAttempt("/backing/home/bin/tool"))
}

func TestPolicyAcceptRequiresRealShrinkage(t *testing.T) {
	p := testPolicy(t, false)

	assert.True(t, p.Accept(1000, 500))
	assert.False(t, p.Accept(1000, 960), "above the minimum ratio")
	assert.False(t, p.Accept(1000, 1200), "grew")
	assert.False(t, p.Accept(0, 0), "empty files are never worth a header")
}
