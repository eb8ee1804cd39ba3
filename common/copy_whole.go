// Copyright 2025 Google LLC
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

package common

import "io"

// CopyWhole copies exactly n bytes from src to dst, returning io.EOF if src
// ends first. It is the unit of work between cancel-cookie polls in the
// background compressor's copy loop: each call moves one block through the
// codec, so a cancellation request is observed within one block's worth of
// I/O rather than after a whole file.
func CopyWhole(dst io.Writer, src io.Reader, n int64) (int64, error) {
	return io.CopyN(dst, src, n)
}
