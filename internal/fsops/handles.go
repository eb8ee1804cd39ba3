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

package fsops

import (
	"os"
	"sort"
	"strings"

	"github.com/jacobsa/compressfs/internal/compressfs"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// fileHandle is the per-open-file state attached to a fuseops.HandleID,
// wrapping the compression engine's Descriptor.
type fileHandle struct {
	relative   string
	descriptor *compressfs.Descriptor
}

// dirHandle lists a directory's entries once at OpenDir time
// (snapshot-at-open semantics), masking out the compressor's own temp-file
// litter so a listing never shows an in-progress background rewrite.
type dirHandle struct {
	relative string
	entries  []fuseutil.Dirent
}

// hiddenSubstrings hides an entry whose name *contains* one of these, not
// merely ends with it: temp names embed a random component in the middle,
// so a suffix check would miss them.
var hiddenSubstrings = []string{"._.tmp", ".fuse_hidden", ".compressfs-rewrite-", ".compressfs-compress-"}

func isHidden(name string) bool {
	for _, s := range hiddenSubstrings {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

func readDirEntries(dirAbsPath string, table *inodeTable, relative string) ([]fuseutil.Dirent, error) {
	f, err := os.Open(dirAbsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var out []fuseutil.Dirent
	for _, name := range names {
		if isHidden(name) {
			continue
		}
		childRelative := joinRelative(relative, name)
		info, statErr := os.Lstat(dirAbsPath + "/" + name)
		if statErr != nil {
			continue
		}
		id := table.lookup(childRelative, info.IsDir())
		typ := fuseutil.DT_File
		if info.IsDir() {
			typ = fuseutil.DT_Directory
		}
		out = append(out, fuseutil.Dirent{Inode: id, Name: name, Type: typ})
	}
	for i := range out {
		out[i].Offset = fuseops.DirOffset(i + 1)
	}
	return out, nil
}

func joinRelative(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
