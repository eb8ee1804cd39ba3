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

package common

// Names of the FUSE operations compressfs serves, used to tag trace and
// debug log lines so a mount's log can be grepped per operation.
const (
	// Inode metadata.
	OpStatFS             = "StatFS"
	OpLookUpInode        = "LookUpInode"
	OpGetInodeAttributes = "GetInodeAttributes"
	OpSetInodeAttributes = "SetInodeAttributes"
	OpForgetInode        = "ForgetInode"
	OpBatchForget        = "BatchForget"

	// Namespace changes.
	OpMkDir         = "MkDir"
	OpMkNode        = "MkNode"
	OpCreateFile    = "CreateFile"
	OpCreateLink    = "CreateLink"
	OpCreateSymlink = "CreateSymlink"
	OpRename        = "Rename"
	OpRmDir         = "RmDir"
	OpUnlink        = "Unlink"
	OpReadSymlink   = "ReadSymlink"

	// Directory handles.
	OpOpenDir          = "OpenDir"
	OpReadDir          = "ReadDir"
	OpReleaseDirHandle = "ReleaseDirHandle"

	// File handles, where the compression engine does its work.
	OpOpenFile          = "OpenFile"
	OpReadFile          = "ReadFile"
	OpWriteFile         = "WriteFile"
	OpSyncFile          = "SyncFile"
	OpFlushFile         = "FlushFile"
	OpReleaseFileHandle = "ReleaseFileHandle"
)
