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
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/jacobsa/compressfs/cfg"
	"github.com/jacobsa/compressfs/common"
	"github.com/jacobsa/compressfs/internal/compressfs"
	"github.com/jacobsa/compressfs/internal/logger"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// fileSystem implements fuseutil.FileSystem, binding the FUSE op vocabulary
// to the compression engine. Two locks are in play: mu (the inode/handle
// table lock) and, per request, the engine's own per-record lock reached
// through Engine. mu is always acquired and released before calling into
// the engine, never held across it, so a slow compress/decompress never
// blocks unrelated lookups.
type fileSystem struct {
	fuseutil.NotImplementedFileSystem

	root              string
	engine            *compressfs.Engine
	dirMode, fileMode os.FileMode
	uid, gid          uint32

	mu         sync.Mutex
	inodes     *inodeTable
	handles    map[fuseops.HandleID]interface{}
	nextHandle fuseops.HandleID
}

// NewFileSystem builds the fuseutil.FileSystem server for c, backed by
// engine.
func NewFileSystem(c cfg.Config, engine *compressfs.Engine) fuseutil.FileSystem {
	uid, gid := uint32(os.Getuid()), uint32(os.Getgid())
	if c.FileSystem.Uid >= 0 {
		uid = uint32(c.FileSystem.Uid)
	}
	if c.FileSystem.Gid >= 0 {
		gid = uint32(c.FileSystem.Gid)
	}
	dirMode := os.FileMode(0755)
	if c.FileSystem.DirMode != 0 {
		dirMode = os.FileMode(c.FileSystem.DirMode)
	}
	fileMode := os.FileMode(0644)
	if c.FileSystem.FileMode != 0 {
		fileMode = os.FileMode(c.FileSystem.FileMode)
	}

	return &fileSystem{
		root:     string(c.FileSystem.RootFS),
		engine:   engine,
		dirMode:  dirMode,
		fileMode: fileMode,
		uid:      uid,
		gid:      gid,
		inodes:   newInodeTable(),
		handles:  make(map[fuseops.HandleID]interface{}),
	}
}

func (fs *fileSystem) absPath(relative string) string {
	if relative == "" {
		return fs.root
	}
	return fs.root + "/" + relative
}

func (fs *fileSystem) attributesFor(ctx context.Context, relative string, isDir bool) (fuseops.InodeAttributes, error) {
	info, err := os.Lstat(fs.absPath(relative))
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}

	mode := fs.fileMode
	switch {
	case isDir:
		mode = fs.dirMode | os.ModeDir
	case info.Mode()&os.ModeSymlink != 0:
		mode = os.ModeSymlink | 0777
	}

	size := uint64(info.Size())
	if !isDir && info.Mode().IsRegular() {
		// The engine answers with a live record's authoritative size when
		// one is interned, else the header's size field; a file shorter
		// than a header never gets parsed at all.
		if logical, sizeErr := fs.engine.LogicalSize(ctx, relative); sizeErr == nil {
			size = uint64(logical)
		}
	}

	return statToAttributes(info, size, fs.uid, fs.gid, mode), nil
}

func (fs *fileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	parent := fs.inodes.get(op.Parent)
	fs.mu.Unlock()
	if parent == nil {
		return fuse.ENOENT
	}

	childRelative := joinRelative(parent.relative, op.Name)
	info, err := os.Lstat(fs.absPath(childRelative))
	if err != nil {
		return fuse.ENOENT
	}

	fs.mu.Lock()
	id := fs.inodes.lookup(childRelative, info.IsDir())
	fs.mu.Unlock()

	attrs, err := fs.attributesFor(ctx, childRelative, info.IsDir())
	if err != nil {
		return err
	}
	op.Entry.Child = id
	op.Entry.Attributes = attrs
	return nil
}

func (fs *fileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	rec := fs.inodes.get(op.Inode)
	fs.mu.Unlock()
	if rec == nil {
		return fuse.ENOENT
	}

	attrs, err := fs.attributesFor(ctx, rec.relative, rec.isDir)
	if err != nil {
		return err
	}
	op.Attributes = attrs
	return nil
}

func (fs *fileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	fs.mu.Lock()
	rec := fs.inodes.get(op.Inode)
	fs.mu.Unlock()
	if rec == nil {
		return fuse.ENOENT
	}

	abs := fs.absPath(rec.relative)

	if op.Mode != nil {
		if err := os.Chmod(abs, *op.Mode); err != nil {
			return err
		}
	}
	if op.Size != nil {
		// Any truncate to a non-zero size must fully decompress first: a
		// compressed body cannot be shortened in place. Truncate to zero
		// skips the decoder entirely.
		logger.Tracef("%s %q size %d", common.OpSetInodeAttributes, rec.relative, *op.Size)
		if err := fs.engine.Truncate(ctx, rec.relative, int64(*op.Size)); err != nil {
			return err
		}
	}

	attrs, err := fs.attributesFor(ctx, rec.relative, rec.isDir)
	if err != nil {
		return err
	}
	op.Attributes = attrs
	return nil
}

func (fs *fileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.inodes.forget(op.Inode, uint64(op.N))
	return nil
}

func (fs *fileSystem) BatchForget(ctx context.Context, op *fuseops.BatchForgetOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, entry := range op.Entries {
		fs.inodes.forget(entry.Inode, entry.N)
	}
	return nil
}

func (fs *fileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	fs.mu.Lock()
	parent := fs.inodes.get(op.Parent)
	fs.mu.Unlock()
	if parent == nil {
		return fuse.ENOENT
	}

	childRelative := joinRelative(parent.relative, op.Name)
	if err := os.Mkdir(fs.absPath(childRelative), op.Mode); err != nil {
		return err
	}

	fs.mu.Lock()
	id := fs.inodes.lookup(childRelative, true)
	fs.mu.Unlock()

	attrs, err := fs.attributesFor(ctx, childRelative, true)
	if err != nil {
		return err
	}
	op.Entry.Child = id
	op.Entry.Attributes = attrs
	return nil
}

func (fs *fileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	fs.mu.Lock()
	parent := fs.inodes.get(op.Parent)
	fs.mu.Unlock()
	if parent == nil {
		return fuse.ENOENT
	}
	childRelative := joinRelative(parent.relative, op.Name)
	return os.Remove(fs.absPath(childRelative))
}

func (fs *fileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	fs.mu.Lock()
	parent := fs.inodes.get(op.Parent)
	fs.mu.Unlock()
	if parent == nil {
		return fuse.ENOENT
	}

	childRelative := joinRelative(parent.relative, op.Name)
	logger.Tracef("%s %q", common.OpCreateFile, childRelative)
	f, err := os.OpenFile(fs.absPath(childRelative), os.O_CREATE|os.O_EXCL|os.O_RDWR, op.Mode)
	if err != nil {
		return err
	}
	f.Close()

	fs.mu.Lock()
	id := fs.inodes.lookup(childRelative, false)
	fs.mu.Unlock()

	attrs, err := fs.attributesFor(ctx, childRelative, false)
	if err != nil {
		return err
	}
	op.Entry.Child = id
	op.Entry.Attributes = attrs

	descriptor, err := fs.engine.Open(ctx, childRelative, compressfs.FlagWrite|compressfs.FlagRead)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	op.Handle = fs.allocHandle(&fileHandle{relative: childRelative, descriptor: descriptor})
	fs.mu.Unlock()
	return nil
}

// MkNode is a bare passthrough: device nodes and fifos never touch the
// registry.
func (fs *fileSystem) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	fs.mu.Lock()
	parent := fs.inodes.get(op.Parent)
	fs.mu.Unlock()
	if parent == nil {
		return fuse.ENOENT
	}

	childRelative := joinRelative(parent.relative, op.Name)
	smode := uint32(op.Mode.Perm())
	switch {
	case op.Mode&os.ModeNamedPipe != 0:
		smode |= syscall.S_IFIFO
	case op.Mode&os.ModeCharDevice != 0:
		smode |= syscall.S_IFCHR
	case op.Mode&os.ModeDevice != 0:
		smode |= syscall.S_IFBLK
	default:
		smode |= syscall.S_IFREG
	}
	if err := syscall.Mknod(fs.absPath(childRelative), smode, 0); err != nil {
		return err
	}

	fs.mu.Lock()
	id := fs.inodes.lookup(childRelative, false)
	fs.mu.Unlock()

	attrs, err := fs.attributesFor(ctx, childRelative, false)
	if err != nil {
		return err
	}
	op.Entry.Child = id
	op.Entry.Attributes = attrs
	return nil
}

func (fs *fileSystem) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	fs.mu.Lock()
	parent := fs.inodes.get(op.Parent)
	fs.mu.Unlock()
	if parent == nil {
		return fuse.ENOENT
	}
	childRelative := joinRelative(parent.relative, op.Name)
	if err := os.Symlink(op.Target, fs.absPath(childRelative)); err != nil {
		return err
	}
	fs.mu.Lock()
	id := fs.inodes.lookup(childRelative, false)
	fs.mu.Unlock()
	attrs, err := fs.attributesFor(ctx, childRelative, false)
	if err != nil {
		return err
	}
	op.Entry.Child = id
	op.Entry.Attributes = attrs
	return nil
}

func (fs *fileSystem) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	fs.mu.Lock()
	rec := fs.inodes.get(op.Inode)
	fs.mu.Unlock()
	if rec == nil {
		return fuse.ENOENT
	}
	target, err := os.Readlink(fs.absPath(rec.relative))
	if err != nil {
		return err
	}
	op.Target = target
	return nil
}

func (fs *fileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	fs.mu.Lock()
	parent := fs.inodes.get(op.Parent)
	fs.mu.Unlock()
	if parent == nil {
		return fuse.ENOENT
	}
	childRelative := joinRelative(parent.relative, op.Name)
	logger.Tracef("%s %q", common.OpUnlink, childRelative)
	fs.engine.Unlink(childRelative)
	return os.Remove(fs.absPath(childRelative))
}

func (fs *fileSystem) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	fs.mu.Lock()
	oldParent := fs.inodes.get(op.OldParent)
	newParent := fs.inodes.get(op.NewParent)
	fs.mu.Unlock()
	if oldParent == nil || newParent == nil {
		return fuse.ENOENT
	}

	oldRelative := joinRelative(oldParent.relative, op.OldName)
	newRelative := joinRelative(newParent.relative, op.NewName)
	logger.Tracef("%s %q -> %q", common.OpRename, oldRelative, newRelative)

	if err := os.Rename(fs.absPath(oldRelative), fs.absPath(newRelative)); err != nil {
		return err
	}

	fs.engine.Rename(oldRelative, newRelative)
	fs.mu.Lock()
	fs.inodes.rename(oldRelative, newRelative)
	fs.mu.Unlock()
	return nil
}

func (fs *fileSystem) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	fs.mu.Lock()
	parent := fs.inodes.get(op.Parent)
	target := fs.inodes.get(op.Target)
	fs.mu.Unlock()
	if parent == nil || target == nil {
		return fuse.ENOENT
	}

	// A hard link to a compressed file must decompress it first: POSIX hard
	// links share a single inode, and the engine's per-path Record model has
	// no representation for two names sharing one compressed body. The
	// source is pinned raw afterwards, so neither name re-compresses.
	logger.Tracef("%s %q", common.OpCreateLink, target.relative)
	if err := fs.engine.PrepareLink(ctx, target.relative); err != nil {
		return err
	}

	childRelative := joinRelative(parent.relative, op.Name)
	if err := os.Link(fs.absPath(target.relative), fs.absPath(childRelative)); err != nil {
		return err
	}

	fs.mu.Lock()
	id := fs.inodes.lookup(childRelative, false)
	fs.mu.Unlock()
	attrs, err := fs.attributesFor(ctx, childRelative, false)
	if err != nil {
		return err
	}
	op.Entry.Child = id
	op.Entry.Attributes = attrs
	return nil
}

func (fs *fileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	fs.mu.Lock()
	rec := fs.inodes.get(op.Inode)
	fs.mu.Unlock()
	if rec == nil {
		return fuse.ENOENT
	}

	entries, err := readDirEntries(fs.absPath(rec.relative), fs.inodes, rec.relative)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	op.Handle = fs.allocHandle(&dirHandle{relative: rec.relative, entries: entries})
	fs.mu.Unlock()
	return nil
}

func (fs *fileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	dh, _ := fs.handles[op.Handle].(*dirHandle)
	fs.mu.Unlock()
	if dh == nil {
		return fuse.EIO
	}

	for _, e := range dh.entries {
		if e.Offset <= op.Offset {
			continue
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *fileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.handles, op.Handle)
	return nil
}

func (fs *fileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	rec := fs.inodes.get(op.Inode)
	fs.mu.Unlock()
	if rec == nil {
		return fuse.ENOENT
	}

	// Write-only opens are upgraded to read-write (the header must be
	// readable even for pure writers), so every handle asks for both; the
	// engine degrades to a read-only descriptor when the backing file's
	// permissions demand it.
	logger.Tracef("%s %q", common.OpOpenFile, rec.relative)
	descriptor, err := fs.engine.Open(ctx, rec.relative, compressfs.FlagRead|compressfs.FlagWrite)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	op.Handle = fs.allocHandle(&fileHandle{relative: rec.relative, descriptor: descriptor})
	fs.mu.Unlock()
	op.KeepPageCache = false
	return nil
}

func (fs *fileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	fh, _ := fs.handles[op.Handle].(*fileHandle)
	fs.mu.Unlock()
	if fh == nil {
		return fuse.EIO
	}

	n, err := fs.engine.Read(ctx, fh.descriptor, op.Offset, op.Dst)
	op.BytesRead = n
	if err != nil && !errors.Is(err, io.EOF) {
		logger.Debugf("%s %q offset %d: %v", common.OpReadFile, fh.relative, op.Offset, err)
		return err
	}
	return nil
}

func (fs *fileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	fs.mu.Lock()
	fh, _ := fs.handles[op.Handle].(*fileHandle)
	fs.mu.Unlock()
	if fh == nil {
		return fuse.EIO
	}

	_, err := fs.engine.Write(ctx, fh.descriptor, op.Offset, op.Data)
	if err != nil {
		logger.Debugf("%s %q offset %d: %v", common.OpWriteFile, fh.relative, op.Offset, err)
	}
	return err
}

func (fs *fileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error  { return nil }
func (fs *fileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error { return nil }

func (fs *fileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	fh, _ := fs.handles[op.Handle].(*fileHandle)
	delete(fs.handles, op.Handle)
	fs.mu.Unlock()
	if fh == nil {
		return nil
	}
	logger.Tracef("%s %q", common.OpReleaseFileHandle, fh.relative)
	fs.engine.Release(fh.descriptor)
	return nil
}

func (fs *fileSystem) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	var st syscall.Statfs_t
	if err := syscall.Statfs(fs.root, &st); err != nil {
		logger.Warnf("statfs %s: %v", fs.root, err)
		return nil
	}
	op.Blocks = st.Blocks
	op.BlocksFree = st.Bfree
	op.BlocksAvailable = st.Bavail
	op.IoSize = 1 << 16
	return nil
}

// allocHandle must be called with fs.mu held.
func (fs *fileSystem) allocHandle(v interface{}) fuseops.HandleID {
	id := fs.nextHandle
	fs.nextHandle++
	fs.handles[id] = v
	return id
}
