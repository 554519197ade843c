// Package fsbridge exposes a Db as a flat FUSE directory: every row
// becomes one entry named by its long filename directly under the
// mountpoint's root, and every directory operation the kernel sends
// translates into a Db insert/update/delete/lookup call. It is the Go
// counterpart of fuse_implementation.c, wired onto
// github.com/jacobsa/fuse the way internal/fuse/fuse.go wires distri's
// package tree onto the same library.
package fsbridge

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/sys/unix"

	"github.com/julienblitte/db5fuse/internal/db5"
	"github.com/julienblitte/db5fuse/internal/dberr"
	"github.com/julienblitte/db5fuse/internal/dlog"
)

// FS implements fuseutil.FileSystem over a single Db. The namespace it
// presents has exactly one directory, the root, containing one entry
// per row; there is no notion of subdirectories, matching
// fuse_impl_readdir's "only root dir" check.
type FS struct {
	fuseutil.NotImplementedFileSystem

	db        *db5.Db
	log       *dlog.Logger
	mountTime time.Time

	mu        sync.Mutex
	nextInode fuseops.InodeID
	inodeOf   map[string]fuseops.InodeID
	nameOf    map[fuseops.InodeID]string

	handleMu   sync.Mutex
	nextHandle fuseops.HandleID
	openFiles  map[fuseops.HandleID]*os.File
}

// New builds an FS bridging db. Inode numbers are assigned on first
// reference and kept stable for the life of the mount, the same way
// fuseFS.allocateInodeLocked hands out numbers in internal/fuse/fuse.go
// — db5 rows have no inode of their own to reuse.
func New(d *db5.Db, log *dlog.Logger) *FS {
	return &FS{
		db:         d,
		log:        log,
		mountTime:  time.Now(),
		nextInode:  fuseops.RootInodeID + 1,
		inodeOf:    make(map[string]fuseops.InodeID),
		nameOf:     make(map[fuseops.InodeID]string),
		nextHandle: 1,
		openFiles:  make(map[fuseops.HandleID]*os.File),
	}
}

// Mount starts serving db at mountpoint and returns a join function
// that blocks until the filesystem is unmounted, mirroring the
// fuse.Mount/mfs.Join wiring of internal/fuse/fuse.go's Mount.
func Mount(ctx context.Context, mountpoint string, d *db5.Db, log *dlog.Logger) (func(context.Context) error, error) {
	fs := New(d, log)
	server := fuseutil.NewFileSystemServer(fs)

	mfs, err := fuse.Mount(mountpoint, server, &fuse.MountConfig{
		FSName: "db5fuse",
		Options: map[string]string{
			"allow_other": "",
		},
	})
	if err != nil {
		return nil, err
	}

	join := func(ctx context.Context) error {
		defer syscall.Unmount(mountpoint, 0)
		return mfs.Join(ctx)
	}
	return join, nil
}

// errno maps a dberr.Kind to the errno fuse_implementation.c returns
// for the corresponding failure, per its "exhaustive function returned
// values" table.
func errno(err error) error {
	switch dberr.As(err) {
	case dberr.NotFound:
		return syscall.ENOENT
	case dberr.AlreadyExists:
		return syscall.EEXIST
	case dberr.Invalid:
		return syscall.EINVAL
	case dberr.Full:
		return syscall.ENOSPC
	default:
		return syscall.EIO
	}
}

func (fs *FS) lockedInode(longname string) fuseops.InodeID {
	if inode, ok := fs.inodeOf[longname]; ok {
		return inode
	}
	inode := fs.nextInode
	fs.nextInode++
	fs.inodeOf[longname] = inode
	fs.nameOf[inode] = longname
	return inode
}

func (fs *FS) nameForInode(inode fuseops.InodeID) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	name, ok := fs.nameOf[inode]
	return name, ok
}

// rootAttributes mirrors fuse_impl_getattr's handling of "/": the
// reported size is db5_count(), the number of rows, not a block count —
// a real, if unusual, choice in the original rather than a mistake, so
// it is kept rather than replaced with 0 or the entry count times some
// nominal directory-entry size.
func (fs *FS) rootAttributes() fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  uint64(fs.db.Count()),
		Nlink: 2,
		Mode:  os.ModeDir | 0755,
		Atime: fs.mountTime,
		Mtime: fs.mountTime,
		Ctime: fs.mountTime,
	}
}

// fileAttributes mirrors fuse_impl_getattr's non-root branch: it stats
// the local file a longname resolves to and reports its real size and
// times, with a fixed regular-file mode.
func (fs *FS) fileAttributes(longname string) (fuseops.InodeAttributes, error) {
	abs, err := fs.db.AbsLocalfile(longname)
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}
	var st unix.Stat_t
	if err := unix.Stat(abs, &st); err != nil {
		return fuseops.InodeAttributes{}, dberr.Wrap(dberr.IoError, "fsbridge.fileAttributes", err)
	}
	atime, mtime := statTimes(st)
	return fuseops.InodeAttributes{
		Size:  uint64(st.Size),
		Nlink: 1,
		Mode:  0644,
		Atime: atime,
		Mtime: mtime,
		Ctime: mtime,
	}, nil
}

// statTimes converts a raw stat_t's atime/mtime fields to time.Time.
func statTimes(st unix.Stat_t) (atime, mtime time.Time) {
	return time.Unix(st.Atim.Sec, st.Atim.Nsec), time.Unix(st.Mtim.Sec, st.Mtim.Nsec)
}

func (fs *FS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	var st unix.Statfs_t
	if err := unix.Statfs(fs.db.DataDir(), &st); err != nil {
		fs.log.Log(dlog.Err, "[fuse]statfs", "error during statfs: %v", err)
		return syscall.EIO
	}
	op.BlockSize = uint32(st.Bsize)
	op.Blocks = st.Blocks
	op.BlocksFree = st.Bfree
	op.BlocksAvailable = st.Bavail
	op.IoSize = uint32(st.Bsize)
	return nil
}

func (fs *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	if op.Parent != fuseops.RootInodeID {
		return syscall.ENOENT
	}
	if !fs.db.Exists(op.Name) {
		return nil // same as ENOENT when op.Entry.Child is 0
	}
	attrs, err := fs.fileAttributes(op.Name)
	if err != nil {
		fs.log.Log(dlog.Err, "[fuse]lookup", "unable to get information from local file: %v", err)
		return errno(err)
	}
	fs.mu.Lock()
	op.Entry.Child = fs.lockedInode(op.Name)
	fs.mu.Unlock()
	op.Entry.Attributes = attrs
	return nil
}

func (fs *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	if op.Inode == fuseops.RootInodeID {
		op.Attributes = fs.rootAttributes()
		return nil
	}
	longname, ok := fs.nameForInode(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	attrs, err := fs.fileAttributes(longname)
	if err != nil {
		fs.log.Log(dlog.Err, "[fuse]getattr", "unable to find local file for %q", longname)
		return errno(err)
	}
	op.Attributes = attrs
	return nil
}

// SetInodeAttributes covers both fuse_impl_truncate (op.Size set) and
// fuse_impl_utimens (op.Atime/op.Mtime set); FUSE folds both C
// callbacks into one op here.
func (fs *FS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	if op.Inode == fuseops.RootInodeID {
		op.Attributes = fs.rootAttributes()
		return nil
	}
	longname, ok := fs.nameForInode(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	abs, err := fs.db.AbsLocalfile(longname)
	if err != nil {
		fs.log.Log(dlog.Err, "[fuse]setattr", "unable to find file %q", longname)
		return errno(err)
	}

	if op.Size != nil {
		if err := os.Truncate(abs, int64(*op.Size)); err != nil {
			fs.log.Log(dlog.Err, "[fuse]truncate", "unable to truncate local file: %v", err)
			return syscall.EIO
		}
	}

	if op.Atime != nil || op.Mtime != nil {
		atime, mtime := time.Now(), time.Now()
		var st unix.Stat_t
		if unix.Stat(abs, &st) == nil {
			atime, mtime = statTimes(st)
		}
		if op.Atime != nil {
			atime = *op.Atime
		}
		if op.Mtime != nil {
			mtime = *op.Mtime
		}
		if err := os.Chtimes(abs, atime, mtime); err != nil {
			fs.log.Log(dlog.Err, "[fuse]utimens", "unable to set access/modification time: %v", err)
			return syscall.EIO
		}
	}

	attrs, err := fs.fileAttributes(longname)
	if err != nil {
		return errno(err)
	}
	op.Attributes = attrs
	return nil
}

func (fs *FS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	if op.Inode != fuseops.RootInodeID {
		return syscall.ENOTDIR
	}
	return nil
}

func (fs *FS) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	return nil
}

// ReadDir mirrors fuse_impl_readdir: only the root directory exists,
// and its entries are whatever db5_select_filename (ListLongnames)
// currently returns, in row order.
func (fs *FS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	if op.Inode != fuseops.RootInodeID {
		return syscall.ENOENT
	}

	names, err := fs.db.ListLongnames()
	if err != nil {
		fs.log.Log(dlog.Err, "[fuse]readdir", "unable to get file information from database: %v", err)
		return syscall.EIO
	}

	fs.mu.Lock()
	entries := make([]fuseutil.Dirent, 0, len(names))
	for _, name := range names {
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(len(entries) + 1),
			Inode:  fs.lockedInode(name),
			Name:   name,
			Type:   fuseutil.DT_File,
		})
	}
	fs.mu.Unlock()

	if op.Offset > fuseops.DirOffset(len(entries)) {
		return syscall.EIO
	}
	for _, e := range entries[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *FS) registerHandle(f *os.File) fuseops.HandleID {
	fs.handleMu.Lock()
	defer fs.handleMu.Unlock()
	id := fs.nextHandle
	fs.nextHandle++
	fs.openFiles[id] = f
	return id
}

func (fs *FS) handle(id fuseops.HandleID) (*os.File, bool) {
	fs.handleMu.Lock()
	defer fs.handleMu.Unlock()
	f, ok := fs.openFiles[id]
	return f, ok
}

// CreateFile mirrors fuse_impl_create: reject an existing name, insert
// the row (which, since the local file doesn't exist yet, gets default
// tag values — the same as BuildRow's missing-file branch), then
// create the backing file on disk and hand back an open handle.
func (fs *FS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	if op.Parent != fuseops.RootInodeID {
		return syscall.ENOENT
	}
	if fs.db.Exists(op.Name) {
		fs.log.Log(dlog.Warning, "[fuse]create", "file %q already exists", op.Name)
		return syscall.EEXIST
	}
	if err := fs.db.Insert(op.Name); err != nil {
		fs.log.Log(dlog.Err, "[fuse]create", "unable to insert file %q in database: %v", op.Name, err)
		return syscall.EIO
	}
	abs, err := fs.db.AbsLocalfile(op.Name)
	if err != nil {
		fs.log.Log(dlog.Err, "[fuse]create", "unable to retrieve local file of %q: %v", op.Name, err)
		return syscall.EIO
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return syscall.EIO
	}
	f, err := os.OpenFile(abs, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		fs.log.Log(dlog.Err, "[fuse]open", "open fail: %v", err)
		return syscall.EIO
	}

	op.Handle = fs.registerHandle(f)
	attrs, err := fs.fileAttributes(op.Name)
	if err != nil {
		return errno(err)
	}
	fs.mu.Lock()
	op.Entry.Child = fs.lockedInode(op.Name)
	fs.mu.Unlock()
	op.Entry.Attributes = attrs
	return nil
}

func (fs *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	longname, ok := fs.nameForInode(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	abs, err := fs.db.AbsLocalfile(longname)
	if err != nil {
		fs.log.Log(dlog.Err, "[fuse]open", "unable to find file %q: %v", longname, err)
		return errno(err)
	}
	f, err := os.OpenFile(abs, os.O_RDWR, 0644)
	if err != nil {
		fs.log.Log(dlog.Err, "[fuse]open", "open fail: %v", err)
		return syscall.EIO
	}
	op.Handle = fs.registerHandle(f)
	return nil
}

func (fs *FS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	f, ok := fs.handle(op.Handle)
	if !ok {
		return syscall.EBADF
	}
	n, err := f.ReadAt(op.Dst, op.Offset)
	op.BytesRead = n
	if err == io.EOF {
		err = nil
	}
	return err
}

func (fs *FS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	f, ok := fs.handle(op.Handle)
	if !ok {
		return syscall.EBADF
	}
	_, err := f.WriteAt(op.Data, op.Offset)
	return err
}

func (fs *FS) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	f, ok := fs.handle(op.Handle)
	if !ok {
		return syscall.EBADF
	}
	if err := f.Sync(); err != nil {
		fs.log.Log(dlog.Err, "[fuse]fsync", "sync fail: %v", err)
		return syscall.EIO
	}
	return nil
}

// FlushFile mirrors fuse_impl_flush: it tries to refresh the row from
// the just-written file, but a failure there is only logged, never
// returned — flush always succeeds in the original.
func (fs *FS) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	if longname, ok := fs.nameForInode(op.Inode); ok {
		if err := fs.db.Update(longname); err != nil {
			fs.log.Log(dlog.Warning, "[fuse]flush", "unable to update database for %q: %v", longname, err)
		}
	}
	return nil
}

func (fs *FS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.handleMu.Lock()
	f, ok := fs.openFiles[op.Handle]
	delete(fs.openFiles, op.Handle)
	fs.handleMu.Unlock()
	if ok {
		f.Close()
	}
	return nil
}

// Unlink mirrors fuse_impl_unlink: the database row is removed first;
// if the local file itself cannot be removed afterwards, that failure
// is only logged (ADDLOG_RECOVER), not returned.
func (fs *FS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	if op.Parent != fuseops.RootInodeID {
		return syscall.ENOENT
	}
	abs, err := fs.db.AbsLocalfile(op.Name)
	if err != nil {
		fs.log.Log(dlog.Warning, "[fuse]unlink", "unable to find file %q", op.Name)
		return errno(err)
	}
	if err := fs.db.Delete(op.Name); err != nil {
		fs.log.Log(dlog.Err, "[fuse]unlink", "unable to remove file %q from database: %v", op.Name, err)
		return errno(err)
	}
	if err := os.Remove(abs); err != nil {
		fs.log.Log(dlog.Warning, "[fuse]unlink", "unable to remove local file: %v", err)
	}
	fs.mu.Lock()
	if inode, ok := fs.inodeOf[op.Name]; ok {
		delete(fs.inodeOf, op.Name)
		delete(fs.nameOf, inode)
	}
	fs.mu.Unlock()
	return nil
}

// Rename mirrors fuse_impl_rename's four-step dance: validate both
// names, insert the destination row (built from a not-yet-renamed file,
// so it gets default tag values), rename the backing file, delete the
// source row, then refresh the destination row now that its file is in
// place. Like the original, a failure in that last refresh is not
// propagated.
func (fs *FS) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	if op.OldParent != fuseops.RootInodeID || op.NewParent != fuseops.RootInodeID {
		return syscall.ENOENT
	}
	if !fs.db.Exists(op.OldName) {
		fs.log.Log(dlog.Warning, "[fuse]rename", "source file %q does not exist", op.OldName)
		return syscall.ENOENT
	}
	if fs.db.Exists(op.NewName) {
		fs.log.Log(dlog.Warning, "[fuse]rename", "destination file %q already exists", op.NewName)
		return syscall.EEXIST
	}

	absOld, err := fs.db.AbsLocalfile(op.OldName)
	if err != nil {
		fs.log.Log(dlog.Err, "[fuse]rename", "unable to locate local file of %q: %v", op.OldName, err)
		return syscall.EIO
	}

	if err := fs.db.Insert(op.NewName); err != nil {
		fs.log.Log(dlog.Err, "[fuse]rename", "unable to insert %q in database: %v", op.NewName, err)
		return syscall.EIO
	}
	absNew, err := fs.db.AbsLocalfile(op.NewName)
	if err != nil {
		fs.log.Log(dlog.Err, "[fuse]rename", "unable to locate local file of %q: %v", op.NewName, err)
		return syscall.EIO
	}

	if err := os.Rename(absOld, absNew); err != nil {
		fs.log.Log(dlog.Err, "[fuse]rename", "unable to rename local file: %v", err)
		return syscall.EIO
	}

	if err := fs.db.Delete(op.OldName); err != nil {
		fs.log.Log(dlog.Err, "[fuse]rename", "unable to remove %q from database: %v", op.OldName, err)
		return syscall.EIO
	}

	if err := fs.db.Update(op.NewName); err != nil {
		fs.log.Log(dlog.Warning, "[fuse]rename", "unable to refresh database entry for %q: %v", op.NewName, err)
	}

	fs.mu.Lock()
	if inode, ok := fs.inodeOf[op.OldName]; ok {
		delete(fs.inodeOf, op.OldName)
		delete(fs.nameOf, inode)
	}
	delete(fs.inodeOf, op.NewName) // drop any stale inode CreateFile/lookup assigned it
	fs.mu.Unlock()
	return nil
}

func (fs *FS) Destroy() {
	fs.log.Log(dlog.Notice, "[fuse]destroy", "building indexes")
	if err := fs.db.Reindex(); err != nil {
		fs.log.Log(dlog.Err, "[fuse]destroy", "reindex failed: %v", err)
	}
	fs.log.Log(dlog.Notice, "[fuse]destroy", "exiting filesystem")
	fs.db.Close()
}
