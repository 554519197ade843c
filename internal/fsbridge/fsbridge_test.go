package fsbridge

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/julienblitte/db5fuse/internal/config"
	"github.com/julienblitte/db5fuse/internal/db5"
	"github.com/julienblitte/db5fuse/internal/dlog"
)

func newTestLogger(t *testing.T) *dlog.Logger {
	t.Helper()
	l, err := dlog.Open(t.TempDir()+"/test.log", dlog.Verbose)
	if err != nil {
		t.Fatalf("dlog.Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func setupFS(t *testing.T) *FS {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, config.DataDir)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, config.MusicDir), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, config.HdrFile), make([]byte, config.CountOffset+4), 0644); err != nil {
		t.Fatalf("write hdr: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, config.DatFile), nil, 0644); err != nil {
		t.Fatalf("write dat: %v", err)
	}
	d, err := db5.Open(root, newTestLogger(t))
	if err != nil {
		t.Fatalf("db5.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return New(d, newTestLogger(t))
}

func TestReadDirEmpty(t *testing.T) {
	fs := setupFS(t)
	ctx := context.Background()

	op := &fuseops.ReadDirOp{Inode: fuseops.RootInodeID, Dst: make([]byte, 4096)}
	if err := fs.ReadDir(ctx, op); err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if op.BytesRead != 0 {
		t.Fatalf("BytesRead = %d, want 0", op.BytesRead)
	}
}

func TestCreateWriteReadFlushRelease(t *testing.T) {
	fs := setupFS(t)
	ctx := context.Background()

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "Song.mp3"}
	if err := fs.CreateFile(ctx, create); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if create.Handle == 0 {
		t.Fatalf("CreateFile did not assign a handle")
	}
	if create.Entry.Child == 0 {
		t.Fatalf("CreateFile did not assign a child inode")
	}

	payload := []byte("hello world")
	write := &fuseops.WriteFileOp{Handle: create.Handle, Offset: 0, Data: payload}
	if err := fs.WriteFile(ctx, write); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	read := &fuseops.ReadFileOp{Handle: create.Handle, Offset: 0, Dst: make([]byte, len(payload))}
	if err := fs.ReadFile(ctx, read); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if read.BytesRead != len(payload) || !bytes.Equal(read.Dst[:read.BytesRead], payload) {
		t.Fatalf("ReadFile round-trip = %q, want %q", read.Dst[:read.BytesRead], payload)
	}

	flush := &fuseops.FlushFileOp{Inode: create.Entry.Child, Handle: create.Handle}
	if err := fs.FlushFile(ctx, flush); err != nil {
		t.Fatalf("FlushFile: %v", err)
	}

	release := &fuseops.ReleaseFileHandleOp{Handle: create.Handle}
	if err := fs.ReleaseFileHandle(ctx, release); err != nil {
		t.Fatalf("ReleaseFileHandle: %v", err)
	}
	if _, ok := fs.handle(create.Handle); ok {
		t.Fatalf("handle %d still registered after release", create.Handle)
	}

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "Song.mp3"}
	if err := fs.LookUpInode(ctx, lookup); err != nil {
		t.Fatalf("LookUpInode: %v", err)
	}
	if lookup.Entry.Child != create.Entry.Child {
		t.Fatalf("LookUpInode child = %d, want %d", lookup.Entry.Child, create.Entry.Child)
	}
	if lookup.Entry.Attributes.Size != uint64(len(payload)) {
		t.Fatalf("Attributes.Size = %d, want %d", lookup.Entry.Attributes.Size, len(payload))
	}
}

func TestGetInodeAttributesRoot(t *testing.T) {
	fs := setupFS(t)
	ctx := context.Background()

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "Track.mp3"}
	if err := fs.CreateFile(ctx, create); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	op := &fuseops.GetInodeAttributesOp{Inode: fuseops.RootInodeID}
	if err := fs.GetInodeAttributes(ctx, op); err != nil {
		t.Fatalf("GetInodeAttributes: %v", err)
	}
	if op.Attributes.Size != uint64(fs.db.Count()) {
		t.Fatalf("root Size = %d, want row count %d", op.Attributes.Size, fs.db.Count())
	}
}

func TestUnlinkRemovesRowAndFile(t *testing.T) {
	fs := setupFS(t)
	ctx := context.Background()

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "Gone.mp3"}
	if err := fs.CreateFile(ctx, create); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	abs, err := fs.db.AbsLocalfile("Gone.mp3")
	if err != nil {
		t.Fatalf("AbsLocalfile: %v", err)
	}

	if err := fs.Unlink(ctx, &fuseops.UnlinkOp{Parent: fuseops.RootInodeID, Name: "Gone.mp3"}); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if fs.db.Exists("Gone.mp3") {
		t.Fatalf("Exists(Gone.mp3) = true after unlink")
	}
	if _, err := os.Stat(abs); err == nil {
		t.Fatalf("local file %q still present after unlink", abs)
	}
}

func TestRenameMovesRowAndFile(t *testing.T) {
	fs := setupFS(t)
	ctx := context.Background()

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "Old.mp3"}
	if err := fs.CreateFile(ctx, create); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	rename := &fuseops.RenameOp{
		OldParent: fuseops.RootInodeID, OldName: "Old.mp3",
		NewParent: fuseops.RootInodeID, NewName: "New.mp3",
	}
	if err := fs.Rename(ctx, rename); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if fs.db.Exists("Old.mp3") {
		t.Fatalf("Exists(Old.mp3) = true after rename")
	}
	if !fs.db.Exists("New.mp3") {
		t.Fatalf("Exists(New.mp3) = false after rename")
	}
}

func TestSetInodeAttributesTruncates(t *testing.T) {
	fs := setupFS(t)
	ctx := context.Background()

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "Sized.mp3"}
	if err := fs.CreateFile(ctx, create); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	write := &fuseops.WriteFileOp{Handle: create.Handle, Offset: 0, Data: []byte("0123456789")}
	if err := fs.WriteFile(ctx, write); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	size := uint64(4)
	op := &fuseops.SetInodeAttributesOp{Inode: create.Entry.Child, Size: &size}
	if err := fs.SetInodeAttributes(ctx, op); err != nil {
		t.Fatalf("SetInodeAttributes: %v", err)
	}
	if op.Attributes.Size != size {
		t.Fatalf("Attributes.Size = %d, want %d", op.Attributes.Size, size)
	}
}
