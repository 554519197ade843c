package fsck

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/julienblitte/db5fuse/internal/config"
	"github.com/julienblitte/db5fuse/internal/db5"
	"github.com/julienblitte/db5fuse/internal/dlog"
	"github.com/julienblitte/db5fuse/internal/namesdb"
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

func setupDevice(t *testing.T) string {
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
	return root
}

func openDb(t *testing.T, root string) *db5.Db {
	t.Helper()
	d, err := db5.Open(root, newTestLogger(t))
	if err != nil {
		t.Fatalf("db5.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestCheckFixesRowCountMismatch(t *testing.T) {
	root := setupDevice(t)
	d := openDb(t, root)

	longname := "Track.mp3"
	shortname := namesdb.GenerateShortname(longname)
	if err := os.WriteFile(filepath.Join(root, config.MusicDir, shortname), nil, 0644); err != nil {
		t.Fatalf("write music file: %v", err)
	}
	if err := d.Insert(longname); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := d.SetCount(5); err != nil {
		t.Fatalf("SetCount: %v", err)
	}

	c := New(d, newTestLogger(t))
	if err := c.Check(true); err != nil {
		t.Fatalf("Check(true): %v", err)
	}
	if d.Count() != 1 {
		t.Fatalf("Count() after fix = %d, want 1", d.Count())
	}
}

func TestCheckReadOnlyNeverMutates(t *testing.T) {
	root := setupDevice(t)
	d := openDb(t, root)

	if err := d.SetCount(3); err != nil {
		t.Fatalf("SetCount: %v", err)
	}

	c := New(d, newTestLogger(t))
	if err := c.Check(false); err != nil {
		t.Fatalf("Check(false): %v", err)
	}
	if d.Count() != 3 {
		t.Fatalf("Count() after read-only check = %d, want unchanged 3", d.Count())
	}
}

func TestCheckFailsReadOnlyWhenMusicDirMissing(t *testing.T) {
	root := setupDevice(t)
	d := openDb(t, root)
	if err := os.RemoveAll(filepath.Join(root, config.MusicDir)); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}

	c := New(d, newTestLogger(t))
	if err := c.Check(false); err == nil {
		t.Fatalf("Check(false) with missing music dir succeeded, want error")
	}
}

func TestCheckRecreatesMusicDirWhenFixing(t *testing.T) {
	root := setupDevice(t)
	d := openDb(t, root)
	musicDir := filepath.Join(root, config.MusicDir)
	if err := os.RemoveAll(musicDir); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}

	c := New(d, newTestLogger(t))
	if err := c.Check(true); err != nil {
		t.Fatalf("Check(true): %v", err)
	}
	info, err := os.Stat(musicDir)
	if err != nil || !info.IsDir() {
		t.Fatalf("music directory not recreated: %v", err)
	}
}

func TestCheckRecreatesMissingMusicFile(t *testing.T) {
	root := setupDevice(t)
	d := openDb(t, root)

	longname := "Track.mp3"
	shortname := namesdb.GenerateShortname(longname)
	musicPath := filepath.Join(root, config.MusicDir, shortname)
	if err := os.WriteFile(musicPath, nil, 0644); err != nil {
		t.Fatalf("write music file: %v", err)
	}
	if err := d.Insert(longname); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := os.Remove(musicPath); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	c := New(d, newTestLogger(t))
	if err := c.Check(true); err != nil {
		t.Fatalf("Check(true): %v", err)
	}
	if _, err := os.Stat(musicPath); err != nil {
		t.Fatalf("music file not recreated: %v", err)
	}
}

func TestCheckInsertsOrphanFile(t *testing.T) {
	root := setupDevice(t)
	d := openDb(t, root)

	orphan := "orphan.mp3"
	if err := os.WriteFile(filepath.Join(root, config.MusicDir, orphan), nil, 0644); err != nil {
		t.Fatalf("write orphan file: %v", err)
	}

	c := New(d, newTestLogger(t))
	if err := c.Check(true); err != nil {
		t.Fatalf("Check(true): %v", err)
	}
	if !d.ShortnameExists(orphan) {
		t.Fatalf("ShortnameExists(%q) = false after fix, want true", orphan)
	}

	names, err := d.ListLongnames()
	if err != nil {
		t.Fatalf("ListLongnames: %v", err)
	}
	if len(names) != 1 || names[0] != orphan {
		t.Fatalf("ListLongnames() = %v, want [%q] (orphan surfaces under its own short name)", names, orphan)
	}
}

func TestCheckSkipsOrphanWithUnknownExtension(t *testing.T) {
	root := setupDevice(t)
	d := openDb(t, root)

	if err := os.WriteFile(filepath.Join(root, config.MusicDir, "notes.txt"), nil, 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	c := New(d, newTestLogger(t))
	if err := c.Check(true); err != nil {
		t.Fatalf("Check(true): %v", err)
	}
	if d.Count() != 0 {
		t.Fatalf("Count() = %d, want 0 (non-media file must not be inserted)", d.Count())
	}
}
