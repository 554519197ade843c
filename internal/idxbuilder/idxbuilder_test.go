package idxbuilder

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/julienblitte/db5fuse/internal/codec"
	"github.com/julienblitte/db5fuse/internal/config"
	"github.com/julienblitte/db5fuse/internal/datstore"
	"github.com/julienblitte/db5fuse/internal/dlog"
	"github.com/julienblitte/db5fuse/internal/hdrstore"
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

func setupDevice(t *testing.T, titles []string) (string, *datstore.Store) {
	t.Helper()
	dir := t.TempDir()
	log := newTestLogger(t)

	hdrBuf := make([]byte, config.CountOffset+4)
	if err := os.WriteFile(dir+"/"+config.HdrFile, hdrBuf, 0644); err != nil {
		t.Fatalf("setup hdr: %v", err)
	}
	if err := os.WriteFile(dir+"/"+config.DatFile, nil, 0644); err != nil {
		t.Fatalf("setup dat: %v", err)
	}

	hdr, err := hdrstore.Open(dir, log)
	if err != nil {
		t.Fatalf("hdrstore.Open: %v", err)
	}
	t.Cleanup(func() { hdr.Close() })

	dat, err := datstore.Open(dir, hdr, log)
	if err != nil {
		t.Fatalf("datstore.Open: %v", err)
	}
	t.Cleanup(func() { dat.Close() })

	for i, title := range titles {
		var row datstore.Row
		codec.PutLatin1(row.Title[:40], title)
		codec.Widen(row.Title[:])
		row.Track = uint32(len(titles) - i)
		if err := dat.Insert(row); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	return dir, dat
}

func TestReindexAllProducesSortedStringIndex(t *testing.T) {
	dir, dat := setupDevice(t, []string{"Charlie", "alpha", "Bravo"})
	log := newTestLogger(t)

	b := New(dir, dat, log)
	if err := b.ReindexAll(); err != nil {
		t.Fatalf("ReindexAll: %v", err)
	}

	data, err := os.ReadFile(dir + "/DB5000_TIT2.IDX")
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	if len(data)%12 != 0 {
		t.Fatalf("index size %d not a multiple of 12", len(data))
	}
	if len(data)/12 != 3 {
		t.Fatalf("index entry count = %d, want 3", len(data)/12)
	}

	var positions []uint32
	for i := 0; i < len(data); i += 12 {
		_ = binary.LittleEndian.Uint32(data[i:])
		positions = append(positions, binary.LittleEndian.Uint32(data[i+4:]))
	}
	// "alpha" < "Bravo" < "Charlie" case-insensitively, and rows were
	// inserted Charlie(0), alpha(1), Bravo(2).
	want := []uint32{1, 2, 0}
	for i := range want {
		if positions[i] != want[i] {
			t.Fatalf("positions = %v, want %v", positions, want)
		}
	}
}

func TestReindexAllProducesSortedNumericIndex(t *testing.T) {
	dir, dat := setupDevice(t, []string{"a", "b", "c"})
	log := newTestLogger(t)

	b := New(dir, dat, log)
	if err := b.ReindexAll(); err != nil {
		t.Fatalf("ReindexAll: %v", err)
	}

	data, err := os.ReadFile(dir + "/DB5000_TRCK.IDX")
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	if len(data)/12 != 3 {
		t.Fatalf("entry count = %d, want 3", len(data)/12)
	}

	var uids []uint32
	for i := 0; i < len(data); i += 12 {
		uids = append(uids, binary.LittleEndian.Uint32(data[i+8:]))
	}
	// tracks inserted as 3, 2, 1; ascending sort gives 1, 2, 3.
	want := []uint32{1, 2, 3}
	for i := range want {
		if uids[i] != want[i] {
			t.Fatalf("uids = %v, want %v", uids, want)
		}
	}
}
