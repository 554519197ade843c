package hdrstore

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/julienblitte/db5fuse/internal/config"
	"github.com/julienblitte/db5fuse/internal/dlog"
)

func newFixture(t *testing.T, count uint32) string {
	t.Helper()
	dir := t.TempDir()
	buf := make([]byte, config.CountOffset+4)
	binary.LittleEndian.PutUint32(buf[config.CountOffset:], count)
	if err := os.WriteFile(dir+"/"+config.HdrFile, buf, 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return dir
}

func newTestLogger(t *testing.T) *dlog.Logger {
	t.Helper()
	l, err := dlog.Open(t.TempDir()+"/test.log", dlog.Verbose)
	if err != nil {
		t.Fatalf("dlog.Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestOpenReadsCount(t *testing.T) {
	dir := newFixture(t, 42)
	s, err := Open(dir, newTestLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if got := s.Count(); got != 42 {
		t.Fatalf("Count() = %d, want 42", got)
	}
}

func TestGrowPersistsAcrossReopen(t *testing.T) {
	dir := newFixture(t, 10)
	log := newTestLogger(t)

	s, err := Open(dir, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Grow(3); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if got := s.Count(); got != 13 {
		t.Fatalf("Count() after Grow = %d, want 13", got)
	}
	s.Close()

	reopened, err := Open(dir, log)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if got := reopened.Count(); got != 13 {
		t.Fatalf("Count() after reopen = %d, want 13", got)
	}
}

func TestGrowRejectsOverflowPastMaxEntries(t *testing.T) {
	dir := newFixture(t, config.MaxEntries)
	log := newTestLogger(t)

	s, err := Open(dir, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Grow(1); err == nil {
		t.Fatal("expected error growing past MaxEntries")
	}
}
