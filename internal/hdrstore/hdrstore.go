// Package hdrstore implements HdrStore, the row-count accessor for the
// DB5000.HDR file. Only a single uint32 at a fixed offset matters to
// db5fuse; the rest of the header is opaque firmware metadata that is
// left untouched.
package hdrstore

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/julienblitte/db5fuse/internal/config"
	"github.com/julienblitte/db5fuse/internal/dberr"
	"github.com/julienblitte/db5fuse/internal/dlog"
	"github.com/julienblitte/db5fuse/internal/pathutil"
)

// Store caches the row count read at Open and keeps the backing file
// open read-write so Grow can rewrite it in place.
type Store struct {
	f     *os.File
	log   *dlog.Logger
	count uint32
}

// Open opens dir/DB5000.HDR (resolved case-insensitively) and reads the
// current row count.
func Open(dir string, log *dlog.Logger) (*Store, error) {
	f, err := pathutil.CaseOpen(dir, config.HdrFile, os.O_RDWR, 0)
	if err != nil {
		log.Log(dlog.Critical, "[hdr]init", "unable to init database: %v", err)
		return nil, dberr.Wrap(dberr.IoError, "hdrstore.Open", err)
	}

	s := &Store{f: f, log: log}
	if err := s.reload(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) reload() error {
	if _, err := s.f.Seek(config.CountOffset, io.SeekStart); err != nil {
		s.log.Log(dlog.Critical, "[hdr]init", "unable to find count value: %v", err)
		return dberr.Wrap(dberr.IoError, "hdrstore.reload", err)
	}
	if err := binary.Read(s.f, binary.LittleEndian, &s.count); err != nil {
		s.log.Log(dlog.Critical, "[hdr]init", "unable to read count value: %v", err)
		return dberr.Wrap(dberr.Corrupt, "hdrstore.reload", err)
	}
	return nil
}

// Close releases the backing file.
func (s *Store) Close() error {
	return s.f.Close()
}

// Count returns the cached row count.
func (s *Store) Count() uint32 {
	if s.count == 0 {
		s.log.Log(dlog.Notice, "[hdr]get", "the value count is zero")
	}
	return s.count
}

// Grow adjusts the row count by delta and flushes the new value to
// disk immediately, so a crash right after never leaves the in-memory
// count ahead of what's persisted.
func (s *Store) Grow(delta int) error {
	next := uint32(int64(s.count) + int64(delta))
	if int64(next) > config.MaxEntries {
		return dberr.New(dberr.Full, "hdrstore.Grow")
	}

	if _, err := s.f.Seek(config.CountOffset, io.SeekStart); err != nil {
		s.log.Log(dlog.Err, "[hdr]add", "unable to find count value: %v", err)
		return dberr.Wrap(dberr.IoError, "hdrstore.Grow", err)
	}
	if err := binary.Write(s.f, binary.LittleEndian, next); err != nil {
		s.log.Log(dlog.Err, "[hdr]add", "unable to write count value: %v", err)
		return dberr.Wrap(dberr.IoError, "hdrstore.Grow", err)
	}
	if err := s.f.Sync(); err != nil {
		s.log.Log(dlog.Err, "[hdr]add", "unable to write count value (flush): %v", err)
		return dberr.Wrap(dberr.IoError, "hdrstore.Grow", err)
	}

	s.count = next
	return nil
}
