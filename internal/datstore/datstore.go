// Package datstore implements DatStore, the fixed-size record store
// backing DB5000.DAT. Every row is RecordSize bytes, read and written
// with encoding/binary so the wire layout stays bit-exact regardless of
// host struct padding.
package datstore

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/julienblitte/db5fuse/internal/codec"
	"github.com/julienblitte/db5fuse/internal/config"
	"github.com/julienblitte/db5fuse/internal/dberr"
	"github.com/julienblitte/db5fuse/internal/dlog"
	"github.com/julienblitte/db5fuse/internal/hdrstore"
	"github.com/julienblitte/db5fuse/internal/pathutil"
)

// ErrNotFound is returned in place of a row position by SelectByFilename
// when no row's filename field matches.
const ErrNotFound = ^uint32(0)

// Row is the on-disk layout of one DAT record, RecordSize bytes wide,
// little-endian throughout.
type Row struct {
	Hidden     uint32
	Reserved   [2]uint32
	Filepath   [56]byte
	Filename   [32]byte
	Bitrate    uint32
	Samplerate uint32
	Duration   uint32
	Artist     [80]byte
	Album      [80]byte
	Genre      [40]byte
	Title      [80]byte
	Track      uint32
	Year       uint32
	Filesize   uint32
	Source     uint32
}

// Source enum values for Row.Source.
const (
	SourceFile    = 0
	SourceOptical = 1
	SourceAnalog  = 2
	SourceMicro   = 3
)

// StringColumn is one row's narrowed string-field value.
type StringColumn struct {
	Hidden   uint32
	Position uint32
	Value    string
	CRC32    uint32
}

// NumberColumn is one row's numeric-field value.
type NumberColumn struct {
	Hidden   uint32
	Position uint32
	Value    uint32
}

// Store wraps the open DAT file. Row count comes from an hdrstore.Store
// kept in sync on every insert/delete, matching the original's coupling
// between db5_dat.c and db5_hdr.c.
type Store struct {
	f   *os.File
	hdr *hdrstore.Store
	log *dlog.Logger
}

// Open opens dir/DB5000.DAT (resolved case-insensitively) for read and
// write.
func Open(dir string, hdr *hdrstore.Store, log *dlog.Logger) (*Store, error) {
	f, err := pathutil.CaseOpen(dir, config.DatFile, os.O_RDWR, 0)
	if err != nil {
		log.Log(dlog.Critical, "[dat]init", "unable to init database: %v", err)
		return nil, dberr.Wrap(dberr.IoError, "datstore.Open", err)
	}
	return &Store{f: f, hdr: hdr, log: log}, nil
}

// Close releases the backing file.
func (s *Store) Close() error {
	return s.f.Close()
}

func (s *Store) seek(index uint32) error {
	_, err := s.f.Seek(int64(index)*config.RecordSize, io.SeekStart)
	return err
}

// Select reads the row at index. It reads at an absolute offset without
// moving the shared file position, so concurrent Select calls (as made
// by the index builders) do not interfere with each other.
func (s *Store) Select(index uint32) (Row, error) {
	var row Row
	section := io.NewSectionReader(s.f, int64(index)*config.RecordSize, config.RecordSize)
	if err := binary.Read(section, binary.LittleEndian, &row); err != nil {
		s.log.Log(dlog.Err, "[dat]read", "unable to read into database: %v", err)
		return row, dberr.Wrap(dberr.IoError, "datstore.Select", err)
	}
	return row, nil
}

// Update overwrites the row at index.
func (s *Store) Update(index uint32, row Row) error {
	if err := s.seek(index); err != nil {
		s.log.Log(dlog.Err, "[dat]alter", "unable to find database row (writing): %v", err)
		return dberr.Wrap(dberr.IoError, "datstore.Update", err)
	}
	if err := binary.Write(s.f, binary.LittleEndian, &row); err != nil {
		s.log.Log(dlog.Err, "[dat]alter", "unable to write into database: %v", err)
		return dberr.Wrap(dberr.IoError, "datstore.Update", err)
	}
	return nil
}

// Insert appends row after the last physically present record and
// grows the header count by one.
func (s *Store) Insert(row Row) error {
	if int64(s.hdr.Count()) >= config.MaxEntries {
		s.log.Log(dlog.Err, "[dat]add", "database is full")
		return dberr.New(dberr.Full, "datstore.Insert")
	}

	if err := s.seek(s.hdr.Count()); err != nil {
		s.log.Log(dlog.Err, "[dat]add", "unable to add database row: %v", err)
		return dberr.Wrap(dberr.IoError, "datstore.Insert", err)
	}
	if err := binary.Write(s.f, binary.LittleEndian, &row); err != nil {
		s.log.Log(dlog.Err, "[dat]add", "unable to write into database: %v", err)
		return dberr.Wrap(dberr.IoError, "datstore.Insert", err)
	}

	if err := s.hdr.Grow(1); err != nil {
		s.log.Log(dlog.Err, "[dat]add", "unable to update meta-database: %v", err)
		return err
	}
	return nil
}

// Delete removes the row at index. If index is not the last row, the
// last row's content is copied into index's slot first (order is not
// preserved). The header count is decremented, then the file is
// truncated to the new row count, so it holds exactly count rows;
// callers must reindex afterward since row order changes.
func (s *Store) Delete(index uint32) error {
	count := s.hdr.Count()
	if index >= count {
		s.log.Log(dlog.Err, "[dat]delete", "index out of database (%d)", index)
		return dberr.New(dberr.NotFound, "datstore.Delete")
	}

	if index != count-1 {
		last, err := s.Select(count - 1)
		if err != nil {
			return err
		}
		if err := s.Update(index, last); err != nil {
			return err
		}
	}

	if err := s.hdr.Grow(-1); err != nil {
		s.log.Log(dlog.Err, "[dat]delete", "unable to update meta-database: %v", err)
		return err
	}

	if err := s.f.Truncate(int64(count-1) * config.RecordSize); err != nil {
		s.log.Log(dlog.Err, "[dat]delete", "unable to resize database file: %v", err)
		return dberr.Wrap(dberr.IoError, "datstore.Delete", err)
	}
	return nil
}

// SelectByFilename widens shortname into the Row.Filename on-disk form
// and linear-scans every row for an exact match.
func (s *Store) SelectByFilename(shortname string) (uint32, error) {
	wide := make([]byte, 32)
	codec.PutLatin1(wide[:16], shortname)
	codec.Widen(wide)

	count := s.hdr.Count()
	for i := uint32(0); i < count; i++ {
		row, err := s.Select(i)
		if err != nil {
			s.log.Log(dlog.Err, "[dat]select_by_filename", "error reading database: %v", err)
			return ErrNotFound, err
		}
		if string(row.Filename[:]) == string(wide) {
			return i, nil
		}
	}
	return ErrNotFound, dberr.New(dberr.NotFound, "datstore.SelectByFilename")
}

// ExtractStringColumn narrows field(row) for every physically present
// row and returns the values with their row positions, producer
// allocating the whole slice up front the way the original's
// calloc-then-fill extraction did.
func (s *Store) ExtractStringColumn(field func(*Row) []byte) ([]StringColumn, error) {
	count := s.hdr.Count()
	result := make([]StringColumn, 0, count)
	for i := uint32(0); i < count; i++ {
		row, err := s.Select(i)
		if err != nil {
			s.log.Log(dlog.Err, "[dat]select_string_column", "error reading database: %v", err)
			return nil, err
		}
		buf := append([]byte(nil), field(&row)...)
		codec.Narrow(buf)
		value := codec.GetLatin1(buf[:len(buf)/2])
		result = append(result, StringColumn{
			Hidden:   row.Hidden,
			Position: i,
			Value:    value,
			CRC32:    codec.CRC32String(value),
		})
	}
	return result, nil
}

// ExtractNumberColumn returns field(row) for every physically present
// row with its row position.
func (s *Store) ExtractNumberColumn(field func(*Row) uint32) ([]NumberColumn, error) {
	count := s.hdr.Count()
	result := make([]NumberColumn, 0, count)
	for i := uint32(0); i < count; i++ {
		row, err := s.Select(i)
		if err != nil {
			return nil, err
		}
		result = append(result, NumberColumn{Hidden: row.Hidden, Position: i, Value: field(&row)})
	}
	return result, nil
}
