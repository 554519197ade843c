// Package idxbuilder builds the eight DB5000_CCCC.IDX column indexes
// from the live DAT contents. Each index is a sorted array of
// {hidden, position, uid} entries pointing back into the DAT file by
// row position.
package idxbuilder

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/julienblitte/db5fuse/internal/config"
	"github.com/julienblitte/db5fuse/internal/datstore"
	"github.com/julienblitte/db5fuse/internal/dberr"
	"github.com/julienblitte/db5fuse/internal/dlog"
	"github.com/julienblitte/db5fuse/internal/pathutil"
)

// Entry is one 12-byte ColumnIndexEntry record.
type Entry struct {
	Hidden   uint32
	Position uint32
	UID      uint32
}

// Column describes one indexed field: its 4-byte ASCII code, whether
// its sort key is numeric, and how to read it out of a Row.
type Column struct {
	Code      [4]byte
	Numeric   bool
	String    func(*datstore.Row) []byte
	Number    func(*datstore.Row) uint32
}

// Columns is the fixed, ordered set of indexed fields, per the layout
// baked into the device firmware.
var Columns = []Column{
	{Code: [4]byte{'F', 'N', 'A', 'M'}, String: func(r *datstore.Row) []byte { return r.Filename[:] }},
	{Code: [4]byte{'F', 'P', 'T', 'H'}, String: func(r *datstore.Row) []byte { return r.Filepath[:] }},
	{Code: [4]byte{'T', 'A', 'L', 'B'}, String: func(r *datstore.Row) []byte { return r.Album[:] }},
	{Code: [4]byte{'T', 'C', 'O', 'N'}, String: func(r *datstore.Row) []byte { return r.Genre[:] }},
	{Code: [4]byte{'T', 'I', 'T', '2'}, String: func(r *datstore.Row) []byte { return r.Title[:] }},
	{Code: [4]byte{'T', 'P', 'E', '1'}, String: func(r *datstore.Row) []byte { return r.Artist[:] }},
	{Code: [4]byte{'T', 'R', 'C', 'K'}, Numeric: true, Number: func(r *datstore.Row) uint32 { return r.Track }},
	{Code: [4]byte{'X', 'S', 'R', 'C'}, Numeric: true, Number: func(r *datstore.Row) uint32 { return r.Source }},
}

// Builder writes IDX files into a device's data directory.
type Builder struct {
	dir string
	dat *datstore.Store
	log *dlog.Logger
}

// New returns a Builder writing into dir.
func New(dir string, dat *datstore.Store, log *dlog.Logger) *Builder {
	return &Builder{dir: dir, dat: dat, log: log}
}

// ReindexAll rebuilds every column's IDX file concurrently. It
// succeeds only if every column indexes without error; on any failure
// the already-written IDX files for other columns are left in place,
// to be overwritten on the next successful reindex.
func (b *Builder) ReindexAll() error {
	var g errgroup.Group
	for _, col := range Columns {
		col := col
		g.Go(func() error {
			return b.indexColumn(col)
		})
	}
	return g.Wait()
}

func (b *Builder) indexColumn(col Column) error {
	label := string(col.Code[:])

	var entries []Entry
	if col.Numeric {
		values, err := b.dat.ExtractNumberColumn(col.Number)
		if err != nil {
			b.log.Log(dlog.Err, "[idx]index_num", "error while indexing '%s' (select): %v", label, err)
			return err
		}
		slices.SortFunc(values, func(a, b datstore.NumberColumn) bool {
			return int32(a.Value-b.Value) < 0
		})
		for _, v := range values {
			entries = append(entries, Entry{Hidden: v.Hidden, Position: v.Position, UID: v.Value})
		}
	} else {
		values, err := b.dat.ExtractStringColumn(col.String)
		if err != nil {
			b.log.Log(dlog.Err, "[idx]index_str", "error while indexing '%s' (select): %v", label, err)
			return err
		}
		slices.SortFunc(values, func(a, b datstore.StringColumn) bool {
			return caseInsensitiveLess(a.Value, b.Value)
		})
		for _, v := range values {
			entries = append(entries, Entry{Hidden: v.Hidden, Position: v.Position, UID: v.CRC32})
		}
	}

	if err := b.writeIndex(col.Code, entries); err != nil {
		b.log.Log(dlog.Err, "[idx]index", "error generating index '%s': %v", label, err)
		return err
	}
	return nil
}

func (b *Builder) writeIndex(code [4]byte, entries []Entry) error {
	filename := fmt.Sprintf(config.IdxFilePattern, code[0], code[1], code[2], code[3])
	f, err := pathutil.CaseOpen(b.dir, filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return dberr.Wrap(dberr.IoError, "idxbuilder.writeIndex", err)
	}
	defer f.Close()

	for _, e := range entries {
		if err := binary.Write(f, binary.LittleEndian, e); err != nil {
			return dberr.Wrap(dberr.IoError, "idxbuilder.writeIndex", err)
		}
	}
	return nil
}

func caseInsensitiveLess(a, b string) bool {
	la, lb := len(a), len(b)
	n := la
	if lb < n {
		n = lb
	}
	for i := 0; i < n; i++ {
		ca, cb := lower(a[i]), lower(b[i])
		if ca != cb {
			return ca < cb
		}
	}
	return la < lb
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c - 'A' + 'a'
	}
	return c
}
