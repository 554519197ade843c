// Package db5 orchestrates the four on-disk stores — HdrStore,
// DatStore, NamesStore and IdxBuilder — into the single Db handle
// FsBridge and fsck drive: resolving a long filename to a row, building
// a row's tag-derived fields from the actual media file, and keeping
// the DAT/HDR/IDX/Names.txt quartet consistent across insert, update
// and delete.
package db5

import (
	"path/filepath"
	"strings"

	"github.com/julienblitte/db5fuse/internal/codec"
	"github.com/julienblitte/db5fuse/internal/config"
	"github.com/julienblitte/db5fuse/internal/datstore"
	"github.com/julienblitte/db5fuse/internal/dberr"
	"github.com/julienblitte/db5fuse/internal/dlog"
	"github.com/julienblitte/db5fuse/internal/hdrstore"
	"github.com/julienblitte/db5fuse/internal/idxbuilder"
	"github.com/julienblitte/db5fuse/internal/namesdb"
	"github.com/julienblitte/db5fuse/internal/pathutil"
	"github.com/julienblitte/db5fuse/internal/tagscan"
)

// Db is the open handle to one device: its data directory (HDR/DAT/IDX)
// and its root (MUSIC/ and Names.txt).
type Db struct {
	deviceRoot string
	hdr        *hdrstore.Store
	dat        *datstore.Store
	names      *namesdb.Store
	idx        *idxbuilder.Builder
	log        *dlog.Logger
}

// Open opens every store rooted at deviceRoot.
func Open(deviceRoot string, log *dlog.Logger) (*Db, error) {
	dataDir := filepath.Join(deviceRoot, config.DataDir)

	hdr, err := hdrstore.Open(dataDir, log)
	if err != nil {
		return nil, err
	}
	dat, err := datstore.Open(dataDir, hdr, log)
	if err != nil {
		hdr.Close()
		return nil, err
	}
	names, err := namesdb.Open(deviceRoot, log)
	if err != nil {
		dat.Close()
		hdr.Close()
		return nil, err
	}

	return &Db{
		deviceRoot: deviceRoot,
		hdr:        hdr,
		dat:        dat,
		names:      names,
		idx:        idxbuilder.New(dataDir, dat, log),
		log:        log,
	}, nil
}

// Close releases the DAT and HDR files.
func (d *Db) Close() error {
	datErr := d.dat.Close()
	hdrErr := d.hdr.Close()
	if datErr != nil {
		return datErr
	}
	return hdrErr
}

// Count returns the number of rows in the database.
func (d *Db) Count() uint32 {
	return d.hdr.Count()
}

// Reindex rebuilds every column index from the live DAT contents.
func (d *Db) Reindex() error {
	return d.idx.ReindexAll()
}

// widenRow spreads every narrow string field of row out to its
// UTF-16LE-padded on-disk form. Callers must have already written the
// narrow content into the first half of each field.
func widenRow(row *datstore.Row) {
	codec.Widen(row.Filepath[:])
	codec.Widen(row.Filename[:])
	codec.Widen(row.Artist[:])
	codec.Widen(row.Album[:])
	codec.Widen(row.Genre[:])
	codec.Widen(row.Title[:])
}

// unwidenRow is widenRow's inverse, narrowing every string field back
// down to a NUL-terminated Latin-1 string in its first half.
func unwidenRow(row *datstore.Row) {
	codec.Narrow(row.Filepath[:])
	codec.Narrow(row.Filename[:])
	codec.Narrow(row.Artist[:])
	codec.Narrow(row.Album[:])
	codec.Narrow(row.Genre[:])
	codec.Narrow(row.Title[:])
}

func narrowField(field []byte) string {
	return codec.GetLatin1(field[:len(field)/2])
}

// ListLongnames returns every row's long filename, in row order.
func (d *Db) ListLongnames() ([]string, error) {
	count := d.hdr.Count()
	result := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		row, err := d.dat.Select(i)
		if err != nil {
			return nil, err
		}
		unwidenRow(&row)
		shortname := narrowField(row.Filename[:])
		longnameLatin1 := d.names.LongnameOf(shortname)
		result = append(result, codec.Latin1ToUTF8(longnameLatin1))
	}
	return result, nil
}

// LongnameToShortname resolves longname to the short on-device name a
// row's filename field actually stores, trying in turn: the checksum
// the name would generate, the name itself unmodified, and whatever
// NamesStore has on record — the same three-case fallback
// db5_longname_to_shortname tries before giving up.
func (d *Db) LongnameToShortname(longname string) (string, error) {
	latin1 := codec.UTF8ToLatin1(longname)

	if candidate := namesdb.GenerateShortname(latin1); d.shortnameExists(candidate) {
		return candidate, nil
	}
	if d.shortnameExists(latin1) {
		return latin1, nil
	}
	if candidate, ok := d.names.ShortnameOf(latin1); ok && d.shortnameExists(candidate) {
		return candidate, nil
	}

	d.log.Log(dlog.Err, "[db5]long_to_short", "file not found: %q", longname)
	return "", dberr.New(dberr.NotFound, "db5.LongnameToShortname")
}

func (d *Db) shortnameExists(shortname string) bool {
	_, err := d.dat.SelectByFilename(shortname)
	return err == nil
}

// shortnameToLocalfile builds shortname's device-relative path under
// MusicDir. The original round-trips this path through Latin-1 and
// back to UTF-8; shortnames are always ASCII-range CRC32 hex digests
// plus an extension, so that round-trip is a no-op and is skipped.
func shortnameToLocalfile(shortname string) string {
	return config.MusicDir + "/" + shortname
}

// Localfile resolves longname to its device-relative MUSIC path.
func (d *Db) Localfile(longname string) (string, error) {
	shortname, err := d.LongnameToShortname(longname)
	if err != nil {
		return "", err
	}
	return shortnameToLocalfile(shortname), nil
}

// AbsLocalfile resolves longname to an absolute path FsBridge can open,
// stat, rename or truncate directly. The original chdir()s its whole
// process into the device root once at startup (file_set_context) and
// lets every relative path resolve against that; this port keeps
// deviceRoot explicit instead, so callers outside this package always
// join it back on here rather than relying on process-wide state.
func (d *Db) AbsLocalfile(longname string) (string, error) {
	rel, err := d.Localfile(longname)
	if err != nil {
		return "", err
	}
	return filepath.Join(d.deviceRoot, rel), nil
}

// DataDir returns the absolute path of the device's HDR/DAT/IDX
// directory, the same path fuse_impl_statfs runs statvfs against
// (CONFIG_DB5_DATA_DIR) rather than the FUSE mountpoint itself.
func (d *Db) DataDir() string {
	return filepath.Join(d.deviceRoot, config.DataDir)
}

// MusicDir returns the absolute path of the device's MUSIC directory.
func (d *Db) MusicDir() string {
	return filepath.Join(d.deviceRoot, config.MusicDir)
}

// ShortnameExists reports whether some row's Filename field already
// equals shortname exactly — the same check Insert makes before
// storing a row. fsck's orphan-file scan uses it, since there it has
// only the on-disk short name to go on.
func (d *Db) ShortnameExists(shortname string) bool {
	return d.shortnameExists(shortname)
}

// HiddenFlag is hiddenFlag, exported for fsck: its orphan-file scan
// derives the hidden bit from the bare on-disk short name it found,
// not a resolved long name.
func HiddenFlag(name string) uint32 {
	return hiddenFlag(name)
}

// SelectRow reads the row physically stored at index, regardless of
// the header's row count. fsck's step1 uses this to probe for the
// first physically unreadable index; step3 uses it to iterate every
// confirmed-readable row.
func (d *Db) SelectRow(index uint32) (datstore.Row, error) {
	return d.dat.Select(index)
}

// UpdateRow overwrites the row at index directly. fsck's step3 uses
// this to write back a freshly regenerated row.
func (d *Db) UpdateRow(index uint32, row datstore.Row) error {
	return d.dat.Update(index, row)
}

// InsertRow appends row to DatStore directly, bypassing NamesStore
// registration — fsck's step4 calls db5_dat_insert directly on a
// recovered orphan file, the same way, so the recovered file surfaces
// under its short name until something separately registers a long
// name for it.
func (d *Db) InsertRow(row datstore.Row) error {
	return d.dat.Insert(row)
}

// SetCount forces the header row count to count. fsck's step1 uses
// this to correct a header count that disagrees with the number of
// physically readable rows.
func (d *Db) SetCount(count uint32) error {
	return d.hdr.Grow(int(int64(count) - int64(d.hdr.Count())))
}

// Exists reports whether longname resolves to a row.
func (d *Db) Exists(longname string) bool {
	_, err := d.LongnameToShortname(longname)
	return err == nil
}

// BuildRow builds a fresh Row's filepath/filename fields from
// relativeLocalfile's own shape, and its tag-derived fields from the
// file at deviceRoot/relativeLocalfile — or from defaults, if that file
// doesn't exist. A path with no extension, or one other than mp3/wma,
// is rejected with an Invalid error. The returned row's string fields
// are narrow (not yet widened) and its Hidden field is zero; callers
// widen the row and set Hidden before writing it.
func (d *Db) BuildRow(relativeLocalfile string) (datstore.Row, error) {
	var row datstore.Row

	localfileLatin1 := codec.UTF8ToLatin1(relativeLocalfile)
	dir, stem, ext := pathutil.Explode(localfileLatin1)

	if ext == "" {
		d.log.Log(dlog.Err, "[db5]generate_row", "unable to get extension of %q", relativeLocalfile)
		return row, dberr.New(dberr.Invalid, "db5.BuildRow")
	}
	if !strings.EqualFold(ext, config.AsfExt) && !strings.EqualFold(ext, config.MpegExt) {
		d.log.Log(dlog.Err, "[db5]generate_row", "extension is unknown: %q", ext)
		return row, dberr.New(dberr.Invalid, "db5.BuildRow")
	}

	codec.PutLatin1(row.Filepath[:len(row.Filepath)/2], pathutil.ToBackslashes(dir+"/"))
	codec.PutLatin1(row.Filename[:len(row.Filename)/2], stem+"."+ext)

	absPath := filepath.Join(d.deviceRoot, relativeLocalfile)
	if !pathutil.Exists(absPath) {
		d.log.Log(dlog.Warning, "[db5]generate_row", "unable to get information from file, default values will be used: %q", relativeLocalfile)
		codec.PutLatin1(row.Artist[:len(row.Artist)/2], config.DefaultArtist)
		codec.PutLatin1(row.Album[:len(row.Album)/2], config.DefaultAlbum)
		codec.PutLatin1(row.Genre[:len(row.Genre)/2], config.DefaultGenre)
		codec.PutLatin1(row.Title[:len(row.Title)/2], config.DefaultTitle)
		return row, nil
	}

	extractor, _ := tagscan.Dispatch(strings.ToLower(ext))
	if err := extractor.FillRow(absPath, &row); err != nil {
		d.log.Log(dlog.Warning, "[db5]generate_row", "unable to extract tags from %q: %v", relativeLocalfile, err)
	}
	return row, nil
}

// ShortnameOfRow narrows row's Filename field into its Latin-1 short
// name, the same extraction ListLongnames applies per row — fsck's
// step3 and step4 need it to recover the bare on-disk name a row is
// keyed by.
func ShortnameOfRow(row datstore.Row) string {
	buf := append([]byte(nil), row.Filename[:]...)
	codec.Narrow(buf)
	return narrowField(buf)
}

// WidenRow is widenRow, exported for fsck: its row-repair and
// orphan-insert paths build a row with BuildRow (narrow fields) and
// must widen it the same way Insert/Update do before writing it back.
func WidenRow(row *datstore.Row) {
	widenRow(row)
}

// hiddenFlag reports the Hidden value a row for longname should carry:
// set whenever the long filename itself starts with a dot.
func hiddenFlag(longname string) uint32 {
	if strings.HasPrefix(longname, ".") {
		return 1
	}
	return 0
}

// Insert registers longname in NamesStore if it isn't already known,
// builds its row from the MUSIC file its shortname names, and inserts
// it into DatStore. It fails with AlreadyExists when a row already
// stores the same short name.
func (d *Db) Insert(longname string) error {
	latin1 := codec.UTF8ToLatin1(longname)

	shortname, ok := d.names.ShortnameOf(latin1)
	if !ok {
		if err := d.names.Insert(latin1); err != nil {
			d.log.Log(dlog.Err, "[db5]insert", "unable to insert file %q into name database: %v", longname, err)
			return err
		}
		shortname, ok = d.names.ShortnameOf(latin1)
		if !ok {
			d.log.Log(dlog.Err, "[db5]insert", "unable to insert file %q into name database", longname)
			return dberr.New(dberr.IoError, "db5.Insert")
		}
	}

	if d.shortnameExists(shortname) {
		d.log.Log(dlog.Err, "[db5]insert", "file %q already exists", longname)
		return dberr.New(dberr.AlreadyExists, "db5.Insert")
	}

	localfile := shortnameToLocalfile(shortname)
	row, err := d.BuildRow(localfile)
	if err != nil {
		d.log.Log(dlog.Err, "[db5]insert", "unable to generate row from file %q: %v", longname, err)
		return err
	}
	widenRow(&row)
	row.Hidden = hiddenFlag(longname)

	if err := d.dat.Insert(row); err != nil {
		d.log.Log(dlog.Err, "[db5]insert", "unable to insert row in database for %q: %v", longname, err)
		return err
	}
	return nil
}

// Update re-reads longname's file and overwrites its existing row with
// the freshly built fields.
func (d *Db) Update(longname string) error {
	shortname, err := d.LongnameToShortname(longname)
	if err != nil {
		d.log.Log(dlog.Err, "[db5]update", "unable to get short file name for %q: %v", longname, err)
		return err
	}

	rowIndex, err := d.dat.SelectByFilename(shortname)
	if err != nil {
		d.log.Log(dlog.Err, "[db5]update", "unable to find file %q in database", longname)
		return err
	}

	localfile := shortnameToLocalfile(shortname)
	row, err := d.BuildRow(localfile)
	if err != nil {
		d.log.Log(dlog.Err, "[db5]update", "unable to generate row from file %q: %v", longname, err)
		return err
	}
	widenRow(&row)
	row.Hidden = hiddenFlag(longname)

	if err := d.dat.Update(rowIndex, row); err != nil {
		d.log.Log(dlog.Err, "[db5]update", "error writing info in database for %q: %v", longname, err)
		return err
	}
	return nil
}

// Delete removes longname's row from DatStore and its translation from
// NamesStore. A failure to remove the NamesStore translation is only
// logged.
func (d *Db) Delete(longname string) error {
	shortname, err := d.LongnameToShortname(longname)
	if err != nil {
		d.log.Log(dlog.Err, "[db5]delete", "unable to get short file name for %q: %v", longname, err)
		return err
	}

	rowIndex, err := d.dat.SelectByFilename(shortname)
	if err != nil {
		d.log.Log(dlog.Err, "[db5]delete", "unable to find file %q in database", longname)
		return err
	}

	if err := d.dat.Delete(rowIndex); err != nil {
		d.log.Log(dlog.Err, "[db5]delete", "unable to delete file %q from dat database, row is %d: %v", longname, rowIndex, err)
		return err
	}

	if !d.names.Delete(codec.UTF8ToLatin1(longname)) {
		d.log.Log(dlog.Warning, "[db5]delete", "unable to remove file %q from names database", longname)
	}
	return nil
}
