// Package fsck implements the offline consistency checker: the five
// scan/repair steps fsck.db5 runs over a device's HDR/DAT/MUSIC triple,
// independent of any mounted filesystem. It is the Go counterpart of
// fsck.c, reusing Db for every store access the way fsbridge does.
package fsck

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/julienblitte/db5fuse/internal/codec"
	"github.com/julienblitte/db5fuse/internal/config"
	"github.com/julienblitte/db5fuse/internal/db5"
	"github.com/julienblitte/db5fuse/internal/dberr"
	"github.com/julienblitte/db5fuse/internal/dlog"
	"github.com/julienblitte/db5fuse/internal/pathutil"
)

// maxShortnameLen is membersizeof(db5_row, filename)/2: Row.Filename is
// a 32-byte wide/narrow field, so its narrow half holds at most 16
// bytes, a terminating NUL included — a name fits only if it is
// shorter than that.
const maxShortnameLen = 16

// Checker runs the five-step scan/repair sequence over one open Db.
type Checker struct {
	db  *db5.Db
	log *dlog.Logger
}

// New wraps d for checking.
func New(d *db5.Db, log *dlog.Logger) *Checker {
	return &Checker{db: d, log: log}
}

// Check runs every step in order. When fix is false, problems are only
// logged; when true, each step repairs what it can. A step that finds
// its precondition unrecoverable (the music directory missing in
// read-only mode, an unreadable row where one is expected to exist,
// an orphan file that cannot be turned into a row) stops the remaining
// steps and returns that error, matching fsck_check's early return on
// any step but the row-count step, which never stops the chain.
func (c *Checker) Check(fix bool) error {
	realCount := c.step1(fix)
	if err := c.step2(fix); err != nil {
		return err
	}
	if err := c.step3(fix, realCount); err != nil {
		return err
	}
	if err := c.step4(fix); err != nil {
		return err
	}
	c.step5(fix)
	return nil
}

// step1 reconciles the header's row count against the number of rows
// actually readable from DAT, probing raw indexes past the header
// count rather than trusting it. realCount is the index of the first
// unreadable row — the original computed this as one less than that
// index, an off-by-one this port does not reproduce.
func (c *Checker) step1(fix bool) uint32 {
	localCount := c.db.Count()

	var realCount uint32 = config.MaxEntries
	for i := uint32(0); i < config.MaxEntries; i++ {
		if _, err := c.db.SelectRow(i); err != nil {
			realCount = i
			break
		}
	}

	if realCount != localCount {
		c.log.Log(dlog.Warning, "[fsck]step1", "row count mismatch: header says %d, %d rows are readable", localCount, realCount)
		if fix {
			if err := c.db.SetCount(realCount); err != nil {
				c.log.Log(dlog.Err, "[fsck]step1", "unable to correct row count: %v", err)
			}
		}
	}
	return realCount
}

// step2 makes sure the MUSIC directory exists and is a directory.
func (c *Checker) step2(fix bool) error {
	dir := c.db.MusicDir()

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Log(dlog.Err, "[fsck]step2", "unable to stat music directory %q: %v", dir, err)
			return dberr.Wrap(dberr.IoError, "fsck.step2", err)
		}
		c.log.Log(dlog.Err, "[fsck]step2", "music directory is missing: %q", dir)
		if !fix {
			return dberr.New(dberr.NotFound, "fsck.step2")
		}
		if err := os.Mkdir(dir, 0755); err != nil {
			c.log.Log(dlog.Err, "[fsck]step2", "unable to create music directory: %v", err)
			return dberr.Wrap(dberr.IoError, "fsck.step2", err)
		}
		return nil
	}

	if !info.IsDir() {
		c.log.Log(dlog.Err, "[fsck]step2", "music path exists but is not a directory: %q", dir)
		return dberr.New(dberr.Invalid, "fsck.step2")
	}
	return nil
}

// step3 walks every row in [0, realCount), recreating its backing file
// if missing and, when fixing, unconditionally rebuilding the row from
// that file.
//
// The rebuilt row's Hidden field is left at zero here: BuildRow returns
// a zero-valued row for fields it does not itself set, the same way
// the original's row-generation step starts from a freshly zeroed
// struct — and unlike Insert/Update, this repair path never re-stamps
// Hidden from the file's leading character afterward. Ported as-is:
// a repair silently clears the hidden bit on every row it touches,
// even one whose long name started with a dot.
func (c *Checker) step3(fix bool, realCount uint32) error {
	for i := uint32(0); i < realCount; i++ {
		row, err := c.db.SelectRow(i)
		if err != nil {
			c.log.Log(dlog.Err, "[fsck]step3", "unable to read row %d: %v", i, err)
			return dberr.Wrap(dberr.IoError, "fsck.step3", err)
		}

		shortname := db5.ShortnameOfRow(row)
		rel := config.MusicDir + "/" + shortname
		abs := filepath.Join(c.db.MusicDir(), shortname)

		if !pathutil.Exists(abs) {
			c.log.Log(dlog.Warning, "[fsck]step3", "music file for row %d is missing: %q", i, abs)
			if fix {
				f, err := os.OpenFile(abs, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
				if err != nil {
					c.log.Log(dlog.Err, "[fsck]step3", "unable to recreate music file %q: %v", abs, err)
				} else {
					f.Close()
				}
			}
		}

		if !fix {
			continue
		}

		fresh, err := c.db.BuildRow(rel)
		if err != nil {
			c.log.Log(dlog.Err, "[fsck]step3", "unable to rebuild row %d from %q: %v", i, rel, err)
			continue
		}
		db5.WidenRow(&fresh)
		if err := c.db.UpdateRow(i, fresh); err != nil {
			c.log.Log(dlog.Err, "[fsck]step3", "unable to write back row %d: %v", i, err)
		}
	}
	return nil
}

// step4 scans MUSIC for files with no corresponding row and inserts
// one for each, when fixing.
//
// The insert below goes straight to DatStore, the same way the
// original calls db5_dat_insert directly here instead of going through
// db5_insert: NamesStore is never told about the recovered file. Since
// Db.ListLongnames falls back to the bare short name when NamesStore
// has no translation for it, a recovered orphan surfaces under its own
// on-disk file name, until something else registers a long name for it.
func (c *Checker) step4(fix bool) error {
	dir := c.db.MusicDir()

	entries, err := os.ReadDir(dir)
	if err != nil {
		c.log.Log(dlog.Err, "[fsck]step4", "unable to scan music directory %q: %v", dir, err)
		return dberr.Wrap(dberr.IoError, "fsck.step4", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		nameLatin1 := codec.UTF8ToLatin1(entry.Name())

		_, stem, ext := pathutil.Explode(nameLatin1)
		if !strings.EqualFold(ext, config.MpegExt) && !strings.EqualFold(ext, config.AsfExt) {
			continue
		}
		if len(stem)+1+len(ext) >= maxShortnameLen {
			continue
		}
		if c.db.ShortnameExists(nameLatin1) {
			continue
		}

		c.log.Log(dlog.Warning, "[fsck]step4", "orphan music file found: %q", entry.Name())
		if !fix {
			continue
		}

		rel := config.MusicDir + "/" + nameLatin1
		row, err := c.db.BuildRow(rel)
		if err != nil {
			c.log.Log(dlog.Err, "[fsck]step4", "unable to build row for orphan file %q: %v", entry.Name(), err)
			return dberr.Wrap(dberr.Invalid, "fsck.step4", err)
		}
		db5.WidenRow(&row)
		row.Hidden = db5.HiddenFlag(nameLatin1)

		if err := c.db.InsertRow(row); err != nil {
			c.log.Log(dlog.Err, "[fsck]step4", "unable to insert row for orphan file %q: %v", entry.Name(), err)
			return dberr.Wrap(dberr.IoError, "fsck.step4", err)
		}
	}
	return nil
}

// step5 rebuilds every column index, matching db5_index. It only runs
// when fixing: a dry run leaves the index untouched.
func (c *Checker) step5(fix bool) {
	if !fix {
		c.log.Log(dlog.Info, "[fsck]step5", "read-only, index rebuild skipped")
		return
	}
	if err := c.db.Reindex(); err != nil {
		c.log.Log(dlog.Err, "[fsck]step5", "unable to rebuild indexes: %v", err)
	}
}
