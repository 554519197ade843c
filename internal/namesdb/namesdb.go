// Package namesdb implements NamesStore, the long-filename translation
// list backing Names.txt. The device firmware only accepts short,
// CRC32-derived names on its MUSIC volume; this store remembers the
// long, human-meaningful name each short name was generated from so
// db5fuse can present it back to callers.
package namesdb

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/google/renameio"

	"github.com/julienblitte/db5fuse/internal/codec"
	"github.com/julienblitte/db5fuse/internal/config"
	"github.com/julienblitte/db5fuse/internal/dlog"
	"github.com/julienblitte/db5fuse/internal/pathutil"
)

// entry pairs a long name with the CRC32 its short name was derived
// from.
type entry struct {
	crc32    uint32
	longname string
}

// Store is an ordered list of long/short name translations. It is kept
// as a slice rather than the original's linked list: appends are O(1)
// amortized and lookups stay linear, matching the original's scan
// behaviour, while deletion closes the gap without reordering the
// remaining entries.
type Store struct {
	mu      sync.Mutex
	dir     string
	log     *dlog.Logger
	entries []entry
}

// Open loads dir/Names.txt (resolved case-insensitively), tolerating a
// missing file the way names_init does: the store starts empty and
// every subsequent Insert creates the file on first Save.
func Open(dir string, log *dlog.Logger) (*Store, error) {
	s := &Store{dir: dir, log: log}

	f, err := pathutil.CaseOpen(dir, config.NamesFile, os.O_RDONLY, 0)
	if err != nil {
		log.Log(dlog.Err, "[names]init", "unable to load database: %v", err)
		return s, nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		shortLine := scanner.Text()
		if !scanner.Scan() {
			break
		}
		longLine := strings.TrimRight(scanner.Text(), "\r\n")

		crc, err := strconv.ParseUint(stripExtension(shortLine), 16, 32)
		if err != nil {
			continue
		}
		s.entries = append(s.entries, entry{crc32: uint32(crc), longname: longLine})
	}

	if len(s.entries) == 0 {
		log.Log(dlog.Notice, "[names]init", "name database is empty")
	}
	return s, nil
}

// stripExtension drops everything from the first '.' onward, isolating
// the hex checksum that precedes it on a Names.txt short-name line.
func stripExtension(s string) string {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// ShortnameOf returns the short name generated for longname, or ("",
// false) if longname is not registered.
func (s *Store) ShortnameOf(longname string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ext := pathutil.Extension(longname)
	for _, e := range s.entries {
		if e.longname == longname {
			return fmt.Sprintf("%x.%s", e.crc32, ext), true
		}
	}
	return "", false
}

// LongnameOf returns the long name matching shortname's embedded CRC32,
// or shortname itself if no translation exists — mirroring
// names_select_longname's "unknown name passes through unchanged"
// behaviour.
func (s *Store) LongnameOf(shortname string) string {
	stem := stripExtension(shortname)
	crc, err := strconv.ParseUint(stem, 16, 32)
	if err != nil || crc == 0 {
		return shortname
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.crc32 == uint32(crc) {
			return e.longname
		}
	}
	return shortname
}

// GenerateShortname computes the short name longname would resolve to,
// without registering it.
func GenerateShortname(longname string) string {
	ext := pathutil.Extension(longname)
	return fmt.Sprintf("%x.%s", codec.CRC32String(longname), ext)
}

// Insert registers longname, deriving its CRC32 from the name itself,
// and persists the store immediately.
func (s *Store) Insert(longname string) error {
	s.mu.Lock()
	s.entries = append(s.entries, entry{crc32: codec.CRC32String(longname), longname: longname})
	s.mu.Unlock()

	if err := s.save(); err != nil {
		s.log.Log(dlog.Warning, "[names]insert", "error while saving names list: %v", err)
		return err
	}
	return nil
}

// Delete removes the first entry for longname, keeping the remaining
// entries in insertion order, and persists the store. It reports
// whether an entry was found.
func (s *Store) Delete(longname string) bool {
	s.mu.Lock()
	idx := -1
	for i, e := range s.entries {
		if e.longname == longname {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	s.mu.Unlock()

	if err := s.save(); err != nil {
		s.log.Log(dlog.Warning, "[names]delete", "error while saving names list: %v", err)
	}
	return true
}

// save rewrites Names.txt atomically: a torn write here would corrupt
// every long-filename translation, so every mutation goes through
// renameio's write-to-temp-then-rename rather than truncating the live
// file in place.
func (s *Store) save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for _, e := range s.entries {
		ext := pathutil.Extension(e.longname)
		fmt.Fprintf(&b, "%x.%s\r\n%s\r\n", e.crc32, ext, e.longname)
	}

	target := s.dir + "/" + pathutil.CaseResolve(s.dir, config.NamesFile)
	return renameio.WriteFile(target, []byte(b.String()), 0644)
}
