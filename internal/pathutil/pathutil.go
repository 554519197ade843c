// Package pathutil implements the small set of path manipulations the
// db5 layers need: splitting a path into directory/stem/extension,
// case-insensitive file resolution inside a directory (the on-device
// music directory is not guaranteed to match the case recorded in a
// row), slash translation for the DAT filepath field, and plain stat
// helpers.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// Explode splits path into its directory, file stem and extension the
// way the original's file_path_explode did: the extension is whatever
// follows the last '.' in the final path component, and the directory
// is empty when path has no '/'.
func Explode(path string) (dir, stem, ext string) {
	slash := strings.LastIndexByte(path, '/')
	var name string
	if slash < 0 {
		dir = ""
		name = path
	} else {
		dir = path[:slash]
		name = path[slash+1:]
	}

	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		stem = name
		ext = ""
	} else {
		stem = name[:dot]
		ext = name[dot+1:]
	}
	return dir, stem, ext
}

// Extension returns the extension of path (without the dot), or "" if
// path has none.
func Extension(path string) string {
	_, _, ext := Explode(path)
	return ext
}

// StripLeadingSlashes trims every leading '/' from path.
func StripLeadingSlashes(path string) string {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	return path[i:]
}

// ToBackslashes replaces every '/' in path with '\', matching the
// slash convention of a DAT row's filepath field.
func ToBackslashes(path string) string {
	return strings.ReplaceAll(path, "/", "\\")
}

// Exists reports whether path can be stat'd.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FileSize returns the size of path, or 0 if it cannot be stat'd. The
// caller is responsible for logging a stat failure; this mirrors the
// original's "return 0 on failure" contract.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// CaseOpen resolves filename against directory case-insensitively: it
// scans directory's entries for a case-insensitive match and opens that
// entry with the given flags, falling back to the literal
// directory/filename path (so a create-mode caller still gets a usable
// path) when no entry matches.
func CaseOpen(directory, filename string, flag int, perm os.FileMode) (*os.File, error) {
	entries, err := os.ReadDir(directory)
	if err == nil {
		for _, entry := range entries {
			if strings.EqualFold(entry.Name(), filename) {
				return os.OpenFile(filepath.Join(directory, entry.Name()), flag, perm)
			}
		}
	}
	return os.OpenFile(filepath.Join(directory, filename), flag, perm)
}

// CaseResolve is CaseOpen's read-only counterpart: it returns the
// on-disk name matching filename case-insensitively within directory,
// or filename unchanged if no entry matches.
func CaseResolve(directory, filename string) string {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return filename
	}
	for _, entry := range entries {
		if strings.EqualFold(entry.Name(), filename) {
			return entry.Name()
		}
	}
	return filename
}
