// Package config holds the fixed, build-time layout of a db5fuse device:
// relative paths, record limits and tag defaults. These are firmware
// constants, not user-tunable settings — the target device expects them
// at exactly these paths and offsets.
package config

// MusicDir is the device-relative directory holding the audio files named
// by short name.
const MusicDir = "MUSIC"

// DataDir is the device-relative directory holding the database files.
const DataDir = "System/DATA"

// DatFile is the fixed-record data file, relative to DataDir.
const DatFile = "DB5000.DAT"

// HdrFile is the header/row-count file, relative to DataDir.
const HdrFile = "DB5000.HDR"

// NamesFile is the long/short name translation file, relative to the
// device root.
const NamesFile = "Names.txt"

// IdxFilePattern formats a column's 4-byte ASCII code into its index
// filename, relative to DataDir.
const IdxFilePattern = "DB5000_%c%c%c%c.IDX"

// LogFilename is the append-mode diagnostic log, relative to the device
// root.
const LogFilename = "db5fuse.log"

// RecordSize is the fixed size, in bytes, of one DAT row: the sum of
// every field width in the row layout (4+8+56+32+4+4+4+80+80+40+80+4+4+4+4).
const RecordSize = 408

// CountOffset is the absolute byte offset of the row count in the HDR
// file.
const CountOffset = 1040

// MaxEntries is the largest row count the device firmware accepts.
const MaxEntries = 4294967293

// MpegExt and AsfExt are the only extensions db5 rows may reference.
const (
	MpegExt = "mp3"
	AsfExt  = "wma"
)

// Default tag values used when a file is missing or its tags cannot be
// read.
const (
	DefaultArtist = "Unknown artist"
	DefaultAlbum  = "Unknown album"
	DefaultGenre  = "Unknown"
	DefaultTitle  = "Unknown title"
)

// MaxLogLevel is the highest (most verbose) log level accepted by dlog.
const MaxLogLevel = 8

// DefaultLogLevel is the level the CLI entry points configure absent any
// override.
const DefaultLogLevel = 7
