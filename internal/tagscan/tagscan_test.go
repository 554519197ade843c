package tagscan

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"

	"github.com/julienblitte/db5fuse/internal/config"
	"github.com/julienblitte/db5fuse/internal/datstore"
)

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := t.TempDir() + "/sample"
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// buildID3v23 assembles a minimal, spec-conformant ID3v2.3 tag: a
// sync-safe tag-size header followed by plain (non-sync-safe) frame
// sizes, the layout dhowden/tag expects for this version.
func buildID3v23(t *testing.T, frames map[string]string) []byte {
	t.Helper()
	var body bytes.Buffer
	for id, value := range frames {
		data := append([]byte{0}, []byte(value)...)
		body.WriteString(id)
		var size [4]byte
		binary.BigEndian.PutUint32(size[:], uint32(len(data)))
		body.Write(size[:])
		body.Write([]byte{0, 0}) // flags
		body.Write(data)
	}

	var out bytes.Buffer
	out.WriteString("ID3")
	out.Write([]byte{3, 0, 0}) // version 2.3, no flags
	out.Write(sizeToSynchSafe(uint32(body.Len())))
	out.Write(body.Bytes())
	return out.Bytes()
}

func sizeToSynchSafe(size uint32) []byte {
	return []byte{
		byte(size >> 21 & 0x7F),
		byte(size >> 14 & 0x7F),
		byte(size >> 7 & 0x7F),
		byte(size & 0x7F),
	}
}

func TestMpegFillRowDefaultsWithoutTag(t *testing.T) {
	path := writeTemp(t, make([]byte, 128))
	var row datstore.Row
	if err := (Mpeg{}).FillRow(path, &row); err != nil {
		t.Fatalf("FillRow: %v", err)
	}
	if got := trimNUL(row.Title[:]); got != config.DefaultTitle {
		t.Fatalf("Title = %q, want %q", got, config.DefaultTitle)
	}
	if got := trimNUL(row.Artist[:]); got != config.DefaultArtist {
		t.Fatalf("Artist = %q, want %q", got, config.DefaultArtist)
	}
	if got := trimNUL(row.Album[:]); got != config.DefaultAlbum {
		t.Fatalf("Album = %q, want %q", got, config.DefaultAlbum)
	}
	if got := trimNUL(row.Genre[:]); got != config.DefaultGenre {
		t.Fatalf("Genre = %q, want %q", got, config.DefaultGenre)
	}
}

func TestMpegFillRowReadsID3AndFrameHeader(t *testing.T) {
	id3 := buildID3v23(t, map[string]string{
		"TIT2": "Song", "TPE1": "Band", "TALB": "LP", "TRCK": "5",
	})

	// A valid MPEGv1 layer III frame header: 11 sync bits, version=V1(3),
	// layer=III(1), no CRC, bitrate index 9 (128 kbps), samplerate 0 (44100).
	frameHeader := []byte{0xFF, 0xFB, 0x90, 0x00}

	data := append(append([]byte{}, id3...), frameHeader...)
	path := writeTemp(t, data)

	var row datstore.Row
	if err := (Mpeg{}).FillRow(path, &row); err != nil {
		t.Fatalf("FillRow: %v", err)
	}
	if got := trimNUL(row.Title[:]); got != "Song" {
		t.Fatalf("Title = %q", got)
	}
	if got := trimNUL(row.Artist[:]); got != "Band" {
		t.Fatalf("Artist = %q", got)
	}
	if got := trimNUL(row.Album[:]); got != "LP" {
		t.Fatalf("Album = %q", got)
	}
	if row.Track != 5 {
		t.Fatalf("Track = %d, want 5", row.Track)
	}
	if row.Bitrate != 128000 {
		t.Fatalf("Bitrate = %d, want 128000", row.Bitrate)
	}
	if row.Samplerate != 44100 {
		t.Fatalf("Samplerate = %d, want 44100", row.Samplerate)
	}
}

func TestAsfFillRowDefaultsWithoutTag(t *testing.T) {
	path := writeTemp(t, make([]byte, 64))
	var row datstore.Row
	if err := (Asf{}).FillRow(path, &row); err != nil {
		t.Fatalf("FillRow: %v", err)
	}
	if got := trimNUL(row.Album[:]); got != "Microsoft WMA" {
		t.Fatalf("Album = %q", got)
	}
	if row.Bitrate != 128000 {
		t.Fatalf("Bitrate = %d, want 128000", row.Bitrate)
	}
}

func TestUtf16ToLatin1HandlesBOM(t *testing.T) {
	// "Hi" in UTF-16LE with a BOM.
	data := []byte{0xFF, 0xFE, 'H', 0, 'i', 0, 0, 0}
	if got := utf16ToLatin1(data); got != "Hi" {
		t.Fatalf("utf16ToLatin1 = %q, want %q", got, "Hi")
	}
}

func TestDispatch(t *testing.T) {
	if _, ok := Dispatch("mp3"); !ok {
		t.Fatalf("Dispatch(mp3) not found")
	}
	if _, ok := Dispatch("wma"); !ok {
		t.Fatalf("Dispatch(wma) not found")
	}
	if _, ok := Dispatch("flac"); ok {
		t.Fatalf("Dispatch(flac) unexpectedly found")
	}
}
