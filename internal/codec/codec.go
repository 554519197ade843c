// Package codec implements the low-level byte transforms the db5
// database depends on for bit-exact fidelity with the device firmware:
// Latin-1 <-> UTF-16LE-padded widening/narrowing, a byte-reversed copy for
// big-endian bitfields, CRC-32 (reflected, poly 0x04C11DB7) and one-byte
// ISO-8859-1 <-> UTF-8 conversion.
package codec

import (
	"hash/crc32"
	"io"
	"os"
	"strings"
)

// table is the CRC-32 lookup table matching the spec's reflected
// input/output, init 0xFFFFFFFF, xorout 0xFFFFFFFF, polynomial
// 0x04C11DB7 configuration. That configuration is bit-for-bit identical
// to the standard IEEE 802.3 CRC-32 (the polynomial 0x04C11DB7 is the
// IEEE polynomial in non-reflected form), so the standard library table
// already matches without a hand-rolled bit-reflection routine.
var table = crc32.MakeTable(crc32.IEEE)

// CRC32 computes the CRC-32 checksum over data.
func CRC32(data []byte) uint32 {
	return crc32.Checksum(data, table)
}

// CRC32String computes the CRC-32 checksum over s up to (not including) a
// terminating NUL byte, mirroring strcrc32's C-string semantics.
func CRC32String(s string) uint32 {
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return CRC32([]byte(s))
}

// CRC32File streams path in 10 KiB chunks and returns its CRC-32. The
// caller is responsible for logging on error; this mirrors the original's
// "return 0 on open failure" contract without embedding a logger in a
// byte-transform package.
func CRC32File(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := crc32.New(table)
	buf := make([]byte, 10240)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	return h.Sum32(), nil
}

// Widen transforms buf in place: the narrow Latin-1 content occupying
// buf[:len(buf)/2] is spread out so that byte i moves to 2*i, with a
// 0x00 inserted at 2*i+1. Processed in reverse order so the in-place
// transform does not clobber source bytes it still needs to read, exactly
// as the original's ws_atows.
func Widen(buf []byte) {
	width := len(buf)
	for i := width/2 - 1; i >= 0; i-- {
		buf[2*i] = buf[i]
		buf[2*i+1] = 0
	}
}

// Narrow is the inverse of Widen: byte 2*i moves to position i, and an
// explicit NUL terminator is written at len(buf)/2.
func Narrow(buf []byte) {
	width := len(buf)
	for i := 1; i < width/2; i++ {
		buf[i] = buf[2*i]
	}
	buf[width/2] = 0
}

// PutLatin1 truncates s to fit dst (leaving room for a NUL terminator,
// matching snprintf(dst, len(dst), "%s", s)) and NUL-pads the remainder.
func PutLatin1(dst []byte, s string) {
	max := len(dst) - 1
	if max < 0 {
		max = 0
	}
	b := []byte(s)
	if len(b) > max {
		b = b[:max]
	}
	n := copy(dst, b)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// GetLatin1 returns the Latin-1 bytes of src up to its first NUL byte (or
// the whole slice if none is found).
func GetLatin1(src []byte) string {
	n := len(src)
	if i := indexZero(src); i >= 0 {
		n = i
	}
	return string(src[:n])
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

// SwapCopy performs a byte-reversed copy of n bytes from src into dst,
// used to interpret a big-endian frame header as a little-endian
// bitfield.
func SwapCopy(dst, src []byte) {
	n := len(src)
	for i := 0; i < n; i++ {
		dst[i] = src[n-1-i]
	}
}

// Latin1ToUTF8 converts a Latin-1 (ISO-8859-1) byte string to UTF-8,
// one byte at a time: bytes below 0x80 pass through unchanged, bytes at
// or above 0x80 become a two-byte UTF-8 sequence.
func Latin1ToUTF8(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x80 {
			b.WriteByte(c)
		} else {
			b.WriteByte(0xC0 | (c >> 6))
			b.WriteByte(0x80 | (c & 0x3F))
		}
	}
	return b.String()
}

// UTF8ToLatin1 converts a UTF-8 byte string back to Latin-1, handling
// only one-byte and two-byte UTF-8 sequences (the only ones a
// Latin-1-representable string can produce). It loops over the source
// length, not a destination buffer capacity, so it terminates correctly
// at the end of the string — the original's iso8859_utf8 looped by
// dest_size and ran past the source's logical end.
func UTF8ToLatin1(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c&0x80 == 0:
			b.WriteByte(c)
			i++
		case c&0xE0 == 0xC0 && i+1 < len(s):
			c2 := s[i+1]
			b.WriteByte((c&0x1F)<<6 | (c2 & 0x3F))
			i += 2
		default:
			// Not a Latin-1-representable sequence; skip defensively.
			i++
		}
	}
	return b.String()
}
