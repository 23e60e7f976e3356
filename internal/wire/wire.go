package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version   byte = 1
	kindQuery byte = 1

	hdrLen = 4 + 1 + 1 + 8 + 8 + 4
)

var (
	ErrCorrupt = errors.New("querykit: corrupt persisted entry")
	magic4     = [...]byte{'Q', 'K', 'I', 'T'}
)

// Frame is one persisted value with the generation it was written under.
type Frame struct {
	Gen     uint64
	SavedAt time.Time
	Payload []byte
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode: magic(4) | ver(1) | kind(1) | gen(u64 be) | savedAt(unix nanos, i64 be) | vlen(u32 be) | payload(vlen)
func Encode(f Frame) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(f.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindQuery)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], f.Gen)
	buf.Write(u8[:])

	var nanos int64
	if !f.SavedAt.IsZero() {
		nanos = f.SavedAt.UnixNano()
	}
	binary.BigEndian.PutUint64(u8[:], uint64(nanos))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(f.Payload)))
	buf.Write(u4[:])

	buf.Write(f.Payload)
	return buf.Bytes()
}

// Decode parses b. The payload aliases b.
func Decode(b []byte) (Frame, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || b[5] != kindQuery {
		return Frame{}, ErrCorrupt
	}
	var f Frame

	off := 6

	f.Gen = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	if nanos := int64(binary.BigEndian.Uint64(b[off : off+8])); nanos != 0 {
		f.SavedAt = time.Unix(0, nanos)
	}
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	// exact length; trailing bytes mean a torn or foreign write
	if vlen < 0 || vlen != len(b)-off {
		return Frame{}, ErrCorrupt
	}

	f.Payload = b[off : off+vlen]
	return f, nil
}
