package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func mustDecode(t *testing.T, b []byte) Frame {
	t.Helper()
	f, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	return f
}

func TestRoundTripEmptyAndNonEmpty(t *testing.T) {
	now := time.Unix(1700000000, 123456789)
	cases := []Frame{
		{},
		{Gen: 42, SavedAt: now, Payload: []byte("hello")},
		{Gen: math.MaxUint64, SavedAt: now, Payload: []byte{0, 1, 2, 3, 4}},
	}
	for _, tc := range cases {
		got := mustDecode(t, Encode(tc))
		if got.Gen != tc.Gen {
			t.Fatalf("header mismatch: got %+v want %+v", got, tc)
		}
		if !got.SavedAt.Equal(tc.SavedAt) {
			t.Fatalf("savedAt mismatch: got %v want %v", got.SavedAt, tc.SavedAt)
		}
		if !bytes.Equal(got.Payload, tc.Payload) {
			t.Fatalf("payload mismatch: got %x want %x", got.Payload, tc.Payload)
		}
	}
}

func TestZeroSavedAtStaysZero(t *testing.T) {
	got := mustDecode(t, Encode(Frame{Gen: 1, Payload: []byte("x")}))
	if !got.SavedAt.IsZero() {
		t.Fatalf("expected zero savedAt, got %v", got.SavedAt)
	}
}

func TestRejectsTrailingBytes(t *testing.T) {
	enc := Encode(Frame{Gen: 7, Payload: []byte("x")})
	enc = append(enc, 0xDE, 0xAD)
	if _, err := Decode(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestCorruptHeadersAndLengths(t *testing.T) {
	enc := Encode(Frame{Gen: 1, SavedAt: time.Now(), Payload: []byte("abc")})

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, err := Decode(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, err := Decode(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	badKind := append([]byte(nil), enc...)
	badKind[5] = 9
	if _, err := Decode(badKind); err == nil {
		t.Fatalf("expected error on bad kind")
	}

	// vlen sits after magic, ver, kind, gen and savedAt
	tooLong := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(tooLong[22:26], uint32(len("abc")+1))
	if _, err := Decode(tooLong); err == nil {
		t.Fatalf("expected error on vlen beyond buffer")
	}

	if _, err := Decode(enc[:len(enc)-1]); err == nil {
		t.Fatalf("expected error on truncated buffer")
	}
	if _, err := Decode(enc[:hdrLen-1]); err == nil {
		t.Fatalf("expected error on truncated header")
	}
}

func TestZeroCopyPayload(t *testing.T) {
	enc := Encode(Frame{Gen: 1, Payload: []byte("Z")})
	f := mustDecode(t, enc)
	if len(f.Payload) != 1 {
		t.Fatalf("unexpected payload len")
	}
	// decoded payload aliases enc
	f.Payload[0] = 'Q'
	if mustDecode(t, enc).Payload[0] != 'Q' {
		t.Fatalf("expected zero-copy slice into enc buffer")
	}
}
