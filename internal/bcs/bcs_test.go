package bcs

import (
	"bytes"
	"testing"
)

func TestULEB128RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40}
	for _, v := range values {
		w := NewWriter()
		w.WriteULEB128(v)
		r := NewReader(w.Bytes())
		got, err := r.ReadULEB128()
		if err != nil {
			t.Fatalf("read %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("roundtrip mismatch: wrote %d got %d", v, got)
		}
		if r.Len() != 0 {
			t.Fatalf("expected reader exhausted, %d bytes left", r.Len())
		}
	}
}

func TestBytesRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteBytes([]byte("hello world"))
	r := NewReader(w.Bytes())
	got, err := r.ReadBytes()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestFixedU64LittleEndian(t *testing.T) {
	w := NewWriter()
	w.WriteU64(0x0102030405060708)
	want := []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}
	if !bytes.Equal(w.Bytes(), want) {
		t.Fatalf("got % x want % x", w.Bytes(), want)
	}
}

func TestReadTruncated(t *testing.T) {
	r := NewReader([]byte{0x01})
	if _, err := r.ReadU64(); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestInvalidBool(t *testing.T) {
	r := NewReader([]byte{0x02})
	if _, err := r.ReadBool(); err == nil {
		t.Fatal("expected error for invalid bool byte")
	}
}
