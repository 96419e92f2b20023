// Package bcs implements a minimal reader/writer for Sui's Binary Canonical
// Serialization format: ULEB128 lengths, fixed-width little-endian
// integers, and length-prefixed byte vectors. No third-party library in the
// retrieved pack or the wider ecosystem implements this chain-specific wire
// format (see DESIGN.md); it is hand-rolled in the same spirit as erigon's
// own hand-rolled RLP codec.
package bcs

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrTruncated is returned when a read runs past the end of the buffer.
var ErrTruncated = errors.New("bcs: truncated input")

// Reader decodes BCS-encoded values from an in-memory buffer.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential BCS decoding.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Pos returns the current read offset.
func (r *Reader) Pos() int { return r.pos }

// Len returns the number of unread bytes remaining.
func (r *Reader) Len() int { return len(r.buf) - r.pos }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrTruncated
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBool reads a single BCS bool (a byte that must be 0 or 1).
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.New("bcs: invalid bool byte")
	}
}

// ReadU32 reads a fixed-width little-endian uint32.
func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadU64 reads a fixed-width little-endian uint64.
func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadULEB128 reads a ULEB128-encoded length, as BCS uses for vector and
// string prefixes.
func (r *Reader) ReadULEB128() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if shift >= 64 {
			return 0, errors.New("bcs: uleb128 overflow")
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// ReadBytes reads a ULEB128-length-prefixed byte vector.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadULEB128()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

// ReadFixedBytes reads exactly n raw bytes with no length prefix (used for
// address fields, which are a fixed 32 bytes).
func (r *Reader) ReadFixedBytes(n int) ([]byte, error) {
	return r.take(n)
}

// Writer encodes values into a growing BCS byte buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// WriteByte appends a single byte.
func (w *Writer) WriteByte(b byte) { w.buf = append(w.buf, b) }

// WriteBool appends a BCS bool.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

// WriteU32 appends a fixed-width little-endian uint32.
func (w *Writer) WriteU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// WriteU64 appends a fixed-width little-endian uint64.
func (w *Writer) WriteU64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// WriteULEB128 appends a ULEB128-encoded unsigned integer.
func (w *Writer) WriteULEB128(v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf = append(w.buf, b)
		if v == 0 {
			return
		}
	}
}

// WriteBytes appends a ULEB128-length-prefixed byte vector.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteULEB128(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteFixedBytes appends raw bytes with no length prefix.
func (w *Writer) WriteFixedBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// CopyAll drains src into the writer verbatim; used when a patch layer
// needs to pass through the remainder of an object's bytes unchanged.
func CopyAll(w io.Writer, r *Reader) error {
	_, err := w.Write(r.buf[r.pos:])
	r.pos = len(r.buf)
	return err
}
