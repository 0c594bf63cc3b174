// Package objfile provides the bounds-checked byte cursors that the object
// file parsers and writers are built on, together with the error taxonomy
// they report.
//
// All multi-byte values are little-endian: both COFF and the ELF subset we
// accept (ELFDATA2LSB) store them that way.
package objfile

import (
	"bytes"
	"encoding/binary"
)

// Reader is a read-only view over an object file image. Every access is
// validated against the length of the image; a read that would cross the end
// fails with *BoundsError and never returns partial or zero-filled data.
//
// Besides random access by offset, Reader keeps a position for sequential
// reads of consecutive header fields.
type Reader struct {
	buf []byte
	pos uint64
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Len returns the size of the underlying image.
func (r *Reader) Len() uint64 {
	return uint64(len(r.buf))
}

// Check validates that size bytes starting at off are inside the image.
func (r *Reader) Check(off, size uint64) error {
	n := uint64(len(r.buf))
	if off > n || size > n-off {
		return &BoundsError{Offset: off, Size: size, Len: n}
	}
	return nil
}

// BytesAt returns the size bytes at off. The returned slice aliases the
// image and must not be modified.
func (r *Reader) BytesAt(off, size uint64) ([]byte, error) {
	if err := r.Check(off, size); err != nil {
		return nil, err
	}
	return r.buf[off : off+size : off+size], nil
}

func (r *Reader) Uint8At(off uint64) (uint8, error) {
	if err := r.Check(off, 1); err != nil {
		return 0, err
	}
	return r.buf[off], nil
}

func (r *Reader) Uint16At(off uint64) (uint16, error) {
	b, err := r.BytesAt(off, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) Uint32At(off uint64) (uint32, error) {
	b, err := r.BytesAt(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) Uint64At(off uint64) (uint64, error) {
	b, err := r.BytesAt(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// CStringAt returns the NUL-terminated string starting at off. The
// terminator must be found before limit (an absolute offset, exclusive);
// a string running into limit or the end of the image is a bounds error.
func (r *Reader) CStringAt(off, limit uint64) (string, error) {
	n := uint64(len(r.buf))
	if limit > n {
		return "", &BoundsError{Offset: off, Size: limit - off, Len: n}
	}
	if off >= limit {
		return "", &BoundsError{Offset: off, Size: 1, Len: limit}
	}
	idx := bytes.IndexByte(r.buf[off:limit], 0)
	if idx < 0 {
		return "", &BoundsError{Offset: off, Size: limit - off + 1, Len: limit}
	}
	return string(r.buf[off : off+uint64(idx)]), nil
}

// Seek moves the sequential read position to off.
func (r *Reader) Seek(off uint64) error {
	if off > uint64(len(r.buf)) {
		return &BoundsError{Offset: off, Len: uint64(len(r.buf))}
	}
	r.pos = off
	return nil
}

// Offset returns the sequential read position.
func (r *Reader) Offset() uint64 {
	return r.pos
}

// Skip advances the sequential read position by n bytes.
func (r *Reader) Skip(n uint64) error {
	if err := r.Check(r.pos, n); err != nil {
		return err
	}
	r.pos += n
	return nil
}

func (r *Reader) ReadBytes(n uint64) ([]byte, error) {
	b, err := r.BytesAt(r.pos, n)
	if err != nil {
		return nil, err
	}
	r.pos += n
	return b, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	v, err := r.Uint8At(r.pos)
	if err != nil {
		return 0, err
	}
	r.pos++
	return v, nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	v, err := r.Uint16At(r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += 2
	return v, nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	v, err := r.Uint32At(r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	v, err := r.Uint64At(r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += 8
	return v, nil
}
