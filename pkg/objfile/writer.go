package objfile

import (
	"encoding/binary"
	"fmt"
)

// Fixup is a region of a Writer reserved for data that is only known after
// later parts of the image have been laid out, such as a header that points
// at the symbol table.
type Fixup struct {
	Offset uint64
	Size   uint64
}

// Writer builds an object file image append-only. Regions that depend on
// data written later are reserved up front with Reserve and filled in with
// the Patch methods; patches may only touch bytes that already exist.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	if capacity < 0 {
		capacity = 0
	}
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Len returns the number of bytes written so far, which is also the offset
// the next append lands at.
func (w *Writer) Len() uint64 {
	return uint64(len(w.buf))
}

// Bytes returns the image written so far.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Write implements io.Writer. It never fails.
func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *Writer) AppendBytes(p []byte) {
	w.buf = append(w.buf, p...)
}

func (w *Writer) AppendZeros(n uint64) {
	for ; n > 0; n-- {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) AppendUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) AppendUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) AppendUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) AppendUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// Reserve appends size zero bytes and returns the region so that it can be
// patched once its contents are known.
func (w *Writer) Reserve(size uint64) Fixup {
	f := Fixup{Offset: w.Len(), Size: size}
	w.AppendZeros(size)
	return f
}

// Patch overwrites the reserved region f with p, which must be exactly as
// long as the region.
func (w *Writer) Patch(f Fixup, p []byte) error {
	if uint64(len(p)) != f.Size {
		return fmt.Errorf("patch of %d bytes does not match reserved region of %d bytes at %#x", len(p), f.Size, f.Offset)
	}
	return w.PatchBytes(f.Offset, p)
}

// PatchBytes overwrites already written bytes starting at off.
func (w *Writer) PatchBytes(off uint64, p []byte) error {
	n := uint64(len(w.buf))
	if off > n || uint64(len(p)) > n-off {
		return &BoundsError{Offset: off, Size: uint64(len(p)), Len: n}
	}
	copy(w.buf[off:], p)
	return nil
}

func (w *Writer) PatchUint16(off uint64, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return w.PatchBytes(off, b[:])
}

func (w *Writer) PatchUint32(off uint64, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return w.PatchBytes(off, b[:])
}
