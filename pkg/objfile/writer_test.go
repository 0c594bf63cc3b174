package objfile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriter_AppendAndPatch(t *testing.T) {
	w := NewWriter(16)

	hdr := w.Reserve(6)
	w.AppendUint8(0xc3)
	w.AppendUint16(0x0102)
	w.AppendUint32(0x03040506)
	tail := w.Len()
	w.AppendBytes([]byte("xy"))

	require.NoError(t, w.PatchUint32(hdr.Offset, uint32(tail)))
	require.NoError(t, w.PatchUint16(hdr.Offset+4, 0xbeef))

	require.Equal(t, []byte{
		0x0d, 0x00, 0x00, 0x00, 0xef, 0xbe,
		0xc3,
		0x02, 0x01,
		0x06, 0x05, 0x04, 0x03,
		'x', 'y',
	}, w.Bytes())

	r := NewReader(w.Bytes())
	off, err := r.Uint32At(0)
	require.NoError(t, err)
	s, err := r.BytesAt(uint64(off), 2)
	require.NoError(t, err)
	require.Equal(t, "xy", string(s))
}

func TestWriter_PatchValidation(t *testing.T) {
	w := NewWriter(0)
	f := w.Reserve(4)

	require.Error(t, w.Patch(f, []byte{1, 2, 3}))
	require.NoError(t, w.Patch(f, []byte{1, 2, 3, 4}))

	// Patches never grow the image.
	err := w.PatchUint32(2, 0)
	require.True(t, IsBounds(err))
	require.Equal(t, uint64(4), w.Len())
}

func TestWriter_IOWriter(t *testing.T) {
	w := NewWriter(0)
	n, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	w.AppendZeros(2)
	w.AppendUint64(1)
	require.Equal(t, uint64(13), w.Len())
}
