package objfile

import (
	"fmt"

	"github.com/pkg/errors"
)

// FormatError reports that the input is not an object file format we
// understand: wrong magic, machine, class, encoding or version.
type FormatError struct {
	Msg string
}

func (e *FormatError) Error() string {
	return "unsupported object format: " + e.Msg
}

// StructuralError reports an internal inconsistency in an otherwise
// recognized object file, e.g. duplicate symbol tables or a name offset
// past the end of its string table.
type StructuralError struct {
	Msg string
}

func (e *StructuralError) Error() string {
	return "malformed object file: " + e.Msg
}

// BoundsError reports that a computed offset/length pair falls outside of
// the buffer it was meant to address.
type BoundsError struct {
	Offset uint64
	Size   uint64
	Len    uint64
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("out of bounds: reading %d bytes at offset %#x of a %d byte buffer", e.Size, e.Offset, e.Len)
}

func Formatf(format string, args ...interface{}) error {
	return &FormatError{Msg: fmt.Sprintf(format, args...)}
}

func Structuralf(format string, args ...interface{}) error {
	return &StructuralError{Msg: fmt.Sprintf(format, args...)}
}

// IsFormat reports whether any error in err's chain is a *FormatError.
func IsFormat(err error) bool {
	var target *FormatError
	return errors.As(err, &target)
}

// IsStructural reports whether any error in err's chain is a *StructuralError.
func IsStructural(err error) bool {
	var target *StructuralError
	return errors.As(err, &target)
}

// IsBounds reports whether any error in err's chain is a *BoundsError.
func IsBounds(err error) bool {
	var target *BoundsError
	return errors.As(err, &target)
}
