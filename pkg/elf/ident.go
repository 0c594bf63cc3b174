// Package elf reads the symbol table of little-endian ELF relocatable
// objects, 32 or 64 bit.
//
// Only the parts needed to list exported functions are decoded: the file
// header, the section header table and the .symtab/.strtab pair. Both word
// sizes share one parser, instantiated per width.
package elf

import (
	"github.com/grafana/defgen/pkg/objfile"
)

// Class is the EI_CLASS identification byte.
type Class uint8

const (
	Class32 Class = 1
	Class64 Class = 2
)

func (c Class) String() string {
	switch c {
	case Class32:
		return "ELF32"
	case Class64:
		return "ELF64"
	default:
		return "ELFCLASSNONE"
	}
}

const (
	identSize = 16

	eiClass   = 4
	eiData    = 5
	eiVersion = 6

	dataLSB = 1
	version = 1
)

var magic = [4]byte{0x7f, 'E', 'L', 'F'}

// Ident is the decoded identification block of an ELF file.
type Ident struct {
	Class Class
}

// IsELF reports whether buf starts with the ELF magic.
func IsELF(buf []byte) bool {
	return len(buf) >= len(magic) && [4]byte(buf[:4]) == magic
}

// ParseIdent validates the identification bytes. Only little-endian,
// version 1 files of either class are accepted.
func ParseIdent(buf []byte) (Ident, error) {
	r := objfile.NewReader(buf)
	b, err := r.BytesAt(0, identSize)
	if err != nil {
		return Ident{}, err
	}
	if [4]byte(b[:4]) != magic {
		return Ident{}, objfile.Formatf("invalid ELF magic % x", b[:4])
	}
	if b[eiData] != dataLSB {
		return Ident{}, objfile.Formatf("unsupported ELF data encoding %d, only little-endian is supported", b[eiData])
	}
	class := Class(b[eiClass])
	if class != Class32 && class != Class64 {
		return Ident{}, objfile.Formatf("invalid ELF class %d", b[eiClass])
	}
	if b[eiVersion] != version {
		return Ident{}, objfile.Formatf("unknown ELF version %d", b[eiVersion])
	}
	return Ident{Class: class}, nil
}
