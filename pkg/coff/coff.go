// Package coff reads and writes COFF relocatable object files, both in the
// standard layout and in the extended "bigobj" layout that compilers emit
// for objects with more than 65279 sections.
//
// Parsing resolves the layout once; everything past Parse sees a single
// Symbol type regardless of whether the table stores 18 or 20 byte records.
package coff

import (
	"bytes"
	"encoding/binary"
	"strconv"

	"github.com/grafana/defgen/pkg/objfile"
)

// Symbol is a symbol table record in layout independent form.
type Symbol struct {
	// RawName is the 8 byte name field: either the name itself, NUL padded,
	// or four zero bytes followed by a string table offset.
	RawName      [8]byte
	Value        uint32
	Section      int32 // 1-based; see SymUndefined, SymAbsolute, SymDebug
	Type         uint16
	StorageClass uint8
	NumAux       uint8
}

// HasInlineName reports whether the name is stored in RawName itself.
func (s Symbol) HasInlineName() bool {
	return binary.LittleEndian.Uint32(s.RawName[:4]) != 0
}

// Section is a section table entry.
type Section struct {
	Name              string
	VirtualSize       uint32
	VirtualAddress    uint32
	Size              uint32
	DataOffset        uint32
	RelocationsOffset uint32
	NumRelocations    uint16
	Characteristics   uint32
}

func (s *Section) IsComdat() bool {
	return s.Characteristics&SectionLnkComdat != 0
}

// Relocation is a section relocation entry.
type Relocation struct {
	Offset uint32
	Symbol uint32
	Type   uint16
}

// symbolLayout decodes one physical symbol table record. Auxiliary records
// occupy slots of the same width, so the layout also determines where they
// are found.
type symbolLayout interface {
	entrySize() uint64
	decode(b []byte) Symbol
}

type standardLayout struct{}

func (standardLayout) entrySize() uint64 { return symbolSize }

func (standardLayout) decode(b []byte) Symbol {
	var s Symbol
	copy(s.RawName[:], b[0:8])
	s.Value = binary.LittleEndian.Uint32(b[8:])
	s.Section = int32(int16(binary.LittleEndian.Uint16(b[12:])))
	s.Type = binary.LittleEndian.Uint16(b[14:])
	s.StorageClass = b[16]
	s.NumAux = b[17]
	return s
}

type bigObjLayout struct{}

func (bigObjLayout) entrySize() uint64 { return bigObjSymbolSize }

func (bigObjLayout) decode(b []byte) Symbol {
	var s Symbol
	copy(s.RawName[:], b[0:8])
	s.Value = binary.LittleEndian.Uint32(b[8:])
	s.Section = int32(binary.LittleEndian.Uint32(b[12:]))
	s.Type = binary.LittleEndian.Uint16(b[16:])
	s.StorageClass = b[18]
	s.NumAux = b[19]
	return s
}

// Offsets inside auxiliary records; identical for both layouts.
const (
	auxSectionSelection = 14
	auxWeakTagIndex     = 0
	auxWeakFlags        = 4
)

// Image is a parsed COFF object file. It owns the image bytes and is not
// modified after Parse returns.
type Image struct {
	r      *objfile.Reader
	layout symbolLayout

	Machine       uint16
	TimeDateStamp uint32
	BigObj        bool

	numSymbols        uint32
	symbolTableOffset uint64
	stringTableOffset uint64
	stringTableSize   uint64
	sections          []Section
}

// Parse interprets buf as a COFF object file.
//
// An image is treated as bigobj when its first two words are 0x0000 and
// 0xffff and the machine field of the standard header, which overlaps the
// first signature word, is not a known machine.
func Parse(buf []byte) (*Image, error) {
	r := objfile.NewReader(buf)
	sig1, err := r.Uint16At(0)
	if err != nil {
		return nil, err
	}
	sig2, err := r.Uint16At(2)
	if err != nil {
		return nil, err
	}
	img := &Image{r: r}
	// In the standard layout the first word is the machine, so sig1 doubles
	// as the machine read at the standard offset.
	if sig1 == 0 && sig2 == 0xffff && !isKnownMachine(sig1) {
		err = img.parseBigObj()
	} else {
		err = img.parseStandard()
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (img *Image) parseStandard() error {
	r := img.r
	if err := r.Check(0, headerSize); err != nil {
		return err
	}
	_ = r.Seek(0)
	machine, _ := r.ReadUint16()
	nSections, _ := r.ReadUint16()
	timestamp, _ := r.ReadUint32()
	pSymbols, _ := r.ReadUint32()
	nSymbols, _ := r.ReadUint32()
	optHeaderSize, _ := r.ReadUint16()

	if !isKnownMachine(machine) {
		return objfile.Formatf("invalid COFF machine type %#04x", machine)
	}
	if optHeaderSize != 0 {
		return objfile.Formatf("optional header of %d bytes is not supported", optHeaderSize)
	}
	img.layout = standardLayout{}
	img.Machine = machine
	img.TimeDateStamp = timestamp
	return img.parseTables(headerSize, uint32(nSections), pSymbols, nSymbols)
}

func (img *Image) parseBigObj() error {
	r := img.r
	if err := r.Check(0, bigObjHeaderSize); err != nil {
		return err
	}
	machine, _ := r.Uint16At(6)
	timestamp, _ := r.Uint32At(8)
	classID, _ := r.BytesAt(12, uint64(len(bigObjClassID)))
	nSections, _ := r.Uint32At(44)
	pSymbols, _ := r.Uint32At(48)
	nSymbols, _ := r.Uint32At(52)

	if !isKnownMachine(machine) {
		return objfile.Formatf("invalid bigobj machine type %#04x", machine)
	}
	if !bytes.Equal(classID, bigObjClassID[:]) {
		return objfile.Structuralf("invalid bigobj class ID % x", classID)
	}
	img.layout = bigObjLayout{}
	img.BigObj = true
	img.Machine = machine
	img.TimeDateStamp = timestamp
	return img.parseTables(bigObjHeaderSize, nSections, pSymbols, nSymbols)
}

func (img *Image) parseTables(sectionTableOffset uint64, nSections, pSymbols, nSymbols uint32) error {
	r := img.r
	if nSymbols > 0 || pSymbols != 0 {
		img.numSymbols = nSymbols
		img.symbolTableOffset = uint64(pSymbols)
		tableSize := uint64(nSymbols) * img.layout.entrySize()
		if err := r.Check(img.symbolTableOffset, tableSize); err != nil {
			return err
		}
		img.stringTableOffset = img.symbolTableOffset + tableSize
		if img.stringTableOffset < r.Len() {
			size, err := r.Uint32At(img.stringTableOffset)
			if err != nil {
				return err
			}
			if size < stringTableLength {
				size = stringTableLength
			}
			if err := r.Check(img.stringTableOffset, uint64(size)); err != nil {
				return err
			}
			img.stringTableSize = uint64(size)
		}
	}

	if err := r.Check(sectionTableOffset, uint64(nSections)*sectionHeaderSize); err != nil {
		return err
	}
	img.sections = make([]Section, nSections)
	for i := range img.sections {
		s, err := img.parseSection(sectionTableOffset + uint64(i)*sectionHeaderSize)
		if err != nil {
			return err
		}
		img.sections[i] = s
	}
	return nil
}

func (img *Image) parseSection(off uint64) (Section, error) {
	r := img.r
	var s Section
	raw, _ := r.BytesAt(off, 8)
	_ = r.Seek(off + 8)
	s.VirtualSize, _ = r.ReadUint32()
	s.VirtualAddress, _ = r.ReadUint32()
	s.Size, _ = r.ReadUint32()
	s.DataOffset, _ = r.ReadUint32()
	s.RelocationsOffset, _ = r.ReadUint32()
	_ = r.Skip(4) // line numbers
	s.NumRelocations, _ = r.ReadUint16()
	_ = r.Skip(2)
	s.Characteristics, _ = r.ReadUint32()

	name := cString(raw)
	if len(name) > 1 && name[0] == '/' {
		strOff, err := strconv.ParseUint(name[1:], 10, 32)
		if err != nil {
			return s, objfile.Structuralf("invalid long section name %q", name)
		}
		if name, err = img.stringAt(strOff); err != nil {
			return s, err
		}
	}
	s.Name = name
	return s, nil
}

// NumSymbols returns the number of symbol table slots, auxiliary records
// included.
func (img *Image) NumSymbols() uint32 { return img.numSymbols }

func (img *Image) NumSections() int { return len(img.sections) }

// Sections returns the section table. The caller must not modify it.
func (img *Image) Sections() []Section { return img.sections }

// Section returns the section with the given 1-based number, as used by
// Symbol.Section.
func (img *Image) Section(number int32) (*Section, error) {
	if number < 1 || int(number) > len(img.sections) {
		return nil, objfile.Structuralf("section number %d out of range (%d sections)", number, len(img.sections))
	}
	return &img.sections[number-1], nil
}

func (img *Image) SymbolTableOffset() uint64 { return img.symbolTableOffset }
func (img *Image) StringTableOffset() uint64 { return img.stringTableOffset }
func (img *Image) StringTableSize() uint64   { return img.stringTableSize }
func (img *Image) Len() uint64               { return img.r.Len() }

func (img *Image) slot(index uint32) ([]byte, error) {
	if index >= img.numSymbols {
		return nil, objfile.Structuralf("symbol index %d out of range (%d symbols)", index, img.numSymbols)
	}
	size := img.layout.entrySize()
	return img.r.BytesAt(img.symbolTableOffset+uint64(index)*size, size)
}

// Symbol returns the symbol in slot index.
func (img *Image) Symbol(index uint32) (Symbol, error) {
	b, err := img.slot(index)
	if err != nil {
		return Symbol{}, err
	}
	return img.layout.decode(b), nil
}

// AuxSymbolCount returns the number of auxiliary slots following the symbol
// in slot index.
func (img *Image) AuxSymbolCount(index uint32) (uint8, error) {
	s, err := img.Symbol(index)
	if err != nil {
		return 0, err
	}
	return s.NumAux, nil
}

// SectionSelection reads slot auxIndex as a section definition auxiliary
// record and returns its COMDAT selection.
func (img *Image) SectionSelection(auxIndex uint32) (uint8, error) {
	b, err := img.slot(auxIndex)
	if err != nil {
		return 0, err
	}
	return b[auxSectionSelection], nil
}

// WeakExternal reads slot auxIndex as a weak external auxiliary record.
func (img *Image) WeakExternal(auxIndex uint32) (tagIndex, characteristics uint32, err error) {
	b, err := img.slot(auxIndex)
	if err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint32(b[auxWeakTagIndex:]), binary.LittleEndian.Uint32(b[auxWeakFlags:]), nil
}

// Walk calls fn for every symbol in table order, stepping over auxiliary
// records. Iteration stops at the first error.
func (img *Image) Walk(fn func(index uint32, sym Symbol) error) error {
	for k := uint32(0); k < img.numSymbols; {
		sym, err := img.Symbol(k)
		if err != nil {
			return err
		}
		if err := fn(k, sym); err != nil {
			return err
		}
		k += 1 + uint32(sym.NumAux)
	}
	return nil
}

// SymbolName resolves the name of sym, either from the name field itself or
// from the string table.
func (img *Image) SymbolName(sym Symbol) (string, error) {
	if sym.HasInlineName() {
		return cString(sym.RawName[:]), nil
	}
	return img.stringAt(uint64(binary.LittleEndian.Uint32(sym.RawName[4:])))
}

// stringAt returns the string at off, relative to the start of the string
// table (which begins with its own 4 byte length).
func (img *Image) stringAt(off uint64) (string, error) {
	if off < stringTableLength {
		return "", objfile.Structuralf("string table offset %d points into the table length", off)
	}
	if off >= img.stringTableSize {
		return "", &objfile.BoundsError{
			Offset: img.stringTableOffset + off,
			Size:   1,
			Len:    img.stringTableOffset + img.stringTableSize,
		}
	}
	return img.r.CStringAt(img.stringTableOffset+off, img.stringTableOffset+img.stringTableSize)
}

// SectionData returns the raw contents of the section with the given
// 1-based number.
func (img *Image) SectionData(number int32) ([]byte, error) {
	s, err := img.Section(number)
	if err != nil {
		return nil, err
	}
	if s.Size == 0 || s.DataOffset == 0 {
		return nil, nil
	}
	return img.r.BytesAt(uint64(s.DataOffset), uint64(s.Size))
}

// Relocations returns the relocation entries of the section with the given
// 1-based number.
func (img *Image) Relocations(number int32) ([]Relocation, error) {
	s, err := img.Section(number)
	if err != nil {
		return nil, err
	}
	if s.NumRelocations == 0 {
		return nil, nil
	}
	off := uint64(s.RelocationsOffset)
	if err := img.r.Check(off, uint64(s.NumRelocations)*relocationSize); err != nil {
		return nil, err
	}
	relocs := make([]Relocation, s.NumRelocations)
	for i := range relocs {
		base := off + uint64(i)*relocationSize
		relocs[i].Offset, _ = img.r.Uint32At(base)
		relocs[i].Symbol, _ = img.r.Uint32At(base + 4)
		relocs[i].Type, _ = img.r.Uint16At(base + 8)
	}
	return relocs, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
