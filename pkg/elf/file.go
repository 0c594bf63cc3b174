package elf

import (
	"encoding/binary"

	"github.com/grafana/defgen/pkg/objfile"
)

// Section types and special indices.
const (
	SectionTypeSymtab uint32 = 2
	SectionTypeStrtab uint32 = 3

	sectionIndexExtended = 0xffff
)

// Symbol types and bindings, as packed into st_info.
const (
	SymTypeNoType = 0
	SymTypeObject = 1
	SymTypeFunc   = 2

	SymBindLocal  = 0
	SymBindGlobal = 1
	SymBindWeak   = 2
)

// SectionHeader is a section header widened to 64 bit fields.
type SectionHeader struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

// Symbol is a symbol table entry widened to 64 bit fields.
type Symbol struct {
	Name    uint32
	Value   uint64
	Size    uint64
	Info    uint8
	Other   uint8
	Section uint16
}

func (s Symbol) Type() uint8 { return s.Info & 0xf }
func (s Symbol) Bind() uint8 { return s.Info >> 4 }

// Image is a parsed ELF object with a located symbol table.
type Image interface {
	Class() Class
	NumSections() uint64
	SymbolCount() uint64
	Symbol(i uint64) (Symbol, error)
	// SymbolName resolves sym's name through the object string table.
	SymbolName(sym Symbol) (string, error)
}

// Parse validates the identification bytes and parses buf with the layout
// matching its class.
func Parse(buf []byte) (Image, error) {
	ident, err := ParseIdent(buf)
	if err != nil {
		return nil, err
	}
	if ident.Class == Class32 {
		f, err := parse[uint32](buf, ident.Class)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	f, err := parse[uint64](buf, ident.Class)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// word is the address/offset width of an ELF class.
type word interface {
	~uint32 | ~uint64
}

// layout holds the record offsets of one class. Only the word size varies
// between classes, except for the symbol record whose field order differs.
type layout struct {
	wordSize uint64

	headerSize        uint64
	offShoff          uint64
	offShentsize      uint64
	offShnum          uint64
	offShstrndx       uint64
	sectionHeaderSize uint64

	symbolSize    uint64
	offSymValue   uint64
	offSymSize    uint64
	offSymInfo    uint64
	offSymOther   uint64
	offSymSection uint64
}

func newLayout[W word]() layout {
	var zero W
	w := uint64(binary.Size(zero))
	l := layout{
		wordSize:          w,
		headerSize:        40 + 3*w,
		offShoff:          24 + 2*w,
		offShentsize:      34 + 3*w,
		offShnum:          36 + 3*w,
		offShstrndx:       38 + 3*w,
		sectionHeaderSize: 16 + 6*w,
	}
	if w == 4 {
		l.symbolSize = 16
		l.offSymValue, l.offSymSize, l.offSymInfo, l.offSymOther, l.offSymSection = 4, 8, 12, 13, 14
	} else {
		l.symbolSize = 24
		l.offSymInfo, l.offSymOther, l.offSymSection, l.offSymValue, l.offSymSize = 4, 5, 6, 8, 16
	}
	return l
}

type file[W word] struct {
	r      *objfile.Reader
	lay    layout
	class  Class
	shoff  uint64
	shnum  uint64
	strtab SectionHeader
	symtab SectionHeader
	nsyms  uint64
}

func parse[W word](buf []byte, class Class) (*file[W], error) {
	f := &file[W]{
		r:     objfile.NewReader(buf),
		lay:   newLayout[W](),
		class: class,
	}
	if err := f.r.Check(0, f.lay.headerSize); err != nil {
		return nil, err
	}
	shoff, _ := f.readWord(f.lay.offShoff)
	shentsize, _ := f.r.Uint16At(f.lay.offShentsize)
	shnum, _ := f.r.Uint16At(f.lay.offShnum)
	shstrndx, _ := f.r.Uint16At(f.lay.offShstrndx)
	if shoff == 0 {
		return nil, objfile.Structuralf("no section header table")
	}
	if uint64(shentsize) != f.lay.sectionHeaderSize {
		return nil, objfile.Structuralf("section header size %d, expected %d", shentsize, f.lay.sectionHeaderSize)
	}
	f.shoff = shoff

	// Section 0 carries the real values when they do not fit the header.
	f.shnum = uint64(shnum)
	nameIndex := uint64(shstrndx)
	if shnum == 0 || shstrndx == sectionIndexExtended {
		s0, err := f.readSectionHeader(0)
		if err != nil {
			return nil, err
		}
		if shnum == 0 {
			f.shnum = s0.Size
		}
		if shstrndx == sectionIndexExtended {
			nameIndex = uint64(s0.Link)
		}
	}
	if f.shnum > f.r.Len()/f.lay.sectionHeaderSize {
		return nil, &objfile.BoundsError{Offset: f.shoff, Size: f.shnum, Len: f.r.Len()}
	}
	if err := f.r.Check(f.shoff, f.shnum*f.lay.sectionHeaderSize); err != nil {
		return nil, err
	}

	names, err := f.stringTable(nameIndex)
	if err != nil {
		return nil, err
	}
	strtabIndex, symtabIndex, err := f.findTables(names)
	if err != nil {
		return nil, err
	}
	if f.strtab, err = f.stringTable(strtabIndex); err != nil {
		return nil, err
	}
	if f.symtab, err = f.readSectionHeader(symtabIndex); err != nil {
		return nil, err
	}
	if err := f.checkSymbolTable(); err != nil {
		return nil, err
	}
	return f, nil
}

// readWord decodes one class-sized word at off.
func (f *file[W]) readWord(off uint64) (uint64, error) {
	var w W
	b, err := f.r.BytesAt(off, f.lay.wordSize)
	if err != nil {
		return 0, err
	}
	if _, err := binary.Decode(b, binary.LittleEndian, &w); err != nil {
		return 0, err
	}
	return uint64(w), nil
}

func (f *file[W]) readSectionHeader(index uint64) (SectionHeader, error) {
	var s SectionHeader
	base := f.shoff + index*f.lay.sectionHeaderSize
	if err := f.r.Check(base, f.lay.sectionHeaderSize); err != nil {
		return s, err
	}
	w := f.lay.wordSize
	s.Name, _ = f.r.Uint32At(base)
	s.Type, _ = f.r.Uint32At(base + 4)
	s.Flags, _ = f.readWord(base + 8)
	s.Addr, _ = f.readWord(base + 8 + w)
	s.Offset, _ = f.readWord(base + 8 + 2*w)
	s.Size, _ = f.readWord(base + 8 + 3*w)
	s.Link, _ = f.r.Uint32At(base + 8 + 4*w)
	s.Info, _ = f.r.Uint32At(base + 12 + 4*w)
	s.AddrAlign, _ = f.readWord(base + 16 + 4*w)
	s.EntSize, _ = f.readWord(base + 16 + 5*w)
	return s, nil
}

// stringTable returns the header of a string table section, which must be
// a real, non-empty section that lies within the image.
func (f *file[W]) stringTable(index uint64) (SectionHeader, error) {
	if index == 0 || index >= f.shnum {
		return SectionHeader{}, objfile.Structuralf("string table section index %d out of range (%d sections)", index, f.shnum)
	}
	s, err := f.readSectionHeader(index)
	if err != nil {
		return s, err
	}
	if s.Size == 0 {
		return s, objfile.Structuralf("string table section %d is empty", index)
	}
	if err := f.r.Check(s.Offset, s.Size); err != nil {
		return s, err
	}
	return s, nil
}

// findTables locates the single .strtab and .symtab sections by name and
// type.
func (f *file[W]) findTables(names SectionHeader) (strtab, symtab uint64, err error) {
	var foundStr, foundSym bool
	for i := uint64(0); i < f.shnum; i++ {
		s, err := f.readSectionHeader(i)
		if err != nil {
			return 0, 0, err
		}
		if uint64(s.Name) >= names.Size {
			return 0, 0, objfile.Structuralf("section %d name offset %d past section name table of %d bytes", i, s.Name, names.Size)
		}
		name, err := f.r.CStringAt(names.Offset+uint64(s.Name), names.Offset+names.Size)
		if err != nil {
			return 0, 0, err
		}
		switch {
		case s.Type == SectionTypeStrtab && name == ".strtab":
			if foundStr {
				return 0, 0, objfile.Structuralf("multiple .strtab sections")
			}
			strtab, foundStr = i, true
		case s.Type == SectionTypeSymtab && name == ".symtab":
			if foundSym {
				return 0, 0, objfile.Structuralf("multiple .symtab sections")
			}
			symtab, foundSym = i, true
		}
	}
	if !foundStr {
		return 0, 0, objfile.Structuralf("no .strtab section")
	}
	if !foundSym {
		return 0, 0, objfile.Structuralf("no .symtab section")
	}
	return strtab, symtab, nil
}

func (f *file[W]) checkSymbolTable() error {
	s := f.symtab
	if s.EntSize == 0 {
		return objfile.Structuralf(".symtab has zero entry size")
	}
	if s.EntSize < f.lay.symbolSize {
		return objfile.Structuralf(".symtab entry size %d smaller than a %s symbol", s.EntSize, f.class)
	}
	if s.Size%s.EntSize != 0 {
		return objfile.Structuralf(".symtab size %d is not a multiple of entry size %d", s.Size, s.EntSize)
	}
	f.nsyms = s.Size / s.EntSize
	if f.nsyms == 0 {
		return objfile.Structuralf(".symtab is empty")
	}
	return f.r.Check(s.Offset, s.Size)
}

func (f *file[W]) Class() Class        { return f.class }
func (f *file[W]) NumSections() uint64 { return f.shnum }
func (f *file[W]) SymbolCount() uint64 { return f.nsyms }

func (f *file[W]) Symbol(i uint64) (Symbol, error) {
	var s Symbol
	if i >= f.nsyms {
		return s, objfile.Structuralf("symbol index %d out of range (%d symbols)", i, f.nsyms)
	}
	l := f.lay
	base := f.symtab.Offset + i*f.symtab.EntSize
	if err := f.r.Check(base, l.symbolSize); err != nil {
		return s, err
	}
	s.Name, _ = f.r.Uint32At(base)
	s.Value, _ = f.readWord(base + l.offSymValue)
	s.Size, _ = f.readWord(base + l.offSymSize)
	s.Info, _ = f.r.Uint8At(base + l.offSymInfo)
	s.Other, _ = f.r.Uint8At(base + l.offSymOther)
	s.Section, _ = f.r.Uint16At(base + l.offSymSection)
	return s, nil
}

func (f *file[W]) SymbolName(sym Symbol) (string, error) {
	if uint64(sym.Name) >= f.strtab.Size {
		return "", objfile.Structuralf("symbol name offset %d past .strtab of %d bytes", sym.Name, f.strtab.Size)
	}
	return f.r.CStringAt(f.strtab.Offset+uint64(sym.Name), f.strtab.Offset+f.strtab.Size)
}

// CollectFunctionSymbols returns the names of all global function symbols
// in table order. Weak definitions are not included.
func CollectFunctionSymbols(img Image) ([]string, error) {
	var names []string
	for i := uint64(0); i < img.SymbolCount(); i++ {
		sym, err := img.Symbol(i)
		if err != nil {
			return nil, err
		}
		if sym.Type() != SymTypeFunc || sym.Bind() != SymBindGlobal {
			continue
		}
		name, err := img.SymbolName(sym)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}
