package testhelper

import (
	"github.com/grafana/defgen/pkg/objfile"
)

// ELF constants used by the fixtures.
const (
	ElfSymTypeObject = 1
	ElfSymTypeFunc   = 2

	ElfSymBindLocal  = 0
	ElfSymBindGlobal = 1
	ElfSymBindWeak   = 2

	ElfSectionProgbits = 1
	ElfSectionSymtab   = 2
	ElfSectionStrtab   = 3
)

// ElfSymbol is a symbol of an ElfObject fixture. Defined symbols live in
// section 1 (.text); set Undefined to emit SHN_UNDEF.
type ElfSymbol struct {
	Name      string
	Type      uint8
	Bind      uint8
	Undefined bool
}

// ElfSection is an additional, empty section appended after the standard
// ones.
type ElfSection struct {
	Name string
	Type uint32
}

// ElfObject builds little-endian relocatable ELF fixtures. The section
// layout is: null, .text, .symtab, .strtab, .shstrtab, then Extra.
type ElfObject struct {
	Class64 bool
	Symbols []ElfSymbol
	Extra   []ElfSection
	// ExtendedNumbering stores the section count and the section name
	// table index in section 0, as required for files with more than
	// 0xff00 sections.
	ExtendedNumbering bool
	// SymbolEntrySize overrides the .symtab sh_entsize when non-zero.
	SymbolEntrySize uint64
}

const (
	elfSectionText = 1 + iota
	elfSectionSymtab
	elfSectionStrtab
	elfSectionShstrtab
)

func (o *ElfObject) word() uint64 {
	if o.Class64 {
		return 8
	}
	return 4
}

func (o *ElfObject) appendWord(w *objfile.Writer, v uint64) {
	if o.Class64 {
		w.AppendUint64(v)
	} else {
		w.AppendUint32(uint32(v))
	}
}

func (o *ElfObject) Bytes() []byte {
	wsz := o.word()
	ehdrSize := 40 + 3*wsz
	shdrSize := 16 + 6*wsz
	symSize := uint64(16)
	if o.Class64 {
		symSize = 24
	}

	strtab := []byte{0}
	syms := objfile.NewWriter(0)
	syms.AppendZeros(symSize)
	for _, s := range o.Symbols {
		nameOff := uint32(len(strtab))
		strtab = append(strtab, s.Name...)
		strtab = append(strtab, 0)
		shndx := uint16(elfSectionText)
		if s.Undefined {
			shndx = 0
		}
		info := s.Bind<<4 | s.Type&0xf
		syms.AppendUint32(nameOff)
		if o.Class64 {
			syms.AppendUint8(info)
			syms.AppendUint8(0)
			syms.AppendUint16(shndx)
			syms.AppendUint64(0)
			syms.AppendUint64(1)
		} else {
			syms.AppendUint32(0)
			syms.AppendUint32(1)
			syms.AppendUint8(info)
			syms.AppendUint8(0)
			syms.AppendUint16(shndx)
		}
	}

	shstrtab := []byte{0}
	addName := func(name string) uint32 {
		off := uint32(len(shstrtab))
		shstrtab = append(shstrtab, name...)
		shstrtab = append(shstrtab, 0)
		return off
	}

	type section struct {
		name    uint32
		typ     uint32
		offset  uint64
		size    uint64
		link    uint32
		info    uint32
		entsize uint64
	}
	w := objfile.NewWriter(0)
	ehdr := w.Reserve(ehdrSize)

	text := []byte{0xc3}
	sections := []section{{}}
	sections = append(sections, section{name: addName(".text"), typ: ElfSectionProgbits, offset: w.Len(), size: uint64(len(text))})
	w.AppendBytes(text)

	entsize := symSize
	if o.SymbolEntrySize != 0 {
		entsize = o.SymbolEntrySize
	}
	sections = append(sections, section{
		name: addName(".symtab"), typ: ElfSectionSymtab, offset: w.Len(), size: syms.Len(),
		link: elfSectionStrtab, info: 1, entsize: entsize,
	})
	w.AppendBytes(syms.Bytes())

	sections = append(sections, section{name: addName(".strtab"), typ: ElfSectionStrtab, offset: w.Len(), size: uint64(len(strtab))})
	w.AppendBytes(strtab)

	shstrtabIdx := len(sections)
	shstrtabSection := section{name: addName(".shstrtab"), typ: ElfSectionStrtab}
	sections = append(sections, shstrtabSection)
	for _, e := range o.Extra {
		sections = append(sections, section{name: addName(e.Name), typ: e.Type})
	}
	sections[shstrtabIdx].offset = w.Len()
	sections[shstrtabIdx].size = uint64(len(shstrtab))
	w.AppendBytes(shstrtab)

	for w.Len()%8 != 0 {
		w.AppendUint8(0)
	}
	shoff := w.Len()
	if o.ExtendedNumbering {
		sections[0].size = uint64(len(sections))
		sections[0].link = uint32(shstrtabIdx)
	}
	for _, s := range sections {
		w.AppendUint32(s.name)
		w.AppendUint32(s.typ)
		o.appendWord(w, 0) // flags
		o.appendWord(w, 0) // addr
		o.appendWord(w, s.offset)
		o.appendWord(w, s.size)
		w.AppendUint32(s.link)
		w.AppendUint32(s.info)
		o.appendWord(w, 1) // addralign
		o.appendWord(w, s.entsize)
	}

	h := objfile.NewWriter(int(ehdrSize))
	class := byte(1)
	if o.Class64 {
		class = 2
	}
	h.AppendBytes([]byte{0x7f, 'E', 'L', 'F', class, 1, 1})
	h.AppendZeros(9)
	h.AppendUint16(1)    // ET_REL
	h.AppendUint16(0x3e) // EM_X86_64
	h.AppendUint32(1)
	o.appendWord(h, 0) // entry
	o.appendWord(h, 0) // phoff
	o.appendWord(h, shoff)
	h.AppendUint32(0)
	h.AppendUint16(uint16(ehdrSize))
	h.AppendUint16(0)
	h.AppendUint16(0)
	h.AppendUint16(uint16(shdrSize))
	if o.ExtendedNumbering {
		h.AppendUint16(0)
		h.AppendUint16(0xffff)
	} else {
		h.AppendUint16(uint16(len(sections)))
		h.AppendUint16(uint16(shstrtabIdx))
	}
	_ = w.Patch(ehdr, h.Bytes())
	return w.Bytes()
}
