package coff

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/grafana/defgen/pkg/objfile"
)

// SectionSpec describes a section to be written by WriteObject.
type SectionSpec struct {
	Name            string
	Data            []byte
	Characteristics uint32
	Relocations     []Relocation
}

// SymbolSpec describes a symbol to be written by WriteObject.
type SymbolSpec struct {
	Name string
	// Section is the 1-based section number, or SymUndefined.
	Section  int32
	External bool
	// Weak marks the symbol as a weak external. It is followed by an
	// auxiliary record naming WeakTag as the default definition and
	// WeakExternSearchLibrary as the search behaviour.
	Weak    bool
	WeakTag uint32
}

// Option configures WriteObject.
type Option func(*options)

type options struct {
	machine   uint16
	timestamp uint32
}

// WithMachine sets the machine type in the header. Defaults to MachineI386.
func WithMachine(m uint16) Option {
	return func(o *options) {
		o.machine = m
	}
}

// WithTimeDateStamp sets the header timestamp. Defaults to zero, which is
// how generated objects are recognized and skipped by export extraction.
func WithTimeDateStamp(ts uint32) Option {
	return func(o *options) {
		o.timestamp = ts
	}
}

// stringTable accumulates names longer than 8 bytes. Offsets are relative
// to the start of the table, whose first 4 bytes hold its total size.
type stringTable struct {
	data []byte
}

func newStringTable() *stringTable {
	return &stringTable{data: make([]byte, stringTableLength)}
}

func (t *stringTable) add(name string) uint32 {
	off := uint32(len(t.data))
	t.data = append(t.data, name...)
	t.data = append(t.data, 0)
	return off
}

func (t *stringTable) symbolName(name string) [8]byte {
	var raw [8]byte
	if len(name) <= len(raw) {
		copy(raw[:], name)
		return raw
	}
	binary.LittleEndian.PutUint32(raw[4:], t.add(name))
	return raw
}

func (t *stringTable) sectionName(name string) [8]byte {
	var raw [8]byte
	if len(name) <= len(raw) {
		copy(raw[:], name)
		return raw
	}
	copy(raw[:], "/"+strconv.FormatUint(uint64(t.add(name)), 10))
	return raw
}

func (t *stringTable) bytes() []byte {
	binary.LittleEndian.PutUint32(t.data, uint32(len(t.data)))
	return t.data
}

// WriteObject lays out a standard COFF object: header, section table, the
// raw data and relocations of every section, the symbol table and the
// string table. Every symbol is written as a function symbol with value 0.
func WriteObject(sections []SectionSpec, symbols []SymbolSpec, opts ...Option) ([]byte, error) {
	o := options{machine: MachineI386}
	for _, opt := range opts {
		opt(&o)
	}
	if len(sections) > math.MaxInt16 {
		return nil, fmt.Errorf("too many sections: %d", len(sections))
	}

	numSlots := uint32(0)
	for _, s := range symbols {
		if s.Section < SymUndefined || int(s.Section) > len(sections) {
			return nil, fmt.Errorf("symbol %q refers to section %d of %d", s.Name, s.Section, len(sections))
		}
		numSlots++
		if s.Weak {
			numSlots++
		}
	}
	for _, s := range sections {
		if len(s.Relocations) > math.MaxUint16 {
			return nil, fmt.Errorf("section %q has too many relocations: %d", s.Name, len(s.Relocations))
		}
		for _, rel := range s.Relocations {
			if rel.Symbol >= numSlots {
				return nil, fmt.Errorf("section %q relocation refers to symbol %d of %d", s.Name, rel.Symbol, numSlots)
			}
		}
	}

	strtab := newStringTable()
	w := objfile.NewWriter(headerSize + len(sections)*sectionHeaderSize)
	header := w.Reserve(headerSize)
	sectionTable := w.Reserve(uint64(len(sections)) * sectionHeaderSize)

	for i, s := range sections {
		var dataOffset, relocOffset uint32
		if len(s.Data) > 0 {
			dataOffset = uint32(w.Len())
			w.AppendBytes(s.Data)
		}
		if len(s.Relocations) > 0 {
			relocOffset = uint32(w.Len())
			for _, rel := range s.Relocations {
				w.AppendUint32(rel.Offset)
				w.AppendUint32(rel.Symbol)
				w.AppendUint16(rel.Type)
			}
		}

		hdr := objfile.NewWriter(sectionHeaderSize)
		name := strtab.sectionName(s.Name)
		hdr.AppendBytes(name[:])
		hdr.AppendUint32(0) // virtual size
		hdr.AppendUint32(0) // virtual address
		hdr.AppendUint32(uint32(len(s.Data)))
		hdr.AppendUint32(dataOffset)
		hdr.AppendUint32(relocOffset)
		hdr.AppendUint32(0) // line numbers
		hdr.AppendUint16(uint16(len(s.Relocations)))
		hdr.AppendUint16(0)
		hdr.AppendUint32(s.Characteristics)
		if err := w.PatchBytes(sectionTable.Offset+uint64(i)*sectionHeaderSize, hdr.Bytes()); err != nil {
			return nil, err
		}
	}

	symbolTableOffset := uint32(w.Len())
	for _, s := range symbols {
		name := strtab.symbolName(s.Name)
		w.AppendBytes(name[:])
		w.AppendUint32(0) // value
		w.AppendUint16(uint16(int16(s.Section)))
		w.AppendUint16(SymTypeFunction)
		switch {
		case s.Weak:
			w.AppendUint8(SymClassWeakExternal)
			w.AppendUint8(1)
			w.AppendUint32(s.WeakTag)
			w.AppendUint32(WeakExternSearchLibrary)
			w.AppendZeros(symbolSize - 8)
		case s.External:
			w.AppendUint8(SymClassExternal)
			w.AppendUint8(0)
		default:
			w.AppendUint8(SymClassStatic)
			w.AppendUint8(0)
		}
	}
	w.AppendBytes(strtab.bytes())

	hdr := objfile.NewWriter(headerSize)
	hdr.AppendUint16(o.machine)
	hdr.AppendUint16(uint16(len(sections)))
	hdr.AppendUint32(o.timestamp)
	hdr.AppendUint32(symbolTableOffset)
	hdr.AppendUint32(numSlots)
	hdr.AppendUint16(0) // optional header
	hdr.AppendUint16(0) // characteristics
	if err := w.Patch(header, hdr.Bytes()); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

const (
	stubTextCharacteristics  = SectionAlign16Bytes | SectionCntCode | SectionMemExecute | SectionMemRead | SectionAlign1Bytes
	directivesCharacteristic = SectionAlign1Bytes | SectionLnkInfo | SectionLnkRemove
	retOpcode                = 0xc3
	refSlotSize              = 4
)

// ReferenceObject synthesizes an object that defines symbol in a .text
// section and references every name in refs through a DIR32NB relocation,
// so that linking it pulls the translation units defining refs into the
// image. Non-empty directives are stored in a .drectve section.
func ReferenceObject(symbol string, refs []string, directives string, opts ...Option) ([]byte, error) {
	text := SectionSpec{
		Name:            ".text",
		Data:            make([]byte, len(refs)*refSlotSize+1),
		Characteristics: stubTextCharacteristics,
	}
	text.Data[0] = retOpcode
	symbols := make([]SymbolSpec, 0, len(refs)+1)
	symbols = append(symbols, SymbolSpec{Name: symbol, Section: 1, External: true})
	for k, ref := range refs {
		symbols = append(symbols, SymbolSpec{Name: ref, Section: SymUndefined, External: true})
		text.Relocations = append(text.Relocations, Relocation{
			Offset: uint32(k*refSlotSize + 1),
			Symbol: uint32(k + 1),
			Type:   RelI386Dir32NB,
		})
	}

	sections := []SectionSpec{text}
	if directives != "" {
		sections = append(sections, SectionSpec{
			Name:            ".drectve",
			Data:            append([]byte(directives), 0),
			Characteristics: directivesCharacteristic,
		})
	}
	return WriteObject(sections, symbols, opts...)
}

// Names of the symbols defined by HookObject.
const (
	HookStubFunction  = "ReferenceModuleStubFunction"
	HookReferenceList = "_ReferenceAllModules"
)

// HookObject synthesizes an object referencing every name in refs as a weak
// external with library search semantics: the linker pulls in a definition
// when one exists in the searched libraries, but does not fail when none does.
func HookObject(refs []string, opts ...Option) ([]byte, error) {
	stub := SectionSpec{
		Name:            ".text",
		Data:            []byte{retOpcode},
		Characteristics: stubTextCharacteristics,
	}
	table := SectionSpec{
		Name:            ".text",
		Data:            make([]byte, len(refs)*refSlotSize+1),
		Characteristics: stubTextCharacteristics,
	}
	table.Data[0] = retOpcode

	symbols := []SymbolSpec{
		{Name: HookStubFunction, Section: 1, External: true},
		{Name: HookReferenceList, Section: 2, External: true},
	}
	for k, ref := range refs {
		symbols = append(symbols, SymbolSpec{Name: ref, Section: SymUndefined, External: true, Weak: true, WeakTag: 0})
		// Each weak external takes two slots: the symbol and its aux record.
		table.Relocations = append(table.Relocations, Relocation{
			Offset: uint32(k*refSlotSize + 1),
			Symbol: uint32(k*2 + 2),
			Type:   RelI386Dir32NB,
		})
	}
	return WriteObject([]SectionSpec{stub, table}, symbols, opts...)
}
