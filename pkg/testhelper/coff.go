package testhelper

import (
	"encoding/binary"
	"strconv"

	"github.com/grafana/defgen/pkg/coff"
	"github.com/grafana/defgen/pkg/objfile"
)

// CoffSection is a section of a CoffObject fixture.
type CoffSection struct {
	Name            string
	Characteristics uint32
	Data            []byte
}

// CoffSymbol is a symbol of a CoffObject fixture.
type CoffSymbol struct {
	Name         string
	Value        uint32
	Section      int32
	Type         uint16
	StorageClass uint8
	// SectionDef appends a section definition auxiliary record carrying
	// Selection, as compilers do for section symbols of COMDAT sections.
	SectionDef bool
	Selection  uint8
}

// CoffObject builds COFF object fixtures in either the standard or the
// bigobj layout, including records coff.WriteObject never emits (data
// symbols, section definitions, COMDAT sections).
type CoffObject struct {
	BigObj        bool
	Machine       uint16
	TimeDateStamp uint32
	Sections      []CoffSection
	Symbols       []CoffSymbol
}

// NumSlots returns the number of symbol table slots the fixture will use.
func (o *CoffObject) NumSlots() int {
	n := 0
	for _, s := range o.Symbols {
		n++
		if s.SectionDef {
			n++
		}
	}
	return n
}

func (o *CoffObject) Bytes() []byte {
	machine := o.Machine
	if machine == 0 {
		machine = coff.MachineAMD64
	}
	hdrSize, symSize := uint64(20), uint64(18)
	if o.BigObj {
		hdrSize, symSize = 56, 20
	}

	var strtab []byte
	strtab = append(strtab, 0, 0, 0, 0)
	addString := func(s string) uint32 {
		off := uint32(len(strtab))
		strtab = append(strtab, s...)
		strtab = append(strtab, 0)
		return off
	}

	w := objfile.NewWriter(0)
	header := w.Reserve(hdrSize)
	sectionTable := w.Reserve(uint64(len(o.Sections)) * 40)
	for i, s := range o.Sections {
		var dataOffset uint32
		if len(s.Data) > 0 {
			dataOffset = uint32(w.Len())
			w.AppendBytes(s.Data)
		}
		var raw [8]byte
		if len(s.Name) > 8 {
			copy(raw[:], "/"+strconv.Itoa(int(addString(s.Name))))
		} else {
			copy(raw[:], s.Name)
		}
		sh := objfile.NewWriter(40)
		sh.AppendBytes(raw[:])
		sh.AppendUint32(0)
		sh.AppendUint32(0)
		sh.AppendUint32(uint32(len(s.Data)))
		sh.AppendUint32(dataOffset)
		sh.AppendZeros(12)
		sh.AppendUint32(s.Characteristics)
		_ = w.PatchBytes(sectionTable.Offset+uint64(i)*40, sh.Bytes())
	}

	symOffset := uint32(w.Len())
	for _, s := range o.Symbols {
		var raw [8]byte
		if len(s.Name) > 8 {
			binary.LittleEndian.PutUint32(raw[4:], addString(s.Name))
		} else {
			copy(raw[:], s.Name)
		}
		w.AppendBytes(raw[:])
		w.AppendUint32(s.Value)
		if o.BigObj {
			w.AppendUint32(uint32(s.Section))
		} else {
			w.AppendUint16(uint16(int16(s.Section)))
		}
		w.AppendUint16(s.Type)
		w.AppendUint8(s.StorageClass)
		if !s.SectionDef {
			w.AppendUint8(0)
			continue
		}
		w.AppendUint8(1)
		aux := objfile.NewWriter(int(symSize))
		aux.AppendZeros(14)
		aux.AppendUint8(s.Selection)
		aux.AppendZeros(symSize - 15)
		w.AppendBytes(aux.Bytes())
	}
	binary.LittleEndian.PutUint32(strtab, uint32(len(strtab)))
	w.AppendBytes(strtab)

	h := objfile.NewWriter(int(hdrSize))
	if o.BigObj {
		classID := coff.BigObjClassID()
		h.AppendUint16(0)
		h.AppendUint16(0xffff)
		h.AppendUint16(2)
		h.AppendUint16(machine)
		h.AppendUint32(o.TimeDateStamp)
		h.AppendBytes(classID[:])
		h.AppendZeros(16)
		h.AppendUint32(uint32(len(o.Sections)))
		h.AppendUint32(symOffset)
		h.AppendUint32(uint32(o.NumSlots()))
	} else {
		h.AppendUint16(machine)
		h.AppendUint16(uint16(len(o.Sections)))
		h.AppendUint32(o.TimeDateStamp)
		h.AppendUint32(symOffset)
		h.AppendUint32(uint32(o.NumSlots()))
		h.AppendUint16(0)
		h.AppendUint16(0)
	}
	_ = w.Patch(header, h.Bytes())
	return w.Bytes()
}
