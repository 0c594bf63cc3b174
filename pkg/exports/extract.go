// Package exports decides which symbols of an object file a module
// definition has to export, and renders the merged result.
package exports

import (
	"bytes"
	"strings"

	"github.com/grafana/defgen/pkg/coff"
	"github.com/grafana/defgen/pkg/elf"
	"github.com/grafana/defgen/pkg/objfile"
)

// ExportSet holds exported function and data names. Sets returned by the
// extractors are in symbol table order and may contain duplicates; Merge
// produces the sorted, unique form.
type ExportSet struct {
	Functions []string
	Data      []string
}

// Format is an object file format.
type Format int

const (
	FormatCOFF Format = iota
	FormatELF
)

func (f Format) String() string {
	switch f {
	case FormatCOFF:
		return "coff"
	case FormatELF:
		return "elf"
	default:
		return "unknown"
	}
}

// DetectFormat guesses the format of buf from its magic. Anything that is
// not ELF is assumed to be COFF, which has no magic of its own.
func DetectFormat(buf []byte) Format {
	if elf.IsELF(buf) {
		return FormatELF
	}
	return FormatCOFF
}

// Extract parses buf as an object of the given format and returns its
// exports.
func Extract(buf []byte, format Format) (ExportSet, error) {
	switch format {
	case FormatCOFF:
		img, err := coff.Parse(buf)
		if err != nil {
			return ExportSet{}, err
		}
		return ExtractCOFF(img)
	case FormatELF:
		img, err := elf.Parse(buf)
		if err != nil {
			return ExportSet{}, err
		}
		return ExtractELF(img)
	default:
		return ExportSet{}, objfile.Formatf("unknown object format %d", format)
	}
}

// ExtractELF returns the global function symbols of img.
func ExtractELF(img elf.Image) (ExportSet, error) {
	fns, err := elf.CollectFunctionSymbols(img)
	if err != nil {
		return ExportSet{}, err
	}
	return ExportSet{Functions: fns}, nil
}

// ExtractCOFF returns the external functions and data defined by img.
//
// Objects with a zero timestamp are ones we synthesized ourselves and yield
// an empty set.
//
// A function in a COMDAT section is exported only if that section was
// defined with the no-duplicates selection; any other COMDAT instance may be
// discarded by the linker in favour of a copy from another object.
func ExtractCOFF(img *coff.Image) (ExportSet, error) {
	var set ExportSet
	if img.TimeDateStamp == 0 {
		return set, nil
	}
	numSections := int32(img.NumSections())
	defined := func(sym coff.Symbol) bool {
		return sym.Section > 0 && sym.Section <= numSections
	}
	keep := make([]bool, numSections)

	err := img.Walk(func(index uint32, sym coff.Symbol) error {
		if !defined(sym) {
			return nil
		}
		if sym.Type == coff.SymTypeNull && sym.StorageClass == coff.SymClassExternal {
			name, err := img.SymbolName(sym)
			if err != nil {
				return err
			}
			if isCompilerData(name) {
				return nil
			}
			set.Data = append(set.Data, StripLeadingUnderscore(name))
		}
		if bytes.HasPrefix(sym.RawName[:], []byte(".text")) && sym.NumAux >= 1 && sym.StorageClass == coff.SymClassStatic {
			sel, err := img.SectionSelection(index + 1)
			if err != nil {
				return err
			}
			if sel == coff.ComdatSelectNoDuplicates {
				keep[sym.Section-1] = true
			}
		}
		return nil
	})
	if err != nil {
		return ExportSet{}, err
	}

	err = img.Walk(func(_ uint32, sym coff.Symbol) error {
		if !defined(sym) || sym.Type != coff.SymTypeFunction || sym.StorageClass != coff.SymClassExternal {
			return nil
		}
		section, err := img.Section(sym.Section)
		if err != nil {
			return err
		}
		if section.IsComdat() && !keep[sym.Section-1] {
			return nil
		}
		name, err := img.SymbolName(sym)
		if err != nil {
			return err
		}
		set.Functions = append(set.Functions, StripLeadingUnderscore(name))
		return nil
	})
	if err != nil {
		return ExportSet{}, err
	}
	return set, nil
}

// isCompilerData reports whether a data symbol is compiler generated: C++
// internals ("??_C@..." string literals, vftables) and floating point
// constant pools ("__real@...").
func isCompilerData(name string) bool {
	return hasProperPrefix(name, "??") || hasProperPrefix(name, "__real")
}

// hasProperPrefix is strings.HasPrefix that does not match the prefix itself.
func hasProperPrefix(s, prefix string) bool {
	return len(s) > len(prefix) && strings.HasPrefix(s, prefix)
}

// StripLeadingUnderscore removes the C decoration from name: a single
// leading underscore is dropped when the whole name consists of ASCII
// letters, digits and underscores. Mangled names are returned unchanged.
func StripLeadingUnderscore(name string) string {
	if name == "" || name[0] != '_' {
		return name
	}
	for i := 0; i < len(name); i++ {
		if !isIdentByte(name[i]) {
			return name
		}
	}
	return name[1:]
}

func isIdentByte(c byte) bool {
	return c == '_' || '0' <= c && c <= '9' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}
