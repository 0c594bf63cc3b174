package exports

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/samber/lo"
)

// Merge unions the given sets. Both lists of the result are sorted
// byte-wise and free of duplicates, so the result does not depend on the
// order of sets or of the names within them.
func Merge(sets ...ExportSet) ExportSet {
	var fns, data []string
	for _, s := range sets {
		fns = append(fns, s.Functions...)
		data = append(data, s.Data...)
	}
	return ExportSet{
		Functions: sortedUnique(fns),
		Data:      sortedUnique(data),
	}
}

func sortedUnique(names []string) []string {
	names = lo.Uniq(names)
	slices.Sort(names)
	return names
}

// FilterIgnored drops every name containing one of ignores as a literal
// substring. Empty ignore entries match nothing.
func FilterIgnored(names []string, ignores []string) []string {
	ignores = lo.Compact(ignores)
	if len(ignores) == 0 {
		return names
	}
	return lo.Reject(names, func(name string, _ int) bool {
		return lo.SomeBy(ignores, func(ignore string) bool {
			return strings.Contains(name, ignore)
		})
	})
}

// Dialect selects the syntax of the generated module definition.
type Dialect int

const (
	// DialectCOFF produces a Windows .def file.
	DialectCOFF Dialect = iota
	// DialectELF produces an export map for ELF toolchains.
	DialectELF
)

func (d Dialect) String() string {
	switch d {
	case DialectCOFF:
		return "coff"
	case DialectELF:
		return "elf"
	default:
		return "Dialect(" + strconv.Itoa(int(d)) + ")"
	}
}

// ParseDialect is the inverse of Dialect.String.
func ParseDialect(s string) (Dialect, error) {
	switch s {
	case "coff":
		return DialectCOFF, nil
	case "elf":
		return DialectELF, nil
	default:
		return 0, fmt.Errorf("unknown dialect %q, expected coff or elf", s)
	}
}

// Format returns the object format read when generating in this dialect.
func (d Dialect) Format() Format {
	if d == DialectELF {
		return FormatELF
	}
	return FormatCOFF
}

func (d Dialect) commentPrefix() string {
	if d == DialectELF {
		return "//"
	}
	return ";"
}

// Marker returns the first line of a module definition generated from
// objectCount objects.
func Marker(d Dialect, objectCount int) string {
	return d.commentPrefix() + "ObjectCount=" + strconv.Itoa(objectCount)
}

// MarkerMatches reports whether firstLine is the marker Render would write
// for objectCount objects. A mismatch means the definition is stale.
func MarkerMatches(firstLine string, d Dialect, objectCount int) bool {
	return strings.TrimSuffix(firstLine, "\r") == Marker(d, objectCount)
}

// Render returns the lines of the module definition exporting the functions
// of set. Data names are not exported.
//
// In the ELF dialect a non-empty library wraps the names in a
// "Library: <name> { export: { ... } }" block; otherwise both dialects list
// the names after an EXPORTS header.
func Render(set ExportSet, objectCount int, d Dialect, library string) []string {
	lines := make([]string, 0, len(set.Functions)+4)
	lines = append(lines, Marker(d, objectCount))
	if d == DialectELF && library != "" {
		lines = append(lines, "Library: "+library+" {")
		if len(set.Functions) > 0 {
			lines = append(lines, "export: {")
			lines = append(lines, set.Functions...)
			lines = append(lines, "}")
		}
		return append(lines, "}")
	}
	lines = append(lines, "EXPORTS")
	return append(lines, set.Functions...)
}

// IsChanged reports whether next differs from existing in length or in any
// line.
func IsChanged(existing, next []string) bool {
	return !slices.Equal(existing, next)
}

// SplitLines splits file content into lines, dropping the final newline and
// any carriage returns before line feeds.
func SplitLines(content string) []string {
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// JoinLines is the inverse of SplitLines: every line is newline terminated.
func JoinLines(lines []string) string {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Digest fingerprints rendered lines.
func Digest(lines []string) uint64 {
	h := xxhash.New()
	for _, l := range lines {
		_, _ = h.WriteString(l)
		_, _ = h.Write([]byte{'\n'})
	}
	return h.Sum64()
}
