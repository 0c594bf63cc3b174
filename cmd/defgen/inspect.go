package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/ianlancetaylor/demangle"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/xlab/treeprint"

	"github.com/grafana/defgen/pkg/coff"
	"github.com/grafana/defgen/pkg/elf"
	"github.com/grafana/defgen/pkg/exports"
)

var exportedClr = color.New(color.FgGreen)

type inspectParams struct {
	files        []string
	demangle     bool
	exportedOnly bool
	tree         bool
}

func addInspectParams(cmd commander) *inspectParams {
	params := &inspectParams{}
	cmd.Flag("demangle", "Demangle Itanium C++ and Rust symbol names.").Default("false").BoolVar(&params.demangle)
	cmd.Flag("exported-only", "Only list symbols that would be exported.").Default("false").BoolVar(&params.exportedOnly)
	cmd.Flag("tree", "Print symbols grouped by section instead of a table.").Default("false").BoolVar(&params.tree)
	cmd.Arg("file", "Object file path.").Required().StringsVar(&params.files)
	return params
}

func inspect(ctx context.Context, fs afero.Fs, params *inspectParams) error {
	for _, path := range params.files {
		if err := inspectFile(ctx, fs, params, path); err != nil {
			return errors.Wrapf(err, "inspecting %s", path)
		}
	}
	return nil
}

// exportKinds maps exported names to "function" or "data".
type exportKinds map[string]string

func newExportKinds(set exports.ExportSet) exportKinds {
	kinds := exportKinds(lo.Associate(set.Data, func(n string) (string, string) { return n, "data" }))
	for _, n := range set.Functions {
		kinds[n] = "function"
	}
	return kinds
}

func (k exportKinds) kind(name string) string {
	return k[exports.StripLeadingUnderscore(name)]
}

func inspectFile(ctx context.Context, fs afero.Fs, params *inspectParams, path string) error {
	buf, err := afero.ReadFile(fs, path)
	if err != nil {
		return err
	}
	format := exports.DetectFormat(buf)
	set, err := exports.Extract(buf, format)
	if err != nil {
		return err
	}
	kinds := newExportKinds(set)

	out := output(ctx)
	fmt.Fprintf(out, "%s: %s, %s\n", path, format, humanize.Bytes(uint64(len(buf))))
	switch format {
	case exports.FormatELF:
		img, err := elf.Parse(buf)
		if err != nil {
			return err
		}
		return inspectELF(out, img, kinds, params)
	default:
		img, err := coff.Parse(buf)
		if err != nil {
			return err
		}
		return inspectCOFF(out, img, kinds, params)
	}
}

func (p *inspectParams) displayName(name, kind string) string {
	if p.demangle {
		name = demangle.Filter(name)
	}
	if kind != "" {
		return exportedClr.Sprint(name)
	}
	return name
}

func inspectCOFF(out io.Writer, img *coff.Image, kinds exportKinds, params *inspectParams) error {
	fmt.Fprintf(out, "machine: %#04x, bigobj: %t, timestamp: %d, sections: %d, symbols: %d\n",
		img.Machine, img.BigObj, img.TimeDateStamp, img.NumSections(), img.NumSymbols())

	sections := tablewriter.NewWriter(out)
	sections.SetHeader([]string{"#", "Name", "Size", "Relocs", "Characteristics", "COMDAT"})
	for i, s := range img.Sections() {
		sections.Append([]string{
			strconv.Itoa(i + 1),
			s.Name,
			humanize.Bytes(uint64(s.Size)),
			strconv.Itoa(int(s.NumRelocations)),
			fmt.Sprintf("%#08x", s.Characteristics),
			strconv.FormatBool(s.IsComdat()),
		})
	}
	sections.Render()

	if params.tree {
		tree := newSectionTree(fmt.Sprintf("%d sections", img.NumSections()))
		for i, s := range img.Sections() {
			label := fmt.Sprintf("%d %s", i+1, s.Name)
			if s.IsComdat() {
				label += " [comdat]"
			}
			tree.add(int64(i+1), label)
		}
		err := walkCOFF(img, kinds, params, func(_ uint32, sym coff.Symbol, name, kind string) {
			tree.branch(int64(sym.Section), coffSectionName(sym.Section)).AddNode(params.displayName(name, kind))
		})
		if err != nil {
			return err
		}
		fmt.Fprint(out, tree.String())
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Index", "Name", "Section", "Type", "Class", "Aux", "Export"})
	err := walkCOFF(img, kinds, params, func(index uint32, sym coff.Symbol, name, kind string) {
		table.Append([]string{
			strconv.FormatUint(uint64(index), 10),
			params.displayName(name, kind),
			coffSectionName(sym.Section),
			fmt.Sprintf("%#04x", sym.Type),
			coffClassName(sym.StorageClass),
			strconv.Itoa(int(sym.NumAux)),
			kind,
		})
	})
	if err != nil {
		return err
	}
	table.Render()
	return nil
}

// walkCOFF calls fn for every symbol that passes the exported-only filter.
func walkCOFF(img *coff.Image, kinds exportKinds, params *inspectParams, fn func(index uint32, sym coff.Symbol, name, kind string)) error {
	return img.Walk(func(index uint32, sym coff.Symbol) error {
		name, err := img.SymbolName(sym)
		if err != nil {
			return err
		}
		var kind string
		if sym.StorageClass == coff.SymClassExternal {
			kind = kinds.kind(name)
		}
		if params.exportedOnly && kind == "" {
			return nil
		}
		fn(index, sym, name, kind)
		return nil
	})
}

// sectionTree groups symbols under a branch per section, in order of first
// appearance.
type sectionTree struct {
	treeprint.Tree
	branches map[int64]treeprint.Tree
}

func newSectionTree(root string) *sectionTree {
	return &sectionTree{Tree: treeprint.NewWithRoot(root), branches: map[int64]treeprint.Tree{}}
}

func (t *sectionTree) add(section int64, label string) treeprint.Tree {
	b := t.AddBranch(label)
	t.branches[section] = b
	return b
}

func (t *sectionTree) branch(section int64, label string) treeprint.Tree {
	if b, ok := t.branches[section]; ok {
		return b
	}
	return t.add(section, label)
}

func coffSectionName(section int32) string {
	switch section {
	case coff.SymUndefined:
		return "UNDEF"
	case coff.SymAbsolute:
		return "ABS"
	case coff.SymDebug:
		return "DEBUG"
	default:
		return strconv.Itoa(int(section))
	}
}

func coffClassName(class uint8) string {
	switch class {
	case coff.SymClassExternal:
		return "EXTERNAL"
	case coff.SymClassStatic:
		return "STATIC"
	case coff.SymClassWeakExternal:
		return "WEAK_EXTERNAL"
	default:
		return strconv.Itoa(int(class))
	}
}

var (
	elfTypeNames = map[uint8]string{elf.SymTypeNoType: "NOTYPE", elf.SymTypeObject: "OBJECT", elf.SymTypeFunc: "FUNC"}
	elfBindNames = map[uint8]string{elf.SymBindLocal: "LOCAL", elf.SymBindGlobal: "GLOBAL", elf.SymBindWeak: "WEAK"}
)

func lookupName(names map[uint8]string, v uint8) string {
	if n, ok := names[v]; ok {
		return n
	}
	return strconv.Itoa(int(v))
}

func inspectELF(out io.Writer, img elf.Image, kinds exportKinds, params *inspectParams) error {
	fmt.Fprintf(out, "class: %s, sections: %d, symbols: %d\n", img.Class(), img.NumSections(), img.SymbolCount())

	var tree *sectionTree
	if params.tree {
		tree = newSectionTree(fmt.Sprintf("%d sections", img.NumSections()))
	}
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Index", "Name", "Section", "Type", "Bind", "Export"})
	for i := uint64(0); i < img.SymbolCount(); i++ {
		sym, err := img.Symbol(i)
		if err != nil {
			return err
		}
		name, err := img.SymbolName(sym)
		if err != nil {
			return err
		}
		var kind string
		if sym.Type() == elf.SymTypeFunc && sym.Bind() == elf.SymBindGlobal {
			kind = kinds[name]
		}
		if params.exportedOnly && kind == "" {
			continue
		}
		if tree != nil {
			tree.branch(int64(sym.Section), fmt.Sprintf("section %d", sym.Section)).AddNode(params.displayName(name, kind))
			continue
		}
		table.Append([]string{
			strconv.FormatUint(i, 10),
			params.displayName(name, kind),
			strconv.Itoa(int(sym.Section)),
			lookupName(elfTypeNames, sym.Type()),
			lookupName(elfBindNames, sym.Bind()),
			kind,
		})
	}
	if tree != nil {
		fmt.Fprint(out, tree.String())
		return nil
	}
	table.Render()
	return nil
}
