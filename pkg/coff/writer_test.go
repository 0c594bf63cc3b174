package coff_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/defgen/pkg/coff"
	"github.com/grafana/defgen/pkg/objfile"
)

type parsedSymbol struct {
	Name         string
	Section      int32
	StorageClass uint8
}

func readSymbols(t *testing.T, img *coff.Image) []parsedSymbol {
	t.Helper()
	var syms []parsedSymbol
	require.NoError(t, img.Walk(func(_ uint32, sym coff.Symbol) error {
		require.Equal(t, coff.SymTypeFunction, sym.Type)
		require.Equal(t, uint32(0), sym.Value)
		name, err := img.SymbolName(sym)
		if err != nil {
			return err
		}
		syms = append(syms, parsedSymbol{Name: name, Section: sym.Section, StorageClass: sym.StorageClass})
		return nil
	}))
	return syms
}

func TestWriteObject_RoundTrip(t *testing.T) {
	sections := []coff.SectionSpec{
		{Name: ".text", Data: []byte{0xc3, 0, 0, 0, 0}, Characteristics: coff.SectionCntCode,
			Relocations: []coff.Relocation{{Offset: 1, Symbol: 2, Type: coff.RelI386Dir32NB}}},
		{Name: ".rdata$zzzz_long_name", Data: []byte("payload"), Characteristics: coff.SectionCntInitialized},
	}
	symbols := []coff.SymbolSpec{
		{Name: "short", Section: 1, External: true},
		{Name: "local", Section: 2},
		{Name: "a_name_longer_than_eight_bytes", Section: coff.SymUndefined, External: true},
	}
	buf, err := coff.WriteObject(sections, symbols, coff.WithMachine(coff.MachineAMD64), coff.WithTimeDateStamp(42))
	require.NoError(t, err)

	img, err := coff.Parse(buf)
	require.NoError(t, err)
	require.False(t, img.BigObj)
	require.Equal(t, coff.MachineAMD64, img.Machine)
	require.Equal(t, uint32(42), img.TimeDateStamp)

	require.Equal(t, []parsedSymbol{
		{Name: "short", Section: 1, StorageClass: coff.SymClassExternal},
		{Name: "local", Section: 2, StorageClass: coff.SymClassStatic},
		{Name: "a_name_longer_than_eight_bytes", Section: coff.SymUndefined, StorageClass: coff.SymClassExternal},
	}, readSymbols(t, img))

	require.Len(t, img.Sections(), 2)
	for i, s := range sections {
		got, err := img.Section(int32(i + 1))
		require.NoError(t, err)
		require.Equal(t, s.Name, got.Name)
		require.Equal(t, s.Characteristics, got.Characteristics)
		data, err := img.SectionData(int32(i + 1))
		require.NoError(t, err)
		require.Equal(t, s.Data, data)
	}
	relocs, err := img.Relocations(1)
	require.NoError(t, err)
	require.Equal(t, sections[0].Relocations, relocs)
}

func TestWriteObject_Validation(t *testing.T) {
	for _, tc := range []struct {
		Name     string
		Sections []coff.SectionSpec
		Symbols  []coff.SymbolSpec
	}{
		{
			Name:    "symbol in missing section",
			Symbols: []coff.SymbolSpec{{Name: "f", Section: 1}},
		},
		{
			Name:    "symbol with special section number",
			Symbols: []coff.SymbolSpec{{Name: "f", Section: coff.SymAbsolute}},
		},
		{
			Name:     "relocation to missing symbol",
			Sections: []coff.SectionSpec{{Name: ".text", Relocations: []coff.Relocation{{Symbol: 1}}}},
			Symbols:  []coff.SymbolSpec{{Name: "f", Section: 1}},
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			_, err := coff.WriteObject(tc.Sections, tc.Symbols)
			require.Error(t, err)
		})
	}
}

func TestReferenceObject(t *testing.T) {
	refs := []string{"_ModuleInit", "_AnotherModuleWithALongName"}
	buf, err := coff.ReferenceObject("_ForceLink", refs, "/INCLUDE:_ModuleInit")
	require.NoError(t, err)

	img, err := coff.Parse(buf)
	require.NoError(t, err)
	require.Equal(t, coff.MachineI386, img.Machine)
	require.Equal(t, uint32(0), img.TimeDateStamp)

	require.Equal(t, []parsedSymbol{
		{Name: "_ForceLink", Section: 1, StorageClass: coff.SymClassExternal},
		{Name: "_ModuleInit", Section: coff.SymUndefined, StorageClass: coff.SymClassExternal},
		{Name: "_AnotherModuleWithALongName", Section: coff.SymUndefined, StorageClass: coff.SymClassExternal},
	}, readSymbols(t, img))

	text, err := img.SectionData(1)
	require.NoError(t, err)
	require.Len(t, text, len(refs)*4+1)
	require.Equal(t, byte(0xc3), text[0])

	relocs, err := img.Relocations(1)
	require.NoError(t, err)
	require.Equal(t, []coff.Relocation{
		{Offset: 1, Symbol: 1, Type: coff.RelI386Dir32NB},
		{Offset: 5, Symbol: 2, Type: coff.RelI386Dir32NB},
	}, relocs)

	drectve, err := img.Section(2)
	require.NoError(t, err)
	require.Equal(t, ".drectve", drectve.Name)
	require.Equal(t, coff.SectionAlign1Bytes|coff.SectionLnkInfo|coff.SectionLnkRemove, drectve.Characteristics)
	data, err := img.SectionData(2)
	require.NoError(t, err)
	require.Equal(t, "/INCLUDE:_ModuleInit\x00", string(data))

	buf, err = coff.ReferenceObject("_ForceLink", nil, "")
	require.NoError(t, err)
	img, err = coff.Parse(buf)
	require.NoError(t, err)
	require.Equal(t, 1, img.NumSections())
}

func TestHookObject(t *testing.T) {
	refs := []string{"_A", "_B", "_CallbackWithAVeryLongName"}
	buf, err := coff.HookObject(refs)
	require.NoError(t, err)

	img, err := coff.Parse(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(0), img.TimeDateStamp)
	require.Equal(t, uint32(2+2*len(refs)), img.NumSymbols())

	require.Equal(t, []parsedSymbol{
		{Name: coff.HookStubFunction, Section: 1, StorageClass: coff.SymClassExternal},
		{Name: coff.HookReferenceList, Section: 2, StorageClass: coff.SymClassExternal},
		{Name: "_A", Section: coff.SymUndefined, StorageClass: coff.SymClassWeakExternal},
		{Name: "_B", Section: coff.SymUndefined, StorageClass: coff.SymClassWeakExternal},
		{Name: "_CallbackWithAVeryLongName", Section: coff.SymUndefined, StorageClass: coff.SymClassWeakExternal},
	}, readSymbols(t, img))

	relocs, err := img.Relocations(2)
	require.NoError(t, err)
	require.Len(t, relocs, len(refs))
	for k, rel := range relocs {
		require.Equal(t, uint32(k*4+1), rel.Offset)
		require.Equal(t, uint32(k*2+2), rel.Symbol)

		sym, err := img.Symbol(rel.Symbol)
		require.NoError(t, err)
		name, err := img.SymbolName(sym)
		require.NoError(t, err)
		require.Equal(t, refs[k], name)

		tag, flags, err := img.WeakExternal(rel.Symbol + 1)
		require.NoError(t, err)
		require.Equal(t, uint32(0), tag)
		require.Equal(t, coff.WeakExternSearchLibrary, flags)
	}

	_, err = img.Relocations(3)
	require.True(t, objfile.IsStructural(err))
}
