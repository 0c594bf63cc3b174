package exports_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/grafana/defgen/pkg/exports"
)

func TestMerge(t *testing.T) {
	a := exports.ExportSet{Functions: []string{"b", "a", "B", "a"}, Data: []string{"x"}}
	b := exports.ExportSet{Functions: []string{"c", "a"}, Data: []string{"y", "x"}}

	ab := exports.Merge(a, b)
	require.Equal(t, []string{"B", "a", "b", "c"}, ab.Functions)
	require.Equal(t, []string{"x", "y"}, ab.Data)

	require.Equal(t, ab, exports.Merge(b, a))
	require.Equal(t, ab, exports.Merge(ab, b))
	require.Equal(t, ab, exports.Merge(ab))

	empty := exports.Merge()
	require.Empty(t, empty.Functions)
	require.Empty(t, empty.Data)
}

func TestFilterIgnored(t *testing.T) {
	names := []string{"DllMain", "InternalHelper", "PublicApi", "TestHook"}
	for _, tc := range []struct {
		Name     string
		Ignores  []string
		Expected []string
	}{
		{Name: "no ignores", Expected: names},
		{Name: "empty entries", Ignores: []string{"", ""}, Expected: names},
		{Name: "substring", Ignores: []string{"Internal", "Hook"}, Expected: []string{"DllMain", "PublicApi"}},
		{Name: "case sensitive", Ignores: []string{"dllmain"}, Expected: names},
		{Name: "not a pattern", Ignores: []string{"*Api", "Test.*"}, Expected: names},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			require.Equal(t, tc.Expected, exports.FilterIgnored(names, tc.Ignores))
		})
	}
}

func TestRender(t *testing.T) {
	set := exports.ExportSet{Functions: []string{"Add", "Helper"}, Data: []string{"Sub"}}
	for _, tc := range []struct {
		Name     string
		Set      exports.ExportSet
		Dialect  exports.Dialect
		Library  string
		Expected []string
	}{
		{
			Name:     "coff",
			Set:      set,
			Dialect:  exports.DialectCOFF,
			Expected: []string{";ObjectCount=2", "EXPORTS", "Add", "Helper"},
		},
		{
			Name:     "coff ignores library",
			Set:      set,
			Dialect:  exports.DialectCOFF,
			Library:  "core",
			Expected: []string{";ObjectCount=2", "EXPORTS", "Add", "Helper"},
		},
		{
			Name:     "elf without library",
			Set:      set,
			Dialect:  exports.DialectELF,
			Expected: []string{"//ObjectCount=2", "EXPORTS", "Add", "Helper"},
		},
		{
			Name:     "elf library",
			Set:      set,
			Dialect:  exports.DialectELF,
			Library:  "core",
			Expected: []string{"//ObjectCount=2", "Library: core {", "export: {", "Add", "Helper", "}", "}"},
		},
		{
			Name:     "elf library without exports",
			Dialect:  exports.DialectELF,
			Library:  "core",
			Expected: []string{"//ObjectCount=2", "Library: core {", "}"},
		},
		{
			Name:     "no exports",
			Dialect:  exports.DialectCOFF,
			Expected: []string{";ObjectCount=2", "EXPORTS"},
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			lines := exports.Render(tc.Set, 2, tc.Dialect, tc.Library)
			if diff := cmp.Diff(tc.Expected, lines); diff != "" {
				t.Errorf("Render() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRender_EndToEnd(t *testing.T) {
	var sets []exports.ExportSet
	for _, buf := range [][]byte{addObject(false), subObject(false)} {
		set, err := exports.Extract(buf, exports.FormatCOFF)
		require.NoError(t, err)
		sets = append(sets, set)
	}
	merged := exports.Merge(sets...)
	require.Equal(t, []string{"Sub"}, merged.Data)
	require.Equal(t,
		[]string{";ObjectCount=2", "EXPORTS", "Add", "Helper"},
		exports.Render(merged, len(sets), exports.DialectCOFF, ""),
	)
}

func TestMarkerMatches(t *testing.T) {
	require.True(t, exports.MarkerMatches(";ObjectCount=3", exports.DialectCOFF, 3))
	require.True(t, exports.MarkerMatches("//ObjectCount=3\r", exports.DialectELF, 3))
	require.False(t, exports.MarkerMatches(";ObjectCount=3", exports.DialectCOFF, 4))
	require.False(t, exports.MarkerMatches(";ObjectCount=3", exports.DialectELF, 3))
	require.False(t, exports.MarkerMatches("", exports.DialectCOFF, 0))
}

func TestIsChanged(t *testing.T) {
	lines := []string{";ObjectCount=1", "EXPORTS", "Add"}
	for _, tc := range []struct {
		Name     string
		Existing []string
		Expected bool
	}{
		{Name: "same", Existing: []string{";ObjectCount=1", "EXPORTS", "Add"}, Expected: false},
		{Name: "missing file", Existing: nil, Expected: true},
		{Name: "shorter", Existing: lines[:2], Expected: true},
		{Name: "longer", Existing: append(append([]string{}, lines...), "Sub"), Expected: true},
		{Name: "different line", Existing: []string{";ObjectCount=1", "EXPORTS", "add"}, Expected: true},
		{Name: "different marker", Existing: []string{";ObjectCount=2", "EXPORTS", "Add"}, Expected: true},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			require.Equal(t, tc.Expected, exports.IsChanged(tc.Existing, lines))
		})
	}
}

func TestLines(t *testing.T) {
	lines := []string{";ObjectCount=1", "EXPORTS", "Add"}
	content := exports.JoinLines(lines)
	require.Equal(t, ";ObjectCount=1\nEXPORTS\nAdd\n", content)
	require.Equal(t, lines, exports.SplitLines(content))
	require.Equal(t, lines, exports.SplitLines(";ObjectCount=1\r\nEXPORTS\r\nAdd"))
	require.Nil(t, exports.SplitLines(""))
}

func TestDigest(t *testing.T) {
	a := exports.Digest([]string{"EXPORTS", "Add"})
	require.Equal(t, a, exports.Digest([]string{"EXPORTS", "Add"}))
	require.NotEqual(t, a, exports.Digest([]string{"EXPORTSAdd"}))
	require.NotEqual(t, a, exports.Digest([]string{"EXPORTS", "Add", ""}))
}

func TestParseDialect(t *testing.T) {
	for _, d := range []exports.Dialect{exports.DialectCOFF, exports.DialectELF} {
		parsed, err := exports.ParseDialect(d.String())
		require.NoError(t, err)
		require.Equal(t, d, parsed)
	}
	_, err := exports.ParseDialect("macho")
	require.Error(t, err)
	require.Equal(t, exports.FormatELF, exports.DialectELF.Format())
	require.Equal(t, exports.FormatCOFF, exports.DialectCOFF.Format())
}
