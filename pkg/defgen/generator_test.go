package defgen

import (
	"context"
	"testing"

	"github.com/go-kit/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/grafana/defgen/pkg/coff"
	"github.com/grafana/defgen/pkg/objfile"
	"github.com/grafana/defgen/pkg/testhelper"
)

const timestamp = 0x5e0be100

func coffObject(t *testing.T, fns ...string) []byte {
	t.Helper()
	obj := &testhelper.CoffObject{
		TimeDateStamp: timestamp,
		Sections: []testhelper.CoffSection{
			{Name: ".text", Characteristics: coff.SectionCntCode, Data: []byte{0xc3}},
			{Name: ".data", Characteristics: coff.SectionCntInitialized, Data: []byte{0, 0, 0, 0}},
		},
		Symbols: []testhelper.CoffSymbol{
			{Name: "_g_state", Section: 2, StorageClass: coff.SymClassExternal},
		},
	}
	for _, fn := range fns {
		obj.Symbols = append(obj.Symbols, testhelper.CoffSymbol{
			Name: fn, Section: 1, Type: coff.SymTypeFunction, StorageClass: coff.SymClassExternal,
		})
	}
	return obj.Bytes()
}

func writeFile(t *testing.T, fs afero.Fs, path string, data []byte) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, data, 0o644))
}

func newGenerator(t *testing.T, fs afero.Fs, cfg Config) *Generator {
	t.Helper()
	g, err := New(cfg, fs, log.NewNopLogger())
	require.NoError(t, err)
	return g
}

func TestGenerator_COFF(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "obj/a.obj", coffObject(t, "_Add", "_DebugOnly"))
	writeFile(t, fs, "obj/b.obj", coffObject(t, "_Sub", "_Add"))
	hook, err := coff.HookObject([]string{"_Add"})
	require.NoError(t, err)
	writeFile(t, fs, "obj/hook.obj", hook)
	writeFile(t, fs, "ignores.txt", []byte("Debug\r\n\nNothing\n"))

	cfg := DefaultConfig()
	cfg.Output = "out/module.def"
	cfg.IgnoreFile = "ignores.txt"
	g := newGenerator(t, fs, cfg)

	res, err := g.Generate(context.Background(), []string{"obj/b.obj", "obj/hook.obj", "obj/a.obj"})
	require.NoError(t, err)
	require.Equal(t, 3, res.ObjectCount)
	require.Equal(t, []string{";ObjectCount=3", "EXPORTS", "Add", "Sub"}, res.Lines)
	require.Equal(t, []string{"g_state"}, res.Exports.Data)
	require.NotZero(t, res.Digest)

	stale, err := g.Stale(3)
	require.NoError(t, err)
	require.True(t, stale)

	written, err := g.WriteIfChanged(context.Background(), res.Lines)
	require.NoError(t, err)
	require.True(t, written)
	content, err := afero.ReadFile(fs, "out/module.def")
	require.NoError(t, err)
	require.Equal(t, ";ObjectCount=3\nEXPORTS\nAdd\nSub\n", string(content))

	written, err = g.WriteIfChanged(context.Background(), res.Lines)
	require.NoError(t, err)
	require.False(t, written)

	stale, err = g.Stale(3)
	require.NoError(t, err)
	require.False(t, stale)
	stale, err = g.Stale(2)
	require.NoError(t, err)
	require.True(t, stale)

	// Input order does not matter.
	again, err := g.Generate(context.Background(), []string{"obj/a.obj", "obj/hook.obj", "obj/b.obj"})
	require.NoError(t, err)
	require.Equal(t, res.Lines, again.Lines)
	require.Equal(t, res.Digest, again.Digest)
}

func TestGenerator_ELF(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "a.o", (&testhelper.ElfObject{Class64: true, Symbols: []testhelper.ElfSymbol{
		{Name: "render", Type: testhelper.ElfSymTypeFunc, Bind: testhelper.ElfSymBindGlobal},
		{Name: "inline_helper", Type: testhelper.ElfSymTypeFunc, Bind: testhelper.ElfSymBindWeak},
	}}).Bytes())
	writeFile(t, fs, "b.o", (&testhelper.ElfObject{Symbols: []testhelper.ElfSymbol{
		{Name: "init", Type: testhelper.ElfSymTypeFunc, Bind: testhelper.ElfSymBindGlobal},
	}}).Bytes())

	for _, tc := range []struct {
		Name     string
		Library  string
		Output   string
		Expected []string
	}{
		{
			Name:     "library from output",
			Output:   "build/libcore.emd",
			Expected: []string{"//ObjectCount=2", "Library: libcore {", "export: {", "init", "render", "}", "}"},
		},
		{
			Name:     "configured library",
			Library:  "core",
			Output:   "build/libcore.emd",
			Expected: []string{"//ObjectCount=2", "Library: core {", "export: {", "init", "render", "}", "}"},
		},
		{
			Name:     "no library",
			Expected: []string{"//ObjectCount=2", "EXPORTS", "init", "render"},
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			g := newGenerator(t, fs, Config{Dialect: "elf", Library: tc.Library, Output: tc.Output})
			res, err := g.Generate(context.Background(), []string{"a.o", "b.o"})
			require.NoError(t, err)
			require.Equal(t, tc.Expected, res.Lines)
		})
	}
}

func TestGenerator_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	valid := coffObject(t, "_Add")
	writeFile(t, fs, "ok.obj", valid)
	writeFile(t, fs, "truncated.obj", valid[:len(valid)-1])
	writeFile(t, fs, "elf.o", (&testhelper.ElfObject{}).Bytes())

	cfg := DefaultConfig()
	cfg.Output = "module.def"
	g := newGenerator(t, fs, cfg)

	_, err := g.Generate(context.Background(), []string{"ok.obj", "truncated.obj"})
	require.Error(t, err)
	require.True(t, objfile.IsBounds(err))
	require.Contains(t, err.Error(), "parsing truncated.obj")

	_, err = g.Generate(context.Background(), []string{"elf.o"})
	require.True(t, objfile.IsFormat(err))

	_, err = g.Generate(context.Background(), []string{"missing.obj"})
	require.Error(t, err)

	// Nothing is written after a failed run.
	exists, err := afero.Exists(fs, "module.def")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestGenerator_MissingIgnoreFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "a.obj", coffObject(t, "_Add", "_Internal"))

	cfg := DefaultConfig()
	cfg.IgnoreFile = "does-not-exist.txt"
	cfg.IgnoreSubstrings = []string{"Internal"}
	g := newGenerator(t, fs, cfg)

	res, err := g.Generate(context.Background(), []string{"a.obj"})
	require.NoError(t, err)
	require.Equal(t, []string{";ObjectCount=1", "EXPORTS", "Add"}, res.Lines)
}

func TestGenerator_WriteIfChanged(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := DefaultConfig()
	cfg.Output = "module.def"
	g := newGenerator(t, fs, cfg)

	writeFile(t, fs, "module.def", []byte(";ObjectCount=1\r\nEXPORTS\r\nAdd\r\n"))
	written, err := g.WriteIfChanged(context.Background(), []string{";ObjectCount=1", "EXPORTS", "Add"})
	require.NoError(t, err)
	require.False(t, written)

	written, err = g.WriteIfChanged(context.Background(), []string{";ObjectCount=1", "EXPORTS", "Add", "Sub"})
	require.NoError(t, err)
	require.True(t, written)

	g = newGenerator(t, fs, DefaultConfig())
	_, err = g.WriteIfChanged(context.Background(), nil)
	require.Error(t, err)
}

func TestReadIgnoreFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "ignores.txt", []byte("\nfoo\r\n\nbar baz\n\n"))
	ignores, err := ReadIgnoreFile(fs, "ignores.txt")
	require.NoError(t, err)
	require.Equal(t, []string{"foo", "bar baz"}, ignores)
}
