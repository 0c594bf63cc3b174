// Package defgen maintains a module definition file listing the exports of
// a set of object files.
package defgen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/grafana/defgen/pkg/exports"
	utilctx "github.com/grafana/defgen/pkg/util/context"
)

type Generator struct {
	logger  log.Logger
	fs      afero.Fs
	cfg     Config
	dialect exports.Dialect
}

// Result is a generated module definition.
type Result struct {
	Lines       []string
	Exports     exports.ExportSet
	ObjectCount int
	Digest      uint64
}

func New(cfg Config, fs afero.Fs, logger log.Logger) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	d, _ := exports.ParseDialect(cfg.Dialect)
	return &Generator{
		logger:  logger,
		fs:      fs,
		cfg:     cfg,
		dialect: d,
	}, nil
}

// Library returns the name of the elf dialect export block: the configured
// library, or the base name of the output file without its extension.
func (g *Generator) Library() string {
	if g.dialect != exports.DialectELF {
		return ""
	}
	if g.cfg.Library != "" || g.cfg.Output == "" {
		return g.cfg.Library
	}
	base := filepath.Base(g.cfg.Output)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Generate extracts the exports of every object in paths, in order, and
// renders the module definition. The first object that fails to parse
// aborts the run: a partial export list is never produced.
func (g *Generator) Generate(ctx context.Context, paths []string) (*Result, error) {
	ctx = utilctx.WithLogger(ctx, g.logger)
	sets := make([]exports.ExportSet, 0, len(paths))
	for _, path := range paths {
		set, err := g.extract(utilctx.WithFields(ctx, "path", path), path)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}

	ignores, err := g.ignores(ctx)
	if err != nil {
		return nil, err
	}
	merged := exports.Merge(sets...)
	merged.Functions = exports.FilterIgnored(merged.Functions, ignores)

	res := &Result{
		Exports:     merged,
		ObjectCount: len(paths),
		Lines:       exports.Render(merged, len(paths), g.dialect, g.Library()),
	}
	res.Digest = exports.Digest(res.Lines)
	level.Info(utilctx.Logger(ctx)).Log(
		"msg", "generated module definition",
		"dialect", g.dialect,
		"objects", res.ObjectCount,
		"functions", len(merged.Functions),
		"data", len(merged.Data),
		"digest", fmt.Sprintf("%016x", res.Digest),
	)
	return res, nil
}

func (g *Generator) extract(ctx context.Context, path string) (exports.ExportSet, error) {
	buf, err := afero.ReadFile(g.fs, path)
	if err != nil {
		return exports.ExportSet{}, errors.Wrapf(err, "reading %s", path)
	}
	set, err := exports.Extract(buf, g.dialect.Format())
	if err != nil {
		return exports.ExportSet{}, errors.Wrapf(err, "parsing %s", path)
	}
	level.Debug(utilctx.Logger(ctx)).Log(
		"msg", "extracted exports",
		"size", humanize.Bytes(uint64(len(buf))),
		"functions", len(set.Functions),
		"data", len(set.Data),
	)
	return set, nil
}

func (g *Generator) ignores(ctx context.Context) ([]string, error) {
	ignores := g.cfg.IgnoreSubstrings
	if g.cfg.IgnoreFile == "" {
		return ignores, nil
	}
	fromFile, err := ReadIgnoreFile(g.fs, g.cfg.IgnoreFile)
	if errors.Is(err, os.ErrNotExist) {
		level.Debug(utilctx.Logger(ctx)).Log("msg", "ignore file not found", "path", g.cfg.IgnoreFile)
		return ignores, nil
	}
	if err != nil {
		return nil, err
	}
	return append(lo.Compact(ignores), fromFile...), nil
}

// ReadIgnoreFile reads newline separated ignore substrings, skipping blank
// lines.
func ReadIgnoreFile(fs afero.Fs, path string) ([]string, error) {
	buf, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading ignore file %s", path)
	}
	return lo.Compact(exports.SplitLines(string(buf))), nil
}

// WriteIfChanged writes lines to the configured output unless the file
// already holds exactly these lines. It reports whether the file was
// written.
func (g *Generator) WriteIfChanged(ctx context.Context, lines []string) (bool, error) {
	if g.cfg.Output == "" {
		return false, errors.New("no output file configured")
	}
	logger := log.With(g.logger, "path", g.cfg.Output)
	changed, err := g.Changed(lines)
	if err != nil {
		return false, err
	}
	if !changed {
		level.Debug(logger).Log("msg", "module definition is up to date")
		return false, nil
	}
	if err := g.fs.MkdirAll(filepath.Dir(g.cfg.Output), 0o755); err != nil {
		return false, errors.Wrapf(err, "creating directory for %s", g.cfg.Output)
	}
	if err := afero.WriteFile(g.fs, g.cfg.Output, []byte(exports.JoinLines(lines)), 0o644); err != nil {
		return false, errors.Wrapf(err, "writing %s", g.cfg.Output)
	}
	level.Info(logger).Log("msg", "module definition written", "lines", len(lines))
	return true, nil
}

// Changed reports whether the configured output differs from lines. A
// missing output counts as changed.
func (g *Generator) Changed(lines []string) (bool, error) {
	buf, err := afero.ReadFile(g.fs, g.cfg.Output)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "reading %s", g.cfg.Output)
	}
	return exports.IsChanged(exports.SplitLines(string(buf)), lines), nil
}

// Stale reports whether the marker line of the configured output was
// written for a different number of objects. It is a cheap check that does
// not parse any object.
func (g *Generator) Stale(objectCount int) (bool, error) {
	f, err := g.fs.Open(g.cfg.Output)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "opening %s", g.cfg.Output)
	}
	defer f.Close()

	var first [128]byte
	n, err := f.Read(first[:])
	if n == 0 && err != nil {
		return true, nil
	}
	line, _, _ := strings.Cut(string(first[:n]), "\n")
	return !exports.MarkerMatches(line, g.dialect, objectCount), nil
}
