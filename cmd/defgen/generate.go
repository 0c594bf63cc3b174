package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/grafana/defgen/pkg/defgen"
	"github.com/grafana/defgen/pkg/exports"
	utilctx "github.com/grafana/defgen/pkg/util/context"
)

var errChanged = errors.New("module definition is out of date")

type generateParams struct {
	configFile      string
	configExpandEnv bool

	dialect    string
	library    string
	output     string
	ignoreFile string
	ignore     []string

	objectsFrom string
	objects     []string
	check       bool
}

func addGenerateParams(cmd commander) *generateParams {
	params := &generateParams{}
	cmd.Flag("config.file", "YAML file to load the configuration from. Flags override its values.").Envar(envPrefix + "CONFIG_FILE").StringVar(&params.configFile)
	cmd.Flag("config.expand-env", "Expands ${var} in the config file according to the values of the environment variables.").Default("false").BoolVar(&params.configExpandEnv)
	cmd.Flag("dialect", "Output dialect: coff for .def files, elf for export maps. Defaults to coff.").Envar(envPrefix + "DIALECT").EnumVar(&params.dialect, "coff", "elf")
	cmd.Flag("library", "Library name of the elf export block. Defaults to the output file name without extension.").Envar(envPrefix + "LIBRARY").StringVar(&params.library)
	cmd.Flag("output", "Module definition to update. Printed to stdout when empty.").Short('o').Envar(envPrefix + "OUTPUT").StringVar(&params.output)
	cmd.Flag("ignore-file", "File with one substring per line; matching names are not exported.").Envar(envPrefix + "IGNORE_FILE").StringVar(&params.ignoreFile)
	cmd.Flag("ignore", "Do not export names containing this substring. Repeatable.").StringsVar(&params.ignore)
	cmd.Flag("objects-from", "File listing one object path per line.").StringVar(&params.objectsFrom)
	cmd.Flag("check", "Do not write the output; fail when it is out of date.").Default("false").BoolVar(&params.check)
	cmd.Arg("object", "Object files to read.").StringsVar(&params.objects)
	return params
}

func (p *generateParams) config(fs afero.Fs) (defgen.Config, error) {
	cfg := defgen.DefaultConfig()
	if p.configFile != "" {
		if err := defgen.LoadConfig(fs, p.configFile, p.configExpandEnv, &cfg); err != nil {
			return cfg, err
		}
	}
	override := func(dst *string, flag string) {
		if flag != "" {
			*dst = flag
		}
	}
	override(&cfg.Dialect, p.dialect)
	override(&cfg.Library, p.library)
	override(&cfg.Output, p.output)
	override(&cfg.IgnoreFile, p.ignoreFile)
	cfg.IgnoreSubstrings = append(cfg.IgnoreSubstrings, p.ignore...)
	return cfg, nil
}

func (p *generateParams) paths(fs afero.Fs) ([]string, error) {
	paths := p.objects
	if p.objectsFrom != "" {
		buf, err := afero.ReadFile(fs, p.objectsFrom)
		if err != nil {
			return nil, errors.Wrap(err, "reading object list")
		}
		paths = append(paths, lo.Compact(exports.SplitLines(string(buf)))...)
	}
	if len(paths) == 0 {
		return nil, errors.New("no object files given")
	}
	return paths, nil
}

func generate(ctx context.Context, fs afero.Fs, params *generateParams) error {
	cfg, err := params.config(fs)
	if err != nil {
		return err
	}
	paths, err := params.paths(fs)
	if err != nil {
		return err
	}
	g, err := defgen.New(cfg, fs, utilctx.Logger(ctx))
	if err != nil {
		return err
	}

	out := output(ctx)
	// A marker written for another object count means the output is out of
	// date without parsing a single object.
	if params.check && cfg.Output != "" {
		stale, err := g.Stale(len(paths))
		if err != nil {
			return err
		}
		if stale {
			fmt.Fprintf(out, "%s is out of date\n", cfg.Output)
			return errChanged
		}
	}

	res, err := g.Generate(ctx, paths)
	if err != nil {
		return err
	}
	if cfg.Output == "" {
		_, err := fmt.Fprint(out, exports.JoinLines(res.Lines))
		return err
	}
	if params.check {
		changed, err := g.Changed(res.Lines)
		if err != nil {
			return err
		}
		if changed {
			fmt.Fprintf(out, "%s is out of date\n", cfg.Output)
			return errChanged
		}
		fmt.Fprintf(out, "%s is up to date\n", cfg.Output)
		return nil
	}
	_, err = g.WriteIfChanged(ctx, res.Lines)
	return err
}
