package main

import (
	"context"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/grafana/defgen/pkg/coff"
	utilctx "github.com/grafana/defgen/pkg/util/context"
)

var machines = map[string]uint16{
	"i386":  coff.MachineI386,
	"amd64": coff.MachineAMD64,
}

type stubParams struct {
	output  string
	machine string
	refs    []string
}

func addStubParams(cmd commander) *stubParams {
	params := &stubParams{}
	cmd.Flag("output", "Object file to write.").Short('o').Required().StringVar(&params.output)
	cmd.Flag("machine", "Machine type of the object.").Default("i386").EnumVar(&params.machine, "i386", "amd64")
	cmd.Arg("symbol", "Symbols to reference.").StringsVar(&params.refs)
	return params
}

func (p *stubParams) write(ctx context.Context, fs afero.Fs, build func(...coff.Option) ([]byte, error)) error {
	buf, err := build(coff.WithMachine(machines[p.machine]))
	if err != nil {
		return err
	}
	if err := afero.WriteFile(fs, p.output, buf, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", p.output)
	}
	level.Info(utilctx.Logger(ctx)).Log("msg", "stub object written", "path", p.output, "refs", len(p.refs), "size", humanize.Bytes(uint64(len(buf))))
	return nil
}

type stubReferenceParams struct {
	*stubParams
	symbol     string
	directives []string
}

func addStubReferenceParams(cmd commander) *stubReferenceParams {
	params := &stubReferenceParams{stubParams: addStubParams(cmd)}
	cmd.Flag("define", "Name of the symbol the object defines.").Required().StringVar(&params.symbol)
	cmd.Flag("directive", "Linker directive to embed, e.g. /INCLUDE:_Foo. Repeatable.").StringsVar(&params.directives)
	return params
}

func stubReference(ctx context.Context, fs afero.Fs, params *stubReferenceParams) error {
	return params.write(ctx, fs, func(opts ...coff.Option) ([]byte, error) {
		return coff.ReferenceObject(params.symbol, params.refs, strings.Join(params.directives, " "), opts...)
	})
}

type stubHookParams struct {
	*stubParams
}

func addStubHookParams(cmd commander) *stubHookParams {
	return &stubHookParams{stubParams: addStubParams(cmd)}
}

func stubHook(ctx context.Context, fs afero.Fs, params *stubHookParams) error {
	return params.write(ctx, fs, func(opts ...coff.Option) ([]byte, error) {
		return coff.HookObject(params.refs, opts...)
	})
}
