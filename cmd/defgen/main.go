package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/common/version"
	"github.com/spf13/afero"
	"gopkg.in/alecthomas/kingpin.v2"

	utilctx "github.com/grafana/defgen/pkg/util/context"
)

const envPrefix = "DEFGEN_"

var cfg struct {
	verbose bool
	noColor bool
}

var (
	consoleOutput = os.Stderr
	logger        = log.NewLogfmtLogger(consoleOutput)
)

type commander interface {
	Flag(name, help string) *kingpin.FlagClause
	Arg(name, help string) *kingpin.ArgClause
}

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "Generates module definitions from the exports of COFF and ELF object files.").UsageWriter(os.Stdout)
	app.Version(version.Print("defgen"))
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("0").Envar(envPrefix + "VERBOSE").BoolVar(&cfg.verbose)
	app.Flag("no-color", "Disable colored output.").Default("false").BoolVar(&cfg.noColor)

	generateCmd := app.Command("generate", "Extract exports from object files and write the module definition.")
	generateParams := addGenerateParams(generateCmd)

	inspectCmd := app.Command("inspect", "Print the symbol table of object files.")
	inspectParams := addInspectParams(inspectCmd)

	stubCmd := app.Command("stub", "Synthesize COFF stub objects.")
	stubReferenceCmd := stubCmd.Command("reference", "Write an object that references symbols to pull their objects into a link.")
	stubReferenceParams := addStubReferenceParams(stubReferenceCmd)
	stubHookCmd := stubCmd.Command("hook", "Write an object that references symbols as weak externals.")
	stubHookParams := addStubHookParams(stubHookCmd)

	// parse command line arguments
	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	// enable verbose logging if requested
	if !cfg.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	if cfg.noColor {
		color.NoColor = true
	}

	ctx := utilctx.WithLogger(context.Background(), logger)
	ctx = withOutput(ctx, os.Stdout)
	fs := afero.NewOsFs()

	switch parsedCmd {
	case generateCmd.FullCommand():
		os.Exit(checkError(generate(ctx, fs, generateParams)))
	case inspectCmd.FullCommand():
		os.Exit(checkError(inspect(ctx, fs, inspectParams)))
	case stubReferenceCmd.FullCommand():
		os.Exit(checkError(stubReference(ctx, fs, stubReferenceParams)))
	case stubHookCmd.FullCommand():
		os.Exit(checkError(stubHook(ctx, fs, stubHookParams)))
	default:
		level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
	}
}

func checkError(err error) int {
	switch err {
	case nil:
		return 0
	case errChanged:
		// Reported on stdout already.
	default:
		fmt.Fprintf(os.Stderr, "%s%v\n", color.RedString("error: "), err)
	}
	return 1
}

type contextKey uint8

const (
	contextKeyOutput contextKey = iota
)

func withOutput(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, contextKeyOutput, w)
}

func output(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(contextKeyOutput).(io.Writer); ok {
		return w
	}
	return os.Stdout
}
