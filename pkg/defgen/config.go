package defgen

import (
	"bytes"
	"fmt"

	"github.com/drone/envsubst"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/grafana/defgen/pkg/exports"
)

// Config controls module definition generation.
type Config struct {
	// Dialect is "coff" for Windows .def files or "elf" for export maps.
	Dialect string `yaml:"dialect"`
	// Library names the export block of the elf dialect. When empty it is
	// derived from Output.
	Library string `yaml:"library"`
	// Output is the module definition to maintain.
	Output string `yaml:"output"`
	// IgnoreFile lists one ignored substring per line. A missing file is
	// treated as empty.
	IgnoreFile       string   `yaml:"ignore_file"`
	IgnoreSubstrings []string `yaml:"ignore_substrings"`
}

func DefaultConfig() Config {
	return Config{Dialect: exports.DialectCOFF.String()}
}

func (c *Config) Validate() error {
	var errs error
	d, err := exports.ParseDialect(c.Dialect)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	if c.Library != "" && err == nil && d != exports.DialectELF {
		errs = multierror.Append(errs, fmt.Errorf("library %q is only used by the elf dialect", c.Library))
	}
	for i, s := range c.IgnoreSubstrings {
		if s == "" {
			errs = multierror.Append(errs, fmt.Errorf("ignore_substrings[%d] is empty", i))
		}
	}
	return errs
}

// LoadConfig reads a YAML config file into cfg. Fields missing from the file
// keep their current value. With expandEnv, ${VAR} references are replaced
// by environment values before parsing.
func LoadConfig(fs afero.Fs, path string, expandEnv bool, cfg *Config) error {
	buf, err := afero.ReadFile(fs, path)
	if err != nil {
		return errors.Wrap(err, "reading config file")
	}
	if expandEnv {
		s, err := envsubst.EvalEnv(string(buf))
		if err != nil {
			return errors.Wrap(err, "expanding env vars in config file")
		}
		buf = []byte(s)
	}
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return errors.Wrapf(err, "parsing config file %s", path)
	}
	return nil
}
