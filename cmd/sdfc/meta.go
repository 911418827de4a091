package main

import (
	"errors"
	"flag"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"

	"github.com/siqueiraa/sdfc/pkg/config"
	"github.com/siqueiraa/sdfc/pkg/engine"
)

// Meta is the state shared by every command.
type Meta struct {
	Ui  cli.Ui
	Fs  afero.Fs
	Log io.Writer

	configPath string
	dev        bool
}

// flagSet registers the flags every command accepts.
func (m *Meta) flagSet(name string) *flag.FlagSet {
	f := flag.NewFlagSet(name, flag.ContinueOnError)
	f.SetOutput(io.Discard)
	f.StringVar(&m.configPath, "config", config.DefaultFile, "")
	f.BoolVar(&m.dev, "dev", false, "")
	return f
}

func (m *Meta) load() (config.Config, hclog.Logger, error) {
	cfg, err := config.LoadFs(m.Fs, m.configPath)
	if err != nil {
		return cfg, nil, err
	}
	if m.dev {
		cfg.Dev = true
	}
	return cfg, cfg.Logger("sdfc", m.Log), nil
}

func (m *Meta) engine(cfg config.Config, logger hclog.Logger) *engine.Engine {
	return engine.NewEngine(m.Fs, engine.Options{Dev: cfg.Dev, PackageFile: cfg.PackageFile}, logger)
}

// document picks the file a command works on: the first argument, else the
// configured dataflow file when it exists, else the package file.
func (m *Meta) document(cfg config.Config, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if _, err := m.Fs.Stat(cfg.DataflowFile); errors.Is(err, os.ErrNotExist) {
		return cfg.PackageFile
	}
	return cfg.DataflowFile
}

// compile loads the config and compiles the selected document, reporting
// failures on the UI. ok is false when the command should exit 1.
func (m *Meta) compile(args []string) (*engine.Result, config.Config, hclog.Logger, bool) {
	cfg, logger, err := m.load()
	if err != nil {
		m.Ui.Error(err.Error())
		return nil, cfg, nil, false
	}
	path := m.document(cfg, args)
	res, err := m.engine(cfg, logger).Compile(path)
	if err != nil {
		m.Ui.Error(err.Error())
		return nil, cfg, logger, false
	}
	return res, cfg, logger, true
}

const globalFlags = `
  -config=path    Compiler configuration file. Defaults to sdfc.yaml.
  -dev            Apply the dev.imports overrides of the document.`
