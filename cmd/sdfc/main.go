package main

import (
	"os"

	"github.com/mitchellh/cli"
	"github.com/spf13/afero"
)

// Version is reported by `sdfc --version`.
const Version = "0.1.0"

func main() {
	meta := &Meta{
		Ui: &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      os.Stdout,
			ErrorWriter: os.Stderr,
		},
		Fs:  afero.NewOsFs(),
		Log: os.Stderr,
	}
	os.Exit(run(os.Args[1:], meta))
}

func run(args []string, meta *Meta) int {
	c := cli.NewCLI("sdfc", Version)
	c.Args = args
	c.Commands = Commands(meta)
	c.HelpWriter = meta.Log

	code, err := c.Run()
	if err != nil {
		meta.Ui.Error(err.Error())
		return 1
	}
	return code
}

// Commands is the command table of the CLI.
func Commands(meta *Meta) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"generate": func() (cli.Command, error) { return &GenerateCommand{Meta: *meta}, nil },
		"validate": func() (cli.Command, error) { return &ValidateCommand{Meta: *meta}, nil },
		"deps":     func() (cli.Command, error) { return &DepsCommand{Meta: *meta}, nil },
		"avro":     func() (cli.Command, error) { return &AvroCommand{Meta: *meta}, nil },
		"inspect":  func() (cli.Command, error) { return &InspectCommand{Meta: *meta}, nil },
	}
}
