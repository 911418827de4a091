package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/siqueiraa/sdfc/pkg/avro"
	"github.com/siqueiraa/sdfc/pkg/wit"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

/* ---------------------------------------------------------------------
   generate
   --------------------------------------------------------------------- */

type GenerateCommand struct {
	Meta
}

func (c *GenerateCommand) Run(args []string) int {
	var output string
	var force bool
	f := c.flagSet("generate")
	f.StringVar(&output, "o", "", "")
	f.BoolVar(&force, "force", false, "")
	if err := f.Parse(args); err != nil {
		return cli.RunResultHelp
	}

	cfg, logger, err := c.load()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	path := cfg.PackageFile
	if f.NArg() > 0 {
		path = f.Arg(0)
	}
	if output == "" {
		output = cfg.Output
	}
	if !filepath.IsAbs(output) {
		output = filepath.Join(filepath.Dir(path), output)
	}

	res, err := c.engine(cfg, logger).CompilePackage(path)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	out, err := wit.NewGenerator(logger).FromResult(res)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	if !force && out.Current(c.Fs, output) {
		c.Ui.Output(fmt.Sprintf("%s is up to date", filepath.Join(output, wit.APIFile)))
		return 0
	}
	written, err := out.Write(c.Fs, output)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	c.Ui.Output(fmt.Sprintf("wrote %s (%016x)", written, out.Digest()))
	return 0
}

func (c *GenerateCommand) Synopsis() string {
	return "Generate the WIT interface of a package"
}

func (c *GenerateCommand) Help() string {
	return strings.TrimSpace(`
Usage: sdfc generate [options] [package-file]

  Compiles a package document and writes api.wit into the output directory.
  Writing is skipped when api.wit already holds the rendered interface.

Options:

  -o=dir          Output directory, relative to the package. Defaults to .wit.
  -force          Rewrite api.wit even when it is up to date.` + globalFlags)
}

/* ---------------------------------------------------------------------
   validate
   --------------------------------------------------------------------- */

// ValidateCommand compiles every document matching the given patterns.
type ValidateCommand struct {
	Meta
}

type validation struct {
	path string
	err  error
}

func (c *ValidateCommand) Run(args []string) int {
	var parallel int
	f := c.flagSet("validate")
	f.IntVar(&parallel, "parallel", 4, "")
	if err := f.Parse(args); err != nil {
		return cli.RunResultHelp
	}

	cfg, logger, err := c.load()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	patterns := f.Args()
	if len(patterns) == 0 {
		patterns = []string{c.document(cfg, nil)}
	}
	paths, err := c.expand(patterns)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	if len(paths) == 0 {
		c.Ui.Error(fmt.Sprintf("no documents match %s", strings.Join(patterns, ", ")))
		return 1
	}

	results := make([]validation, len(paths))
	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			_, err := c.engine(cfg, logger.With("document", path)).Compile(path)
			results[i] = validation{path: path, err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			c.Ui.Error(fmt.Sprintf("%s: invalid\n%v", r.path, r.err))
			continue
		}
		c.Ui.Output(fmt.Sprintf("%s: ok", r.path))
	}
	if failed > 0 {
		c.Ui.Error(fmt.Sprintf("%d of %d documents failed validation", failed, len(paths)))
		return 1
	}
	return 0
}

// expand resolves doublestar patterns against the command file system.
// Each pattern is split into a literal base directory and a glob relative to
// it.
func (c *ValidateCommand) expand(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, pattern := range patterns {
		pattern = filepath.ToSlash(pattern)
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid pattern %q", pattern)
		}
		base, glob := doublestar.SplitPattern(pattern)
		root := c.Fs
		if base != "." {
			root = afero.NewBasePathFs(c.Fs, base)
		}
		matches, err := doublestar.Glob(afero.NewIOFS(root), glob, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", pattern, err)
		}
		for _, m := range matches {
			path := filepath.Join(base, filepath.FromSlash(m))
			if !seen[path] {
				seen[path] = true
				paths = append(paths, path)
			}
		}
	}
	return paths, nil
}

func (c *ValidateCommand) Synopsis() string {
	return "Check dataflow and package documents"
}

func (c *ValidateCommand) Help() string {
	return strings.TrimSpace(`
Usage: sdfc validate [options] [pattern ...]

  Compiles every document matching the patterns and reports the failures.
  Patterns support ** globs. Documents named like the configured package
  file are checked as packages.

Options:

  -parallel=n     Documents compiled at once. Defaults to 4.` + globalFlags)
}

/* ---------------------------------------------------------------------
   deps
   --------------------------------------------------------------------- */

type DepsCommand struct {
	Meta
}

func (c *DepsCommand) Run(args []string) int {
	f := c.flagSet("deps")
	if err := f.Parse(args); err != nil {
		return cli.RunResultHelp
	}
	res, _, _, ok := c.compile(f.Args())
	if !ok {
		return 1
	}
	c.Ui.Output(strings.TrimRight(res.DependencyTree(), "\n"))
	return 0
}

func (c *DepsCommand) Synopsis() string {
	return "Print the package import tree of a document"
}

func (c *DepsCommand) Help() string {
	return strings.TrimSpace(`
Usage: sdfc deps [options] [document]

  Resolves the imports of a dataflow or package and prints them as a tree.

Options:` + globalFlags)
}

/* ---------------------------------------------------------------------
   avro
   --------------------------------------------------------------------- */

type AvroCommand struct {
	Meta
}

type avroReport struct {
	Types    []avro.Entry   `json:"types"`
	Subjects []avro.Subject `json:"subjects,omitempty"`
}

func (c *AvroCommand) Run(args []string) int {
	var namespace string
	f := c.flagSet("avro")
	f.StringVar(&namespace, "namespace", "", "")
	if err := f.Parse(args); err != nil {
		return cli.RunResultHelp
	}
	res, cfg, logger, ok := c.compile(f.Args())
	if !ok {
		return 1
	}
	if namespace == "" {
		namespace = cfg.Avro.Namespace
	}

	exporter := avro.NewExporter(res.TypeMap(), namespace, logger)
	var report avroReport
	var err error
	if report.Types, err = exporter.Export(); err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	if res.Dataflow != nil {
		if report.Subjects, err = exporter.Subjects(res.Dataflow); err != nil {
			c.Ui.Error(err.Error())
			return 1
		}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	c.Ui.Output(string(data))
	return 0
}

func (c *AvroCommand) Synopsis() string {
	return "Export document types as Avro schemas"
}

func (c *AvroCommand) Help() string {
	return strings.TrimSpace(`
Usage: sdfc avro [options] [document]

  Prints the Avro schema of every record, enum, row and key-value type in
  scope. For dataflows the key and value subject of every topic is listed
  too.

Options:

  -namespace=ns   Avro namespace. Defaults to the configured namespace.` + globalFlags)
}

/* ---------------------------------------------------------------------
   inspect
   --------------------------------------------------------------------- */

type InspectCommand struct {
	Meta
}

func (c *InspectCommand) Run(args []string) int {
	f := c.flagSet("inspect")
	if err := f.Parse(args); err != nil {
		return cli.RunResultHelp
	}
	res, _, _, ok := c.compile(f.Args())
	if !ok {
		return 1
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	c.Ui.Output(string(data))
	return 0
}

func (c *InspectCommand) Synopsis() string {
	return "Print the compiled document as JSON"
}

func (c *InspectCommand) Help() string {
	return strings.TrimSpace(`
Usage: sdfc inspect [options] [document]

  Prints the resolved document, its type scope and the inferred service
  types as JSON.

Options:` + globalFlags)
}
