package engine

import (
	"fmt"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-hclog"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"

	"github.com/siqueiraa/sdfc/pkg/importer"
	"github.com/siqueiraa/sdfc/pkg/metadata"
	"github.com/siqueiraa/sdfc/pkg/pipeline"
	"github.com/siqueiraa/sdfc/pkg/schema"
	"github.com/siqueiraa/sdfc/pkg/state"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

/*─────────────────────────────────────────────────────────────────────────────*
| 1.  Types                                                                   |
*─────────────────────────────────────────────────────────────────────────────*/

// Options tune a compilation.
type Options struct {
	// Dev applies the dev import overrides of documents.
	Dev bool
	// PackageFile is the package document name looked up in import paths;
	// documents with that base name compile as packages.
	PackageFile string
}

// Result is the output of one compilation. Exactly one of Dataflow and
// Package is set.
type Result struct {
	Dataflow *metadata.DataflowDefinition `json:"dataflow,omitempty"`
	Package  *metadata.PackageDefinition  `json:"package,omitempty"`
	Types    []metadata.MetadataType      `json:"types"`
	Services []ServiceTypes               `json:"services,omitempty"`
	Order    []metadata.Header            `json:"dependencies,omitempty"`

	typeMap  *schema.Map
	resolver *importer.Resolver
}

// TypeMap is the sealed scope the document was checked against.
func (r *Result) TypeMap() *schema.Map { return r.typeMap }

// Packages lists every resolved imported package.
func (r *Result) Packages() []*metadata.PackageDefinition {
	if r.resolver == nil {
		return nil
	}
	return r.resolver.Packages()
}

// DependencyTree renders the import graph of the document.
func (r *Result) DependencyTree() string {
	root := ""
	switch {
	case r.Dataflow != nil:
		root = r.Dataflow.Meta.Name
	case r.Package != nil:
		root = r.Package.Meta.String()
	}
	if r.resolver == nil {
		return root + "\n"
	}
	return r.resolver.Tree(root)
}

// Service returns the inferred typing of the named service.
func (r *Result) Service(name string) (*ServiceTypes, bool) {
	for i := range r.Services {
		if r.Services[i].Name == name {
			return &r.Services[i], true
		}
	}
	return nil, false
}

type resultJSON Result

func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal((*resultJSON)(r))
}

// Digest fingerprints the compiled IR; equal documents hash equally.
func (r *Result) Digest() (uint64, error) {
	data, err := r.MarshalJSON()
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(data), nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| 2.  Engine struct                                                           |
*─────────────────────────────────────────────────────────────────────────────*/

// Engine runs parse, dependency resolution, validation, state resolution and
// type inference over one document. Any failing stage aborts the compilation.
type Engine struct {
	fs     afero.Fs
	opts   Options
	logger hclog.Logger
	parser *pipeline.Parser
	loader *importer.Loader
}

func NewEngine(fs afero.Fs, opts Options, logger hclog.Logger) *Engine {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if opts.PackageFile == "" {
		opts.PackageFile = importer.DefaultPackageFile
	}
	return &Engine{
		fs:     fs,
		opts:   opts,
		logger: logger.Named("engine"),
		parser: pipeline.NewParser(logger),
		loader: importer.NewLoader(fs, logger, importer.WithPackageFile(opts.PackageFile)),
	}
}

// IsPackage reports whether path names a package document.
func (e *Engine) IsPackage(path string) bool {
	return filepath.Base(path) == e.opts.PackageFile
}

// Compile compiles path as a package or a dataflow by its file name.
func (e *Engine) Compile(path string) (*Result, error) {
	if e.IsPackage(path) {
		return e.CompilePackage(path)
	}
	return e.CompileDataflow(path)
}

/*─────────────────────────────────────────────────────────────────────────────*
| 3.  Dataflow                                                                |
*─────────────────────────────────────────────────────────────────────────────*/

func (e *Engine) CompileDataflow(path string) (*Result, error) {
	data, err := afero.ReadFile(e.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read dataflow: %w", err)
	}
	res, err := e.CompileDataflowText(filepath.Dir(path), string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

// CompileDataflowText compiles a dataflow document whose relative import
// paths are resolved from dir.
func (e *Engine) CompileDataflowText(dir, text string) (*Result, error) {
	cfg, err := e.parser.Parse(text)
	if err != nil {
		return nil, err
	}
	doc, err := cfg.Document()
	if err != nil {
		return nil, err
	}
	def, err := doc.Definition()
	if err != nil {
		return nil, err
	}

	packages, err := e.loader.Fetch(dir, def.Imports, def.DevImports, e.opts.Dev)
	if err != nil {
		return nil, err
	}
	resolver, err := importer.ResolveDataflow(def, packages, e.logger)
	if err != nil {
		return nil, err
	}
	types, err := schema.DataflowTypes(def)
	if err != nil {
		return nil, err
	}
	if err := NewValidator(types, e.logger).ValidateDataflow(def); err != nil {
		return nil, err
	}
	if err := state.NewManager(types, e.logger).ResolveDataflow(def); err != nil {
		return nil, err
	}
	services, err := InferAll(def)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("compiled dataflow", "name", def.Meta.Name, "services", len(services), "packages", len(packages))
	return &Result{
		Dataflow: def,
		Types:    types.All(),
		Services: services,
		Order:    resolver.Order(),
		typeMap:  types,
		resolver: resolver,
	}, nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| 4.  Package                                                                 |
*─────────────────────────────────────────────────────────────────────────────*/

func (e *Engine) CompilePackage(path string) (*Result, error) {
	data, err := afero.ReadFile(e.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read package: %w", err)
	}
	res, err := e.CompilePackageText(filepath.Dir(path), string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

// CompilePackageText compiles a package document whose relative import paths
// are resolved from dir.
func (e *Engine) CompilePackageText(dir, text string) (*Result, error) {
	cfg, err := e.parser.ParsePackage(text)
	if err != nil {
		return nil, err
	}
	pkg, err := cfg.Document().Definition()
	if err != nil {
		return nil, err
	}

	packages, err := e.loader.Fetch(dir, pkg.Imports, pkg.DevImports, e.opts.Dev)
	if err != nil {
		return nil, err
	}
	resolver, err := importer.ResolvePackage(pkg, packages, e.logger)
	if err != nil {
		return nil, err
	}
	types, err := schema.PackageTypes(pkg)
	if err != nil {
		return nil, err
	}
	if err := NewValidator(types, e.logger).ValidatePackage(pkg); err != nil {
		return nil, err
	}
	if err := state.NewManager(types, e.logger).ResolvePackage(pkg); err != nil {
		return nil, err
	}

	e.logger.Debug("compiled package", "package", pkg.Meta.String(), "functions", len(pkg.Functions))
	return &Result{
		Package:  pkg,
		Types:    types.All(),
		Order:    resolver.Order(),
		typeMap:  types,
		resolver: resolver,
	}, nil
}
