package importer

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/siqueiraa/sdfc/pkg/metadata"
	"github.com/siqueiraa/sdfc/pkg/pipeline"
)

// DefaultPackageFile is the package document looked up in every import path.
const DefaultPackageFile = "sdf-package.yaml"

const (
	overrideMissingInDevMode = "SDF is running in Dev mode. Did you mean to import the package from the local filesystem?" +
		" If so, please specify a path in the development config"
	devOverrideInstruction = "If you would like to import the package from the local filesystem," +
		" please specify a path in the development config and pass the `--dev` flag"
	unusedDevOverride = "An override path for this package was specified in the development config." +
		" please pass `--dev` to use the local override of the package."
)

// Loader reads package documents from a file system. It is safe for
// concurrent use; each package file is read and lowered once.
type Loader struct {
	fs          afero.Fs
	parser      *pipeline.Parser
	logger      hclog.Logger
	packageFile string

	cache sync.Map // map[string]*metadata.PackageDefinition
	group singleflight.Group
}

type Option func(*Loader)

// WithPackageFile overrides DefaultPackageFile.
func WithPackageFile(name string) Option {
	return func(l *Loader) {
		if name != "" {
			l.packageFile = name
		}
	}
}

func NewLoader(fs afero.Fs, logger hclog.Logger, opts ...Option) *Loader {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	l := &Loader{
		fs:          fs,
		parser:      pipeline.NewParser(logger),
		logger:      logger.Named("loader"),
		packageFile: DefaultPackageFile,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ReadPackage parses and lowers the package document in dir.
func (l *Loader) ReadPackage(header metadata.Header, dir string) (*metadata.PackageDefinition, error) {
	file := filepath.Join(dir, l.packageFile)
	if v, ok := l.cache.Load(file); ok {
		return v.(*metadata.PackageDefinition), nil
	}
	v, err, _ := l.group.Do(file, func() (any, error) {
		l.logger.Debug("reading package file", "file", file)
		data, err := afero.ReadFile(l.fs, file)
		if err != nil {
			return nil, &DependencyError{
				Kind: KindLoad,
				Key:  header.Key(),
				Msg:  fmt.Sprintf("failed to load package config: expected to find package: %s at %s", header, file),
			}
		}
		cfg, err := l.parser.ParsePackage(string(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		def, err := cfg.Document().Definition()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		l.cache.Store(file, def)
		return def, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*metadata.PackageDefinition), nil
}

// Fetch crawls the import tree rooted at dir and returns every package found,
// each once, dependencies before their importers. When useDev is set, dev
// override paths are written into imports.
func (l *Loader) Fetch(dir string, imports, dev []metadata.PackageImport, useDev bool) ([]*metadata.PackageDefinition, error) {
	var out []*metadata.PackageDefinition
	seen := make(map[string]bool)
	if err := l.addPackageTree(&out, seen, dir, imports, dev, useDev); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Loader) addPackageTree(out *[]*metadata.PackageDefinition, seen map[string]bool, dir string,
	imports, dev []metadata.PackageImport, useDev bool) error {
	copy(imports, metadata.EffectiveImports(imports, dev, useDev))

	for _, imp := range imports {
		if imp.Path == "" {
			return missingPathErr(imp.Metadata, dev, useDev)
		}
		pkgDir := filepath.Join(dir, imp.Path)
		pkg, err := l.ReadPackage(imp.Metadata, pkgDir)
		if err != nil {
			return err
		}
		key := pkg.Meta.Key()
		if seen[key] {
			continue
		}
		seen[key] = true

		// The cached definition is shared, so dev paths go into a copy.
		pkg = clonePackage(pkg)
		if err := l.addPackageTree(out, seen, pkgDir, pkg.Imports, pkg.DevImports, useDev); err != nil {
			return err
		}
		*out = append(*out, pkg)
	}
	return nil
}

func missingPathErr(h metadata.Header, dev []metadata.PackageImport, useDev bool) error {
	msg := fmt.Sprintf("Package %s not found on Hub.", h)
	hasOverride := false
	for _, d := range dev {
		if d.Metadata == h && d.Path != "" {
			hasOverride = true
		}
	}
	switch {
	case hasOverride:
		msg += " " + unusedDevOverride
	case useDev:
		msg += " " + overrideMissingInDevMode
	default:
		msg += " " + devOverrideInstruction
	}
	return &DependencyError{Kind: KindLoad, Key: h.Key(), Msg: msg}
}
