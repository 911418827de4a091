package importer

import (
	"github.com/hashicorp/go-hclog"

	"github.com/siqueiraa/sdfc/pkg/metadata"
)

// ResolvePackage resolves the imports of pkg against packages and merges the
// imported types and states into it.
func ResolvePackage(pkg *metadata.PackageDefinition, packages []*metadata.PackageDefinition, logger hclog.Logger) (*Resolver, error) {
	r, err := Build(pkg.Imports, packages, logger)
	if err != nil {
		return nil, err
	}
	if err := mergePackage(pkg, r.Packages()); err != nil {
		return nil, err
	}
	return r, nil
}

// ResolveDataflow resolves the imports of def, merges the imported types into
// it and adopts the signatures of imported functions in every service.
func ResolveDataflow(def *metadata.DataflowDefinition, packages []*metadata.PackageDefinition, logger hclog.Logger) (*Resolver, error) {
	r, err := Build(def.Imports, packages, logger)
	if err != nil {
		return nil, err
	}
	resolvedPkgs := r.Packages()
	types, _, err := MergeTypesAndStates(def.Types, nil, def.Imports, resolvedPkgs)
	if err != nil {
		return nil, err
	}
	def.Types = types
	for i := range def.Services {
		if err := AdoptImportedFunctions(&def.Services[i], def.Imports, resolvedPkgs); err != nil {
			return nil, err
		}
	}
	return r, nil
}
