package importer

import (
	"fmt"
	"path"

	"github.com/siqueiraa/sdfc/pkg/metadata"
	"github.com/siqueiraa/sdfc/pkg/state"
)

// ImportedFunction finds the function a step invokes through imports,
// following re-exports through the imports of the providing package.
func ImportedFunction(uses string, imports []metadata.PackageImport, packages []*metadata.PackageDefinition) (*metadata.PackageFunction, error) {
	return findImportedFunction(".", uses, imports, packages)
}

func findImportedFunction(prevPath, uses string, imports []metadata.PackageImport, packages []*metadata.PackageDefinition) (*metadata.PackageFunction, error) {
	imp, fn, err := importForFunction(uses, imports)
	if err != nil {
		return nil, err
	}
	pkg, ok := findPackage(imp.Metadata, packages)
	if !ok {
		return nil, &DependencyError{
			Kind: KindMissing,
			Key:  imp.Metadata.Key(),
			Msg:  fmt.Sprintf("Package %s/%s:%s not found in packages", imp.Metadata.Namespace, imp.Metadata.Name, imp.Metadata.Version),
		}
	}
	pkgPath := path.Join(prevPath, imp.Path)
	if found, ok := pkg.Function(fn.Name); ok {
		out := *found
		out.Step.Imported = &metadata.ImportedFunctionMetadata{
			Package: imp.Metadata,
			Name:    fn.Name,
			Alias:   fn.Alias,
			Path:    pkgPath,
		}
		return &out, nil
	}
	return findImportedFunction(pkgPath, fn.Name, pkg.Imports, packages)
}

// importForFunction matches uses against the function imports. An aliased
// function is only reachable through its alias.
func importForFunction(uses string, imports []metadata.PackageImport) (metadata.PackageImport, metadata.FunctionImport, error) {
	for _, imp := range imports {
		imp := imp
		fn, ok := imp.ImportsFunction(uses)
		if !ok {
			continue
		}
		if imp.Path == "" {
			return imp, fn, fmt.Errorf("Import must have path when resolving functions")
		}
		return imp, fn, nil
	}
	return metadata.PackageImport{}, metadata.FunctionImport{}, fmt.Errorf("Function %s not found in imports", uses)
}

// AdoptImportedFunctions replaces the signature of every step of svc that
// invokes an imported function with the package's declaration, and injects
// the states the function uses into the service pool.
func AdoptImportedFunctions(svc *metadata.Service, imports []metadata.PackageImport, packages []*metadata.PackageDefinition) error {
	return svc.WalkSteps(func(op metadata.OperatorType, step *metadata.StepInvocation) error {
		if !step.IsImported(imports) {
			return nil
		}
		fn, err := ImportedFunction(step.Uses, imports, packages)
		if err != nil {
			return fmt.Errorf("service `%s`: %w", svc.Name, err)
		}
		if fn.Operator != op {
			return fmt.Errorf("Imported function %s is expected to be %s type operator but is %s", step.Uses, op, fn.Operator)
		}
		step.Inputs = fn.Step.Inputs
		step.Output = fn.Step.Output
		step.States = fn.Step.States
		step.Imported = fn.Step.Imported
		return state.InjectStates(svc, step.States)
	})
}
