package importer

import (
	"fmt"
	"reflect"

	"github.com/siqueiraa/sdfc/pkg/metadata"
	"github.com/siqueiraa/sdfc/pkg/schema"
	"github.com/siqueiraa/sdfc/pkg/state"
)

// findPackage returns the package whose header is exactly h.
func findPackage(h metadata.Header, packages []*metadata.PackageDefinition) (*metadata.PackageDefinition, bool) {
	for _, p := range packages {
		if p.Meta == h {
			return p, true
		}
	}
	return nil, false
}

// MergeTypesAndStates pulls the types and states named by imports out of
// packages. Every imported type brings its type tree along. A name already
// present with a different definition is an error.
func MergeTypesAndStates(
	types []metadata.MetadataType,
	states []metadata.StateTyped,
	imports []metadata.PackageImport,
	packages []*metadata.PackageDefinition,
) ([]metadata.MetadataType, []metadata.StateTyped, error) {
	all := schema.NewBuilder()
	all.Extend(types)

	merged := make(map[string]metadata.StateTyped, len(states))
	order := make([]string, 0, len(states))
	// repeats are checked against the first definition once values resolve
	var repeats []metadata.StateTyped
	addState := func(st metadata.StateTyped) {
		if _, ok := merged[st.Name]; ok {
			repeats = append(repeats, st)
			return
		}
		order = append(order, st.Name)
		merged[st.Name] = st
	}
	for _, st := range states {
		addState(st)
	}

	for _, imp := range imports {
		imp := imp
		pkg, ok := findPackage(imp.Metadata, packages)
		if !ok {
			return nil, nil, &DependencyError{Kind: KindMissing, Key: imp.Metadata.Key()}
		}
		pkgTypes, err := schema.PackageTypes(pkg)
		if err != nil {
			return nil, nil, fmt.Errorf("package %s: %w", pkg.Meta, err)
		}

		insert := func(tree []metadata.MetadataType) error {
			for _, t := range tree {
				prev, replaced := all.InsertImported(t.Name, t.Type)
				if !replaced {
					continue
				}
				if !prev.Type.Equal(t.Type) {
					return conflictErr("imported type %s from %s conflicts with existing type", t.Name, imp.Metadata.Name)
				}
				all.Extend([]metadata.MetadataType{prev})
			}
			return nil
		}

		for _, name := range imp.Types {
			if err := insert(pkgTypes.TypeTree(name)); err != nil {
				return nil, nil, err
			}
		}
		for _, name := range imp.States {
			st, ok := pkg.State(name)
			if !ok {
				return nil, nil, conflictErr("state %s not found in imported package %s", name, imp.Metadata.Name)
			}
			for _, ref := range stateRefs(*st) {
				if err := insert(pkgTypes.TypeTree(ref)); err != nil {
					return nil, nil, err
				}
			}
			addState(*st)
		}
	}

	sealed, err := all.Seal()
	if err != nil {
		return nil, nil, err
	}
	outStates := make([]metadata.StateTyped, 0, len(order))
	for _, name := range order {
		st := merged[name]
		if err := st.Resolve(sealed); err != nil {
			return nil, nil, err
		}
		merged[name] = st
		outStates = append(outStates, st)
	}
	for _, st := range repeats {
		st := st
		if err := st.Resolve(sealed); err != nil {
			return nil, nil, err
		}
		if !reflect.DeepEqual(merged[st.Name], st) {
			return nil, nil, conflictErr("imported state %s conflicts with existing state", st.Name)
		}
	}
	return sealed.All(), outStates, nil
}

// stateRefs names the types a state depends on. A resolved value carries its
// definition inline.
func stateRefs(st metadata.StateTyped) []string {
	refs := []string{st.Type.Key.Name}
	if !st.Type.Value.IsResolved() {
		refs = append(refs, st.Type.Value.Ref.Name)
	}
	return refs
}

// mergePackage folds the exports of resolved children into pkg and resolves
// the states of its functions against the merged pool.
func mergePackage(pkg *metadata.PackageDefinition, children []*metadata.PackageDefinition) error {
	types, states, err := MergeTypesAndStates(pkg.Types, pkg.States, pkg.Imports, children)
	if err != nil {
		return err
	}
	pkg.Types = types
	pkg.States = states

	scope, err := schema.PackageTypes(pkg)
	if err != nil {
		return err
	}
	return state.NewManager(scope, nil).ResolvePackage(pkg)
}
