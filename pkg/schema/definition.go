package schema

import "github.com/siqueiraa/sdfc/pkg/metadata"

func keyedStateType(st metadata.StateTyped) metadata.SdfType {
	ks := st.Type
	return metadata.SdfType{Kind: metadata.KindKeyedState, KeyedState: &ks}
}

// PackageTypes is the scope of a package: its types plus one keyed-state type
// per package state. A state shadows a type of the same name.
func PackageTypes(pkg *metadata.PackageDefinition) (*Map, error) {
	b := NewBuilder()
	b.Extend(pkg.Types)
	for _, st := range pkg.States {
		b.InsertLocal(st.Name, keyedStateType(st))
	}
	return b.Seal()
}

// DataflowTypes is the scope of a dataflow: its types plus the typed states
// owned by its services.
func DataflowTypes(def *metadata.DataflowDefinition) (*Map, error) {
	b := NewBuilder()
	b.Extend(def.Types)
	for _, svc := range def.Services {
		for _, st := range svc.States {
			if st.Kind == metadata.StateOwned && st.Typed != nil {
				b.InsertLocal(st.Name, keyedStateType(*st.Typed))
			}
		}
	}
	return b.Seal()
}
