package metadata

import (
	"slices"
	"strings"
)

// FunctionImport names a function of another package, optionally under an alias.
type FunctionImport struct {
	Name  string `json:"name"`
	Alias string `json:"alias,omitempty"`
}

// LocalName is the name steps use to invoke the function.
func (f FunctionImport) LocalName() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// PackageImport references the exported assets of one package.
type PackageImport struct {
	Metadata  Header           `json:"metadata"`
	Path      string           `json:"path,omitempty"`
	Types     []string         `json:"types,omitempty"`
	States    []string         `json:"states,omitempty"`
	Functions []FunctionImport `json:"functions,omitempty"`
}

// Merge unions other's names into i. Every list ends sorted and deduplicated.
func (i *PackageImport) Merge(other PackageImport) {
	i.Types = mergeNames(i.Types, other.Types)
	i.States = mergeNames(i.States, other.States)

	funcs := append(slices.Clone(i.Functions), other.Functions...)
	slices.SortStableFunc(funcs, func(a, b FunctionImport) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.Alias, b.Alias)
	})
	i.Functions = slices.Compact(funcs)
}

// ImportsFunction reports whether uses matches an imported function or alias.
func (i *PackageImport) ImportsFunction(uses string) (FunctionImport, bool) {
	for _, f := range i.Functions {
		if f.LocalName() == uses {
			return f, true
		}
	}
	return FunctionImport{}, false
}

func mergeNames(a, b []string) []string {
	out := append(slices.Clone(a), b...)
	slices.Sort(out)
	return slices.Compact(out)
}
