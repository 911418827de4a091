package schema

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/siqueiraa/sdfc/pkg/metadata"
)

// Builder collects declarations before forward references are resolved.
// Natives are always in scope and are never stored.
type Builder struct {
	types map[string]metadata.MetadataType
}

func NewBuilder() *Builder {
	return &Builder{types: make(map[string]metadata.MetadataType)}
}

// InsertLocal stores a type declared by the document. It returns the entry it
// replaced, if any, so the caller can apply its own conflict policy.
func (b *Builder) InsertLocal(name string, t metadata.SdfType) (metadata.MetadataType, bool) {
	return b.insert(name, t, metadata.OriginLocal)
}

// InsertImported stores a type pulled from another package.
func (b *Builder) InsertImported(name string, t metadata.SdfType) (metadata.MetadataType, bool) {
	return b.insert(name, t, metadata.OriginImported)
}

func (b *Builder) insert(name string, t metadata.SdfType, origin metadata.Origin) (metadata.MetadataType, bool) {
	if slices.Contains(metadata.NativeTypes, name) {
		return metadata.MetadataType{}, false
	}
	prev, ok := b.types[name]
	b.types[name] = metadata.MetadataType{Name: name, Type: t, Origin: origin}
	return prev, ok
}

// Extend inserts every type keeping its origin.
func (b *Builder) Extend(types []metadata.MetadataType) {
	for _, t := range types {
		b.insert(t.Name, t.Type, t.Origin)
	}
}

func (b *Builder) Get(name string) (metadata.SdfType, bool) {
	t, ok := lookup(b.types, name)
	return t.Type, ok
}

// Seal runs the resolution pass and hands out the immutable map. Keyed-state
// values naming a declared type are narrowed to their concrete variant.
func (b *Builder) Seal() (*Map, error) {
	m := &Map{types: make(map[string]metadata.MetadataType, len(b.types))}
	for _, name := range b.names() {
		mt := b.types[name]
		if mt.Type.Kind == metadata.KindKeyedState && mt.Type.KeyedState != nil {
			st := metadata.StateTyped{Name: name, Type: *mt.Type.KeyedState}
			if err := st.Resolve(b); err != nil {
				return nil, err
			}
			ks := st.Type
			mt.Type.KeyedState = &ks
		}
		m.types[name] = mt
	}
	m.names = b.names()
	return m, nil
}

func (b *Builder) names() []string {
	names := make([]string, 0, len(b.types))
	for n := range b.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Map is a sealed name to type mapping.
type Map struct {
	types map[string]metadata.MetadataType
	names []string
}

// FromTypes builds and seals a map in one step.
func FromTypes(types []metadata.MetadataType) (*Map, error) {
	b := NewBuilder()
	b.Extend(types)
	return b.Seal()
}

func lookup(types map[string]metadata.MetadataType, name string) (metadata.MetadataType, bool) {
	if t, ok := types[name]; ok {
		return t, true
	}
	t, ok := types[strings.ReplaceAll(name, "-", "_")]
	return t, ok
}

// Get returns the declared type. Snake-case spellings of kebab names match.
func (m *Map) Get(name string) (metadata.SdfType, bool) {
	t, ok := lookup(m.types, name)
	return t.Type, ok
}

func (m *Map) Lookup(name string) (metadata.MetadataType, bool) {
	return lookup(m.types, name)
}

// Contains also reports native types.
func (m *Map) Contains(name string) bool {
	if slices.Contains(metadata.NativeTypes, name) {
		return true
	}
	_, ok := lookup(m.types, name)
	return ok
}

func (m *Map) Len() int { return len(m.names) }

// All returns every type ordered by name.
func (m *Map) All() []metadata.MetadataType {
	out := make([]metadata.MetadataType, 0, len(m.names))
	for _, n := range m.names {
		out = append(out, m.types[n])
	}
	return out
}

func (m *Map) Local() []metadata.MetadataType {
	return m.filter(metadata.OriginLocal)
}

func (m *Map) Imported() []metadata.MetadataType {
	return m.filter(metadata.OriginImported)
}

func (m *Map) filter(origin metadata.Origin) []metadata.MetadataType {
	var out []metadata.MetadataType
	for _, n := range m.names {
		if m.types[n].Origin == origin {
			out = append(out, m.types[n])
		}
	}
	return out
}

// TypeTree returns name and every type it transitively references, ordered by name.
func (m *Map) TypeTree(name string) []metadata.MetadataType {
	tree := make(map[string]metadata.MetadataType)
	m.collect(name, tree)
	out := make([]metadata.MetadataType, 0, len(tree))
	for _, t := range tree {
		out = append(out, t)
	}
	metadata.SortTypes(out)
	return out
}

func (m *Map) collect(name string, tree map[string]metadata.MetadataType) {
	mt, ok := lookup(m.types, name)
	if !ok {
		return
	}
	if _, seen := tree[mt.Name]; seen {
		return
	}
	tree[mt.Name] = mt
	for _, ref := range references(mt.Type) {
		m.collect(ref, tree)
	}
}

// references lists the type names t points at.
func references(t metadata.SdfType) []string {
	switch t.Kind {
	case metadata.KindNamed, metadata.KindList, metadata.KindOption:
		return []string{t.Ref.Name}
	case metadata.KindObject:
		refs := make([]string, 0, len(t.Object.Fields))
		for _, f := range t.Object.Fields {
			refs = append(refs, f.Type.Name)
		}
		return refs
	case metadata.KindEnum:
		var refs []string
		for _, v := range t.Enum.Variants {
			if v.Value != nil {
				refs = append(refs, v.Value.Name)
			}
		}
		return refs
	case metadata.KindKeyValue:
		return []string{t.KeyValue.Key.Name, t.KeyValue.Value.Name}
	case metadata.KindKeyedState:
		refs := []string{t.KeyedState.Key.Name}
		if !t.KeyedState.Value.IsResolved() {
			refs = append(refs, t.KeyedState.Value.Ref.Name)
		}
		return refs
	}
	return nil
}

// InnerTypeName follows named aliases down to the first non-alias name.
func (m *Map) InnerTypeName(name string) (string, bool) {
	for i, n := 0, len(m.names)+1; i < n; i++ {
		t, ok := m.Get(name)
		if !ok {
			return name, slices.Contains(metadata.NativeTypes, name)
		}
		if t.Kind != metadata.KindNamed {
			return name, true
		}
		name = t.Ref.Name
	}
	return "", false
}

// ResolveAlias maps aliases of scalars to the scalar name. Structural types keep their name.
func (m *Map) ResolveAlias(name string) string {
	for i, n := 0, len(m.names)+1; i < n; i++ {
		t, ok := m.Get(name)
		switch {
		case !ok:
			return name
		case t.Kind == metadata.KindNamed:
			name = t.Ref.Name
		case t.Kind >= metadata.KindU8 && t.Kind <= metadata.KindString:
			return t.Kind.String()
		default:
			return name
		}
	}
	return name
}

// IsS64 reports the signed 64-bit integer or an alias for one.
func (m *Map) IsS64(name string) bool {
	return m.ResolveAlias(metadata.NormalizeScalar(name)) == metadata.KindS64.String()
}

// IsHashable reports whether the type may be used as a key.
func (m *Map) IsHashable(t metadata.SdfType) bool {
	for i, n := 0, len(m.names)+1; i < n; i++ {
		if slices.Contains(metadata.HashablePrimitives, t.Kind) {
			return true
		}
		if t.Kind != metadata.KindNamed {
			return false
		}
		if k, ok := metadata.ScalarKind(t.Ref.Name); ok {
			t = metadata.Scalar(k)
			continue
		}
		next, ok := m.Get(t.Ref.Name)
		if !ok {
			return false
		}
		t = next
	}
	return false
}

// IsHashableName is IsHashable for a type reference.
func (m *Map) IsHashableName(name string) bool {
	return m.IsHashable(metadata.Named(name))
}

// HashablePrimitivesList renders the hashable primitive names.
func HashablePrimitivesList() string {
	names := make([]string, 0, len(metadata.HashablePrimitives))
	for _, k := range metadata.HashablePrimitives {
		names = append(names, k.String())
	}
	return strings.Join(names, ", ")
}

// Conflicts reports names present in both maps with different structure.
func (m *Map) Conflicts(other []metadata.MetadataType) []string {
	var out []string
	for _, t := range other {
		if mine, ok := m.types[t.Name]; ok && !mine.Type.Equal(t.Type) {
			out = append(out, t.Name)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Map) String() string {
	return fmt.Sprintf("schema.Map(%d types)", len(m.names))
}
