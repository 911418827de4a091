package wit

import (
	"fmt"
	"slices"
	"strings"

	"github.com/siqueiraa/sdfc/pkg/metadata"
	"github.com/siqueiraa/sdfc/pkg/schema"
)

const (
	TypesInterface = "types"

	DfValueType   = "df-value"
	RowValueType  = "row-value"
	ValueU32Type  = "value32"
	ListU32Type   = "list32"
	dfPackage     = "sdf:df/lazy"
	rowPackage    = "sdf:row-state/row"
	valuesPackage = "sdf:value-state/values"
)

// TypeRef renders a reference to a native or declared type. Aliases of the
// scalars map to the WIT builtin; "timestamp" columns are s64.
func TypeRef(name string) string {
	if name == "timestamp" {
		return metadata.KindS64.String()
	}
	if k, ok := metadata.ScalarKind(name); ok && k != metadata.KindBytes {
		return k.String()
	}
	return Ident(name)
}

func option(t string) string { return "option<" + t + ">" }
func list(t string) string   { return "list<" + t + ">" }

func tuple(ts ...string) string { return "tuple<" + strings.Join(ts, ", ") + ">" }

func result(ok, err string) string { return "result<" + ok + ", " + err + ">" }

var bytesList = list(metadata.KindU8.String())

// TypeDefs renders the definitions backing one declared type. Keyed states
// expand to three definitions; the null type to none.
func TypeDefs(mt metadata.MetadataType) []TypeDef {
	name := Ident(mt.Name)
	t := mt.Type
	switch {
	case t.Kind == metadata.KindNull:
		return nil
	case t.Kind == metadata.KindBytes:
		return []TypeDef{Alias(name, bytesList)}
	case t.IsNative():
		return []TypeDef{Alias(name, t.Kind.String())}
	}

	switch t.Kind {
	case metadata.KindNamed:
		return []TypeDef{Alias(name, TypeRef(t.Ref.Name))}
	case metadata.KindList:
		return []TypeDef{Alias(name, list(TypeRef(t.Ref.Name)))}
	case metadata.KindOption:
		return []TypeDef{Alias(name, option(TypeRef(t.Ref.Name)))}
	case metadata.KindKeyValue:
		return []TypeDef{Alias(name, tuple(TypeRef(t.KeyValue.Key.Name), TypeRef(t.KeyValue.Value.Name)))}
	case metadata.KindObject:
		return []TypeDef{objectRecord(name, t.Object)}
	case metadata.KindArrowRow:
		return []TypeDef{rowRecord(name, t.ArrowRow)}
	case metadata.KindEnum:
		return []TypeDef{enumVariant(name, t.Enum)}
	case metadata.KindKeyedState:
		return keyedStateDefs(Name(mt.Name), t.KeyedState)
	}
	return nil
}

func objectRecord(name string, o *metadata.Object) TypeDef {
	fields := make([]Param, 0, len(o.Fields))
	for _, f := range o.Fields {
		ty := TypeRef(f.Type.Name)
		if f.Optional {
			ty = option(ty)
		}
		fields = append(fields, Param{Name: Ident(f.Name), Type: ty})
	}
	return Record(name, fields...)
}

func rowRecord(name string, r *metadata.ArrowRow) TypeDef {
	fields := make([]Param, 0, len(r.Columns))
	for _, c := range r.Columns {
		fields = append(fields, Param{Name: Ident(c.Name), Type: TypeRef(c.Type)})
	}
	return Record(name, fields...)
}

func enumVariant(name string, e *metadata.Enum) TypeDef {
	cases := make([]Case, 0, len(e.Variants))
	for _, v := range e.Variants {
		c := Case{Name: Ident(v.Name)}
		if v.Value != nil {
			c.Type = TypeRef(v.Value.Name)
		}
		cases = append(cases, c)
	}
	return Variant(name, cases...)
}

// keyedStateDefs renders `<base>-item-value`, the state type itself and
// `<base>-item`, the (key, value) tuple of one entry.
func keyedStateDefs(base string, ks *metadata.KeyedState) []TypeDef {
	name := Ident(base)
	itemName := Ident(base + "-item")
	valueName := Ident(base + "-item-value")

	var value, state TypeDef
	switch ks.Value.Kind {
	case metadata.ValueU32:
		value = Alias(valueName, metadata.KindU32.String())
		state = Alias(name, list(itemName))
	case metadata.ValueArrowRow:
		value = rowRecord(valueName, ks.Value.Row)
		state = Alias(name, DfValueType)
	default:
		value = Alias(valueName, TypeRef(ks.Value.Ref.Name))
		state = Alias(name, TypeRef(ks.Value.Ref.Name))
	}
	item := Alias(itemName, tuple(TypeRef(ks.Key.Name), valueName))
	return []TypeDef{value, state, item}
}

// TypesInterfaceOf renders the shared "types" interface: a `bytes` alias
// followed by every type of the map, ordered by name. Two types whose
// identifiers coincide, such as `line-0` and `line0`, are an ErrNameCollision.
func TypesInterfaceOf(types *schema.Map) (*Interface, error) {
	iface := &Interface{
		Name:  TypesInterface,
		Types: []TypeDef{Alias("bytes", bytesList)},
	}
	owners := map[string]string{"bytes": "bytes"}
	needsDf := false
	for _, mt := range types.All() {
		for _, def := range TypeDefs(mt) {
			id := strings.TrimPrefix(def.Name, "%")
			if owner, taken := owners[id]; taken {
				return nil, fmt.Errorf("%w: `%s` from type `%s` is already declared by type `%s`", ErrNameCollision, id, mt.Name, owner)
			}
			owners[id] = mt.Name
			if def.kind == defAlias && def.alias == DfValueType {
				needsDf = true
			}
			iface.Types = append(iface.Types, def)
		}
	}
	if needsDf {
		iface.Uses = append(iface.Uses, Use{Target: dfPackage, Items: []string{DfValueType}})
	}
	return iface, nil
}

// typesUse imports the declared types among names from the types interface.
func typesUse(names []string) (Use, bool) {
	var items []string
	for _, n := range names {
		if n == "" || !metadata.IsImportedType(n) {
			continue
		}
		id := Ident(n)
		if !slices.Contains(items, id) {
			items = append(items, id)
		}
	}
	if len(items) == 0 {
		return Use{}, false
	}
	slices.Sort(items)
	return Use{Target: TypesInterface, Items: items}, true
}
