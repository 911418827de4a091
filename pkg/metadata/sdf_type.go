package metadata

import (
	"reflect"
	"slices"
)

// Kind discriminates SdfType.
type Kind int

const (
	KindNull Kind = iota
	KindU8
	KindU16
	KindU32
	KindU64
	KindS8
	KindS16
	KindS32
	KindS64
	KindF32
	KindF64
	KindBool
	KindString
	KindBytes
	KindNamed
	KindObject
	KindEnum
	KindList
	KindOption
	KindKeyedState
	KindArrowRow
	KindKeyValue
)

// VoidTypeRepr is the rendered name of the null type.
const VoidTypeRepr = "_"

var kindNames = map[Kind]string{
	KindNull:       VoidTypeRepr,
	KindU8:         "u8",
	KindU16:        "u16",
	KindU32:        "u32",
	KindU64:        "u64",
	KindS8:         "s8",
	KindS16:        "s16",
	KindS32:        "s32",
	KindS64:        "s64",
	KindF32:        "f32",
	KindF64:        "f64",
	KindBool:       "bool",
	KindString:     "string",
	KindBytes:      "bytes",
	KindObject:     "object",
	KindEnum:       "enum",
	KindList:       "list",
	KindOption:     "option",
	KindKeyedState: "keyed-state",
	KindArrowRow:   "arrow-row",
	KindKeyValue:   "key-value",
}

var scalarAliases = map[string]Kind{
	"u8": KindU8, "u16": KindU16, "u32": KindU32, "u64": KindU64,
	"s8": KindS8, "s16": KindS16, "s32": KindS32, "s64": KindS64,
	"i8": KindS8, "i16": KindS16, "i32": KindS32, "i64": KindS64,
	"f32": KindF32, "f64": KindF64, "float32": KindF32, "float64": KindF64,
	"bool": KindBool, "string": KindString, "String": KindString, "bytes": KindBytes,
}

// NativeTypes are always in scope and never stored in a type map.
var NativeTypes = []string{
	"u8", "u16", "u32", "u64",
	"i8", "i16", "i32", "i64",
	"s8", "s16", "s32", "s64",
	"f32", "f64", "bool", "string", "bytes",
}

// HashablePrimitives may be used as keys.
var HashablePrimitives = []Kind{
	KindU8, KindU16, KindU32, KindU64,
	KindS8, KindS16, KindS32, KindS64,
	KindBool, KindString, KindF32, KindF64,
}

func (k Kind) String() string {
	return kindNames[k]
}

// ScalarKind resolves a scalar name, accepting the i*/float*/String aliases.
func ScalarKind(name string) (Kind, bool) {
	k, ok := scalarAliases[name]
	return k, ok
}

// IsNativeType reports names that need no declaration.
func IsNativeType(name string) bool {
	return name == "" || slices.Contains(NativeTypes, name)
}

// IsImportedType reports names that must be pulled from the shared types interface.
func IsImportedType(name string) bool {
	return !IsNativeType(name) || name == "bytes"
}

// NormalizeScalar maps aliases to their canonical spelling; other names are returned unchanged.
func NormalizeScalar(name string) string {
	if k, ok := ScalarKind(name); ok {
		return k.String()
	}
	return name
}

type TypeRef struct {
	Name string `json:"name"`
}

type SerdeField struct {
	Rename string `json:"rename,omitempty"`
}

type SerdeConfig struct {
	Serialize   *SerdeField `json:"serialize,omitempty"`
	Deserialize *SerdeField `json:"deserialize,omitempty"`
}

type ObjectField struct {
	Name     string      `json:"name"`
	Type     TypeRef     `json:"type"`
	Optional bool        `json:"optional,omitempty"`
	Serde    SerdeConfig `json:"serde"`
}

type Object struct {
	Fields []ObjectField `json:"fields"`
}

type EnumVariant struct {
	Name  string      `json:"name"`
	Value *TypeRef    `json:"value,omitempty"`
	Serde SerdeConfig `json:"serde"`
}

type Enum struct {
	Variants []EnumVariant `json:"variants"`
	Tagging  string        `json:"tagging,omitempty"`
}

type ArrowColumn struct {
	Name string `json:"name"`
	// Type is a scalar name or "timestamp".
	Type string `json:"type"`
}

type ArrowRow struct {
	Columns []ArrowColumn `json:"columns"`
}

type KeyValue struct {
	Key   TypeRef `json:"key"`
	Value TypeRef `json:"value"`
}

// SdfType is the closed set of type shapes. Only the member matching Kind is set:
// Ref for named references, list items and option values, and the pointer for
// the structural kinds.
type SdfType struct {
	Kind       Kind        `json:"kind"`
	Ref        TypeRef     `json:"ref,omitzero"`
	Object     *Object     `json:"object,omitempty"`
	Enum       *Enum       `json:"enum,omitempty"`
	ArrowRow   *ArrowRow   `json:"arrowRow,omitempty"`
	KeyValue   *KeyValue   `json:"keyValue,omitempty"`
	KeyedState *KeyedState `json:"keyedState,omitempty"`
}

func Scalar(k Kind) SdfType       { return SdfType{Kind: k} }
func Named(name string) SdfType   { return SdfType{Kind: KindNamed, Ref: TypeRef{Name: name}} }
func ListOf(item string) SdfType  { return SdfType{Kind: KindList, Ref: TypeRef{Name: item}} }
func OptionOf(v string) SdfType   { return SdfType{Kind: KindOption, Ref: TypeRef{Name: v}} }
func ObjectOf(f ...ObjectField) SdfType {
	return SdfType{Kind: KindObject, Object: &Object{Fields: f}}
}

// Ty is the type name as written in documents; named references return their target.
func (t SdfType) Ty() string {
	if t.Kind == KindNamed {
		return t.Ref.Name
	}
	return t.Kind.String()
}

func (t SdfType) IsNative() bool {
	return t.Kind >= KindU8 && t.Kind <= KindBytes
}

// Equal is structural equality.
func (t SdfType) Equal(other SdfType) bool {
	return reflect.DeepEqual(t, other)
}

// Origin records where a type came from.
type Origin int

const (
	OriginLocal Origin = iota
	OriginImported
)

func (o Origin) String() string {
	if o == OriginImported {
		return "imported"
	}
	return "local"
}

// MetadataType is a named type of a package or dataflow.
type MetadataType struct {
	Name   string  `json:"name"`
	Type   SdfType `json:"type"`
	Origin Origin  `json:"origin"`
}

func (m MetadataType) IsImported() bool { return m.Origin == OriginImported }

// TypeLookup is the read side of a type map.
type TypeLookup interface {
	Get(name string) (SdfType, bool)
}
