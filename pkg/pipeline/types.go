package pipeline

import (
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// Composite type discriminators
const (
	KindObject     = "object"
	KindEnum       = "enum"
	KindList       = "list"
	KindOption     = "option"
	KindKeyedState = "keyed-state"
	KindArrowRow   = "arrow-row"
	KindKeyValue   = "key-value"
)

// CompositeKinds lists the discriminators that cannot be used as type names.
var CompositeKinds = []string{KindEnum, KindObject, KindList, KindOption, KindKeyedState, KindArrowRow, KindKeyValue}

var arrowColumnKinds = []string{
	"u8", "u16", "u32", "u64",
	"s8", "s16", "s32", "s64",
	"i8", "i16", "i32", "i64",
	"f32", "f64", "float32", "float64",
	"bool", "string", "timestamp",
}

// TypeDef is one type declaration as written in a document. Type holds either a
// composite discriminator, a scalar name or the name of another declared type.
//
//	my-event:
//	  type: object
//	  properties:
//	    name: { type: string }
//	    payload: { type: object, type-name: my-payload, properties: {...} }
type TypeDef struct {
	Type     string
	TypeName string

	Properties []Property // object
	Variants   []Variant  // enum
	Tagging    string     // enum
	Items      *TypeDef   // list
	Key        *TypeDef   // keyed-state, key-value
	Value      *TypeDef   // option, keyed-state, key-value
	Columns    []Column   // arrow-row

	Line int
}

// Property is a field of an object type.
type Property struct {
	Name string
	TypeDef
	Optional    bool
	Serialize   *SerdeField
	Deserialize *SerdeField
}

// Variant is an alternative of an enum type; Type is nil for unit variants.
type Variant struct {
	Name        string
	Type        *TypeDef
	Serialize   *SerdeField
	Deserialize *SerdeField
}

type SerdeField struct {
	Rename string `yaml:"rename,omitempty"`
}

// Column is a typed column of an arrow-row.
type Column struct {
	Name string
	Type string
}

// IsComposite reports whether the declaration introduces a structural type.
func (t *TypeDef) IsComposite() bool {
	return slices.Contains(CompositeKinds, t.Type)
}

// ListGenName is the synthesized name of an unnamed nested list.
func (t *TypeDef) ListGenName() string {
	if t.Type != KindList || t.Items == nil {
		return ""
	}
	return "list-" + t.Items.Type + "-gen-type"
}

func (t *TypeDef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return syntaxErr("", node.Line, "type declaration must be a mapping with a `type` field")
	}
	typeNode := findKey(node, "type")
	if typeNode == nil || typeNode.Value == "" {
		return syntaxErr("", node.Line, "missing field `type`")
	}
	t.Type = typeNode.Value
	t.Line = node.Line
	if n := findKey(node, "type-name"); n != nil {
		t.TypeName = n.Value
	}

	switch t.Type {
	case KindObject:
		return t.decodeObject(node)
	case KindEnum:
		return t.decodeEnum(node)
	case KindList:
		items := findKey(node, "items")
		if items == nil {
			return syntaxErr("", node.Line, "list type requires `items`")
		}
		t.Items = &TypeDef{}
		return items.Decode(t.Items)
	case KindOption:
		value := findKey(node, "value")
		if value == nil {
			return syntaxErr("", node.Line, "option type requires `value`")
		}
		t.Value = &TypeDef{}
		return value.Decode(t.Value)
	case KindKeyedState, KindKeyValue:
		return t.decodeKeyValue(node)
	case KindArrowRow:
		return t.decodeArrowRow(node)
	}
	return nil
}

func (t *TypeDef) decodeObject(node *yaml.Node) error {
	props := findKey(node, "properties")
	if props == nil {
		return nil
	}
	if props.Kind != yaml.MappingNode {
		return syntaxErr("", props.Line, "object `properties` must be a mapping")
	}
	for _, pair := range mappingPairs(props) {
		p := Property{Name: pair.key.Value}
		if err := p.decode(pair.value); err != nil {
			return err
		}
		t.Properties = append(t.Properties, p)
	}
	return nil
}

func (p *Property) decode(node *yaml.Node) error {
	if err := p.TypeDef.UnmarshalYAML(node); err != nil {
		return err
	}
	if n := findKey(node, "optional"); n != nil {
		if err := n.Decode(&p.Optional); err != nil {
			return err
		}
	}
	return decodeSerde(node, &p.Serialize, &p.Deserialize)
}

func (t *TypeDef) decodeEnum(node *yaml.Node) error {
	if n := findKey(node, "tagging"); n != nil {
		switch n.Value {
		case "externally-tagged", "untagged":
			t.Tagging = n.Value
		default:
			return syntaxErr("", n.Line, "unknown enum tagging `%s`, expected `externally-tagged` or `untagged`", n.Value)
		}
	}
	oneOf := findKey(node, "oneOf")
	if oneOf == nil {
		return syntaxErr("", node.Line, "enum type requires `oneOf`")
	}
	if oneOf.Kind != yaml.MappingNode {
		return syntaxErr("", oneOf.Line, "enum `oneOf` must be a mapping")
	}
	for _, pair := range mappingPairs(oneOf) {
		v := Variant{Name: pair.key.Value}
		if pair.value.Kind == yaml.MappingNode {
			if findKey(pair.value, "type") != nil {
				v.Type = &TypeDef{}
				if err := v.Type.UnmarshalYAML(pair.value); err != nil {
					return err
				}
			}
			if err := decodeSerde(pair.value, &v.Serialize, &v.Deserialize); err != nil {
				return err
			}
		}
		t.Variants = append(t.Variants, v)
	}
	return nil
}

func (t *TypeDef) decodeKeyValue(node *yaml.Node) error {
	props := findKey(node, "properties")
	if props == nil {
		return syntaxErr("", node.Line, "%s type requires `properties` with `key` and `value`", t.Type)
	}
	key, value := findKey(props, "key"), findKey(props, "value")
	if key == nil || value == nil {
		return syntaxErr("", props.Line, "%s type requires both `key` and `value` properties", t.Type)
	}
	t.Key, t.Value = &TypeDef{}, &TypeDef{}
	if err := key.Decode(t.Key); err != nil {
		return err
	}
	return value.Decode(t.Value)
}

func (t *TypeDef) decodeArrowRow(node *yaml.Node) error {
	props := findKey(node, "properties")
	if props == nil {
		return nil
	}
	for _, pair := range mappingPairs(props) {
		typeNode := findKey(pair.value, "type")
		if typeNode == nil {
			return syntaxErr("", pair.value.Line, "arrow-row column `%s` requires a `type`", pair.key.Value)
		}
		if !slices.Contains(arrowColumnKinds, typeNode.Value) {
			return syntaxErr("", typeNode.Line, "unsupported arrow-row column type `%s` for column `%s`", typeNode.Value, pair.key.Value)
		}
		t.Columns = append(t.Columns, Column{Name: pair.key.Value, Type: typeNode.Value})
	}
	return nil
}

func decodeSerde(node *yaml.Node, ser, de **SerdeField) error {
	if n := findKey(node, "serialize"); n != nil {
		*ser = &SerdeField{}
		if err := n.Decode(*ser); err != nil {
			return err
		}
	}
	if n := findKey(node, "deserialize"); n != nil {
		*de = &SerdeField{}
		if err := n.Decode(*de); err != nil {
			return err
		}
	}
	return nil
}

// TypeRef is the `{type: name}` shorthand used by inputs, outputs and schemas.
type TypeRef struct {
	Type string `yaml:"type"`
}

/* ---------------------------------------------------------------------
   Node helpers
   --------------------------------------------------------------------- */

type nodePair struct {
	key, value *yaml.Node
}

func mappingPairs(node *yaml.Node) []nodePair {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	pairs := make([]nodePair, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		pairs = append(pairs, nodePair{key: node.Content[i], value: node.Content[i+1]})
	}
	return pairs
}

func findKey(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func scalarValue(node *yaml.Node, key string) string {
	if n := findKey(node, key); n != nil && n.Kind == yaml.ScalarNode {
		return n.Value
	}
	return ""
}

func describeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return fmt.Sprintf("scalar %q", node.Value)
	}
	return "node"
}
