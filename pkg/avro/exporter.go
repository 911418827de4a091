// Package avro exports the resolved record, variant and key-value types of a
// compilation as Avro schemas.
package avro

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hamba/avro/v2"
	"github.com/hashicorp/go-hclog"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/singleflight"

	"github.com/siqueiraa/sdfc/pkg/metadata"
	"github.com/siqueiraa/sdfc/pkg/schema"
)

// DefaultNamespace is used when no namespace is configured.
const DefaultNamespace = "com.example.sdf"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrUnknownType = errors.New("type not found")
	// ErrNotExportable is returned for types with no Avro shape, such as
	// keyed states.
	ErrNotExportable = errors.New("type has no avro representation")
)

// Entry is one exported schema.
type Entry struct {
	Name   string `json:"name"`
	Schema string `json:"schema"`
}

// Subject is the schema of one side of a topic, named the way schema
// registries name them: "<topic>-key" and "<topic>-value".
type Subject struct {
	Subject string `json:"subject"`
	Type    string `json:"type"`
	Schema  string `json:"schema"`
}

// Exporter builds Avro schemas from a sealed type map. Parsed schemas are
// cached by type name; concurrent requests for one name build it once.
type Exporter struct {
	types     *schema.Map
	namespace string
	logger    hclog.Logger

	cache   sync.Map // map[string]avro.Schema
	group   singleflight.Group
	schemas *avro.SchemaCache
}

func NewExporter(types *schema.Map, namespace string, logger hclog.Logger) *Exporter {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Exporter{
		types:     types,
		namespace: namespace,
		logger:    logger.Named("avro"),
		schemas:   &avro.SchemaCache{},
	}
}

// Schema returns the parsed Avro schema of the named type or native scalar.
func (e *Exporter) Schema(name string) (avro.Schema, error) {
	if v, ok := e.cache.Load(name); ok {
		return v.(avro.Schema), nil
	}
	v, err, _ := e.group.Do(name, func() (any, error) {
		text, err := e.SchemaJSON(name)
		if err != nil {
			return nil, err
		}
		s, err := avro.ParseWithCache(text, "", e.schemas)
		if err != nil {
			return nil, fmt.Errorf("parse schema of `%s`: %w", name, err)
		}
		e.cache.Store(name, s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(avro.Schema), nil
}

// SchemaJSON renders the schema of name without parsing it.
func (e *Exporter) SchemaJSON(name string) (string, error) {
	b := &builder{types: e.types, namespace: e.namespace, defined: make(map[string]bool), visiting: make(map[string]bool)}
	node, err := b.ref(name)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(node)
	if err != nil {
		return "", fmt.Errorf("marshal schema of `%s`: %w", name, err)
	}
	return string(data), nil
}

// Export renders every object, arrow-row, enum and key-value type of the
// map, ordered by name. Schemas are in Avro parsing canonical form.
func (e *Exporter) Export() ([]Entry, error) {
	var out []Entry
	for _, mt := range e.types.All() {
		switch mt.Type.Kind {
		case metadata.KindObject, metadata.KindArrowRow, metadata.KindEnum, metadata.KindKeyValue:
		default:
			continue
		}
		s, err := e.Schema(mt.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Name: mt.Name, Schema: s.String()})
	}
	e.logger.Debug("exported schemas", "count", len(out), "namespace", e.namespace)
	return out, nil
}

// Subjects renders the key and value schemas of every topic of def, ordered
// by topic name.
func (e *Exporter) Subjects(def *metadata.DataflowDefinition) ([]Subject, error) {
	topics := append([]metadata.Topic(nil), def.Topics...)
	sort.Slice(topics, func(i, j int) bool { return topics[i].Name < topics[j].Name })

	var out []Subject
	for _, t := range topics {
		if key, ok := t.KeyType(); ok {
			s, err := e.Schema(key.Name)
			if err != nil {
				return nil, fmt.Errorf("topic `%s` key: %w", t.Name, err)
			}
			out = append(out, Subject{Subject: t.Name + "-key", Type: key.Name, Schema: s.String()})
		}
		s, err := e.Schema(t.Schema.Value.Type.Name)
		if err != nil {
			return nil, fmt.Errorf("topic `%s` value: %w", t.Name, err)
		}
		out = append(out, Subject{Subject: t.Name + "-value", Type: t.Schema.Value.Type.Name, Schema: s.String()})
	}
	return out, nil
}

// Compatible reports whether two schema texts describe the same schema,
// ignoring attribute order and documentation.
func Compatible(a, b string) (bool, error) {
	sa, err := avro.ParseWithCache(a, "", &avro.SchemaCache{})
	if err != nil {
		return false, err
	}
	sb, err := avro.ParseWithCache(b, "", &avro.SchemaCache{})
	if err != nil {
		return false, err
	}
	return sa.Fingerprint() == sb.Fingerprint(), nil
}

/* ---------------------------------------------------------------------
   Schema building
   --------------------------------------------------------------------- */

type recordNode struct {
	Type      string      `json:"type"`
	Name      string      `json:"name"`
	Namespace string      `json:"namespace,omitempty"`
	Fields    []fieldNode `json:"fields"`
}

type fieldNode struct {
	Name    string             `json:"name"`
	Type    any                `json:"type"`
	Default jsoniter.RawMessage `json:"default,omitempty"`
}

type enumNode struct {
	Type      string   `json:"type"`
	Name      string   `json:"name"`
	Namespace string   `json:"namespace,omitempty"`
	Symbols   []string `json:"symbols"`
}

type arrayNode struct {
	Type  string `json:"type"`
	Items any    `json:"items"`
}

type logicalNode struct {
	Type        string `json:"type"`
	LogicalType string `json:"logicalType"`
}

var nullDefault = jsoniter.RawMessage("null")

var primitives = map[metadata.Kind]string{
	metadata.KindU8:     "int",
	metadata.KindU16:    "int",
	metadata.KindU32:    "long",
	metadata.KindU64:    "long",
	metadata.KindS8:     "int",
	metadata.KindS16:    "int",
	metadata.KindS32:    "int",
	metadata.KindS64:    "long",
	metadata.KindF32:    "float",
	metadata.KindF64:    "double",
	metadata.KindBool:   "boolean",
	metadata.KindString: "string",
	metadata.KindBytes:  "bytes",
}

// avroName maps a type or field name onto the Avro name grammar.
func avroName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// builder renders one schema; a named type is defined on first use and
// referenced by its full name afterwards.
type builder struct {
	types     *schema.Map
	namespace string
	defined   map[string]bool
	visiting  map[string]bool
}

func (b *builder) fullName(name string) string {
	return b.namespace + "." + avroName(name)
}

func (b *builder) ref(name string) (any, error) {
	if k, ok := metadata.ScalarKind(name); ok {
		return primitives[k], nil
	}
	mt, ok := b.types.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("`%s`: %w", name, ErrUnknownType)
	}
	if b.defined[mt.Name] {
		return b.fullName(mt.Name), nil
	}
	// only records may refer back to themselves
	if b.visiting[mt.Name] {
		return nil, fmt.Errorf("`%s` refers to itself outside a record: %w", mt.Name, ErrNotExportable)
	}
	b.visiting[mt.Name] = true
	defer delete(b.visiting, mt.Name)
	return b.node(mt.Name, mt.Type)
}

func (b *builder) node(name string, t metadata.SdfType) (any, error) {
	if p, ok := primitives[t.Kind]; ok {
		return p, nil
	}
	switch t.Kind {
	case metadata.KindNamed:
		return b.ref(t.Ref.Name)
	case metadata.KindList:
		items, err := b.ref(t.Ref.Name)
		if err != nil {
			return nil, err
		}
		return arrayNode{Type: "array", Items: items}, nil
	case metadata.KindOption:
		inner, err := b.ref(t.Ref.Name)
		if err != nil {
			return nil, err
		}
		return []any{"null", inner}, nil
	case metadata.KindObject:
		return b.object(name, t.Object)
	case metadata.KindArrowRow:
		return b.row(name, t.ArrowRow)
	case metadata.KindEnum:
		return b.enum(name, t.Enum)
	case metadata.KindKeyValue:
		return b.keyValue(name, t.KeyValue)
	}
	return nil, fmt.Errorf("`%s` (%s): %w", name, t.Kind, ErrNotExportable)
}

func (b *builder) record(name string) *recordNode {
	b.defined[name] = true
	return &recordNode{Type: "record", Name: avroName(name), Namespace: b.namespace, Fields: []fieldNode{}}
}

func (b *builder) object(name string, o *metadata.Object) (any, error) {
	rec := b.record(name)
	for _, f := range o.Fields {
		ty, err := b.ref(f.Type.Name)
		if err != nil {
			return nil, fmt.Errorf("field `%s` of `%s`: %w", f.Name, name, err)
		}
		field := fieldNode{Name: avroName(f.Name), Type: ty}
		if f.Optional {
			if _, union := ty.([]any); !union {
				field.Type = []any{"null", ty}
			}
			field.Default = nullDefault
		}
		rec.Fields = append(rec.Fields, field)
	}
	return rec, nil
}

func (b *builder) row(name string, r *metadata.ArrowRow) (any, error) {
	rec := b.record(name)
	for _, c := range r.Columns {
		if c.Type == "timestamp" {
			rec.Fields = append(rec.Fields, fieldNode{Name: avroName(c.Name), Type: logicalNode{Type: "long", LogicalType: "timestamp-millis"}})
			continue
		}
		ty, err := b.ref(c.Type)
		if err != nil {
			return nil, fmt.Errorf("column `%s` of `%s`: %w", c.Name, name, err)
		}
		rec.Fields = append(rec.Fields, fieldNode{Name: avroName(c.Name), Type: ty})
	}
	return rec, nil
}

func (b *builder) keyValue(name string, kv *metadata.KeyValue) (any, error) {
	rec := b.record(name)
	for _, f := range []struct {
		name string
		ref  metadata.TypeRef
	}{{"key", kv.Key}, {"value", kv.Value}} {
		ty, err := b.ref(f.ref.Name)
		if err != nil {
			return nil, fmt.Errorf("%s of `%s`: %w", f.name, name, err)
		}
		rec.Fields = append(rec.Fields, fieldNode{Name: f.name, Type: ty})
	}
	return rec, nil
}

// enum renders payload-less variants as an Avro enum. Variants with payloads
// become a union of one record per variant holding the payload in `value`.
func (b *builder) enum(name string, e *metadata.Enum) (any, error) {
	plain := true
	for _, v := range e.Variants {
		if v.Value != nil {
			plain = false
			break
		}
	}
	if plain {
		b.defined[name] = true
		symbols := make([]string, 0, len(e.Variants))
		for _, v := range e.Variants {
			symbols = append(symbols, avroName(v.Name))
		}
		return enumNode{Type: "enum", Name: avroName(name), Namespace: b.namespace, Symbols: symbols}, nil
	}

	union := make([]any, 0, len(e.Variants))
	for _, v := range e.Variants {
		rec := b.record(name + "_" + v.Name)
		if v.Value != nil {
			ty, err := b.ref(v.Value.Name)
			if err != nil {
				return nil, fmt.Errorf("variant `%s` of `%s`: %w", v.Name, name, err)
			}
			rec.Fields = append(rec.Fields, fieldNode{Name: "value", Type: ty})
		}
		union = append(union, rec)
	}
	return union, nil
}
