package avro

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/siqueiraa/sdfc/pkg/metadata"
	"github.com/siqueiraa/sdfc/pkg/schema"
)

func field(name, ty string, optional bool) metadata.ObjectField {
	return metadata.ObjectField{Name: name, Type: metadata.TypeRef{Name: ty}, Optional: optional}
}

func testTypes(t *testing.T) *schema.Map {
	t.Helper()
	m, err := schema.FromTypes([]metadata.MetadataType{
		{Name: "sensor-reading", Type: metadata.ObjectOf(field("sensor_id", "string", false), field("value", "f64", true))},
		{Name: "color", Type: metadata.SdfType{Kind: metadata.KindEnum, Enum: &metadata.Enum{Variants: []metadata.EnumVariant{
			{Name: "red"}, {Name: "green"},
		}}}},
		{Name: "shape", Type: metadata.SdfType{Kind: metadata.KindEnum, Enum: &metadata.Enum{Variants: []metadata.EnumVariant{
			{Name: "circle", Value: &metadata.TypeRef{Name: "f64"}}, {Name: "none"},
		}}}},
		{Name: "node", Type: metadata.ObjectOf(field("label", "string", false), field("next", "node", true))},
		{Name: "readings", Type: metadata.ListOf("sensor-reading")},
		{Name: "sensor-id", Type: metadata.Named("string")},
		{Name: "row", Type: metadata.SdfType{Kind: metadata.KindArrowRow, ArrowRow: &metadata.ArrowRow{Columns: []metadata.ArrowColumn{
			{Name: "count", Type: "u32"}, {Name: "at", Type: "timestamp"},
		}}}},
		{Name: "counts", Type: metadata.SdfType{Kind: metadata.KindKeyedState, KeyedState: &metadata.KeyedState{
			Key: metadata.TypeRef{Name: "string"}, Value: metadata.UnresolvedValue("u32"),
		}}},
	})
	if err != nil {
		t.Fatalf("Failed to build types: %v", err)
	}
	return m
}

func verifySchema(t *testing.T, e *Exporter, name, expected string) {
	t.Helper()
	s, err := e.Schema(name)
	if err != nil {
		t.Fatalf("Schema(%s) failed: %v", name, err)
	}
	if s.String() != expected {
		t.Errorf("Expected canonical schema\n%s\ngot\n%s", expected, s.String())
	}
}

func TestSchemaRecord(t *testing.T) {
	e := NewExporter(testTypes(t), "", nil)
	verifySchema(t, e, "sensor-reading",
		`{"name":"com.example.sdf.sensor_reading","type":"record","fields":[{"name":"sensor_id","type":"string"},{"name":"value","type":["null","double"]}]}`)
	verifySchema(t, e, "sensor-id", `"string"`)
	verifySchema(t, e, "u64", `"long"`)

	text, err := e.SchemaJSON("sensor-reading")
	if err != nil {
		t.Fatalf("SchemaJSON failed: %v", err)
	}
	if !strings.Contains(text, `"default":null`) {
		t.Errorf("Expected optional field to default to null, got %s", text)
	}
}

func TestSchemaEnum(t *testing.T) {
	e := NewExporter(testTypes(t), "org.acme", nil)
	text, err := e.SchemaJSON("color")
	if err != nil {
		t.Fatalf("SchemaJSON failed: %v", err)
	}
	expected := `{"type":"enum","name":"color","namespace":"org.acme","symbols":["red","green"]}`
	if text != expected {
		t.Errorf("Expected %s, got %s", expected, text)
	}

	verifySchema(t, e, "shape",
		`[{"name":"org.acme.shape_circle","type":"record","fields":[{"name":"value","type":"double"}]},{"name":"org.acme.shape_none","type":"record","fields":[]}]`)
}

func TestSchemaRecursiveRecord(t *testing.T) {
	e := NewExporter(testTypes(t), "", nil)
	verifySchema(t, e, "node",
		`{"name":"com.example.sdf.node","type":"record","fields":[{"name":"label","type":"string"},{"name":"next","type":["null","com.example.sdf.node"]}]}`)
}

func TestSchemaErrors(t *testing.T) {
	e := NewExporter(testTypes(t), "", nil)
	if _, err := e.Schema("missing"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Expected ErrUnknownType, got %v", err)
	}
	if _, err := e.Schema("counts"); !errors.Is(err, ErrNotExportable) {
		t.Errorf("Expected ErrNotExportable for a keyed state, got %v", err)
	}
}

func TestSchemaIsCached(t *testing.T) {
	e := NewExporter(testTypes(t), "", nil)
	a, err := e.Schema("sensor-reading")
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	b, _ := e.Schema("sensor-reading")
	if a != b {
		t.Error("Expected the cached schema to be returned")
	}
}

func TestExport(t *testing.T) {
	entries, err := NewExporter(testTypes(t), "", nil).Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	var names []string
	for _, en := range entries {
		names = append(names, en.Name)
	}
	expected := []string{"color", "node", "row", "sensor-reading", "shape"}
	if diff := cmp.Diff(expected, names); diff != "" {
		t.Errorf("Unexpected exported types (-want +got):\n%s", diff)
	}
}

func TestSubjects(t *testing.T) {
	def := &metadata.DataflowDefinition{Topics: []metadata.Topic{
		{ID: "readings", Name: "readings", Schema: metadata.TopicSchema{
			Key:   &metadata.SchemaSerde{Type: metadata.TypeRef{Name: "sensor-id"}},
			Value: metadata.SchemaSerde{Type: metadata.TypeRef{Name: "sensor-reading"}},
		}},
		{ID: "colors", Name: "colors", Schema: metadata.TopicSchema{
			Value: metadata.SchemaSerde{Type: metadata.TypeRef{Name: "color"}},
		}},
	}}
	subjects, err := NewExporter(testTypes(t), "", nil).Subjects(def)
	if err != nil {
		t.Fatalf("Subjects failed: %v", err)
	}
	var got []string
	for _, s := range subjects {
		got = append(got, s.Subject+"="+s.Type)
	}
	expected := []string{"colors-value=color", "readings-key=sensor-id", "readings-value=sensor-reading"}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("Unexpected subjects (-want +got):\n%s", diff)
	}
}

func TestCompatible(t *testing.T) {
	a := `{"type":"record","name":"x","fields":[{"name":"id","type":"string"}]}`
	b := `{"fields":[{"type":"string","name":"id"}],"name":"x","type":"record","doc":"same"}`
	ok, err := Compatible(a, b)
	if err != nil || !ok {
		t.Errorf("Expected equivalent schemas, got %v (err %v)", ok, err)
	}
	c := `{"type":"record","name":"x","fields":[{"name":"id","type":"long"}]}`
	if ok, _ := Compatible(a, c); ok {
		t.Error("Expected different field types to differ")
	}
	if _, err := Compatible(`{`, a); err == nil {
		t.Error("Expected parse error for malformed schema")
	}
}
