package pipeline

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/siqueiraa/sdfc/pkg/metadata"
)

func mustPackage(t *testing.T, content string) *metadata.PackageDefinition {
	t.Helper()
	cfg, err := ParsePackage(content)
	if err != nil {
		t.Fatalf("Failed to parse package: %v", err)
	}
	def, err := cfg.Document().Definition()
	if err != nil {
		t.Fatalf("Failed to lower package: %v", err)
	}
	return def
}

func typeNames(types []metadata.MetadataType) []string {
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, t.Name)
	}
	return names
}

func TestLowerHoistsNestedTypes(t *testing.T) {
	def := mustPackage(t, `
apiVersion: 0.6.0
meta: { name: pkg, version: 0.1.0, namespace: ex }
types:
  order:
    type: object
    properties:
      id:
        type: i64
      customer:
        type: object
        type-name: customer
        properties:
          name:
            type: String
      tags:
        type: list
        items:
          type: string
      status:
        type: enum
        type-name: order-status
        oneOf:
          open: {}
          closed:
            type: u32
`)
	expected := []string{"customer", "list-string-gen-type", "order", "order-status"}
	if diff := cmp.Diff(expected, typeNames(def.Types)); diff != "" {
		t.Errorf("unexpected types (-want +got):\n%s", diff)
	}

	order, _ := def.LookupType("order")
	fields := order.Type.Object.Fields
	if fields[0].Name != "id" || fields[0].Type.Name != "s64" {
		t.Errorf("Expected first field id: s64, got %+v", fields[0])
	}
	if fields[1].Serde.Serialize == nil || fields[1].Serde.Serialize.Rename != "customer" {
		t.Errorf("Expected default rename 'customer', got %+v", fields[1].Serde)
	}
	list, _ := def.LookupType("list-string-gen-type")
	if list.Type.Kind != metadata.KindList || list.Type.Ref.Name != "string" {
		t.Errorf("Expected list<string>, got %+v", list.Type)
	}
}

func TestLowerV5SerdeDefaults(t *testing.T) {
	def := mustPackage(t, `
apiVersion: 0.5.0
meta: { name: pkg, version: 0.1.0, namespace: ex }
types:
  event:
    type: object
    properties:
      kind:
        type: string
      at:
        type: s64
        serialize:
          rename: timestamp
`)
	ev, _ := def.LookupType("event")
	if ev.Type.Object.Fields[0].Serde.Serialize != nil {
		t.Errorf("Expected no default rename on 0.5.0, got %+v", ev.Type.Object.Fields[0].Serde)
	}
	if r := ev.Type.Object.Fields[1].Serde.Serialize; r == nil || r.Rename != "timestamp" {
		t.Errorf("Expected explicit rename to survive, got %+v", r)
	}
}

func TestLowerTypeErrors(t *testing.T) {
	tests := []struct {
		name    string
		types   string
		message string
		target  error
	}{
		{
			name: "conflicting hoisted definition",
			types: `
  customer:
    type: object
    properties:
      id:
        type: u32
  order:
    type: object
    properties:
      customer:
        type: object
        type-name: customer
        properties:
          name:
            type: string
`,
			message: "Type customer is defined multiple times with different definitions",
		},
		{
			name: "nested type without name",
			types: `
  order:
    type: object
    properties:
      customer:
        type: object
        properties:
          name:
            type: string
`,
			target: ErrNestedTypeName,
		},
		{
			name: "top level type-name",
			types: `
  order:
    type: object
    type-name: order
    properties: {}
`,
			target: ErrTopLevelTypeName,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParsePackage("apiVersion: 0.6.0\nmeta: { name: pkg, version: 0.1.0, namespace: ex }\ntypes:" + tt.types)
			if err != nil {
				t.Fatalf("Failed to parse: %v", err)
			}
			_, err = cfg.Document().Definition()
			if err == nil {
				t.Fatal("Expected lowering error")
			}
			if tt.message != "" && !strings.Contains(err.Error(), tt.message) {
				t.Errorf("Expected message %q, got %q", tt.message, err)
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("Expected %v, got %v", tt.target, err)
			}
		})
	}
}

func TestLowerIdenticalHoistedDefinition(t *testing.T) {
	def := mustPackage(t, `
apiVersion: 0.6.0
meta: { name: pkg, version: 0.1.0, namespace: ex }
types:
  point:
    type: object
    properties:
      x:
        type: f64
  segment:
    type: object
    properties:
      from:
        type: object
        type-name: point
        properties:
          x:
            type: f64
`)
	if diff := cmp.Diff([]string{"point", "segment"}, typeNames(def.Types)); diff != "" {
		t.Errorf("unexpected types (-want +got):\n%s", diff)
	}
}

func TestLowerDataflow(t *testing.T) {
	cfg, err := Parse(getTestDataflowContent())
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	doc, _ := cfg.Document()
	def, err := doc.Definition()
	if err != nil {
		t.Fatalf("Failed to lower: %v", err)
	}

	counts, ok := def.Topic("counts")
	if !ok {
		t.Fatal("Expected topic 'counts'")
	}
	if counts.Schema.Value.Converter != "json" {
		t.Errorf("Expected converter 'json', got '%s'", counts.Schema.Value.Converter)
	}
	sentences, _ := def.Topic("sentences")
	if sentences.Name != "sentences" {
		t.Errorf("Expected topic name to default to id, got '%s'", sentences.Name)
	}

	svc, ok := def.Service("counter")
	if !ok {
		t.Fatal("Expected service 'counter'")
	}
	flat := svc.Transforms[0]
	if flat.Type != metadata.OpFlatMap || flat.Step.Uses != "split_words" {
		t.Errorf("Expected flat-map split_words, got %v %q", flat.Type, flat.Step.Uses)
	}
	if !flat.Step.Output.List {
		t.Error("Expected list output")
	}
	if svc.Partition == nil || svc.Partition.UpdateState == nil {
		t.Fatal("Expected partition with update-state")
	}
	if got := svc.Partition.UpdateState.StateNames(); !cmp.Equal(got, []string{"totals"}) {
		t.Errorf("Expected update-state states [totals], got %v", got)
	}
	totals, ok := svc.State("totals")
	if !ok || totals.Kind != metadata.StateOwned || totals.Typed.Type.Value.Kind != metadata.ValueU32 {
		t.Errorf("Expected owned u32 state, got %+v", totals)
	}
}

func TestLowerWindow(t *testing.T) {
	cfg, err := Parse(`
apiVersion: 0.5.0
meta: { name: df, version: 0.1.0, namespace: ex }
services:
  agg:
    sources: [{ type: topic, id: events }]
    states:
      shared:
        from: other.table
    window:
      sliding:
        duration: 1m
        slide: 10s
      watermark:
        grace-period: 2s
      assign-timestamp:
        uses: event-time
        inputs:
          - name: value
            type: string
          - name: event-time
            type: s64
        output:
          type: s64
      flush:
        uses: emit
        output:
          type: string
`)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	doc, _ := cfg.Document()
	def, err := doc.Definition()
	if err != nil {
		t.Fatalf("Failed to lower: %v", err)
	}
	svc, _ := def.Service("agg")
	w := svc.Window
	if w.NewWindowInterval() != 10000 || w.Properties.DurationMs != 60000 || w.GracePeriod() != 2000 {
		t.Errorf("Unexpected window properties %+v / %+v", w.Properties, w.Watermark)
	}
	if w.Flush == nil || w.Flush.Uses != "emit" {
		t.Errorf("Expected flush 'emit', got %+v", w.Flush)
	}
	shared, _ := svc.State("shared")
	if shared.Kind != metadata.StateRef || shared.Ref.String() != "other.table" {
		t.Errorf("Expected ref state other.table, got %+v", shared)
	}
}
