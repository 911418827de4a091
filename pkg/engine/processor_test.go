package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/siqueiraa/sdfc/pkg/pipeline"
)

const doublerDataflow = `
apiVersion: 0.6.0
meta:
  name: doubler
  version: 0.1.0
  namespace: example
topics:
  numbers:
    schema:
      value:
        type: u64
  doubled:
    schema:
      value:
        type: u64
services:
  double-service:
    sources:
      - type: topic
        id: numbers
    transforms:
      - operator: map
        uses: double
        inputs:
          - name: value
            type: u64
        output:
          type: u64
    sinks:
      - type: topic
        id: doubled
`

func newTestEngine() *Engine {
	return NewEngine(afero.NewMemMapFs(), Options{}, nil)
}

func TestCompileDataflowEndToEnd(t *testing.T) {
	res, err := newTestEngine().CompileDataflowText("/", doublerDataflow)
	if err != nil {
		t.Fatalf("Expected dataflow to compile, got %v", err)
	}
	svc, ok := res.Service("double-service")
	if !ok {
		t.Fatalf("Expected service 'double-service', got %+v", res.Services)
	}
	verifyKV(t, "input", ValueOnly("u64"), svc.Input)
	verifyKV(t, "output", ValueOnly("u64"), svc.Output)

	if len(svc.Steps) != 1 || svc.Steps[0].Position != "transforms[0]" || svc.Steps[0].Uses != "double" {
		t.Errorf("Expected one recorded step transforms[0] double, got %+v", svc.Steps)
	}
}

func verifyKV(t *testing.T, what string, want, got KVType) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Unexpected %s type (-want +got):\n%s", what, diff)
	}
}

func TestCompileFromFileSystem(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/flows/dataflow.yaml", []byte(doublerDataflow), 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}
	e := NewEngine(fs, Options{}, nil)
	if e.IsPackage("/flows/dataflow.yaml") {
		t.Fatal("Expected dataflow.yaml not to be treated as a package")
	}
	res, err := e.Compile("/flows/dataflow.yaml")
	if err != nil {
		t.Fatalf("Expected dataflow to compile, got %v", err)
	}
	if res.Dataflow == nil || res.Dataflow.Meta.Name != "doubler" {
		t.Errorf("Expected dataflow 'doubler', got %+v", res.Dataflow)
	}
	if !strings.HasPrefix(res.DependencyTree(), "doubler") {
		t.Errorf("Expected dependency tree rooted at doubler, got %q", res.DependencyTree())
	}

	if _, err := e.Compile("/flows/missing.yaml"); err == nil {
		t.Error("Expected error for a missing document")
	}
}

func TestCompileDataflowDuplicateKey(t *testing.T) {
	_, err := newTestEngine().CompileDataflowText("/", `
apiVersion: 0.6.0
meta: { name: dup, version: 0.1.0, namespace: example }
types:
  reading:
    type: u32
  reading:
    type: u64
`)
	var dup *pipeline.DuplicateKeyError
	if !errors.As(err, &dup) {
		t.Fatalf("Expected DuplicateKeyError, got %v", err)
	}
	if dup.Key != "reading" {
		t.Errorf("Expected duplicate key 'reading', got '%s'", dup.Key)
	}
}

func TestCompilePackageHoistingConflict(t *testing.T) {
	_, err := newTestEngine().CompilePackageText("/", `
apiVersion: 0.6.0
meta: { name: shop, version: 0.1.0, namespace: example }
types:
  customer:
    type: object
    properties:
      id:
        type: u32
  order:
    type: object
    properties:
      buyer:
        type: object
        type-name: customer
        properties:
          name:
            type: string
functions: {}
`)
	if err == nil || !strings.Contains(err.Error(), "defined multiple times with different definitions") {
		t.Fatalf("Expected hoisting conflict, got %v", err)
	}
}

func TestCompileDataflowValidationReport(t *testing.T) {
	_, err := newTestEngine().CompileDataflowText("/", `
apiVersion: 0.6.0
meta: { name: report, version: 0.1.0, namespace: example }
topics:
  Bad_Topic:
    schema:
      value:
        type: missing-type
services:
  reader:
    sources:
      - type: topic
        id: Bad_Topic
`)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	expected := "Dataflow Config failed validation\n\n" +
		"    Topic `Bad_Topic` is invalid:\n" +
		"        Topic name is invalid:\n" +
		"            Name may only contain lowercase alphanumeric characters or '-'\n" +
		"        Referenced type `missing-type` not found in config or imported types\n\n"
	if !strings.HasPrefix(verr.Error(), expected) {
		t.Errorf("Expected report to start with\n%s\ngot\n%s", expected, verr.Error())
	}
}

func TestCompileDataflowSinkMismatch(t *testing.T) {
	text := strings.Replace(doublerDataflow, `  doubled:
    schema:
      value:
        type: u64`, `  doubled:
    schema:
      value:
        type: string`, 1)

	_, err := newTestEngine().CompileDataflowText("/", text)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	expected := "    Service `double-service` is invalid:\n" +
		"        Sink `doubled` is invalid:\n" +
		"            Transforms block is invalid:\n" +
		"                service output type `u64` does not match sink input type `string`\n"
	if !strings.Contains(verr.Error(), expected) {
		t.Errorf("Expected report to contain\n%s\ngot\n%s", expected, verr.Error())
	}
}

func TestCompileDataflowVersionChecks(t *testing.T) {
	tests := []struct {
		name    string
		content string
		message string
	}{
		{
			name: "schedule on 0.5.0",
			content: `
apiVersion: 0.5.0
meta: { name: ticker, version: 0.1.0, namespace: example }
schedule:
  every-minute:
    cron: "*/1 * * * *"
`,
			message: "Version 0.5.0 does not support configuration: schedule, supported version: 0.6.0",
		},
		{
			name: "duplicate inline operators",
			content: strings.Replace(doublerDataflow, "services:\n", `services:
  second:
    sources:
      - type: topic
        id: numbers
    transforms:
      - operator: map
        uses: double
        inputs:
          - name: value
            type: u64
        output:
          type: u64
`, 1),
			message: "Duplicate inline operator with name: double was found, inline operators must have unique names",
		},
		{
			name: "undefined state reference",
			content: strings.Replace(doublerDataflow, "    sinks:\n", `    states:
      totals:
        from: counter.totals
    sinks:
`, 1),
			message: "State with name counter.totals is referenced in service double-service but not defined in the dataflow",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestEngine().CompileDataflowText("/", tt.content)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("Expected error containing %q, got:\n%s", tt.message, err.Error())
			}
		})
	}
}

func TestCompilePackageValidationReport(t *testing.T) {
	_, err := newTestEngine().CompilePackageText("/", `
apiVersion: 0.6.0
meta: { name: checks, version: 0.1.0, namespace: example }
functions:
  is-even:
    operator: filter
    inputs:
      - name: value
        type: u64
    output:
      type: u32
`)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	expected := "Package Config failed validation\n\n" +
		"    filter type function `is-even` requires an output type of `bool`, but found `u32`\n"
	if !strings.HasPrefix(verr.Error(), expected) {
		t.Errorf("Expected report to start with\n%s\ngot\n%s", expected, verr.Error())
	}
}

func TestResultDigestIsStable(t *testing.T) {
	first, err := newTestEngine().CompileDataflowText("/", doublerDataflow)
	if err != nil {
		t.Fatalf("Expected dataflow to compile, got %v", err)
	}
	second, err := newTestEngine().CompileDataflowText("/", doublerDataflow)
	if err != nil {
		t.Fatalf("Expected dataflow to compile, got %v", err)
	}
	a, err := first.Digest()
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	b, _ := second.Digest()
	if a != b {
		t.Errorf("Expected equal digests, got %x and %x", a, b)
	}

	data, err := first.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	if !strings.Contains(string(data), `"services"`) || !strings.Contains(string(data), `"double-service"`) {
		t.Errorf("Expected JSON to carry the inferred services, got %s", data)
	}
}
