package state

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/siqueiraa/sdfc/pkg/metadata"
	"github.com/siqueiraa/sdfc/pkg/schema"
)

func testTypes(t *testing.T) *schema.Map {
	t.Helper()
	m, err := schema.FromTypes([]metadata.MetadataType{
		{Name: "count", Type: metadata.Scalar(metadata.KindU32)},
		{Name: "row", Type: metadata.SdfType{Kind: metadata.KindArrowRow, ArrowRow: &metadata.ArrowRow{
			Columns: []metadata.ArrowColumn{{Name: "total", Type: "u64"}},
		}}},
		{Name: "label", Type: metadata.Scalar(metadata.KindString)},
	})
	if err != nil {
		t.Fatalf("Failed to build types: %v", err)
	}
	return m
}

func owned(name, value string) metadata.State {
	return metadata.State{
		Kind: metadata.StateOwned,
		Name: name,
		Typed: &metadata.StateTyped{Name: name, Type: metadata.KeyedState{
			Key:   metadata.TypeRef{Name: "string"},
			Value: metadata.UnresolvedValue(value),
		}},
	}
}

func ref(name, service, state string) metadata.State {
	return metadata.State{
		Kind: metadata.StateRef,
		Name: name,
		Ref:  &metadata.StateRefTarget{Service: service, State: state},
	}
}

func updateStep(states ...string) *metadata.StepInvocation {
	step := &metadata.StepInvocation{Uses: "update"}
	for _, s := range states {
		step.States = append(step.States, metadata.StepState{Name: s})
	}
	return step
}

func testDataflow() *metadata.DataflowDefinition {
	return &metadata.DataflowDefinition{
		Services: []metadata.Service{
			{
				Name:   "counter",
				States: []metadata.State{owned("totals", "count")},
				Partition: &metadata.Partition{
					AssignKey:   metadata.StepInvocation{Uses: "key"},
					UpdateState: updateStep("totals"),
				},
			},
			{
				Name:   "reader",
				States: []metadata.State{ref("shared", "counter", "totals"), {Kind: metadata.StateSystem, Name: "clock", System: "time"}},
				Transforms: []metadata.TransformOperator{
					{Type: metadata.OpMap, Step: *updateStep("shared")},
				},
			},
		},
	}
}

func TestResolveDataflow(t *testing.T) {
	def := testDataflow()
	m := NewManager(testTypes(t), nil)
	if err := m.ResolveDataflow(def); err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}

	counter, _ := def.Service("counter")
	totals, _ := counter.State("totals")
	if totals.Typed.Type.Value.Kind != metadata.ValueU32 {
		t.Errorf("Expected u32 value, got %+v", totals.Typed.Type.Value)
	}
	if !counter.Partition.UpdateState.States[0].IsResolved() {
		t.Error("Expected update-state step state to be resolved")
	}

	reader, _ := def.Service("reader")
	shared, _ := reader.State("shared")
	if shared.Typed == nil || shared.Typed.Name != "shared" || shared.Typed.Type.Value.Kind != metadata.ValueU32 {
		t.Errorf("Expected reference to adopt typed state under local name, got %+v", shared.Typed)
	}
	got := reader.Transforms[0].Step.States[0].Resolved
	if got == nil || got.Name != "shared" {
		t.Errorf("Expected map step to resolve 'shared', got %+v", got)
	}
}

func TestResolveDataflowErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(def *metadata.DataflowDefinition)
		kind    ErrorKind
		message string
	}{
		{
			name: "undefined reference",
			mutate: func(def *metadata.DataflowDefinition) {
				def.Services[1].States[0] = ref("shared", "counter", "totls")
			},
			kind:    ErrUndefinedRef,
			message: "State with name counter.totls is referenced in service reader but not defined in the dataflow; did you mean `counter.totals`?",
		},
		{
			name: "reference to a reference",
			mutate: func(def *metadata.DataflowDefinition) {
				def.Services = append(def.Services, metadata.Service{
					Name:   "chained",
					States: []metadata.State{ref("again", "reader", "shared")},
				})
			},
			kind:    ErrUndefinedRef,
			message: "State with name reader.shared is referenced in service chained but not defined in the dataflow",
		},
		{
			name: "step names unknown state",
			mutate: func(def *metadata.DataflowDefinition) {
				def.Services[0].Partition.UpdateState = updateStep("total")
			},
			kind:    ErrUnresolvedStep,
			message: "Could not resolve state: total; did you mean `totals`?",
		},
		{
			name: "system state is opaque",
			mutate: func(def *metadata.DataflowDefinition) {
				def.Services[1].Transforms[0].Step = *updateStep("clock")
			},
			kind:    ErrUnresolvedStep,
			message: "Could not resolve state: clock",
		},
		{
			name: "invalid value type",
			mutate: func(def *metadata.DataflowDefinition) {
				def.Services[0].States[0] = owned("totals", "label")
			},
			kind: ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			def := testDataflow()
			tt.mutate(def)
			err := NewManager(testTypes(t), nil).ResolveDataflow(def)
			var re *ResolutionError
			if !errors.As(err, &re) {
				t.Fatalf("Expected ResolutionError, got %v", err)
			}
			if re.Kind != tt.kind {
				t.Errorf("Expected kind %d, got %d", tt.kind, re.Kind)
			}
			if tt.message != "" && re.Error() != tt.message {
				t.Errorf("Expected %q, got %q", tt.message, re.Error())
			}
			if tt.kind == ErrInvalidValue && !errors.Is(err, metadata.ErrInvalidStateValue) {
				t.Errorf("Expected ErrInvalidStateValue, got %v", err)
			}
		})
	}
}

func TestResolvePackage(t *testing.T) {
	pkg := &metadata.PackageDefinition{
		States: []metadata.StateTyped{*owned("balances", "row").Typed},
		Functions: []metadata.PackageFunction{
			{Operator: metadata.OpUpdateState, Step: *updateStep("balances")},
		},
	}
	if err := NewManager(testTypes(t), nil).ResolvePackage(pkg); err != nil {
		t.Fatalf("Failed to resolve package: %v", err)
	}
	resolved := pkg.Functions[0].Step.States[0].Resolved
	if resolved == nil || resolved.Type.Value.Kind != metadata.ValueArrowRow {
		t.Fatalf("Expected arrow-row state, got %+v", resolved)
	}
	if resolved.Type.Value.Row.Columns[0].Name != "total" {
		t.Errorf("Expected column 'total', got %+v", resolved.Type.Value.Row.Columns)
	}

	pkg.Functions[0].Step = *updateStep("missing")
	err := NewManager(testTypes(t), nil).ResolvePackage(pkg)
	if err == nil || !strings.Contains(err.Error(), "function `update`: Could not resolve state: missing") {
		t.Errorf("Expected unresolved state error, got %v", err)
	}
}

func TestInjectStates(t *testing.T) {
	typed := metadata.StateTyped{Name: "totals", Type: metadata.KeyedState{
		Key:   metadata.TypeRef{Name: "string"},
		Value: metadata.KeyedStateValue{Kind: metadata.ValueU32},
	}}
	svc := &metadata.Service{Name: "svc"}

	if err := InjectStates(svc, []metadata.StepState{{Name: "totals", Resolved: &typed}}); err != nil {
		t.Fatalf("Failed to inject: %v", err)
	}
	if err := InjectStates(svc, []metadata.StepState{{Name: "totals", Resolved: &typed}}); err != nil {
		t.Errorf("Expected identical re-injection to succeed, got %v", err)
	}
	if len(svc.States) != 1 {
		t.Errorf("Expected 1 state, got %d", len(svc.States))
	}

	other := typed
	other.Type.Key = metadata.TypeRef{Name: "u64"}
	err := InjectStates(svc, []metadata.StepState{{Name: "totals", Resolved: &other}})
	if err == nil || err.Error() != "state totals is already defined" {
		t.Errorf("Expected conflict, got %v", err)
	}

	err = InjectStates(svc, []metadata.StepState{{Name: "pending"}})
	if err == nil || err.Error() != "state pending is not resolved" {
		t.Errorf("Expected not resolved error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		state    metadata.State
		expected []string
	}{
		{
			name:  "resolved owned",
			state: metadata.State{Kind: metadata.StateOwned, Name: "a", Typed: &metadata.StateTyped{Type: metadata.KeyedState{Value: metadata.KeyedStateValue{Kind: metadata.ValueU32}}}},
		},
		{
			name:     "unresolved owned",
			state:    owned("a", "count"),
			expected: []string{"Internal Error: typed state value should be resolved before validation. Please contact support\n"},
		},
		{
			name:     "empty reference",
			state:    ref("a", "", ""),
			expected: []string{"empty state reference found. state reference must be of the form <service>.<state>\n"},
		},
		{
			name:     "reference without state",
			state:    ref("a", "svc", ""),
			expected: []string{"state name missing for state reference. state reference must be of the form <service>.<state>\n"},
		},
		{
			name:     "reference without service",
			state:    ref("a", "", "st"),
			expected: []string{"service name missing for state reference. state reference must be of the form <service>.<state>\n"},
		},
		{
			name:     "system without name",
			state:    metadata.State{Kind: metadata.StateSystem, System: "time"},
			expected: []string{"Name must be specified for system state\n"},
		},
		{
			name:     "system without system",
			state:    metadata.State{Kind: metadata.StateSystem, Name: "clock"},
			expected: []string{"System must be specified for system state `clock`\n"},
		},
		{
			name: "duplicate arrow columns",
			state: metadata.State{Kind: metadata.StateOwned, Name: "a", Typed: &metadata.StateTyped{Type: metadata.KeyedState{
				Value: metadata.KeyedStateValue{Kind: metadata.ValueArrowRow, Row: &metadata.ArrowRow{Columns: []metadata.ArrowColumn{
					{Name: "x", Type: "u8"}, {Name: "x", Type: "u8"},
				}}},
			}}},
			expected: []string{"Arrow row value is invalid\n    Column name `x` is duplicated. Column names must be unique\n"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, e := range Validate(tt.state) {
				got = append(got, e.Readable(0))
			}
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("unexpected report (-want +got):\n%s", diff)
			}
		})
	}

	if Validate(metadata.State{Kind: metadata.StateSystem, Name: "clock", System: "time"}) != nil {
		t.Error("Expected valid system state")
	}
}
