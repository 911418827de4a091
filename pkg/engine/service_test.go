package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/siqueiraa/sdfc/pkg/metadata"
)

func topic(id, value string) metadata.Topic {
	return metadata.Topic{ID: id, Name: id, Schema: metadata.TopicSchema{
		Value: metadata.SchemaSerde{Type: metadata.TypeRef{Name: value}, Converter: metadata.DefaultConverter},
	}}
}

func source(id string) metadata.IORef {
	return metadata.IORef{Type: metadata.IOTopic, ID: id}
}

func mapOp(uses, in, output string) metadata.TransformOperator {
	return metadata.TransformOperator{Type: metadata.OpMap, Step: metadata.StepInvocation{
		Uses: uses, Inputs: []metadata.NamedParameter{param("v", in)}, Output: out(output),
	}}
}

func testDataflow(services ...metadata.Service) *metadata.DataflowDefinition {
	return &metadata.DataflowDefinition{
		APIVersion: "0.6.0",
		Topics:     []metadata.Topic{topic("events", "reading"), topic("numbers", "u64")},
		Services:   services,
	}
}

func TestInferPartitionKeysStream(t *testing.T) {
	svc := metadata.Service{
		Name:    "keyed",
		Sources: []metadata.IORef{source("events")},
		Partition: &metadata.Partition{
			AssignKey: metadata.StepInvocation{Uses: "by-sensor", Inputs: []metadata.NamedParameter{param("v", "reading")}, Output: out("string")},
			Transforms: []metadata.TransformOperator{{Type: metadata.OpMap, Step: metadata.StepInvocation{
				Uses:   "to-count",
				Inputs: []metadata.NamedParameter{keyParam("k", "string"), param("v", "reading")},
				Output: out("u64"),
			}}},
		},
	}
	def := testDataflow(svc)
	st, err := Infer(def, &def.Services[0])
	if err != nil {
		t.Fatalf("Expected inference to succeed, got %v", err)
	}
	verifyKV(t, "input", ValueOnly("reading"), st.Input)
	verifyKV(t, "output", Keyed("string", "u64"), st.Output)

	var positions []string
	for _, s := range st.Steps {
		positions = append(positions, s.Position)
	}
	expected := []string{"partition.assign-key", "partition.transforms[0]"}
	if diff := cmp.Diff(expected, positions); diff != "" {
		t.Errorf("Unexpected step positions (-want +got):\n%s", diff)
	}
}

func TestInferWindowFlush(t *testing.T) {
	svc := metadata.Service{
		Name:    "windowed",
		Sources: []metadata.IORef{source("events")},
		Window: &metadata.Window{
			AssignTimestamp: metadata.StepInvocation{
				Uses:   "event-time",
				Inputs: []metadata.NamedParameter{param("v", "reading"), param("ts", "s64")},
				Output: out("s64"),
			},
			Flush: &metadata.StepInvocation{Uses: "count-window", Output: out("u32")},
		},
	}
	def := testDataflow(svc)
	st, err := Infer(def, &def.Services[0])
	if err != nil {
		t.Fatalf("Expected inference to succeed, got %v", err)
	}
	verifyKV(t, "output", ValueOnly("u32"), st.Output)
}

func TestInferReportsFirstMismatch(t *testing.T) {
	svc := metadata.Service{
		Name:       "broken",
		Sources:    []metadata.IORef{source("events")},
		Transforms: []metadata.TransformOperator{mapOp("scale", "u64", "u64"), mapOp("never", "string", "u8")},
	}
	def := testDataflow(svc)
	_, err := Infer(def, &def.Services[0])

	var pte *PipelineTypeError
	if !errors.As(err, &pte) {
		t.Fatalf("Expected PipelineTypeError, got %v", err)
	}
	if pte.Position != "transforms[0]" || pte.Uses != "scale" {
		t.Errorf("Expected failure at transforms[0] scale, got %s %s", pte.Position, pte.Uses)
	}
	expected := "service `broken`: transforms[0] map `scale`: input type `u64` does not match `reading`"
	if pte.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, pte.Error())
	}
}

func TestInferAllCombinesServices(t *testing.T) {
	def := testDataflow(
		metadata.Service{Name: "first", Sources: []metadata.IORef{source("missing")}},
		metadata.Service{Name: "second", Sources: []metadata.IORef{source("numbers")}, Transforms: []metadata.TransformOperator{mapOp("f", "string", "u8")}},
		metadata.Service{Name: "fine", Sources: []metadata.IORef{source("numbers")}},
	)
	_, err := InferAll(def)
	if err == nil {
		t.Fatal("Expected combined inference error")
	}
	for _, name := range []string{"service `first`", "service `second`"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("Expected error to mention %s, got %v", name, err)
		}
	}
	if strings.Contains(err.Error(), "service `fine`") {
		t.Errorf("Expected valid service to be left out, got %v", err)
	}
}

func TestValidateServiceMessages(t *testing.T) {
	types := testTypes(t)
	tests := []struct {
		name     string
		svc      metadata.Service
		contains string
	}{
		{
			name:     "no sources",
			svc:      metadata.Service{Name: "empty"},
			contains: "Service `empty` is invalid:\n    Service must have at least one source\n",
		},
		{
			name:     "unknown source topic",
			svc:      metadata.Service{Name: "lost", Sources: []metadata.IORef{source("nope")}},
			contains: "    Source topic `nope` not found\n",
		},
		{
			name: "sources disagree",
			svc:  metadata.Service{Name: "mixed", Sources: []metadata.IORef{source("events"), source("numbers")}},
			contains: "    Sources for service must be identical, but the sources had the following types:\n" +
				"        events: reading(value), numbers: u64(value)\n",
		},
		{
			name: "transform input mismatch",
			svc: metadata.Service{
				Name:       "typo",
				Sources:    []metadata.IORef{source("numbers")},
				Transforms: []metadata.TransformOperator{mapOp("parse", "string", "reading")},
			},
			contains: "    Transforms block is invalid:\n" +
				"        Function `parse` input type was expected to match `u64` type provided by sources, but `string` was found.\n",
		},
		{
			name: "assign-key needs a keyed stream",
			svc: metadata.Service{
				Name:    "rekey",
				Sources: []metadata.IORef{source("numbers")},
				Partition: &metadata.Partition{AssignKey: metadata.StepInvocation{
					Uses:   "by-key",
					Inputs: []metadata.NamedParameter{keyParam("k", "string"), param("v", "u64")},
					Output: out("string"),
				}},
			},
			contains: "    Partition assign-key type function `by-key` requires a key type\n",
		},
		{
			name: "schedule source without schedule",
			svc: metadata.Service{
				Name:    "ticker",
				Sources: []metadata.IORef{{Type: metadata.IOSchedule, ID: "hourly"}},
			},
			contains: "    Source `hourly` is invalid:\n        Referenced topic `hourly` not found\n",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			def := testDataflow(tt.svc)
			scope := &serviceScope{types: types, topics: def.Topics, schedules: def.Schedules}
			sf := scope.validateService(&def.Services[0])
			if sf == nil {
				t.Fatal("Expected service failure, got nil")
			}
			if got := sf.Readable(0); !strings.Contains(got, tt.contains) {
				t.Errorf("Expected report containing\n%s\ngot\n%s", tt.contains, got)
			}
		})
	}
}

func TestValidateServiceAcceptsValidChain(t *testing.T) {
	def := testDataflow(metadata.Service{
		Name:       "ok",
		Sources:    []metadata.IORef{source("numbers")},
		Transforms: []metadata.TransformOperator{mapOp("halve", "u64", "u64")},
		Sinks:      []metadata.IORef{source("numbers")},
	})
	scope := &serviceScope{types: testTypes(t), topics: def.Topics}
	if sf := scope.validateService(&def.Services[0]); sf != nil {
		t.Errorf("Expected no failure, got:\n%s", sf.Readable(0))
	}
}
