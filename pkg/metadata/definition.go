package metadata

import (
	"sort"
)

// IO reference kinds of sources and sinks.
const (
	IOTopic    = "topic"
	IOSchedule = "schedule"
	IONoTarget = "no-target"
)

// DefaultConverter is used when neither the topic nor the config names one.
const DefaultConverter = "json"

type SchemaSerde struct {
	Type      TypeRef `json:"type"`
	Converter string  `json:"converter"`
}

type TopicSchema struct {
	Key   *SchemaSerde `json:"key,omitempty"`
	Value SchemaSerde  `json:"value"`
}

// Topic is a named message stream with a typed (key?, value) schema.
type Topic struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Schema TopicSchema `json:"schema"`
}

// KeyType returns the declared key type, if any.
func (t Topic) KeyType() (TypeRef, bool) {
	if t.Schema.Key == nil {
		return TypeRef{}, false
	}
	return t.Schema.Key.Type, true
}

// IORef is a source or sink of a service.
type IORef struct {
	Type       string              `json:"type"`
	ID         string              `json:"id"`
	Transforms []TransformOperator `json:"transforms,omitempty"`
}

// Service is a named pipeline: sources, transforms, an optional window or
// partition stage, sinks and the service state pool.
type Service struct {
	Name       string              `json:"name"`
	Sources    []IORef             `json:"sources"`
	Sinks      []IORef             `json:"sinks"`
	Transforms []TransformOperator `json:"transforms,omitempty"`
	Window     *Window             `json:"window,omitempty"`
	Partition  *Partition          `json:"partition,omitempty"`
	States     []State             `json:"states,omitempty"`
}

// State returns the state named name from the service pool.
func (s *Service) State(name string) (*State, bool) {
	for i := range s.States {
		if s.States[i].Name == name {
			return &s.States[i], true
		}
	}
	return nil, false
}

// Operators lists every operator of the service in pipeline order.
func (s *Service) Operators() []TransformOperator {
	var ops []TransformOperator
	for _, src := range s.Sources {
		ops = append(ops, src.Transforms...)
	}
	ops = append(ops, s.Transforms...)
	if s.Window != nil {
		ops = append(ops, TransformOperator{Type: OpAssignTimestamp, Step: s.Window.AssignTimestamp})
		ops = append(ops, s.Window.Transforms...)
		if s.Window.Partition != nil {
			ops = append(ops, s.Window.Partition.operators()...)
		}
		if s.Window.Flush != nil {
			ops = append(ops, TransformOperator{Type: OpWindowAggregate, Step: *s.Window.Flush})
		}
	}
	if s.Partition != nil {
		ops = append(ops, s.Partition.operators()...)
	}
	for _, sink := range s.Sinks {
		ops = append(ops, sink.Transforms...)
	}
	return ops
}

// WalkSteps calls fn with a pointer to every step of the service, in the
// order of Operators, stopping at the first error.
func (s *Service) WalkSteps(fn func(op OperatorType, step *StepInvocation) error) error {
	walk := func(ops []TransformOperator) error {
		for i := range ops {
			if err := fn(ops[i].Type, &ops[i].Step); err != nil {
				return err
			}
		}
		return nil
	}
	for i := range s.Sources {
		if err := walk(s.Sources[i].Transforms); err != nil {
			return err
		}
	}
	if err := walk(s.Transforms); err != nil {
		return err
	}
	if w := s.Window; w != nil {
		if err := fn(OpAssignTimestamp, &w.AssignTimestamp); err != nil {
			return err
		}
		if err := walk(w.Transforms); err != nil {
			return err
		}
		if w.Partition != nil {
			if err := w.Partition.walkSteps(fn, walk); err != nil {
				return err
			}
		}
		if w.Flush != nil {
			if err := fn(OpWindowAggregate, w.Flush); err != nil {
				return err
			}
		}
	}
	if s.Partition != nil {
		if err := s.Partition.walkSteps(fn, walk); err != nil {
			return err
		}
	}
	for i := range s.Sinks {
		if err := walk(s.Sinks[i].Transforms); err != nil {
			return err
		}
	}
	return nil
}

func (p *Partition) walkSteps(fn func(OperatorType, *StepInvocation) error, walk func([]TransformOperator) error) error {
	if err := fn(OpAssignKey, &p.AssignKey); err != nil {
		return err
	}
	if err := walk(p.Transforms); err != nil {
		return err
	}
	if p.UpdateState != nil {
		return fn(OpUpdateState, p.UpdateState)
	}
	return nil
}

func (p *Partition) operators() []TransformOperator {
	ops := []TransformOperator{{Type: OpAssignKey, Step: p.AssignKey}}
	ops = append(ops, p.Transforms...)
	if p.UpdateState != nil {
		ops = append(ops, TransformOperator{Type: OpUpdateState, Step: *p.UpdateState})
	}
	return ops
}

// PackageFunction is a function exported by a package.
type PackageFunction struct {
	Operator OperatorType   `json:"operator"`
	Step     StepInvocation `json:"step"`
}

// DataflowDefinition is the lowered form of a dataflow document.
type DataflowDefinition struct {
	APIVersion string           `json:"apiVersion"`
	Meta       Header           `json:"meta"`
	Imports    []PackageImport  `json:"imports,omitempty"`
	Types      []MetadataType   `json:"types"`
	Topics     []Topic          `json:"topics"`
	Services   []Service        `json:"services"`
	Schedules  []ScheduleConfig `json:"schedules,omitempty"`
	DevImports []PackageImport  `json:"devImports,omitempty"`
}

func (d *DataflowDefinition) Topic(id string) (*Topic, bool) {
	for i := range d.Topics {
		if d.Topics[i].ID == id {
			return &d.Topics[i], true
		}
	}
	return nil, false
}

func (d *DataflowDefinition) Service(name string) (*Service, bool) {
	for i := range d.Services {
		if d.Services[i].Name == name {
			return &d.Services[i], true
		}
	}
	return nil, false
}

func (d *DataflowDefinition) Schedule(name string) (*ScheduleConfig, bool) {
	for i := range d.Schedules {
		if d.Schedules[i].Name == name {
			return &d.Schedules[i], true
		}
	}
	return nil, false
}

// PackageDefinition is the lowered form of a package document.
type PackageDefinition struct {
	APIVersion string            `json:"apiVersion"`
	Meta       Header            `json:"meta"`
	Imports    []PackageImport   `json:"imports,omitempty"`
	Types      []MetadataType    `json:"types"`
	States     []StateTyped      `json:"states,omitempty"`
	Functions  []PackageFunction `json:"functions"`
	DevImports []PackageImport   `json:"devImports,omitempty"`
}

func (p *PackageDefinition) Function(name string) (*PackageFunction, bool) {
	for i := range p.Functions {
		if p.Functions[i].Step.Uses == name {
			return &p.Functions[i], true
		}
	}
	return nil, false
}

func (p *PackageDefinition) State(name string) (*StateTyped, bool) {
	for i := range p.States {
		if p.States[i].Name == name {
			return &p.States[i], true
		}
	}
	return nil, false
}

// LookupType returns the type named name declared in or merged into the package.
func (p *PackageDefinition) LookupType(name string) (MetadataType, bool) {
	for _, t := range p.Types {
		if t.Name == name {
			return t, true
		}
	}
	return MetadataType{}, false
}

// SortTypes orders types by name.
func SortTypes(types []MetadataType) {
	sort.SliceStable(types, func(i, j int) bool { return types[i].Name < types[j].Name })
}

// EffectiveImports applies dev overrides: an import whose header equals a dev
// import's header takes the dev import's path.
func EffectiveImports(imports, dev []PackageImport, useDev bool) []PackageImport {
	out := make([]PackageImport, len(imports))
	copy(out, imports)
	if !useDev {
		return out
	}
	for i := range out {
		for _, d := range dev {
			if d.Metadata == out[i].Metadata && d.Path != "" {
				out[i].Path = d.Path
			}
		}
	}
	return out
}
