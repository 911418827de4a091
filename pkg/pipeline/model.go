package pipeline

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/siqueiraa/sdfc/pkg/metadata"
)

// Document is the payload shared by the current dataflow schema tags.
//
//	apiVersion: 0.6.0
//	meta: { name: my-df, version: 0.1.0, namespace: example }
//	types: {...}
//	topics: {...}
//	services:
//	  my-service:
//	    sources: [{ type: topic, id: input }]
//	    transforms: [...]
//	    sinks: [{ type: topic, id: output }]
type Document struct {
	APIVersion string
	Meta       Meta
	Imports    []Import
	Types      map[string]TypeDef
	Topics     map[string]Topic
	Config     *DefaultConfig
	Dev        *DevConfig
	Services   map[string]Service
	Schedule   map[string]ScheduleConfig
}

// PackageDocument is the payload of every supported package schema tag.
type PackageDocument struct {
	APIVersion string
	Meta       Meta
	Imports    []Import
	Types      map[string]TypeDef
	States     map[string]TypeDef
	Functions  []Function
	Dev        *DevConfig
}

type Meta struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	Namespace string `yaml:"namespace"`
}

// Import references assets of another package.
type Import struct {
	Pkg       metadata.Header
	Path      string
	Types     []string
	States    []string
	Functions []metadata.FunctionImport
}

type importYAML struct {
	Pkg    string `yaml:"pkg"`
	Path   string `yaml:"path,omitempty"`
	Types  []struct {
		Name string `yaml:"name"`
	} `yaml:"types"`
	States []struct {
		Name string `yaml:"name"`
	} `yaml:"states"`
	Functions []struct {
		Name  string `yaml:"name"`
		Alias string `yaml:"alias,omitempty"`
	} `yaml:"functions"`
}

func (i *Import) UnmarshalYAML(node *yaml.Node) error {
	var raw importYAML
	if err := node.Decode(&raw); err != nil {
		return err
	}
	header, err := metadata.ParsePkgName(raw.Pkg)
	if err != nil {
		return syntaxErr("", node.Line, "invalid value: string %q, expected a string of the form `<namespace>/<name>@<version>`", raw.Pkg)
	}
	i.Pkg = header
	i.Path = raw.Path
	for _, t := range raw.Types {
		i.Types = append(i.Types, t.Name)
	}
	for _, s := range raw.States {
		i.States = append(i.States, s.Name)
	}
	for _, f := range raw.Functions {
		i.Functions = append(i.Functions, metadata.FunctionImport{Name: f.Name, Alias: f.Alias})
	}
	return nil
}

/* ---------------------------------------------------------------------
   Topics and defaults
   --------------------------------------------------------------------- */

type Topic struct {
	Name     string          `yaml:"name,omitempty"`
	Schema   TopicSchema     `yaml:"schema"`
	Consumer *ConsumerConfig `yaml:"consumer,omitempty"`
	Producer *ProducerConfig `yaml:"producer,omitempty"`
	Profile  string          `yaml:"remote-cluster-profile,omitempty"`
}

type TopicSchema struct {
	Key   *SchemaSerde `yaml:"key,omitempty"`
	Value SchemaSerde  `yaml:"value"`
}

type SchemaSerde struct {
	Type      string `yaml:"type"`
	Converter string `yaml:"converter,omitempty"`
}

type ConsumerConfig struct {
	DefaultStartingOffset *Offset `yaml:"default-starting-offset,omitempty"`
	MaxBytes              *int    `yaml:"max-bytes,omitempty"`
	Isolation             string  `yaml:"isolation,omitempty"`
}

type Offset struct {
	Position string `yaml:"position"` // beginning | end | offset
	Value    int64  `yaml:"value"`
}

type ProducerConfig struct {
	LingerMs    *uint64 `yaml:"linger-ms,omitempty"`
	BatchSize   *uint64 `yaml:"batch-size,omitempty"`
	TimeoutMs   *uint64 `yaml:"timeout-ms,omitempty"`
	Compression string  `yaml:"compression,omitempty"`
	Isolation   string  `yaml:"isolation,omitempty"`
}

type DefaultConfig struct {
	Converter string          `yaml:"converter,omitempty"`
	Consumer  *ConsumerConfig `yaml:"consumer,omitempty"`
	Producer  *ProducerConfig `yaml:"producer,omitempty"`
}

type DevConfig struct {
	Converter string           `yaml:"converter,omitempty"`
	Imports   []Import         `yaml:"imports,omitempty"`
	Topics    map[string]Topic `yaml:"topics,omitempty"`
}

type ScheduleConfig struct {
	Cron string `yaml:"cron"`
}

/* ---------------------------------------------------------------------
   Services
   --------------------------------------------------------------------- */

type Service struct {
	Sources    []IORef
	Sinks      []IORef
	Transforms []Step
	Window     *Window
	Partition  *Partition
	States     map[string]StateEntry
}

type serviceYAML struct {
	Sources    []IORef               `yaml:"sources"`
	Sinks      *[]IORef              `yaml:"sinks"`
	Transforms []Step                `yaml:"transforms"`
	Window     *Window               `yaml:"window"`
	Partition  *Partition            `yaml:"partition"`
	States     map[string]StateEntry `yaml:"states"`
}

func (s *Service) UnmarshalYAML(node *yaml.Node) error {
	var raw serviceYAML
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Window != nil && raw.Partition != nil {
		return syntaxErr("", node.Line, "a service can define either `window` or `partition`, not both")
	}
	s.Sources = raw.Sources
	if raw.Sinks == nil {
		s.Sinks = []IORef{{Type: metadata.IONoTarget}}
	} else {
		s.Sinks = *raw.Sinks
	}
	s.Transforms = raw.Transforms
	s.Window = raw.Window
	s.Partition = raw.Partition
	s.States = raw.States
	return nil
}

// IORef is a source or sink of a service.
type IORef struct {
	Type       string
	ID         string
	Transforms []Step
}

func (r *IORef) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Type       string `yaml:"type"`
		ID         string `yaml:"id"`
		Transforms []Step `yaml:"transforms"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	switch raw.Type {
	case metadata.IOTopic, metadata.IOSchedule:
		if raw.ID == "" {
			return syntaxErr("", node.Line, "%s reference requires an `id`", raw.Type)
		}
	case metadata.IONoTarget:
		if len(raw.Transforms) > 0 {
			return syntaxErr("", node.Line, "no-target reference cannot have transforms")
		}
	case "":
		return syntaxErr("", node.Line, "missing field `type`")
	default:
		return syntaxErr("", node.Line, "unknown variant `%s`, expected one of `topic`, `no-target`, `schedule`", raw.Type)
	}
	*r = IORef{Type: raw.Type, ID: raw.ID, Transforms: raw.Transforms}
	return nil
}

// StateEntry is one of: an owned keyed-state declaration, a reference to
// another service's state (`from: service.state`) or a system state.
type StateEntry struct {
	Typed  *TypeDef
	From   string
	System string
}

func (e *StateEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return syntaxErr("", node.Line, "state entry must be a mapping, found %s", describeKind(node))
	}
	switch {
	case findKey(node, "from") != nil:
		e.From = scalarValue(node, "from")
		if e.From == "" {
			return syntaxErr("", node.Line, "state reference `from` cannot be empty")
		}
	case findKey(node, "system") != nil:
		e.System = scalarValue(node, "system")
	case findKey(node, "type") != nil:
		td := &TypeDef{}
		if err := td.UnmarshalYAML(node); err != nil {
			return err
		}
		if td.Type != KindKeyedState {
			return syntaxErr("", node.Line, "state type must be `keyed-state`, found `%s`", td.Type)
		}
		e.Typed = td
	default:
		return syntaxErr("", node.Line, "state entry requires one of `type`, `from` or `system`")
	}
	return nil
}

/* ---------------------------------------------------------------------
   Windows and partitions
   --------------------------------------------------------------------- */

type Window struct {
	Tumbling        *TumblingWindow `yaml:"tumbling,omitempty"`
	Sliding         *SlidingWindow  `yaml:"sliding,omitempty"`
	Watermark       *Watermark      `yaml:"watermark,omitempty"`
	AssignTimestamp *Step           `yaml:"assign-timestamp"`
	Transforms      []Step          `yaml:"transforms,omitempty"`
	Partition       *Partition      `yaml:"partition,omitempty"`
	Flush           *Step           `yaml:"flush,omitempty"`
}

type TumblingWindow struct {
	Duration string `yaml:"duration"`
	Offset   string `yaml:"offset,omitempty"`
}

type SlidingWindow struct {
	Duration string `yaml:"duration"`
	Offset   string `yaml:"offset,omitempty"`
	Slide    string `yaml:"slide"`
}

type Watermark struct {
	Idleness    string `yaml:"idleness,omitempty"`
	GracePeriod string `yaml:"grace-period,omitempty"`
}

func (w *Window) UnmarshalYAML(node *yaml.Node) error {
	type plain Window
	var raw plain
	if err := node.Decode(&raw); err != nil {
		return err
	}
	switch {
	case raw.Tumbling == nil && raw.Sliding == nil:
		return syntaxErr("", node.Line, "window requires `tumbling` or `sliding` properties")
	case raw.Tumbling != nil && raw.Sliding != nil:
		return syntaxErr("", node.Line, "window cannot be both `tumbling` and `sliding`")
	case raw.AssignTimestamp == nil:
		return syntaxErr("", node.Line, "missing field `assign-timestamp`")
	}
	*w = Window(raw)
	return nil
}

type Partition struct {
	AssignKey   *Step  `yaml:"assign-key"`
	Transforms  []Step `yaml:"transforms,omitempty"`
	UpdateState *Step  `yaml:"update-state,omitempty"`
}

func (p *Partition) UnmarshalYAML(node *yaml.Node) error {
	type plain Partition
	var raw plain
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.AssignKey == nil {
		return syntaxErr("", node.Line, "missing field `assign-key`")
	}
	*p = Partition(raw)
	return nil
}

/* ---------------------------------------------------------------------
   Steps
   --------------------------------------------------------------------- */

// Step is an operator invocation. Uses names the function; with inline code in
// Run it may be omitted and is taken from the code.
type Step struct {
	Operator     string
	Uses         string
	Inputs       []Input
	Output       *Output
	States       []string
	Run          string
	Lang         string
	Dependencies []Dependency
	Line         int
}

type Input struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Optional bool   `yaml:"optional,omitempty"`
	Kind     string `yaml:"kind,omitempty"` // key | value
}

type Output struct {
	Type       string         `yaml:"type"`
	Optional   bool           `yaml:"optional,omitempty"`
	List       bool           `yaml:"list,omitempty"`
	Properties *KeyValueProps `yaml:"properties,omitempty"`
}

type KeyValueProps struct {
	Key   TypeRef `yaml:"key"`
	Value TypeRef `yaml:"value"`
}

type Dependency struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

type stepYAML struct {
	Operator string   `yaml:"operator"`
	Uses     string   `yaml:"uses"`
	Inputs   []Input  `yaml:"inputs"`
	Output   *Output  `yaml:"output"`
	States   []struct {
		Name string `yaml:"name"`
	} `yaml:"states"`
	Run          string       `yaml:"run"`
	Lang         string       `yaml:"lang"`
	Dependencies []Dependency `yaml:"dependencies"`
}

func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	var raw stepYAML
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Operator != "" && !metadata.IsOperatorID(raw.Operator) {
		return syntaxErr("", node.Line, "unknown operator `%s`", raw.Operator)
	}
	for _, in := range raw.Inputs {
		if in.Kind != "" && in.Kind != "key" && in.Kind != "value" {
			return syntaxErr("", node.Line, "input `%s` has unknown kind `%s`, expected `key` or `value`", in.Name, in.Kind)
		}
	}
	if raw.Output != nil && raw.Output.Type == KindKeyValue && raw.Output.Properties == nil {
		return syntaxErr("", node.Line, "key-value output requires `properties` with `key` and `value`")
	}
	*s = Step{
		Operator:     raw.Operator,
		Uses:         raw.Uses,
		Inputs:       raw.Inputs,
		Output:       raw.Output,
		Run:          raw.Run,
		Lang:         raw.Lang,
		Dependencies: raw.Dependencies,
		Line:         node.Line,
	}
	for _, st := range raw.States {
		s.States = append(s.States, st.Name)
	}
	return nil
}

// Function is a package-level step keyed by its function name.
type Function struct {
	Name string
	Step Step
}

func (f Function) String() string {
	return fmt.Sprintf("%s(%s)", f.Name, f.Step.Operator)
}
