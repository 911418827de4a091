package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/siqueiraa/sdfc/pkg/metadata"
)

// ErrNestedTypeName is returned for inline composite types without a `type-name`.
var ErrNestedTypeName = errors.New("nested type requires a type-name")

// ErrTopLevelTypeName is returned when a top level declaration carries a `type-name`.
var ErrTopLevelTypeName = errors.New("top level type should not have a type_name")

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Definition lowers the document into the compiler IR.
func (d *Document) Definition() (*metadata.DataflowDefinition, error) {
	ver, err := ParseAPIVersion(d.APIVersion)
	if err != nil {
		return nil, err
	}
	l := newLowerer(ver.IsV5())
	if err := l.declare(d.Types); err != nil {
		return nil, err
	}

	def := &metadata.DataflowDefinition{
		APIVersion: d.APIVersion,
		Meta:       metadata.Header{Namespace: d.Meta.Namespace, Name: d.Meta.Name, Version: d.Meta.Version},
		Imports:    lowerImports(d.Imports),
	}
	if d.Dev != nil {
		def.DevImports = lowerImports(d.Dev.Imports)
	}

	converter := metadata.DefaultConverter
	if d.Config != nil && d.Config.Converter != "" {
		converter = d.Config.Converter
	}
	topics := d.Topics
	if d.Dev != nil && len(d.Dev.Topics) > 0 {
		topics = make(map[string]Topic, len(d.Topics))
		for k, v := range d.Topics {
			topics[k] = v
		}
		for k, v := range d.Dev.Topics {
			topics[k] = v
		}
		if d.Dev.Converter != "" {
			converter = d.Dev.Converter
		}
	}
	for _, id := range sortedKeys(topics) {
		def.Topics = append(def.Topics, lowerTopic(id, topics[id], converter))
	}

	for _, name := range sortedKeys(d.Services) {
		svc, err := l.service(name, d.Services[name])
		if err != nil {
			return nil, fmt.Errorf("service `%s`: %w", name, err)
		}
		def.Services = append(def.Services, svc)
	}
	for _, name := range sortedKeys(d.Schedule) {
		def.Schedules = append(def.Schedules, metadata.ScheduleConfig{Name: name, Cron: d.Schedule[name].Cron})
	}
	def.Types = l.result()
	return def, nil
}

// Definition lowers the package document into the compiler IR.
func (p *PackageDocument) Definition() (*metadata.PackageDefinition, error) {
	ver, err := ParseAPIVersion(p.APIVersion)
	if err != nil {
		return nil, err
	}
	l := newLowerer(ver.IsV5())
	if err := l.declare(p.Types); err != nil {
		return nil, err
	}

	def := &metadata.PackageDefinition{
		APIVersion: p.APIVersion,
		Meta:       metadata.Header{Namespace: p.Meta.Namespace, Name: p.Meta.Name, Version: p.Meta.Version},
		Imports:    lowerImports(p.Imports),
	}
	if p.Dev != nil {
		def.DevImports = lowerImports(p.Dev.Imports)
	}
	for _, name := range sortedKeys(p.States) {
		td := p.States[name]
		st, err := l.keyedState(name, &td)
		if err != nil {
			return nil, fmt.Errorf("state `%s`: %w", name, err)
		}
		def.States = append(def.States, *st)
	}
	for _, fn := range p.Functions {
		op, err := metadata.ParseOperatorType(fn.Step.Operator)
		if err != nil {
			return nil, fmt.Errorf("function `%s`: %w", fn.Name, err)
		}
		step, err := l.step(fn.Step)
		if err != nil {
			return nil, fmt.Errorf("function `%s`: %w", fn.Name, err)
		}
		def.Functions = append(def.Functions, metadata.PackageFunction{Operator: op, Step: step})
	}
	def.Types = l.result()
	return def, nil
}

/* ---------------------------------------------------------------------
   Types
   --------------------------------------------------------------------- */

// lowerer hoists inline composite types into one flat, named type map.
type lowerer struct {
	v5    bool
	types map[string]metadata.SdfType
}

func newLowerer(v5 bool) *lowerer {
	return &lowerer{v5: v5, types: make(map[string]metadata.SdfType)}
}

func (l *lowerer) declare(types map[string]TypeDef) error {
	for _, name := range sortedKeys(types) {
		td := types[name]
		if td.TypeName != "" {
			return fmt.Errorf("type `%s`: %w", name, ErrTopLevelTypeName)
		}
		t, err := l.lower(&td)
		if err != nil {
			return fmt.Errorf("type `%s`: %w", name, err)
		}
		if err := l.add(name, t); err != nil {
			return err
		}
	}
	return nil
}

func (l *lowerer) add(name string, t metadata.SdfType) error {
	if prev, ok := l.types[name]; ok && !prev.Equal(t) {
		return fmt.Errorf("Type %s is defined multiple times with different definitions", name)
	}
	l.types[name] = t
	return nil
}

func (l *lowerer) result() []metadata.MetadataType {
	out := make([]metadata.MetadataType, 0, len(l.types))
	for _, name := range sortedKeys(l.types) {
		out = append(out, metadata.MetadataType{Name: name, Type: l.types[name], Origin: metadata.OriginLocal})
	}
	return out
}

func (l *lowerer) lower(td *TypeDef) (metadata.SdfType, error) {
	switch td.Type {
	case KindObject:
		obj := &metadata.Object{Fields: make([]metadata.ObjectField, 0, len(td.Properties))}
		for i := range td.Properties {
			p := &td.Properties[i]
			ref, err := l.ref(&p.TypeDef)
			if err != nil {
				return metadata.SdfType{}, fmt.Errorf("property `%s`: %w", p.Name, err)
			}
			obj.Fields = append(obj.Fields, metadata.ObjectField{
				Name:     p.Name,
				Type:     metadata.TypeRef{Name: ref},
				Optional: p.Optional,
				Serde:    l.serde(p.Name, p.Serialize, p.Deserialize),
			})
		}
		return metadata.SdfType{Kind: metadata.KindObject, Object: obj}, nil
	case KindEnum:
		enum := &metadata.Enum{Tagging: td.Tagging}
		for _, v := range td.Variants {
			variant := metadata.EnumVariant{Name: v.Name, Serde: l.serde(v.Name, v.Serialize, v.Deserialize)}
			if v.Type != nil {
				ref, err := l.ref(v.Type)
				if err != nil {
					return metadata.SdfType{}, fmt.Errorf("variant `%s`: %w", v.Name, err)
				}
				variant.Value = &metadata.TypeRef{Name: ref}
			}
			enum.Variants = append(enum.Variants, variant)
		}
		return metadata.SdfType{Kind: metadata.KindEnum, Enum: enum}, nil
	case KindList:
		item, err := l.ref(td.Items)
		if err != nil {
			return metadata.SdfType{}, err
		}
		return metadata.ListOf(item), nil
	case KindOption:
		value, err := l.ref(td.Value)
		if err != nil {
			return metadata.SdfType{}, err
		}
		return metadata.OptionOf(value), nil
	case KindKeyValue:
		key, err := l.ref(td.Key)
		if err != nil {
			return metadata.SdfType{}, err
		}
		value, err := l.ref(td.Value)
		if err != nil {
			return metadata.SdfType{}, err
		}
		return metadata.SdfType{Kind: metadata.KindKeyValue, KeyValue: &metadata.KeyValue{
			Key: metadata.TypeRef{Name: key}, Value: metadata.TypeRef{Name: value},
		}}, nil
	case KindKeyedState:
		ks, err := l.keyedStateType(td)
		if err != nil {
			return metadata.SdfType{}, err
		}
		return metadata.SdfType{Kind: metadata.KindKeyedState, KeyedState: ks}, nil
	case KindArrowRow:
		return metadata.SdfType{Kind: metadata.KindArrowRow, ArrowRow: lowerArrowRow(td)}, nil
	}
	if k, ok := metadata.ScalarKind(td.Type); ok {
		return metadata.Scalar(k), nil
	}
	return metadata.Named(td.Type), nil
}

// ref returns the name under which td is reachable, hoisting inline composites.
func (l *lowerer) ref(td *TypeDef) (string, error) {
	if td == nil {
		return "", errors.New("missing type")
	}
	if !td.IsComposite() {
		return metadata.NormalizeScalar(td.Type), nil
	}
	name := td.TypeName
	if name == "" && td.Type == KindList {
		item, err := l.ref(td.Items)
		if err != nil {
			return "", err
		}
		name = "list-" + item + "-gen-type"
	}
	if name == "" {
		return "", ErrNestedTypeName
	}
	t, err := l.lower(td)
	if err != nil {
		return "", fmt.Errorf("type `%s`: %w", name, err)
	}
	if err := l.add(name, t); err != nil {
		return "", err
	}
	return name, nil
}

// serde fills missing renames with the field name, except on 0.5.x documents.
func (l *lowerer) serde(name string, ser, de *SerdeField) metadata.SerdeConfig {
	conv := func(f *SerdeField) *metadata.SerdeField {
		switch {
		case f != nil && f.Rename != "":
			return &metadata.SerdeField{Rename: f.Rename}
		case l.v5:
			return nil
		}
		return &metadata.SerdeField{Rename: name}
	}
	return metadata.SerdeConfig{Serialize: conv(ser), Deserialize: conv(de)}
}

func lowerArrowRow(td *TypeDef) *metadata.ArrowRow {
	row := &metadata.ArrowRow{Columns: make([]metadata.ArrowColumn, 0, len(td.Columns))}
	for _, c := range td.Columns {
		typ := c.Type
		if typ != "timestamp" {
			typ = metadata.NormalizeScalar(typ)
		}
		row.Columns = append(row.Columns, metadata.ArrowColumn{Name: c.Name, Type: typ})
	}
	return row
}

func (l *lowerer) keyedStateType(td *TypeDef) (*metadata.KeyedState, error) {
	key, err := l.ref(td.Key)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	ks := &metadata.KeyedState{Key: metadata.TypeRef{Name: key}}
	switch {
	case td.Value == nil:
		return nil, errors.New("keyed-state requires a value")
	case td.Value.Type == KindArrowRow && td.Value.TypeName == "":
		ks.Value = metadata.KeyedStateValue{Kind: metadata.ValueArrowRow, Row: lowerArrowRow(td.Value)}
	case metadata.NormalizeScalar(td.Value.Type) == "u32":
		ks.Value = metadata.KeyedStateValue{Kind: metadata.ValueU32}
	default:
		value, err := l.ref(td.Value)
		if err != nil {
			return nil, fmt.Errorf("value: %w", err)
		}
		ks.Value = metadata.UnresolvedValue(value)
	}
	return ks, nil
}

func (l *lowerer) keyedState(name string, td *TypeDef) (*metadata.StateTyped, error) {
	if td.Type != KindKeyedState {
		return nil, fmt.Errorf("state type must be `keyed-state`, found `%s`", td.Type)
	}
	ks, err := l.keyedStateType(td)
	if err != nil {
		return nil, err
	}
	return &metadata.StateTyped{Name: name, Type: *ks}, nil
}

/* ---------------------------------------------------------------------
   Topics, imports and services
   --------------------------------------------------------------------- */

func lowerTopic(id string, t Topic, converter string) metadata.Topic {
	name := t.Name
	if name == "" {
		name = id
	}
	serde := func(s SchemaSerde) metadata.SchemaSerde {
		c := s.Converter
		if c == "" {
			c = converter
		}
		return metadata.SchemaSerde{Type: metadata.TypeRef{Name: metadata.NormalizeScalar(s.Type)}, Converter: c}
	}
	out := metadata.Topic{ID: id, Name: name, Schema: metadata.TopicSchema{Value: serde(t.Schema.Value)}}
	if t.Schema.Key != nil {
		key := serde(*t.Schema.Key)
		out.Schema.Key = &key
	}
	return out
}

func lowerImports(imports []Import) []metadata.PackageImport {
	out := make([]metadata.PackageImport, 0, len(imports))
	for _, imp := range imports {
		out = append(out, metadata.PackageImport{
			Metadata:  imp.Pkg,
			Path:      imp.Path,
			Types:     imp.Types,
			States:    imp.States,
			Functions: imp.Functions,
		})
	}
	return out
}

func (l *lowerer) service(name string, s Service) (metadata.Service, error) {
	svc := metadata.Service{Name: name}
	var err error
	if svc.Sources, err = l.ioRefs(s.Sources); err != nil {
		return svc, fmt.Errorf("sources: %w", err)
	}
	if svc.Sinks, err = l.ioRefs(s.Sinks); err != nil {
		return svc, fmt.Errorf("sinks: %w", err)
	}
	if svc.Transforms, err = l.transforms(s.Transforms); err != nil {
		return svc, fmt.Errorf("transforms: %w", err)
	}
	if s.Window != nil {
		if svc.Window, err = l.window(s.Window); err != nil {
			return svc, fmt.Errorf("window: %w", err)
		}
	}
	if s.Partition != nil {
		if svc.Partition, err = l.partition(s.Partition); err != nil {
			return svc, fmt.Errorf("partition: %w", err)
		}
	}
	for _, stateName := range sortedKeys(s.States) {
		st, err := l.stateEntry(stateName, s.States[stateName])
		if err != nil {
			return svc, fmt.Errorf("state `%s`: %w", stateName, err)
		}
		svc.States = append(svc.States, st)
	}
	return svc, nil
}

func (l *lowerer) stateEntry(name string, e StateEntry) (metadata.State, error) {
	switch {
	case e.Typed != nil:
		st, err := l.keyedState(name, e.Typed)
		if err != nil {
			return metadata.State{}, err
		}
		return metadata.State{Kind: metadata.StateOwned, Name: name, Typed: st}, nil
	case e.From != "":
		parts := strings.Split(e.From, ".")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return metadata.State{}, fmt.Errorf("invalid state reference `%s`, expected `<service>.<state>`", e.From)
		}
		return metadata.State{Kind: metadata.StateRef, Name: name, Ref: &metadata.StateRefTarget{Service: parts[0], State: parts[1]}}, nil
	}
	return metadata.State{Kind: metadata.StateSystem, Name: name, System: e.System}, nil
}

func (l *lowerer) ioRefs(refs []IORef) ([]metadata.IORef, error) {
	out := make([]metadata.IORef, 0, len(refs))
	for _, r := range refs {
		steps, err := l.transforms(r.Transforms)
		if err != nil {
			return nil, fmt.Errorf("`%s`: %w", r.ID, err)
		}
		out = append(out, metadata.IORef{Type: r.Type, ID: r.ID, Transforms: steps})
	}
	return out, nil
}

func (l *lowerer) transforms(steps []Step) ([]metadata.TransformOperator, error) {
	out := make([]metadata.TransformOperator, 0, len(steps))
	for i, s := range steps {
		if s.Operator == "" {
			return nil, fmt.Errorf("step %d: missing field `operator`", i)
		}
		op, err := metadata.ParseOperatorType(s.Operator)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if !op.IsTransform() {
			return nil, fmt.Errorf("step %d: operator `%s` is not allowed in a transforms block", i, s.Operator)
		}
		inv, err := l.step(s)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		out = append(out, metadata.TransformOperator{Type: op, Step: inv})
	}
	return out, nil
}

func (l *lowerer) window(w *Window) (*metadata.Window, error) {
	out := &metadata.Window{}
	var err error
	switch {
	case w.Tumbling != nil:
		out.Properties.Kind = metadata.WindowTumbling
		if out.Properties.DurationMs, err = metadata.ParseDurationMs(w.Tumbling.Duration); err != nil {
			return nil, err
		}
		if out.Properties.OffsetMs, err = optionalDuration(w.Tumbling.Offset); err != nil {
			return nil, err
		}
	case w.Sliding != nil:
		out.Properties.Kind = metadata.WindowSliding
		if out.Properties.DurationMs, err = metadata.ParseDurationMs(w.Sliding.Duration); err != nil {
			return nil, err
		}
		if out.Properties.SlideMs, err = metadata.ParseDurationMs(w.Sliding.Slide); err != nil {
			return nil, err
		}
		if out.Properties.OffsetMs, err = optionalDuration(w.Sliding.Offset); err != nil {
			return nil, err
		}
	}
	if w.Watermark != nil {
		if w.Watermark.Idleness != "" {
			ms, err := metadata.ParseDurationMs(w.Watermark.Idleness)
			if err != nil {
				return nil, err
			}
			out.Watermark.IdlenessMs = &ms
		}
		if w.Watermark.GracePeriod != "" {
			ms, err := metadata.ParseDurationMs(w.Watermark.GracePeriod)
			if err != nil {
				return nil, err
			}
			out.Watermark.GracePeriodMs = &ms
		}
	}
	if out.AssignTimestamp, err = l.step(*w.AssignTimestamp); err != nil {
		return nil, fmt.Errorf("assign-timestamp: %w", err)
	}
	if out.Transforms, err = l.transforms(w.Transforms); err != nil {
		return nil, fmt.Errorf("transforms: %w", err)
	}
	if w.Partition != nil {
		if out.Partition, err = l.partition(w.Partition); err != nil {
			return nil, fmt.Errorf("partition: %w", err)
		}
	}
	if w.Flush != nil {
		flush, err := l.step(*w.Flush)
		if err != nil {
			return nil, fmt.Errorf("flush: %w", err)
		}
		out.Flush = &flush
	}
	return out, nil
}

func optionalDuration(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return metadata.ParseDurationMs(s)
}

func (l *lowerer) partition(p *Partition) (*metadata.Partition, error) {
	out := &metadata.Partition{}
	var err error
	if out.AssignKey, err = l.step(*p.AssignKey); err != nil {
		return nil, fmt.Errorf("assign-key: %w", err)
	}
	if out.Transforms, err = l.transforms(p.Transforms); err != nil {
		return nil, fmt.Errorf("transforms: %w", err)
	}
	if p.UpdateState != nil {
		upd, err := l.step(*p.UpdateState)
		if err != nil {
			return nil, fmt.Errorf("update-state: %w", err)
		}
		out.UpdateState = &upd
	}
	return out, nil
}

// step lowers a step. Inline code must still declare its signature; only the
// function name is taken from the code when `uses` is absent.
func (l *lowerer) step(s Step) (metadata.StepInvocation, error) {
	inv := metadata.StepInvocation{Uses: s.Uses}
	lang := metadata.CodeLang(s.Lang)
	if lang == "" {
		lang = metadata.LangRust
	}
	inv.Code = metadata.CodeInfo{Code: s.Run, Lang: lang}
	for _, d := range s.Dependencies {
		inv.Code.ExtraDeps = append(inv.Code.ExtraDeps, metadata.Dependency(d))
	}
	if inv.Uses == "" {
		inv.Uses = inv.Code.FunctionName()
		if inv.Uses == "" {
			return inv, errors.New("could not find a function name in inline code, add `uses`")
		}
	}

	for _, in := range s.Inputs {
		kind := metadata.ParamValue
		if in.Kind == "key" {
			kind = metadata.ParamKey
		}
		inv.Inputs = append(inv.Inputs, metadata.NamedParameter{
			Name:     in.Name,
			Type:     metadata.TypeRef{Name: metadata.NormalizeScalar(in.Type)},
			Optional: in.Optional,
			Kind:     kind,
		})
	}
	if s.Output != nil {
		out := &metadata.Parameter{Optional: s.Output.Optional, List: s.Output.List}
		if s.Output.Type == KindKeyValue {
			out.Type.KeyValue = &metadata.KeyValue{
				Key:   metadata.TypeRef{Name: metadata.NormalizeScalar(s.Output.Properties.Key.Type)},
				Value: metadata.TypeRef{Name: metadata.NormalizeScalar(s.Output.Properties.Value.Type)},
			}
		} else {
			out.Type.Ref = metadata.TypeRef{Name: metadata.NormalizeScalar(s.Output.Type)}
		}
		inv.Output = out
	}
	for _, name := range s.States {
		inv.States = append(inv.States, metadata.StepState{Name: name})
	}
	return inv, nil
}
