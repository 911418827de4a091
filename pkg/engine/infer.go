package engine

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/siqueiraa/sdfc/pkg/metadata"
)

// PipelineTypeError locates the first step of a service whose declared input
// does not match the pair inferred for it.
type PipelineTypeError struct {
	Service  string
	Position string
	Uses     string
	Operator metadata.OperatorType
	Msg      string
}

func (e *PipelineTypeError) Error() string {
	if e.Uses == "" {
		return fmt.Sprintf("service `%s`: %s: %s", e.Service, e.Position, e.Msg)
	}
	return fmt.Sprintf("service `%s`: %s %s `%s`: %s", e.Service, e.Position, e.Operator, e.Uses, e.Msg)
}

// StepType records the pair entering and leaving one step.
type StepType struct {
	Position string                `json:"position"`
	Operator metadata.OperatorType `json:"operator"`
	Uses     string                `json:"uses"`
	Input    KVType                `json:"input"`
	Output   KVType                `json:"output"`
}

// ServiceTypes is the inferred typing of one service.
type ServiceTypes struct {
	Name   string     `json:"name"`
	Input  KVType     `json:"input"`
	Output KVType     `json:"output"`
	Steps  []StepType `json:"steps,omitempty"`
}

type inferrer struct {
	scope *serviceScope
	svc   *metadata.Service
	out   *ServiceTypes
}

func (in *inferrer) fail(pos string, op metadata.OperatorType, uses, format string, args ...any) error {
	return &PipelineTypeError{Service: in.svc.Name, Position: pos, Uses: uses, Operator: op, Msg: fmt.Sprintf(format, args...)}
}

// InferAll infers every service of def; failures of all services are combined.
func InferAll(def *metadata.DataflowDefinition) ([]ServiceTypes, error) {
	var result *multierror.Error
	out := make([]ServiceTypes, 0, len(def.Services))
	for i := range def.Services {
		st, err := Infer(def, &def.Services[i])
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		out = append(out, *st)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// Infer walks sources, transforms, the window or partition stage and sinks
// of svc left to right, threading the (key?, value) pair and checking each
// step's declared input against it.
func Infer(def *metadata.DataflowDefinition, svc *metadata.Service) (*ServiceTypes, error) {
	in := &inferrer{
		scope: &serviceScope{topics: def.Topics, schedules: def.Schedules},
		svc:   svc,
		out:   &ServiceTypes{Name: svc.Name},
	}
	cur, err := in.sources()
	if err != nil {
		return nil, err
	}
	in.out.Input = cur

	if cur, err = in.chain("transforms", svc.Transforms, cur); err != nil {
		return nil, err
	}
	switch {
	case svc.Window != nil:
		cur, err = in.window(svc.Window, cur)
	case svc.Partition != nil:
		cur, err = in.partition("partition", svc.Partition, cur)
	}
	if err != nil {
		return nil, err
	}
	in.out.Output = cur

	if err := in.sinks(cur); err != nil {
		return nil, err
	}
	return in.out, nil
}

func (in *inferrer) sources() (KVType, error) {
	if len(in.svc.Sources) == 0 {
		return KVType{}, in.fail("sources", 0, "", "service must have at least one source")
	}
	var first *KVType
	for i := range in.svc.Sources {
		src := &in.svc.Sources[i]
		pos := fmt.Sprintf("sources[%d]", i)
		target, cerr := in.scope.schemaType(src)
		if cerr != nil {
			return KVType{}, in.fail(pos, 0, "", "%s", firstLine(cerr))
		}
		if target == nil {
			return KVType{}, in.fail(pos, 0, "", "source `%s` has no target", src.ID)
		}
		kv, err := in.chain(pos+".transforms", src.Transforms, *target)
		if err != nil {
			return KVType{}, err
		}
		if first == nil {
			first = &kv
			continue
		}
		if !typesAreIdentical([]namedType{{ty: *first}, {ty: kv}}) {
			return KVType{}, in.fail(pos, 0, "", "source `%s` produces %s but the first source produces %s", src.ID, kv, *first)
		}
	}
	return *first, nil
}

// chain threads cur through steps; a filter leaves the pair untouched.
func (in *inferrer) chain(pos string, steps []metadata.TransformOperator, cur KVType) (KVType, error) {
	for i := range steps {
		op := &steps[i]
		p := fmt.Sprintf("%s[%d]", pos, i)
		if err := in.expect(p, op.Type, &op.Step, cur); err != nil {
			return KVType{}, err
		}
		next := cur
		if op.Step.Output != nil && op.Type != metadata.OpFilter {
			next = cur.apply(op.Step.Output.Type)
		}
		in.record(p, op.Type, &op.Step, cur, next)
		cur = next
	}
	return cur, nil
}

func (in *inferrer) expect(pos string, op metadata.OperatorType, step *metadata.StepInvocation, cur KVType) error {
	value, ok := step.ValueInput()
	if !ok {
		return in.fail(pos, op, step.Uses, "expected an input of type `%s`, found none", cur.Value.Name)
	}
	if step.RequiresKeyParam() {
		key := step.Inputs[0].Type
		if cur.Key == nil {
			return in.fail(pos, op, step.Uses, "requires a key of type `%s`, but the stream has no key", key.Name)
		}
		if !sameTypeName(key.Name, cur.Key.Name) {
			return in.fail(pos, op, step.Uses, "key type `%s` does not match `%s`", key.Name, cur.Key.Name)
		}
	}
	if !sameTypeName(value.Type.Name, cur.Value.Name) {
		return in.fail(pos, op, step.Uses, "input type `%s` does not match `%s`", value.Type.Name, cur.Value.Name)
	}
	return nil
}

func (in *inferrer) record(pos string, op metadata.OperatorType, step *metadata.StepInvocation, input, output KVType) {
	in.out.Steps = append(in.out.Steps, StepType{Position: pos, Operator: op, Uses: step.Uses, Input: input, Output: output})
}

func (in *inferrer) window(w *metadata.Window, cur KVType) (KVType, error) {
	ts := &w.AssignTimestamp
	if err := in.expect("window.assign-timestamp", metadata.OpAssignTimestamp, ts, cur); err != nil {
		return KVType{}, err
	}
	in.record("window.assign-timestamp", metadata.OpAssignTimestamp, ts, cur, cur)

	cur, err := in.chain("window.transforms", w.Transforms, cur)
	if err != nil {
		return KVType{}, err
	}
	if w.Partition != nil {
		if cur, err = in.partition("window.partition", w.Partition, cur); err != nil {
			return KVType{}, err
		}
	}
	if w.Flush != nil {
		if w.Flush.Output == nil {
			return KVType{}, in.fail("window.flush", metadata.OpWindowAggregate, w.Flush.Uses, "requires an output type")
		}
		next := outputType(w.Flush.Output.Type)
		in.record("window.flush", metadata.OpWindowAggregate, w.Flush, cur, next)
		cur = next
	}
	return cur, nil
}

// partition re-keys the stream with the assign-key output.
func (in *inferrer) partition(pos string, p *metadata.Partition, cur KVType) (KVType, error) {
	ak := &p.AssignKey
	if err := in.expect(pos+".assign-key", metadata.OpAssignKey, ak, cur); err != nil {
		return KVType{}, err
	}
	if ak.Output == nil {
		return KVType{}, in.fail(pos+".assign-key", metadata.OpAssignKey, ak.Uses, "requires an output type")
	}
	keyed := cur.withKey(ak.Output.Type.ValueType())
	in.record(pos+".assign-key", metadata.OpAssignKey, ak, cur, keyed)

	cur, err := in.chain(pos+".transforms", p.Transforms, keyed)
	if err != nil {
		return KVType{}, err
	}
	if us := p.UpdateState; us != nil {
		if err := in.expect(pos+".update-state", metadata.OpUpdateState, us, cur); err != nil {
			return KVType{}, err
		}
		for _, ss := range us.States {
			if !ss.IsResolved() {
				return KVType{}, in.fail(pos+".update-state", metadata.OpUpdateState, us.Uses, "state `%s` is not resolved", ss.Name)
			}
		}
		in.record(pos+".update-state", metadata.OpUpdateState, us, cur, cur)
	}
	return cur, nil
}

func (in *inferrer) sinks(cur KVType) error {
	for i := range in.svc.Sinks {
		sink := &in.svc.Sinks[i]
		pos := fmt.Sprintf("sinks[%d]", i)
		final, err := in.chain(pos+".transforms", sink.Transforms, cur)
		if err != nil {
			return err
		}
		target, cerr := in.scope.schemaType(sink)
		switch {
		case cerr != nil:
			return in.fail(pos, 0, "", "%s", firstLine(cerr))
		case target == nil:
			if len(sink.Transforms) > 0 {
				return in.fail(pos, 0, "", "sink cannot have transforms steps without a target")
			}
		case !sameTypeName(target.Value.Name, final.Value.Name):
			return in.fail(pos, 0, "", "sink `%s` expects `%s` but receives `%s`", sink.ID, target.Value.Name, final.Value.Name)
		case target.Key != nil && final.Key != nil && *target.Key != *final.Key:
			return in.fail(pos, 0, "", "sink `%s` expects key `%s` but receives key `%s`", sink.ID, target.Key.Name, final.Key.Name)
		}
	}
	return nil
}

func firstLine(e interface{ Readable(int) string }) string {
	s := e.Readable(0)
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
