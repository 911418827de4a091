package engine

import (
	"github.com/siqueiraa/sdfc/pkg/metadata"
	"github.com/siqueiraa/sdfc/pkg/schema"
	"github.com/siqueiraa/sdfc/pkg/state"
	"github.com/siqueiraa/sdfc/pkg/validate"
)

/* ---------------------------------------------------------------------
   Report nodes
   --------------------------------------------------------------------- */

// ServiceFailure collects everything wrong with one service.
type ServiceFailure struct {
	Name   string
	Errors []validate.ConfigError
}

func (s *ServiceFailure) add(errs ...validate.ConfigError) {
	for _, e := range errs {
		if e != nil {
			s.Errors = append(s.Errors, e)
		}
	}
}

func (s *ServiceFailure) Readable(indents int) string {
	return validate.NewGroup("Service `"+s.Name+"` is invalid:", s.Errors...).Readable(indents)
}

func (s *ServiceFailure) Error() string {
	return validate.NewGroup("Service `"+s.Name+"` is invalid:", s.Errors...).Error()
}

// typeMismatch renders the types of sources or sinks that disagree.
type typeMismatch struct {
	what  string
	types []namedType
}

func (m typeMismatch) Readable(indents int) string {
	pad := ""
	for i := 0; i < indents; i++ {
		pad += validate.Indent
	}
	return pad + m.what + " for service must be identical, but the " + m.lower() +
		" had the following types:\n" + pad + validate.Indent + describeTypes(m.types) + "\n"
}

func (m typeMismatch) lower() string {
	if m.what == "Sources" {
		return "sources"
	}
	return "sinks"
}

var errNoTarget = validate.NewError("Cannot have a source with no target")

func invalidRef(id string) validate.Error {
	return validate.Errorf("Referenced topic `%s` not found", id)
}

func transformsBlock(children ...validate.ConfigError) *validate.Group {
	return validate.NewGroup("Transforms block is invalid:", children...)
}

func invalidOperators(f *validate.Failure) *validate.Group {
	children := make([]validate.ConfigError, 0, len(f.Errors))
	for _, e := range f.Errors {
		children = append(children, e)
	}
	return validate.NewGroup("Invalid operator(s):", children...)
}

/* ---------------------------------------------------------------------
   Service
   --------------------------------------------------------------------- */

// serviceScope is what a service is checked against.
type serviceScope struct {
	types     *schema.Map
	topics    []metadata.Topic
	schedules []metadata.ScheduleConfig
}

func (sc *serviceScope) topic(id string) (*metadata.Topic, bool) {
	for i := range sc.topics {
		if sc.topics[i].ID == id {
			return &sc.topics[i], true
		}
	}
	return nil, false
}

// validateService returns nil for a valid service.
func (sc *serviceScope) validateService(svc *metadata.Service) *ServiceFailure {
	sf := &ServiceFailure{Name: svc.Name}
	if svc.Name == "" {
		sf.add(validate.NewError("Service name cannot be empty"))
	}

	input, err := sc.serviceInputType(svc)
	if err != nil {
		sf.add(err)
		return sf
	}
	sf.add(sc.validateSources(svc)...)
	sf.add(sc.validateStates(svc)...)

	if f := sc.validateTransforms(svc.Transforms, input, "sources"); f.Any() {
		sf.add(transformsBlock(f))
	}
	out, ok := transformsOutput(svc.Transforms, input)
	if !ok {
		sf.add(transformsBlock(errInvalidTransforms))
		return sf
	}

	switch {
	case svc.Window != nil:
		f := &validate.Failure{}
		f.ConcatWithContext("Window", sc.validateWindow(svc.Window, out, "transforms block"))
		if f.Any() {
			sf.add(f)
		}
	case svc.Partition != nil:
		f := &validate.Failure{}
		f.ConcatWithContext("Partition", sc.validatePartition(svc.Partition, out, "transforms block"))
		if f.Any() {
			sf.add(f)
		}
	}
	if out, ok = postTransformsOutput(svc, out); !ok {
		return sf
	}
	sf.add(sc.validateSinks(svc, out)...)

	if len(sf.Errors) == 0 {
		return nil
	}
	return sf
}

func (sc *serviceScope) serviceInputType(svc *metadata.Service) (KVType, validate.ConfigError) {
	if len(svc.Sources) == 0 {
		return KVType{}, validate.NewError("Service must have at least one source")
	}
	first := svc.Sources[0]
	kv, err := sc.sourceType(&first)
	if err != nil {
		return KVType{}, validate.Errorf("Source topic `%s` not found", first.ID)
	}
	return kv, nil
}

func (sc *serviceScope) validateStates(svc *metadata.Service) []validate.ConfigError {
	var out []validate.ConfigError
	for _, st := range svc.States {
		if st.Kind == metadata.StateOwned && st.Typed != nil && !st.Typed.Type.Value.IsResolved() {
			typed := *st.Typed
			if err := typed.Resolve(sc.types); err != nil {
				out = append(out, validate.NewGroup("State is invalid:", validate.NewError(err.Error())))
				continue
			}
			st.Typed = &typed
		}
		for _, node := range state.Validate(st) {
			out = append(out, validate.NewGroup("State is invalid:", node))
		}
	}
	return out
}

/* ---------------------------------------------------------------------
   Sources and sinks
   --------------------------------------------------------------------- */

// schemaType is the type of the target of an io reference; it is nil for
// no-target.
func (sc *serviceScope) schemaType(ref *metadata.IORef) (*KVType, validate.ConfigError) {
	switch ref.Type {
	case metadata.IONoTarget:
		return nil, nil
	case metadata.IOSchedule:
		ts := TimestampType()
		return &ts, nil
	}
	t, ok := sc.topic(ref.ID)
	if !ok {
		return nil, invalidRef(ref.ID)
	}
	kv := topicType(t)
	return &kv, nil
}

func (sc *serviceScope) sourceType(ref *metadata.IORef) (KVType, validate.ConfigError) {
	if n := len(ref.Transforms); n > 0 {
		kv, err := chainOutput(ref.Transforms[n-1])
		if err != nil {
			return KVType{}, transformsBlock(validate.NewError(err.Error()))
		}
		return kv, nil
	}
	kv, err := sc.schemaType(ref)
	switch {
	case err != nil:
		return KVType{}, err
	case kv == nil:
		return KVType{}, errNoTarget
	}
	return *kv, nil
}

func (sc *serviceScope) sinkType(ref *metadata.IORef) (*KVType, validate.ConfigError) {
	if len(ref.Transforms) > 0 {
		in := stepInputType(&ref.Transforms[0].Step)
		if in == nil {
			return nil, transformsBlock(validate.NewError("The first operator in a transforms block must take an input"))
		}
		return in, nil
	}
	return sc.schemaType(ref)
}

// chainOutput is the output of a chain ending with last; a trailing filter
// passes its input through.
func chainOutput(last metadata.TransformOperator) (KVType, error) {
	if last.Type == metadata.OpFilter {
		in := stepInputType(&last.Step)
		if in == nil {
			return KVType{}, validate.NewError("Last transforms step is invalid. Filter operator should have an input type")
		}
		return *in, nil
	}
	out := stepOutputType(&last.Step)
	if out == nil {
		return KVType{}, validate.NewError("Last transforms step is invalid. Expected an operator with an output type")
	}
	return *out, nil
}

func (sc *serviceScope) validateSources(svc *metadata.Service) []validate.ConfigError {
	var errs []validate.ConfigError
	var types []namedType
	for i := range svc.Sources {
		src := &svc.Sources[i]
		if f := sc.validateSource(src); f != nil {
			errs = append(errs, validate.NewGroup("Source `"+src.ID+"` is invalid:", f...))
		}
		if kv, err := sc.sourceType(src); err == nil {
			types = append(types, namedType{name: src.ID, ty: kv})
		}
	}
	if !typesAreIdentical(types) {
		errs = append(errs, typeMismatch{what: "Sources", types: types})
	}
	return errs
}

func (sc *serviceScope) validateSource(src *metadata.IORef) []validate.ConfigError {
	var errs []validate.ConfigError
	if _, err := sc.sourceType(src); err != nil {
		errs = append(errs, err)
	}
	if topicTy, err := sc.schemaType(src); err == nil && topicTy != nil && len(src.Transforms) > 0 {
		if f := sc.validateTransforms(src.Transforms, *topicTy, "Topic `"+src.ID+"`"); f.Any() {
			errs = append(errs, invalidOperators(f))
		}
	}
	if src.Type == metadata.IOSchedule && !sc.scheduleDefined(src.ID) {
		errs = append(errs, invalidRef(src.ID))
	}
	return errs
}

func (sc *serviceScope) scheduleDefined(name string) bool {
	for _, s := range sc.schedules {
		if s.Name == name {
			return true
		}
	}
	return false
}

func (sc *serviceScope) validateSinks(svc *metadata.Service, out KVType) []validate.ConfigError {
	var errs []validate.ConfigError
	var types []namedType
	for i := range svc.Sinks {
		sink := &svc.Sinks[i]
		if f := sc.validateSink(sink, out); f != nil {
			errs = append(errs, validate.NewGroup("Sink `"+sink.ID+"` is invalid:", f...))
		}
		if kv, err := sc.sinkType(sink); err == nil && kv != nil {
			types = append(types, namedType{name: sink.ID, ty: *kv})
		}
	}
	if !typesAreIdentical(types) {
		errs = append(errs, typeMismatch{what: "Sinks", types: types})
	}
	return errs
}

func (sc *serviceScope) validateSink(sink *metadata.IORef, out KVType) []validate.ConfigError {
	var errs []validate.ConfigError
	blockErrs := &validate.Failure{}

	sinkTy, err := sc.sinkType(sink)
	switch {
	case err != nil:
		errs = append(errs, err)
	case sinkTy != nil:
		if !sameTypeName(sinkTy.Value.Name, out.Value.Name) {
			blockErrs.Pushf("service output type `%s` does not match sink input type `%s`", out.Value.Name, sinkTy.Value.Name)
		}
		if sinkTy.Key != nil && out.Key != nil && *sinkTy.Key != *out.Key {
			blockErrs.Pushf("sink transforms input key type `%s` does not match service output key type `%s`",
				sinkTy.Key.Name, out.Key.Name)
		}
	}

	if n := len(sink.Transforms); n > 0 {
		if f := sc.validateTransforms(sink.Transforms, out, "service"); f.Any() {
			errs = append(errs, invalidOperators(f))
		}
		final, chainErr := chainOutput(sink.Transforms[n-1])
		if chainErr != nil {
			blockErrs.Push(chainErr.Error())
		} else if topicTy, err := sc.schemaType(sink); err == nil {
			switch {
			case topicTy == nil:
				blockErrs.Push("sink cannot have transforms steps without a target")
			default:
				if topicTy.Value != final.Value {
					blockErrs.Pushf("transforms steps final output type `%s` does not match topic type `%s`",
						final.Value.Name, topicTy.Value.Name)
				}
				if topicTy.Key != nil && final.Key != nil && *topicTy.Key != *final.Key {
					blockErrs.Pushf("sink `%s` has transforms steps but final output key type `%s` does not match topic key type `%s`",
						sink.ID, final.Key.Name, topicTy.Key.Name)
				}
			}
		}
	}
	if blockErrs.Any() {
		errs = append(errs, transformsBlock(blockErrs))
	}
	return errs
}

/* ---------------------------------------------------------------------
   Transforms
   --------------------------------------------------------------------- */

var errInvalidTransforms = validate.NewError("could not get output type from invalid transforms")

// validateTransforms checks every step and threads the pair through the
// chain; provider names whatever produced the current pair.
func (sc *serviceScope) validateTransforms(steps []metadata.TransformOperator, expected KVType, provider string) *validate.Failure {
	f := &validate.Failure{}
	for i := range steps {
		op := &steps[i]
		f.Concat(ValidateStep(op.Type, &op.Step, sc.types))

		value, hasValue := op.Step.ValueInput()
		if op.Step.RequiresKeyParam() {
			key := op.Step.Inputs[0]
			switch {
			case expected.Key == nil:
				f.Pushf("%s function requires a key, but none was found. Make sure that you define the right key in the topic configuration",
					op.Step.Uses)
			case !sameTypeName(key.Type.Name, expected.Key.Name):
				f.Pushf("in `%s`, key type does not match expected key type. %s != %s",
					op.Step.Uses, key.Type.Name, expected.Key.Name)
			}
		}
		if hasValue && !sameTypeName(value.Type.Name, expected.Value.Name) {
			f.Pushf("Function `%s` input type was expected to match `%s` type provided by %s, but `%s` was found.",
				op.Name(), expected.Value.Name, provider, value.Type.Name)
		}
		if out := op.Step.Output; out != nil {
			if op.Type != metadata.OpFilter {
				expected = expected.apply(out.Type)
			}
			provider = "function `" + op.Name() + "`"
		}
	}
	return f
}

// transformsOutput is the pair leaving a valid chain.
func transformsOutput(steps []metadata.TransformOperator, in KVType) (KVType, bool) {
	for i := range steps {
		step := &steps[i].Step
		value, ok := step.ValueInput()
		if !ok || !sameTypeName(value.Type.Name, in.Value.Name) {
			return KVType{}, false
		}
		if step.Output != nil && steps[i].Type != metadata.OpFilter {
			in = in.apply(step.Output.Type)
		}
	}
	return in, true
}

/* ---------------------------------------------------------------------
   Window and partition
   --------------------------------------------------------------------- */

func (sc *serviceScope) validateWindow(w *metadata.Window, expected KVType, provider string) *validate.Failure {
	f := &validate.Failure{}
	f.Concat(sc.validateAssignTimestamp(&w.AssignTimestamp, expected, provider))
	f.ConcatWithContext("transforms block is invalid:", sc.validateTransforms(w.Transforms, expected, provider))

	out, ok := transformsOutput(w.Transforms, expected)
	if !ok {
		return f
	}
	if w.Partition != nil {
		f.ConcatWithContext("partition is invalid:", sc.validatePartition(w.Partition, out, "window"))
	}
	if w.Flush != nil {
		f.ConcatWithContext("flush function is invalid:", ValidateStep(metadata.OpWindowAggregate, w.Flush, sc.types))
	}
	return f
}

func (sc *serviceScope) validateAssignTimestamp(step *metadata.StepInvocation, expected KVType, provider string) *validate.Failure {
	f := &validate.Failure{}
	f.Concat(ValidateStep(metadata.OpAssignTimestamp, step, sc.types))
	if step.RequiresKeyParam() && expected.Key != nil && step.Inputs[0].Type.Name != expected.Key.Name {
		f.Pushf("assign-timestamp function `%s` input type should match `%s` provided by `%s` but found `%s`",
			step.Uses, expected.Key.Name, provider, step.Inputs[0].Type.Name)
	}
	if value, ok := step.ValueInput(); ok && value.Type.Name != expected.Value.Name {
		f.Pushf("assign-timestamp function `%s` input type should match `%s` provided by `%s` but found `%s`",
			step.Uses, expected.Value.Name, provider, value.Type.Name)
	}
	return f
}

func (sc *serviceScope) validatePartition(p *metadata.Partition, expected KVType, provider string) *validate.Failure {
	f := &validate.Failure{}
	f.Concat(sc.validateAssignKey(&p.AssignKey, expected, provider))

	keyed := expected
	if out := p.AssignKey.Output; out != nil {
		keyed = expected.withKey(out.Type.ValueType())
	}
	f.ConcatWithContext("transforms block is invalid:", sc.validateTransforms(p.Transforms, keyed, provider))

	if us := p.UpdateState; us != nil {
		f.Concat(ValidateStep(metadata.OpUpdateState, us, sc.types))
		if out, ok := transformsOutput(p.Transforms, keyed); ok {
			if value, ok := us.ValueInput(); ok && !sameTypeName(value.Type.Name, out.Value.Name) {
				f.Pushf("update-state function `%s` input type should match `%s` provided by `%s` but found `%s`",
					us.Uses, out.Value.Name, partitionProvider(p, provider), value.Type.Name)
			}
		}
	}
	return f
}

func partitionProvider(p *metadata.Partition, provider string) string {
	for i := len(p.Transforms) - 1; i >= 0; i-- {
		if p.Transforms[i].Step.Output != nil {
			return "function `" + p.Transforms[i].Name() + "`"
		}
	}
	return provider
}

func (sc *serviceScope) validateAssignKey(step *metadata.StepInvocation, expected KVType, provider string) *validate.Failure {
	f := &validate.Failure{}
	f.Concat(ValidateStep(metadata.OpAssignKey, step, sc.types))
	if step.RequiresKeyParam() {
		key := step.Inputs[0].Type
		switch {
		case expected.Key == nil:
			f.Pushf("assign-key type function `%s` requires a key type", step.Uses)
		case key.Name != expected.Key.Name:
			f.Pushf("assign-key function `%s` key type should match `%s` provided by `%s` but found `%s`",
				step.Uses, expected.Key.Name, provider, key.Name)
		}
	}
	if value, ok := step.ValueInput(); ok && value.Type.Name != expected.Value.Name {
		f.Pushf("assign-key function `%s` input type should match `%s` provided by `%s` but found `%s`",
			step.Uses, expected.Value.Name, provider, value.Type.Name)
	}
	return f
}

// postTransformsOutput is the pair leaving the window or partition stage.
func postTransformsOutput(svc *metadata.Service, in KVType) (KVType, bool) {
	switch {
	case svc.Window != nil:
		return windowOutput(svc.Window, in)
	case svc.Partition != nil:
		return partitionOutput(svc.Partition, in)
	}
	return in, true
}

func windowOutput(w *metadata.Window, in KVType) (KVType, bool) {
	out, ok := transformsOutput(w.Transforms, in)
	if !ok {
		return KVType{}, false
	}
	if w.Partition != nil {
		if out, ok = partitionOutput(w.Partition, out); !ok {
			return KVType{}, false
		}
	}
	if w.Flush != nil {
		if w.Flush.Output == nil {
			return KVType{}, false
		}
		out = outputType(w.Flush.Output.Type)
	}
	return out, true
}

func partitionOutput(p *metadata.Partition, in KVType) (KVType, bool) {
	if out := p.AssignKey.Output; out != nil {
		in = in.withKey(out.Type.ValueType())
	}
	return transformsOutput(p.Transforms, in)
}
