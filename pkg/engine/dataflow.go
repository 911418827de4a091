package engine

import (
	"errors"
	"regexp"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/siqueiraa/sdfc/pkg/metadata"
	"github.com/siqueiraa/sdfc/pkg/pipeline"
	"github.com/siqueiraa/sdfc/pkg/schema"
	"github.com/siqueiraa/sdfc/pkg/state"
	"github.com/siqueiraa/sdfc/pkg/validate"
)

const (
	dataflowReportHeader = "Dataflow Config failed validation"
	packageReportHeader  = "Package Config failed validation"

	maxTopicNameLen = 63
)

var topicNameRe = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidationError is the accumulated report of a document that failed
// validation. Its message is the full indented tree.
type ValidationError struct {
	Header string
	Errors []validate.ConfigError
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Header + "\n\n")
	for _, node := range e.Errors {
		b.WriteString(node.Readable(1) + "\n")
	}
	return b.String()
}

// Combined folds the report nodes into one multierror.
func (e *ValidationError) Combined() error {
	return validate.Combine(e.Errors...)
}

func reportOrNil(header string, nodes []validate.ConfigError) error {
	if len(nodes) == 0 {
		return nil
	}
	return &ValidationError{Header: header, Errors: nodes}
}

// Validator checks resolved definitions against a sealed type map.
type Validator struct {
	types  *schema.Map
	logger hclog.Logger
}

func NewValidator(types *schema.Map, logger hclog.Logger) *Validator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Validator{types: types, logger: logger.Named("validator")}
}

/* ---------------------------------------------------------------------
   Dataflow
   --------------------------------------------------------------------- */

// ValidateDataflow returns a *ValidationError listing every problem of def,
// or nil.
func (v *Validator) ValidateDataflow(def *metadata.DataflowDefinition) error {
	var nodes []validate.ConfigError
	add := func(n validate.ConfigError) {
		if n != nil {
			nodes = append(nodes, n)
		}
	}

	if f := validateVersion(def); f.Any() {
		add(f)
	}
	if f := def.Meta.Validate(); f.Any() {
		add(validate.NewGroup("Header is invalid:", f))
	}
	for _, t := range def.Types {
		add(v.types.ValidateNamed(t))
	}
	for i := range def.Topics {
		if g := v.validateTopic(&def.Topics[i]); g != nil {
			add(g)
		}
	}
	for _, sc := range def.Schedules {
		if err := sc.Validate(); err != nil {
			add(validate.NewGroup("Schedule `"+sc.Name+"` is invalid:",
				validate.Errorf("Failed to parse cron config: %v", unwrapSchedule(err))))
		}
	}

	scope := &serviceScope{types: v.types, topics: def.Topics, schedules: def.Schedules}
	for i := range def.Services {
		if sf := scope.validateService(&def.Services[i]); sf != nil {
			add(sf)
		}
	}
	if e, ok := undefinedStateRef(def); ok {
		add(e)
	}
	add(duplicateInlineOperators(def))

	v.logger.Debug("validated dataflow", "name", def.Meta.Name, "problems", len(nodes))
	return reportOrNil(dataflowReportHeader, nodes)
}

func validateVersion(def *metadata.DataflowDefinition) *validate.Failure {
	f := &validate.Failure{}
	ver, err := pipeline.ParseAPIVersion(def.APIVersion)
	switch {
	case err != nil:
		f.Pushf("Failed to parse version: %v", err)
	case !ver.IsV5() && !ver.IsV6():
		f.Pushf("Unsupported version: %s", def.APIVersion)
	case ver.IsV5() && len(def.Schedules) > 0:
		f.Pushf("Version %s does not support configuration: schedule, supported version: %s",
			def.APIVersion, pipeline.APIVersionV6)
	}
	return f
}

func unwrapSchedule(err error) error {
	var se *metadata.ScheduleError
	if errors.As(err, &se) && se.Err != nil {
		return se.Err
	}
	return err
}

func topicNameErrors(name string) *validate.Failure {
	f := &validate.Failure{}
	switch {
	case name == "":
		f.Push("Name cannot be empty")
		return f
	case len(name) > maxTopicNameLen:
		f.Pushf("Name is too long, Topic names may only have %d characters", maxTopicNameLen)
	}
	if !topicNameRe.MatchString(name) {
		f.Push("Name may only contain lowercase alphanumeric characters or '-'")
	}
	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") {
		f.Push("Name cannot start or end with a dash")
	}
	return f
}

func (v *Validator) validateTopic(t *metadata.Topic) *validate.Group {
	g := validate.NewGroup("Topic `" + t.Name + "` is invalid:")
	if f := topicNameErrors(t.Name); f.Any() {
		g.Add(validate.NewGroup("Topic name is invalid:", f))
	}
	if t.Schema.Key != nil && !v.types.Contains(t.Schema.Key.Type.Name) {
		g.Add(validate.Errorf("Referenced key type `%s` not found in config or imported types", t.Schema.Key.Type.Name))
	}
	if !v.types.Contains(t.Schema.Value.Type.Name) {
		g.Add(schema.RefError(t.Schema.Value.Type.Name))
	}
	if t.Schema.Value.Converter == "" {
		g.Add(validate.NewError("Topic needs to have a \"converter\" specified for serializing/deserializing records"))
	}
	if g.Empty() {
		return nil
	}
	return g
}

// undefinedStateRef reports the first state reference whose target is not an
// owned state of the dataflow.
func undefinedStateRef(def *metadata.DataflowDefinition) (validate.Error, bool) {
	for _, svc := range def.Services {
		for _, st := range svc.States {
			if st.Kind != metadata.StateRef || st.Ref == nil || st.Ref.Service == "" || st.Ref.State == "" {
				continue
			}
			target, ok := def.Service(st.Ref.Service)
			if ok {
				if owned, ok := target.State(st.Ref.State); ok && owned.Kind == metadata.StateOwned {
					continue
				}
			}
			return validate.Errorf("State with name %s is referenced in service %s but not defined in the dataflow",
				st.Ref, svc.Name), true
		}
	}
	return validate.Error{}, false
}

func duplicateInlineOperators(def *metadata.DataflowDefinition) validate.ConfigError {
	f := &validate.Failure{}
	seen := make(map[string]bool)
	reported := make(map[string]bool)
	for i := range def.Services {
		for _, op := range def.Services[i].Operators() {
			op := op
			if op.Step.Imported != nil || op.Step.IsImported(def.Imports) {
				continue
			}
			name := op.Name()
			if seen[name] && !reported[name] {
				f.Pushf("Duplicate inline operator with name: %s was found, inline operators must have unique names", name)
				reported[name] = true
			}
			seen[name] = true
		}
	}
	if !f.Any() {
		return nil
	}
	return f
}

/* ---------------------------------------------------------------------
   Package
   --------------------------------------------------------------------- */

// ValidatePackage returns a *ValidationError listing every problem of pkg,
// or nil.
func (v *Validator) ValidatePackage(pkg *metadata.PackageDefinition) error {
	var nodes []validate.ConfigError

	if f := pkg.Meta.Validate(); f.Any() {
		nodes = append(nodes, validate.NewGroup("Header is invalid:", f))
	}
	for _, t := range pkg.Types {
		if n := v.types.ValidateNamed(t); n != nil {
			nodes = append(nodes, n)
		}
	}
	for _, st := range pkg.States {
		typed := st
		if err := typed.Resolve(v.types); err != nil {
			nodes = append(nodes, validate.NewGroup("State is invalid:", validate.NewError(err.Error())))
			continue
		}
		if !typed.Type.Value.IsResolved() {
			nodes = append(nodes, validate.NewGroup("State is invalid:", schema.RefError(typed.Type.Value.Ref.Name)))
			continue
		}
		if errs := state.ValidateTyped(typed); len(errs) > 0 {
			nodes = append(nodes, validate.NewGroup("State is invalid:", errs...))
		}
	}
	fns := &validate.Failure{}
	for i := range pkg.Functions {
		fn := &pkg.Functions[i]
		fns.Concat(ValidateStep(fn.Operator, &fn.Step, v.types))
	}
	if fns.Any() {
		nodes = append(nodes, fns)
	}

	v.logger.Debug("validated package", "package", pkg.Meta.String(), "problems", len(nodes))
	return reportOrNil(packageReportHeader, nodes)
}
