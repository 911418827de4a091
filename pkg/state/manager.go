package state

import (
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/siqueiraa/sdfc/pkg/metadata"
	"github.com/siqueiraa/sdfc/pkg/validate"
)

/* -------------------------------------------------------------------------- */
/*  Errors                                                                    */
/* -------------------------------------------------------------------------- */

type ErrorKind int

const (
	// ErrUndefinedRef: a `from: service.state` reference names no typed state.
	ErrUndefinedRef ErrorKind = iota
	// ErrUnresolvedStep: a step names a state missing from its service pool.
	ErrUnresolvedStep
	// ErrConflict: an injected state clashes with a different definition.
	ErrConflict
	// ErrNotResolved: a state was injected before it was resolved.
	ErrNotResolved
	// ErrInvalidValue: a keyed-state value resolved to an unusable type.
	ErrInvalidValue
)

// ResolutionError reports a state that could not be tied to a definition.
type ResolutionError struct {
	Kind       ErrorKind
	Service    string
	State      string
	Suggestion string
	Err        error
}

func (e *ResolutionError) Error() string {
	var msg string
	switch e.Kind {
	case ErrUndefinedRef:
		msg = fmt.Sprintf("State with name %s is referenced in service %s but not defined in the dataflow", e.State, e.Service)
	case ErrUnresolvedStep:
		msg = fmt.Sprintf("Could not resolve state: %s", e.State)
	case ErrConflict:
		msg = fmt.Sprintf("state %s is already defined", e.State)
	case ErrNotResolved:
		msg = fmt.Sprintf("state %s is not resolved", e.State)
	default:
		msg = e.Err.Error()
	}
	if e.Suggestion != "" {
		msg += fmt.Sprintf("; did you mean `%s`?", e.Suggestion)
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

func (e *ResolutionError) Readable(indents int) string {
	return validate.NewError(e.Error()).Readable(indents)
}

func suggestion(name string, candidates []string) string {
	s, _ := validate.Suggest(name, candidates)
	return s
}

/* -------------------------------------------------------------------------- */
/*  Manager                                                                   */
/* -------------------------------------------------------------------------- */

// Manager resolves state pools against a type map. Every service owns a pool
// made of its typed states, references to other services' typed states and
// opaque system states; steps then resolve their states against that pool.
type Manager struct {
	types  metadata.TypeLookup
	logger hclog.Logger
}

func NewManager(types metadata.TypeLookup, logger hclog.Logger) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Manager{types: types, logger: logger.Named("state")}
}

// ResolveDataflow resolves owned states, then references, then every step
// state of every service. Failures of all services are combined.
func (m *Manager) ResolveDataflow(def *metadata.DataflowDefinition) error {
	var result *multierror.Error

	for i := range def.Services {
		if err := m.resolveOwned(&def.Services[i]); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for i := range def.Services {
		if err := m.resolveRefs(def, &def.Services[i]); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result.ErrorOrNil() != nil {
		return result.ErrorOrNil()
	}
	for i := range def.Services {
		if err := m.ResolveSteps(&def.Services[i]); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (m *Manager) resolveOwned(svc *metadata.Service) error {
	for i := range svc.States {
		st := &svc.States[i]
		if st.Kind != metadata.StateOwned || st.Typed == nil {
			continue
		}
		if err := st.Typed.Resolve(m.types); err != nil {
			return &ResolutionError{Kind: ErrInvalidValue, Service: svc.Name, State: st.Name, Err: err}
		}
	}
	return nil
}

func (m *Manager) resolveRefs(def *metadata.DataflowDefinition, svc *metadata.Service) error {
	for i := range svc.States {
		st := &svc.States[i]
		if st.Kind != metadata.StateRef || st.Ref == nil {
			continue
		}
		typed, ok := ownedState(def, *st.Ref)
		if !ok {
			return &ResolutionError{
				Kind:       ErrUndefinedRef,
				Service:    svc.Name,
				State:      st.Ref.String(),
				Suggestion: suggestion(st.Ref.String(), ownedStateNames(def)),
			}
		}
		resolved := *typed
		resolved.Name = st.Name
		st.Typed = &resolved
		m.logger.Debug("resolved state reference", "service", svc.Name, "state", st.Name, "from", st.Ref.String())
	}
	return nil
}

func ownedState(def *metadata.DataflowDefinition, ref metadata.StateRefTarget) (*metadata.StateTyped, bool) {
	svc, ok := def.Service(ref.Service)
	if !ok {
		return nil, false
	}
	st, ok := svc.State(ref.State)
	if !ok || st.Kind != metadata.StateOwned || st.Typed == nil {
		return nil, false
	}
	return st.Typed, true
}

func ownedStateNames(def *metadata.DataflowDefinition) []string {
	var names []string
	for _, svc := range def.Services {
		for _, st := range svc.States {
			if st.Kind == metadata.StateOwned {
				names = append(names, svc.Name+"."+st.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// ResolveSteps ties every unresolved step state of svc to the typed entry of
// its pool. Already resolved step states are kept.
func (m *Manager) ResolveSteps(svc *metadata.Service) error {
	pool := Typed(svc.States)
	return svc.WalkSteps(func(_ metadata.OperatorType, step *metadata.StepInvocation) error {
		if err := ResolveStepStates(step, pool); err != nil {
			var re *ResolutionError
			if errors.As(err, &re) {
				re.Service = svc.Name
			}
			return err
		}
		return nil
	})
}

// ResolvePackage resolves package states with the manager's types and the
// states of every function against them.
func (m *Manager) ResolvePackage(pkg *metadata.PackageDefinition) error {
	for i := range pkg.States {
		if err := pkg.States[i].Resolve(m.types); err != nil {
			return &ResolutionError{Kind: ErrInvalidValue, State: pkg.States[i].Name, Err: err}
		}
	}
	for i := range pkg.Functions {
		if err := ResolveStepStates(&pkg.Functions[i].Step, pkg.States); err != nil {
			return fmt.Errorf("function `%s`: %w", pkg.Functions[i].Step.Uses, err)
		}
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/*  Pool helpers                                                              */
/* -------------------------------------------------------------------------- */

// Typed lists the typed entries of a pool: owned states and references that
// were already followed. System states are opaque and never typed.
func Typed(pool []metadata.State) []metadata.StateTyped {
	out := make([]metadata.StateTyped, 0, len(pool))
	for _, st := range pool {
		if st.Kind != metadata.StateSystem && st.Typed != nil {
			out = append(out, *st.Typed)
		}
	}
	return out
}

// ResolveStepStates resolves the states of one step against typed states.
func ResolveStepStates(step *metadata.StepInvocation, states []metadata.StateTyped) error {
	for i := range step.States {
		ss := &step.States[i]
		if ss.IsResolved() {
			continue
		}
		found := false
		for j := range states {
			if states[j].Name == ss.Name {
				resolved := states[j]
				ss.Resolved = &resolved
				found = true
				break
			}
		}
		if !found {
			names := make([]string, 0, len(states))
			for _, s := range states {
				names = append(names, s.Name)
			}
			return &ResolutionError{Kind: ErrUnresolvedStep, State: ss.Name, Suggestion: suggestion(ss.Name, names)}
		}
	}
	return nil
}

// InjectStates adds the resolved states of an imported step to the pool of
// svc. Re-injecting an identical definition is a no-op.
func InjectStates(svc *metadata.Service, states []metadata.StepState) error {
	for _, ss := range states {
		if !ss.IsResolved() {
			return &ResolutionError{Kind: ErrNotResolved, Service: svc.Name, State: ss.Name}
		}
		typed := *ss.Resolved
		if prev, ok := svc.State(typed.Name); ok {
			if prev.Kind != metadata.StateOwned || prev.Typed == nil || !reflect.DeepEqual(*prev.Typed, typed) {
				return &ResolutionError{Kind: ErrConflict, Service: svc.Name, State: typed.Name}
			}
			continue
		}
		svc.States = append(svc.States, metadata.State{Kind: metadata.StateOwned, Name: typed.Name, Typed: &typed})
	}
	return nil
}
