package state

import (
	"fmt"

	"github.com/siqueiraa/sdfc/pkg/metadata"
	"github.com/siqueiraa/sdfc/pkg/schema"
	"github.com/siqueiraa/sdfc/pkg/validate"
)

const refForm = "state reference must be of the form <service>.<state>"

// Validate checks one entry of a service pool and returns the report nodes
// of its problems. Typed states must have been resolved first.
func Validate(st metadata.State) []validate.ConfigError {
	var f *validate.Failure
	switch st.Kind {
	case metadata.StateOwned:
		if st.Typed != nil {
			return ValidateTyped(*st.Typed)
		}
		return nil
	case metadata.StateRef:
		f = validateRef(st.Ref)
	default:
		f = validateSystem(st.Name, st.System)
	}
	if !f.Any() {
		return nil
	}
	return []validate.ConfigError{f}
}

// ValidateTyped checks a keyed state whose value was resolved.
func ValidateTyped(st metadata.StateTyped) []validate.ConfigError {
	switch st.Type.Value.Kind {
	case metadata.ValueUnresolved:
		return []validate.ConfigError{validate.NewError(
			"Internal Error: typed state value should be resolved before validation. Please contact support")}
	case metadata.ValueArrowRow:
		if row := schema.ValidateArrowRow(st.Type.Value.Row); row != nil {
			return []validate.ConfigError{row}
		}
	}
	return nil
}

func validateRef(ref *metadata.StateRefTarget) *validate.Failure {
	f := &validate.Failure{}
	if ref == nil {
		f.Pushf("empty state reference found. %s", refForm)
		return f
	}
	switch {
	case ref.Service == "" && ref.State == "":
		f.Pushf("empty state reference found. %s", refForm)
	case ref.State == "":
		f.Pushf("state name missing for state reference. %s", refForm)
	case ref.Service == "":
		f.Pushf("service name missing for state reference. %s", refForm)
	}
	return f
}

func validateSystem(name, system string) *validate.Failure {
	f := &validate.Failure{}
	switch {
	case name == "" && system == "":
		f.Push("empty system state found. state name and system cannot be empty")
	case name == "":
		f.Push("Name must be specified for system state")
	case system == "":
		f.Push(fmt.Sprintf("System must be specified for system state `%s`", name))
	}
	return f
}
