package schema

import (
	"slices"

	"github.com/siqueiraa/sdfc/pkg/metadata"
	"github.com/siqueiraa/sdfc/pkg/validate"
)

// RefError is the line reported for a type name that is not in scope.
func RefError(name string) validate.Error {
	return validate.Errorf("Referenced type `%s` not found in config or imported types", name)
}

// Validate checks every type of the map and groups failures per type.
func (m *Map) Validate() error {
	var nodes []validate.ConfigError
	for _, t := range m.All() {
		if err := m.ValidateNamed(t); err != nil {
			nodes = append(nodes, err)
		}
	}
	return validate.Combine(nodes...)
}

// ValidateNamed is ValidateType headed by the name of the type.
func (m *Map) ValidateNamed(t metadata.MetadataType) validate.ConfigError {
	var errs []validate.ConfigError
	if t.Name == "" {
		errs = append(errs, validate.NewError("Type name cannot be empty"))
	}
	if err := m.ValidateType(t.Type); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return validate.NewGroup("Defined type `"+t.Name+"` is invalid:", errs...)
}

// ValidateType checks names and references of one type. It returns nil when
// the type is valid.
func (m *Map) ValidateType(t metadata.SdfType) validate.ConfigError {
	switch t.Kind {
	case metadata.KindEnum:
		return group("Enum type is invalid:", m.validateEnum(t.Enum))
	case metadata.KindKeyedState:
		return group("Keyed state type is invalid:", m.validateKeyedState(t.KeyedState))
	case metadata.KindObject:
		return group("Object type is invalid:", m.validateObject(t.Object))
	case metadata.KindArrowRow:
		return group("Arrow row type is invalid:", validateArrowRow(t.ArrowRow))
	case metadata.KindList, metadata.KindOption:
		if !m.Contains(t.Ref.Name) {
			return RefError(t.Ref.Name)
		}
	case metadata.KindNamed:
		if slices.Contains(compositeKinds, t.Ref.Name) {
			return validate.Errorf("Invalid syntax for %s. Check that the internal attributes are properly defined", t.Ref.Name)
		}
		if !m.Contains(t.Ref.Name) {
			return RefError(t.Ref.Name)
		}
	case metadata.KindKeyValue:
		if !m.Contains(t.KeyValue.Key.Name) {
			return RefError(t.KeyValue.Key.Name)
		}
		if !m.Contains(t.KeyValue.Value.Name) {
			return RefError(t.KeyValue.Value.Name)
		}
	}
	return nil
}

var compositeKinds = []string{"enum", "object", "list", "option", "keyed-state", "arrow-row", "key-value"}

func group(header string, children []validate.ConfigError) validate.ConfigError {
	if len(children) == 0 {
		return nil
	}
	return validate.NewGroup(header, children...)
}

func (m *Map) validateEnum(e *metadata.Enum) []validate.ConfigError {
	var errs []validate.ConfigError
	seen := make(map[string]bool, len(e.Variants))
	for _, v := range e.Variants {
		if v.Name == "" {
			errs = append(errs, validate.NewError("Enum variant name cannot be empty"))
		}
		if seen[v.Name] {
			errs = append(errs, validate.Errorf("Duplicate enum variant name `%s`", v.Name))
		}
		seen[v.Name] = true
		if v.Value == nil {
			continue
		}
		if v.Value.Name == "" {
			errs = append(errs, validate.NewError("Enum variant does not reference any type"))
		} else if !m.Contains(v.Value.Name) {
			errs = append(errs, RefError(v.Value.Name))
		}
	}
	return errs
}

func (m *Map) validateObject(o *metadata.Object) []validate.ConfigError {
	var errs []validate.ConfigError
	seen := make(map[string]bool, len(o.Fields))
	for _, f := range o.Fields {
		if f.Name == "" {
			errs = append(errs, validate.NewError("Field name cannot be empty"))
		}
		if !m.Contains(f.Type.Name) {
			errs = append(errs, RefError(f.Type.Name))
		}
		if seen[f.Name] {
			errs = append(errs, validate.Errorf("Duplicate field name `%s`", f.Name))
		}
		seen[f.Name] = true
	}
	return errs
}

func validateArrowRow(r *metadata.ArrowRow) []validate.ConfigError {
	if r == nil {
		return nil
	}
	var errs []validate.ConfigError
	seen := make(map[string]bool, len(r.Columns))
	for _, c := range r.Columns {
		if c.Name == "" {
			errs = append(errs, validate.NewError("Column name cannot be empty"))
		}
		if seen[c.Name] {
			errs = append(errs, validate.Errorf("Column name `%s` is duplicated. Column names must be unique", c.Name))
		}
		seen[c.Name] = true
	}
	return errs
}

// ValidateArrowRow is exposed for states whose value is an inline row.
func ValidateArrowRow(r *metadata.ArrowRow) validate.ConfigError {
	errs := validateArrowRow(r)
	if len(errs) == 0 {
		return nil
	}
	return validate.NewGroup("Arrow row value is invalid", errs...)
}

func (m *Map) validateKeyedState(ks *metadata.KeyedState) []validate.ConfigError {
	var errs []validate.ConfigError
	if !m.Contains(ks.Key.Name) {
		errs = append(errs, validate.Errorf("Referenced key type `%s` not found in config or imported types", ks.Key.Name))
	}
	switch ks.Value.Kind {
	case metadata.ValueArrowRow:
		if err := ValidateArrowRow(ks.Value.Row); err != nil {
			errs = append(errs, err)
		}
	case metadata.ValueUnresolved:
		if !m.Contains(ks.Value.Ref.Name) {
			errs = append(errs, RefError(ks.Value.Ref.Name))
		}
	}
	return errs
}
