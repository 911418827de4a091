package metadata

import (
	"errors"
	"fmt"
)

// ErrInvalidStateValue is returned when a keyed-state value resolves to a type
// that cannot back a state.
var ErrInvalidStateValue = errors.New("invalid type for keyed state value")

// ValueKind is the resolution state of a keyed-state value.
type ValueKind int

const (
	ValueUnresolved ValueKind = iota
	ValueU32
	ValueArrowRow
)

// KeyedStateValue starts Unresolved and is narrowed once by Resolve.
type KeyedStateValue struct {
	Kind ValueKind `json:"kind"`
	Ref  TypeRef   `json:"ref,omitzero"`
	Row  *ArrowRow `json:"row,omitempty"`
}

func UnresolvedValue(name string) KeyedStateValue {
	return KeyedStateValue{Kind: ValueUnresolved, Ref: TypeRef{Name: name}}
}

func (v KeyedStateValue) IsResolved() bool { return v.Kind != ValueUnresolved }

type KeyedState struct {
	Key   TypeRef         `json:"key"`
	Value KeyedStateValue `json:"value"`
}

// StateTyped is a named keyed state.
type StateTyped struct {
	Name string     `json:"name"`
	Type KeyedState `json:"type"`
}

// Resolve narrows an Unresolved value by looking its type up in types. A
// missing type is left unresolved for validation to report; resolved values
// are not touched, so calling Resolve again is a no-op.
func (s *StateTyped) Resolve(types TypeLookup) error {
	if s.Type.Value.IsResolved() {
		return nil
	}
	ty, ok := types.Get(s.Type.Value.Ref.Name)
	if !ok {
		k, native := ScalarKind(s.Type.Value.Ref.Name)
		if !native {
			return nil
		}
		ty = Scalar(k)
	}
	switch ty.Kind {
	case KindU32:
		s.Type.Value = KeyedStateValue{Kind: ValueU32}
	case KindArrowRow:
		row := *ty.ArrowRow
		s.Type.Value = KeyedStateValue{Kind: ValueArrowRow, Row: &row}
	default:
		return fmt.Errorf("state `%s`: %w", s.Name, ErrInvalidStateValue)
	}
	return nil
}

// StateKind discriminates service state declarations.
type StateKind int

const (
	StateOwned StateKind = iota
	StateRef
	StateSystem
)

// StateRefTarget is the `service.state` pair of a state reference.
type StateRefTarget struct {
	Service string `json:"service"`
	State   string `json:"state"`
}

func (r StateRefTarget) String() string { return r.Service + "." + r.State }

// State is one entry of a service's state pool.
type State struct {
	Kind   StateKind       `json:"kind"`
	Name   string          `json:"name"`
	Typed  *StateTyped     `json:"typed,omitempty"`
	Ref    *StateRefTarget `json:"ref,omitempty"`
	System string          `json:"system,omitempty"`
}

// Resolved returns the typed state behind the entry; references are typed
// only after the state resolver has followed them.
func (s State) Resolved() (*StateTyped, bool) {
	return s.Typed, s.Typed != nil
}

// StepState is a state used by an operator, resolved against the service pool.
type StepState struct {
	Name     string      `json:"name"`
	Resolved *StateTyped `json:"resolved,omitempty"`
}

func (s StepState) IsResolved() bool { return s.Resolved != nil }
