package metadata

import (
	"errors"
	"fmt"
)

// OperatorPlacement locates an operator inside a service for incremental edits.
type OperatorPlacement struct {
	Service        string `json:"service"`
	Window         bool   `json:"window"`
	Partition      bool   `json:"partition"`
	TransformIndex *int   `json:"transformIndex,omitempty"`
}

// AtIndex is a convenience for a top-level transforms placement.
func AtIndex(service string, idx int) OperatorPlacement {
	return OperatorPlacement{Service: service, TransformIndex: &idx}
}

var ErrIndexRequired = errors.New("Transforms index required to delete operator from transforms")

func (s *Service) AddOperator(op OperatorType, p OperatorPlacement, step StepInvocation) error {
	switch {
	case p.Window:
		if s.Window == nil {
			return errors.New("Cannot add operator. Window was specified but service does not have a window")
		}
		if p.Partition {
			if s.Window.Partition == nil {
				return errors.New("Cannot add operator. Window and parition were specified but window does not have a partition")
			}
			return insertOperator(&s.Window.Partition.Transforms, p.TransformIndex, op, step)
		}
		return insertOperator(&s.Window.Transforms, p.TransformIndex, op, step)
	case p.Partition:
		if s.Partition == nil {
			if s.Window != nil {
				return errors.New("Cannot add operator. Service does not have top level partition. To add operator to window partition, please specify window")
			}
			return errors.New("Cannot add operator. Partition was specified but service does not have a partition")
		}
		return insertOperator(&s.Partition.Transforms, p.TransformIndex, op, step)
	}
	return insertOperator(&s.Transforms, p.TransformIndex, op, step)
}

func (s *Service) DeleteOperator(p OperatorPlacement) error {
	switch {
	case p.Window:
		if s.Window == nil {
			return errors.New("Cannot delete operator. Window was specified but service does not have a window")
		}
		if p.Partition {
			if s.Window.Partition == nil {
				return errors.New("Cannot delete operator. Window and parition were specified but window does not have a partition")
			}
			return deleteOperator(&s.Window.Partition.Transforms, p.TransformIndex)
		}
		return deleteOperator(&s.Window.Transforms, p.TransformIndex)
	case p.Partition:
		if s.Partition == nil {
			if s.Window != nil {
				return errors.New("Cannot delete operator. Service does not have top level partition. To delete operator from window partition, please specify window")
			}
			return errors.New("Cannot delete operator. Partition was specified but service does not have a partition")
		}
		return deleteOperator(&s.Partition.Transforms, p.TransformIndex)
	}
	return deleteOperator(&s.Transforms, p.TransformIndex)
}

func insertOperator(steps *[]TransformOperator, idx *int, op OperatorType, step StepInvocation) error {
	if idx == nil {
		return errors.New("Must provide transforms index to insert operator into transforms block")
	}
	if *idx < 0 || *idx > len(*steps) {
		return fmt.Errorf("cannot insert operator into transforms block, index is out of bounds, len = %d", len(*steps))
	}
	if !op.IsTransform() {
		return fmt.Errorf("OperatorType %s not supported for transforms operator", op)
	}
	s := *steps
	s = append(s, TransformOperator{})
	copy(s[*idx+1:], s[*idx:])
	s[*idx] = TransformOperator{Type: op, Step: step}
	*steps = s
	return nil
}

func deleteOperator(steps *[]TransformOperator, idx *int) error {
	if idx == nil {
		return ErrIndexRequired
	}
	if *idx < 0 || *idx >= len(*steps) {
		return fmt.Errorf("cannot delete operator from transforms block, index is out of bounds, len = %d", len(*steps))
	}
	*steps = append((*steps)[:*idx], (*steps)[*idx+1:]...)
	return nil
}
