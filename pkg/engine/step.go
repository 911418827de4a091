package engine

import (
	"fmt"
	"strings"

	"github.com/siqueiraa/sdfc/pkg/metadata"
	"github.com/siqueiraa/sdfc/pkg/schema"
	"github.com/siqueiraa/sdfc/pkg/validate"
)

// windowAggregateKind is how flush functions are named in reports.
const windowAggregateKind = "window-aggregate"

// ValidateStep checks the shape contract of one operator function: input
// arity, output presence and kind, and that every referenced type is in
// scope. It returns nil when the step is valid.
func ValidateStep(op metadata.OperatorType, step *metadata.StepInvocation, types *schema.Map) *validate.Failure {
	c := stepChecker{step: step, types: types, f: &validate.Failure{}}
	switch op {
	case metadata.OpMap, metadata.OpFlatMap:
		c.valueInputs(1, op.String())
		c.outputPresent(op.String())
		c.inputsInScope()
		c.outputInScope()
	case metadata.OpFilter:
		c.valueInputs(1, op.String())
		c.boolOutput()
		c.inputsInScope()
		c.outputInScope()
	case metadata.OpFilterMap:
		c.valueInputs(1, op.String())
		c.outputPresent(op.String())
		c.optionalOutput(op.String())
		c.inputsInScope()
		c.outputInScope()
	case metadata.OpUpdateState:
		c.valueInputs(1, op.String())
		c.inputsInScope()
		c.noOutput(op.String())
	case metadata.OpWindowAggregate:
		c.noInputs(windowAggregateKind)
		c.outputPresent(windowAggregateKind)
		c.outputInScope()
	case metadata.OpAssignKey:
		c.valueInputs(1, op.String())
		c.outputPresent(op.String())
		c.inputsInScope()
		c.outputInScope()
		c.hashableOutput()
	case metadata.OpAssignTimestamp:
		c.valueInputs(2, op.String())
		c.outputPresent(op.String())
		c.inputsInScope()
		c.outputInScope()
		c.timestampSignature()
	}
	c.code()
	if !c.f.Any() {
		return nil
	}
	return c.f
}

type stepChecker struct {
	step  *metadata.StepInvocation
	types *schema.Map
	f     *validate.Failure
}

func (c *stepChecker) valueInputs(n int, kind string) {
	inputs := c.step.Inputs
	if len(inputs) == 0 {
		c.f.Pushf("%s type function `%s` should have exactly %d input type, found 0", kind, c.step.Uses, n)
		return
	}
	expected := n
	if inputs[0].Kind == metadata.ParamKey {
		expected++
	}
	if len(inputs) != expected {
		c.f.Pushf("%s type function `%s` should have exactly %d input type, found %d",
			kind, c.step.Uses, expected, len(inputs))
	}
}

func (c *stepChecker) noInputs(kind string) {
	if len(c.step.Inputs) == 0 {
		return
	}
	params := make([]string, 0, len(c.step.Inputs))
	for _, p := range c.step.Inputs {
		params = append(params, fmt.Sprintf("[%s: %s]", p.Name, p.Type.Name))
	}
	c.f.Pushf("%s type function `%s` should have no input type, but found %s",
		kind, c.step.Uses, strings.Join(params, ", "))
}

func (c *stepChecker) outputPresent(kind string) {
	if c.step.Output == nil {
		c.f.Pushf("%s type function `%s` requires an output type", kind, c.step.Uses)
	}
}

func (c *stepChecker) noOutput(kind string) {
	if out := c.step.Output; out != nil {
		c.f.Pushf("%s type function `%s` should have no output, but found `%s`",
			kind, c.step.Uses, out.Type.ValueType().Name)
	}
}

func (c *stepChecker) boolOutput() {
	out := c.step.Output
	if out != nil && out.IsBool() {
		return
	}
	found := "no type"
	if out != nil {
		found = "`" + out.Type.ValueType().Name + "`"
	}
	c.f.Pushf("filter type function `%s` requires an output type of `bool`, but found %s", c.step.Uses, found)
}

func (c *stepChecker) optionalOutput(kind string) {
	out := c.step.Output
	if out != nil {
		if out.Optional {
			return
		}
		if out.Type.KeyValue == nil {
			if inner, ok := c.types.InnerTypeName(out.Type.Ref.Name); ok {
				if t, ok := c.types.Get(inner); ok && t.Kind == metadata.KindOption {
					return
				}
			}
		}
	}
	c.f.Pushf("%s type function `%s` requires an optional output type", kind, c.step.Uses)
}

func (c *stepChecker) inputsInScope() {
	for _, in := range c.step.Inputs {
		if !c.types.Contains(in.Type.Name) {
			c.f.Pushf("function `%s` has invalid input type, %s", c.step.Uses, schema.RefError(in.Type.Name).Msg)
		}
	}
}

func (c *stepChecker) outputInScope() {
	if out := c.step.Output; out != nil {
		name := out.Type.ValueType().Name
		if !c.types.Contains(name) {
			c.f.Pushf("function `%s` has invalid output type, %s", c.step.Uses, schema.RefError(name).Msg)
		}
	}
}

func (c *stepChecker) hashableOutput() {
	out := c.step.Output
	if out == nil {
		return
	}
	name := out.Type.ValueType().Name
	t, ok := c.types.Get(name)
	if !ok {
		return
	}
	if !c.types.IsHashable(t) {
		c.f.Pushf("output type for assign-key type function `%s` must be hashable, or a reference to a hashable type. found `%s`.\n hashable types: [%s]",
			c.step.Uses, name, schema.HashablePrimitivesList())
	}
}

func (c *stepChecker) timestampSignature() {
	if n := len(c.step.Inputs); n > 0 {
		last := c.step.Inputs[n-1].Type.Name
		if !c.types.IsS64(last) {
			c.f.Pushf("second input type for assign-timestamp type function `%s` must be a signed 64-bit int or an alias for one, found: `%s`",
				c.step.Uses, last)
		}
	}
	if out := c.step.Output; out != nil {
		name := out.Type.ValueType().Name
		if !c.types.IsS64(name) {
			c.f.Pushf("output type for assign-timestamp type function `%s` must be a signed 64-bit int or an alias for one, found: `%s`",
				c.step.Uses, name)
		}
	}
}

// code compares the name of an inline function with the step it backs.
func (c *stepChecker) code() {
	if c.step.Code.Code == "" {
		return
	}
	name := c.step.Code.FunctionName()
	if name == "" {
		c.f.Pushf("could not find a function definition in the code of `%s`", c.step.Uses)
		return
	}
	if name != c.step.Uses {
		c.f.Pushf("function name on parsed code does not match. Got %s, expected: %s", name, c.step.Uses)
	}
}
