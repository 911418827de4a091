package metadata

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
)

// OperatorType is the kind of an operator.
type OperatorType int

const (
	OpMap OperatorType = iota
	OpFilter
	OpFilterMap
	OpFlatMap
	OpAssignKey
	OpAssignTimestamp
	OpUpdateState
	OpWindowAggregate
)

var operatorIDs = map[OperatorType]string{
	OpMap:             "map",
	OpFilter:          "filter",
	OpFilterMap:       "filter-map",
	OpFlatMap:         "flat-map",
	OpAssignKey:       "assign-key",
	OpAssignTimestamp: "assign-timestamp",
	OpUpdateState:     "update-state",
	OpWindowAggregate: "aggregate",
}

func (o OperatorType) String() string { return operatorIDs[o] }

func (o OperatorType) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(o.String())), nil
}

// ParseOperatorType accepts the ids used by the `operator` field.
func ParseOperatorType(id string) (OperatorType, error) {
	for op, name := range operatorIDs {
		if name == id {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operator `%s`", id)
}

func IsOperatorID(id string) bool {
	_, err := ParseOperatorType(id)
	return err == nil
}

// IsTransform reports operators allowed in a transforms block.
func (o OperatorType) IsTransform() bool {
	return o == OpMap || o == OpFilter || o == OpFilterMap || o == OpFlatMap
}

type ParameterKind int

const (
	ParamValue ParameterKind = iota
	ParamKey
)

func (k ParameterKind) MarshalJSON() ([]byte, error) {
	if k == ParamKey {
		return []byte(`"key"`), nil
	}
	return []byte(`"value"`), nil
}

type NamedParameter struct {
	Name     string        `json:"name"`
	Type     TypeRef       `json:"type"`
	Optional bool          `json:"optional,omitempty"`
	Kind     ParameterKind `json:"kind"`
}

// OutputType is a plain type reference or a key-value pair.
type OutputType struct {
	Ref      TypeRef   `json:"ref,omitzero"`
	KeyValue *KeyValue `json:"keyValue,omitempty"`
}

// ValueType is the value half of the output.
func (o OutputType) ValueType() TypeRef {
	if o.KeyValue != nil {
		return o.KeyValue.Value
	}
	return o.Ref
}

// KeyType is set only for key-value outputs.
func (o OutputType) KeyType() (TypeRef, bool) {
	if o.KeyValue != nil {
		return o.KeyValue.Key, true
	}
	return TypeRef{}, false
}

type Parameter struct {
	Type     OutputType `json:"type"`
	Optional bool       `json:"optional,omitempty"`
	List     bool       `json:"list,omitempty"`
}

func (p Parameter) IsBool() bool {
	return p.Type.KeyValue == nil && NormalizeScalar(p.Type.Ref.Name) == "bool"
}

type CodeLang string

const (
	LangRust   CodeLang = "rust"
	LangPython CodeLang = "python"
)

type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Path    string `json:"path,omitempty"`
}

// CodeInfo carries inline code of a step, if any.
type CodeInfo struct {
	Code      string       `json:"code,omitempty"`
	Lang      CodeLang     `json:"lang"`
	ExtraDeps []Dependency `json:"extraDeps,omitempty"`
}

var fnNamePatterns = map[CodeLang]*regexp.Regexp{
	LangRust:   regexp.MustCompile(`fn\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
	LangPython: regexp.MustCompile(`def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
}

// FunctionName extracts the name of the first function defined in the code.
func (c CodeInfo) FunctionName() string {
	re, ok := fnNamePatterns[c.Lang]
	if !ok {
		return ""
	}
	m := re.FindStringSubmatch(c.Code)
	if m == nil {
		return ""
	}
	return m[1]
}

// ImportedFunctionMetadata records where an imported step came from.
type ImportedFunctionMetadata struct {
	Package Header `json:"package"`
	Name    string `json:"name"`
	Alias   string `json:"alias,omitempty"`
	// Path is the package directory relative to the importing document.
	Path string `json:"path,omitempty"`
}

// StepInvocation is the typed signature of one operator function.
type StepInvocation struct {
	Uses     string                    `json:"uses"`
	Inputs   []NamedParameter          `json:"inputs"`
	Output   *Parameter                `json:"output,omitempty"`
	States   []StepState               `json:"states,omitempty"`
	Code     CodeInfo                  `json:"code"`
	Imported *ImportedFunctionMetadata `json:"imported,omitempty"`
}

// RequiresKeyParam is true when the first input is the record key.
func (s *StepInvocation) RequiresKeyParam() bool {
	return len(s.Inputs) > 0 && s.Inputs[0].Kind == ParamKey
}

func (s *StepInvocation) HasKeyInOutput() bool {
	return s.Output != nil && s.Output.Type.KeyValue != nil
}

// ValueInput is the parameter receiving the record value.
func (s *StepInvocation) ValueInput() (NamedParameter, bool) {
	idx := 0
	if s.RequiresKeyParam() {
		idx = 1
	}
	if idx >= len(s.Inputs) {
		return NamedParameter{}, false
	}
	return s.Inputs[idx], true
}

// IsImported reports whether Uses names a function of one of imports.
func (s *StepInvocation) IsImported(imports []PackageImport) bool {
	return slices.ContainsFunc(imports, func(i PackageImport) bool {
		_, ok := i.ImportsFunction(s.Uses)
		return ok
	})
}

// StateNames lists the states the step declares, in order.
func (s *StepInvocation) StateNames() []string {
	names := make([]string, 0, len(s.States))
	for _, st := range s.States {
		names = append(names, st.Name)
	}
	return names
}

// TransformOperator is an operator together with its function.
type TransformOperator struct {
	Type OperatorType   `json:"operator"`
	Step StepInvocation `json:"step"`
}

func (t TransformOperator) Name() string { return t.Step.Uses }
