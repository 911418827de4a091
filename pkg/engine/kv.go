package engine

import (
	"fmt"
	"strings"

	"github.com/siqueiraa/sdfc/pkg/metadata"
)

// KVType is the (key?, value) pair flowing between two stages of a service.
type KVType struct {
	Key   *metadata.TypeRef `json:"key,omitempty"`
	Value metadata.TypeRef  `json:"value"`
}

// ValueOnly is a pair without key.
func ValueOnly(name string) KVType {
	return KVType{Value: metadata.TypeRef{Name: name}}
}

// Keyed is a pair with both halves set.
func Keyed(key, value string) KVType {
	k := metadata.TypeRef{Name: key}
	return KVType{Key: &k, Value: metadata.TypeRef{Name: value}}
}

// TimestampType is what a schedule source emits.
func TimestampType() KVType {
	return ValueOnly(metadata.KindS64.String())
}

func topicType(t *metadata.Topic) KVType {
	kv := KVType{Value: t.Schema.Value.Type}
	if key, ok := t.KeyType(); ok {
		kv.Key = &key
	}
	return kv
}

func outputType(o metadata.OutputType) KVType {
	kv := KVType{Value: o.ValueType()}
	if key, ok := o.KeyType(); ok {
		kv.Key = &key
	}
	return kv
}

// stepInputType is nil when the step declares no value input.
func stepInputType(step *metadata.StepInvocation) *KVType {
	if step.RequiresKeyParam() {
		if len(step.Inputs) < 2 {
			return nil
		}
		key := step.Inputs[0].Type
		return &KVType{Key: &key, Value: step.Inputs[1].Type}
	}
	if len(step.Inputs) == 0 {
		return nil
	}
	return &KVType{Value: step.Inputs[0].Type}
}

func stepOutputType(step *metadata.StepInvocation) *KVType {
	if step.Output == nil {
		return nil
	}
	kv := outputType(step.Output.Type)
	return &kv
}

// apply moves the pair past a step with the given output: the value is
// replaced and a key-value output also replaces the key.
func (kv KVType) apply(o metadata.OutputType) KVType {
	next := KVType{Key: kv.Key, Value: o.ValueType()}
	if key, ok := o.KeyType(); ok {
		next.Key = &key
	}
	return next
}

func (kv KVType) withKey(key metadata.TypeRef) KVType {
	return KVType{Key: &key, Value: kv.Value}
}

// Equal compares both halves by exact name.
func (kv KVType) Equal(other KVType) bool {
	if kv.Value != other.Value {
		return false
	}
	switch {
	case kv.Key == nil && other.Key == nil:
		return true
	case kv.Key == nil || other.Key == nil:
		return false
	}
	return *kv.Key == *other.Key
}

func (kv KVType) String() string {
	if kv.Key != nil {
		return fmt.Sprintf("%s(key) - %s(value)", kv.Key.Name, kv.Value.Name)
	}
	return kv.Value.Name + "(value)"
}

// sameTypeName treats kebab and snake spellings as one name.
func sameTypeName(a, b string) bool {
	return strings.ReplaceAll(a, "-", "_") == strings.ReplaceAll(b, "-", "_")
}

type namedType struct {
	name string
	ty   KVType
}

// typesAreIdentical requires equal values; keys are compared only when both
// sides declare one, and the first declared key becomes the sample.
func typesAreIdentical(types []namedType) bool {
	if len(types) == 0 {
		return true
	}
	sample := types[0].ty
	for _, cur := range types[1:] {
		if cur.ty.Value != sample.Value {
			return false
		}
		switch {
		case cur.ty.Key != nil && sample.Key != nil:
			if *cur.ty.Key != *sample.Key {
				return false
			}
		case cur.ty.Key != nil:
			sample.Key = cur.ty.Key
		}
	}
	return true
}

func describeTypes(types []namedType) string {
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, t.name+": "+t.ty.String())
	}
	return strings.Join(parts, ", ")
}
