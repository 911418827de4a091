package schema

import (
	"testing"

	"github.com/siqueiraa/sdfc/pkg/metadata"
)

func readable(t *testing.T, m *Map, ty metadata.SdfType) string {
	t.Helper()
	err := m.ValidateType(ty)
	if err == nil {
		return ""
	}
	return err.Readable(0)
}

func TestValidateType(t *testing.T) {
	m := mustSeal(t, NewBuilder())

	tests := []struct {
		name     string
		ty       metadata.SdfType
		expected string
	}{
		{"primitive", metadata.Scalar(metadata.KindU64), ""},
		{"null", metadata.Scalar(metadata.KindNull), ""},
		{
			name: "enum empty variant",
			ty: metadata.SdfType{Kind: metadata.KindEnum, Enum: &metadata.Enum{
				Variants: []metadata.EnumVariant{{Name: "", Value: &metadata.TypeRef{Name: "u8"}}},
			}},
			expected: "Enum type is invalid:\n    Enum variant name cannot be empty\n",
		},
		{
			name: "enum duplicate variant",
			ty: metadata.SdfType{Kind: metadata.KindEnum, Enum: &metadata.Enum{
				Variants: []metadata.EnumVariant{{Name: "a"}, {Name: "a"}},
			}},
			expected: "Enum type is invalid:\n    Duplicate enum variant name `a`\n",
		},
		{
			name: "keyed state key",
			ty: metadata.SdfType{Kind: metadata.KindKeyedState, KeyedState: &metadata.KeyedState{
				Key: metadata.TypeRef{Name: "foobar"},
				Value: metadata.KeyedStateValue{Kind: metadata.ValueArrowRow, Row: &metadata.ArrowRow{
					Columns: []metadata.ArrowColumn{{Name: "number", Type: "s32"}},
				}},
			}},
			expected: "Keyed state type is invalid:\n    Referenced key type `foobar` not found in config or imported types\n",
		},
		{
			name: "keyed state row",
			ty: metadata.SdfType{Kind: metadata.KindKeyedState, KeyedState: &metadata.KeyedState{
				Key: metadata.TypeRef{Name: "string"},
				Value: metadata.KeyedStateValue{Kind: metadata.ValueArrowRow, Row: &metadata.ArrowRow{
					Columns: []metadata.ArrowColumn{{Name: "", Type: "s32"}},
				}},
			}},
			expected: "Keyed state type is invalid:\n    Arrow row value is invalid\n        Column name cannot be empty\n",
		},
		{"list", metadata.ListOf("u8"), ""},
		{"list invalid", metadata.ListOf("foobar"), "Referenced type `foobar` not found in config or imported types\n"},
		{"option invalid", metadata.OptionOf("foobar"), "Referenced type `foobar` not found in config or imported types\n"},
		{
			name:     "object empty field",
			ty:       metadata.ObjectOf(metadata.ObjectField{Name: "", Type: metadata.TypeRef{Name: "string"}}),
			expected: "Object type is invalid:\n    Field name cannot be empty\n",
		},
		{
			name: "object duplicate field",
			ty: metadata.ObjectOf(
				metadata.ObjectField{Name: "a", Type: metadata.TypeRef{Name: "string"}},
				metadata.ObjectField{Name: "a", Type: metadata.TypeRef{Name: "nope"}},
			),
			expected: "Object type is invalid:\n    Referenced type `nope` not found in config or imported types\n    Duplicate field name `a`\n",
		},
		{"renamed", metadata.Named("string"), ""},
		{"renamed missing", metadata.Named("foobar"), "Referenced type `foobar` not found in config or imported types\n"},
		{"composite keyword", metadata.Named("object"), "Invalid syntax for object. Check that the internal attributes are properly defined\n"},
		{
			name: "arrow row duplicate",
			ty: metadata.SdfType{Kind: metadata.KindArrowRow, ArrowRow: &metadata.ArrowRow{
				Columns: []metadata.ArrowColumn{{Name: "x", Type: "u8"}, {Name: "x", Type: "u8"}},
			}},
			expected: "Arrow row type is invalid:\n    Column name `x` is duplicated. Column names must be unique\n",
		},
		{
			name:     "key value",
			ty:       metadata.SdfType{Kind: metadata.KindKeyValue, KeyValue: &metadata.KeyValue{Key: metadata.TypeRef{Name: "string"}, Value: metadata.TypeRef{Name: "gone"}}},
			expected: "Referenced type `gone` not found in config or imported types\n",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := readable(t, m, tt.ty); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestMapValidateGroupsPerType(t *testing.T) {
	b := NewBuilder()
	b.InsertLocal("ok", metadata.Named("string"))
	b.InsertLocal("broken", metadata.Named("missing"))
	b.InsertLocal("also-broken", metadata.ListOf("gone"))
	b.InsertLocal("", metadata.Scalar(metadata.KindU8))
	m := mustSeal(t, b)

	err := m.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	expected := "Defined type `` is invalid:\n" +
		"    Type name cannot be empty\n" +
		"Defined type `also-broken` is invalid:\n" +
		"    Referenced type `gone` not found in config or imported types\n" +
		"Defined type `broken` is invalid:\n" +
		"    Referenced type `missing` not found in config or imported types"
	if err.Error() != expected {
		t.Errorf("Expected:\n%s\ngot:\n%s", expected, err.Error())
	}
}
