package wit

import (
	"fmt"
	"strings"
)

const indent = "  "

// Use imports items from another interface: `use target.{a, b};`.
type Use struct {
	Target string
	Items  []string
}

func (u Use) String() string {
	return fmt.Sprintf("use %s.{%s};", u.Target, strings.Join(u.Items, ", "))
}

type Param struct {
	Name string
	Type string
}

type Func struct {
	Name   string
	Params []Param
	Result string
}

func (f Func) String() string {
	params := make([]string, 0, len(f.Params))
	for _, p := range f.Params {
		params = append(params, p.Name+": "+p.Type)
	}
	s := fmt.Sprintf("%s: func(%s)", f.Name, strings.Join(params, ", "))
	if f.Result != "" {
		s += " -> " + f.Result
	}
	return s + ";"
}

type defKind int

const (
	defAlias defKind = iota
	defRecord
	defVariant
)

// Case is one case of a variant; Type is empty for payload-less cases.
type Case struct {
	Name string
	Type string
}

// TypeDef is a named type of an interface.
type TypeDef struct {
	Name   string
	kind   defKind
	alias  string
	fields []Param
	cases  []Case
}

func Alias(name, target string) TypeDef {
	return TypeDef{Name: name, kind: defAlias, alias: target}
}

func Record(name string, fields ...Param) TypeDef {
	return TypeDef{Name: name, kind: defRecord, fields: fields}
}

func Variant(name string, cases ...Case) TypeDef {
	return TypeDef{Name: name, kind: defVariant, cases: cases}
}

func (t TypeDef) write(b *strings.Builder, pad string) {
	switch t.kind {
	case defAlias:
		fmt.Fprintf(b, "%stype %s = %s;\n", pad, t.Name, t.alias)
	case defRecord:
		fmt.Fprintf(b, "%srecord %s {\n", pad, t.Name)
		for _, f := range t.fields {
			fmt.Fprintf(b, "%s%s%s: %s,\n", pad, indent, f.Name, f.Type)
		}
		b.WriteString(pad + "}\n")
	case defVariant:
		fmt.Fprintf(b, "%svariant %s {\n", pad, t.Name)
		for _, c := range t.cases {
			if c.Type == "" {
				fmt.Fprintf(b, "%s%s%s,\n", pad, indent, c.Name)
				continue
			}
			fmt.Fprintf(b, "%s%s%s(%s),\n", pad, indent, c.Name, c.Type)
		}
		b.WriteString(pad + "}\n")
	}
}

type Interface struct {
	Name  string
	Uses  []Use
	Types []TypeDef
	Funcs []Func
}

func (i *Interface) write(b *strings.Builder) {
	fmt.Fprintf(b, "interface %s {\n", i.Name)
	for _, u := range i.Uses {
		b.WriteString(indent + u.String() + "\n")
	}
	for _, t := range i.Types {
		t.write(b, indent)
	}
	for _, f := range i.Funcs {
		b.WriteString(indent + f.String() + "\n")
	}
	b.WriteString("}\n")
}

// World exports named interfaces of the package.
type World struct {
	Name    string
	Exports []string
}

func (w *World) write(b *strings.Builder) {
	fmt.Fprintf(b, "world %s {\n", w.Name)
	for _, e := range w.Exports {
		fmt.Fprintf(b, "%sexport %s;\n", indent, e)
	}
	b.WriteString("}\n")
}

type item interface {
	write(b *strings.Builder)
}

// Package is a WIT package. Items render in insertion order.
type Package struct {
	Namespace string
	Name      string
	items     []item
}

func NewPackage(namespace, name string) *Package {
	return &Package{Namespace: namespace, Name: name}
}

func (p *Package) AddInterface(i *Interface) { p.items = append(p.items, i) }
func (p *Package) AddWorld(w *World)         { p.items = append(p.items, w) }

// Interfaces lists the interfaces in insertion order.
func (p *Package) Interfaces() []*Interface {
	var out []*Interface
	for _, it := range p.items {
		if i, ok := it.(*Interface); ok {
			out = append(out, i)
		}
	}
	return out
}

func (p *Package) Worlds() []*World {
	var out []*World
	for _, it := range p.items {
		if w, ok := it.(*World); ok {
			out = append(out, w)
		}
	}
	return out
}

func (p *Package) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "package %s:%s;\n", p.Namespace, p.Name)
	for _, it := range p.items {
		b.WriteString("\n")
		it.write(&b)
	}
	return b.String()
}
