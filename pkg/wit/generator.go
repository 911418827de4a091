// Package wit renders a compiled package as a WIT interface description: a
// shared "types" interface, one service interface per function with its
// (de)serialization interfaces, and the worlds exporting them.
package wit

import (
	"cmp"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"

	"github.com/siqueiraa/sdfc/pkg/engine"
	"github.com/siqueiraa/sdfc/pkg/metadata"
	"github.com/siqueiraa/sdfc/pkg/schema"
)

const (
	APIFile       = "api.wit"
	GitignoreFile = ".gitignore"
	DefaultWorld  = "default-world"
)

var (
	// ErrNotPackage is returned when a dataflow result is handed to the generator.
	ErrNotPackage = errors.New("interface generation requires a package")
	// ErrNameCollision is returned when distinct names render to one WIT identifier.
	ErrNameCollision = errors.New("wit identifier collision")
)

// Output is one rendered package.
type Output struct {
	Package *Package
	Text    string
}

// Digest fingerprints the rendered text.
func (o *Output) Digest() uint64 {
	return xxhash.Sum64String(o.Text)
}

// Write stores api.wit and a .gitignore ignoring the whole directory under
// dir, creating it if needed. It returns the path of api.wit.
func (o *Output) Write(fs afero.Fs, dir string) (string, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, APIFile)
	if err := afero.WriteFile(fs, path, []byte(o.Text), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", APIFile, err)
	}
	if err := afero.WriteFile(fs, filepath.Join(dir, GitignoreFile), []byte("*"), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", GitignoreFile, err)
	}
	return path, nil
}

// Current reports whether dir already holds this exact api.wit. The rendered
// text covers imported packages too, so a change anywhere in the import tree
// is seen here.
func (o *Output) Current(fs afero.Fs, dir string) bool {
	data, err := afero.ReadFile(fs, filepath.Join(dir, APIFile))
	if err != nil {
		return false
	}
	return xxhash.Sum64(data) == o.Digest()
}

type Generator struct {
	logger hclog.Logger
}

func NewGenerator(logger hclog.Logger) *Generator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Generator{logger: logger.Named("wit")}
}

// FromResult renders a compiled package.
func (g *Generator) FromResult(res *engine.Result) (*Output, error) {
	if res == nil || res.Package == nil {
		return nil, ErrNotPackage
	}
	return g.Generate(res.Package, res.TypeMap())
}

// Generate renders pkg against its sealed type map. Functions keep their
// declaration order and types are ordered by name, so equal inputs render
// byte-identical text.
func (g *Generator) Generate(pkg *metadata.PackageDefinition, types *schema.Map) (*Output, error) {
	if pkg == nil {
		return nil, ErrNotPackage
	}
	if types == nil {
		var err error
		if types, err = schema.PackageTypes(pkg); err != nil {
			return nil, err
		}
	}

	p := NewPackage(Name(pkg.Meta.Namespace), Name(pkg.Meta.Name))

	world := &World{Name: DefaultWorld, Exports: []string{TypesInterface}}
	owners := make(map[string]string, len(pkg.Functions))
	for _, fn := range pkg.Functions {
		svc := serviceName(fn.Step.Uses)
		if owner, taken := owners[svc]; taken {
			return nil, fmt.Errorf("%w: `%s` from function `%s` is already declared by function `%s`", ErrNameCollision, svc, fn.Step.Uses, owner)
		}
		owners[svc] = fn.Step.Uses
		world.Exports = append(world.Exports, svc)
	}
	p.AddWorld(world)
	typesIface, err := TypesInterfaceOf(types)
	if err != nil {
		return nil, err
	}
	p.AddInterface(typesIface)

	for i := range pkg.Functions {
		fn := &pkg.Functions[i]
		p.AddInterface(ServiceInterface(fn.Operator, &fn.Step))

		de := DeserializeInterface(&fn.Step)
		p.AddInterface(de)
		p.AddWorld(&World{Name: de.Name + "-world", Exports: []string{de.Name}})

		if se, ok := SerializeInterface(&fn.Step); ok {
			p.AddInterface(se)
			p.AddWorld(&World{Name: se.Name + "-world", Exports: []string{se.Name}})
		}
	}

	out := &Output{Package: p, Text: p.String()}
	g.logger.Debug("rendered package", "package", pkg.Meta.String(),
		"functions", len(pkg.Functions), "types", types.Len(), "digest", fmt.Sprintf("%016x", out.Digest()))
	return out, nil
}

func serviceName(uses string) string { return Name(uses) + "-service" }

/* ---------------------------------------------------------------------
   Function interfaces
   --------------------------------------------------------------------- */

// ServiceInterface declares the function itself: key parameters and optional
// inputs are options, flat-map outputs are lists, and every result carries a
// string error.
func ServiceInterface(op metadata.OperatorType, step *metadata.StepInvocation) *Interface {
	iface := &Interface{Name: serviceName(step.Uses)}
	if u, ok := typesUse(stepTypeNames(step)); ok {
		iface.Uses = append(iface.Uses, u)
	}
	iface.Uses = append(iface.Uses, stateUses(op, step)...)

	fn := Func{Name: Ident(step.Uses)}
	for _, in := range step.Inputs {
		ty := TypeRef(in.Type.Name)
		if in.Optional || in.Kind == metadata.ParamKey {
			ty = option(ty)
		}
		fn.Params = append(fn.Params, Param{Name: Ident(in.Name), Type: ty})
	}

	if step.Output == nil {
		fn.Result = result("_", "string")
	} else {
		ty := outputType(step.Output.Type)
		switch {
		case step.Output.Optional:
			ty = option(ty)
		case op == metadata.OpFlatMap:
			ty = list(ty)
		}
		fn.Result = result(ty, "string")
	}
	iface.Funcs = []Func{fn}
	return iface
}

func outputType(o metadata.OutputType) string {
	if kv := o.KeyValue; kv != nil {
		return tuple(option(TypeRef(kv.Key.Name)), TypeRef(kv.Value.Name))
	}
	return TypeRef(o.Ref.Name)
}

func stepTypeNames(step *metadata.StepInvocation) []string {
	var names []string
	for _, in := range step.Inputs {
		names = append(names, in.Type.Name)
	}
	if step.Output != nil {
		names = append(names, step.Output.Type.ValueType().Name)
		if k, ok := step.Output.Type.KeyType(); ok {
			names = append(names, k.Name)
		}
	}
	for _, st := range step.States {
		if st.IsResolved() {
			names = append(names, st.Resolved.Name)
		}
	}
	return names
}

// stateUses imports the runtime handles backing the step's resolved states.
// Aggregates read whole windows, every other operator a single entry.
func stateUses(op metadata.OperatorType, step *metadata.StepInvocation) []Use {
	var uses []Use
	add := func(target, item string) {
		u := Use{Target: target, Items: []string{item}}
		if !slices.ContainsFunc(uses, func(o Use) bool { return o.String() == u.String() }) {
			uses = append(uses, u)
		}
	}
	aggregate := op == metadata.OpWindowAggregate
	for _, st := range step.States {
		if !st.IsResolved() {
			continue
		}
		switch st.Resolved.Type.Value.Kind {
		case metadata.ValueArrowRow:
			if aggregate {
				add(dfPackage, DfValueType)
			} else {
				add(rowPackage, RowValueType)
			}
		case metadata.ValueU32:
			if aggregate {
				add(valuesPackage, ListU32Type)
			} else {
				add(valuesPackage, ValueU32Type)
			}
		}
	}
	slices.SortFunc(uses, func(a, b Use) int { return cmp.Compare(a.String(), b.String()) })
	return uses
}

func inputOf(step *metadata.StepInvocation, kind metadata.ParameterKind) (metadata.TypeRef, bool) {
	for _, in := range step.Inputs {
		if in.Kind == kind {
			return in.Type, true
		}
	}
	return metadata.TypeRef{}, false
}

// DeserializeInterface decodes the raw key and value of a record into the
// function's input types. Missing inputs decode to bytes.
func DeserializeInterface(step *metadata.StepInvocation) *Interface {
	iface := &Interface{Name: "deserialize-" + Name(step.Uses)}
	var imported []string

	keyType := bytesList
	if k, ok := inputOf(step, metadata.ParamKey); ok {
		keyType = TypeRef(k.Name)
		imported = append(imported, k.Name)
	}
	valueType := bytesList
	if v, ok := inputOf(step, metadata.ParamValue); ok {
		valueType = TypeRef(v.Name)
		imported = append(imported, v.Name)
	}

	if u, ok := typesUse(imported); ok {
		iface.Uses = []Use{u}
	}
	iface.Funcs = []Func{
		{
			Name:   "deserialize-key",
			Params: []Param{{Name: "key", Type: option("string")}},
			Result: result(option(keyType), "string"),
		},
		{
			Name:   "deserialize-input",
			Params: []Param{{Name: "value", Type: "string"}},
			Result: result(valueType, "string"),
		},
	}
	return iface
}

// SerializeInterface encodes the function's output; functions without an
// output have none.
func SerializeInterface(step *metadata.StepInvocation) (*Interface, bool) {
	if step.Output == nil {
		return nil, false
	}
	iface := &Interface{Name: "serialize-" + Name(step.Uses)}
	value := step.Output.Type.ValueType()
	imported := []string{value.Name}

	keyType := bytesList
	if k, ok := step.Output.Type.KeyType(); ok {
		keyType = TypeRef(k.Name)
		imported = append(imported, k.Name)
	}

	iface.Funcs = []Func{
		{
			Name:   "serialize-key",
			Params: []Param{{Name: "input", Type: option(keyType)}},
			Result: result(option(bytesList), "string"),
		},
		{
			Name:   "serialize-output",
			Params: []Param{{Name: "input", Type: TypeRef(value.Name)}},
			Result: result(bytesList, "string"),
		},
	}
	if u, ok := typesUse(imported); ok {
		iface.Uses = []Use{u}
	}
	return iface, true
}
