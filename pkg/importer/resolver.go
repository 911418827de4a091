package importer

import (
	"slices"
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/xlab/treeprint"

	"github.com/siqueiraa/sdfc/pkg/metadata"
	"github.com/siqueiraa/sdfc/pkg/validate"
)

type resolution int

const (
	unresolved resolution = iota
	resolved
)

// node is one package of the arena. deps index into Resolver.nodes.
type node struct {
	pkg        *metadata.PackageDefinition
	deps       []int
	resolution resolution
}

// Resolver resolves a package import graph. Packages live in an arena
// addressed by index; a topological order computed up front lets every node
// be resolved after all of its imports in one pass.
type Resolver struct {
	imports []metadata.PackageImport
	nodes   []*node
	index   map[string]int
	order   []int
	logger  hclog.Logger
}

// Build indexes packages by header key and resolves everything reachable
// from imports. Packages are copied; the inputs are left untouched.
func Build(imports []metadata.PackageImport, packages []*metadata.PackageDefinition, logger hclog.Logger) (*Resolver, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	r := &Resolver{
		imports: imports,
		index:   make(map[string]int, len(packages)),
		logger:  logger.Named("importer"),
	}
	for _, p := range packages {
		key := p.Meta.Key()
		if _, dup := r.index[key]; dup {
			continue
		}
		r.index[key] = len(r.nodes)
		r.nodes = append(r.nodes, &node{pkg: clonePackage(p)})
	}
	if err := r.sort(); err != nil {
		return nil, err
	}
	if err := r.resolve(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Resolver) lookup(key string) (int, error) {
	idx, ok := r.index[key]
	if !ok {
		keys := make([]string, 0, len(r.index))
		for k := range r.index {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		s, _ := validate.Suggest(key, keys)
		return 0, &DependencyError{Kind: KindMissing, Key: key, Suggestion: s}
	}
	return idx, nil
}

// link looks up the imports of one node. Only nodes reachable from the root
// imports are linked, so an unrelated package may name a missing dependency.
func (r *Resolver) link(idx int) error {
	n := r.nodes[idx]
	n.deps = n.deps[:0]
	for _, imp := range n.pkg.Imports {
		dep, err := r.lookup(imp.Metadata.Key())
		if err != nil {
			return err
		}
		n.deps = append(n.deps, dep)
	}
	return nil
}

const (
	white = iota
	grey
	black
)

// sort computes a post-order over the nodes reachable from the root imports
// with a three-color depth first search. Reaching a grey node is a cycle.
func (r *Resolver) sort() error {
	color := make([]int, len(r.nodes))
	var stack []int

	var visit func(idx int) error
	visit = func(idx int) error {
		switch color[idx] {
		case black:
			return nil
		case grey:
			start := slices.Index(stack, idx)
			path := make([]string, 0, len(stack)-start+1)
			for _, i := range stack[start:] {
				path = append(path, r.nodes[i].pkg.Meta.String())
			}
			path = append(path, r.nodes[idx].pkg.Meta.String())
			return &DependencyError{Kind: KindCycle, Key: r.nodes[idx].pkg.Meta.Key(), Path: path}
		}
		color[idx] = grey
		stack = append(stack, idx)
		if err := r.link(idx); err != nil {
			return err
		}
		for _, dep := range r.nodes[idx].deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		color[idx] = black
		r.order = append(r.order, idx)
		return nil
	}

	for _, imp := range r.imports {
		idx, err := r.lookup(imp.Metadata.Key())
		if err != nil {
			return err
		}
		if err := visit(idx); err != nil {
			return err
		}
	}
	return nil
}

// resolve walks the topological order. Every dependency of a node precedes
// it, so a node is merged exactly once and only from resolved children.
func (r *Resolver) resolve() error {
	for _, idx := range r.order {
		n := r.nodes[idx]
		if n.resolution == resolved {
			continue
		}
		children := make([]*metadata.PackageDefinition, 0, len(n.deps))
		for _, dep := range n.deps {
			children = append(children, r.nodes[dep].pkg)
		}
		if err := mergePackage(n.pkg, children); err != nil {
			return &DependencyError{Kind: KindConflict, Key: n.pkg.Meta.Key(), Msg: "package " + n.pkg.Meta.String(), Err: err}
		}
		n.resolution = resolved
		r.logger.Debug("resolved package", "package", n.pkg.Meta.String(), "imports", len(n.deps))
	}
	return nil
}

// Packages returns every resolved package, ordered by key.
func (r *Resolver) Packages() []*metadata.PackageDefinition {
	out := make([]*metadata.PackageDefinition, 0, len(r.order))
	for _, n := range r.nodes {
		if n.resolution == resolved {
			out = append(out, n.pkg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Meta.Key() < out[j].Meta.Key() })
	return out
}

// Order returns the headers in resolution order.
func (r *Resolver) Order() []metadata.Header {
	out := make([]metadata.Header, 0, len(r.order))
	for _, idx := range r.order {
		out = append(out, r.nodes[idx].pkg.Meta)
	}
	return out
}

// Tree renders the import graph below root.
func (r *Resolver) Tree(root string) string {
	tree := treeprint.NewWithRoot(root)
	for _, imp := range r.imports {
		if idx, ok := r.index[imp.Metadata.Key()]; ok {
			r.addBranch(tree, idx)
		}
	}
	return tree.String()
}

func (r *Resolver) addBranch(parent treeprint.Tree, idx int) {
	n := r.nodes[idx]
	if len(n.deps) == 0 {
		parent.AddNode(n.pkg.Meta.String())
		return
	}
	branch := parent.AddBranch(n.pkg.Meta.String())
	for _, dep := range n.deps {
		r.addBranch(branch, dep)
	}
}

func clonePackage(p *metadata.PackageDefinition) *metadata.PackageDefinition {
	c := *p
	c.Types = slices.Clone(p.Types)
	c.States = slices.Clone(p.States)
	c.Imports = slices.Clone(p.Imports)
	c.Functions = slices.Clone(p.Functions)
	for i := range c.Functions {
		c.Functions[i].Step.States = slices.Clone(p.Functions[i].Step.States)
	}
	return &c
}
