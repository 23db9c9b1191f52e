package graph

import (
	"context"
	"fmt"

	"github.com/waffletower/invokeai-graph/core"
	"github.com/waffletower/invokeai-graph/registry"
)

// The three structural invocations live here rather than in core,
// because GraphInvocation must embed a *Graph and core must not depend
// on graph (core is imported by registry, which graph imports — a
// dependency the other direction would cycle). They register themselves
// into the registry's global singleton via SetStructuralHook in this
// file's init(), mirroring the core.SetSubtypeChecker indirection the
// registry package uses for the nominal-subtype checker.

// GraphInvocation embeds a self-contained nested Graph as a single node
// (spec.md §4: "nested subgraphs via GraphInvocation"). Its registered
// schema declares no input or output ports of its own; edges reach the
// nodes inside it by dotted node path instead.
type GraphInvocation struct {
	core.BaseInvocation
	Graph *Graph
}

func newGraphInvocation() core.Invocation {
	return &GraphInvocation{
		BaseInvocation: core.BaseInvocation{TypeValue: "graph"},
		Graph:          New(""),
	}
}

func (n *GraphInvocation) Clone() core.Invocation {
	c := &GraphInvocation{BaseInvocation: n.BaseInvocation}
	clone := *n.Graph
	clone.Nodes = make(map[string]core.Invocation, len(n.Graph.Nodes))
	for id, node := range n.Graph.Nodes {
		clone.Nodes[id] = node.Clone()
	}
	clone.NodeOrder = append([]string(nil), n.Graph.NodeOrder...)
	clone.Edges = append([]Edge(nil), n.Graph.Edges...)
	c.Graph = &clone
	return c
}

func (n *GraphInvocation) GetInput(name string) (any, bool) {
	return nil, false
}

func (n *GraphInvocation) SetInput(name string, value any) error {
	return fmt.Errorf("graph: no declared input field %q", name)
}

// Invoke is never reached directly: a GraphInvocation's body is expanded
// into individual execution-graph copies by the runtime package's
// _prepare, the same way graph.py's GraphInvocation is never itself
// executed — only the nodes nested inside it are.
func (n *GraphInvocation) Invoke(_ context.Context, _ core.InvocationContext) (core.Output, error) {
	return nil, fmt.Errorf("graph: structural node %s has no direct invocation", n.ID())
}

// IterateInvocation fans a single collection input out into one
// execution-graph copy of its dependents per element (spec.md §4: source
// graph vs. expanded execution graph).
type IterateInvocation struct {
	core.BaseInvocation
	Collection []any
	Index      int
}

func newIterateInvocation() core.Invocation {
	return &IterateInvocation{BaseInvocation: core.BaseInvocation{TypeValue: "iterate"}}
}

func (n *IterateInvocation) Clone() core.Invocation {
	c := *n
	c.Collection = append([]any(nil), n.Collection...)
	return &c
}

func (n *IterateInvocation) GetInput(name string) (any, bool) {
	if name != "collection" {
		return nil, false
	}
	return n.Collection, true
}

func (n *IterateInvocation) SetInput(name string, value any) error {
	if name != "collection" {
		return fmt.Errorf("iterate: no input field %q", name)
	}
	items, ok := value.([]any)
	if !ok {
		return fmt.Errorf("iterate: collection expects []any, got %T", value)
	}
	n.Collection = items
	return nil
}

func (n *IterateInvocation) Invoke(_ context.Context, _ core.InvocationContext) (core.Output, error) {
	if n.Index < 0 || n.Index >= len(n.Collection) {
		return nil, fmt.Errorf("iterate: index %d out of range for collection of %d", n.Index, len(n.Collection))
	}
	return iterateOutput{item: n.Collection[n.Index], index: n.Index, total: len(n.Collection)}, nil
}

type iterateOutput struct {
	item  any
	index int
	total int
}

func (o iterateOutput) Type() string { return "iterate_output" }

func (o iterateOutput) Field(name string) (any, bool) {
	switch name {
	case "item":
		return o.item, true
	case "index":
		return o.index, true
	case "total":
		return o.total, true
	default:
		return nil, false
	}
}

// CollectInvocation fans multiple execution-graph copies' item outputs
// back into a single collection, the inverse of IterateInvocation.
type CollectInvocation struct {
	core.BaseInvocation
	Items []any
}

func newCollectInvocation() core.Invocation {
	return &CollectInvocation{BaseInvocation: core.BaseInvocation{TypeValue: "collect"}}
}

func (n *CollectInvocation) Clone() core.Invocation {
	c := *n
	c.Items = append([]any(nil), n.Items...)
	return &c
}

func (n *CollectInvocation) GetInput(name string) (any, bool) {
	if name != "item" {
		return nil, false
	}
	return n.Items, true
}

// SetInput assigns the whole gathered item list in one shot: the runtime
// package's input-preparation step (spec.md §4.4d) collects every
// inbound item-port edge's value itself and passes the assembled slice
// here once per materialized collect node, mirroring graph.py's single
// setattr(node, 'collection', output_collection) call.
func (n *CollectInvocation) SetInput(name string, value any) error {
	if name != "item" {
		return fmt.Errorf("collect: no input field %q", name)
	}
	items, ok := value.([]any)
	if !ok {
		return fmt.Errorf("collect: item expects []any, got %T", value)
	}
	n.Items = items
	return nil
}

func (n *CollectInvocation) Invoke(_ context.Context, _ core.InvocationContext) (core.Output, error) {
	items := append([]any(nil), n.Items...)
	return collectOutput{items: items}, nil
}

type collectOutput struct {
	items []any
}

func (o collectOutput) Type() string { return "collect_output" }

func (o collectOutput) Field(name string) (any, bool) {
	if name != "collection" {
		return nil, false
	}
	return o.items, true
}

func registerStructuralVariants(r *registry.Registry) {
	wildcard := core.Wildcard()

	r.Register(registry.VariantDef{
		Schema:  core.VariantSchema{Type: "graph"},
		Factory: newGraphInvocation,
	})

	// collection/collection are declared wildcard, not Sequence(Wildcard):
	// core.Compatible has no rule for matching a concrete Sequence(T)
	// against a Sequence(Wildcard) (its wildcard rule only fires when an
	// endpoint's *own* kind is KindWildcard, not when wildcard appears
	// nested inside a sequence argument), so a Sequence(Wildcard) port
	// could never generically accept any real producer's Sequence(int)
	// output. The real "is this actually a sequence, and does its element
	// type line up" check is §4.3's iterator/collector shape invariant
	// (validateIterator/validateCollector), which runs independently of
	// the generic port-compatibility check on every edge touching these
	// ports — so the generic declared type only needs to let any producer
	// through, matching spec.md §4.1's note that sequence types get their
	// own handling rather than generic structural matching.
	r.Register(registry.VariantDef{
		Schema: core.VariantSchema{
			Type:    "iterate",
			Inputs:  []core.FieldDef{{Name: "collection", Type: wildcard, Required: true}},
			Outputs: []core.FieldDef{{Name: "item", Type: wildcard}},
		},
		Factory: newIterateInvocation,
	})

	r.Register(registry.VariantDef{
		Schema: core.VariantSchema{
			Type:    "collect",
			Inputs:  []core.FieldDef{{Name: "item", Type: wildcard, Required: true}},
			Outputs: []core.FieldDef{{Name: "collection", Type: wildcard}},
		},
		Factory: newCollectInvocation,
	})
}

func init() {
	registry.SetStructuralHook(registerStructuralVariants)
}
