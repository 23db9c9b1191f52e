package graph_test

import (
	"context"
	"errors"
	"testing"

	"github.com/waffletower/invokeai-graph/core"
	"github.com/waffletower/invokeai-graph/graph"
	"github.com/waffletower/invokeai-graph/registry"
)

func mustNode(t *testing.T, typeName, id string) core.Invocation {
	t.Helper()
	n, err := registry.Global().New(typeName)
	if err != nil {
		t.Fatalf("New(%q): %v", typeName, err)
	}
	n.SetID(id)
	return n
}

// stringValueInvocation is a test-only node variant with a non-int scalar
// output, registered onto the global registry so a genuinely incompatible
// edge can be built — none of the existing builtins have two incompatible
// non-wildcard scalar types to connect.
type stringValueInvocation struct {
	core.BaseInvocation
	Value string
}

func (n *stringValueInvocation) Clone() core.Invocation      { c := *n; return &c }
func (n *stringValueInvocation) GetInput(string) (any, bool) { return nil, false }
func (n *stringValueInvocation) SetInput(name string, value any) error {
	return nil
}
func (n *stringValueInvocation) Invoke(context.Context, core.InvocationContext) (core.Output, error) {
	return nil, nil
}

func init() {
	registry.Global().Register(registry.VariantDef{
		Schema: core.VariantSchema{
			Type:    "string_value",
			Outputs: []core.FieldDef{{Name: "value", Type: core.Scalar("string")}},
		},
		Factory: func() core.Invocation {
			return &stringValueInvocation{BaseInvocation: core.BaseInvocation{TypeValue: "string_value"}}
		},
	})
}

func TestAddEdge_RejectsCycle(t *testing.T) {
	g := graph.New("root")
	c := mustNode(t, "add", "c")
	d := mustNode(t, "square", "d")
	if err := g.AddNode(c); err != nil {
		t.Fatalf("AddNode(c): %v", err)
	}
	if err := g.AddNode(d); err != nil {
		t.Fatalf("AddNode(d): %v", err)
	}

	if err := g.AddEdge(graph.Edge{
		From: graph.EdgeConnection{NodeID: "c", Field: "value"},
		To:   graph.EdgeConnection{NodeID: "d", Field: "value"},
	}); err != nil {
		t.Fatalf("AddEdge(c->d): %v", err)
	}

	err := g.AddEdge(graph.Edge{
		From: graph.EdgeConnection{NodeID: "d", Field: "value"},
		To:   graph.EdgeConnection{NodeID: "c", Field: "a"},
	})
	if !errors.Is(err, graph.ErrCyclicalGraph) {
		t.Fatalf("AddEdge(d->c) error = %v, want ErrCyclicalGraph", err)
	}
}

func TestAddEdge_RejectsSecondProducerForSamePort(t *testing.T) {
	g := graph.New("root")
	a := mustNode(t, "int_value", "a")
	e := mustNode(t, "int_value", "e")
	b := mustNode(t, "square", "b")
	for _, n := range []core.Invocation{a, e, b} {
		if err := g.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s): %v", n.ID(), err)
		}
	}

	if err := g.AddEdge(graph.Edge{
		From: graph.EdgeConnection{NodeID: "a", Field: "value"},
		To:   graph.EdgeConnection{NodeID: "b", Field: "value"},
	}); err != nil {
		t.Fatalf("first AddEdge: %v", err)
	}

	err := g.AddEdge(graph.Edge{
		From: graph.EdgeConnection{NodeID: "e", Field: "value"},
		To:   graph.EdgeConnection{NodeID: "b", Field: "value"},
	})
	if !errors.Is(err, graph.ErrInvalidEdge) {
		t.Fatalf("second AddEdge to an occupied port: err = %v, want ErrInvalidEdge", err)
	}
}

func TestAddEdge_DedupesIdenticalEdge(t *testing.T) {
	g := graph.New("root")
	a := mustNode(t, "int_sequence", "a")
	it := mustNode(t, "iterate", "it")
	collect := mustNode(t, "collect", "collect")
	for _, n := range []core.Invocation{a, it, collect} {
		if err := g.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s): %v", n.ID(), err)
		}
	}
	if err := g.AddEdge(graph.Edge{
		From: graph.EdgeConnection{NodeID: "a", Field: "items"},
		To:   graph.EdgeConnection{NodeID: "it", Field: "collection"},
	}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	e := graph.Edge{
		From: graph.EdgeConnection{NodeID: "it", Field: "item"},
		To:   graph.EdgeConnection{NodeID: "collect", Field: "item"},
	}
	if err := g.AddEdge(e); err != nil {
		t.Fatalf("first AddEdge(it->collect): %v", err)
	}
	if err := g.AddEdge(e); err != nil {
		t.Fatalf("re-adding an identical edge should be deduped, not error: %v", err)
	}

	count := 0
	for _, existing := range g.Edges {
		if existing.Equal(e) {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("edge list contains %d copies of the re-added edge, want 1", count)
	}
}

func TestAddEdge_RejectsIncompatiblePortTypes(t *testing.T) {
	g := graph.New("root")
	s := mustNode(t, "string_value", "s")
	b := mustNode(t, "square", "b")
	if err := g.AddNode(s); err != nil {
		t.Fatalf("AddNode(s): %v", err)
	}
	if err := g.AddNode(b); err != nil {
		t.Fatalf("AddNode(b): %v", err)
	}

	err := g.AddEdge(graph.Edge{
		From: graph.EdgeConnection{NodeID: "s", Field: "value"},
		To:   graph.EdgeConnection{NodeID: "b", Field: "value"},
	})
	if !errors.Is(err, graph.ErrInvalidEdge) {
		t.Fatalf("AddEdge(string->int port): err = %v, want ErrInvalidEdge", err)
	}
}

func TestAddEdge_IteratorShapeInvariant(t *testing.T) {
	g := graph.New("root")
	a := mustNode(t, "int_value", "a")
	it := mustNode(t, "iterate", "it")
	if err := g.AddNode(a); err != nil {
		t.Fatalf("AddNode(a): %v", err)
	}
	if err := g.AddNode(it); err != nil {
		t.Fatalf("AddNode(it): %v", err)
	}

	// a.value is a scalar int, not a sequence: violates the iterator shape
	// invariant even though the generic wildcard port check passes.
	err := g.AddEdge(graph.Edge{
		From: graph.EdgeConnection{NodeID: "a", Field: "value"},
		To:   graph.EdgeConnection{NodeID: "it", Field: "collection"},
	})
	if !errors.Is(err, graph.ErrInvalidEdge) {
		t.Fatalf("AddEdge(scalar->iterate.collection): err = %v, want ErrInvalidEdge", err)
	}

	seq := mustNode(t, "int_sequence", "seq")
	if err := g.AddNode(seq); err != nil {
		t.Fatalf("AddNode(seq): %v", err)
	}
	if err := g.AddEdge(graph.Edge{
		From: graph.EdgeConnection{NodeID: "seq", Field: "items"},
		To:   graph.EdgeConnection{NodeID: "it", Field: "collection"},
	}); err != nil {
		t.Fatalf("AddEdge(sequence->iterate.collection) should be valid: %v", err)
	}
}

func TestAddEdge_CollectorShapeInvariantRejectsAmbiguousRoot(t *testing.T) {
	g := graph.New("root")
	i1 := mustNode(t, "int_value", "i1")
	s1 := mustNode(t, "string_value", "s1")
	collect := mustNode(t, "collect", "collect")
	for _, n := range []core.Invocation{i1, s1, collect} {
		if err := g.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s): %v", n.ID(), err)
		}
	}

	if err := g.AddEdge(graph.Edge{
		From: graph.EdgeConnection{NodeID: "i1", Field: "value"},
		To:   graph.EdgeConnection{NodeID: "collect", Field: "item"},
	}); err != nil {
		t.Fatalf("AddEdge(i1->collect.item): %v", err)
	}

	err := g.AddEdge(graph.Edge{
		From: graph.EdgeConnection{NodeID: "s1", Field: "value"},
		To:   graph.EdgeConnection{NodeID: "collect", Field: "item"},
	})
	if !errors.Is(err, graph.ErrInvalidEdge) {
		t.Fatalf("AddEdge(s1->collect.item) with an int already feeding it: err = %v, want ErrInvalidEdge (ambiguous root)", err)
	}
}
