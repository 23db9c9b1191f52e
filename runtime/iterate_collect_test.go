package runtime_test

import (
	"testing"

	"github.com/waffletower/invokeai-graph/graph"
	"github.com/waffletower/invokeai-graph/runtime"
)

// fanOutGraph builds int_sequence("src") -> iterate("it") -> square("sq") ->
// collect("col"), the canonical iterator fan-out / collector fan-in shape
// (spec.md §8 scenarios 2 and 3).
func fanOutGraph(t *testing.T, items []any) *graph.Graph {
	t.Helper()
	g := graph.New("root")

	src := newNode(t, "int_sequence", "src")
	if err := src.SetInput("items", items); err != nil {
		t.Fatalf("SetInput(items): %v", err)
	}
	it := newNode(t, "iterate", "it")
	sq := newNode(t, "square", "sq")
	col := newNode(t, "collect", "col")

	if err := g.AddNode(src); err != nil {
		t.Fatalf("AddNode(src): %v", err)
	}
	if err := g.AddNode(it); err != nil {
		t.Fatalf("AddNode(it): %v", err)
	}
	if err := g.AddNode(sq); err != nil {
		t.Fatalf("AddNode(sq): %v", err)
	}
	if err := g.AddNode(col); err != nil {
		t.Fatalf("AddNode(col): %v", err)
	}

	if err := g.AddEdge(graph.Edge{
		From: graph.EdgeConnection{NodeID: "src", Field: "items"},
		To:   graph.EdgeConnection{NodeID: "it", Field: "collection"},
	}); err != nil {
		t.Fatalf("AddEdge(src->it): %v", err)
	}
	if err := g.AddEdge(graph.Edge{
		From: graph.EdgeConnection{NodeID: "it", Field: "item"},
		To:   graph.EdgeConnection{NodeID: "sq", Field: "value"},
	}); err != nil {
		t.Fatalf("AddEdge(it->sq): %v", err)
	}
	if err := g.AddEdge(graph.Edge{
		From: graph.EdgeConnection{NodeID: "sq", Field: "value"},
		To:   graph.EdgeConnection{NodeID: "col", Field: "item"},
	}); err != nil {
		t.Fatalf("AddEdge(sq->col): %v", err)
	}

	return g
}

// TestExecutionState_IteratorFanOutProducesDistinctResults reproduces
// spec.md §8 scenario 2: a three-element collection fed through an
// iterator produces three distinct materialized copies of its downstream
// consumer, each operating on its own element.
func TestExecutionState_IteratorFanOutProducesDistinctResults(t *testing.T) {
	state := runtime.New(fanOutGraph(t, []any{2, 3, 5}))

	executed := drive(t, state)
	// src(1) + it(3) + sq(3) + col(1) = 8
	if executed != 8 {
		t.Fatalf("executed %d nodes, want 8", executed)
	}
	if !state.IsComplete() {
		t.Fatal("state should be complete")
	}
	if state.HasError() {
		t.Fatalf("unexpected errors: %v", state.Errors)
	}

	prepared, ok := state.SourcePreparedMapping["sq"]
	if !ok || len(prepared) != 3 {
		t.Fatalf("expected 3 prepared copies of \"sq\", got %d", len(prepared))
	}

	got := map[int]bool{}
	for id := range prepared {
		out, ok := state.Results[id]
		if !ok {
			t.Fatalf("no recorded result for prepared sq copy %s", id)
		}
		v, ok := out.Field("value")
		if !ok {
			t.Fatalf("sq copy %s result has no \"value\" field", id)
		}
		got[v.(int)] = true
	}
	for _, want := range []int{4, 9, 25} {
		if !got[want] {
			t.Errorf("missing squared result %d among sq copies: %v", want, got)
		}
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 distinct squared results, got %v", got)
	}
}

// TestExecutionState_CollectReassemblesInIterationOrder reproduces
// spec.md §8 scenario 3: a collector gathers the per-iteration results
// back into a single collection in the original iteration-index order,
// not whatever order its prepared copies happened to complete in.
func TestExecutionState_CollectReassemblesInIterationOrder(t *testing.T) {
	state := runtime.New(fanOutGraph(t, []any{2, 3, 5}))

	drive(t, state)
	if state.HasError() {
		t.Fatalf("unexpected errors: %v", state.Errors)
	}

	colPrepared, ok := state.SourcePreparedMapping["col"]
	if !ok || len(colPrepared) != 1 {
		t.Fatalf("expected exactly 1 prepared copy of \"col\", got %d", len(colPrepared))
	}
	var colID string
	for id := range colPrepared {
		colID = id
	}

	out, ok := state.Results[colID]
	if !ok {
		t.Fatalf("no recorded result for prepared collect copy %s", colID)
	}
	collection, ok := out.Field("collection")
	if !ok {
		t.Fatalf("collect result has no \"collection\" field")
	}
	items, ok := collection.([]any)
	if !ok {
		t.Fatalf("collection field is %T, want []any", collection)
	}

	want := []any{4, 9, 25}
	if len(items) != len(want) {
		t.Fatalf("collection = %v, want %v", items, want)
	}
	for i, w := range want {
		if items[i] != w {
			t.Errorf("collection[%d] = %v, want %v (squares out of iteration order)", i, items[i], w)
		}
	}
}

// TestExecutionState_EmptyCollectionIteratorCompletesVacuously exercises
// the empty-collection edge case: an iterator fed zero elements produces
// zero prepared copies of its dependents, and the source path is marked
// executed vacuously rather than stalling the run.
func TestExecutionState_EmptyCollectionIteratorCompletesVacuously(t *testing.T) {
	state := runtime.New(fanOutGraph(t, []any{}))

	executed := drive(t, state)
	// src(1) + col(1): "it" and "sq" never materialize any copies.
	if executed != 2 {
		t.Fatalf("executed %d nodes, want 2", executed)
	}
	if !state.IsComplete() {
		t.Fatal("state should be complete")
	}
	if state.HasError() {
		t.Fatalf("unexpected errors: %v", state.Errors)
	}
	if !state.Executed["it"] {
		t.Error("\"it\" should be marked executed vacuously")
	}
	if !state.Executed["sq"] {
		t.Error("\"sq\" should be marked executed vacuously (starved by an empty iterator)")
	}

	colPrepared, ok := state.SourcePreparedMapping["col"]
	if !ok || len(colPrepared) != 1 {
		t.Fatalf("expected exactly 1 prepared copy of \"col\", got %d", len(colPrepared))
	}
	var colID string
	for id := range colPrepared {
		colID = id
	}
	out := state.Results[colID]
	collection, _ := out.Field("collection")
	items, _ := collection.([]any)
	if len(items) != 0 {
		t.Fatalf("collection = %v, want empty", items)
	}
}
