package invoker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/waffletower/invokeai-graph/core"
	"github.com/waffletower/invokeai-graph/graph"
	"github.com/waffletower/invokeai-graph/invoker"
	"github.com/waffletower/invokeai-graph/queue"
	"github.com/waffletower/invokeai-graph/registry"
	"github.com/waffletower/invokeai-graph/store"
)

func newGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New("root")
	def, ok := registry.Global().Get("int_value")
	if !ok {
		t.Fatalf("int_value not registered")
	}
	n := def.Factory()
	n.SetID("a")
	if err := g.AddNode(n); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	return g
}

func TestInvoker_CreateExecutionState_Persists(t *testing.T) {
	st := store.NewMemStore()
	inv := invoker.New(st, queue.NewMemQueue(4), nil)

	state, err := inv.CreateExecutionState(context.Background(), newGraph(t))
	if err != nil {
		t.Fatalf("CreateExecutionState: %v", err)
	}

	got, err := st.Get(context.Background(), state.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != state.ID {
		t.Fatalf("persisted ID = %q, want %q", got.ID, state.ID)
	}
}

func TestInvoker_Invoke_EnqueuesReadyNode(t *testing.T) {
	st := store.NewMemStore()
	q := queue.NewMemQueue(4)
	inv := invoker.New(st, q, nil)
	ctx := context.Background()

	state, err := inv.CreateExecutionState(ctx, newGraph(t))
	if err != nil {
		t.Fatalf("CreateExecutionState: %v", err)
	}

	node, err := inv.Invoke(ctx, state, false)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if node == nil {
		t.Fatalf("Invoke returned no node")
	}

	item, err := q.Get(ctx)
	if err != nil {
		t.Fatalf("Get from queue: %v", err)
	}
	if item.StateID != state.ID || item.InvocationID != node.ID() {
		t.Fatalf("queued item = %+v, want state %s node %s", item, state.ID, node.ID())
	}
}

func TestInvoker_Invoke_NilWhenNothingReady(t *testing.T) {
	st := store.NewMemStore()
	inv := invoker.New(st, queue.NewMemQueue(4), nil)
	ctx := context.Background()

	state, err := inv.CreateExecutionState(ctx, graph.New("root"))
	if err != nil {
		t.Fatalf("CreateExecutionState: %v", err)
	}

	node, err := inv.Invoke(ctx, state, false)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if node != nil {
		t.Fatalf("Invoke = %v, want nil on an already-complete empty graph", node)
	}
}

type lifecycleSpy struct {
	starts, stops int
	startErr, stopErr error
}

func (l *lifecycleSpy) Start(invokerID string) error {
	l.starts++
	return l.startErr
}

func (l *lifecycleSpy) Stop(invokerID string) error {
	l.stops++
	return l.stopErr
}

func TestInvoker_StartStop_CallsEachServiceExactlyOnce(t *testing.T) {
	services := core.NewServices()
	spy := &lifecycleSpy{}
	services.Register("spy", spy)

	inv := invoker.New(store.NewMemStore(), queue.NewMemQueue(1), services)

	if err := inv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := inv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if spy.starts != 1 {
		t.Errorf("starts = %d, want 1", spy.starts)
	}
	if spy.stops != 1 {
		t.Errorf("stops = %d, want 1", spy.stops)
	}
}

func TestInvoker_Start_PropagatesServiceError(t *testing.T) {
	services := core.NewServices()
	boom := errors.New("boom")
	services.Register("spy", &lifecycleSpy{startErr: boom})

	inv := invoker.New(store.NewMemStore(), queue.NewMemQueue(1), services)
	if err := inv.Start(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Start error = %v, want wrapping %v", err, boom)
	}
}
