package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/waffletower/invokeai-graph/graph"
	"github.com/waffletower/invokeai-graph/registry"
	"github.com/waffletower/invokeai-graph/runtime"
	"github.com/waffletower/invokeai-graph/store"
)

func newIntValueState(t *testing.T) *runtime.ExecutionState {
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
	return runtime.New(g)
}

func TestMemStore_SetGetDelete(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()

	state := newIntValueState(t)
	if err := s.Set(ctx, state); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get(ctx, state.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != state.ID {
		t.Fatalf("Get ID = %q, want %q", got.ID, state.ID)
	}

	if err := s.Delete(ctx, state.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, state.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get after Delete error = %v, want ErrNotFound", err)
	}
}

func TestMemStore_GetMissingReturnsErrNotFound(t *testing.T) {
	s := store.NewMemStore()
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}
