package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/waffletower/invokeai-graph/core"
	"github.com/waffletower/invokeai-graph/store"
)

func testDSN(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
}

func newTestSQLiteStore(t *testing.T, cfg store.SQLiteStoreConfig) *store.SQLiteStore {
	t.Helper()
	if cfg.DSN == "" {
		cfg.DSN = testDSN(t)
	}
	s, err := store.NewSQLiteStore(cfg)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_SetGetRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t, store.SQLiteStoreConfig{})
	ctx := context.Background()

	state := newIntValueState(t)
	node, err := state.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if node == nil {
		t.Fatalf("Next returned no node")
	}
	out, err := node.Invoke(ctx, core.InvocationContext{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	state.Complete(node.ID(), out)

	if err := s.Set(ctx, state); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get(ctx, state.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.IsComplete() {
		t.Fatalf("round-tripped state is not complete")
	}
	if len(got.Results) != len(state.Results) {
		t.Fatalf("Results count = %d, want %d", len(got.Results), len(state.Results))
	}
	for id, wantOut := range state.Results {
		gotOut, ok := got.Results[id]
		if !ok {
			t.Fatalf("missing result for %s", id)
		}
		wantVal, _ := wantOut.Field("value")
		gotVal, _ := gotOut.Field("value")
		if fmt.Sprint(gotVal) != fmt.Sprint(wantVal) {
			t.Errorf("result %s value = %v, want %v", id, gotVal, wantVal)
		}
	}
}

func TestSQLiteStore_GetMissingReturnsErrNotFound(t *testing.T) {
	s := newTestSQLiteStore(t, store.SQLiteStoreConfig{})
	if _, err := s.Get(context.Background(), "missing"); err != store.ErrNotFound {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_PruneDeletesOldCompletedSessions(t *testing.T) {
	s := newTestSQLiteStore(t, store.SQLiteStoreConfig{RetentionAge: time.Nanosecond})
	ctx := context.Background()

	state := newIntValueState(t)
	node, err := state.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	out, err := node.Invoke(ctx, core.InvocationContext{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	state.Complete(node.ID(), out)

	if err := s.Set(ctx, state); err != nil {
		t.Fatalf("Set: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	if _, err := s.Get(ctx, state.ID); err != store.ErrNotFound {
		t.Fatalf("Get after Prune error = %v, want ErrNotFound", err)
	}
}
