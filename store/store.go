// Package store defines the session store the core execution engine
// persists execution states through (spec.md §6 "Session store": a
// `set`/`get` contract, no other requirement placed on it by the core).
// MemStore is an in-memory reference implementation; SQLiteStore
// persists to disk.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/waffletower/invokeai-graph/runtime"
)

// ErrNotFound is returned by Get when no state is stored under the id.
var ErrNotFound = errors.New("store: execution state not found")

// SessionStore persists execution states by id. Grounded on spec.md §6
// and shaped after the teacher's bus.EventStore interface.
type SessionStore interface {
	Set(ctx context.Context, state *runtime.ExecutionState) error
	Get(ctx context.Context, id string) (*runtime.ExecutionState, error)
	Delete(ctx context.Context, id string) error
}

// MemStore is a thread-safe in-memory SessionStore, grounded on the
// teacher's bus.MemEventStore.
type MemStore struct {
	mu     sync.RWMutex
	states map[string]*runtime.ExecutionState
}

// NewMemStore creates an empty in-memory session store.
func NewMemStore() *MemStore {
	return &MemStore{states: make(map[string]*runtime.ExecutionState)}
}

func (s *MemStore) Set(_ context.Context, state *runtime.ExecutionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ID] = state
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (*runtime.ExecutionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[id]
	if !ok {
		return nil, ErrNotFound
	}
	return state, nil
}

func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
	return nil
}

var _ SessionStore = (*MemStore)(nil)
