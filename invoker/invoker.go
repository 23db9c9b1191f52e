// Package invoker implements the single-threaded façade that drives an
// execution state forward and hands ready work off to the external
// queue (spec.md §4.5 "Invoker façade"). Grounded on invoker.py's
// Invoker class, with the teacher's RunOptions-style constructor and
// lifecycle fan-out shape (runtime.go).
package invoker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/waffletower/invokeai-graph/core"
	"github.com/waffletower/invokeai-graph/graph"
	"github.com/waffletower/invokeai-graph/queue"
	"github.com/waffletower/invokeai-graph/runtime"
	"github.com/waffletower/invokeai-graph/store"
)

// Invoker drives execution states: pulling the next ready node,
// persisting state through the session store, and enqueueing the ready
// node's id on the work queue for an external worker to actually run.
type Invoker struct {
	ID       string
	Store    store.SessionStore
	Queue    queue.WorkQueue
	Services *core.Services
}

// New creates an Invoker bound to the given session store, work queue,
// and services bag.
func New(st store.SessionStore, q queue.WorkQueue, services *core.Services) *Invoker {
	if services == nil {
		services = core.NewServices()
	}
	return &Invoker{ID: uuid.NewString(), Store: st, Queue: q, Services: services}
}

// CreateExecutionState returns a new execution state bound to src (or an
// empty graph if src is nil) and persists it via the session store.
// Grounded on invoker.py's create_execution_state.
func (inv *Invoker) CreateExecutionState(ctx context.Context, src *graph.Graph) (*runtime.ExecutionState, error) {
	if src == nil {
		src = graph.New("")
	}
	state := runtime.New(src)
	if err := inv.Store.Set(ctx, state); err != nil {
		return nil, fmt.Errorf("invoker: persisting new execution state: %w", err)
	}
	return state, nil
}

// Invoke pulls the next ready node from state, persists the updated
// state, and enqueues (state.id, invocation.id, invokeAll) on the work
// queue. Returns (nil, nil) once the state has nothing left to prepare.
// Grounded on invoker.py's invoke: "pulls state.next(), persists state
// via the external session store, and enqueues ... on the external work
// queue" (spec.md §4.5). The core is single-writer (spec.md §4.5): next
// and complete must not be called concurrently on the same state, and
// Invoke does not enforce that itself — the caller owns serializing
// access to one state.
func (inv *Invoker) Invoke(ctx context.Context, state *runtime.ExecutionState, invokeAll bool) (core.Invocation, error) {
	node, err := state.Next()
	if err != nil {
		return nil, fmt.Errorf("invoker: %w", err)
	}

	if err := inv.Store.Set(ctx, state); err != nil {
		return nil, fmt.Errorf("invoker: persisting execution state %s: %w", state.ID, err)
	}

	if node == nil {
		return nil, nil
	}

	item := &queue.Item{StateID: state.ID, InvocationID: node.ID(), InvokeAll: invokeAll}
	if err := inv.Queue.Put(ctx, item); err != nil {
		return nil, fmt.Errorf("invoker: enqueueing %s: %w", node.ID(), err)
	}
	return node, nil
}

// Start calls the optional Start lifecycle hook on every registered
// service that implements core.Lifecycle, exactly once per service.
// Grounded on invoker.py's __start_service, fixed per spec.md §9: the
// original loops over services twice (once each for start and stop,
// each itself iterating the full service list), invoking every hook
// twice; this calls each hook exactly once.
func (inv *Invoker) Start(ctx context.Context) error {
	_ = ctx
	for _, name := range inv.Services.Names() {
		svc, _ := inv.Services.Get(name)
		if lc, ok := svc.(core.Lifecycle); ok {
			if err := lc.Start(inv.ID); err != nil {
				return fmt.Errorf("invoker: starting service %q: %w", name, err)
			}
		}
	}
	return nil
}

// Stop calls the optional Stop lifecycle hook on every registered
// service that implements core.Lifecycle, exactly once per service.
func (inv *Invoker) Stop(ctx context.Context) error {
	_ = ctx
	for _, name := range inv.Services.Names() {
		svc, _ := inv.Services.Get(name)
		if lc, ok := svc.(core.Lifecycle); ok {
			if err := lc.Stop(inv.ID); err != nil {
				return fmt.Errorf("invoker: stopping service %q: %w", name, err)
			}
		}
	}
	return nil
}
