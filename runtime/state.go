package runtime

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/waffletower/invokeai-graph/core"
	"github.com/waffletower/invokeai-graph/graph"
)

// ExecutionState tracks the progress of executing a source Graph: the
// expanding execution graph of materialized node copies, which of those
// have run, their results and errors, and the bidirectional mapping
// between source node paths and their prepared copies. Grounded on
// graph.py's GraphExecutionState.
type ExecutionState struct {
	ID string

	Graph          *graph.Graph
	ExecutionGraph *graph.Graph

	Executed        map[string]bool
	ExecutedHistory []string
	Results         map[string]core.Output
	Errors          map[string]string

	// PreparedSourceMapping maps a prepared (materialized) node id back to
	// the source node path it was copied from.
	PreparedSourceMapping map[string]string
	// SourcePreparedMapping maps a source node path to the set of prepared
	// node ids materialized from it.
	SourcePreparedMapping map[string]map[string]bool
	// SourcePreparedOrder records, per source node path, the order its
	// prepared copies were materialized in — membership in
	// SourcePreparedMapping is unordered (map), but collector fan-in order
	// and iteration-combination order must be deterministic.
	SourcePreparedOrder map[string][]string

	Events *EventEmitter
}

// New creates an execution state around a source graph, with a
// fresh-uuid id and an empty execution graph sharing the source graph's
// registry.
func New(src *graph.Graph) *ExecutionState {
	return &ExecutionState{
		ID:                    uuid.NewString(),
		Graph:                 src,
		ExecutionGraph:        graph.NewWithRegistry("", src.Registry),
		Executed:              make(map[string]bool),
		Results:               make(map[string]core.Output),
		Errors:                make(map[string]string),
		PreparedSourceMapping: make(map[string]string),
		SourcePreparedMapping: make(map[string]map[string]bool),
		SourcePreparedOrder:   make(map[string][]string),
	}
}

func (s *ExecutionState) emit(evt Event) {
	if s.Events != nil {
		s.Events.Emit(evt)
	}
}

// IsComplete reports whether every source node has executed, or any
// error has been recorded (spec.md §4.4g).
func (s *ExecutionState) IsComplete() bool {
	if s.HasError() {
		return true
	}
	flat := s.Graph.FlatView()
	for _, id := range flat.Nodes() {
		if !s.Executed[id] {
			return false
		}
	}
	return true
}

// HasError reports whether any node has recorded an error.
func (s *ExecutionState) HasError() bool {
	return len(s.Errors) > 0
}

// Next returns the next materialized invocation ready to run, preparing
// new execution-graph nodes as needed. Returns nil, nil when there is
// nothing left to do. Grounded on graph.py's next(); spec.md §4.4a
// describes a loop ("call _prepare(); if that produced no new prepared
// nodes, return none; otherwise repeat step 1") rather than a single
// prepare attempt — a single attempt isn't enough once a vacuously
// completed node (an empty-collection iterator, or a node starved by
// one) sits between the last genuinely ready node and the next one that
// still needs preparing, since each prepare() call only advances the
// source topology by one node.
func (s *ExecutionState) Next() (core.Invocation, error) {
	if s.IsComplete() {
		return nil, nil
	}

	for {
		nextNode := s.nextReadyNode()
		if nextNode != nil {
			if err := s.prepareInputs(nextNode); err != nil {
				return nil, err
			}
			s.emit(NewEvent(EventNodeReady, s.ID).WithNode(nextNode.ID(), s.PreparedSourceMapping[nextNode.ID()]))
			return nextNode, nil
		}

		preparedID, err := s.prepare()
		if err != nil {
			return nil, err
		}
		if preparedID == "" {
			return nil, nil
		}
	}
}

func (s *ExecutionState) nextReadyNode() core.Invocation {
	view := s.ExecutionGraph.PlainView()
	order, err := view.TopologicalSort()
	if err != nil {
		return nil
	}
	for _, id := range order {
		if !s.Executed[id] {
			return s.ExecutionGraph.Nodes[id]
		}
	}
	return nil
}

// Complete records a node's output and, once every prepared copy of its
// source node has executed, marks the source node itself executed.
// Grounded on graph.py's complete().
func (s *ExecutionState) Complete(nodeID string, output core.Output) {
	if _, ok := s.ExecutionGraph.Nodes[nodeID]; !ok {
		return
	}
	s.Executed[nodeID] = true
	s.Results[nodeID] = output

	sourcePath, ok := s.PreparedSourceMapping[nodeID]
	if !ok {
		return
	}
	s.emit(NewEvent(EventNodeCompleted, s.ID).WithNode(nodeID, sourcePath))

	prepared := s.SourcePreparedMapping[sourcePath]
	for p := range prepared {
		if !s.Executed[p] {
			return
		}
	}
	s.Executed[sourcePath] = true
	s.ExecutedHistory = append(s.ExecutedHistory, sourcePath)
	if s.IsComplete() {
		s.emit(NewEvent(EventStateComplete, s.ID))
	}
}

// SetError records an error against a prepared node id. Grounded on
// graph.py's set_node_error (spec.md §9: renamed to match the typed
// error it actually records).
func (s *ExecutionState) SetError(nodeID, message string) {
	s.Errors[nodeID] = message
	s.emit(NewEvent(EventNodeError, s.ID).WithNode(nodeID, s.PreparedSourceMapping[nodeID]).WithError(message))
}

// isNodeUpdatable reports whether a source path has not yet been
// prepared or executed (spec.md §4.4h).
func (s *ExecutionState) isNodeUpdatable(path string) bool {
	_, prepared := s.SourcePreparedMapping[path]
	return !prepared
}

var ErrNodeAlreadyExecuted = fmt.Errorf("runtime: node already prepared or executed")

// AddNode delegates to the underlying graph.
func (s *ExecutionState) AddNode(n core.Invocation) error {
	return s.Graph.AddNode(n)
}

// UpdateNode delegates to the underlying graph, refusing to touch a node
// that has already been prepared or executed.
func (s *ExecutionState) UpdateNode(path string, n core.Invocation) error {
	if !s.isNodeUpdatable(path) {
		return fmt.Errorf("%w: %s", ErrNodeAlreadyExecuted, path)
	}
	return s.Graph.UpdateNode(path, n)
}

// DeleteNode delegates to the underlying graph, refusing to touch a node
// that has already been prepared or executed.
func (s *ExecutionState) DeleteNode(path string) error {
	if !s.isNodeUpdatable(path) {
		return fmt.Errorf("%w: %s", ErrNodeAlreadyExecuted, path)
	}
	return s.Graph.DeleteNode(path)
}

// AddEdge delegates to the underlying graph, refusing to wire into a
// destination that has already been prepared or executed.
func (s *ExecutionState) AddEdge(e graph.Edge) error {
	if !s.isNodeUpdatable(e.To.NodeID) {
		return fmt.Errorf("%w: destination %s", ErrNodeAlreadyExecuted, e.To.NodeID)
	}
	return s.Graph.AddEdge(e)
}

// DeleteEdge delegates to the underlying graph, refusing to touch a
// destination that has already been prepared or executed.
func (s *ExecutionState) DeleteEdge(e graph.Edge) error {
	if !s.isNodeUpdatable(e.To.NodeID) {
		return fmt.Errorf("%w: destination %s", ErrNodeAlreadyExecuted, e.To.NodeID)
	}
	s.Graph.DeleteEdge(e)
	return nil
}

// prepareInputs populates a ready node's input fields from the recorded
// results of its prepared predecessors in the execution graph. Grounded
// on graph.py's _prepare_inputs (spec.md §4.4d).
func (s *ExecutionState) prepareInputs(node core.Invocation) error {
	var inputEdges []graph.Edge
	for _, e := range s.ExecutionGraph.Edges {
		if e.To.NodeID == node.ID() {
			inputEdges = append(inputEdges, e)
		}
	}

	if collector, ok := node.(*graph.CollectInvocation); ok {
		var items []any
		for _, e := range inputEdges {
			if e.To.Field != "item" {
				continue
			}
			out, ok := s.Results[e.From.NodeID]
			if !ok {
				return fmt.Errorf("runtime: missing result for %s", e.From.NodeID)
			}
			val, ok := out.Field(e.From.Field)
			if !ok {
				return fmt.Errorf("runtime: output %s has no field %q", e.From.NodeID, e.From.Field)
			}
			items = append(items, val)
		}
		_ = collector
		return node.SetInput("item", items)
	}

	for _, e := range inputEdges {
		out, ok := s.Results[e.From.NodeID]
		if !ok {
			return fmt.Errorf("runtime: missing result for %s", e.From.NodeID)
		}
		val, ok := out.Field(e.From.Field)
		if !ok {
			return fmt.Errorf("runtime: output %s has no field %q", e.From.NodeID, e.From.Field)
		}
		if err := node.SetInput(e.To.Field, val); err != nil {
			return fmt.Errorf("runtime: %s.%s: %w", node.ID(), e.To.Field, err)
		}
	}
	return nil
}
