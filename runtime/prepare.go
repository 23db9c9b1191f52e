package runtime

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/waffletower/invokeai-graph/graph"
)

// iterationMapping pairs a source node path with the specific prepared
// copy of it chosen for one materialization.
type iterationMapping struct {
	Source   string
	Prepared string
}

// prepare finds the next unprepared source node whose predecessors are
// all executed and materializes one execution-graph copy of it per
// relevant iteration tuple, returning any one of the newly prepared ids.
// Grounded on graph.py's _prepare (spec.md §4.4b).
func (s *ExecutionState) prepare() (string, error) {
	flat := s.Graph.FlatView()
	order, err := flat.TopologicalSort()
	if err != nil {
		return "", fmt.Errorf("runtime: %w", err)
	}

	var nextNodeID string
	for _, id := range order {
		if _, prepared := s.SourcePreparedMapping[id]; prepared {
			continue
		}
		ready := true
		for _, parent := range flat.InEdgeSources(id) {
			if !s.Executed[parent] {
				ready = false
				break
			}
		}
		if ready {
			nextNodeID = id
			break
		}
	}
	if nextNodeID == "" {
		return "", nil
	}

	parents := flat.InEdgeSources(nextNodeID)
	nextNode, err := s.Graph.GetNode(nextNodeID)
	if err != nil {
		return "", err
	}

	var newNodeIDs []string

	if _, isCollect := nextNode.(*graph.CollectInvocation); isCollect {
		var mappings []iterationMapping
		for _, p := range parents {
			for _, prepID := range s.SourcePreparedOrder[p] {
				mappings = append(mappings, iterationMapping{Source: p, Prepared: prepID})
			}
		}
		ids, err := s.createExecutionNode(nextNodeID, mappings)
		if err != nil {
			return "", err
		}
		newNodeIDs = append(newNodeIDs, ids...)
	} else {
		sourceFlat := s.Graph.IteratorView()
		iteratorNodes := s.governingIterators(sourceFlat, nextNodeID)

		var iteratorPreparedLists [][]string
		for _, it := range iteratorNodes {
			iteratorPreparedLists = append(iteratorPreparedLists, s.SourcePreparedOrder[it])
		}
		combos := cartesianProduct(iteratorPreparedLists)

		execFlat := s.ExecutionGraph.IteratorView()
		for _, combo := range combos {
			var mappings []iterationMapping
			for _, p := range parents {
				prepID := s.iterationNode(p, sourceFlat, execFlat, iteratorNodes, combo)
				if prepID != "" {
					mappings = append(mappings, iterationMapping{Source: p, Prepared: prepID})
				}
			}
			ids, err := s.createExecutionNode(nextNodeID, mappings)
			if err != nil {
				return "", err
			}
			newNodeIDs = append(newNodeIDs, ids...)
		}
	}

	// Register the source as prepared even when zero execution-graph
	// copies were produced, so the topological walk above never
	// reconsiders it. This happens for an iterator whose input collection
	// was empty, or for any node starved by such an empty ancestor
	// iterator (its own combos came out empty). In both cases the
	// prepared set is vacuously empty, so the source-id is immediately,
	// trivially "fully executed" (spec.md §8 boundary behavior: "the
	// state completes with that iterator's source-id marked executed").
	if len(newNodeIDs) == 0 {
		if s.SourcePreparedMapping[nextNodeID] == nil {
			s.SourcePreparedMapping[nextNodeID] = make(map[string]bool)
		}
		if !s.Executed[nextNodeID] {
			s.Executed[nextNodeID] = true
			s.ExecutedHistory = append(s.ExecutedHistory, nextNodeID)
			s.emit(NewEvent(EventNodeCompleted, s.ID).WithNode("", nextNodeID))
		}
		return nextNodeID, nil
	}
	return newNodeIDs[0], nil
}

// cartesianProduct mirrors itertools.product: the product of zero lists
// is a single empty combination, not zero combinations.
func cartesianProduct(lists [][]string) [][]string {
	if len(lists) == 0 {
		return [][]string{{}}
	}
	result := [][]string{{}}
	for _, list := range lists {
		var next [][]string
		for _, combo := range result {
			for _, item := range list {
				extended := append(append([]string(nil), combo...), item)
				next = append(next, extended)
			}
		}
		result = next
	}
	return result
}

// governingIterators computes the set of IterateInvocation source paths
// that govern nodeID: ancestors of nodeID, in the iterator view with
// every inbound edge to every CollectInvocation removed (collectors seal
// iteration scopes). Grounded on graph.py's _get_node_iterators /
// _iterator_graph (spec.md §4.4c).
func (s *ExecutionState) governingIterators(view *graph.FlatGraph, nodeID string) []string {
	sealed := view
	for _, id := range view.Nodes() {
		if node, err := s.Graph.GetNode(id); err == nil {
			if _, ok := node.(*graph.CollectInvocation); ok {
				sealed = sealed.RemoveInEdgesTo(id)
			}
		}
	}
	ancestors := sealed.Ancestors(nodeID)

	var iterators []string
	for _, id := range view.Nodes() {
		if !ancestors[id] {
			continue
		}
		if node, err := s.Graph.GetNode(id); err == nil {
			if _, ok := node.(*graph.IterateInvocation); ok {
				iterators = append(iterators, id)
			}
		}
	}
	return iterators
}

// iterationNode selects the prepared copy of sourcePath that belongs to
// the iteration identified by the iterator-tuple combo. Grounded on
// graph.py's _get_iteration_node (spec.md §4.4e); the original's
// `all(pit for pit in parent_iterators if ...)` guard is vacuously true
// for any non-empty filtered tuple and never actually requires every
// governing iterator's chosen copy to be a same-iteration ancestor. This
// implementation requires it explicitly, matching the documented intent.
func (s *ExecutionState) iterationNode(sourcePath string, sourceFlat, execFlat *graph.FlatGraph, iteratorNodes, combo []string) string {
	preparedOrder := s.SourcePreparedOrder[sourcePath]
	if len(preparedOrder) == 1 {
		return preparedOrder[0]
	}
	if len(preparedOrder) == 0 {
		return ""
	}

	comboSet := make(map[string]bool, len(combo))
	for _, c := range combo {
		comboSet[c] = true
	}
	for _, id := range preparedOrder {
		if comboSet[id] {
			return id
		}
	}

	var parentIterators []string
	for i, it := range iteratorNodes {
		if sourceFlat.HasPath(it, sourcePath) {
			parentIterators = append(parentIterators, combo[i])
		}
	}

	for _, id := range preparedOrder {
		matches := true
		for _, pit := range parentIterators {
			if !execFlat.HasPath(pit, id) {
				matches = false
				break
			}
		}
		if matches {
			return id
		}
	}
	return ""
}

// createExecutionNode materializes one (or, for an iterator node, one
// per element of its input collection) execution-graph copy of the
// source node at nodePath, wiring input edges in from the chosen
// prepared predecessors named in mappings. Grounded on graph.py's
// _create_execution_node (spec.md §4.4b "Materialization").
func (s *ExecutionState) createExecutionNode(nodePath string, mappings []iterationMapping) ([]string, error) {
	sourceNode, err := s.Graph.GetNode(nodePath)
	if err != nil {
		return nil, err
	}

	selfIterationCount := -1
	if _, ok := sourceNode.(*graph.IterateInvocation); ok {
		inputEdges := s.Graph.InputEdges(nodePath, "collection")
		if len(inputEdges) == 0 {
			return nil, fmt.Errorf("runtime: iterate node %s has no input collection edge", nodePath)
		}
		collectionEdge := inputEdges[0]

		var preparedID string
		for _, m := range mappings {
			if m.Source == collectionEdge.From.NodeID {
				preparedID = m.Prepared
				break
			}
		}
		if preparedID == "" {
			return nil, fmt.Errorf("runtime: no prepared mapping for %s", collectionEdge.From.NodeID)
		}
		output, ok := s.Results[preparedID]
		if !ok {
			return nil, fmt.Errorf("runtime: missing result for %s", preparedID)
		}
		val, ok := output.Field(collectionEdge.From.Field)
		if !ok {
			return nil, fmt.Errorf("runtime: output %s has no field %q", preparedID, collectionEdge.From.Field)
		}
		items, ok := val.([]any)
		if !ok {
			return nil, fmt.Errorf("runtime: %s.%s is not a collection", collectionEdge.From.NodeID, collectionEdge.From.Field)
		}
		selfIterationCount = len(items)
	}

	if selfIterationCount == 0 {
		return nil, nil
	}

	type partialEdge struct {
		fromPreparedID string
		fromField      string
		toField        string
	}
	var newEdges []partialEdge
	for _, e := range s.Graph.InputEdges(nodePath, "") {
		for _, m := range mappings {
			if m.Source == e.From.NodeID {
				newEdges = append(newEdges, partialEdge{fromPreparedID: m.Prepared, fromField: e.From.Field, toField: e.To.Field})
			}
		}
	}

	indices := []int{-1}
	if selfIterationCount > 0 {
		indices = make([]int, selfIterationCount)
		for i := range indices {
			indices[i] = i
		}
	}

	var newNodeIDs []string
	for _, idx := range indices {
		newNode := sourceNode.Clone()
		newID := uuid.NewString()
		newNode.SetID(newID)
		if it, ok := newNode.(*graph.IterateInvocation); ok {
			it.Index = idx
		}
		if err := s.ExecutionGraph.AddNode(newNode); err != nil {
			return nil, err
		}
		s.PreparedSourceMapping[newID] = nodePath
		if s.SourcePreparedMapping[nodePath] == nil {
			s.SourcePreparedMapping[nodePath] = make(map[string]bool)
		}
		s.SourcePreparedMapping[nodePath][newID] = true
		s.SourcePreparedOrder[nodePath] = append(s.SourcePreparedOrder[nodePath], newID)

		for _, ne := range newEdges {
			edge := graph.Edge{
				From: graph.EdgeConnection{NodeID: ne.fromPreparedID, Field: ne.fromField},
				To:   graph.EdgeConnection{NodeID: newID, Field: ne.toField},
			}
			if err := s.ExecutionGraph.AddEdge(edge); err != nil {
				return nil, fmt.Errorf("runtime: materializing %s: %w", nodePath, err)
			}
		}

		newNodeIDs = append(newNodeIDs, newID)
	}

	return newNodeIDs, nil
}
