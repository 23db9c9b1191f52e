package graph

import "github.com/waffletower/invokeai-graph/core"

// validateIterator checks the shape invariant for the IterateInvocation
// at nodePath (spec.md §4.3): exactly one edge enters its collection
// port, that producer's declared type is a sequence, and every consumer
// of its item port declares a type compatible with the sequence's
// element type. newInput/newOutput, when non-nil, are a hypothetical
// additional edge endpoint not yet recorded in the graph — used while
// validating an edge before it is appended. Grounded on graph.py's
// _is_iterator_connection_valid.
func (g *Graph) validateIterator(nodePath string, newInput, newOutput *EdgeConnection) bool {
	var inputs []EdgeConnection
	for _, e := range g.InputEdges(nodePath, "collection") {
		inputs = append(inputs, e.From)
	}
	if newInput != nil {
		inputs = append(inputs, *newInput)
	}
	if len(inputs) != 1 {
		return false
	}

	var outputs []EdgeConnection
	for _, e := range g.OutputEdges(nodePath, "item") {
		outputs = append(outputs, e.To)
	}
	if newOutput != nil {
		outputs = append(outputs, *newOutput)
	}

	collectionType, ok := g.outputFieldType(inputs[0])
	if !ok || collectionType.Kind != core.KindSequence {
		return false
	}
	elemType := collectionType.Args[0]

	for _, o := range outputs {
		outType, ok := g.inputFieldType(o)
		if !ok || !core.Compatible(elemType, outType) {
			return false
		}
	}
	return true
}

// rootCandidates returns the set of types a producer of ft contributes
// to the collector's nominal-root computation: ft itself for a scalar or
// wildcard producer, its element type for a sequence producer, or its
// non-absent members for a union (nullable) producer. Grounded on
// graph.py's _is_collector_connection_valid type-set construction.
func rootCandidates(ft core.FieldType) []core.FieldType {
	switch ft.Kind {
	case core.KindSequence:
		if len(ft.Args) == 1 {
			return []core.FieldType{ft.Args[0]}
		}
		return nil
	case core.KindUnion:
		var out []core.FieldType
		for _, m := range ft.Args {
			if !m.IsNone() {
				out = append(out, m)
			}
		}
		return out
	default:
		return []core.FieldType{ft}
	}
}

func dedupeFieldTypes(types []core.FieldType) []core.FieldType {
	var out []core.FieldType
	for _, t := range types {
		dup := false
		for _, existing := range out {
			if existing.Equal(t) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, t)
		}
	}
	return out
}

// validateCollector checks the shape invariant for the CollectInvocation
// at nodePath: every producer feeding its item port contributes a root
// candidate type (see rootCandidates); exactly one of those candidates
// must be a (non-strict) nominal supertype of every other candidate, and
// every consumer of its collection port must declare a sequence type
// whose element type is a (non-strict) supertype of that root. Grounded
// on graph.py's _is_collector_connection_valid (the type_tree / in_degree
// construction).
func (g *Graph) validateCollector(nodePath string, newInput, newOutput *EdgeConnection) bool {
	var inputs []EdgeConnection
	for _, e := range g.InputEdges(nodePath, "item") {
		inputs = append(inputs, e.From)
	}
	if newInput != nil {
		inputs = append(inputs, *newInput)
	}
	if len(inputs) == 0 {
		return false
	}

	var outputs []EdgeConnection
	for _, e := range g.OutputEdges(nodePath, "collection") {
		outputs = append(outputs, e.To)
	}
	if newOutput != nil {
		outputs = append(outputs, *newOutput)
	}

	var candidates []core.FieldType
	for _, in := range inputs {
		ft, ok := g.outputFieldType(in)
		if !ok {
			return false
		}
		candidates = append(candidates, rootCandidates(ft)...)
	}
	candidates = dedupeFieldTypes(candidates)
	if len(candidates) == 0 {
		return false
	}

	var root *core.FieldType
	for i, t := range candidates {
		inDegree := 0
		for j, u := range candidates {
			if i == j {
				continue
			}
			if core.IsSubtypeOrEqual(t, u) {
				inDegree++
			}
		}
		if inDegree == 0 {
			if root != nil {
				return false // more than one candidate root: ambiguous hierarchy
			}
			r := t
			root = &r
		}
	}
	if root == nil {
		return false
	}

	for _, o := range outputs {
		outType, ok := g.inputFieldType(o)
		if !ok || outType.Kind != core.KindSequence || len(outType.Args) != 1 {
			return false
		}
		if !core.Compatible(*root, outType.Args[0]) {
			return false
		}
	}
	return true
}
