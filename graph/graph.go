// Package graph implements the typed dataflow graph itself: the node/edge
// container, structural validity checks (port compatibility, acyclicity,
// iterator/collector shape invariants), the flattened view used for cycle
// detection across nested subgraphs, and the three engine-defined
// structural invocation variants (graph, iterate, collect).
//
// Grounded throughout on original_source/ldm/invoke/app/services/graph.py,
// translated into Go using the teacher's container shape from
// petal-labs-petalflow's root graph.go (ordered node slice + edge slice)
// and graph/definition.go (validation-as-a-method, import-cycle
// indirection via a package-level hook variable).
package graph

import (
	"fmt"

	"github.com/waffletower/invokeai-graph/core"
	"github.com/waffletower/invokeai-graph/registry"
)

// Graph is a set of invocation nodes wired together by typed edges. A
// GraphInvocation node embeds a *Graph as its own self-contained subgraph,
// so Graphs nest arbitrarily deeply (spec.md §4: nested subgraphs via
// GraphInvocation and dotted node-path resolution).
type Graph struct {
	ID    string
	Nodes map[string]core.Invocation
	// NodeOrder records insertion order for deterministic iteration
	// (registration order matters for reproducible validation diagnostics
	// and flat-view traversal).
	NodeOrder []string
	Edges     []Edge

	// Registry resolves a node's declared VariantSchema for port-type and
	// shape-invariant checks. Defaults to registry.Global().
	Registry *registry.Registry
}

// New creates an empty graph using the global registry.
func New(id string) *Graph {
	return &Graph{
		ID:       id,
		Nodes:    make(map[string]core.Invocation),
		Registry: registry.Global(),
	}
}

// NewWithRegistry creates an empty graph against a specific registry
// instance (used by isolated tests that don't want the process-wide
// singleton).
func NewWithRegistry(id string, reg *registry.Registry) *Graph {
	g := New(id)
	g.Registry = reg
	return g
}

func (g *Graph) reg() *registry.Registry {
	if g.Registry != nil {
		return g.Registry
	}
	return registry.Global()
}

// AddNode adds a top-level node to this graph. Mirrors graph.py's
// add_node: nodes are always added at the level add_node is called on;
// to add a node inside a nested subgraph, call AddNode on that
// GraphInvocation's own Graph.
func (g *Graph) AddNode(n core.Invocation) error {
	if _, exists := g.Nodes[n.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrNodeAlreadyInGraph, n.ID())
	}
	g.Nodes[n.ID()] = n
	g.NodeOrder = append(g.NodeOrder, n.ID())
	return nil
}

// resolve walks a (possibly dotted) node path down through nested
// GraphInvocation subgraphs and returns the graph that directly owns the
// node, plus the node's bare (single-segment) id within that graph.
// Grounded on graph.py's _get_graph_and_node.
func (g *Graph) resolve(path string) (*Graph, string, error) {
	if _, ok := g.Nodes[path]; ok {
		return g, path, nil
	}
	head, rest := splitPath(path)
	node, ok := g.Nodes[head]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrNodeNotFound, path)
	}
	if rest == "" {
		return nil, "", fmt.Errorf("%w: %s", ErrNodeNotFound, path)
	}
	gi, ok := node.(*GraphInvocation)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrNodeNotFound, path)
	}
	return gi.Graph.resolve(rest)
}

// GetNode resolves a dotted node path to its invocation.
func (g *Graph) GetNode(path string) (core.Invocation, error) {
	owner, localID, err := g.resolve(path)
	if err != nil {
		return nil, err
	}
	return owner.Nodes[localID], nil
}

// HasNode reports whether a dotted node path resolves to a node.
func (g *Graph) HasNode(path string) bool {
	_, _, err := g.resolve(path)
	return err == nil
}

// UpdateNode replaces the node at path with a freshly-provided invocation
// of the same variant. If replacement's id differs from the node's
// current local id, every input and output edge in every containing
// graph that references the old id is rewound to the new one. Grounded
// on graph.py's update_node: the original rewrites edge endpoints with a
// raw string-prefix replace of the full dotted path, which the source
// itself flags as producing a leading dot in some cases (spec.md §9);
// the intended semantics — replace only the local id component at this
// node's position, leaving the rest of the path untouched — is what
// inputEdgesAndGraphs/outputEdgesAndGraphs already resolve edges down to
// (a bare local id within whichever graph level owns the edge), so this
// version rewrites that local id directly rather than doing path
// surgery on a string.
func (g *Graph) UpdateNode(path string, replacement core.Invocation) error {
	owner, localID, err := g.resolve(path)
	if err != nil {
		return err
	}
	existing := owner.Nodes[localID]
	if existing.Type() != replacement.Type() {
		return fmt.Errorf("%w: %s is %q, replacement is %q", ErrTypeMismatch, path, existing.Type(), replacement.Type())
	}

	newLocalID := replacement.ID()
	if newLocalID == "" {
		newLocalID = localID
	}
	if newLocalID != localID {
		if _, exists := owner.Nodes[newLocalID]; exists {
			return fmt.Errorf("%w: %s", ErrNodeAlreadyInGraph, newLocalID)
		}
	}
	replacement.SetID(newLocalID)

	if newLocalID != localID {
		inputs := g.inputEdgesAndGraphs(path, "")
		outputs := g.outputEdgesAndGraphs(path, "")
		for _, ref := range inputs {
			ref.Graph.rewriteEdgeToID(ref.Edge, newLocalID)
		}
		for _, ref := range outputs {
			ref.Graph.rewriteEdgeFromID(ref.Edge, newLocalID)
		}
		delete(owner.Nodes, localID)
		for i, id := range owner.NodeOrder {
			if id == localID {
				owner.NodeOrder[i] = newLocalID
				break
			}
		}
	}
	owner.Nodes[newLocalID] = replacement
	return nil
}

// rewriteEdgeToID finds old (by value) among g's own edges and renames
// its destination node id in place.
func (g *Graph) rewriteEdgeToID(old Edge, newID string) {
	for i, e := range g.Edges {
		if e.Equal(old) {
			g.Edges[i].To.NodeID = newID
			return
		}
	}
}

// rewriteEdgeFromID is the source-side mirror of rewriteEdgeToID.
func (g *Graph) rewriteEdgeFromID(old Edge, newID string) {
	for i, e := range g.Edges {
		if e.Equal(old) {
			g.Edges[i].From.NodeID = newID
			return
		}
	}
}

// DeleteNode removes the node at path, and every edge anywhere in the
// graph (including nested subgraphs) that touches it. A path that
// doesn't resolve to a node is a silent no-op, matching graph.py's
// delete_node (which swallows the lookup KeyError) — the intent, not its
// accidental exception class, is what's preserved here.
func (g *Graph) DeleteNode(path string) error {
	owner, localID, err := g.resolve(path)
	if err != nil {
		return nil
	}
	for _, ref := range g.inputEdgesAndGraphs(path, "") {
		ref.Graph.removeEdge(ref.Edge)
	}
	for _, ref := range g.outputEdgesAndGraphs(path, "") {
		ref.Graph.removeEdge(ref.Edge)
	}
	delete(owner.Nodes, localID)
	for i, id := range owner.NodeOrder {
		if id == localID {
			owner.NodeOrder = append(owner.NodeOrder[:i], owner.NodeOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (g *Graph) removeEdge(e Edge) {
	for i, existing := range g.Edges {
		if existing.Equal(e) {
			g.Edges = append(g.Edges[:i], g.Edges[i+1:]...)
			return
		}
	}
}

// graphEdgeRef tags an edge with the graph level that stores it and the
// dotted path prefix needed to translate its locally-scoped endpoints
// into full root-relative paths.
type graphEdgeRef struct {
	Graph  *Graph
	Prefix string
	Edge   Edge
}

// inputEdgesAndGraphs recursively collects every edge (at this level and
// in nested subgraphs) whose destination matches nodePath, resolved
// relative to this graph. Grounded on graph.py's
// _get_input_edges_and_graphs. The original recurses into a
// GraphInvocation's subgraph unconditionally using a slice that can go
// out of range when nodePath has no remaining dotted segment (deleting
// the GraphInvocation node itself rather than something inside it); this
// version guards that case instead of mirroring the crash.
func (g *Graph) inputEdgesAndGraphs(nodePath, prefix string) []graphEdgeRef {
	var refs []graphEdgeRef
	for _, e := range g.Edges {
		if e.To.NodeID == nodePath {
			refs = append(refs, graphEdgeRef{Graph: g, Prefix: prefix, Edge: e})
		}
	}
	head, rest := splitPath(nodePath)
	node, ok := g.Nodes[head]
	if !ok || rest == "" {
		return refs
	}
	if gi, ok := node.(*GraphInvocation); ok {
		childPrefix := joinPath(prefix, head)
		refs = append(refs, gi.Graph.inputEdgesAndGraphs(rest, childPrefix)...)
	}
	return refs
}

// outputEdgesAndGraphs is the output-side mirror of inputEdgesAndGraphs,
// grounded on graph.py's _get_output_edges_and_graphs.
func (g *Graph) outputEdgesAndGraphs(nodePath, prefix string) []graphEdgeRef {
	var refs []graphEdgeRef
	for _, e := range g.Edges {
		if e.From.NodeID == nodePath {
			refs = append(refs, graphEdgeRef{Graph: g, Prefix: prefix, Edge: e})
		}
	}
	head, rest := splitPath(nodePath)
	node, ok := g.Nodes[head]
	if !ok || rest == "" {
		return refs
	}
	if gi, ok := node.(*GraphInvocation); ok {
		childPrefix := joinPath(prefix, head)
		refs = append(refs, gi.Graph.outputEdgesAndGraphs(rest, childPrefix)...)
	}
	return refs
}

// InputEdges returns every edge (anywhere in the graph, full paths)
// feeding into nodePath's named field. Pass field == "" to match every
// field. Grounded on graph.py's _get_input_edges.
func (g *Graph) InputEdges(nodePath, field string) []Edge {
	var out []Edge
	for _, ref := range g.inputEdgesAndGraphs(nodePath, "") {
		if field != "" && ref.Edge.To.Field != field {
			continue
		}
		out = append(out, Edge{
			From: EdgeConnection{NodeID: joinPath(ref.Prefix, ref.Edge.From.NodeID), Field: ref.Edge.From.Field},
			To:   EdgeConnection{NodeID: joinPath(ref.Prefix, ref.Edge.To.NodeID), Field: ref.Edge.To.Field},
		})
	}
	return out
}

// OutputEdges returns every edge (anywhere in the graph, full paths)
// originating from nodePath's named field. Pass field == "" to match
// every field. Grounded on graph.py's _get_output_edges.
func (g *Graph) OutputEdges(nodePath, field string) []Edge {
	var out []Edge
	for _, ref := range g.outputEdgesAndGraphs(nodePath, "") {
		if field != "" && ref.Edge.From.Field != field {
			continue
		}
		out = append(out, Edge{
			From: EdgeConnection{NodeID: joinPath(ref.Prefix, ref.Edge.From.NodeID), Field: ref.Edge.From.Field},
			To:   EdgeConnection{NodeID: joinPath(ref.Prefix, ref.Edge.To.NodeID), Field: ref.Edge.To.Field},
		})
	}
	return out
}

func (g *Graph) variantSchema(path string) (core.VariantSchema, bool) {
	node, err := g.GetNode(path)
	if err != nil {
		return core.VariantSchema{}, false
	}
	def, ok := g.reg().Get(node.Type())
	return def.Schema, ok
}

func (g *Graph) outputFieldType(c EdgeConnection) (core.FieldType, bool) {
	schema, ok := g.variantSchema(c.NodeID)
	if !ok {
		return core.FieldType{}, false
	}
	fd, ok := schema.OutputField(c.Field)
	if !ok {
		return core.FieldType{}, false
	}
	return fd.Type, true
}

func (g *Graph) inputFieldType(c EdgeConnection) (core.FieldType, bool) {
	schema, ok := g.variantSchema(c.NodeID)
	if !ok {
		return core.FieldType{}, false
	}
	fd, ok := schema.InputField(c.Field)
	if !ok {
		return core.FieldType{}, false
	}
	return fd.Type, true
}

// AddEdge validates and appends one wire to this graph's own edge list.
// Grounded on graph.py's add_edge / _is_edge_valid, in the same check
// order: endpoint existence, single-producer-per-destination (unless the
// destination is a collector's item port), flat-view acyclicity, port
// type compatibility, then the governing iterator/collector node's shape
// invariant for whichever endpoint is structural.
func (g *Graph) AddEdge(e Edge) error {
	if err := g.isEdgeValid(e); err != nil {
		return err
	}
	for _, existing := range g.Edges {
		if existing.Equal(e) {
			return nil
		}
	}
	g.Edges = append(g.Edges, e)
	return nil
}

// DeleteEdge removes a previously-added edge from this graph's own edge
// list (a no-op if the edge isn't present).
func (g *Graph) DeleteEdge(e Edge) {
	g.removeEdge(e)
}

func (g *Graph) isEdgeValid(e Edge) error {
	fromNode, err := g.GetNode(e.From.NodeID)
	if err != nil {
		return fmt.Errorf("%w: unknown source %s", ErrInvalidEdge, e.From.NodeID)
	}
	toNode, err := g.GetNode(e.To.NodeID)
	if err != nil {
		return fmt.Errorf("%w: unknown destination %s", ErrInvalidEdge, e.To.NodeID)
	}

	if _, isCollector := toNode.(*CollectInvocation); !isCollector {
		if existing := g.InputEdges(e.To.NodeID, e.To.Field); len(existing) > 0 {
			return fmt.Errorf("%w: %s.%s already has an incoming edge", ErrInvalidEdge, e.To.NodeID, e.To.Field)
		}
	}

	flat := g.FlatView()
	if flat.hasNode(e.From.NodeID) && flat.hasNode(e.To.NodeID) && flat.wouldCreateCycle(e.From.NodeID, e.To.NodeID) {
		return fmt.Errorf("%w: %s -> %s", ErrCyclicalGraph, e.From.NodeID, e.To.NodeID)
	}

	fromType, ok := g.outputFieldType(e.From)
	if !ok {
		return fmt.Errorf("%w: unknown output field %s.%s", ErrInvalidEdge, e.From.NodeID, e.From.Field)
	}
	toType, ok := g.inputFieldType(e.To)
	if !ok {
		return fmt.Errorf("%w: unknown input field %s.%s", ErrInvalidEdge, e.To.NodeID, e.To.Field)
	}
	if !core.Compatible(fromType, toType) {
		return fmt.Errorf("%w: %s incompatible with %s", ErrInvalidEdge, fromType.Name, toType.Name)
	}

	if _, ok := toNode.(*IterateInvocation); ok && e.To.Field == "collection" {
		if !g.validateIterator(e.To.NodeID, &e.From, nil) {
			return fmt.Errorf("%w: violates iterator shape invariant", ErrInvalidEdge)
		}
	}
	if _, ok := fromNode.(*IterateInvocation); ok && e.From.Field == "item" {
		if !g.validateIterator(e.From.NodeID, nil, &e.To) {
			return fmt.Errorf("%w: violates iterator shape invariant", ErrInvalidEdge)
		}
	}
	if _, ok := toNode.(*CollectInvocation); ok && e.To.Field == "item" {
		if !g.validateCollector(e.To.NodeID, &e.From, nil) {
			return fmt.Errorf("%w: violates collector shape invariant", ErrInvalidEdge)
		}
	}
	if _, ok := fromNode.(*CollectInvocation); ok && e.From.Field == "collection" {
		if !g.validateCollector(e.From.NodeID, nil, &e.To) {
			return fmt.Errorf("%w: violates collector shape invariant", ErrInvalidEdge)
		}
	}

	return nil
}

// IsValid re-checks every structural invariant of the whole graph: nested
// subgraphs first (bottom-up), then this level's own flat-view
// acyclicity, every edge's port compatibility, and every iterator/
// collector node's shape invariant. Grounded on graph.py's is_valid().
func (g *Graph) IsValid() error {
	for _, id := range g.NodeOrder {
		if gi, ok := g.Nodes[id].(*GraphInvocation); ok {
			if err := gi.Graph.IsValid(); err != nil {
				return fmt.Errorf("subgraph %s: %w", id, err)
			}
		}
	}

	flat := g.FlatView()
	if flat.hasCycle() {
		return ErrCyclicalGraph
	}

	for _, e := range g.Edges {
		fromType, ok := g.outputFieldType(e.From)
		if !ok {
			return fmt.Errorf("%w: unknown output field %s.%s", ErrInvalidEdge, e.From.NodeID, e.From.Field)
		}
		toType, ok := g.inputFieldType(e.To)
		if !ok {
			return fmt.Errorf("%w: unknown input field %s.%s", ErrInvalidEdge, e.To.NodeID, e.To.Field)
		}
		if !core.Compatible(fromType, toType) {
			return fmt.Errorf("%w: %s.%s -> %s.%s", ErrInvalidEdge, e.From.NodeID, e.From.Field, e.To.NodeID, e.To.Field)
		}
	}

	for _, id := range g.NodeOrder {
		switch g.Nodes[id].(type) {
		case *IterateInvocation:
			if !g.validateIterator(id, nil, nil) {
				return fmt.Errorf("%w: node %s", ErrInvalidEdge, id)
			}
		case *CollectInvocation:
			if !g.validateCollector(id, nil, nil) {
				return fmt.Errorf("%w: node %s", ErrInvalidEdge, id)
			}
		}
	}

	return nil
}
