package graph

// FlatGraph is a node-id-only adjacency view of a Graph with nested
// subgraphs inlined (full dotted paths as node ids). Grounded on
// graph.py's nx_graph_flat: that function's add_nodes_from omits
// GraphInvocation and IterateInvocation ids, but its subsequent
// add_edges_from call unconditionally adds every edge regardless of
// endpoint — and since a networkx DiGraph auto-creates any node an edge
// references, an IterateInvocation id ends up back in the graph anyway,
// fully wired to its real collection-producer and item-consumers. The
// "exclusion" is therefore a no-op in the original's actual behavior;
// this port reproduces that behavior directly by treating every
// non-GraphInvocation node (Iterate and Collect included) as a normal
// flat node, rather than special-casing Iterate out and then silently
// breaking the connectivity the rest of the engine depends on.
type FlatGraph struct {
	nodes map[string]struct{}
	order []string
	adj   map[string]map[string]struct{}
}

func newFlatGraph() *FlatGraph {
	return &FlatGraph{
		nodes: make(map[string]struct{}),
		adj:   make(map[string]map[string]struct{}),
	}
}

func (f *FlatGraph) addNode(id string) {
	if _, exists := f.nodes[id]; exists {
		return
	}
	f.nodes[id] = struct{}{}
	f.order = append(f.order, id)
}

func (f *FlatGraph) addEdge(from, to string) {
	if f.adj[from] == nil {
		f.adj[from] = make(map[string]struct{})
	}
	f.adj[from][to] = struct{}{}
}

func (f *FlatGraph) hasNode(id string) bool {
	_, ok := f.nodes[id]
	return ok
}

// Nodes returns every node id in the flat view, in insertion order.
func (f *FlatGraph) Nodes() []string {
	return append([]string(nil), f.order...)
}

// FlatView builds the flattened node/edge view of g and all of its
// nested subgraphs, rooted at the empty prefix: every non-GraphInvocation
// node (Iterate and Collect included) appears once, by its full dotted
// path, wired exactly as declared. Used for acyclicity checks, the
// "ready node" topological ordering in §4.4b step 1, and the governing-
// iterator search (§4.4c) and iteration matcher (§4.4e), which need to
// find iterator nodes by path within the same adjacency.
func (g *Graph) FlatView() *FlatGraph {
	f := newFlatGraph()
	g.collectFlat(f, "")
	return f
}

// IteratorView is an alias of FlatView kept for call-site clarity where
// the caller specifically cares about locating IterateInvocation
// ancestors (§4.4c, §4.4e) rather than acyclicity.
func (g *Graph) IteratorView() *FlatGraph {
	return g.FlatView()
}

func (g *Graph) collectFlat(f *FlatGraph, prefix string) {
	for _, id := range g.NodeOrder {
		node := g.Nodes[id]
		full := joinPath(prefix, id)
		if gi, ok := node.(*GraphInvocation); ok {
			gi.Graph.collectFlat(f, full)
			continue
		}
		f.addNode(full)
	}
	for _, e := range g.Edges {
		from := joinPath(prefix, e.From.NodeID)
		to := joinPath(prefix, e.To.NodeID)
		f.addEdge(from, to)
	}
}

// PlainView builds a single-level adjacency over g's own nodes and edges
// only, with no subgraph recursion and no node-type exclusions. Used for
// the execution graph, which is always flat-materialized by construction
// (no nested GraphInvocation copies are ever produced).
func (g *Graph) PlainView() *FlatGraph {
	f := newFlatGraph()
	for _, id := range g.NodeOrder {
		f.addNode(id)
	}
	for _, e := range g.Edges {
		f.addEdge(e.From.NodeID, e.To.NodeID)
	}
	return f
}

// RemoveInEdgesTo returns a copy of f with every edge terminating at
// nodeID removed, leaving every other edge and the full node set intact.
func (f *FlatGraph) RemoveInEdgesTo(nodeID string) *FlatGraph {
	out := newFlatGraph()
	out.order = append([]string(nil), f.order...)
	for id := range f.nodes {
		out.nodes[id] = struct{}{}
	}
	for from, targets := range f.adj {
		for to := range targets {
			if to == nodeID {
				continue
			}
			out.addEdge(from, to)
		}
	}
	return out
}

// Ancestors returns the set of nodes with a directed path to nodeID.
func (f *FlatGraph) Ancestors(nodeID string) map[string]bool {
	out := map[string]bool{}
	for _, n := range f.order {
		if n == nodeID {
			continue
		}
		if f.reaches(n, nodeID) {
			out[n] = true
		}
	}
	return out
}

// HasPath reports whether to is reachable from from via directed edges.
func (f *FlatGraph) HasPath(from, to string) bool {
	if from == to {
		return true
	}
	return f.reaches(from, to)
}

// InEdgeSources returns the distinct source node ids of every edge
// terminating at nodeID.
func (f *FlatGraph) InEdgeSources(nodeID string) []string {
	var out []string
	for _, from := range f.order {
		if _, ok := f.adj[from][nodeID]; ok {
			out = append(out, from)
		}
	}
	return out
}

// wouldCreateCycle reports whether adding an edge from -> to would
// introduce a cycle, i.e. whether to can already reach from.
func (f *FlatGraph) wouldCreateCycle(from, to string) bool {
	if from == to {
		return true
	}
	return f.reaches(to, from)
}

// reaches reports whether start can reach target via directed edges.
func (f *FlatGraph) reaches(start, target string) bool {
	visited := map[string]bool{}
	stack := []string{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == target {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		for next := range f.adj[n] {
			stack = append(stack, next)
		}
	}
	return false
}

// hasCycle runs a standard DFS-with-recursion-stack cycle check over the
// whole flat graph.
func (f *FlatGraph) hasCycle() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(f.nodes))
	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = gray
		for next := range f.adj[n] {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}
	for n := range f.nodes {
		if color[n] == white {
			if visit(n) {
				return true
			}
		}
	}
	return false
}

// TopologicalSort returns the flat graph's nodes in dependency order
// (Kahn's algorithm), grounded on the teacher's root graph.go
// TopologicalSort. Returns an error if the graph is cyclic.
func (f *FlatGraph) TopologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(f.nodes))
	for n := range f.nodes {
		inDegree[n] = 0
	}
	for _, targets := range f.adj {
		for t := range targets {
			inDegree[t]++
		}
	}
	var queue []string
	for _, n := range f.order {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}
	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, next := range f.order {
			if _, wired := f.adj[n][next]; !wired {
				continue
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(order) != len(f.nodes) {
		return nil, ErrCyclicalGraph
	}
	return order, nil
}
