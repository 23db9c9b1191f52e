package graph

import (
	"fmt"

	"github.com/waffletower/invokeai-graph/core"
	"github.com/waffletower/invokeai-graph/registry"
)

// GraphDocument is the serializable, tagged-union form of a Graph
// (spec.md §6: persistence as a tagged-union document). It round-trips
// through both YAML (daemon config / CLI file input, per the teacher's
// gopkg.in/yaml.v3 convention) and JSON (session-store persistence).
type GraphDocument struct {
	ID    string         `yaml:"id" json:"id"`
	Nodes []NodeDoc      `yaml:"nodes" json:"nodes"`
	Edges []EdgeConnDoc  `yaml:"edges" json:"edges"`
}

// NodeDoc is one node's serialized form: its id, its variant-type
// discriminator, a field map for scalar inputs, and (for the "graph"
// structural variant only) a nested GraphDocument.
type NodeDoc struct {
	ID     string         `yaml:"id" json:"id"`
	Type   string         `yaml:"type" json:"type"`
	Fields map[string]any `yaml:"fields,omitempty" json:"fields,omitempty"`
	Graph  *GraphDocument `yaml:"graph,omitempty" json:"graph,omitempty"`
	// Index carries an IterateInvocation's current iteration index
	// (spec.md §3: the node "carries" this as state). It is not a declared
	// input field — IterateInvocation.GetInput only recognizes
	// "collection" — so it is never picked up by the generic
	// schema-driven field walk below and needs its own slot here, or a
	// resumed execution state would silently reset every prepared
	// iterate copy back to index 0.
	Index *int `yaml:"index,omitempty" json:"index,omitempty"`
}

// EdgeConnDoc is the serialized form of one Edge, using "node.field"
// strings rather than nested structs for a more compact document.
type EdgeConnDoc struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

func encodeConn(c EdgeConnection) string {
	return c.NodeID + "." + c.Field
}

func decodeConn(s string) (EdgeConnection, error) {
	idx := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			idx = i
			break
		}
	}
	if idx <= 0 || idx == len(s)-1 {
		return EdgeConnection{}, fmt.Errorf("graph: malformed endpoint %q, want node.field", s)
	}
	return EdgeConnection{NodeID: s[:idx], Field: s[idx+1:]}, nil
}

// ToGraph materializes a GraphDocument into a live Graph, instantiating
// each node from its registered factory and assigning its declared input
// fields, then replaying every edge through AddEdge so the same
// structural invariants the builder API enforces apply to loaded
// documents too. Grounded on the teacher's graph/definition.go ToGraph.
func ToGraph(doc GraphDocument, reg *registry.Registry) (*Graph, error) {
	if reg == nil {
		reg = registry.Global()
	}
	g := NewWithRegistry(doc.ID, reg)

	for _, nd := range doc.Nodes {
		node, err := instantiate(nd, reg)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", nd.ID, err)
		}
		node.SetID(nd.ID)
		if err := g.AddNode(node); err != nil {
			return nil, err
		}
	}

	for _, ed := range doc.Edges {
		from, err := decodeConn(ed.From)
		if err != nil {
			return nil, err
		}
		to, err := decodeConn(ed.To)
		if err != nil {
			return nil, err
		}
		if err := g.AddEdge(Edge{From: from, To: to}); err != nil {
			return nil, fmt.Errorf("edge %s -> %s: %w", ed.From, ed.To, err)
		}
	}

	return g, nil
}

func instantiate(nd NodeDoc, reg *registry.Registry) (core.Invocation, error) {
	if nd.Type == "graph" {
		if nd.Graph == nil {
			return nil, fmt.Errorf("graph: node %s declares type \"graph\" with no nested graph document", nd.ID)
		}
		nested, err := ToGraph(*nd.Graph, reg)
		if err != nil {
			return nil, err
		}
		gi := &GraphInvocation{BaseInvocation: core.BaseInvocation{TypeValue: "graph"}, Graph: nested}
		return gi, nil
	}

	node, err := reg.New(nd.Type)
	if err != nil {
		return nil, err
	}
	def, _ := reg.Get(nd.Type)
	for field, value := range nd.Fields {
		// Generic JSON decoding yields float64 for every number; restore
		// int for a whole-number value in a field declared as int.
		if f, ok := value.(float64); ok && float64(int(f)) == f {
			if fd, ok := def.Schema.InputField(field); ok && fd.Type.Equal(core.Scalar("int")) {
				value = int(f)
			}
		}
		if err := node.SetInput(field, value); err != nil {
			return nil, err
		}
	}
	if it, ok := node.(*IterateInvocation); ok && nd.Index != nil {
		it.Index = *nd.Index
	}
	return node, nil
}

// FromGraph serializes a live Graph back into its document form,
// recursing into nested GraphInvocation subgraphs. Field values are
// collected on a best-effort basis via each variant schema's declared
// input names.
func FromGraph(g *Graph, reg *registry.Registry) GraphDocument {
	if reg == nil {
		reg = registry.Global()
	}
	doc := GraphDocument{ID: g.ID}
	for _, id := range g.NodeOrder {
		node := g.Nodes[id]
		doc.Nodes = append(doc.Nodes, nodeToDoc(id, node, reg))
	}
	for _, e := range g.Edges {
		doc.Edges = append(doc.Edges, EdgeConnDoc{From: encodeConn(e.From), To: encodeConn(e.To)})
	}
	return doc
}

func nodeToDoc(id string, node core.Invocation, reg *registry.Registry) NodeDoc {
	if gi, ok := node.(*GraphInvocation); ok {
		nested := FromGraph(gi.Graph, reg)
		return NodeDoc{ID: id, Type: "graph", Graph: &nested}
	}

	nd := NodeDoc{ID: id, Type: node.Type()}
	if it, ok := node.(*IterateInvocation); ok {
		index := it.Index
		nd.Index = &index
	}
	def, ok := reg.Get(node.Type())
	if !ok {
		return nd
	}
	fields := make(map[string]any)
	for _, in := range def.Schema.Inputs {
		if v, ok := node.GetInput(in.Name); ok {
			fields[in.Name] = v
		}
	}
	if len(fields) > 0 {
		nd.Fields = fields
	}
	return nd
}
