package store

import (
	"github.com/waffletower/invokeai-graph/core"
	"github.com/waffletower/invokeai-graph/graph"
	"github.com/waffletower/invokeai-graph/registry"
	"github.com/waffletower/invokeai-graph/runtime"
)

// executionStateDoc is the serializable, tagged-union form of a
// runtime.ExecutionState (spec.md §6 "Persistence": a document, not a
// relational schema). Grounded on graph.GraphDocument's encode/decode
// shape, extended to cover execution-state bookkeeping.
type executionStateDoc struct {
	ID                    string                     `json:"id"`
	Graph                 graph.GraphDocument        `json:"graph"`
	ExecutionGraph        graph.GraphDocument        `json:"execution_graph"`
	Executed              map[string]bool            `json:"executed"`
	ExecutedHistory       []string                   `json:"executed_history"`
	Results               map[string]outputDoc       `json:"results"`
	Errors                map[string]string          `json:"errors"`
	PreparedSourceMapping map[string]string          `json:"prepared_source_mapping"`
	SourcePreparedMapping map[string]map[string]bool `json:"source_prepared_mapping"`
	SourcePreparedOrder   map[string][]string        `json:"source_prepared_order"`
}

// outputDoc is the serialized form of a core.Output: its variant type
// discriminator plus a field map collected from the variant's declared
// output fields, mirroring graph.nodeToDoc's input-field collection.
type outputDoc struct {
	Type   string         `json:"type"`
	Fields map[string]any `json:"fields,omitempty"`
}

// storedOutput replays a decoded outputDoc as a core.Output.
type storedOutput struct {
	typ    string
	fields map[string]any
}

func (o storedOutput) Type() string { return o.typ }

func (o storedOutput) Field(name string) (any, bool) {
	v, ok := o.fields[name]
	return v, ok
}

func encodeExecutionState(s *runtime.ExecutionState, reg *registry.Registry) executionStateDoc {
	doc := executionStateDoc{
		ID:                    s.ID,
		Graph:                 graph.FromGraph(s.Graph, reg),
		ExecutionGraph:        graph.FromGraph(s.ExecutionGraph, reg),
		Executed:              s.Executed,
		ExecutedHistory:       s.ExecutedHistory,
		Errors:                s.Errors,
		PreparedSourceMapping: s.PreparedSourceMapping,
		SourcePreparedMapping: s.SourcePreparedMapping,
		SourcePreparedOrder:   s.SourcePreparedOrder,
		Results:               make(map[string]outputDoc, len(s.Results)),
	}
	for id, out := range s.Results {
		doc.Results[id] = encodeOutput(id, out, s.ExecutionGraph, reg)
	}
	return doc
}

func encodeOutput(nodeID string, out core.Output, execGraph *graph.Graph, reg *registry.Registry) outputDoc {
	od := outputDoc{Type: out.Type()}
	node, err := execGraph.GetNode(nodeID)
	if err != nil {
		return od
	}
	def, ok := reg.Get(node.Type())
	if !ok {
		return od
	}
	fields := make(map[string]any)
	for _, fd := range def.Schema.Outputs {
		if v, ok := out.Field(fd.Name); ok {
			fields[fd.Name] = v
		}
	}
	if len(fields) > 0 {
		od.Fields = fields
	}
	return od
}

func decodeExecutionState(doc executionStateDoc, reg *registry.Registry) (*runtime.ExecutionState, error) {
	srcGraph, err := graph.ToGraph(doc.Graph, reg)
	if err != nil {
		return nil, err
	}
	execGraph, err := graph.ToGraph(doc.ExecutionGraph, reg)
	if err != nil {
		return nil, err
	}

	s := runtime.New(srcGraph)
	s.ID = doc.ID
	s.ExecutionGraph = execGraph
	s.Executed = doc.Executed
	s.ExecutedHistory = doc.ExecutedHistory
	s.Errors = doc.Errors
	s.PreparedSourceMapping = doc.PreparedSourceMapping
	s.SourcePreparedMapping = doc.SourcePreparedMapping
	s.SourcePreparedOrder = doc.SourcePreparedOrder

	s.Results = make(map[string]core.Output, len(doc.Results))
	for id, od := range doc.Results {
		s.Results[id] = storedOutput{typ: od.Type, fields: od.Fields}
	}
	return s, nil
}
