package core

import "context"

// FieldDef describes one named, typed field of a node variant (an input
// or an output port). Grounded on the teacher's registry.PortDef, widened
// from a string type name to a FieldType descriptor.
type FieldDef struct {
	Name     string
	Type     FieldType
	Required bool
	// Default is the zero-value used when an input field is left
	// unconnected. Ignored for output fields.
	Default any
}

// VariantSchema describes the statically-declared input/output field set
// of one node variant (spec.md: "Each variant declares, statically, its
// named input fields ... and output fields"). Grounded on the teacher's
// registry.NodeTypeDef/PortSchema.
type VariantSchema struct {
	Type    string
	Inputs  []FieldDef
	Outputs []FieldDef
}

// InputField returns the declared input field def by name.
func (s VariantSchema) InputField(name string) (FieldDef, bool) {
	for _, f := range s.Inputs {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// OutputField returns the declared output field def by name.
func (s VariantSchema) OutputField(name string) (FieldDef, bool) {
	for _, f := range s.Outputs {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// Output is the polymorphic result of one invocation. Every concrete
// output type carries a stable Type() discriminator so a tagged-union
// document can pick the right variant on decode (spec.md §6 persistence).
type Output interface {
	// Type returns the output variant's discriminator string.
	Type() string
	// Field returns the named output field's value.
	Field(name string) (any, bool)
}

// Invocation is the fundamental unit of execution in a graph: one typed
// operation with named input/output fields. Concrete variants are
// registered in the registry package's type registry; the three
// engine-defined structural variants (graph, iterate, collect) live in
// the graph package.
type Invocation interface {
	// ID returns this node's id, unique within its containing graph.
	ID() string
	// SetID sets this node's id. Used when materializing prepared copies
	// with a freshly-minted id during execution-graph expansion.
	SetID(id string)
	// Type returns the stable discriminator string for this node's variant.
	Type() string
	// Clone returns a deep, by-value copy of the node with a struct-field
	// level clone of its declared fields (spec.md §9: "treat invocation
	// nodes as value-objects; copying is a by-value clone of declared
	// fields only"). Never share mutable state between prepared copies.
	Clone() Invocation
	// GetInput returns the current value of a named input field.
	GetInput(name string) (any, bool)
	// SetInput assigns a value to a named input field. Returns an error if
	// the field does not exist or the value's runtime type is unsuitable.
	SetInput(name string, value any) error
	// Invoke runs this node's operation against the given context and
	// returns its typed output.
	Invoke(ctx context.Context, ictx InvocationContext) (Output, error)
}

// InvocationContext bundles everything an Invoke call needs beyond its own
// input fields: the opaque services registry and the identifiers of the
// current node/execution-state, per spec.md §6 ("context bundles the
// services registry and the current node/state ids").
type InvocationContext struct {
	Services        *Services
	ExecutionStateID string
	NodeID           string
}

// Services is an opaque bag of named collaborators (an invocation library,
// work queue, session store, logger, etc.) shared across all nodes in a
// run. Safety under whatever concurrency the outer work queue imposes is
// the collaborator's own contract, not the engine's (spec.md §5).
// Grounded on the teacher's core.ToolRegistry (name -> value lookup bag).
type Services struct {
	named map[string]any
}

// NewServices creates an empty services registry.
func NewServices() *Services {
	return &Services{named: make(map[string]any)}
}

// Register adds a named service.
func (s *Services) Register(name string, svc any) {
	s.named[name] = svc
}

// Get retrieves a named service.
func (s *Services) Get(name string) (any, bool) {
	svc, ok := s.named[name]
	return svc, ok
}

// Names returns every registered service name, for lifecycle fan-out.
func (s *Services) Names() []string {
	names := make([]string, 0, len(s.named))
	for name := range s.named {
		names = append(names, name)
	}
	return names
}

// Lifecycle is implemented by services that want to be notified when the
// invoker façade starts or stops. Implementing it is optional, but a
// service must implement both Start and Stop to satisfy it: one that
// implements only one of them gets neither hook called.
type Lifecycle interface {
	Start(invokerID string) error
	Stop(invokerID string) error
}

// BaseInvocation provides the common id/type bookkeeping for concrete
// invocation variants. Embed this the way the teacher's node.go BaseNode
// is embedded by NoopNode/FuncNode, to get ID()/SetID()/Type() for free.
type BaseInvocation struct {
	IDValue   string
	TypeValue string
}

// ID returns this node's id.
func (b *BaseInvocation) ID() string { return b.IDValue }

// SetID sets this node's id.
func (b *BaseInvocation) SetID(id string) { b.IDValue = id }

// Type returns this node's variant discriminator.
func (b *BaseInvocation) Type() string { return b.TypeValue }
