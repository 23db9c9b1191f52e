// Package registry provides the node-type registry that the "invocation
// library" external collaborator (spec.md §1: "out of scope ... specify
// only their interfaces to the core") uses to register concrete
// invocation variants with the engine: their field schemas, nominal
// subtype relationships, and a factory for producing fresh instances.
//
// Grounded on the teacher's registry/registry.go: a mutex-guarded map
// plus an insertion-order slice, and a package-level Global() singleton
// initialized once via sync.Once.
package registry

import (
	"fmt"
	"sync"

	"github.com/waffletower/invokeai-graph/core"
)

// VariantDef describes one registered invocation variant: its statically
// declared field schema and a factory that produces a fresh zero-value
// instance (used by document loaders to materialize a node from a
// serialized NodeDoc).
type VariantDef struct {
	Schema  core.VariantSchema
	Factory func() core.Invocation
}

// Registry holds all known invocation variants plus the nominal subtype
// hierarchy used by core.Compatible's rule 5.
type Registry struct {
	mu       sync.RWMutex
	variants map[string]VariantDef
	order    []string
	// parent maps a scalar type name to its single declared nominal
	// parent. Absence means the type has no declared parent.
	parent map[string]string
}

// New creates an empty registry. Most callers should use Global() instead;
// New is useful for isolated tests that don't want to pollute the
// process-wide singleton.
func New() *Registry {
	r := &Registry{
		variants: make(map[string]VariantDef),
		parent:   make(map[string]string),
	}
	return r
}

var (
	global     *Registry
	globalOnce sync.Once
)

// structuralHook is set by the graph package's init() to register the
// three engine-defined structural variants (graph, iterate, collect)
// without registry importing graph (which would create an import cycle,
// since graph already imports registry for schema lookups). Mirrors the
// SetExprValidator/GetExprValidator indirection in the teacher's
// graph/definition.go.
var structuralHook func(*Registry)

// SetStructuralHook registers the callback that installs the engine's
// built-in structural variants into a fresh registry.
func SetStructuralHook(fn func(*Registry)) {
	structuralHook = fn
}

// Global returns the singleton registry instance. On first call it
// initializes the registry, registers the built-in sample invocation
// library (see builtins.go), and — via the structural hook — the three
// engine-defined structural variants.
func Global() *Registry {
	globalOnce.Do(func() {
		global = New()
		registerBuiltins(global)
		if structuralHook != nil {
			structuralHook(global)
		}
	})
	return global
}

// Register adds (or overwrites) a variant definition.
func (r *Registry) Register(def VariantDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.variants[def.Schema.Type]; !exists {
		r.order = append(r.order, def.Schema.Type)
	}
	r.variants[def.Schema.Type] = def
}

// Get returns the variant definition for a type name.
func (r *Registry) Get(typeName string) (VariantDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.variants[typeName]
	return def, ok
}

// Has reports whether a type name is registered.
func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.variants[typeName]
	return ok
}

// All returns every registered variant schema in registration order.
func (r *Registry) All() []core.VariantSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.VariantSchema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.variants[name].Schema)
	}
	return out
}

// New instantiates a fresh invocation of the given type via its factory.
func (r *Registry) New(typeName string) (core.Invocation, error) {
	def, ok := r.Get(typeName)
	if !ok {
		return nil, fmt.Errorf("registry: unknown invocation type %q", typeName)
	}
	if def.Factory == nil {
		return nil, fmt.Errorf("registry: type %q has no factory", typeName)
	}
	return def.Factory(), nil
}

// RegisterSubtype declares that sub is a direct nominal subtype of super
// (spec.md §4.1 rule 5: "nominal subtyping over declared variants").
func (r *Registry) RegisterSubtype(sub, super string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parent[sub] = super
}

// IsSubtype reports whether sub is super, or a transitive nominal subtype
// of super, by walking the declared parent chain.
func (r *Registry) IsSubtype(sub, super string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	for cur := sub; ; {
		if cur == super {
			return true
		}
		if seen[cur] {
			return false // cycle guard
		}
		seen[cur] = true
		next, ok := r.parent[cur]
		if !ok {
			return false
		}
		cur = next
	}
}

func init() {
	// Wire core.Compatible's subtype rule to the global registry's
	// declared hierarchy. A Registry created via New() never affects
	// core.Compatible's subtype rule; only Global()'s hierarchy is
	// consulted — this mirrors the teacher's single-process
	// singleton-of-record pattern (registry.Global()).
	core.SetSubtypeChecker(func(sub, super string) bool {
		return Global().IsSubtype(sub, super)
	})
}
