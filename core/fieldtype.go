// Package core defines the fundamental vocabulary of the dataflow graph
// engine: typed ports (FieldType), the polymorphic invocation interface,
// and the opaque services/context bag passed to every invoke call.
//
// None of this depends on the graph or registry packages, so it can be
// imported by both without creating a cycle.
package core

// FieldKind distinguishes the shape of a FieldType.
type FieldKind string

const (
	// KindWildcard is compatible with every other type on either end of a
	// connection (spec.md §4.1 rule 1).
	KindWildcard FieldKind = "wildcard"
	// KindScalar is a named, possibly-nominally-subtyped leaf type.
	KindScalar FieldKind = "scalar"
	// KindUnion holds a fixed set of member types (e.g. a nullable type is
	// the union of its inner type and the absent-value sentinel).
	KindUnion FieldKind = "union"
	// KindSequence is parameterized by exactly one element type.
	KindSequence FieldKind = "sequence"
)

// FieldType is the Go replacement for spec.md's runtime type-hint
// introspection (see DESIGN.md, core package, "Dynamic type
// reflection"): every node variant declares its field types explicitly
// through this descriptor rather than relying on reflection.
type FieldType struct {
	Kind FieldKind
	// Name is the scalar type name (e.g. "int", "string", "image"). Empty
	// for wildcard/union/sequence kinds.
	Name string
	// Args holds the union members (KindUnion), or the single element type
	// (KindSequence, len(Args) must be 1). Unused for scalar/wildcard.
	Args []FieldType
}

// Wildcard returns the wildcard type.
func Wildcard() FieldType {
	return FieldType{Kind: KindWildcard}
}

// Scalar returns a named scalar type.
func Scalar(name string) FieldType {
	return FieldType{Kind: KindScalar, Name: name}
}

// Union returns a union of the given member types.
func Union(members ...FieldType) FieldType {
	return FieldType{Kind: KindUnion, Args: members}
}

// Sequence returns a sequence type with the given element type.
func Sequence(elem FieldType) FieldType {
	return FieldType{Kind: KindSequence, Args: []FieldType{elem}}
}

// Nullable returns the union of t and the absent-value sentinel, per
// spec.md §4.1 ("Nullable types are treated as the union of their inner
// type and the absent-value sentinel").
func Nullable(t FieldType) FieldType {
	return Union(t, noneType)
}

var noneType = FieldType{Kind: KindScalar, Name: "<none>"}

// IsNone reports whether t is the absent-value sentinel.
func (t FieldType) IsNone() bool {
	return t.Kind == KindScalar && t.Name == noneType.Name
}

// Equal reports structural equality between two FieldTypes.
func (t FieldType) Equal(o FieldType) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindScalar:
		return t.Name == o.Name
	case KindWildcard:
		return true
	case KindSequence:
		if len(t.Args) != 1 || len(o.Args) != 1 {
			return false
		}
		return t.Args[0].Equal(o.Args[0])
	case KindUnion:
		if len(t.Args) != len(o.Args) {
			return false
		}
		for i := range t.Args {
			if !t.Args[i].Equal(o.Args[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// containsMember reports whether the union u has a member structurally
// equal to t.
func containsMember(u FieldType, t FieldType) bool {
	if u.Kind != KindUnion {
		return false
	}
	for _, m := range u.Args {
		if m.Equal(t) {
			return true
		}
	}
	return false
}

// SubtypeChecker decides whether sub is a nominal subtype of super. It is
// set by the registry package at startup (see SetSubtypeChecker) to avoid
// an import cycle between core and registry, mirroring the
// SetExprValidator/GetExprValidator indirection the teacher uses in
// graph/definition.go to avoid an import cycle with the expr package.
type SubtypeChecker func(sub, super string) bool

var subtypeChecker SubtypeChecker

// SetSubtypeChecker registers the nominal-subtyping predicate. Called once
// at startup by the registry package.
func SetSubtypeChecker(fn SubtypeChecker) {
	subtypeChecker = fn
}

func isSubtype(sub, super FieldType) bool {
	if sub.Kind != KindScalar || super.Kind != KindScalar {
		return false
	}
	if sub.Name == super.Name {
		return true
	}
	if subtypeChecker == nil {
		return false
	}
	return subtypeChecker(sub.Name, super.Name)
}

// IsSubtypeOrEqual reports whether sub is super itself, or a nominal
// subtype of super per the registry's declared hierarchy. Used by the
// collector shape invariant to build the producer-type "nominal root" tree.
func IsSubtypeOrEqual(sub, super FieldType) bool {
	if sub.Equal(super) {
		return true
	}
	return isSubtype(sub, super)
}

// Compatible decides whether a value produced with type from can flow into
// a port declared with type to, per spec.md §4.1. Rules are evaluated in
// order; the first match wins.
func Compatible(from, to FieldType) bool {
	// 1. Either side is the wildcard type.
	if from.Kind == KindWildcard || to.Kind == KindWildcard {
		return true
	}
	// 2. Types are equal.
	if from.Equal(to) {
		return true
	}
	// 3. from_type is listed among the type arguments of to_type.
	if containsMember(to, from) {
		return true
	}
	// 4. to_type is listed among the type arguments of from_type.
	if containsMember(from, to) {
		return true
	}
	// 5. from_type is a (nominal) subtype of to_type.
	if isSubtype(from, to) {
		return true
	}
	// 6. Otherwise, incompatible.
	return false
}
