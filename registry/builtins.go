package registry

import (
	"context"
	"fmt"

	"github.com/waffletower/invokeai-graph/core"
)

// This file plays the role of a minimal "invocation library" — the
// external collaborator spec.md §1 says the core only specifies an
// interface for. It is registered into Global() the way the teacher
// auto-registers its builtin node types (registry/builtins.go's
// registerBuiltins), and gives the engine's tests and examples a small,
// closed set of concrete node variants to build graphs out of.

// mapOutput is a small Output implementation backed by a field map.
// Shared by every builtin variant below to avoid a struct-per-output
// boilerplate; this is glue code, not a domain concern, so it stays on
// the standard library.
type mapOutput struct {
	typ    string
	fields map[string]any
}

func (o mapOutput) Type() string { return o.typ }

func (o mapOutput) Field(name string) (any, bool) {
	v, ok := o.fields[name]
	return v, ok
}

func newOutput(typ string, fields map[string]any) core.Output {
	return mapOutput{typ: typ, fields: fields}
}

// --- int_value: emits a constant integer -----------------------------------

type intValueInvocation struct {
	core.BaseInvocation
	Value int
}

func newIntValue() core.Invocation {
	return &intValueInvocation{BaseInvocation: core.BaseInvocation{TypeValue: "int_value"}}
}

func (n *intValueInvocation) Clone() core.Invocation {
	c := *n
	return &c
}

func (n *intValueInvocation) GetInput(name string) (any, bool) {
	if name != "value" {
		return nil, false
	}
	return n.Value, true
}

func (n *intValueInvocation) SetInput(name string, value any) error {
	if name != "value" {
		return fmt.Errorf("int_value: no input field %q", name)
	}
	i, ok := value.(int)
	if !ok {
		return fmt.Errorf("int_value: field %q expects int, got %T", name, value)
	}
	n.Value = i
	return nil
}

func (n *intValueInvocation) Invoke(_ context.Context, _ core.InvocationContext) (core.Output, error) {
	return newOutput("int_value_output", map[string]any{"value": n.Value}), nil
}

// --- int_sequence: emits a constant list of integers ------------------------

// Items is stored (and emitted) as []any, not []int: every sequence-typed
// field flowing through IterateInvocation/CollectInvocation is modeled
// as []any (core's FieldType has no generic parameter to recover a
// narrower slice type at runtime), so every producer of a sequence
// output must emit that shape for the iterator/collector machinery
// (which type-asserts to []any) to accept it.
type intSequenceInvocation struct {
	core.BaseInvocation
	Items []any
}

func newIntSequence() core.Invocation {
	return &intSequenceInvocation{BaseInvocation: core.BaseInvocation{TypeValue: "int_sequence"}}
}

func (n *intSequenceInvocation) Clone() core.Invocation {
	c := *n
	c.Items = append([]any(nil), n.Items...)
	return &c
}

func (n *intSequenceInvocation) GetInput(name string) (any, bool) {
	if name != "items" {
		return nil, false
	}
	return append([]any(nil), n.Items...), true
}

func (n *intSequenceInvocation) SetInput(name string, value any) error {
	if name != "items" {
		return fmt.Errorf("int_sequence: no input field %q", name)
	}
	items, ok := value.([]any)
	if !ok {
		return fmt.Errorf("int_sequence: field %q expects []any, got %T", name, value)
	}
	n.Items = items
	return nil
}

func (n *intSequenceInvocation) Invoke(_ context.Context, _ core.InvocationContext) (core.Output, error) {
	items := append([]any(nil), n.Items...)
	return newOutput("int_sequence_output", map[string]any{"items": items}), nil
}

// --- add: sums two integers --------------------------------------------------

type addInvocation struct {
	core.BaseInvocation
	A, B int
}

func newAdd() core.Invocation {
	return &addInvocation{BaseInvocation: core.BaseInvocation{TypeValue: "add"}}
}

func (n *addInvocation) Clone() core.Invocation {
	c := *n
	return &c
}

func (n *addInvocation) GetInput(name string) (any, bool) {
	switch name {
	case "a":
		return n.A, true
	case "b":
		return n.B, true
	default:
		return nil, false
	}
}

func (n *addInvocation) SetInput(name string, value any) error {
	i, ok := value.(int)
	if !ok {
		return fmt.Errorf("add: field %q expects int, got %T", name, value)
	}
	switch name {
	case "a":
		n.A = i
	case "b":
		n.B = i
	default:
		return fmt.Errorf("add: no input field %q", name)
	}
	return nil
}

func (n *addInvocation) Invoke(_ context.Context, _ core.InvocationContext) (core.Output, error) {
	return newOutput("add_output", map[string]any{"value": n.A + n.B}), nil
}

// --- square: squares an integer ----------------------------------------------

type squareInvocation struct {
	core.BaseInvocation
	Value int
}

func newSquare() core.Invocation {
	return &squareInvocation{BaseInvocation: core.BaseInvocation{TypeValue: "square"}}
}

func (n *squareInvocation) Clone() core.Invocation {
	c := *n
	return &c
}

func (n *squareInvocation) GetInput(name string) (any, bool) {
	if name != "value" {
		return nil, false
	}
	return n.Value, true
}

func (n *squareInvocation) SetInput(name string, value any) error {
	if name != "value" {
		return fmt.Errorf("square: no input field %q", name)
	}
	i, ok := value.(int)
	if !ok {
		return fmt.Errorf("square: field %q expects int, got %T", name, value)
	}
	n.Value = i
	return nil
}

func (n *squareInvocation) Invoke(_ context.Context, _ core.InvocationContext) (core.Output, error) {
	return newOutput("square_output", map[string]any{"value": n.Value * n.Value}), nil
}

// registerBuiltins installs the sample invocation library described above.
func registerBuiltins(r *Registry) {
	intType := core.Scalar("int")
	intSeqType := core.Sequence(intType)

	r.Register(VariantDef{
		Schema: core.VariantSchema{
			Type:    "int_value",
			Inputs:  []core.FieldDef{{Name: "value", Type: intType, Default: 0}},
			Outputs: []core.FieldDef{{Name: "value", Type: intType}},
		},
		Factory: newIntValue,
	})

	r.Register(VariantDef{
		Schema: core.VariantSchema{
			Type:    "int_sequence",
			Inputs:  []core.FieldDef{{Name: "items", Type: intSeqType, Default: []any{}}},
			Outputs: []core.FieldDef{{Name: "items", Type: intSeqType}},
		},
		Factory: newIntSequence,
	})

	r.Register(VariantDef{
		Schema: core.VariantSchema{
			Type: "add",
			Inputs: []core.FieldDef{
				{Name: "a", Type: intType, Required: true},
				{Name: "b", Type: intType, Required: true},
			},
			Outputs: []core.FieldDef{{Name: "value", Type: intType}},
		},
		Factory: newAdd,
	})

	r.Register(VariantDef{
		Schema: core.VariantSchema{
			Type:    "square",
			Inputs:  []core.FieldDef{{Name: "value", Type: intType, Required: true}},
			Outputs: []core.FieldDef{{Name: "value", Type: intType}},
		},
		Factory: newSquare,
	})
}
