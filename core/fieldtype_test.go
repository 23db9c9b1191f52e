package core_test

import (
	"testing"

	"github.com/waffletower/invokeai-graph/core"
)

func TestCompatible_WildcardEitherSide(t *testing.T) {
	if !core.Compatible(core.Wildcard(), core.Scalar("int")) {
		t.Error("wildcard -> int should be compatible")
	}
	if !core.Compatible(core.Scalar("int"), core.Wildcard()) {
		t.Error("int -> wildcard should be compatible")
	}
}

func TestCompatible_EqualTypes(t *testing.T) {
	if !core.Compatible(core.Scalar("int"), core.Scalar("int")) {
		t.Error("int -> int should be compatible")
	}
	if core.Compatible(core.Scalar("int"), core.Scalar("string")) {
		t.Error("int -> string should not be compatible")
	}
}

func TestCompatible_UnionMembership(t *testing.T) {
	nullableInt := core.Nullable(core.Scalar("int"))

	if !core.Compatible(core.Scalar("int"), nullableInt) {
		t.Error("int -> nullable(int) should be compatible (from is a union member of to)")
	}
	if !core.Compatible(nullableInt, core.Scalar("int")) {
		t.Error("nullable(int) -> int should be compatible (to is a union member of from)")
	}
	if core.Compatible(core.Scalar("string"), nullableInt) {
		t.Error("string -> nullable(int) should not be compatible")
	}
}

func TestCompatible_Sequence(t *testing.T) {
	intSeq := core.Sequence(core.Scalar("int"))
	strSeq := core.Sequence(core.Scalar("string"))

	if !core.Compatible(intSeq, intSeq) {
		t.Error("[]int -> []int should be compatible")
	}
	if core.Compatible(intSeq, strSeq) {
		t.Error("[]int -> []string should not be compatible")
	}
}

func TestCompatible_NominalSubtype(t *testing.T) {
	t.Cleanup(func() { core.SetSubtypeChecker(nil) })

	core.SetSubtypeChecker(func(sub, super string) bool {
		return sub == "png" && super == "image"
	})

	if !core.Compatible(core.Scalar("png"), core.Scalar("image")) {
		t.Error("png -> image should be compatible via the nominal subtype rule")
	}
	if core.Compatible(core.Scalar("image"), core.Scalar("png")) {
		t.Error("image -> png should not be compatible (subtyping is directional)")
	}
}

func TestIsSubtypeOrEqual(t *testing.T) {
	t.Cleanup(func() { core.SetSubtypeChecker(nil) })

	core.SetSubtypeChecker(func(sub, super string) bool {
		return sub == "png" && super == "image"
	})

	if !core.IsSubtypeOrEqual(core.Scalar("image"), core.Scalar("image")) {
		t.Error("a type should be its own subtype-or-equal")
	}
	if !core.IsSubtypeOrEqual(core.Scalar("png"), core.Scalar("image")) {
		t.Error("png should be a subtype-or-equal of image")
	}
	if core.IsSubtypeOrEqual(core.Scalar("jpeg"), core.Scalar("image")) {
		t.Error("jpeg was never declared a subtype of image")
	}
}

func TestFieldType_Equal(t *testing.T) {
	a := core.Union(core.Scalar("int"), core.Scalar("string"))
	b := core.Union(core.Scalar("int"), core.Scalar("string"))
	c := core.Union(core.Scalar("string"), core.Scalar("int"))

	if !a.Equal(b) {
		t.Error("structurally identical unions should be equal")
	}
	if a.Equal(c) {
		t.Error("unions with members in a different order should not be equal (order-sensitive)")
	}
}

func TestNullable_IsNone(t *testing.T) {
	n := core.Nullable(core.Scalar("int"))
	members := n.Args
	if len(members) != 2 {
		t.Fatalf("nullable(int) should have 2 union members, got %d", len(members))
	}
	if !members[1].IsNone() {
		t.Error("second member of a nullable union should be the none sentinel")
	}
	if members[0].IsNone() {
		t.Error("first member of a nullable union should be the wrapped type, not none")
	}
}
