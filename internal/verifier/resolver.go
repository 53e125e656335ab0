package verifier

import "dexprep/internal/regtype"

// MethodKind classifies which invoke-* opcode family a resolved method must
// be called through (spec.md §4.3's "the method-kind recorded against a
// method-ref must match the invoke opcode that references it").
type MethodKind int

const (
	MethodVirtual MethodKind = iota
	MethodDirect
	MethodStatic
	MethodInterface
)

// FieldResolver answers a field-ref constant-pool lookup for the
// iget/iput/sget/sput family. owner is the field's true declaring class —
// the class that walking up the superclass chain from the reference's
// named class first defines it, not necessarily the named class itself —
// which is also what the Uninit-receiver rule needs when it checks that a
// field accessed through an uninitialized `this` is "directly declared" on
// the class under construction.
type FieldResolver interface {
	ResolveField(poolIndex int32) (owner regtype.ClassHandle, fieldType regtype.RegisterType, isStatic, isFinal bool, ok bool)
}

// MethodResolver answers a method-ref constant-pool lookup for the
// invoke-* family. returnType's Kind is regtype.Unknown for a void method;
// ok is false when the reference cannot be resolved (a deferrable
// NoSuchMethod, spec.md §7).
type MethodResolver interface {
	ResolveMethod(poolIndex int32) (owner regtype.ClassHandle, paramTypes []regtype.RegisterType, returnType regtype.RegisterType, kind MethodKind, ok bool)
}

// Resolver is everything one Verify call needs: the class-hierarchy
// questions the register-type lattice's Merge requires, plus constant-pool
// field/method resolution for the per-opcode transfer functions.
type Resolver interface {
	regtype.ClassResolver
	FieldResolver
	MethodResolver
}
