package regtype

// ClassHandle is a stable index into the loaded-classes table. It carries no
// ownership — classes are never moved or reference-counted through this
// value, only looked up. See DESIGN.md "Reference-as-integer encoding" for
// why this replaces the source's bit-tagged class pointer.
type ClassHandle int32

// NullClass is the distinguished handle that stands for the null reference's
// class. A Ref of this handle is interchangeable with Zero everywhere the
// lattice treats references.
const NullClass ClassHandle = -1

// UninitSlot indexes into an UninitMap (see uninit.go).
type UninitSlot int32

// RegisterType is the tagged value that inhabits one lattice point. Only the
// field matching Kind is meaningful; the others are zero.
type RegisterType struct {
	Kind  Kind
	Class ClassHandle // meaningful iff Kind == Ref
	Slot  UninitSlot  // meaningful iff Kind == UninitRef
}

func Of(k Kind) RegisterType { return RegisterType{Kind: k} }

func RefOf(h ClassHandle) RegisterType {
	if h == NullClass {
		return RegisterType{Kind: Zero}
	}
	return RegisterType{Kind: Ref, Class: h}
}

func UninitOf(slot UninitSlot) RegisterType {
	return RegisterType{Kind: UninitRef, Slot: slot}
}

func (r RegisterType) IsUnknown() bool    { return r.Kind == Unknown }
func (r RegisterType) IsConflict() bool   { return r.Kind == Conflict }
func (r RegisterType) IsUninit() bool     { return r.Kind == UninitRef }
func (r RegisterType) IsReference() bool  { return r.Kind == Ref || r.Kind == Zero || r.Kind == UninitRef }
func (r RegisterType) IsNullReference() bool {
	return r.Kind == Zero
}

// ClassResolver is the subset of the class linker's view that the lattice
// needs to merge two initialized references. Implemented by the linker's
// class-graph type; kept as an interface here so regtype has no dependency
// on the linker or classfile packages (the dependency runs the other way).
type ClassResolver interface {
	// ObjectClass returns the handle of the root Object class.
	ObjectClass() ClassHandle
	// IsInterface reports whether h resolves to an interface type.
	IsInterface(h ClassHandle) bool
	// Implements reports whether h's class (transitively) implements iface.
	Implements(h ClassHandle, iface ClassHandle) bool
	// IsAssignable reports whether a value of class from can be used where
	// a value of class to is expected (from == to, or from is a subclass of
	// to, or to is an interface from implements).
	IsAssignable(from, to ClassHandle) bool
	// CommonSuperclass returns the nearest common ancestor class of a and b
	// (Object if nothing closer is shared).
	CommonSuperclass(a, b ClassHandle) ClassHandle
	// ArrayInfo reports the element class, dimension count, and whether the
	// element type is a non-reference primitive, for an array-typed handle.
	// ok is false if h is not an array class.
	ArrayInfo(h ClassHandle) (elem ClassHandle, dims int, primitiveElem bool, ok bool)
	// MakeArrayClass returns (or synthesizes) the handle for an array class
	// of the given element class and dimension.
	MakeArrayClass(elem ClassHandle, dims int) ClassHandle
}

// Merge computes the symmetric binary lattice join of a and b. resolver is
// consulted only when both a and b are initialized references (or arrays);
// it may be nil otherwise.
//
// Per spec.md §3: merge of constant-derived with its concrete counterpart
// yields the concrete; merge of two distinct initialized references yields
// the common superclass; Unknown merges only with Unknown; everything else
// incompatible yields Conflict.
func Merge(a, b RegisterType, resolver ClassResolver) RegisterType {
	if a == b {
		return a
	}
	if a.Kind == Unknown || b.Kind == Unknown {
		if a.Kind == Unknown && b.Kind == Unknown {
			return Of(Unknown)
		}
		return Of(Conflict)
	}
	if a.Kind == Conflict || b.Kind == Conflict {
		return Of(Conflict)
	}

	// Uninitialized references only merge with themselves (handled by a==b
	// above) or with Zero (a register that might or might not have been
	// assigned the allocation on some path is still uninitialized).
	if a.Kind == UninitRef || b.Kind == UninitRef {
		if a.Kind == Zero || b.Kind == Zero {
			// Uninitialized-or-null on different paths: still unusable,
			// verifier must treat subsequent use as a hard error, but the
			// lattice point itself is the uninit slot so later instructions
			// keep demanding <init>.
			if a.Kind == UninitRef {
				return a
			}
			return b
		}
		return Of(Conflict)
	}

	if swapped, ok := mergeConstants(a, b); ok {
		return swapped
	}

	if a.Kind.IsCategory1NonReference() && b.Kind.IsCategory1NonReference() {
		return mergeNonReferencePrimitives(a, b)
	}

	if (a.Kind == Ref || a.Kind == Zero) && (b.Kind == Ref || b.Kind == Zero) {
		return mergeReferences(a, b, resolver)
	}

	return Of(Conflict)
}

// mergeConstants handles pairs where at least one side is a constant-literal
// kind, narrowing to the concrete counterpart per spec.md §3. ok is false if
// neither side is a constant (caller falls through to other merge rules).
func mergeConstants(a, b RegisterType) (RegisterType, bool) {
	if !a.Kind.IsConstant() && !b.Kind.IsConstant() {
		return RegisterType{}, false
	}

	// Two different constants of the same width class merge to the widest
	// value-range kind that covers both (never to Conflict — a literal is
	// always assignable to the union of what it could represent).
	if a.Kind.IsConstant() && b.Kind.IsConstant() {
		return Of(widestConst(a.Kind, b.Kind)), true
	}

	// One concrete, one constant: a constant used alongside a concrete
	// typed register narrows to that concrete type if compatible, else
	// Conflict (category mismatch, e.g. ConstLo vs Boolean).
	konst, concrete := a, b
	if b.Kind.IsConstant() {
		konst, concrete = b, a
	}

	if concrete.Kind.IsCategory2Lo() && konst.Kind == ConstLo {
		return concrete, true
	}
	if concrete.Kind.IsCategory2Hi() && konst.Kind == ConstHi {
		return concrete, true
	}
	if concrete.Kind.IsCategory1NonReference() && konst.Kind.IsCategory1NonReference() {
		if CanNarrowConstTo(konst.Kind, concrete.Kind) {
			return concrete, true
		}
		return Of(Conflict), true
	}
	return Of(Conflict), true
}

// widestConst merges two constant kinds of the same category into the
// smallest kind that both narrowing chains could reach, defaulting to the
// full-width constant when the two disagree on signedness/width.
func widestConst(a, b Kind) Kind {
	if a == b {
		return a
	}
	if a.IsCategory2Lo() || b.IsCategory2Lo() || a.IsCategory2Hi() || b.IsCategory2Hi() {
		if a == ConstHi || b == ConstHi {
			return ConstHi
		}
		return ConstLo
	}
	// Both are narrow int constants of differing ranges: fall back to the
	// widest, ConstInt, which every narrower constant range is a subset of.
	return ConstInt
}

func mergeNonReferencePrimitives(a, b RegisterType) RegisterType {
	if a.Kind == b.Kind {
		return a
	}
	// Float and Int are explicitly disjoint per spec.md §3.
	if (a.Kind == Float) != (b.Kind == Float) {
		return Of(Conflict)
	}
	if a.Kind == Float && b.Kind == Float {
		return Of(Float)
	}
	// Any two distinct narrow integer-ish kinds (including Boolean) merge
	// up to the widest, Int.
	return Of(Int)
}

func mergeReferences(a, b RegisterType, resolver ClassResolver) RegisterType {
	if a.Kind == Zero && b.Kind == Zero {
		return Of(Zero)
	}
	if a.Kind == Zero {
		return b
	}
	if b.Kind == Zero {
		return a
	}
	if a.Class == b.Class {
		return a
	}
	if resolver == nil {
		return Of(Conflict)
	}

	aElem, aDims, aPrim, aIsArray := resolver.ArrayInfo(a.Class)
	bElem, bDims, bPrim, bIsArray := resolver.ArrayInfo(b.Class)
	if aIsArray || bIsArray {
		return mergeArrays(a.Class, b.Class, aElem, aDims, aPrim, aIsArray, bElem, bDims, bPrim, bIsArray, resolver)
	}

	aIface, bIface := resolver.IsInterface(a.Class), resolver.IsInterface(b.Class)
	if aIface != bIface {
		iface, cls := a.Class, b.Class
		if bIface {
			iface, cls = b.Class, a.Class
		}
		if resolver.Implements(cls, iface) {
			return RefOf(iface)
		}
		return RefOf(resolver.ObjectClass())
	}

	return RefOf(resolver.CommonSuperclass(a.Class, b.Class))
}

func mergeArrays(aClass, bClass ClassHandle, aElem ClassHandle, aDims int, aPrim, aIsArray bool,
	bElem ClassHandle, bDims int, bPrim, bIsArray bool, resolver ClassResolver) RegisterType {
	if !aIsArray || !bIsArray {
		// One side is a non-array object (only Object can be a supertype of
		// an array in this model) — merge to Object.
		return RefOf(resolver.ObjectClass())
	}

	dims := aDims
	if bDims < dims {
		dims = bDims
	}

	if aPrim || bPrim {
		// Primitive element arrays that differ drop to Object of (dim-1),
		// per spec.md §3. If either side is itself dim 1 this becomes a
		// plain Object reference (dims-1 == 0).
		if aElem == bElem && aDims == bDims {
			return RefOf(aClass)
		}
		if dims-1 <= 0 {
			return RefOf(resolver.ObjectClass())
		}
		return RefOf(resolver.MakeArrayClass(resolver.ObjectClass(), dims-1))
	}

	elem := resolver.CommonSuperclass(aElem, bElem)
	if dims == aDims && dims == bDims && elem == aElem && elem == bElem {
		return RefOf(aClass)
	}
	return RefOf(resolver.MakeArrayClass(elem, dims))
}
