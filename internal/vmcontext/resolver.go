package vmcontext

import (
	"dexprep/internal/classfile"
	"dexprep/internal/dex"
	"dexprep/internal/regtype"
	"dexprep/internal/rewriter"
	"dexprep/internal/verifier"
)

// classResolver is a per-class view over the table: it answers every
// regtype.ClassResolver question tableResolver already does, plus
// constant-pool field/method resolution scoped to owner's own FieldRefs/
// MethodRefs table. A PoolIndex is only meaningful relative to the class
// that declared the referencing instruction, so (unlike Resolver, which is
// shared table-wide) one of these must be built per class being verified
// or rewritten.
type classResolver struct {
	tableResolver
	owner *classfile.Class
}

// ResolverFor returns a verifier.Resolver/rewriter.FieldResolver/
// rewriter.MethodResolver view scoped to owner's constant pool.
func (t *ClassTable) ResolverFor(owner *classfile.Class) *classResolver {
	return &classResolver{tableResolver: tableResolver{t}, owner: owner}
}

func (r *classResolver) fieldRef(poolIndex int32) (dex.FieldRef, bool) {
	if poolIndex < 0 || int(poolIndex) >= len(r.owner.FieldRefs) {
		return dex.FieldRef{}, false
	}
	return r.owner.FieldRefs[poolIndex], true
}

func (r *classResolver) methodRef(poolIndex int32) (dex.MethodRef, bool) {
	if poolIndex < 0 || int(poolIndex) >= len(r.owner.MethodRefs) {
		return dex.MethodRef{}, false
	}
	return r.owner.MethodRefs[poolIndex], true
}

// classFor resolves a type descriptor to a handle on owner's loader,
// reserving a placeholder (Idx-state) class entry the first time a
// descriptor is seen that nothing has loaded yet — the same lazy pattern
// tableResolver.MakeArrayClass already uses for array classes.
func (r *classResolver) classFor(descriptor string) regtype.ClassHandle {
	if c, ok := r.t.Lookup(r.owner.Loader, descriptor); ok {
		return c.Self
	}
	c, err := r.t.Reserve(r.owner.Loader, descriptor)
	if err != nil {
		if existing, ok := r.t.Lookup(r.owner.Loader, descriptor); ok {
			return existing.Self
		}
		return regtype.NullClass
	}
	return c.Self
}

// typeOf converts a descriptor into the lattice point it seeds a register
// with, mirroring the verifier's own descriptor-to-Kind mapping for
// parameter registers.
func (r *classResolver) typeOf(descriptor string) regtype.RegisterType {
	switch descriptor {
	case "Z":
		return regtype.Of(regtype.Boolean)
	case "B":
		return regtype.Of(regtype.Byte)
	case "C":
		return regtype.Of(regtype.Char)
	case "S":
		return regtype.Of(regtype.Short)
	case "I":
		return regtype.Of(regtype.Int)
	case "F":
		return regtype.Of(regtype.Float)
	case "J":
		return regtype.Of(regtype.LongLo)
	case "D":
		return regtype.Of(regtype.DoubleLo)
	case "V":
		return regtype.Of(regtype.Unknown)
	default:
		return regtype.RefOf(r.classFor(descriptor))
	}
}

func protoEqual(a, b dex.Prototype) bool {
	if a.ReturnType != b.ReturnType || len(a.ParamTypes) != len(b.ParamTypes) {
		return false
	}
	for i := range a.ParamTypes {
		if a.ParamTypes[i] != b.ParamTypes[i] {
			return false
		}
	}
	return true
}

// findField walks the superclass chain from startClass looking for a
// field matching name+type exactly, returning the class that actually
// declares it (not necessarily startClass) — field resolution order per
// the JVMS-style algorithm this is grounded on.
func (r *classResolver) findField(startClass regtype.ClassHandle, name, typ string) (*classfile.Field, regtype.ClassHandle, bool) {
	seen := map[regtype.ClassHandle]bool{}
	for cur := startClass; cur != regtype.NullClass && !seen[cur]; {
		seen[cur] = true
		c := r.t.Get(cur)
		if c == nil {
			return nil, regtype.NullClass, false
		}
		for _, f := range c.IFields {
			if f.Name == name && f.Type == typ {
				return f, cur, true
			}
		}
		for _, f := range c.SFields {
			if f.Name == name && f.Type == typ {
				return f, cur, true
			}
		}
		cur = c.Super
	}
	return nil, regtype.NullClass, false
}

// findMethod walks the superclass chain first (direct and virtual
// methods), then falls back to startClass's flattened interface table —
// the same two-phase search javac-generated invoke-interface/invoke-
// virtual references need.
func (r *classResolver) findMethod(startClass regtype.ClassHandle, name string, proto dex.Prototype) (*classfile.Method, regtype.ClassHandle, bool) {
	seen := map[regtype.ClassHandle]bool{}
	for cur := startClass; cur != regtype.NullClass && !seen[cur]; {
		seen[cur] = true
		c := r.t.Get(cur)
		if c == nil {
			break
		}
		for _, m := range c.DirectMethods {
			if m.Name == name && protoEqual(m.Proto, proto) {
				return m, cur, true
			}
		}
		for _, m := range c.VirtualMethods {
			if m.Name == name && protoEqual(m.Proto, proto) {
				return m, cur, true
			}
		}
		cur = c.Super
	}
	if start := r.t.Get(startClass); start != nil {
		for _, e := range start.IfTable {
			ic := r.t.Get(e.Interface)
			if ic == nil {
				continue
			}
			for _, m := range ic.VirtualMethods {
				if m.Name == name && protoEqual(m.Proto, proto) {
					return m, e.Interface, true
				}
			}
		}
	}
	return nil, regtype.NullClass, false
}

func methodKindOf(owner *classfile.Class, m *classfile.Method) verifier.MethodKind {
	switch {
	case m.IsStatic():
		return verifier.MethodStatic
	case owner.IsInterface():
		return verifier.MethodInterface
	case m.IsPrivate() || m.IsConstructor():
		return verifier.MethodDirect
	default:
		return verifier.MethodVirtual
	}
}

// ResolveField implements verifier.FieldResolver.
func (r *classResolver) ResolveField(poolIndex int32) (regtype.ClassHandle, regtype.RegisterType, bool, bool, bool) {
	ref, ok := r.fieldRef(poolIndex)
	if !ok {
		return regtype.NullClass, regtype.RegisterType{}, false, false, false
	}
	start := r.classFor(ref.ClassType)
	f, owner, found := r.findField(start, ref.Name, ref.Type)
	if !found {
		return regtype.NullClass, regtype.RegisterType{}, false, false, false
	}
	return owner, r.typeOf(f.Type), f.IsStatic(), f.IsFinal(), true
}

// ResolveMethod implements verifier.MethodResolver.
func (r *classResolver) ResolveMethod(poolIndex int32) (regtype.ClassHandle, []regtype.RegisterType, regtype.RegisterType, verifier.MethodKind, bool) {
	ref, ok := r.methodRef(poolIndex)
	if !ok {
		return regtype.NullClass, nil, regtype.RegisterType{}, verifier.MethodVirtual, false
	}
	start := r.classFor(ref.ClassType)
	m, owner, found := r.findMethod(start, ref.Name, ref.Proto)
	if !found {
		return regtype.NullClass, nil, regtype.RegisterType{}, verifier.MethodVirtual, false
	}
	ownerClass := r.t.Get(owner)
	params := make([]regtype.RegisterType, len(ref.Proto.ParamTypes))
	for i, p := range ref.Proto.ParamTypes {
		params[i] = r.typeOf(p)
	}
	return owner, params, r.typeOf(ref.Proto.ReturnType), methodKindOf(ownerClass, m), true
}

// ResolveFieldOffset implements rewriter.FieldResolver for instance fields.
func (r *classResolver) ResolveFieldOffset(poolIndex int32) (int32, bool, bool) {
	ref, ok := r.fieldRef(poolIndex)
	if !ok {
		return 0, false, false
	}
	f, _, found := r.findField(r.classFor(ref.ClassType), ref.Name, ref.Type)
	if !found || f.IsStatic() {
		return 0, false, false
	}
	return f.Offset, f.IsVolatile(), true
}

// ResolveStaticFieldSlot implements rewriter.FieldResolver for static
// fields.
func (r *classResolver) ResolveStaticFieldSlot(poolIndex int32) (int32, bool, bool) {
	ref, ok := r.fieldRef(poolIndex)
	if !ok {
		return 0, false, false
	}
	f, _, found := r.findField(r.classFor(ref.ClassType), ref.Name, ref.Type)
	if !found || !f.IsStatic() {
		return 0, false, false
	}
	return f.StaticSlot, f.IsVolatile(), true
}

// ResolveVTableIndex implements rewriter.MethodResolver.
func (r *classResolver) ResolveVTableIndex(poolIndex int32) (int32, bool) {
	ref, ok := r.methodRef(poolIndex)
	if !ok {
		return 0, false
	}
	m, _, found := r.findMethod(r.classFor(ref.ClassType), ref.Name, ref.Proto)
	if !found || m.VTableIndex < 0 {
		return 0, false
	}
	return m.VTableIndex, true
}

// ResolveInlineIndex never resolves: this pipeline populates no
// well-known-method inline table, so non-essential rewriting always falls
// back to vtable-index inlining for invoke-virtual rather than the
// execute-inline substitution.
func (r *classResolver) ResolveInlineIndex(int32) (int32, bool) {
	return 0, false
}

var (
	_ verifier.Resolver       = (*classResolver)(nil)
	_ rewriter.FieldResolver  = (*classResolver)(nil)
	_ rewriter.MethodResolver = (*classResolver)(nil)
)
