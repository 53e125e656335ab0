// Package linker turns a Loaded class into a Resolved one: it builds the
// vtable, the interface table (synthesizing miranda methods), computes
// instance field offsets and the instance size, and inherits
// finalizability and reference-kind from the superclass chain — spec.md
// §4.1's five linker responsibilities.
//
// The algorithm follows original_source/dalvik/vm/oo/Class.c's
// dvmLinkClass (override search walking the superclass vtable from its
// end, an iftable built by first copying the superclass's and then
// appending each newly-implemented interface, and instance fields laid
// out reference-fields-first with alignment padding for 8-byte fields)
// rather than inventing a new layout strategy.
package linker

import (
	"dexprep/internal/classfile"
	"dexprep/internal/regtype"
	"dexprep/internal/verrors"
	"dexprep/internal/vmcontext"
)

// objectHeaderSize is the fixed per-instance header (class pointer +
// monitor word) every instance's fields are laid out after.
const objectHeaderSize = 8

// Link resolves c in place: super/interfaces must already be Resolved
// (or be Object, which has none). Returns a hard *verrors.Error on
// failure; on success c.State becomes classfile.Resolved.
func Link(ctx *vmcontext.Context, c *classfile.Class) *verrors.Error {
	if c.State != classfile.Loaded {
		return verrors.Newf(verrors.InternalError, "Link called on class %q in state %s", c.Name, c.State)
	}

	if c.Name != "Ljava/lang/Object;" {
		super, ok := ctx.Classes.Lookup(c.Loader, c.SuperType)
		if !ok || super.State < classfile.Resolved {
			c.State = classfile.StateError
			return verrors.NewRef(verrors.NoClassDef, "superclass not resolved", c.SuperType)
		}
		c.Super = super.Self
	} else {
		c.Super = regtype.NullClass
	}

	for _, it := range c.InterfaceTypes {
		iface, ok := ctx.Classes.Lookup(c.Loader, it)
		if !ok || iface.State < classfile.Resolved {
			c.State = classfile.StateError
			return verrors.NewRef(verrors.NoClassDef, "interface not resolved", it)
		}
		if !iface.IsInterface() {
			c.State = classfile.StateError
			return verrors.NewRef(verrors.IncompatibleClassChange, "implements a non-interface type", it)
		}
		c.Interfaces = append(c.Interfaces, iface.Self)
	}

	if err := checkSuperclassChain(ctx, c); err != nil {
		c.State = classfile.StateError
		return err
	}

	if !c.IsInterface() {
		buildVTable(ctx, c)
	}
	buildIfTable(ctx, c)
	layoutInstanceFields(ctx, c)
	inheritFinalizableAndRefKind(ctx, c)

	c.State = classfile.Resolved
	return nil
}

// checkSuperclassChain rejects a class whose own descriptor appears among
// its ancestors (spec.md §4.1 "class-circularity must be detected before
// any other linking step runs").
func checkSuperclassChain(ctx *vmcontext.Context, c *classfile.Class) *verrors.Error {
	seen := map[regtype.ClassHandle]bool{c.Self: true}
	for cur := c.Super; cur != regtype.NullClass; {
		if seen[cur] {
			return verrors.NewRef(verrors.ClassCircularity, "superclass cycle", c.Name)
		}
		seen[cur] = true
		sc := ctx.Classes.Get(cur)
		if sc == nil {
			break
		}
		cur = sc.Super
	}
	return nil
}

// buildVTable constructs c.VTable by first copying the superclass's
// vtable verbatim, then for each of c's own virtual methods either
// overriding an inherited slot (searched from the end of the inherited
// vtable, so the most-derived override already present wins) or
// appending a new slot.
func buildVTable(ctx *vmcontext.Context, c *classfile.Class) {
	var inherited []*classfile.Method
	if c.Super != regtype.NullClass {
		if sc := ctx.Classes.Get(c.Super); sc != nil {
			inherited = append(inherited, sc.VTable...)
		}
	}
	vtable := append([]*classfile.Method(nil), inherited...)

	assignSlot := func(m *classfile.Method) {
		if m.IsPrivate() || m.IsStatic() || m.IsConstructor() {
			m.VTableIndex = -1
			return
		}
		for i := len(vtable) - 1; i >= 0; i-- {
			if classfile.SameNameAndProto(vtable[i], m) && !vtable[i].IsFinal() {
				m.VTableIndex = int32(i)
				vtable[i] = m
				return
			}
		}
		m.VTableIndex = int32(len(vtable))
		vtable = append(vtable, m)
	}

	for _, m := range c.DirectMethods {
		m.VTableIndex = -1
	}
	for _, m := range c.VirtualMethods {
		assignSlot(m)
	}
	c.VTable = vtable
}

// buildIfTable flattens c's transitive interface set (superclass's
// iftable plus each directly-implemented interface and its own
// superinterfaces), deduplicated, and for each resolves every declared
// interface method to a vtable slot — synthesizing a miranda method when
// no concrete override exists (spec.md §4.1 item 4).
func buildIfTable(ctx *vmcontext.Context, c *classfile.Class) {
	var table []classfile.IfTableEntry
	have := map[regtype.ClassHandle]bool{}

	if c.Super != regtype.NullClass {
		if sc := ctx.Classes.Get(c.Super); sc != nil {
			for _, e := range sc.IfTable {
				table = append(table, e)
				have[e.Interface] = true
			}
		}
	}

	var collect func(h regtype.ClassHandle)
	var order []regtype.ClassHandle
	collect = func(h regtype.ClassHandle) {
		if have[h] {
			return
		}
		have[h] = true
		order = append(order, h)
		if ic := ctx.Classes.Get(h); ic != nil {
			for _, super := range ic.Interfaces {
				collect(super)
			}
		}
	}
	for _, ifh := range c.Interfaces {
		collect(ifh)
	}

	for _, ifh := range order {
		iface := ctx.Classes.Get(ifh)
		if iface == nil {
			continue
		}
		entry := classfile.IfTableEntry{Interface: ifh}
		for _, im := range iface.VirtualMethods {
			slot := findVTableOverride(c, im)
			if slot < 0 {
				miranda := &classfile.Method{
					Name:        im.Name,
					Proto:       im.Proto,
					AccessFlags: classfile.AccPublic | classfile.AccAbstract | classfile.AccMiranda,
					Owner:       c.Self,
					IsMiranda:   true,
				}
				if !c.IsInterface() {
					miranda.VTableIndex = int32(len(c.VTable))
					c.VTable = append(c.VTable, miranda)
					slot = int(miranda.VTableIndex)
				} else {
					slot = -1
				}
			}
			entry.VTableIndices = append(entry.VTableIndices, int32(slot))
		}
		table = append(table, entry)
	}
	c.IfTable = table
}

func findVTableOverride(c *classfile.Class, iface *classfile.Method) int {
	for i, m := range c.VTable {
		if classfile.SameNameAndProto(m, iface) {
			return i
		}
	}
	return -1
}

// layoutInstanceFields lays out c's own instance fields after the
// superclass's, reference fields first, then widens to 8-byte alignment
// before placing any 8-byte (wide) field, matching the packing rule
// spec.md §4.1 item 5 names explicitly so the GC reference-offset bitmap
// stays contiguous from the start of the instance.
func layoutInstanceFields(ctx *vmcontext.Context, c *classfile.Class) {
	var base int32 = objectHeaderSize
	if c.Super != regtype.NullClass {
		if sc := ctx.Classes.Get(c.Super); sc != nil {
			base = sc.InstanceSize
		}
	}

	var refFields, wideFields, narrowFields []*classfile.Field
	for _, f := range c.IFields {
		switch classfile.CategoryOf(f.Type) {
		case classfile.CatReference:
			refFields = append(refFields, f)
		case classfile.CatPrimitive2:
			wideFields = append(wideFields, f)
		default:
			narrowFields = append(narrowFields, f)
		}
	}

	offset := base
	for _, f := range refFields {
		f.Offset = offset
		offset += 4
	}
	var gapFields []*classfile.Field
	if len(wideFields) > 0 && offset%8 != 0 {
		offset += 4 // padding: next slot must be a narrow field or explicit pad
		if len(narrowFields) > 0 {
			narrowFields[0].Offset = offset - 4
			gapFields = narrowFields[:1]
			narrowFields = narrowFields[1:]
		}
	}
	for _, f := range wideFields {
		f.Offset = offset
		offset += 8
	}
	for _, f := range narrowFields {
		f.Offset = offset
		offset += 4
	}

	c.IFields = append(append(append(append([]*classfile.Field{}, refFields...), gapFields...), wideFields...), narrowFields...)
	c.InstanceSize = offset

	computeRefOffsetBitmap(c, base)
}

// computeRefOffsetBitmap builds the compact GC bitmap over this class's
// own reference fields when they fit in 32 bits of offset range from
// base; otherwise it sets RefOffsetsWalkSuperclass so the GC falls back
// to walking the class hierarchy directly (spec.md §4.1 item 5).
func computeRefOffsetBitmap(c *classfile.Class, base int32) {
	var bitmap uint32
	ok := true
	for _, f := range c.IFields {
		if classfile.CategoryOf(f.Type) != classfile.CatReference {
			continue
		}
		bitOffset := (f.Offset - base) / 4
		if bitOffset < 0 || bitOffset >= 32 {
			ok = false
			continue
		}
		bitmap |= 1 << uint(bitOffset)
	}
	c.RefOffsetBitmapBase = base
	c.RefOffsetBitmap = bitmap
	c.RefOffsetsWalkSuperclass = !ok
}

var (
	weakRefClass      = "Ljava/lang/ref/WeakReference;"
	softRefClass      = "Ljava/lang/ref/SoftReference;"
	phantomRefClass   = "Ljava/lang/ref/PhantomReference;"
	finalizerRefClass = "Ljava/lang/ref/FinalizerReference;"
)

// inheritFinalizableAndRefKind propagates the superclass's finalizability
// and reference-kind (spec.md §4.1 item 6): finalizable if the superclass
// is, or if this class itself declares a non-empty finalize() with no
// override further down (checked by the caller at instantiation time, not
// here — here we only ever inherit or newly detect our own declaration).
func inheritFinalizableAndRefKind(ctx *vmcontext.Context, c *classfile.Class) {
	if c.Super != regtype.NullClass {
		if sc := ctx.Classes.Get(c.Super); sc != nil {
			c.Finalizable = sc.Finalizable
			c.RefKind = sc.RefKind
		}
	}
	for _, m := range c.VirtualMethods {
		if m.Name == "finalize" && len(m.Proto.ParamTypes) == 0 && m.Proto.ReturnType == "V" && m.Code != nil {
			c.Finalizable = true
		}
	}
	switch c.Name {
	case weakRefClass:
		c.RefKind = classfile.RefWeak
	case softRefClass:
		c.RefKind = classfile.RefSoft
	case phantomRefClass:
		c.RefKind = classfile.RefPhantom
	case finalizerRefClass:
		c.RefKind = classfile.RefFinalizer
	}
}

// DescriptorsEquivalent reports whether two type descriptors loaded by
// potentially different class loaders denote the same runtime type for
// assignability purposes: both must resolve to the identical defining
// class, not merely an equal descriptor string (spec.md §4.1's "two
// classes loaded by different loaders with the same descriptor string
// are distinct types unless one delegated to the other").
func DescriptorsEquivalent(ctx *vmcontext.Context, aLoader, bLoader classfile.LoaderHandle, descriptor string) bool {
	a, aok := ctx.Classes.Lookup(aLoader, descriptor)
	b, bok := ctx.Classes.Lookup(bLoader, descriptor)
	if !aok || !bok {
		return false
	}
	return a.Self == b.Self
}
