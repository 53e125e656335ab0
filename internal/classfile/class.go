// Package classfile holds the linker's view of a class, method and field
// (spec.md §3's Class/Method/Field records) as indices into the
// loaded-classes table rather than the source's raw pointer graph — see
// DESIGN.md "Back-pointer cycles class<->method<->class".
package classfile

import (
	"dexprep/internal/dex"
	"dexprep/internal/regtype"
	"dexprep/internal/verrors"
)

// State is a class's position in the spec.md §3 state machine:
// Idx -> Loaded -> Resolved -> Verified -> Initializing -> Initialized|Error.
// Advancement is monotonic except to Error, which is terminal.
type State int

const (
	Idx State = iota
	Loaded
	Resolved
	Verified
	Initializing
	Initialized
	StateError
)

func (s State) String() string {
	switch s {
	case Idx:
		return "idx"
	case Loaded:
		return "loaded"
	case Resolved:
		return "resolved"
	case Verified:
		return "verified"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	case StateError:
		return "error"
	default:
		return "?"
	}
}

// ReferenceKind identifies which specialization of java.lang.ref.Reference
// (if any) a class inherits from, per spec.md §4.1 item 6.
type ReferenceKind int

const (
	RefNone ReferenceKind = iota
	RefSoft
	RefWeak
	RefPhantom
	RefFinalizer
)

// LoaderHandle and ModuleHandle index into the runtime's loader/module
// tables; opaque here.
type LoaderHandle int32
type ModuleHandle int32

// IfTableEntry is one flattened, deduplicated interface the class
// implements, with a parallel slot list mapping each of that interface's
// declared methods to a vtable index on this class (spec.md §4.1 item 4).
type IfTableEntry struct {
	Interface regtype.ClassHandle
	// VTableIndices[i] is the vtable slot implementing Interface's i'th
	// declared method (possibly a miranda method's slot).
	VTableIndices []int32
}

// Class is the linker's resolved view of one class definition.
type Class struct {
	Self   regtype.ClassHandle
	Name   string // internal descriptor, e.g. "Lcom/foo/Bar;"
	Loader LoaderHandle
	Module ModuleHandle

	SuperType string // raw type descriptor before resolution
	Super     regtype.ClassHandle

	InterfaceTypes []string
	Interfaces     []regtype.ClassHandle

	AccessFlags uint32

	// FieldRefs and MethodRefs are this class's own constant pool, carried
	// over verbatim from its dex.ClassDef: every iget/iput/sget/sput/
	// invoke-* instruction in its own methods indexes one of these two
	// tables via Instruction.PoolIndex. Constant-pool indices are
	// class-scoped, so resolution against these tables must always be
	// done relative to the class that owns the referencing method, never
	// against some image-wide table.
	FieldRefs  []dex.FieldRef
	MethodRefs []dex.MethodRef

	DirectMethods  []*Method
	VirtualMethods []*Method

	// IFields holds every instance field, reference fields first per the
	// spec.md §3 invariant; SFields holds static fields (storage slot, not
	// byte offset).
	IFields []*Field
	SFields []*Field

	VTable  []*Method
	IfTable []IfTableEntry

	// RefOffsetBitmap is the compact GC reference-offset bitmap from
	// §4.1 item 5; RefOffsetsWalkSuperclass is the "too large to fit"
	// sentinel fallback.
	RefOffsetBitmap         uint32
	RefOffsetBitmapBase     int32
	RefOffsetsWalkSuperclass bool

	InstanceSize int32 // total instance byte size including header+fields

	Finalizable bool
	RefKind     ReferenceKind

	State State
	Err   *verrors.Error
}

// Method is spec.md §3's Method record.
type Method struct {
	Name        string
	Proto       dex.Prototype
	AccessFlags uint32
	Owner       regtype.ClassHandle

	Code *dex.Code // nil for abstract/native

	RegistersSize int32
	InsSize       int32
	OutsSize      int32

	// VTableIndex is this method's slot in Owner's vtable, or -1 if it is
	// not virtual (direct/static) nor a miranda method awaiting one.
	VTableIndex int32

	IsMiranda bool

	RegisterMap *RegisterMap
}

// RegisterMap is the optional compact per-GC-point liveness/reference-bit
// table the verifier may emit on success (spec.md §4.3 step 2, "may also
// emit a compact register-liveness map").
type RegisterMap struct {
	GCPointAddrs []int32
	// LiveRefBits[i] is a bitmap (1 bit per register) of which registers
	// hold a live reference at GCPointAddrs[i].
	LiveRefBits []uint64
}

// Field is spec.md §3's Field record.
type Field struct {
	Owner       regtype.ClassHandle
	Name        string
	Type        string
	AccessFlags uint32

	Offset     int32 // instance field byte offset
	StaticSlot int32 // static field storage slot
}

const (
	AccPublic    uint32 = 0x0001
	AccPrivate   uint32 = 0x0002
	AccProtected uint32 = 0x0004
	AccStatic    uint32 = 0x0008
	AccFinal     uint32 = 0x0010
	AccInterface uint32 = 0x0200
	AccAbstract  uint32 = 0x0400
	AccVolatile  uint32 = 0x0040
	AccMiranda   uint32 = 0x8000
	AccConstruct uint32 = 0x00010000
)

func (c *Class) IsInterface() bool { return c.AccessFlags&AccInterface != 0 }
func (c *Class) IsAbstract() bool  { return c.AccessFlags&AccAbstract != 0 }
func (c *Class) IsFinal() bool     { return c.AccessFlags&AccFinal != 0 }

func (m *Method) IsStatic() bool  { return m.AccessFlags&AccStatic != 0 }
func (m *Method) IsPrivate() bool { return m.AccessFlags&AccPrivate != 0 }
func (m *Method) IsFinal() bool   { return m.AccessFlags&AccFinal != 0 }
func (m *Method) IsAbstract() bool { return m.AccessFlags&AccAbstract != 0 }
func (m *Method) IsPublic() bool   { return m.AccessFlags&AccPublic != 0 }
func (m *Method) IsConstructor() bool {
	return m.Name == "<init>"
}
func (m *Method) IsClassInit() bool { return m.Name == "<clinit>" }
func (m *Method) IsNative() bool    { return m.Code == nil && !m.IsAbstract() }

func (f *Field) IsStatic() bool   { return f.AccessFlags&AccStatic != 0 }
func (f *Field) IsFinal() bool    { return f.AccessFlags&AccFinal != 0 }
func (f *Field) IsVolatile() bool { return f.AccessFlags&AccVolatile != 0 }

// SameNameAndProto reports whether two methods share a name+prototype,
// i.e. could override one another (spec.md §4.1 item 3).
func SameNameAndProto(a, b *Method) bool {
	if a.Name != b.Name || a.Proto.ReturnType != b.Proto.ReturnType {
		return false
	}
	if len(a.Proto.ParamTypes) != len(b.Proto.ParamTypes) {
		return false
	}
	for i := range a.Proto.ParamTypes {
		if a.Proto.ParamTypes[i] != b.Proto.ParamTypes[i] {
			return false
		}
	}
	return true
}
