package verifier

import (
	"fmt"

	"dexprep/internal/classfile"
	"dexprep/internal/dex"
	"dexprep/internal/reglines"
	"dexprep/internal/regtype"
	"dexprep/internal/verrors"
)

// lineT is a local alias purely to keep the per-opcode helper signatures
// below shorter; it is always reglines.Line.
type lineT = reglines.Line

// apply runs addr's opcode-specific transfer function against v.table.Work
// in place. A returned *verrors.DeferredError means the instruction's
// failure is eligible to become a synthetic throw at rewrite time instead
// of failing the whole method; a *verrors.Error is always terminal.
func (v *verifier) apply(addr int32, in dex.Instruction) error {
	w := v.table.Work
	switch in.Op {
	case dex.Nop:
		return nil

	case dex.ConstV4, dex.ConstV16, dex.ConstV32:
		w.Set(int(in.Dest), constKindFor(in.Lit))
		return nil
	case dex.ConstWide16, dex.ConstWide32, dex.ConstWide:
		w.SetWide(int(in.Dest), regtype.Of(regtype.ConstLo), regtype.Of(regtype.ConstHi))
		return nil

	case dex.Move:
		w.Set(int(in.Dest), w.Get(int(in.A)))
		return nil
	case dex.MoveWide:
		lo, hi := w.Get(int(in.A)), w.Get(int(in.A)+1)
		w.SetWide(int(in.Dest), lo, hi)
		return nil
	case dex.MoveObject:
		src := w.Get(int(in.A))
		if !src.IsReference() {
			return verrors.New(verrors.VerifyError, "move-object on non-reference register")
		}
		w.Set(int(in.Dest), src)
		return nil
	case dex.MoveException:
		// The catch type is already known from the handler table at rewrite
		// time; here it is modeled as an opaque reference to keep the
		// transfer function total without a constant-pool lookup.
		w.Set(int(in.Dest), regtype.RefOf(v.resolver.ObjectClass()))
		return nil
	case dex.MoveResult, dex.MoveResultWide, dex.MoveResultObject:
		// The verifier trusts the preceding invoke's return type was already
		// checked when that invoke was processed; move-result merely moves
		// the pseudo return-register's recorded type into Dest.
		retReg := w.Width() - 2
		if in.Op == dex.MoveResultWide {
			w.SetWide(int(in.Dest), w.Get(retReg), w.Get(retReg+1))
		} else {
			w.Set(int(in.Dest), w.Get(retReg))
		}
		return nil

	case dex.AgetByte, dex.AgetChar, dex.AgetShort, dex.AgetBoolean, dex.Aget, dex.AgetWide, dex.AgetObject:
		return v.applyAget(w, in)
	case dex.AputByte, dex.AputChar, dex.AputShort, dex.AputBoolean, dex.Aput, dex.AputWide, dex.AputObject:
		return v.applyAput(w, in)

	case dex.IgetByte, dex.IgetChar, dex.IgetShort, dex.IgetBoolean, dex.Iget, dex.IgetWide, dex.IgetObject:
		return v.applyIget(w, in)
	case dex.IputByte, dex.IputChar, dex.IputShort, dex.IputBoolean, dex.Iput, dex.IputWide, dex.IputObject:
		return v.applyIput(w, in)

	case dex.SgetByte, dex.SgetChar, dex.SgetShort, dex.SgetBoolean, dex.Sget, dex.SgetWide, dex.SgetObject:
		return v.applySget(w, in)
	case dex.SputByte, dex.SputChar, dex.SputShort, dex.SputBoolean, dex.Sput, dex.SputWide, dex.SputObject:
		return v.applySput(w, in)

	case dex.InvokeVirtual, dex.InvokeSuper, dex.InvokeDirect, dex.InvokeStatic, dex.InvokeInterface:
		return v.applyInvoke(w, in)

	case dex.CheckCast:
		src := w.Get(int(in.Dest))
		if !src.IsReference() {
			return verrors.New(verrors.VerifyError, "check-cast on non-reference register")
		}
		w.Set(int(in.Dest), regtype.RefOf(regtype.ClassHandle(in.PoolIndex)))
		return nil
	case dex.InstanceOf:
		src := w.Get(int(in.A))
		if !src.IsReference() {
			return verrors.New(verrors.VerifyError, "instance-of on non-reference register")
		}
		w.Set(int(in.Dest), regtype.Of(regtype.Boolean))
		return nil
	case dex.NewInstance:
		slot, ok := v.uninit.SlotForAddress(addr)
		if !ok {
			return verrors.New(verrors.InternalError, "new-instance address missing from uninit map")
		}
		// spec.md §4.2: demote any register still holding this slot's
		// Uninit(k) from a prior visit (a loop body re-running new-instance)
		// to Conflict before the slot is reassigned to the fresh allocation.
		w.DemoteStaleSlot(slot)
		v.uninit.SetClass(slot, regtype.ClassHandle(in.PoolIndex))
		w.Set(int(in.Dest), regtype.UninitOf(slot))
		return nil
	case dex.NewArray:
		size := w.Get(int(in.A))
		if size.Kind != regtype.Int && !size.Kind.IsConstant() {
			return verrors.New(verrors.VerifyError, "new-array size register not an int")
		}
		w.Set(int(in.Dest), regtype.RefOf(regtype.ClassHandle(in.PoolIndex)))
		return nil

	case dex.Throw:
		ref := w.Get(int(in.Dest))
		if !ref.IsReference() || ref.IsUninit() {
			return verrors.New(verrors.VerifyError, "throw of non-reference or uninitialized register")
		}
		return nil

	case dex.ReturnVoid, dex.ReturnVoidBarrier:
		if w.MonitorDepth() != 0 {
			return verrors.New(verrors.VerifyError, "return with monitor still held")
		}
		return nil
	case dex.Return, dex.ReturnWide, dex.ReturnObject:
		if w.MonitorDepth() != 0 {
			return verrors.New(verrors.VerifyError, "return with monitor still held")
		}
		return v.checkReturnType(w, in)

	case dex.MonitorEnter:
		if !w.MonitorEnter(int(in.Dest), addr) {
			return verrors.New(verrors.VerifyError, "monitor-enter stack overflow")
		}
		return nil
	case dex.MonitorExit:
		if !w.MonitorExit(int(in.Dest)) {
			return verrors.New(verrors.VerifyError, "monitor-exit without matching monitor-enter")
		}
		return nil

	case dex.BinOpInt:
		if !commitToInt(w, int(in.A)) || !commitToInt(w, int(in.B)) {
			return verrors.New(verrors.VerifyError, "binop-int on non-int operand")
		}
		w.Set(int(in.Dest), regtype.Of(regtype.Int))
		return nil
	case dex.BinOpFloat:
		w.Set(int(in.Dest), regtype.Of(regtype.Float))
		return nil
	case dex.BinOpWide:
		w.SetWide(int(in.Dest), regtype.Of(regtype.LongLo), regtype.Of(regtype.LongHi))
		return nil

	case dex.Goto, dex.IfTest, dex.PackedSwitch, dex.SparseSwitch:
		return nil // pure control flow, no register effect

	default:
		return verrors.Newf(verrors.InternalError, "verifier has no transfer function for opcode %s", in.Op)
	}
}

func constKindFor(v int64) regtype.RegisterType {
	switch {
	case v == 0:
		return regtype.Of(regtype.Zero)
	case v == 1:
		return regtype.Of(regtype.One)
	case v >= 0 && v <= 0x7f:
		return regtype.Of(regtype.ConstPosByte)
	case v >= -0x80 && v < 0:
		return regtype.Of(regtype.ConstByte)
	case v >= 0 && v <= 0x7fff:
		return regtype.Of(regtype.ConstPosShort)
	case v >= -0x8000 && v < 0:
		return regtype.Of(regtype.ConstShort)
	case v >= 0 && v <= 0xffff:
		return regtype.Of(regtype.ConstChar)
	default:
		return regtype.Of(regtype.ConstInt)
	}
}

func (v *verifier) applyAget(w *lineT, in dex.Instruction) error {
	arr := w.Get(int(in.B))
	if !commitToInt(w, int(in.C)) {
		return verrors.New(verrors.VerifyError, "array index register not an int")
	}
	if arr.Kind == regtype.Zero {
		w.Set(int(in.Dest), elementKindForOp(in.Op))
		return nil
	}
	if arr.Kind != regtype.Ref {
		return verrors.New(verrors.VerifyError, "aget on non-array-reference register")
	}
	elem, _, primitiveElem, ok := v.resolver.ArrayInfo(arr.Class)
	if !ok {
		return verrors.New(verrors.VerifyError, "aget on non-array class")
	}
	if in.Op == dex.AgetObject {
		if primitiveElem {
			return verrors.New(verrors.VerifyError, "aget-object on primitive array")
		}
		w.Set(int(in.Dest), regtype.RefOf(elem))
		return nil
	}
	w.Set(int(in.Dest), elementKindForOp(in.Op))
	return nil
}

func (v *verifier) applyAput(w *lineT, in dex.Instruction) error {
	arr := w.Get(int(in.B))
	if !commitToInt(w, int(in.C)) {
		return verrors.New(verrors.VerifyError, "array index register not an int")
	}
	if arr.Kind == regtype.Zero {
		return nil // storing into a known-null array always fails at runtime, not verify time
	}
	if arr.Kind != regtype.Ref {
		return verrors.New(verrors.VerifyError, "aput on non-array-reference register")
	}
	_, _, primitiveElem, ok := v.resolver.ArrayInfo(arr.Class)
	if !ok {
		return verrors.New(verrors.VerifyError, "aput on non-array class")
	}
	if in.Op == dex.AputObject && primitiveElem {
		return verrors.New(verrors.VerifyError, "aput-object on primitive array")
	}
	return nil
}

func elementKindForOp(op dex.Opcode) regtype.RegisterType {
	switch op {
	case dex.AgetByte, dex.AputByte:
		return regtype.Of(regtype.Byte)
	case dex.AgetChar, dex.AputChar:
		return regtype.Of(regtype.Char)
	case dex.AgetShort, dex.AputShort:
		return regtype.Of(regtype.Short)
	case dex.AgetBoolean, dex.AputBoolean:
		return regtype.Of(regtype.Boolean)
	default:
		return regtype.Of(regtype.Int)
	}
}

// commitToInt implements spec.md §4.3's "narrowing on first use": a
// register still holding a constant-literal kind (from a prior const/4,
// const/16, ...) commits to concrete Int the first time it is consumed in
// an int-typed position, and the narrowed type is written back so every
// later instruction sees the committed kind instead of re-deriving it.
// Zero/One are already usable as Int without narrowing; Float is never
// int-ish.
func commitToInt(w *lineT, reg int) bool {
	cur := w.Get(reg)
	if cur.Kind == regtype.Int || cur.Kind == regtype.Zero || cur.Kind == regtype.One {
		return true
	}
	narrowed, ok := regtype.NarrowOnUse(cur, regtype.Int)
	if !ok {
		return false
	}
	w.Set(reg, narrowed)
	return true
}

// applyIget/applyIput/applySget/applySput resolve the field reference via
// the constant-pool index carried on the instruction (PoolIndex) through
// v.resolver, a FieldResolver the vmcontext wiring supplies per class
// (spec.md §4.3). An unresolvable reference is a deferrable NoSuchField: it
// fails this instruction without failing the whole method when the running
// policy allows it (spec.md §7).
func (v *verifier) applyIget(w *lineT, in dex.Instruction) error {
	obj := w.Get(int(in.B))
	owner, fieldType, isStatic, _, ok := v.resolver.ResolveField(in.PoolIndex)
	if !ok {
		return &verrors.DeferredError{Kind: verrors.NoSuchField, Ref: fmt.Sprintf("pool#%d", in.PoolIndex)}
	}
	if isStatic {
		return verrors.New(verrors.VerifyError, "iget on a static field")
	}
	if err := v.checkFieldReceiver(obj, owner); err != nil {
		return err
	}
	if !fieldKindMatches(in.Op, fieldType) {
		return verrors.New(verrors.VerifyError, "iget width/type mismatch against declared field type")
	}
	seedFieldResult(w, int(in.Dest), fieldType)
	return nil
}

func (v *verifier) applyIput(w *lineT, in dex.Instruction) error {
	obj := w.Get(int(in.B))
	owner, fieldType, isStatic, isFinal, ok := v.resolver.ResolveField(in.PoolIndex)
	if !ok {
		return &verrors.DeferredError{Kind: verrors.NoSuchField, Ref: fmt.Sprintf("pool#%d", in.PoolIndex)}
	}
	if isStatic {
		return verrors.New(verrors.VerifyError, "iput on a static field")
	}
	if err := v.checkFieldReceiver(obj, owner); err != nil {
		return err
	}
	if isFinal && !(v.m.Owner == owner && v.m.IsConstructor()) {
		return verrors.New(verrors.VerifyError, "iput of a final field outside its declaring class's <init>")
	}
	if !fieldKindMatches(in.Op, fieldType) {
		return verrors.New(verrors.VerifyError, "iput width/type mismatch against declared field type")
	}
	if !valueAssignable(w.Get(int(in.A)), fieldType, v.resolver) {
		return verrors.New(verrors.VerifyError, "iput value not assignable to declared field type")
	}
	return nil
}

func (v *verifier) applySget(w *lineT, in dex.Instruction) error {
	_, fieldType, isStatic, _, ok := v.resolver.ResolveField(in.PoolIndex)
	if !ok {
		return &verrors.DeferredError{Kind: verrors.NoSuchField, Ref: fmt.Sprintf("pool#%d", in.PoolIndex)}
	}
	if !isStatic {
		return verrors.New(verrors.VerifyError, "sget on a non-static field")
	}
	if !fieldKindMatches(in.Op, fieldType) {
		return verrors.New(verrors.VerifyError, "sget width/type mismatch against declared field type")
	}
	seedFieldResult(w, int(in.Dest), fieldType)
	return nil
}

func (v *verifier) applySput(w *lineT, in dex.Instruction) error {
	owner, fieldType, isStatic, isFinal, ok := v.resolver.ResolveField(in.PoolIndex)
	if !ok {
		return &verrors.DeferredError{Kind: verrors.NoSuchField, Ref: fmt.Sprintf("pool#%d", in.PoolIndex)}
	}
	if !isStatic {
		return verrors.New(verrors.VerifyError, "sput on a non-static field")
	}
	if isFinal && !(v.m.Owner == owner && v.m.IsClassInit()) {
		return verrors.New(verrors.VerifyError, "sput of a final field outside its declaring class's <clinit>")
	}
	if !fieldKindMatches(in.Op, fieldType) {
		return verrors.New(verrors.VerifyError, "sput width/type mismatch against declared field type")
	}
	if !valueAssignable(w.Get(int(in.A)), fieldType, v.resolver) {
		return verrors.New(verrors.VerifyError, "sput value not assignable to declared field type")
	}
	return nil
}

// seedFieldResult writes a resolved field's type into dest, expanding to
// the category-2 hi half when wide.
func seedFieldResult(w *lineT, dest int, fieldType regtype.RegisterType) {
	if fieldType.Kind.IsCategory2Lo() {
		hi := fieldType
		hi.Kind = wideHiKind(fieldType.Kind)
		w.SetWide(dest, fieldType, hi)
		return
	}
	w.Set(dest, fieldType)
}

// checkFieldReceiver implements spec.md §4.2's rule for accessing a field
// through an uninitialized object register: it is legal only when the
// register is the uninitialized `this` of the constructor currently being
// verified, and the field must be directly declared on that constructor's
// own class (owner, the resolver's true declaring class for the
// reference) — not merely inherited.
func (v *verifier) checkFieldReceiver(obj regtype.RegisterType, owner regtype.ClassHandle) error {
	if obj.IsUninit() {
		thisSlot, isCtor := v.thisUninitSlot()
		if !isCtor || obj.Slot != thisSlot {
			return verrors.New(verrors.VerifyError, "field access on an uninitialized reference other than this inside its own <init>")
		}
		if owner != v.m.Owner {
			return verrors.New(verrors.VerifyError, "field access on uninitialized this for a field not directly declared on its own class")
		}
		return nil
	}
	if !obj.IsReference() {
		return verrors.New(verrors.VerifyError, "field access on non-reference register")
	}
	return nil
}

// thisUninitSlot reports the uninit slot reserved for `this` and whether
// one exists for the method currently being verified (only true for a
// non-static constructor, per buildUninitMap).
func (v *verifier) thisUninitSlot() (regtype.UninitSlot, bool) {
	if v.m.IsConstructor() && !v.m.IsStatic() {
		return v.uninit.ThisSlot(), true
	}
	return 0, false
}

// fieldKindMatches enforces spec.md §4.3's width-exact rule: the
// field-access opcode's width family must exactly match the declared
// field's kind, even though several kinds share the same underlying
// machine word (e.g. iget and iget-byte both move 32 bits).
func fieldKindMatches(op dex.Opcode, field regtype.RegisterType) bool {
	switch op {
	case dex.IgetByte, dex.IputByte, dex.SgetByte, dex.SputByte:
		return field.Kind == regtype.Byte
	case dex.IgetChar, dex.IputChar, dex.SgetChar, dex.SputChar:
		return field.Kind == regtype.Char
	case dex.IgetShort, dex.IputShort, dex.SgetShort, dex.SputShort:
		return field.Kind == regtype.Short
	case dex.IgetBoolean, dex.IputBoolean, dex.SgetBoolean, dex.SputBoolean:
		return field.Kind == regtype.Boolean
	case dex.Iget, dex.Iput, dex.Sget, dex.Sput:
		return field.Kind == regtype.Int || field.Kind == regtype.Float
	case dex.IgetWide, dex.IputWide, dex.SgetWide, dex.SputWide:
		return field.Kind.IsCategory2Lo()
	case dex.IgetObject, dex.IputObject, dex.SgetObject, dex.SputObject:
		return field.Kind == regtype.Ref || field.Kind == regtype.Zero
	default:
		return false
	}
}

// valueAssignable reports whether a value of type val may be stored where
// declared's type is expected: assignable class hierarchy for references
// (null is always assignable), matching or narrowable primitive kind
// otherwise. Shared by iput/sput's stored-value check and invoke's
// argument check.
func valueAssignable(val, declared regtype.RegisterType, resolver regtype.ClassResolver) bool {
	if declared.Kind == regtype.Ref {
		if !val.IsReference() || val.IsUninit() {
			return false
		}
		if val.Kind == regtype.Zero {
			return true
		}
		return resolver.IsAssignable(val.Class, declared.Class)
	}
	if declared.Kind.IsCategory2Lo() {
		return val.Kind.IsCategory2Lo()
	}
	if val.Kind == declared.Kind || val.Kind == regtype.Zero || val.Kind == regtype.One {
		return true
	}
	if narrowed, ok := regtype.NarrowOnUse(val, declared.Kind); ok {
		_ = narrowed
		return true
	}
	return false
}

// applyInvoke resolves the method reference via v.resolver, checks the
// invoke opcode matches the resolved method's kind (spec.md §4.3), checks
// every argument register against the declared parameter types, checks the
// receiver (for non-static invokes) is an instance of the declaring class,
// seeds the return pseudo-register from the declared return type, and —
// for invoke-direct on <init> — completes the uninitialized-instance slot
// everywhere it currently appears in the live line (spec.md §4.3's
// "constructor completion" rule, the one place a transfer function
// rewrites registers other than its own destination).
func (v *verifier) applyInvoke(w *lineT, in dex.Instruction) error {
	isCtorCall := in.Op == dex.InvokeDirect && isInitCall(in)

	// The receiver register's own state (reference-ness, uninit-ness) is
	// checked before the constant-pool lookup below: it is purely a
	// property of the live register line and must be rejected the same way
	// whether or not the method reference happens to resolve.
	var recv regtype.RegisterType
	if in.Op != dex.InvokeStatic {
		if len(in.Args) == 0 {
			return verrors.New(verrors.VerifyError, "invoke missing receiver argument")
		}
		recv = w.Get(int(in.Args[0]))
		if isCtorCall {
			if !recv.IsUninit() {
				return verrors.New(verrors.VerifyError, "invoke-direct <init> on an already-initialized register")
			}
		} else if !recv.IsReference() || recv.IsUninit() {
			return verrors.New(verrors.VerifyError, "invoke on non-reference or uninitialized receiver")
		}
	}

	owner, paramTypes, returnType, kind, ok := v.resolver.ResolveMethod(in.PoolIndex)
	if !ok {
		return &verrors.DeferredError{Kind: verrors.NoSuchMethod, Ref: fmt.Sprintf("pool#%d", in.PoolIndex)}
	}
	if !checkInvokeKind(in.Op, kind) {
		return verrors.New(verrors.VerifyError, "invoke opcode does not match the resolved method's kind")
	}

	if in.Op == dex.InvokeStatic {
		if err := v.checkInvokeArgs(w, in, paramTypes); err != nil {
			return err
		}
		seedReturnPseudoRegister(w, returnType)
		return nil
	}

	if isCtorCall {
		slot := recv.Slot
		class := v.uninit.ClassOf(slot)
		if !v.resolver.IsAssignable(class, owner) {
			return verrors.New(verrors.VerifyError, "invoke-direct <init> target is not the class under construction")
		}
		completed := regtype.RefOf(class)
		for r := 0; r < w.Width(); r++ {
			if cur := w.Get(r); cur.IsUninit() && cur.Slot == slot {
				w.Set(r, completed)
			}
		}
		return v.checkInvokeArgs(w, in, paramTypes)
	}

	if recv.Kind == regtype.Ref && !v.resolver.IsAssignable(recv.Class, owner) {
		return verrors.New(verrors.VerifyError, "invoke receiver is not an instance of the resolved method's declaring class")
	}
	if err := v.checkInvokeArgs(w, in, paramTypes); err != nil {
		return err
	}
	seedReturnPseudoRegister(w, returnType)
	return nil
}

// checkInvokeKind reports whether op's opcode family matches how kind was
// declared (spec.md §4.3): invoke-virtual and invoke-super both dispatch a
// virtual method (the distinction between them is which vtable the
// rewriter/runtime walks, not the verifier's concern).
func checkInvokeKind(op dex.Opcode, kind MethodKind) bool {
	switch op {
	case dex.InvokeVirtual, dex.InvokeSuper:
		return kind == MethodVirtual
	case dex.InvokeDirect:
		return kind == MethodDirect
	case dex.InvokeStatic:
		return kind == MethodStatic
	case dex.InvokeInterface:
		return kind == MethodInterface
	default:
		return false
	}
}

// checkInvokeArgs checks every declared-parameter argument register
// (skipping the receiver slot for non-static invokes) against paramTypes.
func (v *verifier) checkInvokeArgs(w *lineT, in dex.Instruction, paramTypes []regtype.RegisterType) error {
	args := in.Args
	if in.Op != dex.InvokeStatic {
		if len(args) == 0 {
			return verrors.New(verrors.VerifyError, "invoke missing receiver argument")
		}
		args = args[1:]
	}
	if len(args) != len(paramTypes) {
		return verrors.New(verrors.VerifyError, "invoke argument count does not match the resolved method's prototype")
	}
	for i, reg := range args {
		if !valueAssignable(w.Get(int(reg)), paramTypes[i], v.resolver) {
			return verrors.Newf(verrors.VerifyError, "invoke argument %d not assignable to declared parameter type", i)
		}
	}
	return nil
}

// seedReturnPseudoRegister loads the declared return type into the return
// pseudo-register after any invoke (spec.md §4.3); a void-returning
// method leaves it Unknown, so a spurious move-result* after it fails the
// usual "used before written" checks instead of type checking.
func seedReturnPseudoRegister(w *lineT, returnType regtype.RegisterType) {
	retReg := w.Width() - 2
	if returnType.Kind == regtype.Unknown {
		w.Set(retReg, regtype.Of(regtype.Unknown))
		w.Set(retReg+1, regtype.Of(regtype.Unknown))
		return
	}
	if returnType.Kind.IsCategory2Lo() {
		hi := returnType
		hi.Kind = wideHiKind(returnType.Kind)
		w.SetWide(retReg, returnType, hi)
		return
	}
	w.Set(retReg, returnType)
	w.Set(retReg+1, regtype.Of(regtype.Unknown))
}

// isInitCall reports whether in targets a constructor. QuickIndex carries
// the flag for instructions the loader has already classified while
// building the method's instruction stream (spec.md §6 leaves method-ref
// name comparison to the classfile/linker boundary rather than this
// package's resolver interface).
func isInitCall(in dex.Instruction) bool {
	return in.QuickIndex == 1
}

func (v *verifier) checkReturnType(w *lineT, in dex.Instruction) error {
	declared := v.m.Proto.ReturnType
	switch declared {
	case "V":
		return verrors.New(verrors.VerifyError, "return with value from a void method")
	case "J", "D":
		lo := w.Get(int(in.Dest))
		if !lo.Kind.IsCategory2Lo() {
			return verrors.New(verrors.VerifyError, "return-wide of non-wide value")
		}
		return nil
	default:
		if classfile.IsReferenceDescriptor(declared) {
			ret := w.Get(int(in.Dest))
			if !ret.IsReference() {
				return verrors.New(verrors.VerifyError, "return-object of non-reference value")
			}
			return nil
		}
		ret := w.Get(int(in.Dest))
		if !ret.Kind.IsCategory1NonReference() {
			return verrors.New(verrors.VerifyError, "return of non-primitive value from primitive-returning method")
		}
		return nil
	}
}
