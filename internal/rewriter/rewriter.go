// Package rewriter implements spec.md §4.4's post-verification instruction
// quickening: essential substitutions (required for correctness — volatile
// wide split, invoke-object-init, the return-void memory barrier),
// SMP-essential substitutions (volatile narrow access), and non-essential
// substitutions (vtable-index/field-offset inlining, inline-table
// substitution) applied in that order so a correctness-required rewrite
// is never skipped in favor of a performance one.
//
// Grounded on original_source/dalvik/vm/analysis/VerifySubs.c and
// Optimize.c's quickening passes; KTStephano-GVM's compile.go supplies the
// idiom for mutating an already-assembled instruction stream in place
// (there, patching branch offsets after a second assembly pass).
package rewriter

import (
	"dexprep/internal/classfile"
	"dexprep/internal/dex"
	"dexprep/internal/verrors"
)

// FieldResolver and MethodResolver let the rewriter look up the concrete
// field offset / vtable index a quickened instruction inlines, without
// this package depending on the linker directly (the dependency runs the
// other way: cmd/dexprep wires linker output into this interface).
type FieldResolver interface {
	ResolveFieldOffset(poolIndex int32) (offset int32, volatile bool, ok bool)
	ResolveStaticFieldSlot(poolIndex int32) (slot int32, volatile bool, ok bool)
}

type MethodResolver interface {
	ResolveVTableIndex(poolIndex int32) (index int32, ok bool)
	ResolveInlineIndex(poolIndex int32) (index int32, ok bool)
}

// Options toggles which substitution tiers run; SMP and non-essential are
// both safe to disable (the unquickened opcode is always correct, just
// slower). Essential substitutions have no toggle and always run, matching
// spec.md §4.4's explicit, distinct tiers.
type Options struct {
	Fields  FieldResolver
	Methods MethodResolver

	EnableSMPEssential bool
	EnableNonEssential bool

	DeferredErrors map[int32]*verrors.DeferredError // addr -> deferred failure from verification
}

// Rewrite mutates m.Code.Insns in place, applying every eligible
// substitution exactly once (spec.md §8's idempotence property: running
// Rewrite again on an already-quickened stream changes nothing, since
// Opcode.IsQuickened instructions never match any rule below).
func Rewrite(m *classfile.Method, opt Options) {
	if m.Code == nil {
		return
	}
	for addr := range m.Code.Insns {
		in := &m.Code.Insns[addr]
		if in.Op.IsQuickened() {
			continue
		}
		if d, has := opt.DeferredErrors[int32(addr)]; has {
			applyDeferredThrow(in, d)
			continue
		}
		if applyEssential(in) {
			continue
		}
		if opt.EnableSMPEssential && applySMPEssential(in) {
			continue
		}
		if opt.EnableNonEssential {
			applyNonEssential(in, opt)
		}
	}
}

// applyDeferredThrow substitutes a synthetic throw-verification-error
// instruction for an address the verifier deferred instead of hard
// failing (spec.md §7): the rewriter is where a DeferredError actually
// becomes bytecode the interpreter can execute.
func applyDeferredThrow(in *dex.Instruction, d *verrors.DeferredError) {
	in.Op = dex.ThrowVerificationError
	in.Lit = int64(d.Kind)
	in.QuickIndex = int32(d.RefKind)
}

// applyEssential performs the three correctness-required substitutions:
// splitting a wide volatile access into its own opcode (so the
// interpreter knows to use a single atomic 64-bit load/store instead of
// two 32-bit halves), marking a direct invoke of Object's own <init> so
// the interpreter need not re-check it, and inserting the return-void
// memory barrier an unsynchronized constructor otherwise lacks.
func applyEssential(in *dex.Instruction) bool {
	switch in.Op {
	case dex.IgetWide:
		if in.QuickIndex == volatileFlag {
			in.Op = dex.IgetWideVolatile
			return true
		}
	case dex.IputWide:
		if in.QuickIndex == volatileFlag {
			in.Op = dex.IputWideVolatile
			return true
		}
	case dex.InvokeDirect:
		if in.QuickIndex == objectInitFlag {
			in.Op = dex.InvokeObjectInit
			return true
		}
	case dex.ReturnVoid:
		if in.QuickIndex == needsBarrierFlag {
			in.Op = dex.ReturnVoidBarrier
			return true
		}
	}
	return false
}

// Flags borrowed from Instruction.QuickIndex before quickening runs: the
// loader stamps these during image decode (spec.md §6), since only it
// knows which fields/methods are volatile/Object's own <init> without a
// constant-pool lookup this package does not perform.
const (
	volatileFlag     = 1
	objectInitFlag   = 1
	needsBarrierFlag = 1
)

func applySMPEssential(in *dex.Instruction) bool {
	switch in.Op {
	case dex.Iget:
		if in.QuickIndex == volatileFlag {
			in.Op = dex.IgetVolatile
			return true
		}
	case dex.Iput:
		if in.QuickIndex == volatileFlag {
			in.Op = dex.IputVolatile
			return true
		}
	}
	return false
}

// applyNonEssential inlines a resolved field offset or vtable index
// directly into the instruction, or substitutes the inline-table
// execute-inline form for a small fixed set of well-known methods
// (spec.md §4.4's performance tier).
func applyNonEssential(in *dex.Instruction, opt Options) {
	switch in.Op {
	case dex.Iget, dex.IgetWide, dex.IgetObject:
		if opt.Fields == nil {
			return
		}
		offset, volatile, ok := opt.Fields.ResolveFieldOffset(in.PoolIndex)
		if !ok || volatile {
			return
		}
		in.QuickIndex = offset
		in.Op = quickIget(in.Op)
	case dex.Iput, dex.IputWide, dex.IputObject:
		if opt.Fields == nil {
			return
		}
		offset, volatile, ok := opt.Fields.ResolveFieldOffset(in.PoolIndex)
		if !ok || volatile {
			return
		}
		in.QuickIndex = offset
		in.Op = quickIput(in.Op)
	case dex.InvokeVirtual:
		if opt.Methods == nil {
			return
		}
		if idx, ok := opt.Methods.ResolveInlineIndex(in.PoolIndex); ok {
			in.QuickIndex = idx
			in.Op = dex.ExecuteInline
			return
		}
		if idx, ok := opt.Methods.ResolveVTableIndex(in.PoolIndex); ok {
			in.QuickIndex = idx
			in.Op = dex.InvokeVirtualQuick
		}
	case dex.InvokeSuper:
		if opt.Methods == nil {
			return
		}
		if idx, ok := opt.Methods.ResolveVTableIndex(in.PoolIndex); ok {
			in.QuickIndex = idx
			in.Op = dex.InvokeSuperQuick
		}
	}
}

func quickIget(op dex.Opcode) dex.Opcode {
	switch op {
	case dex.IgetWide:
		return dex.IgetWideQuick
	case dex.IgetObject:
		return dex.IgetObjectQuick
	default:
		return dex.IgetQuick
	}
}

func quickIput(op dex.Opcode) dex.Opcode {
	switch op {
	case dex.IputWide:
		return dex.IputWideQuick
	case dex.IputObject:
		return dex.IputObjectQuick
	default:
		return dex.IputQuick
	}
}
