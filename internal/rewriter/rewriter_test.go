package rewriter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexprep/internal/classfile"
	"dexprep/internal/dex"
	"dexprep/internal/verrors"
)

type fakeFieldResolver struct {
	offset   int32
	volatile bool
	ok       bool
}

func (f fakeFieldResolver) ResolveFieldOffset(int32) (int32, bool, bool) {
	return f.offset, f.volatile, f.ok
}
func (f fakeFieldResolver) ResolveStaticFieldSlot(int32) (int32, bool, bool) {
	return f.offset, f.volatile, f.ok
}

type fakeMethodResolver struct {
	vtableIndex int32
	vtableOK    bool
	inlineIndex int32
	inlineOK    bool
}

func (m fakeMethodResolver) ResolveVTableIndex(int32) (int32, bool) {
	return m.vtableIndex, m.vtableOK
}
func (m fakeMethodResolver) ResolveInlineIndex(int32) (int32, bool) {
	return m.inlineIndex, m.inlineOK
}

func methodWith(insns ...dex.Instruction) *classfile.Method {
	return &classfile.Method{
		Name: "m",
		Code: &dex.Code{Insns: insns},
	}
}

func TestRewriteSplitsVolatileWideField(t *testing.T) {
	m := methodWith(dex.Instruction{Op: dex.IgetWide, QuickIndex: volatileFlag})
	Rewrite(m, Options{})
	assert.Equal(t, dex.IgetWideVolatile, m.Code.Insns[0].Op)
}

func TestRewriteMarksObjectInitCall(t *testing.T) {
	m := methodWith(dex.Instruction{Op: dex.InvokeDirect, QuickIndex: objectInitFlag})
	Rewrite(m, Options{})
	assert.Equal(t, dex.InvokeObjectInit, m.Code.Insns[0].Op)
}

func TestRewriteInsertsReturnVoidBarrier(t *testing.T) {
	m := methodWith(dex.Instruction{Op: dex.ReturnVoid, QuickIndex: needsBarrierFlag})
	Rewrite(m, Options{})
	assert.Equal(t, dex.ReturnVoidBarrier, m.Code.Insns[0].Op)
}

func TestRewriteLeavesUnflaggedReturnVoidAlone(t *testing.T) {
	m := methodWith(dex.Instruction{Op: dex.ReturnVoid, QuickIndex: 0})
	Rewrite(m, Options{})
	assert.Equal(t, dex.ReturnVoid, m.Code.Insns[0].Op)
}

func TestRewriteSMPEssentialRequiresOptIn(t *testing.T) {
	m := methodWith(dex.Instruction{Op: dex.Iget, QuickIndex: volatileFlag})
	Rewrite(m, Options{})
	assert.Equal(t, dex.Iget, m.Code.Insns[0].Op, "SMP-essential must not run without EnableSMPEssential")

	m2 := methodWith(dex.Instruction{Op: dex.Iget, QuickIndex: volatileFlag})
	Rewrite(m2, Options{EnableSMPEssential: true})
	assert.Equal(t, dex.IgetVolatile, m2.Code.Insns[0].Op)
}

func TestRewriteNonEssentialInlinesFieldOffset(t *testing.T) {
	m := methodWith(dex.Instruction{Op: dex.Iget, PoolIndex: 7})
	Rewrite(m, Options{
		EnableNonEssential: true,
		Fields:             fakeFieldResolver{offset: 24, volatile: false, ok: true},
	})
	assert.Equal(t, dex.IgetQuick, m.Code.Insns[0].Op)
	assert.Equal(t, int32(24), m.Code.Insns[0].QuickIndex)
}

func TestRewriteNonEssentialSkipsVolatileField(t *testing.T) {
	m := methodWith(dex.Instruction{Op: dex.Iget, PoolIndex: 7})
	Rewrite(m, Options{
		EnableNonEssential: true,
		Fields:             fakeFieldResolver{offset: 24, volatile: true, ok: true},
	})
	assert.Equal(t, dex.Iget, m.Code.Insns[0].Op)
}

func TestRewriteNonEssentialPrefersInlineTableOverVTableQuick(t *testing.T) {
	m := methodWith(dex.Instruction{Op: dex.InvokeVirtual, PoolIndex: 3})
	Rewrite(m, Options{
		EnableNonEssential: true,
		Methods:            fakeMethodResolver{inlineIndex: 1, inlineOK: true, vtableIndex: 9, vtableOK: true},
	})
	assert.Equal(t, dex.ExecuteInline, m.Code.Insns[0].Op)
	assert.Equal(t, int32(1), m.Code.Insns[0].QuickIndex)
}

func TestRewriteNonEssentialFallsBackToVTableQuick(t *testing.T) {
	m := methodWith(dex.Instruction{Op: dex.InvokeVirtual, PoolIndex: 3})
	Rewrite(m, Options{
		EnableNonEssential: true,
		Methods:            fakeMethodResolver{inlineOK: false, vtableIndex: 9, vtableOK: true},
	})
	assert.Equal(t, dex.InvokeVirtualQuick, m.Code.Insns[0].Op)
	assert.Equal(t, int32(9), m.Code.Insns[0].QuickIndex)
}

func TestRewriteInvokeSuperQuick(t *testing.T) {
	m := methodWith(dex.Instruction{Op: dex.InvokeSuper, PoolIndex: 3})
	Rewrite(m, Options{
		EnableNonEssential: true,
		Methods:            fakeMethodResolver{vtableIndex: 4, vtableOK: true},
	})
	assert.Equal(t, dex.InvokeSuperQuick, m.Code.Insns[0].Op)
}

func TestRewriteDeferredErrorBecomesSyntheticThrow(t *testing.T) {
	m := methodWith(dex.Instruction{Op: dex.IgetObject, PoolIndex: 7})
	Rewrite(m, Options{
		DeferredErrors: map[int32]*verrors.DeferredError{
			0: {Kind: verrors.NoSuchField, RefKind: 2, Ref: "Foo.bar"},
		},
	})
	insn := m.Code.Insns[0]
	assert.Equal(t, dex.ThrowVerificationError, insn.Op)
	assert.Equal(t, int64(verrors.NoSuchField), insn.Lit)
	assert.Equal(t, int32(2), insn.QuickIndex)
}

func TestRewriteIsIdempotent(t *testing.T) {
	m := methodWith(dex.Instruction{Op: dex.Iget, PoolIndex: 7})
	opt := Options{
		EnableSMPEssential: true,
		EnableNonEssential: true,
		Fields:             fakeFieldResolver{offset: 24, ok: true},
	}
	Rewrite(m, opt)
	first := m.Code.Insns[0]
	require.True(t, first.Op.IsQuickened())

	Rewrite(m, opt)
	assert.Equal(t, first, m.Code.Insns[0], "re-running Rewrite on already-quickened code must be a no-op")
}

func TestRewriteNilCodeIsNoOp(t *testing.T) {
	m := &classfile.Method{Name: "abstract"}
	Rewrite(m, Options{})
}
