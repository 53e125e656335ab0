package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexprep/internal/classfile"
	"dexprep/internal/dex"
	"dexprep/internal/verrors"
	"dexprep/internal/vmcontext"
)

func newCtx() *vmcontext.Context {
	return vmcontext.NewContext(vmcontext.BootConfig{})
}

func mustReserve(t *testing.T, ctx *vmcontext.Context, loader classfile.LoaderHandle, name string) *classfile.Class {
	t.Helper()
	c, err := ctx.Classes.Reserve(loader, name)
	require.NoError(t, err)
	return c
}

func linkObject(t *testing.T, ctx *vmcontext.Context) *classfile.Class {
	t.Helper()
	obj := mustReserve(t, ctx, 0, "Ljava/lang/Object;")
	obj.State = classfile.Loaded
	require.Nil(t, Link(ctx, obj))
	return obj
}

func TestLinkObjectItself(t *testing.T) {
	ctx := newCtx()
	obj := linkObject(t, ctx)
	assert.Equal(t, classfile.Resolved, obj.State)
	assert.Equal(t, int32(objectHeaderSize), obj.InstanceSize)
}

func TestLinkRejectsSuperclassCycle(t *testing.T) {
	ctx := newCtx()
	a := mustReserve(t, ctx, 0, "LA;")
	b := mustReserve(t, ctx, 0, "LB;")
	a.SuperType = "LB;"
	a.State = classfile.Loaded
	b.SuperType = "LA;"
	b.State = classfile.Loaded
	b.Super = a.Self // pretend b already resolved against a, to synthesize the cycle
	b.State = classfile.Resolved

	err := Link(ctx, a)
	require.NotNil(t, err)
	assert.Equal(t, verrors.ClassCircularity, err.Kind)
}

func TestBuildVTableOverrideFromEnd(t *testing.T) {
	ctx := newCtx()
	obj := linkObject(t, ctx)

	base := mustReserve(t, ctx, 0, "LBase;")
	base.SuperType = "Ljava/lang/Object;"
	base.State = classfile.Loaded
	toStr := &classfile.Method{Name: "toString", Proto: dex.Prototype{ReturnType: "Ljava/lang/String;"}}
	base.VirtualMethods = append(base.VirtualMethods, toStr)
	require.Nil(t, Link(ctx, base))
	_ = obj

	derived := mustReserve(t, ctx, 0, "LDerived;")
	derived.SuperType = "LBase;"
	derived.State = classfile.Loaded
	override := &classfile.Method{Name: "toString", Proto: dex.Prototype{ReturnType: "Ljava/lang/String;"}}
	derived.VirtualMethods = append(derived.VirtualMethods, override)
	require.Nil(t, Link(ctx, derived))

	assert.Equal(t, toStr.VTableIndex, override.VTableIndex)
	assert.Same(t, override, derived.VTable[override.VTableIndex])
	assert.Len(t, derived.VTable, 1)
}

func TestBuildIfTableSynthesizesMirandaMethod(t *testing.T) {
	ctx := newCtx()
	linkObject(t, ctx)

	iface := mustReserve(t, ctx, 0, "LRunnable;")
	iface.AccessFlags = classfile.AccInterface
	iface.SuperType = "Ljava/lang/Object;"
	iface.State = classfile.Loaded
	runMethod := &classfile.Method{Name: "run", Proto: dex.Prototype{ReturnType: "V"}}
	iface.VirtualMethods = append(iface.VirtualMethods, runMethod)
	require.Nil(t, Link(ctx, iface))

	impl := mustReserve(t, ctx, 0, "LImpl;")
	impl.SuperType = "Ljava/lang/Object;"
	impl.InterfaceTypes = []string{"LRunnable;"}
	impl.State = classfile.Loaded
	// impl declares no run() method of its own.
	require.Nil(t, Link(ctx, impl))

	require.Len(t, impl.IfTable, 1)
	entry := impl.IfTable[0]
	assert.Equal(t, iface.Self, entry.Interface)
	require.Len(t, entry.VTableIndices, 1)
	slot := entry.VTableIndices[0]
	require.GreaterOrEqual(t, int(slot), 0)
	miranda := impl.VTable[slot]
	assert.True(t, miranda.IsMiranda)
	assert.Equal(t, "run", miranda.Name)
}

func TestLayoutInstanceFieldsReferencesBeforeWideWithPadding(t *testing.T) {
	ctx := newCtx()
	linkObject(t, ctx)

	c := mustReserve(t, ctx, 0, "LC;")
	c.SuperType = "Ljava/lang/Object;"
	c.State = classfile.Loaded
	ref := &classfile.Field{Name: "r", Type: "Ljava/lang/Object;"}
	narrow := &classfile.Field{Name: "n", Type: "I"}
	wide := &classfile.Field{Name: "w", Type: "J"}
	c.IFields = []*classfile.Field{narrow, wide, ref}

	require.Nil(t, Link(ctx, c))

	assert.Equal(t, int32(objectHeaderSize), ref.Offset)
	// after one 4-byte ref field, offset is 12 (8+4); padding is needed
	// before the wide field, and the sole narrow field steals that slot.
	assert.Equal(t, int32(objectHeaderSize+4), narrow.Offset)
	assert.Equal(t, int32(objectHeaderSize+8), wide.Offset)
	assert.Equal(t, int32(objectHeaderSize+8+8), c.InstanceSize)
}

func TestRefOffsetBitmapCoversReferenceFields(t *testing.T) {
	ctx := newCtx()
	linkObject(t, ctx)

	c := mustReserve(t, ctx, 0, "LD;")
	c.SuperType = "Ljava/lang/Object;"
	c.State = classfile.Loaded
	ref := &classfile.Field{Name: "r", Type: "Ljava/lang/Object;"}
	c.IFields = []*classfile.Field{ref}
	require.Nil(t, Link(ctx, c))

	assert.False(t, c.RefOffsetsWalkSuperclass)
	assert.Equal(t, uint32(1), c.RefOffsetBitmap) // bit 0: the only ref field, at base+0
}

func TestInheritFinalizableFromSuperclass(t *testing.T) {
	ctx := newCtx()
	linkObject(t, ctx)

	base := mustReserve(t, ctx, 0, "LFinalBase;")
	base.SuperType = "Ljava/lang/Object;"
	base.State = classfile.Loaded
	base.VirtualMethods = []*classfile.Method{
		{Name: "finalize", Proto: dex.Prototype{ReturnType: "V"}, Code: &dex.Code{}},
	}
	require.Nil(t, Link(ctx, base))
	assert.True(t, base.Finalizable)

	derived := mustReserve(t, ctx, 0, "LFinalDerived;")
	derived.SuperType = "LFinalBase;"
	derived.State = classfile.Loaded
	require.Nil(t, Link(ctx, derived))
	assert.True(t, derived.Finalizable)
}
