package verifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexprep/internal/classfile"
	"dexprep/internal/dex"
	"dexprep/internal/regtype"
)

// fakeResolver is a minimal regtype.ClassResolver for verifier tests: class
// handle 0 is Object; any handle registered in arrays is treated as an
// array class with the given element/dims/primitive-ness.
type fakeResolver struct {
	arrays map[regtype.ClassHandle]arrayInfo
}

type arrayInfo struct {
	elem      regtype.ClassHandle
	dims      int
	primitive bool
}

func (r *fakeResolver) ObjectClass() regtype.ClassHandle { return 0 }
func (r *fakeResolver) IsInterface(regtype.ClassHandle) bool { return false }
func (r *fakeResolver) Implements(regtype.ClassHandle, regtype.ClassHandle) bool { return false }
func (r *fakeResolver) IsAssignable(from, to regtype.ClassHandle) bool { return from == to }
func (r *fakeResolver) CommonSuperclass(regtype.ClassHandle, regtype.ClassHandle) regtype.ClassHandle {
	return 0
}
func (r *fakeResolver) ArrayInfo(h regtype.ClassHandle) (regtype.ClassHandle, int, bool, bool) {
	info, ok := r.arrays[h]
	if !ok {
		return regtype.NullClass, 0, false, false
	}
	return info.elem, info.dims, info.primitive, true
}
func (r *fakeResolver) MakeArrayClass(elem regtype.ClassHandle, dims int) regtype.ClassHandle { return elem }

// ResolveField/ResolveMethod are never exercised by a constant-pool lookup
// in these tests (none of them carry a populated pool); they always report
// "unresolved", which callers are expected to turn into a deferred
// NoSuchField/NoSuchMethod rather than a panic.
func (r *fakeResolver) ResolveField(int32) (regtype.ClassHandle, regtype.RegisterType, bool, bool, bool) {
	return 0, regtype.RegisterType{}, false, false, false
}
func (r *fakeResolver) ResolveMethod(int32) (regtype.ClassHandle, []regtype.RegisterType, regtype.RegisterType, MethodKind, bool) {
	return 0, nil, regtype.RegisterType{}, MethodVirtual, false
}

func newResolver() *fakeResolver {
	return &fakeResolver{arrays: map[regtype.ClassHandle]arrayInfo{}}
}

func simpleMethod(regCount int32, insSize int32, insns []dex.Instruction) *classfile.Method {
	return &classfile.Method{
		Name:          "m",
		Proto:         dex.Prototype{ReturnType: "V"},
		AccessFlags:   classfile.AccStatic,
		RegistersSize: regCount,
		InsSize:       insSize,
		Code: &dex.Code{
			Insns:         insns,
			RegistersSize: regCount,
			InsSize:       insSize,
		},
	}
}

func TestVerifyTrivialReturnVoid(t *testing.T) {
	m := simpleMethod(2, 0, []dex.Instruction{
		{Op: dex.ReturnVoid},
	})
	res, err := Verify(m, newResolver(), Policy{})
	require.Nil(t, err)
	require.NotNil(t, res)
}

func TestVerifyConstructorThisRejectedBeforeInit(t *testing.T) {
	// A non-static constructor's `this` register starts uninitialized;
	// invoking a virtual method on it before the matching invoke-direct
	// <init> must be rejected.
	m := &classfile.Method{
		Name:          "<init>",
		Proto:         dex.Prototype{ReturnType: "V"},
		AccessFlags:   0,
		Owner:         regtype.ClassHandle(1),
		RegistersSize: 2,
		InsSize:       1,
		Code: &dex.Code{
			RegistersSize: 2,
			InsSize:       1,
			Insns: []dex.Instruction{
				{Op: dex.InvokeVirtual, Args: []int32{1}},
				{Op: dex.ReturnVoid},
			},
		},
	}
	_, err := Verify(m, newResolver(), Policy{})
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "uninitialized")
}

func TestVerifyMonitorBalanceRejection(t *testing.T) {
	// A non-static, non-constructor method whose `this` register is a
	// normal (initialized) reference; monitor-enter with no matching
	// monitor-exit before return-void must be rejected.
	m := &classfile.Method{
		Name:          "m",
		Proto:         dex.Prototype{ReturnType: "V"},
		AccessFlags:   0,
		Owner:         regtype.ClassHandle(1),
		RegistersSize: 2,
		InsSize:       1,
		Code: &dex.Code{
			RegistersSize: 2,
			InsSize:       1,
			Insns: []dex.Instruction{
				{Op: dex.MonitorEnter, Dest: 1},
				{Op: dex.ReturnVoid},
			},
		},
	}
	_, err := Verify(m, newResolver(), Policy{})
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "monitor")
}

func TestVerifyMonitorBalanceAccepted(t *testing.T) {
	m := &classfile.Method{
		Name:          "m",
		Proto:         dex.Prototype{ReturnType: "V"},
		AccessFlags:   0,
		Owner:         regtype.ClassHandle(1),
		RegistersSize: 2,
		InsSize:       1,
		Code: &dex.Code{
			RegistersSize: 2,
			InsSize:       1,
			Insns: []dex.Instruction{
				{Op: dex.MonitorEnter, Dest: 1},
				{Op: dex.MonitorExit, Dest: 1},
				{Op: dex.ReturnVoid},
			},
		},
	}
	_, err := Verify(m, newResolver(), Policy{})
	require.Nil(t, err)
}

func TestVerifyArrayElementTypeRejection(t *testing.T) {
	// aget-object on an array of a primitive element type must be rejected.
	resolver := newResolver()
	arrClass := regtype.ClassHandle(5)
	resolver.arrays[arrClass] = arrayInfo{elem: 99, dims: 1, primitive: true}

	m := &classfile.Method{
		Name:          "m",
		Proto:         dex.Prototype{ReturnType: "V"},
		AccessFlags:   classfile.AccStatic,
		RegistersSize: 3,
		InsSize:       0,
		Code: &dex.Code{
			RegistersSize: 3,
			InsSize:       0,
			Insns: []dex.Instruction{
				{Op: dex.ConstV4, Dest: 0, Lit: 0},              // array register placeholder, typed below
				{Op: dex.ConstV4, Dest: 1, Lit: 0},              // index register: constant 0
				{Op: dex.CheckCast, Dest: 0, PoolIndex: int32(arrClass)},
				{Op: dex.AgetObject, Dest: 2, B: 0, C: 1},
				{Op: dex.ReturnVoid},
			},
		},
	}
	_, err := Verify(m, resolver, Policy{})
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "primitive array")
}

func TestVerifyArrayElementTypeAcceptedForObjectArray(t *testing.T) {
	resolver := newResolver()
	arrClass := regtype.ClassHandle(5)
	resolver.arrays[arrClass] = arrayInfo{elem: 7, dims: 1, primitive: false}

	m := &classfile.Method{
		Name:          "m",
		Proto:         dex.Prototype{ReturnType: "V"},
		AccessFlags:   classfile.AccStatic,
		RegistersSize: 3,
		InsSize:       0,
		Code: &dex.Code{
			RegistersSize: 3,
			InsSize:       0,
			Insns: []dex.Instruction{
				{Op: dex.ConstV4, Dest: 0, Lit: 0},
				{Op: dex.ConstV4, Dest: 1, Lit: 0},
				{Op: dex.CheckCast, Dest: 0, PoolIndex: int32(arrClass)},
				{Op: dex.AgetObject, Dest: 2, B: 0, C: 1},
				{Op: dex.ReturnVoid},
			},
		},
	}
	_, err := Verify(m, resolver, Policy{})
	require.Nil(t, err)
}

func TestVerifyNarrowingOnFirstUseAcrossDistinctConstants(t *testing.T) {
	// Two differently-ranged constant registers (ConstPosByte and
	// ConstChar) both commit to Int on first use as binop-int operands.
	m := simpleMethod(3, 0, []dex.Instruction{
		{Op: dex.ConstV4, Dest: 0, Lit: 5},      // ConstPosByte
		{Op: dex.ConstV16, Dest: 1, Lit: 40000}, // ConstChar range
		{Op: dex.BinOpInt, Dest: 2, A: 0, B: 1},
		{Op: dex.ReturnVoid},
	})
	_, err := Verify(m, newResolver(), Policy{})
	require.Nil(t, err)
}

func TestVerifyBinOpIntRejectsFloatOperand(t *testing.T) {
	m := simpleMethod(3, 0, []dex.Instruction{
		{Op: dex.ConstV4, Dest: 0, Lit: 1},
		{Op: dex.BinOpFloat, Dest: 1, A: 0, B: 0},
		{Op: dex.BinOpInt, Dest: 2, A: 1, B: 0},
		{Op: dex.ReturnVoid},
	})
	_, err := Verify(m, newResolver(), Policy{})
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "binop-int")
}

func TestVerifyEmitsRegisterMapWhenRequested(t *testing.T) {
	m := simpleMethod(2, 0, []dex.Instruction{
		{Op: dex.Goto, Target: 1},
		{Op: dex.ReturnVoid},
	})
	res, err := Verify(m, newResolver(), Policy{EmitRegisterMap: true})
	require.Nil(t, err)
	require.NotNil(t, res.RegisterMap)
}
