package dex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlersCoveringReturnsHandlersForAddrInRange(t *testing.T) {
	c := &Code{
		TryItems: []TryItem{
			{StartAddr: 0, EndAddr: 5, Handlers: []CatchHandler{
				{ExceptionType: "Ljava/lang/Exception;", HandlerAddr: 10},
				{ExceptionType: "", HandlerAddr: 20},
			}},
		},
	}
	assert.Equal(t, []int32{10, 20}, c.HandlersCovering(2))
	assert.Nil(t, c.HandlersCovering(5))
	assert.Nil(t, c.HandlersCovering(-1))
}

func TestHandlersCoveringUnionsOverlappingTryRanges(t *testing.T) {
	c := &Code{
		TryItems: []TryItem{
			{StartAddr: 0, EndAddr: 10, Handlers: []CatchHandler{{HandlerAddr: 1}}},
			{StartAddr: 5, EndAddr: 15, Handlers: []CatchHandler{{HandlerAddr: 2}}},
		},
	}
	assert.Equal(t, []int32{1, 2}, c.HandlersCovering(7))
}

func TestBranchTargetsCollectsGotoIfSwitchAndHandlers(t *testing.T) {
	c := &Code{
		Insns: []Instruction{
			{Op: Goto, Target: 3},
			{Op: IfTest, Target: 7},
			{Op: PackedSwitch, SwitchTargets: []int32{11, 13}},
			{Op: Nop},
		},
		TryItems: []TryItem{
			{StartAddr: 0, EndAddr: 4, Handlers: []CatchHandler{{HandlerAddr: 20}}},
		},
	}
	targets := c.BranchTargets()
	assert.ElementsMatch(t, []int32{3, 7, 11, 13, 20}, targets)
}

func TestBranchTargetsDedupesRepeatedTargets(t *testing.T) {
	c := &Code{
		Insns: []Instruction{
			{Op: Goto, Target: 5},
			{Op: Goto, Target: 5},
		},
	}
	assert.Equal(t, []int32{5}, c.BranchTargets())
}

func TestBranchTargetsEmptyWhenNoBranchesOrHandlers(t *testing.T) {
	c := &Code{Insns: []Instruction{{Op: Nop}, {Op: ReturnVoid}}}
	assert.Nil(t, c.BranchTargets())
}

func TestOpcodeStringKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "iget-quick", IgetQuick.String())
	assert.Equal(t, "?unknown-opcode?", Opcode(0xEF).String())
}

func TestIsQuickenedTrueOnlyForRewriterOutputForms(t *testing.T) {
	assert.True(t, IgetQuick.IsQuickened())
	assert.True(t, ExecuteInline.IsQuickened())
	assert.True(t, ThrowVerificationError.IsQuickened())
	assert.False(t, Iget.IsQuickened())
	assert.False(t, InvokeVirtual.IsQuickened())
}

func TestMayThrowFalseForControlFlowAndConstOps(t *testing.T) {
	assert.False(t, Nop.MayThrow())
	assert.False(t, ConstV4.MayThrow())
	assert.False(t, Goto.MayThrow())
	assert.False(t, ReturnVoid.MayThrow())
	assert.False(t, ReturnVoidBarrier.MayThrow())
}

func TestMayThrowTrueForFieldArrayAndInvokeOps(t *testing.T) {
	assert.True(t, Iget.MayThrow())
	assert.True(t, AgetObject.MayThrow())
	assert.True(t, InvokeVirtual.MayThrow())
	assert.True(t, Return.MayThrow())
}

func TestImageChecksumStableAndSensitiveToContent(t *testing.T) {
	img := &Image{
		Strings: []string{"Foo", "bar"},
		Classes: []ClassDef{{Name: "LFoo;", SuperType: "Ljava/lang/Object;"}},
	}
	img2 := &Image{
		Strings: []string{"Foo", "bar"},
		Classes: []ClassDef{{Name: "LFoo;", SuperType: "Ljava/lang/Object;"}},
	}
	assert.Equal(t, img.Checksum(), img2.Checksum())

	img2.Classes[0].AccessFlags = 1
	assert.NotEqual(t, img.Checksum(), img2.Checksum())
}

func TestEncodeIsByteIdenticalAcrossCalls(t *testing.T) {
	img := &Image{
		Strings: []string{"a", "bb"},
		Classes: []ClassDef{
			{Name: "LFoo;", SuperType: "Ljava/lang/Object;", InterfaceTypes: []string{"Ljava/lang/Runnable;"}},
		},
	}
	out := Encode(img)
	assert.NotEmpty(t, out)

	out2 := Encode(img)
	assert.Equal(t, out, out2, "encoding the same image twice must be byte-identical")
}
