// Package dex models the prepared-image instruction stream, constant pool
// and per-class/per-method data the linker, verifier and rewriter operate
// on, plus the image blob codec (codec.go). The cache container that wraps
// the image lives in internal/cache.
//
// Opcode naming and the Instruction type follow KTStephano-GVM's
// vm/bytecode.go and vm/compile.go (Bytecode, Instruction), with operands
// kept as wide named fields rather than a packed instruction word, and
// generalized from that VM's 32-register stack-assist ISA to the
// reference-typed, exception-table-bearing method bodies spec.md describes;
// operand semantics for the opcodes spec.md §4.3–§4.4 names explicitly are
// grounded on original_source/dalvik/vm/analysis/CodeVerify.cpp and
// Optimize.cpp.
package dex

// Opcode identifies an instruction. Values are grouped the same way
// KTStephano-GVM groups its Bytecode constants (by nibble-range family)
// rather than assigned densely; the rewriter's quickened/volatile output
// forms are collected together in the 0xF0-0xFF range.
type Opcode uint16

const (
	Nop Opcode = 0x00

	ConstV4  Opcode = 0x01
	ConstV16 Opcode = 0x02
	ConstV32 Opcode = 0x03

	ConstWide16 Opcode = 0x04
	ConstWide32 Opcode = 0x05
	ConstWide   Opcode = 0x06

	Move         Opcode = 0x10
	MoveWide     Opcode = 0x11
	MoveObject   Opcode = 0x12
	MoveException Opcode = 0x13
	MoveResult    Opcode = 0x14
	MoveResultWide   Opcode = 0x15
	MoveResultObject Opcode = 0x16

	Goto   Opcode = 0x20
	IfTest Opcode = 0x21 // A op B -> branch; Op-specific comparison in Cmp
	PackedSwitch Opcode = 0x22
	SparseSwitch Opcode = 0x23

	AgetByte    Opcode = 0x30
	AgetChar    Opcode = 0x31
	AgetShort   Opcode = 0x32
	AgetBoolean Opcode = 0x33
	Aget        Opcode = 0x34 // int/float
	AgetWide    Opcode = 0x35
	AgetObject  Opcode = 0x36

	AputByte    Opcode = 0x40
	AputChar    Opcode = 0x41
	AputShort   Opcode = 0x42
	AputBoolean Opcode = 0x43
	Aput        Opcode = 0x44
	AputWide    Opcode = 0x45
	AputObject  Opcode = 0x46

	IgetByte    Opcode = 0x50
	IgetChar    Opcode = 0x51
	IgetShort   Opcode = 0x52
	IgetBoolean Opcode = 0x53
	Iget        Opcode = 0x54
	IgetWide    Opcode = 0x55
	IgetObject  Opcode = 0x56

	IputByte    Opcode = 0x60
	IputChar    Opcode = 0x61
	IputShort   Opcode = 0x62
	IputBoolean Opcode = 0x63
	Iput        Opcode = 0x64
	IputWide    Opcode = 0x65
	IputObject  Opcode = 0x66

	SgetByte    Opcode = 0x70
	SgetChar    Opcode = 0x71
	SgetShort   Opcode = 0x72
	SgetBoolean Opcode = 0x73
	Sget        Opcode = 0x74
	SgetWide    Opcode = 0x75
	SgetObject  Opcode = 0x76

	SputByte    Opcode = 0x80
	SputChar    Opcode = 0x81
	SputShort   Opcode = 0x82
	SputBoolean Opcode = 0x83
	Sput        Opcode = 0x84
	SputWide    Opcode = 0x85
	SputObject  Opcode = 0x86

	InvokeVirtual   Opcode = 0x90
	InvokeSuper     Opcode = 0x91
	InvokeDirect    Opcode = 0x92
	InvokeStatic    Opcode = 0x93
	InvokeInterface Opcode = 0x94

	CheckCast  Opcode = 0xA0
	InstanceOf Opcode = 0xA1
	NewInstance Opcode = 0xA2
	NewArray    Opcode = 0xA3

	Throw Opcode = 0xB0

	ReturnVoid   Opcode = 0xC0
	Return       Opcode = 0xC1
	ReturnWide   Opcode = 0xC2
	ReturnObject Opcode = 0xC3

	MonitorEnter Opcode = 0xD0
	MonitorExit  Opcode = 0xD1

	BinOpInt   Opcode = 0xE0
	BinOpFloat Opcode = 0xE1
	BinOpWide  Opcode = 0xE2

	// --- essential rewrites (spec.md §4.4) ---
	IgetWideVolatile  Opcode = 0xF0
	IputWideVolatile  Opcode = 0xF1
	InvokeObjectInit  Opcode = 0xF2
	ReturnVoidBarrier Opcode = 0xF3

	// --- SMP-essential rewrites ---
	IgetVolatile Opcode = 0xF4
	IputVolatile Opcode = 0xF5

	// --- non-essential (performance) rewrites ---
	IgetQuick       Opcode = 0xF6
	IputQuick       Opcode = 0xF7
	IgetWideQuick   Opcode = 0xF8
	IputWideQuick   Opcode = 0xF9
	IgetObjectQuick Opcode = 0xFA
	IputObjectQuick Opcode = 0xFB
	InvokeVirtualQuick Opcode = 0xFC
	InvokeSuperQuick   Opcode = 0xFD
	ExecuteInline      Opcode = 0xFE

	// Synthetic opcode the rewriter substitutes for a deferred verification
	// failure (spec.md §7).
	ThrowVerificationError Opcode = 0xFF
)

var opcodeNames = map[Opcode]string{
	Nop: "nop",
	ConstV4: "const/4", ConstV16: "const/16", ConstV32: "const",
	ConstWide16: "const-wide/16", ConstWide32: "const-wide/32", ConstWide: "const-wide",
	Move: "move", MoveWide: "move-wide", MoveObject: "move-object", MoveException: "move-exception",
	MoveResult: "move-result", MoveResultWide: "move-result-wide", MoveResultObject: "move-result-object",
	Goto: "goto", IfTest: "if-test", PackedSwitch: "packed-switch", SparseSwitch: "sparse-switch",
	AgetByte: "aget-byte", AgetChar: "aget-char", AgetShort: "aget-short", AgetBoolean: "aget-boolean",
	Aget: "aget", AgetWide: "aget-wide", AgetObject: "aget-object",
	AputByte: "aput-byte", AputChar: "aput-char", AputShort: "aput-short", AputBoolean: "aput-boolean",
	Aput: "aput", AputWide: "aput-wide", AputObject: "aput-object",
	IgetByte: "iget-byte", IgetChar: "iget-char", IgetShort: "iget-short", IgetBoolean: "iget-boolean",
	Iget: "iget", IgetWide: "iget-wide", IgetObject: "iget-object",
	IputByte: "iput-byte", IputChar: "iput-char", IputShort: "iput-short", IputBoolean: "iput-boolean",
	Iput: "iput", IputWide: "iput-wide", IputObject: "iput-object",
	SgetByte: "sget-byte", SgetChar: "sget-char", SgetShort: "sget-short", SgetBoolean: "sget-boolean",
	Sget: "sget", SgetWide: "sget-wide", SgetObject: "sget-object",
	SputByte: "sput-byte", SputChar: "sput-char", SputShort: "sput-short", SputBoolean: "sput-boolean",
	Sput: "sput", SputWide: "sput-wide", SputObject: "sput-object",
	InvokeVirtual: "invoke-virtual", InvokeSuper: "invoke-super", InvokeDirect: "invoke-direct",
	InvokeStatic: "invoke-static", InvokeInterface: "invoke-interface",
	CheckCast: "check-cast", InstanceOf: "instance-of", NewInstance: "new-instance", NewArray: "new-array",
	Throw: "throw",
	ReturnVoid: "return-void", Return: "return", ReturnWide: "return-wide", ReturnObject: "return-object",
	MonitorEnter: "monitor-enter", MonitorExit: "monitor-exit",
	BinOpInt: "binop-int", BinOpFloat: "binop-float", BinOpWide: "binop-wide",
	IgetWideVolatile: "iget-wide-volatile", IputWideVolatile: "iput-wide-volatile",
	InvokeObjectInit: "invoke-object-init", ReturnVoidBarrier: "return-void-barrier",
	IgetVolatile: "iget-volatile", IputVolatile: "iput-volatile",
	IgetQuick: "iget-quick", IputQuick: "iput-quick",
	IgetWideQuick: "iget-wide-quick", IputWideQuick: "iput-wide-quick",
	IgetObjectQuick: "iget-object-quick", IputObjectQuick: "iput-object-quick",
	InvokeVirtualQuick: "invoke-virtual-quick", InvokeSuperQuick: "invoke-super-quick",
	ExecuteInline: "execute-inline",
	ThrowVerificationError: "throw-verification-error",
}

func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return "?unknown-opcode?"
}

// IsQuickened reports whether o is one of the rewriter's output forms
// (spec.md §8 "rewriter idempotence": once quickened, no rule matches it
// again).
func (o Opcode) IsQuickened() bool {
	switch o {
	case IgetWideVolatile, IputWideVolatile, InvokeObjectInit, ReturnVoidBarrier,
		IgetVolatile, IputVolatile,
		IgetQuick, IputQuick, IgetWideQuick, IputWideQuick, IgetObjectQuick, IputObjectQuick,
		InvokeVirtualQuick, InvokeSuperQuick, ExecuteInline, ThrowVerificationError:
		return true
	default:
		return false
	}
}

// MayThrow reports whether o can raise an exception mid-execution, i.e.
// whether the verifier must snapshot work into saved before applying its
// transfer function when o lies inside a try range (spec.md §4.3 step
// 2.iii).
func (o Opcode) MayThrow() bool {
	switch o {
	case Nop, ConstV4, ConstV16, ConstV32, ConstWide16, ConstWide32, ConstWide,
		Move, MoveWide, MoveObject, MoveException, MoveResult, MoveResultWide, MoveResultObject,
		Goto, IfTest, ReturnVoid, ReturnVoidBarrier:
		return false
	default:
		return true
	}
}
