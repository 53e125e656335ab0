package dex

// Instruction is the decoded, fixed-width form of one bytecode op. Not
// every field is meaningful for every Op; see the per-family comment
// blocks in opcode.go. Following KTStephano-GVM's compile.go layout
// ("Instruction{code, register, arg}" packed to 8 bytes), operands here are
// kept wide and named instead of bit-packed, since this format's
// instructions vary in operand count (invoke's variable argument list, in
// particular) in a way the teacher's single-register ISA never needed to.
type Instruction struct {
	Op Opcode

	// Dest/A/B/C are generic register or literal operand slots:
	//   - move/const/iget/sget/aget family: Dest is the destination register.
	//   - aput/iput/sput family: A is the source register.
	//   - aget/aput: B is the array register, C is the index register.
	//   - iget/iput: B is the object register.
	//   - binop: A, B are the two source registers.
	Dest, A, B, C int32

	// Lit carries a const-literal's 32-bit (or low 32 bits of a 64-bit)
	// payload.
	Lit int64

	// Cmp identifies the comparison kind for IfTest (eq/ne/lt/ge/gt/le).
	Cmp CompareOp

	// PoolIndex indexes into the owning method's constant pool: a
	// field/method/type ref depending on Op. For ExecuteInline it indexes
	// the process-global inline table instead (spec.md §4.4).
	PoolIndex int32

	// Args holds the invoke family's argument registers (this first for
	// non-static invokes).
	Args []int32

	// Target is the branch target address for Goto/IfTest.
	Target int32
	// SwitchTargets/SwitchKeys back PackedSwitch/SparseSwitch.
	SwitchTargets []int32
	SwitchKeys    []int32

	// QuickIndex carries a rewritten instruction's inlined vtable index or
	// field byte offset (spec.md §4.4 "*-quick with the offset/index
	// inlined").
	QuickIndex int32
}

// CompareOp enumerates IfTest's comparison kinds.
type CompareOp int

const (
	CmpEQ CompareOp = iota
	CmpNE
	CmpLT
	CmpGE
	CmpGT
	CmpLE
)

// TryItem covers [StartAddr, EndAddr) with a list of (exceptionType,
// handlerAddr) pairs, the last of which may be a catch-all (ExceptionType
// == "").
type TryItem struct {
	StartAddr, EndAddr int32
	Handlers           []CatchHandler
}

type CatchHandler struct {
	ExceptionType string // "" means catch-all
	HandlerAddr   int32
}

// Code is one method's instruction stream plus its exception table and the
// register-count bookkeeping spec.md §3's Method record names.
type Code struct {
	Insns       []Instruction
	TryItems    []TryItem
	RegistersSize int32
	InsSize       int32 // number of registers occupied by incoming arguments
	OutsSize      int32 // max outgoing argument words for any invoke in this method
}

// HandlersCovering returns every catch handler address whose try range
// covers addr, in manifest order (spec.md §8's catch-handler testable
// property iterates exactly this set).
func (c *Code) HandlersCovering(addr int32) []int32 {
	var out []int32
	for _, t := range c.TryItems {
		if addr >= t.StartAddr && addr < t.EndAddr {
			for _, h := range t.Handlers {
				out = append(out, h.HandlerAddr)
			}
		}
	}
	return out
}

// BranchTargets collects every address any instruction in the method can
// jump, branch or switch to, plus every catch-handler address — the
// minimal materialization set for reglines.BranchTargetsOnly (spec.md §3).
func (c *Code) BranchTargets() []int32 {
	seen := map[int32]bool{}
	var out []int32
	add := func(a int32) {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	for _, in := range c.Insns {
		switch in.Op {
		case Goto, IfTest:
			add(in.Target)
		case PackedSwitch, SparseSwitch:
			for _, t := range in.SwitchTargets {
				add(t)
			}
		}
	}
	for _, t := range c.TryItems {
		for _, h := range t.Handlers {
			add(h.HandlerAddr)
		}
	}
	return out
}
