// Package verifier implements the per-method work-list, fixed-point
// abstract interpreter of spec.md §4.3: seed the entry line from the
// method's signature, process the work list until empty applying each
// opcode's transfer function and merging results into every successor
// (falling back to the pre-opcode saved snapshot for exception-handler
// successors), and reject the method on any transfer-function failure
// that is not eligible for deferral.
//
// Control flow and bookkeeping are grounded on
// original_source/dalvik/vm/analysis/CodeVerify.c's dvmVerifyCodeFlow;
// per-opcode checks are a deliberately reduced subset of
// dvmCheckInstruction's giant switch, covering every opcode family
// spec.md §4.3/§4.4 names explicitly.
package verifier

import (
	"dexprep/internal/classfile"
	"dexprep/internal/dex"
	"dexprep/internal/reglines"
	"dexprep/internal/regtype"
	"dexprep/internal/verrors"
)

// Result carries what a successful verification pass produced: the
// register map (if materialization was requested) and any deferred
// errors the rewriter must later turn into throwing instructions.
type Result struct {
	RegisterMap *classfile.RegisterMap
	Deferred    []deferredAt
}

type deferredAt struct {
	Addr int32
	Err  *verrors.DeferredError
}

// Verify runs the fixed-point algorithm over m's code. resolver answers
// class-hierarchy questions the transfer functions need (field/method
// resolution, assignability).
func Verify(m *classfile.Method, resolver Resolver, policy Policy) (*Result, *verrors.Error) {
	if m.Code == nil {
		return &Result{}, nil
	}
	code := m.Code

	width := int(code.RegistersSize) + 2 // +2: category-1/category-2 halves of the return pseudo-register
	// Every rather than BranchTargetsOnly: the work-list below advances
	// strictly from one materialized table entry to the next, so every
	// instruction address needs a stored line for straight-line code to be
	// walked at all, not just the actual branch-merge points. Restricting
	// to BranchTargetsOnly is a valid, cheaper table for a verifier that
	// instead walks the raw instruction stream linearly between merge
	// points and only touches the table at those points; this package
	// takes the simpler (if less memory-efficient) uniform approach.
	table := reglines.NewTable(width, reglines.Every, code.BranchTargets(), true)

	uninitMap := buildUninitMap(code, m)
	entry := seedEntryLine(m, uninitMap)
	table.Work.CopyFrom(entry)
	table.SetFromWork(0)

	v := &verifier{
		m:        m,
		code:     code,
		table:    table,
		resolver: resolver,
		uninit:   uninitMap,
		policy:   policy,
		visited:  map[int32]bool{},
	}

	work := []int32{0}
	inWork := map[int32]bool{0: true}
	for len(work) > 0 {
		addr := work[0]
		work = work[1:]
		delete(inWork, addr)

		line := table.Get(addr)
		if line == nil {
			continue
		}
		table.Work.CopyFrom(line)
		table.Saved.CopyFrom(line)

		insn, ok := v.insnAt(addr)
		if !ok {
			return nil, verrors.Newf(verrors.VerifyError, "no instruction at address %d", addr)
		}

		if err := v.apply(addr, insn); err != nil {
			if d, isDeferred := err.(*verrors.DeferredError); isDeferred && policy.AllowDeferral {
				v.deferred = append(v.deferred, deferredAt{Addr: addr, Err: d})
			} else if herr, ok := err.(*verrors.Error); ok {
				return nil, herr
			} else {
				return nil, verrors.Newf(verrors.VerifyError, "%v", err)
			}
		}

		succs := v.successors(addr, insn)
		for _, s := range succs {
			var changed bool
			if s.viaException {
				changed = table.SetFromSaved(s.addr, resolver)
			} else {
				changed = table.SetFromWork(s.addr)
			}
			if changed && !inWork[s.addr] {
				work = append(work, s.addr)
				inWork[s.addr] = true
			}
		}
		v.visited[addr] = true
	}

	if err := checkAllReachableVerified(v); err != nil {
		return nil, err
	}

	res := &Result{Deferred: v.deferred}
	if policy.EmitRegisterMap {
		res.RegisterMap = v.buildRegisterMap()
	}
	return res, nil
}

// Policy controls optional, non-semantic verifier behavior.
type Policy struct {
	AllowDeferral   bool
	EmitRegisterMap bool
}

type successor struct {
	addr         int32
	viaException bool
}

type verifier struct {
	m        *classfile.Method
	code     *dex.Code
	table    *reglines.Table
	resolver Resolver
	uninit   *regtype.UninitMap
	policy   Policy
	visited  map[int32]bool
	deferred []deferredAt
}

func (v *verifier) insnAt(addr int32) (dex.Instruction, bool) {
	if addr < 0 || int(addr) >= len(v.code.Insns) {
		return dex.Instruction{}, false
	}
	return v.code.Insns[addr], true
}

// seedEntryLine builds the entry line for address 0: "this" (if non-static)
// as an uninitialized-or-normal reference depending on whether m is
// itself a constructor, followed by the declared parameter types, with
// every other register Unknown (spec.md §4.3 step 1).
func seedEntryLine(m *classfile.Method, uninitMap *regtype.UninitMap) *reglines.Line {
	width := int(m.RegistersSize) + 2
	line := reglines.NewLine(width, true)
	insSize := int(m.InsSize)
	firstIn := width - 2 - insSize
	reg := firstIn

	if !m.IsStatic() {
		if m.IsConstructor() {
			slot := uninitMap.ThisSlot()
			uninitMap.SetClass(slot, m.Owner)
			line.Set(reg, regtype.UninitOf(slot))
		} else {
			line.Set(reg, regtype.RefOf(m.Owner))
		}
		reg++
	}
	for _, p := range m.Proto.ParamTypes {
		t := paramRegisterType(p)
		if classfile.CategoryOf(p) == classfile.CatPrimitive2 {
			hi := t
			hi.Kind = wideHiKind(t.Kind)
			line.SetWide(reg, t, hi)
			reg += 2
		} else {
			line.Set(reg, t)
			reg++
		}
	}
	return line
}

func paramRegisterType(descriptor string) regtype.RegisterType {
	switch descriptor {
	case "Z":
		return regtype.Of(regtype.Boolean)
	case "B":
		return regtype.Of(regtype.Byte)
	case "C":
		return regtype.Of(regtype.Char)
	case "S":
		return regtype.Of(regtype.Short)
	case "I":
		return regtype.Of(regtype.Int)
	case "F":
		return regtype.Of(regtype.Float)
	case "J":
		return regtype.Of(regtype.LongLo)
	case "D":
		return regtype.Of(regtype.DoubleLo)
	default:
		return regtype.RegisterType{Kind: regtype.Unknown}
	}
}

func wideHiKind(lo regtype.Kind) regtype.Kind {
	if lo == regtype.DoubleLo {
		return regtype.DoubleHi
	}
	return regtype.LongHi
}

func buildUninitMap(code *dex.Code, m *classfile.Method) *regtype.UninitMap {
	var sites []int32
	for addr, in := range code.Insns {
		if in.Op == dex.NewInstance {
			sites = append(sites, int32(addr))
		}
	}
	isCtorOfNonRoot := m.IsConstructor() && !m.IsStatic()
	return regtype.NewUninitMap(sites, isCtorOfNonRoot)
}

// successors computes every fall-through/branch/switch/catch-handler
// target address for the instruction at addr, tagging catch-handler
// targets so the caller merges from the saved pre-instruction snapshot
// rather than the post-instruction work line (spec.md §4.3 step 2.iii —
// a handler can be entered mid-instruction, before its side effects
// land).
func (v *verifier) successors(addr int32, insn dex.Instruction) []successor {
	var out []successor
	switch insn.Op {
	case dex.Goto:
		out = append(out, successor{addr: insn.Target})
	case dex.IfTest:
		out = append(out, successor{addr: insn.Target}, successor{addr: addr + 1})
	case dex.PackedSwitch, dex.SparseSwitch:
		for _, t := range insn.SwitchTargets {
			out = append(out, successor{addr: t})
		}
		out = append(out, successor{addr: addr + 1})
	case dex.ReturnVoid, dex.Return, dex.ReturnWide, dex.ReturnObject, dex.ReturnVoidBarrier, dex.Throw:
		// no fall-through successor
	default:
		out = append(out, successor{addr: addr + 1})
	}
	if insn.Op.MayThrow() {
		for _, h := range v.code.HandlersCovering(addr) {
			out = append(out, successor{addr: h, viaException: true})
		}
	}
	return out
}

func checkAllReachableVerified(v *verifier) *verrors.Error {
	for addr := range v.table.Lines() {
		if !v.visited[addr] {
			return verrors.Newf(verrors.VerifyError, "unreachable merge point at address %d never processed", addr)
		}
	}
	return nil
}

func (v *verifier) buildRegisterMap() *classfile.RegisterMap {
	rm := &classfile.RegisterMap{}
	for _, addr := range v.code.BranchTargets() {
		line := v.table.Get(addr)
		if line == nil {
			continue
		}
		var bits uint64
		for r := 0; r < line.Width() && r < 64; r++ {
			if line.Get(r).IsReference() {
				bits |= 1 << uint(r)
			}
		}
		rm.GCPointAddrs = append(rm.GCPointAddrs, addr)
		rm.LiveRefBits = append(rm.LiveRefBits, bits)
	}
	return rm
}

