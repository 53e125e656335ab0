// Package reglines implements the verifier's per-address register-type
// snapshots: the RegisterLine (one method frame's worth of register types
// plus monitor-nesting state) and the RegisterTable that stores a line per
// "interesting" instruction address, following the sparse-map design of
// spec.md §3.
package reglines

import "dexprep/internal/regtype"

// maxMonitorDepth bounds the monitor-enter nesting the verifier will track
// per register line before reporting overflow (spec.md §4.3,
// "monitor-enter: ... overflow of a fixed depth is an error").
const maxMonitorDepth = 32

// Line is a snapshot of every register's type at one instruction address,
// plus (when monitor tracking is enabled) which monitor-stack depths each
// register currently holds a lock acquired at, and the stack of
// monitor-enter addresses itself.
//
// Width is insn_reg_count+2: the two extra slots are the category-1/
// category-2 halves of the return-value pseudo-register the verifier uses
// to type check return instructions uniformly with everything else.
type Line struct {
	regs []regtype.RegisterType

	trackMonitors bool
	// monitorBits[r] is a bitmap of monitor-stack depths (bit i set means
	// "this register holds the lock pushed at stack depth i").
	monitorBits []uint32
	// monitorStack holds the instruction address of each currently-open
	// monitor-enter, innermost last.
	monitorStack []int32
}

// NewLine allocates a line sized for a method with regCount registers
// (already including the +2 return pseudo-register per spec.md §3).
func NewLine(regCount int, trackMonitors bool) *Line {
	l := &Line{regs: make([]regtype.RegisterType, regCount), trackMonitors: trackMonitors}
	if trackMonitors {
		l.monitorBits = make([]uint32, regCount)
	}
	return l
}

func (l *Line) Width() int { return len(l.regs) }

func (l *Line) Get(reg int) regtype.RegisterType { return l.regs[reg] }

// Set overwrites a register's type. Per spec.md §3's RegisterLine
// invariant, this clears the register's monitor bitmap — a new value can
// never still be "the thing the lock was taken on".
func (l *Line) Set(reg int, t regtype.RegisterType) {
	l.regs[reg] = t
	if l.trackMonitors {
		l.monitorBits[reg] = 0
	}
}

// SetWide writes a category-2 type across reg and reg+1 simultaneously: lo
// at reg, the matching hi half at reg+1. This is the only way *Hi ever gets
// set, per spec.md §3's invariant and DESIGN.md's "set high register type by
// setting low" note — the function refuses to accept a *Hi kind directly.
func (l *Line) SetWide(reg int, lo regtype.RegisterType, hi regtype.RegisterType) bool {
	if !lo.Kind.IsCategory2Lo() || !hi.Kind.IsCategory2Hi() {
		return false
	}
	l.Set(reg, lo)
	l.Set(reg+1, hi)
	return true
}

// MonitorDepth returns the number of currently-open monitor-enters.
func (l *Line) MonitorDepth() int { return len(l.monitorStack) }

// MonitorEnter pushes a new monitor-stack entry for the lock taken on reg at
// instruction addr. ok is false on overflow.
func (l *Line) MonitorEnter(reg int, addr int32) bool {
	if !l.trackMonitors {
		return true
	}
	if len(l.monitorStack) >= maxMonitorDepth {
		return false
	}
	depth := len(l.monitorStack)
	l.monitorStack = append(l.monitorStack, addr)
	l.monitorBits[reg] |= 1 << uint(depth)
	return true
}

// MonitorExit pops the innermost monitor-stack entry, requiring that reg
// holds the bit for that depth (spec.md §4.3: "on exit, the top entry's bit
// must be set for this register").
func (l *Line) MonitorExit(reg int) bool {
	if !l.trackMonitors {
		return true
	}
	if len(l.monitorStack) == 0 {
		return false
	}
	depth := len(l.monitorStack) - 1
	if l.monitorBits[reg]&(1<<uint(depth)) == 0 {
		return false
	}
	l.monitorStack = l.monitorStack[:depth]
	l.monitorBits[reg] &^= 1 << uint(depth)
	return true
}

// Clone deep-copies the line (used to materialize a stored table entry into
// the work/saved scratch lines and vice versa).
func (l *Line) Clone() *Line {
	out := &Line{
		regs:          append([]regtype.RegisterType(nil), l.regs...),
		trackMonitors: l.trackMonitors,
	}
	if l.trackMonitors {
		out.monitorBits = append([]uint32(nil), l.monitorBits...)
		out.monitorStack = append([]int32(nil), l.monitorStack...)
	}
	return out
}

// CopyFrom overwrites l's contents with src's (same width assumed).
func (l *Line) CopyFrom(src *Line) {
	copy(l.regs, src.regs)
	if l.trackMonitors && src.trackMonitors {
		copy(l.monitorBits, src.monitorBits)
		l.monitorStack = append(l.monitorStack[:0], src.monitorStack...)
	}
}

// MonitorStackEqual reports whether l and other have identical monitor
// stacks (spec.md §4.3: "the monitor *stack* is not merged — it must match
// exactly, else verify error").
func (l *Line) MonitorStackEqual(other *Line) bool {
	if len(l.monitorStack) != len(other.monitorStack) {
		return false
	}
	for i := range l.monitorStack {
		if l.monitorStack[i] != other.monitorStack[i] {
			return false
		}
	}
	return true
}

// DemoteStaleSlot overwrites every register still holding
// regtype.UninitOf(slot) with Conflict (spec.md §4.2): a new-instance at an
// address the work list has already visited once (a loop body) reuses the
// same slot number for what is, logically, a brand new allocation. Any
// register left holding the prior iteration's Uninit(slot) value — one that
// was never completed by the matching invoke-direct <init>, e.g. because
// control flow skipped it — must stop being treated as that slot's pending
// allocation before the slot is handed a fresh one, or the verifier would
// silently conflate two distinct instances.
func (l *Line) DemoteStaleSlot(slot regtype.UninitSlot) {
	for i, r := range l.regs {
		if r.Kind == regtype.UninitRef && r.Slot == slot {
			l.Set(i, regtype.Of(regtype.Conflict))
		}
	}
}

// Merge merges src into l in place (pointwise RegisterType merge,
// bitwise-AND of monitor bitmaps), returning whether anything changed.
func (l *Line) Merge(src *Line, resolver regtype.ClassResolver) (changed bool) {
	for i := range l.regs {
		merged := regtype.Merge(l.regs[i], src.regs[i], resolver)
		if merged != l.regs[i] {
			changed = true
		}
		l.regs[i] = merged
	}
	if l.trackMonitors {
		for i := range l.monitorBits {
			nb := l.monitorBits[i] & src.monitorBits[i]
			if nb != l.monitorBits[i] {
				changed = true
			}
			l.monitorBits[i] = nb
		}
	}
	return changed
}
