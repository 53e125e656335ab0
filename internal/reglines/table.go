package reglines

import "dexprep/internal/regtype"

// MaterializePolicy controls which addresses get a stored Line, per
// spec.md §3: branch targets at minimum, optionally widened for GC-map
// generation or full debug visibility.
type MaterializePolicy int

const (
	// BranchTargetsOnly stores a line only at addresses the fixed point
	// actually needs to merge into (branch/switch targets and catch
	// handlers).
	BranchTargetsOnly MaterializePolicy = iota
	// BranchTargetsAndGCPoints additionally stores a line at every
	// instruction that is a GC point, so a register-liveness map can be
	// built from the stored lines after verification succeeds.
	BranchTargetsAndGCPoints
	// Every stores a line at every instruction address (debug builds).
	Every
)

// Table is a sparse map from instruction address to a materialized Line,
// for one method's verification pass, plus the two scratch lines shared
// across the whole run.
type Table struct {
	width    int
	policy   MaterializePolicy
	interest map[int32]bool // addresses eligible for materialization
	lines    map[int32]*Line

	trackMonitors bool

	Work  *Line
	Saved *Line
}

// NewTable allocates a table for a method of the given register width
// (already +2 for the return pseudo-register). interestingAddrs marks
// branch targets and, under BranchTargetsAndGCPoints, GC points too; under
// Every it is ignored.
func NewTable(width int, policy MaterializePolicy, interestingAddrs []int32, trackMonitors bool) *Table {
	t := &Table{
		width:         width,
		policy:        policy,
		interest:      make(map[int32]bool, len(interestingAddrs)),
		lines:         make(map[int32]*Line),
		trackMonitors: trackMonitors,
		Work:          NewLine(width, trackMonitors),
		Saved:         NewLine(width, trackMonitors),
	}
	for _, a := range interestingAddrs {
		t.interest[a] = true
	}
	return t
}

func (t *Table) isInteresting(addr int32) bool {
	return t.policy == Every || t.interest[addr]
}

// Get returns the stored line at addr, or nil if none is materialized
// there.
func (t *Table) Get(addr int32) *Line { return t.lines[addr] }

// Ensure returns the stored line at addr, allocating an Unknown-filled one
// on first access if addr is an interesting address (or the policy demands
// every address gets one).
func (t *Table) Ensure(addr int32) *Line {
	if l, ok := t.lines[addr]; ok {
		return l
	}
	l := NewLine(t.width, t.trackMonitors)
	if t.isInteresting(addr) {
		t.lines[addr] = l
	}
	return l
}

// SetFromWork merges t.Work into the stored line at addr (on first visit,
// materializing a copy of t.Work if addr is interesting), returning whether
// the stored contents changed — the caller marks addr "changed" in the
// work-list when it does.
func (t *Table) SetFromWork(addr int32) bool {
	return t.mergeFrom(addr, t.Work, nil)
}

// SetFromSaved is the exception-successor counterpart of SetFromWork: the
// pre-execution snapshot (spec.md §4.3 step 2.iii) is merged into the catch
// handler's stored line instead of the post-execution Work line.
func (t *Table) SetFromSaved(addr int32, resolver regtype.ClassResolver) bool {
	return t.mergeFrom(addr, t.Saved, resolver)
}

func (t *Table) mergeFrom(addr int32, src *Line, resolver regtype.ClassResolver) bool {
	existing, had := t.lines[addr]
	if !had {
		if !t.isInteresting(addr) {
			return false
		}
		t.lines[addr] = src.Clone()
		return true
	}
	return existing.Merge(src, resolver)
}

// LoadInto copies the stored line at addr into dst (used to prime Work from
// a branch target before applying the transfer function).
func (t *Table) LoadInto(addr int32, dst *Line) bool {
	l, ok := t.lines[addr]
	if !ok {
		return false
	}
	dst.CopyFrom(l)
	return true
}

// Lines returns the table's materialized address->Line map directly, for
// callers (the verifier's reachability sweep) that need to walk every
// merge point that was ever materialized.
func (t *Table) Lines() map[int32]*Line { return t.lines }
