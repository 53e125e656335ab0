package regtype

// ThisAllocSite is the distinguished allocation-site address used for slot 0
// of a constructor's UninitMap: "the uninitialized `this`" rather than a
// real new-instance instruction address.
const ThisAllocSite = -1

// uninitEntry pairs an allocation site with its eventually-resolved class.
// Built once per method before verification runs (spec.md §4.2): one slot
// per new-instance instruction, plus (for constructors) slot 0 for `this`.
type uninitEntry struct {
	site  int32 // instruction address, or ThisAllocSite
	class ClassHandle
}

// UninitMap is the ordered, append-only side table of pending
// uninitialized-object allocation sites for one method verification pass.
// Slots are never reused for a different class (spec.md §3 invariant).
type UninitMap struct {
	entries []uninitEntry
}

// NewUninitMap builds the map for a method, reserving slot 0 for `this`
// when isConstructorOfNonRoot is true.
func NewUninitMap(newInstanceSites []int32, isConstructorOfNonRoot bool) *UninitMap {
	m := &UninitMap{}
	if isConstructorOfNonRoot {
		m.entries = append(m.entries, uninitEntry{site: ThisAllocSite, class: NullClass})
	}
	for _, addr := range newInstanceSites {
		m.entries = append(m.entries, uninitEntry{site: addr, class: NullClass})
	}
	return m
}

// ThisSlot returns the slot reserved for the uninitialized `this`, valid
// only when the map was built with isConstructorOfNonRoot.
func (m *UninitMap) ThisSlot() UninitSlot { return 0 }

// SlotForAddress returns the slot registered for the new-instance
// instruction at addr by NewUninitMap. It never creates a mapping: ok is
// false if addr was not among the sites the map was built with.
func (m *UninitMap) SlotForAddress(addr int32) (UninitSlot, bool) {
	for i, e := range m.entries {
		if e.site == addr {
			return UninitSlot(i), true
		}
	}
	return 0, false
}

// SetClass fills in the class the first time the verifier encounters the
// new-instance (or constructor entry) at this slot.
func (m *UninitMap) SetClass(slot UninitSlot, class ClassHandle) {
	m.entries[slot].class = class
}

// ClassOf returns the class recorded for slot, or NullClass if the slot has
// not yet been resolved (the verifier must not reach this before SetClass).
func (m *UninitMap) ClassOf(slot UninitSlot) ClassHandle {
	return m.entries[slot].class
}

// Len reports the number of slots, for iteration when demoting stale
// Uninit(k) registers (see DemoteStaleSlot).
func (m *UninitMap) Len() int { return len(m.entries) }
