// Package vmcontext holds the runtime's shared, partitioned global state:
// an immutable boot configuration, a mutex-guarded loaded-classes table,
// and a cache-rebuild dedup group — the spec.md §5 replacement for a
// single global struct of mixed-mutability fields (modeled on Dalvik's
// gDvm, per original_source/dalvik/vm/Globals.h, but split into
// independently-synchronized pieces instead of one lock for everything).
package vmcontext

import (
	"fmt"
	"sync"

	"dexprep/internal/classfile"
	"dexprep/internal/regtype"
)

// classKey identifies a class by its initiating loader and descriptor;
// the same descriptor loaded by two different loaders is a distinct
// entry (spec.md §4.1's "cross-classloader descriptor equivalence"
// concern exists precisely because two such entries can still need to
// compare equal for array/assignability purposes).
type classKey struct {
	loader classfile.LoaderHandle
	name   string
}

// ClassTable is the mutex-guarded loaded-classes table. Entries are added
// only through Reserve, and the Object handle is changed only through
// Reserve or SetObjectClass; reads may run concurrently with other reads.
type ClassTable struct {
	mu      sync.RWMutex
	byKey   map[classKey]regtype.ClassHandle
	classes []*classfile.Class // index == regtype.ClassHandle

	nextHandle int32

	objectClass regtype.ClassHandle
}

func NewClassTable() *ClassTable {
	return &ClassTable{
		byKey:       make(map[classKey]regtype.ClassHandle),
		objectClass: regtype.NullClass,
	}
}

// Reserve allocates a handle and inserts a class in Idx state under
// (loader, name), returning an error if that pair is already present.
func (t *ClassTable) Reserve(loader classfile.LoaderHandle, name string) (*classfile.Class, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := classKey{loader, name}
	if h, ok := t.byKey[key]; ok {
		return t.classes[h], fmt.Errorf("class %q already loaded by this loader", name)
	}
	h := regtype.ClassHandle(t.nextHandle)
	t.nextHandle++
	c := &classfile.Class{
		Self:   h,
		Name:   name,
		Loader: loader,
		State:  classfile.Idx,
	}
	t.byKey[key] = h
	t.classes = append(t.classes, c)
	if name == "Ljava/lang/Object;" {
		t.objectClass = h
	}
	return c, nil
}

func (t *ClassTable) Lookup(loader classfile.LoaderHandle, name string) (*classfile.Class, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.byKey[classKey{loader, name}]
	if !ok {
		return nil, false
	}
	return t.classes[h], true
}

func (t *ClassTable) Get(h regtype.ClassHandle) *classfile.Class {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(h) < 0 || int(h) >= len(t.classes) {
		return nil
	}
	return t.classes[h]
}

func (t *ClassTable) SetObjectClass(h regtype.ClassHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.objectClass = h
}

// Resolver returns a regtype.ClassResolver view over this table, used by
// the merge lattice and the verifier. Class records are mutated only
// during linking (before verification begins for any method that could
// race with it), so lookups here are lock-free after Get's read lock
// releases.
func (t *ClassTable) Resolver() regtype.ClassResolver {
	return &tableResolver{t}
}

type tableResolver struct{ t *ClassTable }

func (r *tableResolver) ObjectClass() regtype.ClassHandle {
	r.t.mu.RLock()
	defer r.t.mu.RUnlock()
	return r.t.objectClass
}

func (r *tableResolver) IsInterface(h regtype.ClassHandle) bool {
	c := r.t.Get(h)
	return c != nil && c.IsInterface()
}

func (r *tableResolver) Implements(h, iface regtype.ClassHandle) bool {
	c := r.t.Get(h)
	if c == nil {
		return false
	}
	for _, e := range c.IfTable {
		if e.Interface == iface {
			return true
		}
	}
	return false
}

func (r *tableResolver) IsAssignable(from, to regtype.ClassHandle) bool {
	if from == to {
		return true
	}
	seen := map[regtype.ClassHandle]bool{}
	for cur := from; cur != regtype.NullClass && !seen[cur]; {
		seen[cur] = true
		if cur == to {
			return true
		}
		c := r.t.Get(cur)
		if c == nil {
			return false
		}
		cur = c.Super
	}
	return r.Implements(from, to)
}

func (r *tableResolver) CommonSuperclass(a, b regtype.ClassHandle) regtype.ClassHandle {
	chain := func(h regtype.ClassHandle) []regtype.ClassHandle {
		var out []regtype.ClassHandle
		seen := map[regtype.ClassHandle]bool{}
		for cur := h; cur != regtype.NullClass && !seen[cur]; {
			seen[cur] = true
			out = append(out, cur)
			c := r.t.Get(cur)
			if c == nil {
				break
			}
			cur = c.Super
		}
		return out
	}
	ca, cb := chain(a), chain(b)
	inB := map[regtype.ClassHandle]bool{}
	for _, h := range cb {
		inB[h] = true
	}
	for _, h := range ca {
		if inB[h] {
			return h
		}
	}
	return r.ObjectClass()
}

func (r *tableResolver) ArrayInfo(h regtype.ClassHandle) (elem regtype.ClassHandle, dims int, primitiveElem bool, ok bool) {
	c := r.t.Get(h)
	if c == nil || len(c.Name) == 0 || c.Name[0] != '[' {
		return regtype.NullClass, 0, false, false
	}
	i := 0
	for i < len(c.Name) && c.Name[i] == '[' {
		i++
	}
	elemDesc := c.Name[i:]
	primitiveElem = len(elemDesc) == 1
	if ec, found := r.t.Lookup(c.Loader, elemDesc); found {
		elem = ec.Self
	} else {
		elem = regtype.NullClass
	}
	return elem, i, primitiveElem, true
}

func (r *tableResolver) MakeArrayClass(elem regtype.ClassHandle, dims int) regtype.ClassHandle {
	ec := r.t.Get(elem)
	if ec == nil {
		return regtype.NullClass
	}
	name := ""
	for i := 0; i < dims; i++ {
		name += "["
	}
	name += ec.Name
	if c, ok := r.t.Lookup(ec.Loader, name); ok {
		return c.Self
	}
	c, err := r.t.Reserve(ec.Loader, name)
	if err != nil {
		return regtype.NullClass
	}
	c.State = classfile.Initialized
	return c.Self
}
