package vm

import "sync"

// SlotTable maps instance-variable names to stable slot indices. It is
// append-only: an index, once assigned, never changes, so objects allocated
// with fewer slots stay valid.
type SlotTable struct {
	mu    sync.RWMutex
	index map[string]int
	names []string
}

func newSlotTable() *SlotTable {
	return &SlotTable{index: make(map[string]int)}
}

// Lookup returns the slot for name, or -1.
func (t *SlotTable) Lookup(name string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// Len returns the number of assigned slots.
func (t *SlotTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.names)
}

// Names returns slot names in index order.
func (t *SlotTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Each calls fn for every slot in index order. fn must not assign slots
// on the same table.
func (t *SlotTable) Each(fn func(name string, index int)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, name := range t.names {
		fn(name, i)
	}
}

// NameAt returns the name bound to a slot. An index outside the table is
// corruption.
func (t *SlotTable) NameAt(i int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.names) {
		fatalf("slot index %d out of range (%d slots)", i, len(t.names))
	}
	return t.names[i]
}

func (t *SlotTable) assign(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok := t.index[name]; ok {
		return i
	}
	i := len(t.names)
	t.index[name] = i
	t.names = append(t.names, name)
	return i
}

// slotOwner returns the class whose table holds slots for instances of c:
// singleton classes share the table of the class they were made from.
func (c *Class) slotOwner() *Class {
	if c.IsMetaclass() {
		return c
	}
	return c.realClass()
}

// AssignIvarSlot returns the slot index for name on class, assigning the
// next free index if the name is new. Modules have no instances, so asking
// for a module slot is a caller bug.
func (rt *Runtime) AssignIvarSlot(class *Class, name string) int {
	if class.IsModule() {
		fatalf("assign ivar slot %s on module %s", name, class.name)
	}
	owner := class.slotOwner()
	if i := owner.ivars.Lookup(name); i >= 0 {
		return i
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	i := owner.ivars.assign(name)
	log().Debugf("ivar slot %s#%s = %d", owner.name, name, i)
	return i
}

// IvarSlot returns the assigned slot for name on class, or -1.
func (rt *Runtime) IvarSlot(class *Class, name string) int {
	return class.slotOwner().ivars.Lookup(name)
}

// EachIvarSlot visits the slots assigned on class in index order.
func (rt *Runtime) EachIvarSlot(class *Class, fn func(name string, index int)) {
	class.slotOwner().ivars.Each(fn)
}

// IvarSlots returns the slot table of class.
func (rt *Runtime) IvarSlots(class *Class) *SlotTable {
	return class.slotOwner().ivars
}

// IvarGet reads an instance variable. Values without slots (immediates)
// have no instance variables and read as nil.
func (rt *Runtime) IvarGet(self Value, name string) Value {
	o, ok := self.(*Object)
	if !ok {
		if ex, ok := self.(*Exception); ok {
			o = &ex.Object
		} else {
			return nil
		}
	}
	i := o.class.ivars.Lookup(name)
	if i < 0 {
		return nil
	}
	return o.Slot(i)
}

// IvarSet writes an instance variable, assigning a slot when needed.
func (rt *Runtime) IvarSet(self Value, name string, v Value) error {
	o, ok := self.(*Object)
	if !ok {
		ex, isEx := self.(*Exception)
		if !isEx {
			return &TypeMismatch{Op: "set instance variable " + name, Value: self}
		}
		o = &ex.Object
	}
	o.SetSlot(rt.AssignIvarSlot(o.class, name), v)
	return nil
}
