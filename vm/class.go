package vm

import (
	"reflect"
	"sync/atomic"
)

// ClassID is the stable arena index of a class. Zero means "none".
type ClassID uint32

// ClassFlags describe what kind of record a Class is.
type ClassFlags uint8

const (
	FlagModule ClassFlags = 1 << iota
	FlagSingleton
	FlagMetaclass
	FlagBridged
)

// Class is a node of the class hierarchy. Relationships to other classes are
// stored as arena IDs and only ever point upward (superclass, mixins, outer),
// so the hierarchy cannot hold back-references.
//
// Every field except the counters and the metaclass pointer is guarded by
// the runtime's mutation lock.
type Class struct {
	rt    *Runtime
	id    ClassID
	name  string
	flags ClassFlags

	super    ClassID
	includes []ClassID // in inclusion order
	prepends []ClassID // in prepend order
	outer    ClassID

	// attached is the object a singleton class belongs to.
	attached Value
	meta     atomic.Pointer[Class]

	methods map[Selector]*MethodNode
	consts  map[string]Value
	ivars   *SlotTable
	goType  reflect.Type

	// generation counts method-table mutations; shape counts ancestry
	// changes. Both only ever increase.
	generation atomic.Uint64
	shape      atomic.Uint64
}

// ID returns the class's arena identity.
func (c *Class) ID() ClassID { return c.id }

// Name returns the class name. Anonymous singletons render as #<Class:...>.
func (c *Class) Name() string {
	if c == nil {
		return "<nil class>"
	}
	return c.name
}

func (c *Class) String() string { return c.Name() }

// IsModule reports whether the record is a module (cannot be instantiated
// or subclassed, only mixed in).
func (c *Class) IsModule() bool { return c.flags&FlagModule != 0 }

// IsSingleton reports whether the record is a per-object singleton class or
// a class's metaclass.
func (c *Class) IsSingleton() bool { return c.flags&(FlagSingleton|FlagMetaclass) != 0 }

// IsMetaclass reports whether the record is the singleton of a class.
func (c *Class) IsMetaclass() bool { return c.flags&FlagMetaclass != 0 }

// IsBridged reports whether methods may be supplied by the runtime's Bridge.
func (c *Class) IsBridged() bool { return c.flags&FlagBridged != 0 }

// Generation returns the method-table generation counter.
func (c *Class) Generation() uint64 { return c.generation.Load() }

// Shape returns the ancestry-shape counter.
func (c *Class) Shape() uint64 { return c.shape.Load() }

// Runtime returns the runtime that owns the class.
func (c *Class) Runtime() *Runtime { return c.rt }

// Attached returns the object a singleton class belongs to, or nil.
func (c *Class) Attached() Value { return c.attached }

// Superclass returns the superclass, or nil for roots and modules. The
// superclass is fixed at creation.
func (c *Class) Superclass() *Class {
	return c.rt.classAt(c.super)
}

// Metaclass returns the class's metaclass, or nil for singletons.
func (c *Class) Metaclass() *Class { return c.meta.Load() }

// realClass skips singleton classes to reach the class an object was
// instantiated from.
func (c *Class) realClass() *Class {
	for c != nil && c.flags&FlagSingleton != 0 {
		c = c.rt.classAt(c.super)
	}
	return c
}

// bump increments the generation counter. Overflow would make stale cache
// entries look fresh, so it is treated as corruption.
func (c *Class) bump() {
	if c.generation.Add(1) == 0 {
		fatalf("generation counter overflow on %s", c.name)
	}
}

func (c *Class) bumpShape() {
	if c.shape.Add(1) == 0 {
		fatalf("shape counter overflow on %s", c.name)
	}
	c.bump()
}

// ---------------------------------------------------------------------------
// Arena
// ---------------------------------------------------------------------------

// classAt resolves an arena ID. Callers hold the mutation lock or only read
// IDs that were published before the call.
func (rt *Runtime) classAt(id ClassID) *Class {
	if id == 0 {
		return nil
	}
	rt.arenaMu.RLock()
	defer rt.arenaMu.RUnlock()
	if int(id) >= len(rt.arena) {
		fatalf("class id %d outside arena of %d", id, len(rt.arena))
	}
	return rt.arena[id]
}

// ClassByID looks up a class by arena ID.
func (rt *Runtime) ClassByID(id ClassID) (*Class, bool) {
	rt.arenaMu.RLock()
	defer rt.arenaMu.RUnlock()
	if id == 0 || int(id) >= len(rt.arena) {
		return nil, false
	}
	return rt.arena[id], true
}

// allocClass appends a record to the arena. Caller holds rt.mu.
func (rt *Runtime) allocClass(name string, flags ClassFlags, super *Class) *Class {
	c := &Class{
		rt:      rt,
		name:    name,
		flags:   flags,
		methods: make(map[Selector]*MethodNode),
		consts:  make(map[string]Value),
		ivars:   newSlotTable(),
	}
	if super != nil {
		c.super = super.id
	}
	rt.arenaMu.Lock()
	c.id = ClassID(len(rt.arena))
	rt.arena = append(rt.arena, c)
	rt.arenaMu.Unlock()
	return c
}

// Classes returns every named, non-singleton class in creation order.
func (rt *Runtime) Classes() []*Class {
	rt.arenaMu.RLock()
	defer rt.arenaMu.RUnlock()
	out := make([]*Class, 0, len(rt.arena))
	for _, c := range rt.arena[1:] {
		if !c.IsSingleton() {
			out = append(out, c)
		}
	}
	return out
}
