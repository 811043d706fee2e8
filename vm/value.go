package vm

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
)

// Value is any runtime value. The runtime understands nil, bool, int64,
// float64, string, Symbol, *Object, *Class, *Closure and *Exception
// directly; any other Go value is classified through the Go bridge.
type Value = any

// Symbol is an interned name used as a value (:foo).
type Symbol string

func (s Symbol) String() string { return ":" + string(s) }

// Object is a heap instance of a non-builtin class. Its instance variables
// live in slots whose indices are assigned by the class's slot table.
type Object struct {
	class     *Class
	singleton atomic.Pointer[Class]

	mu    sync.RWMutex
	slots []Value
}

// Class returns the object's real (non-singleton) class.
func (o *Object) Class() *Class { return o.class }

// Slot returns the value at a slot index. Slots assigned after the object
// was allocated read as nil.
func (o *Object) Slot(index int) Value {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if index < 0 {
		fatalf("negative slot index %d on %s", index, o.class.Name())
	}
	if index >= len(o.slots) {
		return nil
	}
	return o.slots[index]
}

// SetSlot stores a value, growing the slot vector when the class gained
// slots after this object was allocated.
func (o *Object) SetSlot(index int, v Value) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if index < 0 {
		fatalf("negative slot index %d on %s", index, o.class.Name())
	}
	if index >= len(o.slots) {
		grown := make([]Value, index+1)
		copy(grown, o.slots)
		o.slots = grown
	}
	o.slots[index] = v
}

// NumSlots reports how many slots the object currently has allocated.
func (o *Object) NumSlots() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.slots)
}

// Inspect renders a value for messages and tooling output.
func Inspect(v Value) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return strconv.Quote(x)
	case Symbol:
		return x.String()
	case *Class:
		return x.Name()
	case *Object:
		return fmt.Sprintf("#<%s>", x.class.Name())
	case *Exception:
		return fmt.Sprintf("#<%s: %s>", x.class.Name(), x.Message)
	case *Closure:
		return "#<Proc>"
	default:
		return fmt.Sprintf("#<%T %v>", v, v)
	}
}

// ToS renders a value the way string interpolation does: strings and
// symbols print bare, everything else as Inspect.
func ToS(v Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case Symbol:
		return string(x)
	default:
		return Inspect(v)
	}
}

// Truthy reports whether v counts as true in a condition.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	default:
		return true
	}
}

// Identical reports object identity: pointer equality for reference values
// and value equality for immediates.
func Identical(a, b Value) bool {
	switch x := a.(type) {
	case nil, bool, int64, int, float64, string, Symbol:
		return a == b
	case *Object:
		y, ok := b.(*Object)
		return ok && x == y
	case *Class:
		y, ok := b.(*Class)
		return ok && x == y
	case *Exception:
		y, ok := b.(*Exception)
		return ok && x == y
	case *Closure:
		y, ok := b.(*Closure)
		return ok && x == y
	default:
		defer func() { recover() }()
		return a == b
	}
}
