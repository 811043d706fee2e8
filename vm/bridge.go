package vm

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"
)

// Bridge supplies methods for classes backed by a foreign object system.
// It is consulted during lookup after a bridged class's own table.
type Bridge interface {
	BridgeLookup(class *Class, selector string) (Method, Arity, bool)
}

// GoBridge exposes Go types as classes. Exported methods of a registered
// type answer the snake_case form of their name: ReadAll is read_all,
// IsEmpty also answers empty?, and SetName answers name=.
type GoBridge struct {
	mu      sync.RWMutex
	byType  map[reflect.Type]*Class
	byClass map[ClassID]reflect.Type
}

// NewGoBridge creates an empty bridge.
func NewGoBridge() *GoBridge {
	return &GoBridge{
		byType:  make(map[reflect.Type]*Class),
		byClass: make(map[ClassID]reflect.Type),
	}
}

// Register binds goType to class.
func (b *GoBridge) Register(goType reflect.Type, class *Class) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[goType] = class
	b.byClass[class.id] = goType
}

// ClassFor returns the class registered for v's Go type, or nil.
func (b *GoBridge) ClassFor(v Value) *Class {
	if v == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.byType[reflect.TypeOf(v)]
}

// ClassForType returns the class registered for goType, or nil.
func (b *GoBridge) ClassForType(goType reflect.Type) *Class {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.byType[goType]
}

// Count returns the number of registered types.
func (b *GoBridge) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byType)
}

// BridgeLookup finds the Go method answering selector for class.
func (b *GoBridge) BridgeLookup(class *Class, selector string) (Method, Arity, bool) {
	b.mu.RLock()
	goType, ok := b.byClass[class.id]
	b.mu.RUnlock()
	if !ok {
		return nil, Arity{}, false
	}
	for _, name := range goMethodNames(selector) {
		m, ok := goType.MethodByName(name)
		if !ok {
			continue
		}
		in := m.Type.NumIn() - 1 // receiver
		arity := FixedArity(in)
		if m.Type.IsVariadic() {
			arity = RestArity(in - 1)
		}
		return &goMethod{name: name, method: m}, arity, true
	}
	return nil, Arity{}, false
}

// goMethodNames maps a selector to candidate Go method names.
func goMethodNames(selector string) []string {
	switch {
	case strings.HasSuffix(selector, "?"):
		base := pascal(strings.TrimSuffix(selector, "?"))
		return []string{"Is" + base, base}
	case strings.HasSuffix(selector, "="):
		return []string{"Set" + pascal(strings.TrimSuffix(selector, "="))}
	}
	return []string{pascal(selector)}
}

func pascal(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

type goMethod struct {
	name   string
	method reflect.Method
}

func (m *goMethod) String() string { return m.name }

func (m *goMethod) Invoke(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
	ft := m.method.Type
	in := make([]reflect.Value, 0, len(args)+1)
	in = append(in, reflect.ValueOf(self))
	for i, a := range args {
		var t reflect.Type
		if ft.IsVariadic() && i+1 >= ft.NumIn()-1 {
			t = ft.In(ft.NumIn() - 1).Elem()
		} else {
			t = ft.In(i + 1)
		}
		rv, err := toGo(a, t)
		if err != nil {
			return nil, c.Raisef(c.rt.Core.TypeError, "%s argument %d: %v", m.name, i+1, err)
		}
		in = append(in, rv)
	}

	out := m.method.Func.Call(in)
	errType := reflect.TypeOf((*error)(nil)).Elem()
	var result Value
	for i, o := range out {
		if ft.Out(i) == errType {
			if !o.IsNil() {
				return nil, c.normalize(o.Interface().(error))
			}
			continue
		}
		if result == nil {
			result = fromGo(o)
		}
	}
	return result, nil
}

var errNotConvertible = errors.New("not convertible")

func toGo(v Value, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("nil to %s: %w", t, errNotConvertible)
	}
	if s, ok := v.(Symbol); ok && t.Kind() == reflect.String {
		return reflect.ValueOf(string(s)).Convert(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if isNumeric(rv.Kind()) && isNumeric(t.Kind()) {
		return rv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("%s to %s: %w", rv.Type(), t, errNotConvertible)
}

func fromGo(v reflect.Value) Value {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint())
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.String:
		return v.String()
	case reflect.Bool:
		return v.Bool()
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
	}
	return v.Interface()
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// RegisterGoType defines (or reopens) the class name and routes values of
// goType to it. Methods are looked up through the runtime's Bridge.
func (rt *Runtime) RegisterGoType(name string, goType reflect.Type) (*Class, error) {
	if k := rt.bridges.ClassForType(goType); k != nil {
		return k, nil
	}
	k, err := rt.DefineClass(name, nil, nil)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	k.flags |= FlagBridged
	k.goType = goType
	k.bump()
	rt.mu.Unlock()
	rt.bridges.Register(goType, k)
	log().Infof("bridged %s as %s", goType, name)
	return k, nil
}

// GoBridge returns the runtime's Go type registry.
func (rt *Runtime) GoBridge() *GoBridge { return rt.bridges }

// bridgeNode asks the bridge for sel on k and memoizes the answer in k's
// table. Caller holds rt.mu.
func (rt *Runtime) bridgeNode(k *Class, sel Selector) *MethodNode {
	if rt.opts.Bridge == nil {
		return nil
	}
	m, arity, ok := rt.opts.Bridge.BridgeLookup(k, rt.selectors.Name(sel))
	if !ok {
		return nil
	}
	node := &MethodNode{Selector: sel, Owner: k, Kind: NodeBridged, Impl: m, Arity: arity}
	k.methods[sel] = node
	return node
}
