package vm

import "fmt"

// Method is anything the dispatcher can invoke. Producers return Methods for
// compiled bodies; natives are wrapped with the NewNative* constructors.
type Method interface {
	Invoke(c *Context, self Value, args []Value, blk *Closure) (Value, error)
}

// Arity describes how many arguments a method accepts.
//
// Min is the number of required arguments, Max the upper bound or -1 when a
// rest parameter absorbs extras. LeftReq counts the required arguments that
// precede optional ones and Real is the number of declared parameters.
type Arity struct {
	Min     int
	Max     int
	LeftReq int
	Real    int
}

// FixedArity returns the arity of a method taking exactly n arguments.
func FixedArity(n int) Arity {
	return Arity{Min: n, Max: n, LeftReq: n, Real: n}
}

// RestArity returns the arity of a method taking at least min arguments.
func RestArity(min int) Arity {
	return Arity{Min: min, Max: -1, LeftReq: min, Real: min + 1}
}

// Accepts reports whether n arguments satisfy the arity.
func (a Arity) Accepts(n int) bool {
	if n < a.Min {
		return false
	}
	return a.Max < 0 || n <= a.Max
}

func (a Arity) String() string {
	switch {
	case a.Max < 0:
		return fmt.Sprintf("%d+", a.Min)
	case a.Min == a.Max:
		return fmt.Sprintf("%d", a.Min)
	default:
		return fmt.Sprintf("%d..%d", a.Min, a.Max)
	}
}

// Visibility controls which call shapes may reach a method.
type Visibility uint8

const (
	Public Visibility = iota
	Private
	Protected
	// ModuleFunction is only meaningful as a definition scope: methods are
	// defined private on the module and public on its singleton.
	ModuleFunction
)

func (v Visibility) String() string {
	switch v {
	case Public:
		return "public"
	case Private:
		return "private"
	case Protected:
		return "protected"
	case ModuleFunction:
		return "module_function"
	}
	return "unknown"
}

// ParseVisibility maps a visibility name to its value.
func ParseVisibility(name string) (Visibility, error) {
	switch name {
	case "", "public":
		return Public, nil
	case "private":
		return Private, nil
	case "protected":
		return Protected, nil
	case "module_function":
		return ModuleFunction, nil
	}
	return Public, fmt.Errorf("unknown visibility %q", name)
}

// NodeKind tags what a method table entry holds.
type NodeKind uint8

const (
	NodeNative    NodeKind = iota // Go function
	NodeBody                      // compiled body from the producer
	NodeSource                    // body registered but not yet compiled
	NodeBridged                   // foreign method reached through a Bridge
	NodeUndefined                 // tombstone: stops lookup, as undef does
)

func (k NodeKind) String() string {
	switch k {
	case NodeNative:
		return "native"
	case NodeBody:
		return "body"
	case NodeSource:
		return "source"
	case NodeBridged:
		return "bridged"
	case NodeUndefined:
		return "undefined"
	}
	return "unknown"
}

// MethodFlags carries per-definition facts used by dispatch.
type MethodFlags uint8

const (
	// FlagEmpty marks a body known to return nil without side effects.
	FlagEmpty MethodFlags = 1 << iota
	// FlagAttrReader and FlagAttrWriter mark accessors from DefineAttr.
	FlagAttrReader
	FlagAttrWriter
)

// MethodNode is one entry of a class's method table. Nodes are immutable
// once installed; redefinition installs a new node.
type MethodNode struct {
	Selector   Selector
	Owner      *Class
	Kind       NodeKind
	Impl       Method
	Source     *MethodSource
	Arity      Arity
	Visibility Visibility
	Flags      MethodFlags
}

// ---------------------------------------------------------------------------
// Native method wrappers
// ---------------------------------------------------------------------------

// NativeFunc implements a method in Go with a variable argument list.
type NativeFunc func(c *Context, self Value, args []Value, blk *Closure) (Value, error)

// Native0Func implements a method taking no arguments.
type Native0Func func(c *Context, self Value) (Value, error)

// Native1Func implements a method taking one argument.
type Native1Func func(c *Context, self Value, arg Value) (Value, error)

// Native2Func implements a method taking two arguments.
type Native2Func func(c *Context, self Value, arg1, arg2 Value) (Value, error)

type nativeMethod struct {
	name string
	fn   NativeFunc
}

func (m *nativeMethod) Invoke(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
	return m.fn(c, self, args, blk)
}

func (m *nativeMethod) String() string { return m.name }

type native0 struct {
	name string
	fn   Native0Func
}

func (m *native0) Invoke(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
	return m.fn(c, self)
}

func (m *native0) String() string { return m.name }

type native1 struct {
	name string
	fn   Native1Func
}

func (m *native1) Invoke(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
	return m.fn(c, self, args[0])
}

func (m *native1) String() string { return m.name }

type native2 struct {
	name string
	fn   Native2Func
}

func (m *native2) Invoke(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
	return m.fn(c, self, args[0], args[1])
}

func (m *native2) String() string { return m.name }

// NewNative wraps a variadic Go function.
func NewNative(name string, fn NativeFunc) Method {
	return &nativeMethod{name: name, fn: fn}
}

// NewNative0 wraps a zero-argument Go function.
func NewNative0(name string, fn Native0Func) Method {
	return &native0{name: name, fn: fn}
}

// NewNative1 wraps a one-argument Go function.
func NewNative1(name string, fn Native1Func) Method {
	return &native1{name: name, fn: fn}
}

// NewNative2 wraps a two-argument Go function.
func NewNative2(name string, fn Native2Func) Method {
	return &native2{name: name, fn: fn}
}

// nativeArity infers the arity of the fixed-argument wrappers.
func nativeArity(m Method) (Arity, bool) {
	switch m.(type) {
	case *native0:
		return FixedArity(0), true
	case *native1:
		return FixedArity(1), true
	case *native2:
		return FixedArity(2), true
	}
	return Arity{}, false
}
