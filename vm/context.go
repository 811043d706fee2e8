package vm

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// MissingReason records why dispatch fell back to method_missing. The root
// method_missing uses it to pick the error it raises.
type MissingReason uint8

const (
	MissingDefault MissingReason = iota
	MissingPrivate
	MissingProtected
	MissingVCall
	MissingSuper
)

func (r MissingReason) String() string {
	switch r {
	case MissingPrivate:
		return "private"
	case MissingProtected:
		return "protected"
	case MissingVCall:
		return "vcall"
	case MissingSuper:
		return "super"
	}
	return "default"
}

// Frame is one method activation.
type Frame struct {
	Self     Value
	Selector Selector
	Owner    *Class
	Node     *MethodNode
	Args     []Value
	Block    *Closure
}

// Context is the execution state of one thread: its closure, binding,
// exception, frame and catch stacks plus a handful of interpreter scalars.
// A Context belongs to the goroutine that created it and is never locked;
// only Interrupt may be called from other goroutines.
type Context struct {
	rt *Runtime
	id uuid.UUID

	closures   []*Closure
	bindings   []*Binding
	exceptions []*Exception
	frames     []*Frame
	catches    []*CatchTarget

	currentClass *Class
	topSelf      Value
	safeLevel    int
	mmReason     MissingReason
	mmDepth      int
	scope        Visibility
	scopeClass   *Class
	parseInEval  bool
	lastStatus   Value
	backref      Value

	interrupt atomic.Pointer[Exception]
	watchers  []func() bool
	closed    atomic.Bool
}

func newContext(rt *Runtime) *Context {
	return &Context{
		rt:           rt,
		id:           uuid.New(),
		currentClass: rt.Core.Object,
		scopeClass:   rt.Core.Object,
		topSelf:      rt.topSelf,
	}
}

// ID returns the context's identity.
func (c *Context) ID() uuid.UUID { return c.id }

// Runtime returns the runtime the context was admitted to.
func (c *Context) Runtime() *Runtime { return c.rt }

func (c *Context) String() string { return "context " + c.id.String() }

// Close unregisters the context. Closing with live stack entries means a
// caller leaked a push.
func (c *Context) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	for _, stop := range c.watchers {
		stop()
	}
	c.watchers = nil
	c.rt.unregister(c)
	if n := len(c.frames) + len(c.closures) + len(c.exceptions) + len(c.catches) + len(c.bindings); n != 0 {
		fatalf("%s closed with %d live stack entries", c, n)
	}
	log().Debugf("%s closed", c)
}

// ---------------------------------------------------------------------------
// Scalars
// ---------------------------------------------------------------------------

// CurrentClass is the class definitions go into. Switching to another class
// starts a fresh public scope.
func (c *Context) CurrentClass() *Class { return c.currentClass }
func (c *Context) SetCurrentClass(k *Class) {
	if k != c.currentClass {
		c.setScope(k, Public)
	}
	c.currentClass = k
}
func (c *Context) TopSelf() Value { return c.topSelf }
func (c *Context) SetTopSelf(v Value) { c.topSelf = v }
func (c *Context) SafeLevel() int { return c.safeLevel }
func (c *Context) SetSafeLevel(n int) { c.safeLevel = n }
func (c *Context) MethodMissingReason() MissingReason { return c.mmReason }
func (c *Context) ParseInEval() bool { return c.parseInEval }
func (c *Context) SetParseInEval(b bool) { c.parseInEval = b }
func (c *Context) LastStatus() Value { return c.lastStatus }
func (c *Context) SetLastStatus(v Value) { c.lastStatus = v }
func (c *Context) Backref() Value { return c.backref }
func (c *Context) SetBackref(v Value) { c.backref = v }

// Scope is the visibility new definitions on the current class get by
// default.
func (c *Context) Scope() Visibility { return c.scopeFor(c.currentClass) }
func (c *Context) SetScope(v Visibility) { c.setScope(c.currentClass, v) }

func (c *Context) setScope(k *Class, v Visibility) {
	c.scope = v
	c.scopeClass = k
}

// scopeFor returns the default visibility for definitions on k. A scope
// set for one class does not leak into definitions on another.
func (c *Context) scopeFor(k *Class) Visibility {
	if k == c.scopeClass {
		return c.scope
	}
	return Public
}

// Self returns the receiver of the innermost frame, or top self.
func (c *Context) Self() Value {
	if f := c.CurrentFrame(); f != nil {
		return f.Self
	}
	return c.topSelf
}

// Define defines body as name on the current class with the current
// default visibility.
func (c *Context) Define(name string, body Body) *MethodSource {
	return c.rt.DefineMethod(c.currentClass, name, body, c.Scope())
}

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

func (c *Context) PushClosure(b *Closure) {
	if b == nil {
		fatalf("%s: push nil closure", c)
	}
	c.closures = append(c.closures, b)
}

func (c *Context) PopClosure() *Closure {
	n := len(c.closures)
	if n == 0 {
		fatalf("%s: pop from empty closure stack", c)
	}
	b := c.closures[n-1]
	c.closures[n-1] = nil
	c.closures = c.closures[:n-1]
	return b
}

// CurrentClosure returns the innermost executing closure, or nil.
func (c *Context) CurrentClosure() *Closure {
	if n := len(c.closures); n > 0 {
		return c.closures[n-1]
	}
	return nil
}

// PreviousClosure returns the closure below the current one, or nil.
func (c *Context) PreviousClosure() *Closure {
	if n := len(c.closures); n > 1 {
		return c.closures[n-2]
	}
	return nil
}

// FirstClosure returns the current closure, falling back to the previous.
func (c *Context) FirstClosure() *Closure {
	if b := c.CurrentClosure(); b != nil {
		return b
	}
	return c.PreviousClosure()
}

func (c *Context) ClosureDepth() int { return len(c.closures) }

// ---------------------------------------------------------------------------
// Bindings
// ---------------------------------------------------------------------------

func (c *Context) PushBinding(b *Binding) {
	if b == nil {
		fatalf("%s: push nil binding", c)
	}
	c.bindings = append(c.bindings, b)
}

func (c *Context) PopBinding() *Binding {
	n := len(c.bindings)
	if n == 0 {
		fatalf("%s: pop from empty binding stack", c)
	}
	b := c.bindings[n-1]
	c.bindings[n-1] = nil
	c.bindings = c.bindings[:n-1]
	return b
}

func (c *Context) CurrentBinding() *Binding {
	if n := len(c.bindings); n > 0 {
		return c.bindings[n-1]
	}
	return nil
}

// BindingAt returns the binding i entries below the top.
func (c *Context) BindingAt(i int) *Binding {
	n := len(c.bindings)
	if i < 0 || i >= n {
		return nil
	}
	return c.bindings[n-1-i]
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// PushException makes ex the exception currently being handled.
func (c *Context) PushException(ex *Exception) {
	if ex == nil {
		fatalf("%s: push nil exception", c)
	}
	c.exceptions = append(c.exceptions, ex)
}

func (c *Context) PopException() *Exception {
	n := len(c.exceptions)
	if n == 0 {
		fatalf("%s: pop from empty exception stack", c)
	}
	ex := c.exceptions[n-1]
	c.exceptions[n-1] = nil
	c.exceptions = c.exceptions[:n-1]
	return ex
}

// CurrentException is the exception being handled ($!), or nil.
func (c *Context) CurrentException() *Exception {
	if n := len(c.exceptions); n > 0 {
		return c.exceptions[n-1]
	}
	return nil
}

func (c *Context) ExceptionDepth() int { return len(c.exceptions) }

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

func (c *Context) pushFrame(f *Frame) error {
	if len(c.frames) >= c.rt.opts.MaxDepth {
		return c.Raise(c.rt.Core.SystemStackError, "stack level too deep")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *Context) popFrame(f *Frame) {
	n := len(c.frames)
	if n == 0 || c.frames[n-1] != f {
		fatalf("%s: unbalanced frame pop", c)
	}
	c.frames[n-1] = nil
	c.frames = c.frames[:n-1]
}

// CurrentFrame returns the innermost method activation, or nil.
func (c *Context) CurrentFrame() *Frame {
	if n := len(c.frames); n > 0 {
		return c.frames[n-1]
	}
	return nil
}

func (c *Context) Depth() int { return len(c.frames) }

// Backtrace renders the frame stack innermost first.
func (c *Context) Backtrace() []string {
	out := make([]string, 0, len(c.frames))
	for i := len(c.frames) - 1; i >= 0; i-- {
		f := c.frames[i]
		out = append(out, fmt.Sprintf("%s#%s", f.Owner.Name(), c.rt.selectors.Name(f.Selector)))
	}
	return out
}
