package vm

import "sync"

// ClosureFlags distinguish the kinds of callable block.
type ClosureFlags uint8

const (
	ClosureProc ClosureFlags = 1 << iota
	// ClosureLambda closures check arity strictly and treat return as a
	// return from the closure itself.
	ClosureLambda
	// ClosureMethod closures wrap a bound method.
	ClosureMethod
)

// BlockFunc is the body of a closure.
type BlockFunc func(c *Context, args []Value) (Value, error)

// Closure is a block or proc: code plus the self, binding and method
// activation it was created in.
type Closure struct {
	Fn      BlockFunc
	Self    Value
	Binding *Binding
	Flags   ClosureFlags
	Arity   Arity

	home *Frame
}

// NewClosure captures fn in the context's current self, binding and frame.
func (c *Context) NewClosure(fn BlockFunc, arity Arity, flags ClosureFlags) *Closure {
	if flags == 0 {
		flags = ClosureProc
	}
	return &Closure{
		Fn:      fn,
		Self:    c.Self(),
		Binding: c.CurrentBinding(),
		Flags:   flags,
		Arity:   arity,
		home:    c.CurrentFrame(),
	}
}

// IsLambda reports whether the closure has lambda semantics.
func (b *Closure) IsLambda() bool { return b.Flags&ClosureLambda != 0 }

// Yield calls blk with args. A lambda's own return ends the call with the
// returned value; a proc's return unwinds to the method it was created in.
func (c *Context) Yield(blk *Closure, args ...Value) (Value, error) {
	if blk == nil {
		return nil, c.Raise(c.rt.Core.LocalJumpError, "no block given (yield)")
	}
	if err := c.checkInterrupt(); err != nil {
		return nil, err
	}
	if blk.IsLambda() && !blk.Arity.Accepts(len(args)) {
		return nil, c.Raisef(c.rt.Core.ArgumentError, "wrong number of arguments (given %d, expected %s)", len(args), blk.Arity)
	}

	c.PushClosure(blk)
	defer c.PopClosure()
	if blk.Binding != nil {
		c.PushBinding(blk.Binding)
		defer c.PopBinding()
	}

	v, err := blk.Fn(c, args)
	if err != nil {
		if ret, ok := err.(*ReturnSignal); ok && blk.IsLambda() && ret.Closure == blk {
			return ret.Value, nil
		}
		return nil, err
	}
	return v, nil
}

// Return produces the signal for a return statement executed inside blk.
func (c *Context) Return(blk *Closure, v Value) error {
	if blk.IsLambda() {
		return &ReturnSignal{Closure: blk, Value: v}
	}
	return &ReturnSignal{Frame: blk.home, Value: v}
}

// Break produces the signal for a break statement executed inside blk. The
// method call blk was passed to returns v.
func (c *Context) Break(blk *Closure, v Value) error {
	return &BreakSignal{Closure: blk, Value: v}
}

// Binding is a scope of local variables, chained to the scope it was
// created in. Closures can carry a binding to other threads, so access is
// locked.
type Binding struct {
	Self  Value
	Class *Class

	parent *Binding
	mu     sync.RWMutex
	locals map[string]Value
}

// NewBinding creates a binding nested in parent (which may be nil).
func NewBinding(self Value, class *Class, parent *Binding) *Binding {
	return &Binding{Self: self, Class: class, parent: parent, locals: make(map[string]Value)}
}

// Parent returns the enclosing binding.
func (b *Binding) Parent() *Binding { return b.parent }

// Local looks name up through the binding chain.
func (b *Binding) Local(name string) (Value, bool) {
	for s := b; s != nil; s = s.parent {
		s.mu.RLock()
		v, ok := s.locals[name]
		s.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// SetLocal assigns name in the nearest binding that has it, or defines it
// in b.
func (b *Binding) SetLocal(name string, v Value) {
	for s := b; s != nil; s = s.parent {
		s.mu.Lock()
		if _, ok := s.locals[name]; ok {
			s.locals[name] = v
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
	b.DefineLocal(name, v)
}

// DefineLocal binds name in b itself, shadowing outer bindings.
func (b *Binding) DefineLocal(name string, v Value) {
	b.mu.Lock()
	b.locals[name] = v
	b.mu.Unlock()
}

// Names returns the local names visible from b, innermost first.
func (b *Binding) Names() []string {
	seen := make(map[string]bool)
	var out []string
	for s := b; s != nil; s = s.parent {
		s.mu.RLock()
		for n := range s.locals {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
		s.mu.RUnlock()
	}
	return out
}
