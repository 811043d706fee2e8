package vm

import (
	"context"
	"testing"
)

// ---------------------------------------------------------------------------
// Stacks
// ---------------------------------------------------------------------------

func TestClosureStack(t *testing.T) {
	_, c := newTestRuntime(t)
	if c.CurrentClosure() != nil || c.FirstClosure() != nil {
		t.Fatal("fresh context should have no closures")
	}

	a := c.NewClosure(nil, Arity{}, 0)
	b := c.NewClosure(nil, Arity{}, ClosureLambda)
	c.PushClosure(a)
	c.PushClosure(b)
	if c.CurrentClosure() != b || c.PreviousClosure() != a {
		t.Error("current/previous closure mismatch")
	}
	if c.FirstClosure() != b {
		t.Error("FirstClosure should prefer the current closure")
	}
	if c.ClosureDepth() != 2 {
		t.Errorf("depth = %d, want 2", c.ClosureDepth())
	}
	if c.PopClosure() != b || c.PopClosure() != a {
		t.Error("closures popped out of order")
	}
	if a.Flags != ClosureProc || !b.IsLambda() {
		t.Errorf("flags a=%v b=%v", a.Flags, b.Flags)
	}
}

func TestBindingStack(t *testing.T) {
	rt, c := newTestRuntime(t)
	outer := NewBinding(rt.TopSelf(), rt.Core.Object, nil)
	inner := NewBinding(rt.TopSelf(), rt.Core.Object, outer)

	outer.DefineLocal("x", int64(1))
	inner.SetLocal("x", int64(2))
	inner.SetLocal("y", int64(3))

	if v, _ := outer.Local("x"); v != int64(2) {
		t.Errorf("outer x = %v, want 2 (assigned through inner)", v)
	}
	if _, ok := outer.Local("y"); ok {
		t.Error("y should be local to inner")
	}
	inner.DefineLocal("x", "shadow")
	if v, _ := inner.Local("x"); v != "shadow" {
		t.Errorf("inner x = %v", v)
	}
	if v, _ := outer.Local("x"); v != int64(2) {
		t.Errorf("outer x changed to %v", v)
	}

	c.PushBinding(outer)
	c.PushBinding(inner)
	if c.CurrentBinding() != inner || c.BindingAt(1) != outer || c.BindingAt(2) != nil {
		t.Error("binding stack mismatch")
	}
	c.PopBinding()
	c.PopBinding()
}

func TestExceptionStackBalance(t *testing.T) {
	rt, c := newTestRuntime(t)
	first := rt.NewException(rt.Core.RuntimeError, "first")
	second := rt.NewException(rt.Core.RuntimeError, "second")

	c.PushException(first)
	c.PushException(second)
	if c.CurrentException() != second || c.ExceptionDepth() != 2 {
		t.Fatal("exception stack mismatch")
	}
	if c.PopException() != second || c.PopException() != first {
		t.Error("exceptions popped out of order")
	}
	if c.CurrentException() != nil {
		t.Error("stack should be empty")
	}
}

func TestStackMisuseIsFatal(t *testing.T) {
	rt, c := newTestRuntime(t)
	expectFatal(t, func() { c.PopClosure() })
	expectFatal(t, func() { c.PopBinding() })
	expectFatal(t, func() { c.PopException() })
	expectFatal(t, func() { c.PushException(nil) })
	expectFatal(t, func() { c.PushClosure(nil) })

	t1 := c.RegisterCatch(Symbol("a"))
	t2 := c.RegisterCatch(Symbol("b"))
	expectFatal(t, func() { c.UnregisterCatch(t1) })
	c.UnregisterCatch(t2)
	c.UnregisterCatch(t1)

	leaky := rt.NewContext()
	leaky.PushException(rt.NewException(rt.Core.RuntimeError, "leaked"))
	expectFatal(t, leaky.Close)
}

func TestContextScalars(t *testing.T) {
	rt, c := newTestRuntime(t)
	if c.Self() != rt.TopSelf() {
		t.Error("Self at top level should be top self")
	}
	c.SetSafeLevel(1)
	c.SetParseInEval(true)
	c.SetLastStatus(int64(0))
	c.SetBackref("match")
	if c.SafeLevel() != 1 || !c.ParseInEval() || c.LastStatus() != int64(0) || c.Backref() != "match" {
		t.Error("scalar round trip failed")
	}

	k := mustClass(t, rt, "Target", nil)
	c.SetCurrentClass(k)
	c.SetScope(Private)
	c.Define("helper", returns("ok"))
	node, ok := rt.LocalMethod(k, "helper")
	if !ok || node.Visibility != Private {
		t.Errorf("Define under private scope: %v %v", node, ok)
	}
}

func TestContextsAreIndependent(t *testing.T) {
	rt, c := newTestRuntime(t)
	other := rt.NewContext()
	defer other.Close()

	if c.ID() == other.ID() {
		t.Fatal("contexts share an ID")
	}
	if got, ok := rt.Context(other.ID()); !ok || got != other {
		t.Error("runtime does not know the new context")
	}
	ex := rt.NewException(rt.Core.RuntimeError, "mine")
	c.PushException(ex)
	if other.CurrentException() != nil {
		t.Error("exception leaked across contexts")
	}
	c.PopException()

	n := len(rt.Threads())
	tmp := rt.NewContext()
	tmp.Close()
	if got := len(rt.Threads()); got != n {
		t.Errorf("threads after close = %d, want %d", got, n)
	}
}

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

func TestYield(t *testing.T) {
	rt, c := newTestRuntime(t)
	bind := NewBinding(rt.TopSelf(), rt.Core.Object, nil)
	c.PushBinding(bind)
	blk := c.NewClosure(func(c *Context, args []Value) (Value, error) {
		if c.CurrentBinding() != bind {
			t.Error("block does not run in its binding")
		}
		return args[0].(int64) * 2, nil
	}, FixedArity(1), 0)
	c.PopBinding()

	v, err := c.Yield(blk, int64(21))
	if err != nil || v != int64(42) {
		t.Errorf("yield = %v, %v", v, err)
	}
	if c.ClosureDepth() != 0 || c.CurrentBinding() != nil {
		t.Error("yield left stack entries behind")
	}

	_, err = c.Yield(nil)
	expectException(t, err, rt.Core.LocalJumpError)
}

func TestLambdaArityAndReturn(t *testing.T) {
	rt, c := newTestRuntime(t)
	var lam *Closure
	lam = c.NewClosure(func(c *Context, args []Value) (Value, error) {
		return nil, c.Return(lam, "early")
	}, FixedArity(1), ClosureLambda)

	v, err := c.Yield(lam, int64(1))
	if err != nil || v != "early" {
		t.Errorf("lambda return = %v, %v", v, err)
	}
	_, err = c.Yield(lam)
	expectException(t, err, rt.Core.ArgumentError)

	// Procs are lenient about arity.
	proc := c.NewClosure(func(c *Context, args []Value) (Value, error) {
		return int64(len(args)), nil
	}, FixedArity(1), ClosureProc)
	if v, err := c.Yield(proc, int64(1), int64(2), int64(3)); err != nil || v != int64(3) {
		t.Errorf("proc = %v, %v", v, err)
	}
}

func TestProcReturnUnwindsToHomeMethod(t *testing.T) {
	rt, c := newTestRuntime(t)
	k := mustClass(t, rt, "Finder", nil)
	rt.DefineNative(k, "each", NewNative("each", func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		for i := int64(1); i <= 5; i++ {
			if _, err := c.Yield(blk, i); err != nil {
				return nil, err
			}
		}
		return "exhausted", nil
	}), RestArity(0), Public)
	rt.DefineNative(k, "find_three", NewNative("find_three", func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		var b *Closure
		b = c.NewClosure(func(c *Context, args []Value) (Value, error) {
			if args[0] == int64(3) {
				return nil, c.Return(b, args[0])
			}
			return nil, nil
		}, FixedArity(1), 0)
		if _, err := c.SendBlock(self, "each", b); err != nil {
			return nil, err
		}
		return "not found", nil
	}), RestArity(0), Public)

	obj := rt.NewObject(k)
	if got := mustSend(t, c, obj, "find_three"); got != int64(3) {
		t.Errorf("find_three = %v, want 3", got)
	}
	if c.Depth() != 0 {
		t.Errorf("depth after return = %d", c.Depth())
	}
}

func TestBreakReturnsFromCallee(t *testing.T) {
	rt, c := newTestRuntime(t)
	k := mustClass(t, rt, "Loop", nil)
	rt.DefineNative(k, "forever", NewNative("forever", func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		for {
			if _, err := c.Yield(blk); err != nil {
				return nil, err
			}
		}
	}), RestArity(0), Public)

	n := 0
	var blk *Closure
	blk = c.NewClosure(func(c *Context, args []Value) (Value, error) {
		n++
		if n == 4 {
			return nil, c.Break(blk, "stopped")
		}
		return nil, nil
	}, RestArity(0), 0)

	v, err := c.SendBlock(rt.NewObject(k), "forever", blk)
	if err != nil || v != "stopped" {
		t.Errorf("forever = %v, %v", v, err)
	}
}

func TestEscapedSignalsBecomeErrors(t *testing.T) {
	rt, c := newTestRuntime(t)
	blk := c.NewClosure(nil, Arity{}, 0)

	_, err := c.Run(context.Background(), func(c *Context) (Value, error) {
		return nil, c.Break(blk, nil)
	})
	expectException(t, err, rt.Core.LocalJumpError)

	_, err = c.Run(context.Background(), func(c *Context) (Value, error) {
		return nil, c.Return(blk, nil)
	})
	expectException(t, err, rt.Core.LocalJumpError)
}
