package vm

import (
	"errors"
	"fmt"
	"testing"
)

// testBody is the body form understood by testProducer: a Go function
// standing in for compiled code, or a compile error.
type testBody struct {
	arity Arity
	fn    NativeFunc
	err   error
}

func testProducer() Producer {
	return ProducerFunc(func(b Body) (Method, Arity, error) {
		tb, ok := b.(testBody)
		if !ok {
			return nil, Arity{}, fmt.Errorf("unsupported body %T", b)
		}
		if tb.err != nil {
			return nil, Arity{}, tb.err
		}
		return NewNative("test", tb.fn), tb.arity, nil
	})
}

func returns(v Value) testBody {
	return testBody{
		arity: FixedArity(0),
		fn: func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
			return v, nil
		},
	}
}

func body(arity Arity, fn NativeFunc) testBody {
	return testBody{arity: arity, fn: fn}
}

func newTestRuntime(t *testing.T) (*Runtime, *Context) {
	t.Helper()
	return newTestRuntimeWith(t, Options{})
}

func newTestRuntimeWith(t *testing.T, opts Options) (*Runtime, *Context) {
	t.Helper()
	if opts.Producer == nil {
		opts.Producer = testProducer()
	}
	rt := New(opts)
	c := rt.NewContext()
	t.Cleanup(c.Close)
	return rt, c
}

func mustClass(t *testing.T, rt *Runtime, name string, super *Class) *Class {
	t.Helper()
	k, err := rt.DefineClass(name, super, nil)
	if err != nil {
		t.Fatalf("DefineClass(%s): %v", name, err)
	}
	return k
}

func mustModule(t *testing.T, rt *Runtime, name string) *Class {
	t.Helper()
	m, err := rt.DefineModule(name, nil)
	if err != nil {
		t.Fatalf("DefineModule(%s): %v", name, err)
	}
	return m
}

func mustSend(t *testing.T, c *Context, recv Value, sel string, args ...Value) Value {
	t.Helper()
	v, err := c.Send(recv, sel, args...)
	if err != nil {
		t.Fatalf("%s.%s: %v", Inspect(recv), sel, err)
	}
	return v
}

func expectException(t *testing.T, err error, class *Class) *Exception {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got no error", class.Name())
	}
	var ex *Exception
	if !errors.As(err, &ex) {
		t.Fatalf("expected %s, got %T: %v", class.Name(), err, err)
	}
	if !ex.Class().rt.Inherits(ex.Class(), class) {
		t.Fatalf("expected %s, got %s", class.Name(), ex)
	}
	return ex
}

func expectFatal(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatal("expected fatal panic")
		}
		if _, ok := r.(*FatalError); !ok {
			t.Fatalf("expected *FatalError panic, got %T: %v", r, r)
		}
	}()
	fn()
}
