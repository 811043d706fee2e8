package compiler

import (
	"errors"
	"sync"
	"testing"

	"github.com/chazu/roxor/vm"
)

func newRuntime(t *testing.T, opts vm.Options) (*vm.Runtime, *vm.Context, *Producer) {
	t.Helper()
	p := NewProducer(nil)
	opts.Producer = p
	rt := vm.New(opts)
	c := rt.NewContext()
	t.Cleanup(c.Close)
	return rt, c, p
}

func defineClass(t *testing.T, rt *vm.Runtime, name string, super *vm.Class) *vm.Class {
	t.Helper()
	k, err := rt.DefineClass(name, super, nil)
	if err != nil {
		t.Fatalf("DefineClass(%s): %v", name, err)
	}
	return k
}

func mustSend(t *testing.T, c *vm.Context, recv vm.Value, sel string, args ...vm.Value) vm.Value {
	t.Helper()
	v, err := c.Send(recv, sel, args...)
	if err != nil {
		t.Fatalf("%s.%s: %v", vm.Inspect(recv), sel, err)
	}
	return v
}

func exceptionOf(t *testing.T, rt *vm.Runtime, err error, class *vm.Class) *vm.Exception {
	t.Helper()
	var ex *vm.Exception
	if !errors.As(err, &ex) {
		t.Fatalf("error = %v, want %s", err, class.Name())
	}
	if !rt.Inherits(ex.Class(), class) {
		t.Fatalf("exception = %v, want %s", ex, class.Name())
	}
	return ex
}

func TestSubclassOverride(t *testing.T) {
	rt, c, _ := newRuntime(t, vm.Options{})
	animal := defineClass(t, rt, "Animal", nil)
	dog := defineClass(t, rt, "Dog", animal)
	rt.DefineMethod(animal, "speak", `lit "..."`, vm.Public)
	rt.DefineMethod(animal, "describe", "self\nsend speak 0\nlit \"!\"\nconcat 2", vm.Public)
	rt.DefineMethod(dog, "speak", `lit "Woof"`, vm.Public)

	if got := mustSend(t, c, rt.NewObject(dog), "describe"); got != "Woof!" {
		t.Errorf("Dog#describe = %v, want Woof!", got)
	}
	if got := mustSend(t, c, rt.NewObject(animal), "describe"); got != "...!" {
		t.Errorf("Animal#describe = %v, want ...!", got)
	}
}

func TestSuperAndArgs(t *testing.T) {
	rt, c, _ := newRuntime(t, vm.Options{})
	base := defineClass(t, rt, "Base", nil)
	sub := defineClass(t, rt, "Sub", base)
	rt.DefineMethod(base, "add", "params a b\narg a\narg b\nsend + 1", vm.Public)
	rt.DefineMethod(sub, "add", "params a b\narg a\narg b\nsuper 2\nlit 100\nsend * 1", vm.Public)

	if got := mustSend(t, c, rt.NewObject(sub), "add", int64(1), int64(2)); got != int64(300) {
		t.Errorf("Sub#add = %v, want 300", got)
	}
	_, err := c.Send(rt.NewObject(sub), "add", int64(1))
	exceptionOf(t, rt, err, rt.Core.ArgumentError)
}

func TestRestArgs(t *testing.T) {
	rt, c, _ := newRuntime(t, vm.Options{})
	k := defineClass(t, rt, "Varargs", nil)
	rt.DefineMethod(k, "count", "params first *rest\narg rest", vm.Public)

	got := mustSend(t, c, rt.NewObject(k), "count", int64(1), int64(2), int64(3))
	rest, ok := got.([]vm.Value)
	if !ok || len(rest) != 2 || rest[0] != int64(2) {
		t.Errorf("rest = %#v", got)
	}
}

func TestInstanceVariables(t *testing.T) {
	rt, c, _ := newRuntime(t, vm.Options{})
	k := defineClass(t, rt, "Account", nil)
	rt.DefineMethod(k, "initialize", "params amount\narg amount\nsetivar @balance", vm.Public)
	rt.DefineMethod(k, "balance", "ivar @balance", vm.Public)
	rt.DefineMethod(k, "deposit", "params n\nivar @balance\narg n\nsend + 1\nsetivar @balance", vm.Public)

	acct := mustSend(t, c, k, "new", int64(10))
	mustSend(t, c, acct, "deposit", int64(5))
	if got := mustSend(t, c, acct, "balance"); got != int64(15) {
		t.Errorf("balance = %v, want 15", got)
	}
	if rt.IvarSlot(k, "@balance") != 0 {
		t.Errorf("@balance slot = %d", rt.IvarSlot(k, "@balance"))
	}
}

func TestConstantsResolveFromOwner(t *testing.T) {
	rt, c, _ := newRuntime(t, vm.Options{})
	outer, err := rt.DefineModule("Shapes", nil)
	if err != nil {
		t.Fatal(err)
	}
	k, err := rt.DefineClass("Square", nil, outer)
	if err != nil {
		t.Fatal(err)
	}
	rt.SetConstant(outer, "SIDES", int64(4))
	rt.DefineMethod(k, "sides", "const SIDES", vm.Public)
	rt.DefineMethod(k.Metaclass(), "sides", "const SIDES", vm.Public)
	rt.DefineMethod(k, "missing", "const NOPE", vm.Public)

	if got := mustSend(t, c, rt.NewObject(k), "sides"); got != int64(4) {
		t.Errorf("Square#sides = %v", got)
	}
	if got := mustSend(t, c, k, "sides"); got != int64(4) {
		t.Errorf("Square.sides = %v", got)
	}
	_, err = c.Send(rt.NewObject(k), "missing")
	exceptionOf(t, rt, err, rt.Core.NameError)
}

func TestRaiseAndThrow(t *testing.T) {
	rt, c, _ := newRuntime(t, vm.Options{})
	k := defineClass(t, rt, "Flow", nil)
	rt.DefineMethod(k, "fail", `raise ArgumentError "no good"`, vm.Public)
	rt.DefineMethod(k, "finish", "lit :done\nlit 42\nthrow", vm.Public)
	rt.DefineMethod(k, "bad_raise", "raise Kernel", vm.Public)
	obj := rt.NewObject(k)

	_, err := c.Send(obj, "fail")
	ex := exceptionOf(t, rt, err, rt.Core.ArgumentError)
	if ex.Message != "no good" {
		t.Errorf("message = %q", ex.Message)
	}

	v, err := c.Catch(vm.Symbol("done"), func(vm.Value) (vm.Value, error) {
		return c.Send(obj, "finish")
	})
	if err != nil || v != int64(42) {
		t.Errorf("catch(:done) { finish } = %v, %v", v, err)
	}

	_, err = c.Send(obj, "bad_raise")
	exceptionOf(t, rt, err, rt.Core.TypeError)
}

func TestYieldAndFunctionalSend(t *testing.T) {
	rt, c, _ := newRuntime(t, vm.Options{})
	k := defineClass(t, rt, "Twice", nil)
	rt.DefineMethod(k, "helper", `lit "helped"`, vm.Private)
	rt.DefineMethod(k, "twice", "params x\narg x\nyield 1\nyield 1", vm.Public)
	rt.DefineMethod(k, "run", "fsend helper 0", vm.Public)
	rt.DefineMethod(k, "leak", "self\nsend helper 0", vm.Public)
	obj := rt.NewObject(k)

	blk := c.NewClosure(func(c *vm.Context, args []vm.Value) (vm.Value, error) {
		return args[0].(int64) * 3, nil
	}, vm.FixedArity(1), 0)
	v, err := c.SendBlock(obj, "twice", blk, int64(2))
	if err != nil || v != int64(18) {
		t.Errorf("twice = %v, %v", v, err)
	}
	_, err = c.Send(obj, "twice", int64(2))
	exceptionOf(t, rt, err, rt.Core.LocalJumpError)

	if got := mustSend(t, c, obj, "run"); got != "helped" {
		t.Errorf("run = %v", got)
	}
	_, err = c.Send(obj, "leak")
	exceptionOf(t, rt, err, rt.Core.NoMethodError)
}

func TestCompileErrorSurfacesAtDispatch(t *testing.T) {
	rt, c, _ := newRuntime(t, vm.Options{CompileFailure: vm.CompilePoison})
	k := defineClass(t, rt, "Broken", nil)
	src := rt.DefineMethod(k, "oops", "jump 3", vm.Public)

	_, err := c.Send(rt.NewObject(k), "oops")
	ex := exceptionOf(t, rt, err, rt.Core.CompileError)
	var perr *ParseError
	if !errors.As(ex, &perr) || perr.Line != 1 {
		t.Errorf("cause = %v, want a line 1 parse error", ex.Err)
	}
	if src.State() != vm.SourcePoisoned {
		t.Errorf("state = %v", src.State())
	}

	err = rt.CompileMethod(k, "eager", "send", vm.Public)
	if !errors.As(err, &perr) {
		t.Errorf("CompileMethod = %v, want parse error", err)
	}
}

func TestCallSitesWarm(t *testing.T) {
	rt, c, p := newRuntime(t, vm.Options{})
	k := defineClass(t, rt, "Caller", nil)
	rt.DefineMethod(k, "one", "lit 1", vm.Public)
	rt.DefineMethod(k, "loop", "self\nsend one 0", vm.Public)
	obj := rt.NewObject(k)

	for i := 0; i < 5; i++ {
		mustSend(t, c, obj, "loop")
	}
	node, ok := rt.FindMethod(k, "loop")
	if !ok {
		t.Fatal("loop not found")
	}
	m, ok := node.Impl.(*Method)
	if !ok {
		t.Fatalf("impl = %T", node.Impl)
	}
	sites := m.Sites(rt)
	if len(sites) != 1 {
		t.Fatalf("sites = %d", len(sites))
	}
	if sites[0].State() != vm.CacheMonomorphic || sites[0].Hits() != 4 {
		t.Errorf("site state %v hits %d", sites[0].State(), sites[0].Hits())
	}
	if st := p.Cache.Stats(); st.Parses != 2 {
		t.Errorf("parses = %d, want 2", st.Parses)
	}
}

func TestConcurrentDispatchOfCompiledMethods(t *testing.T) {
	rt, _, _ := newRuntime(t, vm.Options{})
	animal := defineClass(t, rt, "Animal", nil)
	dog := defineClass(t, rt, "Dog", animal)
	rt.DefineMethod(animal, "speak", `lit "..."`, vm.Public)
	rt.DefineMethod(dog, "speak", "super\nlit \"woof \"\nconcat 2", vm.Public)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := rt.NewContext()
			defer c.Close()
			obj := rt.NewObject(dog)
			for i := 0; i < 100; i++ {
				v, err := c.Send(obj, "speak")
				if err != nil || v != "...woof " {
					t.Errorf("speak = %v, %v", v, err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
