package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Ancestry
// ---------------------------------------------------------------------------

func TestAncestryShadowRule(t *testing.T) {
	rt, c := newTestRuntime(t)

	animal := mustModule(t, rt, "Animal")
	rt.DefineMethod(animal, "speak", returns("..."), Public)

	dog := mustClass(t, rt, "Dog", nil)
	if err := rt.IncludeModule(dog, animal, false); err != nil {
		t.Fatal(err)
	}
	rt.DefineMethod(dog, "speak", returns("Woof"), Public)

	cat := mustClass(t, rt, "Cat", nil)
	if err := rt.IncludeModule(cat, animal, false); err != nil {
		t.Fatal(err)
	}

	if got := mustSend(t, c, rt.NewObject(dog), "speak"); got != "Woof" {
		t.Errorf("Dog#speak = %v, want Woof", got)
	}
	if got := mustSend(t, c, rt.NewObject(cat), "speak"); got != "..." {
		t.Errorf("Cat#speak = %v, want ...", got)
	}
}

func TestAncestorsLinearization(t *testing.T) {
	rt, _ := newTestRuntime(t)

	a := mustModule(t, rt, "A")
	b := mustModule(t, rt, "B")
	p := mustModule(t, rt, "P")
	if err := rt.IncludeModule(b, a, false); err != nil {
		t.Fatal(err)
	}
	k := mustClass(t, rt, "K", nil)
	for _, m := range []*Class{a, b} {
		if err := rt.IncludeModule(k, m, false); err != nil {
			t.Fatal(err)
		}
	}
	if err := rt.IncludeModule(k, p, true); err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, anc := range rt.Ancestors(k) {
		names = append(names, anc.Name())
	}
	got := strings.Join(names, " ")
	want := "P K B A Object Kernel BasicObject"
	if got != want {
		t.Errorf("Ancestors(K) = %q, want %q", got, want)
	}
}

func TestModuleKeepsMostDerivedPosition(t *testing.T) {
	rt, c := newTestRuntime(t)

	m := mustModule(t, rt, "Greeting")
	rt.DefineMethod(m, "hello", returns("module"), Public)

	base := mustClass(t, rt, "Base", nil)
	rt.DefineMethod(base, "hello", returns("base"), Public)
	if err := rt.IncludeModule(base, m, false); err != nil {
		t.Fatal(err)
	}
	derived := mustClass(t, rt, "Derived", base)
	if err := rt.IncludeModule(derived, m, false); err != nil {
		t.Fatal(err)
	}

	// The module sits above Derived but below Base, so it shadows Base.
	if got := mustSend(t, c, rt.NewObject(derived), "hello"); got != "module" {
		t.Errorf("Derived#hello = %v, want module", got)
	}
	count := 0
	for _, k := range rt.Ancestors(derived) {
		if k == m {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Greeting appears %d times in ancestry, want 1", count)
	}
}

func TestCyclicIncludeRejected(t *testing.T) {
	rt, _ := newTestRuntime(t)
	a := mustModule(t, rt, "A")
	b := mustModule(t, rt, "B")
	if err := rt.IncludeModule(a, b, false); err != nil {
		t.Fatal(err)
	}
	if err := rt.IncludeModule(b, a, false); err == nil {
		t.Error("expected cyclic include error")
	}
	if err := rt.IncludeModule(a, a, true); err == nil {
		t.Error("expected error including a module into itself")
	}
	k := mustClass(t, rt, "K", nil)
	if err := rt.IncludeModule(a, k, false); err == nil {
		t.Error("expected error including a class")
	}
}

// ---------------------------------------------------------------------------
// Method missing
// ---------------------------------------------------------------------------

func TestMethodMissingCalledOnceWithSelectorAndArgs(t *testing.T) {
	rt, c := newTestRuntime(t)
	ghost := mustClass(t, rt, "Ghost", nil)

	var calls [][]Value
	rt.DefineMethod(ghost, "method_missing", body(RestArity(1), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		calls = append(calls, append([]Value(nil), args...))
		return "handled", nil
	}), Public)

	got := mustSend(t, c, rt.NewObject(ghost), "boo", int64(1), "two")
	if got != "handled" {
		t.Errorf("result = %v, want handled", got)
	}
	if len(calls) != 1 {
		t.Fatalf("method_missing called %d times, want 1", len(calls))
	}
	args := calls[0]
	if len(args) != 3 || args[0] != Symbol("boo") || args[1] != int64(1) || args[2] != "two" {
		t.Errorf("method_missing args = %v, want [:boo 1 two]", args)
	}
}

func TestMethodMissingDefaultRaisesNoMethodError(t *testing.T) {
	rt, c := newTestRuntime(t)
	dog := mustClass(t, rt, "Dog", nil)

	_, err := c.Send(rt.NewObject(dog), "bark", int64(3))
	ex := expectException(t, err, rt.Core.NoMethodError)
	if !strings.Contains(ex.Message, "undefined method 'bark' for an instance of Dog") {
		t.Errorf("message = %q", ex.Message)
	}
	if ex.Name != "bark" || len(ex.Args) != 1 {
		t.Errorf("Name = %v, Args = %v", ex.Name, ex.Args)
	}
}

func TestVariableCallRaisesNameError(t *testing.T) {
	rt, c := newTestRuntime(t)
	_, err := c.Invoke(rt.TopSelf(), rt.Intern("undefined_thing"), nil, nil, CallFunctional|CallVariable)
	ex := expectException(t, err, rt.Core.NameError)
	if rt.KindOf(ex, rt.Core.NoMethodError) {
		t.Error("variable-style miss should not be a NoMethodError")
	}
	if want := "undefined local variable or method 'undefined_thing' for an instance of Object"; !strings.HasPrefix(ex.Message, want) {
		t.Errorf("message = %q, want prefix %q", ex.Message, want)
	}
}

func TestMethodMissingRecursionBounded(t *testing.T) {
	rt, c := newTestRuntimeWith(t, Options{MaxMethodMissingDepth: 8})
	loop := mustClass(t, rt, "Loop", nil)
	rt.DefineMethod(loop, "method_missing", body(RestArity(1), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return c.Send(self, "still_missing")
	}), Public)

	_, err := c.Send(rt.NewObject(loop), "missing")
	ex := expectException(t, err, rt.Core.SystemStackError)
	if !strings.HasSuffix(ex.Message, "for 'still_missing'") {
		t.Errorf("message = %q", ex.Message)
	}
	if c.Depth() != 0 {
		t.Errorf("frames left = %d, want 0", c.Depth())
	}
}

func TestMethodMissingSuperReachesRoot(t *testing.T) {
	rt, c := newTestRuntime(t)
	picky := mustClass(t, rt, "Picky", nil)
	rt.DefineMethod(picky, "method_missing", body(RestArity(1), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		if args[0] == Symbol("known") {
			return "ok", nil
		}
		return c.Super(args, blk)
	}), Public)

	obj := rt.NewObject(picky)
	if got := mustSend(t, c, obj, "known"); got != "ok" {
		t.Errorf("known = %v, want ok", got)
	}
	_, err := c.Send(obj, "unknown")
	ex := expectException(t, err, rt.Core.NoMethodError)
	if ex.Name != "unknown" {
		t.Errorf("Name = %v, want unknown", ex.Name)
	}
}

// ---------------------------------------------------------------------------
// Visibility, arity, super
// ---------------------------------------------------------------------------

func TestPrivateMethodsNeedFunctionalCall(t *testing.T) {
	rt, c := newTestRuntime(t)
	k := mustClass(t, rt, "Vault", nil)
	rt.DefineMethod(k, "secret", returns(int64(7)), Private)
	rt.DefineMethod(k, "reveal", body(FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return c.SendFunctional("secret")
	}), Public)

	obj := rt.NewObject(k)
	_, err := c.Send(obj, "secret")
	ex := expectException(t, err, rt.Core.NoMethodError)
	if !strings.Contains(ex.Message, "private method 'secret'") {
		t.Errorf("message = %q", ex.Message)
	}
	if got := mustSend(t, c, obj, "reveal"); got != int64(7) {
		t.Errorf("reveal = %v, want 7", got)
	}
}

func TestProtectedMethods(t *testing.T) {
	rt, c := newTestRuntime(t)
	acct := mustClass(t, rt, "Account", nil)
	rt.DefineMethod(acct, "balance", returns(int64(100)), Protected)
	rt.DefineMethod(acct, "compare", body(FixedArity(1), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return c.Send(args[0], "balance")
	}), Public)

	a, b := rt.NewObject(acct), rt.NewObject(acct)
	if got := mustSend(t, c, a, "compare", b); got != int64(100) {
		t.Errorf("compare = %v, want 100", got)
	}
	_, err := c.Send(b, "balance")
	ex := expectException(t, err, rt.Core.NoMethodError)
	if !strings.Contains(ex.Message, "protected method 'balance' called for an instance of Account") {
		t.Errorf("message = %q", ex.Message)
	}
}

func TestArityChecked(t *testing.T) {
	rt, c := newTestRuntime(t)
	k := mustClass(t, rt, "Adder", nil)
	rt.DefineMethod(k, "add", body(FixedArity(2), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return args[0].(int64) + args[1].(int64), nil
	}), Public)

	obj := rt.NewObject(k)
	if got := mustSend(t, c, obj, "add", int64(2), int64(3)); got != int64(5) {
		t.Errorf("add = %v, want 5", got)
	}
	_, err := c.Send(obj, "add", int64(1))
	ex := expectException(t, err, rt.Core.ArgumentError)
	if !strings.Contains(ex.Message, "given 1, expected 2") {
		t.Errorf("message = %q", ex.Message)
	}
}

func TestSuperCallsNextDefinition(t *testing.T) {
	rt, c := newTestRuntime(t)
	animal := mustClass(t, rt, "Animal", nil)
	rt.DefineMethod(animal, "speak", returns("..."), Public)

	loud := mustModule(t, rt, "Loud")
	rt.DefineMethod(loud, "speak", body(FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		v, err := c.Super(nil, nil)
		if err != nil {
			return nil, err
		}
		return strings.ToUpper(v.(string)) + "!", nil
	}), Public)

	dog := mustClass(t, rt, "Dog", animal)
	rt.DefineMethod(dog, "speak", body(FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		v, err := c.Super(nil, nil)
		if err != nil {
			return nil, err
		}
		return "woof " + v.(string), nil
	}), Public)
	if err := rt.IncludeModule(dog, loud, true); err != nil {
		t.Fatal(err)
	}

	if got := mustSend(t, c, rt.NewObject(dog), "speak"); got != "WOOF ...!" {
		t.Errorf("speak = %v, want WOOF ...!", got)
	}
}

func TestSuperWithoutDefinition(t *testing.T) {
	rt, c := newTestRuntime(t)
	k := mustClass(t, rt, "Lonely", nil)
	rt.DefineMethod(k, "only", body(FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return c.Super(nil, nil)
	}), Public)

	_, err := c.Send(rt.NewObject(k), "only")
	ex := expectException(t, err, rt.Core.NoMethodError)
	if !strings.HasPrefix(ex.Message, "super: no superclass method 'only'") {
		t.Errorf("message = %q", ex.Message)
	}
}

func TestStackDepthLimited(t *testing.T) {
	rt, c := newTestRuntimeWith(t, Options{MaxDepth: 50})
	k := mustClass(t, rt, "Deep", nil)
	rt.DefineMethod(k, "down", body(FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return c.Send(self, "down")
	}), Public)

	_, err := c.Send(rt.NewObject(k), "down")
	expectException(t, err, rt.Core.SystemStackError)
	if c.Depth() != 0 {
		t.Errorf("frames left = %d, want 0", c.Depth())
	}
}

// ---------------------------------------------------------------------------
// Singletons and metaclasses
// ---------------------------------------------------------------------------

func TestSingletonMethodsCheckedFirst(t *testing.T) {
	rt, c := newTestRuntime(t)
	k := mustClass(t, rt, "Robot", nil)
	rt.DefineMethod(k, "name", returns("robot"), Public)

	special := rt.NewObject(k)
	plain := rt.NewObject(k)
	s, err := rt.SingletonClassOf(special)
	if err != nil {
		t.Fatal(err)
	}
	rt.DefineMethod(s, "name", returns("R2"), Public)

	if got := mustSend(t, c, special, "name"); got != "R2" {
		t.Errorf("special.name = %v, want R2", got)
	}
	if got := mustSend(t, c, plain, "name"); got != "robot" {
		t.Errorf("plain.name = %v, want robot", got)
	}
	if rt.RealClassOf(special) != k {
		t.Errorf("RealClassOf = %v, want Robot", rt.RealClassOf(special))
	}
	if _, err := rt.SingletonClassOf(int64(1)); err == nil {
		t.Error("expected error creating a singleton for an integer")
	}
}

func TestClassMethodsAreInherited(t *testing.T) {
	rt, c := newTestRuntime(t)
	animal := mustClass(t, rt, "Animal", nil)
	dog := mustClass(t, rt, "Dog", animal)

	rt.DefineMethod(animal.Metaclass(), "kingdom", returns("animalia"), Public)
	if got := mustSend(t, c, dog, "kingdom"); got != "animalia" {
		t.Errorf("Dog.kingdom = %v, want animalia", got)
	}
	if got := mustSend(t, c, dog, "name"); got != "Dog" {
		t.Errorf("Dog.name = %v, want Dog", got)
	}
}

func TestNewCallsInitialize(t *testing.T) {
	rt, c := newTestRuntime(t)
	point := mustClass(t, rt, "Point", nil)
	rt.DefineAttr(point, "x", true, true)
	rt.DefineMethod(point, "initialize", body(FixedArity(1), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return c.Send(self, "x=", args[0])
	}), Public)

	p := mustSend(t, c, point, "new", int64(4))
	if got := mustSend(t, c, p, "x"); got != int64(4) {
		t.Errorf("x = %v, want 4", got)
	}
	if _, err := c.Send(p, "initialize", int64(1)); err == nil {
		t.Error("initialize should be private")
	}
}

func TestModuleFunction(t *testing.T) {
	rt, c := newTestRuntime(t)
	m := mustModule(t, rt, "Util")
	rt.DefineMethod(m, "helper", returns("help"), ModuleFunction)

	if got := mustSend(t, c, m, "helper"); got != "help" {
		t.Errorf("Util.helper = %v, want help", got)
	}
	node, ok := rt.LocalMethod(m, "helper")
	if !ok || node.Visibility != Private {
		t.Errorf("instance-side helper should be private, got %+v", node)
	}
}

func TestLazyModuleFunction(t *testing.T) {
	rt, c := newTestRuntime(t)
	m := mustModule(t, rt, "Util")
	user := mustClass(t, rt, "User", nil)
	if err := rt.IncludeModule(user, m, false); err != nil {
		t.Fatal(err)
	}
	rt.DefineLazy("helper", returns("h"), ModuleFunction, m)
	rt.DefineMethod(m, "other", returns("o"), Public)
	if err := rt.SetVisibility(m, "other", ModuleFunction); err != nil {
		t.Fatal(err)
	}

	before := rt.Stats().Compiles
	for _, sel := range []string{"helper", "other"} {
		node, ok := rt.LocalMethod(m, sel)
		if !ok || node.Visibility != Private {
			t.Errorf("instance-side %s should be private, got %+v", sel, node)
		}
		if got := mustSend(t, c, m, sel); got == nil {
			t.Errorf("Util.%s = nil", sel)
		}
		_, err := c.Send(rt.NewObject(user), sel)
		ex := expectException(t, err, rt.Core.NoMethodError)
		if !strings.Contains(ex.Message, "private method '"+sel+"'") {
			t.Errorf("message = %q", ex.Message)
		}
	}
	if got := rt.Stats().Compiles - before; got != 2 {
		t.Errorf("compiles = %d, want one per source", got)
	}
}

func TestRespondTo(t *testing.T) {
	rt, c := newTestRuntime(t)
	k := mustClass(t, rt, "Responder", nil)
	rt.DefineMethod(k, "visible", returns(nil), Public)
	rt.DefineMethod(k, "hidden", returns(nil), Private)
	rt.DefineMethod(k, "respond_to_missing?", body(FixedArity(2), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return args[0] == Symbol("dynamic"), nil
	}), Private)

	obj := rt.NewObject(k)
	tests := []struct {
		sel     string
		private bool
		want    bool
	}{
		{"visible", false, true},
		{"hidden", false, false},
		{"hidden", true, true},
		{"dynamic", false, true},
		{"nothing", false, false},
	}
	for _, tt := range tests {
		got, err := c.RespondTo(obj, tt.sel, tt.private)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("RespondTo(%s, %v) = %v, want %v", tt.sel, tt.private, got, tt.want)
		}
	}
}

func TestImmediateDispatch(t *testing.T) {
	rt, c := newTestRuntime(t)
	if got := mustSend(t, c, int64(6), "*", int64(7)); got != int64(42) {
		t.Errorf("6*7 = %v, want 42", got)
	}
	if got := mustSend(t, c, "ab", "+", "cd"); got != "abcd" {
		t.Errorf("ab+cd = %v, want abcd", got)
	}
	_, err := c.Send(int64(1), "/", int64(0))
	expectException(t, err, rt.Core.ZeroDivisionError)

	// Reopening a builtin class affects immediates.
	rt.DefineMethod(rt.Core.Integer, "double", body(FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return self.(int64) * 2, nil
	}), Public)
	if got := mustSend(t, c, int64(21), "double"); got != int64(42) {
		t.Errorf("21.double = %v, want 42", got)
	}
	if got := mustSend(t, c, nil, "nil?"); got != true {
		t.Errorf("nil.nil? = %v, want true", got)
	}
}

func TestDispatchIsSuper(t *testing.T) {
	rt, c := newTestRuntime(t)
	base := mustClass(t, rt, "Base", nil)
	rt.DefineMethod(base, "id", returns("base"), Public)
	sub := mustClass(t, rt, "Sub", base)
	rt.DefineMethod(sub, "id", body(FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return c.Dispatch(self, "id", nil, true)
	}), Public)

	if got := mustSend(t, c, rt.NewObject(sub), "id"); got != "base" {
		t.Errorf("Sub#id = %v, want base", got)
	}
	if _, err := c.Dispatch(rt.NewObject(sub), "id", nil, true); err == nil {
		t.Error("super outside a method should fail")
	}
}
