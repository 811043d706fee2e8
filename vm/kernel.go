package vm

import "fmt"

// installKernel defines the natives every runtime starts with: the root
// method_missing and respond_to_missing?, instantiation, reflection and
// the arithmetic and comparison operators of the immediate classes.
func (rt *Runtime) installKernel() {
	core := &rt.Core
	def := func(k *Class, name string, arity Arity, fn NativeFunc) {
		rt.DefineNative(k, name, NewNative(name, fn), arity, Public)
	}
	private := func(k *Class, name string, arity Arity, fn NativeFunc) {
		rt.DefineNative(k, name, NewNative(name, fn), arity, Private)
	}

	// BasicObject
	private(core.BasicObject, "method_missing", RestArity(1), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		name, ok := args[0].(Symbol)
		if !ok {
			return nil, c.Raise(core.ArgumentError, "no method name given")
		}
		return nil, c.noMethodError(self, name, args[1:], c.mmReason)
	})
	private(core.BasicObject, "respond_to_missing?", FixedArity(2), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return false, nil
	})
	private(core.BasicObject, "initialize", RestArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return nil, nil
	})
	def(core.BasicObject, "==", FixedArity(1), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return Identical(self, args[0]), nil
	})
	def(core.BasicObject, "equal?", FixedArity(1), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return Identical(self, args[0]), nil
	})
	def(core.BasicObject, "!", FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return !Truthy(self), nil
	})
	def(core.BasicObject, "__send__", RestArity(1), sendNative(CallFunctional))
	def(core.BasicObject, "instance_variable_get", FixedArity(1), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return rt.IvarGet(self, ToS(args[0])), nil
	})
	def(core.BasicObject, "instance_variable_set", FixedArity(2), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		if err := rt.IvarSet(self, ToS(args[0]), args[1]); err != nil {
			return nil, c.normalize(err)
		}
		return args[1], nil
	})

	// Kernel
	def(core.Kernel, "class", FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return rt.RealClassOf(self), nil
	})
	def(core.Kernel, "singleton_class", FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		k, err := rt.SingletonClassOf(self)
		if err != nil {
			return nil, c.normalize(err)
		}
		return k, nil
	})
	def(core.Kernel, "inspect", FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return Inspect(self), nil
	})
	def(core.Kernel, "to_s", FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return ToS(self), nil
	})
	def(core.Kernel, "nil?", FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return self == nil, nil
	})
	kindOf := func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		k, ok := args[0].(*Class)
		if !ok {
			return nil, c.Raise(core.TypeError, "class or module required")
		}
		return rt.KindOf(self, k), nil
	}
	def(core.Kernel, "kind_of?", FixedArity(1), kindOf)
	def(core.Kernel, "is_a?", FixedArity(1), kindOf)
	def(core.Kernel, "instance_of?", FixedArity(1), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return rt.RealClassOf(self) == args[0], nil
	})
	def(core.Kernel, "respond_to?", Arity{Min: 1, Max: 2, LeftReq: 1, Real: 2}, func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		includePrivate := len(args) > 1 && Truthy(args[1])
		return c.RespondTo(self, ToS(args[0]), includePrivate)
	})
	def(core.Kernel, "send", RestArity(1), sendNative(CallFunctional))
	def(core.Kernel, "public_send", RestArity(1), sendNative(0))
	private(core.Kernel, "raise", Arity{Min: 0, Max: 2, LeftReq: 0, Real: 2}, func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return nil, c.raiseFrom(args)
	})
	private(core.Kernel, "throw", Arity{Min: 1, Max: 2, LeftReq: 1, Real: 2}, func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		var v Value
		if len(args) > 1 {
			v = args[1]
		}
		return nil, c.Throw(args[0], v)
	})
	private(core.Kernel, "catch", Arity{Min: 0, Max: 1, LeftReq: 0, Real: 1}, func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		if blk == nil {
			return nil, c.Raise(core.LocalJumpError, "no block given")
		}
		var tag Value
		if len(args) > 0 {
			tag = args[0]
		}
		return c.Catch(tag, func(tag Value) (Value, error) {
			return c.Yield(blk, tag)
		})
	})
	private(core.Kernel, "block_given?", FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		// The frame below this native's own frame is the caller.
		if n := len(c.frames); n >= 2 {
			return c.frames[n-2].Block != nil, nil
		}
		return false, nil
	})

	// Module and Class
	defModule := func(k *Class, name string, arity Arity, fn moduleNative) {
		def(k, name, arity, func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
			mod, ok := self.(*Class)
			if !ok {
				return nil, c.Raisef(core.TypeError, "%s is not a class or module", Inspect(self))
			}
			return fn(c, mod, args, blk)
		})
	}
	defModule(core.Module, "name", FixedArity(0), func(c *Context, self *Class, args []Value, blk *Closure) (Value, error) {
		return self.name, nil
	})
	defModule(core.Module, "to_s", FixedArity(0), func(c *Context, self *Class, args []Value, blk *Closure) (Value, error) {
		return self.name, nil
	})
	defModule(core.Module, "===", FixedArity(1), func(c *Context, self *Class, args []Value, blk *Closure) (Value, error) {
		return rt.KindOf(args[0], self), nil
	})
	mixin := func(prepend bool) moduleNative {
		return func(c *Context, self *Class, args []Value, blk *Closure) (Value, error) {
			for _, a := range args {
				m, ok := a.(*Class)
				if !ok {
					return nil, c.Raise(core.TypeError, "wrong argument type (expected Module)")
				}
				if err := rt.IncludeModule(self, m, prepend); err != nil {
					return nil, c.Raise(core.ArgumentError, err.Error())
				}
			}
			return self, nil
		}
	}
	defModule(core.Module, "include", RestArity(1), mixin(false))
	defModule(core.Module, "prepend", RestArity(1), mixin(true))
	defModule(core.Module, "const_get", FixedArity(1), func(c *Context, self *Class, args []Value, blk *Closure) (Value, error) {
		v, ok := rt.ResolveConstant([]*Class{self}, ToS(args[0]))
		if !ok {
			return nil, c.Raisef(core.NameError, "uninitialized constant %s::%s", self.name, ToS(args[0]))
		}
		return v, nil
	})
	defModule(core.Module, "const_set", FixedArity(2), func(c *Context, self *Class, args []Value, blk *Closure) (Value, error) {
		rt.SetConstant(self, ToS(args[0]), args[1])
		return args[1], nil
	})
	defModule(core.Module, "method_defined?", FixedArity(1), func(c *Context, self *Class, args []Value, blk *Closure) (Value, error) {
		node, ok := rt.FindMethod(self, ToS(args[0]))
		return ok && node.Visibility != Private, nil
	})
	defModule(core.Module, "define_method", FixedArity(1), func(c *Context, self *Class, args []Value, blk *Closure) (Value, error) {
		if blk == nil {
			return nil, c.Raise(core.ArgumentError, "tried to create Proc object without a block")
		}
		name := ToS(args[0])
		body := *blk
		body.Flags |= ClosureLambda | ClosureMethod
		m := NewNative(name, func(c *Context, self Value, args []Value, _ *Closure) (Value, error) {
			return c.Yield(&body, args...)
		})
		rt.DefineNative(self, name, m, blk.Arity, c.scopeFor(self))
		return Symbol(name), nil
	})
	defModule(core.Module, "alias_method", FixedArity(2), func(c *Context, self *Class, args []Value, blk *Closure) (Value, error) {
		if err := rt.AliasMethod(self, ToS(args[0]), ToS(args[1])); err != nil {
			return nil, c.Raise(core.NameError, err.Error())
		}
		return Symbol(ToS(args[0])), nil
	})
	defModule(core.Module, "undef_method", RestArity(0), func(c *Context, self *Class, args []Value, blk *Closure) (Value, error) {
		for _, a := range args {
			if err := rt.UndefineMethod(self, ToS(a)); err != nil {
				return nil, c.Raise(core.NameError, err.Error())
			}
		}
		return self, nil
	})
	defModule(core.Module, "remove_method", RestArity(0), func(c *Context, self *Class, args []Value, blk *Closure) (Value, error) {
		for _, a := range args {
			if err := rt.RemoveMethod(self, ToS(a)); err != nil {
				return nil, c.Raise(core.NameError, err.Error())
			}
		}
		return self, nil
	})
	for _, vis := range []Visibility{Public, Private, Protected, ModuleFunction} {
		defModule(core.Module, vis.String(), RestArity(0), func(c *Context, self *Class, args []Value, blk *Closure) (Value, error) {
			if len(args) == 0 {
				c.setScope(self, vis)
				return nil, nil
			}
			for _, a := range args {
				if err := rt.SetVisibility(self, ToS(a), vis); err != nil {
					return nil, c.Raise(core.NameError, err.Error())
				}
			}
			return nil, nil
		})
	}
	defModule(core.Class, "allocate", FixedArity(0), func(c *Context, self *Class, args []Value, blk *Closure) (Value, error) {
		obj, err := rt.allocate(self)
		if err != nil {
			return nil, c.Raise(core.TypeError, err.Error())
		}
		return obj, nil
	})
	defModule(core.Class, "new", RestArity(0), func(c *Context, self *Class, args []Value, blk *Closure) (Value, error) {
		obj, err := rt.allocate(self)
		if err != nil {
			return nil, c.Raise(core.TypeError, err.Error())
		}
		if _, err := c.invoke(obj, rt.selInitialize, args, blk, CallFunctional, nil); err != nil {
			return nil, err
		}
		return obj, nil
	})
	defModule(core.Class, "superclass", FixedArity(0), func(c *Context, self *Class, args []Value, blk *Closure) (Value, error) {
		if s := self.Superclass(); s != nil {
			return s, nil
		}
		return nil, nil
	})

	// Exception
	private(core.Exception, "initialize", Arity{Min: 0, Max: 1, LeftReq: 0, Real: 1}, func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		if len(args) > 0 && args[0] != nil {
			self.(*Exception).Message = ToS(args[0])
		}
		return nil, nil
	})
	def(core.Exception, "message", FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return self.(*Exception).Message, nil
	})
	def(core.Exception, "cause", FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		if cause := self.(*Exception).Cause; cause != nil {
			return cause, nil
		}
		return nil, nil
	})

	// Proc
	call := func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return c.Yield(self.(*Closure), args...)
	}
	def(core.Proc, "call", RestArity(0), call)
	def(core.Proc, "yield", RestArity(0), call)
	def(core.Proc, "lambda?", FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return self.(*Closure).IsLambda(), nil
	})

	// Immediates
	def(core.NilClass, "to_s", FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return "", nil
	})
	def(core.String, "+", FixedArity(1), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		s, ok := args[0].(string)
		if !ok {
			return nil, c.Raisef(core.TypeError, "no implicit conversion of %s into String", rt.RealClassOf(args[0]).name)
		}
		return self.(string) + s, nil
	})
	def(core.String, "length", FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return int64(len([]rune(self.(string)))), nil
	})
	def(core.String, "to_sym", FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return Symbol(self.(string)), nil
	})
	def(core.Symbol, "to_sym", FixedArity(0), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		return self, nil
	})
	for _, k := range []*Class{core.String, core.Symbol, core.Integer, core.Float} {
		def(k, "==", FixedArity(1), func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
			if a, b, ok := numericPair(self, args[0]); ok {
				return a == b, nil
			}
			return self == args[0], nil
		})
	}
	for _, op := range []string{"+", "-", "*", "/", "%", "<", ">", "<=", ">="} {
		fn := func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
			return arith(c, op, self, args[0])
		}
		def(core.Integer, op, FixedArity(1), fn)
		if op != "%" {
			def(core.Float, op, FixedArity(1), fn)
		}
	}
}

func sendNative(flags CallFlags) NativeFunc {
	return func(c *Context, self Value, args []Value, blk *Closure) (Value, error) {
		sel := c.rt.selectors.Intern(ToS(args[0]))
		return c.invoke(self, sel, args[1:], blk, flags, nil)
	}
}

// moduleNative is a native whose receiver is a class or module.
type moduleNative func(c *Context, self *Class, args []Value, blk *Closure) (Value, error)

// allocate makes an uninitialized instance of k. Classes whose instances
// are not plain objects (classes, modules, procs and the immediates) have
// no allocator.
func (rt *Runtime) allocate(k *Class) (Value, error) {
	core := &rt.Core
	switch {
	case k.IsModule():
		return nil, fmt.Errorf("can't instantiate module %s", k.name)
	case k.IsSingleton():
		return nil, fmt.Errorf("can't create instance of singleton class")
	case rt.Inherits(k, core.Exception):
		return rt.NewException(k, ""), nil
	}
	for _, special := range []*Class{core.Module, core.Proc, core.NilClass, core.TrueClass, core.FalseClass, core.Integer, core.Float, core.String, core.Symbol} {
		if rt.Inherits(k, special) {
			return nil, fmt.Errorf("allocator undefined for %s", k.name)
		}
	}
	return rt.NewObject(k), nil
}

// raiseFrom implements Kernel#raise: no arguments re-raises, a string
// raises RuntimeError, a class is instantiated with the optional message
// and an exception is raised as is.
func (c *Context) raiseFrom(args []Value) error {
	if len(args) == 0 {
		return c.Reraise()
	}
	switch x := args[0].(type) {
	case string:
		return c.Raise(c.rt.Core.RuntimeError, x)
	case *Exception:
		if len(args) > 1 {
			x.Message = ToS(args[1])
		}
		return c.RaiseException(x)
	case *Class:
		newArgs := args[1:]
		v, err := c.Send(x, "new", newArgs...)
		if err != nil {
			return err
		}
		ex, ok := v.(*Exception)
		if !ok {
			return c.Raise(c.rt.Core.TypeError, "exception class/object expected")
		}
		return c.RaiseException(ex)
	}
	return c.Raise(c.rt.Core.TypeError, "exception class/object expected")
}

func numericPair(a, b Value) (float64, float64, bool) {
	x, ok1 := toFloat(a)
	y, ok2 := toFloat(b)
	return x, y, ok1 && ok2
}

func toFloat(v Value) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toInt(v Value) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

func arith(c *Context, op string, a, b Value) (Value, error) {
	core := &c.rt.Core
	x, xi := toInt(a)
	y, yi := toInt(b)
	if xi && yi {
		switch op {
		case "+":
			return x + y, nil
		case "-":
			return x - y, nil
		case "*":
			return x * y, nil
		case "/", "%":
			if y == 0 {
				return nil, c.Raise(core.ZeroDivisionError, "divided by 0")
			}
			if op == "/" {
				return x / y, nil
			}
			return x % y, nil
		case "<":
			return x < y, nil
		case ">":
			return x > y, nil
		case "<=":
			return x <= y, nil
		case ">=":
			return x >= y, nil
		}
	}
	f, g, ok := numericPair(a, b)
	if !ok {
		return nil, c.Raisef(core.TypeError, "%s can't be coerced into %s", c.rt.RealClassOf(b).name, c.rt.RealClassOf(a).name)
	}
	switch op {
	case "+":
		return f + g, nil
	case "-":
		return f - g, nil
	case "*":
		return f * g, nil
	case "/":
		return f / g, nil
	case "<":
		return f < g, nil
	case ">":
		return f > g, nil
	case "<=":
		return f <= g, nil
	case ">=":
		return f >= g, nil
	}
	return nil, c.Raisef(core.NoMethodError, "undefined method '%s' for %s", op, c.rt.describe(a))
}
