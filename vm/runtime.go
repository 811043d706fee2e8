package vm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// CompilePolicy decides what happens to a lazy method source whose
// compilation failed.
type CompilePolicy uint8

const (
	// CompileRetry leaves the source pending; the next call compiles again.
	CompileRetry CompilePolicy = iota
	// CompilePoison remembers the failure and returns it on every later
	// call without recompiling.
	CompilePoison
)

func (p CompilePolicy) String() string {
	if p == CompilePoison {
		return "poison"
	}
	return "retry"
}

// ParseCompilePolicy maps "retry" or "poison" to a policy.
func ParseCompilePolicy(s string) (CompilePolicy, error) {
	switch s {
	case "", "retry":
		return CompileRetry, nil
	case "poison":
		return CompilePoison, nil
	}
	return CompileRetry, fmt.Errorf("unknown compile failure policy %q", s)
}

// Options configures a Runtime.
type Options struct {
	Producer Producer
	Bridge   Bridge

	// MaxDepth bounds method activation depth per context.
	MaxDepth int

	// MaxMethodMissingDepth bounds nested method_missing fallbacks.
	MaxMethodMissingDepth int

	CompileFailure CompilePolicy

	// InlineCacheEntries bounds polymorphic call-site caches.
	InlineCacheEntries int

	NormalizeSelectors bool

	// AbortOnException makes an unhandled exception escaping a context's
	// Run panic instead of being returned.
	AbortOnException bool
}

// DefaultOptions returns the settings used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		MaxDepth:              10000,
		MaxMethodMissingDepth: 64,
		CompileFailure:        CompileRetry,
		InlineCacheEntries:    MaxPICEntries,
		NormalizeSelectors:    true,
	}
}

// CoreClasses holds the classes every runtime bootstraps.
type CoreClasses struct {
	BasicObject *Class
	Object      *Class
	Module      *Class
	Class       *Class
	Kernel      *Class
	Comparable  *Class

	NilClass   *Class
	TrueClass  *Class
	FalseClass *Class
	Integer    *Class
	Float      *Class
	String     *Class
	Symbol     *Class
	Proc       *Class

	Exception           *Class
	ScriptError         *Class
	CompileError        *Class
	NotImplementedError *Class
	StandardError       *Class
	ArgumentError       *Class
	UncaughtThrowError  *Class
	NameError           *Class
	NoMethodError       *Class
	RuntimeError        *Class
	TypeError           *Class
	LocalJumpError      *Class
	ZeroDivisionError   *Class
	SystemStackError    *Class
	SignalException     *Class
	Interrupt           *Class
}

// Runtime is the state shared by every execution context: the class arena,
// method and constant caches, slot tables, outer records and lazy method
// sources. Writes are serialized by one mutation lock; cache reads are
// lock-free.
type Runtime struct {
	opts Options

	mu sync.Mutex

	arenaMu sync.RWMutex
	arena   []*Class

	selectors *SelectorTable

	cache      sync.Map // cacheKey -> *CacheEntry
	consts     sync.Map // string -> *constEntry
	constEpoch atomic.Uint64
	globalGen  atomic.Uint64

	sources map[Selector]map[ClassID]*MethodSource

	threadsMu sync.Mutex
	threads   map[uuid.UUID]*Context

	bridges *GoBridge

	Core    CoreClasses
	topSelf *Object
	stats   Stats

	selMethodMissing Selector
	selInitialize    Selector
	selRespondMiss   Selector
}

// New constructs a runtime and bootstraps the core classes.
func New(opts Options) *Runtime {
	def := DefaultOptions()
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = def.MaxDepth
	}
	if opts.MaxMethodMissingDepth <= 0 {
		opts.MaxMethodMissingDepth = def.MaxMethodMissingDepth
	}
	if opts.InlineCacheEntries <= 0 || opts.InlineCacheEntries > MaxPICEntries {
		opts.InlineCacheEntries = def.InlineCacheEntries
	}

	rt := &Runtime{
		opts:      opts,
		arena:     []*Class{nil},
		selectors: NewSelectorTable(opts.NormalizeSelectors),
		sources:   make(map[Selector]map[ClassID]*MethodSource),
		threads:   make(map[uuid.UUID]*Context),
		bridges:   NewGoBridge(),
	}
	if rt.opts.Bridge == nil {
		rt.opts.Bridge = rt.bridges
	}
	rt.selMethodMissing = rt.selectors.Intern("method_missing")
	rt.selInitialize = rt.selectors.Intern("initialize")
	rt.selRespondMiss = rt.selectors.Intern("respond_to_missing?")

	rt.mu.Lock()
	rt.bootstrap()
	rt.mu.Unlock()

	rt.topSelf = rt.NewObject(rt.Core.Object)
	rt.installKernel()
	log().Infof("runtime ready: %d classes, compile failure policy %s", len(rt.arena)-1, opts.CompileFailure)
	return rt
}

// Options returns the options the runtime was built with.
func (rt *Runtime) Options() Options { return rt.opts }

// Selectors exposes the runtime's selector table.
func (rt *Runtime) Selectors() *SelectorTable { return rt.selectors }

// Intern returns the selector for a method name.
func (rt *Runtime) Intern(name string) Selector { return rt.selectors.Intern(name) }

// TopSelf returns the object top-level code runs as.
func (rt *Runtime) TopSelf() *Object { return rt.topSelf }

// bootstrap builds the root hierarchy. Caller holds rt.mu.
func (rt *Runtime) bootstrap() {
	c := &rt.Core
	c.BasicObject = rt.allocClass("BasicObject", 0, nil)
	c.Object = rt.allocClass("Object", 0, c.BasicObject)
	c.Module = rt.allocClass("Module", 0, c.Object)
	c.Class = rt.allocClass("Class", 0, c.Module)

	// Metaclasses can only be built once Class exists.
	for _, k := range []*Class{c.BasicObject, c.Object, c.Module, c.Class} {
		rt.attachMetaclass(k)
	}

	c.Kernel = rt.bootModule("Kernel")
	c.Comparable = rt.bootModule("Comparable")
	c.Object.includes = append(c.Object.includes, c.Kernel.id)

	sub := func(name string, super *Class) *Class {
		k := rt.allocClass(name, 0, super)
		rt.attachMetaclass(k)
		c.Object.consts[name] = k
		return k
	}
	for _, k := range []*Class{c.BasicObject, c.Object, c.Module, c.Class} {
		c.Object.consts[k.name] = k
	}

	c.NilClass = sub("NilClass", c.Object)
	c.TrueClass = sub("TrueClass", c.Object)
	c.FalseClass = sub("FalseClass", c.Object)
	c.Integer = sub("Integer", c.Object)
	c.Float = sub("Float", c.Object)
	c.String = sub("String", c.Object)
	c.Symbol = sub("Symbol", c.Object)
	c.Proc = sub("Proc", c.Object)
	c.Integer.includes = append(c.Integer.includes, c.Comparable.id)
	c.Float.includes = append(c.Float.includes, c.Comparable.id)
	c.String.includes = append(c.String.includes, c.Comparable.id)

	c.Exception = sub("Exception", c.Object)
	c.ScriptError = sub("ScriptError", c.Exception)
	c.CompileError = sub("CompileError", c.ScriptError)
	c.NotImplementedError = sub("NotImplementedError", c.ScriptError)
	c.StandardError = sub("StandardError", c.Exception)
	c.ArgumentError = sub("ArgumentError", c.StandardError)
	c.UncaughtThrowError = sub("UncaughtThrowError", c.ArgumentError)
	c.NameError = sub("NameError", c.StandardError)
	c.NoMethodError = sub("NoMethodError", c.NameError)
	c.RuntimeError = sub("RuntimeError", c.StandardError)
	c.TypeError = sub("TypeError", c.StandardError)
	c.LocalJumpError = sub("LocalJumpError", c.StandardError)
	c.ZeroDivisionError = sub("ZeroDivisionError", c.StandardError)
	c.SystemStackError = sub("SystemStackError", c.Exception)
	c.SignalException = sub("SignalException", c.Exception)
	c.Interrupt = sub("Interrupt", c.SignalException)
}

func (rt *Runtime) bootModule(name string) *Class {
	m := rt.allocClass(name, FlagModule, nil)
	rt.attachMetaclass(m)
	rt.Core.Object.consts[name] = m
	return m
}

// attachMetaclass creates the metaclass of k. The metaclass of a class
// inherits from the metaclass of its superclass so class methods are
// inherited; root classes and modules hang off Class and Module.
func (rt *Runtime) attachMetaclass(k *Class) *Class {
	var super *Class
	switch {
	case k.IsModule():
		super = rt.Core.Module
	case k.IsSingleton():
		super = rt.Core.Class
	case k.super != 0:
		super = rt.classAt(k.super).meta.Load()
	default:
		super = rt.Core.Class
	}
	m := rt.allocClass("#<Class:"+k.name+">", FlagMetaclass, super)
	m.attached = k
	k.meta.Store(m)
	return m
}

// ---------------------------------------------------------------------------
// Class creation
// ---------------------------------------------------------------------------

// NewClass creates an anonymous-scope class without registering a constant.
// A nil super means Object.
func (rt *Runtime) NewClass(name string, super *Class) (*Class, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.newClassLocked(name, super)
}

func (rt *Runtime) newClassLocked(name string, super *Class) (*Class, error) {
	if super == nil {
		super = rt.Core.Object
	}
	if super.IsModule() || super.IsSingleton() {
		return nil, fmt.Errorf("%w of %s", ErrFinalClass, super.name)
	}
	k := rt.allocClass(name, 0, super)
	rt.attachMetaclass(k)
	log().Debugf("class %s < %s", name, super.name)
	return k, nil
}

// DefineClass opens the class name inside outer (Object when nil), creating
// it if needed. Reopening with a different superclass is an error.
func (rt *Runtime) DefineClass(name string, super *Class, outer *Class) (*Class, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	scope := outer
	if scope == nil {
		scope = rt.Core.Object
	}
	if existing, ok := scope.consts[name]; ok {
		k, isClass := existing.(*Class)
		if !isClass || k.IsModule() {
			return nil, fmt.Errorf("%s is not a class", name)
		}
		if super != nil && k.super != super.id {
			return nil, fmt.Errorf("superclass mismatch for class %s", name)
		}
		return k, nil
	}

	k, err := rt.newClassLocked(rt.qualify(name, outer), super)
	if err != nil {
		return nil, err
	}
	rt.bindConstLocked(scope, name, k)
	if outer != nil {
		rt.setOuterLocked(k, outer)
	}
	return k, nil
}

// DefineModule opens the module name inside outer (Object when nil).
func (rt *Runtime) DefineModule(name string, outer *Class) (*Class, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	scope := outer
	if scope == nil {
		scope = rt.Core.Object
	}
	if existing, ok := scope.consts[name]; ok {
		if m, isMod := existing.(*Class); isMod && m.IsModule() {
			return m, nil
		}
		return nil, fmt.Errorf("%s is not a module", name)
	}

	m := rt.allocClass(rt.qualify(name, outer), FlagModule, nil)
	rt.attachMetaclass(m)
	rt.bindConstLocked(scope, name, m)
	if outer != nil {
		rt.setOuterLocked(m, outer)
	}
	log().Debugf("module %s", m.name)
	return m, nil
}

func (rt *Runtime) qualify(name string, outer *Class) string {
	if outer == nil || outer == rt.Core.Object {
		return name
	}
	return outer.name + "::" + name
}

// ClassNamed resolves a top-level or qualified (A::B) class name.
func (rt *Runtime) ClassNamed(name string) (*Class, bool) {
	v, ok := rt.ResolveConstant(nil, name)
	if !ok {
		return nil, false
	}
	k, ok := v.(*Class)
	return k, ok
}

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

// ClassOf returns the class dispatch starts from: the singleton class when
// the value has one, otherwise its class.
func (rt *Runtime) ClassOf(v Value) *Class {
	switch x := v.(type) {
	case *Object:
		if s := x.singleton.Load(); s != nil {
			return s
		}
		return x.class
	case *Exception:
		if s := x.singleton.Load(); s != nil {
			return s
		}
		return x.class
	case *Class:
		if m := x.meta.Load(); m != nil {
			return m
		}
		return rt.Core.Class
	case nil:
		return rt.Core.NilClass
	case bool:
		if x {
			return rt.Core.TrueClass
		}
		return rt.Core.FalseClass
	case int64, int:
		return rt.Core.Integer
	case float64:
		return rt.Core.Float
	case string:
		return rt.Core.String
	case Symbol:
		return rt.Core.Symbol
	case *Closure:
		return rt.Core.Proc
	}
	if k := rt.bridges.ClassFor(v); k != nil {
		return k
	}
	return rt.Core.Object
}

// RealClassOf returns the value's class, skipping singleton classes.
func (rt *Runtime) RealClassOf(v Value) *Class {
	return rt.ClassOf(v).realClass()
}

// SingletonClassOf returns the singleton class of v, creating it on first
// use. Immediates cannot have singletons.
func (rt *Runtime) SingletonClassOf(v Value) (*Class, error) {
	var o *Object
	switch x := v.(type) {
	case *Class:
		if m := x.meta.Load(); m != nil {
			return m, nil
		}
		rt.mu.Lock()
		defer rt.mu.Unlock()
		if m := x.meta.Load(); m != nil {
			return m, nil
		}
		return rt.attachMetaclass(x), nil
	case *Object:
		o = x
	case *Exception:
		o = &x.Object
	default:
		return nil, &TypeMismatch{Op: "define singleton", Value: v}
	}

	if s := o.singleton.Load(); s != nil {
		return s, nil
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if s := o.singleton.Load(); s != nil {
		return s, nil
	}
	s := rt.allocClass("#<Class:"+Inspect(v)+">", FlagSingleton, o.class)
	s.attached = v
	o.singleton.Store(s)
	return s, nil
}

// NewObject allocates an instance of class with room for its current slots.
func (rt *Runtime) NewObject(class *Class) *Object {
	return &Object{class: class, slots: make([]Value, class.ivars.Len())}
}

// KindOf reports whether v is an instance of class or of a class that has
// class among its ancestors.
func (rt *Runtime) KindOf(v Value, class *Class) bool {
	return rt.Inherits(rt.ClassOf(v), class)
}

// Inherits reports whether ancestor appears in the linearization of class.
func (rt *Runtime) Inherits(class, ancestor *Class) bool {
	if class == ancestor {
		return true
	}
	if !ancestor.IsModule() {
		for k := class; k != nil; k = rt.classAt(k.super) {
			if k == ancestor {
				return true
			}
		}
		return false
	}
	for _, k := range rt.Ancestors(class) {
		if k == ancestor {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Thread registry
// ---------------------------------------------------------------------------

// NewContext admits a new thread of execution and returns its context. The
// context must only be used by the goroutine that owns it.
func (rt *Runtime) NewContext() *Context {
	c := newContext(rt)
	rt.threadsMu.Lock()
	rt.threads[c.id] = c
	n := len(rt.threads)
	rt.threadsMu.Unlock()
	log().Debugf("context %s admitted (%d live)", c.id, n)
	return c
}

func (rt *Runtime) unregister(c *Context) {
	rt.threadsMu.Lock()
	delete(rt.threads, c.id)
	rt.threadsMu.Unlock()
}

// Threads returns the live contexts.
func (rt *Runtime) Threads() []*Context {
	rt.threadsMu.Lock()
	defer rt.threadsMu.Unlock()
	out := make([]*Context, 0, len(rt.threads))
	for _, c := range rt.threads {
		out = append(out, c)
	}
	return out
}

// Context looks up a live context by ID.
func (rt *Runtime) Context(id uuid.UUID) (*Context, bool) {
	rt.threadsMu.Lock()
	defer rt.threadsMu.Unlock()
	c, ok := rt.threads[id]
	return c, ok
}
