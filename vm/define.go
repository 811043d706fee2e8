package vm

import (
	"fmt"
	"sort"
)

// installLocked puts node into k's table and invalidates lookups that went
// through k. Caller holds rt.mu.
func (rt *Runtime) installLocked(k *Class, node *MethodNode) {
	k.methods[node.Selector] = node
	if node.Kind != NodeSource {
		rt.dropPendingLocked(k, node.Selector)
	}
	k.bump()
	rt.stats.invalidations.Add(1)
	log().Debugf("define %s#%s (%s, %s)", k.name, rt.selectors.Name(node.Selector), node.Kind, node.Visibility)
}

// dropPendingLocked forgets k's uncompiled source for sel, if any.
func (rt *Runtime) dropPendingLocked(k *Class, sel Selector) {
	pending := rt.sources[sel]
	if pending == nil {
		return
	}
	delete(pending, k.id)
	if len(pending) == 0 {
		delete(rt.sources, sel)
	}
}

// metaLocked returns class's metaclass, creating it when class is itself a
// singleton. Caller holds rt.mu.
func (rt *Runtime) metaLocked(class *Class) *Class {
	if m := class.meta.Load(); m != nil {
		return m
	}
	return rt.attachMetaclass(class)
}

func effectiveVisibility(name string, vis Visibility) Visibility {
	if name == "initialize" || name == "initialize_copy" || name == "method_missing" || name == "respond_to_missing?" {
		return Private
	}
	return vis
}

// DefineMethod registers body as name on class. The body is compiled at
// first dispatch; compilation failures surface to that caller.
func (rt *Runtime) DefineMethod(class *Class, name string, body Body, vis Visibility) *MethodSource {
	sel := rt.selectors.Intern(name)
	src := &MethodSource{Selector: sel, Body: body}
	vis = effectiveVisibility(name, vis)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.armSource(class, src, vis)
	return src
}

// CompileMethod compiles body immediately and defines it as name on class.
// A compile failure rejects the definition and leaves the table unchanged.
func (rt *Runtime) CompileMethod(class *Class, name string, body Body, vis Visibility) error {
	sel := rt.selectors.Intern(name)
	src := &MethodSource{Selector: sel, Body: body}
	vis = effectiveVisibility(name, vis)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if err := rt.compileSource(class, src); err != nil {
		return err
	}
	node := &MethodNode{Selector: sel, Owner: class, Kind: NodeBody, Impl: src.method, Arity: src.arity, Visibility: vis}
	rt.defineLocked(class, node)
	return nil
}

// DefineNative defines a Go implementation of name on class.
func (rt *Runtime) DefineNative(class *Class, name string, m Method, arity Arity, vis Visibility) {
	if inferred, ok := nativeArity(m); ok {
		arity = inferred
	}
	node := &MethodNode{
		Selector:   rt.selectors.Intern(name),
		Owner:      class,
		Kind:       NodeNative,
		Impl:       m,
		Arity:      arity,
		Visibility: effectiveVisibility(name, vis),
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.defineLocked(class, node)
}

func (rt *Runtime) defineLocked(class *Class, node *MethodNode) {
	if node.Visibility != ModuleFunction {
		rt.installLocked(class, node)
		return
	}
	private := *node
	private.Visibility = Private
	rt.installLocked(class, &private)

	meta := rt.metaLocked(class)
	public := *node
	public.Owner = meta
	public.Visibility = Public
	rt.installLocked(meta, &public)
}

// UndefineMethod makes name unresolvable on class and its descendants even
// when an ancestor defines it.
func (rt *Runtime) UndefineMethod(class *Class, name string) error {
	sel := rt.selectors.Intern(name)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.findLocked(class, sel) == nil {
		return fmt.Errorf("undefine %s#%s: %w", class.name, name, ErrUndefinedMethod)
	}
	rt.installLocked(class, &MethodNode{Selector: sel, Owner: class, Kind: NodeUndefined})
	return nil
}

// RemoveMethod deletes class's own definition of name, exposing whatever an
// ancestor defines.
func (rt *Runtime) RemoveMethod(class *Class, name string) error {
	sel := rt.selectors.Intern(name)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	node, ok := class.methods[sel]
	if !ok || node.Kind == NodeUndefined {
		return fmt.Errorf("remove %s#%s: %w", class.name, name, ErrUndefinedMethod)
	}
	delete(class.methods, sel)
	rt.dropPendingLocked(class, sel)
	class.bump()
	rt.stats.invalidations.Add(1)
	log().Debugf("remove %s#%s", class.name, name)
	return nil
}

// AliasMethod defines newName on class as a copy of whatever oldName
// resolves to. Later redefinition of oldName does not affect the alias.
func (rt *Runtime) AliasMethod(class *Class, newName, oldName string) error {
	oldSel := rt.selectors.Intern(oldName)
	newSel := rt.selectors.Intern(newName)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	node := rt.findLocked(class, oldSel)
	if node == nil {
		return fmt.Errorf("alias %s#%s to %s: %w", class.name, newName, oldName, ErrUndefinedMethod)
	}
	alias := *node
	alias.Selector = newSel
	if alias.Kind == NodeSource {
		rt.armSourceNode(class, &alias)
		return nil
	}
	rt.installLocked(class, &alias)
	return nil
}

// armSourceNode installs a lazy node on k. A module function is split the
// way defineLocked splits compiled ones: private on k, public on its
// metaclass, both sharing one source.
func (rt *Runtime) armSourceNode(k *Class, node *MethodNode) {
	if node.Visibility == ModuleFunction {
		private := *node
		private.Visibility = Private
		rt.armSourceNode(k, &private)

		meta := rt.metaLocked(k)
		public := *node
		public.Owner = meta
		public.Visibility = Public
		rt.armSourceNode(meta, &public)
		return
	}
	rt.installLocked(k, node)
	pending := rt.sources[node.Selector]
	if pending == nil {
		pending = make(map[ClassID]*MethodSource)
		rt.sources[node.Selector] = pending
	}
	pending[k.id] = node.Source
}

// SetVisibility changes the visibility of name as seen through class. An
// inherited method gets a copy in class's table with the new visibility.
func (rt *Runtime) SetVisibility(class *Class, name string, vis Visibility) error {
	sel := rt.selectors.Intern(name)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	node := rt.findLocked(class, sel)
	if node == nil {
		return fmt.Errorf("set visibility of %s#%s: %w", class.name, name, ErrUndefinedMethod)
	}
	if node.Visibility == vis && class.methods[sel] == node {
		return nil
	}
	cp := *node
	cp.Visibility = vis
	if cp.Kind == NodeSource {
		rt.armSourceNode(class, &cp)
		return nil
	}
	rt.defineLocked(class, &cp)
	return nil
}

// DefineAttr defines a reader (name) and/or writer (name=) backed by the
// instance variable @name.
func (rt *Runtime) DefineAttr(class *Class, name string, reader, writer bool) {
	ivar := "@" + name
	if !class.IsModule() {
		rt.AssignIvarSlot(class, ivar)
	}
	if reader {
		m := NewNative0(name, func(c *Context, self Value) (Value, error) {
			return c.rt.IvarGet(self, ivar), nil
		})
		rt.DefineNative(class, name, m, FixedArity(0), Public)
		rt.flagLocal(class, name, FlagAttrReader)
	}
	if writer {
		m := NewNative1(name+"=", func(c *Context, self Value, v Value) (Value, error) {
			if err := c.rt.IvarSet(self, ivar, v); err != nil {
				return nil, c.Raise(c.rt.Core.TypeError, err.Error())
			}
			return v, nil
		})
		rt.DefineNative(class, name+"=", m, FixedArity(1), Public)
		rt.flagLocal(class, name+"=", FlagAttrWriter)
	}
}

func (rt *Runtime) flagLocal(class *Class, name string, f MethodFlags) {
	sel := rt.selectors.Intern(name)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if node := class.methods[sel]; node != nil {
		cp := *node
		cp.Flags |= f
		class.methods[sel] = &cp
		class.bump()
	}
}

// CopyMethods copies every method defined directly on from into to.
func (rt *Runtime) CopyMethods(from, to *Class) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for sel, node := range from.methods {
		if node.Kind == NodeUndefined {
			continue
		}
		cp := *node
		cp.Owner = to
		if cp.Kind == NodeSource {
			rt.armSourceNode(to, &cp)
			continue
		}
		to.methods[sel] = &cp
		rt.dropPendingLocked(to, sel)
	}
	to.bump()
	rt.stats.invalidations.Add(1)
	log().Debugf("copy methods %s -> %s", from.name, to.name)
}

// LocalMethod returns the node class defines for name itself.
func (rt *Runtime) LocalMethod(class *Class, name string) (*MethodNode, bool) {
	sel := rt.selectors.Lookup(name)
	if sel == NoSelector {
		return nil, false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	node, ok := class.methods[sel]
	return node, ok
}

// InstanceMethods lists the selectors callable on instances of class with
// at least the given visibility, sorted. With inherited false only class's
// own table is listed.
func (rt *Runtime) InstanceMethods(class *Class, inherited bool) []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	tables := []*Class{class}
	if inherited {
		tables = rt.ancestors(class)
	}
	seen := make(map[Selector]bool)
	var names []string
	for _, k := range tables {
		for sel, node := range k.methods {
			if seen[sel] {
				continue
			}
			seen[sel] = true
			if node.Kind == NodeUndefined || node.Visibility == Private {
				continue
			}
			names = append(names, rt.selectors.Name(sel))
		}
	}
	sort.Strings(names)
	return names
}
