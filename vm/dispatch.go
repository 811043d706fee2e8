package vm

// CallFlags describe the shape of a call site.
type CallFlags uint8

const (
	// CallFunctional marks an implicit-receiver call (foo rather than
	// obj.foo); only these may reach private methods.
	CallFunctional CallFlags = 1 << iota
	// CallVariable marks a bare identifier that could have been a local
	// variable; a miss raises NameError instead of NoMethodError.
	CallVariable
	// CallSuper starts lookup after the current method's owner.
	CallSuper
)

// Dispatch sends selector to recv. With isSuper the lookup starts after
// the owner of the current method, and recv should be the current self.
func (c *Context) Dispatch(recv Value, selector string, args []Value, isSuper bool) (Value, error) {
	var flags CallFlags
	if isSuper {
		flags = CallSuper | CallFunctional
	}
	return c.invoke(recv, c.rt.selectors.Intern(selector), args, nil, flags, nil)
}

// Send calls a public method on recv.
func (c *Context) Send(recv Value, selector string, args ...Value) (Value, error) {
	return c.invoke(recv, c.rt.selectors.Intern(selector), args, nil, 0, nil)
}

// SendBlock calls a public method on recv passing blk.
func (c *Context) SendBlock(recv Value, selector string, blk *Closure, args ...Value) (Value, error) {
	return c.invoke(recv, c.rt.selectors.Intern(selector), args, blk, 0, nil)
}

// SendFunctional calls selector on the current self as an implicit
// receiver call, so private methods are reachable.
func (c *Context) SendFunctional(selector string, args ...Value) (Value, error) {
	return c.invoke(c.Self(), c.rt.selectors.Intern(selector), args, nil, CallFunctional, nil)
}

// Invoke is the general entry point used by producers.
func (c *Context) Invoke(recv Value, sel Selector, args []Value, blk *Closure, flags CallFlags) (Value, error) {
	return c.invoke(recv, sel, args, blk, flags, nil)
}

// Super calls the next definition of the current method with args.
func (c *Context) Super(args []Value, blk *Closure) (Value, error) {
	f := c.CurrentFrame()
	if f == nil {
		return nil, c.Raise(c.rt.Core.NoMethodError, "super called outside of method")
	}
	return c.invoke(f.Self, f.Selector, args, blk, CallSuper|CallFunctional, nil)
}

func (c *Context) invoke(recv Value, sel Selector, args []Value, blk *Closure, flags CallFlags, site *CallSite) (Value, error) {
	if err := c.checkInterrupt(); err != nil {
		return nil, err
	}
	rt := c.rt
	class := rt.ClassOf(recv)

	var after *Class
	if flags&CallSuper != 0 {
		f := c.CurrentFrame()
		if f == nil || f.Owner == nil {
			return nil, c.Raise(rt.Core.NoMethodError, "super called outside of method")
		}
		after = f.Owner
	}

	entry, err := c.lookup(class, sel, after, site)
	if err != nil {
		return nil, c.normalize(err)
	}
	if !entry.Found() {
		return c.methodMissing(recv, sel, args, blk, missingReason(flags))
	}
	if reason, ok := c.visible(entry, recv, flags); !ok {
		return c.methodMissing(recv, sel, args, blk, reason)
	}
	if !entry.Arity.Accepts(len(args)) {
		return nil, c.Raisef(rt.Core.ArgumentError, "wrong number of arguments (given %d, expected %s)", len(args), entry.Arity)
	}
	return c.activate(entry, recv, args, blk)
}

// lookup is the fast path: call-site cache, then the runtime cache, then
// the locked slow path.
func (c *Context) lookup(class *Class, sel Selector, after *Class, site *CallSite) (*CacheEntry, error) {
	rt := c.rt
	if site != nil && after == nil {
		if e := site.lookup(class); e != nil {
			rt.stats.hits.Add(1)
			return e, nil
		}
	}

	key := cacheKey{class: class.id, sel: sel}
	if after != nil {
		key.after = after.id
	}
	e, ok := rt.lookupCache(key)
	if ok {
		rt.stats.hits.Add(1)
	} else {
		rt.stats.misses.Add(1)
		var err error
		if e, _, err = rt.resolveAndFill(class, sel, after); err != nil {
			return nil, err
		}
	}
	if site != nil && after == nil {
		site.update(e, rt.opts.InlineCacheEntries)
	}
	return e, nil
}

func (c *Context) activate(entry *CacheEntry, recv Value, args []Value, blk *Closure) (Value, error) {
	f := &Frame{
		Self:     recv,
		Selector: entry.Selector,
		Owner:    entry.Owner,
		Node:     entry.Node,
		Args:     args,
		Block:    blk,
	}
	if err := c.pushFrame(f); err != nil {
		return nil, err
	}
	v, err := entry.Method.Invoke(c, recv, args, blk)
	if err != nil && !IsSignal(err) {
		// Normalized while the frame is live so the backtrace includes it.
		err = c.normalize(err)
	}
	c.popFrame(f)
	if err == nil {
		return v, nil
	}

	switch s := err.(type) {
	case *ReturnSignal:
		if s.Frame == f {
			return s.Value, nil
		}
		return nil, err
	case *BreakSignal:
		if blk != nil && s.Closure == blk {
			return s.Value, nil
		}
		return nil, err
	}
	return nil, err
}

// visible applies private and protected rules to a resolved entry.
func (c *Context) visible(entry *CacheEntry, recv Value, flags CallFlags) (MissingReason, bool) {
	switch entry.Visibility {
	case Private:
		if flags&(CallFunctional|CallSuper) == 0 {
			return MissingPrivate, false
		}
	case Protected:
		if flags&(CallFunctional|CallSuper) != 0 {
			return 0, true
		}
		owner := entry.Owner
		if owner.IsSingleton() {
			owner = owner.realClass()
		}
		if !c.rt.KindOf(c.Self(), owner) {
			return MissingProtected, false
		}
	}
	return 0, true
}

func missingReason(flags CallFlags) MissingReason {
	switch {
	case flags&CallSuper != 0:
		return MissingSuper
	case flags&CallVariable != 0:
		return MissingVCall
	}
	return MissingDefault
}

// methodMissing re-dispatches a failed send as method_missing(:selector,
// *args). The reason is visible to method_missing through the context for
// the duration of the call. Nesting is bounded so a method_missing that
// itself misses cannot recurse without limit.
func (c *Context) methodMissing(recv Value, sel Selector, args []Value, blk *Closure, reason MissingReason) (Value, error) {
	rt := c.rt
	rt.stats.methodMissing.Add(1)
	name := Symbol(rt.selectors.Name(sel))

	if sel == rt.selMethodMissing {
		// method_missing itself is unresolved: report the original send.
		if len(args) > 0 {
			if orig, ok := args[0].(Symbol); ok {
				return nil, c.noMethodError(recv, orig, args[1:], c.mmReason)
			}
		}
		return nil, c.noMethodError(recv, name, args, reason)
	}
	if c.mmDepth >= rt.opts.MaxMethodMissingDepth {
		return nil, c.Raisef(rt.Core.SystemStackError, "stack level too deep in method_missing for '%s'", string(name))
	}

	c.mmDepth++
	prev := c.mmReason
	c.mmReason = reason
	defer func() {
		c.mmDepth--
		c.mmReason = prev
	}()

	mmArgs := make([]Value, 0, len(args)+1)
	mmArgs = append(mmArgs, name)
	mmArgs = append(mmArgs, args...)
	return c.invoke(recv, rt.selMethodMissing, mmArgs, blk, CallFunctional, nil)
}

// RespondTo reports whether recv answers selector. Private methods count
// only with includePrivate. When no method is found the receiver's
// respond_to_missing? decides.
func (c *Context) RespondTo(recv Value, selector string, includePrivate bool) (bool, error) {
	rt := c.rt
	sel := rt.selectors.Intern(selector)
	entry, err := c.lookup(rt.ClassOf(recv), sel, nil, nil)
	if err != nil {
		return false, c.normalize(err)
	}
	if entry.Found() {
		return entry.Visibility == Public || includePrivate, nil
	}
	v, err := c.invoke(recv, rt.selRespondMiss, []Value{Symbol(selector), includePrivate}, nil, CallFunctional, nil)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}
