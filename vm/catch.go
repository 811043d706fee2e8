package vm

// CatchTarget is a registered catch point. Throws match the innermost
// target whose tag is identical to the thrown tag.
type CatchTarget struct {
	Tag Value
	ctx *Context
}

// RegisterCatch pushes a catch point for tag.
func (c *Context) RegisterCatch(tag Value) *CatchTarget {
	t := &CatchTarget{Tag: tag, ctx: c}
	c.catches = append(c.catches, t)
	return t
}

// UnregisterCatch pops t, which must be the innermost catch point.
func (c *Context) UnregisterCatch(t *CatchTarget) {
	n := len(c.catches)
	if n == 0 || c.catches[n-1] != t {
		fatalf("%s: unbalanced catch unregister", c)
	}
	c.catches[n-1] = nil
	c.catches = c.catches[:n-1]
}

// CatchDepth returns the number of active catch points.
func (c *Context) CatchDepth() int { return len(c.catches) }

// Catch runs body under a catch point for tag and returns the value thrown
// to it, or body's own result. A nil tag gets a fresh unique tag, which
// body receives.
func (c *Context) Catch(tag Value, body func(tag Value) (Value, error)) (Value, error) {
	if tag == nil {
		tag = c.rt.NewObject(c.rt.Core.Object)
	}
	t := c.RegisterCatch(tag)
	v, err := body(tag)
	c.UnregisterCatch(t)
	if s, ok := err.(*ThrowSignal); ok && s.Target == t {
		return s.Value, nil
	}
	return v, err
}

// Throw unwinds to the innermost catch point for tag on this context.
// Without one it raises UncaughtThrowError here; catch points on other
// contexts are never considered.
func (c *Context) Throw(tag, v Value) error {
	if err := c.checkInterrupt(); err != nil {
		return err
	}
	for i := len(c.catches) - 1; i >= 0; i-- {
		if Identical(c.catches[i].Tag, tag) {
			c.rt.stats.throws.Add(1)
			return &ThrowSignal{Target: c.catches[i], Tag: tag, Value: v}
		}
	}
	ex := c.rt.NewException(c.rt.Core.UncaughtThrowError, "uncaught throw "+Inspect(tag))
	ex.Tag = tag
	ex.Value = v
	return c.RaiseException(ex)
}
