package vm

import "context"

// Interrupt posts ex into the context. The context observes it at its next
// dispatch, yield or throw and raises it there. Safe to call from any
// goroutine; a later post replaces an unobserved earlier one.
func (c *Context) Interrupt(ex *Exception) {
	if ex == nil {
		ex = c.rt.NewException(c.rt.Core.Interrupt, "")
	}
	c.interrupt.Store(ex)
}

// Pending reports whether an interrupt is waiting to be observed.
func (c *Context) Pending() bool { return c.interrupt.Load() != nil }

func (c *Context) checkInterrupt() error {
	if c.interrupt.Load() == nil {
		return nil
	}
	ex := c.interrupt.Swap(nil)
	if ex == nil {
		return nil
	}
	log().Debugf("%s observed %s", c, ex)
	return c.RaiseException(ex)
}

// WatchContext interrupts c with an Interrupt exception when ctx is done.
// The returned function stops watching; it reports whether it stopped the
// watch before it fired.
func (c *Context) WatchContext(ctx context.Context) func() bool {
	stop := context.AfterFunc(ctx, func() {
		ex := c.rt.NewException(c.rt.Core.Interrupt, context.Cause(ctx).Error())
		ex.Err = context.Cause(ctx)
		c.Interrupt(ex)
	})
	c.watchers = append(c.watchers, stop)
	return stop
}

// Run executes fn as the outermost activity of the context, with ctx
// bound for cancellation. Control signals that escape fn have nowhere left
// to go and become LocalJumpError or UncaughtThrowError.
func (c *Context) Run(ctx context.Context, fn func(c *Context) (Value, error)) (Value, error) {
	if ctx != nil && ctx.Done() != nil {
		stop := c.WatchContext(ctx)
		defer func() {
			stop()
			c.dropWatcher()
		}()
	}

	v, err := fn(c)
	if err == nil {
		return v, nil
	}
	switch s := err.(type) {
	case *BreakSignal:
		err = c.Raise(c.rt.Core.LocalJumpError, "break from proc-closure")
	case *ReturnSignal:
		err = c.Raise(c.rt.Core.LocalJumpError, "unexpected return")
	case *ThrowSignal:
		ex := c.rt.NewException(c.rt.Core.UncaughtThrowError, "uncaught throw "+Inspect(s.Tag))
		ex.Tag, ex.Value = s.Tag, s.Value
		err = c.RaiseException(ex)
	default:
		err = c.normalize(err)
	}
	if c.rt.opts.AbortOnException {
		log().Criticalf("%s: unhandled %s", c, err)
		panic(err)
	}
	return nil, err
}

func (c *Context) dropWatcher() {
	if n := len(c.watchers); n > 0 {
		c.watchers = c.watchers[:n-1]
	}
}
