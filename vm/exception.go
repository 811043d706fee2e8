package vm

import (
	"context"
	"errors"
	"fmt"
)

// Exception is an instance of Exception or one of its subclasses. It is
// also a Go error, so raising is returning it.
type Exception struct {
	Object

	Message   string
	Backtrace []string
	// Cause is the exception that was being handled when this one was
	// raised.
	Cause *Exception
	// Err is the Go error this exception was converted from, if any.
	Err error

	// NameError and NoMethodError details.
	Receiver Value
	Name     Symbol
	Args     []Value

	// UncaughtThrowError details.
	Tag   Value
	Value Value
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.class.name
	}
	return e.class.name + ": " + e.Message
}

func (e *Exception) Unwrap() error { return e.Err }

// NewException allocates an exception of class without raising it.
func (rt *Runtime) NewException(class *Class, msg string) *Exception {
	ex := &Exception{Message: msg}
	ex.class = class
	ex.slots = make([]Value, class.ivars.Len())
	return ex
}

// Raise builds an exception of class with the current backtrace and cause
// and returns it for the caller to propagate.
func (c *Context) Raise(class *Class, msg string) error {
	ex := c.rt.NewException(class, msg)
	c.decorate(ex)
	return ex
}

// Raisef is Raise with a formatted message.
func (c *Context) Raisef(class *Class, format string, args ...any) error {
	return c.Raise(class, fmt.Sprintf(format, args...))
}

// RaiseException raises an already constructed exception.
func (c *Context) RaiseException(ex *Exception) error {
	c.decorate(ex)
	return ex
}

func (c *Context) decorate(ex *Exception) {
	if ex.Backtrace == nil {
		ex.Backtrace = c.Backtrace()
	}
	if ex.Cause == nil {
		if cur := c.CurrentException(); cur != ex {
			ex.Cause = cur
		}
	}
	c.rt.stats.raises.Add(1)
}

// Reraise propagates the exception currently being handled.
func (c *Context) Reraise() error {
	if ex := c.CurrentException(); ex != nil {
		return ex
	}
	return c.Raise(c.rt.Core.RuntimeError, "unhandled exception")
}

// normalize turns any error reaching a dispatch boundary into something the
// language can rescue. Control signals pass through untouched.
func (c *Context) normalize(err error) error {
	if err == nil || IsSignal(err) {
		return err
	}
	if ex, ok := AsException(err); ok {
		return ex
	}
	core := &c.rt.Core
	var (
		cerr *CompileError
		tm   *TypeMismatch
	)
	var ex *Exception
	switch {
	case errors.As(err, &cerr):
		ex = c.rt.NewException(core.CompileError, cerr.Error())
	case errors.As(err, &tm):
		ex = c.rt.NewException(core.TypeError, tm.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		ex = c.rt.NewException(core.Interrupt, err.Error())
	default:
		ex = c.rt.NewException(core.RuntimeError, err.Error())
	}
	ex.Err = err
	c.decorate(ex)
	return ex
}

// Rescue runs body and hands exceptions matching one of classes
// (StandardError when none are given) to handler. While handler runs the
// exception is on the context's exception stack; it is popped when handler
// returns, whether or not handler raised.
func (c *Context) Rescue(body func() (Value, error), handler func(ex *Exception) (Value, error), classes ...*Class) (Value, error) {
	v, err := body()
	if err == nil || IsSignal(err) {
		return v, err
	}
	ex, ok := AsException(c.normalize(err))
	if !ok {
		return nil, err
	}
	if len(classes) == 0 {
		classes = []*Class{c.rt.Core.StandardError}
	}
	matched := false
	for _, k := range classes {
		if c.rt.KindOf(ex, k) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ex
	}

	c.PushException(ex)
	defer c.PopException()
	return handler(ex)
}

// Ensure runs body and then cleanup, whatever body returned. An error from
// cleanup replaces body's result.
func (c *Context) Ensure(body func() (Value, error), cleanup func() error) (Value, error) {
	v, err := body()
	if cerr := cleanup(); cerr != nil {
		return nil, c.normalize(cerr)
	}
	return v, err
}

// describe renders a receiver the way error messages refer to it.
func (rt *Runtime) describe(v Value) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case bool:
		if x {
			return "true"
		}
		return "false"
	case *Class:
		if x.IsModule() {
			return "module " + x.name
		}
		return "class " + x.name
	}
	return "an instance of " + rt.RealClassOf(v).name
}

func (c *Context) noMethodError(recv Value, name Symbol, args []Value, reason MissingReason) error {
	core := &c.rt.Core
	target := c.rt.describe(recv)
	method := string(name)
	class := core.NoMethodError
	var msg string
	switch reason {
	case MissingPrivate:
		msg = fmt.Sprintf("private method '%s' called for %s", method, target)
	case MissingProtected:
		msg = fmt.Sprintf("protected method '%s' called for %s", method, target)
	case MissingVCall:
		class = core.NameError
		msg = fmt.Sprintf("undefined local variable or method '%s' for %s", method, target)
	case MissingSuper:
		msg = fmt.Sprintf("super: no superclass method '%s' for %s", method, target)
	default:
		msg = fmt.Sprintf("undefined method '%s' for %s", method, target)
	}
	ex := c.rt.NewException(class, msg)
	ex.Receiver = recv
	ex.Name = name
	ex.Args = args
	return c.RaiseException(ex)
}
