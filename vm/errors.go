package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrCyclicInclude is returned when including a module would make it
	// an ancestor of itself.
	ErrCyclicInclude = errors.New("cyclic include detected")
	// ErrNotModule is returned when a class is passed where a module is
	// required.
	ErrNotModule = errors.New("wrong argument type (expected Module)")
	// ErrUndefinedMethod is returned by alias and remove when the source
	// selector has no definition.
	ErrUndefinedMethod = errors.New("undefined method")
	// ErrFinalClass is returned when subclassing a module or singleton.
	ErrFinalClass = errors.New("can't make subclass")
)

// FatalError reports corruption of runtime structures: unbalanced context
// stacks, slot indices outside a table, cyclic outer records, counter
// overflow. It is raised with panic and never returned.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string { return "roxor: fatal: " + e.Msg }

func fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log().Criticalf("%s", msg)
	panic(&FatalError{Msg: msg})
}

// CompileError wraps a producer failure with the method it was compiling.
type CompileError struct {
	Class    string
	Selector string
	Err      error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s#%s: %v", e.Class, e.Selector, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// TypeMismatch is returned by runtime helpers that received a value of the
// wrong kind. Dispatch converts it into a TypeError exception.
type TypeMismatch struct {
	Op    string
	Value Value
}

func (e *TypeMismatch) Error() string {
	return fmt.Sprintf("can't %s on %s", e.Op, Inspect(e.Value))
}
