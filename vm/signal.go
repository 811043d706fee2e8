package vm

import "errors"

// Non-local transfers travel up the Go call stack as error values and are
// claimed by whichever frame, closure or catch they name.

// ThrowSignal carries a throw to its matching catch.
type ThrowSignal struct {
	Target *CatchTarget
	Tag    Value
	Value  Value
}

func (s *ThrowSignal) Error() string { return "throw " + Inspect(s.Tag) }

// BreakSignal carries a break out of a block to the call the block was
// passed to.
type BreakSignal struct {
	Closure *Closure
	Value   Value
}

func (s *BreakSignal) Error() string { return "break from proc-closure" }

// ReturnSignal carries a return to a method frame (from a proc) or to a
// lambda.
type ReturnSignal struct {
	Frame   *Frame
	Closure *Closure
	Value   Value
}

func (s *ReturnSignal) Error() string { return "unexpected return" }

// IsSignal reports whether err is a control transfer rather than a failure.
func IsSignal(err error) bool {
	switch err.(type) {
	case *ThrowSignal, *BreakSignal, *ReturnSignal:
		return true
	}
	return false
}

// AsException extracts a language exception from err.
func AsException(err error) (*Exception, bool) {
	var ex *Exception
	if errors.As(err, &ex) {
		return ex, true
	}
	return nil, false
}
