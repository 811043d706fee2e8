package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/roxor/vm"
)

// ---------------------------------------------------------------------------
// Opcodes
// ---------------------------------------------------------------------------

// Opcode is one instruction of the stack language.
type Opcode uint8

const (
	OpSelf     Opcode = iota + 1 // push receiver
	OpArg                        // push argument N
	OpRestArgs                   // push the rest arguments
	OpLit                        // push literal
	OpIvar                       // push instance variable
	OpSetIvar                    // store top into instance variable, leave it
	OpConst                      // push constant resolved from the method owner
	OpSend                       // pop N args and receiver, send
	OpFSend                      // functional send to self with N args
	OpSuper                      // super with N args
	OpYield                      // call the block with N args
	OpConcat                     // pop N values, push their concatenation
	OpRaise                      // raise Name with message
	OpThrow                      // pop value and tag, throw
	OpPop                        // discard top
	OpDup                        // duplicate top
	OpRet                        // return top
)

var opNames = map[Opcode]string{
	OpSelf:     "self",
	OpArg:      "arg",
	OpRestArgs: "arg",
	OpLit:      "lit",
	OpIvar:     "ivar",
	OpSetIvar:  "setivar",
	OpConst:    "const",
	OpSend:     "send",
	OpFSend:    "fsend",
	OpSuper:    "super",
	OpYield:    "yield",
	OpConcat:   "concat",
	OpRaise:    "raise",
	OpThrow:    "throw",
	OpPop:      "pop",
	OpDup:      "dup",
	OpRet:      "ret",
}

func (op Opcode) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("Opcode(%d)", op)
}

// ---------------------------------------------------------------------------
// Literals
// ---------------------------------------------------------------------------

// LiteralKind tags the type of a literal operand.
type LiteralKind uint8

const (
	LitNil LiteralKind = iota
	LitTrue
	LitFalse
	LitInt
	LitFloat
	LitString
	LitSymbol
)

// Literal is a constant operand. It is plain data so programs can be
// encoded and cached.
type Literal struct {
	Kind  LiteralKind `cbor:"1,keyasint"`
	Int   int64       `cbor:"2,keyasint,omitempty"`
	Float float64     `cbor:"3,keyasint,omitempty"`
	Str   string      `cbor:"4,keyasint,omitempty"`
}

// Value converts the literal to a runtime value.
func (l Literal) Value() vm.Value {
	switch l.Kind {
	case LitTrue:
		return true
	case LitFalse:
		return false
	case LitInt:
		return l.Int
	case LitFloat:
		return l.Float
	case LitString:
		return l.Str
	case LitSymbol:
		return vm.Symbol(l.Str)
	}
	return nil
}

func (l Literal) String() string {
	switch l.Kind {
	case LitTrue:
		return "true"
	case LitFalse:
		return "false"
	case LitInt:
		return strconv.FormatInt(l.Int, 10)
	case LitFloat:
		return strconv.FormatFloat(l.Float, 'g', -1, 64)
	case LitString:
		return strconv.Quote(l.Str)
	case LitSymbol:
		return ":" + l.Str
	}
	return "nil"
}

// ---------------------------------------------------------------------------
// Programs
// ---------------------------------------------------------------------------

// Instr is one decoded instruction.
type Instr struct {
	Op   Opcode   `cbor:"1,keyasint"`
	Name string   `cbor:"2,keyasint,omitempty"` // selector, variable or class name
	N    int      `cbor:"3,keyasint,omitempty"` // argument count or index
	Lit  *Literal `cbor:"4,keyasint,omitempty"`
	Line int      `cbor:"5,keyasint,omitempty"`
}

func (in Instr) String() string {
	switch in.Op {
	case OpSelf, OpThrow, OpPop, OpDup, OpRet:
		return in.Op.String()
	case OpArg:
		return fmt.Sprintf("arg %d", in.N)
	case OpRestArgs:
		return "arg *"
	case OpLit:
		return "lit " + in.Lit.String()
	case OpSend, OpFSend:
		return fmt.Sprintf("%s %s %d", in.Op, in.Name, in.N)
	case OpSuper, OpYield, OpConcat:
		return fmt.Sprintf("%s %d", in.Op, in.N)
	case OpRaise:
		if in.Lit != nil {
			return fmt.Sprintf("raise %s %s", in.Name, in.Lit)
		}
		return "raise " + in.Name
	}
	return fmt.Sprintf("%s %s", in.Op, in.Name)
}

// Program is a compiled method body.
type Program struct {
	Params []string `cbor:"1,keyasint,omitempty"`
	Rest   string   `cbor:"2,keyasint,omitempty"`
	Code   []Instr  `cbor:"3,keyasint"`
}

// Arity returns the argument count the program accepts.
func (p *Program) Arity() vm.Arity {
	if p.Rest != "" {
		return vm.RestArity(len(p.Params))
	}
	return vm.FixedArity(len(p.Params))
}

// Disassemble renders the program one instruction per line.
func (p *Program) Disassemble() string {
	var b strings.Builder
	b.WriteString("params")
	for _, name := range p.Params {
		b.WriteString(" " + name)
	}
	if p.Rest != "" {
		b.WriteString(" *" + p.Rest)
	}
	b.WriteByte('\n')
	for i, in := range p.Code {
		fmt.Fprintf(&b, "%04d %s\n", i, in)
	}
	return b.String()
}
