package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ---------------------------------------------------------------------------
// Parser: one instruction per line, '#' starts a comment
// ---------------------------------------------------------------------------

// ParseError reports a malformed program.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

type parser struct {
	prog   *Program
	line   int
	depth  int
	params map[string]int
	code   bool
}

// Parse compiles program text.
func Parse(src string) (*Program, error) {
	p := &parser{prog: &Program{}, params: make(map[string]int)}
	for i, raw := range strings.Split(src, "\n") {
		p.line = i + 1
		fields, err := splitFields(raw)
		if err != nil {
			return nil, p.errorf("%v", err)
		}
		if len(fields) == 0 {
			continue
		}
		if err := p.instruction(fields[0], fields[1:]); err != nil {
			return nil, err
		}
	}
	return p.prog, nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Line: p.line, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) emit(in Instr, pops, pushes int) error {
	if p.depth < pops {
		return p.errorf("%s needs %d values, stack has %d", in.Op, pops, p.depth)
	}
	p.depth += pushes - pops
	in.Line = p.line
	p.prog.Code = append(p.prog.Code, in)
	p.code = true
	return nil
}

func (p *parser) instruction(op string, args []string) error {
	switch op {
	case "params":
		return p.declare(args)
	case "self", "throw", "pop", "dup", "ret":
		if len(args) != 0 {
			return p.errorf("%s takes no operands", op)
		}
		switch op {
		case "self":
			return p.emit(Instr{Op: OpSelf}, 0, 1)
		case "throw":
			return p.emit(Instr{Op: OpThrow}, 2, 1)
		case "pop":
			return p.emit(Instr{Op: OpPop}, 1, 0)
		case "dup":
			return p.emit(Instr{Op: OpDup}, 1, 2)
		}
		return p.emit(Instr{Op: OpRet}, 0, 0)
	case "arg":
		if len(args) != 1 {
			return p.errorf("arg takes one operand")
		}
		return p.arg(args[0])
	case "lit":
		if len(args) != 1 {
			return p.errorf("lit takes one operand")
		}
		lit, err := parseLiteral(args[0])
		if err != nil {
			return p.errorf("%v", err)
		}
		return p.emit(Instr{Op: OpLit, Lit: &lit}, 0, 1)
	case "ivar", "setivar":
		if len(args) != 1 || !strings.HasPrefix(args[0], "@") || len(args[0]) < 2 {
			return p.errorf("%s takes an @name operand", op)
		}
		if op == "ivar" {
			return p.emit(Instr{Op: OpIvar, Name: args[0]}, 0, 1)
		}
		return p.emit(Instr{Op: OpSetIvar, Name: args[0]}, 1, 1)
	case "const":
		if len(args) != 1 || !isConstName(args[0]) {
			return p.errorf("const takes a constant name")
		}
		return p.emit(Instr{Op: OpConst, Name: args[0]}, 0, 1)
	case "send", "fsend":
		if len(args) != 2 {
			return p.errorf("%s takes a selector and an argument count", op)
		}
		n, err := p.count(args[1])
		if err != nil {
			return err
		}
		if op == "send" {
			return p.emit(Instr{Op: OpSend, Name: args[0], N: n}, n+1, 1)
		}
		return p.emit(Instr{Op: OpFSend, Name: args[0], N: n}, n, 1)
	case "super", "yield", "concat":
		n := 0
		switch len(args) {
		case 0:
			if op == "concat" {
				return p.errorf("concat takes a count")
			}
		case 1:
			var err error
			if n, err = p.count(args[0]); err != nil {
				return err
			}
		default:
			return p.errorf("%s takes at most one operand", op)
		}
		switch op {
		case "super":
			return p.emit(Instr{Op: OpSuper, N: n}, n, 1)
		case "yield":
			return p.emit(Instr{Op: OpYield, N: n}, n, 1)
		}
		if n == 0 {
			return p.errorf("concat count must be positive")
		}
		return p.emit(Instr{Op: OpConcat, N: n}, n, 1)
	case "raise":
		if len(args) < 1 || len(args) > 2 || !isConstName(args[0]) {
			return p.errorf("raise takes a class name and an optional message")
		}
		in := Instr{Op: OpRaise, Name: args[0]}
		if len(args) == 2 {
			lit, err := parseLiteral(args[1])
			if err != nil {
				return p.errorf("%v", err)
			}
			in.Lit = &lit
		}
		return p.emit(in, 0, 0)
	}
	return p.errorf("unknown instruction %q", op)
}

func (p *parser) declare(names []string) error {
	if p.code {
		return p.errorf("params must come before code")
	}
	if len(p.prog.Params) > 0 || p.prog.Rest != "" {
		return p.errorf("params declared twice")
	}
	for i, name := range names {
		rest := strings.HasPrefix(name, "*")
		if rest {
			if i != len(names)-1 {
				return p.errorf("rest parameter must be last")
			}
			name = name[1:]
		}
		if !isIdent(name) {
			return p.errorf("bad parameter name %q", name)
		}
		if _, dup := p.params[name]; dup || name == p.prog.Rest {
			return p.errorf("duplicate parameter %q", name)
		}
		if rest {
			p.prog.Rest = name
			continue
		}
		p.params[name] = len(p.prog.Params)
		p.prog.Params = append(p.prog.Params, name)
	}
	return nil
}

func (p *parser) arg(operand string) error {
	if operand == p.prog.Rest && operand != "" {
		return p.emit(Instr{Op: OpRestArgs}, 0, 1)
	}
	if i, ok := p.params[operand]; ok {
		return p.emit(Instr{Op: OpArg, N: i}, 0, 1)
	}
	i, err := strconv.Atoi(operand)
	if err != nil {
		return p.errorf("unknown parameter %q", operand)
	}
	if i < 0 || (i >= len(p.prog.Params) && p.prog.Rest == "") {
		return p.errorf("argument index %d out of range", i)
	}
	return p.emit(Instr{Op: OpArg, N: i}, 0, 1)
}

func (p *parser) count(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, p.errorf("bad count %q", s)
	}
	return n, nil
}

// splitFields splits a line on whitespace, keeping double-quoted strings
// whole and dropping everything from an unquoted '#'.
func splitFields(line string) ([]string, error) {
	var (
		fields []string
		cur    strings.Builder
		inStr  bool
		escape bool
	)
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}
	for _, r := range line {
		switch {
		case inStr:
			cur.WriteRune(r)
			switch {
			case escape:
				escape = false
			case r == '\\':
				escape = true
			case r == '"':
				inStr = false
				flush()
			}
		case r == '"':
			flush()
			inStr = true
			cur.WriteRune(r)
		case r == '#':
			flush()
			return fields, nil
		case unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if inStr {
		return nil, fmt.Errorf("unterminated string")
	}
	flush()
	return fields, nil
}

func parseLiteral(tok string) (Literal, error) {
	switch tok {
	case "nil":
		return Literal{Kind: LitNil}, nil
	case "true":
		return Literal{Kind: LitTrue}, nil
	case "false":
		return Literal{Kind: LitFalse}, nil
	}
	switch {
	case strings.HasPrefix(tok, `"`):
		s, err := strconv.Unquote(tok)
		if err != nil {
			return Literal{}, fmt.Errorf("bad string literal %s", tok)
		}
		return Literal{Kind: LitString, Str: s}, nil
	case strings.HasPrefix(tok, ":") && len(tok) > 1:
		return Literal{Kind: LitSymbol, Str: tok[1:]}, nil
	}
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return Literal{Kind: LitInt, Int: i}, nil
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return Literal{Kind: LitFloat, Float: f}, nil
	}
	return Literal{}, fmt.Errorf("bad literal %q", tok)
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

func isConstName(s string) bool {
	for _, seg := range strings.Split(s, "::") {
		if !isIdent(seg) || !unicode.IsUpper([]rune(seg)[0]) {
			return false
		}
	}
	return true
}
