package compiler

import (
	"sync"

	"github.com/chazu/roxor/vm"
)

// Method executes a Program as a vm.Method. Send instructions dispatch
// through call sites created on first use; a method only ever caches for
// the runtime that first ran it.
type Method struct {
	Program *Program
	Hash    string

	once  sync.Once
	rt    *vm.Runtime
	sites []*vm.CallSite // indexed by instruction, nil for non-sends
}

// NewMethod wraps prog.
func NewMethod(prog *Program, hash string) *Method {
	return &Method{Program: prog, Hash: hash}
}

func (m *Method) String() string {
	if len(m.Hash) > 12 {
		return "program " + m.Hash[:12]
	}
	return "program"
}

func (m *Method) bind(rt *vm.Runtime) {
	m.rt = rt
	m.sites = make([]*vm.CallSite, len(m.Program.Code))
	for i, in := range m.Program.Code {
		switch in.Op {
		case OpSend:
			m.sites[i] = rt.NewCallSite(in.Name, 0)
		case OpFSend:
			m.sites[i] = rt.NewCallSite(in.Name, vm.CallFunctional)
		}
	}
}

// Sites returns the method's call sites for rt, or nil if it has not run
// on rt.
func (m *Method) Sites(rt *vm.Runtime) []*vm.CallSite {
	if m.rt != rt {
		return nil
	}
	var out []*vm.CallSite
	for _, s := range m.sites {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m *Method) Invoke(c *vm.Context, self vm.Value, args []vm.Value, blk *vm.Closure) (vm.Value, error) {
	rt := c.Runtime()
	m.once.Do(func() { m.bind(rt) })
	sites := m.sites
	if m.rt != rt {
		sites = nil
	}

	prog := m.Program
	stack := make([]vm.Value, 0, 8)
	push := func(v vm.Value) { stack = append(stack, v) }
	pop := func() vm.Value {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}
	popN := func(n int) []vm.Value {
		out := make([]vm.Value, n)
		copy(out, stack[len(stack)-n:])
		stack = stack[:len(stack)-n]
		return out
	}

	for i, in := range prog.Code {
		switch in.Op {
		case OpSelf:
			push(self)
		case OpArg:
			if in.N >= len(args) {
				push(nil)
			} else {
				push(args[in.N])
			}
		case OpRestArgs:
			var rest []vm.Value
			if len(args) > len(prog.Params) {
				rest = append(rest, args[len(prog.Params):]...)
			}
			push(rest)
		case OpLit:
			push(in.Lit.Value())
		case OpIvar:
			push(rt.IvarGet(self, in.Name))
		case OpSetIvar:
			v := stack[len(stack)-1]
			if err := rt.IvarSet(self, in.Name, v); err != nil {
				return nil, err
			}
		case OpConst:
			v, err := constant(c, in.Name)
			if err != nil {
				return nil, err
			}
			push(v)
		case OpSend:
			argv := popN(in.N)
			recv := pop()
			v, err := send(c, sites, i, recv, in, argv, 0)
			if err != nil {
				return nil, err
			}
			push(v)
		case OpFSend:
			argv := popN(in.N)
			v, err := send(c, sites, i, self, in, argv, vm.CallFunctional)
			if err != nil {
				return nil, err
			}
			push(v)
		case OpSuper:
			v, err := c.Super(popN(in.N), blk)
			if err != nil {
				return nil, err
			}
			push(v)
		case OpYield:
			v, err := c.Yield(blk, popN(in.N)...)
			if err != nil {
				return nil, err
			}
			push(v)
		case OpConcat:
			var s string
			for _, v := range popN(in.N) {
				s += vm.ToS(v)
			}
			push(s)
		case OpRaise:
			k, err := constant(c, in.Name)
			if err != nil {
				return nil, err
			}
			class, ok := k.(*vm.Class)
			if !ok || !rt.Inherits(class, rt.Core.Exception) {
				return nil, c.Raisef(rt.Core.TypeError, "%s is not an exception class", in.Name)
			}
			msg := in.Name
			if in.Lit != nil {
				msg = vm.ToS(in.Lit.Value())
			}
			return nil, c.Raise(class, msg)
		case OpThrow:
			v := pop()
			tag := pop()
			return nil, c.Throw(tag, v)
		case OpPop:
			pop()
		case OpDup:
			push(stack[len(stack)-1])
		case OpRet:
			if len(stack) == 0 {
				return nil, nil
			}
			return pop(), nil
		}
	}
	if len(stack) == 0 {
		return nil, nil
	}
	return stack[len(stack)-1], nil
}

func send(c *vm.Context, sites []*vm.CallSite, i int, recv vm.Value, in Instr, args []vm.Value, flags vm.CallFlags) (vm.Value, error) {
	if sites != nil {
		return c.SendSite(sites[i], recv, args, nil)
	}
	return c.Invoke(recv, c.Runtime().Intern(in.Name), args, nil, flags)
}

// constant resolves name lexically from the class that owns the running
// method. Class methods resolve from the class itself.
func constant(c *vm.Context, name string) (vm.Value, error) {
	rt := c.Runtime()
	var scope *vm.Class
	if f := c.CurrentFrame(); f != nil {
		scope = f.Owner
		if scope != nil && scope.IsMetaclass() {
			if k, ok := scope.Attached().(*vm.Class); ok {
				scope = k
			}
		}
	}
	v, ok := rt.ResolveConstantFrom(scope, name)
	if !ok {
		return nil, c.Raisef(rt.Core.NameError, "uninitialized constant %s", name)
	}
	return v, nil
}
