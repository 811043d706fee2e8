package fixture

import (
	"context"
	"fmt"
	"strings"

	"github.com/chazu/roxor/vm"
)

// Result is the outcome of one check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Want   string `json:"want"`
	Got    string `json:"got"`
}

// Failed counts failing results.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.Passed {
			n++
		}
	}
	return n
}

// Run evaluates every check in its own execution context. Cancelling ctx
// interrupts the check in progress; the remaining checks are reported as
// failed.
func Run(ctx context.Context, rt *vm.Runtime, doc *Document) []Result {
	results := make([]Result, 0, len(doc.Checks))
	for i := range doc.Checks {
		results = append(results, runCheck(ctx, rt, &doc.Checks[i]))
	}
	return results
}

func runCheck(ctx context.Context, rt *vm.Runtime, chk *Check) Result {
	res := Result{Name: chk.Name, Want: want(chk)}
	if res.Name == "" {
		res.Name = fmt.Sprintf("%s#%s", chk.Receiver, chk.Send)
	}
	if err := ctx.Err(); err != nil {
		res.Got = "not run: " + err.Error()
		return res
	}

	c := rt.NewContext()
	defer c.Close()

	got, err := c.Run(ctx, func(c *vm.Context) (vm.Value, error) {
		return send(c, chk)
	})
	if err != nil {
		ex, ok := vm.AsException(err)
		if !ok {
			res.Got = "error: " + err.Error()
			return res
		}
		res.Got = "raise " + ex.Class().Name() + ": " + ex.Message
		if chk.Raises == "" {
			return res
		}
		k, ok := rt.ClassNamed(chk.Raises)
		res.Passed = ok && rt.KindOf(ex, k) && strings.Contains(ex.Message, chk.Message)
		return res
	}

	res.Got = Render(got)
	if chk.Raises != "" {
		return res
	}
	expect, err := ToValue(chk.Expect)
	if err != nil {
		res.Want = err.Error()
		return res
	}
	res.Passed = Render(expect) == res.Got
	return res
}

func send(c *vm.Context, chk *Check) (vm.Value, error) {
	rt := c.Runtime()
	var recv vm.Value
	switch chk.Receiver {
	case "":
	case "main":
		recv = rt.TopSelf()
	default:
		v, ok := rt.ResolveConstant(nil, chk.Receiver)
		if !ok {
			return nil, c.Raisef(rt.Core.NameError, "uninitialized constant %s", chk.Receiver)
		}
		recv = v
	}

	if chk.New {
		newArgs, err := toValues(chk.NewArgs)
		if err != nil {
			return nil, c.Raise(rt.Core.ArgumentError, err.Error())
		}
		if recv, err = c.Send(recv, "new", newArgs...); err != nil {
			return nil, err
		}
	}

	args, err := toValues(chk.Args)
	if err != nil {
		return nil, c.Raise(rt.Core.ArgumentError, err.Error())
	}
	var flags vm.CallFlags
	if chk.Functional {
		flags = vm.CallFunctional
	}
	return c.Invoke(recv, rt.Intern(chk.Send), args, nil, flags)
}

func want(chk *Check) string {
	if chk.Raises != "" {
		if chk.Message != "" {
			return fmt.Sprintf("raise %s: ...%s...", chk.Raises, chk.Message)
		}
		return "raise " + chk.Raises
	}
	v, err := ToValue(chk.Expect)
	if err != nil {
		return err.Error()
	}
	return Render(v)
}

// Render formats a value for reports. Lists render element-wise.
func Render(v vm.Value) string {
	if list, ok := v.([]vm.Value); ok {
		parts := make([]string, len(list))
		for i, e := range list {
			parts[i] = Render(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return vm.Inspect(v)
}
