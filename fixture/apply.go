package fixture

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/chazu/roxor/compiler"
	"github.com/chazu/roxor/vm"
	"github.com/tliron/commonlog"
)

func log() commonlog.Logger {
	return commonlog.GetLogger("roxor.fixture")
}

// NewRuntime creates a runtime whose producer understands fixture method
// bodies. A producer already present in opts is kept.
func NewRuntime(opts vm.Options) *vm.Runtime {
	if opts.Producer == nil {
		opts.Producer = compiler.NewProducer(nil)
	}
	return vm.New(opts)
}

// Apply builds the document's hierarchy in rt.
func Apply(rt *vm.Runtime, doc *Document) error {
	for i := range doc.Classes {
		if err := applyClass(rt, &doc.Classes[i]); err != nil {
			return fmt.Errorf("%s: %w", doc.Classes[i].Name, err)
		}
	}
	log().Debugf("applied fixture %s: %d classes", doc.Name, len(doc.Classes))
	return nil
}

func applyClass(rt *vm.Runtime, def *ClassDef) error {
	var outer *vm.Class
	if def.Outer != "" {
		var err error
		if outer, err = lookupClass(rt, def.Outer); err != nil {
			return err
		}
	}

	var (
		k   *vm.Class
		err error
	)
	if def.Module {
		k, err = rt.DefineModule(def.Name, outer)
	} else {
		var super *vm.Class
		if def.Superclass != "" {
			if super, err = lookupClass(rt, def.Superclass); err != nil {
				return err
			}
		}
		k, err = rt.DefineClass(def.Name, super, outer)
	}
	if err != nil {
		return err
	}

	for _, name := range def.Include {
		if err := mixin(rt, k, name, false); err != nil {
			return err
		}
	}
	for _, name := range def.Prepend {
		if err := mixin(rt, k, name, true); err != nil {
			return err
		}
	}

	for _, name := range sortedKeys(def.Constants) {
		v, err := ToValue(def.Constants[name])
		if err != nil {
			return fmt.Errorf("constant %s: %w", name, err)
		}
		rt.SetConstant(k, name, v)
	}

	for _, a := range def.Attrs {
		rt.DefineAttr(k, a.Name, a.Reader || !a.Writer, a.Writer)
	}

	for _, m := range def.Methods {
		vis, err := vm.ParseVisibility(m.Visibility)
		if err != nil {
			return fmt.Errorf("method %s: %w", m.Name, err)
		}
		target := k
		if m.Singleton {
			target = k.Metaclass()
		}
		if m.Eager {
			if err := rt.CompileMethod(target, m.Name, m.Body, vis); err != nil {
				return fmt.Errorf("method %s: %w", m.Name, err)
			}
			continue
		}
		rt.DefineMethod(target, m.Name, m.Body, vis)
	}

	for _, name := range sortedKeys(def.Aliases) {
		if err := rt.AliasMethod(k, name, def.Aliases[name]); err != nil {
			return fmt.Errorf("alias %s: %w", name, err)
		}
	}
	for _, name := range def.Undef {
		if err := rt.UndefineMethod(k, name); err != nil {
			return fmt.Errorf("undef %s: %w", name, err)
		}
	}
	for _, name := range def.Remove {
		if err := rt.RemoveMethod(k, name); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

func mixin(rt *vm.Runtime, k *vm.Class, name string, prepend bool) error {
	mod, err := lookupClass(rt, name)
	if err != nil {
		return err
	}
	if err := rt.IncludeModule(k, mod, prepend); err != nil {
		return fmt.Errorf("mixing %s into %s: %w", name, k.Name(), err)
	}
	return nil
}

func lookupClass(rt *vm.Runtime, name string) (*vm.Class, error) {
	k, ok := rt.ClassNamed(name)
	if !ok {
		return nil, fmt.Errorf("uninitialized constant %s", name)
	}
	return k, nil
}

// ToValue converts a decoded YAML or CUE scalar into a runtime value.
// Strings of the form ":name" become symbols.
func ToValue(v any) (vm.Value, error) {
	switch x := v.(type) {
	case nil, bool, int64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d out of range", x)
		}
		return int64(x), nil
	case string:
		if len(x) > 1 && strings.HasPrefix(x, ":") {
			return vm.Symbol(x[1:]), nil
		}
		return x, nil
	case []any:
		out := make([]vm.Value, len(x))
		for i, e := range x {
			ev, err := ToValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value %v (%T)", v, v)
}

func toValues(vs []any) ([]vm.Value, error) {
	out := make([]vm.Value, len(vs))
	for i, v := range vs {
		x, err := ToValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
