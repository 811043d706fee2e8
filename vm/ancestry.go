package vm

import "fmt"

// Ancestors returns the linearized ancestry of class: the order in which
// method lookup searches it.
func (rt *Runtime) Ancestors(class *Class) []*Class {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.ancestors(class)
}

// ancestors linearizes class. For each class on the superclass chain it
// emits its prepended modules (latest first), the class itself, then its
// included modules (latest first), expanding each module the same way. A
// module reachable from several places keeps only its first, most derived,
// position. Caller holds rt.mu.
func (rt *Runtime) ancestors(class *Class) []*Class {
	out := make([]*Class, 0, 8)
	seen := make(map[ClassID]struct{}, 8)
	for k := class; k != nil; k = rt.classAt(k.super) {
		rt.expand(&out, seen, k)
	}
	return out
}

func (rt *Runtime) expand(out *[]*Class, seen map[ClassID]struct{}, k *Class) {
	for i := len(k.prepends) - 1; i >= 0; i-- {
		rt.expand(out, seen, rt.classAt(k.prepends[i]))
	}
	if _, dup := seen[k.id]; !dup {
		seen[k.id] = struct{}{}
		*out = append(*out, k)
	}
	for i := len(k.includes) - 1; i >= 0; i-- {
		rt.expand(out, seen, rt.classAt(k.includes[i]))
	}
}

// IncludeModule mixes module into class. With prepend the module is
// searched before the class's own table, otherwise right after it.
// Including a module already mixed into class directly is a no-op.
func (rt *Runtime) IncludeModule(class, module *Class, prepend bool) error {
	if !module.IsModule() {
		return fmt.Errorf("include %s into %s: %w", module.name, class.name, ErrNotModule)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if class == module {
		return fmt.Errorf("include %s into itself: %w", module.name, ErrCyclicInclude)
	}
	for _, k := range rt.ancestors(module) {
		if k == class {
			return fmt.Errorf("include %s into %s: %w", module.name, class.name, ErrCyclicInclude)
		}
	}

	list := &class.includes
	if prepend {
		list = &class.prepends
	}
	for _, id := range *list {
		if id == module.id {
			return nil
		}
	}
	*list = append(*list, module.id)

	class.bumpShape()
	rt.constEpoch.Add(1)
	rt.stats.invalidations.Add(1)
	if prepend {
		log().Debugf("prepend %s to %s", module.name, class.name)
	} else {
		log().Debugf("include %s in %s", module.name, class.name)
	}
	return nil
}

// Includes returns the modules included directly into class.
func (rt *Runtime) Includes(class *Class) []*Class {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.classList(class.includes)
}

// Prepends returns the modules prepended directly to class.
func (rt *Runtime) Prepends(class *Class) []*Class {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.classList(class.prepends)
}

func (rt *Runtime) classList(ids []ClassID) []*Class {
	out := make([]*Class, len(ids))
	for i, id := range ids {
		out[i] = rt.classAt(id)
	}
	return out
}
