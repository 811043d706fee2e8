package vm

import (
	"sort"
	"strconv"
	"strings"
)

type constEntry struct {
	value Value
	epoch uint64
}

// SetOuter records outer as the lexical scope class was defined in. The
// record only changes when outer differs from the current one. Making a
// class its own lexical ancestor is corruption.
func (rt *Runtime) SetOuter(class, outer *Class) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.setOuterLocked(class, outer)
}

func (rt *Runtime) setOuterLocked(class, outer *Class) {
	var id ClassID
	if outer != nil {
		id = outer.id
		for k := outer; k != nil; k = rt.classAt(k.outer) {
			if k == class {
				fatalf("outer cycle: %s inside %s", class.name, outer.name)
			}
		}
	}
	if class.outer == id {
		return
	}
	class.outer = id
	rt.constEpoch.Add(1)
	log().Debugf("outer %s -> %s", class.name, outer.Name())
}

// Outer returns the lexical scope class was defined in, or nil.
func (rt *Runtime) Outer(class *Class) *Class {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.classAt(class.outer)
}

// LexicalPath returns class followed by each enclosing scope, innermost
// first.
func (rt *Runtime) LexicalPath(class *Class) []*Class {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var path []*Class
	for k := class; k != nil; k = rt.classAt(k.outer) {
		path = append(path, k)
	}
	return path
}

// SetConstant binds name in scope's constant table.
func (rt *Runtime) SetConstant(scope *Class, name string, v Value) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.bindConstLocked(scope, name, v)
}

func (rt *Runtime) bindConstLocked(scope *Class, name string, v Value) {
	scope.consts[name] = v
	rt.constEpoch.Add(1)
}

// RemoveConstant unbinds name from scope's own table.
func (rt *Runtime) RemoveConstant(scope *Class, name string) (Value, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	v, ok := scope.consts[name]
	if ok {
		delete(scope.consts, name)
		rt.constEpoch.Add(1)
	}
	return v, ok
}

// ConstantNames returns the names bound directly in scope, sorted.
func (rt *Runtime) ConstantNames(scope *Class) []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	names := make([]string, 0, len(scope.consts))
	for n := range scope.consts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ResolveConstant looks name up from the lexical path (innermost scope
// first). Each scope's own table is searched outward, then the ancestry of
// each scope, then Object. Qualified names (A::B) resolve their first
// segment that way and the rest inside the class found.
func (rt *Runtime) ResolveConstant(path []*Class, name string) (Value, bool) {
	key := constKey(path, name)
	epoch := rt.constEpoch.Load()
	if v, ok := rt.consts.Load(key); ok {
		e := v.(*constEntry)
		if e.epoch == epoch {
			rt.stats.constHits.Add(1)
			return e.value, true
		}
	}
	rt.stats.constMisses.Add(1)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	epoch = rt.constEpoch.Load()

	segments := strings.Split(name, "::")
	v, ok := rt.lexicalLookup(path, segments[0])
	for _, seg := range segments[1:] {
		if !ok {
			break
		}
		scope, isClass := v.(*Class)
		if !isClass {
			return nil, false
		}
		v, ok = rt.scopedLookup(scope, seg)
	}
	if !ok {
		return nil, false
	}
	rt.consts.Store(key, &constEntry{value: v, epoch: epoch})
	return v, true
}

// ResolveConstantFrom resolves name from inside scope's lexical nesting.
func (rt *Runtime) ResolveConstantFrom(scope *Class, name string) (Value, bool) {
	if scope == nil {
		return rt.ResolveConstant(nil, name)
	}
	return rt.ResolveConstant(rt.LexicalPath(scope), name)
}

func (rt *Runtime) lexicalLookup(path []*Class, name string) (Value, bool) {
	for _, s := range path {
		if v, ok := s.consts[name]; ok {
			return v, true
		}
	}
	for _, s := range path {
		if v, ok := rt.scopedLookup(s, name); ok {
			return v, true
		}
	}
	return rt.scopedLookup(rt.Core.Object, name)
}

func (rt *Runtime) scopedLookup(scope *Class, name string) (Value, bool) {
	for _, k := range rt.ancestors(scope) {
		if v, ok := k.consts[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func constKey(path []*Class, name string) string {
	var b strings.Builder
	for _, s := range path {
		b.WriteString(strconv.FormatUint(uint64(s.id), 10))
		b.WriteByte('/')
	}
	b.WriteString(name)
	return b.String()
}
