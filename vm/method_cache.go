package vm

// EntryKind tags a method cache entry.
type EntryKind uint8

const (
	// EntryUnresolved records that no ancestor defines the selector, so
	// dispatch goes straight to method_missing.
	EntryUnresolved EntryKind = iota
	EntryNative
	EntryBody
	EntryBridged
)

func (k EntryKind) String() string {
	switch k {
	case EntryUnresolved:
		return "unresolved"
	case EntryNative:
		return "native"
	case EntryBody:
		return "body"
	case EntryBridged:
		return "bridged"
	}
	return "unknown"
}

// stamp is the state of one class a cache entry depends on.
type stamp struct {
	class *Class
	gen   uint64
	shape uint64
}

func stampOf(k *Class) stamp {
	return stamp{class: k, gen: k.generation.Load(), shape: k.shape.Load()}
}

// CacheEntry is the published result of resolving a selector for a class.
// Entries are immutable; a refill publishes a new entry.
type CacheEntry struct {
	Kind       EntryKind
	Selector   Selector
	Class      *Class // the class the lookup was made for
	Owner      *Class // the class whose table supplied the method
	Node       *MethodNode
	Method     Method
	Arity      Arity
	Visibility Visibility

	global uint64
	deps   []stamp
}

// Found reports whether the entry resolves to a method.
func (e *CacheEntry) Found() bool { return e.Kind != EntryUnresolved }

// Valid reports whether every class the entry was computed from is
// unchanged since the fill.
func (e *CacheEntry) Valid() bool {
	if e.global != e.Class.rt.globalGen.Load() {
		return false
	}
	for _, d := range e.deps {
		if d.class.generation.Load() != d.gen || d.class.shape.Load() != d.shape {
			return false
		}
	}
	return true
}

type cacheKey struct {
	class ClassID
	sel   Selector
	after ClassID // super lookups start after this ancestor
}

// LookupCache returns a valid cached entry for (class, sel) without taking
// the mutation lock.
func (rt *Runtime) LookupCache(class *Class, sel Selector) (*CacheEntry, bool) {
	return rt.lookupCache(cacheKey{class: class.id, sel: sel})
}

func (rt *Runtime) lookupCache(key cacheKey) (*CacheEntry, bool) {
	v, ok := rt.cache.Load(key)
	if !ok {
		return nil, false
	}
	e := v.(*CacheEntry)
	if !e.Valid() {
		return nil, false
	}
	return e, true
}

// ResolveAndFill walks the ancestry of class for sel, compiling a lazy
// source if that is what it finds, and publishes the result. found is false
// when no ancestor defines sel or the nearest definition is an undef.
func (rt *Runtime) ResolveAndFill(class *Class, sel Selector) (*CacheEntry, bool, error) {
	return rt.resolveAndFill(class, sel, nil)
}

func (rt *Runtime) resolveAndFill(class *Class, sel Selector, after *Class) (*CacheEntry, bool, error) {
	key := cacheKey{class: class.id, sel: sel}
	if after != nil {
		key.after = after.id
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	// Another context may have filled the entry while we waited.
	if e, ok := rt.lookupCache(key); ok {
		return e, e.Found(), nil
	}

	entry := &CacheEntry{
		Selector: sel,
		Class:    class,
		global:   rt.globalGen.Load(),
		deps:     []stamp{stampOf(class)},
	}

	chain := rt.ancestors(class)
	start := 0
	if after != nil {
		start = len(chain)
		for i, k := range chain {
			if k == after {
				start = i + 1
				break
			}
		}
		// The position of after depends on everything before it.
		for _, k := range chain[:start] {
			entry.deps = append(entry.deps, stampOf(k))
		}
	}

	for _, k := range chain[start:] {
		if k != class {
			entry.deps = append(entry.deps, stampOf(k))
		}
		node := k.methods[sel]
		if node == nil && k.IsBridged() {
			node = rt.bridgeNode(k, sel)
		}
		if node == nil {
			continue
		}
		if node.Kind == NodeUndefined {
			break
		}
		if node.Kind == NodeSource {
			compiled, err := rt.materialize(k, node)
			if err != nil {
				return nil, false, err
			}
			node = compiled
		}

		entry.Owner = node.Owner
		entry.Node = node
		entry.Method = node.Impl
		entry.Arity = node.Arity
		entry.Visibility = node.Visibility
		switch node.Kind {
		case NodeNative:
			entry.Kind = EntryNative
		case NodeBridged:
			entry.Kind = EntryBridged
		default:
			entry.Kind = EntryBody
		}
		rt.cache.Store(key, entry)
		rt.stats.fills.Add(1)
		log().Debugf("cache fill %s#%s -> %s (%s)", class.name, rt.selectors.Name(sel), entry.Owner.name, entry.Kind)
		return entry, true, nil
	}

	rt.cache.Store(key, entry)
	rt.stats.fills.Add(1)
	return entry, false, nil
}

// Invalidate marks cached lookups depending on class stale. Staleness is
// tracked per class, so sel only matters for logging; NoSelector marks a
// whole-table change. A nil class invalidates every entry in the runtime.
func (rt *Runtime) Invalidate(class *Class, sel Selector) {
	rt.stats.invalidations.Add(1)
	if class == nil {
		if rt.globalGen.Add(1) == 0 {
			fatalf("global generation overflow")
		}
		log().Debugf("invalidate all")
		return
	}
	class.bump()
	if sel == NoSelector {
		log().Debugf("invalidate %s (all selectors), generation %d", class.name, class.Generation())
	} else {
		log().Debugf("invalidate %s#%s, generation %d", class.name, rt.selectors.Name(sel), class.Generation())
	}
}

// FlushCache drops every published entry. Entries are otherwise only ever
// replaced, never deleted; this exists for tooling and benchmarks.
func (rt *Runtime) FlushCache() {
	rt.cache.Range(func(k, _ any) bool {
		rt.cache.Delete(k)
		return true
	})
	rt.Invalidate(nil, NoSelector)
}

// FindMethod resolves sel for class and returns its node without going
// through the cache.
func (rt *Runtime) FindMethod(class *Class, name string) (*MethodNode, bool) {
	sel := rt.selectors.Intern(name)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	node := rt.findLocked(class, sel)
	return node, node != nil
}

// findLocked walks the ancestry without compiling sources. Caller holds
// rt.mu.
func (rt *Runtime) findLocked(class *Class, sel Selector) *MethodNode {
	for _, k := range rt.ancestors(class) {
		node := k.methods[sel]
		if node == nil && k.IsBridged() {
			node = rt.bridgeNode(k, sel)
		}
		if node == nil {
			continue
		}
		if node.Kind == NodeUndefined {
			return nil
		}
		return node
	}
	return nil
}
