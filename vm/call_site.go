package vm

import "sync/atomic"

// Call-site caching
//
// Most call sites only ever see one receiver class, a few see a handful and
// a small minority see many. Each CallSite keeps a small polymorphic cache
// of runtime cache entries in front of the shared cache, and gives up
// (megamorphic) once it has seen more classes than it may hold.

// CacheState is the state of a call-site cache.
type CacheState uint8

const (
	CacheEmpty       CacheState = iota // nothing cached yet
	CacheMonomorphic                   // one receiver class
	CachePolymorphic                   // 2..limit receiver classes
	CacheMegamorphic                   // too many classes; always use the shared cache
)

func (s CacheState) String() string {
	switch s {
	case CacheEmpty:
		return "empty"
	case CacheMonomorphic:
		return "monomorphic"
	case CachePolymorphic:
		return "polymorphic"
	case CacheMegamorphic:
		return "megamorphic"
	}
	return "unknown"
}

// MaxPICEntries is the largest polymorphic cache a call site may hold.
const MaxPICEntries = 6

type siteState struct {
	kind    CacheState
	entries []*CacheEntry
}

// CallSite is one send location in compiled code. It may be shared by
// every context executing that code; its cache is replaced, never edited.
type CallSite struct {
	Selector Selector
	Flags    CallFlags

	state  atomic.Pointer[siteState]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCallSite creates a call site for selector.
func (rt *Runtime) NewCallSite(selector string, flags CallFlags) *CallSite {
	return &CallSite{Selector: rt.selectors.Intern(selector), Flags: flags}
}

func (s *CallSite) lookup(class *Class) *CacheEntry {
	st := s.state.Load()
	if st != nil && st.kind != CacheMegamorphic {
		for _, e := range st.entries {
			if e.Class == class && e.Valid() {
				s.hits.Add(1)
				return e
			}
		}
	}
	s.misses.Add(1)
	return nil
}

func (s *CallSite) update(e *CacheEntry, limit int) {
	for {
		old := s.state.Load()
		next := &siteState{}
		if old != nil {
			if old.kind == CacheMegamorphic {
				return
			}
			next.entries = make([]*CacheEntry, 0, len(old.entries)+1)
			for _, o := range old.entries {
				// Drop the stale entry for the same class and any
				// entry that no longer validates.
				if o.Class != e.Class && o.Valid() {
					next.entries = append(next.entries, o)
				}
			}
		}
		next.entries = append(next.entries, e)
		switch n := len(next.entries); {
		case n > limit:
			next = &siteState{kind: CacheMegamorphic}
		case n == 1:
			next.kind = CacheMonomorphic
		default:
			next.kind = CachePolymorphic
		}
		if s.state.CompareAndSwap(old, next) {
			return
		}
	}
}

// State returns the call site's cache state.
func (s *CallSite) State() CacheState {
	if st := s.state.Load(); st != nil {
		return st.kind
	}
	return CacheEmpty
}

// Len returns the number of receiver classes cached.
func (s *CallSite) Len() int {
	if st := s.state.Load(); st != nil {
		return len(st.entries)
	}
	return 0
}

// Hits returns how many lookups the site answered itself.
func (s *CallSite) Hits() uint64 { return s.hits.Load() }

// Misses returns how many lookups fell through to the shared cache.
func (s *CallSite) Misses() uint64 { return s.misses.Load() }

// HitRate returns the hit rate as a percentage (0-100).
func (s *CallSite) HitRate() float64 {
	h, m := s.hits.Load(), s.misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) * 100 / float64(h+m)
}

// Reset empties the cache and its counters.
func (s *CallSite) Reset() {
	s.state.Store(nil)
	s.hits.Store(0)
	s.misses.Store(0)
}

// SendSite dispatches through a call site's cache.
func (c *Context) SendSite(site *CallSite, recv Value, args []Value, blk *Closure) (Value, error) {
	return c.invoke(recv, site.Selector, args, blk, site.Flags, site)
}
