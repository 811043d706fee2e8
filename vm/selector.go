package vm

import (
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Selector is the interned ID of a method name. IDs are dense and stable for
// the lifetime of a runtime, so they can key method tables and caches.
type Selector int

// NoSelector is returned by Lookup for names that were never interned.
const NoSelector Selector = -1

// SelectorTable interns method names to numeric IDs.
//
// Names are normalized to Unicode NFC before interning when normalization is
// enabled, so "café" typed with a combining accent and with a precomposed
// character resolve to the same method.
//
// The table is append-only and safe for concurrent use.
type SelectorTable struct {
	mu        sync.RWMutex
	byName    map[string]Selector
	byID      []string
	normalize bool
}

// NewSelectorTable creates an empty selector table.
func NewSelectorTable(normalize bool) *SelectorTable {
	return &SelectorTable{
		byName:    make(map[string]Selector),
		byID:      make([]string, 0, 256),
		normalize: normalize,
	}
}

func (st *SelectorTable) canonical(name string) string {
	if st.normalize && !norm.NFC.IsNormalString(name) {
		return norm.NFC.String(name)
	}
	return name
}

// Intern returns the ID for a name, creating a new ID if needed.
func (st *SelectorTable) Intern(name string) Selector {
	name = st.canonical(name)

	st.mu.RLock()
	if id, ok := st.byName[name]; ok {
		st.mu.RUnlock()
		return id
	}
	st.mu.RUnlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	// Double-check after acquiring write lock
	if id, ok := st.byName[name]; ok {
		return id
	}

	id := Selector(len(st.byID))
	st.byName[name] = id
	st.byID = append(st.byID, name)
	return id
}

// Lookup returns the ID for a name, or NoSelector if it was never interned.
func (st *SelectorTable) Lookup(name string) Selector {
	name = st.canonical(name)
	st.mu.RLock()
	defer st.mu.RUnlock()
	if id, ok := st.byName[name]; ok {
		return id
	}
	return NoSelector
}

// Name returns the name for an ID, or "" if invalid.
func (st *SelectorTable) Name(id Selector) string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if id < 0 || int(id) >= len(st.byID) {
		return ""
	}
	return st.byID[id]
}

// Len returns the number of interned selectors.
func (st *SelectorTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byID)
}

// InternAll interns multiple names and returns their IDs.
func (st *SelectorTable) InternAll(names ...string) []Selector {
	ids := make([]Selector, len(names))
	for i, name := range names {
		ids[i] = st.Intern(name)
	}
	return ids
}
