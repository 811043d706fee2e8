package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chazu/roxor/vm"
	"github.com/tliron/commonlog"
)

func log() commonlog.Logger {
	return commonlog.GetLogger("roxor.compiler")
}

// Store persists compiled programs by content hash.
type Store interface {
	Load(hash string) (*Program, bool, error)
	Save(hash string, prog *Program) error
}

// HashSource returns the content hash of program text. Comments, blank
// lines and spacing do not contribute.
func HashSource(src string) string {
	var b strings.Builder
	for _, line := range strings.Split(src, "\n") {
		fields, err := splitFields(line)
		if err != nil {
			b.WriteString(line)
			b.WriteByte('\n')
			continue
		}
		if len(fields) == 0 {
			continue
		}
		b.WriteString(strings.Join(fields, " "))
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ProgramCache memoizes parsed programs by content hash, optionally backed
// by a persistent Store. Store failures are logged and otherwise ignored.
type ProgramCache struct {
	mu       sync.RWMutex
	programs map[string]*Program
	store    Store

	hits   atomic.Uint64
	loads  atomic.Uint64
	parses atomic.Uint64
}

// NewProgramCache creates a cache. store may be nil.
func NewProgramCache(store Store) *ProgramCache {
	return &ProgramCache{programs: make(map[string]*Program), store: store}
}

// Get returns the program for src, parsing it only if neither the memory
// cache nor the store has it.
func (pc *ProgramCache) Get(src string) (*Program, string, error) {
	hash := HashSource(src)

	pc.mu.RLock()
	prog, ok := pc.programs[hash]
	pc.mu.RUnlock()
	if ok {
		pc.hits.Add(1)
		return prog, hash, nil
	}

	if pc.store != nil {
		stored, found, err := pc.store.Load(hash)
		switch {
		case err != nil:
			log().Warningf("code cache load %s: %s", hash[:12], err)
		case found:
			pc.loads.Add(1)
			pc.put(hash, stored)
			return stored, hash, nil
		}
	}

	prog, err := Parse(src)
	if err != nil {
		return nil, hash, err
	}
	pc.parses.Add(1)
	pc.put(hash, prog)
	if pc.store != nil {
		if err := pc.store.Save(hash, prog); err != nil {
			log().Warningf("code cache save %s: %s", hash[:12], err)
		}
	}
	return prog, hash, nil
}

func (pc *ProgramCache) put(hash string, prog *Program) {
	pc.mu.Lock()
	pc.programs[hash] = prog
	pc.mu.Unlock()
}

// Len returns the number of programs held in memory.
func (pc *ProgramCache) Len() int {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return len(pc.programs)
}

// CacheStats counts where programs came from.
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Loads  uint64 `json:"loads"`
	Parses uint64 `json:"parses"`
}

// Stats returns the cache counters.
func (pc *ProgramCache) Stats() CacheStats {
	return CacheStats{Hits: pc.hits.Load(), Loads: pc.loads.Load(), Parses: pc.parses.Load()}
}

// Producer compiles program text into methods. It implements vm.Producer.
type Producer struct {
	Cache *ProgramCache
}

// NewProducer creates a producer with an in-memory cache over store,
// which may be nil.
func NewProducer(store Store) *Producer {
	return &Producer{Cache: NewProgramCache(store)}
}

// Compile accepts program text (string or []byte) or an already parsed
// *Program.
func (p *Producer) Compile(body vm.Body) (vm.Method, vm.Arity, error) {
	var src string
	switch b := body.(type) {
	case *Program:
		return NewMethod(b, ""), b.Arity(), nil
	case string:
		src = b
	case []byte:
		src = string(b)
	default:
		return nil, vm.Arity{}, fmt.Errorf("compiler: unsupported body type %T", body)
	}

	var (
		prog *Program
		hash string
		err  error
	)
	if p.Cache != nil {
		prog, hash, err = p.Cache.Get(src)
	} else {
		hash = HashSource(src)
		prog, err = Parse(src)
	}
	if err != nil {
		return nil, vm.Arity{}, err
	}
	return NewMethod(prog, hash), prog.Arity(), nil
}
