package vm

import (
	"fmt"
	"sync/atomic"
)

// Stats counts dispatch-core events. Counters are updated atomically from
// every context.
type Stats struct {
	hits            atomic.Uint64
	misses          atomic.Uint64
	fills           atomic.Uint64
	invalidations   atomic.Uint64
	compiles        atomic.Uint64
	compileFailures atomic.Uint64
	methodMissing   atomic.Uint64
	constHits       atomic.Uint64
	constMisses     atomic.Uint64
	raises          atomic.Uint64
	throws          atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	CacheHits       uint64  `json:"cache_hits"`
	CacheMisses     uint64  `json:"cache_misses"`
	CacheFills      uint64  `json:"cache_fills"`
	HitRate         float64 `json:"hit_rate"`
	Invalidations   uint64  `json:"invalidations"`
	Compiles        uint64  `json:"compiles"`
	CompileFailures uint64  `json:"compile_failures"`
	MethodMissing   uint64  `json:"method_missing"`
	ConstHits       uint64  `json:"const_hits"`
	ConstMisses     uint64  `json:"const_misses"`
	Raises          uint64  `json:"raises"`
	Throws          uint64  `json:"throws"`
}

// Stats returns a snapshot of the runtime's counters.
func (rt *Runtime) Stats() StatsSnapshot {
	s := &rt.stats
	snap := StatsSnapshot{
		CacheHits:       s.hits.Load(),
		CacheMisses:     s.misses.Load(),
		CacheFills:      s.fills.Load(),
		Invalidations:   s.invalidations.Load(),
		Compiles:        s.compiles.Load(),
		CompileFailures: s.compileFailures.Load(),
		MethodMissing:   s.methodMissing.Load(),
		ConstHits:       s.constHits.Load(),
		ConstMisses:     s.constMisses.Load(),
		Raises:          s.raises.Load(),
		Throws:          s.throws.Load(),
	}
	if total := snap.CacheHits + snap.CacheMisses; total > 0 {
		snap.HitRate = float64(snap.CacheHits) * 100 / float64(total)
	}
	return snap
}

// ResetStats zeroes every counter.
func (rt *Runtime) ResetStats() {
	s := &rt.stats
	for _, c := range []*atomic.Uint64{
		&s.hits, &s.misses, &s.fills, &s.invalidations, &s.compiles,
		&s.compileFailures, &s.methodMissing, &s.constHits, &s.constMisses,
		&s.raises, &s.throws,
	} {
		c.Store(0)
	}
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"cache: %d hits, %d misses (%.1f%%), %d fills, %d invalidations\ncompile: %d, %d failed\nmethod_missing: %d, raises: %d, throws: %d\nconstants: %d hits, %d misses",
		s.CacheHits, s.CacheMisses, s.HitRate, s.CacheFills, s.Invalidations,
		s.Compiles, s.CompileFailures,
		s.MethodMissing, s.Raises, s.Throws,
		s.ConstHits, s.ConstMisses,
	)
}
