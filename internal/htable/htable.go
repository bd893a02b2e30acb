// Package htable implements the codepoint interner described in spec.md
// §4.2: an open-addressed, linearly-probed, power-of-two-capacity hash
// table mapping a codepoint key to its assigned index, with an 0.7 load
// factor ceiling, no deletion, and two optional behaviors — probe/insert
// statistics and boost-on-get — that the original C extension gated
// behind build flags (HTABLE_COLLECT_STATS, HTABLE_BOOST_GETS; spec.md
// §9).
package htable

import (
	"hash/maphash"
	"sync"
)

// Key is an intern key: a variant-tagged byte string built by the
// PyFuncKey/CFuncKey/LoglineKey constructors. Codepoints are compared (and
// hashed) by value, not by pointer identity — spec.md §4.2 notes this is
// required "for strings compared by value".
type Key string

// initialCapacity is the starting slot count; must be a power of two.
const initialCapacity = 16

// loadFactorCeiling is the maximum count/capacity ratio before a resize.
const loadFactorCeiling = 0.7

// Stats holds interner diagnostics, meaningful only when stats collection
// is enabled (see WithStats). Exposed via internal/diag as a Prometheus
// collector (spec.md §4.2: "exposed via a diagnostic endpoint").
type Stats struct {
	Lookups uint64
	Probes  uint64
	Inserts uint64
	Resizes uint64
}

type slot struct {
	used  bool
	key   Key
	value int
}

// Table is a codepoint interner. The zero value is not usable; construct
// with New. Table is safe for concurrent use: LookupOrInsert holds an
// internal mutex for the duration of the probe and, on a miss, the
// caller-supplied make function and its insertion (spec.md §4.5: "the
// critical section is O(probe-length + write-one-record)").
type Table struct {
	mu           sync.Mutex
	slots        []slot
	count        int
	collectStats bool
	boostOnGet   bool
	stats        Stats
	seed         maphash.Seed
}

// Option configures a Table at construction time.
type Option func(*Table)

// WithStats enables probe/insert/resize counters.
func WithStats(enabled bool) Option { return func(t *Table) { t.collectStats = enabled } }

// WithBoostOnGet enables the boost-on-get migration strategy: a lookup
// that required more than one probe swaps its entry one step closer to
// its ideal slot in the probe chain, so that hot keys migrate toward
// zero-probe lookups over repeated accesses.
func WithBoostOnGet(enabled bool) Option { return func(t *Table) { t.boostOnGet = enabled } }

// New constructs an empty Table.
func New(opts ...Option) *Table {
	t := &Table{
		slots: make([]slot, initialCapacity),
		seed:  maphash.MakeSeed(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Table) hash(k Key) uint64 { return maphash.String(t.seed, string(k)) }

// find returns, for key, either the slot holding it (found=true) or the
// first empty slot on its probe path (found=false, the correct insertion
// point for a table with no tombstones). probes is the number of
// occupied slots walked past before landing on idx.
func (t *Table) find(key Key) (idx int, probes int, found bool) {
	mask := len(t.slots) - 1
	idx = int(t.hash(key)) & mask
	for {
		s := &t.slots[idx]
		if !s.used {
			return idx, probes, false
		}
		if s.key == key {
			return idx, probes, true
		}
		idx = (idx + 1) & mask
		probes++
	}
}

// boost swaps the entry at idx with its immediate predecessor in the
// probe sequence, moving it one step closer to its own ideal slot. This
// is always correctness-preserving: idx was only reached because every
// slot from its ideal bucket up to and including idx-1 was occupied, so
// swapping two adjacent occupied slots in that run leaves every key's
// probe sequence (which just walks forward through occupied slots)
// intact — each key is still found by starting from its own ideal bucket
// and scanning forward (spec.md §4.2).
func (t *Table) boost(idx int) {
	mask := len(t.slots) - 1
	prev := (idx - 1) & mask
	t.slots[idx], t.slots[prev] = t.slots[prev], t.slots[idx]
}

// LookupOrInsert returns the index associated with key, inserting it via
// makeValue if absent. makeValue is invoked at most once, and its result
// is persisted before LookupOrInsert returns (spec.md §4.2).
func (t *Table) LookupOrInsert(key Key, makeValue func() int) (index int, inserted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.collectStats {
		t.stats.Lookups++
	}

	idx, probes, found := t.find(key)
	if found {
		if t.collectStats {
			t.stats.Probes += uint64(probes)
		}
		if t.boostOnGet && probes > 0 {
			t.boost(idx)
			idx = (idx - 1) & (len(t.slots) - 1)
		}
		return t.slots[idx].value, false
	}

	if float64(t.count+1) > loadFactorCeiling*float64(len(t.slots)) {
		t.resize()
		idx, _, _ = t.find(key) // recompute insertion point in the new table
	}

	value := makeValue()
	t.slots[idx] = slot{used: true, key: key, value: value}
	t.count++
	if t.collectStats {
		t.stats.Inserts++
	}
	return value, true
}

func (t *Table) resize() {
	old := t.slots
	t.slots = make([]slot, len(old)*2)
	t.count = 0
	for _, s := range old {
		if !s.used {
			continue
		}
		idx, _, _ := t.find(s.key)
		t.slots[idx] = s
		t.count++
	}
	if t.collectStats {
		t.stats.Resizes++
	}
}

// Len returns the number of interned keys.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Capacity returns the current slot count.
func (t *Table) Capacity() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// StatsSnapshot returns a copy of the current diagnostic counters. Zero
// unless WithStats(true) was passed to New.
func (t *Table) StatsSnapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
