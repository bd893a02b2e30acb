// Package tracer implements the hot-path engine described in spec.md
// §4.5: per traced thread, a depth counter, a rotdir stream, a shared
// codepoint interner, a timestamp source, and the on_* entry points
// invoked by the (out-of-scope) probe.
package tracer

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tripwire/passover/internal/codec"
	"github.com/tripwire/passover/internal/htable"
	"github.com/tripwire/passover/internal/rotdir"
)

// ErrAlreadyActive is returned by Start when called on a Tracer that is
// already tracing (spec.md §7's TracerAlreadyActive kind). Since
// goroutines, unlike the original's threads, have no stable identity to
// check, the guard is scoped to the *Tracer value itself: calling Start
// twice without an intervening Stop trips it.
var ErrAlreadyActive = errors.New("tracer: already active")

// ErrNotActive is returned by Stop called before Start (or after Stop).
// The on_* entry points return nothing; called while inactive, they do
// nothing.
var ErrNotActive = errors.New("tracer: not active")

const defaultMaxArgs = 32

// Config configures a new Tracer. Dir, Interner, and Codepoints are
// shared across every Tracer in a session; Prefix identifies this
// Tracer's own rotdir stream and time-index file.
type Config struct {
	Dir      *rotdir.Dir
	Prefix   string
	Interner *htable.Table

	// Codepoints is the session's single shared codepoint store. Every
	// Tracer sharing one Interner must also share the same Codepoints,
	// or codepoint indices assigned by one Tracer will be meaningless
	// (or collide) in another's frame of reference.
	Codepoints *CodepointStore

	// MapSize sizes the fmap window backing this Tracer's own
	// time-index file, which lives alongside Dir's ring files (at
	// Dir.Path()) but is never rotated.
	MapSize int

	MaxArgs       int
	IndexInterval time.Duration
	IndexBytes    uint64

	Clock  *Clock
	Logger *slog.Logger
}

// Tracer is the per-thread hot-path engine. The zero value is not
// usable; construct with New.
type Tracer struct {
	dir      *rotdir.Dir
	prefix   string
	interner *htable.Table

	timeIndexPath string
	mapSize       int

	maxArgs       int
	indexInterval uint64 // nanoseconds
	indexBytes    uint64

	clock  *Clock
	logger *slog.Logger

	active atomic.Bool

	stream     *rotdir.Stream
	codepoints *CodepointStore
	timeIndex  *timeIndexWriter

	depth uint16

	lastIndexTime   uint64
	lastIndexOffset uint64

	ignoreMu   sync.Mutex
	ignoreMask map[uint16]IgnoreMask
	ignoreFloor int // -1 when not inside an IgnoreChildren subtree

	scratch []byte

	Stats Stats
}

// New constructs a Tracer from cfg. It does not open any files; call
// Start to begin tracing.
func New(cfg Config) *Tracer {
	maxArgs := cfg.MaxArgs
	if maxArgs <= 0 {
		maxArgs = defaultMaxArgs
	}
	indexInterval := cfg.IndexInterval
	if indexInterval <= 0 {
		indexInterval = time.Millisecond
	}
	indexBytes := cfg.IndexBytes
	if indexBytes == 0 {
		indexBytes = 1 << 20
	}
	clock := cfg.Clock
	if clock == nil {
		clock = NewClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracer{
		dir:           cfg.Dir,
		prefix:        cfg.Prefix,
		interner:      cfg.Interner,
		codepoints:    cfg.Codepoints,
		timeIndexPath: filepath.Join(cfg.Dir.Path(), cfg.Prefix+".timeindex"),
		mapSize:       cfg.MapSize,
		maxArgs:       maxArgs,
		indexInterval: uint64(indexInterval.Nanoseconds()),
		indexBytes:    indexBytes,
		clock:         clock,
		logger:        logger.With("component", "tracer", "prefix", cfg.Prefix),
		ignoreMask:    make(map[uint16]IgnoreMask),
		ignoreFloor:   -1,
		scratch:       make([]byte, 0, 256),
	}
}

// Start opens this Tracer's rotdir stream and time-index file, and
// marks it active. The shared codepoints file was already opened by the
// owning Session before this Tracer was constructed. Returns
// ErrAlreadyActive if already tracing.
func (t *Tracer) Start() error {
	if !t.active.CompareAndSwap(false, true) {
		return ErrAlreadyActive
	}

	stream, err := t.dir.BeginStream(t.prefix)
	if err != nil {
		t.active.Store(false)
		return fmt.Errorf("tracer: start %q: %w", t.prefix, err)
	}
	ti, err := openTimeIndexWriter(t.timeIndexPath, t.mapSize)
	if err != nil {
		_ = stream.EndStream()
		t.active.Store(false)
		return fmt.Errorf("tracer: start %q: %w", t.prefix, err)
	}

	t.stream = stream
	t.timeIndex = ti
	t.depth = 0
	t.lastIndexTime = 0
	t.lastIndexOffset = 0
	t.ignoreFloor = -1
	t.logger.Info("tracer started")
	return nil
}

// Stop flushes the time index and closes the rotdir stream this Tracer
// owns. The shared codepoint store is not this Tracer's to close: its
// owning Session closes it once, after every Tracer sharing it has
// stopped. Stop is cooperative: it must be called from the traced
// thread, outside any in-flight emit call (spec.md §5).
func (t *Tracer) Stop() error {
	if !t.active.CompareAndSwap(true, false) {
		return ErrNotActive
	}
	var errs []error
	if err := t.timeIndex.close(); err != nil {
		errs = append(errs, err)
	}
	if err := t.stream.EndStream(); err != nil {
		errs = append(errs, err)
	}
	t.logger.Info("tracer stopped")
	return errors.Join(errs...)
}

// intern resolves site to a codepoint index, assigning one via the
// shared interner (and persisting the codepoint) on first sight.
func (t *Tracer) intern(site Site) uint16 {
	idx, _ := t.interner.LookupOrInsert(site.internKey(), func() int {
		cpIdx, err := t.codepoints.append(site.codepoint())
		if err != nil {
			t.Stats.ioErrors.Add(1)
			t.logger.Warn("codepoint append failed", "error", err)
		}
		return int(cpIdx)
	})
	return uint16(idx)
}

// lookupIgnoreMask returns the mask registered for cpIndex, or
// IgnoreNone if none was set.
func (t *Tracer) lookupIgnoreMask(cpIndex uint16) IgnoreMask {
	t.ignoreMu.Lock()
	defer t.ignoreMu.Unlock()
	return t.ignoreMask[cpIndex]
}

// SetIgnoreMask configures whether events at site reach the trace. See
// IgnoreMask's doc comment for the exact semantics of each value.
func (t *Tracer) SetIgnoreMask(site Site, mask IgnoreMask) {
	cpIndex := t.intern(site)
	t.ignoreMu.Lock()
	defer t.ignoreMu.Unlock()
	if mask == IgnoreNone {
		delete(t.ignoreMask, cpIndex)
		return
	}
	t.ignoreMask[cpIndex] = mask
}

// incDepth advances the depth counter, clamping (and counting the
// overflow) rather than wrapping past u16's range (spec.md §3
// invariant).
func (t *Tracer) incDepth() {
	if t.depth == ^uint16(0) {
		t.Stats.depthOverflows.Add(1)
		return
	}
	t.depth++
}

func (t *Tracer) decDepth() {
	if t.depth > 0 {
		t.depth--
	}
}

// emit appends r to this Tracer's stream and, if due, a time-index
// entry. I/O failures are counted, never returned: the tracer's first
// duty is to never break the traced program (spec.md §7).
func (t *Tracer) emit(r codec.Record) {
	t.scratch = t.scratch[:0]
	buf, err := r.Append(t.scratch)
	if err != nil {
		// Only caused by a too-long string/arg list, a caller bug rather
		// than a transient I/O condition, but still must not propagate.
		t.Stats.ioErrors.Add(1)
		t.logger.Warn("record encode failed", "error", err)
		return
	}
	t.scratch = buf

	off, err := t.stream.Append(buf)
	if err != nil {
		t.Stats.ioErrors.Add(1)
		t.logger.Warn("record append failed", "error", err)
		return
	}

	now := r.Timestamp
	if now-t.lastIndexTime >= t.indexInterval || off-t.lastIndexOffset >= t.indexBytes {
		if err := t.timeIndex.append(now, off); err != nil {
			t.Stats.ioErrors.Add(1)
			t.logger.Warn("time index append failed", "error", err)
		} else {
			t.lastIndexTime = now
			t.lastIndexOffset = off
		}
	}
}

// suppressed reports whether an event at cpIndex, occurring while the
// tracer is at depth t.depth (before any increment/decrement for this
// event), should be dropped per the ignore-mask rules. Both IgnoreSingle
// and IgnoreWhole drop this site's own call/return/raise; IgnoreWhole
// and IgnoreChildren drop its children, via the ignoreFloor that the
// call entry points set.
func (t *Tracer) suppressed(cpIndex uint16) (skip bool, mask IgnoreMask) {
	if t.ignoreFloor >= 0 && int(t.depth) > t.ignoreFloor {
		return true, IgnoreNone
	}
	mask = t.lookupIgnoreMask(cpIndex)
	return mask == IgnoreWhole || mask == IgnoreSingle, mask
}
