package tracer

import (
	"encoding/binary"
	"fmt"

	"github.com/tripwire/passover/internal/codec"
	"github.com/tripwire/passover/internal/fmap"
)

// CodepointStore is the append-only, never-rotated file backing the
// session-wide "codepoints" file (spec.md §4.5: "a separate rotrec-less
// fmap for the codepoints file"). Frames use the same { u16 length;
// bytes } layout as rotrec, but there is no base-offset header and no
// capacity cap: codepoints are rare after warmup and the file is
// expected to stay small relative to the trace itself.
//
// One CodepointStore is shared by every Tracer in a session, backing
// the same interner (spec.md §4.5: "a reference to a shared htable of
// codepoints, one per rotdir, not per thread"): the interner's
// LookupOrInsert already serializes first-sight inserts across
// Tracers, so the indices CodepointStore hands out stay dense and
// globally unique no matter which Tracer triggers the insert.
type CodepointStore struct {
	fw    *fmap.Writer
	count uint16
}

// OpenCodepointStore opens or creates the shared codepoints file at
// path. The caller (a Session) owns its lifecycle and must Close it
// once, after every Tracer sharing it has stopped.
func OpenCodepointStore(path string, mapSize int) (*CodepointStore, error) {
	fw, err := fmap.Open(path, mapSize)
	if err != nil {
		return nil, fmt.Errorf("tracer: open codepoints file %q: %w", path, err)
	}
	return &CodepointStore{fw: fw}, nil
}

// append encodes cp, writes its frame, and returns the index it was
// assigned. Indices are dense, zero-based, and assigned in the order
// append is called (spec.md §3 invariant); callers must serialize calls
// to append (the interner's mutex provides this).
func (s *CodepointStore) append(cp codec.Codepoint) (uint16, error) {
	n := cp.Size()
	buf, err := s.fw.Reserve(2 + n)
	if err != nil {
		return 0, fmt.Errorf("tracer: append codepoint: %w", err)
	}
	binary.LittleEndian.PutUint16(buf, uint16(n))
	// Append uses the append() builtin to grow its argument; buf is a
	// window slice backed by a much larger mmap region, so without a
	// capacity cap here a reallocation-free append could silently spill
	// into bytes reserved for a subsequent write. The three-index slice
	// pins the capacity at exactly n.
	if _, err := cp.Append(buf[2:2:2+n]); err != nil {
		return 0, fmt.Errorf("tracer: encode codepoint: %w", err)
	}

	idx := s.count
	s.count++
	return idx, nil
}

// Close closes the underlying file. Only the owning Session should
// call this, once, after every Tracer sharing the store has stopped.
func (s *CodepointStore) Close() error {
	if err := s.fw.Close(); err != nil {
		return fmt.Errorf("tracer: close codepoints file: %w", err)
	}
	return nil
}
