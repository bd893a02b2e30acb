package reader

import "github.com/tripwire/passover/internal/codec"

// Record is one decoded TraceRecord together with its resolved
// codepoint, if the reader's preloaded codepoint table covers its index
// yet (spec.md §4.6: an out-of-range cpindex surfaces as a record with
// no codepoint, never a hard error).
type Record struct {
	codec.Record

	cp    codec.Codepoint
	hasCP bool
}

// Codepoint returns the static site this record refers to, and whether
// it was resolvable. A reader started mid-trace, before ReloadCodepoints
// has picked up every codepoint written so far, is the expected case
// where this returns false (spec.md §4.6, following gadya.py's
// graceful-None handling of rec.codepoint).
func (r Record) Codepoint() (codec.Codepoint, bool) {
	return r.cp, r.hasCP
}
