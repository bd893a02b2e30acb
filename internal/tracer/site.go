package tracer

import (
	"github.com/tripwire/passover/internal/codec"
	"github.com/tripwire/passover/internal/htable"
)

// Site identifies a static call site or log format string for interning
// and ignore-mask lookup. The probe constructs one of the concrete types
// below per event; Site itself carries no behavior beyond interning.
type Site interface {
	internKey() htable.Key
	codepoint() codec.Codepoint
}

// PyFuncSite identifies a Python-level function definition.
type PyFuncSite struct {
	Filename string
	Name     string
	Lineno   uint32
}

func (s PyFuncSite) internKey() htable.Key      { return htable.PyFuncKey(s.Filename, s.Name, s.Lineno) }
func (s PyFuncSite) codepoint() codec.Codepoint { return codec.PyFunc(s.Filename, s.Name, s.Lineno) }

// CFuncSite identifies a native (C-implemented) callable.
type CFuncSite struct {
	Module string
	Name   string
}

func (s CFuncSite) internKey() htable.Key      { return htable.CFuncKey(s.Module, s.Name) }
func (s CFuncSite) codepoint() codec.Codepoint { return codec.CFunc(s.Module, s.Name) }

// LoglineSite identifies a log call keyed by its format string.
type LoglineSite struct {
	Format string
}

func (s LoglineSite) internKey() htable.Key      { return htable.LoglineKey(s.Format) }
func (s LoglineSite) codepoint() codec.Codepoint { return codec.Logline(s.Format) }

// IgnoreMask controls whether the probe's events at a given site reach
// the trace (spec.md glossary: "consulted by the probe"). Named in
// spec.md but left for an implementation to define exactly; see
// SetIgnoreMask's doc comment for the semantics this implementation
// chose.
type IgnoreMask uint8

const (
	// IgnoreNone emits every event for this site normally.
	IgnoreNone IgnoreMask = iota
	// IgnoreSingle suppresses this site's own call and matching
	// return/raise, every time the site is reached, but not any
	// children: narrower than IgnoreWhole, which also drops everything
	// beneath it.
	IgnoreSingle
	// IgnoreChildren emits this site's own call/return/raise but
	// suppresses every event, at any site, that occurs at a greater
	// call depth until control returns back to this call.
	IgnoreChildren
	// IgnoreWhole suppresses this site's call/return/raise and
	// everything beneath it, every time this site is reached.
	IgnoreWhole
)
