package tracer

import "sync/atomic"

// Stats holds the hot-path counters a Tracer maintains instead of
// returning errors (spec.md §7: "hot-path errors are counted and
// suppressed"). Safe for concurrent reads via Snapshot while the tracer
// is running.
type Stats struct {
	ioErrors       atomic.Uint64
	depthOverflows atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats' counters.
type StatsSnapshot struct {
	IOErrors       uint64
	DepthOverflows uint64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		IOErrors:       s.ioErrors.Load(),
		DepthOverflows: s.depthOverflows.Load(),
	}
}
