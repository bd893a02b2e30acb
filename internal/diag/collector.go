// Package diag exposes a passover session's hot-path counters as a
// Prometheus collector, satisfying spec.md §4.2's "exposed via a
// diagnostic endpoint" without Passover owning an HTTP server itself
// (spec.md §1 excludes networked shipping; serving /metrics is left to
// the embedding program).
package diag

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tripwire/passover/internal/htable"
	"github.com/tripwire/passover/internal/rotdir"
	"github.com/tripwire/passover/internal/tracer"
)

var (
	internerLen = prometheus.NewDesc(
		"passover_interner_codepoints",
		"Number of codepoints currently interned.",
		nil, nil,
	)
	internerCapacity = prometheus.NewDesc(
		"passover_interner_capacity",
		"Current slot capacity of the codepoint interner.",
		nil, nil,
	)
	internerLookups = prometheus.NewDesc(
		"passover_interner_lookups_total",
		"Total lookup_or_insert calls against the codepoint interner.",
		nil, nil,
	)
	internerProbes = prometheus.NewDesc(
		"passover_interner_probes_total",
		"Total linear-probe steps taken across all interner lookups.",
		nil, nil,
	)
	internerInserts = prometheus.NewDesc(
		"passover_interner_inserts_total",
		"Total new codepoints inserted into the interner.",
		nil, nil,
	)
	internerResizes = prometheus.NewDesc(
		"passover_interner_resizes_total",
		"Total times the interner grew past its load-factor ceiling.",
		nil, nil,
	)
	ringFilesReclaimed = prometheus.NewDesc(
		"passover_ring_files_reclaimed_total",
		"Total ring files unlinked by FIFO reclamation across all prefixes.",
		nil, nil,
	)
	tracerIOErrors = prometheus.NewDesc(
		"passover_tracer_io_errors_total",
		"Total hot-path I/O failures suppressed by a tracer.",
		[]string{"prefix"}, nil,
	)
	tracerDepthOverflows = prometheus.NewDesc(
		"passover_tracer_depth_overflows_total",
		"Total depth-counter clamps instead of wraps for a tracer.",
		[]string{"prefix"}, nil,
	)
)

// Collector implements prometheus.Collector over one session's shared
// interner, ring directory, and the tracers registered with it.
// RegisterTracer may be called concurrently with Collect.
type Collector struct {
	interner *htable.Table
	dir      *rotdir.Dir

	mu      sync.Mutex
	tracers map[string]*tracer.Tracer
}

// New wraps interner and dir (both shared across every tracer in a
// session) into a Collector. Register it on the embedding program's own
// prometheus.Registry.
func New(interner *htable.Table, dir *rotdir.Dir) *Collector {
	return &Collector{
		interner: interner,
		dir:      dir,
		tracers:  make(map[string]*tracer.Tracer),
	}
}

// RegisterTracer adds tr's counters to future Collect calls, keyed by
// prefix. Calling it again with the same prefix replaces the prior
// registration (e.g. after a Stop/Start cycle on a reused prefix).
func (c *Collector) RegisterTracer(prefix string, tr *tracer.Tracer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracers[prefix] = tr
}

// UnregisterTracer removes prefix's counters, e.g. once its Tracer is
// permanently retired.
func (c *Collector) UnregisterTracer(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tracers, prefix)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- internerLen
	ch <- internerCapacity
	ch <- internerLookups
	ch <- internerProbes
	ch <- internerInserts
	ch <- internerResizes
	ch <- ringFilesReclaimed
	ch <- tracerIOErrors
	ch <- tracerDepthOverflows
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(internerLen, prometheus.GaugeValue, float64(c.interner.Len()))
	ch <- prometheus.MustNewConstMetric(internerCapacity, prometheus.GaugeValue, float64(c.interner.Capacity()))

	stats := c.interner.StatsSnapshot()
	ch <- prometheus.MustNewConstMetric(internerLookups, prometheus.CounterValue, float64(stats.Lookups))
	ch <- prometheus.MustNewConstMetric(internerProbes, prometheus.CounterValue, float64(stats.Probes))
	ch <- prometheus.MustNewConstMetric(internerInserts, prometheus.CounterValue, float64(stats.Inserts))
	ch <- prometheus.MustNewConstMetric(internerResizes, prometheus.CounterValue, float64(stats.Resizes))

	ch <- prometheus.MustNewConstMetric(ringFilesReclaimed, prometheus.CounterValue, float64(c.dir.FilesReclaimed()))

	c.mu.Lock()
	tracers := make(map[string]*tracer.Tracer, len(c.tracers))
	for prefix, tr := range c.tracers {
		tracers[prefix] = tr
	}
	c.mu.Unlock()

	for prefix, tr := range tracers {
		snap := tr.Stats.Snapshot()
		ch <- prometheus.MustNewConstMetric(tracerIOErrors, prometheus.CounterValue, float64(snap.IOErrors), prefix)
		ch <- prometheus.MustNewConstMetric(tracerDepthOverflows, prometheus.CounterValue, float64(snap.DepthOverflows), prefix)
	}
}
