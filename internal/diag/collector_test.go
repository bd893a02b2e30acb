package diag_test

import (
	"path/filepath"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tripwire/passover/internal/diag"
	"github.com/tripwire/passover/internal/htable"
	"github.com/tripwire/passover/internal/rotdir"
	"github.com/tripwire/passover/internal/tracer"
)

// metricValue drains c's Collect channel and returns the counter or gauge
// value of the first metric whose descriptor mentions name.
func metricValue(t *testing.T, c *diag.Collector, name string) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 32)
	c.Collect(ch)
	close(ch)
	for m := range ch {
		if !strings.Contains(m.Desc().String(), name) {
			continue
		}
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if pb.Counter != nil {
			return pb.Counter.GetValue()
		}
		return pb.Gauge.GetValue()
	}
	t.Fatalf("no collected metric mentions %q", name)
	return 0
}

func TestCollectorRegistersCleanly(t *testing.T) {
	interner := htable.New(htable.WithStats(true))
	dir, err := rotdir.Open(t.TempDir(), 10, 1<<20, 4096)
	if err != nil {
		t.Fatalf("rotdir.Open: %v", err)
	}
	c := diag.New(interner, dir)

	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if n := testutil.CollectAndCount(c); n == 0 {
		t.Fatal("CollectAndCount() = 0, want at least the interner/rotdir metrics")
	}
}

func TestCollectorReportsPerTracerCountersByPrefix(t *testing.T) {
	interner := htable.New(htable.WithStats(true))
	dir, err := rotdir.Open(t.TempDir(), 10, 1<<20, 4096)
	if err != nil {
		t.Fatalf("rotdir.Open: %v", err)
	}
	c := diag.New(interner, dir)

	cps, err := tracer.OpenCodepointStore(filepath.Join(dir.Path(), "codepoints"), 4096)
	if err != nil {
		t.Fatalf("OpenCodepointStore: %v", err)
	}
	t.Cleanup(func() { _ = cps.Close() })

	tr := tracer.New(tracer.Config{Dir: dir, Prefix: "worker-0", Interner: interner, Codepoints: cps, MapSize: 4096})
	c.RegisterTracer("worker-0", tr)

	n := testutil.CollectAndCount(c, "passover_tracer_io_errors_total", "passover_tracer_depth_overflows_total")
	if n != 2 {
		t.Fatalf("CollectAndCount(per-tracer metrics) = %d, want 2", n)
	}

	c.UnregisterTracer("worker-0")
	n = testutil.CollectAndCount(c, "passover_tracer_io_errors_total")
	if n != 0 {
		t.Fatalf("CollectAndCount after UnregisterTracer = %d, want 0", n)
	}
}

func TestCollectorReportsRingFilesReclaimed(t *testing.T) {
	interner := htable.New()
	dir, err := rotdir.Open(t.TempDir(), 2, 8+2+8, 8+2+8)
	if err != nil {
		t.Fatalf("rotdir.Open: %v", err)
	}
	c := diag.New(interner, dir)

	s, err := dir.BeginStream("p")
	if err != nil {
		t.Fatalf("BeginStream: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.Append([]byte("12345678")); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := s.EndStream(); err != nil {
		t.Fatalf("EndStream: %v", err)
	}

	got := metricValue(t, c, "passover_ring_files_reclaimed_total")
	if want := float64(dir.FilesReclaimed()); got != want {
		t.Errorf("passover_ring_files_reclaimed_total = %v, want %v", got, want)
	}
	if want := float64(3); got != want {
		t.Errorf("passover_ring_files_reclaimed_total = %v, want %v", got, want)
	}
}
