//go:build unix

package reader_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/tripwire/passover/internal/codec"
	"github.com/tripwire/passover/internal/htable"
	"github.com/tripwire/passover/internal/reader"
	"github.com/tripwire/passover/internal/rotdir"
	"github.com/tripwire/passover/internal/tracer"
)

const testMapSize = 4096

// openCodepoints opens the session-wide codepoints store for dir,
// closing it automatically at test cleanup.
func openCodepoints(t *testing.T, dir *rotdir.Dir) *tracer.CodepointStore {
	t.Helper()
	cps, err := tracer.OpenCodepointStore(filepath.Join(dir.Path(), "codepoints"), testMapSize)
	if err != nil {
		t.Fatalf("OpenCodepointStore: %v", err)
	}
	t.Cleanup(func() { _ = cps.Close() })
	return cps
}

func newSession(t *testing.T) (*rotdir.Dir, *tracer.CodepointStore, *tracer.Tracer) {
	t.Helper()
	dir, err := rotdir.Open(t.TempDir(), 10, 1<<20, testMapSize)
	if err != nil {
		t.Fatalf("rotdir.Open: %v", err)
	}
	cps := openCodepoints(t, dir)
	interner := htable.New()
	tr := tracer.New(tracer.Config{
		Dir: dir, Prefix: "worker", Interner: interner, Codepoints: cps, MapSize: testMapSize,
	})
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return dir, cps, tr
}

func TestReaderRoundTripsCallAndReturn(t *testing.T) {
	dir, _, tr := newSession(t)
	site := tracer.PyFuncSite{Filename: "app.py", Name: "f", Lineno: 1}

	args := []codec.Argument{codec.ArgInt(1), codec.ArgInt(2), codec.ArgString([]byte("hi"))}
	tr.OnPyFuncCall(site, len(args), func(i int) (codec.Argument, error) { return args[i], nil })
	tr.OnPyFuncReturn(site, func() (codec.Argument, error) { return codec.ArgInt(3), nil })
	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	rd, err := reader.Open(dir.Path(), "worker")
	if err != nil {
		t.Fatalf("reader.Open: %v", err)
	}
	defer rd.Close()

	call, err := rd.Next()
	if err != nil {
		t.Fatalf("Next (call): %v", err)
	}
	if call.Type != codec.TypePyFuncCall {
		t.Fatalf("call.Type = %v, want TypePyFuncCall", call.Type)
	}
	if call.Depth != 0 {
		t.Fatalf("call.Depth = %d, want 0", call.Depth)
	}
	if len(call.Args) != 3 {
		t.Fatalf("call.Args = %v, want 3 entries", call.Args)
	}
	if v, ok := call.Args[0].Int(); !ok || v != 1 {
		t.Fatalf("call.Args[0] = %v, %v, want 1, true", v, ok)
	}
	cp, ok := call.Codepoint()
	if !ok {
		t.Fatalf("call.Codepoint(): ok = false, want true")
	}
	if cp.Filename != "app.py" || cp.Name != "f" || cp.Lineno != 1 {
		t.Fatalf("call.Codepoint() = %+v, want {app.py f 1}", cp)
	}

	ret, err := rd.Next()
	if err != nil {
		t.Fatalf("Next (return): %v", err)
	}
	if ret.Type != codec.TypePyFuncRet {
		t.Fatalf("ret.Type = %v, want TypePyFuncRet", ret.Type)
	}
	if ret.Depth != 0 {
		t.Fatalf("ret.Depth = %d, want 0", ret.Depth)
	}
	if v, ok := ret.Retval.Int(); !ok || v != 3 {
		t.Fatalf("ret.Retval = %v, %v, want 3, true", v, ok)
	}
	if ret.Timestamp < call.Timestamp {
		t.Fatalf("ret.Timestamp %d < call.Timestamp %d", ret.Timestamp, call.Timestamp)
	}

	if _, err := rd.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("final Next(): err = %v, want io.EOF", err)
	}
}

func TestReaderSeekOffsetLandsOnFrameBoundary(t *testing.T) {
	dir, _, tr := newSession(t)
	site := tracer.CFuncSite{Module: "builtins", Name: "len"}

	for i := 0; i < 5; i++ {
		tr.OnCFuncCall(site)
		tr.OnCFuncReturn(site)
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	rd, err := reader.Open(dir.Path(), "worker")
	if err != nil {
		t.Fatalf("reader.Open: %v", err)
	}
	defer rd.Close()

	if err := rd.SeekOffset(0); err != nil {
		t.Fatalf("SeekOffset(0): %v", err)
	}
	first, err := rd.Next()
	if err != nil {
		t.Fatalf("Next after SeekOffset(0): %v", err)
	}
	if first.Type != codec.TypeCFuncCall {
		t.Fatalf("first.Type = %v, want TypeCFuncCall", first.Type)
	}
}

func TestReaderToleratesTruncatedFinalFrame(t *testing.T) {
	dir, _, tr := newSession(t)
	site := tracer.CFuncSite{Module: "builtins", Name: "len"}
	tr.OnCFuncCall(site)
	tr.OnCFuncReturn(site)
	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Simulate a process killed mid-append: a frame header announcing far
	// more payload than follows it.
	f, err := os.OpenFile(filepath.Join(dir.Path(), "worker.000000.rot"), os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.Write([]byte{0xFF, 0x7F}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close file: %v", err)
	}

	rd, err := reader.Open(dir.Path(), "worker")
	if err != nil {
		t.Fatalf("reader.Open: %v", err)
	}
	defer rd.Close()

	n := 0
	for {
		if _, err := rd.Next(); err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatalf("Next(): %v", err)
			}
			if !errors.Is(err, reader.ErrTruncated) {
				t.Fatalf("final Next(): err = %v, want ErrTruncated", err)
			}
			break
		}
		n++
	}
	if n != 2 {
		t.Fatalf("read %d records, want 2", n)
	}
}

// TestTwoTracersShareOneCodepointsFile exercises a session with two
// Tracers, both sharing one interner and one CodepointStore, tracing
// the same site. Each tracer's own stream must resolve cpindex against
// the same shared codepoints file, and the index assigned on first
// sight (by whichever tracer gets there first) must resolve correctly
// from both prefixes' readers.
func TestTwoTracersShareOneCodepointsFile(t *testing.T) {
	dir, err := rotdir.Open(t.TempDir(), 10, 1<<20, testMapSize)
	if err != nil {
		t.Fatalf("rotdir.Open: %v", err)
	}
	cps := openCodepoints(t, dir)
	interner := htable.New()

	trA := tracer.New(tracer.Config{
		Dir: dir, Prefix: "thread-0", Interner: interner, Codepoints: cps, MapSize: testMapSize,
	})
	if err := trA.Start(); err != nil {
		t.Fatalf("trA.Start: %v", err)
	}
	trB := tracer.New(tracer.Config{
		Dir: dir, Prefix: "thread-1", Interner: interner, Codepoints: cps, MapSize: testMapSize,
	})
	if err := trB.Start(); err != nil {
		t.Fatalf("trB.Start: %v", err)
	}

	site := tracer.PyFuncSite{Filename: "app.py", Name: "f", Lineno: 1}
	trA.OnPyFuncCall(site, 0, func(i int) (codec.Argument, error) { return codec.ArgNone(), nil })
	trA.OnPyFuncReturn(site, func() (codec.Argument, error) { return codec.ArgNone(), nil })
	trB.OnPyFuncCall(site, 0, func(i int) (codec.Argument, error) { return codec.ArgNone(), nil })
	trB.OnPyFuncReturn(site, func() (codec.Argument, error) { return codec.ArgNone(), nil })

	if err := trA.Stop(); err != nil {
		t.Fatalf("trA.Stop: %v", err)
	}
	if err := trB.Stop(); err != nil {
		t.Fatalf("trB.Stop: %v", err)
	}

	rdA, err := reader.Open(dir.Path(), "thread-0")
	if err != nil {
		t.Fatalf("reader.Open thread-0: %v", err)
	}
	defer rdA.Close()
	rdB, err := reader.Open(dir.Path(), "thread-1")
	if err != nil {
		t.Fatalf("reader.Open thread-1: %v", err)
	}
	defer rdB.Close()

	callA, err := rdA.Next()
	if err != nil {
		t.Fatalf("rdA.Next: %v", err)
	}
	cpA, ok := callA.Codepoint()
	if !ok {
		t.Fatalf("thread-0 call: Codepoint() ok = false, want true")
	}
	if cpA.Filename != "app.py" || cpA.Name != "f" || cpA.Lineno != 1 {
		t.Fatalf("thread-0 call.Codepoint() = %+v, want {app.py f 1}", cpA)
	}

	callB, err := rdB.Next()
	if err != nil {
		t.Fatalf("rdB.Next: %v", err)
	}
	cpB, ok := callB.Codepoint()
	if !ok {
		t.Fatalf("thread-1 call: Codepoint() ok = false, want true")
	}
	if cpB.Filename != "app.py" || cpB.Name != "f" || cpB.Lineno != 1 {
		t.Fatalf("thread-1 call.Codepoint() = %+v, want {app.py f 1}", cpB)
	}

	if callA.CPIndex != callB.CPIndex {
		t.Fatalf("cpindex differs across prefixes for the same site: thread-0 = %d, thread-1 = %d", callA.CPIndex, callB.CPIndex)
	}
}

func TestIgnoreSingleSuppressesCallAndReturnButNotChildren(t *testing.T) {
	dir, _, tr := newSession(t)
	outer := tracer.PyFuncSite{Filename: "app.py", Name: "noisy", Lineno: 1}
	inner := tracer.CFuncSite{Module: "builtins", Name: "len"}

	tr.SetIgnoreMask(outer, tracer.IgnoreSingle)

	tr.OnPyFuncCall(outer, 0, func(i int) (codec.Argument, error) { return codec.ArgNone(), nil })
	tr.OnCFuncCall(inner)
	tr.OnCFuncReturn(inner)
	tr.OnPyFuncReturn(outer, func() (codec.Argument, error) { return codec.ArgNone(), nil })
	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	rd, err := reader.Open(dir.Path(), "worker")
	if err != nil {
		t.Fatalf("reader.Open: %v", err)
	}
	defer rd.Close()

	var types []codec.RecordType
	for {
		rec, err := rd.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatalf("Next: %v", err)
			}
			break
		}
		types = append(types, rec.Type)
	}
	want := []codec.RecordType{codec.TypeCFuncCall, codec.TypeCFuncRet}
	if len(types) != len(want) {
		t.Fatalf("recorded types = %v, want %v", types, want)
	}
	for i, ty := range want {
		if types[i] != ty {
			t.Fatalf("recorded types = %v, want %v", types, want)
		}
	}
}

func TestMissingCodepointsFileIsNotAnError(t *testing.T) {
	dir, err := rotdir.Open(t.TempDir(), 10, 1<<20, testMapSize)
	if err != nil {
		t.Fatalf("rotdir.Open: %v", err)
	}
	rd, err := reader.Open(dir.Path(), "never-traced")
	if err != nil {
		t.Fatalf("reader.Open on an untraced prefix: %v", err)
	}
	defer rd.Close()

	if _, err := rd.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() on an empty prefix: err = %v, want io.EOF", err)
	}
}
