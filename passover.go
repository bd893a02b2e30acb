// Package passover is the embeddable execution-trace persistence engine
// described in spec.md: a shared ring directory of rotrec files, a
// per-thread hot-path tracer, and a symmetric reader, fronted by a small
// session API modeled on original_source/passover.py's begin_session /
// traced entry points.
package passover

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tripwire/passover/internal/config"
	"github.com/tripwire/passover/internal/diag"
	"github.com/tripwire/passover/internal/htable"
	"github.com/tripwire/passover/internal/procwide"
	"github.com/tripwire/passover/internal/rotdir"
	"github.com/tripwire/passover/internal/tracer"
)

// Re-export the tracer package's public surface so callers embedding
// Passover need only import this one package for the common path.
type (
	Tracer      = tracer.Tracer
	PyFuncSite  = tracer.PyFuncSite
	CFuncSite   = tracer.CFuncSite
	LoglineSite = tracer.LoglineSite
	IgnoreMask  = tracer.IgnoreMask
)

const (
	IgnoreNone     = tracer.IgnoreNone
	IgnoreSingle   = tracer.IgnoreSingle
	IgnoreChildren = tracer.IgnoreChildren
	IgnoreWhole    = tracer.IgnoreWhole
)

// ErrOptionsMismatch is returned by Open when path is already open in
// this process under different Options.MaxFiles (spec.md §7).
var ErrOptionsMismatch = procwide.ErrOptionsMismatch

// Options is passover's configuration struct. See internal/config for
// field documentation and Load for reading it from YAML.
type Options = config.Options

// Defaults returns spec.md §6's documented option defaults.
func Defaults() Options { return config.Defaults() }

// Load reads Options from a YAML file at path.
func Load(path string) (Options, error) { return config.Load(path) }

// Session owns one ring directory, the shared codepoint interner, and
// the single shared codepoints file every tracer created from it
// appends to (spec.md §4.5: "a reference to a shared htable of
// codepoints, one per rotdir, not per thread"; original_source/passover.py
// passes the same `codepoints` file path to every Passover instance it
// constructs for a given rotdir).
type Session struct {
	path string
	opts Options

	dir        *rotdir.Dir
	interner   *htable.Table
	codepoints *tracer.CodepointStore
	collector  *diag.Collector
	logger     *slog.Logger

	threadCounter atomic.Uint64

	mu      sync.Mutex
	tracers map[string]*tracer.Tracer
	closed  bool
}

// Open begins a session rooted at path: acquires (or creates) the shared
// ring directory, honoring Options.RemoveExistingDir, and validates opts.
// Opening the same path twice in one process with a different MaxFiles
// returns ErrOptionsMismatch (original_source/passover.py's traced()
// re-open guard).
func Open(path string, opts Options) (*Session, error) {
	if opts == (Options{}) {
		opts = Defaults()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("passover: open %q: %w", path, err)
	}

	dir, err := procwide.Acquire(path, opts.MaxFiles, opts.FileSize, opts.MapSize, opts.RemoveExistingDir)
	if err != nil {
		return nil, fmt.Errorf("passover: open %q: %w", path, err)
	}

	codepoints, err := tracer.OpenCodepointStore(filepath.Join(dir.Path(), "codepoints"), opts.MapSize)
	if err != nil {
		procwide.Release(path)
		return nil, fmt.Errorf("passover: open %q: %w", path, err)
	}

	interner := htable.New(htable.WithStats(true), htable.WithBoostOnGet(true))
	logger := slog.Default().With("component", "passover", "path", path)

	return &Session{
		path:       path,
		opts:       opts,
		dir:        dir,
		interner:   interner,
		codepoints: codepoints,
		collector:  diag.New(interner, dir),
		logger:     logger,
		tracers:    make(map[string]*tracer.Tracer),
	}, nil
}

// NewTracer allocates a fresh prefix from Options.Template and an
// internal monotone counter (the original's itertools.count() thread
// counter, spec.md §6's "template" option made concrete), constructs a
// *tracer.Tracer bound to this session's shared directory and interner,
// starts it, and registers it with the session's diagnostics collector.
// The caller is responsible for calling its Stop (directly, or via
// Session.Close, which stops every tracer the session created).
func (s *Session) NewTracer() (*tracer.Tracer, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("passover: NewTracer on closed session %q", s.path)
	}
	s.mu.Unlock()

	id := s.threadCounter.Add(1) - 1
	prefix := fmt.Sprintf(s.opts.Template, id)

	tr := tracer.New(tracer.Config{
		Dir:           s.dir,
		Prefix:        prefix,
		Interner:      s.interner,
		Codepoints:    s.codepoints,
		MapSize:       s.opts.MapSize,
		MaxArgs:       s.opts.MaxArgs,
		IndexInterval: s.opts.IndexInterval,
		IndexBytes:    s.opts.IndexBytes,
		Logger:        s.logger,
	})
	if err := tr.Start(); err != nil {
		return nil, fmt.Errorf("passover: start tracer %q: %w", prefix, err)
	}

	s.mu.Lock()
	s.tracers[prefix] = tr
	s.mu.Unlock()
	s.collector.RegisterTracer(prefix, tr)

	return tr, nil
}

// TraceThreads reports Options.TraceThreads: whether a program embedding
// Passover should auto-trace child threads spawned from an already-traced
// thread with this session's configuration. Passover has no visibility
// into thread/goroutine spawning itself (spec.md §1 leaves the probe
// out of scope), so enforcing this is left to the caller; Session only
// carries the configured intent.
func (s *Session) TraceThreads() bool { return s.opts.TraceThreads }

// Collector returns the session's prometheus.Collector, so an embedding
// program can register it on its own metrics registry (spec.md §4.2).
func (s *Session) Collector() *diag.Collector { return s.collector }

// Path returns the ring directory this session manages.
func (s *Session) Path() string { return s.path }

// Close stops every tracer this session created (concurrently, via
// errgroup, mirroring how the teacher's Agent.Stop fans components out),
// then closes the shared codepoints file and releases this session's
// reference to the shared ring directory. The codepoints file must
// close only after every tracer sharing it has stopped, since a tracer
// can still intern a first-seen site up to the moment its own Stop
// runs. A second Close is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	tracers := make([]*tracer.Tracer, 0, len(s.tracers))
	for _, tr := range s.tracers {
		tracers = append(tracers, tr)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, tr := range tracers {
		tr := tr
		g.Go(func() error {
			if err := tr.Stop(); err != nil && !errors.Is(err, tracer.ErrNotActive) {
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	if cpErr := s.codepoints.Close(); cpErr != nil && err == nil {
		err = cpErr
	}

	procwide.Release(s.path)
	s.logger.Info("session closed")
	if err != nil {
		return fmt.Errorf("passover: close %q: %w", s.path, err)
	}
	return nil
}
