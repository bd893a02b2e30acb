// Package procwide holds process-wide state shared by every passover
// session in the process: the rotdir handle registry keyed by directory
// path (spec.md §9: "a process-wide map from ring-directory path to its
// open rotdir handle, guarded by a mutex, so two sessions that name the
// same directory share one handle instead of racing to create it").
package procwide

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/tripwire/passover/internal/perr"
	"github.com/tripwire/passover/internal/rotdir"
)

// ErrOptionsMismatch is returned by Acquire when path is already open
// with a different max_files than requested (original_source/passover.py's
// traced() re-open check, made concrete for spec.md §7's "max_files
// mismatch between sessions sharing a rotdir" error kind).
var ErrOptionsMismatch = errors.New("procwide: max_files mismatch for already-open ring directory")

type entry struct {
	dir      *rotdir.Dir
	maxFiles int
	refs     int
}

var (
	mu       sync.Mutex
	registry = make(map[string]*entry)
)

// Acquire returns the shared *rotdir.Dir for path, opening it (optionally
// removing a pre-existing directory first, per removeExisting) if this is
// the first session to name it. A later call naming the same path with a
// different maxFiles fails with ErrOptionsMismatch rather than silently
// reusing the first caller's cap. Each successful Acquire must be matched
// by a Release.
func Acquire(path string, maxFiles, fileSize, mapSize int, removeExisting bool) (*rotdir.Dir, error) {
	mu.Lock()
	defer mu.Unlock()

	if e, ok := registry[path]; ok {
		if e.maxFiles != maxFiles {
			return nil, fmt.Errorf("procwide: %q already open with max_files=%d, got %d: %w: %w", path, e.maxFiles, maxFiles, ErrOptionsMismatch, perr.ErrConfig)
		}
		e.refs++
		return e.dir, nil
	}

	if removeExisting {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := os.RemoveAll(path); err != nil {
				return nil, fmt.Errorf("procwide: remove existing directory %q: %w", path, err)
			}
		}
	}

	dir, err := rotdir.Open(path, maxFiles, fileSize, mapSize)
	if err != nil {
		return nil, err
	}
	registry[path] = &entry{dir: dir, maxFiles: maxFiles, refs: 1}
	return dir, nil
}

// Release drops this caller's reference to path's shared handle. The
// registry entry itself is never removed: rotdir.Dir has no Close, and a
// later session reopening the same path within the process's lifetime
// should still observe the same max_files guard.
func Release(path string) {
	mu.Lock()
	defer mu.Unlock()
	if e, ok := registry[path]; ok && e.refs > 0 {
		e.refs--
	}
}
