// Package rotdir implements the ring directory described in spec.md §4.4:
// a shared filesystem directory of rotrec files per prefix, with bounded
// cardinality, monotone file indices, FIFO reclamation, and crash-safe
// recovery of in-use indices on open.
package rotdir

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tripwire/passover/internal/perr"
	"github.com/tripwire/passover/internal/rotrec"
)

// nameRE matches "<prefix>.<NNNNNN>.rot" file names.
var nameRE = regexp.MustCompile(`^(.+)\.(\d{6})\.rot$`)

const indexDigits = 6

func fileName(prefix string, index uint64) string {
	return fmt.Sprintf("%s.%0*d.rot", prefix, indexDigits, index)
}

// Dir owns the naming, creation, and reclamation of record files across
// any number of prefixes sharing one directory and one max_files cap.
type Dir struct {
	path      string
	maxFiles  int
	fileSize  int
	mapSize   int
	log       *slog.Logger

	mu      sync.Mutex // guards rotation bookkeeping shared across streams
	indices map[string][]uint64 // in-use file indices per prefix, ascending

	filesReclaimed atomic.Uint64
}

// Open opens (creating if absent) path as a ring directory shared by up
// to maxFiles record files per prefix. Existing files are enumerated and
// the highest in-use index per prefix is recovered, so a process restart
// resumes rotation rather than colliding with old files.
func Open(path string, maxFiles, fileSize, mapSize int) (*Dir, error) {
	if maxFiles <= 0 {
		return nil, fmt.Errorf("rotdir: max_files must be positive, got %d: %w", maxFiles, perr.ErrConfig)
	}
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
			return nil, fmt.Errorf("rotdir: create directory %q: %w", path, mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("rotdir: stat %q: %w", path, err)
	case !info.IsDir():
		return nil, fmt.Errorf("rotdir: %q is not a directory: %w", path, perr.ErrConfig)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("rotdir: list %q: %w", path, err)
	}
	indices := map[string][]uint64{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := nameRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.ParseUint(m[2], 10, 64)
		if err != nil {
			continue
		}
		indices[m[1]] = append(indices[m[1]], idx)
	}
	for prefix := range indices {
		sort.Slice(indices[prefix], func(i, j int) bool { return indices[prefix][i] < indices[prefix][j] })
	}

	return &Dir{
		path:     path,
		maxFiles: maxFiles,
		fileSize: fileSize,
		mapSize:  mapSize,
		log:      slog.Default().With("component", "rotdir", "path", path),
		indices:  indices,
	}, nil
}

// Stream is a writer-owned handle for one prefix. Operations on a Stream
// are not safe for concurrent use; each producer thread owns exactly one
// (spec.md §5).
type Stream struct {
	dir        *Dir
	prefix     string
	index      uint64
	baseOffset uint64
	rec        *rotrec.Writer
}

// BeginStream opens a fresh rotrec file for prefix at
// max_existing_index(prefix)+1, with its base offset computed from the
// sizes of older files of the same prefix still on disk (or zero if
// none exist).
func (d *Dir) BeginStream(prefix string) (*Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing := d.indices[prefix]
	nextIndex := uint64(0)
	if len(existing) > 0 {
		nextIndex = existing[len(existing)-1] + 1
	}
	baseOffset, err := d.recoverBaseOffset(prefix, existing)
	if err != nil {
		return nil, err
	}

	rec, err := d.createFile(prefix, nextIndex, baseOffset)
	if err != nil {
		return nil, err
	}
	d.indices[prefix] = append(existing, nextIndex)

	return &Stream{dir: d, prefix: prefix, index: nextIndex, baseOffset: baseOffset, rec: rec}, nil
}

// recoverBaseOffset sums the on-disk sizes of prefix's existing files to
// find where a newly opened file's base offset should start. Files are
// only stat'ed for their size, never opened; a file that has vanished
// (reclaimed concurrently) contributes zero and is skipped.
func (d *Dir) recoverBaseOffset(prefix string, existing []uint64) (uint64, error) {
	var total uint64
	for _, idx := range existing {
		info, err := os.Stat(filepath.Join(d.path, fileName(prefix, idx)))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("rotdir: stat existing file for prefix %q: %w", prefix, err)
		}
		if sz := info.Size(); sz > rotrec.HeaderSize {
			total += uint64(sz) - rotrec.HeaderSize
		}
	}
	return total, nil
}

func (d *Dir) createFile(prefix string, index, baseOffset uint64) (*rotrec.Writer, error) {
	path := filepath.Join(d.path, fileName(prefix, index))
	rec, err := rotrec.Create(path, baseOffset, d.fileSize, d.mapSize)
	if err != nil {
		return nil, fmt.Errorf("rotdir: create %q: %w", path, err)
	}
	return rec, nil
}

// Append writes bytes to stream's current file, rotating to a fresh file
// (and reclaiming the oldest file of the prefix if over max_files) on
// capacity exhaustion. Returns the logical offset the record landed at.
func (s *Stream) Append(payload []byte) (uint64, error) {
	off, err := s.rec.Append(payload)
	if err == nil {
		return off, nil
	}
	if err != rotrec.ErrFull {
		return 0, fmt.Errorf("rotdir: append to stream %q: %w", s.prefix, err)
	}
	if rotErr := s.rotate(); rotErr != nil {
		return 0, rotErr
	}
	off, err = s.rec.Append(payload)
	if err != nil {
		return 0, fmt.Errorf("rotdir: append to freshly rotated stream %q: %w", s.prefix, err)
	}
	return off, nil
}

func (s *Stream) rotate() error {
	newBase := s.rec.LogicalOffset()
	if err := s.rec.Close(); err != nil {
		return fmt.Errorf("rotdir: close exhausted file for prefix %q: %w", s.prefix, err)
	}

	d := s.dir
	d.mu.Lock()
	defer d.mu.Unlock()

	// The closed file is still counted in d.indices; about to add one more
	// for the new index, so reclaim now if that would exceed max_files.
	if count := len(d.indices[s.prefix]); count >= d.maxFiles {
		d.reclaimOldest(s.prefix)
	}

	nextIndex := s.index + 1
	rec, err := d.createFile(s.prefix, nextIndex, newBase)
	if err != nil {
		return err
	}
	d.indices[s.prefix] = append(d.indices[s.prefix], nextIndex)

	s.index = nextIndex
	s.baseOffset = newBase
	s.rec = rec
	return nil
}

// reclaimOldest unlinks the lowest-index file of prefix. Must be called
// with d.mu held. Deletion is best-effort: a file already gone (removed
// by another writer or an operator) is not an error.
func (d *Dir) reclaimOldest(prefix string) {
	indices := d.indices[prefix]
	if len(indices) == 0 {
		return
	}
	oldest := indices[0]
	d.indices[prefix] = indices[1:]
	path := filepath.Join(d.path, fileName(prefix, oldest))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.log.Warn("reclaim: failed to unlink oldest file", "prefix", prefix, "path", path, "error", err)
		return
	}
	d.filesReclaimed.Add(1)
	d.log.Debug("reclaimed oldest file", "prefix", prefix, "path", path)
}

// FilesReclaimed returns the count of ring files unlinked by reclamation
// across every prefix in this Dir, for internal/diag.
func (d *Dir) FilesReclaimed() uint64 { return d.filesReclaimed.Load() }

// EndStream flushes and closes stream's current file.
func (s *Stream) EndStream() error {
	if err := s.rec.Close(); err != nil {
		return fmt.Errorf("rotdir: end stream %q: %w", s.prefix, err)
	}
	return nil
}

// Prefix returns the prefix this stream was opened for.
func (s *Stream) Prefix() string { return s.prefix }

// Path returns the directory this Dir manages. The session-wide shared
// "codepoints" file and each tracer's <prefix>.timeindex file live here
// too, alongside the rotdir streams themselves (spec.md §4.4).
func (d *Dir) Path() string { return d.path }
