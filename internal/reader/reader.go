// Package reader implements the symmetric reader described in spec.md
// §4.6: it loads the session's shared codepoints file and a prefix's
// own time index fully, then streams typed, codepoint-resolved records
// out of the rotdir-managed ring files, seekable by byte offset or
// timestamp and tolerant of a truncated final frame.
package reader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/tripwire/passover/internal/codec"
	"github.com/tripwire/passover/internal/rotrec"
)

// ErrTruncated marks a frame cut short by an unclean shutdown. It always
// satisfies errors.Is(err, io.EOF) too: per spec.md §8 property 7, a
// truncated final frame ends iteration exactly like a clean EOF, but
// callers that care can still distinguish the two with errors.Is.
var ErrTruncated = errors.New("reader: truncated final frame")

var fileNameRE = regexp.MustCompile(`^(.+)\.(\d{6})\.rot$`)

type fileMeta struct {
	index      uint64
	baseOffset uint64
}

// Reader streams TraceRecords for one prefix out of a rotdir directory.
// Not safe for concurrent use.
type Reader struct {
	dirPath string
	prefix  string

	codepoints []codec.Codepoint
	timeIndex  []timeIndexEntry

	files   []fileMeta
	fileIdx int
	cur     *rotrec.Reader
}

type timeIndexEntry struct {
	timestamp     uint64
	logicalOffset uint64
}

// Open loads the session-wide "codepoints" file and this prefix's own
// <prefix>.timeindex fully, and enumerates dirPath's current rotrec
// files for prefix (re-enumerated again as Next crosses file boundaries,
// so files created after Open are still picked up).
func Open(dirPath, prefix string) (*Reader, error) {
	codepoints, err := loadCodepoints(filepath.Join(dirPath, "codepoints"))
	if err != nil {
		return nil, err
	}
	timeIndex, err := loadTimeIndex(filepath.Join(dirPath, prefix+".timeindex"))
	if err != nil {
		return nil, err
	}
	files, err := listFiles(dirPath, prefix)
	if err != nil {
		return nil, err
	}
	return &Reader{
		dirPath:    dirPath,
		prefix:     prefix,
		codepoints: codepoints,
		timeIndex:  timeIndex,
		files:      files,
		fileIdx:    -1,
	}, nil
}

// ReloadCodepoints re-reads the shared codepoints file, picking up any
// entries appended since Open (or the previous ReloadCodepoints) was
// called — by this prefix's tracer or any other sharing the same
// session. Safe to call when Next yields a record whose cpindex
// resolves to nothing yet — spec.md §4.6 notes this is expected for a
// reader started mid-trace.
func (r *Reader) ReloadCodepoints() error {
	codepoints, err := loadCodepoints(filepath.Join(r.dirPath, "codepoints"))
	if err != nil {
		return err
	}
	r.codepoints = codepoints
	return nil
}

func listFiles(dirPath, prefix string) ([]fileMeta, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("reader: list %q: %w", dirPath, err)
	}
	var files []fileMeta
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := fileNameRE.FindStringSubmatch(e.Name())
		if m == nil || m[1] != prefix {
			continue
		}
		idx, err := strconv.ParseUint(m[2], 10, 64)
		if err != nil {
			continue
		}
		rr, err := rotrec.OpenReader(filepath.Join(dirPath, e.Name()))
		if err != nil {
			continue // vanished or unreadable: skip, best-effort like rotdir reclamation
		}
		files = append(files, fileMeta{index: idx, baseOffset: rr.BaseOffset()})
		rr.Close()
	}
	sort.Slice(files, func(i, j int) bool { return files[i].index < files[j].index })
	return files, nil
}

// SeekOffset positions the reader at the frame whose logical offset is
// off. off must be a value previously returned by an append (spec.md §8
// boundary behavior); behavior is otherwise unspecified.
func (r *Reader) SeekOffset(off uint64) error {
	files, err := listFiles(r.dirPath, r.prefix)
	if err != nil {
		return err
	}
	r.files = files
	if len(files) == 0 {
		return fmt.Errorf("reader: seek_offset %d: no files for prefix %q", off, r.prefix)
	}

	idx := sort.Search(len(files), func(i int) bool { return files[i].baseOffset > off }) - 1
	if idx < 0 {
		idx = 0
	}

	if err := r.openFile(idx); err != nil {
		return err
	}
	physical := rotrec.HeaderSize + int64(off-files[idx].baseOffset)
	if err := r.cur.SeekPhysical(physical); err != nil {
		return fmt.Errorf("reader: seek_offset %d: %w", off, err)
	}
	return nil
}

// SeekTimestamp positions the reader at the offset of the last time-index
// entry stamped before ts (or of the first entry, if none is), so that no
// record with timestamp >= ts is skipped. The records between that entry
// and ts come first, so the next Next() call may yield a record stamped
// before ts; resolution is bounded by the time-index's cadence. With no
// time index, it seeks to offset 0.
func (r *Reader) SeekTimestamp(ts uint64) error {
	i := sort.Search(len(r.timeIndex), func(i int) bool { return r.timeIndex[i].timestamp >= ts })
	if i > 0 {
		i--
	}
	if len(r.timeIndex) == 0 {
		return r.SeekOffset(0)
	}
	return r.SeekOffset(r.timeIndex[i].logicalOffset)
}

func (r *Reader) openFile(idx int) error {
	if r.cur != nil {
		r.cur.Close()
		r.cur = nil
	}
	if idx < 0 || idx >= len(r.files) {
		return io.EOF
	}
	path := filepath.Join(r.dirPath, fmt.Sprintf("%s.%06d.rot", r.prefix, r.files[idx].index))
	rr, err := rotrec.OpenReader(path)
	if err != nil {
		return fmt.Errorf("reader: open %q: %w", path, err)
	}
	r.cur = rr
	r.fileIdx = idx
	return nil
}

// Next decodes and returns the next TraceRecord, resolving its
// codepoint against the preloaded table. It returns io.EOF at the true
// end of the stream; a record whose final frame was cut short by an
// unclean shutdown also yields io.EOF (see ErrTruncated).
func (r *Reader) Next() (Record, error) {
	if r.cur == nil {
		if err := r.advanceToNextFile(); err != nil {
			return Record{}, err
		}
	}

	for {
		payload, err := r.cur.Next()
		switch {
		case err == nil:
			rec, decErr := codec.DecodeRecord(payload)
			if decErr != nil {
				return Record{}, fmt.Errorf("reader: decode record: %w", decErr)
			}
			return r.resolve(rec), nil
		case errors.Is(err, rotrec.ErrTruncated):
			return Record{}, fmt.Errorf("%w: %w", io.EOF, ErrTruncated)
		case errors.Is(err, io.EOF):
			if advErr := r.advanceToNextFile(); advErr != nil {
				return Record{}, advErr
			}
			continue
		default:
			return Record{}, fmt.Errorf("reader: read frame: %w", err)
		}
	}
}

// advanceToNextFile re-enumerates the directory (to pick up files
// created since the last scan) and opens the lowest-index file strictly
// after the one just exhausted.
func (r *Reader) advanceToNextFile() error {
	files, err := listFiles(r.dirPath, r.prefix)
	if err != nil {
		return err
	}
	var lastIndex uint64
	haveLast := false
	if r.fileIdx >= 0 && r.fileIdx < len(r.files) {
		lastIndex = r.files[r.fileIdx].index
		haveLast = true
	}
	r.files = files

	next := sort.Search(len(files), func(i int) bool {
		if !haveLast {
			return true
		}
		return files[i].index > lastIndex
	})
	return r.openFile(next)
}

func (r *Reader) resolve(rec codec.Record) Record {
	var cp codec.Codepoint
	var ok bool
	if int(rec.CPIndex) < len(r.codepoints) {
		cp = r.codepoints[rec.CPIndex]
		ok = true
	}
	return Record{Record: rec, cp: cp, hasCP: ok}
}

// Close releases the currently open file, if any.
func (r *Reader) Close() error {
	if r.cur != nil {
		return r.cur.Close()
	}
	return nil
}
