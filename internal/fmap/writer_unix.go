//go:build unix

package fmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Writer is an append-only byte sink backed by a sliding, double-wide mmap
// window. Writer is not safe for concurrent Reserve calls: spec.md §4.1
// assigns one Writer per thread. Close may be called from any goroutine
// once the owning thread is done reserving.
type Writer struct {
	file     *os.File
	mapSize  int
	window   []byte // len == 2*mapSize, mapped at file offset windowBase
	windowBase uint64
	cursor   uint64 // next write position, file-absolute
	closed   bool
}

// Open creates path if absent and maps the first 2*mapSize window. Writes
// start at offset 0: an existing file is written over from its start,
// not appended to, and Close truncates it to the bytes written by this
// Writer. mapSize must be a positive multiple of the system page size;
// DefaultMapSize satisfies this on every supported platform.
func Open(path string, mapSize int) (*Writer, error) {
	if mapSize <= 0 {
		return nil, fmt.Errorf("fmap: map_size must be positive, got %d", mapSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fmap: open %q: %w", path, err)
	}
	w := &Writer{file: f, mapSize: mapSize}
	if err := w.mapWindow(0); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// mapWindow truncates the file to base+2*mapSize and mmaps that range,
// replacing the current window. The caller is responsible for retiring
// any previous window through detachAndMap; the new mapping overlaps
// the old one's second half in file offset (not address) until the old
// mapping is actually unmapped, which is fine under MAP_SHARED.
func (w *Writer) mapWindow(base uint64) error {
	size := uint64(2 * w.mapSize)
	if err := w.file.Truncate(int64(base + size)); err != nil {
		return fmt.Errorf("fmap: truncate to %d: %w", base+size, err)
	}
	data, err := unix.Mmap(int(w.file.Fd()), int64(base), int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("fmap: mmap at offset %d: %w", base, err)
	}
	w.window = data
	w.windowBase = base
	return nil
}

// slide advances the window forward by one half: the entire current
// mapping is retired for unmapping (background or inline, per
// BackgroundUnmap) and a fresh 2*mapSize window is mapped starting one
// half further into the file. The retired slice is passed to Munmap
// exactly as returned by Mmap (len == cap), the only slice Munmap will
// accept; unmapping just the trailing half of it is not possible since
// that subslice's cap still spans the full mapping.
func (w *Writer) slide() error {
	retiring := w.window
	newBase := w.windowBase + uint64(w.mapSize)
	if err := detachAndMap(w, retiring, newBase); err != nil {
		return err
	}
	return nil
}

// Reserve returns a writable slice of exactly n bytes and advances the
// write cursor past it. n must not exceed map_size.
func (w *Writer) Reserve(n int) ([]byte, error) {
	if w.closed {
		return nil, ErrClosed
	}
	if n > w.mapSize {
		return nil, ErrTooLarge
	}
	rel := int(w.cursor - w.windowBase)
	if rel >= w.mapSize {
		if err := w.slide(); err != nil {
			return nil, err
		}
		rel = int(w.cursor - w.windowBase)
	}
	slice := w.window[rel : rel+n]
	w.cursor += uint64(n)
	return slice, nil
}

// CurrentOffset returns the number of bytes written so far.
func (w *Writer) CurrentOffset() uint64 { return w.cursor }

// Close flushes, unmaps the current window, and truncates the file to the
// exact number of bytes written (discarding the unwritten tail of the
// current half-window).
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := unix.Msync(w.window, unix.MS_SYNC); err != nil {
		// Best-effort: still attempt unmap/truncate/close below.
		_ = err
	}
	unmapErr := unix.Munmap(w.window)
	w.window = nil
	truncErr := w.file.Truncate(int64(w.cursor))
	closeErr := w.file.Close()
	switch {
	case unmapErr != nil:
		return fmt.Errorf("fmap: close: munmap: %w", unmapErr)
	case truncErr != nil:
		return fmt.Errorf("fmap: close: truncate: %w", truncErr)
	case closeErr != nil:
		return fmt.Errorf("fmap: close: %w", closeErr)
	}
	return nil
}
