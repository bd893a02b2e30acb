// Package rotrec implements one capped, length-prefixed, base-offset
// headed record file (spec.md §4.3, §6): an 8-byte base-offset header
// followed by a sequence of { u16 length; bytes[length] } frames, backed
// by one fmap.Writer.
package rotrec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tripwire/passover/internal/fmap"
	"github.com/tripwire/passover/internal/perr"
)

// HeaderSize is the fixed 8-byte base-offset header every record file
// starts with.
const HeaderSize = 8

// ErrFull is returned by Append when the frame would not fit in the
// file's remaining capacity. The caller (rotdir) treats this as the
// signal to rotate to a new file, not as a real failure.
var ErrFull = errors.New("rotrec: file capacity exhausted")

// ErrTruncated is returned by Reader.Next when a frame's header or
// payload is cut short — an unclean shutdown mid-append. Callers stop
// iteration cleanly on this error rather than treating it as corruption
// (spec.md §7, §8 property 7).
var ErrTruncated = errors.New("rotrec: truncated frame")

// Writer appends length-prefixed frames to one capped record file.
type Writer struct {
	fw         *fmap.Writer
	baseOffset uint64
	remaining  uint64
}

// Create opens a new record file at path, writes its base-offset header,
// and returns a Writer with fileSize-HeaderSize bytes of frame capacity.
// mapSize must not exceed fileSize (spec.md §7 Config: "window size
// exceeds file size").
func Create(path string, baseOffset uint64, fileSize, mapSize int) (*Writer, error) {
	if mapSize > fileSize {
		return nil, fmt.Errorf("rotrec: map_size %d exceeds file_size %d: %w", mapSize, fileSize, perr.ErrConfig)
	}
	if fileSize <= HeaderSize {
		return nil, fmt.Errorf("rotrec: file_size %d too small for an %d-byte header: %w", fileSize, HeaderSize, perr.ErrConfig)
	}
	fw, err := fmap.Open(path, mapSize)
	if err != nil {
		return nil, err
	}
	hdr, err := fw.Reserve(HeaderSize)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("rotrec: write base-offset header: %w", err)
	}
	binary.LittleEndian.PutUint64(hdr, baseOffset)
	return &Writer{
		fw:         fw,
		baseOffset: baseOffset,
		remaining:  uint64(fileSize) - HeaderSize,
	}, nil
}

// BaseOffset returns the logical offset of this file's first record.
func (w *Writer) BaseOffset() uint64 { return w.baseOffset }

// Remaining returns the number of bytes still available for frames.
func (w *Writer) Remaining() uint64 { return w.remaining }

// LogicalOffset returns the logical offset at which the next Append will
// land: base_offset + physical_offset - 8 (spec.md §3 invariant).
func (w *Writer) LogicalOffset() uint64 { return w.baseOffset + w.fw.CurrentOffset() - HeaderSize }

// Append writes one { u16 length; payload } frame. It returns ErrFull,
// without writing anything, if the frame would not fit in the remaining
// capacity; the caller then rotates to a new file and retries there.
func (w *Writer) Append(payload []byte) (logicalOffset uint64, err error) {
	need := 2 + len(payload)
	if uint64(need) > w.remaining {
		return 0, ErrFull
	}
	off := w.LogicalOffset()
	buf, err := w.fw.Reserve(need)
	if err != nil {
		return 0, fmt.Errorf("rotrec: append: %w", err)
	}
	binary.LittleEndian.PutUint16(buf, uint16(len(payload)))
	copy(buf[2:], payload)
	w.remaining -= uint64(need)
	return off, nil
}

// Close flushes and closes the underlying fmap handle.
func (w *Writer) Close() error { return w.fw.Close() }

// Reader reads length-prefixed frames back out of a record file written
// by Writer, starting just past the base-offset header.
type Reader struct {
	f          *os.File
	baseOffset uint64
	pos        int64
}

// OpenReader opens path for reading and loads its base-offset header.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rotrec: open %q: %w", path, err)
	}
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("rotrec: read header of %q: %w", path, err)
	}
	return &Reader{
		f:          f,
		baseOffset: binary.LittleEndian.Uint64(hdr[:]),
		pos:        HeaderSize,
	}, nil
}

// BaseOffset returns this file's base offset.
func (r *Reader) BaseOffset() uint64 { return r.baseOffset }

// PhysicalOffset returns the current read position within the file.
func (r *Reader) PhysicalOffset() int64 { return r.pos }

// LogicalOffset returns the logical offset of the next frame to be read.
func (r *Reader) LogicalOffset() uint64 { return r.baseOffset + uint64(r.pos) - HeaderSize }

// SeekPhysical repositions the read cursor to an absolute physical byte
// offset within the file (must be >= HeaderSize).
func (r *Reader) SeekPhysical(pos int64) error {
	if pos < HeaderSize {
		return fmt.Errorf("rotrec: seek position %d precedes header", pos)
	}
	r.pos = pos
	return nil
}

// Next reads and returns the next frame's payload. It returns io.EOF,
// with no error beyond that, on a zero-length frame or true end of file
// (spec.md §4.3: both signal end-of-file to the reader identically). A
// frame whose header or payload is cut short returns ErrTruncated; per
// spec.md §8 property 7, this ends iteration cleanly rather than
// signalling corruption.
func (r *Reader) Next() ([]byte, error) {
	var lenBuf [2]byte
	n, err := r.f.ReadAt(lenBuf[:], r.pos)
	if n == 0 && errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if n < 2 {
		return nil, ErrTruncated
	}
	length := binary.LittleEndian.Uint16(lenBuf[:])
	if length == 0 {
		return nil, io.EOF
	}
	payload := make([]byte, length)
	n2, err2 := r.f.ReadAt(payload, r.pos+2)
	if n2 < int(length) {
		if errors.Is(err2, io.EOF) || err2 == nil {
			return nil, ErrTruncated
		}
		return nil, fmt.Errorf("rotrec: read frame payload: %w", err2)
	}
	r.pos += 2 + int64(length)
	return payload, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.f.Close() }
