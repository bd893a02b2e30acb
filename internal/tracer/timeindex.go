package tracer

import (
	"encoding/binary"
	"fmt"

	"github.com/tripwire/passover/internal/fmap"
)

// timeIndexRecordSize is the fixed { timestamp_ns: u64; logical_offset:
// u64 } record size (spec.md §3).
const timeIndexRecordSize = 16

// timeIndexWriter is the append-only file backing <prefix>.timeindex.
type timeIndexWriter struct {
	fw *fmap.Writer
}

func openTimeIndexWriter(path string, mapSize int) (*timeIndexWriter, error) {
	fw, err := fmap.Open(path, mapSize)
	if err != nil {
		return nil, fmt.Errorf("tracer: open timeindex file %q: %w", path, err)
	}
	return &timeIndexWriter{fw: fw}, nil
}

func (w *timeIndexWriter) append(timestamp, logicalOffset uint64) error {
	buf, err := w.fw.Reserve(timeIndexRecordSize)
	if err != nil {
		return fmt.Errorf("tracer: append time index entry: %w", err)
	}
	binary.LittleEndian.PutUint64(buf[0:8], timestamp)
	binary.LittleEndian.PutUint64(buf[8:16], logicalOffset)
	return nil
}

func (w *timeIndexWriter) close() error {
	if err := w.fw.Close(); err != nil {
		return fmt.Errorf("tracer: close timeindex file: %w", err)
	}
	return nil
}
