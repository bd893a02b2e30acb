package reader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

const timeIndexRecordSize = 16

// loadTimeIndex reads path fully into a vector of fixed 16-byte entries,
// ignoring a short trailing partial record. The time index is weakly
// monotone by construction (spec.md §3 invariant); loadTimeIndex trusts
// that and does not re-sort.
func loadTimeIndex(path string) ([]timeIndexEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reader: read timeindex file %q: %w", path, err)
	}

	n := len(data) / timeIndexRecordSize
	out := make([]timeIndexEntry, 0, n)
	for i := 0; i < n; i++ {
		rec := data[i*timeIndexRecordSize : (i+1)*timeIndexRecordSize]
		out = append(out, timeIndexEntry{
			timestamp:     binary.LittleEndian.Uint64(rec[0:8]),
			logicalOffset: binary.LittleEndian.Uint64(rec[8:16]),
		})
	}
	return out, nil
}
