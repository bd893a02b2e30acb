// Package codec implements the Passover wire format: the byte-exact
// encoding of Arguments, TraceRecords, and CodepointRecords described in
// spec.md §3 and §6. Every multi-byte integer is little-endian; every
// string is raw bytes preceded by a u16 length, never null-terminated.
package codec

import (
	"encoding/binary"
	"errors"
	"math"
)

// Errors returned while decoding a frame payload. A caller reading a
// rotrec/rotdir stream treats any of these as "stop, don't crash" per
// spec.md §7 (Truncated) rather than a hard failure.
var (
	ErrTruncated    = errors.New("codec: truncated frame")
	ErrUnknownTag   = errors.New("codec: unknown argument tag")
	ErrUnknownType  = errors.New("codec: unknown record type")
	ErrStringTooLong = errors.New("codec: string exceeds u16 length limit")
	ErrTooManyItems  = errors.New("codec: list exceeds u16 length limit")
)

// RecordHeaderSize is the fixed-size header common to every TraceRecord:
// type(1) + depth(2) + timestamp_ns(8) + cpindex(2).
const RecordHeaderSize = 1 + 2 + 8 + 2

// appendString writes a u16-length-prefixed byte string, as spec.md §3
// mandates for every string field in the format.
func appendString(buf []byte, s []byte) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return nil, ErrStringTooLong
	}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	buf = append(buf, s...)
	return buf, nil
}

// readString reads a u16-length-prefixed byte string, returning the
// decoded bytes (a fresh copy) and the number of bytes consumed from b.
func readString(b []byte) (s []byte, n int, err error) {
	if len(b) < 2 {
		return nil, 0, ErrTruncated
	}
	l := int(binary.LittleEndian.Uint16(b))
	if len(b) < 2+l {
		return nil, 0, ErrTruncated
	}
	s = append([]byte(nil), b[2:2+l]...)
	return s, 2 + l, nil
}

func sizeOfString(s []byte) int { return 2 + len(s) }
