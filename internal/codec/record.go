package codec

import (
	"encoding/binary"
	"math"
)

// RecordType is the 1-byte TraceRecord discriminator (spec.md §3).
type RecordType byte

const (
	TypePyFuncCall  RecordType = 1
	TypePyFuncRet   RecordType = 2
	TypePyFuncRaise RecordType = 3
	TypeCFuncCall   RecordType = 4
	TypeCFuncRet    RecordType = 5
	TypeCFuncRaise  RecordType = 6
	TypeLogRecord   RecordType = 7
)

// Record is a single decoded TraceRecord: the fixed header shared by every
// type, plus whichever body field its Type populates.
//
// PyFuncRaise, CFuncCall, CFuncRet, and CFuncRaise carry no body (spec.md
// Open Question (b): the exception type is omitted from *Raise records
// for cost — this implementation's explicit choice, matching the writer
// to this reader).
type Record struct {
	Type      RecordType
	Depth     uint16
	Timestamp uint64 // nanoseconds
	CPIndex   uint16

	Args    []Argument // TypePyFuncCall
	Retval  Argument   // TypePyFuncRet
	LogArgs [][]byte   // TypeLogRecord
}

// Size returns the number of bytes Append will write for r.
func (r Record) Size() int {
	n := RecordHeaderSize
	switch r.Type {
	case TypePyFuncCall:
		n += 2
		for _, a := range r.Args {
			n += a.Size()
		}
	case TypePyFuncRet:
		n += r.Retval.Size()
	case TypePyFuncRaise, TypeCFuncCall, TypeCFuncRet, TypeCFuncRaise:
		// no body
	case TypeLogRecord:
		n += 2
		for _, s := range r.LogArgs {
			n += sizeOfString(s)
		}
	}
	return n
}

// Append encodes r's header and body onto buf and returns the extended
// slice. It returns ErrTooManyItems if an argument/log-arg list, or
// ErrStringTooLong if any string payload, exceeds the u16 length limit.
func (r Record) Append(buf []byte) ([]byte, error) {
	buf = append(buf, byte(r.Type))
	buf = binary.LittleEndian.AppendUint16(buf, r.Depth)
	buf = binary.LittleEndian.AppendUint64(buf, r.Timestamp)
	buf = binary.LittleEndian.AppendUint16(buf, r.CPIndex)

	switch r.Type {
	case TypePyFuncCall:
		if len(r.Args) > math.MaxUint16 {
			return nil, ErrTooManyItems
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(r.Args)))
		var err error
		for _, a := range r.Args {
			if buf, err = a.Append(buf); err != nil {
				return nil, err
			}
		}
	case TypePyFuncRet:
		var err error
		if buf, err = r.Retval.Append(buf); err != nil {
			return nil, err
		}
	case TypePyFuncRaise, TypeCFuncCall, TypeCFuncRet, TypeCFuncRaise:
		// no body
	case TypeLogRecord:
		if len(r.LogArgs) > math.MaxUint16 {
			return nil, ErrTooManyItems
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(r.LogArgs)))
		var err error
		for _, s := range r.LogArgs {
			if buf, err = appendString(buf, s); err != nil {
				return nil, err
			}
		}
	default:
		return nil, ErrUnknownType
	}
	return buf, nil
}

// DecodeRecord decodes one TraceRecord payload (the bytes framed by a
// rotrec {u16 length; bytes} entry) from b.
func DecodeRecord(b []byte) (Record, error) {
	if len(b) < RecordHeaderSize {
		return Record{}, ErrTruncated
	}
	r := Record{
		Type:      RecordType(b[0]),
		Depth:     binary.LittleEndian.Uint16(b[1:3]),
		Timestamp: binary.LittleEndian.Uint64(b[3:11]),
		CPIndex:   binary.LittleEndian.Uint16(b[11:13]),
	}
	rest := b[RecordHeaderSize:]

	switch r.Type {
	case TypePyFuncCall:
		if len(rest) < 2 {
			return Record{}, ErrTruncated
		}
		n := int(binary.LittleEndian.Uint16(rest))
		rest = rest[2:]
		args := make([]Argument, 0, n)
		for i := 0; i < n; i++ {
			a, adv, err := DecodeArgument(rest)
			if err != nil {
				return Record{}, err
			}
			args = append(args, a)
			rest = rest[adv:]
		}
		r.Args = args
	case TypePyFuncRet:
		a, _, err := DecodeArgument(rest)
		if err != nil {
			return Record{}, err
		}
		r.Retval = a
	case TypePyFuncRaise, TypeCFuncCall, TypeCFuncRet, TypeCFuncRaise:
		// no body
	case TypeLogRecord:
		if len(rest) < 2 {
			return Record{}, ErrTruncated
		}
		n := int(binary.LittleEndian.Uint16(rest))
		rest = rest[2:]
		args := make([][]byte, 0, n)
		for i := 0; i < n; i++ {
			s, adv, err := readString(rest)
			if err != nil {
				return Record{}, err
			}
			args = append(args, s)
			rest = rest[adv:]
		}
		r.LogArgs = args
	default:
		return Record{}, ErrUnknownType
	}
	return r, nil
}
