package codec

import "encoding/binary"

// CodepointType is the 1-byte CodepointRecord discriminator (spec.md §3).
type CodepointType byte

const (
	CPLogline CodepointType = 1
	CPPyFunc  CodepointType = 2
	CPCFunc   CodepointType = 3
)

// Codepoint is a decoded, interned description of a static call site or
// log format string. Fields not relevant to Type are zero.
type Codepoint struct {
	Type CodepointType

	Format string // CPLogline

	Filename string // CPPyFunc
	Lineno   uint32 // CPPyFunc

	Module string // CPCFunc

	Name string // CPPyFunc, CPCFunc
}

// Logline builds a LoglineCodepoint keyed by its format string.
func Logline(format string) Codepoint { return Codepoint{Type: CPLogline, Format: format} }

// PyFunc builds a PyFuncCodepoint.
func PyFunc(filename, name string, lineno uint32) Codepoint {
	return Codepoint{Type: CPPyFunc, Filename: filename, Name: name, Lineno: lineno}
}

// CFunc builds a CFuncCodepoint.
func CFunc(module, name string) Codepoint {
	return Codepoint{Type: CPCFunc, Module: module, Name: name}
}

// Size returns the number of bytes Append will write for c.
func (c Codepoint) Size() int {
	switch c.Type {
	case CPLogline:
		return 1 + sizeOfString([]byte(c.Format))
	case CPPyFunc:
		return 1 + sizeOfString([]byte(c.Filename)) + sizeOfString([]byte(c.Name)) + 4
	case CPCFunc:
		return 1 + sizeOfString([]byte(c.Module)) + sizeOfString([]byte(c.Name))
	default:
		return 1
	}
}

// Append encodes c onto buf and returns the extended slice.
func (c Codepoint) Append(buf []byte) ([]byte, error) {
	buf = append(buf, byte(c.Type))
	var err error
	switch c.Type {
	case CPLogline:
		buf, err = appendString(buf, []byte(c.Format))
	case CPPyFunc:
		if buf, err = appendString(buf, []byte(c.Filename)); err != nil {
			return nil, err
		}
		if buf, err = appendString(buf, []byte(c.Name)); err != nil {
			return nil, err
		}
		buf = binary.LittleEndian.AppendUint32(buf, c.Lineno)
	case CPCFunc:
		if buf, err = appendString(buf, []byte(c.Module)); err != nil {
			return nil, err
		}
		buf, err = appendString(buf, []byte(c.Name))
	default:
		return nil, ErrUnknownType
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeCodepoint decodes one CodepointRecord payload from b.
func DecodeCodepoint(b []byte) (Codepoint, error) {
	if len(b) < 1 {
		return Codepoint{}, ErrTruncated
	}
	typ := CodepointType(b[0])
	rest := b[1:]
	switch typ {
	case CPLogline:
		format, _, err := readString(rest)
		if err != nil {
			return Codepoint{}, err
		}
		return Codepoint{Type: CPLogline, Format: string(format)}, nil
	case CPPyFunc:
		filename, n, err := readString(rest)
		if err != nil {
			return Codepoint{}, err
		}
		rest = rest[n:]
		name, n, err := readString(rest)
		if err != nil {
			return Codepoint{}, err
		}
		rest = rest[n:]
		if len(rest) < 4 {
			return Codepoint{}, ErrTruncated
		}
		lineno := binary.LittleEndian.Uint32(rest)
		return Codepoint{Type: CPPyFunc, Filename: string(filename), Name: string(name), Lineno: lineno}, nil
	case CPCFunc:
		module, n, err := readString(rest)
		if err != nil {
			return Codepoint{}, err
		}
		rest = rest[n:]
		name, _, err := readString(rest)
		if err != nil {
			return Codepoint{}, err
		}
		return Codepoint{Type: CPCFunc, Module: string(module), Name: string(name)}, nil
	default:
		return Codepoint{}, ErrUnknownType
	}
}
