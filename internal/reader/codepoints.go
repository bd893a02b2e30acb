package reader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/tripwire/passover/internal/codec"
)

// loadCodepoints reads path fully, decoding { u16 length; bytes } frames
// into an index-ordered vector. A short trailing frame (process killed
// mid-append) or a decode error past an otherwise-valid prefix stops the
// scan cleanly instead of failing the whole load (spec.md §4.6: "decoding
// errors past a valid prefix terminate cleanly"). A missing file is not
// an error: a session in which nothing has been interned yet has no
// codepoints file.
func loadCodepoints(path string) ([]codec.Codepoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reader: read codepoints file %q: %w", path, err)
	}

	var out []codec.Codepoint
	pos := 0
	for pos < len(data) {
		if pos+2 > len(data) {
			break
		}
		n := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		if n == 0 {
			break
		}
		frameEnd := pos + 2 + n
		if frameEnd > len(data) {
			break
		}
		cp, decErr := codec.DecodeCodepoint(data[pos+2 : frameEnd])
		if decErr != nil {
			break
		}
		out = append(out, cp)
		pos = frameEnd
	}
	return out, nil
}
