package htable

import "strconv"

// LoglineKey builds the intern key for a LoglineCodepoint, keyed on its
// format string (spec.md §4.5: "interns LoglineCodepoint keyed by format
// pointer identity" in the original; this implementation compares by
// value, which is a superset of pointer-identity correctness — two
// distinct format-string objects with identical contents simply intern to
// the same codepoint).
func LoglineKey(format string) Key {
	return Key("L\x00" + format)
}

// PyFuncKey builds the intern key for a PyFuncCodepoint.
func PyFuncKey(filename, name string, lineno uint32) Key {
	return Key("P\x00" + filename + "\x00" + name + "\x00" + strconv.FormatUint(uint64(lineno), 10))
}

// CFuncKey builds the intern key for a CFuncCodepoint.
func CFuncKey(module, name string) Key {
	return Key("C\x00" + module + "\x00" + name)
}
