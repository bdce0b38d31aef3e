package common

import "bytes"

// Coalesce returns the first non-zero value from the provided values, or the zero value if all are zero.
//
// Parameters:
//   - values: a variadic list of values to check for non-zero status
//
// Returns:
//   - T: the first non-zero value from the input, or the zero value if all are zero
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// CloneBytes returns a copy of b that does not share memory with it.
// A nil input yields an empty, non-nil slice so callers can tell "written empty" apart from "never written".
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// BytesEqual reports whether a and b hold the same bytes.
func BytesEqual(a, b []byte) bool {
	return bytes.Equal(a, b)
}
