// Package fixture holds the semantics of the exported test functions,
// independent of how they are exposed across the module boundary.
package fixture

import "bytes"

// AddOne returns x+1. Overflow wraps.
func AddOne(x int64) int64 {
	return x + 1
}

// Sum returns x+y. Overflow wraps.
func Sum(x, y int64) int64 {
	return x + y
}

// Concat returns a new slice holding a followed by b. Each input is cut at
// its first NUL byte so the result can always be NUL-terminated as a C string.
func Concat(a, b []byte) []byte {
	a = cut(a)
	b = cut(b)
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func cut(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}
