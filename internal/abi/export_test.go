//go:build wasip1

package abi

// Stats reports live allocations and their total size.
func Stats() (count, total int) {
	return tracker.Stats()
}

// FreeAllTracked drops every tracked allocation.
func FreeAllTracked() {
	tracker.Reset()
}

// Bytes exposes the tracked buffer at ptr.
func Bytes(ptr uint32) []byte {
	buf, _ := tracker.Bytes(uintptr(ptr))
	return buf
}
