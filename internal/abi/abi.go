//go:build wasip1

package abi

import (
	"fmt"

	"github.com/reglet-dev/wasmfixture/internal/memory"
)

var tracker = memory.NewTracker(memory.DefaultLimit)

// allocate reserves size bytes in linear memory and returns their address,
// or 0 for a zero size or when the tracker's limit would be exceeded.
//
//go:wasmexport allocate
func allocate(size uint32) uint32 {
	return uint32(tracker.Allocate(int(size)))
}

// deallocate releases memory returned by allocate. The capacity argument is
// accepted for ABI compatibility; the tracked length is what gets released.
// Releasing an address that is not live traps.
//
//go:wasmexport deallocate
func deallocate(ptr uint32, _ uint32) {
	if err := tracker.Free(uintptr(ptr)); err != nil {
		panic(fmt.Sprintf("abi: %v", err))
	}
}

// ReadCString returns a copy of the NUL-terminated string at ptr.
func ReadCString(ptr uint32) []byte {
	return memory.GoBytes(uintptr(ptr))
}

// NewCString places b in a fresh allocation, NUL-terminated, and returns its
// address. The host releases it with deallocate(ptr, len(b)+1).
func NewCString(b []byte) uint32 {
	return uint32(memory.CString(tracker, b))
}
