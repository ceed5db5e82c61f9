// Package memory tracks buffers handed across the module boundary.
//
// A buffer returned by Allocate is referenced from the Tracker until it is
// freed, which keeps the Go GC from reclaiming memory the other side of the
// boundary still holds an address for.
package memory

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

// DefaultLimit is the maximum number of bytes a Tracker hands out at once.
const DefaultLimit = 100 * 1024 * 1024 // 100 MB

// ErrInvalidFree is returned when freeing an address the Tracker never issued
// or has already released.
var ErrInvalidFree = errors.New("invalid free address")

// Tracker pins allocated slices by address.
type Tracker struct {
	mu    sync.Mutex
	ptrs  map[uintptr][]byte
	total int
	limit int
}

// NewTracker returns a Tracker that refuses to hold more than limit bytes.
// A limit <= 0 selects DefaultLimit.
func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Tracker{
		ptrs:  make(map[uintptr][]byte),
		limit: limit,
	}
}

// Allocate reserves size bytes and returns their address. A zero size, or a
// request that would take the Tracker past its limit, returns the null address.
func (t *Tracker) Allocate(size int) uintptr {
	if size <= 0 {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.total+size > t.limit {
		return 0
	}

	buf := make([]byte, size)
	ptr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	t.ptrs[ptr] = buf
	t.total += size
	return ptr
}

// Free releases the buffer at ptr. Freeing the null address is a no-op.
// Accounting uses the stored length, not any capacity the caller claims.
func (t *Tracker) Free(ptr uintptr) error {
	if ptr == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	buf, ok := t.ptrs[ptr]
	if !ok {
		return fmt.Errorf("%w: %#x", ErrInvalidFree, ptr)
	}
	delete(t.ptrs, ptr)
	t.total -= len(buf)
	return nil
}

// Bytes returns the tracked buffer starting at ptr.
func (t *Tracker) Bytes(ptr uintptr) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf, ok := t.ptrs[ptr]
	return buf, ok
}

// Stats returns the number of live allocations and their total size.
func (t *Tracker) Stats() (count, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.ptrs), t.total
}

// Reset drops every tracked allocation.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	clear(t.ptrs)
	t.total = 0
}

// CString copies s into a new NUL-terminated buffer owned by t. Bytes of s
// after its first NUL are dropped. It returns the null address if t refuses
// the allocation.
func CString(t *Tracker, s []byte) uintptr {
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	ptr := t.Allocate(len(s) + 1)
	if ptr == 0 {
		return 0
	}
	buf, _ := t.Bytes(ptr)
	copy(buf, s)
	buf[len(s)] = 0
	return ptr
}

// GoBytes returns a copy of the NUL-terminated string at ptr. The null
// address yields nil.
func GoBytes(ptr uintptr) []byte {
	if ptr == 0 {
		return nil
	}
	//nolint:gosec // G103: addresses come from the module's own linear memory
	p := unsafe.Pointer(ptr)
	var n int
	for *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	return bytes.Clone(unsafe.Slice((*byte)(p), n))
}
