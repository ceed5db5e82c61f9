// Package host loads WebAssembly test fixtures and drives their exports.
//
// It wraps the wazero runtime, manages module lifecycle, and handles the
// low-level ABI work a harness needs: placing C strings in guest memory via
// the module's allocate export, reading NUL-terminated results back, and
// releasing both through deallocate.
//
// Exports are bound from Go declarations, so a module exporting
//
//	sum(i64, i64) -> i64
//	concat(i32, i32) -> i32
//
// is described as
//
//	sum(x, y int64) int64
//	concat(a, b *C.char) *C.char
//
// and called with plain Go values:
//
//	e, err := host.NewExecutor(ctx)
//	...
//	inst, err := e.Load(ctx, "fixture", obj)
//	...
//	s, err := inst.Call(ctx, "concat", "hello, ", "world")
package host
