package testwasm

import (
	"encoding/binary"
	"math"
)

const (
	opUnreachable = 0x00
	opBlock       = 0x02
	opLoop        = 0x03
	opIf          = 0x04
	opEnd         = 0x0b
	opBr          = 0x0c
	opBrIf        = 0x0d
	opReturn      = 0x0f
	opCall        = 0x10
	opLocalGet    = 0x20
	opLocalSet    = 0x21
	opLocalTee    = 0x22
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24
	opI64Load     = 0x29
	opI32Load8U   = 0x2d
	opI32Store    = 0x36
	opI32Store8   = 0x3a
	opMemorySize  = 0x3f
	opMemoryGrow  = 0x40
	opI32Const    = 0x41
	opI64Const    = 0x42
	opF64Const    = 0x44
	opI32Eqz      = 0x45
	opI32Eq       = 0x46
	opI32LtU      = 0x49
	opI32GtU      = 0x4b
	opI32GeU      = 0x4f
	opI32Add      = 0x6a
	opI32Sub      = 0x6b
	opI32Mul      = 0x6c
	opI32Or       = 0x72
	opI32Shl      = 0x74
	opI32ShrU     = 0x76
	opI64Add      = 0x7c
	opF64Mul      = 0xa2
	opPrefixFC    = 0xfc

	blockEmpty = 0x40
)

// HeapBase is the first address the fixture's allocator hands out.
const HeapBase = 1024

// AllocationLimit caps the bytes the fixture's allocator hands out in total.
const AllocationLimit = 100 * 1024 * 1024

// Globals: the heap top and the number of non-null deallocate calls.
const (
	globalHeap = iota
	globalFreed
)

var fixtureGlobals = []int32{globalHeap: HeapBase, globalFreed: 0}

// Function indices within the fixture, relative to the first defined function.
const (
	fnAddOne = iota
	fnSum
	fnAllocate
	fnDeallocate
	fnStrlen
	fnConcat
)

var (
	i64ToI64    = FuncType{Params: []byte{I64}, Results: []byte{I64}}
	i64x2ToI64  = FuncType{Params: []byte{I64, I64}, Results: []byte{I64}}
	i32ToI32    = FuncType{Params: []byte{I32}, Results: []byte{I32}}
	i32x2ToNone = FuncType{Params: []byte{I32, I32}}
	i32x2ToI32  = FuncType{Params: []byte{I32, I32}, Results: []byte{I32}}
	i32x3ToNone = FuncType{Params: []byte{I32, I32, I32}}
	i32x3ToI64  = FuncType{Params: []byte{I32, I32, I32}, Results: []byte{I64}}
	i32x4ToNone = FuncType{Params: []byte{I32, I32, I32, I32}}
	noneToI32   = FuncType{Results: []byte{I32}}
	noneToI64   = FuncType{Results: []byte{I64}}
	f64ToF64    = FuncType{Params: []byte{F64}, Results: []byte{F64}}
)

func localGet(i byte) []byte  { return []byte{opLocalGet, i} }
func localSet(i byte) []byte  { return []byte{opLocalSet, i} }
func i32Const(v int32) []byte { return append([]byte{opI32Const}, s32(v)...) }
func globalGet(i byte) []byte { return []byte{opGlobalGet, i} }
func globalSet(i byte) []byte { return []byte{opGlobalSet, i} }

// i32Store stores the top of the stack at the address below it plus offset.
func i32Store(offset uint32) []byte { return append([]byte{opI32Store, 0x02}, u32(offset)...) }
func call(fn uint32) []byte   { return append([]byte{opCall}, u32(fn)...) }

func seq(parts ...[]byte) []byte {
	var b []byte
	for _, p := range parts {
		b = append(b, p...)
	}
	return b
}

// fixtureFuncs returns the five exports plus the strlen helper. base is the
// index of the first defined function, i.e. the number of imports.
func fixtureFuncs(base uint32) []Func {
	// if (local 0 == 0) return 0
	returnNullIfZero := func(local byte) []byte {
		return seq(localGet(local), []byte{opI32Eqz, opIf, blockEmpty}, i32Const(0), []byte{opReturn, opEnd})
	}
	// memory.size << 16
	memBytes := seq([]byte{opMemorySize, 0x00}, i32Const(16), []byte{opI32Shl})

	allocate := seq(
		returnNullIfZero(0),
		// refuse to pass AllocationLimit
		localGet(0), i32Const(AllocationLimit), globalGet(globalHeap), i32Const(HeapBase), []byte{opI32Sub, opI32Sub},
		[]byte{opI32GtU, opIf, blockEmpty}, i32Const(0), []byte{opReturn, opEnd},
		// ptr = heap; end = heap + size
		globalGet(globalHeap), localSet(1),
		globalGet(globalHeap), localGet(0), []byte{opI32Add}, localSet(2),
		// grow when end passes the current memory size
		localGet(2), memBytes, []byte{opI32GtU, opIf, blockEmpty},
		localGet(2), memBytes, []byte{opI32Sub},
		i32Const(65535), []byte{opI32Add}, i32Const(16), []byte{opI32ShrU},
		[]byte{opMemoryGrow, 0x00}, i32Const(-1), []byte{opI32Eq, opIf, blockEmpty},
		i32Const(0), []byte{opReturn, opEnd},
		[]byte{opEnd},
		localGet(2), globalSet(globalHeap),
		localGet(1),
	)

	// null is a no-op; an address outside [HeapBase, heap) traps.
	deallocate := seq(
		localGet(0), []byte{opI32Eqz, opIf, blockEmpty, opReturn, opEnd},
		localGet(0), i32Const(HeapBase), []byte{opI32LtU},
		localGet(0), globalGet(globalHeap), []byte{opI32GeU, opI32Or},
		[]byte{opIf, blockEmpty, opUnreachable, opEnd},
		globalGet(globalFreed), i32Const(1), []byte{opI32Add}, globalSet(globalFreed),
	)

	strlen := seq(
		[]byte{opBlock, blockEmpty, opLoop, blockEmpty},
		localGet(0), localGet(1), []byte{opI32Add, opI32Load8U, 0x00, 0x00, opI32Eqz, opBrIf, 0x01},
		localGet(1), i32Const(1), []byte{opI32Add}, localSet(1),
		[]byte{opBr, 0x00, opEnd, opEnd},
		localGet(1),
	)

	memoryCopy := []byte{opPrefixFC, 0x0a, 0x00, 0x00}
	concat := seq(
		localGet(0), call(base+fnStrlen), localSet(2),
		localGet(1), call(base+fnStrlen), localSet(3),
		localGet(2), localGet(3), []byte{opI32Add}, i32Const(1), []byte{opI32Add},
		call(base+fnAllocate), localSet(4),
		returnNullIfZero(4),
		localGet(4), localGet(0), localGet(2), memoryCopy,
		localGet(4), localGet(2), []byte{opI32Add}, localGet(1), localGet(3), memoryCopy,
		localGet(4), localGet(2), []byte{opI32Add}, localGet(3), []byte{opI32Add},
		i32Const(0), []byte{opI32Store8, 0x00, 0x00},
		localGet(4),
	)

	return []Func{
		fnAddOne: {
			Type:   i64ToI64,
			Body:   seq(localGet(0), []byte{opI64Const, 0x01, opI64Add}),
			Export: "add_one",
		},
		fnSum: {
			Type:   i64x2ToI64,
			Body:   seq(localGet(0), localGet(1), []byte{opI64Add}),
			Export: "sum",
		},
		fnAllocate: {
			Type:   i32ToI32,
			Locals: []byte{I32, I32},
			Body:   allocate,
			Export: "allocate",
		},
		fnDeallocate: {
			Type:   i32x2ToNone,
			Body:   deallocate,
			Export: "deallocate",
		},
		fnStrlen: {
			Type:   i32ToI32,
			Locals: []byte{I32},
			Body:   strlen,
		},
		fnConcat: {
			Type:   i32x2ToI32,
			Locals: []byte{I32, I32, I32},
			Body:   concat,
			Export: "concat",
		},
	}
}

// Fixture returns the five-export module with no imports.
func Fixture() []byte {
	return Module{
		Funcs:   fixtureFuncs(0),
		Memory:  1,
		Globals: fixtureGlobals,
	}.Bytes()
}

// WASIFixture is Fixture with an import of wasi_snapshot_preview1.proc_exit,
// so it only instantiates when a WASI environment is provided.
func WASIFixture() []byte {
	return Module{
		Imports: []Import{{
			Module: "wasi_snapshot_preview1",
			Name:   "proc_exit",
			Type:   FuncType{Params: []byte{I32}},
		}},
		Funcs:   fixtureFuncs(1),
		Memory:  1,
		Globals: fixtureGlobals,
	}.Bytes()
}

// ValuesOnly exports add_one and sum with a memory but no allocator.
func ValuesOnly() []byte {
	funcs := fixtureFuncs(0)
	return Module{
		Funcs:   funcs[:fnAllocate],
		Memory:  1,
		Globals: fixtureGlobals,
	}.Bytes()
}

// Extended is Fixture plus exports used to exercise the host's type mapping
// and failure paths:
//
//	trap() i64          always traps
//	half(x f64) f64     x * 0.5
//	not(x i32) i32      x == 0
//	null_str() i32      returns the null address
//	unterminated() i32  hands out the rest of memory and returns an address
//	                    whose bytes run to its end without a NUL
//	freed() i32         the number of non-null deallocate calls so far
//
// and exports taking strings as (ptr, len) and slices as (ptr, len, cap).
// Those returning a string or slice write its header to the slot passed as
// their first argument:
//
//	length(ptr, len i32) i32         len
//	sum_all(ptr, len, cap i32) i64   the sum of len little-endian int64s
//	clone(ret, ptr, len i32)         copies a string into a new allocation
//	clone_bytes, clone_bools         copy a slice of 1-byte elements
//	clone_int64s, clone_float64s     copy a slice of 8-byte elements
//	clone_strings                    copies a slice of 8-byte string headers
func Extended() []byte {
	half := make([]byte, 8)
	binary.LittleEndian.PutUint64(half, math.Float64bits(0.5))

	memBytes := seq([]byte{opMemorySize, 0x00}, i32Const(16), []byte{opI32Shl})

	funcs := append(fixtureFuncs(0),
		Func{
			Type:   noneToI64,
			Body:   []byte{opUnreachable},
			Export: "trap",
		},
		Func{
			Type:   f64ToF64,
			Body:   seq(localGet(0), []byte{opF64Const}, half, []byte{opF64Mul}),
			Export: "half",
		},
		Func{
			Type:   i32ToI32,
			Body:   seq(localGet(0), []byte{opI32Eqz}),
			Export: "not",
		},
		Func{
			Type:   noneToI32,
			Body:   i32Const(0),
			Export: "null_str",
		},
		Func{
			Type:   noneToI32,
			Locals: []byte{I32},
			Body: seq(
				memBytes, globalSet(globalHeap),
				globalGet(globalHeap), i32Const(4), []byte{opI32Sub, opLocalTee, 0x00},
				i32Const(0x41414141), i32Store(0),
				localGet(0),
			),
			Export: "unterminated",
		},
		Func{
			Type:   noneToI32,
			Body:   globalGet(globalFreed),
			Export: "freed",
		},
		Func{
			Type:   i32x2ToI32,
			Body:   localGet(1),
			Export: "length",
		},
		Func{
			Type:   i32x3ToI64,
			Locals: []byte{I32, I64},
			Body: seq(
				[]byte{opBlock, blockEmpty, opLoop, blockEmpty},
				localGet(3), localGet(1), []byte{opI32GeU, opBrIf, 0x01},
				localGet(4),
				localGet(0), localGet(3), i32Const(8), []byte{opI32Mul, opI32Add},
				[]byte{opI64Load, 0x03, 0x00, opI64Add}, localSet(4),
				localGet(3), i32Const(1), []byte{opI32Add}, localSet(3),
				[]byte{opBr, 0x00, opEnd, opEnd},
				localGet(4),
			),
			Export: "sum_all",
		},
		cloneFunc("clone", 1, false),
		cloneFunc("clone_bytes", 1, true),
		cloneFunc("clone_bools", 1, true),
		cloneFunc("clone_int64s", 8, true),
		cloneFunc("clone_float64s", 8, true),
		cloneFunc("clone_strings", 8, true),
	)
	return Module{
		Funcs:   funcs,
		Memory:  1,
		Globals: fixtureGlobals,
	}.Bytes()
}

// cloneFunc copies len elements of size bytes at ptr into a fresh allocation
// and writes the header for it to ret: (ptr, len) for a string, (ptr, len,
// len) for a slice. It must be placed in a module built from fixtureFuncs(0).
func cloneFunc(export string, size int32, slice bool) Func {
	typ, n, p := i32x3ToNone, byte(3), byte(4)
	if slice {
		typ, n, p = i32x4ToNone, 4, 5
	}
	memoryCopy := []byte{opPrefixFC, 0x0a, 0x00, 0x00}
	body := seq(
		localGet(2), i32Const(size), []byte{opI32Mul}, localSet(n),
		localGet(n), call(fnAllocate), localSet(p),
		localGet(p), localGet(1), localGet(n), memoryCopy,
		localGet(0), localGet(p), i32Store(0),
		localGet(0), localGet(2), i32Store(4),
	)
	if slice {
		body = seq(body, localGet(0), localGet(2), i32Store(8))
	}
	return Func{
		Type:   typ,
		Locals: []byte{I32, I32},
		Body:   body,
		Export: export,
	}
}
