// Package testwasm assembles small WebAssembly binaries for tests, so the
// host harness can be exercised without a wasm toolchain.
//
// Fixture returns a module with the same exports as cmd/wasmtest, backed by
// a bump allocator capped at AllocationLimit. deallocate reclaims nothing but
// traps on addresses the allocator never reached.
package testwasm

import (
	"bytes"
	"compress/gzip"
)

// Value types.
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
	F32 byte = 0x7d
	F64 byte = 0x7c
)

const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionGlobal   = 6
	sectionExport   = 7
	sectionCode     = 10

	exportFunc   = 0x00
	exportMemory = 0x02
)

// FuncType is a function signature.
type FuncType struct {
	Params  []byte
	Results []byte
}

// Func is a function definition. Body holds the instructions without the
// trailing end opcode.
type Func struct {
	Type   FuncType
	Locals []byte
	Body   []byte
	Export string
}

// Import is a function import.
type Import struct {
	Module, Name string
	Type         FuncType
}

// Module describes a binary to assemble. Imported functions take the lowest
// function indices, in order.
type Module struct {
	Imports []Import
	Funcs   []Func
	// Memory is the initial page count; zero omits the memory.
	Memory uint32
	// Globals are mutable i32 globals with the given initial values.
	Globals []int32
}

// Bytes encodes m.
func (m Module) Bytes() []byte {
	var types []FuncType
	typeIndex := func(ft FuncType) uint32 {
		for i, t := range types {
			if bytes.Equal(t.Params, ft.Params) && bytes.Equal(t.Results, ft.Results) {
				return uint32(i)
			}
		}
		types = append(types, ft)
		return uint32(len(types) - 1)
	}

	var imports, funcs, code, exports []byte
	var nexports uint32
	for _, im := range m.Imports {
		imports = append(imports, name(im.Module)...)
		imports = append(imports, name(im.Name)...)
		imports = append(imports, exportFunc)
		imports = append(imports, u32(typeIndex(im.Type))...)
	}
	for i, f := range m.Funcs {
		funcs = append(funcs, u32(typeIndex(f.Type))...)
		code = append(code, vec(body(f))...)
		if f.Export != "" {
			exports = append(exports, name(f.Export)...)
			exports = append(exports, exportFunc)
			exports = append(exports, u32(uint32(len(m.Imports)+i))...)
			nexports++
		}
	}
	if m.Memory > 0 {
		exports = append(exports, name("memory")...)
		exports = append(exports, exportMemory, 0x00)
		nexports++
	}

	var typeSec []byte
	for _, t := range types {
		typeSec = append(typeSec, 0x60)
		typeSec = append(typeSec, u32(uint32(len(t.Params)))...)
		typeSec = append(typeSec, t.Params...)
		typeSec = append(typeSec, u32(uint32(len(t.Results)))...)
		typeSec = append(typeSec, t.Results...)
	}

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(sectionType, uint32(len(types)), typeSec)...)
	if len(m.Imports) > 0 {
		out = append(out, section(sectionImport, uint32(len(m.Imports)), imports)...)
	}
	out = append(out, section(sectionFunction, uint32(len(m.Funcs)), funcs)...)
	if m.Memory > 0 {
		limits := append([]byte{0x00}, u32(m.Memory)...)
		out = append(out, section(sectionMemory, 1, limits)...)
	}
	if len(m.Globals) > 0 {
		var globals []byte
		for _, g := range m.Globals {
			globals = append(globals, I32, 0x01, opI32Const)
			globals = append(globals, s32(g)...)
			globals = append(globals, opEnd)
		}
		out = append(out, section(sectionGlobal, uint32(len(m.Globals)), globals)...)
	}
	if nexports > 0 {
		out = append(out, section(sectionExport, nexports, exports)...)
	}
	out = append(out, section(sectionCode, uint32(len(m.Funcs)), code)...)
	return out
}

func body(f Func) []byte {
	var b []byte
	if len(f.Locals) == 0 {
		b = append(b, 0x00)
	} else {
		b = append(b, u32(uint32(len(f.Locals)))...)
		for _, l := range f.Locals {
			b = append(b, 0x01, l)
		}
	}
	b = append(b, f.Body...)
	return append(b, opEnd)
}

func section(id byte, n uint32, content []byte) []byte {
	payload := append(u32(n), content...)
	return append([]byte{id}, vec(payload)...)
}

func vec(b []byte) []byte {
	return append(u32(uint32(len(b))), b...)
}

func name(s string) []byte {
	return vec([]byte(s))
}

func u32(v uint32) []byte {
	var b []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b = append(b, c|0x80)
			continue
		}
		return append(b, c)
	}
}

func s32(v int32) []byte {
	var b []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

// Gzip compresses obj, as fixture objects are usually shipped.
func Gzip(obj []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write(obj)
	_ = w.Close()
	return buf.Bytes()
}
