//go:build wasip1

// Command wasmtest is a reactor module exporting a handful of functions for
// host harnesses to exercise: add_one, sum, allocate, deallocate and concat.
package main

import (
	"github.com/reglet-dev/wasmfixture/fixture"
	"github.com/reglet-dev/wasmfixture/internal/abi"
)

func main() {}

//go:wasmexport add_one
func addOne(x int64) int64 {
	return fixture.AddOne(x)
}

//go:wasmexport sum
func sum(x, y int64) int64 {
	return fixture.Sum(x, y)
}

// concat joins two C strings into a new allocation the caller must release
// with deallocate(ptr, len+1).
//
//go:wasmexport concat
func concat(a, b uint32) uint32 {
	return abi.NewCString(fixture.Concat(abi.ReadCString(a), abi.ReadCString(b)))
}
