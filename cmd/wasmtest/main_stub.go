//go:build !wasip1

//go:generate env GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o wasmtest.wasm .
//go:generate gzip -f wasmtest.wasm
//go:generate bash -c "base64 < wasmtest.wasm.gz | fold > wasmtest.base64"
//go:generate rm wasmtest.wasm.gz

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "wasmtest: build with GOOS=wasip1 GOARCH=wasm -buildmode=c-shared")
	os.Exit(2)
}
