package host

import (
	"errors"
	"fmt"
	"strings"

	"github.com/reglet-dev/wasmfixture/internal/memory"
)

var (
	// ErrNoAllocator is returned when guest memory is needed from a module
	// that does not export allocate.
	ErrNoAllocator = errors.New("module does not export allocate")
	// ErrNoDeallocator is returned when guest memory must be released in a
	// module that does not export deallocate.
	ErrNoDeallocator = errors.New("module does not export deallocate")
	// ErrNullPointer is returned when the guest hands back the null address
	// where a buffer was expected.
	ErrNullPointer = errors.New("null pointer")
	// ErrNoTerminator is returned when a C string runs to the end of memory.
	ErrNoTerminator = errors.New("no NUL terminator")
	// ErrOutOfBounds is returned for addresses outside linear memory.
	ErrOutOfBounds = errors.New("address out of bounds")
	// ErrUnknownFunction is returned for calls to undeclared or missing exports.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrInvalidFree is returned when releasing an address the host does not
	// hold.
	ErrInvalidFree = memory.ErrInvalidFree
	// ErrUnknownMagic is returned for objects that are neither wasm nor a
	// supported compression of it.
	ErrUnknownMagic = errors.New("unrecognized magic bytes")
	// ErrObjectTooLarge is returned when an object expands past the limit.
	ErrObjectTooLarge = errors.New("object too large")
)

// ObjectError reports a module object that could not be expanded.
type ObjectError struct {
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("invalid object: %v", e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// SignatureError reports a declaration that is malformed or does not match
// the module's export.
type SignatureError struct {
	Func string
	Err  error
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("invalid signature %s: %v", e.Func, e.Err)
}

func (e *SignatureError) Unwrap() error {
	return e.Err
}

// CallError reports a failed call into the module. Args are rendered
// abbreviated so large inputs do not swamp the message.
type CallError struct {
	Func string
	Args []any
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("wasm call %s(%s): %v", e.Func, formatArgs(e.Args), e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

const (
	maxArgs     = 10
	maxArgRunes = 10
)

func formatArgs(args []any) string {
	n := min(len(args), maxArgs)
	parts := make([]string, 0, n+1)
	for _, a := range args[:n] {
		parts = append(parts, truncate(fmt.Sprintf("%#v", a), maxArgRunes))
	}
	if len(args) > n {
		parts = append(parts, "...")
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
