package host

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallError(t *testing.T) {
	err := &CallError{Func: "sum", Args: []any{int64(1), int64(2)}, Err: ErrNullPointer}
	assert.Equal(t, "wasm call sum(1, 2): null pointer", err.Error())
	assert.True(t, errors.Is(err, ErrNullPointer))
}

func TestCallError_TruncatesArgs(t *testing.T) {
	long := strings.Repeat("a", 100)
	err := &CallError{Func: "concat", Args: []any{long, "b"}, Err: ErrNoTerminator}
	assert.Equal(t, `wasm call concat("aaaaaaaaa..., "b"): no NUL terminator`, err.Error())
}

func TestFormatArgs(t *testing.T) {
	args := make([]any, 12)
	for i := range args {
		args[i] = i
	}
	assert.Equal(t, "0, 1, 2, 3, 4, 5, 6, 7, 8, 9, ...", formatArgs(args))
	assert.Equal(t, "", formatArgs(nil))
	assert.Equal(t, `"日本語日本語日本語...`, formatArgs([]any{"日本語日本語日本語日本語"}))
}

func TestErrorWrapping(t *testing.T) {
	se := &SignatureError{Func: "f", Err: ErrUnknownFunction}
	assert.Equal(t, "invalid signature f: unknown function", se.Error())
	assert.ErrorIs(t, se, ErrUnknownFunction)

	oe := &ObjectError{Err: ErrUnknownMagic}
	assert.Equal(t, "invalid object: unrecognized magic bytes", oe.Error())
	assert.ErrorIs(t, oe, ErrUnknownMagic)
}
