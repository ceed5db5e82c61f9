package host

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/wasmfixture/internal/testwasm"
)

func TestExpand(t *testing.T) {
	raw := testwasm.Fixture()

	got, err := Expand(raw, DefaultMaxObjectSize)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = Expand(testwasm.Gzip(raw), DefaultMaxObjectSize)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestExpand_Limit(t *testing.T) {
	raw := testwasm.Fixture()

	_, err := Expand(testwasm.Gzip(raw), int64(len(raw)))
	assert.NoError(t, err, "exactly at the limit")

	_, err = Expand(testwasm.Gzip(raw), int64(len(raw)-1))
	assert.ErrorIs(t, err, ErrObjectTooLarge)

	got, err := Expand(testwasm.Gzip(raw), math.MaxInt64)
	require.NoError(t, err, "unbounded limit")
	assert.Equal(t, raw, got)
}

func TestExpand_Errors(t *testing.T) {
	tests := []struct {
		name string
		obj  []byte
	}{
		{name: "nil", obj: nil},
		{name: "text", obj: []byte("(module)")},
		{name: "truncated gzip", obj: []byte{0x1f, 0x8b, 0x08}},
		{name: "bzip2 header only", obj: []byte("BZh")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Expand(tt.obj, DefaultMaxObjectSize)
			var oe *ObjectError
			require.ErrorAs(t, err, &oe)
			assert.Contains(t, err.Error(), "invalid object")
		})
	}
}
