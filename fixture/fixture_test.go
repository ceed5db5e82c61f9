package fixture

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddOne(t *testing.T) {
	tests := []struct {
		name string
		x    int64
		want int64
	}{
		{name: "zero", x: 0, want: 1},
		{name: "negative", x: -1, want: 0},
		{name: "positive", x: 41, want: 42},
		{name: "wraps at max", x: math.MaxInt64, want: math.MinInt64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AddOne(tt.x))
		})
	}
}

func TestSum(t *testing.T) {
	tests := []struct {
		name string
		x, y int64
		want int64
	}{
		{name: "zeros", x: 0, y: 0, want: 0},
		{name: "mixed signs", x: -5, y: 7, want: 2},
		{name: "wraps", x: math.MaxInt64, y: 2, want: math.MinInt64 + 1},
		{name: "min plus min", x: math.MinInt64, y: math.MinInt64, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sum(tt.x, tt.y))
		})
	}
}

func TestConcat(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{name: "both empty", a: "", b: "", want: ""},
		{name: "left empty", a: "", b: "world", want: "world"},
		{name: "right empty", a: "hello", b: "", want: "hello"},
		{name: "ascii", a: "hello, ", b: "world", want: "hello, world"},
		{name: "unicode", a: "héllo ", b: "wörld ✓", want: "héllo wörld ✓"},
		{name: "stops at nul", a: "ab\x00cd", b: "ef\x00", want: "abef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(Concat([]byte(tt.a), []byte(tt.b))))
		})
	}
}

func TestConcat_DoesNotAliasInputs(t *testing.T) {
	a := make([]byte, 3, 16)
	copy(a, "abc")
	got := Concat(a, []byte("def"))
	got[0] = 'X'
	assert.Equal(t, "abc", string(a))
}
