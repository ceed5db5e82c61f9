// Package fixturetest checks that a wasm module honours the fixture's FFI
// contract: add_one, sum, allocate, deallocate and concat.
package fixturetest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/reglet-dev/wasmfixture/host"
	"github.com/reglet-dev/wasmfixture/internal/memory"
)

// TestCase defines a concat case.
type TestCase struct {
	Name string
	A, B string
	Want string
}

// ConcatCases are the strings Run concatenates.
var ConcatCases = []TestCase{
	{Name: "both empty"},
	{Name: "left empty", B: "world", Want: "world"},
	{Name: "right empty", A: "hello", Want: "hello"},
	{Name: "ascii", A: "hello, ", B: "world", Want: "hello, world"},
	{Name: "unicode", A: "ünï", B: "cødé ✓", Want: "ünïcødé ✓"},
	{Name: "long", A: strings.Repeat("a", 4096), B: strings.Repeat("b", 4096), Want: strings.Repeat("a", 4096) + strings.Repeat("b", 4096)},
}

// Load creates an executor, loads obj into it and closes both when the test
// ends.
func Load(t testing.TB, obj []byte, opts ...host.LoadOption) *host.Instance {
	t.Helper()
	ctx := context.Background()

	e, err := host.NewExecutor(ctx, host.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	t.Cleanup(func() {
		if err := e.Close(ctx); err != nil {
			t.Errorf("failed to close executor: %v", err)
		}
	})

	inst, err := e.Load(ctx, "fixture", obj, opts...)
	if err != nil {
		t.Fatalf("failed to load module: %v", err)
	}
	return inst
}

// Run exercises every export of inst and fails t on any deviation from the
// contract, including allocations left outstanding.
func Run(t *testing.T, inst *host.Instance) {
	t.Helper()
	ctx := context.Background()

	t.Run("add_one", func(t *testing.T) {
		for _, x := range []int64{0, -1, 41, math.MaxInt64} {
			got, err := inst.AddOne(ctx, x)
			if err != nil {
				t.Fatalf("add_one(%d): %v", x, err)
			}
			if want := x + 1; got != want {
				t.Errorf("add_one(%d) = %d, want %d", x, got, want)
			}
		}
	})

	t.Run("sum", func(t *testing.T) {
		cases := [][2]int64{{0, 0}, {2, 3}, {-10, 4}, {math.MaxInt64, 1}, {math.MinInt64, math.MinInt64}}
		for _, c := range cases {
			got, err := inst.Sum(ctx, c[0], c[1])
			if err != nil {
				t.Fatalf("sum(%d, %d): %v", c[0], c[1], err)
			}
			if want := c[0] + c[1]; got != want {
				t.Errorf("sum(%d, %d) = %d, want %d", c[0], c[1], got, want)
			}
		}
	})

	t.Run("allocate zero", func(t *testing.T) {
		ptr, err := inst.Allocate(ctx, 0)
		if err != nil {
			t.Fatalf("allocate(0): %v", err)
		}
		if err := inst.Deallocate(ctx, ptr, 0); err != nil {
			t.Errorf("deallocate(%#x, 0): %v", ptr, err)
		}
	})

	t.Run("allocate over limit", func(t *testing.T) {
		_, err := inst.Allocate(ctx, memory.DefaultLimit+1)
		if !errors.Is(err, host.ErrNullPointer) {
			t.Errorf("allocate(%d): got %v, want %v", memory.DefaultLimit+1, err, host.ErrNullPointer)
		}
	})

	t.Run("invalid free traps", func(t *testing.T) {
		// Address 1 is never handed out; the host refuses to forward it, so
		// call the export directly.
		free := inst.Module().ExportedFunction("deallocate")
		if free == nil {
			t.Fatal("no deallocate export")
		}
		if _, err := free.Call(ctx, 1, 1); err == nil {
			t.Error("deallocate(1, 1) did not trap")
		}
		got, err := inst.Sum(ctx, 1, 2)
		if err != nil || got != 3 {
			t.Errorf("sum(1, 2) after trap = %d, %v; want 3", got, err)
		}
	})

	t.Run("allocate round trip", func(t *testing.T) {
		const s = "round trip"
		ptr, err := inst.WriteCString(ctx, s)
		if err != nil {
			t.Fatalf("write: %v", err)
		}
		got, err := inst.ReadCString(ptr)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(got) != s {
			t.Errorf("read back %q, want %q", got, s)
		}
		if err := inst.Deallocate(ctx, ptr, uint32(len(s)+1)); err != nil {
			t.Errorf("deallocate: %v", err)
		}
	})

	t.Run("concat", func(t *testing.T) {
		for _, tc := range ConcatCases {
			t.Run(tc.Name, func(t *testing.T) {
				got, err := inst.Concat(ctx, tc.A, tc.B)
				if err != nil {
					t.Fatalf("concat: %v", err)
				}
				if got != tc.Want {
					t.Errorf("concat(%.20q, %.20q) = %.20q, want %.20q", tc.A, tc.B, got, tc.Want)
				}
			})
		}
	})

	AssertNoLeaks(t, inst)
}

// AssertNoLeaks fails t if the host holds allocations it has not released.
func AssertNoLeaks(t testing.TB, inst *host.Instance) {
	t.Helper()
	if count, size := inst.Live(); count != 0 {
		t.Errorf("%d allocations (%d bytes) still live", count, size)
	}
}
