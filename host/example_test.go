package host_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/reglet-dev/wasmfixture/host"
	"github.com/reglet-dev/wasmfixture/internal/testwasm"
)

func Example() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	executor, err := host.NewExecutor(ctx, host.WithLogger(logger))
	if err != nil {
		fmt.Println("failed to create executor:", err)
		return
	}
	defer executor.Close(ctx)

	inst, err := executor.Load(ctx, "fixture", testwasm.Fixture())
	if err != nil {
		fmt.Println("failed to load module:", err)
		return
	}

	n, _ := inst.AddOne(ctx, 41)
	fmt.Println(n)
	n, _ = inst.Sum(ctx, 2, 3)
	fmt.Println(n)
	s, _ := inst.Concat(ctx, "hello, ", "world")
	fmt.Println(s)
	// Output:
	// 42
	// 5
	// hello, world
}

func ExampleInstance_Call() {
	ctx := context.Background()
	executor, err := host.NewExecutor(ctx, host.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer executor.Close(ctx)

	inst, err := executor.Load(ctx, "fixture", testwasm.Extended(),
		host.WithFuncs("half(x float64) float64", "not(b bool) bool"))
	if err != nil {
		fmt.Println(err)
		return
	}

	half, _ := inst.Call(ctx, "half", 3.0)
	not, _ := inst.Call(ctx, "not", false)
	fmt.Println(half, not)
	// Output:
	// 1.5 true
}
