package host

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Environment selects the host imports a module is instantiated with.
type Environment int

const (
	// NoEnvironment provides no imports.
	NoEnvironment Environment = iota + 1
	// WASIEnvironment provides wasi_snapshot_preview1.
	WASIEnvironment
)

func (e Environment) String() string {
	switch e {
	case NoEnvironment:
		return "none"
	case WASIEnvironment:
		return "wasi"
	default:
		return fmt.Sprintf("Environment(%d)", int(e))
	}
}

// ParseEnvironment maps a configuration value to an Environment. The empty
// string and "none" select NoEnvironment.
func ParseEnvironment(s string) (Environment, error) {
	switch s {
	case "", "none":
		return NoEnvironment, nil
	case "wasi":
		return WASIEnvironment, nil
	default:
		return 0, fmt.Errorf("invalid environment: %q", s)
	}
}

// Executor owns a wazero runtime and the modules loaded into it.
type Executor struct {
	runtime wazero.Runtime
	config  executorConfig

	wasiOnce sync.Once
	wasiErr  error
}

// NewExecutor creates a new executor with the given options.
func NewExecutor(ctx context.Context, opts ...Option) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(cfg.closeOnContextDone)
	if cfg.memoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	return &Executor{
		runtime: wazero.NewRuntimeWithConfig(ctx, rc),
		config:  cfg,
	}, nil
}

// Close releases the runtime and every module loaded into it.
func (e *Executor) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

func (e *Executor) ensureWASI(ctx context.Context) error {
	e.wasiOnce.Do(func() {
		_, e.wasiErr = wasi_snapshot_preview1.Instantiate(ctx, e.runtime)
	})
	return e.wasiErr
}

// Load expands, compiles and instantiates obj under name, then binds the
// declared exports. Without WithFuncs the fixture's DefaultFuncs are bound.
func (e *Executor) Load(ctx context.Context, name string, obj []byte, opts ...LoadOption) (*Instance, error) {
	cfg := defaultLoadConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := e.config.logger.With("module", name)

	wasm, err := Expand(obj, e.config.maxObjectSize)
	if err != nil {
		return nil, err
	}
	sigs, err := ParseSignatures(cfg.funcs)
	if err != nil {
		return nil, err
	}

	switch cfg.env {
	case NoEnvironment:
	case WASIEnvironment:
		if err := e.ensureWASI(ctx); err != nil {
			return nil, fmt.Errorf("failed to instantiate wasi: %w", err)
		}
	default:
		return nil, fmt.Errorf("invalid environment: %v", cfg.env)
	}

	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("failed to compile module: %w", err)
	}

	// Fixtures are libraries: nothing runs at instantiation beyond
	// _initialize, which reactors use to set up their runtime.
	mod, err := e.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions())
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate module: %w", err)
	}

	inst, err := bind(ctx, mod, sigs, logger)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, err
	}
	logger.DebugContext(ctx, "host: module loaded",
		"env", cfg.env.String(),
		"funcs", len(inst.funcs),
		"allocator", inst.alloc != nil,
	)
	return inst, nil
}

var (
	allocateSig   = []api.ValueType{api.ValueTypeI32}
	deallocateSig = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
)

func bind(ctx context.Context, mod api.Module, sigs map[string]Signature, logger *slog.Logger) (*Instance, error) {
	if init := mod.ExportedFunction("_initialize"); init != nil {
		if _, err := init.Call(ctx); err != nil {
			return nil, fmt.Errorf("failed to call _initialize: %w", err)
		}
	}

	mem := mod.ExportedMemory("memory")
	if mem == nil {
		mem = mod.Memory()
	}
	if mem == nil {
		return nil, fmt.Errorf("module %q has no memory", mod.Name())
	}

	inst := &Instance{
		module: mod,
		mem:    mem,
		funcs:  make(map[string]boundFunc, len(sigs)),
		live:   make(map[uint32]uint32),
		logger: logger,
	}

	if fn := mod.ExportedFunction("allocate"); fn != nil {
		def := fn.Definition()
		if !slices.Equal(def.ParamTypes(), allocateSig) || !slices.Equal(def.ResultTypes(), allocateSig) {
			return nil, &SignatureError{Func: "allocate", Err: fmt.Errorf("want (i32) -> i32")}
		}
		inst.alloc = fn
	}
	if fn := mod.ExportedFunction("deallocate"); fn != nil {
		def := fn.Definition()
		if !slices.Equal(def.ParamTypes(), deallocateSig) || len(def.ResultTypes()) != 0 {
			return nil, &SignatureError{Func: "deallocate", Err: fmt.Errorf("want (i32, i32) -> ()")}
		}
		inst.free = fn
	}

	for name, sig := range sigs {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			return nil, &SignatureError{Func: name, Err: ErrUnknownFunction}
		}
		if err := sig.check(fn.Definition()); err != nil {
			return nil, &SignatureError{Func: name, Err: err}
		}
		inst.funcs[name] = boundFunc{fn: fn, sig: sig}
	}
	return inst, nil
}
