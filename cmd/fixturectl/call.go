package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reglet-dev/wasmfixture/config"
	"github.com/reglet-dev/wasmfixture/host"
)

func newCallCmd(logger func() *slog.Logger) *cobra.Command {
	var (
		cfgPath string
		module  string
		pages   uint32
	)
	cmd := &cobra.Command{
		Use:   "call FUNC [ARGS...]",
		Short: "Call an export of a configured module and print its result",
		Example: `  fixturectl call --config cfg.yaml --module fixture sum 2 3
  fixturectl call --config cfg.yaml --module fixture concat hello world`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if module == "" {
				names := cfg.Names()
				if len(names) != 1 {
					return fmt.Errorf("--module is required when the config has %d modules", len(names))
				}
				module = names[0]
			}
			mod, ok := cfg.WASM[module]
			if !ok {
				return fmt.Errorf("no module %q in %s", module, cfgPath)
			}
			obj, err := mod.Decode()
			if err != nil {
				return fmt.Errorf("module %s: %w", module, err)
			}
			opts, err := mod.LoadOptions()
			if err != nil {
				return fmt.Errorf("module %s: %w", module, err)
			}

			e, err := host.NewExecutor(ctx,
				host.WithLogger(logger()),
				host.WithMemoryLimitPages(pages),
				host.WithCloseOnContextDone(true),
			)
			if err != nil {
				return err
			}
			defer e.Close(ctx)

			inst, err := e.Load(ctx, module, obj, opts...)
			if err != nil {
				return err
			}

			name := args[0]
			sig, ok := inst.Signature(name)
			if !ok {
				return fmt.Errorf("%s: %w", name, host.ErrUnknownFunction)
			}
			callArgs, err := parseArgs(sig, args[1:])
			if err != nil {
				return err
			}
			res, err := inst.Call(ctx, name, callArgs...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), formatResult(res))
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "cfg.yaml", "Harness configuration file")
	cmd.Flags().StringVarP(&module, "module", "m", "", "Module to load; optional when the config has one module")
	cmd.Flags().Uint32Var(&pages, "memory-limit-pages", 0, "Cap module memory, in 64KiB pages")
	return cmd
}

// parseArgs converts command line arguments to the Go values sig declares.
func parseArgs(sig host.Signature, args []string) ([]any, error) {
	if len(args) != len(sig.Params) {
		return nil, fmt.Errorf("%s: want %d arguments, have %d", sig, len(sig.Params), len(args))
	}
	out := make([]any, len(args))
	for i, arg := range args {
		v, err := parseArg(sig.Params[i], arg)
		if err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", sig.Name, i, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseArg(kind host.Kind, s string) (any, error) {
	switch kind {
	case host.KindBool:
		return strconv.ParseBool(s)
	case host.KindInt32:
		n, err := strconv.ParseInt(s, 0, 32)
		return int32(n), err
	case host.KindInt64:
		return strconv.ParseInt(s, 0, 64)
	case host.KindUint32:
		n, err := strconv.ParseUint(s, 0, 32)
		return uint32(n), err
	case host.KindUint64:
		return strconv.ParseUint(s, 0, 64)
	case host.KindFloat32:
		f, err := strconv.ParseFloat(s, 32)
		return float32(f), err
	case host.KindFloat64:
		return strconv.ParseFloat(s, 64)
	case host.KindCString, host.KindString:
		return s, nil
	case host.KindBytes:
		return []byte(s), nil
	case host.KindBoolSlice:
		return parseList(s, strconv.ParseBool)
	case host.KindInt64Slice:
		return parseList(s, func(e string) (int64, error) { return strconv.ParseInt(e, 0, 64) })
	case host.KindFloat64Slice:
		return parseList(s, func(e string) (float64, error) { return strconv.ParseFloat(e, 64) })
	case host.KindStringSlice:
		return parseList(s, func(e string) (string, error) { return e, nil })
	default:
		return nil, fmt.Errorf("unsupported kind: %v", kind)
	}
}

// parseList parses a comma separated list. The empty string is an empty list.
func parseList[T any](s string, parse func(string) (T, error)) ([]T, error) {
	if s == "" {
		return []T{}, nil
	}
	elems := strings.Split(s, ",")
	out := make([]T, len(elems))
	for i, e := range elems {
		v, err := parse(e)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func formatResult(v any) string {
	switch v := v.(type) {
	case string:
		return strconv.Quote(v)
	case []byte:
		return fmt.Sprintf("%q", v)
	case []string:
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprint(v)
	}
}
