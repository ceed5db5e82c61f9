package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reglet-dev/wasmfixture/bundle"
	"github.com/reglet-dev/wasmfixture/config"
)

func newBundleCmd() *cobra.Command {
	var testPath, lib, wasmPath string
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Embed a module object in the cfg.yaml of a txtar test archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			archive, err := os.ReadFile(testPath)
			if err != nil {
				return err
			}
			wasm, err := os.ReadFile(wasmPath)
			if err != nil {
				return err
			}
			obj, err := bundle.Encode(wasm)
			if err != nil {
				return err
			}
			out, err := bundle.Rewrite(archive, lib, obj)
			if err != nil {
				return fmt.Errorf("%s: %w", testPath, err)
			}
			fi, err := os.Stat(testPath)
			if err != nil {
				return err
			}
			return os.WriteFile(testPath, out, fi.Mode())
		},
	}
	cmd.Flags().StringVar(&testPath, "test", "", "txtar test archive to rewrite")
	cmd.Flags().StringVar(&lib, "lib", "", "Module name under wasm in cfg.yaml")
	cmd.Flags().StringVar(&wasmPath, "wasm", "", "Module object to embed")
	for _, f := range []string{"test", "lib", "wasm"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newEncodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode FILE",
		Short: "Print a module object gzip compressed and base64 encoded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wasm, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			obj, err := bundle.Encode(wasm)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), obj)
			return err
		},
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the harness configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := config.Schema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}
}
