// Package config reads the YAML documents that describe which wasm modules a
// harness loads and how their exports are declared.
//
//	wasm:
//	  fixture:
//	    env: wasi
//	    funcs:
//	      - add_one(x int64) int64
//	      - concat(a, b *C.char) *C.char
//	    obj: |
//	      H4sIAAAAAAAA/+y9C3hU1bk/vNbeM8kkm...
package config

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/reglet-dev/wasmfixture/host"
)

// validate is a package-level singleton; building a validator is expensive.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("wasmobj", func(fl validator.FieldLevel) bool {
		b, err := decodeObject(fl.Field().String())
		return err == nil && len(b) > 0
	})
	return v
}

// Config is a harness configuration document.
type Config struct {
	// Globals are passed through untouched for the harness's own use.
	Globals map[string]any `yaml:"globals,omitempty" json:"globals,omitempty"`
	// WASM maps module names to their definitions.
	WASM map[string]Module `yaml:"wasm" json:"wasm" validate:"required,min=1,dive,keys,required,endkeys"`
}

// Module describes one wasm object and the exports to bind from it.
type Module struct {
	Funcs       []string `yaml:"funcs,omitempty" json:"funcs,omitempty" validate:"dive,required" jsonschema:"description=Go declarations of the exports to bind"`
	Environment string   `yaml:"env,omitempty" json:"env,omitempty" validate:"omitempty,oneof=none wasi" jsonschema:"enum=none,enum=wasi"`
	Object      string   `yaml:"obj" json:"obj" validate:"required,wasmobj" jsonschema:"description=base64 encoded module object; may be gzip or bzip2 compressed"`
}

// Parse decodes and validates a YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Validate checks the configuration's structure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Names returns the module names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.WASM))
	for name := range c.WASM {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decode returns the module object bytes. Whitespace in the encoded form,
// such as line folding, is ignored.
func (m Module) Decode() ([]byte, error) {
	return decodeObject(m.Object)
}

// Env returns the module's host environment.
func (m Module) Env() (host.Environment, error) {
	return host.ParseEnvironment(m.Environment)
}

// LoadOptions returns the host options for loading m. Modules without
// declarations get the host defaults.
func (m Module) LoadOptions() ([]host.LoadOption, error) {
	env, err := m.Env()
	if err != nil {
		return nil, err
	}
	opts := []host.LoadOption{host.WithEnvironment(env)}
	if len(m.Funcs) > 0 {
		opts = append(opts, host.WithFuncs(m.Funcs...))
	}
	return opts, nil
}

// LoadAll loads every module into e, keyed by name.
func (c *Config) LoadAll(ctx context.Context, e *host.Executor) (map[string]*host.Instance, error) {
	insts := make(map[string]*host.Instance, len(c.WASM))
	for _, name := range c.Names() {
		mod := c.WASM[name]
		obj, err := mod.Decode()
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", name, err)
		}
		opts, err := mod.LoadOptions()
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", name, err)
		}
		inst, err := e.Load(ctx, name, obj, opts...)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", name, err)
		}
		insts[name] = inst
	}
	return insts, nil
}

// Schema returns the JSON schema of the configuration document.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(&Config{})

	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return b, nil
}

func decodeObject(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid object encoding: %w", err)
	}
	return b, nil
}
