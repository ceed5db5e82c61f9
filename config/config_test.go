package config

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/wasmfixture/host"
	"github.com/reglet-dev/wasmfixture/internal/testwasm"
)

// fold breaks s into lines of n bytes, as fold(1) does.
func fold(s string, n int) string {
	var b strings.Builder
	for len(s) > n {
		b.WriteString(s[:n])
		b.WriteByte('\n')
		s = s[n:]
	}
	b.WriteString(s)
	return b.String()
}

func fixtureYAML(t *testing.T) []byte {
	t.Helper()
	obj := fold(base64.StdEncoding.EncodeToString(testwasm.Gzip(testwasm.Fixture())), 80)
	indented := "      " + strings.ReplaceAll(obj, "\n", "\n      ")
	return []byte(`globals:
  greeting: hello
wasm:
  fixture:
    funcs:
      - add_one(x int64) int64
      - concat(a, b *C.char) *C.char
    obj: |
` + indented + "\n")
}

func TestParse(t *testing.T) {
	cfg, err := Parse(fixtureYAML(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"fixture"}, cfg.Names())
	assert.Equal(t, "hello", cfg.Globals["greeting"])

	mod := cfg.WASM["fixture"]
	want := []string{"add_one(x int64) int64", "concat(a, b *C.char) *C.char"}
	if diff := cmp.Diff(want, mod.Funcs); diff != "" {
		t.Errorf("funcs mismatch (-want +got):\n%s", diff)
	}

	obj, err := mod.Decode()
	require.NoError(t, err)
	expanded, err := host.Expand(obj, host.DefaultMaxObjectSize)
	require.NoError(t, err)
	assert.Equal(t, testwasm.Fixture(), expanded)

	env, err := mod.Env()
	require.NoError(t, err)
	assert.Equal(t, host.NoEnvironment, env)
}

func TestParse_Invalid(t *testing.T) {
	obj := base64.StdEncoding.EncodeToString(testwasm.Fixture())

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "not yaml", doc: "wasm: [", want: "failed to parse config"},
		{name: "no modules", doc: "globals: {}", want: "validation failed"},
		{name: "empty modules", doc: "wasm: {}", want: "validation failed"},
		{name: "missing object", doc: "wasm:\n  m:\n    env: wasi\n", want: "Object"},
		{name: "bad base64", doc: "wasm:\n  m:\n    obj: '!!!'\n", want: "wasmobj"},
		{name: "bad env", doc: "wasm:\n  m:\n    env: dos\n    obj: " + obj + "\n", want: "Environment"},
		{name: "empty func", doc: "wasm:\n  m:\n    funcs: ['']\n    obj: " + obj + "\n", want: "Funcs"},
		{name: "empty name", doc: "wasm:\n  '':\n    obj: " + obj + "\n", want: "validation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, fixtureYAML(t), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.WASM, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadAll(t *testing.T) {
	ctx := context.Background()
	obj := base64.StdEncoding.EncodeToString(testwasm.WASIFixture())
	doc := "wasm:\n" +
		"  plain:\n    obj: " + base64.StdEncoding.EncodeToString(testwasm.Fixture()) + "\n" +
		"  wasi:\n    env: wasi\n    funcs: ['sum(x, y int64) int64']\n    obj: " + obj + "\n"

	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	e, err := host.NewExecutor(ctx)
	require.NoError(t, err)
	defer e.Close(ctx)

	insts, err := cfg.LoadAll(ctx, e)
	require.NoError(t, err)
	require.Len(t, insts, 2)

	assert.Equal(t, []string{"add_one", "concat", "sum"}, insts["plain"].Funcs())
	assert.Equal(t, []string{"sum"}, insts["wasi"].Funcs())

	got, err := insts["wasi"].Sum(ctx, 40, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}

func TestLoadAll_ReportsModule(t *testing.T) {
	ctx := context.Background()
	doc := "wasm:\n  broken:\n    obj: " + base64.StdEncoding.EncodeToString([]byte("nope")) + "\n"
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	e, err := host.NewExecutor(ctx)
	require.NoError(t, err)
	defer e.Close(ctx)

	_, err = cfg.LoadAll(ctx, e)
	assert.ErrorContains(t, err, "module broken")
	assert.ErrorIs(t, err, host.ErrUnknownMagic)
}

func TestSchema(t *testing.T) {
	b, err := Schema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(b, &schema))
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok, "schema has properties")
	assert.Contains(t, props, "wasm")
	assert.Contains(t, props, "globals")
	assert.Contains(t, string(b), "wasi")
}
