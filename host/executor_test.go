package host

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/wasmfixture/internal/testwasm"
)

func newTestExecutor(t *testing.T, opts ...Option) *Executor {
	t.Helper()
	ctx := context.Background()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	e, err := NewExecutor(ctx, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, e.Close(ctx))
	})
	return e
}

func TestNewExecutor(t *testing.T) {
	ctx := context.Background()
	e, err := NewExecutor(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, e)
	if e != nil {
		err := e.Close(ctx)
		assert.NoError(t, err)
	}
}

func TestLoad_Fixture(t *testing.T) {
	ctx := context.Background()
	e := newTestExecutor(t)

	inst, err := e.Load(ctx, "fixture", testwasm.Fixture())
	require.NoError(t, err)

	assert.Equal(t, "fixture", inst.Name())
	assert.Equal(t, []string{"add_one", "concat", "sum"}, inst.Funcs())

	sig, ok := inst.Signature("concat")
	require.True(t, ok)
	assert.Equal(t, "concat(*C.char, *C.char) *C.char", sig.String())
}

func TestLoad_Gzip(t *testing.T) {
	ctx := context.Background()
	e := newTestExecutor(t)

	inst, err := e.Load(ctx, "gz", testwasm.Gzip(testwasm.Fixture()))
	require.NoError(t, err)

	got, err := inst.AddOne(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)
}

func TestLoad_InvalidObject(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		obj  []byte
		opts []Option
		want error
	}{
		{name: "garbage", obj: []byte("not a module"), want: ErrUnknownMagic},
		{name: "empty", obj: nil, want: ErrUnknownMagic},
		{name: "gzip of text", obj: testwasm.Gzip([]byte("hello")), want: ErrUnknownMagic},
		{
			name: "too large",
			obj:  testwasm.Gzip(testwasm.Fixture()),
			opts: []Option{WithMaxObjectSize(16)},
			want: ErrObjectTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExecutor(t, tt.opts...)
			_, err := e.Load(ctx, "bad", tt.obj)
			require.Error(t, err)

			var oe *ObjectError
			assert.True(t, errors.As(err, &oe), "want *ObjectError, got %T", err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoad_CorruptCompressedStream(t *testing.T) {
	ctx := context.Background()
	e := newTestExecutor(t)

	_, err := e.Load(ctx, "bz", []byte("BZh9 definitely not bzip2"))
	var oe *ObjectError
	require.ErrorAs(t, err, &oe)
}

func TestLoad_Environment(t *testing.T) {
	ctx := context.Background()

	t.Run("wasi imports need wasi", func(t *testing.T) {
		e := newTestExecutor(t)
		_, err := e.Load(ctx, "wasi", testwasm.WASIFixture())
		assert.Error(t, err)
	})

	t.Run("wasi environment", func(t *testing.T) {
		e := newTestExecutor(t)
		inst, err := e.Load(ctx, "wasi", testwasm.WASIFixture(), WithEnvironment(WASIEnvironment))
		require.NoError(t, err)

		got, err := inst.Concat(ctx, "wa", "si")
		require.NoError(t, err)
		assert.Equal(t, "wasi", got)
	})

	t.Run("wasi instantiated once", func(t *testing.T) {
		e := newTestExecutor(t)
		_, err := e.Load(ctx, "one", testwasm.WASIFixture(), WithEnvironment(WASIEnvironment))
		require.NoError(t, err)
		_, err = e.Load(ctx, "two", testwasm.WASIFixture(), WithEnvironment(WASIEnvironment))
		require.NoError(t, err)
	})

	t.Run("invalid", func(t *testing.T) {
		e := newTestExecutor(t)
		_, err := e.Load(ctx, "x", testwasm.Fixture(), WithEnvironment(Environment(42)))
		assert.ErrorContains(t, err, "invalid environment")
	})
}

func TestLoad_SignatureMismatch(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		funcs []string
		want  string
	}{
		{name: "missing export", funcs: []string{"nope(x int64) int64"}, want: "unknown function"},
		{name: "param type", funcs: []string{"add_one(x int32) int64"}, want: "parameter 0"},
		{name: "param count", funcs: []string{"sum(x int64) int64"}, want: "takes 2 parameters"},
		{name: "result type", funcs: []string{"add_one(x int64) float64"}, want: "result"},
		{name: "cstring as int64", funcs: []string{"concat(a, b int64) *C.char"}, want: "parameter 0"},
		{name: "string as int64 pair", funcs: []string{"sum(s string) int64"}, want: "parameter 0"},
		{name: "string result needs slot", funcs: []string{"concat(a, b *C.char) string"}, want: "takes 2 parameters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExecutor(t)
			_, err := e.Load(ctx, "fixture", testwasm.Fixture(), WithFuncs(tt.funcs...))
			var se *SignatureError
			require.ErrorAs(t, err, &se)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoad_DuplicateName(t *testing.T) {
	ctx := context.Background()
	e := newTestExecutor(t)

	_, err := e.Load(ctx, "dup", testwasm.Fixture())
	require.NoError(t, err)
	_, err = e.Load(ctx, "dup", testwasm.Fixture())
	assert.Error(t, err)
}

func TestLoad_LogsToConfiguredLogger(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e := newTestExecutor(t, WithLogger(logger))

	inst, err := e.Load(ctx, "logged", testwasm.Fixture())
	require.NoError(t, err)
	_, err = inst.Sum(ctx, 1, 2)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "host: module loaded")
	assert.Contains(t, buf.String(), "module=logged")
	assert.Contains(t, buf.String(), "function=sum")
}

func TestParseEnvironment(t *testing.T) {
	for in, want := range map[string]Environment{
		"":     NoEnvironment,
		"none": NoEnvironment,
		"wasi": WASIEnvironment,
	} {
		got, err := ParseEnvironment(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		if in != "" {
			assert.Equal(t, in, got.String())
		}
	}
	_, err := ParseEnvironment("emscripten")
	assert.Error(t, err)
}
