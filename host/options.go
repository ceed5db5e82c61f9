package host

import (
	"log/slog"
)

// DefaultMaxObjectSize bounds the size of a decompressed module object.
const DefaultMaxObjectSize = 256 << 20

// executorConfig holds configuration for the Executor.
type executorConfig struct {
	logger             *slog.Logger
	memoryLimitPages   uint32
	closeOnContextDone bool
	maxObjectSize      int64
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		logger:        slog.Default(),
		maxObjectSize: DefaultMaxObjectSize,
	}
}

// Option defines a functional option for configuring the Executor.
type Option func(*executorConfig)

// WithLogger sets the logger used for load and call diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *executorConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMemoryLimitPages caps the linear memory of every module, in 64KiB pages.
// Zero keeps the runtime default.
func WithMemoryLimitPages(pages uint32) Option {
	return func(c *executorConfig) {
		c.memoryLimitPages = pages
	}
}

// WithCloseOnContextDone makes calls abort when their context is done.
func WithCloseOnContextDone(enabled bool) Option {
	return func(c *executorConfig) {
		c.closeOnContextDone = enabled
	}
}

// WithMaxObjectSize limits the size a compressed object may expand to.
func WithMaxObjectSize(n int64) Option {
	return func(c *executorConfig) {
		if n > 0 {
			c.maxObjectSize = n
		}
	}
}

// loadConfig holds per-module configuration.
type loadConfig struct {
	env   Environment
	funcs []string
}

func defaultLoadConfig() loadConfig {
	return loadConfig{
		env:   NoEnvironment,
		funcs: DefaultFuncs,
	}
}

// LoadOption configures a single Load.
type LoadOption func(*loadConfig)

// WithEnvironment selects the imports provided to the module.
func WithEnvironment(env Environment) LoadOption {
	return func(c *loadConfig) {
		c.env = env
	}
}

// WithFuncs replaces the declarations of the exports to bind.
// See ParseSignatures for the accepted form.
func WithFuncs(decls ...string) LoadOption {
	return func(c *loadConfig) {
		c.funcs = decls
	}
}
