package vm

import (
	"github.com/chazu/tensorvm/config"
)

// Options configures a Model.
type Options struct {
	// StackCapacity is the initial evaluation stack size of each invocation.
	StackCapacity int

	// MaxCallDepth bounds nested EXTCALL invocations.
	MaxCallDepth int

	// Trace logs every instruction at debug level.
	Trace bool

	// ResolutionCacheSize is the per-module custom-call resolution cache size.
	ResolutionCacheSize int

	// HostMemoryLimit caps the bytes of live host buffers allocated through
	// the model. Zero means unlimited.
	HostMemoryLimit int64

	// Profile enables the opcode profiler.
	Profile bool

	// ProfileDatabase is the SQLite file Model.SaveProfile writes to.
	ProfileDatabase string

	// CustomCalls supplies the native handlers CUSCALL can resolve.
	CustomCalls *CustomCallRegistry

	// Tensor handles TENSOR-prefixed instructions.
	Tensor TensorDispatcher
}

// DefaultOptions returns the options used by a zero config.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig maps a tensorvm.toml configuration onto runtime options.
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		StackCapacity:       c.Runtime.StackCapacity,
		MaxCallDepth:        c.Runtime.MaxCallDepth,
		Trace:               c.Runtime.Trace,
		ResolutionCacheSize: c.Runtime.ResolutionCache,
		HostMemoryLimit:     c.Runtime.HostMemoryLimit,
		Profile:             c.Profile.Enabled,
		ProfileDatabase:     c.ProfileDatabasePath(),
	}
}

func (o *Options) normalize() {
	d := config.Default().Runtime
	if o.StackCapacity <= 0 {
		o.StackCapacity = d.StackCapacity
	}
	if o.MaxCallDepth <= 0 {
		o.MaxCallDepth = d.MaxCallDepth
	}
	if o.ResolutionCacheSize <= 0 {
		o.ResolutionCacheSize = d.ResolutionCache
	}
}
