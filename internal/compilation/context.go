// Package compilation defines the compilation context handed to the
// partitioner and provisioner alongside a module.
package compilation

import (
	"github.com/vnaveen0/glow/internal/graph"
	"github.com/vnaveen0/glow/internal/runtime"
)

// Mode selects training or inference compilation.
type Mode int

const (
	Infer Mode = iota
	Train
)

// QuantizationMode selects the quantization transformation.
type QuantizationMode int

const (
	// QuantNone performs no quantization transformation.
	QuantNone QuantizationMode = iota
	// QuantQuantize quantizes using previously gathered statistics.
	QuantQuantize
	// QuantProfile inserts profiling nodes for statistics gathering.
	QuantProfile
)

// PrecisionConfiguration controls quantization and FP16 conversion.
type PrecisionConfiguration struct {
	QuantMode QuantizationMode
	// ConvertToFP16 rewrites float32 values to float16.
	ConvertToFP16 bool
	// ConvertFusedToFP16 rewrites fused-quantized scales/offsets to fp16.
	ConvertFusedToFP16 bool
	// ClipFP16 clips out-of-range values to the fp16 min/max.
	ClipFP16 bool
	// PrecisionModeKindSet keeps the original precision for these kinds. A
	// blacklist by default; a whitelist iff UseSetAsWhitelist.
	PrecisionModeKindSet graph.KindSet
	// UseSetAsWhitelist flips the kind set to a whitelist. Only supported
	// together with ConvertToFP16.
	UseSetAsWhitelist bool
}

// OptimizationOptions tunes the graph optimizer.
type OptimizationOptions struct {
	EnableConstantFolding bool
}

// LoweredInfoMap records, per original value name, the names it was lowered
// into. Required for profiling and quantization.
type LoweredInfoMap map[string][]string

// Context is the per-addNetwork compilation state.
type Context struct {
	// Bindings used while profiling.
	Bindings *graph.PlaceholderBindings
	// LoweredInfoMap used while profiling and quantizing.
	LoweredInfoMap LoweredInfoMap

	CompMode        Mode
	BackendOpts     map[string]string
	OptimizationOpts OptimizationOptions
	PrecisionConfig PrecisionConfiguration
}

// NewContext returns an inference context with default optimizations.
func NewContext() *Context {
	return &Context{
		CompMode:         Infer,
		OptimizationOpts: OptimizationOptions{EnableConstantFolding: true},
	}
}

// Verify rejects malformed configurations before any partitioning work runs.
func (c *Context) Verify() error {
	if c.PrecisionConfig.UseSetAsWhitelist && !c.PrecisionConfig.ConvertToFP16 {
		return runtime.NewError(runtime.KindCompileContextMalformed,
			"precision kind set can only be a whitelist in convertToFP16 mode")
	}
	switch c.PrecisionConfig.QuantMode {
	case QuantProfile:
		if c.Bindings == nil {
			return runtime.NewError(runtime.KindCompileContextMalformed,
				"profiling requires bindings")
		}
		if c.LoweredInfoMap == nil {
			return runtime.NewError(runtime.KindCompileContextMalformed,
				"profiling requires a lowered info map")
		}
		if c.PrecisionConfig.ConvertToFP16 {
			return runtime.NewError(runtime.KindCompileContextMalformed,
				"converting to fp16 while profiling is unsupported")
		}
	case QuantQuantize:
		if c.LoweredInfoMap == nil {
			return runtime.NewError(runtime.KindCompileContextMalformed,
				"quantization requires a lowered info map")
		}
	}
	return nil
}
