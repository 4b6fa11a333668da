// Package runtime holds the shared data model of the host runtime: device
// descriptions, the partitioned-network DAG, runtime bundles, configuration,
// and the DeviceManager capability interface.
package runtime

import (
	"github.com/vnaveen0/glow/internal/graph"
)

// DeviceID is a dense, process-local physical device identifier.
type DeviceID int

// RunIdentifier identifies one inference request on a host manager.
type RunIdentifier int64

// InvalidRunID is returned by RunNetwork when the request was not admitted;
// the reason reaches the caller through its callback.
const InvalidRunID RunIdentifier = -1

// DeviceInfo communicates the constraints of one physical device to the
// partitioner.
type DeviceInfo struct {
	// AvailableMemory is the usable device memory in bytes.
	AvailableMemory int64
	// BackendName identifies the code generator/runtime pair for the device.
	BackendName string
	// NonSupportedNodes lists operator kinds, comma separated, that must not
	// be placed on this backend.
	NonSupportedNodes string
	// SupportedNodes, when non-empty, restricts this backend to the listed
	// operator kinds.
	SupportedNodes string
	// SRAMCapacity is the on-chip scratch memory in bytes.
	SRAMCapacity int64
	// PeakCompute is the peak int8 throughput in ops/second.
	PeakCompute float64
	// PeakDramBw is the peak DRAM bandwidth in bytes/second.
	PeakDramBw float64
	// PeakSramBw is the peak SRAM bandwidth in bytes/second.
	PeakSramBw float64
	// PeakPCIeBw is the peak ingress/egress PCIe bandwidth in bytes/second.
	PeakPCIeBw float64
}

// SymbolCategory classifies an entry of a runtime bundle's symbol table.
type SymbolCategory int

const (
	SymbolInput SymbolCategory = iota
	SymbolOutput
	SymbolConstant
)

// SymbolInfo describes one tensor slot of a compiled sub-function.
type SymbolInfo struct {
	Category SymbolCategory
	Type     *graph.Type
}

// RuntimeBundle is the symbol table of a compiled sub-function. It is
// immutable after provisioning.
type RuntimeBundle struct {
	Symbols       map[string]SymbolInfo
	ConstantBytes int64
}

// CompiledArtifact is what a Provisioner loads onto a DeviceManager: a
// backend-compiled sub-function plus its symbol table.
type CompiledArtifact interface {
	FunctionName() string
	BackendName() string
	Bundle() *RuntimeBundle
}

// BackendHints carries pinning and reservation advice from the partitioner to
// the compiler.
type BackendHints struct {
	// ExecutionUnits requests a number of compute units, 0 means no request.
	ExecutionUnits int
	// SRAMPrioritization lists symbol names to pin into SRAM, most important
	// first.
	SRAMPrioritization []string
}

// ExecutionContext carries the per-request tensor bindings through dispatch
// and back to the caller.
type ExecutionContext struct {
	Bindings *graph.PlaceholderBindings
}

// NewExecutionContext creates a context with empty bindings.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{Bindings: graph.NewPlaceholderBindings()}
}

// ResultCallback delivers the outcome of an inference request. The context is
// the same value the caller submitted, permitting buffer recovery on error.
type ResultCallback func(runID RunIdentifier, err error, ectx *ExecutionContext)
