// Package backends defines the Backend capability interface consumed by the
// partitioner and provisioner, plus a registry of available backends.
package backends

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vnaveen0/glow/internal/compilation"
	"github.com/vnaveen0/glow/internal/graph"
	"github.com/vnaveen0/glow/internal/runtime"
)

// ProfilingBackend is the backend every sub-function is routed to while
// gathering quantization profiles.
const ProfilingBackend = "Interpreter"

// Backend is a code generator + runtime pair for a class of devices.
type Backend interface {
	// Name identifies the backend, e.g. "Interpreter".
	Name() string
	// IsOpSupported reports whether the backend can execute the node as is.
	IsOpSupported(n *graph.Node) bool
	// ShouldLower reports whether the backend wants the node decomposed into
	// simpler ones it does support.
	ShouldLower(n *graph.Node) bool
	// Compile produces the loadable artifact for one sub-function.
	Compile(f *graph.Function, cctx *compilation.Context) (*CompiledFunction, error)
	// DefaultDeviceMemory is assumed when a DeviceConfig leaves memory unset.
	DefaultDeviceMemory() int64
}

// CompiledFunction is a backend-compiled sub-function. It satisfies
// runtime.CompiledArtifact.
type CompiledFunction struct {
	funcName    string
	backendName string
	bundle      *runtime.RuntimeBundle
	fn          *graph.Function
}

func (c *CompiledFunction) FunctionName() string           { return c.funcName }
func (c *CompiledFunction) BackendName() string            { return c.backendName }
func (c *CompiledFunction) Bundle() *runtime.RuntimeBundle { return c.bundle }

// Function returns the source function, letting in-process device managers
// bind buffers by placeholder identity.
func (c *CompiledFunction) Function() *graph.Function { return c.fn }

// BuildBundle derives the symbol table of a function: its input placeholders,
// save targets, and constants.
func BuildBundle(f *graph.Function) *runtime.RuntimeBundle {
	bundle := &runtime.RuntimeBundle{Symbols: make(map[string]runtime.SymbolInfo)}
	for _, ph := range f.InputPlaceholders() {
		bundle.Symbols[ph.Name()] = runtime.SymbolInfo{
			Category: runtime.SymbolInput,
			Type:     ph.OutputType(0),
		}
	}
	for _, save := range f.SaveNodes() {
		target := save.NthInput(1).Node
		bundle.Symbols[target.Name()] = runtime.SymbolInfo{
			Category: runtime.SymbolOutput,
			Type:     target.OutputType(0),
		}
	}
	for _, c := range f.Constants() {
		bundle.Symbols[c.Name()] = runtime.SymbolInfo{
			Category: runtime.SymbolConstant,
			Type:     c.OutputType(0),
		}
		bundle.ConstantBytes += c.OutputType(0).SizeInBytes()
	}
	return bundle
}

// Factory creates a backend instance.
type Factory func() Backend

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register installs a backend factory under its name. Later registrations
// replace earlier ones, which tests rely on.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New instantiates the named backend.
func New(name string) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backends: unknown backend %q", name)
	}
	return factory(), nil
}

// Available lists the registered backend names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
