package backends

import (
	"fmt"

	"github.com/vnaveen0/glow/internal/compilation"
	"github.com/vnaveen0/glow/internal/graph"
)

func init() {
	Register("Interpreter", func() Backend { return &interpBackend{} })
}

// interpBackend is the reference backend: it accepts every operator kind and
// "compiles" by building the symbol table the in-process device manager
// serves from.
type interpBackend struct{}

func (b *interpBackend) Name() string { return "Interpreter" }

func (b *interpBackend) IsOpSupported(n *graph.Node) bool { return !n.Kind().IsStorage() }

func (b *interpBackend) ShouldLower(n *graph.Node) bool { return false }

func (b *interpBackend) DefaultDeviceMemory() int64 { return 16 << 30 }

func (b *interpBackend) Compile(f *graph.Function, cctx *compilation.Context) (*CompiledFunction, error) {
	if err := f.Verify(); err != nil {
		return nil, fmt.Errorf("interp: compile %s: %w", f.Name(), err)
	}
	return &CompiledFunction{
		funcName:    f.Name(),
		backendName: b.Name(),
		bundle:      BuildBundle(f),
		fn:          f,
	}, nil
}
