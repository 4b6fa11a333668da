package backends

import (
	"github.com/vnaveen0/glow/internal/compilation"
	"github.com/vnaveen0/glow/internal/graph"
)

// Optimize runs the backend-independent cleanup passes on a function before
// it is partitioned or compiled. Heavier rewrites (lowering, quantization,
// FP16 conversion) are the backend compiler's concern and happen inside
// Compile.
func Optimize(f *graph.Function, b Backend, cctx *compilation.Context) error {
	if err := f.Verify(); err != nil {
		return err
	}
	if cctx.OptimizationOpts.EnableConstantFolding {
		eliminateDeadNodes(f)
	}
	return nil
}

// eliminateDeadNodes drops operator nodes whose outputs nothing consumes.
// Save nodes are roots and always survive.
func eliminateDeadNodes(f *graph.Function) {
	for {
		var dead *graph.Node
		for _, n := range f.Nodes() {
			if n.Kind() != graph.KindSave && len(n.Users()) == 0 {
				dead = n
				break
			}
		}
		if dead == nil {
			return
		}
		if err := f.RemoveNode(dead); err != nil {
			return
		}
	}
}
