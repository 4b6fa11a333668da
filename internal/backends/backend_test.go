package backends

import (
	"testing"

	"github.com/vnaveen0/glow/internal/compilation"
	"github.com/vnaveen0/glow/internal/graph"
	"github.com/vnaveen0/glow/internal/runtime"
)

func buildSmallFunc(t *testing.T) (*graph.Module, *graph.Function) {
	t.Helper()
	mod := graph.NewModule()
	f, _ := mod.NewFunction("net")
	in, _ := mod.NewPlaceholder("input", graph.NewType(graph.Float32, 1, 4))
	w, _ := mod.NewConstant("weight", graph.NewType(graph.Float32, 4, 4))
	mm, err := f.AddNode(graph.KindMatMul, "mm",
		[]graph.NodeValue{{Node: in}, {Node: w}},
		[]*graph.Type{graph.NewType(graph.Float32, 1, 4)})
	if err != nil {
		t.Fatal(err)
	}
	out, _ := mod.NewPlaceholder("out", mm.OutputType(0))
	if _, err := f.CreateSave("save_out", graph.NodeValue{Node: mm}, out); err != nil {
		t.Fatal(err)
	}
	return mod, f
}

func TestRegistry(t *testing.T) {
	if _, err := New("Interpreter"); err != nil {
		t.Fatalf("Interpreter should self-register: %v", err)
	}
	if _, err := New("NoSuchBackend"); err == nil {
		t.Error("unknown backend should error")
	}
	found := false
	for _, name := range Available() {
		if name == "Interpreter" {
			found = true
		}
	}
	if !found {
		t.Error("Available() should list Interpreter")
	}
}

func TestBuildBundle(t *testing.T) {
	_, f := buildSmallFunc(t)
	bundle := BuildBundle(f)

	tests := []struct {
		symbol string
		cat    runtime.SymbolCategory
	}{
		{"input", runtime.SymbolInput},
		{"out", runtime.SymbolOutput},
		{"weight", runtime.SymbolConstant},
	}
	for _, tt := range tests {
		info, ok := bundle.Symbols[tt.symbol]
		if !ok {
			t.Errorf("symbol %s missing", tt.symbol)
			continue
		}
		if info.Category != tt.cat {
			t.Errorf("symbol %s category = %v, want %v", tt.symbol, info.Category, tt.cat)
		}
	}
	if bundle.ConstantBytes != 64 {
		t.Errorf("ConstantBytes = %d, want 64", bundle.ConstantBytes)
	}
}

func TestInterpCompile(t *testing.T) {
	_, f := buildSmallFunc(t)
	b, err := New("Interpreter")
	if err != nil {
		t.Fatal(err)
	}
	artifact, err := b.Compile(f, compilation.NewContext())
	if err != nil {
		t.Fatal(err)
	}
	if artifact.FunctionName() != "net" || artifact.BackendName() != "Interpreter" {
		t.Errorf("artifact identity wrong: %s/%s", artifact.FunctionName(), artifact.BackendName())
	}
	if artifact.Function() != f {
		t.Error("artifact should retain its source function")
	}
}

func TestOptimizeRemovesDeadNodes(t *testing.T) {
	mod, f := buildSmallFunc(t)
	in := mod.Placeholder("input")
	// Dangling node nothing consumes.
	if _, err := f.AddNode(graph.KindRelu, "dead",
		[]graph.NodeValue{{Node: in}}, []*graph.Type{in.OutputType(0)}); err != nil {
		t.Fatal(err)
	}
	b, _ := New("Interpreter")
	before := f.NumNodes()
	if err := Optimize(f, b, compilation.NewContext()); err != nil {
		t.Fatal(err)
	}
	if f.NumNodes() != before-1 {
		t.Errorf("NumNodes() = %d, want %d", f.NumNodes(), before-1)
	}
	if f.Node("dead") != nil {
		t.Error("dead node survived optimization")
	}
	if len(f.SaveNodes()) != 1 {
		t.Error("save node must survive optimization")
	}
}
