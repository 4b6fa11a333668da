package graph

import (
	"fmt"
	"strings"
)

// ExportDOT generates a Graphviz DOT representation of a function, including
// the storage nodes it touches.
func ExportDOT(f *Function) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("digraph %q {\n", f.name))
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  node [fontname=\"Helvetica\"];\n\n")

	storage := make(map[*Node]bool)
	for _, n := range f.nodes {
		b.WriteString(fmt.Sprintf("  %q [label=\"%s\\n%s\" shape=box style=filled fillcolor=\"#d2e5ff\"];\n",
			n.name, n.name, n.kind))
		for _, in := range n.inputs {
			if in.Node.IsStorage() && !storage[in.Node] {
				storage[in.Node] = true
				shape := "ellipse"
				fill := "#e8f5e9"
				if in.Node.kind == KindConstant {
					shape = "hexagon"
					fill = "#fff3e0"
				}
				b.WriteString(fmt.Sprintf("  %q [label=\"%s\\n%s\" shape=%s style=filled fillcolor=%q];\n",
					in.Node.name, in.Node.name, in.Type(), shape, fill))
			}
		}
	}
	b.WriteString("\n")
	for _, n := range f.nodes {
		for _, in := range n.inputs {
			b.WriteString(fmt.Sprintf("  %q -> %q;\n", in.Node.name, n.name))
		}
	}
	b.WriteString("}\n")
	return b.String()
}
