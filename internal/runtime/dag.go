package runtime

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/vnaveen0/glow/internal/graph"
)

// DAGNode is one sub-function of a partitioned network. The executor runs a
// node only after all of its parents completed, choosing a physical device
// round-robin over DeviceIDs.
type DAGNode struct {
	// Name equals the owning sub-function's name; the root carries the
	// network name instead.
	Name string
	// BackendName of the backend this sub-function was compiled for.
	BackendName string
	// Parents and Children encode the dataflow between sub-functions. The
	// referenced nodes belong to the same DAG.
	Parents  []*DAGNode
	Children []*DAGNode
	// LogicalDevices lists the partitioner-assigned logical slots; more than
	// one means the sub-function is replicated.
	LogicalDevices []DeviceID
	// DeviceIDs lists the physical devices provisioning chose.
	DeviceIDs []DeviceID
	// RuntimeBundle is the compiled symbol table, immutable after
	// provisioning. Nil on the root.
	RuntimeBundle *RuntimeBundle
	// BackendHints is pinning/reservation advice from the partitioner.
	BackendHints BackendHints
	// Module the sub-function belongs to, for placeholder lookup at
	// inference time.
	Module *graph.Module

	currentDeviceIdx atomic.Uint64
}

// NextDevice picks the next physical device round-robin. Safe for concurrent
// use by executor workers.
func (n *DAGNode) NextDevice() DeviceID {
	idx := n.currentDeviceIdx.Add(1)
	return n.DeviceIDs[int(idx)%len(n.DeviceIDs)]
}

// CurrentDeviceIdx exposes the rotation counter.
func (n *DAGNode) CurrentDeviceIdx() uint64 {
	return n.currentDeviceIdx.Load()
}

// DAG is a partitioned network: a synthetic root plus all sub-function nodes.
// The node slice owns every DAGNode; Parents/Children only reference them.
type DAG struct {
	Root  *DAGNode
	Nodes []*DAGNode
}

// DAGList is the partitioner output, one DAG per admitted network.
type DAGList []*DAG

// Validate checks that the DAG is acyclic, singly rooted, and fully reachable
// from the root.
func (d *DAG) Validate() error {
	if d.Root == nil {
		return fmt.Errorf("dag: missing root")
	}
	if len(d.Root.Parents) != 0 {
		return fmt.Errorf("dag %s: root has parents", d.Root.Name)
	}
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[*DAGNode]int, len(d.Nodes)+1)
	var visit func(n *DAGNode) error
	visit = func(n *DAGNode) error {
		switch state[n] {
		case inStack:
			return fmt.Errorf("dag %s: cycle through %s", d.Root.Name, n.Name)
		case done:
			return nil
		}
		state[n] = inStack
		for _, c := range n.Children {
			if err := visit(c); err != nil {
				return err
			}
		}
		state[n] = done
		return nil
	}
	if err := visit(d.Root); err != nil {
		return err
	}
	for _, n := range d.Nodes {
		if state[n] != done {
			return fmt.Errorf("dag %s: node %s unreachable from root", d.Root.Name, n.Name)
		}
	}
	return nil
}

// ExportDOT renders the DAG with per-node backend and device annotations.
func (d *DAG) ExportDOT() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("digraph %q {\n", d.Root.Name))
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  node [fontname=\"Helvetica\" shape=box style=filled];\n\n")
	b.WriteString(fmt.Sprintf("  %q [fillcolor=\"#ffe0b2\"];\n", d.Root.Name))
	for _, n := range d.Nodes {
		b.WriteString(fmt.Sprintf("  %q [label=\"%s\\n%s\\nlogical=%v\" fillcolor=\"#d2e5ff\"];\n",
			n.Name, n.Name, n.BackendName, n.LogicalDevices))
	}
	b.WriteString("\n")
	var emit func(n *DAGNode)
	seen := make(map[*DAGNode]bool)
	emit = func(n *DAGNode) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, c := range n.Children {
			b.WriteString(fmt.Sprintf("  %q -> %q;\n", n.Name, c.Name))
			emit(c)
		}
	}
	emit(d.Root)
	b.WriteString("}\n")
	return b.String()
}
