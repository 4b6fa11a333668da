package partitioner

import (
	"fmt"

	"github.com/vnaveen0/glow/internal/graph"
	"github.com/vnaveen0/glow/internal/runtime"
)

// doPartitioning materializes a mapping: every assigned node is cloned into
// its partition function, cross-partition values are rewired through
// intermediate placeholders (a Save on the producer side, a placeholder read
// on the consumer side), and, when saveDAG is set, the partition dependency
// DAG is built by tracing which partition saves each placeholder.
func doPartitioning(networkName string, funcs []*graph.Function, mod *graph.Module,
	mapping *NodeToFunctionMap, saveDAG bool) (runtime.DAGList, error) {

	cloneOf := make(map[*graph.Node]*graph.Node)
	crossPH := make(map[graph.NodeValue]*graph.Node)

	for _, f := range funcs {
		for _, n := range f.Nodes() {
			target := mapping.FunctionFor(n)
			if target == nil {
				return nil, fmt.Errorf("partitioner: node %s has no partition", n.Name())
			}
			inputs := make([]graph.NodeValue, 0, n.NumInputs())
			for _, in := range n.Inputs() {
				if in.Node.IsStorage() {
					inputs = append(inputs, in)
					continue
				}
				producerPart := mapping.FunctionFor(in.Node)
				producerClone := cloneOf[in.Node]
				if producerClone == nil {
					return nil, fmt.Errorf("partitioner: node %s consumed before cloning", in.Node.Name())
				}
				if producerPart == target {
					inputs = append(inputs, graph.NodeValue{Node: producerClone, Result: in.Result})
					continue
				}
				key := graph.NodeValue{Node: in.Node, Result: in.Result}
				ph, ok := crossPH[key]
				if !ok {
					var err error
					ph, err = newTransferPlaceholder(mod, in)
					if err != nil {
						return nil, err
					}
					saveName := "save_" + ph.Name()
					value := graph.NodeValue{Node: producerClone, Result: in.Result}
					if _, err := producerPart.CreateSave(saveName, value, ph); err != nil {
						return nil, err
					}
					crossPH[key] = ph
				}
				inputs = append(inputs, graph.NodeValue{Node: ph})
			}
			outputs := make([]*graph.Type, n.NumOutputs())
			for i := range outputs {
				outputs[i] = n.OutputType(i)
			}
			clone, err := target.AddNode(n.Kind(), n.Name(), inputs, outputs)
			if err != nil {
				return nil, err
			}
			cloneOf[n] = clone
		}
	}

	// Drop partitions that received no nodes, e.g. a user-defined spare with
	// nothing unmapped.
	for _, p := range append([]*graph.Function(nil), mapping.Partitions()...) {
		if p.NumNodes() == 0 {
			mapping.removePartition(p)
			mod.EraseFunction(p)
		}
	}

	if !saveDAG {
		return nil, nil
	}
	return runtime.DAGList{buildDAG(networkName, mod, mapping)}, nil
}

// newTransferPlaceholder mints a module-unique placeholder carrying one
// cross-partition value.
func newTransferPlaceholder(mod *graph.Module, v graph.NodeValue) (*graph.Node, error) {
	base := fmt.Sprintf("%s__%d_xfer", v.Node.Name(), v.Result)
	name := base
	for i := 1; ; i++ {
		ph, err := mod.NewPlaceholder(name, v.Type())
		if err == nil {
			return ph, nil
		}
		if i > 1000 {
			return nil, fmt.Errorf("partitioner: cannot name transfer placeholder %s", base)
		}
		name = fmt.Sprintf("%s%d", base, i)
	}
}

// buildDAG derives the partition DAG. A partition is a parent of another when
// the latter reads a placeholder the former saves; partitions reading only
// external inputs hang off the synthetic root.
func buildDAG(networkName string, mod *graph.Module, mapping *NodeToFunctionMap) *runtime.DAG {
	root := &runtime.DAGNode{Name: networkName, Module: mod, LogicalDevices: []runtime.DeviceID{0}}

	producerOf := make(map[*graph.Node]*graph.Function)
	dagNodes := make(map[*graph.Function]*runtime.DAGNode)
	var ordered []*runtime.DAGNode
	for _, p := range mapping.Partitions() {
		for _, save := range p.SaveNodes() {
			producerOf[save.NthInput(1).Node] = p
		}
		dn := &runtime.DAGNode{
			Name:           p.Name(),
			BackendName:    mapping.BackendName(p),
			LogicalDevices: append([]runtime.DeviceID(nil), mapping.LogicalDevices(p)...),
			Module:         mod,
		}
		dagNodes[p] = dn
		ordered = append(ordered, dn)
	}

	for _, p := range mapping.Partitions() {
		child := dagNodes[p]
		parentSeen := make(map[*runtime.DAGNode]bool)
		for _, ph := range p.InputPlaceholders() {
			producer := producerOf[ph]
			if producer == nil || producer == p {
				continue
			}
			parent := dagNodes[producer]
			if parentSeen[parent] {
				continue
			}
			parentSeen[parent] = true
			parent.Children = append(parent.Children, child)
			child.Parents = append(child.Parents, parent)
		}
		if len(child.Parents) == 0 {
			child.Parents = append(child.Parents, root)
			root.Children = append(root.Children, child)
		}
	}

	return &runtime.DAG{Root: root, Nodes: ordered}
}
