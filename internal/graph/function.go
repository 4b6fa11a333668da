package graph

import "fmt"

// Function is an ordered collection of operator nodes forming a DAG. Nodes are
// appended in topological order: every input of a new node must already exist,
// either as a storage node or as an earlier node of the same function.
type Function struct {
	name  string
	mod   *Module
	nodes []*Node
	byKey map[string]*Node
}

// Name returns the function name, unique within the module.
func (f *Function) Name() string { return f.name }

// Module returns the owning module.
func (f *Function) Module() *Module { return f.mod }

// Nodes returns the operator nodes in insertion order.
func (f *Function) Nodes() []*Node { return f.nodes }

// NumNodes returns the operator node count.
func (f *Function) NumNodes() int { return len(f.nodes) }

// Node returns the named operator node, nil if absent.
func (f *Function) Node(name string) *Node { return f.byKey[name] }

// AddNode appends an operator node. Inputs must reference storage nodes of the
// owning module or earlier nodes of this function, which keeps the function
// acyclic by construction.
func (f *Function) AddNode(kind Kind, name string, inputs []NodeValue, outputs []*Type) (*Node, error) {
	if kind.IsStorage() {
		return nil, fmt.Errorf("function %s: %s is a storage kind", f.name, kind)
	}
	if _, exists := f.byKey[name]; exists {
		return nil, fmt.Errorf("function %s: duplicate node name %q", f.name, name)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("function %s: node %q must have at least one output", f.name, name)
	}
	for i, in := range inputs {
		if in.Node == nil {
			return nil, fmt.Errorf("function %s: node %q input %d is nil", f.name, name, i)
		}
		if !in.Node.IsStorage() && in.Node.fn != f {
			return nil, fmt.Errorf("function %s: node %q input %d belongs to another function", f.name, name, i)
		}
		if in.Result < 0 || in.Result >= in.Node.NumOutputs() {
			return nil, fmt.Errorf("function %s: node %q input %d result index out of range", f.name, name, i)
		}
	}
	n := &Node{name: name, kind: kind, inputs: inputs, outputs: outputs, fn: f}
	for _, in := range inputs {
		in.Node.addUser(n)
	}
	f.nodes = append(f.nodes, n)
	f.byKey[name] = n
	return n, nil
}

// CreateSave appends a terminal Save node writing value into ph.
func (f *Function) CreateSave(name string, value NodeValue, ph *Node) (*Node, error) {
	if ph.Kind() != KindPlaceholder {
		return nil, fmt.Errorf("function %s: save target %s is not a placeholder", f.name, ph.Name())
	}
	if !value.Type().Equal(ph.OutputType(0)) {
		return nil, fmt.Errorf("function %s: save %q type mismatch: %s vs %s",
			f.name, name, value.Type(), ph.OutputType(0))
	}
	return f.AddNode(KindSave, name, []NodeValue{value, {Node: ph}}, []*Type{value.Type()})
}

// RemoveNode deletes an operator node that has no users.
func (f *Function) RemoveNode(n *Node) error {
	if n.fn != f {
		return fmt.Errorf("function %s: node %s belongs elsewhere", f.name, n.name)
	}
	if len(n.users) != 0 {
		return fmt.Errorf("function %s: node %s still has users", f.name, n.name)
	}
	for _, in := range n.inputs {
		in.Node.removeUser(n)
	}
	for i, existing := range f.nodes {
		if existing == n {
			f.nodes = append(f.nodes[:i], f.nodes[i+1:]...)
			break
		}
	}
	delete(f.byKey, n.name)
	n.fn = nil
	return nil
}

// SaveNodes returns the function's Save nodes.
func (f *Function) SaveNodes() []*Node {
	var saves []*Node
	for _, n := range f.nodes {
		if n.kind == KindSave {
			saves = append(saves, n)
		}
	}
	return saves
}

// Verify checks structural well-formedness: acyclic wiring, resolvable
// inputs, typed outputs, and terminal Save nodes.
func (f *Function) Verify() error {
	seen := make(map[*Node]bool, len(f.nodes))
	for _, n := range f.nodes {
		for i, in := range n.inputs {
			switch {
			case in.Node.IsStorage():
				// Storage nodes are always visible.
			case in.Node.fn != f:
				return fmt.Errorf("function %s: node %s input %d crosses into function %s",
					f.name, n.name, i, in.Node.fn.name)
			case !seen[in.Node]:
				return fmt.Errorf("function %s: node %s uses %s before its definition",
					f.name, n.name, in.Node.name)
			}
			if in.Type() == nil {
				return fmt.Errorf("function %s: node %s input %d is untyped", f.name, n.name, i)
			}
		}
		if n.kind == KindSave && len(n.users) != 0 {
			return fmt.Errorf("function %s: save node %s has users", f.name, n.name)
		}
		seen[n] = true
	}
	return nil
}

// InputPlaceholders returns the distinct placeholders read by the function,
// excluding Save targets, in first-use order.
func (f *Function) InputPlaceholders() []*Node {
	var phs []*Node
	seen := make(map[*Node]bool)
	for _, n := range f.nodes {
		inputs := n.inputs
		if n.kind == KindSave {
			inputs = inputs[:1]
		}
		for _, in := range inputs {
			if in.Node.Kind() == KindPlaceholder && !seen[in.Node] {
				seen[in.Node] = true
				phs = append(phs, in.Node)
			}
		}
	}
	return phs
}

// Constants returns the distinct constants read by the function, in
// first-use order.
func (f *Function) Constants() []*Node {
	var cs []*Node
	seen := make(map[*Node]bool)
	for _, n := range f.nodes {
		for _, in := range n.inputs {
			if in.Node.Kind() == KindConstant && !seen[in.Node] {
				seen[in.Node] = true
				cs = append(cs, in.Node)
			}
		}
	}
	return cs
}
