package graph

import "fmt"

// Node is a single vertex of a computation graph. Operator nodes belong to a
// Function; storage nodes (placeholders and constants) belong to the Module
// and can be referenced by nodes of any Function.
type Node struct {
	name    string
	kind    Kind
	inputs  []NodeValue
	outputs []*Type
	users   []*Node
	fn      *Function

	// payload holds constant data once materialized. Nil until a backend or
	// test fills it in; size bookkeeping never depends on it.
	payload []byte
}

// NodeValue references one output of a producer node.
type NodeValue struct {
	Node   *Node
	Result int
}

// Type returns the type of the referenced output.
func (v NodeValue) Type() *Type {
	return v.Node.outputs[v.Result]
}

// SizeInBytes returns the payload size of the referenced output.
func (v NodeValue) SizeInBytes() int64 {
	return v.Type().SizeInBytes()
}

func (v NodeValue) String() string {
	if v.Node.NumOutputs() == 1 {
		return v.Node.Name()
	}
	return fmt.Sprintf("%s:%d", v.Node.Name(), v.Result)
}

// Name returns the node's name, unique within its owner.
func (n *Node) Name() string { return n.name }

// Kind returns the node's kind.
func (n *Node) Kind() Kind { return n.kind }

// Inputs returns the node's input references in declaration order.
func (n *Node) Inputs() []NodeValue { return n.inputs }

// NumInputs returns the input count.
func (n *Node) NumInputs() int { return len(n.inputs) }

// NthInput returns the i-th input reference.
func (n *Node) NthInput(i int) NodeValue { return n.inputs[i] }

// NumOutputs returns the output count.
func (n *Node) NumOutputs() int { return len(n.outputs) }

// OutputType returns the type of the i-th output.
func (n *Node) OutputType(i int) *Type { return n.outputs[i] }

// Users returns the operator nodes consuming any output of this node.
func (n *Node) Users() []*Node { return n.users }

// Function returns the owning function, nil for storage nodes.
func (n *Node) Function() *Function { return n.fn }

// IsStorage reports whether this is a placeholder or constant.
func (n *Node) IsStorage() bool { return n.kind.IsStorage() }

// Payload returns the constant payload, nil if not materialized.
func (n *Node) Payload() []byte { return n.payload }

// SetPayload attaches constant data. The length must match the node's type.
func (n *Node) SetPayload(data []byte) error {
	if n.kind != KindConstant {
		return fmt.Errorf("node %s: payload on non-constant %s node", n.name, n.kind)
	}
	if int64(len(data)) != n.outputs[0].SizeInBytes() {
		return fmt.Errorf("node %s: payload size %d does not match type %s",
			n.name, len(data), n.outputs[0])
	}
	n.payload = data
	return nil
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.kind, n.name)
}

func (n *Node) addUser(u *Node) {
	for _, existing := range n.users {
		if existing == u {
			return
		}
	}
	n.users = append(n.users, u)
}

func (n *Node) removeUser(u *Node) {
	for i, existing := range n.users {
		if existing == u {
			n.users = append(n.users[:i], n.users[i+1:]...)
			return
		}
	}
}
