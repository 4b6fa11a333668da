package partitioner

import (
	"github.com/vnaveen0/glow/internal/graph"
)

// GraphMemInfo tallies the working set of one partition: bytes entering
// across partition boundaries, bytes leaving (or saved), and resident
// constants. The total is authoritative for memory admission.
type GraphMemInfo struct {
	InputBytes    int64
	OutputBytes   int64
	ConstantBytes int64
}

// Total returns the partition's full device-memory footprint.
func (g GraphMemInfo) Total() int64 {
	return g.InputBytes + g.OutputBytes + g.ConstantBytes
}

// NodeSet is a partition's membership set.
type NodeSet map[*graph.Node]struct{}

// Has reports membership.
func (s NodeSet) Has(n *graph.Node) bool {
	_, ok := s[n]
	return ok
}

// Add inserts a node.
func (s NodeSet) Add(n *graph.Node) { s[n] = struct{}{} }

// dataInputs returns the value-carrying inputs of a node. A Save node's
// second input is its target placeholder, which is bookkeeping rather than
// data movement.
func dataInputs(n *graph.Node) []graph.NodeValue {
	ins := n.Inputs()
	if n.Kind() == graph.KindSave && len(ins) == 2 {
		return ins[:1]
	}
	return ins
}

// valueConsumedBy reports whether any member of the set reads the value.
func valueConsumedBy(set NodeSet, v graph.NodeValue) bool {
	for _, u := range v.Node.Users() {
		if !set.Has(u) {
			continue
		}
		for _, in := range dataInputs(u) {
			if in.Node == v.Node && in.Result == v.Result {
				return true
			}
		}
	}
	return false
}

// valueEscapes reports whether the value has a consumer outside the set.
func valueEscapes(set NodeSet, v graph.NodeValue) bool {
	for _, u := range v.Node.Users() {
		if set.Has(u) {
			continue
		}
		for _, in := range dataInputs(u) {
			if in.Node == v.Node && in.Result == v.Result {
				return true
			}
		}
	}
	return false
}

// constantReferencedBy reports whether any member of the set reads the
// constant.
func constantReferencedBy(set NodeSet, c *graph.Node) bool {
	for _, u := range c.Users() {
		if set.Has(u) {
			return true
		}
	}
	return false
}

// UpdateGraphMemInfoByAddingNode computes the partition's sizes after
// tentatively adding n to the current set. The caller inserts n into the set
// only after deciding to keep it.
//
// Input edges are counted once per distinct crossing value: adding a consumer
// of an outside value adds the value's size, while adding the producer of a
// previously crossing value subtracts it. Constants count on first reference.
// Outputs count when a consumer lies outside the partition or when the node
// is a terminal Save.
func UpdateGraphMemInfoByAddingNode(current NodeSet, prev GraphMemInfo, n *graph.Node) GraphMemInfo {
	info := prev

	seenValues := make(map[graph.NodeValue]bool)
	seenConstants := make(map[*graph.Node]bool)
	for _, in := range dataInputs(n) {
		producer := in.Node
		switch {
		case producer.Kind() == graph.KindConstant:
			if !seenConstants[producer] && !constantReferencedBy(current, producer) {
				info.ConstantBytes += in.SizeInBytes()
			}
			seenConstants[producer] = true
		case current.Has(producer):
			// The edge becomes internal. If n was the producer's only
			// outside consumer, the producer's output no longer escapes.
			if !seenValues[in] && producer.Kind() != graph.KindSave {
				if !stillEscapesAfterAdd(current, n, in) {
					info.OutputBytes -= in.SizeInBytes()
				}
			}
			seenValues[in] = true
		default:
			// Producer is a placeholder or a node of another partition.
			if !seenValues[in] && !valueConsumedBy(current, in) {
				info.InputBytes += in.SizeInBytes()
			}
			seenValues[in] = true
		}
	}

	for i := 0; i < n.NumOutputs(); i++ {
		v := graph.NodeValue{Node: n, Result: i}
		// A previously crossing input edge into the partition becomes
		// internal once its producer joins.
		if valueConsumedBy(current, v) {
			info.InputBytes -= v.SizeInBytes()
		}
		if n.Kind() == graph.KindSave || stillEscapesAfterAdd(current, n, v) {
			info.OutputBytes += v.SizeInBytes()
		}
	}
	return info
}

// stillEscapesAfterAdd reports whether v keeps a consumer outside the set
// once n is treated as a member.
func stillEscapesAfterAdd(current NodeSet, n *graph.Node, v graph.NodeValue) bool {
	for _, u := range v.Node.Users() {
		if u == n || current.Has(u) {
			continue
		}
		for _, in := range dataInputs(u) {
			if in.Node == v.Node && in.Result == v.Result {
				return true
			}
		}
	}
	return false
}

// GetGraphMemInfo computes a partition's sizes from scratch.
func GetGraphMemInfo(set NodeSet) GraphMemInfo {
	var info GraphMemInfo
	countedIn := make(map[graph.NodeValue]bool)
	countedConst := make(map[*graph.Node]bool)
	for n := range set {
		for _, in := range dataInputs(n) {
			producer := in.Node
			switch {
			case producer.Kind() == graph.KindConstant:
				if !countedConst[producer] {
					countedConst[producer] = true
					info.ConstantBytes += in.SizeInBytes()
				}
			case !set.Has(producer):
				if !countedIn[in] {
					countedIn[in] = true
					info.InputBytes += in.SizeInBytes()
				}
			}
		}
		for i := 0; i < n.NumOutputs(); i++ {
			v := graph.NodeValue{Node: n, Result: i}
			if n.Kind() == graph.KindSave || valueEscapes(set, v) {
				info.OutputBytes += v.SizeInBytes()
			}
		}
	}
	return info
}

// NodeMemUsage estimates the device memory one node needs: its constants
// plus its outputs.
func NodeMemUsage(n *graph.Node) int64 {
	var total int64
	counted := make(map[*graph.Node]bool)
	for _, in := range dataInputs(n) {
		if in.Node.Kind() == graph.KindConstant && !counted[in.Node] {
			counted[in.Node] = true
			total += in.SizeInBytes()
		}
	}
	for i := 0; i < n.NumOutputs(); i++ {
		total += n.OutputType(i).SizeInBytes()
	}
	return total
}
