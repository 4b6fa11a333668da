package partitioner

import (
	"github.com/vnaveen0/glow/internal/graph"
	"github.com/vnaveen0/glow/internal/runtime"
)

// NodeToFunctionMap records which sub-function owns each node of the input
// function, plus per-sub-function metadata: target backend, logical devices,
// and the partition's memory footprint.
type NodeToFunctionMap struct {
	nodeToFunc map[*graph.Node]*graph.Function
	partitions []*graph.Function
	backend    map[*graph.Function]string
	memInfo    map[*graph.Function]GraphMemInfo
	logical    map[*graph.Function][]runtime.DeviceID
}

// NewNodeToFunctionMap creates an empty mapping.
func NewNodeToFunctionMap() *NodeToFunctionMap {
	return &NodeToFunctionMap{
		nodeToFunc: make(map[*graph.Node]*graph.Function),
		backend:    make(map[*graph.Function]string),
		memInfo:    make(map[*graph.Function]GraphMemInfo),
		logical:    make(map[*graph.Function][]runtime.DeviceID),
	}
}

// CreatePartition registers an empty partition targeting a backend.
func (m *NodeToFunctionMap) CreatePartition(f *graph.Function, backendName string) {
	m.partitions = append(m.partitions, f)
	m.backend[f] = backendName
}

// Add assigns a node to a partition.
func (m *NodeToFunctionMap) Add(n *graph.Node, f *graph.Function) {
	m.nodeToFunc[n] = f
}

// FunctionFor returns the partition owning the node, nil if unassigned.
func (m *NodeToFunctionMap) FunctionFor(n *graph.Node) *graph.Function {
	return m.nodeToFunc[n]
}

// Partitions returns the partitions in creation order.
func (m *NodeToFunctionMap) Partitions() []*graph.Function { return m.partitions }

// BackendName returns a partition's target backend.
func (m *NodeToFunctionMap) BackendName(f *graph.Function) string { return m.backend[f] }

// SetBackendName overrides a partition's target backend.
func (m *NodeToFunctionMap) SetBackendName(f *graph.Function, backendName string) {
	m.backend[f] = backendName
}

// SetGraphMemInfo records a partition's footprint.
func (m *NodeToFunctionMap) SetGraphMemInfo(f *graph.Function, info GraphMemInfo) {
	m.memInfo[f] = info
}

// GraphMemInfo returns a partition's footprint.
func (m *NodeToFunctionMap) GraphMemInfo(f *graph.Function) GraphMemInfo { return m.memInfo[f] }

// AppendLogicalDevice assigns an additional logical device to a partition.
func (m *NodeToFunctionMap) AppendLogicalDevice(f *graph.Function, id runtime.DeviceID) {
	m.logical[f] = append(m.logical[f], id)
}

// LogicalDevices returns a partition's logical device list.
func (m *NodeToFunctionMap) LogicalDevices(f *graph.Function) []runtime.DeviceID {
	return m.logical[f]
}

// Insert merges another mapping into this one. Partition order is preserved:
// other's partitions append after the receiver's.
func (m *NodeToFunctionMap) Insert(other *NodeToFunctionMap) {
	for n, f := range other.nodeToFunc {
		m.nodeToFunc[n] = f
	}
	for _, f := range other.partitions {
		m.partitions = append(m.partitions, f)
		m.backend[f] = other.backend[f]
		if info, ok := other.memInfo[f]; ok {
			m.memInfo[f] = info
		}
		if ids, ok := other.logical[f]; ok {
			m.logical[f] = ids
		}
	}
}

// NodesFor reconstructs the membership set of one partition.
func (m *NodeToFunctionMap) NodesFor(f *graph.Function) NodeSet {
	set := make(NodeSet)
	for n, owner := range m.nodeToFunc {
		if owner == f {
			set.Add(n)
		}
	}
	return set
}

// removePartition drops a partition from the ordered list and its metadata.
// Node assignments must have been moved beforehand.
func (m *NodeToFunctionMap) removePartition(f *graph.Function) {
	for i, existing := range m.partitions {
		if existing == f {
			m.partitions = append(m.partitions[:i], m.partitions[i+1:]...)
			break
		}
	}
	delete(m.backend, f)
	delete(m.memInfo, f)
	delete(m.logical, f)
}
