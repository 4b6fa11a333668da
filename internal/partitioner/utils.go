package partitioner

import (
	"github.com/vnaveen0/glow/internal/graph"
)

// nodeFLOPs estimates the operation count of one node from its shapes. Conv
// kernels carry no explicit metadata here, so a 3x3 window is assumed.
func nodeFLOPs(n *graph.Node) float64 {
	outElems := float64(0)
	for i := 0; i < n.NumOutputs(); i++ {
		outElems += float64(n.OutputType(i).NumElements())
	}
	switch n.Kind() {
	case graph.KindMatMul, graph.KindFullyConnected:
		// [m,k] x [k,n]: m*k*n multiply-accumulates, 2*m*k*n FLOPs.
		if n.NumInputs() >= 2 {
			lhs := n.NthInput(0).Type()
			if len(lhs.Dims) >= 2 {
				k := float64(lhs.Dims[len(lhs.Dims)-1])
				return 2 * outElems * k
			}
		}
		return 2 * outElems
	case graph.KindConv:
		inChannels := float64(1)
		if n.NumInputs() >= 1 {
			in := n.NthInput(0).Type()
			if len(in.Dims) == 4 {
				inChannels = float64(in.Dims[1])
			}
		}
		return 2 * outElems * inChannels * 9
	case graph.KindBatchNorm:
		return 4 * outElems
	case graph.KindSoftmax:
		return 5 * outElems
	case graph.KindSave, graph.KindReshape, graph.KindTranspose, graph.KindConcat:
		return 0
	default:
		return outElems
	}
}

// nodeDataBytes sums the bytes a node moves: all data inputs plus outputs.
func nodeDataBytes(n *graph.Node) int64 {
	var total int64
	for _, in := range dataInputs(n) {
		total += in.SizeInBytes()
	}
	for i := 0; i < n.NumOutputs(); i++ {
		total += n.OutputType(i).SizeInBytes()
	}
	return total
}

// NodeComputeTime is the roofline estimate for one node on a backend: the
// larger of its compute time and its memory-transfer time. Working sets that
// fit SRAM use the SRAM bandwidth.
func NodeComputeTime(n *graph.Node, info *BackendInfo) float64 {
	bytes := nodeDataBytes(n)
	var memTime float64
	switch {
	case info.PeakSramBw > 0 && bytes <= info.SRAMCapacity:
		memTime = float64(bytes) / info.PeakSramBw
	case info.PeakDramBw > 0:
		memTime = float64(bytes) / info.PeakDramBw
	}
	var computeTime float64
	if info.PeakCompute > 0 {
		computeTime = nodeFLOPs(n) / info.PeakCompute
	}
	if computeTime > memTime {
		return computeTime
	}
	return memTime
}

// operatorInputs returns the operator-node producers feeding n, skipping
// storage.
func operatorInputs(n *graph.Node) []*graph.Node {
	var producers []*graph.Node
	for _, in := range dataInputs(n) {
		if !in.Node.IsStorage() {
			producers = append(producers, in.Node)
		}
	}
	return producers
}
