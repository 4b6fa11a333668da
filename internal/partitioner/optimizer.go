package partitioner

import (
	"sort"

	"github.com/vnaveen0/glow/internal/graph"
)

// partitionsAdjust runs the post-passes over a fresh memory-driven mapping:
// first merge the partition pairs that pay the most communication, then pack
// whatever still fits.
func partitionsAdjust(mapping *NodeToFunctionMap, mod *graph.Module, availableMemory int64) {
	nodesSet := make(map[*graph.Function]NodeSet)
	for _, p := range mapping.Partitions() {
		nodesSet[p] = mapping.NodesFor(p)
	}
	optimizeCommunicationCost(mapping, nodesSet, mod, availableMemory)
	partitionsCombine(mapping, nodesSet, mod, availableMemory)
}

// communicationCost sums the distinct value sizes crossing between two
// partitions, in either direction.
func communicationCost(a, b NodeSet) int64 {
	var cost int64
	cost += directedCost(a, b)
	cost += directedCost(b, a)
	return cost
}

func directedCost(from, to NodeSet) int64 {
	var cost int64
	for n := range from {
		for i := 0; i < n.NumOutputs(); i++ {
			v := graph.NodeValue{Node: n, Result: i}
			if valueConsumedBy(to, v) {
				cost += v.SizeInBytes()
			}
		}
	}
	return cost
}

// mergeIsAcyclic checks that contracting partitions a and b leaves the
// partition dependency graph a DAG.
func mergeIsAcyclic(mapping *NodeToFunctionMap, nodesSet map[*graph.Function]NodeSet,
	a, b *graph.Function) bool {

	group := func(p *graph.Function) *graph.Function {
		if p == b {
			return a
		}
		return p
	}
	edges := make(map[*graph.Function]map[*graph.Function]bool)
	for _, p := range mapping.Partitions() {
		for n := range nodesSet[p] {
			for _, u := range n.Users() {
				up := mapping.FunctionFor(u)
				if up == nil || group(up) == group(p) {
					continue
				}
				if edges[group(p)] == nil {
					edges[group(p)] = make(map[*graph.Function]bool)
				}
				edges[group(p)][group(up)] = true
			}
		}
	}
	const (
		inStack = 1
		done    = 2
	)
	state := make(map[*graph.Function]int)
	var visit func(p *graph.Function) bool
	visit = func(p *graph.Function) bool {
		switch state[p] {
		case inStack:
			return false
		case done:
			return true
		}
		state[p] = inStack
		for next := range edges[p] {
			if !visit(next) {
				return false
			}
		}
		state[p] = done
		return true
	}
	for _, p := range mapping.Partitions() {
		if p != b && !visit(p) {
			return false
		}
	}
	return true
}

// mergePartitions folds b into a.
func mergePartitions(mapping *NodeToFunctionMap, nodesSet map[*graph.Function]NodeSet,
	mod *graph.Module, a, b *graph.Function) {

	for n := range nodesSet[b] {
		mapping.Add(n, a)
		nodesSet[a].Add(n)
	}
	delete(nodesSet, b)
	mapping.SetGraphMemInfo(a, GetGraphMemInfo(nodesSet[a]))
	mapping.removePartition(b)
	mod.EraseFunction(b)
}

// optimizeCommunicationCost repeatedly merges the partition pair with the
// highest communication cost whose union still fits device memory and keeps
// the partition graph acyclic. Ties break toward lower partition indices.
func optimizeCommunicationCost(mapping *NodeToFunctionMap, nodesSet map[*graph.Function]NodeSet,
	mod *graph.Module, availableMemory int64) {

	for {
		parts := mapping.Partitions()
		var bestA, bestB *graph.Function
		var bestCost int64
		for i := 0; i < len(parts); i++ {
			for j := i + 1; j < len(parts); j++ {
				a, b := parts[i], parts[j]
				cost := communicationCost(nodesSet[a], nodesSet[b])
				if cost <= bestCost || cost == 0 {
					continue
				}
				union := make(NodeSet, len(nodesSet[a])+len(nodesSet[b]))
				for n := range nodesSet[a] {
					union.Add(n)
				}
				for n := range nodesSet[b] {
					union.Add(n)
				}
				if GetGraphMemInfo(union).Total() > availableMemory {
					continue
				}
				if !mergeIsAcyclic(mapping, nodesSet, a, b) {
					continue
				}
				bestA, bestB, bestCost = a, b, cost
			}
		}
		if bestA == nil {
			return
		}
		mergePartitions(mapping, nodesSet, mod, bestA, bestB)
	}
}

// sortMinMemory orders partitions by ascending footprint, stably by creation
// order on ties.
func sortMinMemory(mapping *NodeToFunctionMap) []*graph.Function {
	parts := append([]*graph.Function(nil), mapping.Partitions()...)
	index := make(map[*graph.Function]int, len(parts))
	for i, p := range parts {
		index[p] = i
	}
	sort.SliceStable(parts, func(i, j int) bool {
		mi := mapping.GraphMemInfo(parts[i]).Total()
		mj := mapping.GraphMemInfo(parts[j]).Total()
		if mi != mj {
			return mi < mj
		}
		return index[parts[i]] < index[parts[j]]
	})
	return parts
}

// partitionsCombine greedily merges partitions whose combined footprint still
// fits, smallest first, until no further merge is possible.
func partitionsCombine(mapping *NodeToFunctionMap, nodesSet map[*graph.Function]NodeSet,
	mod *graph.Module, availableMemory int64) {

	for {
		parts := sortMinMemory(mapping)
		merged := false
		for i := 0; i < len(parts) && !merged; i++ {
			for j := i + 1; j < len(parts) && !merged; j++ {
				a, b := parts[i], parts[j]
				union := make(NodeSet, len(nodesSet[a])+len(nodesSet[b]))
				for n := range nodesSet[a] {
					union.Add(n)
				}
				for n := range nodesSet[b] {
					union.Add(n)
				}
				if GetGraphMemInfo(union).Total() > availableMemory {
					continue
				}
				if !mergeIsAcyclic(mapping, nodesSet, a, b) {
					continue
				}
				mergePartitions(mapping, nodesSet, mod, a, b)
				merged = true
			}
		}
		if !merged {
			return
		}
	}
}
