package partitioner

import (
	"fmt"

	"github.com/vnaveen0/glow/internal/backends"
	"github.com/vnaveen0/glow/internal/compilation"
	"github.com/vnaveen0/glow/internal/graph"
	"github.com/vnaveen0/glow/internal/runtime"
)

// allowedLoadImbalanceFraction keeps an operator in its current partition
// when the budget overshoot is small, avoiding flapping on single large ops.
const allowedLoadImbalanceFraction = 0.5

// loadBalancedPartition spreads a single-backend function across numDevices
// partitions so their roofline runtimes even out. Acyclicity holds because an
// operator never lands in a partition earlier than any of its producers.
func (p *Partitioner) loadBalancedPartition(in *planInputs, cctx *compilation.Context, numDevices int) (runtime.DAGList, error) {
	if n := len(p.module.Functions()); n != 1 {
		return nil, fmt.Errorf("partitioner: %d functions in module, load-balanced flow requires exactly 1", n)
	}
	if in.multiBackendNames {
		p.log.Debug("multiple backend types, falling back to heterogeneous partition")
		return p.heterogeneousPartition(in, cctx)
	}

	f, _ := selectRepFunc(p.module, in.constantsSize)
	origName := f.Name()
	backendName := in.backends[0].Name()
	info := in.backendMap[backendName]
	availableMemory := info.MemSize

	if !p.opts.Optimized {
		if err := backends.Optimize(f, in.backends[0], cctx); err != nil {
			return nil, err
		}
	}

	// Step 1: the memory-only cut provides a lower bound on the partition
	// count. Its scratch functions are discarded before the balanced cut.
	probe, err := p.selectPartitions(f, availableMemory, backendName)
	if err != nil {
		return nil, err
	}
	minDevices := assignLogicalDeviceID(probe, in.backendMap)
	for _, scratch := range probe.Partitions() {
		p.module.EraseFunction(scratch)
	}
	if minDevices > numDevices {
		numDevices = minDevices
	}

	// Step 2: walk operators from the input side, placing each in the first
	// partition at or after all of its producers that satisfies both the
	// memory budget and the balanced-time budget; the last partition only
	// needs memory.
	var totalRooflineTime float64
	for _, n := range f.Nodes() {
		totalRooflineTime += NodeComputeTime(n, info)
	}
	timePerPartition := totalRooflineTime / float64(numDevices)

	deviceTime := make([]float64, numDevices)
	memoryAvailable := make([]int64, numDevices)
	nodesInPartitions := make([]NodeSet, numDevices)
	graphMem := make([]GraphMemInfo, numDevices)
	partitionFuncs := make([]*graph.Function, numDevices)

	partitionMap := NewNodeToFunctionMap()
	for cur := 0; cur < numDevices; cur++ {
		funcName := fmt.Sprintf("%s_part%d", f.Name(), cur+1)
		if existing := p.module.Function(funcName); existing != nil {
			p.module.EraseFunction(existing)
		}
		newF, err := p.module.NewFunction(funcName)
		if err != nil {
			return nil, err
		}
		partitionMap.CreatePartition(newF, backendName)
		partitionMap.AppendLogicalDevice(newF, runtime.DeviceID(cur))
		partitionFuncs[cur] = newF
		memoryAvailable[cur] = availableMemory
		nodesInPartitions[cur] = make(NodeSet)
	}

	partitionIndex := make(map[*graph.Function]int, numDevices)
	for i, fn := range partitionFuncs {
		partitionIndex[fn] = i
	}

	levels := graph.BFSLevels(f)
	for i := len(levels) - 1; i >= 0; i-- {
		for _, n := range levels[i] {
			startPartition := 0
			for _, producer := range operatorInputs(n) {
				if owner := partitionMap.FunctionFor(producer); owner != nil {
					if idx := partitionIndex[owner]; idx > startPartition {
						startPartition = idx
					}
				}
			}

			opTime := NodeComputeTime(n, info)
			opMemory := NodeMemUsage(n)

			placed := false
			for cur := startPartition; cur < numDevices; cur++ {
				loadBalanceValid := deviceTime[cur]+opTime*allowedLoadImbalanceFraction < timePerPartition
				memValid := memoryAvailable[cur] >= opMemory
				if memValid && (loadBalanceValid || cur == numDevices-1) {
					curF := partitionFuncs[cur]
					partitionMap.Add(n, curF)
					deviceTime[cur] += opTime
					memoryAvailable[cur] -= opMemory
					graphMem[cur] = UpdateGraphMemInfoByAddingNode(nodesInPartitions[cur], graphMem[cur], n)
					nodesInPartitions[cur].Add(n)
					partitionMap.SetGraphMemInfo(curF, graphMem[cur])
					placed = true
					break
				}
			}
			if !placed {
				return nil, runtime.NewError(runtime.KindLoadBalanceInfeasible,
					"operator %s (%d bytes) fits no partition's remaining budget", n.Name(), opMemory)
			}
		}
	}
	for i := range deviceTime {
		p.log.Debug("balanced partition runtime estimate", "partition", i, "seconds", deviceTime[i])
	}

	if err := memoryUsageValidation(partitionMap, in.backendMap); err != nil {
		return nil, err
	}
	if err := logicalDevicesValidation(partitionMap, in.backendMap); err != nil {
		return nil, err
	}

	partitions, err := doPartitioning(origName, []*graph.Function{f}, p.module, partitionMap, true)
	if err != nil {
		return nil, err
	}
	p.module.EraseFunction(f)

	if p.opts.SaturateHost && len(partitionMap.Partitions()) < len(p.deviceInfo) {
		saturateHost(len(p.deviceInfo), numDevices, partitions)
	}

	if err := p.finalize(partitions, partitionMap); err != nil {
		return nil, err
	}
	return partitions, nil
}
