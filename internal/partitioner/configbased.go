package partitioner

import (
	"github.com/vnaveen0/glow/internal/backends"
	"github.com/vnaveen0/glow/internal/compilation"
	"github.com/vnaveen0/glow/internal/graph"
	"github.com/vnaveen0/glow/internal/runtime"
)

// partitionFromConfig realizes a user-defined partition plan: fixed partition
// names and backends, plus a node-name to partition-index mapping. Nodes
// absent from the mapping all land in the single unused partition.
func (p *Partitioner) partitionFromConfig(in *planInputs, cfg *runtime.PartitionConfig) (runtime.DAGList, error) {
	f := p.module.Function(cfg.FuncName)
	if f == nil {
		return nil, runtime.NewError(runtime.KindFunctionNotFound,
			"function %q not in module", cfg.FuncName)
	}
	if len(cfg.BackendNames) != cfg.NumOfPartitions || len(cfg.PartitionNames) != cfg.NumOfPartitions {
		return nil, runtime.NewError(runtime.KindInvalidPartitionConfig,
			"%d partitions but %d backends and %d names",
			cfg.NumOfPartitions, len(cfg.BackendNames), len(cfg.PartitionNames))
	}

	partitionMap := NewNodeToFunctionMap()
	funcList := make([]*graph.Function, cfg.NumOfPartitions)
	nodesSets := make([]NodeSet, cfg.NumOfPartitions)
	unused := make(map[int]struct{}, cfg.NumOfPartitions)
	for i := 0; i < cfg.NumOfPartitions; i++ {
		newF, err := p.module.NewFunction(cfg.PartitionNames[i])
		if err != nil {
			return nil, runtime.WrapError(runtime.KindInvalidPartitionConfig, err,
				"partition name %q", cfg.PartitionNames[i])
		}
		funcList[i] = newF
		nodesSets[i] = make(NodeSet)
		partitionMap.CreatePartition(newF, cfg.BackendNames[i])
		unused[i] = struct{}{}
	}

	var unmapped []*graph.Node
	for _, n := range f.Nodes() {
		idx, ok := cfg.NodeToPartition[n.Name()]
		if !ok {
			unmapped = append(unmapped, n)
			continue
		}
		if idx < 0 || idx >= cfg.NumOfPartitions {
			return nil, runtime.NewError(runtime.KindInvalidPartitionConfig,
				"node %s maps to partition %d of %d", n.Name(), idx, cfg.NumOfPartitions)
		}
		partitionMap.Add(n, funcList[idx])
		nodesSets[idx].Add(n)
		delete(unused, idx)
	}

	if len(unmapped) > 0 {
		if len(unused) != 1 {
			return nil, runtime.NewError(runtime.KindInvalidPartitionConfig,
				"%d unmapped nodes require exactly 1 unused partition, found %d",
				len(unmapped), len(unused))
		}
		var spare int
		for idx := range unused {
			spare = idx
		}
		for _, n := range unmapped {
			partitionMap.Add(n, funcList[spare])
			nodesSets[spare].Add(n)
		}
	}

	for i := 0; i < cfg.NumOfPartitions; i++ {
		partitionMap.SetGraphMemInfo(funcList[i], GetGraphMemInfo(nodesSets[i]))
	}
	if err := memoryUsageValidation(partitionMap, in.backendMap); err != nil {
		return nil, err
	}
	assignLogicalDeviceID(partitionMap, in.backendMap)
	if err := logicalDevicesValidation(partitionMap, in.backendMap); err != nil {
		return nil, err
	}

	partitions, err := doPartitioning(f.Name(), []*graph.Function{f}, p.module, partitionMap, true)
	if err != nil {
		return nil, err
	}
	p.module.EraseFunction(f)

	if err := dagValidation(partitions[0]); err != nil {
		return nil, runtime.WrapError(runtime.KindInvalidPartitionConfig, err, "user-defined partition")
	}

	if !p.opts.Optimized {
		cctx := compilation.NewContext()
		for _, fn := range partitionMap.Partitions() {
			if err := fn.Verify(); err != nil {
				return nil, err
			}
			b, err := backends.New(partitionMap.BackendName(fn))
			if err != nil {
				return nil, err
			}
			if err := backends.Optimize(fn, b, cctx); err != nil {
				return nil, err
			}
		}
	}

	if err := p.finalize(partitions, partitionMap); err != nil {
		return nil, err
	}
	return partitions, nil
}
