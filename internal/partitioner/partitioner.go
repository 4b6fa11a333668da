// Package partitioner splits a module's functions into sub-functions that
// each fit a single device's memory and capability profile, and assembles
// them into an executable DAG.
package partitioner

import (
	"fmt"
	"log/slog"

	"github.com/vnaveen0/glow/internal/backends"
	"github.com/vnaveen0/glow/internal/compilation"
	"github.com/vnaveen0/glow/internal/graph"
	"github.com/vnaveen0/glow/internal/runtime"
)

// Options tunes a partitioning run.
type Options struct {
	// SaturateHost replicates the partition set across idle devices.
	SaturateHost bool
	// Optimized marks the module as already optimized, skipping the
	// per-function optimizer pass.
	Optimized bool
	// PartitionConfig, when enabled, takes over partitioning entirely.
	PartitionConfig *runtime.PartitionConfig
	// LoadBalance enables the roofline-balanced flow for single-backend
	// hosts.
	LoadBalance bool
	// LogPartition emits the partitioning summary and a DAG.dot dump.
	LogPartition bool
	// DumpPartition writes a DOT file per produced sub-function.
	DumpPartition bool
	// DumpDir receives the DOT files, default ".".
	DumpDir string
	// Backends supplies pre-created backends, one per device, in device
	// order. When empty the registry creates them.
	Backends []backends.Backend
	// Logger for partitioning diagnostics, default slog.Default().
	Logger *slog.Logger
}

// Partitioner owns one partitioning run over a module.
type Partitioner struct {
	module     *graph.Module
	deviceInfo []runtime.DeviceInfo
	opts       Options
	log        *slog.Logger
}

// planInputs is the immutable per-run state every helper reads.
type planInputs struct {
	backendMap        map[string]*BackendInfo
	backends          []backends.Backend
	multiBackendNames bool
	constantsSize     int64
}

// New creates a partitioner for the module and device fleet.
func New(module *graph.Module, devices []runtime.DeviceInfo, opts Options) *Partitioner {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Partitioner{
		module:     module,
		deviceInfo: devices,
		opts:       opts,
		log:        log.With("component", "partitioner"),
	}
}

// Partition runs the mode-selected flow and returns one DAG per network.
func (p *Partitioner) Partition(cctx *compilation.Context) (runtime.DAGList, error) {
	if err := cctx.Verify(); err != nil {
		return nil, err
	}
	backendMap, ordered, err := genBackendMap(p.deviceInfo, p.opts.Backends)
	if err != nil {
		return nil, err
	}
	in := &planInputs{
		backendMap:    backendMap,
		backends:      ordered,
		constantsSize: p.module.ConstantsSize(),
	}
	for i := 1; i < len(p.deviceInfo); i++ {
		if p.deviceInfo[i].BackendName != p.deviceInfo[0].BackendName {
			in.multiBackendNames = true
			break
		}
	}

	if p.opts.PartitionConfig != nil && p.opts.PartitionConfig.Enabled() {
		return p.partitionFromConfig(in, p.opts.PartitionConfig)
	}
	if cctx.PrecisionConfig.QuantMode == compilation.QuantProfile {
		return p.quantizationProfilingPartition(in, cctx)
	}
	if !in.multiBackendNames && p.opts.LoadBalance {
		return p.loadBalancedPartition(in, cctx, len(p.deviceInfo))
	}
	return p.heterogeneousPartition(in, cctx)
}

// selectRepFunc picks the function with the largest estimated working set:
// the sum of its distinct input placeholder sizes on top of the module's
// constants. Multi-function modules keep this scaffolding although the
// concrete flows currently admit exactly one function.
func selectRepFunc(mod *graph.Module, memSize int64) (*graph.Function, int64) {
	var rep *graph.Function
	maxSize := int64(0)
	for _, f := range mod.Functions() {
		curSize := memSize
		seen := make(map[*graph.Node]bool)
		for _, n := range f.Nodes() {
			if n.Kind() == graph.KindSave {
				continue
			}
			for _, in := range n.Inputs() {
				if in.Node.Kind() == graph.KindPlaceholder && !seen[in.Node] {
					seen[in.Node] = true
					curSize += in.SizeInBytes()
				}
			}
		}
		if rep == nil || curSize > maxSize {
			rep = f
			maxSize = curSize
		}
	}
	return rep, maxSize
}

// selectPartitions cuts a single-backend function into memory-feasible
// partitions: walk the BFS levels from the input side toward the outputs,
// growing the current partition until the tentative footprint exceeds the
// device memory, then open the next one. A post-pass merges partitions to
// cut communication and pack memory.
func (p *Partitioner) selectPartitions(f *graph.Function, availableMemory int64, backendName string) (*NodeToFunctionMap, error) {
	mapping := NewNodeToFunctionMap()
	levels := graph.BFSLevels(f)

	color := 0
	newPartition := func() (*graph.Function, error) {
		color++
		return p.module.NewFunction(fmt.Sprintf("%s_part%d", f.Name(), color))
	}
	current, err := newPartition()
	if err != nil {
		return nil, err
	}
	mapping.CreatePartition(current, backendName)
	currentSet := make(NodeSet)
	var memInfo GraphMemInfo

	for i := len(levels) - 1; i >= 0; i-- {
		for _, n := range levels[i] {
			tentative := UpdateGraphMemInfoByAddingNode(currentSet, memInfo, n)
			if tentative.Total() > availableMemory {
				current, err = newPartition()
				if err != nil {
					return nil, err
				}
				mapping.CreatePartition(current, backendName)
				currentSet = make(NodeSet)
				tentative = UpdateGraphMemInfoByAddingNode(currentSet, GraphMemInfo{}, n)
			}
			memInfo = tentative
			currentSet.Add(n)
			mapping.Add(n, current)
			mapping.SetGraphMemInfo(current, memInfo)
		}
	}

	partitionsAdjust(mapping, p.module, availableMemory)
	return mapping, nil
}

// backendBasedPartition colors every node with the first backend accepting
// it, then cuts the function wherever the color changes along the BFS
// traversal. In profiling mode the recorded backend of every partition is the
// profiling backend while the boundaries keep the true affinity.
func (p *Partitioner) backendBasedPartition(in *planInputs, f *graph.Function,
	cctx *compilation.Context) ([]*graph.Function, []string, runtime.DAGList, error) {

	profiling := cctx.PrecisionConfig.QuantMode == compilation.QuantProfile

	nodeBackend := make(map[*graph.Node]string, f.NumNodes())
	for _, n := range f.Nodes() {
		// Save is data movement, not compute: it stays with the backend of
		// the value it stores instead of going through the kind filters.
		if n.Kind() == graph.KindSave {
			if producer := n.NthInput(0).Node; !producer.IsStorage() {
				nodeBackend[n] = nodeBackend[producer]
				continue
			}
		}
		for _, b := range in.backends {
			info := in.backendMap[b.Name()]
			if n.Kind() != graph.KindSave {
				if info.NonSupportedKinds.Has(n.Kind()) {
					continue
				}
				if len(info.SupportedKinds) > 0 && !info.SupportedKinds.Has(n.Kind()) {
					continue
				}
			}
			if b.ShouldLower(n) || b.IsOpSupported(n) {
				nodeBackend[n] = b.Name()
				break
			}
		}
		if _, ok := nodeBackend[n]; !ok {
			return nil, nil, nil, runtime.NewError(runtime.KindNodeNotSupported,
				"node %s of kind %s is not supported by any provided backend", n.Name(), n.Kind())
		}
	}

	mapping := NewNodeToFunctionMap()
	var partFuncs []*graph.Function
	var partBackends []string

	levels := graph.BFSLevels(f)
	color := 0
	openPartition := func(backendName string) (*graph.Function, error) {
		color++
		newF, err := p.module.NewFunction(fmt.Sprintf("%s_part%d", f.Name(), color))
		if err != nil {
			return nil, err
		}
		recorded := backendName
		if profiling {
			recorded = backends.ProfilingBackend
		}
		mapping.CreatePartition(newF, recorded)
		partFuncs = append(partFuncs, newF)
		partBackends = append(partBackends, recorded)
		return newF, nil
	}

	deepest := levels[len(levels)-1]
	currentBackend := nodeBackend[deepest[0]]
	current, err := openPartition(currentBackend)
	if err != nil {
		return nil, nil, nil, err
	}
	for i := len(levels) - 1; i >= 0; i-- {
		for _, n := range levels[i] {
			if bk := nodeBackend[n]; bk != currentBackend {
				currentBackend = bk
				current, err = openPartition(currentBackend)
				if err != nil {
					return nil, nil, nil, err
				}
			}
			mapping.Add(n, current)
		}
	}

	// Profiling stops after this stage, so it needs the DAG; the
	// heterogeneous flow only needs the intermediate functions.
	if profiling {
		for i, part := range mapping.Partitions() {
			mapping.AppendLogicalDevice(part, runtime.DeviceID(i))
			mapping.SetGraphMemInfo(part, GetGraphMemInfo(mapping.NodesFor(part)))
		}
	}
	dags, err := doPartitioning(f.Name(), []*graph.Function{f}, p.module, mapping, profiling)
	if err != nil {
		return nil, nil, nil, err
	}
	return partFuncs, partBackends, dags, nil
}

// createDAGWithoutPartition wraps each whole function as a single-child DAG
// under a synthetic root.
func (p *Partitioner) createDAGWithoutPartition(backendName string, in *planInputs,
	cctx *compilation.Context) (runtime.DAGList, error) {

	var partitions runtime.DAGList
	for _, f := range p.module.Functions() {
		if !p.opts.Optimized {
			if err := backends.Optimize(f, in.backendMap[backendName].Backend, cctx); err != nil {
				return nil, err
			}
		}
		root := &runtime.DAGNode{
			Name:           f.Name(),
			Module:         p.module,
			LogicalDevices: []runtime.DeviceID{0},
		}
		child := &runtime.DAGNode{
			Name:           f.Name(),
			BackendName:    backendName,
			Module:         p.module,
			LogicalDevices: []runtime.DeviceID{0},
			Parents:        []*runtime.DAGNode{root},
		}
		root.Children = []*runtime.DAGNode{child}
		partitions = append(partitions, &runtime.DAG{Root: root, Nodes: []*runtime.DAGNode{child}})
	}
	if p.opts.SaturateHost {
		saturateHost(len(p.deviceInfo), 1, partitions)
	}
	if err := p.finalize(partitions, NewNodeToFunctionMap()); err != nil {
		return nil, err
	}
	return partitions, nil
}

// quantizationProfilingPartition routes every partition to the profiling
// backend; the boundaries still reflect true backend affinity so gathered
// statistics map back to the heterogeneous plan.
func (p *Partitioner) quantizationProfilingPartition(in *planInputs, cctx *compilation.Context) (runtime.DAGList, error) {
	if n := len(p.module.Functions()); n != 1 {
		return nil, fmt.Errorf("partitioner: %d functions in module, profiling flow requires exactly 1", n)
	}
	f, _ := selectRepFunc(p.module, in.constantsSize)

	_, _, partitions, err := p.backendBasedPartition(in, f, cctx)
	if err != nil {
		return nil, err
	}
	p.module.EraseFunction(f)

	profBackend, err := backends.New(backends.ProfilingBackend)
	if err != nil {
		return nil, err
	}
	for _, subF := range p.module.Functions() {
		if err := subF.Verify(); err != nil {
			return nil, err
		}
		if !p.opts.Optimized {
			if err := backends.Optimize(subF, profBackend, cctx); err != nil {
				return nil, err
			}
		}
	}
	if p.opts.LogPartition {
		p.log.Info("profiling partition complete, all sub-networks run on the profiling backend",
			"backend", backends.ProfilingBackend,
			"partitions", len(p.module.Functions()))
	}
	return partitions, nil
}

// heterogeneousPartition is the default flow: color by backend, cut each
// backend region by memory, assign logical devices, materialize the DAG, and
// optionally saturate the host.
func (p *Partitioner) heterogeneousPartition(in *planInputs, cctx *compilation.Context) (runtime.DAGList, error) {
	f, memSize := selectRepFunc(p.module, in.constantsSize)
	if f == nil {
		return nil, runtime.NewError(runtime.KindFunctionNotFound, "module has no functions")
	}
	origName := f.Name()

	var funcs []*graph.Function
	var funcBackends []string
	if len(in.backends) == 1 {
		backendName := in.backends[0].Name()
		if memSize < in.backendMap[backendName].MemSize {
			p.log.Info("model fits a single device, skipping partition",
				"model_bytes", memSize,
				"backend", backendName,
				"device_bytes", in.backendMap[backendName].MemSize)
			return p.createDAGWithoutPartition(backendName, in, cctx)
		}
		if n := len(p.module.Functions()); n != 1 {
			return nil, fmt.Errorf("partitioner: %d functions in module, heterogeneous flow requires exactly 1", n)
		}
		funcs = []*graph.Function{f}
		funcBackends = []string{backendName}
	} else {
		if n := len(p.module.Functions()); n != 1 {
			return nil, fmt.Errorf("partitioner: %d functions in module, heterogeneous flow requires exactly 1", n)
		}
		partFuncs, partBackends, _, err := p.backendBasedPartition(in, f, cctx)
		if err != nil {
			return nil, err
		}
		p.module.EraseFunction(f)
		funcs = partFuncs
		funcBackends = partBackends
	}

	mapping := NewNodeToFunctionMap()
	for i, fn := range funcs {
		backendName := funcBackends[i]
		info := in.backendMap[backendName]
		if err := fn.Verify(); err != nil {
			return nil, err
		}
		if !p.opts.Optimized {
			if err := backends.Optimize(fn, info.Backend, cctx); err != nil {
				return nil, err
			}
		}
		partitionMap, err := p.selectPartitions(fn, info.MemSize, backendName)
		if err != nil {
			return nil, err
		}
		mapping.Insert(partitionMap)
	}

	if err := memoryUsageValidation(mapping, in.backendMap); err != nil {
		return nil, err
	}
	logicalCount := assignLogicalDeviceID(mapping, in.backendMap)
	if err := logicalDevicesValidation(mapping, in.backendMap); err != nil {
		return nil, err
	}

	partitions, err := doPartitioning(origName, funcs, p.module, mapping, true)
	if err != nil {
		return nil, err
	}

	if p.opts.SaturateHost && len(in.backends) == 1 &&
		len(mapping.Partitions()) < len(p.deviceInfo) {
		saturateHost(len(p.deviceInfo), logicalCount, partitions)
	}

	for _, fn := range funcs {
		p.module.EraseFunction(fn)
	}

	if err := p.finalize(partitions, mapping); err != nil {
		return nil, err
	}
	return partitions, nil
}
