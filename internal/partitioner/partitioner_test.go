package partitioner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnaveen0/glow/internal/backends"
	"github.com/vnaveen0/glow/internal/compilation"
	"github.com/vnaveen0/glow/internal/graph"
	"github.com/vnaveen0/glow/internal/runtime"
)

// testBackend accepts every operator kind under a configurable name.
type testBackend struct{ name string }

func (b *testBackend) Name() string                         { return b.name }
func (b *testBackend) IsOpSupported(n *graph.Node) bool     { return !n.Kind().IsStorage() }
func (b *testBackend) ShouldLower(n *graph.Node) bool       { return false }
func (b *testBackend) DefaultDeviceMemory() int64           { return 1 << 30 }
func (b *testBackend) Compile(f *graph.Function, cctx *compilation.Context) (*backends.CompiledFunction, error) {
	return nil, nil
}

func init() {
	backends.Register("A", func() backends.Backend { return &testBackend{name: "A"} })
	backends.Register("B", func() backends.Backend { return &testBackend{name: "B"} })
}

const mib = 1 << 20

// buildConvChain: input -> Conv -> Add -> Relu -> save; Conv and Add each
// read one weight constant of constBytes, Relu has none.
func buildConvChain(t *testing.T, constBytes int) *graph.Module {
	t.Helper()
	mod := graph.NewModule()
	f, err := mod.NewFunction("net")
	require.NoError(t, err)
	ty := graph.NewType(graph.Float32, 1, 16)
	wty := graph.NewType(graph.Int8, constBytes)
	in, err := mod.NewPlaceholder("input", ty)
	require.NoError(t, err)

	wc, err := mod.NewConstant("w_conv", wty)
	require.NoError(t, err)
	conv, err := f.AddNode(graph.KindConv, "conv",
		[]graph.NodeValue{{Node: in}, {Node: wc}}, []*graph.Type{ty})
	require.NoError(t, err)

	wa, err := mod.NewConstant("w_add", wty)
	require.NoError(t, err)
	add, err := f.AddNode(graph.KindAdd, "add",
		[]graph.NodeValue{{Node: conv}, {Node: wa}}, []*graph.Type{ty})
	require.NoError(t, err)

	relu, err := f.AddNode(graph.KindRelu, "relu",
		[]graph.NodeValue{{Node: add}}, []*graph.Type{ty})
	require.NoError(t, err)

	out, err := mod.NewPlaceholder("out", ty)
	require.NoError(t, err)
	_, err = f.CreateSave("save_out", graph.NodeValue{Node: relu}, out)
	require.NoError(t, err)
	return mod
}

// kindCount counts the nodes of one kind across all functions of a module.
func kindCount(mod *graph.Module, kind graph.Kind) int {
	count := 0
	for _, f := range mod.Functions() {
		for _, n := range f.Nodes() {
			if n.Kind() == kind {
				count++
			}
		}
	}
	return count
}

// checkAncestry asserts P5: every cross-partition edge runs from an ancestor
// to a descendant.
func checkAncestry(t *testing.T, dag *runtime.DAG) {
	t.Helper()
	ancestors := make(map[*runtime.DAGNode]map[*runtime.DAGNode]bool)
	var visit func(n *runtime.DAGNode)
	visit = func(n *runtime.DAGNode) {
		if ancestors[n] != nil {
			return
		}
		set := make(map[*runtime.DAGNode]bool)
		for _, p := range n.Parents {
			visit(p)
			set[p] = true
			for a := range ancestors[p] {
				set[a] = true
			}
		}
		ancestors[n] = set
	}
	for _, n := range dag.Nodes {
		visit(n)
	}
	for _, n := range dag.Nodes {
		for _, p := range n.Parents {
			if p == dag.Root {
				continue
			}
			assert.True(t, ancestors[n][p], "parent %s should be ancestor of %s", p.Name, n.Name)
		}
	}
}

func TestSingleSmallNetwork(t *testing.T) {
	mod := buildConvChain(t, 1*mib)
	devices := []runtime.DeviceInfo{{AvailableMemory: 1 << 30, BackendName: "A"}}

	p := New(mod, devices, Options{})
	dags, err := p.Partition(compilation.NewContext())
	require.NoError(t, err)
	require.Len(t, dags, 1)

	dag := dags[0]
	require.NoError(t, dag.Validate())
	assert.Equal(t, "net", dag.Root.Name)
	require.Len(t, dag.Nodes, 1)
	assert.Equal(t, "net", dag.Nodes[0].Name)
	assert.Equal(t, []runtime.DeviceID{0}, dag.Nodes[0].LogicalDevices)
	// The function was kept whole.
	require.Len(t, mod.Functions(), 1)
	assert.Equal(t, 4, mod.Functions()[0].NumNodes())
}

func TestMemoryDrivenSplit(t *testing.T) {
	// Two ops with 60 MiB of weights each against a 100 MiB device: they
	// cannot share a partition.
	mod := buildConvChain(t, 60*mib)
	devices := []runtime.DeviceInfo{
		{AvailableMemory: 100 * mib, BackendName: "A"},
		{AvailableMemory: 100 * mib, BackendName: "A"},
		{AvailableMemory: 100 * mib, BackendName: "A"},
	}

	p := New(mod, devices, Options{})
	dags, err := p.Partition(compilation.NewContext())
	require.NoError(t, err)
	require.Len(t, dags, 1)
	dag := dags[0]
	require.NoError(t, dag.Validate())
	assert.GreaterOrEqual(t, len(dag.Nodes), 2, "weights cannot share one device")

	// P1: conv/add/relu each live in exactly one sub-function.
	for _, kind := range []graph.Kind{graph.KindConv, graph.KindAdd, graph.KindRelu} {
		assert.Equal(t, 1, kindCount(mod, kind), "kind %s", kind)
	}
	// P2: every partition fits the device.
	for _, node := range dag.Nodes {
		f := mod.Function(node.Name)
		require.NotNil(t, f)
		set := make(NodeSet)
		for _, n := range f.Nodes() {
			set.Add(n)
		}
		assert.LessOrEqual(t, GetGraphMemInfo(set).Total(), int64(100*mib), "partition %s", node.Name)
	}
	checkAncestry(t, dag)
}

func TestHeterogeneousBackends(t *testing.T) {
	mod := buildConvChain(t, 1*mib)
	devices := []runtime.DeviceInfo{
		{AvailableMemory: 1 << 30, BackendName: "A", SupportedNodes: "Conv,Relu"},
		{AvailableMemory: 1 << 30, BackendName: "B", SupportedNodes: "Add,Mul"},
	}

	p := New(mod, devices, Options{})
	dags, err := p.Partition(compilation.NewContext())
	require.NoError(t, err)
	require.Len(t, dags, 1)
	dag := dags[0]
	require.NoError(t, dag.Validate())
	require.Len(t, dag.Nodes, 3, "Conv|Add|Relu must split at each backend change")

	byBackend := map[string]int{}
	for _, n := range dag.Nodes {
		byBackend[n.BackendName]++
	}
	assert.Equal(t, 2, byBackend["A"])
	assert.Equal(t, 1, byBackend["B"])

	// Linear chain: ConvA -> AddB -> ReluA.
	assert.Len(t, dag.Root.Children, 1)
	first := dag.Root.Children[0]
	assert.Equal(t, "A", first.BackendName)
	require.Len(t, first.Children, 1)
	second := first.Children[0]
	assert.Equal(t, "B", second.BackendName)
	require.Len(t, second.Children, 1)
	assert.Equal(t, "A", second.Children[0].BackendName)

	// P8: the operator kind set is preserved.
	for _, kind := range []graph.Kind{graph.KindConv, graph.KindAdd, graph.KindRelu} {
		assert.Equal(t, 1, kindCount(mod, kind))
	}
	checkAncestry(t, dag)
}

func TestNoBackendAcceptsKind(t *testing.T) {
	mod := buildConvChain(t, 1*mib)
	f := mod.Functions()[0]
	// Append a Softmax no device list accepts, saved so it is not dead.
	relu := f.Node("relu")
	sm, err := f.AddNode(graph.KindSoftmax, "softmax",
		[]graph.NodeValue{{Node: relu, Result: 0}}, []*graph.Type{relu.OutputType(0)})
	require.NoError(t, err)
	out2, err := mod.NewPlaceholder("out2", sm.OutputType(0))
	require.NoError(t, err)
	_, err = f.CreateSave("save_out2", graph.NodeValue{Node: sm}, out2)
	require.NoError(t, err)

	devices := []runtime.DeviceInfo{
		{AvailableMemory: 1 << 30, BackendName: "A", SupportedNodes: "Conv,Relu"},
		{AvailableMemory: 1 << 30, BackendName: "B", SupportedNodes: "Add,Mul"},
	}
	p := New(mod, devices, Options{})
	_, err = p.Partition(compilation.NewContext())
	require.Error(t, err)
	assert.True(t, runtime.IsKind(err, runtime.KindNodeNotSupported))
	// No partition functions linger after the failure.
	require.Len(t, mod.Functions(), 1)
	assert.Equal(t, "net", mod.Functions()[0].Name())
}

func TestSaturateHost(t *testing.T) {
	// P9: eight devices, two logical devices, every node ends with 4 IDs.
	dag := &runtime.DAG{
		Root: &runtime.DAGNode{Name: "net"},
		Nodes: []*runtime.DAGNode{
			{Name: "p1", LogicalDevices: []runtime.DeviceID{0}},
			{Name: "p2", LogicalDevices: []runtime.DeviceID{1}},
		},
	}
	saturateHost(8, 2, runtime.DAGList{dag})
	assert.Equal(t, []runtime.DeviceID{0, 2, 4, 6}, dag.Nodes[0].LogicalDevices)
	assert.Equal(t, []runtime.DeviceID{1, 3, 5, 7}, dag.Nodes[1].LogicalDevices)

	// Fewer than two duplications leaves the assignment alone.
	dag2 := &runtime.DAG{
		Root:  &runtime.DAGNode{Name: "net"},
		Nodes: []*runtime.DAGNode{{Name: "p1", LogicalDevices: []runtime.DeviceID{0}}},
	}
	saturateHost(1, 1, runtime.DAGList{dag2})
	assert.Equal(t, []runtime.DeviceID{0}, dag2.Nodes[0].LogicalDevices)
}

func TestSaturationThroughPartition(t *testing.T) {
	mod := buildConvChain(t, 1*mib)
	devices := make([]runtime.DeviceInfo, 4)
	for i := range devices {
		devices[i] = runtime.DeviceInfo{AvailableMemory: 1 << 30, BackendName: "A"}
	}
	p := New(mod, devices, Options{SaturateHost: true})
	dags, err := p.Partition(compilation.NewContext())
	require.NoError(t, err)
	require.Len(t, dags, 1)
	for _, node := range dags[0].Nodes {
		assert.Len(t, node.LogicalDevices, 4, "every node should replicate across all devices")
	}
}

func TestPartitionFromConfig(t *testing.T) {
	mod := buildConvChain(t, 1*mib)
	cfg := &runtime.PartitionConfig{
		FuncName:        "net",
		NumOfPartitions: 2,
		BackendNames:    []string{"A", "A"},
		PartitionNames:  []string{"net_p0", "net_p1"},
		NodeToPartition: map[string]int{"conv": 0, "add": 0},
	}
	devices := []runtime.DeviceInfo{
		{AvailableMemory: 1 << 30, BackendName: "A"},
		{AvailableMemory: 1 << 30, BackendName: "A"},
	}
	p := New(mod, devices, Options{PartitionConfig: cfg})
	dags, err := p.Partition(compilation.NewContext())
	require.NoError(t, err)
	require.Len(t, dags, 1)
	dag := dags[0]
	require.NoError(t, dag.Validate())
	require.Len(t, dag.Nodes, 2)

	p0 := mod.Function("net_p0")
	require.NotNil(t, p0)
	assert.NotNil(t, p0.Node("conv"))
	assert.NotNil(t, p0.Node("add"))
	p1 := mod.Function("net_p1")
	require.NotNil(t, p1)
	assert.NotNil(t, p1.Node("relu"), "unmapped nodes go to the unused partition")
	checkAncestry(t, dag)
}

func TestPartitionFromConfigInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *runtime.PartitionConfig)
	}{
		{"backend_count_mismatch", func(c *runtime.PartitionConfig) { c.BackendNames = []string{"A"} }},
		{"name_count_mismatch", func(c *runtime.PartitionConfig) { c.PartitionNames = []string{"x"} }},
		{"index_out_of_range", func(c *runtime.PartitionConfig) { c.NodeToPartition["conv"] = 7 }},
		{"no_unused_partition", func(c *runtime.PartitionConfig) {
			// Both partitions used while relu and the save stay unmapped.
			c.NodeToPartition = map[string]int{"conv": 0, "add": 1}
			c.NumOfPartitions = 2
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mod := buildConvChain(t, 1*mib)
			cfg := &runtime.PartitionConfig{
				FuncName:        "net",
				NumOfPartitions: 2,
				BackendNames:    []string{"A", "A"},
				PartitionNames:  []string{"net_p0", "net_p1"},
				NodeToPartition: map[string]int{"conv": 0, "add": 0},
			}
			tt.mutate(cfg)
			devices := []runtime.DeviceInfo{
				{AvailableMemory: 1 << 30, BackendName: "A"},
				{AvailableMemory: 1 << 30, BackendName: "A"},
			}
			p := New(mod, devices, Options{PartitionConfig: cfg})
			_, err := p.Partition(compilation.NewContext())
			require.Error(t, err)
			assert.True(t, runtime.IsKind(err, runtime.KindInvalidPartitionConfig), "got %v", err)
		})
	}
}

func TestFunctionNotFoundFromConfig(t *testing.T) {
	mod := buildConvChain(t, 1*mib)
	cfg := &runtime.PartitionConfig{
		FuncName:        "nope",
		NumOfPartitions: 1,
		BackendNames:    []string{"A"},
		PartitionNames:  []string{"p0"},
	}
	p := New(mod, []runtime.DeviceInfo{{AvailableMemory: 1 << 30, BackendName: "A"}},
		Options{PartitionConfig: cfg})
	_, err := p.Partition(compilation.NewContext())
	require.Error(t, err)
	assert.True(t, runtime.IsKind(err, runtime.KindFunctionNotFound))
}

func TestQuantizationProfilingPartition(t *testing.T) {
	mod := buildConvChain(t, 1*mib)
	devices := []runtime.DeviceInfo{
		{AvailableMemory: 1 << 30, BackendName: "A", SupportedNodes: "Conv,Relu"},
		{AvailableMemory: 1 << 30, BackendName: "B", SupportedNodes: "Add,Mul"},
	}
	cctx := compilation.NewContext()
	cctx.PrecisionConfig.QuantMode = compilation.QuantProfile
	cctx.Bindings = graph.NewPlaceholderBindings()
	cctx.LoweredInfoMap = compilation.LoweredInfoMap{}

	p := New(mod, devices, Options{})
	dags, err := p.Partition(cctx)
	require.NoError(t, err)
	require.Len(t, dags, 1)
	// Boundaries reflect backend affinity, but every partition is recorded
	// against the profiling backend.
	require.Len(t, dags[0].Nodes, 3)
	for _, n := range dags[0].Nodes {
		assert.Equal(t, backends.ProfilingBackend, n.BackendName)
	}
}

func TestLoadBalancedPartition(t *testing.T) {
	mod := buildConvChain(t, 1*mib)
	devices := []runtime.DeviceInfo{
		{AvailableMemory: 1 << 30, BackendName: "A", PeakCompute: 1e12, PeakDramBw: 1e10},
		{AvailableMemory: 1 << 30, BackendName: "A", PeakCompute: 1e12, PeakDramBw: 1e10},
	}
	p := New(mod, devices, Options{LoadBalance: true})
	dags, err := p.Partition(compilation.NewContext())
	require.NoError(t, err)
	require.Len(t, dags, 1)
	dag := dags[0]
	require.NoError(t, dag.Validate())
	assert.LessOrEqual(t, len(dag.Nodes), 2)
	// P1 still holds.
	for _, kind := range []graph.Kind{graph.KindConv, graph.KindAdd, graph.KindRelu} {
		assert.Equal(t, 1, kindCount(mod, kind))
	}
	checkAncestry(t, dag)
}

func TestLogicalDeviceValidationFailure(t *testing.T) {
	// One physical device but weights force two partitions that cannot share
	// a logical device.
	mod := buildConvChain(t, 60*mib)
	devices := []runtime.DeviceInfo{{AvailableMemory: 100 * mib, BackendName: "A"}}
	p := New(mod, devices, Options{})
	_, err := p.Partition(compilation.NewContext())
	require.Error(t, err)
	assert.True(t, runtime.IsKind(err, runtime.KindInsufficientPhysicalDevices), "got %v", err)
}

func TestPartitionMemoryExceeded(t *testing.T) {
	// A single op whose weight alone exceeds device memory cannot be split.
	mod := buildConvChain(t, 200*mib)
	devices := []runtime.DeviceInfo{
		{AvailableMemory: 100 * mib, BackendName: "A"},
		{AvailableMemory: 100 * mib, BackendName: "A"},
		{AvailableMemory: 100 * mib, BackendName: "A"},
	}
	p := New(mod, devices, Options{})
	_, err := p.Partition(compilation.NewContext())
	require.Error(t, err)
	assert.True(t, runtime.IsKind(err, runtime.KindPartitionMemoryExceeded), "got %v", err)
}

func TestLoadBalanceInfeasible(t *testing.T) {
	mod := buildConvChain(t, 200*mib)
	devices := []runtime.DeviceInfo{
		{AvailableMemory: 100 * mib, BackendName: "A", PeakCompute: 1e12, PeakDramBw: 1e10},
		{AvailableMemory: 100 * mib, BackendName: "A", PeakCompute: 1e12, PeakDramBw: 1e10},
	}
	p := New(mod, devices, Options{LoadBalance: true})
	_, err := p.Partition(compilation.NewContext())
	require.Error(t, err)
	// Each weighted op alone exceeds a partition's memory budget; either
	// kind marks the plan as unplaceable.
	infeasible := runtime.IsKind(err, runtime.KindLoadBalanceInfeasible) ||
		runtime.IsKind(err, runtime.KindPartitionMemoryExceeded)
	assert.True(t, infeasible, "got %v", err)
}

func TestAssignLogicalDeviceIDPacking(t *testing.T) {
	mod := graph.NewModule()
	mapping := NewNodeToFunctionMap()
	backendMap := map[string]*BackendInfo{"A": {Num: 2, MemSize: 100}}
	for i, footprint := range []int64{60, 30, 60} {
		f, err := mod.NewFunction(partName(i))
		require.NoError(t, err)
		mapping.CreatePartition(f, "A")
		mapping.SetGraphMemInfo(f, GraphMemInfo{ConstantBytes: footprint})
	}
	count := assignLogicalDeviceID(mapping, backendMap)
	assert.Equal(t, 2, count)
	// 60 -> L0, 30 -> L0 (fits), 60 -> L1.
	assert.Equal(t, []runtime.DeviceID{0}, mapping.LogicalDevices(mapping.Partitions()[0]))
	assert.Equal(t, []runtime.DeviceID{0}, mapping.LogicalDevices(mapping.Partitions()[1]))
	assert.Equal(t, []runtime.DeviceID{1}, mapping.LogicalDevices(mapping.Partitions()[2]))
}

func partName(i int) string {
	return string(rune('a'+i)) + "_part"
}
