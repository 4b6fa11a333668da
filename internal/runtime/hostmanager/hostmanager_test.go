package hostmanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnaveen0/glow/internal/compilation"
	"github.com/vnaveen0/glow/internal/graph"
	"github.com/vnaveen0/glow/internal/runtime"
)

// gateDevice is an in-process device whose runs block until released,
// letting tests hold requests in the active state.
type gateDevice struct {
	id      runtime.DeviceID
	gate    chan struct{}
	mu      sync.Mutex
	stopped bool
	loaded  map[string]bool
}

func newGateDevice(id runtime.DeviceID, gate chan struct{}) *gateDevice {
	return &gateDevice{id: id, gate: gate, loaded: make(map[string]bool)}
}

func (d *gateDevice) ID() runtime.DeviceID       { return d.id }
func (d *gateDevice) BackendName() string        { return "Interpreter" }
func (d *gateDevice) Init(ctx context.Context) error { return nil }
func (d *gateDevice) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	return nil
}
func (d *gateDevice) AddNetwork(ctx context.Context, name string, a runtime.CompiledArtifact) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return runtime.NewError(runtime.KindDeviceError, "stopped")
	}
	d.loaded[name] = true
	return nil
}
func (d *gateDevice) EvictNetwork(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.loaded, name)
	return nil
}
func (d *gateDevice) HasNetwork(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded[name]
}
func (d *gateDevice) MaximumMemory() int64   { return 1 << 30 }
func (d *gateDevice) AvailableMemory() int64 { return 1 << 30 }

func (d *gateDevice) RunFunction(name string, ectx *runtime.ExecutionContext) <-chan runtime.DeviceResult {
	out := make(chan runtime.DeviceResult, 1)
	go func() {
		<-d.gate
		out <- runtime.DeviceResult{Context: ectx}
	}()
	return out
}

// buildNet returns a module holding one tiny function named name.
func buildNet(t *testing.T, name string) *graph.Module {
	t.Helper()
	mod := graph.NewModule()
	f, err := mod.NewFunction(name)
	require.NoError(t, err)
	in, err := mod.NewPlaceholder(name+"_input", graph.NewType(graph.Float32, 1, 4))
	require.NoError(t, err)
	relu, err := f.AddNode(graph.KindRelu, "relu",
		[]graph.NodeValue{{Node: in}}, []*graph.Type{in.OutputType(0)})
	require.NoError(t, err)
	out, err := mod.NewPlaceholder(name+"_out", in.OutputType(0))
	require.NoError(t, err)
	_, err = f.CreateSave("save_out", graph.NodeValue{Node: relu}, out)
	require.NoError(t, err)
	return mod
}

func newTestHost(t *testing.T, cfg runtime.HostConfig, gate chan struct{}) *HostManager {
	t.Helper()
	opts := Options{}
	if gate != nil {
		opts.DeviceFactory = func(dc runtime.DeviceConfig) (runtime.DeviceManager, error) {
			return newGateDevice(dc.ID, gate), nil
		}
	}
	h := New(cfg, opts)
	require.NoError(t, h.Init(context.Background(),
		[]runtime.DeviceConfig{{BackendName: "Interpreter"}}))
	return h
}

func TestAddRunRemove(t *testing.T) {
	h := newTestHost(t, runtime.DefaultHostConfig(), nil)
	defer h.ClearHost(context.Background())
	ctx := context.Background()

	require.NoError(t, h.AddNetwork(ctx, buildNet(t, "net"), compilation.NewContext(), false))
	assert.True(t, h.NetworkAdded("net"))

	dag, err := h.GetNetworkDAG("net")
	require.NoError(t, err)
	require.NoError(t, dag.Validate())
	require.NotEmpty(t, dag.Nodes)
	assert.NotEmpty(t, dag.Nodes[0].DeviceIDs, "provisioning must bind physical devices")
	assert.NotNil(t, dag.Nodes[0].RuntimeBundle)

	require.NoError(t, h.RunNetworkBlocking("net", runtime.NewExecutionContext()))

	require.NoError(t, h.RemoveNetwork(ctx, "net"))
	assert.False(t, h.NetworkAdded("net"))

	// Running a removed network reports through the callback.
	var cbErr error
	done := make(chan struct{})
	id := h.RunNetwork("net", runtime.NewExecutionContext(),
		func(_ runtime.RunIdentifier, err error, _ *runtime.ExecutionContext) {
			cbErr = err
			close(done)
		}, 0)
	<-done
	assert.Equal(t, runtime.InvalidRunID, id)
	assert.True(t, runtime.IsKind(cbErr, runtime.KindNetworkNotFound))
}

func TestNetworkNameCollision(t *testing.T) {
	h := newTestHost(t, runtime.DefaultHostConfig(), nil)
	defer h.ClearHost(context.Background())
	ctx := context.Background()

	require.NoError(t, h.AddNetwork(ctx, buildNet(t, "net"), compilation.NewContext(), false))
	err := h.AddNetwork(ctx, buildNet(t, "net"), compilation.NewContext(), false)
	require.Error(t, err)
	assert.True(t, runtime.IsKind(err, runtime.KindNetworkNameCollision))
}

func TestQueueBackpressure(t *testing.T) {
	gate := make(chan struct{})
	h := newTestHost(t, runtime.HostConfig{
		MaxActiveRequests: 2,
		MaxQueueSize:      2,
		ExecutorThreads:   4,
	}, gate)
	ctx := context.Background()
	require.NoError(t, h.AddNetwork(ctx, buildNet(t, "net"), compilation.NewContext(), false))

	var mu sync.Mutex
	var completions []runtime.RunIdentifier
	var rejections []error
	var wg sync.WaitGroup

	submit := func() runtime.RunIdentifier {
		wg.Add(1)
		return h.RunNetwork("net", runtime.NewExecutionContext(),
			func(id runtime.RunIdentifier, err error, _ *runtime.ExecutionContext) {
				mu.Lock()
				if err != nil {
					rejections = append(rejections, err)
				} else {
					completions = append(completions, id)
				}
				mu.Unlock()
				wg.Done()
			}, 0)
	}

	ids := make([]runtime.RunIdentifier, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, submit())
	}

	// Two dispatched, two queued, the fifth rejected immediately.
	assert.Equal(t, runtime.InvalidRunID, ids[4])
	for i := 0; i < 4; i++ {
		assert.NotEqual(t, runtime.InvalidRunID, ids[i], "request %d", i)
	}

	for i := 0; i < 4; i++ {
		gate <- struct{}{}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, rejections, 1)
	assert.True(t, runtime.IsKind(rejections[0], runtime.KindQueueFull))
	// The four admitted requests all completed. Dequeue order under equal
	// priority is covered by TestPriorityOrdering; with two concurrent slots
	// the completion order of simultaneously active runs is unspecified.
	require.Len(t, completions, 4)
	got := make(map[runtime.RunIdentifier]bool)
	for _, id := range completions {
		got[id] = true
	}
	for i := 0; i < 4; i++ {
		assert.True(t, got[ids[i]], "request %d never completed", i)
	}
	h.ClearHost(ctx)
}

func TestPriorityOrdering(t *testing.T) {
	gate := make(chan struct{})
	h := newTestHost(t, runtime.HostConfig{
		MaxActiveRequests: 1,
		MaxQueueSize:      10,
		ExecutorThreads:   2,
	}, gate)
	ctx := context.Background()
	require.NoError(t, h.AddNetwork(ctx, buildNet(t, "net"), compilation.NewContext(), false))

	var mu sync.Mutex
	type record struct {
		id       runtime.RunIdentifier
		priority uint64
	}
	var order []record
	var wg sync.WaitGroup

	submit := func(priority uint64) {
		wg.Add(1)
		h.RunNetwork("net", runtime.NewExecutionContext(),
			func(id runtime.RunIdentifier, err error, _ *runtime.ExecutionContext) {
				require.NoError(t, err)
				mu.Lock()
				order = append(order, record{id: id, priority: priority})
				mu.Unlock()
				wg.Done()
			}, priority)
	}

	// The first submission occupies the single active slot; the rest queue.
	submit(5)
	time.Sleep(20 * time.Millisecond)
	submit(2)
	submit(0)
	submit(1)
	submit(0)

	for i := 0; i < 5; i++ {
		gate <- struct{}{}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 5)
	// After the occupying request, strictly by (priority, submission).
	rest := order[1:]
	wantPriorities := []uint64{0, 0, 1, 2}
	for i, r := range rest {
		assert.Equal(t, wantPriorities[i], r.priority, "position %d", i)
	}
	// The two priority-0 requests keep submission order.
	assert.Less(t, rest[0].id, rest[1].id)
	h.ClearHost(ctx)
}

func TestRemoveNetworkInUse(t *testing.T) {
	gate := make(chan struct{})
	h := newTestHost(t, runtime.DefaultHostConfig(), gate)
	ctx := context.Background()
	require.NoError(t, h.AddNetwork(ctx, buildNet(t, "net"), compilation.NewContext(), false))

	done := make(chan struct{})
	h.RunNetwork("net", runtime.NewExecutionContext(),
		func(_ runtime.RunIdentifier, err error, _ *runtime.ExecutionContext) {
			require.NoError(t, err)
			close(done)
		}, 0)

	// In flight: removal must fail.
	require.Eventually(t, func() bool {
		err := h.RemoveNetwork(ctx, "net")
		if err == nil {
			return false
		}
		return runtime.IsKind(err, runtime.KindNetworkInUse)
	}, time.Second, 5*time.Millisecond)

	gate <- struct{}{}
	<-done
	require.NoError(t, h.RemoveNetwork(ctx, "net"))
	h.ClearHost(ctx)
}

func TestDistinctRequestIDs(t *testing.T) {
	h := newTestHost(t, runtime.DefaultHostConfig(), nil)
	ctx := context.Background()
	require.NoError(t, h.AddNetwork(ctx, buildNet(t, "net"), compilation.NewContext(), false))

	seen := make(map[runtime.RunIdentifier]bool)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < 20; i++ {
		wg.Add(1)
		id := h.RunNetwork("net", runtime.NewExecutionContext(),
			func(_ runtime.RunIdentifier, err error, _ *runtime.ExecutionContext) {
				require.NoError(t, err)
				wg.Done()
			}, 0)
		mu.Lock()
		assert.False(t, seen[id], "request ID %d repeated", id)
		seen[id] = true
		mu.Unlock()
	}
	wg.Wait()
	h.ClearHost(ctx)
}

func TestClearHost(t *testing.T) {
	h := newTestHost(t, runtime.DefaultHostConfig(), nil)
	ctx := context.Background()
	require.NoError(t, h.AddNetwork(ctx, buildNet(t, "a"), compilation.NewContext(), false))
	require.NoError(t, h.AddNetwork(ctx, buildNet(t, "b"), compilation.NewContext(), false))
	require.Len(t, h.Networks(), 2)

	require.NoError(t, h.ClearHost(ctx))
	assert.Empty(t, h.Networks())
}

func TestMemoryGauges(t *testing.T) {
	h := newTestHost(t, runtime.DefaultHostConfig(), nil)
	ctx := context.Background()
	reg := h.Metrics()
	maxGauge := reg.NewGauge("glow.devices.maximum_memory.total", "")
	usedGauge := reg.NewGauge("glow.devices.used_memory.total", "")

	require.NoError(t, h.AddNetwork(ctx, buildNet(t, "net"), compilation.NewContext(), false))
	assert.Greater(t, maxGauge.Value(), 0.0)
	assert.Greater(t, usedGauge.Value(), 0.0, "loading a network must consume device memory")

	require.NoError(t, h.RemoveNetwork(ctx, "net"))
	assert.Equal(t, 0.0, usedGauge.Value())
	h.ClearHost(ctx)
}

func TestInitRollback(t *testing.T) {
	var stopped []runtime.DeviceID
	var mu sync.Mutex
	opts := Options{
		DeviceFactory: func(dc runtime.DeviceConfig) (runtime.DeviceManager, error) {
			if dc.ID == 1 {
				return nil, runtime.NewError(runtime.KindDeviceError, "no such device")
			}
			gate := make(chan struct{})
			d := newGateDevice(dc.ID, gate)
			return &stopRecorder{gateDevice: d, onStop: func(id runtime.DeviceID) {
				mu.Lock()
				stopped = append(stopped, id)
				mu.Unlock()
			}}, nil
		},
	}
	h := New(runtime.DefaultHostConfig(), opts)
	err := h.Init(context.Background(), []runtime.DeviceConfig{
		{BackendName: "Interpreter"},
		{BackendName: "Interpreter"},
	})
	require.Error(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []runtime.DeviceID{0}, stopped, "created devices must be stopped on rollback")
}

type stopRecorder struct {
	*gateDevice
	onStop func(runtime.DeviceID)
}

func (s *stopRecorder) Stop(ctx context.Context) error {
	s.onStop(s.gateDevice.id)
	return s.gateDevice.Stop(ctx)
}
