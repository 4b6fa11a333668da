package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnaveen0/glow/internal/runtime"
)

// fakeDevice records run order and can fail or stall named sub-functions.
type fakeDevice struct {
	id runtime.DeviceID

	mu    sync.Mutex
	runs  []string
	fail  map[string]error
	delay map[string]time.Duration
}

func newFakeDevice(id runtime.DeviceID) *fakeDevice {
	return &fakeDevice{
		id:    id,
		fail:  make(map[string]error),
		delay: make(map[string]time.Duration),
	}
}

func (d *fakeDevice) ID() runtime.DeviceID        { return d.id }
func (d *fakeDevice) BackendName() string         { return "Fake" }
func (d *fakeDevice) Init(ctx context.Context) error  { return nil }
func (d *fakeDevice) Stop(ctx context.Context) error  { return nil }
func (d *fakeDevice) HasNetwork(name string) bool { return true }
func (d *fakeDevice) MaximumMemory() int64        { return 1 << 30 }
func (d *fakeDevice) AvailableMemory() int64      { return 1 << 30 }
func (d *fakeDevice) AddNetwork(ctx context.Context, name string, a runtime.CompiledArtifact) error {
	return nil
}
func (d *fakeDevice) EvictNetwork(ctx context.Context, name string) error { return nil }

func (d *fakeDevice) RunFunction(name string, ectx *runtime.ExecutionContext) <-chan runtime.DeviceResult {
	out := make(chan runtime.DeviceResult, 1)
	go func() {
		d.mu.Lock()
		delay := d.delay[name]
		err := d.fail[name]
		d.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		d.mu.Lock()
		d.runs = append(d.runs, name)
		d.mu.Unlock()
		out <- runtime.DeviceResult{Err: err, Context: ectx}
	}()
	return out
}

func (d *fakeDevice) runOrder() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.runs...)
}

func buildLinearDAG(deviceID runtime.DeviceID) *runtime.DAG {
	root := &runtime.DAGNode{Name: "net"}
	a := &runtime.DAGNode{Name: "a", Parents: []*runtime.DAGNode{root}, DeviceIDs: []runtime.DeviceID{deviceID}}
	b := &runtime.DAGNode{Name: "b", Parents: []*runtime.DAGNode{a}, DeviceIDs: []runtime.DeviceID{deviceID}}
	c := &runtime.DAGNode{Name: "c", Parents: []*runtime.DAGNode{b}, DeviceIDs: []runtime.DeviceID{deviceID}}
	root.Children = []*runtime.DAGNode{a}
	a.Children = []*runtime.DAGNode{b}
	b.Children = []*runtime.DAGNode{c}
	return &runtime.DAG{Root: root, Nodes: []*runtime.DAGNode{a, b, c}}
}

func runAndWait(t *testing.T, e Executor, dag *runtime.DAG) error {
	t.Helper()
	done := make(chan error, 1)
	ectx := runtime.NewExecutionContext()
	e.Run(dag.Root, ectx, 1, func(id runtime.RunIdentifier, err error, got *runtime.ExecutionContext) {
		assert.Same(t, ectx, got, "execution context identity")
		done <- err
	})
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not complete")
		return nil
	}
}

func TestLinearOrder(t *testing.T) {
	dev := newFakeDevice(0)
	e := NewThreadPool(runtime.DeviceManagerMap{0: dev}, 3, nil)
	defer e.Shutdown()

	dag := buildLinearDAG(0)
	require.NoError(t, runAndWait(t, e, dag))
	assert.Equal(t, []string{"a", "b", "c"}, dev.runOrder())
}

func TestParentsBeforeChildren(t *testing.T) {
	dev := newFakeDevice(0)
	// Diamond with slow left arm: d must still wait for both.
	root := &runtime.DAGNode{Name: "net"}
	a := &runtime.DAGNode{Name: "a", Parents: []*runtime.DAGNode{root}, DeviceIDs: []runtime.DeviceID{0}}
	b := &runtime.DAGNode{Name: "b", Parents: []*runtime.DAGNode{a}, DeviceIDs: []runtime.DeviceID{0}}
	c := &runtime.DAGNode{Name: "c", Parents: []*runtime.DAGNode{a}, DeviceIDs: []runtime.DeviceID{0}}
	d := &runtime.DAGNode{Name: "d", Parents: []*runtime.DAGNode{b, c}, DeviceIDs: []runtime.DeviceID{0}}
	root.Children = []*runtime.DAGNode{a}
	a.Children = []*runtime.DAGNode{b, c}
	b.Children = []*runtime.DAGNode{d}
	c.Children = []*runtime.DAGNode{d}
	dag := &runtime.DAG{Root: root, Nodes: []*runtime.DAGNode{a, b, c, d}}

	dev.delay["b"] = 50 * time.Millisecond
	e := NewThreadPool(runtime.DeviceManagerMap{0: dev}, 3, nil)
	defer e.Shutdown()

	require.NoError(t, runAndWait(t, e, dag))
	order := dev.runOrder()
	require.Len(t, order, 4)
	assert.Equal(t, "a", order[0])
	assert.Equal(t, "d", order[3], "join node must run last")
}

func TestErrorCancelsDispatch(t *testing.T) {
	dev := newFakeDevice(0)
	dev.fail["b"] = runtime.NewError(runtime.KindDeviceError, "hardware fault")

	e := NewThreadPool(runtime.DeviceManagerMap{0: dev}, 2, nil)
	defer e.Shutdown()

	dag := buildLinearDAG(0)
	err := runAndWait(t, e, dag)
	require.Error(t, err)
	assert.True(t, runtime.IsKind(err, runtime.KindDeviceError))
	// c never dispatched after b failed.
	for _, name := range dev.runOrder() {
		assert.NotEqual(t, "c", name)
	}
}

func TestRoundRobinAcrossReplicas(t *testing.T) {
	dev0 := newFakeDevice(0)
	dev1 := newFakeDevice(1)
	e := NewThreadPool(runtime.DeviceManagerMap{0: dev0, 1: dev1}, 2, nil)
	defer e.Shutdown()

	root := &runtime.DAGNode{Name: "net"}
	a := &runtime.DAGNode{Name: "a", Parents: []*runtime.DAGNode{root}, DeviceIDs: []runtime.DeviceID{0, 1}}
	root.Children = []*runtime.DAGNode{a}
	dag := &runtime.DAG{Root: root, Nodes: []*runtime.DAGNode{a}}

	for i := 0; i < 4; i++ {
		require.NoError(t, runAndWait(t, e, dag))
	}
	assert.Len(t, dev0.runOrder(), 2)
	assert.Len(t, dev1.runOrder(), 2)
}

func TestUnknownDeviceFails(t *testing.T) {
	e := NewThreadPool(runtime.DeviceManagerMap{}, 1, nil)
	defer e.Shutdown()
	dag := buildLinearDAG(9)
	err := runAndWait(t, e, dag)
	require.Error(t, err)
	assert.True(t, runtime.IsKind(err, runtime.KindDeviceError))
}
