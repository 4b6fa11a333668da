// Package devices provides in-process DeviceManager implementations and the
// factory the host manager uses to realize device configs.
package devices

import (
	"context"
	"fmt"
	"sync"

	"github.com/vnaveen0/glow/internal/graph"
	"github.com/vnaveen0/glow/internal/runtime"
)

// functionCarrier is implemented by artifacts that retain their source
// function, letting the in-process device bind output buffers by identity.
type functionCarrier interface {
	Function() *graph.Function
}

// InterpDeviceManager executes compiled sub-functions in process. Runs are
// simulated: output placeholder buffers are allocated and zero-filled. It is
// safe under concurrent RunFunction calls.
type InterpDeviceManager struct {
	id          runtime.DeviceID
	name        string
	backendName string
	maxMemory   int64

	mu       sync.Mutex
	used     int64
	stopped  bool
	networks map[string]runtime.CompiledArtifact
}

// NewInterpDeviceManager creates a device manager for one config. A zero
// memory config falls back to def.
func NewInterpDeviceManager(cfg runtime.DeviceConfig, def int64) *InterpDeviceManager {
	return &InterpDeviceManager{
		id:          cfg.ID,
		name:        cfg.Name,
		backendName: cfg.BackendName,
		maxMemory:   cfg.DeviceMemoryOr(def),
		networks:    make(map[string]runtime.CompiledArtifact),
	}
}

func (d *InterpDeviceManager) ID() runtime.DeviceID { return d.id }

func (d *InterpDeviceManager) BackendName() string { return d.backendName }

func (d *InterpDeviceManager) Init(ctx context.Context) error { return nil }

func (d *InterpDeviceManager) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.networks = make(map[string]runtime.CompiledArtifact)
	d.used = 0
	return nil
}

func (d *InterpDeviceManager) AddNetwork(ctx context.Context, name string, artifact runtime.CompiledArtifact) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return runtime.NewError(runtime.KindDeviceError, "device %d is stopped", d.id)
	}
	if _, exists := d.networks[name]; exists {
		return runtime.NewError(runtime.KindDeviceError, "device %d already holds %s", d.id, name)
	}
	need := artifactMemory(artifact)
	if d.used+need > d.maxMemory {
		return runtime.NewError(runtime.KindDeviceError,
			"device %d out of memory: %d needed, %d free", d.id, need, d.maxMemory-d.used)
	}
	d.networks[name] = artifact
	d.used += need
	return nil
}

func (d *InterpDeviceManager) EvictNetwork(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	artifact, ok := d.networks[name]
	if !ok {
		return runtime.NewError(runtime.KindDeviceError, "device %d does not hold %s", d.id, name)
	}
	delete(d.networks, name)
	d.used -= artifactMemory(artifact)
	return nil
}

func (d *InterpDeviceManager) HasNetwork(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.networks[name]
	return ok
}

func (d *InterpDeviceManager) RunFunction(name string, ectx *runtime.ExecutionContext) <-chan runtime.DeviceResult {
	out := make(chan runtime.DeviceResult, 1)
	d.mu.Lock()
	artifact, ok := d.networks[name]
	stopped := d.stopped
	d.mu.Unlock()

	go func() {
		switch {
		case stopped:
			out <- runtime.DeviceResult{
				Err:     runtime.NewError(runtime.KindDeviceError, "device %d is stopped", d.id),
				Context: ectx,
			}
		case !ok:
			out <- runtime.DeviceResult{
				Err:     runtime.NewError(runtime.KindDeviceError, "device %d does not hold %s", d.id, name),
				Context: ectx,
			}
		default:
			out <- runtime.DeviceResult{Err: d.execute(artifact, ectx), Context: ectx}
		}
	}()
	return out
}

// execute simulates a run: every output placeholder of the sub-function gets
// a bound, zeroed buffer.
func (d *InterpDeviceManager) execute(artifact runtime.CompiledArtifact, ectx *runtime.ExecutionContext) error {
	carrier, ok := artifact.(functionCarrier)
	if !ok || ectx == nil || ectx.Bindings == nil {
		return nil
	}
	f := carrier.Function()
	for _, save := range f.SaveNodes() {
		target := save.NthInput(1).Node
		if ectx.Bindings.Get(target) == nil {
			if _, err := ectx.Bindings.Allocate(target); err != nil {
				return runtime.WrapError(runtime.KindDeviceError, err,
					"device %d binding output %s", d.id, target.Name())
			}
		}
	}
	return nil
}

func (d *InterpDeviceManager) MaximumMemory() int64 { return d.maxMemory }

func (d *InterpDeviceManager) AvailableMemory() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxMemory - d.used
}

func (d *InterpDeviceManager) String() string {
	label := d.name
	if label == "" {
		label = fmt.Sprintf("device%d", d.id)
	}
	return fmt.Sprintf("%s(%s)", label, d.backendName)
}

// artifactMemory is the resident footprint of a loaded sub-function: its
// constants plus one buffer per symbol.
func artifactMemory(artifact runtime.CompiledArtifact) int64 {
	bundle := artifact.Bundle()
	if bundle == nil {
		return 0
	}
	total := int64(0)
	for _, sym := range bundle.Symbols {
		total += sym.Type.SizeInBytes()
	}
	return total
}
