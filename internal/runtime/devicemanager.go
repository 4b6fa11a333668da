package runtime

import "context"

// DeviceResult is the completion value of an asynchronous device run.
type DeviceResult struct {
	Err     error
	Context *ExecutionContext
}

// DeviceManager wraps one physical device: it owns loaded artifacts and
// issues runs. Implementations must be safe under concurrent RunFunction
// calls from multiple executor workers.
type DeviceManager interface {
	// ID returns the host-assigned physical device ID.
	ID() DeviceID
	// BackendName returns the backend this device belongs to.
	BackendName() string
	// Init brings the device up. Called once by the host manager.
	Init(ctx context.Context) error
	// Stop quiesces the device and releases its resources.
	Stop(ctx context.Context) error
	// AddNetwork loads a compiled sub-function onto the device.
	AddNetwork(ctx context.Context, name string, artifact CompiledArtifact) error
	// EvictNetwork unloads a previously added sub-function.
	EvictNetwork(ctx context.Context, name string) error
	// RunFunction issues an asynchronous run; the returned channel delivers
	// exactly one result.
	RunFunction(name string, ectx *ExecutionContext) <-chan DeviceResult
	// HasNetwork reports whether the named sub-function is resident.
	HasNetwork(name string) bool
	// MaximumMemory returns the device's total memory in bytes.
	MaximumMemory() int64
	// AvailableMemory returns the memory not claimed by resident networks.
	AvailableMemory() int64
}

// DeviceManagerMap keys device managers by physical ID.
type DeviceManagerMap map[DeviceID]DeviceManager
