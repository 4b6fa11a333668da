package devices

import (
	"github.com/vnaveen0/glow/internal/backends"
	"github.com/vnaveen0/glow/internal/runtime"
)

// Factory turns one device config into a DeviceManager.
type Factory func(cfg runtime.DeviceConfig) (runtime.DeviceManager, error)

// New is the default factory: any registered backend gets an in-process
// device manager sized by the config or the backend's default memory.
func New(cfg runtime.DeviceConfig) (runtime.DeviceManager, error) {
	b, err := backends.New(cfg.BackendName)
	if err != nil {
		return nil, err
	}
	return NewInterpDeviceManager(cfg, b.DefaultDeviceMemory()), nil
}
