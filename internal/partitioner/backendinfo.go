package partitioner

import (
	"fmt"

	"github.com/vnaveen0/glow/internal/backends"
	"github.com/vnaveen0/glow/internal/graph"
	"github.com/vnaveen0/glow/internal/runtime"
)

// BackendInfo aggregates the devices of one backend: their count, the memory
// and bandwidth profile assumed identical across them, the kind constraints,
// and the Backend collaborator itself.
type BackendInfo struct {
	// Num counts physical devices of this backend.
	Num int
	// MemSize is the per-device memory in bytes.
	MemSize int64

	SRAMCapacity int64
	PeakCompute  float64
	PeakDramBw   float64
	PeakSramBw   float64

	// NonSupportedKinds can never be placed on this backend.
	NonSupportedKinds graph.KindSet
	// SupportedKinds, when non-empty, is the only set this backend accepts.
	SupportedKinds graph.KindSet

	Backend backends.Backend
}

// genBackendMap folds the per-device infos into one BackendInfo per backend
// name and returns the backends in first-appearance order. Pre-created
// backends, when supplied, must match the device list one to one.
func genBackendMap(deviceInfo []runtime.DeviceInfo, preCreated []backends.Backend) (map[string]*BackendInfo, []backends.Backend, error) {
	if len(preCreated) > 0 && len(preCreated) != len(deviceInfo) {
		return nil, nil, fmt.Errorf("partitioner: %d backends for %d devices", len(preCreated), len(deviceInfo))
	}
	backendMap := make(map[string]*BackendInfo)
	var ordered []backends.Backend
	for i, dev := range deviceInfo {
		if len(preCreated) > 0 && preCreated[i].Name() != dev.BackendName {
			return nil, nil, fmt.Errorf("partitioner: backend %q does not match device backend %q",
				preCreated[i].Name(), dev.BackendName)
		}
		if info, ok := backendMap[dev.BackendName]; ok {
			info.Num++
			continue
		}
		nonSupported, err := graph.ParseKindList(dev.NonSupportedNodes)
		if err != nil {
			return nil, nil, fmt.Errorf("partitioner: device %d non-supported kinds: %w", i, err)
		}
		supported, err := graph.ParseKindList(dev.SupportedNodes)
		if err != nil {
			return nil, nil, fmt.Errorf("partitioner: device %d supported kinds: %w", i, err)
		}
		var b backends.Backend
		if len(preCreated) > 0 {
			b = preCreated[i]
		} else {
			b, err = backends.New(dev.BackendName)
			if err != nil {
				return nil, nil, err
			}
		}
		backendMap[dev.BackendName] = &BackendInfo{
			Num:               1,
			MemSize:           dev.AvailableMemory,
			SRAMCapacity:      dev.SRAMCapacity,
			PeakCompute:       dev.PeakCompute,
			PeakDramBw:        dev.PeakDramBw,
			PeakSramBw:        dev.PeakSramBw,
			NonSupportedKinds: nonSupported,
			SupportedKinds:    supported,
			Backend:           b,
		}
		ordered = append(ordered, b)
	}
	return backendMap, ordered, nil
}
