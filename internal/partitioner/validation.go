package partitioner

import (
	"github.com/vnaveen0/glow/internal/runtime"
)

// memoryUsageValidation enforces that every partition fits its backend's
// per-device memory.
func memoryUsageValidation(mapping *NodeToFunctionMap, backendMap map[string]*BackendInfo) error {
	for _, p := range mapping.Partitions() {
		info, ok := backendMap[mapping.BackendName(p)]
		if !ok {
			return runtime.NewError(runtime.KindPartitionMemoryExceeded,
				"partition %s targets unknown backend %q", p.Name(), mapping.BackendName(p))
		}
		if total := mapping.GraphMemInfo(p).Total(); total > info.MemSize {
			return runtime.NewError(runtime.KindPartitionMemoryExceeded,
				"partition %s needs %d bytes, backend %s devices hold %d",
				p.Name(), total, mapping.BackendName(p), info.MemSize)
		}
	}
	return nil
}

// logicalDevicesValidation enforces that each backend has enough physical
// devices for the logical devices the assignment produced.
func logicalDevicesValidation(mapping *NodeToFunctionMap, backendMap map[string]*BackendInfo) error {
	perBackend := make(map[string]map[runtime.DeviceID]struct{})
	for _, p := range mapping.Partitions() {
		name := mapping.BackendName(p)
		if perBackend[name] == nil {
			perBackend[name] = make(map[runtime.DeviceID]struct{})
		}
		for _, id := range mapping.LogicalDevices(p) {
			perBackend[name][id] = struct{}{}
		}
	}
	for name, ids := range perBackend {
		info, ok := backendMap[name]
		if !ok || len(ids) > info.Num {
			return runtime.NewError(runtime.KindInsufficientPhysicalDevices,
				"backend %s: %d logical devices but %d physical", name, len(ids), deviceCount(backendMap, name))
		}
	}
	return nil
}

func deviceCount(backendMap map[string]*BackendInfo, name string) int {
	if info, ok := backendMap[name]; ok {
		return info.Num
	}
	return 0
}

// dagValidation checks structural DAG invariants after materialization.
func dagValidation(dag *runtime.DAG) error {
	return dag.Validate()
}
