package partitioner

import (
	"github.com/vnaveen0/glow/internal/graph"
	"github.com/vnaveen0/glow/internal/runtime"
)

// assignLogicalDeviceID colors partitions with logical device IDs: walking
// the partitions in topological order, each one takes the lowest existing ID
// of its backend whose running memory total still admits its footprint, or a
// fresh ID otherwise. Returns the count of distinct IDs used. Two partitions
// sharing an ID must share a physical device at provisioning time.
func assignLogicalDeviceID(mapping *NodeToFunctionMap, backendMap map[string]*BackendInfo) int {
	type slot struct {
		id   runtime.DeviceID
		used int64
	}
	perBackend := make(map[string][]*slot)
	nextID := runtime.DeviceID(0)

	for _, p := range topoOrderPartitions(mapping) {
		backendName := mapping.BackendName(p)
		memSize := int64(0)
		if info, ok := backendMap[backendName]; ok {
			memSize = info.MemSize
		}
		footprint := mapping.GraphMemInfo(p).Total()

		var chosen *slot
		for _, s := range perBackend[backendName] {
			if s.used+footprint <= memSize {
				chosen = s
				break
			}
		}
		if chosen == nil {
			chosen = &slot{id: nextID}
			nextID++
			perBackend[backendName] = append(perBackend[backendName], chosen)
		}
		chosen.used += footprint
		mapping.AppendLogicalDevice(p, chosen.id)
	}
	return int(nextID)
}

// topoOrderPartitions orders partitions so that every producer precedes its
// consumers, falling back to creation order among independents.
func topoOrderPartitions(mapping *NodeToFunctionMap) []*graph.Function {
	parts := mapping.Partitions()
	nodesSet := make(map[*graph.Function]NodeSet, len(parts))
	for _, p := range parts {
		nodesSet[p] = mapping.NodesFor(p)
	}
	// Count direct-edge parents; cross-function values flow through
	// placeholders and impose no order here, matching creation order.
	parents := make(map[*graph.Function]map[*graph.Function]bool)
	for _, p := range parts {
		for n := range nodesSet[p] {
			for _, u := range n.Users() {
				up := mapping.FunctionFor(u)
				if up != nil && up != p {
					if parents[up] == nil {
						parents[up] = make(map[*graph.Function]bool)
					}
					parents[up][p] = true
				}
			}
		}
	}
	var order []*graph.Function
	placed := make(map[*graph.Function]bool)
	for len(order) < len(parts) {
		progressed := false
		for _, p := range parts {
			if placed[p] {
				continue
			}
			ready := true
			for parent := range parents[p] {
				if !placed[parent] {
					ready = false
					break
				}
			}
			if ready {
				order = append(order, p)
				placed[p] = true
				progressed = true
			}
		}
		if !progressed {
			// Defensive: a cycle would already have failed validation.
			for _, p := range parts {
				if !placed[p] {
					order = append(order, p)
					placed[p] = true
				}
			}
		}
	}
	return order
}

// saturateHost replicates every DAG node across otherwise idle devices: with
// D devices of the backend and k logical devices assigned, each node gains
// D/k - 1 extra logical IDs offset by multiples of k, keeping IDs collision
// free.
func saturateHost(totalDevices, logicalDeviceCount int, partitions runtime.DAGList) {
	if logicalDeviceCount == 0 {
		return
	}
	duplications := totalDevices / logicalDeviceCount
	if duplications < 2 {
		return
	}
	for _, dag := range partitions {
		for _, node := range dag.Nodes {
			existing := node.LogicalDevices
			var added []runtime.DeviceID
			for _, logical := range existing {
				for i := 1; i < duplications; i++ {
					added = append(added, logical+runtime.DeviceID(i*logicalDeviceCount))
				}
			}
			node.LogicalDevices = append(node.LogicalDevices, added...)
		}
	}
}
