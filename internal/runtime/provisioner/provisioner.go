// Package provisioner compiles partitioned sub-functions for their target
// backends and loads them onto the chosen physical devices.
package provisioner

import (
	"context"
	"log/slog"
	"sort"

	"github.com/vnaveen0/glow/internal/backends"
	"github.com/vnaveen0/glow/internal/compilation"
	"github.com/vnaveen0/glow/internal/graph"
	"github.com/vnaveen0/glow/internal/runtime"
)

// Provisioner compiles each DAG node's sub-function and populates the node
// with its runtime bundle and physical device IDs.
type Provisioner interface {
	// Provision compiles and loads every node of every DAG. On failure all
	// partially loaded sub-functions are evicted before returning.
	Provision(ctx context.Context, dags runtime.DAGList, mod *graph.Module, cctx *compilation.Context) error
	// Evict unloads one sub-function from the given devices.
	Evict(ctx context.Context, name string, deviceIDs []runtime.DeviceID) error
}

// New creates the default provisioner over the host's device managers.
func New(devs runtime.DeviceManagerMap, logger *slog.Logger) Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &deviceProvisioner{
		devices: devs,
		log:     logger.With("component", "provisioner"),
	}
}

type deviceProvisioner struct {
	devices runtime.DeviceManagerMap
	log     *slog.Logger
}

// loaded tracks one successful device load for rollback.
type loaded struct {
	name   string
	device runtime.DeviceID
}

func (p *deviceProvisioner) Provision(ctx context.Context, dags runtime.DAGList,
	mod *graph.Module, cctx *compilation.Context) error {

	assignment, err := p.mapLogicalDevices(dags)
	if err != nil {
		return err
	}

	var done []loaded
	rollback := func() {
		for _, l := range done {
			if dm, ok := p.devices[l.device]; ok {
				if err := dm.EvictNetwork(ctx, l.name); err != nil {
					p.log.Warn("rollback eviction failed", "network", l.name,
						"device", l.device, "error", err)
				}
			}
		}
		for _, dag := range dags {
			for _, node := range dag.Nodes {
				node.DeviceIDs = nil
				node.RuntimeBundle = nil
			}
		}
	}

	for _, dag := range dags {
		for _, node := range dag.Nodes {
			f := mod.Function(node.Name)
			if f == nil {
				rollback()
				return runtime.NewError(runtime.KindProvisioningFailed,
					"sub-function %s missing from module", node.Name)
			}
			backend, err := backends.New(node.BackendName)
			if err != nil {
				rollback()
				return runtime.WrapError(runtime.KindProvisioningFailed, err,
					"backend for %s", node.Name)
			}
			artifact, err := backend.Compile(f, cctx)
			if err != nil {
				rollback()
				return runtime.WrapError(runtime.KindProvisioningFailed, err,
					"compiling %s", node.Name)
			}

			deviceIDs := make([]runtime.DeviceID, 0, len(node.LogicalDevices))
			for _, logical := range node.LogicalDevices {
				physical, ok := assignment[node.BackendName][logical]
				if !ok {
					rollback()
					return runtime.NewError(runtime.KindInsufficientPhysicalDevices,
						"no physical device for logical %d of backend %s", logical, node.BackendName)
				}
				deviceIDs = append(deviceIDs, physical)
			}

			for _, id := range deviceIDs {
				dm := p.devices[id]
				if err := dm.AddNetwork(ctx, node.Name, artifact); err != nil {
					rollback()
					return runtime.WrapError(runtime.KindProvisioningFailed, err,
						"loading %s onto device %d", node.Name, id)
				}
				done = append(done, loaded{name: node.Name, device: id})
			}

			node.DeviceIDs = deviceIDs
			node.RuntimeBundle = artifact.Bundle()
			p.log.Debug("provisioned sub-function",
				"name", node.Name, "backend", node.BackendName, "devices", deviceIDs)
		}
	}
	return nil
}

func (p *deviceProvisioner) Evict(ctx context.Context, name string, deviceIDs []runtime.DeviceID) error {
	var firstErr error
	for _, id := range deviceIDs {
		dm, ok := p.devices[id]
		if !ok {
			continue
		}
		if err := dm.EvictNetwork(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// mapLogicalDevices binds each backend's distinct logical IDs to its physical
// devices in ascending ID order.
func (p *deviceProvisioner) mapLogicalDevices(dags runtime.DAGList) (map[string]map[runtime.DeviceID]runtime.DeviceID, error) {
	physByBackend := make(map[string][]runtime.DeviceID)
	var ids []runtime.DeviceID
	for id := range p.devices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		name := p.devices[id].BackendName()
		physByBackend[name] = append(physByBackend[name], id)
	}

	logicalByBackend := make(map[string][]runtime.DeviceID)
	seen := make(map[string]map[runtime.DeviceID]bool)
	for _, dag := range dags {
		for _, node := range dag.Nodes {
			if seen[node.BackendName] == nil {
				seen[node.BackendName] = make(map[runtime.DeviceID]bool)
			}
			for _, logical := range node.LogicalDevices {
				if !seen[node.BackendName][logical] {
					seen[node.BackendName][logical] = true
					logicalByBackend[node.BackendName] = append(logicalByBackend[node.BackendName], logical)
				}
			}
		}
	}

	assignment := make(map[string]map[runtime.DeviceID]runtime.DeviceID)
	for backendName, logicals := range logicalByBackend {
		phys := physByBackend[backendName]
		if len(logicals) > len(phys) {
			return nil, runtime.NewError(runtime.KindInsufficientPhysicalDevices,
				"backend %s: %d logical devices but %d physical", backendName, len(logicals), len(phys))
		}
		sort.Slice(logicals, func(i, j int) bool { return logicals[i] < logicals[j] })
		assignment[backendName] = make(map[runtime.DeviceID]runtime.DeviceID, len(logicals))
		for i, logical := range logicals {
			assignment[backendName][logical] = phys[i]
		}
	}
	return assignment, nil
}
