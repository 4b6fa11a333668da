// Package metrics collects a human- and machine-readable report of one
// partitioning run for the CLI.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/vnaveen0/glow/internal/graph"
	"github.com/vnaveen0/glow/internal/runtime"
)

// PartitionReport summarizes one addNetwork outcome.
type PartitionReport struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration_ms,omitempty"`

	Network    string             `json:"network"`
	Devices    []DeviceSummary    `json:"devices"`
	Partitions []PartitionSummary `json:"partitions"`
	DAGEdges   int                `json:"dag_edges"`
	Errors     []string           `json:"errors,omitempty"`
}

// DeviceSummary is one physical device row.
type DeviceSummary struct {
	ID              runtime.DeviceID `json:"id"`
	Backend         string           `json:"backend"`
	MaximumMemory   int64            `json:"maximum_memory"`
	AvailableMemory int64            `json:"available_memory"`
}

// PartitionSummary is one DAG node row.
type PartitionSummary struct {
	Name           string             `json:"name"`
	Backend        string             `json:"backend"`
	Nodes          int                `json:"nodes"`
	LogicalDevices []runtime.DeviceID `json:"logical_devices"`
	DeviceIDs      []runtime.DeviceID `json:"device_ids,omitempty"`
	Parents        []string           `json:"parents,omitempty"`
}

// New starts tracking a partitioning run.
func New(network string) *PartitionReport {
	return &PartitionReport{Network: network, StartedAt: time.Now()}
}

// CollectDevices records the device fleet.
func (r *PartitionReport) CollectDevices(devs runtime.DeviceManagerMap) {
	ids := make([]runtime.DeviceID, 0, len(devs))
	for id := range devs {
		ids = append(ids, id)
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	for _, id := range ids {
		dm := devs[id]
		r.Devices = append(r.Devices, DeviceSummary{
			ID:              id,
			Backend:         dm.BackendName(),
			MaximumMemory:   dm.MaximumMemory(),
			AvailableMemory: dm.AvailableMemory(),
		})
	}
}

// CollectDAG records the partition structure of one admitted network.
func (r *PartitionReport) CollectDAG(dag *runtime.DAG, mod *graph.Module) {
	for _, node := range dag.Nodes {
		nodes := 0
		if mod != nil {
			if f := mod.Function(node.Name); f != nil {
				nodes = f.NumNodes()
			}
		}
		var parents []string
		for _, p := range node.Parents {
			parents = append(parents, p.Name)
		}
		r.Partitions = append(r.Partitions, PartitionSummary{
			Name:           node.Name,
			Backend:        node.BackendName,
			Nodes:          nodes,
			LogicalDevices: node.LogicalDevices,
			DeviceIDs:      node.DeviceIDs,
			Parents:        parents,
		})
		r.DAGEdges += len(node.Children)
	}
	r.DAGEdges += len(dag.Root.Children)
}

// AddError records a failure.
func (r *PartitionReport) AddError(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
}

// Finish stamps the end time.
func (r *PartitionReport) Finish() {
	r.FinishedAt = time.Now()
	r.Duration = r.FinishedAt.Sub(r.StartedAt)
}

// WriteJSON emits the report as indented JSON.
func (r *PartitionReport) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Render writes a human-readable summary.
func (r *PartitionReport) Render(w io.Writer) {
	fmt.Fprintf(w, "Network: %s\n", r.Network)
	fmt.Fprintf(w, "Devices: %d\n", len(r.Devices))
	for _, d := range r.Devices {
		fmt.Fprintf(w, "  #%d %-12s %d/%d bytes free\n", d.ID, d.Backend, d.AvailableMemory, d.MaximumMemory)
	}
	fmt.Fprintf(w, "Partitions: %d (%d DAG edges)\n", len(r.Partitions), r.DAGEdges)
	for _, p := range r.Partitions {
		fmt.Fprintf(w, "  %-24s %-12s nodes=%-4d logical=%v devices=%v\n",
			p.Name, p.Backend, p.Nodes, p.LogicalDevices, p.DeviceIDs)
	}
	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "Errors:\n")
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	if r.Duration > 0 {
		fmt.Fprintf(w, "Completed in %s\n", r.Duration)
	}
}
