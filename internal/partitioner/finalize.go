package partitioner

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vnaveen0/glow/internal/graph"
	"github.com/vnaveen0/glow/internal/runtime"
)

// finalize verifies every produced sub-function and, when requested, emits
// the DAG and per-partition DOT dumps plus the partitioning summary.
func (p *Partitioner) finalize(partitions runtime.DAGList, mapping *NodeToFunctionMap) error {
	for _, subF := range p.module.Functions() {
		if err := subF.Verify(); err != nil {
			return fmt.Errorf("partitioning led to invalid function %s: %w", subF.Name(), err)
		}
	}

	if p.opts.LogPartition {
		p.log.Info("partitioning complete",
			"partitions", len(p.module.Functions()),
			"dag_dump", "DAG.dot")
		if err := p.writeDump("DAG.dot", dagListDOT(partitions)); err != nil {
			return err
		}
		p.logPartitionInfo(mapping)
	}

	if p.opts.DumpPartition && len(partitions) > 0 {
		for _, node := range partitions[0].Nodes {
			subF := p.module.Function(node.Name)
			if subF == nil {
				return fmt.Errorf("invalid function name %s in DAG", node.Name)
			}
			logical := runtime.DeviceID(0)
			if len(node.LogicalDevices) > 0 {
				logical = node.LogicalDevices[0]
			}
			file := fmt.Sprintf("partitionLogicalID%d__%s__%s.dot", logical, subF.Name(), node.BackendName)
			if err := p.writeDump(file, graph.ExportDOT(subF)); err != nil {
				return err
			}
		}
	}
	return nil
}

func dagListDOT(partitions runtime.DAGList) string {
	var out string
	for _, dag := range partitions {
		out += dag.ExportDOT()
	}
	return out
}

func (p *Partitioner) writeDump(name, contents string) error {
	dir := p.opts.DumpDir
	if dir == "" {
		dir = "."
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644)
}

// logPartitionInfo prints the node assignment and memory of every partition.
func (p *Partitioner) logPartitionInfo(mapping *NodeToFunctionMap) {
	for i, part := range mapping.Partitions() {
		info := mapping.GraphMemInfo(part)
		p.log.Info("partition",
			"index", i,
			"name", part.Name(),
			"backend", mapping.BackendName(part),
			"nodes", part.NumNodes(),
			"logical_devices", mapping.LogicalDevices(part),
			"input_bytes", info.InputBytes,
			"output_bytes", info.OutputBytes,
			"constant_bytes", info.ConstantBytes,
			"total_bytes", info.Total())
	}
}
