package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/vnaveen0/glow/internal/graph"
)

// ModelSpec is a declarative network description the CLI turns into a
// module: placeholders and constants by shape, operator nodes by kind with
// named inputs, and saved outputs.
type ModelSpec struct {
	Name         string        `mapstructure:"name"`
	Placeholders []TensorSpec  `mapstructure:"placeholders"`
	Constants    []TensorSpec  `mapstructure:"constants"`
	Nodes        []NodeSpec    `mapstructure:"nodes"`
	Outputs      []OutputSpec  `mapstructure:"outputs"`
}

// TensorSpec declares a storage tensor.
type TensorSpec struct {
	Name string `mapstructure:"name"`
	Elem string `mapstructure:"elem"`
	Dims []int  `mapstructure:"dims"`
}

// NodeSpec declares one operator node.
type NodeSpec struct {
	Name   string   `mapstructure:"name"`
	Kind   string   `mapstructure:"kind"`
	Inputs []string `mapstructure:"inputs"`
	Elem   string   `mapstructure:"elem"`
	Dims   []int    `mapstructure:"dims"`
}

// OutputSpec saves a node's value into a fresh output placeholder.
type OutputSpec struct {
	Node string `mapstructure:"node"`
	As   string `mapstructure:"as"`
}

// LoadModelSpec reads a model description file.
func LoadModelSpec(path string) (*ModelSpec, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading model spec: %w", err)
	}
	var spec ModelSpec
	if err := v.Unmarshal(&spec); err != nil {
		return nil, fmt.Errorf("unmarshalling model spec: %w", err)
	}
	if spec.Name == "" {
		spec.Name = "main"
	}
	return &spec, nil
}

func parseElem(name string) (graph.ElemKind, error) {
	switch name {
	case "", "float32":
		return graph.Float32, nil
	case "float16":
		return graph.Float16, nil
	case "int8":
		return graph.Int8, nil
	case "int32":
		return graph.Int32, nil
	case "int64":
		return graph.Int64, nil
	case "bool":
		return graph.Bool, nil
	default:
		return 0, fmt.Errorf("unknown element kind %q", name)
	}
}

// BuildModule materializes the spec as a module with one function.
func (s *ModelSpec) BuildModule() (*graph.Module, error) {
	mod := graph.NewModule()
	f, err := mod.NewFunction(s.Name)
	if err != nil {
		return nil, err
	}

	values := make(map[string]graph.NodeValue)
	for _, ph := range s.Placeholders {
		elem, err := parseElem(ph.Elem)
		if err != nil {
			return nil, fmt.Errorf("placeholder %s: %w", ph.Name, err)
		}
		node, err := mod.NewPlaceholder(ph.Name, graph.NewType(elem, ph.Dims...))
		if err != nil {
			return nil, err
		}
		values[ph.Name] = graph.NodeValue{Node: node}
	}
	for _, c := range s.Constants {
		elem, err := parseElem(c.Elem)
		if err != nil {
			return nil, fmt.Errorf("constant %s: %w", c.Name, err)
		}
		node, err := mod.NewConstant(c.Name, graph.NewType(elem, c.Dims...))
		if err != nil {
			return nil, err
		}
		values[c.Name] = graph.NodeValue{Node: node}
	}

	for _, ns := range s.Nodes {
		kind, err := graph.ParseKind(ns.Kind)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", ns.Name, err)
		}
		inputs := make([]graph.NodeValue, 0, len(ns.Inputs))
		var inferred *graph.Type
		for _, in := range ns.Inputs {
			v, ok := values[in]
			if !ok {
				return nil, fmt.Errorf("node %s: unknown input %q", ns.Name, in)
			}
			inputs = append(inputs, v)
			if inferred == nil {
				inferred = v.Type()
			}
		}
		outType := inferred
		if len(ns.Dims) > 0 {
			elem, err := parseElem(ns.Elem)
			if err != nil {
				return nil, fmt.Errorf("node %s: %w", ns.Name, err)
			}
			outType = graph.NewType(elem, ns.Dims...)
		}
		if outType == nil {
			return nil, fmt.Errorf("node %s: no inputs and no explicit shape", ns.Name)
		}
		node, err := f.AddNode(kind, ns.Name, inputs, []*graph.Type{outType})
		if err != nil {
			return nil, err
		}
		values[ns.Name] = graph.NodeValue{Node: node}
	}

	for _, out := range s.Outputs {
		v, ok := values[out.Node]
		if !ok {
			return nil, fmt.Errorf("output: unknown node %q", out.Node)
		}
		target := out.As
		if target == "" {
			target = out.Node + "_out"
		}
		ph, err := mod.NewPlaceholder(target, v.Type())
		if err != nil {
			return nil, err
		}
		if _, err := f.CreateSave("save_"+target, v, ph); err != nil {
			return nil, err
		}
	}

	if err := f.Verify(); err != nil {
		return nil, err
	}
	return mod, nil
}
