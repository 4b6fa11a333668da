package graph

import (
	"fmt"
	"strings"
)

// Kind classifies a node. Operator kinds form a closed set; Placeholder and
// Constant are storage kinds owned by the Module rather than a Function.
type Kind int

const (
	KindConv Kind = iota
	KindMatMul
	KindFullyConnected
	KindAdd
	KindMul
	KindSub
	KindDiv
	KindRelu
	KindSigmoid
	KindTanh
	KindSoftmax
	KindMaxPool
	KindAvgPool
	KindConcat
	KindReshape
	KindTranspose
	KindBatchNorm
	KindSave

	// Storage kinds, never assigned to a partition.
	KindPlaceholder
	KindConstant
)

var kindNames = map[Kind]string{
	KindConv:           "Conv",
	KindMatMul:         "MatMul",
	KindFullyConnected: "FullyConnected",
	KindAdd:            "Add",
	KindMul:            "Mul",
	KindSub:            "Sub",
	KindDiv:            "Div",
	KindRelu:           "Relu",
	KindSigmoid:        "Sigmoid",
	KindTanh:           "Tanh",
	KindSoftmax:        "Softmax",
	KindMaxPool:        "MaxPool",
	KindAvgPool:        "AvgPool",
	KindConcat:         "Concat",
	KindReshape:        "Reshape",
	KindTranspose:      "Transpose",
	KindBatchNorm:      "BatchNorm",
	KindSave:           "Save",
	KindPlaceholder:    "Placeholder",
	KindConstant:       "Constant",
}

var kindByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsStorage reports whether the kind is a Module-owned storage node.
func (k Kind) IsStorage() bool {
	return k == KindPlaceholder || k == KindConstant
}

// ParseKind resolves an operator kind by name, e.g. "Add".
func ParseKind(name string) (Kind, error) {
	k, ok := kindByName[name]
	if !ok {
		return 0, fmt.Errorf("unknown node kind %q", name)
	}
	return k, nil
}

// KindSet is a set of node kinds.
type KindSet map[Kind]struct{}

// ParseKindList parses a comma-separated kind list such as "Div,Add".
// An empty string yields an empty set.
func ParseKindList(s string) (KindSet, error) {
	set := make(KindSet)
	if strings.TrimSpace(s) == "" {
		return set, nil
	}
	for _, part := range strings.Split(s, ",") {
		k, err := ParseKind(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		set[k] = struct{}{}
	}
	return set, nil
}

// Has reports membership.
func (s KindSet) Has(k Kind) bool {
	_, ok := s[k]
	return ok
}
