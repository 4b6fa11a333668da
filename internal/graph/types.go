package graph

import (
	"fmt"
	"strings"
)

// ElemKind identifies the element type of a tensor value.
type ElemKind int

const (
	Float32 ElemKind = iota
	Float16
	Int8
	Int32
	Int64
	Bool
)

// Size returns the width of one element in bytes.
func (k ElemKind) Size() int64 {
	switch k {
	case Float32, Int32:
		return 4
	case Float16:
		return 2
	case Int8, Bool:
		return 1
	case Int64:
		return 8
	default:
		return 0
	}
}

func (k ElemKind) String() string {
	switch k {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Int8:
		return "int8"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("ElemKind(%d)", int(k))
	}
}

// Type describes a tensor value: an element kind plus dimensions.
type Type struct {
	Elem ElemKind
	Dims []int
}

// NewType builds a Type from an element kind and dimensions.
func NewType(elem ElemKind, dims ...int) *Type {
	return &Type{Elem: elem, Dims: dims}
}

// NumElements returns the total element count of the shape.
func (t *Type) NumElements() int64 {
	n := int64(1)
	for _, d := range t.Dims {
		n *= int64(d)
	}
	return n
}

// SizeInBytes returns the tensor payload size.
func (t *Type) SizeInBytes() int64 {
	return t.NumElements() * t.Elem.Size()
}

// Equal reports whether two types have the same element kind and dims.
func (t *Type) Equal(o *Type) bool {
	if t.Elem != o.Elem || len(t.Dims) != len(o.Dims) {
		return false
	}
	for i := range t.Dims {
		if t.Dims[i] != o.Dims[i] {
			return false
		}
	}
	return true
}

func (t *Type) String() string {
	parts := make([]string, len(t.Dims))
	for i, d := range t.Dims {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return fmt.Sprintf("%s<%s>", t.Elem, strings.Join(parts, "x"))
}
