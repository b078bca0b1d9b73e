package merging

import (
	"github.com/notargets/SpikeKernel/types"
)

// Named is anything that can be a member of a merged group
type Named interface {
	GroupName() string
}

// FieldType flags describe how a field is populated at run time
type FieldType uint

const FieldStandard FieldType = 0

const (
	// FieldDynamic fields can be re-pushed after the merged structs are built
	FieldDynamic FieldType = 1 << iota
)

// FieldValue is what one member supplies for a field. Array backed fields set
// Owner and Array, scalar fields set Scalar and dynamic parameters also name
// the parameter they follow.
type FieldValue struct {
	Owner        string
	Array        string
	Symbol       string
	Scalar       float64
	DynamicParam string
}

// IsArray reports whether the value points at a runtime array
func (v FieldValue) IsArray() bool { return v.Array != "" }

// FieldInfo is the shape of a field without its value extraction
type FieldInfo struct {
	Type      types.ResolvedType
	Name      string
	FieldType FieldType
}

func (f FieldInfo) IsDynamic() bool { return f.FieldType&FieldDynamic != 0 }

// Field is a slot of a merged group's struct. Value extracts what member i
// contributes.
type Field[G Named] struct {
	FieldInfo
	Value func(g G, i int) FieldValue
}
