package merging

import (
	"sort"
	"strconv"

	"github.com/notargets/SpikeKernel/types"
	"github.com/pkg/errors"
)

var (
	ErrDuplicateField    = errors.New("duplicate field")
	ErrFieldTypeMismatch = errors.New("field type mismatch")
)

// MergedGroup is an ordered set of structurally identical groups that share
// one generated kernel body. The first member is the archetype.
type MergedGroup[G Named] struct {
	index    int
	typeName string
	groups   []G
	fields   []Field[G]
}

func NewMergedGroup[G Named](typeName string, index int, groups []G) *MergedGroup[G] {
	if len(groups) == 0 {
		panic("merged group " + typeName + " must have at least one member")
	}
	return &MergedGroup[G]{index: index, typeName: typeName, groups: groups}
}

func (mg *MergedGroup[G]) Index() int        { return mg.index }
func (mg *MergedGroup[G]) TypeName() string  { return mg.typeName }
func (mg *MergedGroup[G]) Groups() []G       { return mg.groups }
func (mg *MergedGroup[G]) Archetype() G      { return mg.groups[0] }
func (mg *MergedGroup[G]) Fields() []Field[G] { return mg.fields }

// StructName is the C struct the generated code declares for this group
func (mg *MergedGroup[G]) StructName() string {
	return "Merged" + mg.typeName + "Group" + strconv.Itoa(mg.index)
}

// ArrayName is the device array of structs, one per member
func (mg *MergedGroup[G]) ArrayName() string {
	return "merged" + mg.typeName + "Group" + strconv.Itoa(mg.index)
}

// StartIDName is the device table of per-member start thread IDs
func (mg *MergedGroup[G]) StartIDName() string {
	return "merged" + mg.typeName + "GroupStartID" + strconv.Itoa(mg.index)
}

// PushFunctionName names the compiled entry point that overwrites field in every member's struct
func (mg *MergedGroup[G]) PushFunctionName(field string) string {
	return PushFunctionName(mg.typeName, mg.index, field)
}

func PushFunctionName(typeName string, index int, field string) string {
	return "pushMerged" + typeName + strconv.Itoa(index) + field + "ToDevice"
}

// AddField registers a field. Re-adding an identical field is a no-op.
func (mg *MergedGroup[G]) AddField(typ types.ResolvedType, name string, fieldType FieldType,
	value func(g G, i int) FieldValue) error {
	for _, f := range mg.fields {
		if f.Name != name {
			continue
		}
		if !f.Type.Equal(typ) {
			return errors.Wrapf(ErrFieldTypeMismatch, "field '%s' of %s already has type '%s', not '%s'",
				name, mg.StructName(), f.Type.Name(), typ.Name())
		}
		if f.FieldType != fieldType {
			return errors.Wrapf(ErrDuplicateField, "field '%s' of %s", name, mg.StructName())
		}
		return nil
	}
	mg.fields = append(mg.fields, Field[G]{
		FieldInfo: FieldInfo{Type: typ, Name: name, FieldType: fieldType},
		Value:     value,
	})
	return nil
}

// Field finds a registered field by name
func (mg *MergedGroup[G]) Field(name string) (Field[G], bool) {
	for _, f := range mg.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field[G]{}, false
}

// SortedFields orders fields by descending size to minimise struct padding
func (mg *MergedGroup[G]) SortedFields(pointerBytes int) []Field[G] {
	sorted := make([]Field[G], len(mg.fields))
	copy(sorted, mg.fields)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Type.Size(pointerBytes) > sorted[j].Type.Size(pointerBytes)
	})
	return sorted
}

// IsHeterogeneous reports whether value differs from the archetype's for any member
func (mg *MergedGroup[G]) IsHeterogeneous(value func(g G) float64) bool {
	first := value(mg.groups[0])
	for _, g := range mg.groups[1:] {
		if value(g) != first {
			return true
		}
	}
	return false
}

// IsParamHeterogeneous is IsHeterogeneous over a named entry of a parameter map
func (mg *MergedGroup[G]) IsParamHeterogeneous(name string, params func(g G) map[string]float64) bool {
	return mg.IsHeterogeneous(func(g G) float64 { return params(g)[name] })
}

// Descriptor is the non-generic view of a merged group that the runtime consumes
type Descriptor struct {
	TypeName   string
	Index      int
	StructName string
	Fields     []FieldInfo
	Members    []string
	// Values[member][field]
	Values [][]FieldValue
}

// Descriptor evaluates every field for every member
func (mg *MergedGroup[G]) Descriptor() Descriptor {
	d := Descriptor{
		TypeName:   mg.typeName,
		Index:      mg.index,
		StructName: mg.StructName(),
		Fields:     make([]FieldInfo, len(mg.fields)),
		Members:    make([]string, len(mg.groups)),
		Values:     make([][]FieldValue, len(mg.groups)),
	}
	for j, f := range mg.fields {
		d.Fields[j] = f.FieldInfo
	}
	for i, g := range mg.groups {
		d.Members[i] = g.GroupName()
		d.Values[i] = make([]FieldValue, len(mg.fields))
		for j, f := range mg.fields {
			d.Values[i][j] = f.Value(g, i)
		}
	}
	return d
}

// PushFunctionName names the push entry point of field j
func (d Descriptor) PushFunctionName(j int) string {
	return PushFunctionName(d.TypeName, d.Index, d.Fields[j].Name)
}
