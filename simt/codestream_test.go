package simt

import (
	"errors"
	"testing"

	"github.com/notargets/SpikeKernel/merging"
	"github.com/notargets/SpikeKernel/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeStream_Indentation(t *testing.T) {
	c := NewCodeStream()
	c.Line("if (x) {")
	c.Line("y = 1;\nif (z) {\nw = 2;\n}")
	c.Line("}")
	c.Scope(func() { c.Printf("v = %d;", 3) })
	assert.Equal(t, "if (x) {\n    y = 1;\n    if (z) {\n        w = 2;\n    }\n}\n{\n    v = 3;\n}\n", c.String())
}

func TestCodeStream_Append(t *testing.T) {
	inner := NewCodeStream()
	inner.Line("a = 1;")
	inner.Fail(errors.New("inner"))

	c := NewCodeStream()
	c.Line("{")
	c.Append(inner)
	c.Line("}")
	assert.Equal(t, "{\n    a = 1;\n}\n", c.String())
	require.Error(t, c.Err())
	assert.Equal(t, "inner", c.Err().Error())

	c.Fail(errors.New("later"))
	assert.Equal(t, "inner", c.Err().Error(), "first error wins")
}

func TestCodeStream_Code(t *testing.T) {
	scope := merging.NewScope(nil)
	scope.Add(types.Float, "V", "lV")
	c := NewCodeStream()
	c.Code(scope, "$(V) += 1.0f;")
	assert.Equal(t, "lV += 1.0f;\n", c.String())
	assert.Equal(t, "lV * 2", c.Expand(scope, "$(V) * 2"))
	assert.NoError(t, c.Err())

	c.Code(scope, "$(U) = 0;")
	assert.Error(t, c.Err())
	assert.Empty(t, c.Expand(scope, "$(W)"))
}

func TestStructLayout(t *testing.T) {
	d := merging.Descriptor{
		StructName: "MergedNeuronUpdateGroup0",
		Fields: []merging.FieldInfo{
			{Type: types.Uint32, Name: "numNeurons"},
			{Type: types.Float.CreatePointer(), Name: "V"},
			{Type: types.Uint8, Name: "flag"},
			{Type: types.Double, Name: "a", FieldType: merging.FieldDynamic},
		},
		Members: []string{"Exc", "Inh"},
		Values: [][]merging.FieldValue{
			{{Scalar: 10}, {Owner: "Exc", Array: "V"}, {Scalar: 1}, {Owner: "Exc", Scalar: 0.02, DynamicParam: "a"}},
			{{Scalar: 5}, {Owner: "Inh", Array: "V"}, {Scalar: 0}, {Owner: "Inh", Scalar: 0.1, DynamicParam: "a"}},
		},
	}
	sorted := SortDescriptor(d, PointerBytes)
	var names []string
	for _, f := range sorted.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"V", "a", "numNeurons", "flag"}, names, "descending size, stable among equals")
	assert.Equal(t, "Inh", sorted.Values[1][0].Owner)
	assert.Equal(t, 0.1, sorted.Values[1][1].Scalar)
	assert.Equal(t, "numNeurons", d.Fields[0].Name, "input is left alone")

	offsets, size := StructLayout(sorted, PointerBytes)
	assert.Equal(t, []int{0, 8, 16, 20}, offsets)
	assert.Equal(t, 24, size)

	_, size = StructLayout(merging.Descriptor{}, PointerBytes)
	assert.Equal(t, 4, size)

	c := NewCodeStream()
	genMergedStruct(c, OpenCL{}, sorted)
	assert.Contains(t, c.String(), "__global float* V;")
	assert.Contains(t, c.String(), "uint8_t flag;")
}
