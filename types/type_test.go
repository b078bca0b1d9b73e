package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvedType_Names(t *testing.T) {
	testCases := []struct {
		name     string
		typ      ResolvedType
		expected string
	}{
		{"float", Float, "float"},
		{"const_float", Float.AddQualifier(QualifierConstant), "const float"},
		{"pointer", Uint32.CreatePointer(), "uint32_t*"},
		{"const_value_pointer", Float.AddQualifier(QualifierConstant).CreatePointer(), "const float*"},
		{"const_pointer", Float.CreatePointer(QualifierConstant), "float* const"},
		{"function", NewFunction(Void, Float.CreatePointer(), Float), "void(float*, float)"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.typ.Name())
		})
	}
}

func TestResolvedType_Sizes(t *testing.T) {
	assert.Equal(t, 1, Bool.Size(8))
	assert.Equal(t, 2, Int16.Size(8))
	assert.Equal(t, 4, Float.Size(8))
	assert.Equal(t, 8, Double.Size(8))
	assert.Equal(t, 8, Double.CreatePointer().Size(8))
	assert.Equal(t, 4, Double.CreatePointer().Size(4))
	assert.Equal(t, 0, NewFunction(Void).Size(8))
}

func TestResolvedType_StructuralEquality(t *testing.T) {
	t.Run("PointerDeepEquality", func(t *testing.T) {
		a := Float.CreatePointer().CreatePointer()
		b := Float.CreatePointer().CreatePointer()
		assert.True(t, a.Equal(b))
		assert.False(t, a.Equal(Double.CreatePointer().CreatePointer()))
	})

	t.Run("QualifiersParticipate", func(t *testing.T) {
		assert.False(t, Float.Equal(Float.AddQualifier(QualifierConstant)))
		assert.True(t, Float.Equal(Float.AddQualifier(QualifierConstant).RemoveQualifier(QualifierConstant)))
	})

	t.Run("SuffixIgnored", func(t *testing.T) {
		n := *Uint32.Numeric()
		n.LiteralSuffix = "U"
		other := NewNumeric("uint32_t", 4, n)
		assert.True(t, Uint32.Equal(other))
	})

	t.Run("CopiesShareNothingMutable", func(t *testing.T) {
		p := Float.CreatePointer()
		q := p.AddQualifier(QualifierConstant)
		assert.False(t, p.HasQualifier(QualifierConstant))
		assert.True(t, q.HasQualifier(QualifierConstant))
		assert.True(t, p.PointerValue().Equal(q.PointerValue()))
	})

	t.Run("Ordering", func(t *testing.T) {
		assert.True(t, Int8.Less(Int32))
		assert.True(t, Float.Less(Double))
		assert.False(t, Double.Less(Float))
		assert.True(t, Float.Less(Float.CreatePointer()))
		assert.Equal(t, 0, Float.Compare(Float))
	})
}

func TestGetNumericType(t *testing.T) {
	ctx := NewTypeContext(Float, Double)
	testCases := []struct {
		specifiers []string
		expected   ResolvedType
	}{
		{[]string{"int"}, Int32},
		{[]string{"unsigned", "int"}, Uint32},
		{[]string{"int", "unsigned"}, Uint32},
		{[]string{"unsigned"}, Uint32},
		{[]string{"short"}, Int16},
		{[]string{"unsigned", "char"}, Uint8},
		{[]string{"char"}, Int8},
		{[]string{"bool"}, Bool},
		{[]string{"double"}, Double},
		{[]string{"scalar"}, Float},
		{[]string{"timepoint"}, Double},
	}
	for _, tc := range testCases {
		got, err := GetNumericType(tc.specifiers, ctx)
		require.NoError(t, err, "%v", tc.specifiers)
		assert.True(t, tc.expected.Equal(got), "%v resolved to %s", tc.specifiers, got.Name())
	}

	_, err := GetNumericType([]string{"long", "banana"}, ctx)
	assert.Error(t, err)
}

func TestParseType(t *testing.T) {
	ctx := NewTypeContext(Double, Double)

	pt, err := ParseType("scalar*", ctx)
	require.NoError(t, err)
	assert.True(t, pt.IsPointer())
	assert.True(t, pt.PointerValue().Equal(Double))

	ct, err := ParseType("const unsigned int *", ctx)
	require.NoError(t, err)
	assert.Equal(t, "const uint32_t*", ct.Name())

	_, err = ParseNumeric("float*", ctx)
	assert.Error(t, err)

	_, err = ParseType("void", ctx)
	assert.Error(t, err)

	vp, err := ParseType("void*", ctx)
	require.NoError(t, err)
	assert.True(t, vp.PointerValue().IsVoid())
}

func TestPromotionAndCommonType(t *testing.T) {
	assert.True(t, PromotedType(Int8).Equal(Int32))
	assert.True(t, PromotedType(Uint16).Equal(Int32))
	assert.True(t, PromotedType(Bool).Equal(Int32))
	assert.True(t, PromotedType(Uint32).Equal(Uint32))
	assert.True(t, PromotedType(Float).Equal(Float))

	testCases := []struct {
		a, b     ResolvedType
		expected ResolvedType
	}{
		{Int32, Float, Float},
		{Float, Double, Double},
		{Int8, Int16, Int32},
		{Int32, Uint32, Uint32},
		{Uint8, Int32, Int32},
		{Uint16, Uint32, Uint32},
		{Float.AddQualifier(QualifierConstant), Float, Float},
	}
	for _, tc := range testCases {
		got, err := CommonType(tc.a, tc.b)
		require.NoError(t, err)
		assert.True(t, tc.expected.Equal(got), "common(%s, %s) = %s", tc.a.Name(), tc.b.Name(), got.Name())
	}

	_, err := CommonType(Float.CreatePointer(), Float)
	assert.Error(t, err)
}

func TestLiterals(t *testing.T) {
	assert.Equal(t, "1.000000000e+00f", Float.Literal(1))
	assert.Equal(t, "2.50000000000000000e-01", Double.Literal(0.25))
	assert.Equal(t, "7u", Uint32.Literal(7))
	assert.Equal(t, "-3", Int32.Literal(-3))
	assert.Equal(t, "true", Bool.Literal(1))
}

func TestWritePreciseString_RoundTrip(t *testing.T) {
	values := []float64{0.1, 1.0 / 3.0, math.Pi, -2.5e-12, 6.02214076e23, math.SmallestNonzeroFloat32, 123456.789}

	for _, v := range values {
		// Double
		s := Double.Literal(v)
		parsed, err := ParseNumericLiteral(s)
		require.NoError(t, err)
		assert.Equal(t, v, parsed, "double %s", s)
		assert.Equal(t, s, Double.Literal(parsed))

		// Float
		f := float64(float32(v))
		sf := Float.Literal(f)
		parsedF, err := ParseNumericLiteral(sf)
		require.NoError(t, err)
		assert.Equal(t, f, parsedF, "float %s", sf)
		assert.Equal(t, sf, Float.Literal(parsedF))
	}
}

func TestSerialiseNumeric(t *testing.T) {
	testCases := []struct {
		typ      ResolvedType
		value    float64
		expected []byte
	}{
		{Uint8, 200, []byte{200}},
		{Int16, -2, []byte{0xFE, 0xFF}},
		{Uint32, 1, []byte{1, 0, 0, 0}},
		{Float, 1, []byte{0, 0, 0x80, 0x3F}},
		{Double, 2, []byte{0, 0, 0, 0, 0, 0, 0, 0x40}},
	}
	for _, tc := range testCases {
		b, err := SerialiseNumeric(tc.value, tc.typ)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, b, tc.typ.Name())
		assert.Len(t, b, tc.typ.Size(8))
	}

	_, err := SerialiseNumeric(1, Float.CreatePointer())
	assert.Error(t, err)
}
