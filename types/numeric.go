package types

import (
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Predefined value types
var (
	Void = NewValue("void", 0)

	Bool  = NewNumeric("bool", 1, Numeric{Rank: 0, Min: 0, Max: 1, Lowest: 0, IsIntegral: true})
	Int8  = NewNumeric("int8_t", 1, integral(10, math.MinInt8, math.MaxInt8, true, ""))
	Int16 = NewNumeric("int16_t", 2, integral(20, math.MinInt16, math.MaxInt16, true, ""))
	Int32 = NewNumeric("int32_t", 4, integral(30, math.MinInt32, math.MaxInt32, true, ""))

	Uint8  = NewNumeric("uint8_t", 1, integral(10, 0, math.MaxUint8, false, "u"))
	Uint16 = NewNumeric("uint16_t", 2, integral(20, 0, math.MaxUint16, false, "u"))
	Uint32 = NewNumeric("uint32_t", 4, integral(30, 0, math.MaxUint32, false, "u"))

	Float = NewNumeric("float", 4, Numeric{
		Rank: 50, Min: 0x1p-126, Max: math.MaxFloat32, Lowest: -math.MaxFloat32,
		MaxDigits10: 9, IsSigned: true, LiteralSuffix: "f",
	})
	Double = NewNumeric("double", 8, Numeric{
		Rank: 60, Min: 0x1p-1022, Max: math.MaxFloat64, Lowest: -math.MaxFloat64,
		MaxDigits10: 17, IsSigned: true,
	})
)

func integral(rank int, min, max float64, signed bool, suffix string) Numeric {
	return Numeric{Rank: rank, Min: min, Max: max, Lowest: min, IsSigned: signed, IsIntegral: true, LiteralSuffix: suffix}
}

// TypeContext resolves model level aliases such as scalar and timepoint
type TypeContext map[string]ResolvedType

// NewTypeContext builds the standard alias table
func NewTypeContext(precision, timePrecision ResolvedType) TypeContext {
	return TypeContext{
		"scalar":    precision,
		"timepoint": timePrecision,
	}
}

var numericSpecifiers = map[string]ResolvedType{
	"char":               Int8,
	"char signed":        Int8,
	"int8_t":             Int8,
	"char unsigned":      Uint8,
	"uint8_t":            Uint8,
	"short":              Int16,
	"int short":          Int16,
	"short signed":       Int16,
	"int short signed":   Int16,
	"int16_t":            Int16,
	"short unsigned":     Uint16,
	"int short unsigned": Uint16,
	"uint16_t":           Uint16,
	"int":                Int32,
	"signed":             Int32,
	"int signed":         Int32,
	"int32_t":            Int32,
	"unsigned":           Uint32,
	"int unsigned":       Uint32,
	"uint32_t":           Uint32,
	"float":              Float,
	"double":             Double,
	"bool":               Bool,
}

// GetNumericType maps an unordered set of C type specifiers to a numeric type
func GetNumericType(specifiers []string, context TypeContext) (ResolvedType, error) {
	if len(specifiers) == 1 {
		if t, ok := context[specifiers[0]]; ok {
			return t, nil
		}
	}

	sorted := make([]string, len(specifiers))
	copy(sorted, specifiers)
	sort.Strings(sorted)
	key := strings.Join(sorted, " ")
	if t, ok := numericSpecifiers[key]; ok {
		return t, nil
	}
	return ResolvedType{}, errors.Errorf("unknown numeric type specifier '%s'", strings.Join(specifiers, " "))
}

// ParseNumeric resolves a type string such as "unsigned int" or "scalar" to a numeric type
func ParseNumeric(typeString string, context TypeContext) (ResolvedType, error) {
	t, err := ParseType(typeString, context)
	if err != nil {
		return ResolvedType{}, err
	}
	if !t.IsNumeric() {
		return ResolvedType{}, errors.Errorf("type '%s' is not numeric", typeString)
	}
	return t, nil
}

// ParseType resolves a type string that may carry const qualifiers and pointer stars
func ParseType(typeString string, context TypeContext) (ResolvedType, error) {
	tokens := strings.Fields(strings.ReplaceAll(typeString, "*", " * "))
	if len(tokens) == 0 {
		return ResolvedType{}, errors.New("empty type string")
	}

	var specifiers []string
	var valueQualifiers Qualifier
	i := 0
	for ; i < len(tokens) && tokens[i] != "*"; i++ {
		if tokens[i] == "const" {
			valueQualifiers |= QualifierConstant
		} else {
			specifiers = append(specifiers, tokens[i])
		}
	}

	var t ResolvedType
	if len(specifiers) == 1 && specifiers[0] == "void" {
		t = Void
	} else {
		var err error
		if t, err = GetNumericType(specifiers, context); err != nil {
			return ResolvedType{}, err
		}
	}
	t = t.AddQualifier(valueQualifiers)

	// Each star wraps the type so far; a trailing const binds to the pointer
	for ; i < len(tokens); i++ {
		switch tokens[i] {
		case "*":
			t = t.CreatePointer()
		case "const":
			if !t.IsPointer() {
				return ResolvedType{}, errors.Errorf("misplaced const in type '%s'", typeString)
			}
			t = t.AddQualifier(QualifierConstant)
		default:
			return ResolvedType{}, errors.Errorf("unexpected token '%s' in type '%s'", tokens[i], typeString)
		}
	}
	if t.IsVoid() {
		return ResolvedType{}, errors.Errorf("type '%s' is void", typeString)
	}
	return t, nil
}

// PromotedType applies C integer promotion
func PromotedType(t ResolvedType) ResolvedType {
	n := t.Numeric()
	if n != nil && n.IsIntegral && n.Rank < Int32.numeric.Rank {
		return Int32
	}
	return t
}

// CommonType applies the usual arithmetic conversions to a pair of numeric types
func CommonType(a, b ResolvedType) (ResolvedType, error) {
	a = a.RemoveQualifier(QualifierConstant)
	b = b.RemoveQualifier(QualifierConstant)
	if !a.IsNumeric() || !b.IsNumeric() {
		return ResolvedType{}, errors.Errorf("no common type between '%s' and '%s'", a.Name(), b.Name())
	}
	if a.Equal(b) {
		return a, nil
	}
	if a.Equal(Double) || b.Equal(Double) {
		return Double, nil
	}
	if a.Equal(Float) || b.Equal(Float) {
		return Float, nil
	}

	pa, pb := PromotedType(a), PromotedType(b)
	if pa.Equal(pb) {
		return pa, nil
	}
	na, nb := pa.numeric, pb.numeric
	if na.IsSigned == nb.IsSigned {
		if na.Rank > nb.Rank {
			return pa, nil
		}
		return pb, nil
	}

	unsigned, signed := pa, pb
	if na.IsSigned {
		unsigned, signed = pb, pa
	}
	switch {
	case unsigned.numeric.Rank >= signed.numeric.Rank:
		return unsigned, nil
	case signed.numeric.Max >= unsigned.numeric.Max:
		return signed, nil
	}
	return unsignedOf(signed), nil
}

func unsignedOf(t ResolvedType) ResolvedType {
	switch t.numeric.Rank {
	case Int8.numeric.Rank:
		return Uint8
	case Int16.numeric.Rank:
		return Uint16
	default:
		return Uint32
	}
}
