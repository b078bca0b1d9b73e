package types

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// WritePreciseString formats v in scientific notation with enough
// significant digits that parsing it back loses nothing
func WritePreciseString(v float64, maxDigits10 int) string {
	return strconv.FormatFloat(v, 'e', maxDigits10, 64)
}

// Literal writes v as a C literal of type t
func (t ResolvedType) Literal(v float64) string {
	n := t.Numeric()
	if n == nil {
		panic("Literal called on non-numeric type " + t.Name())
	}
	switch {
	case t.name == Bool.name:
		if v != 0 {
			return "true"
		}
		return "false"
	case n.IsIntegral && n.IsSigned:
		return strconv.FormatInt(int64(v), 10) + n.LiteralSuffix
	case n.IsIntegral:
		return strconv.FormatUint(uint64(v), 10) + n.LiteralSuffix
	case t.size == 4:
		return WritePreciseString(float64(float32(v)), n.MaxDigits10) + n.LiteralSuffix
	default:
		return WritePreciseString(v, n.MaxDigits10) + n.LiteralSuffix
	}
}

// ParseNumericLiteral reads a literal written by Literal back into a value
func ParseNumericLiteral(literal string) (float64, error) {
	s := strings.TrimSpace(literal)
	switch s {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	if strings.HasSuffix(s, "f") && !strings.HasPrefix(s, "0x") {
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "f"), 32)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid float literal '%s'", literal)
		}
		return v, nil
	}
	s = strings.TrimSuffix(s, "u")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid numeric literal '%s'", literal)
	}
	return v, nil
}

// SerialiseNumeric encodes v as the little-endian bytes of numeric type t
func SerialiseNumeric(v float64, t ResolvedType) ([]byte, error) {
	if !t.IsNumeric() {
		return nil, errors.Errorf("cannot serialise value of non-numeric type '%s'", t.Name())
	}
	b := make([]byte, t.size)
	switch t.RemoveQualifier(QualifierConstant).name {
	case Bool.name:
		if v != 0 {
			b[0] = 1
		}
	case Int8.name:
		b[0] = byte(int8(v))
	case Uint8.name:
		b[0] = uint8(v)
	case Int16.name:
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
	case Uint16.name:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case Int32.name:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	case Uint32.name:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case Float.name:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case Double.name:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	default:
		return nil, errors.Errorf("no serialisation for type '%s'", t.Name())
	}
	return b, nil
}

// DeserialiseNumeric decodes the little-endian bytes of numeric type t
func DeserialiseNumeric(b []byte, t ResolvedType) (float64, error) {
	if !t.IsNumeric() {
		return 0, errors.Errorf("cannot deserialise value of non-numeric type '%s'", t.Name())
	}
	if len(b) < t.size {
		return 0, errors.Errorf("need %d bytes for '%s', got %d", t.size, t.Name(), len(b))
	}
	switch t.RemoveQualifier(QualifierConstant).name {
	case Bool.name, Uint8.name:
		return float64(b[0]), nil
	case Int8.name:
		return float64(int8(b[0])), nil
	case Int16.name:
		return float64(int16(binary.LittleEndian.Uint16(b))), nil
	case Uint16.name:
		return float64(binary.LittleEndian.Uint16(b)), nil
	case Int32.name:
		return float64(int32(binary.LittleEndian.Uint32(b))), nil
	case Uint32.name:
		return float64(binary.LittleEndian.Uint32(b)), nil
	case Float.name:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case Double.name:
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	default:
		return 0, errors.Errorf("no deserialisation for type '%s'", t.Name())
	}
}
