package types

import (
	"strings"
)

// Qualifier flags modify a resolved type without changing its shape
type Qualifier uint

const (
	QualifierConstant Qualifier = 1 << iota
)

// Kind tags which variant a ResolvedType holds
type Kind int

const (
	KindValue Kind = iota
	KindPointer
	KindFunction
)

// Numeric holds the arithmetic properties of a numeric value type.
// LiteralSuffix is presentation only and takes no part in comparisons.
type Numeric struct {
	Rank          int
	Min           float64
	Max           float64
	Lowest        float64
	MaxDigits10   int
	IsSigned      bool
	IsIntegral    bool
	LiteralSuffix string
}

// ResolvedType is a tagged union of value, pointer and function types plus a
// qualifier set. Nested types are immutable once built so they are shared
// between copies rather than cloned.
type ResolvedType struct {
	kind       Kind
	qualifiers Qualifier

	// Value
	name    string
	size    int
	numeric *Numeric

	// Pointer
	value *ResolvedType

	// Function
	ret  *ResolvedType
	args []ResolvedType
}

// NewValue creates a non-numeric value type such as void or an RNG state
func NewValue(name string, size int, qualifiers ...Qualifier) ResolvedType {
	return ResolvedType{kind: KindValue, name: name, size: size, qualifiers: combine(qualifiers)}
}

// NewNumeric creates a numeric value type
func NewNumeric(name string, size int, numeric Numeric, qualifiers ...Qualifier) ResolvedType {
	n := numeric
	return ResolvedType{kind: KindValue, name: name, size: size, numeric: &n, qualifiers: combine(qualifiers)}
}

// NewPointer creates a pointer to valueType
func NewPointer(valueType ResolvedType, qualifiers ...Qualifier) ResolvedType {
	v := valueType
	return ResolvedType{kind: KindPointer, value: &v, qualifiers: combine(qualifiers)}
}

// NewFunction creates a function type. Functions carry no qualifiers.
func NewFunction(returnType ResolvedType, argTypes ...ResolvedType) ResolvedType {
	r := returnType
	args := make([]ResolvedType, len(argTypes))
	copy(args, argTypes)
	return ResolvedType{kind: KindFunction, ret: &r, args: args}
}

func combine(qualifiers []Qualifier) (q Qualifier) {
	for _, v := range qualifiers {
		q |= v
	}
	return
}

func (t ResolvedType) Kind() Kind            { return t.kind }
func (t ResolvedType) IsValue() bool         { return t.kind == KindValue }
func (t ResolvedType) IsPointer() bool       { return t.kind == KindPointer }
func (t ResolvedType) IsFunction() bool      { return t.kind == KindFunction }
func (t ResolvedType) IsNumeric() bool       { return t.kind == KindValue && t.numeric != nil }
func (t ResolvedType) IsVoid() bool          { return t.kind == KindValue && t.numeric == nil && t.size == 0 }
func (t ResolvedType) Qualifiers() Qualifier { return t.qualifiers }
func (t ResolvedType) HasQualifier(q Qualifier) bool {
	return t.qualifiers&q != 0
}

// Numeric returns the numeric properties or nil for non-numeric types
func (t ResolvedType) Numeric() *Numeric {
	if !t.IsNumeric() {
		return nil
	}
	n := *t.numeric
	return &n
}

// PointerValue returns the type pointed to. It panics if t is not a pointer.
func (t ResolvedType) PointerValue() ResolvedType {
	if t.kind != KindPointer {
		panic("PointerValue called on non-pointer type " + t.Name())
	}
	return *t.value
}

// FunctionReturn returns the return type of a function type
func (t ResolvedType) FunctionReturn() ResolvedType {
	if t.kind != KindFunction {
		panic("FunctionReturn called on non-function type " + t.Name())
	}
	return *t.ret
}

// FunctionArgs returns a copy of the argument types of a function type
func (t ResolvedType) FunctionArgs() []ResolvedType {
	if t.kind != KindFunction {
		panic("FunctionArgs called on non-function type " + t.Name())
	}
	args := make([]ResolvedType, len(t.args))
	copy(args, t.args)
	return args
}

// AddQualifier returns a copy of t with q set
func (t ResolvedType) AddQualifier(q Qualifier) ResolvedType {
	t.qualifiers |= q
	return t
}

// RemoveQualifier returns a copy of t with q cleared
func (t ResolvedType) RemoveQualifier(q Qualifier) ResolvedType {
	t.qualifiers &^= q
	return t
}

// CreatePointer returns a pointer to t
func (t ResolvedType) CreatePointer(qualifiers ...Qualifier) ResolvedType {
	return NewPointer(t, qualifiers...)
}

// Size returns the size in bytes, pointers taking pointerBytes
func (t ResolvedType) Size(pointerBytes int) int {
	switch t.kind {
	case KindPointer:
		return pointerBytes
	case KindFunction:
		return 0
	default:
		return t.size
	}
}

// ValueName returns the bare name of a value type
func (t ResolvedType) ValueName() string {
	return t.name
}

// Name returns the C declaration text for the type
func (t ResolvedType) Name() string {
	switch t.kind {
	case KindPointer:
		s := t.value.Name() + "*"
		if t.HasQualifier(QualifierConstant) {
			s += " const"
		}
		return s
	case KindFunction:
		argNames := make([]string, len(t.args))
		for i, a := range t.args {
			argNames[i] = a.Name()
		}
		return t.ret.Name() + "(" + strings.Join(argNames, ", ") + ")"
	default:
		if t.HasQualifier(QualifierConstant) {
			return "const " + t.name
		}
		return t.name
	}
}

func (t ResolvedType) String() string {
	return t.Name()
}

// Equal reports structural equality
func (t ResolvedType) Equal(o ResolvedType) bool {
	return t.Compare(o) == 0
}

// Less reports whether t orders before o
func (t ResolvedType) Less(o ResolvedType) bool {
	return t.Compare(o) < 0
}

// Compare orders types lexicographically over qualifiers, variant then contents
func (t ResolvedType) Compare(o ResolvedType) int {
	if c := cmpInt(int(t.qualifiers), int(o.qualifiers)); c != 0 {
		return c
	}
	if c := cmpInt(int(t.kind), int(o.kind)); c != 0 {
		return c
	}
	switch t.kind {
	case KindPointer:
		return t.value.Compare(*o.value)
	case KindFunction:
		if c := t.ret.Compare(*o.ret); c != 0 {
			return c
		}
		if c := cmpInt(len(t.args), len(o.args)); c != 0 {
			return c
		}
		for i := range t.args {
			if c := t.args[i].Compare(o.args[i]); c != 0 {
				return c
			}
		}
		return 0
	default:
		if c := cmpInt(t.size, o.size); c != 0 {
			return c
		}
		if c := strings.Compare(t.name, o.name); c != 0 {
			return c
		}
		switch {
		case t.numeric == nil && o.numeric == nil:
			return 0
		case t.numeric == nil:
			return -1
		case o.numeric == nil:
			return 1
		}
		return t.numeric.compare(o.numeric)
	}
}

func (n *Numeric) compare(o *Numeric) int {
	if c := cmpInt(n.Rank, o.Rank); c != 0 {
		return c
	}
	if c := cmpFloat(n.Min, o.Min); c != 0 {
		return c
	}
	if c := cmpFloat(n.Max, o.Max); c != 0 {
		return c
	}
	if c := cmpFloat(n.Lowest, o.Lowest); c != 0 {
		return c
	}
	if c := cmpInt(n.MaxDigits10, o.MaxDigits10); c != 0 {
		return c
	}
	if c := cmpBool(n.IsSigned, o.IsSigned); c != 0 {
		return c
	}
	return cmpBool(n.IsIntegral, o.IsIntegral)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}
