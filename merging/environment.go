package merging

import (
	"strconv"
	"strings"

	"github.com/notargets/SpikeKernel/model"
	"github.com/notargets/SpikeKernel/types"
	"github.com/pkg/errors"
)

var (
	ErrRedeclaration       = errors.New("redeclaration")
	ErrUndefinedIdentifier = errors.New("undefined identifier")
)

// Environment resolves identifiers used in simulation code. Lookups that miss
// are forwarded to the enclosing environment.
type Environment interface {
	GetTypes(name string) ([]types.ResolvedType, error)
	GetName(name string) (string, error)
}

type erred interface {
	Err() error
}

func undefined(name string) error {
	return errors.Wrapf(ErrUndefinedIdentifier, "'%s'", name)
}

func redeclared(name string) error {
	return errors.Wrapf(ErrRedeclaration, "redeclaration of '%s'", name)
}

type binding struct {
	typ   types.ResolvedType
	value string
}

type scopeBinding struct {
	binding
	initialiser string
	used        bool
}

// Scope is a plain block of bindings, used for kernel locals such as id and batch
type Scope struct {
	enclosing Environment
	bindings  map[string]*scopeBinding
	order     []string
	err       error
}

func NewScope(enclosing Environment) *Scope {
	return &Scope{enclosing: enclosing, bindings: make(map[string]*scopeBinding)}
}

// Add binds name to value. A second binding of the same name is recorded as
// an error and reported by Err.
func (s *Scope) Add(typ types.ResolvedType, name, value string) {
	s.AddInitialised(typ, name, value, "")
}

// AddInitialised binds name to value and attaches a statement that declares
// it. The statement is only emitted by Initialisers if the name was looked up.
func (s *Scope) AddInitialised(typ types.ResolvedType, name, value, initialiser string) {
	if _, ok := s.bindings[name]; ok {
		if s.err == nil {
			s.err = redeclared(name)
		}
		return
	}
	s.bindings[name] = &scopeBinding{binding: binding{typ: typ, value: value}, initialiser: initialiser}
	s.order = append(s.order, name)
}

// Initialisers expands the statements of every initialised binding that has
// been used, in declaration order. Expanding a statement can use further
// bindings so expansion repeats until nothing new is referenced.
func (s *Scope) Initialisers() ([]string, error) {
	expanded := make(map[string]string)
	for {
		progress := false
		for _, name := range s.order {
			b := s.bindings[name]
			if b.initialiser == "" || !b.used {
				continue
			}
			if _, done := expanded[name]; done {
				continue
			}
			code, err := Substitute(s, b.initialiser)
			if err != nil {
				return nil, errors.Wrapf(err, "initialiser of '%s'", name)
			}
			expanded[name] = code
			progress = true
		}
		if !progress {
			break
		}
	}
	var out []string
	for _, name := range s.order {
		if code, ok := expanded[name]; ok {
			out = append(out, code)
		}
	}
	return out, nil
}

// Used reports whether name is bound in this scope and has been looked up
func (s *Scope) Used(name string) bool {
	b, ok := s.bindings[name]
	return ok && b.used
}

func (s *Scope) GetTypes(name string) ([]types.ResolvedType, error) {
	if b, ok := s.bindings[name]; ok {
		b.used = true
		return []types.ResolvedType{b.typ}, nil
	}
	if s.enclosing == nil {
		return nil, undefined(name)
	}
	return s.enclosing.GetTypes(name)
}

func (s *Scope) GetName(name string) (string, error) {
	if b, ok := s.bindings[name]; ok {
		b.used = true
		return b.value, nil
	}
	if s.enclosing == nil {
		return "", undefined(name)
	}
	return s.enclosing.GetName(name)
}

// Err returns the first redeclaration in this scope or any enclosing one
func (s *Scope) Err() error {
	if s.err != nil {
		return s.err
	}
	if e, ok := s.enclosing.(erred); ok {
		return e.Err()
	}
	return nil
}

type fieldBinding[G Named] struct {
	binding
	field *Field[G]
	added bool
}

// FieldEnvironment binds names to members of a merged group's struct. A field
// is only added to the group the first time its name is looked up so the
// struct holds exactly what the generated code touches.
type FieldEnvironment[G Named] struct {
	enclosing Environment
	group     *MergedGroup[G]
	bindings  map[string]*fieldBinding[G]
	suffix    string
	owner     func(g G) string
	err       error
}

func NewFieldEnvironment[G Named](enclosing Environment, group *MergedGroup[G]) *FieldEnvironment[G] {
	return &FieldEnvironment[G]{enclosing: enclosing, group: group, bindings: make(map[string]*fieldBinding[G])}
}

func (e *FieldEnvironment[G]) Group() *MergedGroup[G] { return e.group }

// WithFieldSuffix appends suffix to the struct field name of everything bound
// afterwards, so several sources of same-named parameters can share a struct
func (e *FieldEnvironment[G]) WithFieldSuffix(suffix string) *FieldEnvironment[G] {
	e.suffix = suffix
	return e
}

// WithOwner makes owner, rather than the member itself, the group that
// scalar and dynamic fields bound afterwards belong to
func (e *FieldEnvironment[G]) WithOwner(owner func(g G) string) *FieldEnvironment[G] {
	e.owner = owner
	return e
}

func (e *FieldEnvironment[G]) ownerOf(g G) string {
	if e.owner != nil {
		return e.owner(g)
	}
	return g.GroupName()
}

func (e *FieldEnvironment[G]) bind(name string, b *fieldBinding[G]) {
	if _, ok := e.bindings[name]; ok {
		if e.err == nil {
			e.err = redeclared(name)
		}
		return
	}
	e.bindings[name] = b
}

func (e *FieldEnvironment[G]) Err() error {
	if e.err != nil {
		return e.err
	}
	if en, ok := e.enclosing.(erred); ok {
		return en.Err()
	}
	return nil
}

// Add binds name to a fixed expression
func (e *FieldEnvironment[G]) Add(typ types.ResolvedType, name, value string) {
	e.bind(name, &fieldBinding[G]{binding: binding{typ: typ, value: value}})
}

// AddField binds name to group->fieldName followed by indexSuffix. The field
// itself is registered on first lookup.
func (e *FieldEnvironment[G]) AddField(typ types.ResolvedType, name string, fieldTyp types.ResolvedType, fieldName string,
	value func(g G, i int) FieldValue, indexSuffix string, fieldType FieldType) {
	fieldName += e.suffix
	e.bind(name, &fieldBinding[G]{
		binding: binding{typ: typ, value: "group->" + fieldName + indexSuffix},
		field: &Field[G]{
			FieldInfo: FieldInfo{Type: fieldTyp, Name: fieldName, FieldType: fieldType},
			Value:     value,
		},
	})
}

func (e *FieldEnvironment[G]) lookup(name string) (*fieldBinding[G], error) {
	b, ok := e.bindings[name]
	if !ok {
		return nil, nil
	}
	if b.field != nil && !b.added {
		if err := e.group.AddField(b.field.Type, b.field.Name, b.field.FieldType, b.field.Value); err != nil {
			return nil, err
		}
		b.added = true
	}
	return b, nil
}

func (e *FieldEnvironment[G]) GetTypes(name string) ([]types.ResolvedType, error) {
	b, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	if b != nil {
		return []types.ResolvedType{b.typ}, nil
	}
	if e.enclosing == nil {
		return nil, undefined(name)
	}
	return e.enclosing.GetTypes(name)
}

func (e *FieldEnvironment[G]) GetName(name string) (string, error) {
	b, err := e.lookup(name)
	if err != nil {
		return "", err
	}
	if b != nil {
		return b.value, nil
	}
	if e.enclosing == nil {
		return "", undefined(name)
	}
	return e.enclosing.GetName(name)
}

// DefineArrayField binds name to an element of a per-member array. locate
// gives the owning group and array of each member; the device symbol is
// prefix + array + owner. Read-only access yields a const element type.
func (e *FieldEnvironment[G]) DefineArrayField(typ types.ResolvedType, name, prefix, indexSuffix string,
	access model.VarAccessMode, locate func(g G) (owner, array string)) {
	elem := typ
	if access.IsReadOnly() {
		elem = typ.AddQualifier(types.QualifierConstant)
	}
	e.AddField(elem, name, typ.CreatePointer(), name,
		func(g G, _ int) FieldValue {
			owner, array := locate(g)
			return FieldValue{Owner: owner, Array: array, Symbol: prefix + array + owner}
		},
		indexSuffix, FieldStandard)
}

// DefinePointerField binds name to an element of the member's own array of the same name
func (e *FieldEnvironment[G]) DefinePointerField(typ types.ResolvedType, name, prefix, indexSuffix string,
	access model.VarAccessMode) {
	e.DefineArrayField(typ, name, prefix, indexSuffix, access, func(g G) (string, string) {
		return g.GroupName(), name
	})
}

// DefineScalarField binds a numeric value. Homogeneous values become
// literals, heterogeneous ones a per-member field named name+fieldSuffix.
func (e *FieldEnvironment[G]) DefineScalarField(typ types.ResolvedType, name, fieldSuffix string, heterogeneous bool,
	value func(g G) float64) {
	constTyp := typ.AddQualifier(types.QualifierConstant)
	if !heterogeneous {
		e.Add(constTyp, name, typ.Literal(value(e.group.Archetype())))
		return
	}
	e.AddField(constTyp, name, typ, name+fieldSuffix,
		func(g G, _ int) FieldValue { return FieldValue{Owner: e.ownerOf(g), Scalar: value(g)} },
		"", FieldStandard)
}

// DefineDynamicScalarField binds a parameter that can change after compilation
func (e *FieldEnvironment[G]) DefineDynamicScalarField(typ types.ResolvedType, name, fieldSuffix, param string,
	value func(g G) float64) {
	e.AddField(typ.AddQualifier(types.QualifierConstant), name, typ, name+fieldSuffix,
		func(g G, _ int) FieldValue {
			return FieldValue{Owner: e.ownerOf(g), Scalar: value(g), DynamicParam: param}
		},
		"", FieldDynamic)
}

// DefineHeterogeneousParams binds every named parameter as a literal, a
// heterogeneous field or, when the archetype marks it dynamic, a dynamic field
func (e *FieldEnvironment[G]) DefineHeterogeneousParams(names []string, fieldSuffix string, typ types.ResolvedType,
	params func(g G) map[string]float64, dynamic func(g G) map[string]bool) {
	for _, n := range names {
		name := n
		value := func(g G) float64 { return params(g)[name] }
		if dynamic != nil && dynamic(e.group.Archetype())[name] {
			e.DefineDynamicScalarField(typ, name, fieldSuffix, name, value)
			continue
		}
		e.DefineScalarField(typ, name, fieldSuffix, e.group.IsHeterogeneous(value), value)
	}
}

// DefineHeterogeneousDerivedParams evaluates each derived parameter per member
func (e *FieldEnvironment[G]) DefineHeterogeneousDerivedParams(derived []model.DerivedParam, fieldSuffix string,
	typ types.ResolvedType, params func(g G) map[string]float64, dt float64) {
	for _, d := range derived {
		dp := d
		value := func(g G) float64 { return dp.Func(params(g), dt) }
		e.DefineScalarField(typ, dp.Name, fieldSuffix, e.group.IsHeterogeneous(value), value)
	}
}

// DefineVars binds each variable as name+nameSuffix. owner picks the group
// that holds the arrays, nil meaning the member itself.
func (e *FieldEnvironment[G]) DefineVars(vars []model.Var, ctx types.TypeContext, prefix, nameSuffix string,
	owner func(g G) string, index func(v model.Var) string) {
	for _, v := range vars {
		typ, err := v.ResolveType(ctx)
		if err != nil {
			e.fail(err)
			continue
		}
		array := v.Name
		e.DefineArrayField(typ, v.Name+nameSuffix, prefix, "["+index(v)+"]", v.Access,
			func(g G) (string, string) {
				if owner == nil {
					return g.GroupName(), array
				}
				return owner(g), array
			})
	}
}

// DefineVarReferences binds each reference to the variable it targets in each member
func (e *FieldEnvironment[G]) DefineVarReferences(refs []model.VarRefDef, ctx types.TypeContext, prefix string,
	references func(g G) map[string]model.VarReference, index func(r model.VarRefDef) string) {
	for _, r := range refs {
		typ, err := types.ParseNumeric(r.Type, ctx)
		if err != nil {
			e.fail(errors.Wrapf(err, "variable reference '%s'", r.Name))
			continue
		}
		name := r.Name
		e.DefineArrayField(typ, name, prefix, "["+index(r)+"]", r.Access, func(g G) (string, string) {
			ref := references(g)[name]
			return ref.Group, ref.Var
		})
	}
}

// DefineEGPs binds extra global parameters as dynamic pointer fields
func (e *FieldEnvironment[G]) DefineEGPs(egps []model.EGP, ctx types.TypeContext, prefix, nameSuffix string,
	owner func(g G) string) {
	for _, egp := range egps {
		typ, err := egp.ResolveType(ctx)
		if err != nil {
			e.fail(err)
			continue
		}
		array := egp.Name
		fieldName := egp.Name + nameSuffix
		e.AddField(typ, fieldName, typ, fieldName,
			func(g G, _ int) FieldValue {
				o := e.ownerOf(g)
				if owner != nil {
					o = owner(g)
				}
				return FieldValue{Owner: o, Array: array, Symbol: prefix + array + o}
			},
			"", FieldDynamic)
	}
}

func (e *FieldEnvironment[G]) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

const maxSubstitutionDepth = 32

// Substitute expands $(name) and $(name, arg, ...) tokens against env. The
// expansion of a function-style token has $(0), $(1) ... replaced by the
// arguments and is then expanded again.
func Substitute(env Environment, code string) (string, error) {
	return substitute(env, code, 0)
}

func substitute(env Environment, code string, depth int) (string, error) {
	if depth > maxSubstitutionDepth {
		return "", errors.Errorf("substitution nested more than %d deep in '%s'", maxSubstitutionDepth, code)
	}
	var sb strings.Builder
	for {
		start := strings.Index(code, "$(")
		if start < 0 {
			sb.WriteString(code)
			return sb.String(), nil
		}
		sb.WriteString(code[:start])
		end, parts, err := splitToken(code[start+2:])
		if err != nil {
			return "", errors.Wrapf(err, "in '%s'", code)
		}
		value, err := env.GetName(parts[0])
		if err != nil {
			return "", err
		}
		for i, arg := range parts[1:] {
			value = strings.ReplaceAll(value, "$("+strconv.Itoa(i)+")", arg)
		}
		expanded, err := substitute(env, value, depth+1)
		if err != nil {
			return "", err
		}
		sb.WriteString(expanded)
		code = code[start+2+end+1:]
	}
}

// splitToken splits the body of a $( token at top-level commas and returns
// the offset of its closing parenthesis
func splitToken(s string) (int, []string, error) {
	var (
		parts []string
		level int
		last  int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			level++
		case ',':
			if level == 0 {
				parts = append(parts, strings.TrimSpace(s[last:i]))
				last = i + 1
			}
		case ')':
			if level == 0 {
				parts = append(parts, strings.TrimSpace(s[last:i]))
				if parts[0] == "" {
					return 0, nil, errors.New("empty $() token")
				}
				return i, parts, nil
			}
			level--
		}
	}
	return 0, nil, errors.New("unterminated $( token")
}
