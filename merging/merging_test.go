package merging

import (
	"testing"

	"github.com/notargets/SpikeKernel/model"
	"github.com/notargets/SpikeKernel/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pop struct {
	name    string
	size    int
	params  map[string]float64
	dynamic map[string]bool
}

func (p *pop) GroupName() string { return p.name }

func pops() []*pop {
	return []*pop{
		{name: "A", size: 10, params: map[string]float64{"a": 0.02, "b": 0.2}},
		{name: "B", size: 33, params: map[string]float64{"a": 0.02, "b": 0.25}},
		{name: "C", size: 7, params: map[string]float64{"a": 0.1, "b": 0.2}},
	}
}

func TestMerge_Order(t *testing.T) {
	groups := pops()
	merged := Merge("NeuronUpdate", groups, func(p *pop) string {
		return NewKeyBuilder("neuron").Bool(p.size > 8).Key()
	})
	require.Len(t, merged, 2)
	assert.Equal(t, 0, merged[0].Index())
	assert.Equal(t, []*pop{groups[0], groups[1]}, merged[0].Groups())
	assert.Equal(t, []*pop{groups[2]}, merged[1].Groups())
	assert.Equal(t, "MergedNeuronUpdateGroup1", merged[1].StructName())
	assert.Equal(t, "mergedNeuronUpdateGroupStartID0", merged[0].StartIDName())
}

func TestKeyBuilder(t *testing.T) {
	a := NewKeyBuilder("k").String("ab").String("c").Key()
	b := NewKeyBuilder("k").String("a").String("bc").Key()
	assert.NotEqual(t, a, b, "length prefixes keep boundaries apart")
	assert.Equal(t, a, NewKeyBuilder("k").String("ab").String("c").Key())
	assert.NotEqual(t, NewKeyBuilder("k").Int(1).Key(), NewKeyBuilder("k").Float(1).Key())
}

func TestMergedGroup_AddField(t *testing.T) {
	mg := NewMergedGroup("NeuronUpdate", 0, pops())
	value := func(p *pop, _ int) FieldValue { return FieldValue{Owner: p.name} }

	require.NoError(t, mg.AddField(types.Uint32, "numNeurons", FieldStandard, value))
	require.NoError(t, mg.AddField(types.Uint32, "numNeurons", FieldStandard, value))
	assert.Len(t, mg.Fields(), 1)

	err := mg.AddField(types.Float, "numNeurons", FieldStandard, value)
	assert.ErrorIs(t, err, ErrFieldTypeMismatch)
	err = mg.AddField(types.Uint32, "numNeurons", FieldDynamic, value)
	assert.ErrorIs(t, err, ErrDuplicateField)
}

func TestMergedGroup_SortedFields(t *testing.T) {
	mg := NewMergedGroup("NeuronUpdate", 0, pops())
	value := func(p *pop, _ int) FieldValue { return FieldValue{} }
	require.NoError(t, mg.AddField(types.Uint8, "small", FieldStandard, value))
	require.NoError(t, mg.AddField(types.Float.CreatePointer(), "V", FieldStandard, value))
	require.NoError(t, mg.AddField(types.Uint32, "n", FieldStandard, value))
	require.NoError(t, mg.AddField(types.Double, "d", FieldStandard, value))

	var names []string
	for _, f := range mg.SortedFields(8) {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"V", "d", "n", "small"}, names)
}

func newEnv() (*FieldEnvironment[*pop], *MergedGroup[*pop]) {
	mg := NewMergedGroup("NeuronUpdate", 3, pops())
	root := NewScope(nil)
	root.Add(types.Uint32, "id", "lid")
	return NewFieldEnvironment[*pop](root, mg), mg
}

func TestFieldEnvironment_LazyFields(t *testing.T) {
	env, mg := newEnv()
	env.DefinePointerField(types.Float, "V", "d_", "[$(id)]", model.ReadWrite)
	assert.Empty(t, mg.Fields(), "fields are registered on lookup")

	first, err := env.GetTypes("V")
	require.NoError(t, err)
	second, err := env.GetTypes("V")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, mg.Fields(), 1)
	assert.Equal(t, "float*", mg.Fields()[0].Type.Name())

	code, err := Substitute(env, "$(V) += 1.0f;")
	require.NoError(t, err)
	assert.Equal(t, "group->V[lid] += 1.0f;", code)
	assert.Len(t, mg.Fields(), 1)

	d := mg.Descriptor()
	require.Len(t, d.Values, 3)
	assert.Equal(t, FieldValue{Owner: "B", Array: "V", Symbol: "d_VB"}, d.Values[1][0])
	assert.Equal(t, "pushMergedNeuronUpdate3VToDevice", d.PushFunctionName(0))
}

func TestFieldEnvironment_ReadOnlyIsConst(t *testing.T) {
	env, _ := newEnv()
	env.DefinePointerField(types.Float, "g", "d_", "[$(id)]", model.ReadOnly)
	ts, err := env.GetTypes("g")
	require.NoError(t, err)
	assert.True(t, ts[0].HasQualifier(types.QualifierConstant))
}

func TestFieldEnvironment_Errors(t *testing.T) {
	env, _ := newEnv()
	env.Add(types.Float, "x", "1.0f")
	assert.NoError(t, env.Err())
	env.Add(types.Float, "x", "2.0f")
	assert.ErrorIs(t, env.Err(), ErrRedeclaration)
	assert.Contains(t, env.Err().Error(), "redeclaration of 'x'")

	_, err := env.GetTypes("missing")
	assert.ErrorIs(t, err, ErrUndefinedIdentifier)
	_, err = Substitute(env, "$(missing) = 0;")
	assert.ErrorIs(t, err, ErrUndefinedIdentifier)
}

func TestFieldEnvironment_HeterogeneousParams(t *testing.T) {
	env, mg := newEnv()
	groups := mg.Groups()
	groups[0].dynamic = map[string]bool{}
	env.DefineHeterogeneousParams([]string{"a", "b"}, "", types.Float,
		func(p *pop) map[string]float64 { return p.params },
		func(p *pop) map[string]bool { return p.dynamic })

	a, err := env.GetName("a")
	require.NoError(t, err)
	assert.Equal(t, "group->a", a)
	b, err := env.GetName("b")
	require.NoError(t, err)
	assert.Equal(t, "group->b", b)

	homogeneous, _ := newEnv()
	homogeneous.DefineScalarField(types.Float, "c", "", false, func(*pop) float64 { return 0.5 })
	c, err := homogeneous.GetName("c")
	require.NoError(t, err)
	assert.Equal(t, types.Float.Literal(0.5), c)
}

func TestFieldEnvironment_DynamicParam(t *testing.T) {
	env, mg := newEnv()
	mg.Groups()[0].dynamic = map[string]bool{"a": true}
	env.DefineHeterogeneousParams([]string{"a"}, "", types.Float,
		func(p *pop) map[string]float64 { return p.params },
		func(p *pop) map[string]bool { return p.dynamic })
	_, err := env.GetName("a")
	require.NoError(t, err)

	f, ok := mg.Field("a")
	require.True(t, ok)
	assert.True(t, f.IsDynamic())
	assert.Equal(t, "a", f.Value(mg.Groups()[2], 2).DynamicParam)
	assert.Equal(t, 0.1, f.Value(mg.Groups()[2], 2).Scalar)
}

func TestSubstitute_Functions(t *testing.T) {
	root := NewScope(nil)
	root.Add(types.Void, "addToPost", "atomicAdd(&group->outPost[$(id_post)], $(0))")
	root.Add(types.Uint32, "id_post", "ipost")
	root.Add(types.Float, "g", "group->g[syn]")
	root.Add(types.Void, "pair", "$(1) + $(0)")

	testCases := []struct {
		name string
		code string
		want string
	}{
		{"Plain", "$(g) * 2", "group->g[syn] * 2"},
		{"Function", "$(addToPost, $(g));", "atomicAdd(&group->outPost[ipost], group->g[syn]);"},
		{"NestedParens", "$(addToPost, fmax($(g), 0.0f));", "atomicAdd(&group->outPost[ipost], fmax(group->g[syn], 0.0f));"},
		{"ArgumentOrder", "$(pair, a, b)", "b + a"},
		{"NoTokens", "x = y;", "x = y;"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Substitute(root, tc.code)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("Unterminated", func(t *testing.T) {
		_, err := Substitute(root, "$(g")
		assert.Error(t, err)
	})
	t.Run("Recursive", func(t *testing.T) {
		loop := NewScope(nil)
		loop.Add(types.Float, "x", "$(x)")
		_, err := Substitute(loop, "$(x)")
		assert.Error(t, err)
	})
}

func TestFieldEnvironment_VarsAndReferences(t *testing.T) {
	env, mg := newEnv()
	ctx := types.NewTypeContext(types.Float, types.Float)
	env.DefineVars([]model.Var{{Name: "V", Type: "scalar", Access: model.ReadWrite}}, ctx, "d_", "_pre",
		func(p *pop) string { return "Src" + p.name }, func(model.Var) string { return "$(id)" })
	env.DefineVarReferences([]model.VarRefDef{{Name: "target", Type: "scalar", Access: model.ReadWrite}}, ctx, "d_",
		func(p *pop) map[string]model.VarReference {
			return map[string]model.VarReference{"target": {Group: p.name + "Pop", Var: "U"}}
		},
		func(model.VarRefDef) string { return "$(id)" })
	env.DefineEGPs([]model.EGP{{Name: "spikeTimes", Type: "scalar*"}}, ctx, "d_", "", nil)

	code, err := Substitute(env, "$(target) = $(V_pre) + $(spikeTimes)[0];")
	require.NoError(t, err)
	assert.Equal(t, "group->target[lid] = group->V_pre[lid] + group->spikeTimes[0];", code)
	require.NoError(t, env.Err())

	d := mg.Descriptor()
	require.Len(t, d.Fields, 3)
	assert.Equal(t, FieldValue{Owner: "APop", Array: "U", Symbol: "d_UAPop"}, d.Values[0][0])
	assert.Equal(t, FieldValue{Owner: "SrcA", Array: "V", Symbol: "d_VSrcA"}, d.Values[0][1])
	assert.True(t, d.Fields[2].IsDynamic())
}

func TestScope_Initialisers(t *testing.T) {
	env, _ := newEnv()
	env.DefinePointerField(types.Uint32, "_spk_que_ptr", "d_", "", model.ReadOnly)
	local := NewScope(env)
	local.AddInitialised(types.Uint32, "_delay_slot", "delaySlot",
		"const unsigned int delaySlot = *$(_spk_que_ptr);")
	local.AddInitialised(types.Uint32, "_delay_offset", "delayOffset",
		"const unsigned int delayOffset = $(_delay_slot) * 10;")
	local.AddInitialised(types.Uint32, "_unused", "unused", "const unsigned int unused = 0;")

	code, err := Substitute(local, "x[$(_delay_offset) + $(id)] = 0;")
	require.NoError(t, err)
	assert.Equal(t, "x[delayOffset + lid] = 0;", code)

	inits, err := local.Initialisers()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"const unsigned int delaySlot = *group->_spk_que_ptr;",
		"const unsigned int delayOffset = delaySlot * 10;",
	}, inits)
}

func TestFieldEnvironment_WithFieldSuffix(t *testing.T) {
	env, mg := newEnv()
	child := NewFieldEnvironment[*pop](env, mg).WithFieldSuffix("CS0")
	child.DefineHeterogeneousParams([]string{"b"}, "", types.Float,
		func(p *pop) map[string]float64 { return p.params }, nil)
	child.DefinePointerField(types.Float, "V", "d_", "[$(id)]", model.ReadWrite)

	code, err := Substitute(child, "$(V) = $(b);")
	require.NoError(t, err)
	assert.Equal(t, "group->VCS0[lid] = group->bCS0;", code)
	_, ok := mg.Field("bCS0")
	assert.True(t, ok)
}

func TestFieldEnvironment_WithOwner(t *testing.T) {
	env, mg := newEnv()
	env.WithOwner(func(p *pop) string { return p.name + "Stim" })
	env.DefineDynamicScalarField(types.Float, "amp", "", "amp", func(p *pop) float64 { return p.params["b"] })
	env.DefineEGPs([]model.EGP{{Name: "table", Type: "scalar*"}}, types.TypeContext{"scalar": types.Float}, "d_", "", nil)

	code, err := Substitute(env, "$(amp) * $(table)[0]")
	require.NoError(t, err)
	assert.Equal(t, "group->amp * group->table[0]", code)

	amp, ok := mg.Field("amp")
	require.True(t, ok)
	assert.Equal(t, "BStim", amp.Value(mg.Groups()[1], 1).Owner)
	table, ok := mg.Field("table")
	require.True(t, ok)
	assert.Equal(t, "d_tableCStim", table.Value(mg.Groups()[2], 2).Symbol)
}
