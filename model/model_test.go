package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func izhGroup(name string, n int) *NeuronGroup {
	return &NeuronGroup{
		Name:       name,
		NumNeurons: n,
		Model:      Izhikevich,
		Params:     map[string]float64{"a": 0.02, "b": 0.2, "c": -65, "d": 8},
		VarInit:    map[string]*VarInit{"V": Constant(-65), "U": Constant(-13)},
	}
}

func TestModel_AddGroups(t *testing.T) {
	m := NewModel("net")
	require.NoError(t, m.AddNeuronGroup(izhGroup("Exc", 100)))

	t.Run("DuplicateName", func(t *testing.T) {
		err := m.AddNeuronGroup(izhGroup("Exc", 10))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate group name 'Exc'")
	})

	t.Run("EmptyGroup", func(t *testing.T) {
		assert.Error(t, m.AddNeuronGroup(izhGroup("Empty", 0)))
	})

	t.Run("SparseDefaults", func(t *testing.T) {
		exc, _ := m.NeuronGroup("Exc")
		sg := &SynapseGroup{
			Name: "ExcExc", Source: exc, Target: exc, Matrix: SparseIndividual,
			WUModel: StaticPulse, Connectivity: FixedProbability(0.1),
		}
		require.NoError(t, m.AddSynapseGroup(sg))
		assert.Equal(t, 100, sg.MaxConnections)
		assert.Equal(t, 100, sg.MaxSourceConnections)
		assert.Equal(t, 1, sg.NumThreadsPerSpike)
		assert.Equal(t, "uint32_t", sg.SparseIndexType())
	})

	t.Run("RowAndColumnCode", func(t *testing.T) {
		exc, _ := m.NeuronGroup("Exc")
		both := FixedProbability(0.1)
		both.ColBuildCode = "$(addSynapse, 0);"
		err := m.AddSynapseGroup(&SynapseGroup{
			Name: "Both", Source: exc, Target: exc, Matrix: SparseIndividual,
			WUModel: StaticPulse, Connectivity: both,
		})
		assert.Error(t, err)
	})
}

func TestModel_Finalize_DelaySlots(t *testing.T) {
	m := NewModel("net")
	pre := izhGroup("Pre", 10)
	post := izhGroup("Post", 20)
	require.NoError(t, m.AddNeuronGroup(pre))
	require.NoError(t, m.AddNeuronGroup(post))
	require.NoError(t, m.AddSynapseGroup(&SynapseGroup{
		Name: "A", Source: pre, Target: post, Matrix: DenseIndividual,
		WUModel: StaticPulse, DelaySteps: 4, WUVarInit: map[string]*VarInit{"g": Constant(1)},
	}))
	require.NoError(t, m.AddSynapseGroup(&SynapseGroup{
		Name: "B", Source: pre, Target: post, Matrix: DenseIndividual,
		WUModel: StaticPulse, DelaySteps: 2, BackPropDelaySteps: 3,
	}))
	require.NoError(t, m.Finalize())

	assert.Equal(t, 5, pre.NumDelaySlots())
	assert.True(t, pre.IsDelayRequired())
	assert.Equal(t, 4, post.NumDelaySlots())
	assert.Len(t, pre.OutSyn(), 2)
	assert.Len(t, post.InSyn(), 2)
	assert.Empty(t, pre.InSyn())

	sgA, _ := m.SynapseGroup("A")
	assert.Equal(t, 20, sgA.MaxRowLength())
	assert.Equal(t, 10, sgA.MaxColLength())
	assert.True(t, sgA.IsWUVarInitRequired())
	assert.True(t, m.IsFinalized())
}

func TestModel_Finalize_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		build func(m *Model)
		want  string
	}{
		{
			name: "MissingParam",
			build: func(m *Model) {
				ng := izhGroup("N", 4)
				delete(ng.Params, "d")
				_ = m.AddNeuronGroup(ng)
			},
			want: "missing value for parameter 'd'",
		},
		{
			name: "ReductionWUVar",
			build: func(m *Model) {
				ng := izhGroup("N", 4)
				_ = m.AddNeuronGroup(ng)
				_ = m.AddSynapseGroup(&SynapseGroup{
					Name: "S", Source: ng, Target: ng, Matrix: DenseIndividual,
					WUModel: &WeightUpdateModel{Vars: []Var{{Name: "g", Type: "scalar", Access: ReduceSum}}},
				})
			},
			want: "cannot use reduction access",
		},
		{
			name: "KernelWithoutSize",
			build: func(m *Model) {
				ng := izhGroup("N", 4)
				_ = m.AddNeuronGroup(ng)
				_ = m.AddSynapseGroup(&SynapseGroup{
					Name: "S", Source: ng, Target: ng, Matrix: ProceduralKernel, WUModel: StaticPulse,
				})
			},
			want: "without a kernel size",
		},
		{
			name: "MissingReference",
			build: func(m *Model) {
				_ = m.AddNeuronGroup(izhGroup("N", 4))
				_ = m.AddCustomUpdate(&CustomUpdate{
					Name: "Reset", UpdateGroupName: "Reset", Size: 4, Model: SetValue,
					Params: map[string]float64{"value": 0},
				})
			},
			want: "missing variable reference 'target'",
		},
		{
			name: "UnknownVariable",
			build: func(m *Model) {
				_ = m.AddNeuronGroup(izhGroup("N", 4))
				_ = m.AddCustomUpdate(&CustomUpdate{
					Name: "Reset", UpdateGroupName: "Reset", Size: 4, Model: SetValue,
					Params:        map[string]float64{"value": 0},
					VarReferences: map[string]VarReference{"target": {Group: "N", Var: "W"}},
				})
			},
			want: "no variable 'W' in group 'N'",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewModel("net")
			tc.build(m)
			err := m.Finalize()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestModel_SpikeTimeRequirements(t *testing.T) {
	m := NewModel("net")
	pre := izhGroup("Pre", 10)
	post := izhGroup("Post", 10)
	require.NoError(t, m.AddNeuronGroup(pre))
	require.NoError(t, m.AddNeuronGroup(post))
	sg := &SynapseGroup{
		Name: "Plastic", Source: pre, Target: post, Matrix: SparseIndividual,
		WUModel: STDP, Connectivity: FixedProbability(0.5),
		WUParams: map[string]float64{"tauPlus": 20, "tauMinus": 20, "Aplus": 0.1, "Aminus": 0.1, "Wmin": 0, "Wmax": 1},
	}
	require.NoError(t, m.AddSynapseGroup(sg))
	require.NoError(t, m.Finalize())

	assert.True(t, pre.SpikeTimeRequired)
	assert.True(t, post.SpikeTimeRequired)
	assert.True(t, sg.IsPostsynapticRemapRequired())
	assert.True(t, sg.IsConnectivityInitRequired())
	assert.True(t, sg.IsConnectivityInitRNGRequired())
	assert.False(t, sg.IsProceduralConnectivityRNGRequired())
}

func TestCustomUpdate_ReductionShapes(t *testing.T) {
	m := NewModel("net")
	m.BatchSize = 4
	ng := izhGroup("N", 16)
	require.NoError(t, m.AddNeuronGroup(ng))

	reduceVar := &CustomUpdateModel{
		Name: "Reduce",
		Vars: []Var{{Name: "sum", Type: "scalar", Access: ReduceSum, Dims: DimElement}},
		VarRefs: []VarRefDef{
			{Name: "source", Type: "scalar", Access: ReadOnly},
		},
		UpdateCode: "$(sum) = $(source);",
	}
	batch := &CustomUpdate{
		Name: "BatchReduce", UpdateGroupName: "Reduce", Size: 16, Model: reduceVar,
		VarReferences: map[string]VarReference{"source": {Group: "N", Var: "V"}},
	}
	require.NoError(t, m.AddCustomUpdate(batch))

	neuron := &CustomUpdate{
		Name: "NeuronReduce", UpdateGroupName: "Reduce", Size: 16,
		Model: &CustomUpdateModel{
			Name:       "NeuronSum",
			Vars:       []Var{{Name: "total", Type: "scalar", Access: ReduceSum, Dims: DimBatch}},
			VarRefs:    []VarRefDef{{Name: "source", Type: "scalar", Access: ReadOnly}},
			UpdateCode: "$(total) = $(source);",
		},
		VarReferences: map[string]VarReference{"source": {Group: "N", Var: "V"}},
	}
	require.NoError(t, m.AddCustomUpdate(neuron))
	require.NoError(t, m.Finalize())

	assert.True(t, batch.IsBatched())
	assert.True(t, batch.IsBatchReduction())
	assert.False(t, batch.IsNeuronReduction())
	assert.True(t, neuron.IsNeuronReduction())
	assert.False(t, neuron.IsBatchReduction())
	assert.Equal(t, 16, batch.VarReferences["source"].Size())
	assert.Equal(t, DimAll, batch.VarReferences["source"].Dims())
	assert.Equal(t, []string{"Reduce"}, m.UpdateGroupNames())
}

func TestVarAccessMode(t *testing.T) {
	assert.True(t, ReadOnly.IsReadOnly())
	assert.False(t, ReadWrite.IsReadOnly())
	assert.False(t, ReduceSum.IsReadOnly())
	assert.Equal(t, ReductionSum, ReduceSum.ReductionOperation())
	assert.Equal(t, ReductionMax, ReduceMax.ReductionOperation())
	assert.Equal(t, ReductionNone, ReadWrite.ReductionOperation())
	assert.Equal(t, "SPARSE_INDIVIDUALG", SparseIndividual.String())
	assert.Equal(t, "TOEPLITZ_KERNELG", ToeplitzKernel.String())
}
