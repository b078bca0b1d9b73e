package simt

import (
	"testing"

	"github.com/notargets/SpikeKernel/config"
	"github.com/notargets/SpikeKernel/logging"
	"github.com/notargets/SpikeKernel/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, dialect string) *Backend {
	prefs := config.Default()
	prefs.Dialect = dialect
	b, err := NewBackend(prefs, logging.Discard())
	require.NoError(t, err)
	return b
}

func izhGroup(name string, n int) *model.NeuronGroup {
	return &model.NeuronGroup{
		Name:       name,
		NumNeurons: n,
		Model:      model.Izhikevich,
		Params:     map[string]float64{"a": 0.02, "b": 0.2, "c": -65, "d": 8},
		VarInit:    map[string]*model.VarInit{"V": model.Constant(-65), "U": model.Constant(-13)},
	}
}

func TestPadSize(t *testing.T) {
	for _, tc := range []struct {
		size, block, want int
	}{
		{0, 32, 0},
		{1, 32, 32},
		{32, 32, 32},
		{33, 32, 64},
		{100, 64, 128},
	} {
		assert.Equal(t, tc.want, PadSize(tc.size, tc.block), "PadSize(%d, %d)", tc.size, tc.block)
	}
}

func TestNewKernelBlockSize(t *testing.T) {
	prefs := config.Default()
	prefs.BlockSizes = map[string]int{"updateNeuronsKernel": 64}
	bs, err := NewKernelBlockSize(prefs)
	require.NoError(t, err)
	assert.Equal(t, 64, bs[KernelNeuronUpdate])
	assert.Equal(t, config.DefaultBlockSize, bs[KernelPresynapticUpdate])

	prefs.BlockSizes = map[string]int{"updateEverythingKernel": 64}
	_, err = NewKernelBlockSize(prefs)
	assert.Error(t, err)

	k, ok := KernelByName("customTransposeUpdate")
	assert.True(t, ok)
	assert.Equal(t, KernelCustomTransposeUpdate, k)
	assert.Equal(t, "unknownKernel", KernelMax.String())
}

func TestBackend_ThreadCounts(t *testing.T) {
	b := newTestBackend(t, config.DialectCUDA)
	pre, post := izhGroup("Pre", 20), izhGroup("Post", 30)
	sparse := &model.SynapseGroup{Name: "Sparse", Source: pre, Target: post, Matrix: model.SparseIndividual,
		WUModel: model.StaticPulse, MaxConnections: 5, MaxSourceConnections: 7, NumThreadsPerSpike: 1}
	dense := &model.SynapseGroup{Name: "Dense", Source: pre, Target: post, Matrix: model.DenseIndividual,
		WUModel: model.StaticPulse, NumThreadsPerSpike: 1}
	bitmask := &model.SynapseGroup{Name: "Bitmask", Source: pre, Target: post, Matrix: model.BitmaskGlobal,
		WUModel: model.StaticPulseConstantWeight, NumThreadsPerSpike: 1}

	t.Run("SynapseDynamics", func(t *testing.T) {
		assert.Equal(t, 20*5, b.NumSynapseDynamicsThreads(sparse))
		assert.Equal(t, 20*30, b.NumSynapseDynamicsThreads(dense))
	})

	t.Run("Presynaptic", func(t *testing.T) {
		for _, tc := range []struct {
			sg                *model.SynapseGroup
			threads, rowStride int
		}{
			{sparse, 5, 5},
			{dense, 30, 30},
			{bitmask, 1, 32},
		} {
			n, err := b.NumPresynapticUpdateThreads(tc.sg)
			require.NoError(t, err)
			assert.Equal(t, tc.threads, n, tc.sg.Name)
			assert.Equal(t, tc.rowStride, b.SynapticMatrixRowStride(tc.sg), tc.sg.Name)
		}
	})

	t.Run("Postsynaptic", func(t *testing.T) {
		assert.Equal(t, 7, b.NumPostsynapticUpdateThreads(sparse))
		assert.Equal(t, 20, b.NumPostsynapticUpdateThreads(dense))
	})

	t.Run("ConnectivityInit", func(t *testing.T) {
		sparse.Connectivity = model.FixedProbability(0.1)
		n, err := b.NumConnectivityInitThreads(sparse)
		require.NoError(t, err)
		assert.Equal(t, 20, n)

		sparse.Connectivity = model.FixedNumberPreWithReplacement(3)
		n, err = b.NumConnectivityInitThreads(sparse)
		require.NoError(t, err)
		assert.Equal(t, 30, n)

		sparse.Connectivity = nil
		_, err = b.NumConnectivityInitThreads(sparse)
		assert.ErrorIs(t, err, ErrNoConnectivityCode)
	})

	t.Run("KernelWeightsInit", func(t *testing.T) {
		kernel := &model.SynapseGroup{Name: "Kernel", Source: pre, Target: post, Matrix: model.ProceduralKernel,
			WUModel: model.StaticPulse, KernelSize: []int{3, 4}}
		assert.Equal(t, 12, b.NumInitThreads(kernel))
		assert.Equal(t, 30, b.NumInitThreads(dense))
	})
}

func TestBackend_CustomUpdateThreads(t *testing.T) {
	b := newTestBackend(t, config.DialectCUDA)
	m := model.NewModel("net")
	m.BatchSize = 2
	pre, post := izhGroup("Pre", 10), izhGroup("Post", 40)
	require.NoError(t, m.AddNeuronGroup(pre))
	require.NoError(t, m.AddNeuronGroup(post))
	fwd := &model.SynapseGroup{Name: "Fwd", Source: pre, Target: post, Matrix: model.DenseIndividual, WUModel: model.StaticPulse}
	back := &model.SynapseGroup{Name: "Back", Source: post, Target: pre, Matrix: model.DenseIndividual, WUModel: model.StaticPulse}
	require.NoError(t, m.AddSynapseGroup(fwd))
	require.NoError(t, m.AddSynapseGroup(back))

	set := &model.CustomUpdate{Name: "Reset", UpdateGroupName: "Reset", Size: 40, Model: model.SetValue,
		Params:        map[string]float64{"value": 0},
		VarReferences: map[string]model.VarReference{"target": {Group: "Post", Var: "V"}}}
	scale := &model.CustomUpdateWU{Name: "Scale", UpdateGroupName: "Plasticity", Synapse: fwd, Model: model.ScaleWeights,
		Params:        map[string]float64{"scale": 0.5},
		VarReferences: map[string]model.VarReference{"g": {Group: "Fwd", Var: "g"}}}
	transpose := &model.CustomUpdateWU{Name: "Transpose", UpdateGroupName: "Transpose", Synapse: fwd, Model: model.Transpose,
		VarReferences: map[string]model.VarReference{"variable": {Group: "Fwd", Var: "g", TransposeGroup: "Back", TransposeVar: "g"}}}
	require.NoError(t, m.AddCustomUpdate(set))
	require.NoError(t, m.AddCustomUpdateWU(scale))
	require.NoError(t, m.AddCustomUpdateWU(transpose))
	require.NoError(t, m.Finalize())

	// one padded block of neurons per batch
	assert.Equal(t, 2*64, b.PaddedNumCustomUpdateThreads(set, 2))
	assert.Equal(t, 2*PadSize(10*40, 32), b.PaddedNumCustomUpdateWUThreads(scale, 2))

	require.True(t, transpose.IsTranspose())
	// 32 padded rows of 64 padded columns, one thread per column of each block of rows
	assert.Equal(t, 2*32*64/32, b.PaddedNumCustomUpdateTransposeWUThreads(transpose, 2))

	assert.Equal(t, 10*40*2, CustomUpdateWUVarSize(b, scale, model.Var{Name: "x", Type: "scalar"}, 2))
	assert.Equal(t, 40, CustomUpdateVarSize(set, model.Var{Name: "x", Type: "scalar", Dims: model.DimElement}, 2))
}

func TestBackend_GlobalRNG(t *testing.T) {
	b := newTestBackend(t, config.DialectCUDA)
	m := model.NewModel("net")
	ng := izhGroup("Exc", 10)
	require.NoError(t, m.AddNeuronGroup(ng))
	require.NoError(t, m.Finalize())
	assert.False(t, b.IsGlobalDeviceRNGRequired(m))

	ng.VarInit["V"] = model.Uniform(-65, -50)
	assert.True(t, b.IsGlobalDeviceRNGRequired(m))
}

func TestBackend_DeviceVarPrefix(t *testing.T) {
	b := newTestBackend(t, config.DialectCUDA)
	assert.Equal(t, "d_", b.DeviceVarPrefix())
	b.Preferences().AutomaticCopy = true
	assert.Empty(t, b.DeviceVarPrefix())
}

// fixedStrategy is a PostSpan that claims every group
type fixedStrategy struct{ PostSpan }

func (fixedStrategy) Name() string { return "Fixed" }

func (fixedStrategy) IsCompatible(*model.SynapseGroup, *config.Preferences) bool { return true }

func TestRegistry_Select(t *testing.T) {
	pre, post := izhGroup("Pre", 20), izhGroup("Post", 30)
	prefs := config.Default()
	conv := model.Conv1D(3)

	for _, tc := range []struct {
		name string
		sg   *model.SynapseGroup
		want string
	}{
		{"SparsePost", &model.SynapseGroup{Matrix: model.SparseIndividual}, "PostSpan"},
		{"SparsePre", &model.SynapseGroup{Matrix: model.SparseIndividual, SpanType: model.SpanPresynaptic}, "PreSpan"},
		{"Bitmask", &model.SynapseGroup{Matrix: model.BitmaskGlobal}, "PostSpanBitmask"},
		{"BitmaskDendritic", &model.SynapseGroup{Matrix: model.BitmaskGlobal, MaxDendriticDelayTimesteps: 4}, "PostSpan"},
		{"Procedural", &model.SynapseGroup{Matrix: model.ProceduralGlobal, Connectivity: model.FixedProbability(0.1)}, "PreSpanProcedural"},
		{"Toeplitz", &model.SynapseGroup{Matrix: model.ToeplitzKernel, Toeplitz: conv}, "PostSpanToeplitz"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tc.sg.Name, tc.sg.Source, tc.sg.Target = tc.name, pre, post
			s, err := NewRegistry().Select(tc.sg, prefs)
			require.NoError(t, err)
			assert.Equal(t, tc.want, s.Name())
		})
	}

	t.Run("NoCompatible", func(t *testing.T) {
		sg := &model.SynapseGroup{Name: "Procedural", Source: pre, Target: post, Matrix: model.ProceduralGlobal}
		_, err := NewRegistry().Select(sg, prefs)
		assert.ErrorIs(t, err, ErrNoCompatibleStrategy)
	})

	t.Run("LaterRegistrationWins", func(t *testing.T) {
		r := NewRegistry()
		r.Register(fixedStrategy{})
		s, err := r.Select(&model.SynapseGroup{Matrix: model.BitmaskGlobal, Source: pre, Target: post}, prefs)
		require.NoError(t, err)
		assert.Equal(t, "Fixed", s.Name())
		assert.Len(t, r.Strategies(), 6)
	})
}

func TestMemberStartIDs(t *testing.T) {
	starts, end := MemberStartIDs([]int{10, 33, 7}, 64, 32)
	assert.Equal(t, []int{64, 96, 160}, starts)
	assert.Equal(t, 192, end)

	for _, tc := range []struct {
		id, want int
	}{
		{64, 0},
		{95, 0},
		{96, 1},
		{159, 1},
		{160, 2},
		{191, 2},
	} {
		assert.Equal(t, tc.want, FindMember(starts, tc.id), "thread %d", tc.id)
	}
}
