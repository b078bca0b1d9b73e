package simt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/notargets/SpikeKernel/config"
	"github.com/notargets/SpikeKernel/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cortex is two Izhikevich populations with delayed dense excitation,
// bitmask inhibition and plastic sparse recurrence
func cortex(t *testing.T) *model.Model {
	m := model.NewModel("cortex")
	exc, inh := izhGroup("Exc", 800), izhGroup("Inh", 200)
	exc.SpikeRecording = true
	exc.DynamicParams = map[string]bool{"a": true}
	inh.Params["a"] = 0.1
	require.NoError(t, m.AddNeuronGroup(exc))
	require.NoError(t, m.AddNeuronGroup(inh))
	require.NoError(t, m.AddCurrentSource(&model.CurrentSource{
		Name: "Stim", Model: model.DC, Params: map[string]float64{"amp": 4},
	}, exc))
	require.NoError(t, m.AddSynapseGroup(&model.SynapseGroup{
		Name: "ExcInh", Source: exc, Target: inh, Matrix: model.DenseIndividual,
		WUModel: model.StaticPulse, DelaySteps: 2,
		WUVarInit: map[string]*model.VarInit{"g": model.Uniform(0, 0.5)},
	}))
	require.NoError(t, m.AddSynapseGroup(&model.SynapseGroup{
		Name: "InhExc", Source: inh, Target: exc, Matrix: model.BitmaskGlobal,
		WUModel: model.StaticPulseConstantWeight, WUParams: map[string]float64{"g": -1},
		Connectivity: model.FixedProbability(0.1),
	}))
	require.NoError(t, m.AddSynapseGroup(&model.SynapseGroup{
		Name: "ExcExc", Source: exc, Target: exc, Matrix: model.SparseIndividual,
		WUModel: model.STDP, Connectivity: model.FixedProbability(0.05), MaxConnections: 100,
		WUParams:  map[string]float64{"tauPlus": 20, "tauMinus": 20, "Aplus": 0.01, "Aminus": 0.012, "Wmin": 0, "Wmax": 1},
		WUVarInit: map[string]*model.VarInit{"g": model.Constant(0.5)},
	}))
	return m
}

func TestGenerate_StepKernelOrder(t *testing.T) {
	gen, err := Generate(cortex(t), newTestBackend(t, config.DialectCUDA))
	require.NoError(t, err)

	assert.Equal(t, []Kernel{
		KernelNeuronSpikeQueueUpdate,
		KernelNeuronUpdate,
		KernelPresynapticUpdate,
		KernelPostsynapticUpdate,
	}, gen.StepKernels)

	for _, k := range gen.StepKernels {
		ks, ok := gen.Kernel(k.String())
		require.True(t, ok, k.String())
		assert.Zero(t, ks.NumThreads%ks.BlockSize, "%s threads are padded", ks.Name)
		assert.Equal(t, ks.NumThreads/ks.BlockSize, ks.NumBlocks())
	}
}

func TestGenerate_CUDA(t *testing.T) {
	gen, err := Generate(cortex(t), newTestBackend(t, config.DialectCUDA))
	require.NoError(t, err)
	assert.Equal(t, "CUDA", gen.Dialect)

	for _, want := range []string{
		`extern "C" __global__ void updateNeuronsKernel(`,
		`extern "C" __global__ void initializeKernel(`,
		`extern "C" __global__ void initializeSparseKernel(`,
		"struct MergedNeuronUpdateGroup0 {",
		"curandState",
		// bitmask rows are built with atomic bit sets
		"atomicOr(",
		"0x80000000 >> (gid & 31)",
		// the STDP remap is filled in by sparse initialisation
		"colMajorIndex] = idx;",
	} {
		assert.Contains(t, gen.Source, want)
	}
	assert.NotContains(t, gen.Source, "__kernel")

	t.Run("InitRNGStreams", func(t *testing.T) {
		assert.True(t, gen.GlobalRNGRequired)
		assert.Positive(t, gen.NumInitThreads)
		assert.Positive(t, gen.NumInitSparseThreads)
		assert.Equal(t, gen.NumInitThreads+gen.NumInitSparseThreads, gen.NumInitRNGStreams)
		assert.Equal(t, 48, gen.RNGStateBytes)
	})

	t.Run("DynamicParamPushFunction", func(t *testing.T) {
		assert.Contains(t, gen.PushFunctions(), "pushMergedNeuronUpdate0aToDevice")
		d, ok := gen.Descriptor("NeuronUpdate", 0)
		require.True(t, ok)
		assert.Equal(t, []string{"Exc"}, d.Members, "the dynamic parameter keeps Exc out of Inh's group")
	})

	t.Run("DescriptorsSortedBySize", func(t *testing.T) {
		for _, d := range gen.Descriptors {
			for j := 1; j < len(d.Fields); j++ {
				assert.GreaterOrEqual(t, d.Fields[j-1].Type.Size(PointerBytes), d.Fields[j].Type.Size(PointerBytes),
					"%s field %s", d.StructName, d.Fields[j].Name)
			}
		}
	})
}

func TestGenerate_OpenCL(t *testing.T) {
	gen, err := Generate(cortex(t), newTestBackend(t, config.DialectOpenCL))
	require.NoError(t, err)
	assert.Equal(t, "OpenCL", gen.Dialect)
	assert.Contains(t, gen.Source, "__kernel void updateNeuronsKernel(")
	assert.Contains(t, gen.Source, "typedef uint uint32_t;")
	assert.Contains(t, gen.Source, "philox4x32_state")
	assert.Contains(t, gen.Source, "atomic_or(")
	assert.NotContains(t, gen.Source, "__global__")
	assert.Equal(t, 32, gen.RNGStateBytes)
}

func TestGenerate_MergesIdenticalGroups(t *testing.T) {
	m := model.NewModel("net")
	for _, name := range []string{"A", "B", "C"} {
		require.NoError(t, m.AddNeuronGroup(izhGroup(name, 100)))
	}
	m.NeuronGroups[2].Params["d"] = 2
	gen, err := Generate(m, newTestBackend(t, config.DialectCUDA))
	require.NoError(t, err)

	require.Len(t, gen.Merged.NeuronUpdate, 1, "parameter values don't split groups")
	d, ok := gen.Descriptor("NeuronUpdate", 0)
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B", "C"}, d.Members)

	ks, ok := gen.Kernel(KernelNeuronUpdate.String())
	require.True(t, ok)
	assert.Equal(t, 3*PadSize(100, 32), ks.NumThreads)
	assert.Equal(t, 1, strings.Count(gen.Source, "struct MergedNeuronUpdateGroup0 {"))
	assert.Empty(t, gen.UpdateGroups)
}

func TestGenerate_CustomUpdates(t *testing.T) {
	m := model.NewModel("net")
	m.BatchSize = 4
	ng := izhGroup("N", 64)
	require.NoError(t, m.AddNeuronGroup(ng))
	require.NoError(t, m.AddCustomUpdate(&model.CustomUpdate{
		Name: "Reset", UpdateGroupName: "Reset", Size: 64, Model: model.SetValue,
		Params:        map[string]float64{"value": -65},
		VarReferences: map[string]model.VarReference{"target": {Group: "N", Var: "V"}},
	}))
	require.NoError(t, m.AddCustomUpdate(&model.CustomUpdate{
		Name: "Sum", UpdateGroupName: "Reduce", Size: 64,
		Model: &model.CustomUpdateModel{
			Name:       "BatchSum",
			Vars:       []model.Var{{Name: "total", Type: "scalar", Access: model.ReduceSum, Dims: model.DimElement}},
			VarRefs:    []model.VarRefDef{{Name: "source", Type: "scalar", Access: model.ReadOnly}},
			UpdateCode: "$(total) = $(source);",
		},
		VarReferences: map[string]model.VarReference{"source": {Group: "N", Var: "V"}},
	}))
	gen, err := Generate(m, newTestBackend(t, config.DialectCUDA))
	require.NoError(t, err)

	assert.Equal(t, []string{"Reset", "Reduce"}, gen.UpdateGroups, "declaration order")
	for _, group := range gen.UpdateGroups {
		ks := gen.CustomUpdateKernels(group)
		require.Len(t, ks, 1, group)
		assert.Equal(t, "customUpdate"+group, ks[0].Name)
	}
	reset, _ := gen.Kernel("customUpdateReset")
	assert.Equal(t, 4*64, reset.NumThreads)
	reduce, _ := gen.Kernel("customUpdateReduce")
	assert.Equal(t, 64, reduce.NumThreads, "batch reductions run one copy")
}

func TestGenerate_InitRNGSequences(t *testing.T) {
	m := cortex(t)
	sg, ok := m.SynapseGroup("ExcExc")
	require.True(t, ok)
	sg.WUVarInit["g"] = model.Uniform(0, 1)
	gen, err := Generate(m, newTestBackend(t, config.DialectCUDA))
	require.NoError(t, err)

	for _, tc := range []struct {
		kernel   Kernel
		sequence string
	}{
		{KernelInitialize, "id"},
		// sparse streams start after one stream per initialize thread
		{KernelInitializeSparse, fmt.Sprintf("%d + id", gen.NumInitThreads)},
	} {
		t.Run(tc.kernel.String(), func(t *testing.T) {
			ks, ok := gen.Kernel(tc.kernel.String())
			require.True(t, ok)
			assert.Contains(t, ks.Body, "curand_init(deviceRNGSeed, (unsigned long long)("+tc.sequence+"), 0, &initRNG);")
		})
	}
	sparse, _ := gen.Kernel(KernelInitializeSparse.String())
	assert.NotContains(t, sparse.Body, "(unsigned long long)(id)")
}

func TestGenerate_MultiMemberBisection(t *testing.T) {
	m := model.NewModel("net")
	for _, g := range []struct {
		name string
		n    int
	}{
		{"A", 10},
		{"B", 33},
		{"C", 7},
	} {
		require.NoError(t, m.AddNeuronGroup(izhGroup(g.name, g.n)))
	}
	gen, err := Generate(m, newTestBackend(t, config.DialectCUDA))
	require.NoError(t, err)

	d, ok := gen.Descriptor("NeuronUpdate", 0)
	require.True(t, ok)
	require.Equal(t, []string{"A", "B", "C"}, d.Members)

	ks, ok := gen.Kernel(KernelNeuronUpdate.String())
	require.True(t, ok)
	assert.Equal(t, 32+64+32, ks.NumThreads)
	assert.Contains(t, ks.Tables, "__device__ __constant__ unsigned int d_mergedNeuronUpdateGroupStartID0[] = {0, 32, 96};")
	for _, want := range []string{
		"unsigned int hi = 3;",
		"while(lo < hi) {",
		"if(id < d_mergedNeuronUpdateGroupStartID0[mid]) {",
		"*group = &d_mergedNeuronUpdateGroup0[lo - 1];",
		"const unsigned int groupStartID = d_mergedNeuronUpdateGroupStartID0[lo - 1];",
	} {
		assert.Contains(t, ks.Body, want)
	}
	assert.Contains(t, gen.Source, "d_mergedNeuronUpdateGroupStartID0[] = {0, 32, 96};")

	queue, ok := gen.Kernel(KernelNeuronSpikeQueueUpdate.String())
	require.True(t, ok)
	assert.Equal(t, 32, queue.NumThreads, "one thread per member, padded")
	assert.Contains(t, queue.Body, "*group = &d_mergedNeuronSpikeQueueUpdateGroup0[id - 0];")
}

func TestGenerate_CustomUpdateShapes(t *testing.T) {
	const batchSize = 4
	for _, tc := range []struct {
		name    string
		update  func() *model.CustomUpdate
		threads int
		want    []string
		absent  []string
	}{
		{
			name: "NeuronReduction",
			update: func() *model.CustomUpdate {
				return &model.CustomUpdate{
					Name: "Sum", UpdateGroupName: "Shape", Size: 64,
					Model: &model.CustomUpdateModel{
						Name:       "NeuronSum",
						Vars:       []model.Var{{Name: "total", Type: "scalar", Access: model.ReduceSum, Dims: model.DimBatch}},
						VarRefs:    []model.VarRefDef{{Name: "source", Type: "scalar", Access: model.ReadOnly}},
						UpdateCode: "$(total) = $(source);",
					},
					VarReferences: map[string]model.VarReference{"source": {Group: "N", Var: "V"}},
				}
			},
			threads: NumLanes * batchSize,
			want: []string{
				"if (lane == 0) {",
				"for (unsigned int i = 16; i > 0; i /= 2) {",
				"lrtotal += __shfl_down_sync(0xFFFFFFFF, lrtotal, i);",
			},
			absent: []string{"paddedSize"},
		},
		{
			name: "PerElementBatched",
			update: func() *model.CustomUpdate {
				return &model.CustomUpdate{
					Name: "Reset", UpdateGroupName: "Shape", Size: 64, Model: model.SetValue,
					Params:        map[string]float64{"value": -65},
					VarReferences: map[string]model.VarReference{"target": {Group: "N", Var: "V"}},
				}
			},
			threads: batchSize * 64,
			want: []string{
				"const unsigned int paddedSize = 32 * ((",
				"% paddedSize;",
				"/ paddedSize;",
			},
			absent: []string{"__shfl_down_sync", "lane"},
		},
		{
			name: "SharedBatched",
			update: func() *model.CustomUpdate {
				return &model.CustomUpdate{
					Name: "Tick", UpdateGroupName: "Shape", Size: 64, Dims: model.DimBatch,
					Model: &model.CustomUpdateModel{
						Name:       "Counter",
						Vars:       []model.Var{{Name: "count", Type: "scalar", Access: model.ReadWrite, Dims: model.DimBatch}},
						UpdateCode: "$(count) += 1;",
					},
				}
			},
			threads: 32,
			want:    []string{fmt.Sprintf(" < %d) {", batchSize)},
			absent:  []string{"paddedSize", "__shfl_down_sync"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := model.NewModel("net")
			m.BatchSize = batchSize
			require.NoError(t, m.AddNeuronGroup(izhGroup("N", 64)))
			require.NoError(t, m.AddCustomUpdate(tc.update()))
			gen, err := Generate(m, newTestBackend(t, config.DialectCUDA))
			require.NoError(t, err)

			ks, ok := gen.Kernel("customUpdateShape")
			require.True(t, ok)
			assert.Equal(t, tc.threads, ks.NumThreads)
			for _, want := range tc.want {
				assert.Contains(t, ks.Body, want)
			}
			for _, absent := range tc.absent {
				assert.NotContains(t, ks.Body, absent)
			}
		})
	}
}
