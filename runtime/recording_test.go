package runtime

import (
	"bytes"
	"testing"

	"github.com/james-bowman/sparse"
	"github.com/notargets/SpikeKernel/model"
	"github.com/notargets/SpikeKernel/simt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func recordingRuntime(t *testing.T, batchSize, numNeurons, numRec int) (*Runtime, *model.NeuronGroup) {
	m := model.NewModel("net")
	m.BatchSize = batchSize
	ng := izhGroup("Exc", numNeurons)
	ng.SpikeRecording = true
	require.NoError(t, m.AddNeuronGroup(ng))
	r, _ := newRuntime(t, m, &simt.Generated{}, nil)
	require.NoError(t, r.Allocate(numRec))
	return r, ng
}

func TestRuntime_RecordedSpikes(t *testing.T) {
	r, ng := recordingRuntime(t, 1, 40, 3)
	rec, err := r.Array("Exc", "recordSpk")
	require.NoError(t, err)
	// 2 words per timestep
	require.Equal(t, 6, rec.Count())

	_, err = r.RecordedSpikes(ng)
	assert.ErrorIs(t, err, ErrRecordingNotConfigured, "buffer not yet full")

	for i := 0; i < 3; i++ {
		require.NoError(t, r.StepTime())
	}
	require.NoError(t, r.PullRecordingBuffersFromDevice())
	require.NoError(t, rec.Set(0, 1<<0|1<<5))
	require.NoError(t, rec.Set(3, 1<<2))

	events, err := r.RecordedSpikes(ng)
	require.NoError(t, err)
	assert.Equal(t, []RecordedEvent{
		{Time: 0, ID: 5},
		{Time: 0, ID: 0},
		{Time: 0.1, ID: 34},
	}, events)

	t.Run("Export", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, r.WriteRecordedSpikes(&buf, ng))
		assert.Equal(t, "Time [ms], Neuron ID\n0, 5\n0, 0\n0.1, 34\n", buf.String())
	})

	t.Run("Raster", func(t *testing.T) {
		raster, err := r.RecordedRaster(ng, 0)
		require.NoError(t, err)
		rows, cols := raster.Dims()
		assert.Equal(t, 3, rows)
		assert.Equal(t, 40, cols)
		assert.Equal(t, 1.0, raster.At(0, 5))
		assert.Equal(t, 1.0, raster.At(1, 34))
		assert.Equal(t, 3.0, mat.Sum(raster))
		_, err = r.RecordedRaster(ng, 1)
		assert.Error(t, err)
	})

	t.Run("TimesFollowLatestWindow", func(t *testing.T) {
		require.NoError(t, r.StepTime())
		events, err := r.RecordedSpikes(ng)
		require.NoError(t, err)
		assert.InDelta(t, 0.1, events[0].Time, 1e-12)
	})

	t.Run("SpikeEventsNotRecorded", func(t *testing.T) {
		_, err := r.RecordedSpikeEvents(ng)
		assert.ErrorIs(t, err, ErrNotAllocated)
	})
}

func TestRuntime_RecordedSpikes_Batched(t *testing.T) {
	r, ng := recordingRuntime(t, 2, 10, 2)
	rec, err := r.Array("Exc", "recordSpk")
	require.NoError(t, err)
	require.Equal(t, 4, rec.Count())
	require.NoError(t, r.StepTime())
	require.NoError(t, r.StepTime())

	// [timestep][batch] words
	require.NoError(t, rec.SetValues([]float64{1 << 3, 1 << 1, 0, 1 << 9}))
	events, err := r.RecordedSpikes(ng)
	require.NoError(t, err)
	assert.Equal(t, []RecordedEvent{
		{Time: 0, ID: 3, Batch: 0},
		{Time: 0, ID: 1, Batch: 1},
		{Time: 0.1, ID: 9, Batch: 1},
	}, events)

	var buf bytes.Buffer
	require.NoError(t, WriteRecordedEvents(&buf, events, true))
	assert.Equal(t, "Time [ms], Neuron ID, Batch\n0, 3, 0\n0, 1, 1\n0.1, 9, 1\n", buf.String())
}

func connectivityRuntime(t *testing.T, matrix model.MatrixType, batchSize int) (*Runtime, *model.SynapseGroup) {
	m := model.NewModel("net")
	m.BatchSize = batchSize
	pre, post := izhGroup("Pre", 4), izhGroup("Post", 6)
	require.NoError(t, m.AddNeuronGroup(pre))
	require.NoError(t, m.AddNeuronGroup(post))
	sg := &model.SynapseGroup{
		Name: "Syn", Source: pre, Target: post, Matrix: matrix,
		WUModel: model.StaticPulse, MaxConnections: 3,
	}
	require.NoError(t, m.AddSynapseGroup(sg))
	r, _ := newRuntime(t, m, &simt.Generated{}, nil)
	require.NoError(t, r.Allocate(0))
	return r, sg
}

func TestRuntime_SparseConnectivity(t *testing.T) {
	r, sg := connectivityRuntime(t, model.SparseIndividual, 1)

	dok := sparse.NewDOK(4, 6)
	dok.Set(0, 5, 1)
	dok.Set(0, 1, 1)
	dok.Set(2, 0, 1)
	dok.Set(2, 3, 1)
	dok.Set(2, 4, 1)
	dok.Set(3, 2, 1)
	require.NoError(t, r.SetSparseConnectivity(sg, dok.ToCSR()))

	rowLength, err := r.Array("Syn", "rowLength")
	require.NoError(t, err)
	lengths, err := rowLength.Values()
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0, 3, 1}, lengths)

	conn, err := r.SparseConnectivity(sg)
	require.NoError(t, err)
	assert.True(t, mat.Equal(dok, conn))

	t.Run("Weights", func(t *testing.T) {
		g, err := r.Array("Syn", "g")
		require.NoError(t, err)
		// row 2 starts at 2 * MaxConnections
		for k := 0; k < 3; k++ {
			require.NoError(t, g.Set(6+k, float64(k+1)))
		}
		w, err := r.SparseWeights(sg, "g", 0)
		require.NoError(t, err)
		ind, err := r.Array("Syn", "ind")
		require.NoError(t, err)
		for k := 0; k < 3; k++ {
			j, err := ind.Get(6 + k)
			require.NoError(t, err)
			assert.Equal(t, float64(k+1), w.At(2, int(j)))
		}
		assert.Zero(t, w.At(1, 0))
	})

	t.Run("RowOverflow", func(t *testing.T) {
		full := sparse.NewDOK(4, 6)
		for j := 0; j < 4; j++ {
			full.Set(1, j, 1)
		}
		assert.Error(t, r.SetSparseConnectivity(sg, full.ToCSR()))
	})

	t.Run("WrongShape", func(t *testing.T) {
		assert.Error(t, r.SetSparseConnectivity(sg, sparse.NewDOK(6, 4).ToCSR()))
	})

	t.Run("DenseAccessRejected", func(t *testing.T) {
		_, err := r.DenseWeights(sg, "g", 0)
		assert.Error(t, err)
	})
}

func TestRuntime_DenseWeights(t *testing.T) {
	r, sg := connectivityRuntime(t, model.DenseIndividual, 2)
	w := mat.NewDense(4, 6, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 6; j++ {
			w.Set(i, j, float64(10*i+j))
		}
	}
	require.NoError(t, r.SetDenseWeights(sg, "g", 1, w))

	got, err := r.DenseWeights(sg, "g", 1)
	require.NoError(t, err)
	assert.True(t, mat.Equal(w, got))

	other, err := r.DenseWeights(sg, "g", 0)
	require.NoError(t, err)
	assert.Zero(t, mat.Sum(other))

	g, err := r.Array("Syn", "g")
	require.NoError(t, err)
	v, err := g.Get(24 + 2*6 + 3)
	require.NoError(t, err)
	assert.Equal(t, 23.0, v)

	assert.Error(t, r.SetDenseWeights(sg, "g", 2, w), "batch out of range")
	assert.Error(t, r.SetDenseWeights(sg, "g", 0, mat.NewDense(6, 4, nil)))
	_, err = r.SparseConnectivity(sg)
	assert.Error(t, err)
}
