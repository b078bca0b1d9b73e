package runtime

import (
	"testing"

	"github.com/notargets/SpikeKernel/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArray_GetSet(t *testing.T) {
	for _, tc := range []struct {
		name  string
		typ   types.ResolvedType
		in    float64
		out   float64
		bytes int
	}{
		{"float", types.Float, 0.5, 0.5, 4},
		{"double", types.Double, 0.1, 0.1, 8},
		{"uint32", types.Uint32, 7, 7, 4},
		{"uint8", types.Uint8, 200, 200, 1},
		{"int16", types.Int16, -3, -3, 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a, err := newArray("Exc", "x", tc.typ, 3, HostArrayFactory{})
			require.NoError(t, err)
			assert.Equal(t, 3*tc.bytes, a.Bytes())
			require.NoError(t, a.Set(2, tc.in))
			v, err := a.Get(2)
			require.NoError(t, err)
			assert.Equal(t, tc.out, v)
			v, err = a.Get(0)
			require.NoError(t, err)
			assert.Zero(t, v)

			assert.Error(t, a.Set(3, 1))
			_, err = a.Get(-1)
			assert.Error(t, err)
		})
	}
}

func TestArray_FillAndValues(t *testing.T) {
	a, err := newArray("Syn", "g", types.Float, 4, HostArrayFactory{})
	require.NoError(t, err)
	require.NoError(t, a.Fill(0.25))
	vs, err := a.Values()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, vs)

	require.NoError(t, a.SetValues([]float64{1, 2}))
	vs, err = a.Values()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 0.25, 0.25}, vs)
	assert.Error(t, a.SetValues(make([]float64, 5)))

	a.Zero()
	vs, err = a.Values()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0}, vs)
}

func TestArray_Transfers(t *testing.T) {
	factory := &recordingFactory{}
	a, err := newArray("Exc", "V", types.Float, 8, factory)
	require.NoError(t, err)
	require.Len(t, factory.mems, 1)
	mem := factory.mems[0]
	assert.Len(t, mem.data, 32)

	require.NoError(t, a.Fill(-65))
	require.NoError(t, a.PushRange(2, 3))
	assert.Equal(t, 1, mem.pushes)
	assert.Equal(t, a.Host()[8:20], mem.data[8:20])
	assert.Equal(t, make([]byte, 8), mem.data[:8], "outside the range stays untouched")
	assert.Error(t, a.PushRange(6, 3))

	a.Zero()
	require.NoError(t, a.PullRange(2, 3))
	v, err := a.Get(3)
	require.NoError(t, err)
	assert.Equal(t, -65.0, v)
	v, err = a.Get(0)
	require.NoError(t, err)
	assert.Zero(t, v)

	a.PushToDevice()
	assert.Equal(t, 2, mem.pushes)
	a.PullFromDevice()
	assert.Equal(t, 2, mem.pulls)

	t.Run("EmptyArrayHasNoDeviceMemory", func(t *testing.T) {
		e, err := newArray("Exc", "table", types.Float, 0, factory)
		require.NoError(t, err)
		assert.Nil(t, e.Device())
		assert.Len(t, factory.mems, 1)
		require.NoError(t, e.resize(4, factory))
		assert.Len(t, factory.mems, 2)
		assert.Equal(t, 4, e.Count())
	})
}

func TestArray_Stats(t *testing.T) {
	a, err := newArray("Syn", "g", types.Double, 4, HostArrayFactory{})
	require.NoError(t, err)
	require.NoError(t, a.SetValues([]float64{1, -2, 3, 6}))
	s, err := a.Stats()
	require.NoError(t, err)
	assert.Equal(t, ArrayStats{Count: 4, Sum: 8, Min: -2, Max: 6, Mean: 2}, s)

	empty, err := newArray("Syn", "e", types.Double, 0, HostArrayFactory{})
	require.NoError(t, err)
	_, err = empty.Stats()
	assert.Error(t, err)
}
