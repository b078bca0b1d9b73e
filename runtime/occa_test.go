package runtime

import (
	"testing"

	"github.com/notargets/SpikeKernel/config"
	"github.com/notargets/SpikeKernel/logging"
	"github.com/notargets/SpikeKernel/model"
	"github.com/notargets/SpikeKernel/simt"
	"github.com/notargets/SpikeKernel/types"
	"github.com/notargets/SpikeKernel/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOCCAArrayFactory_RoundTrip(t *testing.T) {
	device := utils.CreateTestDevice(t, "CUDA")
	factory := OCCAArrayFactory{Device: device}

	a, err := newArray("Exc", "V", types.Float, 16, factory)
	require.NoError(t, err)
	defer a.free()
	require.NoError(t, a.Fill(-65))
	a.PushToDevice()
	a.Zero()
	a.PullFromDevice()
	vs, err := a.Values()
	require.NoError(t, err)
	for _, v := range vs {
		assert.Equal(t, -65.0, v)
	}

	empty, err := factory.Malloc(0)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestCompileKernels(t *testing.T) {
	for _, dialect := range []string{config.DialectCUDA, config.DialectOpenCL} {
		t.Run(dialect, func(t *testing.T) {
			prefs := config.Default()
			prefs.Dialect = dialect
			b, err := simt.NewBackend(prefs, logging.Discard())
			require.NoError(t, err)

			m := model.NewModel("net")
			require.NoError(t, m.AddNeuronGroup(izhGroup("Exc", 100)))
			gen, err := simt.Generate(m, b)
			require.NoError(t, err)

			device := utils.CreateTestDevice(t, gen.Dialect)
			kernels, err := CompileKernels(device, gen, prefs.CompilerFlags)
			require.NoError(t, err)
			defer func() {
				for _, k := range kernels {
					k.Free()
				}
			}()
			assert.Len(t, kernels, len(gen.Kernels))
		})
	}
}
