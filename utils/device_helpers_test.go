package utils

import (
	"testing"

	"github.com/notargets/SpikeKernel/config"
	"github.com/notargets/SpikeKernel/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDevice_UnknownDialect(t *testing.T) {
	_, err := CreateDevice(config.Default(), "Metal", logging.Discard())
	assert.Error(t, err)
}

func TestCreateDevice_NoMatchingMode(t *testing.T) {
	prefs := config.Default()
	prefs.DeviceModes = []string{`{"mode": "Serial"}`}
	_, err := CreateDevice(prefs, "CUDA", logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CUDA")
}

func TestCreateTestDevice(t *testing.T) {
	device := CreateTestDevice(t, "CUDA")
	assert.Equal(t, "CUDA", device.Mode())
}
