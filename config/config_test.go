package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	p, err := Parse([]byte(`
dialect: OpenCL
automaticCopy: true
blockSizes:
  updateNeuronsKernel: 64
compilerFlags: "-O2"
logLevel: 1
debugLevel: 3
`))
	require.NoError(t, err)
	assert.Equal(t, DialectOpenCL, p.Dialect)
	assert.True(t, p.AutomaticCopy)
	assert.Equal(t, 64, p.BlockSize("updateNeuronsKernel"))
	assert.Equal(t, DefaultBlockSize, p.BlockSize("initializeKernel"))
	assert.Equal(t, "-O2", p.CompilerFlags)
	assert.Len(t, p.DeviceModes, 4, "defaults survive when the key is absent")
	assert.Equal(t, 3, p.DebugLevel)
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
		want string
	}{
		{"Dialect", "dialect: metal", "unknown dialect 'metal'"},
		{"NotWarpMultiple", "blockSizes: {updateNeuronsKernel: 48}", "multiple of 32"},
		{"NonPositive", "blockSizes: {updateNeuronsKernel: 0}", "must be positive"},
		{"Malformed", "blockSizes: [1, 2", "decoding preferences"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParse_DebugCodeAllowsOddBlocks(t *testing.T) {
	p, err := Parse([]byte("debugCode: true\nblockSizes: {updateNeuronsKernel: 1}\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, p.BlockSize("updateNeuronsKernel"))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dialect: cuda\n"), 0o644))
	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DialectCUDA, p.Dialect)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
