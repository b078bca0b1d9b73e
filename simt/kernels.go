package simt

import (
	"github.com/notargets/SpikeKernel/config"
	"github.com/pkg/errors"
)

// Kernel identifies one generated device kernel
type Kernel int

const (
	KernelNeuronUpdate Kernel = iota
	KernelPresynapticUpdate
	KernelPostsynapticUpdate
	KernelSynapseDynamicsUpdate
	KernelInitialize
	KernelInitializeSparse
	KernelNeuronSpikeQueueUpdate
	KernelNeuronPrevSpikeTimeUpdate
	KernelSynapseDendriticDelayUpdate
	KernelCustomUpdate
	KernelCustomTransposeUpdate
	KernelMax
)

var kernelNames = [KernelMax]string{
	"updateNeuronsKernel",
	"updatePresynapticKernel",
	"updatePostsynapticKernel",
	"updateSynapseDynamicsKernel",
	"initializeKernel",
	"initializeSparseKernel",
	"neuronSpikeQueueUpdateKernel",
	"neuronPrevSpikeTimeUpdateKernel",
	"synapseDendriticDelayUpdateKernel",
	"customUpdate",
	"customTransposeUpdate",
}

func (k Kernel) String() string {
	if k < 0 || k >= KernelMax {
		return "unknownKernel"
	}
	return kernelNames[k]
}

// KernelByName maps a kernel's generated name back to its identifier
func KernelByName(name string) (Kernel, bool) {
	for k, n := range kernelNames {
		if n == name {
			return Kernel(k), true
		}
	}
	return KernelMax, false
}

// KernelBlockSize holds the threads per block of every kernel
type KernelBlockSize [KernelMax]int

// NewKernelBlockSize builds the table from preferences. Naming a kernel that
// doesn't exist is an error.
func NewKernelBlockSize(prefs *config.Preferences) (KernelBlockSize, error) {
	var bs KernelBlockSize
	for k := range bs {
		bs[k] = config.DefaultBlockSize
	}
	for name, size := range prefs.BlockSizes {
		k, ok := KernelByName(name)
		if !ok {
			return bs, errors.Errorf("block size given for unknown kernel '%s'", name)
		}
		bs[k] = size
	}
	return bs, nil
}
