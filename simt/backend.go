package simt

import (
	"github.com/notargets/SpikeKernel/config"
	"github.com/notargets/SpikeKernel/logging"
	"github.com/notargets/SpikeKernel/model"
	"github.com/pkg/errors"
)

var (
	ErrNoConnectivityCode   = errors.New("no connectivity building code")
	ErrNoCompatibleStrategy = errors.New("no compatible presynaptic update strategy")
	ErrUnsupportedAccess    = errors.New("unsupported variable access")
)

const (
	// PointerBytes is the size of a device pointer in merged structs
	PointerBytes = 8
	// NumLanes is the warp width assumed by shuffle reductions and recording words
	NumLanes = 32
)

// Backend holds everything fixed at construction that kernel generation needs
type Backend struct {
	prefs      *config.Preferences
	dialect    Dialect
	blockSizes KernelBlockSize
	registry   *Registry
	log        *logging.Logger
}

// NewBackend validates the preferences and builds the block size table, the
// dialect and a registry holding the built-in presynaptic strategies
func NewBackend(prefs *config.Preferences, log *logging.Logger) (*Backend, error) {
	if prefs == nil {
		prefs = config.Default()
	}
	if log == nil {
		log = logging.Discard()
	}
	if err := prefs.Validate(); err != nil {
		return nil, err
	}
	blockSizes, err := NewKernelBlockSize(prefs)
	if err != nil {
		return nil, err
	}
	dialect, err := NewDialect(prefs)
	if err != nil {
		return nil, err
	}
	b := &Backend{
		prefs:      prefs,
		dialect:    dialect,
		blockSizes: blockSizes,
		registry:   NewRegistry(),
		log:        log,
	}
	log.DebugF(logging.DEBUG_LEVEL_INFO, "%s backend, block sizes %v", dialect.Name(), blockSizes)
	return b, nil
}

func (b *Backend) Preferences() *config.Preferences { return b.prefs }
func (b *Backend) Dialect() Dialect                 { return b.dialect }
func (b *Backend) Registry() *Registry              { return b.registry }
func (b *Backend) Logger() *logging.Logger          { return b.log }
func (b *Backend) BlockSizes() KernelBlockSize      { return b.blockSizes }

func (b *Backend) KernelBlockSize(k Kernel) int {
	return b.blockSizes[k]
}

// DeviceVarPrefix prefixes device array symbols. Automatic copy mode keeps a
// single unified copy so no prefix is needed.
func (b *Backend) DeviceVarPrefix() string {
	if b.prefs.AutomaticCopy {
		return ""
	}
	return "d_"
}

// PadSize rounds size up to a multiple of blockSize
func PadSize(size, blockSize int) int {
	if rem := size % blockSize; rem != 0 {
		return size + blockSize - rem
	}
	return size
}

// PadKernelSize rounds size up to the block size of kernel k
func (b *Backend) PadKernelSize(size int, k Kernel) int {
	return PadSize(size, b.blockSizes[k])
}

// PresynapticStrategy selects the strategy that updates sg
func (b *Backend) PresynapticStrategy(sg *model.SynapseGroup) (PresynapticUpdateStrategy, error) {
	return b.registry.Select(sg, b.prefs)
}

// SynapticMatrixRowStride is the row stride the selected strategy stores
// connectivity with, falling back to the maximum row length when no strategy
// fits. The missing strategy is reported when the presynaptic kernel is built.
func (b *Backend) SynapticMatrixRowStride(sg *model.SynapseGroup) int {
	s, err := b.PresynapticStrategy(sg)
	if err != nil {
		return sg.MaxRowLength()
	}
	return s.SynapticMatrixRowStride(sg)
}

func (b *Backend) NumPresynapticUpdateThreads(sg *model.SynapseGroup) (int, error) {
	s, err := b.PresynapticStrategy(sg)
	if err != nil {
		return 0, err
	}
	return s.NumThreads(sg), nil
}

func (b *Backend) NumPostsynapticUpdateThreads(sg *model.SynapseGroup) int {
	if sg.IsSparse() {
		return sg.MaxSourceConnections
	}
	return sg.Source.NumNeurons
}

// NumSynapseDynamicsThreads covers every potential synapse. Sparse groups use
// the maximum row length since actual row lengths are only known on device.
func (b *Backend) NumSynapseDynamicsThreads(sg *model.SynapseGroup) int {
	if sg.IsSparse() {
		return sg.Source.NumNeurons * sg.MaxConnections
	}
	return sg.Source.NumNeurons * sg.Target.NumNeurons
}

// NumConnectivityInitThreads is one thread per row or per column depending on
// which building code the initialiser has
func (b *Backend) NumConnectivityInitThreads(sg *model.SynapseGroup) (int, error) {
	switch {
	case sg.Connectivity != nil && sg.Connectivity.RowBuildCode != "":
		return sg.Source.NumNeurons, nil
	case sg.Connectivity != nil && sg.Connectivity.ColBuildCode != "":
		return sg.Target.NumNeurons, nil
	default:
		return 0, errors.Wrapf(ErrNoConnectivityCode,
			"Cannot calculate number of connectivity init threads without connectivity building code (synapse group '%s')",
			sg.Name)
	}
}

func (b *Backend) NumInitThreads(sg *model.SynapseGroup) int {
	if sg.HasKernelWeights() {
		return sg.KernelSizeFlattened()
	}
	return sg.Target.NumNeurons
}

func (b *Backend) NumCustomUpdateWUInitThreads(cu *model.CustomUpdateWU) int {
	return b.NumInitThreads(cu.Synapse)
}

func numCopies(batched, batchReduction bool, batchSize int) int {
	if batched && !batchReduction {
		return batchSize
	}
	return 1
}

// PaddedNumCustomUpdateThreads sizes a neuron shaped custom update
func (b *Backend) PaddedNumCustomUpdateThreads(cu *model.CustomUpdate, batchSize int) int {
	copies := numCopies(cu.IsBatched(), cu.IsBatchReduction(), batchSize)
	switch {
	case cu.IsNeuronReduction():
		return b.PadKernelSize(NumLanes*copies, KernelCustomUpdate)
	case cu.IsPerNeuron():
		return copies * b.PadKernelSize(cu.Size, KernelCustomUpdate)
	default:
		return b.PadKernelSize(copies, KernelCustomUpdate)
	}
}

// PaddedNumCustomUpdateWUThreads sizes a weight shaped custom update
func (b *Backend) PaddedNumCustomUpdateWUThreads(cu *model.CustomUpdateWU, batchSize int) int {
	sg := cu.Synapse
	copies := numCopies(cu.IsBatched(), cu.IsBatchReduction(), batchSize)
	if sg.HasKernelWeights() {
		return copies * b.PadKernelSize(sg.KernelSizeFlattened(), KernelCustomUpdate)
	}
	return copies * b.PadKernelSize(sg.Source.NumNeurons*sg.MaxRowLength(), KernelCustomUpdate)
}

// PaddedNumCustomUpdateTransposeWUThreads sizes a transpose update, one
// block row of tiles per padded row of the source. The division is exact
// because paddedNumPost is a multiple of the block size.
func (b *Backend) PaddedNumCustomUpdateTransposeWUThreads(cu *model.CustomUpdateWU, batchSize int) int {
	sg := cu.Synapse
	paddedNumPre := b.PadKernelSize(sg.Source.NumNeurons, KernelCustomTransposeUpdate)
	paddedNumPost := b.PadKernelSize(sg.Target.NumNeurons, KernelCustomTransposeUpdate)
	copies := 1
	if cu.IsBatched() {
		copies = batchSize
	}
	return copies * paddedNumPre * paddedNumPost / b.KernelBlockSize(KernelCustomTransposeUpdate)
}

// IsGlobalDeviceRNGRequired reports whether any initialisation or procedural
// connectivity draws from the seeded device generator
func (b *Backend) IsGlobalDeviceRNGRequired(m *model.Model) bool {
	for _, ng := range m.NeuronGroups {
		if ng.IsInitRNGRequired() {
			return true
		}
	}
	for _, sg := range m.SynapseGroups {
		if sg.IsWUInitRNGRequired() || sg.IsProceduralConnectivityRNGRequired() || sg.IsConnectivityInitRNGRequired() {
			return true
		}
	}
	for _, cu := range m.CustomUpdates {
		for _, vi := range cu.VarInit {
			if vi.RequiresRNG() {
				return true
			}
		}
	}
	for _, cu := range m.CustomUpdateWUs {
		for _, vi := range cu.VarInit {
			if vi.RequiresRNG() {
				return true
			}
		}
	}
	return false
}
