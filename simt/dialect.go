package simt

import (
	"github.com/notargets/SpikeKernel/config"
	"github.com/notargets/SpikeKernel/types"
	"github.com/pkg/errors"
)

// AtomicOp is an atomic read-modify-write operator
type AtomicOp int

const (
	AtomicAdd AtomicOp = iota
	AtomicOr
)

// Dialect is everything that differs between the SIMT languages kernels are
// emitted in. The kernel bodies themselves are dialect neutral.
type Dialect interface {
	Name() string
	// Preamble is emitted once at the top of the generated source
	Preamble(scalar, timepoint types.ResolvedType) string
	KernelQualifier() string
	SharedPrefix() string
	// PointerPrefix qualifies pointers to device global memory
	PointerPrefix() string
	ConstantPrefix() string
	// GlobalID is the flat thread ID of a one dimensional launch with blockSize threads per block
	GlobalID(blockSize int) string
	ThreadID(dim int) string
	BlockID(dim int) string
	Barrier() string
	Atomic(typ types.ResolvedType, op AtomicOp, shared bool) string
	ShuffleDown(value, delta string) string
	CountLeadingZeros(value string) string

	PopulationRNGType() string
	// RNGStateBytes is the size of one population RNG state
	RNGStateBytes() int
	// PopulationRNGInit seeds rng, a population RNG lvalue, on stream sequence
	PopulationRNGInit(rng, seed, sequence string) string
	// GlobalRNGSkipAhead declares initRNG, a transient RNG advanced to stream sequence
	GlobalRNGSkipAhead(sequence string) string
	// RNGFunctions binds gennrand_* names to calls drawing from rng
	RNGFunctions(rng string, scalar types.ResolvedType) map[string]string
}

// NewDialect picks the dialect named by the preferences
func NewDialect(prefs *config.Preferences) (Dialect, error) {
	switch prefs.Dialect {
	case config.DialectCUDA:
		return CUDA{}, nil
	case config.DialectOpenCL:
		return OpenCL{}, nil
	default:
		return nil, errors.Errorf("unknown dialect '%s'", prefs.Dialect)
	}
}

func isDouble(t types.ResolvedType) bool {
	return t.ValueName() == types.Double.ValueName()
}
