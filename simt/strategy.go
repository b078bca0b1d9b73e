package simt

import (
	"github.com/notargets/SpikeKernel/config"
	"github.com/notargets/SpikeKernel/merging"
	"github.com/notargets/SpikeKernel/model"
	"github.com/notargets/SpikeKernel/types"
	"github.com/pkg/errors"
)

// PresynapticUpdateStrategy decides how the threads of the presynaptic update
// kernel walk a synapse group's connectivity when presynaptic neurons spike
type PresynapticUpdateStrategy interface {
	Name() string
	// NumThreads is the unpadded thread count for sg
	NumThreads(sg *model.SynapseGroup) int
	SynapticMatrixRowStride(sg *model.SynapseGroup) int
	IsCompatible(sg *model.SynapseGroup, prefs *config.Preferences) bool
	// SharedMemoryPerThread is the number of scalars of shLg each thread needs
	SharedMemoryPerThread(sg *model.SynapseGroup, blockSize int) int

	GenPreamble(ctx *PresynapticContext)
	GenUpdate(ctx *PresynapticContext, trueSpike bool)
	GenPostamble(ctx *PresynapticContext)
}

// Registry is the ordered list of strategies a backend chooses from.
// Strategies registered later are tried first.
type Registry struct {
	strategies []PresynapticUpdateStrategy
}

// NewRegistry returns a registry holding the built-in strategies
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(PreSpan{})
	r.Register(PostSpan{})
	r.Register(PreSpanProcedural{})
	r.Register(PostSpanBitmask{})
	r.Register(PostSpanToeplitz{})
	return r
}

// Register adds s with priority over everything registered before it
func (r *Registry) Register(s PresynapticUpdateStrategy) {
	r.strategies = append(r.strategies, s)
}

func (r *Registry) Strategies() []PresynapticUpdateStrategy {
	return r.strategies
}

// Select returns the most recently registered strategy compatible with sg
func (r *Registry) Select(sg *model.SynapseGroup, prefs *config.Preferences) (PresynapticUpdateStrategy, error) {
	for i := len(r.strategies) - 1; i >= 0; i-- {
		if r.strategies[i].IsCompatible(sg, prefs) {
			return r.strategies[i], nil
		}
	}
	return nil, errors.Wrapf(ErrNoCompatibleStrategy,
		"Unable to find a suitable presynaptic update strategy for synapse group '%s'", sg.Name)
}

// PresynapticContext carries what a strategy needs to emit one merged
// group's share of the presynaptic update kernel
type PresynapticContext struct {
	Stream    *CodeStream
	Backend   *Backend
	Group     *SynapseMerged
	Env       *merging.Scope
	BlockSize int
	Scalar    types.ResolvedType
	Batched   bool

	// SrcSlot indexes the source spike count array, SrcOffset (possibly
	// empty, otherwise ending in "+ ") offsets into the spike array
	SrcSlot   string
	SrcOffset string
	// ConnEnv binds the row or diagonal building code's parameters
	ConnEnv func(parent merging.Environment) merging.Environment
}

func (ctx *PresynapticContext) Archetype() *model.SynapseGroup { return ctx.Group.Archetype() }
func (ctx *PresynapticContext) Dialect() Dialect               { return ctx.Backend.Dialect() }

// Suffix picks the spike or spike-like event array names
func (ctx *PresynapticContext) Suffix(trueSpike bool) string {
	if trueSpike {
		return ""
	}
	return "_evnt"
}

// AtomicAddGlobal is the add used to accumulate into global scalar arrays
func (ctx *PresynapticContext) AtomicAddGlobal() string {
	return ctx.Dialect().Atomic(ctx.Scalar, AtomicAdd, false)
}

// SynapseCode returns the weight update code run per synapse
func (ctx *PresynapticContext) SynapseCode(trueSpike bool) string {
	if trueSpike {
		return ctx.Archetype().WUModel.SimCode
	}
	return ctx.Archetype().WUModel.EventCode
}

// EmitSynapse writes the weight update code against scope. Initialisers of
// scope that the code uses are written first.
func (ctx *PresynapticContext) EmitSynapse(scope *merging.Scope, trueSpike bool) {
	emitScoped(ctx.Stream, scope, func(c *CodeStream) {
		c.Code(scope, ctx.SynapseCode(trueSpike))
	})
}

// StageSpikes writes the loop head that copies one block of presynaptic
// spikes into shared memory. The caller closes the loop.
func (ctx *PresynapticContext) StageSpikes(trueSpike, rowLengths bool) {
	c, d, bs := ctx.Stream, ctx.Dialect(), ctx.BlockSize
	sfx := ctx.Suffix(trueSpike)
	tid := d.ThreadID(0)
	c.Printf("const unsigned int numSpikes = %s;",
		c.Expand(ctx.Env, "$(_src_spk_cnt"+sfx+")["+ctx.SrcSlot+"]"))
	c.Printf("const unsigned int numSpikeBlocks = (numSpikes + %d - 1) / %d;", bs, bs)
	c.Line("for (unsigned int r = 0; r < numSpikeBlocks; r++) {")
	c.Printf("const unsigned int numSpikesInBlock = (r == numSpikeBlocks - 1) ? ((numSpikes - 1) %% %d) + 1 : %d;", bs, bs)
	c.Line(d.Barrier())
	c.Printf("if (%s < numSpikesInBlock) {", tid)
	c.Printf("const unsigned int spk = %s;",
		c.Expand(ctx.Env, "$(_src_spk"+sfx+")["+ctx.SrcOffset+"(r * "+itoa(bs)+") + "+tid+"]"))
	c.Code(ctx.Env, "$(_sh_spk"+sfx+")["+tid+"] = spk;")
	if rowLengths {
		c.Code(ctx.Env, "$(_sh_row_length)["+tid+"] = $(_row_length)[spk];")
	}
	c.Line("}")
	c.Line(d.Barrier())
}
