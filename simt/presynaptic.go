package simt

import (
	"fmt"

	"github.com/notargets/SpikeKernel/config"
	"github.com/notargets/SpikeKernel/merging"
	"github.com/notargets/SpikeKernel/model"
	"github.com/notargets/SpikeKernel/types"
)

var constUint32 = types.Uint32.AddQualifier(types.QualifierConstant)

// splitSpikeThreads binds spike and thread when several threads share a
// presynaptic spike
func splitSpikeThreads(c *CodeStream, env merging.Environment, threadsPerSpike int) {
	if threadsPerSpike > 1 {
		c.Printf("const unsigned int spike = %s / %d;", c.Expand(env, "$(id)"), threadsPerSpike)
		c.Printf("const unsigned int thread = %s %% %d;", c.Expand(env, "$(id)"), threadsPerSpike)
		return
	}
	c.Printf("const unsigned int spike = %s;", c.Expand(env, "$(id)"))
}

// PreSpan gives every spiking presynaptic neuron its own thread, or
// NumThreadsPerSpike threads, which walk its sparse row
type PreSpan struct{}

func (PreSpan) Name() string { return "PreSpan" }

func (PreSpan) NumThreads(sg *model.SynapseGroup) int {
	return sg.Source.NumNeurons * sg.NumThreadsPerSpike
}

func (PreSpan) SynapticMatrixRowStride(sg *model.SynapseGroup) int {
	return sg.MaxConnections
}

func (PreSpan) IsCompatible(sg *model.SynapseGroup, _ *config.Preferences) bool {
	return sg.SpanType == model.SpanPresynaptic && sg.IsSparse()
}

func (PreSpan) SharedMemoryPerThread(*model.SynapseGroup, int) int { return 0 }

func (PreSpan) GenPreamble(*PresynapticContext) {}

func (PreSpan) GenUpdate(ctx *PresynapticContext, trueSpike bool) {
	c, env := ctx.Stream, ctx.Env
	sfx := ctx.Suffix(trueSpike)
	n := ctx.Archetype().NumThreadsPerSpike
	splitSpikeThreads(c, env, n)

	c.Printf("if (spike < %s) {", c.Expand(env, "$(_src_spk_cnt"+sfx+")["+ctx.SrcSlot+"]"))
	c.Printf("const unsigned int preInd = %s;", c.Expand(env, "$(_src_spk"+sfx+")["+ctx.SrcOffset+"spike]"))
	c.Printf("unsigned int synAddress = preInd * %s;", c.Expand(env, "$(_row_stride)"))
	c.Printf("const unsigned int npost = %s;", c.Expand(env, "$(_row_length)[preInd]"))
	if n > 1 {
		c.Line("synAddress += thread;")
		c.Printf("for(unsigned int i = thread; i < npost; i += %d, synAddress += %d) {", n, n)
	} else {
		c.Line("for(unsigned int i = 0; i < npost; i++, synAddress++) {")
	}
	c.Printf("const unsigned int ipost = %s;", c.Expand(env, "$(_ind)[synAddress]"))

	syn := merging.NewScope(env)
	syn.Add(constUint32, "id_pre", "preInd")
	syn.Add(constUint32, "id_post", "ipost")
	syn.Add(constUint32, "id_syn", "synAddress")
	ctx.EmitSynapse(syn, trueSpike)
	c.Line("}")
	c.Line("}")
}

func (PreSpan) GenPostamble(*PresynapticContext) {}

// PostSpan gives every postsynaptic neuron (or sparse row slot) a thread.
// Blocks stage presynaptic spikes in shared memory and every thread then
// processes its column of each staged row.
type PostSpan struct{}

func (PostSpan) Name() string { return "PostSpan" }

func (PostSpan) NumThreads(sg *model.SynapseGroup) int {
	if sg.IsSparse() {
		return sg.MaxConnections
	}
	return sg.Target.NumNeurons
}

func (PostSpan) SynapticMatrixRowStride(sg *model.SynapseGroup) int {
	if sg.IsSparse() {
		return sg.MaxConnections
	}
	return sg.Target.NumNeurons
}

func (PostSpan) IsCompatible(sg *model.SynapseGroup, _ *config.Preferences) bool {
	return sg.SpanType == model.SpanPostsynaptic && (sg.IsDense() || sg.IsSparse() || sg.IsBitmask())
}

func (PostSpan) SharedMemoryPerThread(*model.SynapseGroup, int) int { return 0 }

func (PostSpan) GenPreamble(*PresynapticContext) {}

func (PostSpan) GenUpdate(ctx *PresynapticContext, trueSpike bool) {
	c, env := ctx.Stream, ctx.Env
	sg := ctx.Archetype()
	sfx := ctx.Suffix(trueSpike)
	ctx.StageSpikes(trueSpike, sg.IsSparse())

	c.Line("// loop through all incoming spikes")
	c.Line("for (unsigned int j = 0; j < numSpikesInBlock; j++) {")
	c.Line("// only work on existing neurons")
	c.Printf("if (%s < %s) {", c.Expand(env, "$(id)"), c.Expand(env, "$(_row_stride)"))

	syn := merging.NewScope(env)
	syn.Add(constUint32, "id_pre", "$(_sh_spk"+sfx+")[j]")
	switch {
	case sg.IsBitmask():
		c.Printf("const uint64_t gid = (%s * (uint64_t)%s) + %s;",
			c.Expand(env, "$(_sh_spk"+sfx+")[j]"), c.Expand(env, "$(_row_stride)"), c.Expand(env, "$(id)"))
		c.Printf("if (%s & (0x80000000 >> (gid & 31))) {", c.Expand(env, "$(_gp)[gid / 32]"))
		syn.Add(constUint32, "id_post", "$(id)")
		syn.Add(constUint32, "id_syn", "(($(_sh_spk"+sfx+")[j] * $(num_post)) + $(id))")
	case sg.IsSparse():
		c.Printf("unsigned int synAddress = (%s * %s) + %s;",
			c.Expand(env, "$(_sh_spk"+sfx+")[j]"), c.Expand(env, "$(_row_stride)"), c.Expand(env, "$(id)"))
		c.Printf("if (%s < %s) {", c.Expand(env, "$(id)"), c.Expand(env, "$(_sh_row_length)[j]"))
		syn.Add(constUint32, "id_post", "$(_ind)[synAddress]")
		syn.Add(constUint32, "id_syn", "synAddress")
	default:
		c.Printf("unsigned int synAddress = (%s * %s) + %s;",
			c.Expand(env, "$(_sh_spk"+sfx+")[j]"), c.Expand(env, "$(num_post)"), c.Expand(env, "$(id)"))
		syn.Add(constUint32, "id_post", "$(id)")
		syn.Add(constUint32, "id_syn", "synAddress")
	}
	ctx.EmitSynapse(syn, trueSpike)
	if sg.IsBitmask() || sg.IsSparse() {
		c.Line("}")
	}
	c.Line("}")
	c.Line("}")
	c.Line("}")
}

func (PostSpan) GenPostamble(*PresynapticContext) {}

// PostSpanBitmask gives each thread a 32 bit word of every staged bitmask
// row and accumulates into shared memory before one global add per target
type PostSpanBitmask struct{}

func (PostSpanBitmask) Name() string { return "PostSpanBitmask" }

func (PostSpanBitmask) NumThreads(sg *model.SynapseGroup) int {
	return (sg.Target.NumNeurons + NumLanes - 1) / NumLanes
}

func (PostSpanBitmask) SynapticMatrixRowStride(sg *model.SynapseGroup) int {
	return PadSize(sg.Target.NumNeurons, NumLanes)
}

func (PostSpanBitmask) IsCompatible(sg *model.SynapseGroup, _ *config.Preferences) bool {
	return sg.SpanType == model.SpanPostsynaptic && sg.IsBitmask() && !sg.IsDendriticDelayRequired()
}

func (PostSpanBitmask) SharedMemoryPerThread(*model.SynapseGroup, int) int { return NumLanes }

func (PostSpanBitmask) GenPreamble(ctx *PresynapticContext) {
	c, env := ctx.Stream, ctx.Env
	tid := ctx.Dialect().ThreadID(0)
	c.Printf("for (unsigned int i = 0; i < %d; i++) {", NumLanes)
	c.Printf("%s[(i * %d) + %s] = 0;", c.Expand(env, "$(_sh_lg)"), ctx.BlockSize, tid)
	c.Line("}")
	c.Line(ctx.Dialect().Barrier())
}

func (PostSpanBitmask) GenUpdate(ctx *PresynapticContext, trueSpike bool) {
	c, env, d := ctx.Stream, ctx.Env, ctx.Dialect()
	sfx := ctx.Suffix(trueSpike)
	tid := d.ThreadID(0)
	c.Printf("const unsigned int rowWords = %s / 32;", c.Expand(env, "$(_row_stride)"))
	ctx.StageSpikes(trueSpike, false)

	c.Line("// loop through all incoming spikes")
	c.Line("for (unsigned int j = 0; j < numSpikesInBlock; j++) {")
	c.Line("// only work on existing neurons")
	c.Printf("if (%s < rowWords) {", c.Expand(env, "$(id)"))
	c.Printf("uint32_t connectivityWord = %s;",
		c.Expand(env, "$(_gp)[($(_sh_spk"+sfx+")[j] * rowWords) + $(id)]"))
	c.Line("unsigned int ibit = 0;")
	c.Line("while(connectivityWord != 0) {")
	c.Line("// bits are stored most significant first so leading zeros skip to the next synapse")
	c.Printf("const int numLZ = %s;", d.CountLeadingZeros("connectivityWord"))
	c.Line("connectivityWord = (numLZ == 31) ? 0 : (connectivityWord << (numLZ + 1));")
	c.Line("ibit += numLZ;")
	c.Printf("const unsigned int ipost = ibit + (%s * 32);", c.Expand(env, "$(id)"))

	syn := merging.NewScope(env)
	syn.Add(constUint32, "id_pre", "$(_sh_spk"+sfx+")[j]")
	syn.Add(constUint32, "id_post", "ipost")
	syn.Add(constUint32, "id_syn", "(($(_sh_spk"+sfx+")[j] * $(num_post)) + ipost)")
	syn.Add(ctx.Scalar, "addToPost", fmt.Sprintf("$(_sh_lg)[(ibit * %d) + %s] += $(0)", ctx.BlockSize, tid))
	ctx.EmitSynapse(syn, trueSpike)
	c.Line("ibit++;")
	c.Line("}")
	c.Line("}")
	c.Line("}")
	c.Line("}")
}

func (PostSpanBitmask) GenPostamble(ctx *PresynapticContext) {
	c, env := ctx.Stream, ctx.Env
	tid := ctx.Dialect().ThreadID(0)
	postIndex := "ipost"
	if ctx.Batched {
		postIndex = "$(_post_batch_offset) + ipost"
	}
	c.Line(ctx.Dialect().Barrier())
	c.Printf("for (unsigned int i = 0; i < %d; i++) {", NumLanes)
	c.Printf("const unsigned int ipost = (%s * 32) + i;", c.Expand(env, "$(id)"))
	c.Printf("if (ipost < %s) {", c.Expand(env, "$(num_post)"))
	c.Printf("%s(&%s[%s], %s[(i * %d) + %s]);", ctx.AtomicAddGlobal(),
		c.Expand(env, "$(_out_post)"), c.Expand(env, postIndex), c.Expand(env, "$(_sh_lg)"), ctx.BlockSize, tid)
	c.Line("}")
	c.Line("}")
}

// PreSpanProcedural regenerates each spiking neuron's row from its row
// building code every time it spikes so no connectivity is stored
type PreSpanProcedural struct{}

func (PreSpanProcedural) Name() string { return "PreSpanProcedural" }

func (PreSpanProcedural) NumThreads(sg *model.SynapseGroup) int {
	return sg.Source.NumNeurons * sg.NumThreadsPerSpike
}

func (PreSpanProcedural) SynapticMatrixRowStride(sg *model.SynapseGroup) int {
	return sg.MaxConnections
}

func (PreSpanProcedural) IsCompatible(sg *model.SynapseGroup, _ *config.Preferences) bool {
	return sg.IsProcedural() && sg.Connectivity != nil && sg.Connectivity.RowBuildCode != ""
}

func (PreSpanProcedural) SharedMemoryPerThread(*model.SynapseGroup, int) int { return 0 }

func (PreSpanProcedural) GenPreamble(*PresynapticContext) {}

func (PreSpanProcedural) GenUpdate(ctx *PresynapticContext, trueSpike bool) {
	c, env, d := ctx.Stream, ctx.Env, ctx.Dialect()
	sg := ctx.Archetype()
	sfx := ctx.Suffix(trueSpike)
	n := sg.NumThreadsPerSpike
	splitSpikeThreads(c, env, n)

	c.Printf("if (spike < %s) {", c.Expand(env, "$(_src_spk_cnt"+sfx+")["+ctx.SrcSlot+"]"))
	c.Printf("const unsigned int preInd = %s;", c.Expand(env, "$(_src_spk"+sfx+")["+ctx.SrcOffset+"spike]"))

	syn := merging.NewScope(env)
	syn.Add(constUint32, "id_pre", "preInd")
	syn.Add(constUint32, "id_post", "ipost")
	syn.Add(constUint32, "id_kernel", "ikernel")

	conn := merging.NewScope(ctx.ConnEnv(syn))
	conn.Add(constUint32, "id_pre", "preInd")
	conn.Add(constUint32, "id_post_begin", "0")
	conn.Add(constUint32, "id_thread", "0")
	conn.Add(constUint32, "num_threads", "1")
	if sg.IsProceduralConnectivityRNGRequired() {
		// Rows are regenerated on every spike so each row draws from a
		// stream fixed by the group and presynaptic index
		conn.AddInitialised(types.Void, "_conn_rng", "initRNG",
			d.GlobalRNGSkipAhead("((uint64_t)$(_conn_rng_base) << 32) + preInd"))
		for name, call := range d.RNGFunctions("$(_conn_rng)", ctx.Scalar) {
			conn.Add(ctx.Scalar, name, call)
		}
	}

	body := NewCodeStream()
	body.Line("do {")
	body.Line("const unsigned int ipost = $(0);")
	if sg.HasKernelWeights() {
		body.Line("const unsigned int ikernel = $(1);")
	}
	if n > 1 {
		body.Printf("if ((ipost %% %d) == thread) {", n)
	}
	body.Line(ctx.SynapseCode(trueSpike))
	if n > 1 {
		body.Line("}")
	}
	body.Line("} while(false)")
	conn.Add(types.Void, "addSynapse", body.String())

	emitScoped(c, conn, func(c *CodeStream) {
		c.Code(conn, sg.Connectivity.RowBuildCode)
	})
	c.Line("}")
}

func (PreSpanProcedural) GenPostamble(*PresynapticContext) {}

// PostSpanToeplitz gives every diagonal of a Toeplitz matrix a thread which
// runs the diagonal building code for each staged spike
type PostSpanToeplitz struct{}

func (PostSpanToeplitz) Name() string { return "PostSpanToeplitz" }

func (PostSpanToeplitz) NumThreads(sg *model.SynapseGroup) int {
	return sg.Toeplitz.MaxRowLength
}

func (PostSpanToeplitz) SynapticMatrixRowStride(sg *model.SynapseGroup) int {
	return sg.Toeplitz.MaxRowLength
}

func (PostSpanToeplitz) IsCompatible(sg *model.SynapseGroup, _ *config.Preferences) bool {
	return sg.IsToeplitz() && sg.Toeplitz != nil
}

func (PostSpanToeplitz) SharedMemoryPerThread(*model.SynapseGroup, int) int { return 0 }

func (PostSpanToeplitz) GenPreamble(*PresynapticContext) {}

func (PostSpanToeplitz) GenUpdate(ctx *PresynapticContext, trueSpike bool) {
	c, env := ctx.Stream, ctx.Env
	sg := ctx.Archetype()
	sfx := ctx.Suffix(trueSpike)
	ctx.StageSpikes(trueSpike, false)

	c.Line("// loop through all incoming spikes")
	c.Line("for (unsigned int j = 0; j < numSpikesInBlock; j++) {")
	c.Line("// only work on existing diagonals")
	c.Printf("if (%s < %s) {", c.Expand(env, "$(id)"), c.Expand(env, "$(_row_stride)"))
	c.Printf("const unsigned int ipre = %s;", c.Expand(env, "$(_sh_spk"+sfx+")[j]"))

	syn := merging.NewScope(env)
	syn.Add(constUint32, "id_pre", "ipre")
	syn.Add(constUint32, "id_post", "ipost")
	syn.Add(constUint32, "id_kernel", "ikernel")

	diag := merging.NewScope(ctx.ConnEnv(syn))
	diag.Add(constUint32, "id_pre", "ipre")
	diag.Add(constUint32, "id_diag", "$(id)")

	body := NewCodeStream()
	body.Line("do {")
	body.Line("const unsigned int ipost = $(0);")
	body.Line("const unsigned int ikernel = $(1);")
	body.Line(ctx.SynapseCode(trueSpike))
	body.Line("} while(false)")
	diag.Add(types.Void, "addSynapse", body.String())

	emitScoped(c, diag, func(c *CodeStream) {
		c.Code(diag, sg.Toeplitz.DiagonalBuildCode)
	})
	c.Line("}")
	c.Line("}")
	c.Line("}")
}

func (PostSpanToeplitz) GenPostamble(*PresynapticContext) {}
