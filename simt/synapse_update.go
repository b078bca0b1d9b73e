package simt

import (
	"fmt"

	"github.com/notargets/SpikeKernel/logging"
	"github.com/notargets/SpikeKernel/merging"
	"github.com/notargets/SpikeKernel/model"
	"github.com/pkg/errors"
)

// presynapticSource gives the slot and offset presynaptic spikes are read
// from, honouring the axonal delay
func (g *generator) presynapticSource(sg *model.SynapseGroup) (slot, offset string) {
	switch {
	case sg.Source.IsDelayRequired():
		return "$(_pre_delay_slot)", "$(_pre_delay_offset) + "
	case g.m.BatchSize > 1:
		return "$(batch)", "$(_pre_batch_offset) + "
	default:
		return "$(batch)", ""
	}
}

// postsynapticSource is presynapticSource for the target's spikes, honouring
// the back-propagation delay
func (g *generator) postsynapticSource(sg *model.SynapseGroup) (slot, offset string) {
	switch {
	case sg.Target.IsDelayRequired():
		return "$(_post_delay_slot)", "$(_post_delay_offset) + "
	case g.m.BatchSize > 1:
		return "$(batch)", "$(_post_batch_offset) + "
	default:
		return "$(batch)", ""
	}
}

// genPresynapticUpdateKernel propagates the spikes and spike-like events of
// every synapse group using the strategy the backend selects for it
func (g *generator) genPresynapticUpdateKernel() (KernelSource, error) {
	kb := g.newKernel(KernelPresynapticUpdate, KernelPresynapticUpdate.String())
	kb.useBatchGrid()
	bs := kb.bs

	strategies := make(map[int]PresynapticUpdateStrategy, len(g.mm.PresynapticUpdate))
	shLg := 0
	for _, mg := range g.mm.PresynapticUpdate {
		s, err := g.b.PresynapticStrategy(mg.Archetype())
		if err != nil {
			return KernelSource{}, err
		}
		strategies[mg.Index()] = s
		shLg = max(shLg, s.SharedMemoryPerThread(mg.Archetype(), bs))
		g.log.DebugF(logging.DEBUG_LEVEL_INFO, "synapse group '%s' uses %s", mg.Archetype().Name, s.Name())
	}
	kb.shared("unsigned int", "_sh_spk", "shSpk", bs)
	kb.shared("unsigned int", "_sh_spk_evnt", "shSpkEvnt", bs)
	kb.shared("unsigned int", "_sh_row_length", "shRowLength", bs)
	if shLg > 0 {
		kb.shared(g.scalar.Name(), "_sh_lg", "shLg", shLg*bs)
	}

	genParallelGroup(kb, g.mm.PresynapticUpdate, 0,
		func(sg *model.SynapseGroup) int {
			n, _ := g.b.NumPresynapticUpdateThreads(sg)
			return n
		},
		func(c *CodeStream, mg *SynapseMerged, scope *merging.Scope) {
			sg := mg.Archetype()
			s := strategies[mg.Index()]
			env := g.synapseEnv(scope, mg)
			slot, offset := g.presynapticSource(sg)
			ctx := &PresynapticContext{
				Backend:   g.b,
				Group:     mg,
				Env:       env,
				BlockSize: bs,
				Scalar:    g.scalar,
				Batched:   g.m.BatchSize > 1,
				SrcSlot:   slot,
				SrcOffset: offset,
				ConnEnv: func(parent merging.Environment) merging.Environment {
					return g.connectivityEnv(parent, mg)
				},
			}
			emitScoped(c, env, func(c *CodeStream) {
				ctx.Stream = c
				s.GenPreamble(ctx)
				if sg.IsPresynapticSpikeEventRequired() {
					c.Line("// process presynaptic events: spike type events")
					c.Scope(func() { s.GenUpdate(ctx, false) })
				}
				if sg.IsPresynapticSpikeRequired() {
					c.Line("// process presynaptic events: true spikes")
					c.Scope(func() { s.GenUpdate(ctx, true) })
				}
				s.GenPostamble(ctx)
			})
		})
	return kb.finish()
}

// genPostsynapticUpdateKernel runs learning code for the synapses of every
// postsynaptic spike. Threads span the presynaptic population, or the
// column stride for sparse groups which reach synapses through the remap.
func (g *generator) genPostsynapticUpdateKernel() (KernelSource, error) {
	kb := g.newKernel(KernelPostsynapticUpdate, KernelPostsynapticUpdate.String())
	kb.useBatchGrid()
	bs := kb.bs
	d := g.d
	tid := d.ThreadID(0)
	kb.shared("unsigned int", "_sh_spk", "shSpk", bs)
	kb.shared("unsigned int", "_sh_col_length", "shColLength", bs)

	for _, mg := range g.mm.PostsynapticUpdate {
		if sg := mg.Archetype(); !sg.IsSparse() && !sg.IsDense() {
			return KernelSource{}, errors.Errorf("synapse group '%s': postsynaptic learning needs dense or sparse connectivity", sg.Name)
		}
	}

	genParallelGroup(kb, g.mm.PostsynapticUpdate, 0, g.b.NumPostsynapticUpdateThreads,
		func(c *CodeStream, mg *SynapseMerged, scope *merging.Scope) {
			sg := mg.Archetype()
			env := g.synapseEnv(scope, mg)
			slot, offset := g.postsynapticSource(sg)
			emitScoped(c, env, func(c *CodeStream) {
				c.Printf("const unsigned int numSpikes = %s;", c.Expand(env, "$(_trg_spk_cnt)["+slot+"]"))
				c.Printf("const unsigned int numSpikeBlocks = (numSpikes + %d) / %d;", bs-1, bs)
				c.Line("for (unsigned int r = 0; r < numSpikeBlocks; r++) {")
				c.Printf("const unsigned int numSpikesInBlock = (r == numSpikeBlocks - 1) ? ((numSpikes - 1) %% %d) + 1 : %d;", bs, bs)
				c.Line(d.Barrier())
				c.Printf("if (%s < numSpikesInBlock) {", tid)
				c.Printf("const unsigned int spk = %s;",
					c.Expand(env, fmt.Sprintf("$(_trg_spk)[%s(r * %d) + %s]", offset, bs, tid)))
				c.Code(env, "$(_sh_spk)["+tid+"] = spk;")
				if sg.IsSparse() {
					c.Code(env, "$(_sh_col_length)["+tid+"] = $(_col_length)[spk];")
				}
				c.Line("}")
				c.Line(d.Barrier())

				c.Line("// only work on existing neurons")
				syn := merging.NewScope(env)
				syn.Add(constUint32, "id_post", "$(_sh_spk)[j]")
				syn.Add(constUint32, "id_syn", "synAddress")
				if sg.IsSparse() {
					c.Code(env, "if ($(id) < $(_col_stride)) {")
					syn.Add(constUint32, "id_pre", "ipre")
				} else {
					c.Code(env, "if ($(id) < $(num_pre)) {")
					syn.Add(constUint32, "id_pre", "$(id)")
				}
				c.Line("// loop through all incoming spikes for learning")
				c.Line("for (unsigned int j = 0; j < numSpikesInBlock; j++) {")
				if sg.IsSparse() {
					c.Code(env, "if ($(id) < $(_sh_col_length)[j]) {")
					c.Code(env, "const unsigned int synAddress = $(_remap)[($(_sh_spk)[j] * $(_col_stride)) + $(id)];")
					c.Code(env, "const unsigned int ipre = synAddress / $(_row_stride);")
				} else {
					c.Code(env, "const unsigned int synAddress = ($(id) * $(_row_stride)) + $(_sh_spk)[j];")
				}
				c.Code(syn, sg.WUModel.LearnPostCode)
				if sg.IsSparse() {
					c.Line("}")
				}
				c.Line("}")
				c.Line("}")
				c.Line("}")
				c.Fail(syn.Err())
			})
		})
	return kb.finish()
}

// genSynapseDynamicsKernel runs continuous synapse code once per potential
// synapse every timestep
func (g *generator) genSynapseDynamicsKernel() (KernelSource, error) {
	kb := g.newKernel(KernelSynapseDynamicsUpdate, KernelSynapseDynamicsUpdate.String())
	kb.useBatchGrid()

	for _, mg := range g.mm.SynapseDynamics {
		if sg := mg.Archetype(); !sg.IsSparse() && !sg.IsDense() {
			return KernelSource{}, errors.Errorf("synapse group '%s': synapse dynamics need dense or sparse connectivity", sg.Name)
		}
	}

	genParallelGroup(kb, g.mm.SynapseDynamics, 0, g.b.NumSynapseDynamicsThreads,
		func(c *CodeStream, mg *SynapseMerged, scope *merging.Scope) {
			sg := mg.Archetype()
			env := g.synapseEnv(scope, mg)
			syn := merging.NewScope(env)
			syn.Add(constUint32, "id_syn", "$(id)")
			emitScoped(c, env, func(c *CodeStream) {
				if sg.IsSparse() {
					c.Code(env, "if ($(id) < ($(num_pre) * $(_row_stride))) {")
					c.Code(env, "const unsigned int row = $(id) / $(_row_stride);")
					c.Code(env, "const unsigned int col = $(id) % $(_row_stride);")
					c.Code(env, "if (col < $(_row_length)[row]) {")
					syn.Add(constUint32, "id_pre", "row")
					syn.Add(constUint32, "id_post", "$(_ind)[$(id)]")
				} else {
					c.Code(env, "if ($(id) < ($(num_pre) * $(num_post))) {")
					syn.Add(constUint32, "id_pre", "($(id) / $(num_post))")
					syn.Add(constUint32, "id_post", "($(id) % $(num_post))")
				}
				c.Code(syn, sg.WUModel.SynapseDynamicsCode)
				if sg.IsSparse() {
					c.Line("}")
				}
				c.Line("}")
				c.Fail(syn.Err())
			})
		})
	return kb.finish()
}
