package simt

import (
	"fmt"

	"github.com/notargets/SpikeKernel/merging"
	"github.com/notargets/SpikeKernel/model"
	"github.com/notargets/SpikeKernel/types"
)

// genNeuronSpikeQueueUpdateKernel advances the delay queue of every delayed
// population and clears the spike counts the coming neuron update fills.
// One thread serves a whole population.
func (g *generator) genNeuronSpikeQueueUpdateKernel() (KernelSource, error) {
	kb := g.newKernel(KernelNeuronSpikeQueueUpdate, KernelNeuronSpikeQueueUpdate.String())
	genGroupCountDispatch(kb, g.mm.NeuronSpikeQueueUpdate, 0,
		func(c *CodeStream, mg *NeuronMerged, scope *merging.Scope) {
			ng := mg.Archetype()
			env := merging.NewFieldEnvironment(scope, mg)
			own := ownArray[*model.NeuronGroup]
			arrayField(env, types.Uint32, "_spk_cnt", "spkCnt", g.prefix, own("spkCnt"))
			arrayField(env, types.Uint32, "_spk_cnt_evnt", "spkCntEvnt", g.prefix, own("spkCntEvnt"))
			arrayField(env, types.Uint32, "_spk_que_ptr", "spkQuePtr", g.prefix, own("spkQuePtr"))

			numSlots := ng.NumDelaySlots()
			if ng.IsDelayRequired() {
				c.Code(env, fmt.Sprintf("*$(_spk_que_ptr) = (*$(_spk_que_ptr) + 1) %% %d;", numSlots))
			}
			s := merging.NewScope(env)
			slot := "0"
			if ng.IsDelayRequired() {
				slot = "*$(_spk_que_ptr)"
			}
			if g.m.BatchSize > 1 {
				s.Add(constUint32, "batch", "batch")
				c.Printf("for (unsigned int batch = 0; batch < %d; batch++) {", g.m.BatchSize)
				slot = "$(batch)"
				if ng.IsDelayRequired() {
					slot = fmt.Sprintf("($(batch) * %d) + *$(_spk_que_ptr)", numSlots)
				}
			}
			if ng.IsSpikeEventRequired() {
				c.Code(s, "$(_spk_cnt_evnt)["+slot+"] = 0;")
			}
			c.Code(s, "$(_spk_cnt)["+slot+"] = 0;")
			if g.m.BatchSize > 1 {
				c.Line("}")
			}
		})
	return kb.finish()
}

// genNeuronPrevSpikeTimeUpdateKernel stamps the neurons that spiked during
// the previous step with that step's time. It runs before the queue
// advances so the queue pointer still names the slot they were written to.
func (g *generator) genNeuronPrevSpikeTimeUpdateKernel() (KernelSource, error) {
	kb := g.newKernel(KernelNeuronPrevSpikeTimeUpdate, KernelNeuronPrevSpikeTimeUpdate.String())
	kb.useBatchGrid()
	genParallelGroup(kb, g.mm.NeuronPrevSpikeTimeUpdate, 0,
		func(ng *model.NeuronGroup) int { return ng.NumNeurons },
		func(c *CodeStream, mg *NeuronMerged, scope *merging.Scope) {
			ng := mg.Archetype()
			env := merging.NewFieldEnvironment(scope, mg)
			g.addNeuronFields(env)
			s := merging.NewScope(env)
			s.AddInitialised(constUint32, "_batch_offset", "batchOffset",
				"const unsigned int batchOffset = $(num_neurons) * $(batch);")
			slot, offset := "$(batch)", g.batchedIndex("_batch_offset", "")
			if ng.IsDelayRequired() {
				numSlots := ng.NumDelaySlots()
				s.AddInitialised(constUint32, "_last_slot", "lastSlot",
					"const unsigned int lastSlot = "+batchSlots(g.m.BatchSize, numSlots)+"*$(_spk_que_ptr);")
				s.AddInitialised(constUint32, "_last_offset", "lastOffset",
					"const unsigned int lastOffset = $(_last_slot) * $(num_neurons);")
				slot, offset = "$(_last_slot)", "$(_last_offset) + "
			}
			emitScoped(c, s, func(c *CodeStream) {
				c.Code(s, "if ($(id) < $(_spk_cnt)["+slot+"]) {")
				c.Code(s, "$(_prev_spk_time)["+offset+"$(_spk)["+offset+"$(id)]] = $(t) - $(dt);")
				c.Line("}")
			})
		})
	return kb.finish()
}

// genSynapseDendriticDelayUpdateKernel rotates the dendritic delay ring
// buffer of every synapse group that has one
func (g *generator) genSynapseDendriticDelayUpdateKernel() (KernelSource, error) {
	kb := g.newKernel(KernelSynapseDendriticDelayUpdate, KernelSynapseDendriticDelayUpdate.String())
	genGroupCountDispatch(kb, g.mm.SynapseDendriticDelayUpdate, 0,
		func(c *CodeStream, mg *SynapseMerged, scope *merging.Scope) {
			env := merging.NewFieldEnvironment(scope, mg)
			arrayField(env, types.Uint32, "_den_delay_ptr", "denDelayPtr", g.prefix,
				ownArray[*model.SynapseGroup]("denDelayPtr"))
			c.Code(env, fmt.Sprintf("*$(_den_delay_ptr) = (*$(_den_delay_ptr) + 1) %% %d;",
				mg.Archetype().MaxDendriticDelayTimesteps))
		})
	return kb.finish()
}
