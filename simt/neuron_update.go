package simt

import (
	"fmt"

	"github.com/notargets/SpikeKernel/merging"
	"github.com/notargets/SpikeKernel/model"
	"github.com/notargets/SpikeKernel/types"
)

// recordingWords is how many 32 bit recording words one block fills
func recordingWords(bs int) int {
	if w := bs / 32; w > 1 {
		return w
	}
	return 1
}

// genNeuronUpdateKernel updates every neuron, collecting spikes and
// spike-like events of a block in shared memory before reserving room in
// the global spike queues with a single atomic per block
func (g *generator) genNeuronUpdateKernel() (KernelSource, error) {
	kb := g.newKernel(KernelNeuronUpdate, KernelNeuronUpdate.String())
	kb.useBatchGrid()
	d := g.d
	bs := kb.bs
	tid := d.ThreadID(0)
	words := recordingWords(bs)

	var recording, events bool
	for _, mg := range g.mm.NeuronUpdate {
		ng := mg.Archetype()
		recording = recording || ng.SpikeRecording || ng.SpikeEventRecording
		events = events || ng.IsSpikeEventRequired()
	}

	c := NewCodeStream()
	c.Printf("%sunsigned int shSpk[%d];", d.SharedPrefix(), bs)
	c.Printf("%sunsigned int shSpkPos;", d.SharedPrefix())
	c.Printf("%sunsigned int shSpkCount;", d.SharedPrefix())
	if events {
		c.Printf("%sunsigned int shSpkEvnt[%d];", d.SharedPrefix(), bs)
		c.Printf("%sunsigned int shSpkEvntPos;", d.SharedPrefix())
		c.Printf("%sunsigned int shSpkEvntCount;", d.SharedPrefix())
	}
	if recording {
		c.Printf("%suint32_t shSpkRecord[%d];", d.SharedPrefix(), words)
		if events {
			c.Printf("%suint32_t shSpkEvntRecord[%d];", d.SharedPrefix(), words)
		}
	}
	c.Printf("if (%s == 0) {", tid)
	c.Line("shSpkCount = 0;")
	c.Line("}")
	if events {
		c.Printf("if (%s == %d) {", tid, min(1, bs-1))
		c.Line("shSpkEvntCount = 0;")
		c.Line("}")
	}
	if recording {
		c.Printf("if (%s < %d) {", tid, words)
		c.Line("shSpkRecord[" + tid + "] = 0;")
		if events {
			c.Line("shSpkEvntRecord[" + tid + "] = 0;")
		}
		c.Line("}")
	}
	kb.prologue = append(kb.prologue, c.String())
	kb.barrier = true

	genParallelGroup(kb, g.mm.NeuronUpdate, 0,
		func(ng *model.NeuronGroup) int { return ng.NumNeurons },
		func(c *CodeStream, mg *NeuronMerged, scope *merging.Scope) {
			g.genNeuronUpdateGroup(c, mg, scope, bs)
		})
	return kb.finish()
}

func (g *generator) genNeuronUpdateGroup(c *CodeStream, mg *NeuronMerged, scope *merging.Scope, bs int) {
	ng := mg.Archetype()
	nm := ng.Model

	fields := merging.NewFieldEnvironment(scope, mg)
	g.addNeuronFields(fields)
	g.addNeuronModelFields(fields)
	idx := g.neuronIndexScope(fields, ng)

	readVars := merging.NewFieldEnvironment(idx, mg)
	readVars.DefineVars(nm.Vars, g.ctx, g.prefix, "", nil, func(v model.Var) string {
		return g.varIndex(v.AccessDims(), neuronDelayOffset(ng, "_read_delay_offset"), "_batch_offset", "$(id)")
	})
	writeVars := merging.NewFieldEnvironment(idx, mg)
	writeVars.DefineVars(nm.Vars, g.ctx, g.prefix, "", nil, func(v model.Var) string {
		return g.varIndex(v.AccessDims(), neuronDelayOffset(ng, "_write_delay_offset"), "_batch_offset", "$(id)")
	})

	locals := merging.NewScope(idx)
	for _, v := range nm.Vars {
		typ, err := v.ResolveType(g.ctx)
		if err != nil {
			c.Fail(err)
			return
		}
		locals.Add(typ, v.Name, "l"+v.Name)
	}
	locals.Add(g.scalar, "Isyn", "Isyn")
	if ng.IsSimRNGRequired() {
		g.addRNG(locals, "lrng")
	}

	emitScoped(c, idx, func(c *CodeStream) {
		g.genNeuronUpdateBody(c, mg, idx, locals, readVars, writeVars, bs)
	})
	c.Fail(readVars.Err())
}

func (g *generator) genNeuronUpdateBody(c *CodeStream, mg *NeuronMerged, idx, locals *merging.Scope,
	readVars, writeVars *neuronFields, bs int) {
	d := g.d
	ng := mg.Archetype()
	nm := ng.Model
	tid := d.ThreadID(0)
	rngIndex := g.batchedIndex("_batch_offset", "$(id)")
	spikeOffset := g.spikeOffset(ng)
	recordingBase := func() string {
		if g.m.BatchSize > 1 {
			return fmt.Sprintf("($(_recording_timestep) * numRecordingWords * %d) + ($(batch) * numRecordingWords)", g.m.BatchSize)
		}
		return "($(_recording_timestep) * numRecordingWords)"
	}
	// blocks narrower than a recording word share words between blocks
	recordDirect := bs%32 != 0

	emitSpike := func(evnt bool) {
		sfx, rec := "", "_record_spk"
		if evnt {
			sfx, rec = "Evnt", "_record_spk_evnt"
		}
		c.Printf("const unsigned int spk%sIdx = %s(&shSpk%sCount, 1);", sfx, d.Atomic(types.Uint32, AtomicAdd, true), sfx)
		c.Code(locals, "shSpk"+sfx+"[spk"+sfx+"Idx] = $(id);")
		recorded := ng.SpikeRecording
		if evnt {
			recorded = ng.SpikeEventRecording
		}
		if !recorded {
			return
		}
		if recordDirect {
			c.Code(locals, "const unsigned int numRecordingWords = ($(num_neurons) + 31) / 32;")
			c.Code(locals, fmt.Sprintf("%s(&$(%s)[%s + ($(id) / 32)], 1 << ($(id) %% 32));",
				d.Atomic(types.Uint32, AtomicOr, false), rec, recordingBase()))
			return
		}
		c.Printf("%s(&shSpk%sRecord[%s / 32], 1 << (%s %% 32));", d.Atomic(types.Uint32, AtomicOr, true), sfx, tid, tid)
	}

	c.Code(locals, "if ($(id) < $(num_neurons)) {")
	if ng.IsSimRNGRequired() {
		c.Printf("%s lrng = %s;", d.PopulationRNGType(), c.Expand(idx, "$(_rng)["+rngIndex+"]"))
	}
	for _, v := range nm.Vars {
		typ, _ := v.ResolveType(g.ctx)
		c.Printf("%s l%s = %s;", typ.Name(), v.Name, c.Expand(readVars, "$("+v.Name+")"))
	}
	if ng.IsDelayRequired() {
		// carry spike times forward into the slot this step writes
		if ng.SpikeTimeRequired {
			c.Code(idx, "$(_spk_time)[$(_write_delay_offset) + $(id)] = $(_spk_time)[$(_read_delay_offset) + $(id)];")
		}
		if ng.PrevSpikeTimeRequired {
			c.Code(idx, "$(_prev_spk_time)[$(_write_delay_offset) + $(id)] = $(_prev_spk_time)[$(_read_delay_offset) + $(id)];")
		}
	}
	c.Blank()
	c.Printf("%s Isyn = 0;", g.scalar.Name())

	for i, sg := range ng.InSyn() {
		i := i
		in := merging.NewFieldEnvironment(locals, mg).WithFieldSuffix("InSyn" + itoa(i))
		inSyn := func(ng *model.NeuronGroup) *model.SynapseGroup { return ng.InSyn()[i] }
		arrayField(in, g.scalar, "_out_post", "outPost", g.prefix,
			func(ng *model.NeuronGroup) (string, string) { return inSyn(ng).Name, "outPost" })
		arrayField(in, g.scalar, "_den_delay", "denDelay", g.prefix,
			func(ng *model.NeuronGroup) (string, string) { return inSyn(ng).Name, "denDelay" })
		arrayField(in, types.Uint32, "_den_delay_ptr", "denDelayPtr", g.prefix,
			func(ng *model.NeuronGroup) (string, string) { return inSyn(ng).Name, "denDelayPtr" })
		outIndex := g.batchedIndex("_batch_offset", "$(id)")

		c.Printf("// pull inSyn values from postsynaptic input %d", i)
		c.Line("{")
		c.Printf("%s linSyn = %s;", g.scalar.Name(), c.Expand(in, "$(_out_post)["+outIndex+"]"))
		if sg.IsDendriticDelayRequired() {
			numSlots := sg.MaxDendriticDelayTimesteps
			c.Code(in, fmt.Sprintf("const unsigned int denDelayFront = ((%s*$(_den_delay_ptr)) * $(num_neurons)) + $(id);",
				batchSlots(g.m.BatchSize, numSlots)))
			c.Code(in, "linSyn += $(_den_delay)[denDelayFront];")
			c.Code(in, "$(_den_delay)[denDelayFront] = 0;")
		}
		c.Line("Isyn += linSyn;")
		c.Code(in, "$(_out_post)["+outIndex+"] = 0;")
		c.Line("}")
	}

	for j := range ng.CurrentSources() {
		j := j
		member := func(ng *model.NeuronGroup) *model.CurrentSource { return ng.CurrentSources()[j] }
		cs := member(ng)
		env := merging.NewFieldEnvironment(locals, mg).WithFieldSuffix("CS" + itoa(j)).
			WithOwner(func(ng *model.NeuronGroup) string { return member(ng).Name })
		params := func(ng *model.NeuronGroup) map[string]float64 { return member(ng).Params }
		env.DefineHeterogeneousParams(cs.Model.ParamNames, "", g.scalar, params,
			func(ng *model.NeuronGroup) map[string]bool { return member(ng).DynamicParams })
		env.DefineHeterogeneousDerivedParams(cs.Model.DerivedParams, "", g.scalar, params, g.m.DT)
		env.DefineEGPs(cs.Model.EGPs, g.ctx, g.prefix, "", nil)
		env.DefineVars(cs.Model.Vars, g.ctx, g.prefix, "",
			func(ng *model.NeuronGroup) string { return member(ng).Name },
			func(v model.Var) string { return g.varIndex(v.AccessDims(), "", "_batch_offset", "$(id)") })
		s := merging.NewScope(env)
		s.Add(types.Void, "injectCurrent", "Isyn += $(0)")

		c.Printf("// current source %d", j)
		c.Line("{")
		c.Code(s, cs.Model.InjectionCode)
		c.Line("}")
		c.Fail(s.Err())
	}

	if nm.SimCode != "" {
		c.Line("// calculate membrane potential")
		c.Code(locals, nm.SimCode)
	}

	evntSyns := eventSynapses(ng)
	if len(evntSyns) > 0 {
		c.Line("bool spikeLikeEvent = false;")
		for k, sg := range evntSyns {
			k := k
			member := func(ng *model.NeuronGroup) *model.SynapseGroup { return eventSynapses(ng)[k] }
			env := merging.NewFieldEnvironment(locals, mg).WithFieldSuffix("EventThresh" + itoa(k)).
				WithOwner(func(ng *model.NeuronGroup) string { return member(ng).Name })
			params := func(ng *model.NeuronGroup) map[string]float64 { return member(ng).WUParams }
			env.DefineHeterogeneousParams(sg.WUModel.ParamNames, "", g.scalar, params,
				func(ng *model.NeuronGroup) map[string]bool { return member(ng).WUDynamicParams })
			env.DefineHeterogeneousDerivedParams(sg.WUModel.DerivedParams, "", g.scalar, params, g.m.DT)
			env.DefineEGPs(sg.WUModel.EGPs, g.ctx, g.prefix, "", nil)
			s := merging.NewScope(env)
			for _, v := range nm.Vars {
				typ, _ := v.ResolveType(g.ctx)
				s.Add(typ, v.Name+"_pre", "l"+v.Name)
			}
			c.Line("{")
			c.Printf("spikeLikeEvent |= (%s);", c.Expand(s, sg.WUModel.EventThresholdConditionCode))
			c.Line("}")
			c.Fail(s.Err())
		}
		c.Line("// register a spike-like event")
		c.Line("if (spikeLikeEvent) {")
		emitSpike(true)
		c.Line("}")
	}

	if nm.ThresholdConditionCode != "" {
		c.Line("// test for and register a true spike")
		c.Printf("if (%s) {", c.Expand(locals, nm.ThresholdConditionCode))
		emitSpike(false)
		if nm.ResetCode != "" {
			c.Line("// spike reset code")
			c.Code(locals, nm.ResetCode)
		}
		c.Line("}")
	}

	for _, v := range nm.Vars {
		if v.Access.IsReadOnly() && !ng.IsDelayRequired() {
			continue
		}
		c.Code(writeVars, "$("+v.Name+") = l"+v.Name+";")
	}
	if ng.IsSimRNGRequired() {
		c.Printf("%s = lrng;", c.Expand(idx, "$(_rng)["+rngIndex+"]"))
	}
	c.Line("}")

	c.Line(d.Barrier())
	spikeSlot := g.spikeSlot(ng)
	reserve := func(sfx, cnt string, thread int) {
		c.Printf("if (%s == %d) {", tid, thread)
		c.Printf("if (shSpk%sCount > 0) {", sfx)
		c.Printf("shSpk%sPos = %s;", sfx,
			c.Expand(idx, d.Atomic(types.Uint32, AtomicAdd, false)+"(&$("+cnt+")["+spikeSlot+"], shSpk"+sfx+"Count)"))
		c.Line("}")
		c.Line("}")
	}
	if ng.IsSpikeEventRequired() {
		reserve("Evnt", "_spk_cnt_evnt", min(1, bs-1))
	}
	if nm.ThresholdConditionCode != "" {
		reserve("", "_spk_cnt", 0)
	}
	c.Line(d.Barrier())

	if ng.IsSpikeEventRequired() {
		c.Printf("if (%s < shSpkEvntCount) {", tid)
		c.Printf("const unsigned int n = shSpkEvnt[%s];", tid)
		c.Code(idx, "$(_spk_evnt)["+spikeOffset+"shSpkEvntPos + "+tid+"] = n;")
		c.Line("}")
	}
	if nm.ThresholdConditionCode != "" {
		c.Printf("if (%s < shSpkCount) {", tid)
		c.Printf("const unsigned int n = shSpk[%s];", tid)
		c.Code(idx, "$(_spk)["+spikeOffset+"shSpkPos + "+tid+"] = n;")
		if ng.SpikeTimeRequired {
			c.Code(idx, "$(_spk_time)["+spikeOffset+"n] = $(t);")
		}
		c.Line("}")
	}

	if (ng.SpikeRecording || ng.SpikeEventRecording) && !recordDirect {
		words := recordingWords(bs)
		c.Printf("if (%s < %d) {", tid, words)
		c.Code(idx, "const unsigned int numRecordingWords = ($(num_neurons) + 31) / 32;")
		c.Code(idx, "const unsigned int popWordIdx = (($(id) - "+tid+") / 32) + "+tid+";")
		c.Line("if (popWordIdx < numRecordingWords) {")
		if ng.SpikeRecording {
			c.Code(idx, "$(_record_spk)["+recordingBase()+" + popWordIdx] = shSpkRecord["+tid+"];")
		}
		if ng.SpikeEventRecording {
			c.Code(idx, "$(_record_spk_evnt)["+recordingBase()+" + popWordIdx] = shSpkEvntRecord["+tid+"];")
		}
		c.Line("}")
		c.Line("}")
	}
}
