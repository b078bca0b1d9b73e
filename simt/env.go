package simt

import (
	"fmt"

	"github.com/notargets/SpikeKernel/merging"
	"github.com/notargets/SpikeKernel/model"
	"github.com/notargets/SpikeKernel/types"
)

type (
	neuronFields   = merging.FieldEnvironment[*model.NeuronGroup]
	synapseFields  = merging.FieldEnvironment[*model.SynapseGroup]
	customFields   = merging.FieldEnvironment[*model.CustomUpdate]
	customWUFields = merging.FieldEnvironment[*model.CustomUpdateWU]
)

// arrayField binds name to the pointer field of the runtime array locate
// picks for each member
func arrayField[G merging.Named](env *merging.FieldEnvironment[G], typ types.ResolvedType, name, field, prefix string,
	locate func(g G) (owner, array string)) {
	ptr := typ.CreatePointer()
	env.AddField(ptr, name, ptr, field,
		func(g G, _ int) merging.FieldValue {
			owner, array := locate(g)
			return merging.FieldValue{Owner: owner, Array: array, Symbol: prefix + array + owner}
		}, "", merging.FieldStandard)
}

// ownArray locates an array belonging to the member itself
func ownArray[G merging.Named](array string) func(g G) (string, string) {
	return func(g G) (string, string) { return g.GroupName(), array }
}

// scalarField binds a per-member number as a literal when every member
// agrees and as the struct field named field otherwise
func scalarField[G merging.Named](env *merging.FieldEnvironment[G], typ types.ResolvedType, name, field string,
	value func(g G) float64) {
	constTyp := typ.AddQualifier(types.QualifierConstant)
	if !env.Group().IsHeterogeneous(value) {
		env.Add(constTyp, name, typ.Literal(value(env.Group().Archetype())))
		return
	}
	env.AddField(constTyp, name, typ, field,
		func(g G, _ int) merging.FieldValue { return merging.FieldValue{Owner: g.GroupName(), Scalar: value(g)} },
		"", merging.FieldStandard)
}

// varIndex indexes an array shaped by dims. delayOffset names the binding of
// the delay slot offset when the owner has a delay queue.
func (g *generator) varIndex(dims model.VarAccessDim, delayOffset, batchOffset, id string) string {
	batched := g.m.BatchSize > 1 && dims.Has(model.DimBatch)
	switch {
	case !dims.Has(model.DimElement) && batched:
		return "$(batch)"
	case !dims.Has(model.DimElement):
		return "0"
	case delayOffset != "" && (batched || g.m.BatchSize == 1):
		return "$(" + delayOffset + ") + " + id
	case batched:
		return "$(" + batchOffset + ") + " + id
	default:
		return id
	}
}

// batchedIndex offsets id by batchOffset in batched models
func (g *generator) batchedIndex(batchOffset, id string) string {
	if g.m.BatchSize > 1 {
		return "$(" + batchOffset + ") + " + id
	}
	return id
}

// NeuronVarSize is the number of elements the runtime allocates for a neuron
// variable. Delayed populations keep a copy of every element and batched
// variable per delay slot.
func NeuronVarSize(ng *model.NeuronGroup, v model.Var, batchSize int) int {
	dims := v.AccessDims()
	n := 1
	if dims.Has(model.DimElement) {
		n = ng.NumNeurons
	}
	batched := batchSize > 1 && dims.Has(model.DimBatch)
	if batched {
		n *= batchSize
	}
	if dims.Has(model.DimElement) && ng.IsDelayRequired() && (batched || batchSize == 1) {
		n *= ng.NumDelaySlots()
	}
	return n
}

func batchSlots(batchSize, numSlots int) string {
	if batchSize > 1 {
		return fmt.Sprintf("($(batch) * %d) + ", numSlots)
	}
	return ""
}

// addNeuronFields binds the size, spike queues, spike times, recording
// buffers and population RNG of a neuron merged group
func (g *generator) addNeuronFields(env *neuronFields) {
	p := g.prefix
	scalarField(env, types.Uint32, "num_neurons", "numNeurons",
		func(ng *model.NeuronGroup) float64 { return float64(ng.NumNeurons) })
	own := ownArray[*model.NeuronGroup]
	arrayField(env, types.Uint32, "_spk_cnt", "spkCnt", p, own("spkCnt"))
	arrayField(env, types.Uint32, "_spk", "spk", p, own("spk"))
	arrayField(env, types.Uint32, "_spk_cnt_evnt", "spkCntEvnt", p, own("spkCntEvnt"))
	arrayField(env, types.Uint32, "_spk_evnt", "spkEvnt", p, own("spkEvnt"))
	arrayField(env, types.Uint32, "_spk_que_ptr", "spkQuePtr", p, own("spkQuePtr"))
	arrayField(env, g.timepoint, "_spk_time", "sT", p, own("sT"))
	arrayField(env, g.timepoint, "_prev_spk_time", "prevST", p, own("prevST"))
	arrayField(env, types.Uint32, "_record_spk", "recordSpk", p, own("recordSpk"))
	arrayField(env, types.Uint32, "_record_spk_evnt", "recordSpkEvnt", p, own("recordSpkEvnt"))
	arrayField(env, g.rngType, "_rng", "rng", p, own("rng"))
}

func (g *generator) addNeuronModelFields(env *neuronFields) {
	nm := env.Group().Archetype().Model
	params := func(ng *model.NeuronGroup) map[string]float64 { return ng.Params }
	env.DefineHeterogeneousParams(nm.ParamNames, "", g.scalar, params,
		func(ng *model.NeuronGroup) map[string]bool { return ng.DynamicParams })
	env.DefineHeterogeneousDerivedParams(nm.DerivedParams, "", g.scalar, params, g.m.DT)
	env.DefineEGPs(nm.EGPs, g.ctx, g.prefix, "", nil)
}

// neuronIndexScope binds the batch offset and the delay slots neuron
// kernels index queues with. Only what is used gets declared.
func (g *generator) neuronIndexScope(env merging.Environment, ng *model.NeuronGroup) *merging.Scope {
	s := merging.NewScope(env)
	s.AddInitialised(constUint32, "_batch_offset", "batchOffset",
		"const unsigned int batchOffset = $(num_neurons) * $(batch);")
	if ng.IsDelayRequired() {
		numSlots := ng.NumDelaySlots()
		bs := batchSlots(g.m.BatchSize, numSlots)
		s.AddInitialised(constUint32, "_write_delay_slot", "writeDelaySlot",
			"const unsigned int writeDelaySlot = "+bs+"*$(_spk_que_ptr);")
		s.AddInitialised(constUint32, "_read_delay_slot", "readDelaySlot",
			fmt.Sprintf("const unsigned int readDelaySlot = %s((*$(_spk_que_ptr) + %d) %% %d);", bs, numSlots-1, numSlots))
		s.AddInitialised(constUint32, "_write_delay_offset", "writeDelayOffset",
			"const unsigned int writeDelayOffset = $(_write_delay_slot) * $(num_neurons);")
		s.AddInitialised(constUint32, "_read_delay_offset", "readDelayOffset",
			"const unsigned int readDelayOffset = $(_read_delay_slot) * $(num_neurons);")
	}
	return s
}

// spikeSlot and spikeOffset index a neuron group's spike count and spike
// arrays at the slot the current timestep writes
func (g *generator) spikeSlot(ng *model.NeuronGroup) string {
	if ng.IsDelayRequired() {
		return "$(_write_delay_slot)"
	}
	return "$(batch)"
}

func (g *generator) spikeOffset(ng *model.NeuronGroup) string {
	switch {
	case ng.IsDelayRequired():
		return "$(_write_delay_offset) + "
	case g.m.BatchSize > 1:
		return "$(_batch_offset) + "
	default:
		return ""
	}
}

func neuronDelayOffset(ng *model.NeuronGroup, offset string) string {
	if ng.IsDelayRequired() {
		return offset
	}
	return ""
}

// synapseRNGBase gives every synapse group its own block of procedural
// connectivity streams above the initialisation streams
func (g *generator) synapseRNGBase(sg *model.SynapseGroup) float64 {
	return float64(g.synIndex[sg] + 1)
}

// addSynapseFields binds sizes, strides, pre and postsynaptic spike queues,
// connectivity arrays and postsynaptic outputs of a synapse merged group
func (g *generator) addSynapseFields(env *synapseFields) {
	p := g.prefix
	sgArch := env.Group().Archetype()
	scalarField(env, types.Uint32, "num_pre", "numSrcNeurons",
		func(sg *model.SynapseGroup) float64 { return float64(sg.Source.NumNeurons) })
	scalarField(env, types.Uint32, "num_post", "numTrgNeurons",
		func(sg *model.SynapseGroup) float64 { return float64(sg.Target.NumNeurons) })
	scalarField(env, types.Uint32, "_row_stride", "rowStride",
		func(sg *model.SynapseGroup) float64 { return float64(g.b.SynapticMatrixRowStride(sg)) })
	scalarField(env, types.Uint32, "_col_stride", "colStride",
		func(sg *model.SynapseGroup) float64 { return float64(sg.MaxSourceConnections) })
	scalarField(env, types.Uint32, "_conn_rng_base", "connRNGBase", g.synapseRNGBase)

	src := func(array string) func(sg *model.SynapseGroup) (string, string) {
		return func(sg *model.SynapseGroup) (string, string) { return sg.Source.Name, array }
	}
	trg := func(array string) func(sg *model.SynapseGroup) (string, string) {
		return func(sg *model.SynapseGroup) (string, string) { return sg.Target.Name, array }
	}
	own := ownArray[*model.SynapseGroup]
	arrayField(env, types.Uint32, "_src_spk_cnt", "srcSpkCnt", p, src("spkCnt"))
	arrayField(env, types.Uint32, "_src_spk", "srcSpk", p, src("spk"))
	arrayField(env, types.Uint32, "_src_spk_cnt_evnt", "srcSpkCntEvnt", p, src("spkCntEvnt"))
	arrayField(env, types.Uint32, "_src_spk_evnt", "srcSpkEvnt", p, src("spkEvnt"))
	arrayField(env, types.Uint32, "_src_spk_que_ptr", "srcSpkQuePtr", p, src("spkQuePtr"))
	arrayField(env, types.Uint32, "_trg_spk_cnt", "trgSpkCnt", p, trg("spkCnt"))
	arrayField(env, types.Uint32, "_trg_spk", "trgSpk", p, trg("spk"))
	arrayField(env, types.Uint32, "_trg_spk_que_ptr", "trgSpkQuePtr", p, trg("spkQuePtr"))
	arrayField(env, g.timepoint, "_src_spk_time", "sTPre", p, src("sT"))
	arrayField(env, g.timepoint, "_trg_spk_time", "sTPost", p, trg("sT"))
	arrayField(env, g.timepoint, "_src_prev_spk_time", "prevSTPre", p, src("prevST"))
	arrayField(env, g.timepoint, "_trg_prev_spk_time", "prevSTPost", p, trg("prevST"))

	indType, err := types.ParseNumeric(sgArch.SparseIndexType(), g.ctx)
	if err != nil {
		indType = types.Uint32
	}
	arrayField(env, types.Uint32, "_row_length", "rowLength", p, own("rowLength"))
	arrayField(env, indType, "_ind", "ind", p, own("ind"))
	arrayField(env, types.Uint32, "_gp", "gp", p, own("gp"))
	arrayField(env, types.Uint32, "_col_length", "colLength", p, own("colLength"))
	arrayField(env, types.Uint32, "_remap", "remap", p, own("remap"))
	arrayField(env, g.scalar, "_out_post", "outPost", p, own("outPost"))
	arrayField(env, g.scalar, "_den_delay", "denDelay", p, own("denDelay"))
	arrayField(env, types.Uint32, "_den_delay_ptr", "denDelayPtr", p, own("denDelayPtr"))
}

// addWUModelFields binds weight update parameters, derived parameters,
// extra global parameters and, for individual or kernel weights, variables
func (g *generator) addWUModelFields(env *synapseFields) {
	sg := env.Group().Archetype()
	wu := sg.WUModel
	params := func(sg *model.SynapseGroup) map[string]float64 { return sg.WUParams }
	env.DefineHeterogeneousParams(wu.ParamNames, "", g.scalar, params,
		func(sg *model.SynapseGroup) map[string]bool { return sg.WUDynamicParams })
	env.DefineHeterogeneousDerivedParams(wu.DerivedParams, "", g.scalar, params, g.m.DT)
	env.DefineEGPs(wu.EGPs, g.ctx, g.prefix, "", nil)

	switch {
	case sg.HasKernelWeights():
		env.DefineVars(wu.Vars, g.ctx, g.prefix, "", nil, func(v model.Var) string {
			return g.varIndex(v.AccessDims(), "", "_kern_batch_offset", "$(id_kernel)")
		})
	case sg.HasIndividualWeights():
		env.DefineVars(wu.Vars, g.ctx, g.prefix, "", nil, func(v model.Var) string {
			return g.varIndex(v.AccessDims(), "", "_syn_batch_offset", "$(id_syn)")
		})
	}
}

// addPrePostVars binds the source and target neuron variables as <var>_pre
// and <var>_post, read at the slots the synapse delays select
func (g *generator) addPrePostVars(env *synapseFields) {
	sg := env.Group().Archetype()
	env.DefineVars(sg.Source.Model.Vars, g.ctx, g.prefix, "_pre",
		func(sg *model.SynapseGroup) string { return sg.Source.Name },
		func(v model.Var) string {
			return g.varIndex(v.AccessDims(), neuronDelayOffset(sg.Source, "_pre_delay_offset"),
				"_pre_batch_offset", "$(id_pre)")
		})
	env.DefineVars(sg.Target.Model.Vars, g.ctx, g.prefix, "_post",
		func(sg *model.SynapseGroup) string { return sg.Target.Name },
		func(v model.Var) string {
			return g.varIndex(v.AccessDims(), neuronDelayOffset(sg.Target, "_post_delay_offset"),
				"_post_batch_offset", "$(id_post)")
		})
}

// synapseIndexScope binds batch offsets, pre and postsynaptic delay slots,
// postsynaptic output functions and spike times on top of env
func (g *generator) synapseIndexScope(env merging.Environment, sg *model.SynapseGroup) *merging.Scope {
	s := merging.NewScope(env)
	s.AddInitialised(constUint32, "_pre_batch_offset", "preBatchOffset",
		"const unsigned int preBatchOffset = $(num_pre) * $(batch);")
	s.AddInitialised(constUint32, "_post_batch_offset", "postBatchOffset",
		"const unsigned int postBatchOffset = $(num_post) * $(batch);")
	s.AddInitialised(constUint32, "_syn_batch_offset", "synBatchOffset",
		"const unsigned int synBatchOffset = $(_pre_batch_offset) * $(_row_stride);")
	s.AddInitialised(constUint32, "_kern_batch_offset", "kernBatchOffset",
		fmt.Sprintf("const unsigned int kernBatchOffset = %d * $(batch);", sg.KernelSizeFlattened()))

	delaySlot := func(name, symbol, quePtr, numNeurons string, ng *model.NeuronGroup, steps int) {
		numSlots := ng.NumDelaySlots()
		bs := batchSlots(g.m.BatchSize, numSlots)
		slot := "*$(" + quePtr + ")"
		if steps > 0 {
			slot = fmt.Sprintf("((*$(%s) + %d) %% %d)", quePtr, numSlots-steps, numSlots)
		}
		s.AddInitialised(constUint32, "_"+name+"_delay_slot", symbol+"DelaySlot",
			"const unsigned int "+symbol+"DelaySlot = "+bs+slot+";")
		s.AddInitialised(constUint32, "_"+name+"_delay_offset", symbol+"DelayOffset",
			"const unsigned int "+symbol+"DelayOffset = $(_"+name+"_delay_slot) * $("+numNeurons+");")
	}
	if sg.Source.IsDelayRequired() {
		delaySlot("pre", "pre", "_src_spk_que_ptr", "num_pre", sg.Source, sg.DelaySteps)
	}
	if sg.Target.IsDelayRequired() {
		delaySlot("post", "post", "_trg_spk_que_ptr", "num_post", sg.Target, sg.BackPropDelaySteps)
	}

	postIndex := g.batchedIndex("_post_batch_offset", "$(id_post)")
	s.Add(types.Void, "addToPost",
		g.d.Atomic(g.scalar, AtomicAdd, false)+"(&$(_out_post)["+postIndex+"], $(0))")
	if sg.IsDendriticDelayRequired() {
		numSlots := sg.MaxDendriticDelayTimesteps
		s.Add(types.Void, "addToPostDelay",
			fmt.Sprintf("%s(&$(_den_delay)[((%s((*$(_den_delay_ptr) + 1 + $(1)) %% %d)) * $(num_post)) + $(id_post)], $(0))",
				g.d.Atomic(g.scalar, AtomicAdd, false), batchSlots(g.m.BatchSize, numSlots), numSlots))
	}

	preTime := g.varIndex(model.DimAll, neuronDelayOffset(sg.Source, "_pre_delay_offset"), "_pre_batch_offset", "$(id_pre)")
	postTime := g.varIndex(model.DimAll, neuronDelayOffset(sg.Target, "_post_delay_offset"), "_post_batch_offset", "$(id_post)")
	timeType := g.timepoint.AddQualifier(types.QualifierConstant)
	s.Add(timeType, "sT_pre", "$(_src_spk_time)["+preTime+"]")
	s.Add(timeType, "sT_post", "$(_trg_spk_time)["+postTime+"]")
	s.Add(timeType, "prev_sT_pre", "$(_src_prev_spk_time)["+preTime+"]")
	s.Add(timeType, "prev_sT_post", "$(_trg_prev_spk_time)["+postTime+"]")
	return s
}

// synapseEnv stacks the fields, weight update model, neuron variables and
// index helpers of a synapse merged group on enclosing
func (g *generator) synapseEnv(enclosing merging.Environment, mg *SynapseMerged) *merging.Scope {
	fields := merging.NewFieldEnvironment(enclosing, mg)
	g.addSynapseFields(fields)
	g.addWUModelFields(fields)
	g.addPrePostVars(fields)
	return g.synapseIndexScope(fields, mg.Archetype())
}

// connectivityEnv binds the parameters of the code that builds rows of
// procedural or Toeplitz connectivity
func (g *generator) connectivityEnv(enclosing merging.Environment, mg *SynapseMerged) merging.Environment {
	env := merging.NewFieldEnvironment(enclosing, mg)
	sg := mg.Archetype()
	switch {
	case sg.IsToeplitz() && sg.Toeplitz != nil:
		env.WithFieldSuffix("Toeplitz")
		env.DefineHeterogeneousParams(sortedKeys(sg.Toeplitz.Params), "", g.scalar,
			func(sg *model.SynapseGroup) map[string]float64 { return sg.Toeplitz.Params }, nil)
		env.DefineEGPs(sg.Toeplitz.EGPs, g.ctx, g.prefix, "", nil)
	case sg.Connectivity != nil:
		env.WithFieldSuffix("Conn")
		env.DefineHeterogeneousParams(sortedKeys(sg.Connectivity.Params), "", g.scalar,
			func(sg *model.SynapseGroup) map[string]float64 { return sg.Connectivity.Params }, nil)
		env.DefineEGPs(sg.Connectivity.EGPs, g.ctx, g.prefix, "", nil)
	}
	return env
}

// addRNG binds the gennrand functions to draws from rng
func (g *generator) addRNG(s *merging.Scope, rng string) {
	fns := g.d.RNGFunctions(rng, g.scalar)
	for _, name := range sortedKeys(fns) {
		typ := g.scalar
		if name == "gennrand" {
			typ = types.Uint32
		}
		s.Add(typ, name, fns[name])
	}
}
