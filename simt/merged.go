package simt

import (
	"sort"

	"github.com/notargets/SpikeKernel/logging"
	"github.com/notargets/SpikeKernel/merging"
	"github.com/notargets/SpikeKernel/model"
)

type (
	NeuronMerged   = merging.MergedGroup[*model.NeuronGroup]
	SynapseMerged  = merging.MergedGroup[*model.SynapseGroup]
	CustomMerged   = merging.MergedGroup[*model.CustomUpdate]
	CustomWUMerged = merging.MergedGroup[*model.CustomUpdateWU]
)

// MergedModel holds the merged groups of every kind generated for a model
type MergedModel struct {
	NeuronUpdate                []*NeuronMerged
	NeuronSpikeQueueUpdate      []*NeuronMerged
	NeuronPrevSpikeTimeUpdate   []*NeuronMerged
	PresynapticUpdate           []*SynapseMerged
	PostsynapticUpdate          []*SynapseMerged
	SynapseDynamics             []*SynapseMerged
	SynapseDendriticDelayUpdate []*SynapseMerged
	NeuronInit                  []*NeuronMerged
	SynapseInit                 []*SynapseMerged
	SynapseConnectivityInit     []*SynapseMerged
	SynapseSparseInit           []*SynapseMerged

	// Custom updates are merged separately for every update group
	CustomUpdate             map[string][]*CustomMerged
	CustomUpdateWU           map[string][]*CustomWUMerged
	CustomUpdateTransposeWU  map[string][]*CustomWUMerged
	CustomUpdateInit         []*CustomMerged
	CustomWUUpdateInit       []*CustomWUMerged
	CustomWUUpdateSparseInit []*CustomWUMerged

	UpdateGroups []string
}

// MergeModel partitions every group of a finalized model
func MergeModel(m *model.Model, b *Backend) *MergedModel {
	mm := &MergedModel{
		CustomUpdate:            make(map[string][]*CustomMerged),
		CustomUpdateWU:          make(map[string][]*CustomWUMerged),
		CustomUpdateTransposeWU: make(map[string][]*CustomWUMerged),
		UpdateGroups:            m.UpdateGroupNames(),
	}
	ngs, sgs := m.NeuronGroups, m.SynapseGroups

	mm.NeuronUpdate = merging.Merge("NeuronUpdate", ngs, neuronUpdateKey)
	mm.NeuronSpikeQueueUpdate = merging.Merge("NeuronSpikeQueueUpdate", ngs, func(ng *model.NeuronGroup) string {
		return merging.NewKeyBuilder("NeuronSpikeQueueUpdate").
			Int(ng.NumDelaySlots()).Bool(ng.IsSpikeEventRequired()).Key()
	})
	mm.NeuronPrevSpikeTimeUpdate = merging.Merge("NeuronPrevSpikeTimeUpdate",
		merging.Filter(ngs, func(ng *model.NeuronGroup) bool { return ng.PrevSpikeTimeRequired }),
		func(ng *model.NeuronGroup) string {
			return merging.NewKeyBuilder("NeuronPrevSpikeTimeUpdate").Int(ng.NumDelaySlots()).Key()
		})

	mm.PresynapticUpdate = merging.Merge("PresynapticUpdate",
		merging.Filter(sgs, func(sg *model.SynapseGroup) bool {
			return sg.IsPresynapticSpikeRequired() || sg.IsPresynapticSpikeEventRequired()
		}),
		func(sg *model.SynapseGroup) string { return synapseKey("PresynapticUpdate", sg, b).Key() })
	mm.PostsynapticUpdate = merging.Merge("PostsynapticUpdate",
		merging.Filter(sgs, (*model.SynapseGroup).IsPostsynapticLearningRequired),
		func(sg *model.SynapseGroup) string { return synapseKey("PostsynapticUpdate", sg, b).Key() })
	mm.SynapseDynamics = merging.Merge("SynapseDynamics",
		merging.Filter(sgs, (*model.SynapseGroup).IsSynapseDynamicsRequired),
		func(sg *model.SynapseGroup) string { return synapseKey("SynapseDynamics", sg, b).Key() })
	mm.SynapseDendriticDelayUpdate = merging.Merge("SynapseDendriticDelayUpdate",
		merging.Filter(sgs, (*model.SynapseGroup).IsDendriticDelayRequired),
		func(sg *model.SynapseGroup) string {
			return merging.NewKeyBuilder("SynapseDendriticDelayUpdate").Int(sg.MaxDendriticDelayTimesteps).Key()
		})

	mm.NeuronInit = merging.Merge("NeuronInit", ngs, neuronInitKey)
	mm.SynapseInit = merging.Merge("SynapseInit",
		merging.Filter(sgs, func(sg *model.SynapseGroup) bool {
			return sg.IsWUVarInitRequired() && (sg.IsDense() || sg.HasKernelWeights())
		}),
		func(sg *model.SynapseGroup) string {
			return varInitKey(merging.NewKeyBuilder("SynapseInit").String(sg.Matrix.String()).Int(len(sg.KernelSize)),
				sg.WUModel.Vars, sg.WUVarInit).Key()
		})
	mm.SynapseConnectivityInit = merging.Merge("SynapseConnectivityInit",
		merging.Filter(sgs, (*model.SynapseGroup).IsConnectivityInitRequired),
		func(sg *model.SynapseGroup) string {
			c := sg.Connectivity
			return merging.NewKeyBuilder("SynapseConnectivityInit").String(sg.Matrix.String()).
				String(c.RowBuildCode).String(c.ColBuildCode).Strings(sortedKeys(c.Params)...).
				Bool(b.SynapticMatrixRowStride(sg)*sg.Source.NumNeurons > 1<<32-1).Key()
		})
	mm.SynapseSparseInit = merging.Merge("SynapseSparseInit",
		merging.Filter(sgs, func(sg *model.SynapseGroup) bool {
			return sg.IsSparse() && (sg.IsWUVarInitRequired() || sg.IsPostsynapticRemapRequired())
		}),
		func(sg *model.SynapseGroup) string {
			return varInitKey(merging.NewKeyBuilder("SynapseSparseInit").Bool(sg.IsPostsynapticRemapRequired()),
				sg.WUModel.Vars, sg.WUVarInit).Key()
		})

	for _, name := range mm.UpdateGroups {
		group := name
		cus := merging.Filter(m.CustomUpdates, func(cu *model.CustomUpdate) bool { return cu.UpdateGroupName == group })
		mm.CustomUpdate[group] = merging.Merge("CustomUpdate", cus, customUpdateKey(m))

		wus := merging.Filter(m.CustomUpdateWUs, func(cu *model.CustomUpdateWU) bool { return cu.UpdateGroupName == group })
		mm.CustomUpdateWU[group] = merging.Merge("CustomUpdateWU",
			merging.Filter(wus, func(cu *model.CustomUpdateWU) bool { return !cu.IsTranspose() }), customUpdateWUKey)
		mm.CustomUpdateTransposeWU[group] = merging.Merge("CustomUpdateTransposeWU",
			merging.Filter(wus, (*model.CustomUpdateWU).IsTranspose), customUpdateWUKey)
	}
	// Custom update indices are unique across update groups so push functions don't collide
	reindex(mm)

	mm.CustomUpdateInit = merging.Merge("CustomUpdateInit",
		merging.Filter(m.CustomUpdates, (*model.CustomUpdate).IsVarInitRequired),
		func(cu *model.CustomUpdate) string {
			return varInitKey(merging.NewKeyBuilder("CustomUpdateInit").Bool(cu.IsBatched()), cu.Model.Vars, cu.VarInit).Key()
		})
	mm.CustomWUUpdateInit = merging.Merge("CustomWUUpdateInit",
		merging.Filter(m.CustomUpdateWUs, func(cu *model.CustomUpdateWU) bool {
			return cu.IsVarInitRequired() && !cu.Synapse.IsSparse()
		}),
		func(cu *model.CustomUpdateWU) string {
			return varInitKey(merging.NewKeyBuilder("CustomWUUpdateInit").String(cu.Synapse.Matrix.String()).
				Bool(cu.IsBatched()), cu.Model.Vars, cu.VarInit).Key()
		})
	mm.CustomWUUpdateSparseInit = merging.Merge("CustomWUUpdateSparseInit",
		merging.Filter(m.CustomUpdateWUs, func(cu *model.CustomUpdateWU) bool {
			return cu.IsVarInitRequired() && cu.Synapse.IsSparse()
		}),
		func(cu *model.CustomUpdateWU) string {
			return varInitKey(merging.NewKeyBuilder("CustomWUUpdateSparseInit").Bool(cu.IsBatched()),
				cu.Model.Vars, cu.VarInit).Key()
		})

	mm.log(b.Logger())
	return mm
}

// reindex renumbers custom update merged groups in update group order
func reindex(mm *MergedModel) {
	var cu, wu, tr int
	for _, name := range mm.UpdateGroups {
		for i, g := range mm.CustomUpdate[name] {
			mm.CustomUpdate[name][i] = merging.NewMergedGroup(g.TypeName(), cu, g.Groups())
			cu++
		}
		for i, g := range mm.CustomUpdateWU[name] {
			mm.CustomUpdateWU[name][i] = merging.NewMergedGroup(g.TypeName(), wu, g.Groups())
			wu++
		}
		for i, g := range mm.CustomUpdateTransposeWU[name] {
			mm.CustomUpdateTransposeWU[name][i] = merging.NewMergedGroup(g.TypeName(), tr, g.Groups())
			tr++
		}
	}
}

func (mm *MergedModel) log(log *logging.Logger) {
	log.DebugF(logging.DEBUG_LEVEL_TRACE,
		"merged %d neuron update, %d presynaptic, %d postsynaptic, %d synapse dynamics, %d neuron init, %d synapse init, %d connectivity init, %d sparse init groups",
		len(mm.NeuronUpdate), len(mm.PresynapticUpdate), len(mm.PostsynapticUpdate), len(mm.SynapseDynamics),
		len(mm.NeuronInit), len(mm.SynapseInit), len(mm.SynapseConnectivityInit), len(mm.SynapseSparseInit))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dynamicKey(k *merging.KeyBuilder, dynamic map[string]bool) *merging.KeyBuilder {
	var names []string
	for _, n := range sortedKeys(dynamic) {
		if dynamic[n] {
			names = append(names, n)
		}
	}
	return k.Strings(names...)
}

func varInitKey(k *merging.KeyBuilder, vars []model.Var, init map[string]*model.VarInit) *merging.KeyBuilder {
	for _, v := range vars {
		vi := init[v.Name]
		if vi == nil {
			k.Bool(false)
			continue
		}
		k.Bool(true).String(vi.Code).Strings(sortedKeys(vi.Params)...)
	}
	return k
}

func neuronUpdateKey(ng *model.NeuronGroup) string {
	nm := ng.Model
	k := merging.NewKeyBuilder("NeuronUpdate").String(nm.Name).
		String(nm.SimCode).String(nm.ThresholdConditionCode).String(nm.ResetCode).
		Int(ng.NumDelaySlots()).Bool(ng.IsSimRNGRequired()).
		Bool(ng.SpikeRecording).Bool(ng.SpikeEventRecording).
		Bool(ng.SpikeTimeRequired).Bool(ng.PrevSpikeTimeRequired).Bool(ng.IsSpikeEventRequired())
	dynamicKey(k, ng.DynamicParams)
	k.Int(len(ng.InSyn()))
	for _, sg := range ng.InSyn() {
		k.Bool(sg.IsDendriticDelayRequired()).Int(sg.MaxDendriticDelayTimesteps)
	}
	k.Int(len(ng.CurrentSources()))
	for _, cs := range ng.CurrentSources() {
		k.String(cs.Model.Name).String(cs.Model.InjectionCode)
		dynamicKey(k, cs.DynamicParams)
	}
	for _, sg := range eventSynapses(ng) {
		k.String(sg.WUModel.EventThresholdConditionCode).Int(sg.DelaySteps)
		dynamicKey(k, sg.WUDynamicParams)
	}
	return k.Key()
}

func neuronInitKey(ng *model.NeuronGroup) string {
	k := merging.NewKeyBuilder("NeuronInit").String(ng.Model.Name).
		Int(ng.NumDelaySlots()).Bool(ng.IsSimRNGRequired()).Bool(ng.IsSpikeEventRequired()).
		Bool(ng.SpikeTimeRequired).Bool(ng.PrevSpikeTimeRequired)
	varInitKey(k, ng.Model.Vars, ng.VarInit)
	k.Int(len(ng.InSyn()))
	for _, sg := range ng.InSyn() {
		k.Bool(sg.IsDendriticDelayRequired()).Int(sg.MaxDendriticDelayTimesteps)
	}
	for _, cs := range ng.CurrentSources() {
		varInitKey(k.String(cs.Model.Name), cs.Model.Vars, cs.VarInit)
	}
	return k.Key()
}

func synapseKey(kind string, sg *model.SynapseGroup, b *Backend) *merging.KeyBuilder {
	wu := sg.WUModel
	k := merging.NewKeyBuilder(kind).String(wu.Name).
		String(wu.SimCode).String(wu.EventCode).String(wu.EventThresholdConditionCode).
		String(wu.LearnPostCode).String(wu.SynapseDynamicsCode).
		String(sg.Matrix.String()).Int(int(sg.SpanType)).Int(sg.NumThreadsPerSpike).
		Int(sg.DelaySteps).Int(sg.BackPropDelaySteps).
		Int(sg.Source.NumDelaySlots()).Int(sg.Target.NumDelaySlots()).
		Int(sg.MaxDendriticDelayTimesteps).Strings(sg.SparseIndexType()).Int(len(sg.KernelSize)).
		Bool(sg.Source.SpikeTimeRequired).Bool(sg.Target.SpikeTimeRequired)
	if s, err := b.PresynapticStrategy(sg); err == nil {
		k.String(s.Name())
	}
	if sg.Connectivity != nil && sg.IsProcedural() {
		k.String(sg.Connectivity.RowBuildCode).Strings(sortedKeys(sg.Connectivity.Params)...)
	}
	if sg.Toeplitz != nil {
		k.String(sg.Toeplitz.DiagonalBuildCode).Strings(sortedKeys(sg.Toeplitz.Params)...)
	}
	return dynamicKey(k, sg.WUDynamicParams)
}

// customUpdateKey also separates updates whose references read delay
// queues of different depths
func customUpdateKey(m *model.Model) func(cu *model.CustomUpdate) string {
	return func(cu *model.CustomUpdate) string {
		k := merging.NewKeyBuilder("CustomUpdate").String(cu.UpdateGroupName).String(cu.Model.Name).
			String(cu.Model.UpdateCode).Bool(cu.IsBatched()).Bool(cu.IsPerNeuron()).
			Bool(cu.IsBatchReduction()).Bool(cu.IsNeuronReduction())
		for _, r := range cu.Model.VarRefs {
			ref := cu.VarReferences[r.Name]
			slots := 1
			if ng, ok := m.NeuronGroup(ref.Group); ok {
				slots = ng.NumDelaySlots()
			}
			k.Int(int(ref.Dims())).String(ref.Type()).Int(slots)
		}
		return dynamicKey(k, cu.DynamicParams).Key()
	}
}

func customUpdateWUKey(cu *model.CustomUpdateWU) string {
	k := merging.NewKeyBuilder("CustomUpdateWU").String(cu.UpdateGroupName).String(cu.Model.Name).
		String(cu.Model.UpdateCode).String(cu.Synapse.Matrix.String()).Int(len(cu.Synapse.KernelSize)).
		Bool(cu.IsBatched()).Bool(cu.IsBatchReduction()).Bool(cu.IsTranspose())
	for _, r := range cu.Model.VarRefs {
		ref := cu.VarReferences[r.Name]
		k.Int(int(ref.Dims())).String(ref.Type()).Bool(ref.IsTranspose())
	}
	return dynamicKey(k, cu.DynamicParams).Key()
}

// eventSynapses are the outgoing synapse groups whose spike-like event
// thresholds are tested during neuron update
func eventSynapses(ng *model.NeuronGroup) []*model.SynapseGroup {
	return merging.Filter(ng.OutSyn(), (*model.SynapseGroup).IsPresynapticSpikeEventRequired)
}
