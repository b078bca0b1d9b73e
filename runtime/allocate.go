package runtime

import (
	"github.com/notargets/SpikeKernel/model"
	"github.com/notargets/SpikeKernel/simt"
	"github.com/notargets/SpikeKernel/types"
	"github.com/pkg/errors"
)

// allocator walks the model creating arrays, keeping the first error
type allocator struct {
	r     *Runtime
	ctx   types.TypeContext
	batch int
	err   error
}

func ceilDivide(n, d int) int { return (n + d - 1) / d }

func (a *allocator) create(owner, name string, typ types.ResolvedType, count int) *Array {
	if a.err != nil {
		return nil
	}
	arr, err := a.r.createArray(owner, name, typ, count)
	if err != nil {
		a.err = err
		return nil
	}
	return arr
}

func (a *allocator) fail(err error) {
	if a.err == nil {
		a.err = err
	}
}

// vars creates one array per variable sized by size
func (a *allocator) vars(owner string, vars []model.Var, size func(v model.Var) int) {
	for _, v := range vars {
		typ, err := v.ResolveType(a.ctx)
		if err != nil {
			a.fail(errors.Wrapf(err, "group '%s'", owner))
			return
		}
		a.create(owner, v.Name, typ, size(v))
	}
}

// egps creates empty extra global parameters, sized later by AllocateExtraGlobalParam
func (a *allocator) egps(owner string, egps []model.EGP) {
	for _, egp := range egps {
		typ, err := egp.ResolveType(a.ctx)
		if err != nil {
			a.fail(errors.Wrapf(err, "group '%s'", owner))
			return
		}
		a.create(owner, egp.Name, typ.PointerValue(), 0)
	}
}

func (a *allocator) neuronGroup(ng *model.NeuronGroup) {
	r := a.r
	n := ng.NumNeurons
	slots := a.batch * ng.NumDelaySlots()
	a.create(ng.Name, "spkCnt", types.Uint32, slots)
	a.create(ng.Name, "spk", types.Uint32, slots*n)
	if ng.IsSpikeEventRequired() {
		a.create(ng.Name, "spkCntEvnt", types.Uint32, slots)
		a.create(ng.Name, "spkEvnt", types.Uint32, slots*n)
	}
	if ng.SpikeTimeRequired {
		a.create(ng.Name, "sT", r.m.TimePrecisionType(), slots*n)
	}
	if ng.PrevSpikeTimeRequired {
		a.create(ng.Name, "prevST", r.m.TimePrecisionType(), slots*n)
	}
	if ng.IsDelayRequired() {
		a.create(ng.Name, "spkQuePtr", types.Uint32, 1)
		r.delayQueues[ng] = 0
	}

	if ng.SpikeRecording || ng.SpikeEventRecording {
		words := ceilDivide(n, 32) * a.batch * r.numRecordingTimesteps
		if ng.SpikeRecording {
			a.create(ng.Name, "recordSpk", types.Uint32, words)
		}
		if ng.SpikeEventRecording {
			a.create(ng.Name, "recordSpkEvnt", types.Uint32, words)
		}
	}

	if ng.IsSimRNGRequired() {
		d := r.b.Dialect()
		a.create(ng.Name, "rng", types.NewValue(d.PopulationRNGType(), d.RNGStateBytes()), a.batch*n)
	}

	a.vars(ng.Name, ng.Model.Vars, func(v model.Var) int { return simt.NeuronVarSize(ng, v, a.batch) })
	a.egps(ng.Name, ng.Model.EGPs)

	for _, cs := range ng.CurrentSources() {
		a.vars(cs.Name, cs.Model.Vars, func(v model.Var) int {
			size := 1
			if v.AccessDims().Has(model.DimElement) {
				size = n
			}
			if a.batch > 1 && v.AccessDims().Has(model.DimBatch) {
				size *= a.batch
			}
			return size
		})
		a.egps(cs.Name, cs.Model.EGPs)
	}
}

func (a *allocator) synapseGroup(sg *model.SynapseGroup) {
	r := a.r
	scalar := r.m.PrecisionType()
	numPre, numPost := sg.Source.NumNeurons, sg.Target.NumNeurons
	rowStride := r.b.SynapticMatrixRowStride(sg)

	a.create(sg.Name, "outPost", scalar, numPost*a.batch)
	if sg.IsDendriticDelayRequired() {
		a.create(sg.Name, "denDelay", scalar, sg.MaxDendriticDelayTimesteps*numPost*a.batch)
		a.create(sg.Name, "denDelayPtr", types.Uint32, 1)
	}

	switch {
	case sg.HasIndividualWeights():
		a.vars(sg.Name, sg.WUModel.Vars, func(v model.Var) int {
			return numPre * rowStride * a.wuCopies(v)
		})
	case sg.HasKernelWeights():
		a.vars(sg.Name, sg.WUModel.Vars, func(v model.Var) int {
			return sg.KernelSizeFlattened() * a.wuCopies(v)
		})
	}

	// connectivity with no building code is filled in on the host
	uninitialised := !sg.IsConnectivityInitRequired()
	switch {
	case sg.IsBitmask():
		if gp := a.create(sg.Name, "gp", types.Uint32, ceilDivide(numPre*rowStride, 32)); gp != nil {
			gp.uninitialised = uninitialised
		}
	case sg.IsSparse():
		indType, err := types.ParseNumeric(sg.SparseIndexType(), a.ctx)
		if err != nil {
			a.fail(errors.Wrapf(err, "synapse group '%s' sparse index type", sg.Name))
			return
		}
		if rl := a.create(sg.Name, "rowLength", types.Uint32, numPre); rl != nil {
			rl.uninitialised = uninitialised
		}
		if ind := a.create(sg.Name, "ind", indType, numPre*rowStride); ind != nil {
			ind.uninitialised = uninitialised
		}
		if sg.IsPostsynapticRemapRequired() {
			a.create(sg.Name, "colLength", types.Uint32, numPost)
			a.create(sg.Name, "remap", types.Uint32, numPost*sg.MaxSourceConnections)
		}
	}

	a.egps(sg.Name, sg.WUModel.EGPs)
	if sg.Connectivity != nil {
		a.egps(sg.Name, sg.Connectivity.EGPs)
	}
	if sg.Toeplitz != nil {
		a.egps(sg.Name, sg.Toeplitz.EGPs)
	}
}

// wuCopies is the number of batch copies of a weight update variable
func (a *allocator) wuCopies(v model.Var) int {
	if a.batch > 1 && v.AccessDims().Has(model.DimBatch) {
		return a.batch
	}
	return 1
}

func (a *allocator) customUpdate(cu *model.CustomUpdate) {
	a.vars(cu.Name, cu.Model.Vars, func(v model.Var) int { return simt.CustomUpdateVarSize(cu, v, a.batch) })
	a.egps(cu.Name, cu.Model.EGPs)
}

func (a *allocator) customUpdateWU(cu *model.CustomUpdateWU) {
	a.vars(cu.Name, cu.Model.Vars, func(v model.Var) int {
		return simt.CustomUpdateWUVarSize(a.r.b, cu, v, a.batch)
	})
	a.egps(cu.Name, cu.Model.EGPs)
}
