package model

// MatrixConnectivity is the storage class of a synapse group's connectivity
type MatrixConnectivity int

const (
	ConnectivityDense MatrixConnectivity = iota + 1
	ConnectivityBitmask
	ConnectivitySparse
	ConnectivityProcedural
	ConnectivityToeplitz
)

// MatrixWeight is the storage class of a synapse group's weights
type MatrixWeight int

const (
	WeightIndividual MatrixWeight = iota + 1
	WeightGlobal
	WeightKernel
	WeightProcedural
)

// MatrixType pairs connectivity and weight storage
type MatrixType struct {
	Connectivity MatrixConnectivity
	Weight       MatrixWeight
}

var (
	DenseIndividual  = MatrixType{ConnectivityDense, WeightIndividual}
	DenseGlobal      = MatrixType{ConnectivityDense, WeightGlobal}
	SparseIndividual = MatrixType{ConnectivitySparse, WeightIndividual}
	SparseGlobal     = MatrixType{ConnectivitySparse, WeightGlobal}
	BitmaskGlobal    = MatrixType{ConnectivityBitmask, WeightGlobal}
	ProceduralGlobal = MatrixType{ConnectivityProcedural, WeightGlobal}
	ProceduralKernel = MatrixType{ConnectivityProcedural, WeightKernel}
	ToeplitzKernel   = MatrixType{ConnectivityToeplitz, WeightKernel}
)

func (m MatrixType) String() string {
	conn := map[MatrixConnectivity]string{
		ConnectivityDense: "DENSE", ConnectivityBitmask: "BITMASK", ConnectivitySparse: "SPARSE",
		ConnectivityProcedural: "PROCEDURAL", ConnectivityToeplitz: "TOEPLITZ",
	}[m.Connectivity]
	weight := map[MatrixWeight]string{
		WeightIndividual: "INDIVIDUALG", WeightGlobal: "GLOBALG", WeightKernel: "KERNELG", WeightProcedural: "PROCEDURALG",
	}[m.Weight]
	return conn + "_" + weight
}

// SpanType selects whether presynaptic update threads span rows or columns
type SpanType int

const (
	SpanPostsynaptic SpanType = iota
	SpanPresynaptic
)

// NoDelay marks a synapse group without axonal or back-propagation delay
const NoDelay = 0

// NeuronGroup is a population of identically modelled neurons
type NeuronGroup struct {
	Name          string
	NumNeurons    int
	Model         *NeuronModel
	Params        map[string]float64
	DynamicParams map[string]bool
	VarInit       map[string]*VarInit

	SpikeRecording        bool
	SpikeEventRecording   bool
	SpikeTimeRequired     bool
	PrevSpikeTimeRequired bool

	numDelaySlots      int
	spikeEventRequired bool
	inSyn              []*SynapseGroup
	outSyn             []*SynapseGroup
	currentSources     []*CurrentSource
}

func (ng *NeuronGroup) GroupName() string { return ng.Name }

// NumDelaySlots is 1 unless an outgoing axonal or incoming back-propagation delay needs a queue
func (ng *NeuronGroup) NumDelaySlots() int {
	if ng.numDelaySlots < 1 {
		return 1
	}
	return ng.numDelaySlots
}

func (ng *NeuronGroup) IsDelayRequired() bool            { return ng.NumDelaySlots() > 1 }
func (ng *NeuronGroup) IsSpikeEventRequired() bool       { return ng.spikeEventRequired }
func (ng *NeuronGroup) InSyn() []*SynapseGroup           { return ng.inSyn }
func (ng *NeuronGroup) OutSyn() []*SynapseGroup          { return ng.outSyn }
func (ng *NeuronGroup) CurrentSources() []*CurrentSource { return ng.currentSources }

// IsSimRNGRequired reports whether the neuron or current source code draws random numbers
func (ng *NeuronGroup) IsSimRNGRequired() bool {
	if usesRNG(ng.Model.SimCode) || usesRNG(ng.Model.ThresholdConditionCode) || usesRNG(ng.Model.ResetCode) {
		return true
	}
	for _, cs := range ng.currentSources {
		if usesRNG(cs.Model.InjectionCode) {
			return true
		}
	}
	return false
}

// IsInitRNGRequired reports whether any variable initialiser draws random numbers
func (ng *NeuronGroup) IsInitRNGRequired() bool {
	for _, vi := range ng.VarInit {
		if vi.RequiresRNG() {
			return true
		}
	}
	return false
}

// IsVarInitRequired reports whether any variable has initialisation code
func (ng *NeuronGroup) IsVarInitRequired() bool {
	for _, v := range ng.Model.Vars {
		if ng.VarInit[v.Name] != nil {
			return true
		}
	}
	return false
}

// CurrentSource injects current into a target neuron group
type CurrentSource struct {
	Name          string
	Model         *CurrentSourceModel
	Params        map[string]float64
	DynamicParams map[string]bool
	VarInit       map[string]*VarInit

	target *NeuronGroup
}

func (cs *CurrentSource) GroupName() string    { return cs.Name }
func (cs *CurrentSource) Target() *NeuronGroup { return cs.target }

// SynapseGroup connects a source to a target neuron group
type SynapseGroup struct {
	Name   string
	Source *NeuronGroup
	Target *NeuronGroup
	Matrix MatrixType

	SpanType           SpanType
	NumThreadsPerSpike int

	DelaySteps                 int
	BackPropDelaySteps         int
	MaxDendriticDelayTimesteps int

	// Row and column strides for sparse connectivity
	MaxConnections       int
	MaxSourceConnections int
	KernelSize           []int

	WUModel         *WeightUpdateModel
	WUParams        map[string]float64
	WUDynamicParams map[string]bool
	WUVarInit       map[string]*VarInit

	Connectivity *ConnectivityInit
	Toeplitz     *ToeplitzInit

	// SparseIndType defaults to uint32_t
	SparseIndType string
}

func (sg *SynapseGroup) GroupName() string { return sg.Name }

func (sg *SynapseGroup) IsSparse() bool {
	return sg.Matrix.Connectivity == ConnectivitySparse
}

func (sg *SynapseGroup) IsDense() bool {
	return sg.Matrix.Connectivity == ConnectivityDense
}

func (sg *SynapseGroup) IsBitmask() bool {
	return sg.Matrix.Connectivity == ConnectivityBitmask
}

func (sg *SynapseGroup) IsProcedural() bool {
	return sg.Matrix.Connectivity == ConnectivityProcedural
}

func (sg *SynapseGroup) IsToeplitz() bool {
	return sg.Matrix.Connectivity == ConnectivityToeplitz
}

func (sg *SynapseGroup) HasKernelWeights() bool {
	return sg.Matrix.Weight == WeightKernel
}

func (sg *SynapseGroup) HasIndividualWeights() bool {
	return sg.Matrix.Weight == WeightIndividual
}

// MaxRowLength is the number of synapses a row can hold
func (sg *SynapseGroup) MaxRowLength() int {
	switch {
	case sg.IsSparse() || sg.IsProcedural():
		return sg.MaxConnections
	case sg.IsToeplitz() && sg.Toeplitz != nil:
		return sg.Toeplitz.MaxRowLength
	default:
		return sg.Target.NumNeurons
	}
}

// MaxColLength is the number of synapses a column can hold
func (sg *SynapseGroup) MaxColLength() int {
	if sg.IsSparse() {
		return sg.MaxSourceConnections
	}
	return sg.Source.NumNeurons
}

// KernelSizeFlattened is the product of the kernel dimensions
func (sg *SynapseGroup) KernelSizeFlattened() int {
	if len(sg.KernelSize) == 0 {
		return 0
	}
	n := 1
	for _, k := range sg.KernelSize {
		n *= k
	}
	return n
}

func (sg *SynapseGroup) SparseIndexType() string {
	if sg.SparseIndType == "" {
		return "uint32_t"
	}
	return sg.SparseIndType
}

func (sg *SynapseGroup) IsDendriticDelayRequired() bool {
	return sg.MaxDendriticDelayTimesteps > 1
}

func (sg *SynapseGroup) IsPresynapticSpikeRequired() bool {
	return sg.WUModel.SimCode != ""
}

func (sg *SynapseGroup) IsPresynapticSpikeEventRequired() bool {
	return sg.WUModel.EventCode != "" && sg.WUModel.EventThresholdConditionCode != ""
}

func (sg *SynapseGroup) IsPostsynapticLearningRequired() bool {
	return sg.WUModel.LearnPostCode != ""
}

func (sg *SynapseGroup) IsSynapseDynamicsRequired() bool {
	return sg.WUModel.SynapseDynamicsCode != ""
}

// IsPostsynapticRemapRequired reports whether sparse connectivity needs a column-major remap
func (sg *SynapseGroup) IsPostsynapticRemapRequired() bool {
	return sg.IsSparse() && sg.IsPostsynapticLearningRequired()
}

func (sg *SynapseGroup) IsConnectivityInitRequired() bool {
	return (sg.IsSparse() || sg.IsBitmask()) && !sg.Connectivity.IsEmpty()
}

// IsWUVarInitRequired reports whether any individual weight variable has initialisation code
func (sg *SynapseGroup) IsWUVarInitRequired() bool {
	if !sg.HasIndividualWeights() && !sg.HasKernelWeights() {
		return false
	}
	for _, v := range sg.WUModel.Vars {
		if sg.WUVarInit[v.Name] != nil {
			return true
		}
	}
	return false
}

// IsWUInitRNGRequired reports whether any weight variable initialiser draws random numbers
func (sg *SynapseGroup) IsWUInitRNGRequired() bool {
	for _, vi := range sg.WUVarInit {
		if vi.RequiresRNG() {
			return true
		}
	}
	return false
}

func (sg *SynapseGroup) IsConnectivityInitRNGRequired() bool {
	return sg.Connectivity != nil && (usesRNG(sg.Connectivity.RowBuildCode) || usesRNG(sg.Connectivity.ColBuildCode))
}

func (sg *SynapseGroup) IsProceduralConnectivityRNGRequired() bool {
	return sg.IsProcedural() && sg.IsConnectivityInitRNGRequired()
}

// VarReference points a custom update at another group's variable
type VarReference struct {
	Group string
	Var   string
	// TransposeVar names a variable of the transposed synapse group to write
	TransposeGroup string
	TransposeVar   string

	size int
	dims VarAccessDim
	typ  string
}

func (r VarReference) Size() int          { return r.size }
func (r VarReference) Dims() VarAccessDim { return r.dims }
func (r VarReference) Type() string       { return r.typ }
func (r VarReference) IsTranspose() bool  { return r.TransposeVar != "" }

// CustomUpdate runs a custom update model over neuron-shaped variables
type CustomUpdate struct {
	Name            string
	UpdateGroupName string
	Size            int
	Model           *CustomUpdateModel
	Params          map[string]float64
	DynamicParams   map[string]bool
	VarInit         map[string]*VarInit
	VarReferences   map[string]VarReference
	// Dims defaults to DimAll
	Dims VarAccessDim

	batchSize int
}

func (cu *CustomUpdate) GroupName() string { return cu.Name }

func (cu *CustomUpdate) AccessDims() VarAccessDim {
	if cu.Dims == 0 {
		return DimAll
	}
	return cu.Dims
}

func (cu *CustomUpdate) IsBatched() bool {
	return cu.batchSize > 1 && cu.AccessDims().Has(DimBatch)
}

func (cu *CustomUpdate) IsPerNeuron() bool {
	return cu.AccessDims().Has(DimElement)
}

// IsBatchReduction reports whether a batched update reduces into an unbatched target
func (cu *CustomUpdate) IsBatchReduction() bool {
	return cu.IsBatched() && cu.hasReductionTargetWithout(DimBatch)
}

// IsNeuronReduction reports whether a per-neuron update reduces into a per-batch target
func (cu *CustomUpdate) IsNeuronReduction() bool {
	return cu.IsPerNeuron() && cu.hasReductionTargetWithout(DimElement)
}

func (cu *CustomUpdate) hasReductionTargetWithout(dim VarAccessDim) bool {
	for _, v := range cu.Model.Vars {
		if v.Access.IsReduction() && !v.AccessDims().Has(dim) {
			return true
		}
	}
	for _, r := range cu.Model.VarRefs {
		ref := cu.VarReferences[r.Name]
		if r.Access.IsReduction() && !ref.dims.Has(dim) {
			return true
		}
	}
	return false
}

func (cu *CustomUpdate) IsVarInitRequired() bool {
	for _, v := range cu.Model.Vars {
		if cu.VarInit[v.Name] != nil {
			return true
		}
	}
	return false
}

// CustomUpdateWU runs a custom update model over a synapse group's weight variables
type CustomUpdateWU struct {
	Name            string
	UpdateGroupName string
	Synapse         *SynapseGroup
	Model           *CustomUpdateModel
	Params          map[string]float64
	DynamicParams   map[string]bool
	VarInit         map[string]*VarInit
	VarReferences   map[string]VarReference
	Dims            VarAccessDim

	batchSize int
}

func (cu *CustomUpdateWU) GroupName() string { return cu.Name }

func (cu *CustomUpdateWU) AccessDims() VarAccessDim {
	if cu.Dims == 0 {
		return DimAll
	}
	return cu.Dims
}

func (cu *CustomUpdateWU) IsBatched() bool {
	return cu.batchSize > 1 && cu.AccessDims().Has(DimBatch)
}

func (cu *CustomUpdateWU) IsBatchReduction() bool {
	if !cu.IsBatched() {
		return false
	}
	for _, v := range cu.Model.Vars {
		if v.Access.IsReduction() && !v.AccessDims().Has(DimBatch) {
			return true
		}
	}
	for _, r := range cu.Model.VarRefs {
		if r.Access.IsReduction() && !cu.VarReferences[r.Name].dims.Has(DimBatch) {
			return true
		}
	}
	return false
}

// IsTranspose reports whether any reference writes into a transposed variable
func (cu *CustomUpdateWU) IsTranspose() bool {
	for _, r := range cu.VarReferences {
		if r.IsTranspose() {
			return true
		}
	}
	return false
}

func (cu *CustomUpdateWU) IsVarInitRequired() bool {
	for _, v := range cu.Model.Vars {
		if cu.VarInit[v.Name] != nil {
			return true
		}
	}
	return false
}
