package simt

import (
	"strings"

	"github.com/notargets/SpikeKernel/logging"
	"github.com/notargets/SpikeKernel/merging"
	"github.com/notargets/SpikeKernel/model"
	"github.com/notargets/SpikeKernel/types"
	"github.com/pkg/errors"
)

// KernelSource is one generated kernel and what launching it needs
type KernelSource struct {
	Kernel Kernel
	Name   string
	// UpdateGroup is set for custom update kernels
	UpdateGroup string
	BlockSize   int
	BlockDimY   int
	// NumThreads is the padded thread count of the first grid dimension
	NumThreads int
	NumBatches int
	Params     []KernelParam
	// Tables holds the constant start ID tables the body searches
	Tables string
	Body   string
}

// Source is the kernel with its tables
func (k KernelSource) Source() string {
	if k.Tables == "" {
		return k.Body
	}
	return k.Tables + "\n" + k.Body
}

// NumBlocks is the grid size of the first dimension
func (k KernelSource) NumBlocks() int {
	if k.BlockSize == 0 {
		return 0
	}
	return PadSize(k.NumThreads, k.BlockSize) / k.BlockSize
}

func (k KernelSource) IsEmpty() bool { return k.NumThreads == 0 }

// Generated is everything code generation produces for a model
type Generated struct {
	Dialect string
	// Source is the preamble, merged struct declarations and every kernel
	Source  string
	Kernels []KernelSource
	// StepKernels are the non-empty per-timestep kernels in launch order
	StepKernels []Kernel
	UpdateGroups []string
	Descriptors  []merging.Descriptor
	Merged       *MergedModel

	NumInitThreads       int
	NumInitSparseThreads int
	// NumInitRNGStreams counts the transient initialisation streams; dense
	// init uses streams [0, NumInitThreads), sparse init the ones after
	NumInitRNGStreams int
	RNGStateBytes     int
	GlobalRNGRequired bool
}

// Kernel finds a generated kernel by name
func (gen *Generated) Kernel(name string) (KernelSource, bool) {
	for _, k := range gen.Kernels {
		if k.Name == name {
			return k, true
		}
	}
	return KernelSource{}, false
}

// CustomUpdateKernels are the kernels an update group launches, in order
func (gen *Generated) CustomUpdateKernels(group string) []KernelSource {
	var out []KernelSource
	for _, k := range gen.Kernels {
		if k.UpdateGroup == group {
			out = append(out, k)
		}
	}
	return out
}

// Descriptor finds the merged group descriptor of typeName and index
func (gen *Generated) Descriptor(typeName string, index int) (merging.Descriptor, bool) {
	for _, d := range gen.Descriptors {
		if d.TypeName == typeName && d.Index == index {
			return d, true
		}
	}
	return merging.Descriptor{}, false
}

// PushFunctions names the entry point of every dynamic field
func (gen *Generated) PushFunctions() []string {
	var names []string
	for _, d := range gen.Descriptors {
		for j, f := range d.Fields {
			if f.IsDynamic() {
				names = append(names, d.PushFunctionName(j))
			}
		}
	}
	return names
}

type generator struct {
	m   *model.Model
	b   *Backend
	d   Dialect
	mm  *MergedModel
	log *logging.Logger

	scalar    types.ResolvedType
	timepoint types.ResolvedType
	ctx       types.TypeContext
	rngType   types.ResolvedType
	prefix    string
	// synIndex numbers synapse groups for procedural connectivity streams
	synIndex map[*model.SynapseGroup]int
}

// Generate finalizes m, merges its groups and emits every kernel. The step
// kernels run in the order previous spike times, spike queues, neurons,
// presynaptic, postsynaptic, synapse dynamics, dendritic delays.
func Generate(m *model.Model, b *Backend) (*Generated, error) {
	if !m.IsFinalized() {
		if err := m.Finalize(); err != nil {
			return nil, err
		}
	}
	d := b.Dialect()
	g := &generator{
		m:         m,
		b:         b,
		d:         d,
		log:       b.Logger(),
		scalar:    m.PrecisionType(),
		timepoint: m.TimePrecisionType(),
		ctx:       m.TypeContext(),
		rngType:   types.NewValue(d.PopulationRNGType(), d.RNGStateBytes()),
		prefix:    b.DeviceVarPrefix(),
		synIndex:  make(map[*model.SynapseGroup]int, len(m.SynapseGroups)),
	}
	for i, sg := range m.SynapseGroups {
		g.synIndex[sg] = i
	}
	g.mm = MergeModel(m, b)

	gen := &Generated{
		Dialect:           d.Name(),
		Merged:            g.mm,
		UpdateGroups:      g.mm.UpdateGroups,
		RNGStateBytes:     d.RNGStateBytes(),
		GlobalRNGRequired: b.IsGlobalDeviceRNGRequired(m),
	}
	add := func(ks KernelSource, err error) (KernelSource, error) {
		if err != nil {
			return ks, err
		}
		if !ks.IsEmpty() {
			gen.Kernels = append(gen.Kernels, ks)
			g.log.DebugF(logging.DEBUG_LEVEL_TRACE, "%s: %d threads in blocks of %d", ks.Name, ks.NumThreads, ks.BlockSize)
		}
		return ks, nil
	}

	steps := []func() (KernelSource, error){
		g.genNeuronPrevSpikeTimeUpdateKernel,
		g.genNeuronSpikeQueueUpdateKernel,
		g.genNeuronUpdateKernel,
		g.genPresynapticUpdateKernel,
		g.genPostsynapticUpdateKernel,
		g.genSynapseDynamicsKernel,
		g.genSynapseDendriticDelayUpdateKernel,
	}
	for _, step := range steps {
		ks, err := add(step())
		if err != nil {
			return nil, err
		}
		if !ks.IsEmpty() {
			gen.StepKernels = append(gen.StepKernels, ks.Kernel)
		}
	}

	for _, group := range g.mm.UpdateGroups {
		for _, custom := range []func(string) (KernelSource, error){g.genCustomUpdateKernel, g.genCustomTransposeUpdateKernel} {
			ks, err := custom(group)
			if err != nil {
				return nil, err
			}
			ks.UpdateGroup = group
			if _, err := add(ks, nil); err != nil {
				return nil, err
			}
		}
	}

	init, err := add(g.genInitializeKernel())
	if err != nil {
		return nil, err
	}
	sparse, err := add(g.genInitializeSparseKernel(init.NumThreads))
	if err != nil {
		return nil, err
	}
	gen.NumInitThreads = init.NumThreads
	gen.NumInitSparseThreads = sparse.NumThreads
	gen.NumInitRNGStreams = init.NumThreads + sparse.NumThreads

	// fields are registered while kernels are emitted so structs come last
	gen.Descriptors = g.mm.descriptors(PointerBytes)
	c := NewCodeStream()
	for _, desc := range gen.Descriptors {
		if len(desc.Members) > 0 {
			genMergedStruct(c, d, desc)
			c.Blank()
		}
	}
	var src strings.Builder
	src.WriteString(d.Preamble(g.scalar, g.timepoint))
	src.WriteString("\n")
	src.WriteString(c.String())
	for _, ks := range gen.Kernels {
		src.WriteString(ks.Source())
		src.WriteString("\n")
	}
	gen.Source = src.String()
	if err := c.Err(); err != nil {
		return nil, errors.Wrap(err, "declaring merged structs")
	}
	g.log.DebugF(logging.DEBUG_LEVEL_DUMP, "generated source:\n%s", gen.Source)
	return gen, nil
}
