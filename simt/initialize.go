package simt

import (
	"fmt"

	"github.com/notargets/SpikeKernel/merging"
	"github.com/notargets/SpikeKernel/model"
	"github.com/notargets/SpikeKernel/types"
)

// fill says where an initialised value is stored: copies copies of one
// element, copy d at at(d)
type fill struct {
	copies int
	at     func(copy string) string
}

// strided fills copies spaced stride elements apart
func strided(copies int, stride, index string) fill {
	return fill{copies: copies, at: func(d string) string {
		if d == "0" {
			return index
		}
		return "(" + d + " * " + stride + ") + " + index
	}}
}

// contiguous fills copies consecutive elements of a per-population array
func contiguous(copies int) fill {
	return fill{copies: copies, at: func(d string) string { return d }}
}

// genFill writes value into every copy of target
func genFill(c *CodeStream, env merging.Environment, target, value string, f fill) {
	if f.copies == 1 {
		c.Code(env, fmt.Sprintf("%s[%s] = %s;", target, f.at("0"), value))
		return
	}
	c.Printf("for (unsigned int d = 0; d < %d; d++) {", f.copies)
	c.Code(env, fmt.Sprintf("%s[%s] = %s;", target, f.at("d"), value))
	c.Line("}")
}

// genInitValue runs the initialiser of v and stores the result. suffix
// keeps the fields of variables from different sources apart.
func genInitValue[G merging.Named](g *generator, c *CodeStream, parent merging.Environment, mg *merging.MergedGroup[G],
	v model.Var, suffix string, init func(G) *model.VarInit, owner func(G) string, f fill) {
	typ, err := v.ResolveType(g.ctx)
	if err != nil {
		c.Fail(err)
		return
	}
	vi := init(mg.Archetype())
	env := merging.NewFieldEnvironment(parent, mg)
	env.DefineHeterogeneousParams(sortedKeys(vi.Params), v.Name+suffix, g.scalar,
		func(m G) map[string]float64 { return init(m).Params }, nil)
	name := v.Name
	arrayField(env, typ, "_target", name+suffix, g.prefix, func(m G) (string, string) {
		if owner == nil {
			return m.GroupName(), name
		}
		return owner(m), name
	})
	s := merging.NewScope(env)
	s.Add(typ, "value", "initVal")
	if vi.RequiresRNG() {
		g.addRNG(s, "$(_init_rng)")
	}

	c.Line("{")
	c.Printf("%s initVal;", typ.Name())
	c.Code(s, vi.Code)
	genFill(c, s, "$(_target)", "initVal", f)
	c.Line("}")
	c.Fail(s.Err())
}

// initRNG binds the transient generator of an initialisation thread,
// declared only when some initialiser draws from it
func (g *generator) initRNG(scope *merging.Scope, sequence string) {
	scope.AddInitialised(types.Void, "_init_rng", "initRNG", g.d.GlobalRNGSkipAhead(sequence))
}

// populationSequence is the stream of a persistent per-neuron generator.
// The top bit keeps these streams clear of initialisation and procedural
// connectivity streams.
func populationSequence(batch int) string {
	if batch == 0 {
		return "((uint64_t)1 << 63) + id"
	}
	return fmt.Sprintf("((uint64_t)1 << 63) + ((uint64_t)%d << 32) + id", batch)
}

// genInitializeKernel initialises neuron state, dense and kernel weights,
// custom update variables and builds sparse and bitmask connectivity. Each
// thread's transient generator is skipped ahead to its global ID.
func (g *generator) genInitializeKernel() (KernelSource, error) {
	kb := g.newKernel(KernelInitialize, KernelInitialize.String())
	for _, mg := range g.mm.SynapseConnectivityInit {
		if _, err := g.b.NumConnectivityInitThreads(mg.Archetype()); err != nil {
			return KernelSource{}, err
		}
	}

	idStart := genParallelGroup(kb, g.mm.NeuronInit, 0,
		func(ng *model.NeuronGroup) int { return ng.NumNeurons },
		g.genNeuronInitGroup)
	idStart = genParallelGroup(kb, g.mm.SynapseInit, idStart, g.b.NumInitThreads,
		g.genSynapseInitGroup)
	idStart = genParallelGroup(kb, g.mm.CustomUpdateInit, idStart,
		func(cu *model.CustomUpdate) int {
			if cu.IsPerNeuron() {
				return cu.Size
			}
			return 1
		},
		g.genCustomUpdateInitGroup)
	idStart = genParallelGroup(kb, g.mm.CustomWUUpdateInit, idStart, g.b.NumCustomUpdateWUInitThreads,
		g.genCustomWUUpdateInitGroup)
	genParallelGroup(kb, g.mm.SynapseConnectivityInit, idStart,
		func(sg *model.SynapseGroup) int {
			n, _ := g.b.NumConnectivityInitThreads(sg)
			return n
		},
		g.genConnectivityInitGroup)
	return kb.finish()
}

func (g *generator) genNeuronInitGroup(c *CodeStream, mg *NeuronMerged, scope *merging.Scope) {
	ng := mg.Archetype()
	batches := g.m.BatchSize
	slots := batches * ng.NumDelaySlots()
	fields := merging.NewFieldEnvironment(scope, mg)
	g.addNeuronFields(fields)
	g.initRNG(scope, "id")

	c.Code(fields, "if ($(id) < $(num_neurons)) {")
	c.Code(fields, "if ($(id) == 0) {")
	genFill(c, fields, "$(_spk_cnt)", "0", contiguous(slots))
	if ng.IsSpikeEventRequired() {
		genFill(c, fields, "$(_spk_cnt_evnt)", "0", contiguous(slots))
	}
	c.Line("}")
	genFill(c, fields, "$(_spk)", "0", strided(slots, "$(num_neurons)", "$(id)"))
	if ng.IsSpikeEventRequired() {
		genFill(c, fields, "$(_spk_evnt)", "0", strided(slots, "$(num_neurons)", "$(id)"))
	}
	never := g.timepoint.Literal(-g.timepoint.Numeric().Max)
	if ng.SpikeTimeRequired {
		genFill(c, fields, "$(_spk_time)", never, strided(slots, "$(num_neurons)", "$(id)"))
	}
	if ng.PrevSpikeTimeRequired {
		genFill(c, fields, "$(_prev_spk_time)", never, strided(slots, "$(num_neurons)", "$(id)"))
	}
	if ng.IsSimRNGRequired() {
		for b := 0; b < batches; b++ {
			rng := c.Expand(fields, fmt.Sprintf("$(_rng)[%s]", strided(batches, "$(num_neurons)", "$(id)").at(itoa(b))))
			c.Line(g.d.PopulationRNGInit(rng, "deviceRNGSeed", populationSequence(b)))
		}
	}

	// postsynaptic inputs and dendritic delay buffers of incoming synapses
	for j, sg := range ng.InSyn() {
		jj := j
		inSyn := func(array string) func(ng *model.NeuronGroup) (string, string) {
			return func(ng *model.NeuronGroup) (string, string) { return ng.InSyn()[jj].Name, array }
		}
		outPost := fmt.Sprintf("_out_post_%d", j)
		arrayField(fields, g.scalar, outPost, fmt.Sprintf("outPostInSyn%d", j), g.prefix, inSyn("outPost"))
		genFill(c, fields, "$("+outPost+")", g.scalar.Literal(0), strided(batches, "$(num_neurons)", "$(id)"))
		if sg.IsDendriticDelayRequired() {
			denDelay, denDelayPtr := fmt.Sprintf("_den_delay_%d", j), fmt.Sprintf("_den_delay_ptr_%d", j)
			arrayField(fields, g.scalar, denDelay, fmt.Sprintf("denDelayInSyn%d", j), g.prefix, inSyn("denDelay"))
			arrayField(fields, types.Uint32, denDelayPtr, fmt.Sprintf("denDelayPtrInSyn%d", j), g.prefix, inSyn("denDelayPtr"))
			genFill(c, fields, "$("+denDelay+")", g.scalar.Literal(0),
				strided(batches*sg.MaxDendriticDelayTimesteps, "$(num_neurons)", "$(id)"))
			c.Code(fields, "if ($(id) == 0) {")
			c.Code(fields, "*$("+denDelayPtr+") = 0;")
			c.Line("}")
		}
	}

	for _, v := range ng.Model.Vars {
		if ng.VarInit[v.Name] == nil || !v.AccessDims().Has(model.DimElement) {
			continue
		}
		genInitValue(g, c, fields, mg, v, "", func(ng *model.NeuronGroup) *model.VarInit { return ng.VarInit[v.Name] },
			nil, g.neuronVarFill(ng, v))
	}
	c.Line("}")

	// shared variables are written once per population
	for _, v := range ng.Model.Vars {
		if ng.VarInit[v.Name] == nil || v.AccessDims().Has(model.DimElement) {
			continue
		}
		c.Code(fields, "if ($(id) == 0) {")
		genInitValue(g, c, fields, mg, v, "", func(ng *model.NeuronGroup) *model.VarInit { return ng.VarInit[v.Name] },
			nil, contiguous(NeuronVarSize(ng, v, batches)))
		c.Line("}")
	}

	for j, cs := range ng.CurrentSources() {
		jj := j
		suffix := fmt.Sprintf("CS%d", j)
		owner := func(ng *model.NeuronGroup) string { return ng.CurrentSources()[jj].Name }
		for _, v := range cs.Model.Vars {
			if cs.VarInit[v.Name] == nil {
				continue
			}
			copies := 1
			if batches > 1 && v.AccessDims().Has(model.DimBatch) {
				copies = batches
			}
			c.Code(fields, "if ($(id) < $(num_neurons)) {")
			genInitValue(g, c, fields, mg, v, suffix,
				func(ng *model.NeuronGroup) *model.VarInit { return ng.CurrentSources()[jj].VarInit[v.Name] },
				owner, strided(copies, "$(num_neurons)", "$(id)"))
			c.Line("}")
		}
	}
	c.Fail(fields.Err())
}

// neuronVarFill covers every batch and delay slot copy of a neuron variable
func (g *generator) neuronVarFill(ng *model.NeuronGroup, v model.Var) fill {
	return strided(NeuronVarSize(ng, v, g.m.BatchSize)/ng.NumNeurons, "$(num_neurons)", "$(id)")
}

// wuCopies is the number of batch copies of a weight update variable
func (g *generator) wuCopies(dims model.VarAccessDim) int {
	if g.m.BatchSize > 1 && dims.Has(model.DimBatch) {
		return g.m.BatchSize
	}
	return 1
}

// genSynapseInitGroup initialises dense weights a column per thread and
// kernel weights an entry per thread
func (g *generator) genSynapseInitGroup(c *CodeStream, mg *SynapseMerged, scope *merging.Scope) {
	sg := mg.Archetype()
	fields := merging.NewFieldEnvironment(scope, mg)
	g.addSynapseFields(fields)
	scalarField(fields, types.Uint32, "_kernel_size", "kernelSize",
		func(sg *model.SynapseGroup) float64 { return float64(sg.KernelSizeFlattened()) })
	g.initRNG(scope, "id")
	init := func(v model.Var) func(sg *model.SynapseGroup) *model.VarInit {
		return func(sg *model.SynapseGroup) *model.VarInit { return sg.WUVarInit[v.Name] }
	}

	idx := merging.NewScope(fields)
	if sg.HasKernelWeights() {
		idx.Add(constUint32, "id_kernel", "$(id)")
		c.Code(fields, "if ($(id) < $(_kernel_size)) {")
		for _, v := range sg.WUModel.Vars {
			if sg.WUVarInit[v.Name] != nil {
				genInitValue(g, c, idx, mg, v, "", init(v), nil,
					strided(g.wuCopies(v.AccessDims()), "$(_kernel_size)", "$(id)"))
			}
		}
		c.Line("}")
		c.Fail(idx.Err())
		c.Fail(fields.Err())
		return
	}

	idx.Add(constUint32, "id_pre", "i")
	idx.Add(constUint32, "id_post", "$(id)")
	idx.Add(constUint32, "id_syn", "(i * $(_row_stride)) + $(id)")
	c.Code(fields, "if ($(id) < $(num_post)) {")
	c.Code(fields, "for (unsigned int i = 0; i < $(num_pre); i++) {")
	for _, v := range sg.WUModel.Vars {
		if sg.WUVarInit[v.Name] != nil {
			genInitValue(g, c, idx, mg, v, "", init(v), nil,
				strided(g.wuCopies(v.AccessDims()), "($(num_pre) * $(_row_stride))", "$(id_syn)"))
		}
	}
	c.Line("}")
	c.Line("}")
	c.Fail(idx.Err())
	c.Fail(fields.Err())
}

func (g *generator) genCustomUpdateInitGroup(c *CodeStream, mg *CustomMerged, scope *merging.Scope) {
	cu := mg.Archetype()
	fields := merging.NewFieldEnvironment(scope, mg)
	scalarField(fields, types.Uint32, "size", "size", func(cu *model.CustomUpdate) float64 { return float64(cu.Size) })
	g.initRNG(scope, "id")

	elements := "1"
	if cu.IsPerNeuron() {
		elements = "$(size)"
	}
	c.Code(fields, "if ($(id) < "+elements+") {")
	for _, v := range cu.Model.Vars {
		if cu.VarInit[v.Name] == nil {
			continue
		}
		n := CustomUpdateVarSize(cu, v, g.m.BatchSize)
		f := contiguous(n)
		if (v.AccessDims() & cu.AccessDims()).Has(model.DimElement) {
			f = strided(n/cu.Size, "$(size)", "$(id)")
		}
		genInitValue(g, c, fields, mg, v, "",
			func(cu *model.CustomUpdate) *model.VarInit { return cu.VarInit[v.Name] }, nil, f)
	}
	c.Line("}")
	c.Fail(fields.Err())
}

func (g *generator) genCustomWUUpdateInitGroup(c *CodeStream, mg *CustomWUMerged, scope *merging.Scope) {
	cu := mg.Archetype()
	sg := cu.Synapse
	fields := merging.NewFieldEnvironment(scope, mg)
	addCustomWUShape(g, fields)
	g.initRNG(scope, "id")
	init := func(v model.Var) func(cu *model.CustomUpdateWU) *model.VarInit {
		return func(cu *model.CustomUpdateWU) *model.VarInit { return cu.VarInit[v.Name] }
	}
	copies := func(v model.Var) int { return g.wuCopies(v.AccessDims() & cu.AccessDims()) }

	idx := merging.NewScope(fields)
	if sg.HasKernelWeights() {
		idx.Add(constUint32, "id_kernel", "$(id)")
		c.Code(fields, "if ($(id) < $(size)) {")
		for _, v := range cu.Model.Vars {
			if cu.VarInit[v.Name] != nil {
				genInitValue(g, c, idx, mg, v, "", init(v), nil, strided(copies(v), "$(size)", "$(id)"))
			}
		}
		c.Line("}")
	} else {
		idx.Add(constUint32, "id_pre", "i")
		idx.Add(constUint32, "id_post", "$(id)")
		idx.Add(constUint32, "id_syn", "(i * $(_row_stride)) + $(id)")
		c.Code(fields, "if ($(id) < $(num_post)) {")
		c.Code(fields, "for (unsigned int i = 0; i < $(num_pre); i++) {")
		for _, v := range cu.Model.Vars {
			if cu.VarInit[v.Name] != nil {
				genInitValue(g, c, idx, mg, v, "", init(v), nil, strided(copies(v), "$(size)", "$(id_syn)"))
			}
		}
		c.Line("}")
		c.Line("}")
	}
	c.Fail(idx.Err())
	c.Fail(fields.Err())
}

// genConnectivityInitGroup runs the row or column building code of a sparse
// or bitmask group, one thread per row or column
func (g *generator) genConnectivityInitGroup(c *CodeStream, mg *SynapseMerged, scope *merging.Scope) {
	d := g.d
	sg := mg.Archetype()
	fields := merging.NewFieldEnvironment(scope, mg)
	g.addSynapseFields(fields)
	conn := merging.NewScope(g.connectivityEnv(fields, mg))
	g.initRNG(scope, "id")
	g.addRNG(conn, "$(_init_rng)")

	wide := g.b.SynapticMatrixRowStride(sg)*sg.Source.NumNeurons > 1<<32-1
	indexType := "unsigned int"
	if wide {
		indexType = "uint64_t"
	}
	atomicAdd := d.Atomic(types.Uint32, AtomicAdd, false)
	atomicOr := d.Atomic(types.Uint32, AtomicOr, false)

	body := NewCodeStream()
	body.Line("do {")
	rowBuild := sg.Connectivity.RowBuildCode != ""
	switch {
	case sg.IsBitmask() && rowBuild:
		body.Printf("const %s gid = ((%s)$(id_pre) * $(_row_stride)) + $(0);", indexType, indexType)
		body.Printf("%s(&$(_gp)[gid / 32], 0x80000000 >> (gid & 31));", atomicOr)
	case sg.IsBitmask():
		body.Printf("const %s gid = ((%s)$(0) * $(_row_stride)) + $(id_post);", indexType, indexType)
		body.Printf("%s(&$(_gp)[gid / 32], 0x80000000 >> (gid & 31));", atomicOr)
	case rowBuild:
		// one thread owns each row so the length needs no atomic
		body.Line("const unsigned int idx = ($(id_pre) * $(_row_stride)) + $(_row_length)[$(id_pre)];")
		body.Line("$(_ind)[idx] = $(0);")
		body.Line("$(_row_length)[$(id_pre)]++;")
	default:
		body.Printf("const unsigned int idx = ($(0) * $(_row_stride)) + %s(&$(_row_length)[$(0)], 1);", atomicAdd)
		body.Line("$(_ind)[idx] = $(id_post);")
	}
	body.Line("} while(false)")
	conn.Add(types.Void, "addSynapse", body.String())

	if rowBuild {
		conn.Add(constUint32, "id_pre", "$(id)")
		c.Code(fields, "if ($(id) < $(num_pre)) {")
		c.Code(conn, sg.Connectivity.RowBuildCode)
	} else {
		conn.Add(constUint32, "id_post", "$(id)")
		c.Code(fields, "if ($(id) < $(num_post)) {")
		c.Code(conn, sg.Connectivity.ColBuildCode)
	}
	c.Line("}")
	c.Fail(conn.Err())
}

// genInitializeSparseKernel initialises the variables of sparse synapses
// and builds the column remap used by postsynaptic learning. Row lengths
// are staged a block of rows at a time. Generator streams continue after
// the numInitThreads streams of the initialize kernel.
func (g *generator) genInitializeSparseKernel(numInitThreads int) (KernelSource, error) {
	kb := g.newKernel(KernelInitializeSparse, KernelInitializeSparse.String())
	kb.shared("unsigned int", "_sh_row_length", "shRowLength", kb.bs)
	sequence := fmt.Sprintf("%d + id", numInitThreads)

	idStart := genParallelGroup(kb, g.mm.SynapseSparseInit, 0, g.b.SynapticMatrixRowStride,
		func(c *CodeStream, mg *SynapseMerged, scope *merging.Scope) {
			sg := mg.Archetype()
			fields := merging.NewFieldEnvironment(scope, mg)
			g.addSynapseFields(fields)
			g.initRNG(scope, sequence)
			g.genSparseRows(c, kb.bs, fields, func(idx *merging.Scope) {
				for _, v := range sg.WUModel.Vars {
					if sg.WUVarInit[v.Name] == nil {
						continue
					}
					name := v.Name
					genInitValue(g, c, idx, mg, v, "",
						func(sg *model.SynapseGroup) *model.VarInit { return sg.WUVarInit[name] }, nil,
						strided(g.wuCopies(v.AccessDims()), "($(num_pre) * $(_row_stride))", "idx"))
				}
				if sg.IsPostsynapticRemapRequired() {
					c.Line("// column-major position of this synapse")
					c.Code(idx, "const unsigned int postIndex = $(_ind)[idx];")
					c.Code(idx, fmt.Sprintf("const unsigned int colLocation = %s(&$(_col_length)[postIndex], 1);",
						g.d.Atomic(types.Uint32, AtomicAdd, false)))
					c.Code(idx, "const unsigned int colMajorIndex = (postIndex * $(_col_stride)) + colLocation;")
					c.Code(idx, "$(_remap)[colMajorIndex] = idx;")
				}
			})
			c.Fail(fields.Err())
		})

	genParallelGroup(kb, g.mm.CustomWUUpdateSparseInit, idStart,
		func(cu *model.CustomUpdateWU) int { return g.b.SynapticMatrixRowStride(cu.Synapse) },
		func(c *CodeStream, mg *CustomWUMerged, scope *merging.Scope) {
			cu := mg.Archetype()
			fields := merging.NewFieldEnvironment(scope, mg)
			addCustomWUShape(g, fields)
			g.initRNG(scope, sequence)
			g.genSparseRows(c, kb.bs, fields, func(idx *merging.Scope) {
				for _, v := range cu.Model.Vars {
					if cu.VarInit[v.Name] == nil {
						continue
					}
					name := v.Name
					genInitValue(g, c, idx, mg, v, "",
						func(cu *model.CustomUpdateWU) *model.VarInit { return cu.VarInit[name] }, nil,
						strided(g.wuCopies(v.AccessDims()&cu.AccessDims()), "$(size)", "idx"))
				}
			})
			c.Fail(fields.Err())
		})
	return kb.finish()
}

// genSparseRows walks every row of a sparse matrix, giving synapse slot
// $(id) of each row to this thread. body runs for existing synapses with
// id_pre, id_post and id_syn bound.
func (g *generator) genSparseRows(c *CodeStream, bs int, fields merging.Environment, body func(idx *merging.Scope)) {
	d := g.d
	tid := d.ThreadID(0)
	c.Code(fields, fmt.Sprintf("const unsigned int numBlocks = ($(num_pre) + %d) / %d;", bs-1, bs))
	c.Code(fields, "unsigned int idx = $(id);")
	c.Line("for (unsigned int r = 0; r < numBlocks; r++) {")
	c.Code(fields, fmt.Sprintf("const unsigned int numRowsInBlock = (r == (numBlocks - 1)) ? ((($(num_pre) - 1) %% %d) + 1) : %d;", bs, bs))
	c.Line(d.Barrier())
	c.Printf("if (%s < numRowsInBlock) {", tid)
	c.Code(fields, fmt.Sprintf("$(_sh_row_length)[%s] = $(_row_length)[(r * %d) + %s];", tid, bs, tid))
	c.Line("}")
	c.Line(d.Barrier())
	c.Line("for (unsigned int i = 0; i < numRowsInBlock; i++) {")
	c.Code(fields, "if ($(id) < $(_sh_row_length)[i]) {")
	idx := merging.NewScope(fields)
	idx.Add(constUint32, "id_pre", fmt.Sprintf("((r * %d) + i)", bs))
	idx.Add(constUint32, "id_post", "$(_ind)[idx]")
	idx.Add(constUint32, "id_syn", "idx")
	body(idx)
	c.Line("}")
	c.Code(fields, "idx += $(_row_stride);")
	c.Line("}")
	c.Line("}")
	c.Fail(idx.Err())
}
