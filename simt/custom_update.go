package simt

import (
	"fmt"

	"github.com/notargets/SpikeKernel/merging"
	"github.com/notargets/SpikeKernel/model"
	"github.com/notargets/SpikeKernel/types"
	"github.com/pkg/errors"
)

// transposeRows is the height of the thread block that moves one tile of a
// transpose update
const transposeRows = 8

// customVar is a variable or variable reference of a custom update, read
// into the local l<name> around the update code
type customVar struct {
	name   string
	typ    types.ResolvedType
	access model.VarAccessMode
	// dims is the shape of the storage being indexed
	dims model.VarAccessDim
}

func customVars(cm *model.CustomUpdateModel, ctx types.TypeContext, updateDims model.VarAccessDim,
	refs map[string]model.VarReference) ([]customVar, error) {
	var out []customVar
	for _, v := range cm.Vars {
		typ, err := v.ResolveType(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, customVar{name: v.Name, typ: typ, access: v.Access, dims: v.AccessDims() & updateDims})
	}
	for _, r := range cm.VarRefs {
		typ, err := types.ParseNumeric(r.Type, ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "variable reference '%s'", r.Name)
		}
		out = append(out, customVar{name: r.Name, typ: typ, access: r.Access, dims: refs[r.Name].Dims()})
	}
	return out, nil
}

// checkReductions rejects reduction targets that keep the dimension the
// update reduces over
func checkReductions(name string, vars []customVar, reduced model.VarAccessDim) error {
	for _, v := range vars {
		if v.access.IsReduction() && v.dims.Has(reduced) {
			return errors.Wrapf(ErrUnsupportedAccess, "custom update '%s' cannot reduce into '%s'", name, v.name)
		}
	}
	return nil
}

func reductionIdentity(v customVar) string {
	if v.access.ReductionOperation() == model.ReductionMax {
		return v.typ.Literal(v.typ.Numeric().Lowest)
	}
	return v.typ.Literal(0)
}

func reductionCombine(v customVar, target, value string) string {
	if v.access.ReductionOperation() == model.ReductionMax {
		fn := "fmax"
		if v.typ.Numeric().IsIntegral {
			fn = "max"
		}
		return fmt.Sprintf("%s = %s(%s, %s);", target, fn, target, value)
	}
	return fmt.Sprintf("%s += %s;", target, value)
}

// customLocals binds every variable to its local copy for the update code
func customLocals(env merging.Environment, vars []customVar) *merging.Scope {
	s := merging.NewScope(env)
	for _, v := range vars {
		s.Add(v.typ, v.name, "l"+v.name)
	}
	return s
}

// genReadLocals copies every variable into its local. Reduction targets
// start at the identity of their operation.
func genReadLocals(c *CodeStream, env merging.Environment, vars []customVar) {
	for _, v := range vars {
		if v.access.IsReduction() {
			c.Printf("%s l%s = %s;", v.typ.Name(), v.name, reductionIdentity(v))
			continue
		}
		qual := ""
		if v.access.IsReadOnly() {
			qual = "const "
		}
		c.Code(env, fmt.Sprintf("%s%s l%s = $(%s);", qual, v.typ.Name(), v.name, v.name))
	}
}

// genWriteLocals stores locals back. Reduction targets are only included
// when the update doesn't reduce.
func genWriteLocals(c *CodeStream, env merging.Environment, vars []customVar, reducing bool) {
	for _, v := range vars {
		if v.access.IsReadOnly() || (reducing && v.access.IsReduction()) {
			continue
		}
		c.Code(env, fmt.Sprintf("$(%s) = l%s;", v.name, v.name))
	}
}

func genInitReductionTargets(c *CodeStream, vars []customVar) {
	for _, v := range vars {
		if v.access.IsReduction() {
			c.Printf("%s lr%s = %s;", v.typ.Name(), v.name, reductionIdentity(v))
		}
	}
}

func genReduce(c *CodeStream, vars []customVar) {
	for _, v := range vars {
		if v.access.IsReduction() {
			c.Line(reductionCombine(v, "lr"+v.name, "l"+v.name))
		}
	}
}

func genWriteReductions(c *CodeStream, env merging.Environment, vars []customVar) {
	for _, v := range vars {
		if v.access.IsReduction() {
			c.Code(env, fmt.Sprintf("$(%s) = lr%s;", v.name, v.name))
		}
	}
}

// genCustomCode writes one pass over the update code: load, update, store
func genCustomCode(c *CodeStream, idx merging.Environment, vars []customVar, code string, reducing bool) {
	locals := customLocals(idx, vars)
	genReadLocals(c, idx, vars)
	c.Code(locals, code)
	genWriteLocals(c, idx, vars, reducing)
	if reducing {
		genReduce(c, vars)
	}
	c.Fail(locals.Err())
}

func addCustomModelFields[G merging.Named](g *generator, env *merging.FieldEnvironment[G], cm *model.CustomUpdateModel,
	params func(G) map[string]float64, dynamic func(G) map[string]bool) {
	env.DefineHeterogeneousParams(cm.ParamNames, "", g.scalar, params, dynamic)
	env.DefineHeterogeneousDerivedParams(cm.DerivedParams, "", g.scalar, params, g.m.DT)
	env.DefineEGPs(cm.EGPs, g.ctx, g.prefix, "", nil)
}

// referencedDelayGroup is the delayed neuron group cu references, if any.
// Every delayed reference of one update must share a queue.
func (g *generator) referencedDelayGroup(cu *model.CustomUpdate) (*model.NeuronGroup, error) {
	var found *model.NeuronGroup
	for _, r := range cu.Model.VarRefs {
		ng, ok := g.m.NeuronGroup(cu.VarReferences[r.Name].Group)
		if !ok || !ng.IsDelayRequired() {
			continue
		}
		if found != nil && found != ng {
			return nil, errors.Errorf("custom update '%s' references delayed variables of both '%s' and '%s'",
				cu.Name, found.Name, ng.Name)
		}
		found = ng
	}
	return found, nil
}

// CustomUpdateVarSize is the number of elements the runtime allocates for a
// variable of a neuron shaped custom update
func CustomUpdateVarSize(cu *model.CustomUpdate, v model.Var, batchSize int) int {
	dims := v.AccessDims() & cu.AccessDims()
	n := 1
	if dims.Has(model.DimElement) {
		n = cu.Size
	}
	if batchSize > 1 && dims.Has(model.DimBatch) {
		n *= batchSize
	}
	return n
}

// CustomUpdateWUVarSize is CustomUpdateVarSize for weight shaped updates,
// which hold one element per potential synapse or kernel entry
func CustomUpdateWUVarSize(b *Backend, cu *model.CustomUpdateWU, v model.Var, batchSize int) int {
	dims := v.AccessDims() & cu.AccessDims()
	n := 1
	if dims.Has(model.DimElement) {
		n = customWUSize(b, cu.Synapse)
	}
	if batchSize > 1 && dims.Has(model.DimBatch) {
		n *= batchSize
	}
	return n
}

func customWUSize(b *Backend, sg *model.SynapseGroup) int {
	if sg.HasKernelWeights() {
		return sg.KernelSizeFlattened()
	}
	return sg.Source.NumNeurons * b.SynapticMatrixRowStride(sg)
}

// genCustomUpdateKernel runs every custom update of one update group,
// neuron shaped ones first
func (g *generator) genCustomUpdateKernel(group string) (KernelSource, error) {
	kb := g.newKernel(KernelCustomUpdate, KernelCustomUpdate.String()+group)
	bs := kb.bs
	idStart := genParallelGroup(kb, g.mm.CustomUpdate[group], 0,
		func(cu *model.CustomUpdate) int { return g.b.PaddedNumCustomUpdateThreads(cu, g.m.BatchSize) },
		func(c *CodeStream, mg *CustomMerged, scope *merging.Scope) {
			g.genCustomUpdateGroup(c, mg, scope, bs)
		})
	genParallelGroup(kb, g.mm.CustomUpdateWU[group], idStart,
		func(cu *model.CustomUpdateWU) int { return g.b.PaddedNumCustomUpdateWUThreads(cu, g.m.BatchSize) },
		func(c *CodeStream, mg *CustomWUMerged, scope *merging.Scope) {
			g.genCustomUpdateWUGroup(c, mg, scope, bs)
		})
	return kb.finish()
}

func (g *generator) genCustomUpdateGroup(c *CodeStream, mg *CustomMerged, scope *merging.Scope, bs int) {
	cu := mg.Archetype()
	cm := cu.Model
	vars, err := customVars(cm, g.ctx, cu.AccessDims(), cu.VarReferences)
	if err != nil {
		c.Fail(errors.Wrapf(err, "custom update '%s'", cu.Name))
		return
	}
	for _, m := range mg.Groups() {
		if _, err := g.referencedDelayGroup(m); err != nil {
			c.Fail(err)
			return
		}
	}
	delayed, _ := g.referencedDelayGroup(cu)

	fields := merging.NewFieldEnvironment(scope, mg)
	scalarField(fields, types.Uint32, "size", "size", func(cu *model.CustomUpdate) float64 { return float64(cu.Size) })
	addCustomModelFields(g, fields, cm,
		func(cu *model.CustomUpdate) map[string]float64 { return cu.Params },
		func(cu *model.CustomUpdate) map[string]bool { return cu.DynamicParams })
	if delayed != nil {
		arrayField(fields, types.Uint32, "_spk_que_ptr", "spkQuePtr", g.prefix,
			func(cu *model.CustomUpdate) (string, string) {
				ng, _ := g.referencedDelayGroup(cu)
				return ng.Name, "spkQuePtr"
			})
	}
	fields.DefineVars(cm.Vars, g.ctx, g.prefix, "", nil, func(v model.Var) string {
		return g.varIndex(v.AccessDims()&cu.AccessDims(), "", "_batch_offset", "$(id)")
	})
	fields.DefineVarReferences(cm.VarRefs, g.ctx, g.prefix,
		func(cu *model.CustomUpdate) map[string]model.VarReference { return cu.VarReferences },
		func(r model.VarRefDef) string {
			ref := cu.VarReferences[r.Name]
			delayOffset := ""
			if ng, ok := g.m.NeuronGroup(ref.Group); ok && ng.IsDelayRequired() {
				delayOffset = "_delay_offset"
			}
			return g.varIndex(ref.Dims(), delayOffset, "_batch_offset", "$(id)")
		})

	index := func(id, batch string) *merging.Scope {
		s := merging.NewScope(fields)
		s.Add(constUint32, "id", id)
		s.Add(constUint32, "batch", batch)
		s.Add(constUint32, "_batch_offset", "($(size) * $(batch))")
		if delayed != nil {
			s.Add(constUint32, "_delay_offset", fmt.Sprintf("((%s*$(_spk_que_ptr)) * $(size))",
				batchSlots(g.m.BatchSize, delayed.NumDelaySlots())))
		}
		return s
	}
	lid := c.Expand(scope, "$(id)")
	elements := "1"
	if cu.IsPerNeuron() {
		elements = "$(size)"
	}
	copies := numCopies(cu.IsBatched(), cu.IsBatchReduction(), g.m.BatchSize)

	switch {
	case cu.IsBatchReduction():
		c.Fail(checkReductions(cu.Name, vars, model.DimBatch))
		element := lid
		if !cu.IsPerNeuron() {
			element = "0"
		}
		idx := index(element, "batch")
		c.Code(fields, "if ("+lid+" < "+elements+") {")
		genInitReductionTargets(c, vars)
		c.Printf("for (unsigned int batch = 0; batch < %d; batch++) {", g.m.BatchSize)
		genCustomCode(c, idx, vars, cm.UpdateCode, true)
		c.Line("}")
		genWriteReductions(c, idx, vars)
		c.Line("}")
		c.Fail(idx.Err())

	case cu.IsNeuronReduction():
		c.Fail(checkReductions(cu.Name, vars, model.DimElement))
		batch := "0"
		if copies > 1 {
			c.Printf("const unsigned int batch = %s / %d;", lid, NumLanes)
			batch = "batch"
		}
		c.Printf("const unsigned int lane = %s %% %d;", lid, NumLanes)
		idx := index("idx", batch)
		c.Printf("if (%s < %d) {", lid, NumLanes*copies)
		genInitReductionTargets(c, vars)
		c.Code(fields, fmt.Sprintf("for (unsigned int idx = lane; idx < $(size); idx += %d) {", NumLanes))
		genCustomCode(c, idx, vars, cm.UpdateCode, true)
		c.Line("}")
		c.Printf("for (unsigned int i = %d; i > 0; i /= 2) {", NumLanes/2)
		for _, v := range vars {
			if v.access.IsReduction() {
				c.Line(reductionCombine(v, "lr"+v.name, g.d.ShuffleDown("lr"+v.name, "i")))
			}
		}
		c.Line("}")
		c.Line("if (lane == 0) {")
		genWriteReductions(c, idx, vars)
		c.Line("}")
		c.Line("}")
		c.Fail(idx.Err())

	case cu.IsPerNeuron():
		element, batch := lid, "0"
		if copies > 1 {
			c.Code(fields, fmt.Sprintf("const unsigned int paddedSize = %d * (($(size) + %d) / %d);", bs, bs-1, bs))
			c.Printf("const unsigned int bid = %s %% paddedSize;", lid)
			c.Printf("const unsigned int batch = %s / paddedSize;", lid)
			element, batch = "bid", "batch"
		}
		idx := index(element, batch)
		c.Code(fields, "if ("+element+" < $(size)) {")
		genCustomCode(c, idx, vars, cm.UpdateCode, false)
		c.Line("}")
		c.Fail(idx.Err())

	default:
		batch := "0"
		if copies > 1 {
			batch = lid
		}
		idx := index("0", batch)
		c.Printf("if (%s < %d) {", lid, copies)
		genCustomCode(c, idx, vars, cm.UpdateCode, false)
		c.Line("}")
		c.Fail(idx.Err())
	}
	c.Fail(fields.Err())
}

// addCustomWUShape binds the sizes and sparse structure of the synapse
// group a weight shaped custom update works on
func addCustomWUShape(g *generator, env *customWUFields) {
	syn := func(cu *model.CustomUpdateWU) *model.SynapseGroup { return cu.Synapse }
	scalarField(env, types.Uint32, "num_pre", "numSrcNeurons",
		func(cu *model.CustomUpdateWU) float64 { return float64(syn(cu).Source.NumNeurons) })
	scalarField(env, types.Uint32, "num_post", "numTrgNeurons",
		func(cu *model.CustomUpdateWU) float64 { return float64(syn(cu).Target.NumNeurons) })
	scalarField(env, types.Uint32, "_row_stride", "rowStride",
		func(cu *model.CustomUpdateWU) float64 { return float64(g.b.SynapticMatrixRowStride(syn(cu))) })
	scalarField(env, types.Uint32, "size", "size",
		func(cu *model.CustomUpdateWU) float64 { return float64(customWUSize(g.b, syn(cu))) })

	sg := env.Group().Archetype().Synapse
	indType, err := types.ParseNumeric(sg.SparseIndexType(), g.ctx)
	if err != nil {
		indType = types.Uint32
	}
	arrayField(env, types.Uint32, "_row_length", "rowLength", g.prefix,
		func(cu *model.CustomUpdateWU) (string, string) { return syn(cu).Name, "rowLength" })
	arrayField(env, indType, "_ind", "ind", g.prefix,
		func(cu *model.CustomUpdateWU) (string, string) { return syn(cu).Name, "ind" })
}

// customWUFieldEnv binds everything a weight shaped update's code can see
// except the per-thread synapse indices
func (g *generator) customWUFieldEnv(scope merging.Environment, mg *CustomWUMerged) *customWUFields {
	cu := mg.Archetype()
	cm := cu.Model
	fields := merging.NewFieldEnvironment(scope, mg)
	addCustomWUShape(g, fields)
	addCustomModelFields(g, fields, cm,
		func(cu *model.CustomUpdateWU) map[string]float64 { return cu.Params },
		func(cu *model.CustomUpdateWU) map[string]bool { return cu.DynamicParams })
	element := "$(id_syn)"
	if cu.Synapse.HasKernelWeights() {
		element = "$(id_kernel)"
	}
	fields.DefineVars(cm.Vars, g.ctx, g.prefix, "", nil, func(v model.Var) string {
		return g.varIndex(v.AccessDims()&cu.AccessDims(), "", "_batch_offset", element)
	})
	fields.DefineVarReferences(cm.VarRefs, g.ctx, g.prefix,
		func(cu *model.CustomUpdateWU) map[string]model.VarReference { return cu.VarReferences },
		func(r model.VarRefDef) string {
			return g.varIndex(cu.VarReferences[r.Name].Dims(), "", "_batch_offset", element)
		})
	return fields
}

func (g *generator) genCustomUpdateWUGroup(c *CodeStream, mg *CustomWUMerged, scope *merging.Scope, bs int) {
	cu := mg.Archetype()
	sg := cu.Synapse
	cm := cu.Model
	vars, err := customVars(cm, g.ctx, cu.AccessDims(), cu.VarReferences)
	if err != nil {
		c.Fail(errors.Wrapf(err, "custom update '%s'", cu.Name))
		return
	}
	if !sg.HasKernelWeights() && !sg.IsDense() && !sg.IsSparse() {
		c.Fail(errors.Errorf("custom update '%s': weight updates need dense, sparse or kernel weights", cu.Name))
		return
	}
	fields := g.customWUFieldEnv(scope, mg)
	lid := c.Expand(scope, "$(id)")
	reduction := cu.IsBatchReduction()
	if reduction {
		c.Fail(checkReductions(cu.Name, vars, model.DimBatch))
	}

	element, batch := lid, "0"
	switch {
	case reduction:
		batch = "batch"
	case cu.IsBatched():
		c.Code(fields, fmt.Sprintf("const unsigned int paddedSize = %d * (($(size) + %d) / %d);", bs, bs-1, bs))
		c.Printf("const unsigned int bid = %s %% paddedSize;", lid)
		c.Printf("const unsigned int batch = %s / paddedSize;", lid)
		element, batch = "bid", "batch"
	}

	idx := merging.NewScope(fields)
	idx.Add(constUint32, "batch", batch)
	idx.Add(constUint32, "_batch_offset", "($(size) * $(batch))")
	idx.Add(constUint32, "id_syn", element)
	c.Code(fields, "if ("+element+" < $(size)) {")
	switch {
	case sg.HasKernelWeights():
		idx.Add(constUint32, "id_kernel", element)
	case sg.IsSparse():
		c.Code(fields, "const unsigned int row = "+element+" / $(_row_stride);")
		c.Code(fields, "const unsigned int col = "+element+" % $(_row_stride);")
		c.Code(fields, "if (col < $(_row_length)[row]) {")
		idx.Add(constUint32, "id_pre", "row")
		idx.Add(constUint32, "id_post", "$(_ind)["+element+"]")
	default:
		idx.Add(constUint32, "id_pre", "("+element+" / $(_row_stride))")
		idx.Add(constUint32, "id_post", "("+element+" % $(_row_stride))")
	}

	if reduction {
		genInitReductionTargets(c, vars)
		c.Printf("for (unsigned int batch = 0; batch < %d; batch++) {", g.m.BatchSize)
		genCustomCode(c, idx, vars, cm.UpdateCode, true)
		c.Line("}")
		genWriteReductions(c, idx, vars)
	} else {
		genCustomCode(c, idx, vars, cm.UpdateCode, false)
	}

	if sg.IsSparse() && !sg.HasKernelWeights() {
		c.Line("}")
	}
	c.Line("}")
	c.Fail(idx.Err())
}

// transposeReference is the variable reference whose value is written,
// transposed, into another synapse group
func transposeReference(cu *model.CustomUpdateWU) (model.VarRefDef, bool) {
	for _, r := range cu.Model.VarRefs {
		if cu.VarReferences[r.Name].IsTranspose() {
			return r, true
		}
	}
	return model.VarRefDef{}, false
}

// genCustomTransposeUpdateKernel runs the transposing custom updates of one
// update group. Every block moves one tile of the dense weight matrix
// through shared memory so both the reads and the transposed writes are
// coalesced.
func (g *generator) genCustomTransposeUpdateKernel(group string) (KernelSource, error) {
	kb := g.newKernel(KernelCustomTransposeUpdate, KernelCustomTransposeUpdate.String()+group)
	bs := kb.bs
	if bs%transposeRows != 0 && len(g.mm.CustomUpdateTransposeWU[group]) > 0 {
		return KernelSource{}, errors.Errorf("%s: block size %d is not a multiple of %d", kb.name, bs, transposeRows)
	}
	kb.blockDimY = transposeRows
	kb.prologue = append(kb.prologue,
		fmt.Sprintf("%s%s shTile[%d][%d];", g.d.SharedPrefix(), g.scalar.Name(), bs, bs+1))

	genParallelGroup(kb, g.mm.CustomUpdateTransposeWU[group], 0,
		func(cu *model.CustomUpdateWU) int { return g.b.PaddedNumCustomUpdateTransposeWUThreads(cu, g.m.BatchSize) },
		func(c *CodeStream, mg *CustomWUMerged, scope *merging.Scope) {
			g.genCustomTransposeGroup(c, mg, scope, bs)
		})
	return kb.finish()
}

func (g *generator) genCustomTransposeGroup(c *CodeStream, mg *CustomWUMerged, scope *merging.Scope, bs int) {
	d := g.d
	cu := mg.Archetype()
	cm := cu.Model
	if sg := cu.Synapse; !sg.IsDense() || !sg.HasIndividualWeights() {
		c.Fail(errors.Errorf("custom update '%s': transpose needs dense individual weights", cu.Name))
		return
	}
	ref, ok := transposeReference(cu)
	if !ok {
		c.Fail(errors.Errorf("custom update '%s' has no transpose reference", cu.Name))
		return
	}
	vars, err := customVars(cm, g.ctx, cu.AccessDims(), cu.VarReferences)
	if err != nil {
		c.Fail(errors.Wrapf(err, "custom update '%s'", cu.Name))
		return
	}
	for _, v := range vars {
		if v.access.IsReduction() {
			c.Fail(errors.Wrapf(ErrUnsupportedAccess, "custom update '%s' cannot reduce while transposing", cu.Name))
			return
		}
	}
	refType, err := types.ParseNumeric(ref.Type, g.ctx)
	if err != nil {
		c.Fail(err)
		return
	}

	fields := g.customWUFieldEnv(scope, mg)
	refName := ref.Name
	arrayField(fields, refType, "_transpose", refName+"Transpose", g.prefix,
		func(cu *model.CustomUpdateWU) (string, string) {
			r := cu.VarReferences[refName]
			return r.TransposeGroup, r.TransposeVar
		})
	tx, ty := d.ThreadID(0), d.ThreadID(1)

	c.Code(fields, fmt.Sprintf("const unsigned int numXBlocks = ($(num_post) + %d) / %d;", bs-1, bs))
	c.Code(fields, fmt.Sprintf("const unsigned int blockStart = $(_group_start_id) / %d;", bs))
	batch := "0"
	if cu.IsBatched() {
		c.Code(fields, fmt.Sprintf("const unsigned int numYBlocks = ($(num_pre) + %d) / %d;", bs-1, bs))
		c.Line("const unsigned int numBlocks = numXBlocks * numYBlocks;")
		c.Printf("const unsigned int batchBlock = %s - blockStart;", d.BlockID(0))
		c.Line("const unsigned int block = batchBlock % numBlocks;")
		c.Line("const unsigned int batch = batchBlock / numBlocks;")
		batch = "batch"
	} else {
		c.Printf("const unsigned int block = %s - blockStart;", d.BlockID(0))
	}
	c.Line("const unsigned int blockX = block % numXBlocks;")
	c.Line("const unsigned int blockY = block / numXBlocks;")

	idx := merging.NewScope(fields)
	idx.Add(constUint32, "batch", batch)
	idx.Add(constUint32, "_batch_offset", "($(size) * $(batch))")
	idx.Add(constUint32, "id_pre", "(y + j)")
	idx.Add(constUint32, "id_post", "x")
	idx.AddInitialised(constUint32, "id_syn", "idx", "const unsigned int idx = ((y + j) * $(num_post)) + x;")

	c.Line("{")
	c.Line("// coordinate of the thread in the input matrix")
	c.Printf("const unsigned int x = (blockX * %d) + %s;", bs, tx)
	c.Printf("const unsigned int y = (blockY * %d) + %s;", bs, ty)
	c.Code(fields, "if (x < $(num_post)) {")
	c.Printf("for (unsigned int j = 0; j < %d; j += %d) {", bs, transposeRows)
	c.Code(fields, "if ((y + j) < $(num_pre)) {")
	emitScoped(c, idx, func(c *CodeStream) {
		genCustomCode(c, idx, vars, cm.UpdateCode, false)
		c.Printf("shTile[%s + j][%s] = l%s;", ty, tx, refName)
	})
	c.Line("}")
	c.Line("}")
	c.Line("}")
	c.Line("}")
	c.Line(d.Barrier())

	c.Line("{")
	c.Line("// transposed coordinate of the thread in the output matrix")
	c.Printf("const unsigned int x = (blockY * %d) + %s;", bs, tx)
	c.Printf("const unsigned int y = (blockX * %d) + %s;", bs, ty)
	c.Code(fields, "if (x < $(num_pre)) {")
	c.Printf("for (unsigned int j = 0; j < %d; j += %d) {", bs, transposeRows)
	c.Code(fields, "if ((y + j) < $(num_post)) {")
	offset := ""
	if cu.IsBatched() {
		offset = "($(num_pre) * $(num_post) * " + batch + ") + "
	}
	c.Code(fields, fmt.Sprintf("$(_transpose)[%s((y + j) * $(num_pre)) + x] = shTile[%s][%s + j];", offset, tx, ty))
	c.Line("}")
	c.Line("}")
	c.Line("}")
	c.Line("}")
	c.Fail(fields.Err())
}
