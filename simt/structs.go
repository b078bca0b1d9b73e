package simt

import (
	"sort"

	"github.com/notargets/SpikeKernel/merging"
)

// SortDescriptor orders the fields of d the way the struct is declared:
// descending size, registration order among equals
func SortDescriptor(d merging.Descriptor, pointerBytes int) merging.Descriptor {
	order := make([]int, len(d.Fields))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return d.Fields[order[i]].Type.Size(pointerBytes) > d.Fields[order[j]].Type.Size(pointerBytes)
	})
	out := d
	out.Fields = make([]merging.FieldInfo, len(order))
	for i, j := range order {
		out.Fields[i] = d.Fields[j]
	}
	out.Values = make([][]merging.FieldValue, len(d.Values))
	for m, values := range d.Values {
		out.Values[m] = make([]merging.FieldValue, len(order))
		for i, j := range order {
			out.Values[m][i] = values[j]
		}
	}
	return out
}

// StructLayout gives the byte offset of every field of a sorted descriptor
// and the padded struct size, following C alignment
func StructLayout(d merging.Descriptor, pointerBytes int) (offsets []int, size int) {
	offsets = make([]int, len(d.Fields))
	align := 1
	for i, f := range d.Fields {
		n := f.Type.Size(pointerBytes)
		if n > 0 {
			size = PadSize(size, n)
			align = max(align, n)
		}
		offsets[i] = size
		size += n
	}
	if len(d.Fields) == 0 {
		// an empty struct is declared with one placeholder word
		return offsets, 4
	}
	return offsets, PadSize(size, align)
}

// genMergedStruct declares the struct of one merged group
func genMergedStruct(c *CodeStream, d Dialect, desc merging.Descriptor) {
	c.Printf("struct %s {", desc.StructName)
	for _, f := range desc.Fields {
		if f.Type.IsPointer() {
			c.Printf("%s%s %s;", d.PointerPrefix(), f.Type.Name(), f.Name)
		} else {
			c.Printf("%s %s;", f.Type.Name(), f.Name)
		}
	}
	if len(desc.Fields) == 0 {
		c.Line("unsigned int _placeholder;")
	}
	c.Line("};")
}

// descriptors collects every merged group of mm with its fields sorted
func (mm *MergedModel) descriptors(pointerBytes int) []merging.Descriptor {
	var out []merging.Descriptor
	add := func(d merging.Descriptor) { out = append(out, SortDescriptor(d, pointerBytes)) }
	neurons := func(groups []*NeuronMerged) {
		for _, mg := range groups {
			add(mg.Descriptor())
		}
	}
	synapses := func(groups []*SynapseMerged) {
		for _, mg := range groups {
			add(mg.Descriptor())
		}
	}
	customs := func(groups []*CustomMerged) {
		for _, mg := range groups {
			add(mg.Descriptor())
		}
	}
	customWUs := func(groups []*CustomWUMerged) {
		for _, mg := range groups {
			add(mg.Descriptor())
		}
	}

	neurons(mm.NeuronUpdate)
	neurons(mm.NeuronSpikeQueueUpdate)
	neurons(mm.NeuronPrevSpikeTimeUpdate)
	synapses(mm.PresynapticUpdate)
	synapses(mm.PostsynapticUpdate)
	synapses(mm.SynapseDynamics)
	synapses(mm.SynapseDendriticDelayUpdate)
	for _, name := range mm.UpdateGroups {
		customs(mm.CustomUpdate[name])
		customWUs(mm.CustomUpdateWU[name])
		customWUs(mm.CustomUpdateTransposeWU[name])
	}
	neurons(mm.NeuronInit)
	synapses(mm.SynapseInit)
	synapses(mm.SynapseConnectivityInit)
	synapses(mm.SynapseSparseInit)
	customs(mm.CustomUpdateInit)
	customWUs(mm.CustomWUUpdateInit)
	customWUs(mm.CustomWUUpdateSparseInit)
	return out
}
