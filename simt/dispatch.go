package simt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/notargets/SpikeKernel/logging"
	"github.com/notargets/SpikeKernel/merging"
	"github.com/notargets/SpikeKernel/types"
	"github.com/pkg/errors"
)

// ParamKind says what the runtime passes for a kernel parameter
type ParamKind int

const (
	// ParamMergedGroup is the device copy of a merged group's struct array
	ParamMergedGroup ParamKind = iota
	ParamTime
	ParamRecordingTimestep
	ParamRNGSeed
)

// KernelParam is one argument of a generated kernel, in declaration order
type KernelParam struct {
	Kind ParamKind
	Name string
	Decl string
	// TypeName and Index identify the merged group of a ParamMergedGroup
	TypeName string
	Index    int
}

func itoa(v int) string { return strconv.Itoa(v) }

// emitScoped renders body into a temporary stream so the initialisers of
// scope that body used are known, then writes the initialisers followed by
// the body
func emitScoped(c *CodeStream, scope *merging.Scope, body func(c *CodeStream)) {
	inner := NewCodeStream()
	body(inner)
	inits, err := scope.Initialisers()
	if err != nil {
		c.Fail(err)
	}
	for _, init := range inits {
		c.Line(init)
	}
	c.Append(inner)
	c.Fail(scope.Err())
}

// kernelBuilder accumulates one kernel. The kernel scope holds names every
// group can use; shared arrays and the batch index are bound with
// initialisers so they are only declared when something refers to them.
type kernelBuilder struct {
	g         *generator
	kernel    Kernel
	name      string
	bs        int
	blockDimY int
	batches   int

	scope  *merging.Scope
	body   *CodeStream
	params []KernelParam
	seen   map[string]bool
	tables []string

	numThreads int
	// prologue runs before the body, followed by a barrier when set
	prologue []string
	barrier  bool
}

func (g *generator) newKernel(k Kernel, name string) *kernelBuilder {
	kb := &kernelBuilder{
		g:         g,
		kernel:    k,
		name:      name,
		bs:        g.b.KernelBlockSize(k),
		blockDimY: 1,
		batches:   1,
		scope:     merging.NewScope(nil),
		body:      NewCodeStream(),
		seen:      make(map[string]bool),
	}
	kb.scope.Add(constUint32, "id", "id")
	kb.scope.Add(g.timepoint.AddQualifier(types.QualifierConstant), "t", "t")
	kb.scope.Add(g.timepoint.AddQualifier(types.QualifierConstant), "dt", g.timepoint.Literal(g.m.DT))
	kb.scope.Add(constUint32, "num_batch", itoa(g.m.BatchSize))
	kb.scope.Add(constUint32, "_recording_timestep", "recordingTimestep")
	return kb
}

// useBatchGrid binds batch to the second grid dimension when the model is
// batched, otherwise to zero
func (kb *kernelBuilder) useBatchGrid() {
	if b := kb.g.m.BatchSize; b > 1 {
		kb.batches = b
		kb.scope.AddInitialised(constUint32, "batch", "batch",
			"const unsigned int batch = "+kb.g.d.BlockID(1)+";")
		return
	}
	kb.scope.Add(constUint32, "batch", "0")
}

// shared binds name to a shared array declared the first time it is used
func (kb *kernelBuilder) shared(typ, name, symbol string, size int, extra ...string) {
	init := fmt.Sprintf("%s%s %s[%d];", kb.g.d.SharedPrefix(), typ, symbol, size)
	if len(extra) > 0 {
		init += "\n" + strings.Join(extra, "\n")
	}
	kb.scope.AddInitialised(types.Void, name, symbol, init)
}

// mergedParam registers the kernel argument holding mg's struct array
func (kb *kernelBuilder) mergedParam(typeName string, index int, structName, arrayName string) {
	name := "d_" + arrayName
	if kb.seen[name] {
		return
	}
	kb.seen[name] = true
	kb.params = append(kb.params, KernelParam{
		Kind:     ParamMergedGroup,
		Name:     name,
		Decl:     fmt.Sprintf("%sstruct %s *%s", kb.g.d.PointerPrefix(), structName, name),
		TypeName: typeName,
		Index:    index,
	})
}

// finish assembles the kernel text
func (kb *kernelBuilder) finish() (KernelSource, error) {
	d := kb.g.d
	params := append([]KernelParam(nil), kb.params...)
	if kb.scope.Used("t") {
		params = append(params, KernelParam{Kind: ParamTime, Name: "t", Decl: "timepoint t"})
	}
	if kb.scope.Used("_recording_timestep") {
		params = append(params, KernelParam{Kind: ParamRecordingTimestep, Name: "recordingTimestep",
			Decl: "unsigned int recordingTimestep"})
	}
	inits, err := kb.scope.Initialisers()
	if err != nil {
		kb.body.Fail(err)
	}
	if strings.Contains(kb.body.String(), "deviceRNGSeed") || strings.Contains(strings.Join(inits, "\n"), "deviceRNGSeed") {
		params = append(params, KernelParam{Kind: ParamRNGSeed, Name: "deviceRNGSeed", Decl: "uint64_t deviceRNGSeed"})
	}
	decls := make([]string, len(params))
	for i, p := range params {
		decls[i] = p.Decl
	}

	c := NewCodeStream()
	c.Printf("%s %s(%s)", d.KernelQualifier(), kb.name, strings.Join(decls, ", "))
	c.Line("{")
	c.Printf("const unsigned int id = %s;", d.GlobalID(kb.bs))
	for _, init := range inits {
		c.Line(init)
	}
	for _, line := range kb.prologue {
		c.Line(line)
	}
	if kb.barrier {
		c.Line(d.Barrier())
	}
	c.Blank()
	c.Append(kb.body)
	c.Line("}")
	c.Fail(kb.scope.Err())

	return KernelSource{
		Kernel:     kb.kernel,
		Name:       kb.name,
		BlockSize:  kb.bs,
		BlockDimY:  kb.blockDimY,
		NumThreads: kb.numThreads,
		NumBatches: kb.batches,
		Params:     params,
		Tables:     strings.Join(kb.tables, "\n"),
		Body:       c.String(),
	}, errors.Wrapf(c.Err(), "generating %s", kb.name)
}

// MemberStartIDs lays the members of a merged group out from idStart, each
// padded to blockSize threads. It returns every member's first thread and
// the first thread after the group.
func MemberStartIDs(sizes []int, idStart, blockSize int) ([]int, int) {
	starts := make([]int, len(sizes))
	id := idStart
	for i, s := range sizes {
		starts[i] = id
		id += PadSize(s, blockSize)
	}
	return starts, id
}

// FindMember is the host side of the bisection emitted for multi-member
// groups: the index of the last start not greater than id
func FindMember(starts []int, id int) int {
	lo, hi := 0, len(starts)
	for lo < hi {
		mid := (lo + hi) / 2
		if id < starts[mid] {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo - 1
}

// groupHandler writes one merged group's body. scope binds id to the
// member-local thread index.
type groupHandler[G merging.Named] func(c *CodeStream, mg *merging.MergedGroup[G], scope *merging.Scope)

// genParallelGroup emits the guarded block of every merged group, giving
// each member size(member) threads padded to the kernel block size, and
// returns the first unused thread ID
func genParallelGroup[G merging.Named](kb *kernelBuilder, groups []*merging.MergedGroup[G], idStart int,
	size func(g G) int, handler groupHandler[G]) int {
	d := kb.g.d
	c := kb.body
	for _, mg := range groups {
		members := mg.Groups()
		sizes := make([]int, len(members))
		for i, m := range members {
			sizes[i] = size(m)
		}
		starts, end := MemberStartIDs(sizes, idStart, kb.bs)
		kb.mergedParam(mg.TypeName(), mg.Index(), mg.StructName(), mg.ArrayName())
		array := "d_" + mg.ArrayName()
		kb.g.log.DebugF(logging.DEBUG_LEVEL_TRACE, "%s: merged %s group %d threads [%d, %d)", kb.name, mg.TypeName(), mg.Index(), idStart, end)

		c.Printf("// merged%d", mg.Index())
		if idStart == 0 {
			c.Printf("if (id < %d) {", end)
		} else {
			c.Printf("if (id >= %d && id < %d) {", idStart, end)
		}
		scope := merging.NewScope(kb.scope)
		if len(members) == 1 {
			c.Printf("%sstruct %s *group = &%s[0];", d.PointerPrefix(), mg.StructName(), array)
			c.Printf("const unsigned int lid = id - %d;", idStart)
			scope.Add(constUint32, "_group_start_id", itoa(idStart))
		} else {
			table := "d_" + mg.StartIDName()
			ids := make([]string, len(starts))
			for i, s := range starts {
				ids[i] = itoa(s)
			}
			kb.tables = append(kb.tables, fmt.Sprintf("%sunsigned int %s[] = {%s};",
				d.ConstantPrefix(), table, strings.Join(ids, ", ")))

			c.Line("unsigned int lo = 0;")
			c.Printf("unsigned int hi = %d;", len(members))
			c.Line("while(lo < hi) {")
			c.Line("const unsigned int mid = (lo + hi) / 2;")
			c.Printf("if(id < %s[mid]) {", table)
			c.Line("hi = mid;")
			c.Line("}")
			c.Line("else {")
			c.Line("lo = mid + 1;")
			c.Line("}")
			c.Line("}")
			c.Printf("%sstruct %s *group = &%s[lo - 1];", d.PointerPrefix(), mg.StructName(), array)
			c.Printf("const unsigned int groupStartID = %s[lo - 1];", table)
			c.Line("const unsigned int lid = id - groupStartID;")
			scope.Add(constUint32, "_group_start_id", "groupStartID")
		}
		scope.Add(constUint32, "id", "lid")
		emitScoped(c, scope, func(c *CodeStream) {
			handler(c, mg, scope)
		})
		c.Line("}")
		idStart = end
	}
	kb.numThreads = PadSize(idStart, kb.bs)
	return idStart
}

// genGroupCountDispatch gives every member of every merged group one thread,
// used by kernels that do per-population bookkeeping
func genGroupCountDispatch[G merging.Named](kb *kernelBuilder, groups []*merging.MergedGroup[G], idStart int,
	handler groupHandler[G]) int {
	d := kb.g.d
	c := kb.body
	for _, mg := range groups {
		n := len(mg.Groups())
		kb.mergedParam(mg.TypeName(), mg.Index(), mg.StructName(), mg.ArrayName())
		c.Printf("// merged%d", mg.Index())
		if idStart == 0 {
			c.Printf("if (id < %d) {", n)
		} else {
			c.Printf("if (id >= %d && id < %d) {", idStart, idStart+n)
		}
		c.Printf("%sstruct %s *group = &d_%s[id - %d];", d.PointerPrefix(), mg.StructName(), mg.ArrayName(), idStart)
		scope := merging.NewScope(kb.scope)
		emitScoped(c, scope, func(c *CodeStream) {
			handler(c, mg, scope)
		})
		c.Line("}")
		idStart += n
	}
	// one thread per member, rounded up to whole blocks
	kb.numThreads = PadSize(idStart, kb.bs)
	return idStart
}
