package runtime

import (
	"sort"

	"github.com/notargets/SpikeKernel/logging"
	"github.com/notargets/SpikeKernel/model"
	"github.com/notargets/SpikeKernel/simt"
	"github.com/notargets/SpikeKernel/types"
	"github.com/pkg/errors"
)

var (
	ErrRecordingNotConfigured = errors.New("recording not configured")
	ErrNotAllocated           = errors.New("array not allocated")
	ErrDuplicateArray         = errors.New("duplicate array")
)

type groupKey struct {
	owner, name string
}

// scalarDestination is one merged group field fed by a dynamic parameter
type scalarDestination struct {
	fn    string
	group int
	typ   types.ResolvedType
}

// arrayDestination is one merged group field pointing at an extra global parameter
type arrayDestination struct {
	fn    string
	group int
}

// Runtime owns the arrays a generated model runs over and drives the
// compiled module through its entry points. It is not safe for concurrent use.
type Runtime struct {
	m        *model.Model
	b        *simt.Backend
	gen      *simt.Generated
	module   Module
	binding  DeviceBinding
	factory  ArrayFactory
	log      *logging.Logger
	optional map[string]bool

	arrays      map[string]map[string]*Array
	delayQueues map[*model.NeuronGroup]int
	timestep    uint64
	allocated   bool
	// numRecordingTimesteps is zero when recording was not configured
	numRecordingTimesteps int

	dynamicParams map[groupKey][]scalarDestination
	egps          map[groupKey][]arrayDestination
}

// New checks that module exposes every entry point gen needs and indexes the
// dynamic fields of every merged group. Pushes go through the module's push
// entry points.
func New(m *model.Model, b *simt.Backend, gen *simt.Generated, module Module, factory ArrayFactory,
	log *logging.Logger) (*Runtime, error) {
	return NewWithBinding(m, b, gen, module, NewModuleBinding(module), factory, log)
}

// NewWithBinding is New with an explicit binding for dynamic field pushes
func NewWithBinding(m *model.Model, b *simt.Backend, gen *simt.Generated, module Module, binding DeviceBinding,
	factory ArrayFactory, log *logging.Logger) (*Runtime, error) {
	optional, err := checkEntryPoints(module, gen)
	if err != nil {
		return nil, err
	}
	if factory == nil {
		factory = HostArrayFactory{}
	}
	if log == nil {
		log = b.Logger()
	}
	r := &Runtime{
		m:             m,
		b:             b,
		gen:           gen,
		module:        module,
		binding:       binding,
		factory:       factory,
		log:           log,
		optional:      optional,
		arrays:        make(map[string]map[string]*Array),
		delayQueues:   make(map[*model.NeuronGroup]int),
		dynamicParams: make(map[groupKey][]scalarDestination),
		egps:          make(map[groupKey][]arrayDestination),
	}
	for _, d := range gen.Descriptors {
		for j, f := range d.Fields {
			if !f.IsDynamic() {
				continue
			}
			fn := d.PushFunctionName(j)
			for i := range d.Members {
				v := d.Values[i][j]
				switch {
				case v.DynamicParam != "":
					k := groupKey{v.Owner, v.DynamicParam}
					r.dynamicParams[k] = append(r.dynamicParams[k], scalarDestination{fn: fn, group: i, typ: f.Type})
				case v.IsArray():
					k := groupKey{v.Owner, v.Array}
					r.egps[k] = append(r.egps[k], arrayDestination{fn: fn, group: i})
				}
			}
		}
	}
	return r, nil
}

func (r *Runtime) Model() *model.Model         { return r.m }
func (r *Runtime) Generated() *simt.Generated  { return r.gen }
func (r *Runtime) Timestep() uint64            { return r.timestep }
func (r *Runtime) NumRecordingTimesteps() int  { return r.numRecordingTimesteps }
func (r *Runtime) HasOptional(name string) bool { return r.optional[name] }

// Time is the simulated time in ms
func (r *Runtime) Time() float64 { return float64(r.timestep) * r.m.DT }

// Array finds the array name owned by the group owner
func (r *Runtime) Array(owner, name string) (*Array, error) {
	a, ok := r.arrays[owner][name]
	if !ok {
		return nil, errors.Wrapf(ErrNotAllocated, "'%s' of '%s'", name, owner)
	}
	return a, nil
}

// Arrays lists the names of every array owner holds
func (r *Runtime) Arrays(owner string) []string {
	names := make([]string, 0, len(r.arrays[owner]))
	for n := range r.arrays[owner] {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DelayQueuePointer is the delay slot the next step of ng reads, always 0
// for groups without a delay queue
func (r *Runtime) DelayQueuePointer(ng *model.NeuronGroup) int {
	return r.delayQueues[ng]
}

func (r *Runtime) createArray(owner, name string, typ types.ResolvedType, count int) (*Array, error) {
	group, ok := r.arrays[owner]
	if !ok {
		group = make(map[string]*Array)
		r.arrays[owner] = group
	}
	if _, exists := group[name]; exists {
		return nil, errors.Wrapf(ErrDuplicateArray, "unable to allocate array with duplicate name '%s' in '%s'", name, owner)
	}
	a, err := newArray(owner, name, typ, count, r.factory)
	if err != nil {
		return nil, err
	}
	r.log.DebugF(logging.DEBUG_LEVEL_INFO, "array '%s' of '%s' = %d * %d bytes (%s)",
		name, owner, count, a.ElementBytes(), typ.Name())
	group[name] = a
	return a, nil
}

// Allocate calls the module's allocateMem and creates every array the
// generated kernels reference. numRecordingTimesteps sizes the spike
// recording buffers and must be positive when any group records.
func (r *Runtime) Allocate(numRecordingTimesteps int) error {
	if r.allocated {
		return errors.New("runtime already allocated")
	}
	if numRecordingTimesteps <= 0 {
		for _, ng := range r.m.NeuronGroups {
			if ng.SpikeRecording || ng.SpikeEventRecording {
				return errors.Wrapf(ErrRecordingNotConfigured,
					"neuron group '%s' records events but no recording timesteps were given", ng.Name)
			}
		}
	}
	if err := r.module.Call(EntryAllocateMem); err != nil {
		return err
	}
	r.numRecordingTimesteps = numRecordingTimesteps

	a := &allocator{r: r, ctx: r.m.TypeContext(), batch: r.m.BatchSize}
	for _, ng := range r.m.NeuronGroups {
		a.neuronGroup(ng)
	}
	for _, sg := range r.m.SynapseGroups {
		a.synapseGroup(sg)
	}
	for _, cu := range r.m.CustomUpdates {
		a.customUpdate(cu)
	}
	for _, cu := range r.m.CustomUpdateWUs {
		a.customUpdateWU(cu)
	}
	err := a.err
	if err == nil {
		err = r.checkFieldArrays()
	}
	if err != nil {
		r.release()
		if ferr := r.module.Call(EntryFreeMem); ferr != nil {
			r.log.Error("freeing module memory after failed allocation", ferr)
		}
		return err
	}
	r.allocated = true
	return nil
}

// release frees every array and forgets the per-allocation state
func (r *Runtime) release() {
	r.forEachArray(func(a *Array) { a.free() })
	r.arrays = make(map[string]map[string]*Array)
	r.delayQueues = make(map[*model.NeuronGroup]int)
	r.numRecordingTimesteps = 0
}

// checkFieldArrays makes sure every array a merged group field points at exists
func (r *Runtime) checkFieldArrays() error {
	for _, d := range r.gen.Descriptors {
		for i, member := range d.Members {
			for j, f := range d.Fields {
				v := d.Values[i][j]
				if !v.IsArray() {
					continue
				}
				if _, err := r.Array(v.Owner, v.Array); err != nil {
					return errors.Wrapf(err, "field '%s' of %s member '%s'", f.Name, d.StructName, member)
				}
			}
		}
	}
	return nil
}

func (r *Runtime) requireAllocated() error {
	if !r.allocated {
		return errors.Wrap(ErrNotAllocated, "runtime arrays have not been allocated")
	}
	return nil
}

// Initialize pushes every host array and runs the dense initialisation
func (r *Runtime) Initialize() error {
	if err := r.requireAllocated(); err != nil {
		return err
	}
	r.forEachArray(func(a *Array) {
		if !a.uninitialised {
			a.PushToDevice()
		}
	})
	if err := r.module.Call(EntryInitializeHost); err != nil {
		return err
	}
	return r.module.Call(EntryInitialize)
}

// InitializeSparse pushes the arrays the host filled in and runs the sparse
// initialisation that depends on them
func (r *Runtime) InitializeSparse() error {
	if err := r.requireAllocated(); err != nil {
		return err
	}
	r.forEachArray(func(a *Array) {
		if a.uninitialised {
			r.log.DebugF(logging.DEBUG_LEVEL_DETAIL, "pushing uninitialised array '%s' of '%s'", a.name, a.owner)
			a.PushToDevice()
		}
	})
	return r.module.Call(EntryInitializeSparse)
}

// StepTime runs one timestep. The kernels read the delay queue pointers
// before they advance.
func (r *Runtime) StepTime() error {
	if err := r.requireAllocated(); err != nil {
		return err
	}
	if err := r.module.Call(EntryStepTime, r.timestep, uint64(r.numRecordingTimesteps)); err != nil {
		return err
	}
	for ng, p := range r.delayQueues {
		r.delayQueues[ng] = (p + 1) % ng.NumDelaySlots()
	}
	r.timestep++
	return nil
}

// CustomUpdate runs every custom update of the named update group
func (r *Runtime) CustomUpdate(group string) error {
	if err := r.requireAllocated(); err != nil {
		return err
	}
	return r.module.Call(CustomUpdateEntryPoint(group))
}

// SetDynamicParamValue changes a dynamic parameter of owner and pushes the
// new value into every merged group field it feeds
func (r *Runtime) SetDynamicParamValue(owner, param string, value float64) error {
	dests, ok := r.dynamicParams[groupKey{owner, param}]
	if !ok {
		return errors.Errorf("'%s' is not a dynamic parameter of '%s'", param, owner)
	}
	if err := setModelParam(r.m, owner, param, value); err != nil {
		return err
	}
	for _, d := range dests {
		b, err := types.SerialiseNumeric(value, d.typ)
		if err != nil {
			return errors.Wrapf(err, "serialising dynamic parameter '%s' of '%s'", param, owner)
		}
		if err := r.binding.PushScalar(d.fn, d.group, b); err != nil {
			return err
		}
	}
	return nil
}

// DynamicParamDestinations counts the merged group fields param feeds
func (r *Runtime) DynamicParamDestinations(owner, param string) int {
	return len(r.dynamicParams[groupKey{owner, param}])
}

// AllocateExtraGlobalParam sizes the extra global parameter name of owner
// and points every merged group field that uses it at the new storage
func (r *Runtime) AllocateExtraGlobalParam(owner, name string, count int) error {
	if err := r.requireAllocated(); err != nil {
		return err
	}
	a, err := r.Array(owner, name)
	if err != nil {
		return err
	}
	if err := a.resize(count, r.factory); err != nil {
		return err
	}
	for _, d := range r.egps[groupKey{owner, name}] {
		if err := r.binding.PushArray(d.fn, d.group, a); err != nil {
			return err
		}
	}
	return nil
}

// PushExtraGlobalParam copies the host contents of an extra global parameter to the device
func (r *Runtime) PushExtraGlobalParam(owner, name string) error {
	a, err := r.Array(owner, name)
	if err != nil {
		return err
	}
	if a.count == 0 {
		return errors.Wrapf(ErrNotAllocated, "extra global parameter '%s' of '%s' has no storage", name, owner)
	}
	a.PushToDevice()
	return nil
}

// Close frees every array and the module's memory
func (r *Runtime) Close() error {
	r.release()
	if !r.allocated {
		return nil
	}
	r.allocated = false
	return r.module.Call(EntryFreeMem)
}

// forEachArray visits arrays in owner then name order
func (r *Runtime) forEachArray(fn func(a *Array)) {
	owners := make([]string, 0, len(r.arrays))
	for o := range r.arrays {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	for _, o := range owners {
		for _, n := range r.Arrays(o) {
			fn(r.arrays[o][n])
		}
	}
}

// setModelParam keeps the model description in step with pushed values
func setModelParam(m *model.Model, owner, param string, value float64) error {
	if ng, ok := m.NeuronGroup(owner); ok {
		ng.Params[param] = value
		return nil
	}
	if sg, ok := m.SynapseGroup(owner); ok {
		sg.WUParams[param] = value
		return nil
	}
	for _, cs := range m.CurrentSources {
		if cs.Name == owner {
			cs.Params[param] = value
			return nil
		}
	}
	for _, cu := range m.CustomUpdates {
		if cu.Name == owner {
			cu.Params[param] = value
			return nil
		}
	}
	for _, cu := range m.CustomUpdateWUs {
		if cu.Name == owner {
			cu.Params[param] = value
			return nil
		}
	}
	return errors.Errorf("no group named '%s'", owner)
}
