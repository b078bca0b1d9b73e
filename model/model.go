package model

import (
	"strings"

	"github.com/notargets/SpikeKernel/types"
	"github.com/pkg/errors"
)

// Model is the complete network description handed to code generation
type Model struct {
	Name          string
	DT            float64
	BatchSize     int
	Precision     string
	TimePrecision string
	Seed          uint64

	NeuronGroups    []*NeuronGroup
	SynapseGroups   []*SynapseGroup
	CurrentSources  []*CurrentSource
	CustomUpdates   []*CustomUpdate
	CustomUpdateWUs []*CustomUpdateWU

	names     map[string]struct{}
	finalized bool
}

// NewModel creates an empty single-precision model with dt = 0.1ms
func NewModel(name string) *Model {
	return &Model{
		Name:          name,
		DT:            0.1,
		BatchSize:     1,
		Precision:     "float",
		TimePrecision: "",
		names:         make(map[string]struct{}),
	}
}

func (m *Model) claim(name string) error {
	if name == "" {
		return errors.New("groups must be named")
	}
	if m.names == nil {
		m.names = make(map[string]struct{})
	}
	if _, exists := m.names[name]; exists {
		return errors.Errorf("duplicate group name '%s'", name)
	}
	m.names[name] = struct{}{}
	return nil
}

// AddNeuronGroup registers a neuron population
func (m *Model) AddNeuronGroup(ng *NeuronGroup) error {
	if err := m.claim(ng.Name); err != nil {
		return err
	}
	if ng.Model == nil {
		return errors.Errorf("neuron group '%s' has no model", ng.Name)
	}
	if ng.NumNeurons <= 0 {
		return errors.Errorf("neuron group '%s' must contain at least one neuron", ng.Name)
	}
	m.NeuronGroups = append(m.NeuronGroups, ng)
	return nil
}

// AddSynapseGroup registers a projection between two existing neuron groups
func (m *Model) AddSynapseGroup(sg *SynapseGroup) error {
	if err := m.claim(sg.Name); err != nil {
		return err
	}
	if sg.Source == nil || sg.Target == nil {
		return errors.Errorf("synapse group '%s' must have source and target", sg.Name)
	}
	if sg.WUModel == nil {
		return errors.Errorf("synapse group '%s' has no weight update model", sg.Name)
	}
	if sg.IsSparse() && sg.MaxConnections <= 0 {
		sg.MaxConnections = sg.Target.NumNeurons
	}
	if sg.IsSparse() && sg.MaxSourceConnections <= 0 {
		sg.MaxSourceConnections = sg.Source.NumNeurons
	}
	if sg.Connectivity != nil && sg.Connectivity.RowBuildCode != "" && sg.Connectivity.ColBuildCode != "" {
		return errors.Errorf("synapse group '%s' connectivity cannot have both row and column build code", sg.Name)
	}
	if sg.NumThreadsPerSpike <= 0 {
		sg.NumThreadsPerSpike = 1
	}
	m.SynapseGroups = append(m.SynapseGroups, sg)
	return nil
}

// AddCurrentSource attaches a current source to a neuron group
func (m *Model) AddCurrentSource(cs *CurrentSource, target *NeuronGroup) error {
	if err := m.claim(cs.Name); err != nil {
		return err
	}
	if target == nil {
		return errors.Errorf("current source '%s' has no target", cs.Name)
	}
	cs.target = target
	m.CurrentSources = append(m.CurrentSources, cs)
	return nil
}

// AddCustomUpdate registers a neuron-shaped custom update
func (m *Model) AddCustomUpdate(cu *CustomUpdate) error {
	if err := m.claim(cu.Name); err != nil {
		return err
	}
	if cu.UpdateGroupName == "" {
		return errors.Errorf("custom update '%s' has no update group", cu.Name)
	}
	m.CustomUpdates = append(m.CustomUpdates, cu)
	return nil
}

// AddCustomUpdateWU registers a weight-update-shaped custom update
func (m *Model) AddCustomUpdateWU(cu *CustomUpdateWU) error {
	if err := m.claim(cu.Name); err != nil {
		return err
	}
	if cu.UpdateGroupName == "" {
		return errors.Errorf("custom update '%s' has no update group", cu.Name)
	}
	if cu.Synapse == nil {
		return errors.Errorf("custom update '%s' has no synapse group", cu.Name)
	}
	m.CustomUpdateWUs = append(m.CustomUpdateWUs, cu)
	return nil
}

// PrecisionType resolves the model's scalar type
func (m *Model) PrecisionType() types.ResolvedType {
	if m.Precision == "double" {
		return types.Double
	}
	return types.Float
}

// TimePrecisionType resolves the model's time type, defaulting to the scalar type
func (m *Model) TimePrecisionType() types.ResolvedType {
	switch m.TimePrecision {
	case "double":
		return types.Double
	case "float":
		return types.Float
	default:
		return m.PrecisionType()
	}
}

// TypeContext returns the alias table used to resolve type strings
func (m *Model) TypeContext() types.TypeContext {
	return types.NewTypeContext(m.PrecisionType(), m.TimePrecisionType())
}

// NeuronGroup finds a neuron group by name
func (m *Model) NeuronGroup(name string) (*NeuronGroup, bool) {
	for _, ng := range m.NeuronGroups {
		if ng.Name == name {
			return ng, true
		}
	}
	return nil, false
}

// SynapseGroup finds a synapse group by name
func (m *Model) SynapseGroup(name string) (*SynapseGroup, bool) {
	for _, sg := range m.SynapseGroups {
		if sg.Name == name {
			return sg, true
		}
	}
	return nil, false
}

// UpdateGroupNames lists the distinct custom update group names in registration order
func (m *Model) UpdateGroupNames() []string {
	seen := make(map[string]struct{})
	var names []string
	add := func(n string) {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}
	for _, cu := range m.CustomUpdates {
		add(cu.UpdateGroupName)
	}
	for _, cu := range m.CustomUpdateWUs {
		add(cu.UpdateGroupName)
	}
	return names
}

// IsFinalized reports whether Finalize has succeeded
func (m *Model) IsFinalized() bool { return m.finalized }

// Finalize links groups together, derives delay queues and resolves variable references
func (m *Model) Finalize() error {
	if m.finalized {
		return nil
	}
	if m.BatchSize < 1 {
		return errors.Errorf("model '%s' batch size must be at least 1", m.Name)
	}
	if m.DT <= 0 {
		return errors.Errorf("model '%s' dt must be positive", m.Name)
	}
	ctx := m.TypeContext()

	for _, ng := range m.NeuronGroups {
		ng.inSyn, ng.outSyn, ng.currentSources = nil, nil, nil
		ng.numDelaySlots = 1
		ng.spikeEventRequired = false
		if err := checkParams(ng.Name, ng.Model.ParamNames, ng.Params); err != nil {
			return err
		}
		if err := checkVarTypes(ng.Name, ng.Model.Vars, ctx); err != nil {
			return err
		}
	}

	for _, cs := range m.CurrentSources {
		cs.target.currentSources = append(cs.target.currentSources, cs)
		if err := checkParams(cs.Name, cs.Model.ParamNames, cs.Params); err != nil {
			return err
		}
	}

	for _, sg := range m.SynapseGroups {
		sg.Source.outSyn = append(sg.Source.outSyn, sg)
		sg.Target.inSyn = append(sg.Target.inSyn, sg)

		if err := checkParams(sg.Name, sg.WUModel.ParamNames, sg.WUParams); err != nil {
			return err
		}
		for _, v := range sg.WUModel.Vars {
			if v.Access.IsReduction() {
				return errors.Errorf("weight update model variable '%s' of synapse group '%s' cannot use reduction access",
					v.Name, sg.Name)
			}
		}
		if err := checkVarTypes(sg.Name, sg.WUModel.Vars, ctx); err != nil {
			return err
		}
		if sg.HasKernelWeights() && sg.KernelSizeFlattened() == 0 {
			return errors.Errorf("synapse group '%s' uses kernel weights without a kernel size", sg.Name)
		}
		if sg.IsToeplitz() && sg.Toeplitz == nil {
			return errors.Errorf("synapse group '%s' uses Toeplitz connectivity without an initialiser", sg.Name)
		}

		if slots := sg.DelaySteps + 1; slots > sg.Source.numDelaySlots {
			sg.Source.numDelaySlots = slots
		}
		if slots := sg.BackPropDelaySteps + 1; slots > sg.Target.numDelaySlots {
			sg.Target.numDelaySlots = slots
		}
		if sg.IsPresynapticSpikeEventRequired() {
			sg.Source.spikeEventRequired = true
		}
		code := sg.WUModel.SimCode + sg.WUModel.EventCode + sg.WUModel.LearnPostCode + sg.WUModel.SynapseDynamicsCode
		if strings.Contains(code, "$(sT_pre)") {
			sg.Source.SpikeTimeRequired = true
		}
		if strings.Contains(code, "$(sT_post)") {
			sg.Target.SpikeTimeRequired = true
		}
		if strings.Contains(code, "$(prev_sT_pre)") {
			sg.Source.PrevSpikeTimeRequired = true
		}
		if strings.Contains(code, "$(prev_sT_post)") {
			sg.Target.PrevSpikeTimeRequired = true
		}
	}

	for _, cu := range m.CustomUpdates {
		cu.batchSize = m.BatchSize
		if err := checkParams(cu.Name, cu.Model.ParamNames, cu.Params); err != nil {
			return err
		}
		if err := m.resolveReferences(cu.Name, cu.Model.VarRefs, cu.VarReferences); err != nil {
			return err
		}
	}
	for _, cu := range m.CustomUpdateWUs {
		cu.batchSize = m.BatchSize
		if err := checkParams(cu.Name, cu.Model.ParamNames, cu.Params); err != nil {
			return err
		}
		if err := m.resolveReferences(cu.Name, cu.Model.VarRefs, cu.VarReferences); err != nil {
			return err
		}
	}

	m.finalized = true
	return nil
}

func (m *Model) resolveReferences(owner string, defs []VarRefDef, refs map[string]VarReference) error {
	for _, d := range defs {
		ref, ok := refs[d.Name]
		if !ok {
			return errors.Errorf("custom update '%s' is missing variable reference '%s'", owner, d.Name)
		}
		v, size, err := m.findVar(ref.Group, ref.Var)
		if err != nil {
			return errors.Wrapf(err, "custom update '%s' reference '%s'", owner, d.Name)
		}
		ref.size = size
		ref.dims = v.AccessDims()
		ref.typ = v.Type
		if ref.IsTranspose() {
			if _, _, err := m.findVar(ref.TransposeGroup, ref.TransposeVar); err != nil {
				return errors.Wrapf(err, "custom update '%s' transpose reference '%s'", owner, d.Name)
			}
		}
		refs[d.Name] = ref
	}
	return nil
}

func (m *Model) findVar(group, name string) (Var, int, error) {
	if ng, ok := m.NeuronGroup(group); ok {
		for _, v := range ng.Model.Vars {
			if v.Name == name {
				return v, ng.NumNeurons, nil
			}
		}
	}
	if sg, ok := m.SynapseGroup(group); ok {
		for _, v := range sg.WUModel.Vars {
			if v.Name == name {
				return v, sg.Source.NumNeurons * sg.MaxRowLength(), nil
			}
		}
	}
	for _, cu := range m.CustomUpdates {
		if cu.Name != group {
			continue
		}
		for _, v := range cu.Model.Vars {
			if v.Name == name {
				return v, cu.Size, nil
			}
		}
	}
	return Var{}, 0, errors.Errorf("no variable '%s' in group '%s'", name, group)
}

func checkParams(owner string, names []string, values map[string]float64) error {
	for _, n := range names {
		if _, ok := values[n]; !ok {
			return errors.Errorf("group '%s' is missing value for parameter '%s'", owner, n)
		}
	}
	return nil
}

func checkVarTypes(owner string, vars []Var, ctx types.TypeContext) error {
	for _, v := range vars {
		if _, err := v.ResolveType(ctx); err != nil {
			return errors.Wrapf(err, "group '%s'", owner)
		}
	}
	return nil
}
