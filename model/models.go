package model

import (
	"strings"

	"github.com/notargets/SpikeKernel/types"
	"github.com/pkg/errors"
)

// Var declares a state variable of a model
type Var struct {
	Name   string
	Type   string
	Access VarAccessMode
	// Dims defaults to DimAll when zero
	Dims VarAccessDim
}

// ResolveType resolves the variable's type string against a model's type context
func (v Var) ResolveType(ctx types.TypeContext) (types.ResolvedType, error) {
	t, err := types.ParseNumeric(v.Type, ctx)
	if err != nil {
		return types.ResolvedType{}, errors.Wrapf(err, "variable '%s'", v.Name)
	}
	return t, nil
}

// AccessDims returns Dims with the default applied
func (v Var) AccessDims() VarAccessDim {
	if v.Dims == 0 {
		return DimAll
	}
	return v.Dims
}

// VarRefDef declares a reference slot on a custom update model
type VarRefDef struct {
	Name   string
	Type   string
	Access VarAccessMode
}

// EGP declares an extra global parameter, always a pointer type
type EGP struct {
	Name string
	Type string
}

// ResolveType resolves the EGP's pointer type
func (e EGP) ResolveType(ctx types.TypeContext) (types.ResolvedType, error) {
	t, err := types.ParseType(e.Type, ctx)
	if err != nil {
		return types.ResolvedType{}, errors.Wrapf(err, "extra global parameter '%s'", e.Name)
	}
	if !t.IsPointer() {
		return types.ResolvedType{}, errors.Errorf("extra global parameter '%s' must have pointer type", e.Name)
	}
	return t, nil
}

// DerivedParam is computed once per group from its parameters
type DerivedParam struct {
	Name string
	Func func(params map[string]float64, dt float64) float64
}

// VarInit describes how a variable is initialised. Code assigns $(value).
type VarInit struct {
	Code   string
	Params map[string]float64
}

// RequiresRNG reports whether the init code draws random numbers
func (vi *VarInit) RequiresRNG() bool {
	return vi != nil && usesRNG(vi.Code)
}

func usesRNG(code string) bool {
	return strings.Contains(code, "$(gennrand")
}

// NeuronModel describes the per-neuron dynamics shared by neuron groups
type NeuronModel struct {
	Name                   string
	ParamNames             []string
	DerivedParams          []DerivedParam
	Vars                   []Var
	EGPs                   []EGP
	SimCode                string
	ThresholdConditionCode string
	ResetCode              string
}

// CurrentSourceModel injects current into a neuron group
type CurrentSourceModel struct {
	Name          string
	ParamNames    []string
	DerivedParams []DerivedParam
	Vars          []Var
	EGPs          []EGP
	InjectionCode string
}

// WeightUpdateModel describes synaptic behaviour
type WeightUpdateModel struct {
	Name          string
	ParamNames    []string
	DerivedParams []DerivedParam
	Vars          []Var
	EGPs          []EGP
	// SimCode runs for every synapse of a spiking presynaptic neuron
	SimCode string
	// EventCode runs for every synapse of a presynaptic neuron emitting a spike-like event
	EventCode                   string
	EventThresholdConditionCode string
	// LearnPostCode runs for every synapse of a spiking postsynaptic neuron
	LearnPostCode       string
	SynapseDynamicsCode string
}

// ConnectivityInit builds sparse or bitmask connectivity. Exactly one of
// RowBuildCode and ColBuildCode may be set; neither means the host supplies it.
type ConnectivityInit struct {
	Name         string
	Params       map[string]float64
	RowBuildCode string
	ColBuildCode string
	EGPs         []EGP
}

// IsEmpty reports whether no building code is present
func (c *ConnectivityInit) IsEmpty() bool {
	return c == nil || (c.RowBuildCode == "" && c.ColBuildCode == "")
}

// ToeplitzInit describes connectivity generated on the fly from diagonals
type ToeplitzInit struct {
	Name              string
	Params            map[string]float64
	DiagonalBuildCode string
	MaxRowLength      int
	EGPs              []EGP
}

// CustomUpdateModel describes a user-triggered update over variables and references
type CustomUpdateModel struct {
	Name          string
	ParamNames    []string
	DerivedParams []DerivedParam
	Vars          []Var
	VarRefs       []VarRefDef
	EGPs          []EGP
	UpdateCode    string
}
