package model

import "math"

// Standard neuron models

var Izhikevich = &NeuronModel{
	Name:       "Izhikevich",
	ParamNames: []string{"a", "b", "c", "d"},
	Vars: []Var{
		{Name: "V", Type: "scalar", Access: ReadWrite},
		{Name: "U", Type: "scalar", Access: ReadWrite},
	},
	SimCode: `if($(V) >= 30.0) {
    $(V) = $(c);
    $(U) += $(d);
}
$(V) += 0.5 * (0.04 * $(V) * $(V) + 5.0 * $(V) + 140.0 - $(U) + $(Isyn)) * $(dt);
$(V) += 0.5 * (0.04 * $(V) * $(V) + 5.0 * $(V) + 140.0 - $(U) + $(Isyn)) * $(dt);
$(U) += $(a) * ($(b) * $(V) - $(U)) * $(dt);
if($(V) > 30.0) {
    $(V) = 30.0;
}`,
	ThresholdConditionCode: "$(V) >= 29.99",
}

var LIF = &NeuronModel{
	Name:       "LIF",
	ParamNames: []string{"C", "TauM", "Vrest", "Vreset", "Vthresh", "Ioffset", "TauRefrac"},
	DerivedParams: []DerivedParam{
		{Name: "ExpTC", Func: func(p map[string]float64, dt float64) float64 { return math.Exp(-dt / p["TauM"]) }},
		{Name: "Rmembrane", Func: func(p map[string]float64, _ float64) float64 { return p["TauM"] / p["C"] }},
	},
	Vars: []Var{
		{Name: "V", Type: "scalar", Access: ReadWrite},
		{Name: "RefracTime", Type: "scalar", Access: ReadWrite},
	},
	SimCode: `if ($(RefracTime) <= 0.0) {
    scalar alpha = (($(Isyn) + $(Ioffset)) * $(Rmembrane)) + $(Vrest);
    $(V) = alpha - ($(ExpTC) * (alpha - $(V)));
}
else {
    $(RefracTime) -= $(dt);
}`,
	ThresholdConditionCode: "$(RefracTime) <= 0.0 && $(V) >= $(Vthresh)",
	ResetCode: `$(V) = $(Vreset);
$(RefracTime) = $(TauRefrac);`,
}

var Poisson = &NeuronModel{
	Name:       "Poisson",
	ParamNames: []string{"rate"},
	DerivedParams: []DerivedParam{
		{Name: "isi", Func: func(p map[string]float64, dt float64) float64 { return 1000.0 / (p["rate"] * dt) }},
	},
	Vars: []Var{{Name: "timeStepToSpike", Type: "scalar", Access: ReadWrite}},
	SimCode: `if($(timeStepToSpike) <= 0.0) {
    $(timeStepToSpike) += $(isi) * $(gennrand_exponential);
}
$(timeStepToSpike) -= 1.0;`,
	ThresholdConditionCode: "$(timeStepToSpike) <= 0.0",
}

// Standard current source models

var DC = &CurrentSourceModel{
	Name:          "DC",
	ParamNames:    []string{"amp"},
	InjectionCode: "$(injectCurrent, $(amp));",
}

// Standard weight update models

var StaticPulse = &WeightUpdateModel{
	Name:    "StaticPulse",
	Vars:    []Var{{Name: "g", Type: "scalar", Access: ReadOnly}},
	SimCode: "$(addToPost, $(g));",
}

var StaticPulseConstantWeight = &WeightUpdateModel{
	Name:       "StaticPulseConstantWeight",
	ParamNames: []string{"g"},
	SimCode:    "$(addToPost, $(g));",
}

var StaticPulseDendriticDelay = &WeightUpdateModel{
	Name: "StaticPulseDendriticDelay",
	Vars: []Var{
		{Name: "g", Type: "scalar", Access: ReadOnly},
		{Name: "d", Type: "uint8_t", Access: ReadOnly},
	},
	SimCode: "$(addToPostDelay, $(g), $(d));",
}

var StaticGraded = &WeightUpdateModel{
	Name:                        "StaticGraded",
	ParamNames:                  []string{"Epre", "Vslope"},
	Vars:                        []Var{{Name: "g", Type: "scalar", Access: ReadOnly}},
	EventCode:                   "$(addToPost, fmax(0.0, $(g) * tanh(($(V_pre) - $(Epre)) / $(Vslope)) * $(dt)));",
	EventThresholdConditionCode: "$(V_pre) > $(Epre)",
}

var STDP = &WeightUpdateModel{
	Name:       "STDP",
	ParamNames: []string{"tauPlus", "tauMinus", "Aplus", "Aminus", "Wmin", "Wmax"},
	Vars:       []Var{{Name: "g", Type: "scalar", Access: ReadWrite}},
	SimCode: `$(addToPost, $(g));
const scalar dt = $(t) - $(sT_post);
if (dt > 0) {
    const scalar timing = exp(-dt / $(tauMinus));
    $(g) = fmax($(Wmin), $(g) - ($(Aminus) * timing));
}`,
	LearnPostCode: `const scalar dt = $(t) - $(sT_pre);
if (dt > 0) {
    const scalar timing = exp(-dt / $(tauPlus));
    $(g) = fmin($(Wmax), $(g) + ($(Aplus) * timing));
}`,
}

var ContinuousDecay = &WeightUpdateModel{
	Name:                "ContinuousDecay",
	ParamNames:          []string{"tau"},
	Vars:                []Var{{Name: "g", Type: "scalar", Access: ReadWrite}},
	SynapseDynamicsCode: "$(g) *= exp(-$(dt) / $(tau));\n$(addToPost, $(g) * $(dt));",
}

// Standard connectivity initialisers

func FixedProbability(prob float64) *ConnectivityInit {
	return &ConnectivityInit{
		Name:   "FixedProbability",
		Params: map[string]float64{"prob": prob},
		RowBuildCode: `for(unsigned int j = 0; j < $(num_post); j++) {
    if($(gennrand_uniform) < $(prob)) {
        $(addSynapse, j);
    }
}`,
	}
}

func OneToOne() *ConnectivityInit {
	return &ConnectivityInit{
		Name:         "OneToOne",
		RowBuildCode: "$(addSynapse, $(id_pre));",
	}
}

func FixedNumberPreWithReplacement(num int) *ConnectivityInit {
	return &ConnectivityInit{
		Name:   "FixedNumberPreWithReplacement",
		Params: map[string]float64{"num": float64(num)},
		ColBuildCode: `for(unsigned int c = 0; c < (unsigned int)$(num); c++) {
    const unsigned int idPre = (unsigned int)($(gennrand_uniform) * $(num_pre));
    $(addSynapse, idPre);
}`,
	}
}

// Conv1D generates a centred one dimensional convolution of width kernelSize
func Conv1D(kernelSize int) *ToeplitzInit {
	return &ToeplitzInit{
		Name:         "Conv1D",
		Params:       map[string]float64{"kernel_size": float64(kernelSize)},
		MaxRowLength: kernelSize,
		DiagonalBuildCode: `const int idPost = (int)$(id_pre) + (int)$(id_diag) - ((int)$(kernel_size) / 2);
if(idPost >= 0 && idPost < (int)$(num_post)) {
    $(addSynapse, idPost, $(id_diag));
}`,
	}
}

// Standard variable initialisers

func Constant(v float64) *VarInit {
	return &VarInit{Code: "$(value) = $(constant);", Params: map[string]float64{"constant": v}}
}

func Uniform(min, max float64) *VarInit {
	return &VarInit{
		Code:   "$(value) = $(min) + ($(gennrand_uniform) * ($(max) - $(min)));",
		Params: map[string]float64{"min": min, "max": max},
	}
}

func Normal(mean, sd float64) *VarInit {
	return &VarInit{
		Code:   "$(value) = $(mean) + ($(gennrand_normal) * $(sd));",
		Params: map[string]float64{"mean": mean, "sd": sd},
	}
}

// Standard custom update models

var SetValue = &CustomUpdateModel{
	Name:       "SetValue",
	ParamNames: []string{"value"},
	VarRefs:    []VarRefDef{{Name: "target", Type: "scalar", Access: ReadWrite}},
	UpdateCode: "$(target) = $(value);",
}

var SumReduce = &CustomUpdateModel{
	Name: "SumReduce",
	VarRefs: []VarRefDef{
		{Name: "source", Type: "scalar", Access: ReadOnly},
		{Name: "reduction", Type: "scalar", Access: ReduceSum},
	},
	UpdateCode: "$(reduction) = $(source);",
}

var MaxReduce = &CustomUpdateModel{
	Name: "MaxReduce",
	VarRefs: []VarRefDef{
		{Name: "source", Type: "scalar", Access: ReadOnly},
		{Name: "reduction", Type: "scalar", Access: ReduceMax},
	},
	UpdateCode: "$(reduction) = $(source);",
}

var Transpose = &CustomUpdateModel{
	Name:    "Transpose",
	VarRefs: []VarRefDef{{Name: "variable", Type: "scalar", Access: ReadWrite}},
}

var ScaleWeights = &CustomUpdateModel{
	Name:       "ScaleWeights",
	ParamNames: []string{"scale"},
	VarRefs:    []VarRefDef{{Name: "g", Type: "scalar", Access: ReadWrite}},
	UpdateCode: "$(g) *= $(scale);",
}
