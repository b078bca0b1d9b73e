package simt

import (
	"fmt"
	"strings"

	"github.com/notargets/SpikeKernel/types"
)

// OpenCL emits kernels for OpenCL C with a Philox4x32-10 generator carried in
// the preamble
type OpenCL struct{}

func (OpenCL) Name() string { return "OpenCL" }

const openCLTypedefs = `typedef uchar uint8_t;
typedef ushort uint16_t;
typedef uint uint32_t;
typedef ulong uint64_t;
typedef char int8_t;
typedef short int16_t;
typedef int int32_t;
typedef long int64_t;
`

const openCLFloatAtomics = `inline void atomic_add_f_global(volatile __global float *source, const float operand) {
    union { unsigned int intVal; float floatVal; } newVal, prevVal;
    do {
        prevVal.floatVal = *source;
        newVal.floatVal = prevVal.floatVal + operand;
    } while (atomic_cmpxchg((volatile __global unsigned int *)source, prevVal.intVal, newVal.intVal) != prevVal.intVal);
}

inline void atomic_add_f_local(volatile __local float *source, const float operand) {
    union { unsigned int intVal; float floatVal; } newVal, prevVal;
    do {
        prevVal.floatVal = *source;
        newVal.floatVal = prevVal.floatVal + operand;
    } while (atomic_cmpxchg((volatile __local unsigned int *)source, prevVal.intVal, newVal.intVal) != prevVal.intVal);
}
`

const openCLDoubleAtomics = `inline void atomic_add_d_global(volatile __global double *source, const double operand) {
    union { ulong intVal; double floatVal; } newVal, prevVal;
    do {
        prevVal.floatVal = *source;
        newVal.floatVal = prevVal.floatVal + operand;
    } while (atom_cmpxchg((volatile __global ulong *)source, prevVal.intVal, newVal.intVal) != prevVal.intVal);
}

inline void atomic_add_d_local(volatile __local double *source, const double operand) {
    union { ulong intVal; double floatVal; } newVal, prevVal;
    do {
        prevVal.floatVal = *source;
        newVal.floatVal = prevVal.floatVal + operand;
    } while (atom_cmpxchg((volatile __local ulong *)source, prevVal.intVal, newVal.intVal) != prevVal.intVal);
}
`

const openCLPhilox = `typedef struct {
    uint4 ctr;
    uint2 key;
} philox4x32_state;

inline uint4 philox4x32_round(uint4 ctr, uint2 key) {
    const uint hi0 = mul_hi(0xD2511F53u, ctr.x);
    const uint lo0 = 0xD2511F53u * ctr.x;
    const uint hi1 = mul_hi(0xCD9E8D57u, ctr.z);
    const uint lo1 = 0xCD9E8D57u * ctr.z;
    return (uint4)(hi1 ^ ctr.y ^ key.x, lo1, hi0 ^ ctr.w ^ key.y, lo0);
}

inline philox4x32_state philox_seed(ulong seed, ulong sequence) {
    philox4x32_state s;
    s.key = (uint2)((uint)seed, (uint)(seed >> 32));
    s.ctr = (uint4)(0u, 0u, (uint)sequence, (uint)(sequence >> 32));
    return s;
}

inline uint philox_next(philox4x32_state *s) {
    uint4 ctr = s->ctr;
    uint2 key = s->key;
    for(int i = 0; i < 10; i++) {
        ctr = philox4x32_round(ctr, key);
        key += (uint2)(0x9E3779B9u, 0xBB67AE85u);
    }
    s->ctr.x++;
    if(s->ctr.x == 0u) {
        s->ctr.y++;
    }
    return ctr.x;
}

inline float philox_uniform(philox4x32_state *s) {
    return ((float)(philox_next(s) >> 8) + 0.5f) * (1.0f / 16777216.0f);
}

inline float philox_normal(philox4x32_state *s) {
    const float u1 = philox_uniform(s);
    const float u2 = philox_uniform(s);
    return sqrt(-2.0f * log(u1)) * cospi(2.0f * u2);
}

inline float philox_exponential(philox4x32_state *s) {
    return -log(philox_uniform(s));
}

inline float philox_log_normal(philox4x32_state *s, float mean, float sd) {
    return exp(mean + (sd * philox_normal(s)));
}
`

const openCLPhiloxDouble = `inline double philox_uniform_double(philox4x32_state *s) {
    const ulong hi = philox_next(s) >> 5;
    const ulong lo = philox_next(s) >> 6;
    return (((double)((hi << 26) | lo)) + 0.5) * (1.0 / 9007199254740992.0);
}

inline double philox_normal_double(philox4x32_state *s) {
    const double u1 = philox_uniform_double(s);
    const double u2 = philox_uniform_double(s);
    return sqrt(-2.0 * log(u1)) * cospi(2.0 * u2);
}

inline double philox_exponential_double(philox4x32_state *s) {
    return -log(philox_uniform_double(s));
}

inline double philox_log_normal_double(philox4x32_state *s, double mean, double sd) {
    return exp(mean + (sd * philox_normal_double(s)));
}
`

func (OpenCL) Preamble(scalar, timepoint types.ResolvedType) string {
	var sb strings.Builder
	double := isDouble(scalar) || isDouble(timepoint)
	if double {
		sb.WriteString("#pragma OPENCL EXTENSION cl_khr_fp64 : enable\n")
		sb.WriteString("#pragma OPENCL EXTENSION cl_khr_int64_base_atomics : enable\n")
	}
	sb.WriteString("#pragma OPENCL EXTENSION cl_khr_subgroup_shuffle_relative : enable\n\n")
	sb.WriteString(openCLTypedefs)
	sb.WriteString(fmt.Sprintf("typedef %s scalar;\n", scalar.Name()))
	sb.WriteString(fmt.Sprintf("typedef %s timepoint;\n\n", timepoint.Name()))
	sb.WriteString("#define SUPPORT_CODE_FUNC inline\n\n")
	sb.WriteString(openCLFloatAtomics)
	if double {
		sb.WriteString("\n")
		sb.WriteString(openCLDoubleAtomics)
	}
	sb.WriteString("\n")
	sb.WriteString(openCLPhilox)
	if double {
		sb.WriteString("\n")
		sb.WriteString(openCLPhiloxDouble)
	}
	return sb.String()
}

func (OpenCL) KernelQualifier() string  { return "__kernel void" }
func (OpenCL) SharedPrefix() string     { return "__local " }
func (OpenCL) PointerPrefix() string    { return "__global " }
func (OpenCL) ConstantPrefix() string   { return "__constant " }
func (OpenCL) ThreadID(dim int) string  { return fmt.Sprintf("get_local_id(%d)", dim) }
func (OpenCL) BlockID(dim int) string   { return fmt.Sprintf("get_group_id(%d)", dim) }
func (OpenCL) Barrier() string          { return "barrier(CLK_LOCAL_MEM_FENCE);" }
func (OpenCL) PopulationRNGType() string { return "philox4x32_state" }
func (OpenCL) RNGStateBytes() int        { return 32 }
func (OpenCL) GlobalID(int) string      { return "get_global_id(0)" }

// Atomic returns the integer builtin or, for floating point, the
// compare-and-swap helper of the right address space
func (OpenCL) Atomic(typ types.ResolvedType, op AtomicOp, shared bool) string {
	if op == AtomicOr {
		return "atomic_or"
	}
	if n := typ.Numeric(); n != nil && !n.IsIntegral {
		space := "global"
		if shared {
			space = "local"
		}
		if isDouble(typ) {
			return "atomic_add_d_" + space
		}
		return "atomic_add_f_" + space
	}
	return "atomic_add"
}

func (OpenCL) ShuffleDown(value, delta string) string {
	return fmt.Sprintf("sub_group_shuffle_down(%s, %s)", value, delta)
}

func (OpenCL) CountLeadingZeros(value string) string {
	return "clz(" + value + ")"
}

func (OpenCL) PopulationRNGInit(rng, seed, sequence string) string {
	return fmt.Sprintf("%s = philox_seed(%s, %s);", rng, seed, sequence)
}

func (OpenCL) GlobalRNGSkipAhead(sequence string) string {
	return fmt.Sprintf("philox4x32_state initRNG = philox_seed(deviceRNGSeed, (uint64_t)(%s));", sequence)
}

func (OpenCL) RNGFunctions(rng string, scalar types.ResolvedType) map[string]string {
	suffix := ""
	if isDouble(scalar) {
		suffix = "_double"
	}
	return map[string]string{
		"gennrand":             "philox_next(&" + rng + ")",
		"gennrand_uniform":     "philox_uniform" + suffix + "(&" + rng + ")",
		"gennrand_normal":      "philox_normal" + suffix + "(&" + rng + ")",
		"gennrand_exponential": "philox_exponential" + suffix + "(&" + rng + ")",
		"gennrand_log_normal":  "philox_log_normal" + suffix + "(&" + rng + ", $(0), $(1))",
	}
}
