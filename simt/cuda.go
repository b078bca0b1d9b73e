package simt

import (
	"fmt"
	"strings"

	"github.com/notargets/SpikeKernel/types"
)

// CUDA emits kernels for nvcc / NVRTC with curand for random numbers
type CUDA struct{}

func (CUDA) Name() string { return "CUDA" }

func (CUDA) Preamble(scalar, timepoint types.ResolvedType) string {
	var sb strings.Builder
	sb.WriteString("#include <stdint.h>\n")
	sb.WriteString("#include <curand_kernel.h>\n\n")
	sb.WriteString(fmt.Sprintf("typedef %s scalar;\n", scalar.Name()))
	sb.WriteString(fmt.Sprintf("typedef %s timepoint;\n\n", timepoint.Name()))
	sb.WriteString("#define SUPPORT_CODE_FUNC __device__ __host__ inline\n\n")
	sb.WriteString(`template<typename RNG>
__device__ inline float exponentialDistFloat(RNG *rng) {
    while (true) {
        const float u = curand_uniform(rng);
        if (u != 0.0f) {
            return -logf(u);
        }
    }
}

template<typename RNG>
__device__ inline double exponentialDistDouble(RNG *rng) {
    while (true) {
        const double u = curand_uniform_double(rng);
        if (u != 0.0) {
            return -log(u);
        }
    }
}
`)
	return sb.String()
}

func (CUDA) KernelQualifier() string  { return "extern \"C\" __global__ void" }
func (CUDA) SharedPrefix() string     { return "__shared__ " }
func (CUDA) PointerPrefix() string    { return "" }
func (CUDA) ConstantPrefix() string   { return "__device__ __constant__ " }
func (CUDA) ThreadID(dim int) string  { return "threadIdx." + axis(dim) }
func (CUDA) BlockID(dim int) string   { return "blockIdx." + axis(dim) }
func (CUDA) Barrier() string          { return "__syncthreads();" }
func (CUDA) PopulationRNGType() string { return "curandState" }
func (CUDA) RNGStateBytes() int        { return 48 }

func (CUDA) GlobalID(blockSize int) string {
	return fmt.Sprintf("%d * blockIdx.x + threadIdx.x", blockSize)
}

func (CUDA) Atomic(_ types.ResolvedType, op AtomicOp, _ bool) string {
	if op == AtomicOr {
		return "atomicOr"
	}
	return "atomicAdd"
}

func (CUDA) ShuffleDown(value, delta string) string {
	return fmt.Sprintf("__shfl_down_sync(0xFFFFFFFF, %s, %s)", value, delta)
}

func (CUDA) CountLeadingZeros(value string) string {
	return "__clz(" + value + ")"
}

func (CUDA) PopulationRNGInit(rng, seed, sequence string) string {
	return fmt.Sprintf("curand_init(%s, %s, 0, &%s);", seed, sequence, rng)
}

func (CUDA) GlobalRNGSkipAhead(sequence string) string {
	return fmt.Sprintf("curandStatePhilox4_32_10_t initRNG;\ncurand_init(deviceRNGSeed, (unsigned long long)(%s), 0, &initRNG);",
		sequence)
}

func (CUDA) RNGFunctions(rng string, scalar types.ResolvedType) map[string]string {
	if isDouble(scalar) {
		return map[string]string{
			"gennrand":             "curand(&" + rng + ")",
			"gennrand_uniform":     "curand_uniform_double(&" + rng + ")",
			"gennrand_normal":      "curand_normal_double(&" + rng + ")",
			"gennrand_exponential": "exponentialDistDouble(&" + rng + ")",
			"gennrand_log_normal":  "curand_log_normal_double(&" + rng + ", $(0), $(1))",
		}
	}
	return map[string]string{
		"gennrand":             "curand(&" + rng + ")",
		"gennrand_uniform":     "curand_uniform(&" + rng + ")",
		"gennrand_normal":      "curand_normal(&" + rng + ")",
		"gennrand_exponential": "exponentialDistFloat(&" + rng + ")",
		"gennrand_log_normal":  "curand_log_normal(&" + rng + ", $(0), $(1))",
	}
}

func axis(dim int) string {
	return [...]string{"x", "y", "z"}[dim]
}
