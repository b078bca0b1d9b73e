package runtime

import (
	"encoding/json"
	"unsafe"

	"github.com/notargets/SpikeKernel/simt"
	"github.com/notargets/gocca"
	"github.com/pkg/errors"
)

// OCCAArrayFactory allocates device copies on an OCCA device
type OCCAArrayFactory struct {
	Device *gocca.OCCADevice
}

func (f OCCAArrayFactory) Malloc(bytes int64) (DeviceMemory, error) {
	if bytes == 0 {
		return nil, nil
	}
	mem := f.Device.Malloc(bytes, nil, nil)
	if mem == nil {
		return nil, errors.Errorf("failed to allocate %d bytes on %s device", bytes, f.Device.Mode())
	}
	return occaMemory{mem: mem}, nil
}

type occaMemory struct {
	mem *gocca.OCCAMemory
}

func (m occaMemory) CopyFrom(src []byte, offset int64) {
	if len(src) > 0 {
		m.mem.CopyFromWithOffset(unsafe.Pointer(&src[0]), int64(len(src)), offset)
	}
}

func (m occaMemory) CopyTo(dst []byte, offset int64) {
	if len(dst) > 0 {
		m.mem.CopyToWithOffset(unsafe.Pointer(&dst[0]), int64(len(dst)), offset)
	}
}

func (m occaMemory) Free() { m.mem.Free() }

// deviceModes maps generated dialects to the OCCA modes that can build them
var deviceModes = map[string]string{
	"CUDA":   "CUDA",
	"OpenCL": "OpenCL",
}

// CompileKernels builds every generated kernel natively on device. The
// device mode must match the dialect the source was generated for.
func CompileKernels(device *gocca.OCCADevice, gen *simt.Generated, compilerFlags string) (map[string]*gocca.OCCAKernel, error) {
	if want, ok := deviceModes[gen.Dialect]; !ok || want != device.Mode() {
		return nil, errors.Errorf("cannot build %s kernels on a %s device", gen.Dialect, device.Mode())
	}
	opts := map[string]interface{}{
		"okl": map[string]interface{}{"enabled": false},
	}
	if compilerFlags != "" {
		opts["compiler_flags"] = compilerFlags
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}
	props := gocca.JsonParse(string(b))
	defer props.Free()

	kernels := make(map[string]*gocca.OCCAKernel, len(gen.Kernels))
	for _, ks := range gen.Kernels {
		kernel, err := device.BuildKernelFromString(gen.Source, ks.Name, props)
		if err != nil {
			for _, k := range kernels {
				k.Free()
			}
			return nil, errors.Wrapf(err, "failed to build kernel %s", ks.Name)
		}
		if kernel == nil {
			return nil, errors.Errorf("kernel build returned nil for %s", ks.Name)
		}
		kernels[ks.Name] = kernel
	}
	return kernels, nil
}
