package runtime

import (
	"github.com/notargets/SpikeKernel/simt"
	"github.com/notargets/SpikeKernel/types"
	"github.com/pkg/errors"
)

// DeviceMemory is the device copy of an array. Offsets are in bytes.
type DeviceMemory interface {
	CopyFrom(src []byte, offset int64)
	CopyTo(dst []byte, offset int64)
	Free()
}

// ArrayFactory allocates device memory. A factory may return nil memory, in
// which case the array lives on the host only.
type ArrayFactory interface {
	Malloc(bytes int64) (DeviceMemory, error)
}

// HostArrayFactory keeps every array on the host
type HostArrayFactory struct{}

func (HostArrayFactory) Malloc(int64) (DeviceMemory, error) { return nil, nil }

// Array is one named runtime array with a host buffer and optional device copy
type Array struct {
	owner  string
	name   string
	typ    types.ResolvedType
	count  int
	host   []byte
	device DeviceMemory
	// uninitialised arrays are filled on the host and pushed by InitializeSparse
	uninitialised bool
}

func newArray(owner, name string, typ types.ResolvedType, count int, factory ArrayFactory) (*Array, error) {
	a := &Array{owner: owner, name: name, typ: typ}
	if err := a.allocate(count, factory); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Array) allocate(count int, factory ArrayFactory) error {
	a.count = count
	a.host = make([]byte, count*a.ElementBytes())
	if len(a.host) == 0 {
		return nil
	}
	mem, err := factory.Malloc(int64(len(a.host)))
	if err != nil {
		return errors.Wrapf(err, "allocating %s of %s", a.name, a.owner)
	}
	a.device = mem
	return nil
}

// Owner is the group the array belongs to
func (a *Array) Owner() string { return a.owner }

// Name is the array's name within its owner
func (a *Array) Name() string { return a.name }

// Type is the element type
func (a *Array) Type() types.ResolvedType { return a.typ }

// Count is the number of elements
func (a *Array) Count() int { return a.count }

// Bytes is the size of the host copy
func (a *Array) Bytes() int { return len(a.host) }

// Host is the host copy, laid out as the device expects
func (a *Array) Host() []byte { return a.host }

// Device is the device copy, nil for host only arrays
func (a *Array) Device() DeviceMemory { return a.device }

// IsUninitialised reports whether the array holds connectivity with no
// building code, which the host fills in
func (a *Array) IsUninitialised() bool { return a.uninitialised }

// ElementBytes is the size of one element
func (a *Array) ElementBytes() int { return a.typ.Size(simt.PointerBytes) }

func (a *Array) checkIndex(i int) error {
	if i < 0 || i >= a.count {
		return errors.Errorf("index %d out of range for %s of %s with %d elements", i, a.name, a.owner, a.count)
	}
	return nil
}

// Get decodes element i
func (a *Array) Get(i int) (float64, error) {
	if err := a.checkIndex(i); err != nil {
		return 0, err
	}
	n := a.ElementBytes()
	return types.DeserialiseNumeric(a.host[i*n:(i+1)*n], a.typ)
}

// Set encodes v into element i
func (a *Array) Set(i int, v float64) error {
	if err := a.checkIndex(i); err != nil {
		return err
	}
	b, err := types.SerialiseNumeric(v, a.typ)
	if err != nil {
		return err
	}
	copy(a.host[i*len(b):], b)
	return nil
}

// Values decodes every element
func (a *Array) Values() ([]float64, error) {
	out := make([]float64, a.count)
	for i := range out {
		v, err := a.Get(i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// SetValues encodes vs from element 0
func (a *Array) SetValues(vs []float64) error {
	if len(vs) > a.count {
		return errors.Errorf("%d values do not fit %s of %s with %d elements", len(vs), a.name, a.owner, a.count)
	}
	for i, v := range vs {
		if err := a.Set(i, v); err != nil {
			return err
		}
	}
	return nil
}

// Fill sets every element to v
func (a *Array) Fill(v float64) error {
	b, err := types.SerialiseNumeric(v, a.typ)
	if err != nil {
		return err
	}
	for i := 0; i < a.count; i++ {
		copy(a.host[i*len(b):], b)
	}
	return nil
}

// Zero clears the host copy
func (a *Array) Zero() {
	clear(a.host)
}

// PushToDevice copies the whole host buffer to the device
func (a *Array) PushToDevice() {
	if a.device != nil && len(a.host) > 0 {
		a.device.CopyFrom(a.host, 0)
	}
}

// PullFromDevice copies the whole device buffer to the host
func (a *Array) PullFromDevice() {
	if a.device != nil && len(a.host) > 0 {
		a.device.CopyTo(a.host, 0)
	}
}

// PushRange copies count elements from start to the device
func (a *Array) PushRange(start, count int) error {
	if err := a.checkRange(start, count); err != nil {
		return err
	}
	if a.device != nil && count > 0 {
		n := a.ElementBytes()
		a.device.CopyFrom(a.host[start*n:(start+count)*n], int64(start*n))
	}
	return nil
}

// PullRange copies count elements from start to the host
func (a *Array) PullRange(start, count int) error {
	if err := a.checkRange(start, count); err != nil {
		return err
	}
	if a.device != nil && count > 0 {
		n := a.ElementBytes()
		a.device.CopyTo(a.host[start*n:(start+count)*n], int64(start*n))
	}
	return nil
}

func (a *Array) checkRange(start, count int) error {
	if start < 0 || count < 0 || start+count > a.count {
		return errors.Errorf("range [%d, %d) out of bounds for %s of %s with %d elements",
			start, start+count, a.name, a.owner, a.count)
	}
	return nil
}

// resize reallocates the array, dropping its contents
func (a *Array) resize(count int, factory ArrayFactory) error {
	a.free()
	return a.allocate(count, factory)
}

func (a *Array) free() {
	if a.device != nil {
		a.device.Free()
		a.device = nil
	}
	a.host = nil
	a.count = 0
}
