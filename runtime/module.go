package runtime

import (
	"github.com/notargets/SpikeKernel/simt"
	"github.com/pkg/errors"
)

var ErrMissingEntryPoint = errors.New("missing entry point")

// Module is the compiled simulation, reached through named entry points
type Module interface {
	Has(name string) bool
	Call(name string, args ...interface{}) error
}

// Entry points every module exposes
const (
	EntryAllocateMem      = "allocateMem"
	EntryFreeMem          = "freeMem"
	EntryInitialize       = "initialize"
	EntryInitializeSparse = "initializeSparse"
	EntryInitializeHost   = "initializeHost"
	EntryStepTime         = "stepTime"
)

// optionalEntryPoints are accelerator communication hooks few modules have
var optionalEntryPoints = []string{
	"ncclGenerateUniqueID",
	"ncclGetUniqueID",
	"ncclInitCommunicator",
	"ncclUniqueIDSize",
}

// CustomUpdateEntryPoint names the entry point of an update group
func CustomUpdateEntryPoint(group string) string { return "update" + group }

// RequiredEntryPoints lists what a module generated as gen must expose
func RequiredEntryPoints(gen *simt.Generated) []string {
	names := []string{
		EntryAllocateMem, EntryFreeMem, EntryInitialize, EntryInitializeSparse,
		EntryInitializeHost, EntryStepTime,
	}
	for _, group := range gen.UpdateGroups {
		names = append(names, CustomUpdateEntryPoint(group))
	}
	return append(names, gen.PushFunctions()...)
}

// checkEntryPoints fails on the first required entry point m lacks and
// reports which optional ones it has
func checkEntryPoints(m Module, gen *simt.Generated) (map[string]bool, error) {
	for _, name := range RequiredEntryPoints(gen) {
		if !m.Has(name) {
			return nil, errors.Wrapf(ErrMissingEntryPoint, "'%s'", name)
		}
	}
	optional := make(map[string]bool, len(optionalEntryPoints))
	for _, name := range optionalEntryPoints {
		optional[name] = m.Has(name)
	}
	return optional, nil
}

// Call is one recorded entry point invocation
type Call struct {
	Name string
	Args []interface{}
}

// SymbolModule is a Module backed by Go functions. Every invocation is
// recorded, entry points without a function do nothing.
type SymbolModule struct {
	symbols map[string]func(args ...interface{}) error
	Calls   []Call
}

func NewSymbolModule() *SymbolModule {
	return &SymbolModule{symbols: make(map[string]func(args ...interface{}) error)}
}

// Define adds or replaces an entry point. fn may be nil.
func (m *SymbolModule) Define(name string, fn func(args ...interface{}) error) {
	m.symbols[name] = fn
}

// DefineAll adds do-nothing entry points for every name
func (m *SymbolModule) DefineAll(names ...string) {
	for _, n := range names {
		if _, ok := m.symbols[n]; !ok {
			m.symbols[n] = nil
		}
	}
}

func (m *SymbolModule) Has(name string) bool {
	_, ok := m.symbols[name]
	return ok
}

func (m *SymbolModule) Call(name string, args ...interface{}) error {
	fn, ok := m.symbols[name]
	if !ok {
		return errors.Wrapf(ErrMissingEntryPoint, "'%s'", name)
	}
	m.Calls = append(m.Calls, Call{Name: name, Args: args})
	if fn == nil {
		return nil
	}
	return errors.Wrapf(fn(args...), "calling %s", name)
}

// CallsTo returns the recorded invocations of name
func (m *SymbolModule) CallsTo(name string) []Call {
	var out []Call
	for _, c := range m.Calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// DeviceBinding pushes new values into the fields of compiled merged structs
type DeviceBinding interface {
	// PushScalar writes the serialised value into the field of member group
	PushScalar(fn string, group int, value []byte) error
	// PushArray points the field of member group at array
	PushArray(fn string, group int, array *Array) error
}

// moduleBinding pushes through the module's push entry points, which take
// the member index and a pointer to the value
type moduleBinding struct {
	m Module
}

func NewModuleBinding(m Module) DeviceBinding { return moduleBinding{m: m} }

func (b moduleBinding) PushScalar(fn string, group int, value []byte) error {
	return b.m.Call(fn, uint32(group), value)
}

func (b moduleBinding) PushArray(fn string, group int, array *Array) error {
	return b.m.Call(fn, uint32(group), array)
}
