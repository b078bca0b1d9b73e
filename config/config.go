package config

import (
	"os"
	"strings"

	"github.com/notargets/SpikeKernel/logging"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DialectCUDA   = "cuda"
	DialectOpenCL = "opencl"
)

// DefaultBlockSize is used for every kernel without an entry in BlockSizes
const DefaultBlockSize = 32

// Preferences control code generation and the runtime
type Preferences struct {
	Dialect string `yaml:"dialect"`
	// AutomaticCopy drops the "d_" device prefix, arrays then live in unified memory
	AutomaticCopy bool `yaml:"automaticCopy"`
	// DebugCode lifts the warp-multiple restriction on block sizes
	DebugCode     bool           `yaml:"debugCode"`
	BlockSizes    map[string]int `yaml:"blockSizes"`
	DeviceModes   []string       `yaml:"deviceModes"`
	CompilerFlags string         `yaml:"compilerFlags"`
	LogLevel      int            `yaml:"logLevel"`
	DebugLevel    int            `yaml:"debugLevel"`
}

// Default returns CUDA preferences with 32 thread blocks and the usual device fallback order
func Default() *Preferences {
	return &Preferences{
		Dialect:    DialectCUDA,
		BlockSizes: map[string]int{},
		DeviceModes: []string{
			`{"mode": "CUDA", "device_id": 0}`,
			`{"mode": "OpenCL", "platform_id": 0, "device_id": 0}`,
			`{"mode": "OpenMP"}`,
			`{"mode": "Serial"}`,
		},
		CompilerFlags: "-O3",
		LogLevel:      logging.LEVEL_WARNING,
	}
}

// Load reads preferences from a YAML file
func Load(path string) (*Preferences, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading preferences %s", path)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "preferences %s", path)
	}
	return p, nil
}

// Parse decodes YAML on top of Default and validates the result
func Parse(data []byte) (*Preferences, error) {
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, errors.Wrap(err, "decoding preferences")
	}
	if p.BlockSizes == nil {
		p.BlockSizes = map[string]int{}
	}
	p.Dialect = strings.ToLower(p.Dialect)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the dialect and block sizes
func (p *Preferences) Validate() error {
	switch p.Dialect {
	case DialectCUDA, DialectOpenCL:
	default:
		return errors.Errorf("unknown dialect '%s'", p.Dialect)
	}
	for name, size := range p.BlockSizes {
		if size <= 0 {
			return errors.Errorf("block size for %s must be positive, got %d", name, size)
		}
		if !p.DebugCode && size%32 != 0 {
			return errors.Errorf("block size for %s must be a multiple of 32, got %d", name, size)
		}
	}
	return nil
}

// BlockSize returns the configured block size of a kernel
func (p *Preferences) BlockSize(kernel string) int {
	if size, ok := p.BlockSizes[kernel]; ok {
		return size
	}
	return DefaultBlockSize
}

// Logger builds a logger honouring LogLevel and DebugLevel
func (p *Preferences) Logger() *logging.Logger {
	return logging.New(&logging.Config{LogLevel: p.LogLevel, DebugLevel: p.DebugLevel})
}
