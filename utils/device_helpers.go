package utils

import (
	"testing"

	"github.com/notargets/SpikeKernel/config"
	"github.com/notargets/SpikeKernel/logging"
	"github.com/notargets/gocca"
	"github.com/pkg/errors"
)

// dialectModes are the OCCA modes able to build each kernel dialect
var dialectModes = map[string]string{
	"CUDA":   "CUDA",
	"OpenCL": "OpenCL",
}

// CreateDevice walks the preferred device modes in order and opens the first
// one that builds kernels of dialect
func CreateDevice(prefs *config.Preferences, dialect string, log *logging.Logger) (*gocca.OCCADevice, error) {
	want, ok := dialectModes[dialect]
	if !ok {
		return nil, errors.Errorf("no OCCA device mode runs %s kernels", dialect)
	}
	for _, props := range prefs.DeviceModes {
		device, err := gocca.NewDevice(props)
		if err != nil {
			log.DebugF(logging.DEBUG_LEVEL_TRACE, "device %s unavailable: %v", props, err)
			continue
		}
		if device.Mode() != want {
			device.Free()
			continue
		}
		log.DebugF(logging.DEBUG_LEVEL_INFO, "created %s device", device.Mode())
		return device, nil
	}
	return nil, errors.Errorf("none of %d preferred devices runs %s kernels", len(prefs.DeviceModes), dialect)
}

// CreateTestDevice opens a device for dialect or skips the test when the
// machine has none
func CreateTestDevice(t *testing.T, dialect string) *gocca.OCCADevice {
	t.Helper()
	device, err := CreateDevice(config.Default(), dialect, logging.Discard())
	if err != nil {
		t.Skipf("no %s device available: %v", dialect, err)
	}
	t.Cleanup(func() { device.Free() })
	return device
}
