// Package clsim is an in-process, pure Go compute driver for vexcl.
//
// It simulates a configurable set of devices, each with its own in-order
// command queue, and executes generated kernels by compiling their OpenCL C
// source with a small built-in interpreter. It exists so that everything
// built on top of the cl boundary -- partitioning, expression evaluation,
// reductions, sparse multiply -- can be exercised without accelerator
// hardware, with real compile/enqueue/wait semantics.
//
// The driver registers itself under the name "sim" on import:
//
//	import _ "github.com/ananori99/vexcl/cl/clsim"
//
// The configuration string accepts comma-separated options:
//
//	devices=N            number of simulated devices (default 2)
//	vendors=A;B          vendor names, cycled across devices
//	platforms=P;Q        platform names, cycled (default: one per vendor)
//	types=gpu;cpu        device types, cycled (gpu, cpu or accelerator)
//	nofp64=1;3           indices of devices without double precision
//	mem=SIZE             global memory per device (e.g. "512 MiB")
//
// For example "sim:devices=3,vendors=Acme;Beta" simulates three devices from
// two vendors, which vexcl will place in two separate contexts.
package clsim

import (
	"strconv"
	"strings"

	"github.com/ananori99/vexcl/cl"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

func init() {
	cl.Register("sim", func(config string) (cl.Driver, error) {
		return NewFromConfig(config)
	})
}

const defaultMemory = 1 << 30

// DeviceSpec describes one simulated device.
type DeviceSpec struct {
	Name         string
	Vendor       string
	Platform     string
	Type         cl.DeviceType
	Memory       uint64
	ComputeUnits int

	// NoFP64 marks a device without double precision support. The zero
	// value, like most real devices, supports it.
	NoFP64 bool
}

// Driver is the simulated compute platform. It implements cl.Driver.
type Driver struct {
	devices []*device
}

var _ cl.Driver = (*Driver)(nil)

// NewDriver creates a simulated driver with the given devices. With no specs
// it defaults to two identical GPUs.
func NewDriver(specs ...DeviceSpec) *Driver {
	if len(specs) == 0 {
		specs = []DeviceSpec{{}, {}}
	}
	d := &Driver{}
	for i, spec := range specs {
		if spec.Vendor == "" {
			spec.Vendor = "SimCo"
		}
		if spec.Platform == "" {
			spec.Platform = spec.Vendor + " Platform"
		}
		if spec.Name == "" {
			spec.Name = spec.Vendor + " SimDevice " + strconv.Itoa(i)
		}
		if spec.Type == cl.DeviceTypeAll {
			spec.Type = cl.DeviceTypeGPU
		}
		if spec.Memory == 0 {
			spec.Memory = defaultMemory
		}
		if spec.ComputeUnits == 0 {
			spec.ComputeUnits = 8
		}
		d.devices = append(d.devices, &device{spec: spec, index: i})
	}
	return d
}

// NewFromConfig creates a simulated driver from a configuration string.
// See the package documentation for the accepted options.
func NewFromConfig(config string) (*Driver, error) {
	count := 2
	var vendors, platforms []string
	var types []cl.DeviceType
	noFP64 := map[int]bool{}
	var memory uint64

	for _, option := range strings.Split(config, ",") {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}
		key, value, found := strings.Cut(option, "=")
		if !found {
			return nil, errors.Errorf("clsim: malformed option %q in configuration %q", option, config)
		}
		switch key {
		case "devices":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return nil, errors.Errorf("clsim: invalid device count %q", value)
			}
			count = n
		case "vendors":
			vendors = strings.Split(value, ";")
		case "platforms":
			platforms = strings.Split(value, ";")
		case "types":
			for _, name := range strings.Split(value, ";") {
				t, err := parseDeviceType(name)
				if err != nil {
					return nil, err
				}
				types = append(types, t)
			}
		case "nofp64":
			for _, idxStr := range strings.Split(value, ";") {
				idx, err := strconv.Atoi(idxStr)
				if err != nil {
					return nil, errors.Errorf("clsim: invalid device index %q in nofp64", idxStr)
				}
				noFP64[idx] = true
			}
		case "mem":
			m, err := humanize.ParseBytes(value)
			if err != nil {
				return nil, errors.Wrapf(err, "clsim: invalid memory size %q", value)
			}
			memory = m
		default:
			return nil, errors.Errorf("clsim: unknown option %q in configuration %q", key, config)
		}
	}

	specs := make([]DeviceSpec, count)
	for i := range specs {
		spec := &specs[i]
		if len(vendors) > 0 {
			spec.Vendor = vendors[i%len(vendors)]
		}
		if len(platforms) > 0 {
			spec.Platform = platforms[i%len(platforms)]
		}
		if len(types) > 0 {
			spec.Type = types[i%len(types)]
		}
		spec.Memory = memory
		spec.NoFP64 = noFP64[i]
	}
	return NewDriver(specs...), nil
}

func parseDeviceType(name string) (cl.DeviceType, error) {
	switch strings.ToLower(name) {
	case "cpu":
		return cl.DeviceTypeCPU, nil
	case "gpu":
		return cl.DeviceTypeGPU, nil
	case "accelerator":
		return cl.DeviceTypeAccelerator, nil
	}
	return cl.DeviceTypeAll, errors.Errorf("clsim: unknown device type %q", name)
}

// Name implements cl.Driver.
func (d *Driver) Name() string { return "sim" }

// Devices implements cl.Driver.
func (d *Driver) Devices() ([]cl.Device, error) {
	out := make([]cl.Device, len(d.devices))
	for i, dev := range d.devices {
		out[i] = dev
	}
	return out, nil
}

// device implements cl.Device.
type device struct {
	spec  DeviceSpec
	index int
}

var _ cl.Device = (*device)(nil)

func (d *device) Name() string          { return d.spec.Name }
func (d *device) Vendor() string        { return d.spec.Vendor }
func (d *device) PlatformName() string  { return d.spec.Platform }
func (d *device) Type() cl.DeviceType   { return d.spec.Type }
func (d *device) GlobalMemory() uint64  { return d.spec.Memory }
func (d *device) ComputeUnits() int     { return d.spec.ComputeUnits }
func (d *device) DoublePrecision() bool { return !d.spec.NoFP64 }
func (d *device) String() string        { return d.spec.Name }
