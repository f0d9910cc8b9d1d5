package cl

// DeviceType is a coarse classification of a compute device.
type DeviceType int

const (
	DeviceTypeAll DeviceType = iota
	DeviceTypeCPU
	DeviceTypeGPU
	DeviceTypeAccelerator
)

// String implements fmt.Stringer.
func (t DeviceType) String() string {
	switch t {
	case DeviceTypeCPU:
		return "CPU"
	case DeviceTypeGPU:
		return "GPU"
	case DeviceTypeAccelerator:
		return "Accelerator"
	}
	return "All"
}

// Device describes one compute accelerator. It is a lightweight reference
// owned by the Driver -- vexcl only reads its attributes.
type Device interface {
	// Name of the device, e.g. "Tesla V100-SXM2-16GB".
	Name() string

	// Vendor of the device, e.g. "NVIDIA Corporation".
	Vendor() string

	// PlatformName identifies the platform the device belongs to. Devices
	// sharing a platform name may share a context; devices from different
	// platforms never can.
	PlatformName() string

	// Type returns the coarse device classification.
	Type() DeviceType

	// GlobalMemory returns the size of the device's global memory in bytes.
	GlobalMemory() uint64

	// ComputeUnits returns the number of parallel compute units.
	ComputeUnits() int

	// DoublePrecision reports whether the device supports 64-bit floating
	// point arithmetic (the cl_khr_fp64 extension).
	DoublePrecision() bool
}
