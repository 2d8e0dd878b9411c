package tensor

import "strconv"

// Device identifies where tensor data rests. Accelerators are arbitrary
// identifiers ordered by the caller's budget; "cpu" is the host and "disk"
// is a pure-swap target with no compute capability.
type Device string

// Well-known devices.
const (
	CPU  Device = "cpu"
	Disk Device = "disk"
)

// Accelerator returns the conventional identifier for the i-th accelerator.
func Accelerator(i int) Device {
	return Device("gpu:" + strconv.Itoa(i))
}

// IsAccelerator reports whether the device is a finite-capacity compute
// device, i.e. neither host nor disk.
func (d Device) IsAccelerator() bool {
	return d != "" && d != CPU && d != Disk
}

// IsCPU reports whether the device is the host.
func (d Device) IsCPU() bool { return d == CPU }

// IsDisk reports whether the device is the swap target.
func (d Device) IsDisk() bool { return d == Disk }

// String returns the device identifier.
func (d Device) String() string { return string(d) }
