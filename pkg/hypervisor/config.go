package hypervisor

import "fmt"

// BootSpec describes how the guest kernel is started.
// It is built once per start attempt and never mutated afterwards.
type BootSpec struct {
	// KernelPath is the path to the Linux kernel image.
	KernelPath string

	// InitrdPath is the path to the initial ramdisk.
	InitrdPath string

	// CommandLine is the kernel command line, forwarded opaquely.
	CommandLine string
}

// DeviceKind tags a device descriptor.
type DeviceKind int

const (
	DeviceNetwork DeviceKind = iota
	DeviceConsole
	DeviceDirectoryShare
	DeviceDisk
)

func (k DeviceKind) String() string {
	switch k {
	case DeviceNetwork:
		return "network"
	case DeviceConsole:
		return "console"
	case DeviceDirectoryShare:
		return "directory-share"
	case DeviceDisk:
		return "disk"
	default:
		return "unknown"
	}
}

// ConsoleMode selects the host-side transport of the virtio console.
type ConsoleMode int

const (
	// ConsolePipe connects the console to an internal byte pipe whose read
	// side is available through Driver.Console.
	ConsolePipe ConsoleMode = iota

	// ConsoleStdio connects the console directly to the host's standard
	// input and output. Guest output cannot be observed programmatically.
	ConsoleStdio
)

func (m ConsoleMode) String() string {
	switch m {
	case ConsolePipe:
		return "pipe"
	case ConsoleStdio:
		return "stdio"
	default:
		return "unknown"
	}
}

// ParseConsoleMode converts a configuration value into a ConsoleMode.
func ParseConsoleMode(s string) (ConsoleMode, error) {
	switch s {
	case "", "pipe":
		return ConsolePipe, nil
	case "stdio":
		return ConsoleStdio, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidConsoleMode, s)
	}
}

// Device is a single virtual device descriptor.
// Only the fields relevant to Kind are set.
type Device struct {
	Kind DeviceKind

	// Console settings.
	Console ConsoleMode
	Primary bool

	// Network settings. Empty MACAddress means a random locally
	// administered address.
	MACAddress string

	// Directory share settings. Tag is what the guest mounts.
	ShareTag  string
	SharePath string

	// Disk settings.
	DiskPath string

	// ReadOnly applies to directory shares and disks.
	ReadOnly bool
}

// DeviceSet is the ordered list of devices attached to the VM.
type DeviceSet struct {
	Devices []Device
}

// Console returns the primary console device, if any.
func (s DeviceSet) Console() (Device, bool) {
	for _, d := range s.Devices {
		if d.Kind == DeviceConsole && d.Primary {
			return d, true
		}
	}
	return Device{}, false
}

// OfKind returns the devices of the given kind in set order.
func (s DeviceSet) OfKind(kind DeviceKind) []Device {
	var out []Device
	for _, d := range s.Devices {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// Resources holds the VM resource limits.
type Resources struct {
	CPUs        uint
	MemoryBytes uint64
}

// ResourceBounds are the limits advertised by a driver.
// A zero maximum means the driver does not advertise an upper bound.
type ResourceBounds struct {
	MinCPUs   uint
	MaxCPUs   uint
	MinMemory uint64
	MaxMemory uint64
}

// Contains reports whether r fits within the bounds.
func (b ResourceBounds) Contains(r Resources) bool {
	if r.CPUs < b.MinCPUs || (b.MaxCPUs > 0 && r.CPUs > b.MaxCPUs) {
		return false
	}
	if r.MemoryBytes < b.MinMemory || (b.MaxMemory > 0 && r.MemoryBytes > b.MaxMemory) {
		return false
	}
	return true
}

// VMConfig is the complete description handed to the driver.
type VMConfig struct {
	Boot      BootSpec
	Devices   DeviceSet
	Resources Resources
}

// Validate performs driver independent checks of the configuration.
func (c *VMConfig) Validate() error {
	if c.Resources.CPUs < 1 {
		return ErrInvalidCPUCount
	}
	if c.Resources.MemoryBytes < MinMemoryBytes {
		return ErrInsufficientMemory
	}
	if c.Boot.KernelPath == "" {
		return ErrMissingKernel
	}
	if c.Boot.CommandLine == "" {
		return ErrMissingCommandLine
	}
	primaries := 0
	for _, d := range c.Devices.Devices {
		if d.Kind == DeviceConsole && d.Primary {
			primaries++
		}
	}
	if primaries > 1 {
		return ErrMultiplePrimaryConsoles
	}
	return nil
}

// MinMemoryBytes is the smallest memory size accepted by any driver.
const MinMemoryBytes = 128 * 1024 * 1024
