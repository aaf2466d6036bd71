// Package devices decides which virtual devices are attached to the guest
// and how they are wired to host transports.
package devices

import (
	"fmt"
	"net"
	"os"

	"github.com/javanstorm/kitvm/internal/boot"
	"github.com/javanstorm/kitvm/pkg/hypervisor"
)

// ShareTag is the virtio-fs tag of the directory share. The guest mounts it
// with "mount -t virtiofs kitvm <mountpoint>".
const ShareTag = "kitvm"

// Request lists the devices wanted for one start attempt.
type Request struct {
	Resources hypervisor.Resources

	// Network attaches one NAT network interface. The guest configures
	// itself with DHCP.
	Network    bool
	MACAddress string

	// Console attaches the primary virtio console.
	Console     bool
	ConsoleMode hypervisor.ConsoleMode

	// DirectoryShare attaches ShareRoot read-write under ShareTag.
	// ShareRoot is created if missing.
	DirectoryShare bool
	ShareRoot      string

	// DiskPath attaches an existing image as a read-only block device.
	DiskPath string
}

// Planner builds device sets checked against the driver's resource bounds.
type Planner struct {
	Bounds hypervisor.ResourceBounds
}

// NewPlanner returns a planner for the given driver capabilities.
func NewPlanner(caps hypervisor.Capabilities) *Planner {
	return &Planner{Bounds: caps.Bounds}
}

// Plan validates req and returns the device set in a stable order:
// network, console, directory share, disk.
func (p *Planner) Plan(req Request) (hypervisor.DeviceSet, error) {
	if err := p.checkResources(req.Resources); err != nil {
		return hypervisor.DeviceSet{}, err
	}

	var set hypervisor.DeviceSet

	if req.Network {
		if req.MACAddress != "" {
			if _, err := net.ParseMAC(req.MACAddress); err != nil {
				return hypervisor.DeviceSet{}, fmt.Errorf("%w: MAC address: %w", ErrInvalidDevice, err)
			}
		}
		set.Devices = append(set.Devices, hypervisor.Device{
			Kind:       hypervisor.DeviceNetwork,
			MACAddress: req.MACAddress,
		})
	}

	if req.Console {
		switch req.ConsoleMode {
		case hypervisor.ConsolePipe, hypervisor.ConsoleStdio:
		default:
			return hypervisor.DeviceSet{}, fmt.Errorf("%w: console mode %d", ErrInvalidDevice, req.ConsoleMode)
		}
		set.Devices = append(set.Devices, hypervisor.Device{
			Kind:    hypervisor.DeviceConsole,
			Console: req.ConsoleMode,
			Primary: true,
		})
	}

	if req.DirectoryShare {
		if req.ShareRoot == "" {
			return hypervisor.DeviceSet{}, fmt.Errorf("%w: no share root given", ErrSharePathUncreatable)
		}
		if err := os.MkdirAll(req.ShareRoot, 0755); err != nil {
			return hypervisor.DeviceSet{}, fmt.Errorf("%w: %w", ErrSharePathUncreatable, err)
		}
		set.Devices = append(set.Devices, hypervisor.Device{
			Kind:      hypervisor.DeviceDirectoryShare,
			ShareTag:  ShareTag,
			SharePath: req.ShareRoot,
		})
	}

	if req.DiskPath != "" {
		if err := boot.CheckArtifact(req.DiskPath); err != nil {
			return hypervisor.DeviceSet{}, fmt.Errorf("disk: %w", err)
		}
		set.Devices = append(set.Devices, hypervisor.Device{
			Kind:     hypervisor.DeviceDisk,
			DiskPath: req.DiskPath,
			ReadOnly: true,
		})
	}

	return set, nil
}

func (p *Planner) checkResources(r hypervisor.Resources) error {
	if r.CPUs == 0 || r.MemoryBytes == 0 {
		return fmt.Errorf("%w: cpus=%d memory=%d must be positive", ErrResourceLimitsInvalid, r.CPUs, r.MemoryBytes)
	}
	if !p.Bounds.Contains(r) {
		return fmt.Errorf("%w: cpus=%d memory=%d outside hypervisor bounds %+v",
			ErrResourceLimitsInvalid, r.CPUs, r.MemoryBytes, p.Bounds)
	}
	return nil
}
