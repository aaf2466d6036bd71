// Package hypervisor is the boundary between kitvm and the host's
// virtualization engine. It defines the VM configuration model and the
// Driver interface implemented per platform.
package hypervisor

import (
	"context"
	"io"
)

// Driver is the main interface for hypervisor operations.
// A Driver instance manages exactly one VM and is owned by one caller.
type Driver interface {
	Lifecycle
	Info() Info
	// Capabilities returns what features the driver supports.
	Capabilities() Capabilities
	// Console returns VM console I/O handles when the console is pipe
	// backed. Only valid after Create().
	Console() (in io.Writer, out io.Reader, err error)
	// CloseConsole closes the host side of the console pipes.
	// Safe to call multiple times.
	CloseConsole() error
}

// Lifecycle defines the VM lifecycle operations used by kitvm.
type Lifecycle interface {
	// Validate checks cfg against the hypervisor. Errors wrap ErrValidation.
	Validate(ctx context.Context, cfg *VMConfig) error

	// Create initializes VM resources without starting.
	Create(ctx context.Context, cfg *VMConfig) error

	// Start requests the VM to boot and returns immediately. onComplete is
	// called exactly once, from another goroutine, with nil on success or
	// the start failure.
	Start(ctx context.Context, onComplete func(error))

	// Exited returns a channel that receives once when the VM leaves the
	// running state: nil for a clean stop, an error otherwise.
	Exited() <-chan error

	// State returns the current machine state.
	State() MachineState
}

// MachineState is the state reported by the hypervisor.
type MachineState int

const (
	MachineStopped MachineState = iota
	MachineCreated
	MachineStarting
	MachineRunning
	MachineStopping
	MachineError
)

func (s MachineState) String() string {
	switch s {
	case MachineStopped:
		return "stopped"
	case MachineCreated:
		return "created"
	case MachineStarting:
		return "starting"
	case MachineRunning:
		return "running"
	case MachineStopping:
		return "stopping"
	case MachineError:
		return "error"
	default:
		return "unknown"
	}
}

// Capabilities describes driver feature support.
// Used for early validation before VM configuration.
type Capabilities struct {
	SharedDirs bool // virtio-fs
	Networking bool // virtio-net with NAT
	Bounds     ResourceBounds
}

// Info contains driver metadata.
type Info struct {
	Name    string // "vz"
	Version string // Driver version
	Arch    string // "arm64" or "amd64"
}
