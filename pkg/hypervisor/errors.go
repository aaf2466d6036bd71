package hypervisor

import "errors"

// Configuration errors
var (
	ErrInvalidCPUCount         = errors.New("hypervisor: CPU count must be at least 1")
	ErrInsufficientMemory      = errors.New("hypervisor: memory must be at least 128MB")
	ErrMissingKernel           = errors.New("hypervisor: kernel path is required")
	ErrMissingCommandLine      = errors.New("hypervisor: kernel command line is required")
	ErrMultiplePrimaryConsoles = errors.New("hypervisor: at most one primary console is allowed")
	ErrInvalidConsoleMode      = errors.New("hypervisor: console mode must be 'pipe' or 'stdio'")
	ErrValidation              = errors.New("hypervisor: configuration rejected")
)

// Runtime errors
var (
	ErrNotCreated      = errors.New("hypervisor: VM not created")
	ErrAlreadyStarted  = errors.New("hypervisor: VM already started")
	ErrStartFailed     = errors.New("hypervisor: VM failed to start")
	ErrConsoleNotPiped = errors.New("hypervisor: console is not pipe backed")
	ErrGuestError      = errors.New("hypervisor: VM entered error state")
)

// Platform errors
var (
	ErrUnsupportedPlatform = errors.New("hypervisor: platform not supported")
)
