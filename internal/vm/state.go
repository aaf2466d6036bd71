package vm

import (
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("vm: already started")

// State represents the VM lifecycle state.
type State int

const (
	StateNotStarted State = iota
	StateStarting         // Configured, waiting for the hypervisor
	StateRunning          // Hypervisor reported a successful start
	StateStopped          // Clean shutdown
	StateFailed           // Configuration, start or runtime failure
)

// States lists every state in declaration order.
var States = []State{StateNotStarted, StateStarting, StateRunning, StateStopped, StateFailed}

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// Phase names the step of the start sequence that failed.
type Phase string

const (
	PhaseConfig   Phase = "config"
	PhaseValidate Phase = "validate"
	PhaseCreate   Phase = "create"
	PhaseRuntime  Phase = "runtime"
)

// StartError is the failure reason of a start attempt.
type StartError struct {
	Phase Phase
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("vm: %s: %v", e.Phase, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// Is matches any *StartError of the same phase, so callers can write
// errors.Is(err, &vm.StartError{Phase: vm.PhaseValidate}).
func (e *StartError) Is(target error) bool {
	t, ok := target.(*StartError)
	return ok && t.Phase == e.Phase
}

// Status is a consistent snapshot of everything the orchestrator exposes.
type Status struct {
	State State
	Log   string
	// IP is empty until a lease is seen, and never cleared afterwards.
	IP  string
	Err error

	// Machine is the hypervisor's own state, empty before Start.
	Machine string

	StartedAt time.Time
	RunningAt time.Time
	LeasedAt  time.Time
}

// Running is the flag the front-end shows.
func (s Status) Running() bool {
	return s.State == StateRunning
}
