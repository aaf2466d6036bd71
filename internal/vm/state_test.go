package vm

import (
	"errors"
	"fmt"
	"testing"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  string
	}{
		{"not started", StateNotStarted, "not_started"},
		{"starting", StateStarting, "starting"},
		{"running", StateRunning, "running"},
		{"stopped", StateStopped, "stopped"},
		{"failed", StateFailed, "failed"},
		{"unknown/invalid", State(99), "unknown"},
		{"negative", State(-1), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.state.String()
			if got != tt.want {
				t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
			}
		})
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range States {
		want := s == StateStopped || s == StateFailed
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestStartErrorMatching(t *testing.T) {
	cause := errors.New("bad memory size")
	err := fmt.Errorf("start: %w", &StartError{Phase: PhaseValidate, Err: cause})

	if !errors.Is(err, &StartError{Phase: PhaseValidate}) {
		t.Error("errors.Is should match a StartError of the same phase")
	}
	if errors.Is(err, &StartError{Phase: PhaseRuntime}) {
		t.Error("errors.Is should not match a different phase")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}

	var serr *StartError
	if !errors.As(err, &serr) || serr.Phase != PhaseValidate {
		t.Errorf("errors.As = %v, want phase %q", serr, PhaseValidate)
	}

	want := "vm: validate: bad memory size"
	if serr.Error() != want {
		t.Errorf("Error() = %q, want %q", serr.Error(), want)
	}
}

func TestStatusRunning(t *testing.T) {
	if (Status{State: StateStarting}).Running() {
		t.Error("starting should not report running")
	}
	if !(Status{State: StateRunning}).Running() {
		t.Error("running should report running")
	}
}
