package gui

import (
	"errors"
	"testing"

	"github.com/javanstorm/kitvm/internal/vm"
)

func TestIPText(t *testing.T) {
	if got := IPText(""); got != "NAT IP address of the VM: " {
		t.Errorf("IPText(\"\") = %q", got)
	}
	if got := IPText("192.168.64.3"); got != "NAT IP address of the VM: 192.168.64.3" {
		t.Errorf("IPText() = %q", got)
	}
}

func TestStatusText(t *testing.T) {
	tests := []struct {
		status vm.Status
		want   string
	}{
		{vm.Status{State: vm.StateNotStarted}, "VM not started"},
		{vm.Status{State: vm.StateStarting}, "VM starting..."},
		{vm.Status{State: vm.StateRunning}, "VM running"},
		{vm.Status{State: vm.StateStopped}, "VM stopped"},
		{vm.Status{State: vm.StateFailed}, "VM failed"},
		{vm.Status{State: vm.StateFailed, Err: errors.New("boom")}, "VM failed: boom"},
		{vm.Status{State: vm.StateRunning, Machine: "running"}, "VM running (hypervisor: running)"},
		{vm.Status{State: vm.StateNotStarted, Machine: "stopped"}, "VM not started"},
	}

	for _, tt := range tests {
		t.Run(tt.status.State.String(), func(t *testing.T) {
			if got := StatusText(tt.status); got != tt.want {
				t.Errorf("StatusText() = %q, want %q", got, tt.want)
			}
		})
	}
}
