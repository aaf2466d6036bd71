package timing

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestTimerMark(t *testing.T) {
	timer := New()

	time.Sleep(10 * time.Millisecond)
	timer.Mark("config")

	time.Sleep(15 * time.Millisecond)
	timer.Mark("validate")

	phases := timer.Phases()
	if len(phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(phases))
	}

	if phases[0].Name != "config" {
		t.Errorf("expected config, got %s", phases[0].Name)
	}
	if phases[0].Duration < 10*time.Millisecond {
		t.Errorf("config duration too short: %v", phases[0].Duration)
	}

	if phases[1].Name != "validate" {
		t.Errorf("expected validate, got %s", phases[1].Name)
	}
	if phases[1].Duration < 15*time.Millisecond {
		t.Errorf("validate duration too short: %v", phases[1].Duration)
	}
}

func TestTimerConcurrentMarks(t *testing.T) {
	timer := New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			timer.Mark("lease")
		}()
	}
	wg.Wait()

	phases := timer.Phases()
	if len(phases) != 10 {
		t.Fatalf("expected 10 phases, got %d", len(phases))
	}

	var sum time.Duration
	for _, p := range phases {
		if p.Duration < 0 {
			t.Errorf("negative phase duration: %v", p.Duration)
		}
		sum += p.Duration
	}
	if sum > timer.Total() {
		t.Errorf("phase sum %v exceeds total %v", sum, timer.Total())
	}
}

func TestNilTimerIgnoresMarks(t *testing.T) {
	var timer *Timer
	timer.Mark("config") // must not panic
}

func TestTimerPhasesIsACopy(t *testing.T) {
	timer := New()
	timer.Mark("config")

	phases := timer.Phases()
	phases[0].Name = "changed"

	if got := timer.Phases()[0].Name; got != "config" {
		t.Errorf("Phases() exposed internal state, got %q", got)
	}
}

func TestTimerReport(t *testing.T) {
	timer := New()

	time.Sleep(10 * time.Millisecond)
	timer.Mark("create")

	time.Sleep(10 * time.Millisecond)
	timer.Mark("running")

	var buf bytes.Buffer
	timer.Report(&buf)

	output := buf.String()

	if !strings.Contains(output, "Start Timing") {
		t.Error("report missing header")
	}
	if !strings.Contains(output, "create:") {
		t.Error("report missing create phase")
	}
	if !strings.Contains(output, "running:") {
		t.Error("report missing running phase")
	}
	if !strings.Contains(output, "TOTAL:") {
		t.Error("report missing total")
	}
}

func TestTimerEmpty(t *testing.T) {
	timer := New()

	if phases := timer.Phases(); len(phases) != 0 {
		t.Errorf("expected 0 phases, got %d", len(phases))
	}

	var buf bytes.Buffer
	timer.Report(&buf)
	if !strings.Contains(buf.String(), "TOTAL:") {
		t.Error("empty report should still have total")
	}
}

func TestEnabled(t *testing.T) {
	t.Setenv(EnvVar, "1")
	if !Enabled() {
		t.Error("Enabled() = false with KITVM_TIMING=1")
	}

	t.Setenv(EnvVar, "")
	if Enabled() {
		t.Error("Enabled() = true with KITVM_TIMING unset")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{500 * time.Microsecond, "500µs"},
		{50 * time.Millisecond, "50ms"},
		{1500 * time.Millisecond, "1.50s"},
		{2 * time.Second, "2.00s"},
	}

	for _, tt := range tests {
		result := formatDuration(tt.d)
		if result != tt.expected {
			t.Errorf("formatDuration(%v) = %s, expected %s", tt.d, result, tt.expected)
		}
	}
}
