package hypervisor

import (
	"errors"
	"testing"
)

func validConfig() *VMConfig {
	return &VMConfig{
		Boot: BootSpec{
			KernelPath:  "/tmp/kernel",
			InitrdPath:  "/tmp/initrd.img",
			CommandLine: "console=hvc0",
		},
		Devices: DeviceSet{Devices: []Device{
			{Kind: DeviceNetwork},
			{Kind: DeviceConsole, Console: ConsolePipe, Primary: true},
		}},
		Resources: Resources{CPUs: 2, MemoryBytes: 4 << 30},
	}
}

func TestVMConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*VMConfig)
		want   error
	}{
		{"valid", func(*VMConfig) {}, nil},
		{"zero cpus", func(c *VMConfig) { c.Resources.CPUs = 0 }, ErrInvalidCPUCount},
		{"low memory", func(c *VMConfig) { c.Resources.MemoryBytes = 64 << 20 }, ErrInsufficientMemory},
		{"no kernel", func(c *VMConfig) { c.Boot.KernelPath = "" }, ErrMissingKernel},
		{"no cmdline", func(c *VMConfig) { c.Boot.CommandLine = "" }, ErrMissingCommandLine},
		{"two primary consoles", func(c *VMConfig) {
			c.Devices.Devices = append(c.Devices.Devices, Device{Kind: DeviceConsole, Primary: true})
		}, ErrMultiplePrimaryConsoles},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResourceBoundsContains(t *testing.T) {
	bounds := ResourceBounds{MinCPUs: 1, MaxCPUs: 4, MinMemory: 128 << 20, MaxMemory: 8 << 30}

	tests := []struct {
		name string
		res  Resources
		want bool
	}{
		{"inside", Resources{CPUs: 2, MemoryBytes: 1 << 30}, true},
		{"too many cpus", Resources{CPUs: 8, MemoryBytes: 1 << 30}, false},
		{"too little memory", Resources{CPUs: 2, MemoryBytes: 1 << 20}, false},
		{"too much memory", Resources{CPUs: 2, MemoryBytes: 16 << 30}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bounds.Contains(tt.res); got != tt.want {
				t.Errorf("Contains(%+v) = %v, want %v", tt.res, got, tt.want)
			}
		})
	}

	unbounded := ResourceBounds{MinCPUs: 1}
	if !unbounded.Contains(Resources{CPUs: 1024, MemoryBytes: 1 << 40}) {
		t.Error("zero maximum should not limit resources")
	}
}

func TestDeviceSetConsole(t *testing.T) {
	set := validConfig().Devices

	dev, ok := set.Console()
	if !ok {
		t.Fatal("expected a primary console")
	}
	if dev.Console != ConsolePipe {
		t.Errorf("console mode = %s, want pipe", dev.Console)
	}

	if got := len(set.OfKind(DeviceNetwork)); got != 1 {
		t.Errorf("network devices = %d, want 1", got)
	}
	if _, ok := (DeviceSet{}).Console(); ok {
		t.Error("empty set should have no console")
	}
}

func TestParseConsoleMode(t *testing.T) {
	tests := []struct {
		in      string
		want    ConsoleMode
		wantErr bool
	}{
		{"", ConsolePipe, false},
		{"pipe", ConsolePipe, false},
		{"stdio", ConsoleStdio, false},
		{"serial", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseConsoleMode(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidConsoleMode) {
				t.Errorf("ParseConsoleMode(%q) error = %v, want ErrInvalidConsoleMode", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseConsoleMode(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestStringers(t *testing.T) {
	if DeviceDirectoryShare.String() != "directory-share" {
		t.Errorf("DeviceDirectoryShare.String() = %q", DeviceDirectoryShare.String())
	}
	if DeviceKind(42).String() != "unknown" {
		t.Error("unexpected string for unknown device kind")
	}
	if MachineRunning.String() != "running" {
		t.Errorf("MachineRunning.String() = %q", MachineRunning.String())
	}
	if ConsoleStdio.String() != "stdio" {
		t.Errorf("ConsoleStdio.String() = %q", ConsoleStdio.String())
	}
}

func TestNewDriverMatchesSupportedPlatform(t *testing.T) {
	d, err := NewDriver()
	if SupportedPlatform() {
		if err != nil || d == nil {
			t.Fatalf("NewDriver() = %v, %v on a supported platform", d, err)
		}
		return
	}
	if !errors.Is(err, ErrUnsupportedPlatform) {
		t.Errorf("NewDriver() error = %v, want ErrUnsupportedPlatform", err)
	}
}
