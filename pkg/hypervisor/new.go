package hypervisor

import "runtime"

// SupportedPlatform returns true if the current platform has a hypervisor driver.
func SupportedPlatform() bool {
	return runtime.GOOS == "darwin"
}

// NewDriver creates a new hypervisor driver for the current platform.
// It is implemented in driver_darwin.go and driver_stub.go.
