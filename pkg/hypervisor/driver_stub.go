//go:build !darwin

package hypervisor

// NewDriver returns an error on platforms without a supported hypervisor.
func NewDriver() (Driver, error) {
	return nil, ErrUnsupportedPlatform
}
