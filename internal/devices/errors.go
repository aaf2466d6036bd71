package devices

import "errors"

var (
	ErrResourceLimitsInvalid = errors.New("devices: resource limits invalid")
	ErrSharePathUncreatable  = errors.New("devices: share path cannot be created")
	ErrInvalidDevice         = errors.New("devices: invalid device settings")
)
