package config

import (
	"fmt"
	"strings"

	"github.com/javanstorm/kitvm/pkg/hypervisor"
	"github.com/sirupsen/logrus"
)

// ValidationError represents a configuration issue.
type ValidationError struct {
	Field   string
	Message string
	Fatal   bool // true = can't proceed, false = will be ignored
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig checks configuration against platform capabilities.
// Returns a list of validation errors/warnings.
func ValidateConfig(cfg *Config, caps hypervisor.Capabilities) []ValidationError {
	var errs []ValidationError

	switch cfg.Console {
	case ConsolePipe, ConsoleStdio, ConsoleNone:
	default:
		errs = append(errs, ValidationError{
			Field:   "console",
			Message: fmt.Sprintf("unknown console mode %q (want pipe, stdio or none)", cfg.Console),
			Fatal:   true,
		})
	}

	if cfg.CPUs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "cpus",
			Message: fmt.Sprintf("must be positive, got %d", cfg.CPUs),
			Fatal:   true,
		})
	}
	if cfg.MemoryMB <= 0 {
		errs = append(errs, ValidationError{
			Field:   "memory_mb",
			Message: fmt.Sprintf("must be positive, got %d", cfg.MemoryMB),
			Fatal:   true,
		})
	}

	switch cfg.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("unknown format %q (want text or json)", cfg.LogFormat),
			Fatal:   true,
		})
	}

	if cfg.Share && !caps.SharedDirs {
		errs = append(errs, ValidationError{
			Field:   "share",
			Message: "shared directories not supported by this hypervisor",
		})
	}

	if cfg.EnableNetwork && !caps.Networking {
		errs = append(errs, ValidationError{
			Field:   "enable_network",
			Message: "networking not supported by this hypervisor",
		})
	}

	if (cfg.Console == ConsoleStdio || cfg.Console == ConsoleNone) && cfg.EnableNetwork {
		errs = append(errs, ValidationError{
			Field:   "console",
			Message: "lease detection needs the pipe console; the IP address will not be reported",
		})
	}

	return errs
}

// Fatal returns the first fatal issue, or nil.
func Fatal(errs []ValidationError) error {
	for _, e := range errs {
		if e.Fatal {
			return e
		}
	}
	return nil
}

// LogWarnings logs every non-fatal issue as a warning.
func LogWarnings(log *logrus.Entry, errs []ValidationError) {
	for _, e := range errs {
		if !e.Fatal {
			log.WithField("field", e.Field).Warn(e.Message)
		}
	}
}

// FormatValidationErrors returns human-readable error summary.
func FormatValidationErrors(errs []ValidationError) string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Configuration warnings:\n")
	for _, e := range errs {
		prefix := "Warning"
		if e.Fatal {
			prefix = "Error"
		}
		fmt.Fprintf(&b, "  %s [%s]: %s\n", prefix, e.Field, e.Message)
	}
	return b.String()
}
