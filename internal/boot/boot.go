// Package boot builds the guest boot configuration from kernel, initrd and
// command line artifacts.
package boot

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/javanstorm/kitvm/pkg/hypervisor"
)

// Kernel command line values that route the guest console. The value must
// match the console device attached to the VM or console output is lost.
const (
	// CmdlineVirtioConsole routes the console to the virtio console (hvc0),
	// which is what both console transports attach.
	CmdlineVirtioConsole = "console=hvc0"

	// CmdlineSerialConsole routes the console to the first UART.
	CmdlineSerialConsole = "console=ttyS0"
)

// CommandLineSource is where the kernel command line comes from: a literal
// string or a file read verbatim.
type CommandLineSource struct {
	literal string
	path    string
	isFile  bool
}

// Literal returns a source that uses s as-is.
func Literal(s string) CommandLineSource {
	return CommandLineSource{literal: s}
}

// File returns a source that reads the command line from path.
func File(path string) CommandLineSource {
	return CommandLineSource{path: path, isFile: true}
}

// IsFile reports whether the source reads from a file.
func (s CommandLineSource) IsFile() bool {
	return s.isFile
}

func (s CommandLineSource) String() string {
	if s.isFile {
		return "file:" + s.path
	}
	return "literal:" + s.literal
}

// Resolve returns the command line text.
func (s CommandLineSource) Resolve() (string, error) {
	if !s.isFile {
		if s.literal == "" {
			return "", fmt.Errorf("%w: empty command line", ErrCommandLineUnreadable)
		}
		return s.literal, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCommandLineUnreadable, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrCommandLineUnreadable, s.path)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrCommandLineUnreadable, s.path)
	}
	return string(data), nil
}

// Build validates the artifacts and returns the boot specification.
// It reads the command line file, if any, and has no other side effects.
func Build(kernelPath, initrdPath string, src CommandLineSource) (hypervisor.BootSpec, error) {
	if err := CheckArtifact(kernelPath); err != nil {
		return hypervisor.BootSpec{}, fmt.Errorf("kernel: %w", err)
	}
	if err := CheckArtifact(initrdPath); err != nil {
		return hypervisor.BootSpec{}, fmt.Errorf("initrd: %w", err)
	}

	cmdline, err := src.Resolve()
	if err != nil {
		return hypervisor.BootSpec{}, err
	}

	return hypervisor.BootSpec{
		KernelPath:  kernelPath,
		InitrdPath:  initrdPath,
		CommandLine: cmdline,
	}, nil
}

// CheckArtifact verifies that path names an existing, readable regular file.
func CheckArtifact(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no path given", ErrArtifactNotFound)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArtifactNotFound, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrArtifactNotFound, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArtifactNotFound, err)
	}
	return f.Close()
}

// ConsoleArgMatches reports whether cmdline routes a console to the virtio
// console device.
func ConsoleArgMatches(cmdline string) bool {
	for _, field := range strings.Fields(cmdline) {
		if field == CmdlineVirtioConsole || strings.HasPrefix(field, CmdlineVirtioConsole+",") {
			return true
		}
	}
	return false
}
