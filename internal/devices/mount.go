package devices

import (
	"fmt"
	"strings"
)

// DefaultMountPoint is where the guest is told to mount the share.
const DefaultMountPoint = "/mnt/kitvm"

// MountCommand returns a one-line guest shell command that mounts the
// directory share at mountPoint.
func MountCommand(mountPoint string) string {
	mp := quotePath(mountPoint)
	return fmt.Sprintf("mkdir -p %s && mount -t virtiofs %s %s", mp, ShareTag, mp)
}

// MountScript returns a guest shell script that checks for virtio-fs
// support before mounting the share at mountPoint.
func MountScript(mountPoint string) string {
	mp := quotePath(mountPoint)

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("set -e\n\n")
	b.WriteString("if ! grep -q virtiofs /proc/filesystems; then\n")
	b.WriteString("  echo \"virtiofs is not supported by this kernel\" >&2\n")
	b.WriteString("  exit 1\n")
	b.WriteString("fi\n\n")
	fmt.Fprintf(&b, "# Mount %s\n", ShareTag)
	fmt.Fprintf(&b, "mkdir -p %s\n", mp)
	fmt.Fprintf(&b, "if mount -t virtiofs %s %s; then\n", ShareTag, mp)
	fmt.Fprintf(&b, "  echo \"Mounted %s at %s\"\n", ShareTag, strings.ReplaceAll(mp, "\"", "\\\""))
	b.WriteString("else\n")
	fmt.Fprintf(&b, "  echo \"Failed to mount %s\" >&2\n", ShareTag)
	b.WriteString("  exit 1\n")
	b.WriteString("fi\n")
	return b.String()
}

// quotePath single-quotes p for the shell when it contains anything beyond
// plain path characters.
func quotePath(p string) string {
	if !strings.ContainsAny(p, " \t\n'\"$`\\!*?[]{}();&|<>#~") {
		return p
	}
	return "'" + strings.ReplaceAll(p, "'", `'"'"'`) + "'"
}
