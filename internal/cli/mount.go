package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/javanstorm/kitvm/internal/devices"
	"github.com/javanstorm/kitvm/pkg/hypervisor"
	"github.com/spf13/cobra"
)

var (
	mountPoint  string
	mountScript bool
	mountCheck  bool
)

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Show the guest command that mounts the shared directory",
	Long: `Display the shell command that mounts the host share inside the guest.

The output can be copy-pasted into the guest shell or saved as a script.
The share uses virtio-fs under the tag "kitvm" (macOS only).

Examples:
  kitvm mount                       # One-line mount command
  kitvm mount --point /mnt/host     # Mount somewhere else
  kitvm mount --script > mount.sh   # Script with error handling
  kitvm mount --check               # Verify platform capabilities`,
	RunE: runMount,
}

func init() {
	mountCmd.Flags().StringVar(&mountPoint, "point", devices.DefaultMountPoint, "Guest mount point")
	mountCmd.Flags().BoolVar(&mountScript, "script", false, "Print a full script with error handling")
	mountCmd.Flags().BoolVar(&mountCheck, "check", false, "Check platform capabilities for shared directories")
}

func runMount(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if mountCheck {
		return runMountCheck(out)
	}

	if !cfg.Share {
		fmt.Fprintln(out, "# Directory sharing is disabled")
		fmt.Fprintln(out, "# Set 'share: true' in config.yaml or pass --share to 'kitvm start'")
		return nil
	}

	printMount(out, cfg.ShareDir, mountPoint, mountScript)
	return nil
}

func printMount(out io.Writer, shareDir, point string, script bool) {
	if script {
		fmt.Fprint(out, devices.MountScript(point))
		return
	}
	fmt.Fprintf(out, "# Mount %s in your VM:\n", shareDir)
	fmt.Fprintln(out, devices.MountCommand(point))
}

func runMountCheck(out io.Writer) error {
	if !hypervisor.SupportedPlatform() {
		fmt.Fprintf(out, "# Shared directories need macOS Virtualization.framework (running on %s/%s)\n", runtime.GOOS, runtime.GOARCH)
		return hypervisor.ErrUnsupportedPlatform
	}

	driver, err := hypervisor.NewDriver()
	if err != nil {
		return fmt.Errorf("hypervisor not available: %w", err)
	}

	info := driver.Info()
	caps := driver.Capabilities()

	fmt.Fprintln(out, "Platform Capabilities")
	fmt.Fprintln(out, "=====================")
	fmt.Fprintf(out, "  Hypervisor: %s v%s (%s)\n", info.Name, info.Version, info.Arch)
	fmt.Fprintf(out, "  Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Feature Support:")
	fmt.Fprintf(out, "  Shared Directories: %s\n", capabilityStatus(caps.SharedDirs))
	fmt.Fprintf(out, "  Networking: %s\n", capabilityStatus(caps.Networking))
	return nil
}

func capabilityStatus(supported bool) string {
	if supported {
		return "supported"
	}
	return "not available"
}
