// Package cli provides the command-line interface for kitvm.
package cli

import (
	"fmt"

	"github.com/javanstorm/kitvm/internal/config"
	"github.com/javanstorm/kitvm/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configFile string

	// Set by PersistentPreRunE for commands that need configuration.
	loader *config.Loader
	cfg    *config.Config
	logger *logrus.Logger
)

// flagKeys maps command-line flags to configuration keys. Flags are bound
// only on the commands that define them.
var flagKeys = map[string]string{
	"log-level":     "log_level",
	"log-format":    "log_format",
	"kernel":        "kernel",
	"initrd":        "initrd",
	"cmdline":       "cmdline",
	"cmdline-file":  "cmdline_file",
	"cpus":          "cpus",
	"memory":        "memory_mb",
	"console":       "console",
	"share":         "share",
	"share-dir":     "share_dir",
	"mac":           "mac_address",
	"disk":          "disk",
	"poll-interval": "poll_interval",
	"log-limit":     "log_limit",
	"metrics-addr":  "metrics_addr",
}

var rootCmd = &cobra.Command{
	Use:   "kitvm",
	Short: "kitvm - boot a LinuxKit guest and report its address",
	Long: `kitvm boots a Linux guest from a kernel, initrd and command line on the
host hypervisor, collects its console output and reports the IP address the
guest leases over NAT.

Configuration is read from config.yaml in ~/.kitvm or the platform config
directory, then KITVM_* environment variables, then flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it
		switch cmd.Name() {
		case "version", "completion", "lease", "help":
			return nil
		}
		return loadConfig(cmd)
	},
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: config.yaml in ~/.kitvm)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text or json)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(leaseCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(mountCmd)
}

func loadConfig(cmd *cobra.Command) error {
	paths, err := config.GetPaths()
	if err != nil {
		return err
	}

	l := config.NewLoader(paths)
	if configFile != "" {
		l.SetConfigFile(configFile)
	}
	if err := bindFlags(l, cmd); err != nil {
		return err
	}

	c, err := l.Load()
	if err != nil {
		return err
	}

	lg, err := logging.Setup(logging.Options{
		Level:  c.LogLevel,
		JSON:   c.LogFormat == "json",
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	loader, cfg, logger = l, c, lg
	return nil
}

// bindFlags binds every flag of cmd listed in flagKeys.
func bindFlags(l *config.Loader, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := l.BindFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}
