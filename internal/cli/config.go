package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print every configuration key with its effective value after the
config file, KITVM_* environment variables and flags are applied.`,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	printSettings(cmd.OutOrStdout(), loader.ConfigFileUsed(), loader.Settings())
	return nil
}

func printSettings(out io.Writer, file string, settings map[string]any) {
	if file == "" {
		file = "(none, using defaults)"
	}
	fmt.Fprintf(out, "Config file: %s\n\n", file)

	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(out, "  %-15s %v\n", k+":", settings[k])
	}
}
