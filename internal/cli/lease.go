package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/javanstorm/kitvm/internal/lease"
	"github.com/spf13/cobra"
)

// errNoLease is returned when a console log holds no lease line.
var errNoLease = errors.New("no lease found")

var leaseCmd = &cobra.Command{
	Use:   "lease [file]",
	Short: "Find the leased IP address in a saved console log",
	Long: `Scan a saved guest console log for the DHCP client's lease line and
print the address. Reads standard input when no file is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLease,
}

func runLease(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	return printLease(in, cmd.OutOrStdout())
}

func printLease(r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read console log: %w", err)
	}
	ip, ok := lease.Extract(string(data))
	if !ok {
		return errNoLease
	}
	_, err = fmt.Fprintln(w, ip)
	return err
}
