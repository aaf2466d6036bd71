package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/javanstorm/kitvm/internal/boot"
	"github.com/javanstorm/kitvm/internal/config"
	"github.com/javanstorm/kitvm/internal/devices"
	"github.com/javanstorm/kitvm/internal/gui"
	"github.com/javanstorm/kitvm/internal/logging"
	"github.com/javanstorm/kitvm/internal/metrics"
	"github.com/javanstorm/kitvm/internal/terminal"
	"github.com/javanstorm/kitvm/internal/timing"
	"github.com/javanstorm/kitvm/internal/vm"
	"github.com/javanstorm/kitvm/pkg/hypervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// stopTimeout bounds how long shutdown waits for the guest to stop.
const stopTimeout = 10 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Boot the guest and report its IP address",
	Long: `Boot the guest from the configured kernel, initrd and command line.

kitvm collects the guest console, prints the address the guest leases over
NAT and runs until the guest powers off or kitvm is interrupted.

Examples:
  kitvm start
  kitvm start --cpus 4 --memory 2048
  kitvm start --cmdline "console=hvc0 quiet" --attach
  kitvm start --gui`,
	RunE: runStart,
}

var (
	startNoNetwork bool
	startAttach    bool
	startGUI       bool
)

func init() {
	f := startCmd.Flags()
	f.String("kernel", "", "Path to the guest kernel (default: ~/.kitvm/linuxkit-kernel)")
	f.String("initrd", "", "Path to the initial ramdisk (default: ~/.kitvm/linuxkit-initrd.img)")
	f.String("cmdline", "", "Kernel command line; wins over --cmdline-file")
	f.String("cmdline-file", "", "File holding the kernel command line (default: ~/.kitvm/linuxkit-cmdline)")
	f.Int("cpus", 2, "Number of virtual CPUs")
	f.Int("memory", 4096, "Memory in MB")
	f.String("console", config.ConsolePipe, "Console mode: pipe, stdio or none")
	f.Bool("share", true, "Share a host directory with the guest over virtio-fs")
	f.String("share-dir", "", "Host directory to share (default: ~/.kitvm/share)")
	f.String("mac", "", "MAC address of the NAT interface (default: random)")
	f.String("disk", "", "Raw disk image attached read-only")
	f.Duration("poll-interval", time.Second, "Lease check interval without new console output")
	f.Int("log-limit", 0, "Maximum console bytes kept in memory (0 = unbounded)")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9273")
	f.BoolVar(&startNoNetwork, "no-network", false, "Do not attach a NAT network interface")
	f.BoolVar(&startAttach, "attach", false, "Forward terminal input to the guest console (Ctrl+] twice to detach)")
	f.BoolVar(&startGUI, "gui", false, "Show the status window")
}

func runStart(cmd *cobra.Command, args []string) error {
	if startNoNetwork {
		cfg.EnableNetwork = false
	}
	if startAttach && cfg.Console != config.ConsolePipe {
		return fmt.Errorf("--attach needs the pipe console, got %q", cfg.Console)
	}

	driver, err := hypervisor.NewDriver()
	if err != nil {
		return err
	}

	log := logging.ForRun(logger, "cli")

	issues := config.ValidateConfig(cfg, driver.Capabilities())
	if err := config.Fatal(issues); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	config.LogWarnings(log, issues)

	m, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	opts, err := orchestratorOptions(cfg)
	if err != nil {
		return err
	}
	opts.Logger = log
	opts.Metrics = m
	opts.Timer = timing.New()
	if startAttach {
		opts.ConsoleTee = cmd.OutOrStdout()
	}
	var guiConsole io.ReadCloser
	if startGUI && cfg.Console == config.ConsolePipe {
		pr, pw := io.Pipe()
		guiConsole = pr
		opts.ConsoleTee = teeTo(opts.ConsoleTee, pw)
	}
	orch := vm.New(driver, opts)

	info := orch.DriverInfo()
	log.WithFields(logrus.Fields{
		"hypervisor": info.Name,
		"version":    info.Version,
		"arch":       info.Arch,
	}).Debug("Using hypervisor")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	if cfg.MetricsAddr != "" {
		serveMetrics(gctx, g, cfg.MetricsAddr, log)
	}

	started := make(chan struct{})
	startVM := func() error {
		if err := orch.Start(gctx); err != nil {
			return err
		}
		close(started)
		return nil
	}

	g.Go(func() error {
		defer cancel()
		if !startGUI {
			if err := startVM(); err != nil {
				return err
			}
		}
		return supervise(gctx, orch, log, cmd.OutOrStdout())
	})

	if startAttach {
		g.Go(func() error {
			select {
			case <-started:
			case <-gctx.Done():
				return nil
			}
			return attach(gctx, cmd, orch, log)
		})
	}

	if startGUI {
		gui.Run(gctx, orch, "kitvm", startVM, guiConsole, cancel)
		cancel()
	}

	err = g.Wait()
	if timing.Enabled() {
		orch.Timer().Report(cmd.ErrOrStderr())
	}
	return err
}

// teeTo appends w to an optional existing console tee.
func teeTo(existing, w io.Writer) io.Writer {
	if existing == nil {
		return w
	}
	return io.MultiWriter(existing, w)
}

// orchestratorOptions maps configuration onto orchestrator options.
func orchestratorOptions(c *config.Config) (vm.Options, error) {
	mode, err := hypervisor.ParseConsoleMode(c.Console)
	if c.Console == config.ConsoleNone {
		mode, err = hypervisor.ConsolePipe, nil
	}
	if err != nil {
		return vm.Options{}, err
	}

	src := boot.File(c.CmdlineFile)
	if c.Cmdline != "" {
		src = boot.Literal(c.Cmdline)
	}

	return vm.Options{
		KernelPath:  c.Kernel,
		InitrdPath:  c.Initrd,
		CommandLine: src,
		Devices: devices.Request{
			Resources: hypervisor.Resources{
				CPUs:        uint(max(c.CPUs, 0)),
				MemoryBytes: uint64(max(c.MemoryMB, 0)) << 20,
			},
			Network:        c.EnableNetwork,
			MACAddress:     c.MACAddress,
			Console:        c.Console != config.ConsoleNone,
			ConsoleMode:    mode,
			DirectoryShare: c.Share,
			ShareRoot:      c.ShareDir,
			DiskPath:       c.Disk,
		},
		PollInterval: c.PollInterval,
		LogLimit:     c.LogLimit,
	}, nil
}

// supervise reports the guest address and returns once the VM has stopped.
// When ctx ends first it waits up to stopTimeout for the guest to stop.
func supervise(ctx context.Context, orch *vm.Orchestrator, log *logrus.Entry, out io.Writer) error {
	reported := false
	for {
		updated := orch.Updated()
		st := orch.Status()

		if st.IP != "" && !reported {
			reported = true
			fmt.Fprintf(out, "%s: %s\n", gui.IPLabel, st.IP)
		}
		if st.State.Terminal() {
			return orch.Wait(context.Background())
		}

		select {
		case <-updated:
		case <-ctx.Done():
			if orch.State() == vm.StateNotStarted {
				return nil
			}
			log.Info("Stopping VM...")
			waitCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := orch.Wait(waitCtx); err != nil {
				return fmt.Errorf("stop VM: %w", err)
			}
			return nil
		}
	}
}

// attach forwards terminal input to the guest console until the escape
// sequence, the end of input or ctx.
func attach(ctx context.Context, cmd *cobra.Command, orch *vm.Orchestrator, log *logrus.Entry) error {
	in, err := orch.ConsoleInput()
	if err != nil {
		return err
	}

	con := terminal.Current()
	if !terminal.IsTTY() {
		con = terminal.New(cmd.InOrStdin(), cmd.OutOrStdout())
	}

	err = con.Attach(ctx, in, nil)
	switch {
	case errors.Is(err, terminal.ErrEscapeSequence):
		log.Info("Detached from console; the VM keeps running until interrupted")
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}

// serveMetrics runs the Prometheus endpoint in g until ctx ends.
func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, log *logrus.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		log.WithField("addr", addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
