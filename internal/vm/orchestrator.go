package vm

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/javanstorm/kitvm/internal/boot"
	"github.com/javanstorm/kitvm/internal/console"
	"github.com/javanstorm/kitvm/internal/devices"
	"github.com/javanstorm/kitvm/internal/lease"
	"github.com/javanstorm/kitvm/internal/logging"
	"github.com/javanstorm/kitvm/internal/metrics"
	"github.com/javanstorm/kitvm/internal/timing"
	"github.com/javanstorm/kitvm/pkg/hypervisor"
	"github.com/sirupsen/logrus"
)

// Options configures an Orchestrator.
type Options struct {
	// KernelPath and InitrdPath locate the boot artifacts.
	KernelPath string
	InitrdPath string

	// CommandLine is the kernel command line, literal or read from a file.
	CommandLine boot.CommandLineSource

	// Devices is the device request passed to the planner.
	Devices devices.Request

	// PollInterval is the lease check interval when no new console output
	// arrives. Defaults to lease.DefaultInterval.
	PollInterval time.Duration

	// LogLimit caps the retained console text in bytes; 0 keeps it all.
	LogLimit int

	// ConsoleTee receives raw console bytes as they are read.
	ConsoleTee io.Writer

	Logger  *logrus.Entry
	Metrics *metrics.Metrics
	Timer   *timing.Timer
}

// Orchestrator owns one start attempt of one VM. All state is guarded by a
// single mutex; accessors return snapshots and never block on the
// hypervisor.
type Orchestrator struct {
	driver  hypervisor.Driver
	opts    Options
	log     *logrus.Entry
	metrics *metrics.Metrics
	timer   *timing.Timer
	runID   string
	console *console.Log

	// wg tracks the collector, poller and exit watcher goroutines.
	wg       sync.WaitGroup
	finished chan struct{}

	mu        sync.Mutex
	started   bool
	state     State
	history   []State
	err       error
	ip        string
	startedAt time.Time
	runningAt time.Time
	leasedAt  time.Time
	updated   chan struct{}
	consoleIn io.Writer
	collector *console.Collector
}

var stateNames = func() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}()

// New creates an orchestrator in the NotStarted state. It does not touch
// the driver.
func New(driver hypervisor.Driver, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = lease.DefaultInterval
	}

	entry := opts.Logger
	if entry == nil {
		entry = logging.Discard()
	}
	runID, ok := entry.Data["run_id"].(string)
	if !ok || runID == "" {
		runID = uuid.NewString()
		entry = entry.WithField("run_id", runID)
	}

	timer := opts.Timer
	if timer == nil {
		timer = timing.New()
	}

	o := &Orchestrator{
		driver:   driver,
		opts:     opts,
		log:      entry.WithField("component", "vm"),
		metrics:  opts.Metrics,
		timer:    timer,
		runID:    runID,
		console:  console.NewLog(opts.LogLimit),
		finished: make(chan struct{}),
		state:    StateNotStarted,
		history:  []State{StateNotStarted},
		updated:  make(chan struct{}),
	}
	o.metrics.SetState(StateNotStarted.String(), stateNames)
	return o
}

// Start performs the single start attempt. Configuration, validation and
// creation failures move the VM to Failed and are returned as a
// *StartError. Otherwise Start returns once the hypervisor has been asked to
// boot; the outcome is reported through State and Updated.
//
// ctx bounds the VM's lifetime: cancelling it asks the guest to stop.
// Concurrent calls to Start are the caller's responsibility; a second call
// returns ErrAlreadyStarted.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	o.startedAt = time.Now()
	o.mu.Unlock()

	cfg, err := o.configure()
	if err != nil {
		return o.failStart(PhaseConfig, err)
	}
	o.timer.Mark("config")

	if err := o.driver.Validate(ctx, cfg); err != nil {
		return o.failStart(PhaseValidate, err)
	}
	o.timer.Mark("validate")

	if err := o.driver.Create(ctx, cfg); err != nil {
		return o.failStart(PhaseCreate, err)
	}
	o.timer.Mark("create")

	o.transition(StateStarting, nil)

	// Collect from the start so early boot output is kept.
	if dev, ok := cfg.Devices.Console(); ok && dev.Console == hypervisor.ConsolePipe {
		o.startCollector()
	}

	o.driver.Start(ctx, func(err error) {
		o.handleStart(ctx, err)
	})
	return nil
}

func (o *Orchestrator) configure() (*hypervisor.VMConfig, error) {
	spec, err := boot.Build(o.opts.KernelPath, o.opts.InitrdPath, o.opts.CommandLine)
	if err != nil {
		return nil, err
	}

	if o.opts.Devices.Console && !boot.ConsoleArgMatches(spec.CommandLine) {
		o.log.WithField("cmdline", spec.CommandLine).
			Warnf("command line does not route a console to hvc0 (%s); console output may be empty", boot.CmdlineVirtioConsole)
	}

	set, err := devices.NewPlanner(o.driver.Capabilities()).Plan(o.opts.Devices)
	if err != nil {
		return nil, err
	}

	o.log.WithFields(logrus.Fields{
		"kernel":  spec.KernelPath,
		"initrd":  spec.InitrdPath,
		"devices": len(set.Devices),
		"cpus":    o.opts.Devices.Resources.CPUs,
		"memory":  o.opts.Devices.Resources.MemoryBytes,
	}).Debug("configuration built")

	return &hypervisor.VMConfig{
		Boot:      spec,
		Devices:   set,
		Resources: o.opts.Devices.Resources,
	}, nil
}

func (o *Orchestrator) failStart(phase Phase, err error) error {
	serr := &StartError{Phase: phase, Err: err}
	o.metrics.StartFailure(string(phase))
	o.transition(StateFailed, serr)
	return serr
}

func (o *Orchestrator) startCollector() {
	in, out, err := o.driver.Console()
	if err != nil {
		o.log.WithError(err).Warn("console output unavailable")
		return
	}

	c := &console.Collector{
		Reader: out,
		Log:    o.console,
		Tee:    o.opts.ConsoleTee,
		OnChunk: func(n int) {
			o.metrics.ConsoleBytes(n)
			o.notify()
		},
		OnDrop: func(raw []byte) {
			o.metrics.DroppedChunk()
			o.log.WithField("bytes", len(raw)).Debug("dropped malformed console chunk")
		},
	}

	o.mu.Lock()
	o.consoleIn = in
	o.collector = c
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := c.Run(); err != nil {
			o.log.WithError(err).Warn("console collector stopped")
		}
		if err := o.driver.CloseConsole(); err != nil {
			o.log.WithError(err).Debug("close console")
		}
	}()
}

// handleStart is the hypervisor's start completion. It runs exactly once.
func (o *Orchestrator) handleStart(ctx context.Context, err error) {
	if err != nil {
		o.failStart(PhaseRuntime, err)
		return
	}
	o.timer.Mark("running")

	pollCtx, stopPolling := context.WithCancel(ctx)

	o.wg.Add(2)
	o.transition(StateRunning, nil)

	go func() {
		defer o.wg.Done()
		o.pollLease(pollCtx)
	}()
	go func() {
		defer o.wg.Done()
		o.watchExit(stopPolling)
	}()
}

func (o *Orchestrator) pollLease(ctx context.Context) {
	p := &lease.Poller{
		Interval: o.opts.PollInterval,
		Source:   o.console.String,
		Wake:     o.console.Appended,
		OnFound:  o.setIP,
	}
	if _, ok := p.Run(ctx); !ok {
		o.log.Debug("lease polling stopped without an address")
	}
}

func (o *Orchestrator) watchExit(stopPolling context.CancelFunc) {
	err := <-o.driver.Exited()
	stopPolling()

	if err != nil {
		o.transition(StateFailed, fmt.Errorf("vm: guest exited: %w", err))
		return
	}
	o.transition(StateStopped, nil)
}

func (o *Orchestrator) setIP(ip string) {
	o.mu.Lock()
	if o.ip != "" {
		o.mu.Unlock()
		return
	}
	now := time.Now()
	o.ip = ip
	o.leasedAt = now
	elapsed := now.Sub(o.runningAt)
	o.notifyLocked()
	o.mu.Unlock()

	o.metrics.ObserveLease(elapsed)
	o.timer.Mark("lease")
	o.log.WithFields(logrus.Fields{"ip": ip, "after": elapsed}).Info("guest leased address")
}

// transition moves to next unless the current state is terminal. err, if
// set, becomes the failure reason.
func (o *Orchestrator) transition(next State, err error) bool {
	o.mu.Lock()
	prev := o.state
	if prev.Terminal() || prev == next {
		o.mu.Unlock()
		return false
	}
	o.state = next
	o.history = append(o.history, next)
	if err != nil {
		o.err = err
	}
	if next == StateRunning {
		o.runningAt = time.Now()
	}
	if next.Terminal() {
		close(o.finished)
	}
	o.notifyLocked()
	o.mu.Unlock()

	o.metrics.SetState(next.String(), stateNames)

	entry := o.log.WithFields(logrus.Fields{"from": prev.String(), "to": next.String()})
	if err != nil {
		entry.WithError(err).Error("state change")
	} else {
		entry.Info("state change")
	}
	return true
}

func (o *Orchestrator) notify() {
	o.mu.Lock()
	o.notifyLocked()
	o.mu.Unlock()
}

func (o *Orchestrator) notifyLocked() {
	close(o.updated)
	o.updated = make(chan struct{})
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns a snapshot of state, console text, IP and failure reason.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()

	// The driver is queried without holding o.mu.
	var machine string
	if started {
		machine = o.driver.State().String()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		State:     o.state,
		Log:       o.console.String(),
		IP:        o.ip,
		Err:       o.err,
		Machine:   machine,
		StartedAt: o.startedAt,
		RunningAt: o.runningAt,
		LeasedAt:  o.leasedAt,
	}
}

// Log returns the console text collected so far.
func (o *Orchestrator) Log() string {
	return o.console.String()
}

// IP returns the leased address, or "" before the lease is seen.
func (o *Orchestrator) IP() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ip
}

// Err returns the failure reason once the VM has failed.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Transitions returns every state entered, in order, starting with
// NotStarted.
func (o *Orchestrator) Transitions() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.history...)
}

// Updated returns a channel closed on the next change of state, console
// text or IP. Call it again after each wake.
func (o *Orchestrator) Updated() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.updated
}

// Wait blocks until the VM is Stopped or Failed and its console has been
// drained, then returns the failure reason (nil for a clean stop).
func (o *Orchestrator) Wait(ctx context.Context) error {
	select {
	case <-o.finished:
	case <-ctx.Done():
		return ctx.Err()
	}

	drained := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}
	return o.Err()
}

// ConsoleInput returns the writer feeding the guest console. Only
// available for a pipe-backed console after Start.
func (o *Orchestrator) ConsoleInput() (io.Writer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.consoleIn == nil {
		return nil, hypervisor.ErrConsoleNotPiped
	}
	return o.consoleIn, nil
}

// DroppedChunks returns how many console chunks were discarded as
// malformed UTF-8.
func (o *Orchestrator) DroppedChunks() int64 {
	o.mu.Lock()
	c := o.collector
	o.mu.Unlock()
	if c == nil {
		return 0
	}
	return c.DroppedChunks()
}

// RunID identifies this start attempt in logs.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Timer returns the phase timer of the start sequence.
func (o *Orchestrator) Timer() *timing.Timer {
	return o.timer
}

// DriverInfo returns hypervisor driver information.
func (o *Orchestrator) DriverInfo() hypervisor.Info {
	return o.driver.Info()
}
