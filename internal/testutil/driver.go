package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/javanstorm/kitvm/pkg/hypervisor"
)

// FakeDriver is an in-memory hypervisor.Driver. The console is backed by
// real pipes so collectors see the same EOF behaviour as with the vz driver.
type FakeDriver struct {
	// ValidateErr, CreateErr and StartErr are returned by the matching
	// operation when set. StartErr is delivered through onComplete.
	ValidateErr error
	CreateErr   error
	StartErr    error

	// HoldStart, when non-nil, delays the start completion until it is
	// closed (or the start context is done).
	HoldStart chan struct{}

	Caps hypervisor.Capabilities

	mu        sync.Mutex
	cfg       *hypervisor.VMConfig
	state     hypervisor.MachineState
	validated int
	created   int
	started   int

	exited   chan error
	stopped  chan struct{}
	exitOnce sync.Once

	hostIn   *os.File // host writes guest input here
	guestIn  *os.File
	hostOut  *os.File // host reads guest output here
	guestOut *os.File
}

var _ hypervisor.Driver = (*FakeDriver)(nil)

// NewFakeDriver returns a driver that supports every feature with
// permissive resource bounds.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		Caps: hypervisor.Capabilities{
			SharedDirs: true,
			Networking: true,
			Bounds: hypervisor.ResourceBounds{
				MinCPUs:   1,
				MaxCPUs:   8,
				MinMemory: hypervisor.MinMemoryBytes,
				MaxMemory: 8 << 30,
			},
		},
		exited:  make(chan error, 1),
		stopped: make(chan struct{}),
	}
}

func (f *FakeDriver) Info() hypervisor.Info {
	return hypervisor.Info{Name: "fake", Version: "test", Arch: "none"}
}

func (f *FakeDriver) Capabilities() hypervisor.Capabilities {
	return f.Caps
}

func (f *FakeDriver) Validate(_ context.Context, cfg *hypervisor.VMConfig) error {
	f.mu.Lock()
	f.validated++
	f.mu.Unlock()

	if f.ValidateErr != nil {
		return fmt.Errorf("%w: %w", hypervisor.ErrValidation, f.ValidateErr)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", hypervisor.ErrValidation, err)
	}
	return nil
}

func (f *FakeDriver) Create(_ context.Context, cfg *hypervisor.VMConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.created++
	if f.CreateErr != nil {
		return f.CreateErr
	}

	if dev, ok := cfg.Devices.Console(); ok && dev.Console == hypervisor.ConsolePipe {
		var err error
		f.guestIn, f.hostIn, err = os.Pipe()
		if err != nil {
			return err
		}
		f.hostOut, f.guestOut, err = os.Pipe()
		if err != nil {
			_ = f.guestIn.Close()
			_ = f.hostIn.Close()
			return err
		}
	}

	f.cfg = cfg
	f.state = hypervisor.MachineCreated
	return nil
}

func (f *FakeDriver) Start(ctx context.Context, onComplete func(error)) {
	f.mu.Lock()
	f.started++
	if f.state != hypervisor.MachineCreated {
		f.mu.Unlock()
		go onComplete(hypervisor.ErrNotCreated)
		return
	}
	f.state = hypervisor.MachineStarting
	f.mu.Unlock()

	go func() {
		if f.HoldStart != nil {
			select {
			case <-f.HoldStart:
			case <-ctx.Done():
				f.setState(hypervisor.MachineStopped)
				f.closeGuest()
				onComplete(fmt.Errorf("%w: %w", hypervisor.ErrStartFailed, ctx.Err()))
				return
			}
		}

		if f.StartErr != nil {
			f.setState(hypervisor.MachineStopped)
			f.closeGuest()
			onComplete(fmt.Errorf("%w: %w", hypervisor.ErrStartFailed, f.StartErr))
			return
		}

		f.setState(hypervisor.MachineRunning)
		go f.watch(ctx)
		onComplete(nil)
	}()
}

// watch stops the machine when the start context is cancelled.
func (f *FakeDriver) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		f.Exit(nil)
	case <-f.stopped:
	}
}

// Exit simulates the guest leaving the running state. A nil err is a clean
// stop. Only the first call has an effect.
func (f *FakeDriver) Exit(err error) {
	f.exitOnce.Do(func() {
		if err != nil {
			f.setState(hypervisor.MachineError)
		} else {
			f.setState(hypervisor.MachineStopped)
		}
		f.closeGuest()
		close(f.stopped)
		f.exited <- err
	})
}

// Emit writes text to the console as if the guest printed it.
func (f *FakeDriver) Emit(text string) error {
	return f.EmitBytes([]byte(text))
}

// EmitBytes writes raw bytes to the console.
func (f *FakeDriver) EmitBytes(p []byte) error {
	f.mu.Lock()
	w := f.guestOut
	f.mu.Unlock()

	if w == nil {
		return hypervisor.ErrConsoleNotPiped
	}
	_, err := w.Write(p)
	return err
}

// GuestInput returns the reader on which the guest receives console input.
func (f *FakeDriver) GuestInput() io.Reader {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.guestIn
}

func (f *FakeDriver) Exited() <-chan error {
	return f.exited
}

func (f *FakeDriver) State() hypervisor.MachineState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FakeDriver) Console() (io.Writer, io.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.hostIn == nil || f.hostOut == nil {
		return nil, nil, hypervisor.ErrConsoleNotPiped
	}
	return f.hostIn, f.hostOut, nil
}

func (f *FakeDriver) CloseConsole() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for _, file := range []*os.File{f.hostIn, f.hostOut} {
		if file == nil {
			continue
		}
		if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	f.hostIn, f.hostOut = nil, nil
	return errors.Join(errs...)
}

// Config returns the configuration passed to Create.
func (f *FakeDriver) Config() *hypervisor.VMConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

// Calls reports how many times Validate, Create and Start were called.
func (f *FakeDriver) Calls() (validated, created, started int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validated, f.created, f.started
}

func (f *FakeDriver) setState(s hypervisor.MachineState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *FakeDriver) closeGuest() {
	f.mu.Lock()
	files := []*os.File{f.guestIn, f.guestOut}
	f.guestIn, f.guestOut = nil, nil
	f.mu.Unlock()

	for _, file := range files {
		if file != nil {
			_ = file.Close()
		}
	}
}
