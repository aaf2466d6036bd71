//go:build darwin

package hypervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"sync"

	"github.com/Code-Hex/vz/v3"
)

// vzDriver implements Driver using macOS Virtualization.framework.
type vzDriver struct {
	mu     sync.Mutex
	cfg    *VMConfig
	vm     *vz.VirtualMachine
	state  driverState
	exited chan error

	consoleIn  io.Writer // Write to this to send to VM
	consoleOut io.Reader // Read from this to get VM output
	// Raw pipe handles for closing
	inputWriter  *os.File
	outputReader *os.File
	// Guest side of the pipes, closed once the VM stops so readers see EOF.
	guestFiles []*os.File
}

type driverState int

const (
	stateNew driverState = iota
	stateCreated
	stateStarting
	stateRunning
	stateStopped
)

// NewDriver creates a new vz-based driver for macOS.
func NewDriver() (Driver, error) {
	return &vzDriver{
		state:  stateNew,
		exited: make(chan error, 1),
	}, nil
}

func (d *vzDriver) Info() Info {
	return Info{
		Name:    "vz",
		Version: "3",
		Arch:    runtime.GOARCH,
	}
}

func (d *vzDriver) Capabilities() Capabilities {
	return Capabilities{
		SharedDirs: true,
		Networking: true,
		Bounds: ResourceBounds{
			MinCPUs:   vz.VirtualMachineConfigurationMinimumAllowedCPUCount(),
			MaxCPUs:   vz.VirtualMachineConfigurationMaximumAllowedCPUCount(),
			MinMemory: vz.VirtualMachineConfigurationMinimumAllowedMemorySize(),
			MaxMemory: vz.VirtualMachineConfigurationMaximumAllowedMemorySize(),
		},
	}
}

func (d *vzDriver) Validate(ctx context.Context, cfg *VMConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	vmCfg, pipes, err := d.configure(cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	defer pipes.close()

	ok, err := vmCfg.Validate()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if !ok {
		return ErrValidation
	}
	return nil
}

func (d *vzDriver) Create(ctx context.Context, cfg *VMConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateNew {
		return fmt.Errorf("vzDriver: invalid state for Create")
	}

	vmCfg, pipes, err := d.configure(cfg)
	if err != nil {
		return err
	}

	ok, err := vmCfg.Validate()
	if err != nil {
		pipes.close()
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if !ok {
		pipes.close()
		return ErrValidation
	}

	machine, err := vz.NewVirtualMachine(vmCfg)
	if err != nil {
		pipes.close()
		return fmt.Errorf("vzDriver: create VM: %w", err)
	}

	if pipes.inputWriter != nil {
		d.consoleIn = pipes.inputWriter
		d.consoleOut = pipes.outputReader
		d.inputWriter = pipes.inputWriter
		d.outputReader = pipes.outputReader
		d.guestFiles = []*os.File{pipes.inputReader, pipes.outputWriter}
	}

	d.cfg = cfg
	d.vm = machine
	d.state = stateCreated
	return nil
}

func (d *vzDriver) Start(ctx context.Context, onComplete func(error)) {
	d.mu.Lock()
	if d.state != stateCreated {
		state := d.state
		d.mu.Unlock()
		err := ErrNotCreated
		if state != stateNew {
			err = ErrAlreadyStarted
		}
		go onComplete(err)
		return
	}
	d.state = stateStarting
	machine := d.vm
	d.mu.Unlock()

	go func() {
		// vz.VirtualMachine.Start blocks until the framework's completion
		// handler fires.
		err := machine.Start()

		d.mu.Lock()
		if err != nil {
			d.state = stateStopped
		} else {
			d.state = stateRunning
		}
		d.mu.Unlock()

		if err != nil {
			d.closeGuestFiles()
			onComplete(fmt.Errorf("%w: %w", ErrStartFailed, err))
			return
		}

		go d.watch(ctx, machine)
		onComplete(nil)
	}()
}

// watch waits for the VM to leave the running state and reports it on the
// exited channel.
func (d *vzDriver) watch(ctx context.Context, machine *vz.VirtualMachine) {
	for {
		select {
		case <-ctx.Done():
			_, _ = machine.RequestStop()
			// keep watching for the actual stop
			ctx = context.Background()
		case newState := <-machine.StateChangedNotify():
			switch newState {
			case vz.VirtualMachineStateStopped:
				d.finish(nil)
				return
			case vz.VirtualMachineStateError:
				d.finish(ErrGuestError)
				return
			}
		}
	}
}

func (d *vzDriver) finish(err error) {
	d.mu.Lock()
	d.state = stateStopped
	d.mu.Unlock()

	d.closeGuestFiles()
	d.exited <- err
}

func (d *vzDriver) closeGuestFiles() {
	d.mu.Lock()
	files := d.guestFiles
	d.guestFiles = nil
	d.mu.Unlock()

	for _, f := range files {
		_ = f.Close()
	}
}

func (d *vzDriver) Exited() <-chan error {
	return d.exited
}

func (d *vzDriver) State() MachineState {
	d.mu.Lock()
	machine := d.vm
	state := d.state
	d.mu.Unlock()

	if machine == nil {
		return MachineStopped
	}
	if state == stateCreated {
		return MachineCreated
	}

	switch machine.State() {
	case vz.VirtualMachineStateStarting, vz.VirtualMachineStateResuming, vz.VirtualMachineStateRestoring:
		return MachineStarting
	case vz.VirtualMachineStateRunning, vz.VirtualMachineStatePaused, vz.VirtualMachineStatePausing, vz.VirtualMachineStateSaving:
		return MachineRunning
	case vz.VirtualMachineStateStopping:
		return MachineStopping
	case vz.VirtualMachineStateError:
		return MachineError
	default:
		return MachineStopped
	}
}

func (d *vzDriver) Console() (io.Writer, io.Reader, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.consoleIn == nil || d.consoleOut == nil {
		return nil, nil, ErrConsoleNotPiped
	}

	return d.consoleIn, d.consoleOut, nil
}

func (d *vzDriver) CloseConsole() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error

	if d.inputWriter != nil {
		if err := d.inputWriter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close input pipe: %w", err))
		}
		d.inputWriter = nil
		d.consoleIn = nil
	}

	if d.outputReader != nil {
		if err := d.outputReader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output pipe: %w", err))
		}
		d.outputReader = nil
		d.consoleOut = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("vzDriver: close console: %w", errors.Join(errs...))
	}
	return nil
}

// consolePipes holds both ends of the console pipes.
// inputReader is read by VM (we write to inputWriter)
// outputWriter is written by VM (we read from outputReader)
type consolePipes struct {
	inputReader, inputWriter   *os.File
	outputReader, outputWriter *os.File
}

func (p *consolePipes) close() {
	for _, f := range []*os.File{p.inputReader, p.inputWriter, p.outputReader, p.outputWriter} {
		if f != nil {
			_ = f.Close()
		}
	}
}

// configure translates cfg into a vz configuration. The returned pipes are
// non-nil even when the console is not pipe backed.
func (d *vzDriver) configure(cfg *VMConfig) (*vz.VirtualMachineConfiguration, *consolePipes, error) {
	pipes := &consolePipes{}

	bootLoader, err := vz.NewLinuxBootLoader(cfg.Boot.KernelPath,
		vz.WithCommandLine(cfg.Boot.CommandLine),
		vz.WithInitrd(cfg.Boot.InitrdPath),
	)
	if err != nil {
		return nil, pipes, fmt.Errorf("vzDriver: create boot loader: %w", err)
	}

	vmCfg, err := vz.NewVirtualMachineConfiguration(
		bootLoader,
		cfg.Resources.CPUs,
		cfg.Resources.MemoryBytes,
	)
	if err != nil {
		return nil, pipes, fmt.Errorf("vzDriver: create VM config: %w", err)
	}

	platform, err := vz.NewGenericPlatformConfiguration()
	if err != nil {
		return nil, pipes, fmt.Errorf("vzDriver: create platform config: %w", err)
	}
	vmCfg.SetPlatformVirtualMachineConfiguration(platform)

	entropy, err := vz.NewVirtioEntropyDeviceConfiguration()
	if err != nil {
		return nil, pipes, fmt.Errorf("vzDriver: create entropy config: %w", err)
	}
	vmCfg.SetEntropyDevicesVirtualMachineConfiguration([]*vz.VirtioEntropyDeviceConfiguration{entropy})

	var (
		serials  []*vz.VirtioConsoleDeviceSerialPortConfiguration
		networks []*vz.VirtioNetworkDeviceConfiguration
		shares   []vz.DirectorySharingDeviceConfiguration
		storage  []vz.StorageDeviceConfiguration
	)

	for _, dev := range cfg.Devices.Devices {
		switch dev.Kind {
		case DeviceNetwork:
			netCfg, err := newNATNetwork(dev)
			if err != nil {
				pipes.close()
				return nil, pipes, err
			}
			networks = append(networks, netCfg)

		case DeviceConsole:
			attachment, err := newConsoleAttachment(dev, pipes)
			if err != nil {
				pipes.close()
				return nil, pipes, err
			}
			serialCfg, err := vz.NewVirtioConsoleDeviceSerialPortConfiguration(attachment)
			if err != nil {
				pipes.close()
				return nil, pipes, fmt.Errorf("vzDriver: create serial config: %w", err)
			}
			serials = append(serials, serialCfg)

		case DeviceDirectoryShare:
			fsCfg, err := newDirectoryShare(dev)
			if err != nil {
				pipes.close()
				return nil, pipes, err
			}
			shares = append(shares, fsCfg)

		case DeviceDisk:
			attachment, err := vz.NewDiskImageStorageDeviceAttachment(dev.DiskPath, dev.ReadOnly)
			if err != nil {
				pipes.close()
				return nil, pipes, fmt.Errorf("vzDriver: create disk attachment: %w", err)
			}
			block, err := vz.NewVirtioBlockDeviceConfiguration(attachment)
			if err != nil {
				pipes.close()
				return nil, pipes, fmt.Errorf("vzDriver: create block device: %w", err)
			}
			storage = append(storage, block)
		}
	}

	if len(serials) > 0 {
		vmCfg.SetSerialPortsVirtualMachineConfiguration(serials)
	}
	if len(networks) > 0 {
		vmCfg.SetNetworkDevicesVirtualMachineConfiguration(networks)
	}
	if len(shares) > 0 {
		vmCfg.SetDirectorySharingDevicesVirtualMachineConfiguration(shares)
	}
	if len(storage) > 0 {
		vmCfg.SetStorageDevicesVirtualMachineConfiguration(storage)
	}

	return vmCfg, pipes, nil
}

func newNATNetwork(dev Device) (*vz.VirtioNetworkDeviceConfiguration, error) {
	natAttachment, err := vz.NewNATNetworkDeviceAttachment()
	if err != nil {
		return nil, fmt.Errorf("vzDriver: create NAT attachment: %w", err)
	}

	netCfg, err := vz.NewVirtioNetworkDeviceConfiguration(natAttachment)
	if err != nil {
		return nil, fmt.Errorf("vzDriver: create network config: %w", err)
	}

	var macAddr *vz.MACAddress
	if dev.MACAddress != "" {
		hwAddr, err := net.ParseMAC(dev.MACAddress)
		if err != nil {
			return nil, fmt.Errorf("vzDriver: parse MAC address: %w", err)
		}
		macAddr, err = vz.NewMACAddress(hwAddr)
		if err != nil {
			return nil, fmt.Errorf("vzDriver: create MAC address: %w", err)
		}
	} else {
		macAddr, err = vz.NewRandomLocallyAdministeredMACAddress()
		if err != nil {
			return nil, fmt.Errorf("vzDriver: generate random MAC: %w", err)
		}
	}
	netCfg.SetMACAddress(macAddr)

	return netCfg, nil
}

func newConsoleAttachment(dev Device, pipes *consolePipes) (vz.SerialPortAttachment, error) {
	if dev.Console == ConsoleStdio {
		attachment, err := vz.NewFileHandleSerialPortAttachment(os.Stdin, os.Stdout)
		if err != nil {
			return nil, fmt.Errorf("vzDriver: create stdio serial attachment: %w", err)
		}
		return attachment, nil
	}

	var err error
	pipes.inputReader, pipes.inputWriter, err = os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("vzDriver: create input pipe: %w", err)
	}
	pipes.outputReader, pipes.outputWriter, err = os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("vzDriver: create output pipe: %w", err)
	}

	attachment, err := vz.NewFileHandleSerialPortAttachment(pipes.inputReader, pipes.outputWriter)
	if err != nil {
		return nil, fmt.Errorf("vzDriver: create pipe serial attachment: %w", err)
	}
	return attachment, nil
}

func newDirectoryShare(dev Device) (vz.DirectorySharingDeviceConfiguration, error) {
	sharedDir, err := vz.NewSharedDirectory(dev.SharePath, dev.ReadOnly)
	if err != nil {
		return nil, fmt.Errorf("vzDriver: create shared dir %s: %w", dev.ShareTag, err)
	}

	dirShare, err := vz.NewSingleDirectoryShare(sharedDir)
	if err != nil {
		return nil, fmt.Errorf("vzDriver: create dir share %s: %w", dev.ShareTag, err)
	}

	fsCfg, err := vz.NewVirtioFileSystemDeviceConfiguration(dev.ShareTag)
	if err != nil {
		return nil, fmt.Errorf("vzDriver: create fs config %s: %w", dev.ShareTag, err)
	}
	fsCfg.SetDirectoryShare(dirShare)

	return fsCfg, nil
}
