package testutil

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/javanstorm/kitvm/pkg/hypervisor"
)

func TestWriteArtifacts(t *testing.T) {
	arts := WriteArtifacts(t, "console=hvc0")

	for _, path := range []string{arts.Kernel, arts.Initrd, arts.Cmdline} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("artifact %s should exist: %v", path, err)
		}
		if !info.Mode().IsRegular() {
			t.Errorf("artifact %s should be a regular file", path)
		}
	}

	data, err := os.ReadFile(arts.Cmdline)
	if err != nil {
		t.Fatalf("read cmdline: %v", err)
	}
	if string(data) != "console=hvc0" {
		t.Errorf("cmdline = %q, want %q", data, "console=hvc0")
	}
}

func TestWriteArtifactsWithoutCmdline(t *testing.T) {
	arts := WriteArtifacts(t, "")

	if _, err := os.Stat(arts.Cmdline); !os.IsNotExist(err) {
		t.Errorf("cmdline file should not exist, stat err = %v", err)
	}
	if got := ListDir(t, arts.Dir); len(got) != 2 {
		t.Errorf("ListDir = %v, want kernel and initrd only", got)
	}
}

func TestCreateTestDisk(t *testing.T) {
	diskPath := filepath.Join(t.TempDir(), "disks", "test.raw")
	sizeMB := int64(10)

	CreateTestDisk(t, diskPath, sizeMB)

	info, err := os.Stat(diskPath)
	if err != nil {
		t.Fatalf("disk file should exist: %v", err)
	}

	expectedBytes := sizeMB * 1024 * 1024
	if info.Size() != expectedBytes {
		t.Errorf("disk size = %d, want %d", info.Size(), expectedBytes)
	}
}

func TestListDirSorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b", "a", "c"} {
		writeFile(t, filepath.Join(dir, name), nil)
	}

	got := ListDir(t, dir)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("ListDir = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListDir[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func pipeConfig() *hypervisor.VMConfig {
	return &hypervisor.VMConfig{
		Boot: hypervisor.BootSpec{KernelPath: "/k", CommandLine: "console=hvc0"},
		Devices: hypervisor.DeviceSet{Devices: []hypervisor.Device{
			{Kind: hypervisor.DeviceConsole, Console: hypervisor.ConsolePipe, Primary: true},
		}},
		Resources: hypervisor.Resources{CPUs: 1, MemoryBytes: hypervisor.MinMemoryBytes},
	}
}

func TestFakeDriverLifecycle(t *testing.T) {
	d := NewFakeDriver()
	ctx := context.Background()

	if err := d.Create(ctx, pipeConfig()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := d.State(); got != hypervisor.MachineCreated {
		t.Errorf("State = %v, want created", got)
	}

	_, out, err := d.Console()
	if err != nil {
		t.Fatalf("Console: %v", err)
	}

	done := make(chan error, 1)
	d.Start(ctx, func(err error) { done <- err })
	if err := <-done; err != nil {
		t.Fatalf("start completion: %v", err)
	}
	if got := d.State(); got != hypervisor.MachineRunning {
		t.Errorf("State = %v, want running", got)
	}

	go func() {
		_ = d.Emit("hello")
		d.Exit(nil)
	}()

	data, err := io.ReadAll(out)
	if err != nil {
		t.Fatalf("read console: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("console = %q, want %q", data, "hello")
	}

	select {
	case err := <-d.Exited():
		if err != nil {
			t.Errorf("exit error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no exit reported")
	}

	if err := d.CloseConsole(); err != nil {
		t.Errorf("CloseConsole: %v", err)
	}
}

func TestFakeDriverStartError(t *testing.T) {
	d := NewFakeDriver()
	d.StartErr = errors.New("no entitlement")

	if err := d.Create(context.Background(), pipeConfig()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	done := make(chan error, 1)
	d.Start(context.Background(), func(err error) { done <- err })

	err := <-done
	if !errors.Is(err, hypervisor.ErrStartFailed) {
		t.Errorf("start error = %v, want ErrStartFailed", err)
	}
	_ = d.CloseConsole()
}

func TestFakeDriverStartBeforeCreate(t *testing.T) {
	d := NewFakeDriver()

	done := make(chan error, 1)
	d.Start(context.Background(), func(err error) { done <- err })

	if err := <-done; !errors.Is(err, hypervisor.ErrNotCreated) {
		t.Errorf("start error = %v, want ErrNotCreated", err)
	}
}
