// Package testutil provides common test helpers for kitvm tests.
package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// Default artifact file names, matching the layout of the data dir.
const (
	KernelName  = "linuxkit-kernel"
	InitrdName  = "linuxkit-initrd.img"
	CmdlineName = "linuxkit-cmdline"
)

// Artifacts holds the paths of boot artifacts written by WriteArtifacts.
type Artifacts struct {
	Dir     string
	Kernel  string
	Initrd  string
	Cmdline string
}

// WriteArtifacts creates a placeholder kernel and initrd in a temporary
// directory. The command line file is only written when cmdline is not
// empty; its path is set either way.
// Uses t.TempDir(), ensuring automatic cleanup.
func WriteArtifacts(t *testing.T, cmdline string) Artifacts {
	t.Helper()

	dir := t.TempDir()
	arts := Artifacts{
		Dir:     dir,
		Kernel:  filepath.Join(dir, KernelName),
		Initrd:  filepath.Join(dir, InitrdName),
		Cmdline: filepath.Join(dir, CmdlineName),
	}

	writeFile(t, arts.Kernel, []byte("MZ\x00fake-kernel"))
	writeFile(t, arts.Initrd, []byte("\x1f\x8bfake-initrd"))
	if cmdline != "" {
		writeFile(t, arts.Cmdline, []byte(cmdline))
	}

	return arts
}

// CreateTestDisk creates a sparse disk file at the given path with the specified size.
// The file is created as a sparse file, so it doesn't actually allocate all the space.
func CreateTestDisk(t *testing.T, path string, sizeMB int64) {
	t.Helper()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create directory %s: %v", dir, err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create test disk at %s: %v", path, err)
	}
	defer f.Close()

	sizeBytes := sizeMB * 1024 * 1024
	if err := f.Truncate(sizeBytes); err != nil {
		t.Fatalf("failed to truncate test disk to %d bytes: %v", sizeBytes, err)
	}
}

// ListDir returns the sorted names of every entry below dir, relative to
// dir. Used to assert that an operation wrote nothing.
func ListDir(t *testing.T, dir string) []string {
	t.Helper()

	var names []string
	err := filepath.WalkDir(dir, func(path string, _ os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		names = append(names, rel)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to list %s: %v", dir, err)
	}

	sort.Strings(names)
	return names
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
