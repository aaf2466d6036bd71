package devices

import (
	"strings"
	"testing"
)

func TestMountCommand(t *testing.T) {
	cmd := MountCommand("/mnt/kitvm")
	expected := "mkdir -p /mnt/kitvm && mount -t virtiofs kitvm /mnt/kitvm"
	if cmd != expected {
		t.Errorf("MountCommand() = %q, want %q", cmd, expected)
	}
}

func TestMountCommandQuotesSpaces(t *testing.T) {
	cmd := MountCommand("/mnt/my share")
	expected := "mkdir -p '/mnt/my share' && mount -t virtiofs kitvm '/mnt/my share'"
	if cmd != expected {
		t.Errorf("MountCommand() = %q, want %q", cmd, expected)
	}
}

func TestMountScriptStructure(t *testing.T) {
	script := MountScript(DefaultMountPoint)

	if !strings.HasPrefix(script, "#!/bin/sh\n") {
		t.Error("Script missing shebang")
	}
	if !strings.Contains(script, "grep -q virtiofs /proc/filesystems") {
		t.Error("Script missing virtiofs availability check")
	}
	if !strings.Contains(script, "mount -t virtiofs kitvm /mnt/kitvm") {
		t.Error("Script missing mount command")
	}
	if !strings.Contains(script, "Failed to mount") {
		t.Error("Script missing mount failure message")
	}
	if !strings.Contains(script, "Mounted kitvm at /mnt/kitvm") {
		t.Error("Script missing mount success message")
	}
}

func TestQuotePath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"/simple/path", "/simple/path"},
		{"/path with spaces", "'/path with spaces'"},
		{"/path\twith\ttabs", "'/path\twith\ttabs'"},
		{"/path'quote", "'/path'\"'\"'quote'"},
		{"/path$var", "'/path$var'"},
		{"/path`cmd`", "'/path`cmd`'"},
		{"/path\\escape", "'/path\\escape'"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := quotePath(tt.input)
			if got != tt.want {
				t.Errorf("quotePath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
