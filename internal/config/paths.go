// Package config provides configuration management for kitvm.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths holds platform-specific directory paths for kitvm.
type Paths struct {
	// ConfigDir is the directory for configuration files.
	// macOS: ~/Library/Application Support/kitvm
	// Linux: ~/.config/kitvm (or XDG_CONFIG_HOME)
	ConfigDir string

	// DataDir holds the boot artifacts and the shared directory.
	// All platforms: ~/.kitvm
	DataDir string

	// ConfigFile is the path to the main config file.
	ConfigFile string
}

// GetPaths returns platform-aware paths for kitvm.
func GetPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return pathsFor(home, runtime.GOOS), nil
}

func pathsFor(home, goos string) *Paths {
	p := &Paths{
		DataDir: filepath.Join(home, ".kitvm"),
	}

	switch goos {
	case "darwin":
		p.ConfigDir = filepath.Join(home, "Library", "Application Support", "kitvm")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			p.ConfigDir = filepath.Join(xdgConfig, "kitvm")
		} else {
			p.ConfigDir = filepath.Join(home, ".config", "kitvm")
		}
	}

	// Config file lives in data directory for simplicity
	p.ConfigFile = filepath.Join(p.DataDir, "config.yaml")

	return p
}

// EnsureDirectories creates the config and data directories if they don't exist.
func (p *Paths) EnsureDirectories() error {
	if err := os.MkdirAll(p.ConfigDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(p.DataDir, 0755)
}
