package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Default artifact names inside the data directory.
const (
	KernelFile  = "linuxkit-kernel"
	InitrdFile  = "linuxkit-initrd.img"
	CmdlineFile = "linuxkit-cmdline"
)

// Console modes accepted by the console key.
const (
	ConsolePipe  = "pipe"
	ConsoleStdio = "stdio"
	ConsoleNone  = "none"
)

// EnvPrefix prefixes environment overrides: KITVM_CPUS, KITVM_KERNEL, ...
const EnvPrefix = "KITVM"

// Config holds all kitvm configuration.
type Config struct {
	// Kernel is the path to the guest kernel image.
	Kernel string `mapstructure:"kernel"`

	// Initrd is the path to the initial ramdisk.
	Initrd string `mapstructure:"initrd"`

	// Cmdline is a literal kernel command line. When set it wins over
	// CmdlineFile.
	Cmdline string `mapstructure:"cmdline"`

	// CmdlineFile is read verbatim when Cmdline is empty.
	CmdlineFile string `mapstructure:"cmdline_file"`

	// CPUs is the number of virtual CPUs allocated to the VM.
	CPUs int `mapstructure:"cpus"`

	// MemoryMB is the amount of RAM in megabytes allocated to the VM.
	MemoryMB int `mapstructure:"memory_mb"`

	// EnableNetwork attaches a NAT network interface.
	EnableNetwork bool `mapstructure:"enable_network"`

	// MACAddress is an optional custom MAC address (empty = auto-generate).
	MACAddress string `mapstructure:"mac_address"`

	// Console is "pipe" (collected, lease detection), "stdio" (host
	// terminal passthrough) or "none".
	Console string `mapstructure:"console"`

	// Share exposes ShareDir to the guest over virtio-fs.
	Share    bool   `mapstructure:"share"`
	ShareDir string `mapstructure:"share_dir"`

	// Disk is an optional raw image attached read-only.
	Disk string `mapstructure:"disk"`

	// PollInterval is the lease check interval without new output.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// LogLimit caps the retained console text in bytes (0 = unbounded).
	LogLimit int `mapstructure:"log_limit"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9273".
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// DefaultConfig returns a Config with defaults rooted in paths.
func DefaultConfig(paths *Paths) *Config {
	return &Config{
		Kernel:        filepath.Join(paths.DataDir, KernelFile),
		Initrd:        filepath.Join(paths.DataDir, InitrdFile),
		CmdlineFile:   filepath.Join(paths.DataDir, CmdlineFile),
		CPUs:          2,
		MemoryMB:      4096,
		EnableNetwork: true,
		Console:       ConsolePipe,
		Share:         true,
		ShareDir:      filepath.Join(paths.DataDir, "share"),
		PollInterval:  time.Second,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Loader reads configuration from defaults, a YAML file, KITVM_*
// environment variables and bound command-line flags, in increasing order
// of precedence.
type Loader struct {
	v     *viper.Viper
	paths *Paths
}

// NewLoader prepares a loader looking for config.yaml in the data and
// config directories.
func NewLoader(paths *Paths) *Loader {
	v := viper.New()

	defaults := DefaultConfig(paths)
	v.SetDefault("kernel", defaults.Kernel)
	v.SetDefault("initrd", defaults.Initrd)
	v.SetDefault("cmdline", defaults.Cmdline)
	v.SetDefault("cmdline_file", defaults.CmdlineFile)
	v.SetDefault("cpus", defaults.CPUs)
	v.SetDefault("memory_mb", defaults.MemoryMB)
	v.SetDefault("enable_network", defaults.EnableNetwork)
	v.SetDefault("mac_address", defaults.MACAddress)
	v.SetDefault("console", defaults.Console)
	v.SetDefault("share", defaults.Share)
	v.SetDefault("share_dir", defaults.ShareDir)
	v.SetDefault("disk", defaults.Disk)
	v.SetDefault("poll_interval", defaults.PollInterval)
	v.SetDefault("log_limit", defaults.LogLimit)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)
	v.SetDefault("metrics_addr", defaults.MetricsAddr)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(paths.DataDir)
	v.AddConfigPath(paths.ConfigDir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, paths: paths}
}

// SetConfigFile reads the given file instead of searching for config.yaml.
func (l *Loader) SetConfigFile(path string) {
	l.v.SetConfigFile(path)
}

// BindFlag lets a command-line flag override key when the flag is set.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: no such flag", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads the configuration. A missing config file is not an error.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ConfigFileUsed returns the path of the config file being used, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Settings returns every key with its effective value.
func (l *Loader) Settings() map[string]any {
	return l.v.AllSettings()
}
