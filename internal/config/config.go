package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Global settings
	Format  string `mapstructure:"format" json:"format"`
	Level   string `mapstructure:"level" json:"level"`
	Quiet   bool   `mapstructure:"quiet" json:"quiet"`
	Verbose bool   `mapstructure:"verbose" json:"verbose"`

	Backend     BackendConfig     `mapstructure:"backend" json:"backend"`
	Disassembly DisassemblyConfig `mapstructure:"disassembly" json:"disassembly"`
	Handles     HandlesConfig     `mapstructure:"handles" json:"handles"`
}

// BackendConfig describes how to reach the debugger backend
type BackendConfig struct {
	// Registry is the host:port of the backend service registry
	Registry string `mapstructure:"registry" json:"registry"`
	// Listen is where the bridge-hosted callback services listen
	Listen      string `mapstructure:"listen" json:"listen"`
	DialTimeout string `mapstructure:"dial_timeout" json:"dial_timeout"`
	// Protocol is a semver constraint on advertised service versions
	Protocol string `mapstructure:"protocol" json:"protocol"`
}

// DisassemblyConfig holds disassembly window defaults
type DisassemblyConfig struct {
	Before           int `mapstructure:"before" json:"before"`
	After            int `mapstructure:"after" json:"after"`
	Count            int `mapstructure:"count" json:"count"`
	InstructionWidth int `mapstructure:"instruction_width" json:"instruction_width"`
	// CollapseSources omits a block's source range when it repeats the
	// previous block's
	CollapseSources bool `mapstructure:"collapse_sources" json:"collapse_sources"`
}

// HandlesConfig controls client handle allocation
type HandlesConfig struct {
	Start int `mapstructure:"start" json:"start"`
}

const defaultDialTimeout = 5 * time.Second

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Format:  "auto",
		Level:   "info",
		Quiet:   false,
		Verbose: false,
		Backend: BackendConfig{
			Registry:    "127.0.0.1:9090",
			Listen:      "127.0.0.1:0",
			DialTimeout: "5s",
			Protocol:    "^1.0.0",
		},
		Disassembly: DisassemblyConfig{
			Before:           20,
			After:            40,
			Count:            16,
			InstructionWidth: 4,
		},
		Handles: HandlesConfig{
			Start: 1000,
		},
	}
}

// DialTimeoutDuration parses Backend.DialTimeout, falling back to the default
func (c *Config) DialTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Backend.DialTimeout)
	if err != nil || d <= 0 {
		return defaultDialTimeout
	}
	return d
}

// configNames are tried in order; each one is searched across every
// config path before the next name is tried.
var configNames = []string{".dbgbridge", "dbgbridge", ".dbgbridgerc"}

// Load loads configuration from files and environment
func Load() (*Config, error) {
	v, cfg := newViper()
	addConfigPaths(v)

	// Try to read config file (ignore if not found)
	if err := readFirstConfig(v); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error occurred
			return nil, err
		}
		// Config file not found; use defaults
	}

	// Unmarshal into struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific file. Environment
// variables still override the file.
func LoadFromFile(path string) (*Config, error) {
	v, cfg := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ConfigFile returns the path to the config file Load would read
func ConfigFile() string {
	v := viper.New()
	v.SetConfigType("yaml")
	addConfigPaths(v)

	err := readFirstConfig(v)
	if _, notFound := err.(viper.ConfigFileNotFoundError); notFound {
		return ""
	}
	return v.ConfigFileUsed()
}

// newViper returns a viper instance with defaults and DBGBRIDGE_*
// environment bindings, and the Config it should be unmarshalled into.
func newViper() (*viper.Viper, *Config) {
	v := viper.New()

	v.SetConfigType("yaml")

	// Environment variables
	v.SetEnvPrefix("DBGBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Bind specific environment variables
	v.BindEnv("format", "DBGBRIDGE_FORMAT")
	v.BindEnv("level", "DBGBRIDGE_LEVEL")
	v.BindEnv("quiet", "DBGBRIDGE_QUIET")
	v.BindEnv("verbose", "DBGBRIDGE_VERBOSE")
	v.BindEnv("backend.registry", "DBGBRIDGE_REGISTRY", "DBGBRIDGE_BACKEND_REGISTRY")
	v.BindEnv("backend.listen", "DBGBRIDGE_LISTEN", "DBGBRIDGE_BACKEND_LISTEN")

	// Set defaults
	cfg := Default()
	v.SetDefault("format", cfg.Format)
	v.SetDefault("level", cfg.Level)
	v.SetDefault("quiet", cfg.Quiet)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("backend.registry", cfg.Backend.Registry)
	v.SetDefault("backend.listen", cfg.Backend.Listen)
	v.SetDefault("backend.dial_timeout", cfg.Backend.DialTimeout)
	v.SetDefault("backend.protocol", cfg.Backend.Protocol)
	v.SetDefault("disassembly.before", cfg.Disassembly.Before)
	v.SetDefault("disassembly.after", cfg.Disassembly.After)
	v.SetDefault("disassembly.count", cfg.Disassembly.Count)
	v.SetDefault("disassembly.instruction_width", cfg.Disassembly.InstructionWidth)
	v.SetDefault("disassembly.collapse_sources", cfg.Disassembly.CollapseSources)
	v.SetDefault("handles.start", cfg.Handles.Start)

	return v, cfg
}

// addConfigPaths adds the search paths, most specific first.
func addConfigPaths(v *viper.Viper) {
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "dbgbridge"))
	}
	v.AddConfigPath("/etc/dbgbridge/")
}

// readFirstConfig reads the first of configNames found on v's paths. It
// returns viper.ConfigFileNotFoundError when none exists.
func readFirstConfig(v *viper.Viper) error {
	var err error
	for _, name := range configNames {
		v.SetConfigName(name)
		err = v.ReadInConfig()
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return err
		}
	}
	return err
}
