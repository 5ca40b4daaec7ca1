package cli

import (
	"encoding/json"
	"fmt"

	"github.com/vburojevic/dbgbridge/internal/config"
)

// ConfigCmd groups configuration commands
type ConfigCmd struct {
	Show     ConfigShowCmd     `cmd:"" default:"1" help:"Show the effective configuration"`
	Path     ConfigPathCmd     `cmd:"" help:"Show the configuration file in use"`
	Generate ConfigGenerateCmd `cmd:"" help:"Print a sample configuration file"`
}

// ConfigShowCmd shows the effective configuration
type ConfigShowCmd struct{}

// Run executes the show command
func (c *ConfigShowCmd) Run(globals *Globals) error {
	cfg := globals.Config
	if cfg == nil {
		cfg = config.Default()
	}

	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(map[string]any{
			"type":          "config",
			"schemaVersion": 1,
			"file":          config.ConfigFile(),
			"format":        cfg.Format,
			"level":         cfg.Level,
			"quiet":         cfg.Quiet,
			"verbose":       cfg.Verbose,
			"backend":       cfg.Backend,
			"disassembly":   cfg.Disassembly,
			"handles":       cfg.Handles,
		})
	}

	w := globals.Stdout
	fmt.Fprintln(w, "Current Configuration:")
	fmt.Fprintf(w, "  format:  %s\n", cfg.Format)
	fmt.Fprintf(w, "  level:   %s\n", cfg.Level)
	fmt.Fprintf(w, "  quiet:   %t\n", cfg.Quiet)
	fmt.Fprintf(w, "  verbose: %t\n", cfg.Verbose)
	fmt.Fprintln(w, "Backend:")
	fmt.Fprintf(w, "  registry:     %s\n", cfg.Backend.Registry)
	fmt.Fprintf(w, "  listen:       %s\n", cfg.Backend.Listen)
	fmt.Fprintf(w, "  dial_timeout: %s\n", cfg.DialTimeoutDuration())
	fmt.Fprintf(w, "  protocol:     %s\n", cfg.Backend.Protocol)
	fmt.Fprintln(w, "Disassembly:")
	fmt.Fprintf(w, "  before: %d\n", cfg.Disassembly.Before)
	fmt.Fprintf(w, "  after:  %d\n", cfg.Disassembly.After)
	fmt.Fprintf(w, "  count:  %d\n", cfg.Disassembly.Count)
	fmt.Fprintf(w, "  instruction_width: %d\n", cfg.Disassembly.InstructionWidth)
	fmt.Fprintf(w, "  collapse_sources:  %t\n", cfg.Disassembly.CollapseSources)
	fmt.Fprintln(w, "Handles:")
	fmt.Fprintf(w, "  start: %d\n", cfg.Handles.Start)
	return nil
}

// ConfigPathCmd shows which configuration file is loaded
type ConfigPathCmd struct{}

// Run executes the path command
func (c *ConfigPathCmd) Run(globals *Globals) error {
	path := config.ConfigFile()
	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(map[string]any{
			"type":          "config_path",
			"schemaVersion": 1,
			"path":          path,
		})
	}
	if path == "" {
		fmt.Fprintln(globals.Stdout, "No configuration file found (using defaults)")
		return nil
	}
	fmt.Fprintf(globals.Stdout, "Config file: %s\n", path)
	return nil
}

// ConfigGenerateCmd prints a sample configuration
type ConfigGenerateCmd struct{}

const sampleConfig = `# dbgbridge configuration file
# Save as .dbgbridge.yaml in the project or home directory.

format: auto
level: info
quiet: false
verbose: false

backend:
  registry: 127.0.0.1:9090
  listen: 127.0.0.1:0
  dial_timeout: 5s
  protocol: "^1.0.0"

disassembly:
  before: 20
  after: 40
  count: 16
  instruction_width: 4
  # leave repeated source ranges off consecutive blocks
  collapse_sources: false

handles:
  start: 1000
`

// Run executes the generate command
func (c *ConfigGenerateCmd) Run(globals *Globals) error {
	_, err := fmt.Fprint(globals.Stdout, sampleConfig)
	return err
}
