// Package cli implements the dbgbridge command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"

	"github.com/vburojevic/dbgbridge/internal/config"
)

// Version info, set by -ldflags at build time
var (
	Version = "dev"
	Commit  = "none"
)

// Globals holds global flags and shared output streams
type Globals struct {
	Format   string
	Level    string
	Quiet    bool
	Verbose  bool
	Registry string
	Stdout   io.Writer
	Stderr   io.Writer
	Stdin    io.Reader
	Config   *config.Config
}

// CLI is the root command
type CLI struct {
	Format   string `short:"f" enum:"auto,ndjson,text" default:"${config_format}" help:"Output format (auto picks text on a terminal, ndjson otherwise)"`
	Level    string `default:"${config_level}" enum:"info,warning,error,user" help:"Minimum backend log severity for console and watch"`
	Quiet    bool   `short:"q" help:"Suppress non-essential output"`
	Verbose  bool   `short:"v" help:"Log bridge internals to stderr as JSON"`
	Registry string `short:"r" default:"${config_registry}" help:"Backend service registry address (host:port)"`

	Stack      StackCmd      `cmd:"" help:"Print the call stack of the current inspection context"`
	Vars       VarsCmd       `cmd:"" help:"List the variables of a frame scope"`
	Eval       EvalCmd       `cmd:"" help:"Evaluate an expression in a frame"`
	Set        SetCmd        `cmd:"" help:"Assign a new value to a variable"`
	Disasm     DisasmCmd     `cmd:"" help:"Disassemble around the current location or an address"`
	Descriptor DescriptorCmd `cmd:"" help:"Decode or encode breakpoint descriptors"`
	Console    ConsoleCmd    `cmd:"" help:"Attach to the target console and stream debug events"`
	Watch      WatchCmd      `cmd:"" help:"Run commands when debug events arrive"`
	Config     ConfigCmd     `cmd:"" help:"Show configuration"`
	Schema     SchemaCmd     `cmd:"" help:"Print JSON Schema for NDJSON records"`
	Version    VersionCmd    `cmd:"" help:"Show version information"`
}

// Vars returns the kong variables that feed flag defaults from configuration
func Vars(cfg *config.Config) kong.Vars {
	return kong.Vars{
		"config_format":       cfg.Format,
		"config_level":        cfg.Level,
		"config_registry":     cfg.Backend.Registry,
		"config_disasm_count": strconv.Itoa(cfg.Disassembly.Count),
	}
}

// NewGlobalsWithConfig creates Globals from parsed flags, falling back to
// configuration values
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) *Globals {
	if cfg == nil {
		cfg = config.Default()
	}
	g := &Globals{
		Format:   c.Format,
		Level:    c.Level,
		Quiet:    c.Quiet || cfg.Quiet,
		Verbose:  c.Verbose || cfg.Verbose,
		Registry: c.Registry,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		Stdin:    os.Stdin,
		Config:   cfg,
	}
	if g.Registry == "" {
		g.Registry = cfg.Backend.Registry
	}
	g.Format = resolveFormat(g.Format, isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))
	return g
}

// resolveFormat turns "auto" into text on a terminal and ndjson otherwise
func resolveFormat(format string, terminal bool) string {
	switch format {
	case "text", "ndjson":
		return format
	}
	if terminal {
		return "text"
	}
	return "ndjson"
}

// VersionCmd shows version information
type VersionCmd struct{}

// Run executes the version command
func (c *VersionCmd) Run(globals *Globals) error {
	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(map[string]any{
			"type":          "version",
			"schemaVersion": 1,
			"version":       Version,
			"commit":        Commit,
		})
	}
	fmt.Fprintf(globals.Stdout, "dbgbridge version %s (%s)\n", Version, Commit)
	return nil
}
