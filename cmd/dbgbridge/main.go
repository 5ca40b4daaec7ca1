package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/vburojevic/dbgbridge/internal/cli"
	"github.com/vburojevic/dbgbridge/internal/config"
)

const quickStart = `dbgbridge - debugger backend bridge

Quick start:
  dbgbridge stack                       Call stack of the current context
  dbgbridge vars -n 0 -s Local          Variables of a frame scope
  dbgbridge disasm                      Instructions around the current location
  dbgbridge console                     Target console and debug events

For help:
  dbgbridge --help                      All commands and flags
  dbgbridge schema                      NDJSON record schemas
`

func main() {
	// Show quick start if no args provided
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	// Load configuration from files/environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI

	ctx := kong.Parse(&c,
		kong.Name("dbgbridge"),
		kong.Description("dbgbridge: inspect a running debugger backend from the command line"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		cli.Vars(cfg),
	)

	// Create globals with config fallbacks
	globals := cli.NewGlobalsWithConfig(&c, cfg)
	err = ctx.Run(globals)
	if err != nil {
		os.Exit(1)
	}
}
