package cli

import "github.com/vburojevic/dbgbridge/internal/tmux"

var tmuxAvailable = tmux.IsTmuxAvailable

// validateFlags centralizes common flag combinations to keep behavior consistent.
func validateFlags(globals *Globals, useTmux bool) error {
	// quiet + text hides everything but errors; steer to ndjson
	if globals != nil && globals.Format == "text" && globals.Quiet {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--quiet is only supported with ndjson output", "switch to --format ndjson or drop --quiet")
	}
	if useTmux && !tmuxAvailable() {
		return outputErrorCommon(globals, "TMUX_UNAVAILABLE", "--tmux requires tmux on PATH", "install tmux or drop --tmux")
	}
	return nil
}
