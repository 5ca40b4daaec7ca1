package cli

import (
	"errors"
	"fmt"

	"github.com/vburojevic/dbgbridge/internal/domain"
	"github.com/vburojevic/dbgbridge/internal/output"
)

// outputErrorCommon normalizes error emission across commands, respecting
// ndjson vs text formats so scripts always get machine-readable failures.
func outputErrorCommon(globals *Globals, code, message string, hint ...string) error {
	if globals != nil && globals.Format == "ndjson" {
		output.NewNDJSONWriter(globals.Stdout).WriteError(code, message, hint...)
	} else if globals != nil {
		fmt.Fprintf(globals.Stderr, "Error [%s]: %s", code, message)
		if len(hint) > 0 && hint[0] != "" {
			fmt.Fprintf(globals.Stderr, " (hint: %s)", hint[0])
		}
		fmt.Fprintln(globals.Stderr)
	}
	return errors.New(message)
}

// outputError reports err under its domain error code and returns it
// unchanged so callers can still match it.
func outputError(globals *Globals, err error) error {
	outputErrorCommon(globals, domain.ErrorCode(err), err.Error(), hintFor(err))
	return err
}

func hintFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrServiceUnavailable):
		return "check that the debugger backend is running and --registry points at it"
	case errors.Is(err, domain.ErrOutOfRange):
		return "run 'dbgbridge stack' to see valid frame indexes"
	case errors.Is(err, domain.ErrBackendUnavailable):
		return "this scope's list window is not offered by the backend"
	case errors.Is(err, domain.ErrParse):
		return "descriptor strings look like _\"file.c\" 12 1"
	}
	return ""
}
