package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateFlags(t *testing.T) {
	orig := tmuxAvailable
	defer func() { tmuxAvailable = orig }()
	tmuxAvailable = func() bool { return false }

	globals := &Globals{Format: "ndjson", Quiet: false, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	require.Error(t, validateFlags(globals, true))

	globals = &Globals{Format: "text", Quiet: true, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	require.Error(t, validateFlags(globals, false))

	globals = &Globals{Format: "ndjson", Quiet: false, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	require.NoError(t, validateFlags(globals, false))

	tmuxAvailable = func() bool { return true }
	require.NoError(t, validateFlags(globals, true))
}
