package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/dbgbridge/internal/debugctx"
	"github.com/vburojevic/dbgbridge/internal/events"
)

func TestTextWriterTables(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewTextWriter(buf)

	require.NoError(t, w.WriteVariables(1000, []dap.Variable{
		{Name: "fib", Value: "{...}", Type: "int[10]", VariablesReference: 1003},
		{Name: "callCount", Value: "7", Type: "int"},
	}))

	out := buf.String()
	assert.Contains(t, out, "fib")
	assert.Contains(t, out, "int[10]")
	assert.Contains(t, out, "1003")
	assert.Contains(t, out, "callCount")
}

func TestTextWriterDisassemblyMarksCurrentRow(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewTextWriter(buf)

	require.NoError(t, w.WriteDisassembly(debugctx.Block{
		CurrentRow:   1,
		Instructions: []string{"0x10: push", "0x12: mov", "0x14: bl"},
	}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "   0x10: push", lines[0])
	assert.Contains(t, lines[1], currentMarker+"0x12: mov")
	assert.Equal(t, "   0x14: bl", lines[2])
}

func TestTextWriterLines(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *TextWriter) error
		want  string
	}{
		{"eval", func(w *TextWriter) error { return w.WriteEval("n", debugctx.EvalResult{Value: "5"}) }, "n = 5"},
		{"set", func(w *TextWriter) error { return w.WriteAssigned("fib", "42") }, "fib := 42"},
		{"event", func(w *TextWriter) error {
			return w.WriteDebugEvent(events.DebugEvent{Kind: events.KindExitReached, Description: "done"})
		}, "[exit] done"},
		{"error", func(w *TextWriter) error { return w.WriteError("PARSE_ERROR", "bad", "check quoting") }, "Error [PARSE_ERROR]: bad (hint: check quoting)"},
		{"output", func(w *TextWriter) error { return w.WriteOutput("raw") }, "raw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			require.NoError(t, tt.write(NewTextWriter(buf)))
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}
