package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/go-dap"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/vburojevic/dbgbridge/internal/debugctx"
	"github.com/vburojevic/dbgbridge/internal/descriptor"
	"github.com/vburojevic/dbgbridge/internal/domain"
	"github.com/vburojevic/dbgbridge/internal/events"
)

const currentMarker = "=> "

var (
	currentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

// TextWriter renders human readable tables and lines
type TextWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTextWriter creates a new text writer
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: w}
}

func (t *TextWriter) table(header []string, rows [][]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	table := tablewriter.NewWriter(t.w)
	table.Header(lo.ToAnySlice(header)...)
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func (t *TextWriter) line(format string, args ...any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.w, format+"\n", args...)
	return err
}

func (t *TextWriter) WriteFrames(frames []dap.StackFrame) error {
	rows := make([][]string, 0, len(frames))
	for _, f := range frames {
		source := f.Source.Name
		if source == "" {
			source = f.Source.Path
		}
		rows = append(rows, []string{strconv.Itoa(f.Id), f.Name, source, strconv.Itoa(f.Line)})
	}
	return t.table([]string{"#", "Function", "Source", "Line"}, rows)
}

func (t *TextWriter) WriteScopes(frame int, scopes []debugctx.Scope) error {
	rows := make([][]string, 0, len(scopes))
	for _, s := range scopes {
		avail := "yes"
		if !s.Available {
			avail = "no"
		}
		rows = append(rows, []string{s.Name, strconv.Itoa(s.VariablesReference), avail})
	}
	return t.table([]string{"Scope", "Ref", "Available"}, rows)
}

func (t *TextWriter) WriteVariables(ref int, vars []dap.Variable) error {
	rows := make([][]string, 0, len(vars))
	for _, v := range vars {
		child := ""
		if v.VariablesReference > 0 {
			child = strconv.Itoa(v.VariablesReference)
		}
		rows = append(rows, []string{v.Name, v.Value, v.Type, child})
	}
	return t.table([]string{"Name", "Value", "Type", "Ref"}, rows)
}

func (t *TextWriter) WriteEval(expr string, res debugctx.EvalResult) error {
	if res.Type == "" {
		return t.line("%s = %s", expr, res.Value)
	}
	return t.line("%s = %s %s", expr, res.Value, dimStyle.Render("("+res.Type+")"))
}

func (t *TextWriter) WriteAssigned(name, value string) error {
	return t.line("%s := %s", name, value)
}

// WriteDisassembly prints one instruction per line, marking the current row
func (t *TextWriter) WriteDisassembly(block debugctx.Block) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, ins := range block.Instructions {
		line := "   " + ins
		if i == block.CurrentRow {
			line = currentStyle.Render(currentMarker + ins)
		}
		if _, err := fmt.Fprintln(t.w, line); err != nil {
			return err
		}
	}
	return nil
}

func (t *TextWriter) WriteInstructions(instrs []dap.DisassembledInstruction) error {
	rows := make([][]string, 0, len(instrs))
	for _, ins := range instrs {
		loc := ""
		if ins.Location.Name != "" {
			loc = fmt.Sprintf("%s:%d", ins.Location.Name, ins.Line)
		}
		rows = append(rows, []string{ins.Address, ins.InstructionBytes, strings.TrimSpace(ins.Instruction), ins.Symbol, loc})
	}
	return t.table([]string{"Address", "Bytes", "Instruction", "Symbol", "Source"}, rows)
}

func (t *TextWriter) WriteDescriptor(desc string, attrs []descriptor.Attr) error {
	rows := make([][]string, 0, len(attrs))
	for i, a := range attrs {
		var value string
		switch a.Kind {
		case descriptor.KindString:
			value = strconv.Quote(a.Str)
		case descriptor.KindInteger:
			value = strconv.FormatInt(a.Int, 10)
		case descriptor.KindBoolean:
			value = strconv.FormatBool(a.Bool)
		}
		rows = append(rows, []string{strconv.Itoa(i), a.Kind.String(), value})
	}
	if err := t.line("%s", desc); err != nil {
		return err
	}
	return t.table([]string{"#", "Kind", "Value"}, rows)
}

func (t *TextWriter) WriteDebugEvent(ev events.DebugEvent) error {
	text := "[" + ev.Kind.String() + "]"
	if ev.Description != "" {
		text += " " + ev.Description
	}
	if len(ev.Params) > 0 {
		text += " " + dimStyle.Render(strings.Join(ev.Params, " "))
	}
	return t.line("%s", text)
}

func (t *TextWriter) WriteLogEvent(ev events.LogEvent, repeats int) error {
	text := fmt.Sprintf("%-7s %s", ev.Severity.String(), ev.Text)
	if ev.Severity == events.SeverityError {
		text = errorStyle.Render(text)
	}
	if repeats > 1 {
		text += dimStyle.Render(fmt.Sprintf(" (x%d)", repeats))
	}
	return t.line("%s", text)
}

func (t *TextWriter) WriteOutput(data string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := io.WriteString(t.w, data)
	return err
}

func (t *TextWriter) WriteSessionStart(s *domain.SessionStart) error {
	return t.line("Session %s connected to %s (callbacks on %s)", s.SessionID, s.Registry, s.Callback)
}

func (t *TextWriter) WriteSessionEnd(s *domain.SessionEnd) error {
	sum := s.Summary
	text := fmt.Sprintf("Session %s ended: %d events, %d stops, %d log events, %d output bytes, %ds",
		s.SessionID, sum.Events, sum.Stops, sum.LogEvents, sum.OutputBytes, sum.DurationSeconds)
	if s.ExitCode != nil {
		text += fmt.Sprintf(", exit code %d", *s.ExitCode)
	}
	return t.line("%s", text)
}

func (t *TextWriter) WriteError(code, message string, hint ...string) error {
	text := fmt.Sprintf("Error [%s]: %s", code, message)
	if len(hint) > 0 && hint[0] != "" {
		text += fmt.Sprintf(" (hint: %s)", hint[0])
	}
	return t.line("%s", text)
}
