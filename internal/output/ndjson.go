// Package output renders bridge results as NDJSON records or text tables.
package output

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/google/go-dap"

	"github.com/vburojevic/dbgbridge/internal/debugctx"
	"github.com/vburojevic/dbgbridge/internal/descriptor"
	"github.com/vburojevic/dbgbridge/internal/domain"
	"github.com/vburojevic/dbgbridge/internal/events"
)

// SchemaVersion is stamped on every NDJSON record.
const SchemaVersion = 1

// Writer is implemented by NDJSONWriter and TextWriter.
type Writer interface {
	WriteFrames(frames []dap.StackFrame) error
	WriteScopes(frame int, scopes []debugctx.Scope) error
	WriteVariables(ref int, vars []dap.Variable) error
	WriteEval(expr string, res debugctx.EvalResult) error
	WriteAssigned(name, value string) error
	WriteDisassembly(block debugctx.Block) error
	WriteInstructions(instrs []dap.DisassembledInstruction) error
	WriteDescriptor(desc string, attrs []descriptor.Attr) error
	WriteDebugEvent(ev events.DebugEvent) error
	WriteLogEvent(ev events.LogEvent, repeats int) error
	WriteOutput(data string) error
	WriteSessionStart(s *domain.SessionStart) error
	WriteSessionEnd(s *domain.SessionEnd) error
	WriteError(code, message string, hint ...string) error
}

// ErrorOutput is the NDJSON error record
type ErrorOutput struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Hint          string `json:"hint,omitempty"`
}

type framesRecord struct {
	Type          string           `json:"type"`
	SchemaVersion int              `json:"schemaVersion"`
	Frames        []dap.StackFrame `json:"frames"`
}

type scopesRecord struct {
	Type          string           `json:"type"`
	SchemaVersion int              `json:"schemaVersion"`
	Frame         int              `json:"frame"`
	Scopes        []debugctx.Scope `json:"scopes"`
}

type variablesRecord struct {
	Type               string         `json:"type"`
	SchemaVersion      int            `json:"schemaVersion"`
	VariablesReference int            `json:"variablesReference"`
	Variables          []dap.Variable `json:"variables"`
}

type evalRecord struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Expression    string `json:"expression"`
	debugctx.EvalResult
}

type assignedRecord struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Name          string `json:"name"`
	Value         string `json:"value"`
}

type disassemblyRecord struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	debugctx.Block
}

type instructionsRecord struct {
	Type          string                        `json:"type"`
	SchemaVersion int                           `json:"schemaVersion"`
	Instructions  []dap.DisassembledInstruction `json:"instructions"`
}

type descriptorRecord struct {
	Type          string            `json:"type"`
	SchemaVersion int               `json:"schemaVersion"`
	Descriptor    string            `json:"descriptor"`
	Attributes    []descriptor.Attr `json:"attributes"`
}

type debugEventRecord struct {
	Type          string   `json:"type"`
	SchemaVersion int      `json:"schemaVersion"`
	Kind          string   `json:"kind"`
	Description   string   `json:"description,omitempty"`
	Params        []string `json:"params,omitempty"`
}

type logEventRecord struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Severity      string `json:"severity"`
	Text          string `json:"text"`
	Repeats       int    `json:"repeats,omitempty"`
}

type outputRecord struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Data          string `json:"data"`
}

// NDJSONWriter writes one JSON object per line. Safe for concurrent use.
type NDJSONWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewNDJSONWriter creates a new NDJSON writer
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{enc: json.NewEncoder(w)}
}

// WriteRaw writes any value as a single line
func (w *NDJSONWriter) WriteRaw(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

func (w *NDJSONWriter) WriteFrames(frames []dap.StackFrame) error {
	if frames == nil {
		frames = []dap.StackFrame{}
	}
	return w.WriteRaw(framesRecord{Type: "stack", SchemaVersion: SchemaVersion, Frames: frames})
}

func (w *NDJSONWriter) WriteScopes(frame int, scopes []debugctx.Scope) error {
	return w.WriteRaw(scopesRecord{Type: "scopes", SchemaVersion: SchemaVersion, Frame: frame, Scopes: scopes})
}

func (w *NDJSONWriter) WriteVariables(ref int, vars []dap.Variable) error {
	if vars == nil {
		vars = []dap.Variable{}
	}
	return w.WriteRaw(variablesRecord{Type: "variables", SchemaVersion: SchemaVersion, VariablesReference: ref, Variables: vars})
}

func (w *NDJSONWriter) WriteEval(expr string, res debugctx.EvalResult) error {
	return w.WriteRaw(evalRecord{Type: "eval", SchemaVersion: SchemaVersion, Expression: expr, EvalResult: res})
}

func (w *NDJSONWriter) WriteAssigned(name, value string) error {
	return w.WriteRaw(assignedRecord{Type: "set", SchemaVersion: SchemaVersion, Name: name, Value: value})
}

func (w *NDJSONWriter) WriteDisassembly(block debugctx.Block) error {
	return w.WriteRaw(disassemblyRecord{Type: "disassembly", SchemaVersion: SchemaVersion, Block: block})
}

func (w *NDJSONWriter) WriteInstructions(instrs []dap.DisassembledInstruction) error {
	if instrs == nil {
		instrs = []dap.DisassembledInstruction{}
	}
	return w.WriteRaw(instructionsRecord{Type: "instructions", SchemaVersion: SchemaVersion, Instructions: instrs})
}

func (w *NDJSONWriter) WriteDescriptor(desc string, attrs []descriptor.Attr) error {
	return w.WriteRaw(descriptorRecord{Type: "descriptor", SchemaVersion: SchemaVersion, Descriptor: desc, Attributes: attrs})
}

func (w *NDJSONWriter) WriteDebugEvent(ev events.DebugEvent) error {
	return w.WriteRaw(debugEventRecord{
		Type:          "debug_event",
		SchemaVersion: SchemaVersion,
		Kind:          ev.Kind.String(),
		Description:   ev.Description,
		Params:        ev.Params,
	})
}

func (w *NDJSONWriter) WriteLogEvent(ev events.LogEvent, repeats int) error {
	return w.WriteRaw(logEventRecord{
		Type:          "log_event",
		SchemaVersion: SchemaVersion,
		Severity:      ev.Severity.String(),
		Text:          ev.Text,
		Repeats:       repeats,
	})
}

func (w *NDJSONWriter) WriteOutput(data string) error {
	return w.WriteRaw(outputRecord{Type: "output", SchemaVersion: SchemaVersion, Data: data})
}

func (w *NDJSONWriter) WriteSessionStart(s *domain.SessionStart) error {
	return w.WriteRaw(s)
}

func (w *NDJSONWriter) WriteSessionEnd(s *domain.SessionEnd) error {
	return w.WriteRaw(s)
}

// WriteError writes an error record
func (w *NDJSONWriter) WriteError(code, message string, hint ...string) error {
	out := ErrorOutput{Type: "error", SchemaVersion: SchemaVersion, Code: code, Message: message}
	if len(hint) > 0 {
		out.Hint = hint[0]
	}
	return w.WriteRaw(out)
}

// WriteTmux announces a tmux console session
func (w *NDJSONWriter) WriteTmux(session, attach string) error {
	return w.WriteRaw(map[string]any{
		"type":          "tmux",
		"schemaVersion": SchemaVersion,
		"session":       session,
		"attach":        attach,
	})
}

// WriteTrigger reports a watch trigger execution
func (w *NDJSONWriter) WriteTrigger(trigger, command, errText string) error {
	rec := map[string]any{
		"type":          "trigger",
		"schemaVersion": SchemaVersion,
		"trigger":       trigger,
		"command":       command,
	}
	if errText != "" {
		rec["type"] = "trigger_error"
		rec["error"] = errText
	}
	return w.WriteRaw(rec)
}

var (
	_ Writer = (*NDJSONWriter)(nil)
	_ Writer = (*TextWriter)(nil)
)
