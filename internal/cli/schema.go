package cli

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/vburojevic/dbgbridge/internal/events"
)

// SchemaCmd outputs JSON Schema for dbgbridge NDJSON records
type SchemaCmd struct {
	Type []string `short:"t" help:"Record types to include (stack,scopes,variables,eval,set,disassembly,instructions,descriptor,debug_event,log_event,output,session_start,session_end,error,tmux,trigger). Default: all"`
}

// Run executes the schema command
func (c *SchemaCmd) Run(globals *Globals) error {
	schemas := allSchemas()

	typesToOutput := c.Type
	if len(typesToOutput) == 0 {
		typesToOutput = lo.Keys(schemas)
		sort.Strings(typesToOutput)
	}

	defs := map[string]any{}
	for _, t := range typesToOutput {
		t = strings.ToLower(strings.TrimSpace(t))
		if schema, ok := schemas[t]; ok {
			defs[t] = schema
		}
	}

	out := map[string]any{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"title":       "dbgbridge Output Schemas",
		"description": "JSON Schema definitions for all dbgbridge NDJSON record types",
		"definitions": defs,
	}

	encoder := json.NewEncoder(globals.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func allSchemas() map[string]map[string]any {
	return map[string]map[string]any{
		"stack":         stackSchema(),
		"scopes":        scopesSchema(),
		"variables":     variablesSchema(),
		"eval":          evalSchema(),
		"set":           setSchema(),
		"disassembly":   disassemblySchema(),
		"instructions":  instructionsSchema(),
		"descriptor":    descriptorSchema(),
		"debug_event":   debugEventSchema(),
		"log_event":     logEventSchema(),
		"output":        outputSchema(),
		"session_start": sessionStartSchema(),
		"session_end":   sessionEndSchema(),
		"error":         errorSchema(),
		"tmux":          tmuxSchema(),
		"trigger":       triggerSchema(),
	}
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

func record(recordType, title, description string, props map[string]any, required ...string) map[string]any {
	props["type"] = map[string]any{"type": "string", "const": recordType}
	props["schemaVersion"] = map[string]any{"type": "integer", "const": 1}
	return map[string]any{
		"type":        "object",
		"title":       title,
		"description": description,
		"properties":  props,
		"required":    append([]string{"type", "schemaVersion"}, required...),
	}
}

func stackSchema() map[string]any {
	return record("stack", "Call Stack", "Frames of the current inspection context, innermost first", map[string]any{
		"frames": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":     prop("integer", "Frame index, usable as --frame"),
					"name":   prop("string", "Function name"),
					"source": prop("object", "Source file of the frame"),
					"line":   prop("integer", "1-based source line"),
					"column": prop("integer", "1-based source column"),
				},
			},
		},
	}, "frames")
}

func scopesSchema() map[string]any {
	return record("scopes", "Frame Scopes", "Scopes of one frame with their variables references", map[string]any{
		"frame":  prop("integer", "Frame index"),
		"scopes": prop("array", "Local, Static and Registers scopes; available is false when the backend does not offer the list window"),
	}, "frame", "scopes")
}

func variablesSchema() map[string]any {
	return record("variables", "Variables", "Variables behind one variables reference", map[string]any{
		"variablesReference": prop("integer", "Handle the variables were fetched from"),
		"variables":          prop("array", "Variables with name, value, type and a nonzero variablesReference when they have children"),
	}, "variablesReference", "variables")
}

func evalSchema() map[string]any {
	return record("eval", "Evaluation", "Result of evaluating an expression", map[string]any{
		"expression":   prop("string", "Expression as given"),
		"value":        prop("string", "Formatted value"),
		"type":         prop("string", "Type of the value"),
		"has_children": prop("boolean", "Whether the value has subexpressions"),
	}, "expression", "value")
}

func setSchema() map[string]any {
	return record("set", "Assignment", "Value of a variable after assignment", map[string]any{
		"name":  prop("string", "Variable name"),
		"value": prop("string", "Value reported by the backend"),
	}, "name", "value")
}

func disassemblySchema() map[string]any {
	return record("disassembly", "Disassembly Block", "Instruction lines around the current location", map[string]any{
		"current_row":  prop("integer", "Index of the first line of the block at the current location"),
		"instructions": prop("array", "Instruction lines"),
	}, "current_row", "instructions")
}

func instructionsSchema() map[string]any {
	return record("instructions", "Disassembled Instructions", "Decoded instructions for an address window", map[string]any{
		"instructions": prop("array", "Instructions with address, instructionBytes, instruction, symbol and optional location"),
	}, "instructions")
}

func descriptorSchema() map[string]any {
	return record("descriptor", "Descriptor", "A breakpoint descriptor and its typed attributes", map[string]any{
		"descriptor": prop("string", "Encoded descriptor"),
		"attributes": prop("array", "Attributes with kind (0 string, 1 integer, 2 boolean) and value"),
	}, "descriptor", "attributes")
}

func debugEventSchema() map[string]any {
	kinds := lo.Map(events.Kinds(), func(k events.Kind, _ int) string { return k.String() })
	return record("debug_event", "Debug Event", "Asynchronous event posted by the backend", map[string]any{
		"kind":        map[string]any{"type": "string", "enum": kinds, "description": "Event kind"},
		"description": prop("string", "Backend supplied description"),
		"params":      prop("array", "Event parameters"),
	}, "kind")
}

func logEventSchema() map[string]any {
	return record("log_event", "Log Event", "Log message posted by the backend", map[string]any{
		"severity": map[string]any{"type": "string", "enum": []string{"info", "warning", "error", "user"}},
		"text":     prop("string", "Message text"),
		"repeats":  prop("integer", "Times the message was seen when deduplicated"),
	}, "severity", "text")
}

func outputSchema() map[string]any {
	return record("output", "Target Output", "Console output written by the target", map[string]any{
		"data": prop("string", "Output text"),
	}, "data")
}

func sessionStartSchema() map[string]any {
	return record("session_start", "Session Start", "Emitted when a bridge session connects", map[string]any{
		"session_id": prop("string", "Random session identifier"),
		"registry":   prop("string", "Backend service registry address"),
		"callback":   prop("string", "Address of the bridge-hosted callback services"),
		"timestamp":  map[string]any{"type": "string", "format": "date-time"},
	}, "session_id", "registry", "timestamp")
}

func sessionEndSchema() map[string]any {
	return record("session_end", "Session End", "Emitted when a bridge session is torn down", map[string]any{
		"session_id": prop("string", "Session that ended"),
		"exit_code":  prop("integer", "Target exit code when it exited"),
		"summary":    prop("object", "stops, events, log_events, output_bytes, input_requests, duration_seconds"),
	}, "session_id", "summary")
}

func errorSchema() map[string]any {
	return record("error", "Error", "Error record", map[string]any{
		"code": map[string]any{
			"type":        "string",
			"description": "Stable error code",
			"examples":    []string{"SERVICE_UNAVAILABLE", "OUT_OF_RANGE", "PARSE_ERROR", "BACKEND_UNAVAILABLE", "BACKEND_REJECTED", "INVALID_FLAGS"},
		},
		"message": prop("string", "Human readable message"),
		"hint":    prop("string", "Suggested fix"),
	}, "code", "message")
}

func tmuxSchema() map[string]any {
	return record("tmux", "Tmux Session Info", "Where console output is mirrored", map[string]any{
		"session": prop("string", "Tmux session name"),
		"attach":  prop("string", "Command to attach"),
	}, "session", "attach")
}

func triggerSchema() map[string]any {
	return record("trigger", "Trigger", "A watch trigger ran (type trigger_error when it failed)", map[string]any{
		"trigger": prop("string", "Event kind that fired"),
		"command": prop("string", "Shell command"),
		"error":   prop("string", "Failure reason for trigger_error"),
	}, "trigger", "command")
}
