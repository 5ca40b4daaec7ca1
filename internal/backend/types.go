// Package backend describes the debugger backend's RPC services and provides
// typed clients for them.
package backend

import "fmt"

// Well-known service names.
const (
	ServiceRegistryService = "ServiceRegistry"
	ContextManagerService  = "ContextManager"
	DebuggerService        = "Debugger"
	DisassemblyService     = "Disassembly"
	SourceLookupService    = "SourceLookup"

	LocalsWindow    = "ListWindow.Locals"
	StaticsWindow   = "ListWindow.Statics"
	RegistersWindow = "ListWindow.Registers"

	// Services hosted by the bridge and called back by the backend.
	DebugEventListenerService = "DebugEventListener"
	LibSupportService         = "LibSupportService2"
)

// Method joins a service and method name as it appears on the wire.
func Method(service, method string) string {
	return service + "." + method
}

// ContextType selects which kind of context a ContextRef names.
type ContextType int32

const (
	ContextCurrentInspection ContextType = iota
	ContextCurrentBase
	ContextStack
	ContextTask
)

func (t ContextType) String() string {
	switch t {
	case ContextCurrentInspection:
		return "current_inspection"
	case ContextCurrentBase:
		return "current_base"
	case ContextStack:
		return "stack"
	case ContextTask:
		return "task"
	default:
		return fmt.Sprintf("context_type(%d)", int32(t))
	}
}

// ContextRef identifies an execution context (a stack frame on a core/task).
type ContextRef struct {
	Core  int32       `cbor:"1,keyasint" json:"core"`
	Level int32       `cbor:"2,keyasint" json:"level"`
	Task  int32       `cbor:"3,keyasint" json:"task"`
	Type  ContextType `cbor:"4,keyasint" json:"type"`
}

// CurrentInspection is the context the backend is currently inspecting.
func CurrentInspection() ContextRef {
	return ContextRef{Type: ContextCurrentInspection}
}

// Location is a code or data address in a memory zone.
type Location struct {
	Zone    int32  `cbor:"1,keyasint" json:"zone"`
	Address uint64 `cbor:"2,keyasint" json:"address"`
}

// SourceLocation is a position in a source file.
type SourceLocation struct {
	Filename string `cbor:"1,keyasint" json:"filename"`
	Line     int    `cbor:"2,keyasint" json:"line"`
	Col      int    `cbor:"3,keyasint" json:"col"`
}

// SourceRange is a span of source text.
type SourceRange struct {
	Filename string         `cbor:"1,keyasint" json:"filename"`
	Text     string         `cbor:"2,keyasint,omitempty" json:"text,omitempty"`
	First    SourceLocation `cbor:"3,keyasint" json:"first"`
	Last     SourceLocation `cbor:"4,keyasint" json:"last"`
}

// ContextInfo describes one context, as returned by getStack and
// getContextInfo.
type ContextInfo struct {
	Context      ContextRef    `cbor:"1,keyasint" json:"context"`
	FunctionName string        `cbor:"2,keyasint" json:"function_name"`
	SourceRanges []SourceRange `cbor:"3,keyasint,omitempty" json:"source_ranges,omitempty"`
	ExecLocation Location      `cbor:"4,keyasint" json:"exec_location"`
}

// ExprFormat selects how values are formatted.
type ExprFormat int32

const (
	FormatDefault ExprFormat = iota
	FormatBinary
	FormatOctal
	FormatDecimal
	FormatHex
	FormatChar
)

// ExprValue is the result of an evaluated expression.
type ExprValue struct {
	Value        string `cbor:"1,keyasint" json:"value"`
	Type         string `cbor:"2,keyasint" json:"type"`
	SubExprCount int    `cbor:"3,keyasint,omitempty" json:"sub_expr_count,omitempty"`
}

// DisassembledLocation is one block of disassembly starting at Location.
// Instructions may hold several newline separated lines each.
type DisassembledLocation struct {
	Location     Location `cbor:"1,keyasint" json:"location"`
	Instructions []string `cbor:"2,keyasint" json:"instructions"`
	Function     string   `cbor:"3,keyasint,omitempty" json:"function,omitempty"`
	Offset       int64    `cbor:"4,keyasint,omitempty" json:"offset,omitempty"`
}

// ListWindowRow is one row of a list window. SubRef > 0 means the row has
// children that can be fetched with getChildren.
type ListWindowRow struct {
	Values []string `cbor:"1,keyasint" json:"values"`
	SubRef int      `cbor:"2,keyasint,omitempty" json:"sub_ref,omitempty"`
}

// ServiceLocation is where a registered service can be reached.
type ServiceLocation struct {
	Host    string `cbor:"1,keyasint" json:"host"`
	Port    int    `cbor:"2,keyasint" json:"port"`
	Version string `cbor:"3,keyasint,omitempty" json:"version,omitempty"`
}

// Addr returns host:port.
func (l ServiceLocation) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}
