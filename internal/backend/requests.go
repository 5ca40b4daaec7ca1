package backend

import "github.com/vburojevic/dbgbridge/internal/events"

// Request and response bodies of the backend services.

type GetServiceRequest struct {
	Name string `cbor:"1,keyasint"`
}

type RegisterServiceRequest struct {
	Name     string          `cbor:"1,keyasint"`
	Location ServiceLocation `cbor:"2,keyasint"`
}

type GetStackRequest struct {
	Context ContextRef `cbor:"1,keyasint"`
	Start   int        `cbor:"2,keyasint"`
	Count   int        `cbor:"3,keyasint"`
}

type ContextRequest struct {
	Context ContextRef `cbor:"1,keyasint"`
}

type EvalRequest struct {
	Context     ContextRef `cbor:"1,keyasint"`
	Expression  string     `cbor:"2,keyasint"`
	Format      ExprFormat `cbor:"3,keyasint"`
	AllowAssign bool       `cbor:"4,keyasint"`
}

type DisassembleRangeRequest struct {
	From    Location   `cbor:"1,keyasint"`
	To      Location   `cbor:"2,keyasint"`
	Context ContextRef `cbor:"3,keyasint"`
}

type SourceRangesRequest struct {
	Location Location `cbor:"1,keyasint"`
}

type ChildrenRequest struct {
	Ref int `cbor:"1,keyasint"`
}

// Callback bodies sent by the backend to the bridge.

type DebugEventRequest struct {
	Event events.DebugEvent `cbor:"1,keyasint"`
}

type LogEventRequest struct {
	Event events.LogEvent `cbor:"1,keyasint"`
}

type ContextChangedRequest struct {
	Context ContextRef `cbor:"1,keyasint"`
}

type InputRequest struct {
	Length int `cbor:"1,keyasint"`
}

type InputReply struct {
	Data []byte `cbor:"1,keyasint"`
}

type OutputRequest struct {
	Data []byte `cbor:"1,keyasint"`
}

type ExitRequest struct {
	Code int `cbor:"1,keyasint"`
}

type AssertRequest struct {
	Message    string `cbor:"1,keyasint"`
	Expression string `cbor:"2,keyasint,omitempty"`
	File       string `cbor:"3,keyasint,omitempty"`
	Line       int    `cbor:"4,keyasint,omitempty"`
}
