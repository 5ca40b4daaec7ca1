package backend

import (
	"context"
	"fmt"
)

// Caller performs one RPC. *rpc.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, args, reply any) error
}

// Registry talks to the backend's service registry.
type Registry struct {
	c Caller
}

func NewRegistry(c Caller) *Registry { return &Registry{c: c} }

// GetService looks up where a named service is served.
func (r *Registry) GetService(ctx context.Context, name string) (ServiceLocation, error) {
	var loc ServiceLocation
	err := r.c.Call(ctx, Method(ServiceRegistryService, "getService"), GetServiceRequest{Name: name}, &loc)
	if err != nil {
		return ServiceLocation{}, fmt.Errorf("look up service %s: %w", name, err)
	}
	return loc, nil
}

// RegisterService announces a service hosted by the caller.
func (r *Registry) RegisterService(ctx context.Context, name string, loc ServiceLocation) error {
	err := r.c.Call(ctx, Method(ServiceRegistryService, "registerService"), RegisterServiceRequest{Name: name, Location: loc}, nil)
	if err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}
	return nil
}

// ContextManager reads the call stack and selects the inspected context.
type ContextManager struct {
	c Caller
}

func NewContextManager(c Caller) *ContextManager { return &ContextManager{c: c} }

// GetStack returns count contexts starting at start, innermost first.
// A negative count returns every frame.
func (m *ContextManager) GetStack(ctx context.Context, ref ContextRef, start, count int) ([]ContextInfo, error) {
	var infos []ContextInfo
	req := GetStackRequest{Context: ref, Start: start, Count: count}
	if err := m.c.Call(ctx, Method(ContextManagerService, "getStack"), req, &infos); err != nil {
		return nil, fmt.Errorf("get stack: %w", err)
	}
	return infos, nil
}

func (m *ContextManager) GetContextInfo(ctx context.Context, ref ContextRef) (ContextInfo, error) {
	var info ContextInfo
	if err := m.c.Call(ctx, Method(ContextManagerService, "getContextInfo"), ContextRequest{Context: ref}, &info); err != nil {
		return ContextInfo{}, fmt.Errorf("get context info: %w", err)
	}
	return info, nil
}

func (m *ContextManager) SetInspectionContext(ctx context.Context, ref ContextRef) error {
	if err := m.c.Call(ctx, Method(ContextManagerService, "setInspectionContext"), ContextRequest{Context: ref}, nil); err != nil {
		return fmt.Errorf("set inspection context: %w", err)
	}
	return nil
}

// Debugger evaluates expressions.
type Debugger struct {
	c Caller
}

func NewDebugger(c Caller) *Debugger { return &Debugger{c: c} }

// EvalExpression evaluates expr in ref. allowAssign permits side effects
// such as "x=1".
func (d *Debugger) EvalExpression(ctx context.Context, ref ContextRef, expr string, format ExprFormat, allowAssign bool) (ExprValue, error) {
	var v ExprValue
	req := EvalRequest{Context: ref, Expression: expr, Format: format, AllowAssign: allowAssign}
	if err := d.c.Call(ctx, Method(DebuggerService, "evalExpression"), req, &v); err != nil {
		return ExprValue{}, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	return v, nil
}

// Disassembly disassembles address ranges.
type Disassembly struct {
	c Caller
}

func NewDisassembly(c Caller) *Disassembly { return &Disassembly{c: c} }

func (d *Disassembly) DisassembleRange(ctx context.Context, from, to Location, ref ContextRef) ([]DisassembledLocation, error) {
	var locs []DisassembledLocation
	req := DisassembleRangeRequest{From: from, To: to, Context: ref}
	if err := d.c.Call(ctx, Method(DisassemblyService, "disassembleRange"), req, &locs); err != nil {
		return nil, fmt.Errorf("disassemble 0x%x-0x%x: %w", from.Address, to.Address, err)
	}
	return locs, nil
}

// SourceLookup maps code locations to source ranges.
type SourceLookup struct {
	c Caller
}

func NewSourceLookup(c Caller) *SourceLookup { return &SourceLookup{c: c} }

func (s *SourceLookup) GetSourceRanges(ctx context.Context, loc Location) ([]SourceRange, error) {
	var ranges []SourceRange
	if err := s.c.Call(ctx, Method(SourceLookupService, "getSourceRanges"), SourceRangesRequest{Location: loc}, &ranges); err != nil {
		return nil, fmt.Errorf("source ranges for 0x%x: %w", loc.Address, err)
	}
	return ranges, nil
}

// ListWindow reads rows from one of the backend's list windows (locals,
// statics, registers).
type ListWindow struct {
	c    Caller
	name string
}

func NewListWindow(c Caller, name string) *ListWindow { return &ListWindow{c: c, name: name} }

// Name returns the window's service name.
func (w *ListWindow) Name() string { return w.name }

// Rows returns the top-level rows.
func (w *ListWindow) Rows(ctx context.Context) ([]ListWindowRow, error) {
	var rows []ListWindowRow
	if err := w.c.Call(ctx, Method(w.name, "getRows"), nil, &rows); err != nil {
		return nil, fmt.Errorf("%s rows: %w", w.name, err)
	}
	return rows, nil
}

// Children returns the rows below the row with the given SubRef.
func (w *ListWindow) Children(ctx context.Context, ref int) ([]ListWindowRow, error) {
	var rows []ListWindowRow
	if err := w.c.Call(ctx, Method(w.name, "getChildren"), ChildrenRequest{Ref: ref}, &rows); err != nil {
		return nil, fmt.Errorf("%s children of %d: %w", w.name, ref, err)
	}
	return rows, nil
}
