// Package debugctx owns the live stack, scope and variable handles of a
// debug session and serialises every operation that depends on the
// backend's inspection context.
package debugctx

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/go-dap"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/vburojevic/dbgbridge/internal/backend"
	"github.com/vburojevic/dbgbridge/internal/disasm"
	"github.com/vburojevic/dbgbridge/internal/domain"
	"github.com/vburojevic/dbgbridge/internal/handles"
	"github.com/vburojevic/dbgbridge/internal/variables"
)

// Scope names, in the order FetchScopes returns them.
const (
	ScopeLocal     = "Local"
	ScopeStatic    = "Static"
	ScopeRegisters = "Registers"
)

const (
	DefaultBefore = 20
	DefaultAfter  = 40
)

// ContextService is the part of the backend context manager used here.
type ContextService interface {
	GetStack(ctx context.Context, ref backend.ContextRef, start, count int) ([]backend.ContextInfo, error)
	GetContextInfo(ctx context.Context, ref backend.ContextRef) (backend.ContextInfo, error)
	SetInspectionContext(ctx context.Context, ref backend.ContextRef) error
}

// Evaluator evaluates expressions in a context.
type Evaluator interface {
	EvalExpression(ctx context.Context, ref backend.ContextRef, expr string, format backend.ExprFormat, allowAssign bool) (backend.ExprValue, error)
}

// Disassembler returns raw disassembly blocks. *disasm.Engine satisfies it.
type Disassembler interface {
	Range(ctx context.Context, from, to backend.Location, ref backend.ContextRef) ([]backend.DisassembledLocation, error)
}

// Scope is a client scope plus whether its variables can be fetched.
type Scope struct {
	dap.Scope
	Available bool `json:"available"`
}

// EvalResult is the outcome of EvalExpression.
type EvalResult struct {
	Value       string `json:"value"`
	Type        string `json:"type"`
	HasChildren bool   `json:"has_children"`
}

// Block is a run of disassembly lines around the current location.
type Block struct {
	// CurrentRow indexes the first line of the block at the current address.
	CurrentRow   int      `json:"current_row"`
	Instructions []string `json:"instructions"`
}

// reference is what a handle resolves to.
type reference interface {
	isReference()
}

type scopeRef struct {
	provider variables.Provider
	context  backend.ContextRef
}

type variableRef struct {
	provider variables.Provider
	ref      int
}

type scopeKind struct {
	name     string
	provider variables.Provider
}

func (scopeRef) isReference()    {}
func (variableRef) isReference() {}

// Deps are the collaborators of a Manager. Providers may be nil.
type Deps struct {
	Contexts    ContextService
	Debugger    Evaluator
	Disassembly Disassembler
	Locals      variables.Provider
	Statics     variables.Provider
	Registers   variables.Provider
}

// Config tunes a Manager.
type Config struct {
	HandleStart int
	// Before and After size the window FetchDisassembly requests around the
	// current address, in bytes.
	Before uint64
	After  uint64
}

// Manager serves stack, scope, variable, evaluation and disassembly
// requests for one session.
type Manager struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	// lock guards frames and every select-then-act sequence on the backend.
	lock    *semaphore.Weighted
	frames  []backend.ContextRef
	handles *handles.Table[reference]
}

// New creates a manager from already connected collaborators.
func New(deps Deps, cfg Config, logger *zap.Logger) *Manager {
	if cfg.Before == 0 {
		cfg.Before = DefaultBefore
	}
	if cfg.After == 0 {
		cfg.After = DefaultAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		deps:    deps,
		cfg:     cfg,
		logger:  logger,
		lock:    semaphore.NewWeighted(1),
		handles: handles.New[reference](cfg.HandleStart),
	}
}

// FetchStack returns every frame of the current inspection context,
// innermost first, and replaces the live frame set.
func (m *Manager) FetchStack(ctx context.Context) ([]dap.StackFrame, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	infos, err := m.deps.Contexts.GetStack(ctx, backend.CurrentInspection(), 0, -1)
	if err != nil {
		return nil, err
	}

	m.frames = lo.Map(infos, func(info backend.ContextInfo, _ int) backend.ContextRef {
		return info.Context
	})
	m.logger.Debug("fetched stack", zap.Int("frames", len(infos)))

	return lo.Map(infos, func(info backend.ContextInfo, i int) dap.StackFrame {
		frame := dap.StackFrame{Id: i, Name: info.FunctionName}
		if len(info.SourceRanges) > 0 {
			r := info.SourceRanges[0]
			frame.Source = dap.Source{Name: disasm.Basename(r.Filename), Path: r.Filename}
			frame.Line = r.First.Line
			frame.Column = r.First.Col
		}
		return frame
	}), nil
}

// FetchScopes returns the Local, Static and Registers scopes of a frame,
// each with a fresh handle.
func (m *Manager) FetchScopes(ctx context.Context, frame int) ([]Scope, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ref, err := m.frame(frame)
	if err != nil {
		return nil, err
	}

	kinds := []scopeKind{
		{ScopeLocal, m.deps.Locals},
		{ScopeStatic, m.deps.Statics},
		{ScopeRegisters, m.deps.Registers},
	}
	return lo.Map(kinds, func(k scopeKind, _ int) Scope {
		h := m.handles.Create(scopeRef{provider: k.provider, context: ref})
		return Scope{
			Scope:     dap.Scope{Name: k.name, VariablesReference: h},
			Available: k.provider != nil,
		}
	}), nil
}

// FetchVariables lists the variables behind a scope handle, or the children
// behind an expandable variable's handle.
func (m *Manager) FetchVariables(ctx context.Context, handle int) ([]dap.Variable, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	r, ok := m.handles.Get(handle)
	if !ok {
		return nil, fmt.Errorf("unknown handle %d: %w", handle, domain.ErrOutOfRange)
	}

	var (
		provider variables.Provider
		vars     []dap.Variable
	)
	switch r := r.(type) {
	case scopeRef:
		if r.provider == nil {
			return nil, domain.ErrBackendUnavailable
		}
		if err := m.deps.Contexts.SetInspectionContext(ctx, r.context); err != nil {
			return nil, err
		}
		provider = r.provider
		vars, err = provider.Variables(ctx)
	case variableRef:
		provider = r.provider
		vars, err = provider.Subvariables(ctx, r.ref)
	}
	if err != nil {
		return nil, err
	}

	return lo.Map(vars, func(v dap.Variable, _ int) dap.Variable {
		if v.VariablesReference > 0 {
			v.VariablesReference = m.handles.Create(variableRef{provider: provider, ref: v.VariablesReference})
		}
		return v
	}), nil
}

// SetVariable assigns value to name in the scope's context and returns the
// value as the backend formats it.
func (m *Manager) SetVariable(ctx context.Context, scopeHandle int, name, value string) (string, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	r, ok := m.handles.Get(scopeHandle)
	scope, isScope := r.(scopeRef)
	if !ok || !isScope {
		return "", fmt.Errorf("handle %d is not a scope: %w", scopeHandle, domain.ErrOutOfRange)
	}

	if err := m.deps.Contexts.SetInspectionContext(ctx, scope.context); err != nil {
		return "", err
	}
	v, err := m.deps.Debugger.EvalExpression(ctx, scope.context, name+"="+value, backend.FormatDefault, true)
	if err != nil {
		return "", err
	}
	return v.Value, nil
}

// EvalExpression evaluates expr in the context of a frame.
func (m *Manager) EvalExpression(ctx context.Context, frame int, expr string) (EvalResult, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return EvalResult{}, err
	}
	defer release()

	ref, err := m.frame(frame)
	if err != nil {
		return EvalResult{}, err
	}
	if err := m.deps.Contexts.SetInspectionContext(ctx, ref); err != nil {
		return EvalResult{}, err
	}
	v, err := m.deps.Debugger.EvalExpression(ctx, ref, expr, backend.FormatDefault, true)
	if err != nil {
		return EvalResult{}, err
	}
	return EvalResult{Value: v.Value, Type: v.Type, HasChildren: v.SubExprCount > 0}, nil
}

// FetchDisassembly disassembles a fixed window around the current execution
// location.
func (m *Manager) FetchDisassembly(ctx context.Context) (Block, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return Block{}, err
	}
	defer release()

	current := backend.CurrentInspection()
	info, err := m.deps.Contexts.GetContextInfo(ctx, current)
	if err != nil {
		return Block{}, err
	}
	loc := info.ExecLocation

	from := backend.Location{Zone: loc.Zone, Address: subSaturating(loc.Address, m.cfg.Before)}
	to := backend.Location{Zone: loc.Zone, Address: addSaturating(loc.Address, m.cfg.After)}
	blocks, err := m.deps.Disassembly.Range(ctx, from, to, current)
	if err != nil {
		return Block{}, err
	}

	block := Block{Instructions: []string{}}
	for _, blk := range blocks {
		if blk.Location.Address == loc.Address {
			block.CurrentRow = len(block.Instructions)
		}
		for _, text := range blk.Instructions {
			block.Instructions = append(block.Instructions, strings.Split(text, "\n")...)
		}
	}
	return block, nil
}

// Frames returns how many frames the last FetchStack produced.
func (m *Manager) Frames(ctx context.Context) (int, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	return len(m.frames), nil
}

func (m *Manager) acquire(ctx context.Context) (func(), error) {
	if err := m.lock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { m.lock.Release(1) }, nil
}

func (m *Manager) frame(i int) (backend.ContextRef, error) {
	if i < 0 || i >= len(m.frames) {
		return backend.ContextRef{}, fmt.Errorf("frame index %d: %w", i, domain.ErrOutOfRange)
	}
	return m.frames[i], nil
}

func subSaturating(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func addSaturating(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
