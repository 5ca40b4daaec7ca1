package debugctx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/dbgbridge/internal/backend"
	"github.com/vburojevic/dbgbridge/internal/domain"
)

type fakeContexts struct {
	mu        sync.Mutex
	stack     []backend.ContextInfo
	exec      backend.Location
	inspected []backend.ContextRef
	entered   chan struct{}
	block     chan struct{}
}

func (f *fakeContexts) GetStack(context.Context, backend.ContextRef, int, int) ([]backend.ContextInfo, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stack, nil
}

func (f *fakeContexts) GetContextInfo(_ context.Context, ref backend.ContextRef) (backend.ContextInfo, error) {
	return backend.ContextInfo{Context: ref, ExecLocation: f.exec}, nil
}

func (f *fakeContexts) SetInspectionContext(_ context.Context, ref backend.ContextRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inspected = append(f.inspected, ref)
	return nil
}

type fakeEvaluator struct {
	exprs []string
	err   error
}

func (f *fakeEvaluator) EvalExpression(_ context.Context, _ backend.ContextRef, expr string, _ backend.ExprFormat, _ bool) (backend.ExprValue, error) {
	f.exprs = append(f.exprs, expr)
	if f.err != nil {
		return backend.ExprValue{}, f.err
	}
	return backend.ExprValue{Value: "42", Type: "int", SubExprCount: len(expr) % 2}, nil
}

type fakeProvider struct {
	name     string
	vars     []dap.Variable
	children map[int][]dap.Variable
	subCalls []int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Variables(context.Context) ([]dap.Variable, error) {
	return append([]dap.Variable(nil), p.vars...), nil
}

func (p *fakeProvider) Subvariables(_ context.Context, ref int) ([]dap.Variable, error) {
	p.subCalls = append(p.subCalls, ref)
	children, ok := p.children[ref]
	if !ok {
		return nil, errors.New("no children")
	}
	return append([]dap.Variable(nil), children...), nil
}

type fakeDisassembler struct {
	blocks []backend.DisassembledLocation
	from   backend.Location
	to     backend.Location
}

func (f *fakeDisassembler) Range(_ context.Context, from, to backend.Location, _ backend.ContextRef) ([]backend.DisassembledLocation, error) {
	f.from, f.to = from, to
	return f.blocks, nil
}

func frameInfo(level int32, fn string, file string, line int) backend.ContextInfo {
	info := backend.ContextInfo{
		Context:      backend.ContextRef{Level: level, Type: backend.ContextStack},
		FunctionName: fn,
	}
	if file != "" {
		info.SourceRanges = []backend.SourceRange{{
			Filename: file,
			First:    backend.SourceLocation{Line: line, Col: 5},
			Last:     backend.SourceLocation{Line: line, Col: 30},
		}}
	}
	return info
}

var threeFrames = []backend.ContextInfo{
	frameInfo(0, "DoForegroundProcess", "/proj/Fibonacci.c", 43),
	frameInfo(1, "main", `C:\proj\Utilities.c`, 72),
	frameInfo(2, "[_call_main + 0xd]", "", 0),
}

type fixture struct {
	contexts *fakeContexts
	eval     *fakeEvaluator
	locals   *fakeProvider
	statics  *fakeProvider
	disasm   *fakeDisassembler
	manager  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		contexts: &fakeContexts{stack: threeFrames},
		eval:     &fakeEvaluator{},
		locals: &fakeProvider{
			name: "locals",
			vars: []dap.Variable{
				{Name: "fib", Value: "1", Type: "uint32_t @ R4"},
				{Name: "arr", Value: "<array>", Type: "int[2] @ 0x20", VariablesReference: 4},
			},
			children: map[int][]dap.Variable{
				4: {{Name: "[0]", Value: "1"}, {Name: "[1]", Value: "<struct>", VariablesReference: 9}},
				9: {{Name: "x", Value: "3"}},
			},
		},
		statics: &fakeProvider{name: "statics"},
		disasm:  &fakeDisassembler{},
	}
	f.manager = New(Deps{
		Contexts:    f.contexts,
		Debugger:    f.eval,
		Disassembly: f.disasm,
		Locals:      f.locals,
		Statics:     f.statics,
	}, Config{}, nil)
	return f
}

func TestFetchStack(t *testing.T) {
	f := newFixture(t)

	frames, err := f.manager.FetchStack(context.Background())
	require.NoError(t, err)
	require.Len(t, frames, 3)

	assert.Equal(t, dap.StackFrame{
		Id:     0,
		Name:   "DoForegroundProcess",
		Source: dap.Source{Name: "Fibonacci.c", Path: "/proj/Fibonacci.c"},
		Line:   43,
		Column: 5,
	}, frames[0])
	assert.Equal(t, "Utilities.c", frames[1].Source.Name)
	assert.Equal(t, 72, frames[1].Line)

	assert.Equal(t, dap.StackFrame{Id: 2, Name: "[_call_main + 0xd]"}, frames[2])

	n, err := f.manager.Frames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestFetchScopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("requires a fetched stack", func(t *testing.T) {
		_, err := f.manager.FetchScopes(ctx, 0)
		assert.ErrorIs(t, err, domain.ErrOutOfRange)
	})

	_, err := f.manager.FetchStack(ctx)
	require.NoError(t, err)

	t.Run("fixed order with fresh handles", func(t *testing.T) {
		scopes, err := f.manager.FetchScopes(ctx, 1)
		require.NoError(t, err)
		require.Len(t, scopes, 3)

		assert.Equal(t, []string{ScopeLocal, ScopeStatic, ScopeRegisters},
			[]string{scopes[0].Name, scopes[1].Name, scopes[2].Name})
		assert.Equal(t, 1000, scopes[0].VariablesReference)
		assert.Equal(t, 1001, scopes[1].VariablesReference)
		assert.Equal(t, 1002, scopes[2].VariablesReference)
		assert.True(t, scopes[0].Available)
		assert.True(t, scopes[1].Available)
		assert.False(t, scopes[2].Available)

		again, err := f.manager.FetchScopes(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1003, again[0].VariablesReference)
	})

	t.Run("frame out of range", func(t *testing.T) {
		_, err := f.manager.FetchScopes(ctx, 3)
		assert.ErrorIs(t, err, domain.ErrOutOfRange)
		_, err = f.manager.FetchScopes(ctx, -1)
		assert.ErrorIs(t, err, domain.ErrOutOfRange)
	})

	t.Run("unavailable scope", func(t *testing.T) {
		scopes, err := f.manager.FetchScopes(ctx, 0)
		require.NoError(t, err)
		_, err = f.manager.FetchVariables(ctx, scopes[2].VariablesReference)
		assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
	})
}

func TestFetchVariables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.FetchStack(ctx)
	require.NoError(t, err)
	scopes, err := f.manager.FetchScopes(ctx, 1)
	require.NoError(t, err)

	vars, err := f.manager.FetchVariables(ctx, scopes[0].VariablesReference)
	require.NoError(t, err)
	require.Len(t, vars, 2)
	assert.Equal(t, []backend.ContextRef{threeFrames[1].Context}, f.contexts.inspected)

	assert.Zero(t, vars[0].VariablesReference)
	arrHandle := vars[1].VariablesReference
	assert.NotEqual(t, 4, arrHandle, "provider-local references are replaced")
	assert.Greater(t, arrHandle, scopes[2].VariablesReference)

	children, err := f.manager.FetchVariables(ctx, arrHandle)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, []int{4}, f.locals.subCalls)
	assert.Len(t, f.contexts.inspected, 1, "expanding a variable does not reselect the context")

	nested, err := f.manager.FetchVariables(ctx, children[1].VariablesReference)
	require.NoError(t, err)
	assert.Equal(t, []dap.Variable{{Name: "x", Value: "3"}}, nested)

	_, err = f.manager.FetchVariables(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrOutOfRange)
}

func TestHandlesAreUnique(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.manager.FetchStack(ctx)
	require.NoError(t, err)

	seen := map[int]bool{}
	for i := 0; i < 5; i++ {
		scopes, err := f.manager.FetchScopes(ctx, i%3)
		require.NoError(t, err)
		vars, err := f.manager.FetchVariables(ctx, scopes[0].VariablesReference)
		require.NoError(t, err)

		handles := []int{scopes[0].VariablesReference, scopes[1].VariablesReference, scopes[2].VariablesReference, vars[1].VariablesReference}
		for _, h := range handles {
			assert.False(t, seen[h], "handle %d issued twice", h)
			seen[h] = true
		}
	}
}

func TestStaleHandlesStillResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.FetchStack(ctx)
	require.NoError(t, err)
	scopes, err := f.manager.FetchScopes(ctx, 0)
	require.NoError(t, err)

	f.contexts.stack = threeFrames[:1]
	_, err = f.manager.FetchStack(ctx)
	require.NoError(t, err)

	_, err = f.manager.FetchScopes(ctx, 2)
	assert.ErrorIs(t, err, domain.ErrOutOfRange)

	vars, err := f.manager.FetchVariables(ctx, scopes[0].VariablesReference)
	require.NoError(t, err)
	assert.Len(t, vars, 2)
}

func TestSetVariable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.manager.FetchStack(ctx)
	require.NoError(t, err)
	scopes, err := f.manager.FetchScopes(ctx, 0)
	require.NoError(t, err)

	value, err := f.manager.SetVariable(ctx, scopes[0].VariablesReference, "fib", "42")
	require.NoError(t, err)
	assert.Equal(t, "42", value)
	assert.Equal(t, []string{"fib=42"}, f.eval.exprs)
	assert.Equal(t, threeFrames[0].Context, f.contexts.inspected[len(f.contexts.inspected)-1])

	vars, err := f.manager.FetchVariables(ctx, scopes[0].VariablesReference)
	require.NoError(t, err)
	_, err = f.manager.SetVariable(ctx, vars[1].VariablesReference, "x", "1")
	assert.ErrorIs(t, err, domain.ErrOutOfRange)

	_, err = f.manager.SetVariable(ctx, 99999, "x", "1")
	assert.ErrorIs(t, err, domain.ErrOutOfRange)
}

func TestEvalExpression(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.EvalExpression(ctx, 0, "fib")
	assert.ErrorIs(t, err, domain.ErrOutOfRange)

	_, err = f.manager.FetchStack(ctx)
	require.NoError(t, err)

	res, err := f.manager.EvalExpression(ctx, 2, "fib")
	require.NoError(t, err)
	assert.Equal(t, EvalResult{Value: "42", Type: "int", HasChildren: true}, res)
	assert.Equal(t, threeFrames[2].Context, f.contexts.inspected[0])

	f.eval.err = &testRejection{}
	_, err = f.manager.EvalExpression(ctx, 0, "nosuch")
	assert.ErrorIs(t, err, domain.ErrBackendRejected)
}

type testRejection struct{}

func (*testRejection) Error() string        { return "unknown symbol" }
func (*testRejection) Is(target error) bool { return target == domain.ErrBackendRejected }

func TestFetchDisassembly(t *testing.T) {
	f := newFixture(t)
	f.contexts.exec = backend.Location{Zone: 1, Address: 0x108}
	f.disasm.blocks = []backend.DisassembledLocation{
		{Location: backend.Location{Address: 0x100}, Instructions: []string{"main:\n0x100: 0xb580     PUSH {R7, LR}"}},
		{Location: backend.Location{Address: 0x104}, Instructions: []string{"0x104: 0xaf00     ADD R7, SP, #0"}},
		{Location: backend.Location{Address: 0x108}, Instructions: []string{"0x108: 0xf000     BL foo", "0x10a: 0xf800"}},
	}

	block, err := f.manager.FetchDisassembly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, block.CurrentRow)
	assert.Len(t, block.Instructions, 5)
	assert.Equal(t, "0x108: 0xf000     BL foo", block.Instructions[block.CurrentRow])

	assert.Equal(t, backend.Location{Zone: 1, Address: 0x108 - 20}, f.disasm.from)
	assert.Equal(t, backend.Location{Zone: 1, Address: 0x108 + 40}, f.disasm.to)
}

func TestFetchDisassemblySaturates(t *testing.T) {
	f := newFixture(t)
	f.contexts.exec = backend.Location{Address: 8}

	block, err := f.manager.FetchDisassembly(context.Background())
	require.NoError(t, err)
	assert.Empty(t, block.Instructions)
	assert.Zero(t, block.CurrentRow)
	assert.EqualValues(t, 0, f.disasm.from.Address)

	f.contexts.exec = backend.Location{Address: ^uint64(0) - 4}
	_, err = f.manager.FetchDisassembly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), f.disasm.to.Address)
}

func TestOperationsAreSerialised(t *testing.T) {
	f := newFixture(t)
	f.contexts.entered = make(chan struct{})
	f.contexts.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.manager.FetchStack(context.Background())
		done <- err
	}()
	<-f.contexts.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.manager.EvalExpression(ctx, 0, "fib")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(f.contexts.block)
	require.NoError(t, <-done)

	f.contexts.entered = nil
	_, err = f.manager.EvalExpression(context.Background(), 0, "fib")
	assert.NoError(t, err)
}
