package backend_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/dbgbridge/internal/backend"
	"github.com/vburojevic/dbgbridge/internal/backend/backendtest"
	"github.com/vburojevic/dbgbridge/internal/domain"
	"github.com/vburojevic/dbgbridge/internal/rpc"
)

func connect(t *testing.T, fake *backendtest.Backend) *rpc.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := rpc.Dial(ctx, fake.Addr(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestContextManager(t *testing.T) {
	stack := []backend.ContextInfo{
		{Context: backend.ContextRef{Level: 0, Type: backend.ContextStack}, FunctionName: "inner"},
		{Context: backend.ContextRef{Level: 1, Type: backend.ContextStack}, FunctionName: "outer"},
	}
	fake := backendtest.New(t, backendtest.State{Stack: stack, ExecLocation: backend.Location{Address: 0x80}})
	cm := backend.NewContextManager(connect(t, fake))
	ctx := context.Background()

	all, err := cm.GetStack(ctx, backend.CurrentInspection(), 0, -1)
	require.NoError(t, err)
	assert.Equal(t, stack, all)

	one, err := cm.GetStack(ctx, backend.CurrentInspection(), 1, 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "outer", one[0].FunctionName)

	info, err := cm.GetContextInfo(ctx, backend.CurrentInspection())
	require.NoError(t, err)
	assert.EqualValues(t, 0x80, info.ExecLocation.Address)

	require.NoError(t, cm.SetInspectionContext(ctx, stack[1].Context))
	assert.Equal(t, []backend.ContextRef{stack[1].Context}, fake.Inspected())
}

func TestDebuggerRejection(t *testing.T) {
	fake := backendtest.New(t, backendtest.State{})
	d := backend.NewDebugger(connect(t, fake))

	_, err := d.EvalExpression(context.Background(), backend.CurrentInspection(), "nosuch", backend.FormatDefault, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackendRejected)
	assert.Contains(t, err.Error(), `"nosuch"`)
}

func TestListWindow(t *testing.T) {
	fake := backendtest.New(t, backendtest.State{Windows: map[string]*backendtest.Window{
		backend.LocalsWindow: {
			Rows:     []backend.ListWindowRow{{Values: []string{"arr", "<array>", "0x20", "int[2]"}, SubRef: 3}},
			Children: map[int][]backend.ListWindowRow{3: {{Values: []string{"[0]", "1", "0x20", "int"}}}},
		},
	}})
	w := backend.NewListWindow(connect(t, fake), backend.LocalsWindow)
	ctx := context.Background()

	rows, err := w.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].SubRef)

	children, err := w.Children(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "[0]", children[0].Values[0])

	_, err = w.Children(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrBackendRejected)
}

func TestServiceLocationAddr(t *testing.T) {
	assert.Equal(t, "localhost:9000", backend.ServiceLocation{Host: "localhost", Port: 9000}.Addr())
	assert.Equal(t, "ContextManager.getStack", backend.Method(backend.ContextManagerService, "getStack"))
}
