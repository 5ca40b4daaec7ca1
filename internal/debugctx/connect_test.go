package debugctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/dbgbridge/internal/backend"
	"github.com/vburojevic/dbgbridge/internal/backend/backendtest"
	"github.com/vburojevic/dbgbridge/internal/disasm"
	"github.com/vburojevic/dbgbridge/internal/domain"
	"github.com/vburojevic/dbgbridge/internal/services"
)

func TestConnect(t *testing.T) {
	fake := backendtest.New(t, backendtest.State{
		Stack: threeFrames,
		Windows: map[string]*backendtest.Window{
			backend.LocalsWindow: {Rows: []backend.ListWindowRow{
				{Values: []string{"fib", "1", "R4", "uint32_t volatile"}},
			}},
			backend.RegistersWindow: {Rows: []backend.ListWindowRow{
				{Values: []string{"R0", "0x0000002A", "uint32_t"}},
			}},
		},
	})
	svc, err := services.New(services.Config{Registry: fake.Addr(), DialTimeout: time.Second}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Dispose() })

	ctx := context.Background()
	dis, err := svc.FindService(ctx, backend.DisassemblyService)
	require.NoError(t, err)
	engine := disasm.New(backend.NewDisassembly(dis), nil)

	m, err := Connect(ctx, svc, engine, Config{}, nil)
	require.NoError(t, err)

	frames, err := m.FetchStack(ctx)
	require.NoError(t, err)
	require.Len(t, frames, 3)

	scopes, err := m.FetchScopes(ctx, 0)
	require.NoError(t, err)
	assert.True(t, scopes[0].Available)
	assert.False(t, scopes[1].Available, "statics window is not offered")
	assert.True(t, scopes[2].Available)

	locals, err := m.FetchVariables(ctx, scopes[0].VariablesReference)
	require.NoError(t, err)
	require.Len(t, locals, 1)
	assert.Equal(t, "uint32_t volatile @ R4", locals[0].Type)

	_, err = m.FetchVariables(ctx, scopes[1].VariablesReference)
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)

	value, err := m.SetVariable(ctx, scopes[0].VariablesReference, "fib", "42")
	require.NoError(t, err)
	assert.Equal(t, "42", value)
	assert.Contains(t, fake.Evaluated(), "fib=42")
}

func TestConnectRequiresContextManager(t *testing.T) {
	fake := backendtest.New(t, backendtest.State{Missing: map[string]bool{backend.ContextManagerService: true}})
	svc, err := services.New(services.Config{Registry: fake.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Dispose() })

	_, err = Connect(context.Background(), svc, nil, Config{}, nil)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}
