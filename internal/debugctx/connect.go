package debugctx

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/vburojevic/dbgbridge/internal/backend"
	"github.com/vburojevic/dbgbridge/internal/rpc"
	"github.com/vburojevic/dbgbridge/internal/variables"
)

// Finder resolves backend services. *services.Manager satisfies it.
type Finder interface {
	FindService(ctx context.Context, name string) (*rpc.Client, error)
}

// Connect looks up the services a Manager needs. The context manager and
// debugger are required; a list window that cannot be opened leaves its
// scope unavailable.
func Connect(ctx context.Context, f Finder, engine Disassembler, cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cm, err := f.FindService(ctx, backend.ContextManagerService)
	if err != nil {
		return nil, err
	}
	dbg, err := f.FindService(ctx, backend.DebuggerService)
	if err != nil {
		return nil, err
	}

	windows := []string{backend.LocalsWindow, backend.StaticsWindow, backend.RegistersWindow}
	providers := make([]*variables.ListWindowProvider, len(windows))

	var wg sync.WaitGroup
	for i, window := range windows {
		wg.Go(func() {
			p, err := variables.Open(ctx, f, window, logger)
			if err != nil {
				logger.Warn("variable window unavailable", zap.String("window", window), zap.Error(err))
				return
			}
			providers[i] = p
		})
	}
	wg.Wait()

	deps := Deps{
		Contexts:    backend.NewContextManager(cm),
		Debugger:    backend.NewDebugger(dbg),
		Disassembly: engine,
	}
	// Only set non-nil providers so absent ones stay nil interfaces.
	if providers[0] != nil {
		deps.Locals = providers[0]
	}
	if providers[1] != nil {
		deps.Statics = providers[1]
	}
	if providers[2] != nil {
		deps.Registers = providers[2]
	}
	return New(deps, cfg, logger), nil
}
