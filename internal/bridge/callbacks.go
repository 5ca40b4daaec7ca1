package bridge

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/vburojevic/dbgbridge/internal/backend"
	"github.com/vburojevic/dbgbridge/internal/domain"
	"github.com/vburojevic/dbgbridge/internal/events"
	"github.com/vburojevic/dbgbridge/internal/rpc"
	"github.com/vburojevic/dbgbridge/internal/targetio"
)

type empty = struct{}

// registerEventListener routes backend debug and log events into d.
func registerEventListener(s *rpc.Server, d *events.Dispatcher) {
	handle := func(method string, h rpc.HandlerFunc) {
		s.Handle(backend.Method(backend.DebugEventListenerService, method), h)
	}

	handle("postDebugEvent", rpc.Typed(func(_ context.Context, req backend.DebugEventRequest) (empty, error) {
		d.Dispatch(req.Event)
		return empty{}, nil
	}))
	handle("postLogEvent", rpc.Typed(func(_ context.Context, req backend.LogEventRequest) (empty, error) {
		d.DispatchLog(req.Event)
		return empty{}, nil
	}))
	handle("postInspectionContextChangedEvent", rpc.Typed(func(_ context.Context, req backend.ContextChangedRequest) (empty, error) {
		d.Dispatch(contextEvent(events.KindInspectionContextChanged, req.Context))
		return empty{}, nil
	}))
	handle("postBaseContextChangedEvent", rpc.Typed(func(_ context.Context, req backend.ContextChangedRequest) (empty, error) {
		d.Dispatch(contextEvent(events.KindBaseContextChanged, req.Context))
		return empty{}, nil
	}))
}

func contextEvent(kind events.Kind, ref backend.ContextRef) events.DebugEvent {
	return events.DebugEvent{
		Kind:        kind,
		Description: ref.Type.String(),
		Params: []string{
			fmt.Sprint(ref.Core),
			fmt.Sprint(ref.Level),
			fmt.Sprint(ref.Task),
		},
	}
}

// registerLibSupport serves the target's console I/O through mux.
func registerLibSupport(s *rpc.Server, mux *targetio.Multiplexer, logger *zap.Logger) {
	handle := func(method string, h rpc.HandlerFunc) {
		s.Handle(backend.Method(backend.LibSupportService, method), h)
	}

	// Blocks until enough input has been supplied or the connection ends.
	handle("requestInputBinary", rpc.Typed(func(ctx context.Context, req backend.InputRequest) (backend.InputReply, error) {
		if req.Length < 0 {
			return backend.InputReply{}, fmt.Errorf("requestInputBinary length %d: %w", req.Length, domain.ErrParse)
		}
		data, err := mux.ReadInput(ctx, req.Length)
		if err != nil {
			return backend.InputReply{}, err
		}
		return backend.InputReply{Data: []byte(data)}, nil
	}))
	handle("printOutputBinary", rpc.Typed(func(_ context.Context, req backend.OutputRequest) (empty, error) {
		mux.ReportOutput(string(req.Data))
		return empty{}, nil
	}))
	handle("exit", rpc.Typed(func(_ context.Context, req backend.ExitRequest) (empty, error) {
		mux.ReportExit(req.Code)
		return empty{}, nil
	}))
	handle("reportAssert", rpc.Typed(func(_ context.Context, req backend.AssertRequest) (empty, error) {
		logger.Warn("target assertion failed",
			zap.String("message", req.Message),
			zap.String("expression", req.Expression),
			zap.String("file", req.File),
			zap.Int("line", req.Line),
		)
		return empty{}, nil
	}))

	// Text variants predate the binary ones. Output is accepted and dropped;
	// input cannot be faked, so it is refused.
	handle("requestInput", func(context.Context, cbor.RawMessage) (any, error) {
		return nil, &rpc.RemoteError{Code: rpc.CodeApplication, Message: "not supported, use requestInputBinary"}
	})
	handle("printOutput", func(context.Context, cbor.RawMessage) (any, error) {
		logger.Debug("dropping text printOutput")
		return empty{}, nil
	})
}
