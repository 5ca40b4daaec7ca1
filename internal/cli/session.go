package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vburojevic/dbgbridge/internal/bridge"
	"github.com/vburojevic/dbgbridge/internal/debugctx"
	"github.com/vburojevic/dbgbridge/internal/output"
	"github.com/vburojevic/dbgbridge/internal/services"
)

// bridgeConfig builds the session configuration from globals
func bridgeConfig(globals *Globals) bridge.Config {
	cfg := globals.Config
	return bridge.Config{
		Services: services.Config{
			Registry:    globals.Registry,
			Protocol:    cfg.Backend.Protocol,
			DialTimeout: cfg.DialTimeoutDuration(),
		},
		Listen: cfg.Backend.Listen,
		Debug: debugctx.Config{
			HandleStart: cfg.Handles.Start,
			Before:      uint64(max(cfg.Disassembly.Before, 0)),
			After:       uint64(max(cfg.Disassembly.After, 0)),
		},
		InstructionWidth: cfg.Disassembly.InstructionWidth,
		CollapseSources:  cfg.Disassembly.CollapseSources,
	}
}

// newWriter picks the output writer for the global format
func newWriter(globals *Globals) output.Writer {
	if globals.Format == "ndjson" {
		return output.NewNDJSONWriter(globals.Stdout)
	}
	return output.NewTextWriter(globals.Stdout)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openSession connects a bridge session with the global configuration
func openSession(ctx context.Context, globals *Globals) (*bridge.Session, *zap.Logger, error) {
	logger := newLogger(globals)
	s, err := bridge.Open(ctx, bridgeConfig(globals), logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return s, logger, nil
}

// withSession opens a bridge session, runs fn and closes the session.
// Errors from any step are reported through outputError.
func withSession(ctx context.Context, globals *Globals, fn func(ctx context.Context, s *bridge.Session, w output.Writer) error) error {
	s, logger, err := openSession(ctx, globals)
	if err != nil {
		return outputError(globals, err)
	}
	defer logger.Sync()

	runErr := fn(ctx, s, newWriter(globals))
	_, closeErr := s.Close()
	if runErr != nil {
		return outputError(globals, runErr)
	}
	if closeErr != nil {
		logger.Warn("session close failed", zap.Error(closeErr))
	}
	return nil
}
