// Package bridge assembles a debug session: service discovery, the
// bridge-hosted callback services, console I/O, events and the debug
// context manager.
package bridge

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/go-dap"
	"go.uber.org/zap"

	"github.com/vburojevic/dbgbridge/internal/backend"
	"github.com/vburojevic/dbgbridge/internal/debugctx"
	"github.com/vburojevic/dbgbridge/internal/disasm"
	"github.com/vburojevic/dbgbridge/internal/domain"
	"github.com/vburojevic/dbgbridge/internal/events"
	"github.com/vburojevic/dbgbridge/internal/rpc"
	"github.com/vburojevic/dbgbridge/internal/services"
	"github.com/vburojevic/dbgbridge/internal/session"
	"github.com/vburojevic/dbgbridge/internal/targetio"
)

// CallbackVersion is the protocol version advertised for the bridge-hosted
// services.
const CallbackVersion = "1.0.0"

// Config configures a Session.
type Config struct {
	Services services.Config
	// Listen is where the callback services listen (default 127.0.0.1:0).
	Listen           string
	Debug            debugctx.Config
	InstructionWidth int
	// CollapseSources leaves repeated source ranges off disassembly blocks.
	CollapseSources bool
}

// Session is one live connection to a debugger backend.
type Session struct {
	services *services.Manager
	server   *rpc.Server
	listener net.Listener
	events   *events.Dispatcher
	io       *targetio.Multiplexer
	engine   *disasm.Engine
	debug    *debugctx.Manager
	tracker  *session.Tracker
	start    *domain.SessionStart

	teardown disposables
	logger   *zap.Logger
}

// Open connects to the backend registry, starts and registers the callback
// services and connects the debug context manager. On failure everything
// acquired so far is released.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (_ *Session, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:0"
	}

	s := &Session{
		events:  events.NewDispatcher(),
		io:      targetio.New(logger),
		tracker: session.NewTracker(cfg.Services.Registry, nil),
	}
	s.logger = logger.With(zap.String("session", s.tracker.ID()))
	defer func() {
		if err != nil {
			_ = s.teardown.dispose()
		}
	}()

	s.services, err = services.New(cfg.Services, s.logger)
	if err != nil {
		return nil, err
	}
	s.teardown.push(s.services.Dispose)

	if err := s.serveCallbacks(ctx, cfg.Listen); err != nil {
		return nil, err
	}

	s.engine = s.openDisassembly(ctx, cfg)
	var dis debugctx.Disassembler = unavailableDisassembler{}
	if s.engine != nil {
		dis = s.engine
	}

	s.debug, err = debugctx.Connect(ctx, s.services, dis, cfg.Debug, s.logger)
	if err != nil {
		return nil, err
	}

	detach := s.tracker.Attach(s.events, s.io)
	s.teardown.push(func() error { detach(); return nil })

	s.start = s.tracker.Start(s.CallbackAddr())
	s.logger.Info("session started",
		zap.String("registry", cfg.Services.Registry),
		zap.String("callback", s.CallbackAddr()),
	)
	return s, nil
}

func (s *Session) serveCallbacks(ctx context.Context, listen string) error {
	l, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listen for callbacks on %s: %w", listen, err)
	}
	s.listener = l
	s.server = rpc.NewServer(s.logger)
	registerEventListener(s.server, s.events)
	registerLibSupport(s.server, s.io, s.logger)

	go func() {
		if err := s.server.Serve(l); err != nil {
			s.logger.Warn("callback server stopped", zap.Error(err))
		}
	}()
	s.teardown.push(s.server.Close)

	loc, err := callbackLocation(l.Addr())
	if err != nil {
		return err
	}
	for _, name := range []string{backend.DebugEventListenerService, backend.LibSupportService} {
		if err := s.services.Register(ctx, name, loc); err != nil {
			return err
		}
	}
	return nil
}

// openDisassembly returns nil when the backend offers no disassembly
// service. Source lookup is optional.
func (s *Session) openDisassembly(ctx context.Context, cfg Config) *disasm.Engine {
	dis, err := s.services.FindService(ctx, backend.DisassemblyService)
	if err != nil {
		s.logger.Warn("disassembly unavailable", zap.Error(err))
		return nil
	}

	var sources disasm.SourceLookup
	if c, err := s.services.FindService(ctx, backend.SourceLookupService); err == nil {
		sources = backend.NewSourceLookup(c)
	} else {
		s.logger.Warn("source lookup unavailable", zap.Error(err))
	}
	opts := []disasm.Option{
		disasm.WithInstructionWidth(cfg.InstructionWidth),
		disasm.WithLogger(s.logger),
	}
	if cfg.CollapseSources {
		opts = append(opts, disasm.WithCollapsedSources())
	}
	return disasm.New(backend.NewDisassembly(dis), sources, opts...)
}

func callbackLocation(addr net.Addr) (backend.ServiceLocation, error) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return backend.ServiceLocation{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return backend.ServiceLocation{}, err
	}
	return backend.ServiceLocation{Host: host, Port: port, Version: CallbackVersion}, nil
}

// Close tears the session down in reverse order of construction and returns
// the session summary.
func (s *Session) Close() (*domain.SessionEnd, error) {
	end := s.tracker.End()
	err := s.teardown.dispose()
	if end != nil {
		s.logger.Info("session ended",
			zap.Int("stops", end.Summary.Stops),
			zap.Int("events", end.Summary.Events),
			zap.Int("duration_seconds", end.Summary.DurationSeconds),
		)
	}
	return end, err
}

// Debug returns the debug context manager.
func (s *Session) Debug() *debugctx.Manager { return s.debug }

// Events returns the session's event dispatcher.
func (s *Session) Events() *events.Dispatcher { return s.events }

// IO returns the target console multiplexer.
func (s *Session) IO() *targetio.Multiplexer { return s.io }

// Start returns the record emitted when the session opened.
func (s *Session) Start() *domain.SessionStart { return s.start }

// Summary returns the activity counters so far.
func (s *Session) Summary() domain.SessionSummary { return s.tracker.Summary() }

// CallbackAddr is where the bridge-hosted services listen.
func (s *Session) CallbackAddr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Disassemble decodes the instruction window described by req.
func (s *Session) Disassemble(ctx context.Context, req disasm.Request) ([]dap.DisassembledInstruction, error) {
	if s.engine == nil {
		return nil, fmt.Errorf("disassemble: %w", domain.ErrServiceUnavailable)
	}
	return s.engine.Fetch(ctx, req)
}

type unavailableDisassembler struct{}

func (unavailableDisassembler) Range(context.Context, backend.Location, backend.Location, backend.ContextRef) ([]backend.DisassembledLocation, error) {
	return nil, fmt.Errorf("%s: %w", backend.DisassemblyService, domain.ErrServiceUnavailable)
}
