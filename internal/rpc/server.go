package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

// HandlerFunc serves one method. The returned value becomes the reply body;
// a nil value sends an empty reply.
type HandlerFunc func(ctx context.Context, body cbor.RawMessage) (any, error)

// Typed adapts a function over concrete request and response types.
func Typed[Req, Resp any](fn func(ctx context.Context, req Req) (Resp, error)) HandlerFunc {
	return func(ctx context.Context, body cbor.RawMessage) (any, error) {
		var req Req
		if len(body) > 0 {
			if err := cbor.Unmarshal(body, &req); err != nil {
				return nil, &RemoteError{Code: CodeBadRequest, Message: fmt.Sprintf("bad request: %v", err)}
			}
		}
		return fn(ctx, req)
	}
}

// Server dispatches incoming calls to registered handlers. Each call runs in
// its own goroutine, so a handler that blocks does not hold up the connection.
type Server struct {
	mu        sync.RWMutex
	handlers  map[string]HandlerFunc
	listeners []net.Listener
	conns     map[net.Conn]struct{}
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewServer creates a server with no handlers.
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[net.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Handle registers h for method ("Service.method").
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Serve accepts connections on l until the server is closed.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	logger := s.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	reader := bufio.NewReader(conn)
	var writeMu sync.Mutex
	var calls sync.WaitGroup
	defer calls.Wait()

	// Handlers still running when the peer goes away are cancelled.
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	for {
		f, err := ReadFrame(reader)
		if err != nil {
			if s.ctx.Err() == nil {
				logger.Debug("connection closed", zap.Error(err))
			}
			return
		}
		if f.Kind != KindCall {
			logger.Warn("ignoring non-call frame", zap.Uint64("seq", f.Seq))
			continue
		}

		calls.Add(1)
		go func(f *Frame) {
			defer calls.Done()
			reply := s.dispatch(ctx, f)
			writeMu.Lock()
			err := WriteFrame(conn, reply)
			writeMu.Unlock()
			if err != nil {
				logger.Debug("failed to write reply", zap.String("method", f.Method), zap.Error(err))
			}
		}(f)
	}
}

// Close stops accepting, closes every connection and waits for handlers to
// return. Handlers observe cancellation through their context.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	listeners := s.listeners
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var errs []error
	for _, l := range listeners {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for _, c := range conns {
		_ = c.Close()
	}
	s.wg.Wait()
	return errors.Join(errs...)
}

func (s *Server) dispatch(ctx context.Context, f *Frame) *Frame {
	reply := &Frame{Seq: f.Seq, Kind: KindReply}

	s.mu.RLock()
	h, ok := s.handlers[f.Method]
	s.mu.RUnlock()
	if !ok {
		reply.Error = &RemoteError{Code: CodeUnknownMethod, Message: fmt.Sprintf("unknown method %q", f.Method)}
		return reply
	}

	result, err := h(ctx, f.Body)
	if err != nil {
		var remote *RemoteError
		if !errors.As(err, &remote) {
			remote = &RemoteError{Code: CodeApplication, Message: err.Error()}
		}
		reply.Error = remote
		return reply
	}
	if result != nil {
		body, err := cbor.Marshal(result)
		if err != nil {
			reply.Error = &RemoteError{Code: CodeApplication, Message: fmt.Sprintf("encode reply: %v", err)}
			return reply
		}
		reply.Body = body
	}
	return reply
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}
