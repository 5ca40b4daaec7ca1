// Package backendtest runs an in-process fake debugger backend over the real
// wire protocol.
package backendtest

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vburojevic/dbgbridge/internal/backend"
	"github.com/vburojevic/dbgbridge/internal/rpc"
)

// Window is the content of one fake list window.
type Window struct {
	Rows     []backend.ListWindowRow
	Children map[int][]backend.ListWindowRow
}

// State is what the fake backend serves. Zero values are valid.
type State struct {
	Stack        []backend.ContextInfo
	ExecLocation backend.Location
	// Blocks is the whole program; disassembleRange returns the blocks
	// whose address lies in the requested range.
	Blocks  []backend.DisassembledLocation
	Sources map[uint64][]backend.SourceRange
	// SourceErr makes every getSourceRanges call fail.
	SourceErr string
	Windows   map[string]*Window
	// Evals maps expressions to results. Unknown assignments echo the
	// assigned value; other unknown expressions fail.
	Evals map[string]backend.ExprValue
	// Versions overrides the advertised version per service (default 1.0.0).
	Versions map[string]string
	// Missing hides services from the registry.
	Missing map[string]bool
}

// Backend is a running fake backend.
type Backend struct {
	server   *rpc.Server
	listener net.Listener

	mu             sync.Mutex
	state          State
	calls          []string
	inspected      []backend.ContextRef
	evaluated      []string
	disasmRanges   [][2]uint64
	registered     map[string]backend.ServiceLocation
	callbackClient map[string]*rpc.Client
	gates          map[string]*Gate
}

// Gate holds calls to one method until released.
type Gate struct {
	reached     chan struct{}
	release     chan struct{}
	reachOnce   sync.Once
	releaseOnce sync.Once
}

// Reached is closed once a held call has arrived.
func (g *Gate) Reached() <-chan struct{} {
	return g.reached
}

// Release lets every held and future call through.
func (g *Gate) Release() {
	g.releaseOnce.Do(func() { close(g.release) })
}

func (g *Gate) wait(ctx context.Context) {
	g.reachOnce.Do(func() { close(g.reached) })
	select {
	case <-g.release:
	case <-ctx.Done():
	}
}

// New starts a fake backend serving every service on one local port.
func New(t testing.TB, state State) *Backend {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := &Backend{
		server:         rpc.NewServer(nil),
		listener:       l,
		state:          state,
		registered:     make(map[string]backend.ServiceLocation),
		callbackClient: make(map[string]*rpc.Client),
		gates:          make(map[string]*Gate),
	}
	b.registerHandlers()
	go func() { _ = b.server.Serve(l) }()
	t.Cleanup(b.close)
	return b
}

// Addr is the registry address.
func (b *Backend) Addr() string {
	return b.listener.Addr().String()
}

// Update mutates the served state.
func (b *Backend) Update(fn func(s *State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.state)
}

// Hold makes calls to method block until the returned gate is released.
// The gate is released when the backend shuts down.
func (b *Backend) Hold(method string) *Gate {
	g := &Gate{reached: make(chan struct{}), release: make(chan struct{})}
	b.mu.Lock()
	b.gates[method] = g
	b.mu.Unlock()
	return g
}

// Calls returns every method called so far, in arrival order.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// CallCount returns how often method was called.
func (b *Backend) CallCount(method string) int {
	n := 0
	for _, c := range b.Calls() {
		if c == method {
			n++
		}
	}
	return n
}

// Inspected returns the contexts passed to setInspectionContext.
func (b *Backend) Inspected() []backend.ContextRef {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.ContextRef(nil), b.inspected...)
}

// Evaluated returns the expressions passed to evalExpression.
func (b *Backend) Evaluated() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.evaluated...)
}

// DisassembledRanges returns the [from, to] address pairs requested.
func (b *Backend) DisassembledRanges() [][2]uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][2]uint64(nil), b.disasmRanges...)
}

// Registered reports where a callback service was registered.
func (b *Backend) Registered(name string) (backend.ServiceLocation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	loc, ok := b.registered[name]
	return loc, ok
}

// Callback calls a method on a service the bridge registered.
func (b *Backend) Callback(ctx context.Context, service, method string, args, reply any) error {
	b.mu.Lock()
	c, ok := b.callbackClient[service]
	loc, registered := b.registered[service]
	b.mu.Unlock()

	if !ok {
		if !registered {
			return fmt.Errorf("service %s was not registered", service)
		}
		var err error
		c, err = rpc.Dial(ctx, loc.Addr(), nil)
		if err != nil {
			return err
		}
		b.mu.Lock()
		b.callbackClient[service] = c
		b.mu.Unlock()
	}
	return c.Call(ctx, backend.Method(service, method), args, reply)
}

func (b *Backend) close() {
	b.mu.Lock()
	clients := b.callbackClient
	b.callbackClient = map[string]*rpc.Client{}
	gates := b.gates
	b.gates = map[string]*Gate{}
	b.mu.Unlock()
	for _, g := range gates {
		g.Release()
	}
	for _, c := range clients {
		_ = c.Close()
	}
	_ = b.server.Close()
}

func (b *Backend) record(method string) {
	b.calls = append(b.calls, method)
}

func handle[Req, Resp any](b *Backend, service, method string, fn func(s *State, req Req) (Resp, error)) {
	name := backend.Method(service, method)
	b.server.Handle(name, rpc.Typed(func(ctx context.Context, req Req) (Resp, error) {
		b.mu.Lock()
		g := b.gates[name]
		b.mu.Unlock()
		if g != nil {
			g.wait(ctx)
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		b.record(name)
		return fn(&b.state, req)
	}))
}

func remote(format string, args ...any) error {
	return &rpc.RemoteError{Code: rpc.CodeApplication, Message: fmt.Sprintf(format, args...)}
}

func (b *Backend) registerHandlers() {
	_, port, _ := net.SplitHostPort(b.Addr())
	portNum, _ := strconv.Atoi(port)

	handle(b, backend.ServiceRegistryService, "getService", func(s *State, req backend.GetServiceRequest) (backend.ServiceLocation, error) {
		if s.Missing[req.Name] {
			return backend.ServiceLocation{}, remote("no service named %s", req.Name)
		}
		if strings.HasPrefix(req.Name, "ListWindow.") {
			if _, ok := s.Windows[req.Name]; !ok {
				return backend.ServiceLocation{}, remote("no service named %s", req.Name)
			}
		}
		version := "1.0.0"
		if v, ok := s.Versions[req.Name]; ok {
			version = v
		}
		return backend.ServiceLocation{Host: "127.0.0.1", Port: portNum, Version: version}, nil
	})
	handle(b, backend.ServiceRegistryService, "registerService", func(_ *State, req backend.RegisterServiceRequest) (struct{}, error) {
		b.registered[req.Name] = req.Location
		return struct{}{}, nil
	})

	handle(b, backend.ContextManagerService, "getStack", func(s *State, req backend.GetStackRequest) ([]backend.ContextInfo, error) {
		if req.Start < 0 || req.Start > len(s.Stack) {
			return nil, remote("stack start %d out of range", req.Start)
		}
		frames := s.Stack[req.Start:]
		if req.Count >= 0 && req.Count < len(frames) {
			frames = frames[:req.Count]
		}
		return frames, nil
	})
	handle(b, backend.ContextManagerService, "getContextInfo", func(s *State, req backend.ContextRequest) (backend.ContextInfo, error) {
		info := backend.ContextInfo{Context: req.Context, ExecLocation: s.ExecLocation}
		if len(s.Stack) > 0 {
			info.FunctionName = s.Stack[0].FunctionName
		}
		return info, nil
	})
	handle(b, backend.ContextManagerService, "setInspectionContext", func(_ *State, req backend.ContextRequest) (struct{}, error) {
		b.inspected = append(b.inspected, req.Context)
		return struct{}{}, nil
	})

	handle(b, backend.DebuggerService, "evalExpression", func(s *State, req backend.EvalRequest) (backend.ExprValue, error) {
		b.evaluated = append(b.evaluated, req.Expression)
		if v, ok := s.Evals[req.Expression]; ok {
			return v, nil
		}
		if name, value, ok := strings.Cut(req.Expression, "="); ok && req.AllowAssign {
			return backend.ExprValue{Value: value, Type: "int"}, nil
		} else if ok {
			return backend.ExprValue{}, remote("assignment to %s not allowed", name)
		}
		return backend.ExprValue{}, remote("unknown symbol %q", req.Expression)
	})

	handle(b, backend.DisassemblyService, "disassembleRange", func(s *State, req backend.DisassembleRangeRequest) ([]backend.DisassembledLocation, error) {
		b.disasmRanges = append(b.disasmRanges, [2]uint64{req.From.Address, req.To.Address})
		var out []backend.DisassembledLocation
		for _, blk := range s.Blocks {
			if blk.Location.Address >= req.From.Address && blk.Location.Address < req.To.Address {
				out = append(out, blk)
			}
		}
		return out, nil
	})

	handle(b, backend.SourceLookupService, "getSourceRanges", func(s *State, req backend.SourceRangesRequest) ([]backend.SourceRange, error) {
		if s.SourceErr != "" {
			return nil, remote("%s", s.SourceErr)
		}
		return s.Sources[req.Location.Address], nil
	})

	for _, name := range []string{backend.LocalsWindow, backend.StaticsWindow, backend.RegistersWindow} {
		name := name
		handle(b, name, "getRows", func(s *State, _ struct{}) ([]backend.ListWindowRow, error) {
			w, ok := s.Windows[name]
			if !ok {
				return nil, remote("window %s is closed", name)
			}
			return w.Rows, nil
		})
		handle(b, name, "getChildren", func(s *State, req backend.ChildrenRequest) ([]backend.ListWindowRow, error) {
			w, ok := s.Windows[name]
			if !ok {
				return nil, remote("window %s is closed", name)
			}
			rows, ok := w.Children[req.Ref]
			if !ok {
				return nil, remote("no children for %d", req.Ref)
			}
			return rows, nil
		})
	}
}
