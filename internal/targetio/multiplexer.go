// Package targetio multiplexes the debugged target's console I/O.
//
// Output and exit notifications fan out to observers. Input requests from the
// target are served from a user-supplied buffer; requests that cannot be
// served yet wait in a FIFO queue until enough input arrives.
package targetio

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vburojevic/dbgbridge/internal/domain"
)

type pendingRequest struct {
	n      int
	result chan string
}

// Multiplexer buffers target input and fans out target output.
type Multiplexer struct {
	mu sync.Mutex

	// buffer[pos:] is input supplied but not yet handed to the target.
	buffer []byte
	pos    int
	queue  []*pendingRequest

	observersMu    sync.RWMutex
	onOutput       []func(string)
	onExit         []func(int)
	onInputRequest []func()

	logger *zap.Logger
}

// New creates an empty multiplexer. A nil logger disables logging.
func New(logger *zap.Logger) *Multiplexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multiplexer{logger: logger}
}

// OnOutput registers a callback for target output.
func (m *Multiplexer) OnOutput(fn func(data string)) {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()
	m.onOutput = append(m.onOutput, fn)
}

// OnExit registers a callback for target exit.
func (m *Multiplexer) OnExit(fn func(code int)) {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()
	m.onExit = append(m.onExit, fn)
}

// OnInputRequested registers a callback run when the target starts waiting
// for input that has not been supplied yet.
func (m *Multiplexer) OnInputRequested(fn func()) {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()
	m.onInputRequest = append(m.onInputRequest, fn)
}

// AwaitingInput reports whether any input request is queued.
func (m *Multiplexer) AwaitingInput() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue) > 0
}

// Buffered returns the number of supplied bytes not yet consumed.
func (m *Multiplexer) Buffered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffer) - m.pos
}

// SupplyInput appends data to the input buffer and resolves queued requests
// in FIFO order, as long as the buffer covers the oldest one.
func (m *Multiplexer) SupplyInput(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Drop what has been consumed before appending.
	m.buffer = append(m.buffer[m.pos:len(m.buffer):len(m.buffer)], data...)
	m.pos = 0

	resolved := 0
	for _, req := range m.queue {
		if len(m.buffer)-m.pos < req.n {
			break
		}
		req.result <- m.take(req.n)
		resolved++
	}
	m.queue = m.queue[resolved:]

	m.logger.Debug("input supplied",
		zap.Int("bytes", len(data)),
		zap.Int("resolved", resolved),
		zap.Int("queued", len(m.queue)))
}

// RequestInput asks for n bytes of input. The returned channel receives the
// input exactly once. If the buffer already holds n bytes the channel is
// ready immediately; otherwise the request is queued. A negative n resolves
// to "" without consuming input.
func (m *Multiplexer) RequestInput(n int) <-chan string {
	result := make(chan string, 1)
	if n < 0 {
		m.logger.Warn("ignoring negative input request", zap.Int("bytes", n))
		result <- ""
		return result
	}

	m.mu.Lock()
	if len(m.buffer)-m.pos >= n {
		result <- m.take(n)
		m.mu.Unlock()
		return result
	}
	m.queue = append(m.queue, &pendingRequest{n: n, result: result})
	firstWaiter := len(m.queue) == 1
	m.mu.Unlock()

	m.logger.Debug("target requested input", zap.Int("bytes", n), zap.Bool("notify", firstWaiter))
	if firstWaiter {
		m.observersMu.RLock()
		observers := append([]func(){}, m.onInputRequest...)
		m.observersMu.RUnlock()
		for _, fn := range observers {
			fn()
		}
	}
	return result
}

// ReadInput is RequestInput but waits for the result. Abandoning the wait
// through ctx leaves the request queued; the input it later receives is
// discarded.
func (m *Multiplexer) ReadInput(ctx context.Context, n int) (string, error) {
	if n < 0 {
		return "", fmt.Errorf("input length %d: %w", n, domain.ErrParse)
	}
	select {
	case s := <-m.RequestInput(n):
		return s, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ReportOutput forwards target output to observers.
func (m *Multiplexer) ReportOutput(data string) {
	m.observersMu.RLock()
	observers := append([]func(string){}, m.onOutput...)
	m.observersMu.RUnlock()
	for _, fn := range observers {
		fn(data)
	}
}

// ReportExit forwards the target exit code to observers.
func (m *Multiplexer) ReportExit(code int) {
	m.logger.Debug("target exited", zap.Int("code", code))
	m.observersMu.RLock()
	observers := append([]func(int){}, m.onExit...)
	m.observersMu.RUnlock()
	for _, fn := range observers {
		fn(code)
	}
}

// take consumes n buffered bytes. Callers hold m.mu.
func (m *Multiplexer) take(n int) string {
	s := string(m.buffer[m.pos : m.pos+n])
	m.pos += n
	return s
}
