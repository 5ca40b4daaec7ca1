package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gofrs/uuid"

	"github.com/vburojevic/dbgbridge/internal/domain"
	"github.com/vburojevic/dbgbridge/internal/events"
	"github.com/vburojevic/dbgbridge/internal/targetio"
)

// Tracker records the lifetime of one bridge session and counts what
// happened during it
type Tracker struct {
	mu            sync.Mutex
	clock         clock.Clock
	id            string
	registry      string
	sessionStart  time.Time
	stops         int
	eventCount    int
	logCount      int
	outputBytes   int
	inputRequests int
	exitCode      *int
	started       bool
	ended         bool
}

// NewTracker creates a tracker for a session against the given registry.
// A nil clock uses the wall clock.
func NewTracker(registry string, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{
		clock:    clk,
		id:       newSessionID(),
		registry: registry,
	}
}

func newSessionID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return "session"
	}
	return id.String()
}

// ID returns the session identifier
func (t *Tracker) ID() string {
	return t.id
}

// Start marks the session as running and returns its start record
func (t *Tracker) Start(callback string) *domain.SessionStart {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.started = true
	t.sessionStart = t.clock.Now()
	return domain.NewSessionStart(t.id, t.registry, callback, t.sessionStart)
}

// Attach subscribes the tracker to a session's events and console I/O.
// The returned function unsubscribes from the dispatcher.
func (t *Tracker) Attach(d *events.Dispatcher, mux *targetio.Multiplexer) (detach func()) {
	var cancels []func()
	for _, kind := range events.Kinds() {
		cancels = append(cancels, d.Subscribe(kind, t.ObserveEvent))
	}
	cancels = append(cancels, d.SubscribeLog(func(events.LogEvent) { t.ObserveLog() }))

	mux.OnOutput(func(data string) { t.ObserveOutput(len(data)) })
	mux.OnExit(t.ObserveExit)
	mux.OnInputRequested(t.ObserveInputRequest)

	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

// ObserveEvent counts a debug event; stops are counted separately
func (t *Tracker) ObserveEvent(ev events.DebugEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.eventCount++
	if ev.Kind == events.KindTargetStopped {
		t.stops++
	}
}

// ObserveLog counts a backend log event
func (t *Tracker) ObserveLog() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logCount++
}

// ObserveOutput counts target console output
func (t *Tracker) ObserveOutput(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outputBytes += n
}

// ObserveInputRequest counts a time the target blocked waiting for input
func (t *Tracker) ObserveInputRequest() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputRequests++
}

// ObserveExit records the target's exit code
func (t *Tracker) ObserveExit(code int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exitCode = &code
}

// Summary returns the counters so far
func (t *Tracker) Summary() domain.SessionSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary()
}

// End closes the session and returns its end record. It returns nil if the
// session never started or already ended.
func (t *Tracker) End() *domain.SessionEnd {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started || t.ended {
		return nil
	}
	t.ended = true
	return domain.NewSessionEnd(t.id, t.exitCode, t.summary())
}

func (t *Tracker) summary() domain.SessionSummary {
	duration := 0
	if t.started {
		duration = int(t.clock.Since(t.sessionStart).Seconds())
	}
	return domain.SessionSummary{
		Stops:           t.stops,
		Events:          t.eventCount,
		LogEvents:       t.logCount,
		OutputBytes:     t.outputBytes,
		InputRequests:   t.inputRequests,
		DurationSeconds: duration,
	}
}
