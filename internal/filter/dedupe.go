package filter

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vburojevic/dbgbridge/internal/events"
)

// DedupeFilter collapses runs of identical backend log events. With a zero
// window only back-to-back repeats form a run; otherwise a repeat within the
// window of the previous occurrence extends it.
type DedupeFilter struct {
	mu     sync.Mutex
	clock  clock.Clock
	window time.Duration

	runs      map[dedupeKey]*dedupeRun
	collapsed map[dedupeKey]int
}

type dedupeKey struct {
	severity events.Severity
	text     string
}

type dedupeRun struct {
	count       int
	first, last time.Time
}

// NewDedupeFilter creates a filter; a nil clk uses the wall clock
func NewDedupeFilter(window time.Duration, clk clock.Clock) *DedupeFilter {
	if clk == nil {
		clk = clock.New()
	}
	return &DedupeFilter{
		clock:     clk,
		window:    window,
		runs:      make(map[dedupeKey]*dedupeRun),
		collapsed: make(map[dedupeKey]int),
	}
}

// DedupeResult describes the run an event belongs to
type DedupeResult struct {
	ShouldEmit bool
	// Count is the event's position in its run; 1 for the first occurrence.
	Count     int
	FirstSeen time.Time
	LastSeen  time.Time
}

// Check records ev and reports whether it starts a new run
func (f *DedupeFilter) Check(ev events.LogEvent) DedupeResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := dedupeKey{severity: ev.Severity, text: ev.Text}
	now := f.clock.Now()

	for k, r := range f.runs {
		ended := k != key
		if f.window > 0 {
			ended = now.Sub(r.last) > f.window
		}
		if ended {
			f.finish(k, r)
		}
	}

	if r, ok := f.runs[key]; ok {
		r.count++
		r.last = now
		return DedupeResult{Count: r.count, FirstSeen: r.first, LastSeen: r.last}
	}
	f.runs[key] = &dedupeRun{count: 1, first: now, last: now}
	return DedupeResult{ShouldEmit: true, Count: 1, FirstSeen: now, LastSeen: now}
}

func (f *DedupeFilter) finish(k dedupeKey, r *dedupeRun) {
	if r.count > 1 {
		f.collapsed[k] += r.count
	}
	delete(f.runs, k)
}

// Repeated returns, per collapsed event, how many occurrences its runs held
func (f *DedupeFilter) Repeated() map[events.LogEvent]int {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[events.LogEvent]int, len(f.collapsed))
	add := func(k dedupeKey, n int) {
		out[events.LogEvent{Text: k.text, Severity: k.severity}] += n
	}
	for k, n := range f.collapsed {
		add(k, n)
	}
	for k, r := range f.runs {
		if r.count > 1 {
			add(k, r.count)
		}
	}
	return out
}

// Reset forgets every run
func (f *DedupeFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = make(map[dedupeKey]*dedupeRun)
	f.collapsed = make(map[dedupeKey]int)
}
