// Package events fans asynchronous backend events out to subscribers.
package events

import (
	"strings"
	"sync"
)

// Kind identifies the kind of a backend debug event.
type Kind int

const (
	KindUnknown Kind = iota
	KindTargetStarted
	KindTargetStopped
	KindExitReached
	KindTargetReset
	KindProgramLoaded
	KindBreakpointsChanged
	KindInspectionContextChanged
	KindBaseContextChanged
	KindForcedStop
)

var kindNames = map[Kind]string{
	KindUnknown:                  "unknown",
	KindTargetStarted:            "started",
	KindTargetStopped:            "stopped",
	KindExitReached:              "exit",
	KindTargetReset:              "reset",
	KindProgramLoaded:            "loaded",
	KindBreakpointsChanged:       "breakpoints",
	KindInspectionContextChanged: "inspection_context",
	KindBaseContextChanged:       "base_context",
	KindForcedStop:               "forced_stop",
}

// String returns the short name used in CLI flags and ndjson records.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a short name back to a Kind. Unknown names map to
// KindUnknown.
func ParseKind(s string) Kind {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return KindUnknown
}

// Kinds returns every known kind except KindUnknown, in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindNames)-1)
	for k := KindTargetStarted; k <= KindForcedStop; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// DebugEvent is a notification from the backend.
type DebugEvent struct {
	Kind        Kind     `cbor:"1,keyasint" json:"kind"`
	Description string   `cbor:"2,keyasint" json:"description,omitempty"`
	Params      []string `cbor:"3,keyasint,omitempty" json:"params,omitempty"`
}

// Severity of a backend log event.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityUser
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityUser:
		return "user"
	default:
		return "info"
	}
}

// LogEvent is a log message from the backend.
type LogEvent struct {
	Text     string   `cbor:"1,keyasint" json:"text"`
	Severity Severity `cbor:"2,keyasint" json:"severity"`
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Dispatcher keeps per-kind subscriber lists. The zero value is not usable;
// create one with NewDispatcher.
type Dispatcher struct {
	mu     sync.RWMutex
	nextID int
	debug  map[Kind][]subscriber[DebugEvent]
	logs   []subscriber[LogEvent]
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		debug: make(map[Kind][]subscriber[DebugEvent]),
	}
}

// Subscribe registers fn for events of kind. The returned func removes it.
func (d *Dispatcher) Subscribe(kind Kind, fn func(DebugEvent)) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.debug[kind] = append(d.debug[kind], subscriber[DebugEvent]{id: id, fn: fn})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.debug[kind] = remove(d.debug[kind], id)
	}
}

// SubscribeLog registers fn for log events. The returned func removes it.
func (d *Dispatcher) SubscribeLog(fn func(LogEvent)) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.logs = append(d.logs, subscriber[LogEvent]{id: id, fn: fn})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.logs = remove(d.logs, id)
	}
}

// Dispatch calls every subscriber of ev.Kind in registration order. A
// panicking subscriber aborts the dispatch; later subscribers are not called.
func (d *Dispatcher) Dispatch(ev DebugEvent) {
	d.mu.RLock()
	subs := append([]subscriber[DebugEvent](nil), d.debug[ev.Kind]...)
	d.mu.RUnlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

// DispatchLog calls every log subscriber in registration order.
func (d *Dispatcher) DispatchLog(ev LogEvent) {
	d.mu.RLock()
	subs := append([]subscriber[LogEvent](nil), d.logs...)
	d.mu.RUnlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

func remove[T any](subs []subscriber[T], id int) []subscriber[T] {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
