// Package handles issues small integer handles for session objects.
package handles

import "sync"

// DefaultStart is the first handle issued by a table created with New(0).
const DefaultStart = 1000

// Table is an append-only arena mapping integer handles to values. Handles
// increase monotonically and are never reused while the table lives.
type Table[T any] struct {
	mu    sync.RWMutex
	start int
	items []T
}

// New creates a table whose first handle is start. A start below 1 uses
// DefaultStart, since 0 means "no handle" to protocol clients.
func New[T any](start int) *Table[T] {
	if start < 1 {
		start = DefaultStart
	}
	return &Table[T]{start: start}
}

// Create stores v and returns its new handle.
func (t *Table[T]) Create(v T) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, v)
	return t.start + len(t.items) - 1
}

// Get returns the value stored under handle.
func (t *Table[T]) Get(handle int) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := handle - t.start
	if i < 0 || i >= len(t.items) {
		var zero T
		return zero, false
	}
	return t.items[i], true
}

// Len returns the number of handles issued so far.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}
