package sink

import "sync"

// Memory keeps appended values in memory for quick inspection.
type Memory[T any] struct {
	mu    sync.Mutex
	items []T
}

// NewMemory creates an empty collector optionally pre-sizing storage.
func NewMemory[T any](capacity int) *Memory[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Memory[T]{items: make([]T, 0, capacity)}
}

// Append stores v.
func (m *Memory[T]) Append(v T) error {
	m.mu.Lock()
	m.items = append(m.items, v)
	m.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the stored values.
func (m *Memory[T]) Snapshot() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]T, len(m.items))
	copy(out, m.items)
	return out
}

// Len reports how many values are stored.
func (m *Memory[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Reset clears all stored values.
func (m *Memory[T]) Reset() {
	m.mu.Lock()
	m.items = m.items[:0]
	m.mu.Unlock()
}
