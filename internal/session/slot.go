package session

import "sync"

// Slot holds at most one value. Set overwrites whatever was there.
type Slot[T any] struct {
	mu  sync.Mutex
	v   T
	set bool
}

// Set stores v.
func (s *Slot[T]) Set(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v, s.set = v, true
}

// Get returns the held value and whether one is present.
func (s *Slot[T]) Get() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v, s.set
}

// Clear empties the slot.
func (s *Slot[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	s.v, s.set = zero, false
}

// Present reports whether a value is held.
func (s *Slot[T]) Present() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}
